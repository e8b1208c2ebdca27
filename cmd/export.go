package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/kernel/tplsync/internal/archive"
	"github.com/kernel/tplsync/internal/extract"
	"github.com/kernel/tplsync/internal/pathname"
	"github.com/kernel/tplsync/internal/store"
	"github.com/kernel/tplsync/internal/workspace"
	"github.com/kernel/tplsync/pkg/util"
	"github.com/pterm/pterm"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export <browser-id>",
	Short: "Export every template from the editor into a zip archive",
	Long: `Open each template in the Tebex editor running in a Kernel browser, read
its content and write all of them into a zip archive with an export report.

The default theme files are always tried. Files found in the editor's file
tree and in open editor models are added, as are any --files you pass.`,
	Example: `  # Export to tebex-templates-<date>.zip in the current directory
  tplsync export abc123xyz

  # Export only the layout and partials, also unpacking them into ./theme
  tplsync export abc123xyz --include 'layout.html' --include 'partials/**' --dir ./theme

  # Export and upload to object storage
  tplsync export abc123xyz --upload s3://themes/webstore`,
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{requiresKernel: "true"},
	RunE:        runExport,
}

func init() {
	exportCmd.Flags().StringP("output-file", "f", "", "Archive path (default tebex-templates-YYYY-MM-DD.zip)")
	exportCmd.Flags().StringSlice("files", nil, "Additional template paths to extract")
	exportCmd.Flags().StringSlice("include", nil, "Only keep files matching these globs")
	exportCmd.Flags().StringSlice("exclude", nil, "Drop files matching these globs")
	exportCmd.Flags().String("upload", "", "Also upload the archive to s3://bucket/prefix (or s3://bucket/name.zip)")
	exportCmd.Flags().String("dir", "", "Also write the extracted files into this directory")
	exportCmd.Flags().StringP("output", "o", "", "Output format: json for a machine-readable summary")
}

// ExportInput configures one export.
type ExportInput struct {
	BrowserID  string
	OutputFile string
	ExtraFiles []string
	Include    []string
	Exclude    []string
	Upload     string
	Dir        string
	Output     string
}

// ExportOutput is the JSON summary of an export.
type ExportOutput struct {
	PageURL            string            `json:"pageUrl"`
	Archive            string            `json:"archive"`
	Uploaded           string            `json:"uploaded,omitempty"`
	Written            []string          `json:"written,omitempty"`
	Files              []string          `json:"files"`
	Sources            map[string]string `json:"sources"`
	Errors             map[string]string `json:"errors"`
	DetectedFileCount  int               `json:"detectedFileCount"`
	ExtractedFileCount int               `json:"extractedFileCount"`
	MissingFiles       []string          `json:"missingFiles"`
}

func (c TemplatesCmd) Export(ctx context.Context, in ExportInput) error {
	if err := checkOutput(in.Output); err != nil {
		return err
	}
	filter, err := workspace.NewFilter(in.Include, in.Exclude)
	if err != nil {
		return err
	}
	jsonOutput := in.Output == "json"

	sessionID, tab, err := c.session(ctx, in.BrowserID)
	if err != nil {
		return err
	}

	targets := lo.Uniq(append(append([]string{}, c.cfg.DefaultFiles...), lo.Map(in.ExtraFiles, func(f string, _ int) string {
		return pathname.Normalize(f)
	})...))
	if !jsonOutput {
		pterm.Info.Printf("Extracting templates from browser %s...\n", sessionID)
	}
	res, err := c.extractor().ExtractTab(ctx, tab, targets)
	if err != nil {
		return fmt.Errorf("failed to extract templates: %w", err)
	}
	if !res.IsSupportedPage {
		return errors.New(util.FirstOrDash(res.ErrorMessage, "page is not supported"))
	}
	res = filterExtraction(res, filter)

	if !jsonOutput {
		pterm.Println()
		renderExtraction(res)
		pterm.Println()
	}
	if len(res.Files) == 0 {
		return fmt.Errorf("no template files were extracted")
	}

	now := c.clock()
	var buf bytes.Buffer
	err = archive.Write(&buf, res.Files, archive.Report{
		FormatVersion:      archive.FormatVersion,
		ExportedAt:         now.UTC(),
		ExtractedFileCount: res.ExtractedFileCount,
		DetectedFileCount:  res.DetectedFileCount,
		MissingFiles:       res.MissingFiles,
		SourcePage:         res.PageURL,
	})
	if err != nil {
		return fmt.Errorf("failed to build archive: %w", err)
	}

	out := ExportOutput{
		PageURL:            res.PageURL,
		Files:              lo.Keys(res.Files),
		Sources:            res.Sources,
		Errors:             res.Errors,
		DetectedFileCount:  res.DetectedFileCount,
		ExtractedFileCount: res.ExtractedFileCount,
		MissingFiles:       res.MissingFiles,
	}
	sort.Strings(out.Files)

	outputFile := in.OutputFile
	if outputFile == "" {
		outputFile = archive.FileName(now)
	}
	local, name, err := store.Open(outputFile, c.cfg.Store)
	if err != nil {
		return err
	}
	out.Archive, err = local.Put(ctx, name, buf.Bytes())
	if err != nil {
		return err
	}
	if !jsonOutput {
		pterm.Success.Printf("Wrote %s (%s)\n", out.Archive, util.FormatBytes(int64(buf.Len())))
	}

	if in.Upload != "" {
		remote, prefix, err := store.Open(in.Upload, c.cfg.Store)
		if err != nil {
			return err
		}
		key := prefix
		if !strings.HasSuffix(strings.ToLower(key), ".zip") {
			key = path.Join(prefix, archive.FileName(now))
		}
		out.Uploaded, err = remote.Put(ctx, key, buf.Bytes())
		if err != nil {
			return err
		}
		if !jsonOutput {
			pterm.Success.Printf("Uploaded %s\n", out.Uploaded)
		}
	}

	if in.Dir != "" {
		out.Written, err = util.WriteTree(in.Dir, res.Files)
		if err != nil {
			return fmt.Errorf("failed to write files: %w", err)
		}
		if !jsonOutput {
			pterm.Success.Printf("Wrote %s to %s\n", util.Plural(len(out.Written), "file", "files"), in.Dir)
		}
	}

	if jsonOutput {
		return util.PrintJSON(out)
	}
	return nil
}

// filterExtraction drops files the filter excludes, including from the
// missing and error lists.
func filterExtraction(res *extract.Result, filter *workspace.Filter) *extract.Result {
	res.Files = filter.Apply(res.Files)
	res.Sources = lo.PickBy(res.Sources, func(name, _ string) bool { return filter.Match(name) })
	res.Errors = lo.PickBy(res.Errors, func(name, _ string) bool { return filter.Match(name) })
	res.MissingFiles = lo.Filter(res.MissingFiles, func(name string, _ int) bool { return filter.Match(name) })
	res.ExtractedFileCount = len(res.Files)
	return res
}

func runExport(cmd *cobra.Command, args []string) error {
	outputFile, _ := cmd.Flags().GetString("output-file")
	extraFiles, _ := cmd.Flags().GetStringSlice("files")
	include, _ := cmd.Flags().GetStringSlice("include")
	exclude, _ := cmd.Flags().GetStringSlice("exclude")
	upload, _ := cmd.Flags().GetString("upload")
	dir, _ := cmd.Flags().GetString("dir")
	output, _ := cmd.Flags().GetString("output")

	c := newTemplatesCmd(cmd)
	return c.Export(cmd.Context(), ExportInput{
		BrowserID:  args[0],
		OutputFile: outputFile,
		ExtraFiles: extraFiles,
		Include:    include,
		Exclude:    exclude,
		Upload:     upload,
		Dir:        dir,
		Output:     output,
	})
}
