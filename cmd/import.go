package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/kernel/tplsync/internal/archive"
	"github.com/kernel/tplsync/internal/inject"
	"github.com/kernel/tplsync/internal/page"
	"github.com/kernel/tplsync/internal/store"
	"github.com/kernel/tplsync/internal/workspace"
	"github.com/kernel/tplsync/pkg/util"
	"github.com/pterm/pterm"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import <browser-id> <archive|s3://bucket/key>",
	Short: "Upload the templates of a zip archive into the editor",
	Long: `Read a template archive, from a local path or object storage, open each of
its files in the Tebex editor running in a Kernel browser, replace the content
and save it.

Archives exported by tplsync and plain zips of a theme folder are both
accepted. A single top-level folder shared by every entry is stripped.`,
	Example: `  # Upload an exported archive
  tplsync import abc123xyz tebex-templates-2026-03-07.zip

  # Check how files would resolve without touching the editor
  tplsync import abc123xyz theme.zip --dry-run

  # Upload only the partials from object storage
  tplsync import abc123xyz s3://themes/webstore/theme.zip --include 'partials/**'`,
	Args:        cobra.ExactArgs(2),
	Annotations: map[string]string{requiresKernel: "true"},
	RunE:        runImport,
}

var pushCmd = &cobra.Command{
	Use:   "push <browser-id>",
	Short: "Upload the templates of a local directory into the editor",
	Long: `Collect the templates under --dir and upload them into the Tebex editor
running in a Kernel browser. .gitignore and .ignore files are respected.

With --watch, files are uploaded again whenever they change.`,
	Example: `  # Push a theme checkout once
  tplsync push abc123xyz --dir ./theme

  # Keep pushing while you edit
  tplsync push abc123xyz --dir ./theme --watch`,
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{requiresKernel: "true"},
	RunE:        runPush,
}

func init() {
	for _, c := range []*cobra.Command{importCmd, pushCmd} {
		c.Flags().StringSlice("include", nil, "Only upload files matching these globs")
		c.Flags().StringSlice("exclude", nil, "Skip files matching these globs")
		c.Flags().Bool("dry-run", false, "Resolve files against the editor without uploading")
		c.Flags().IntP("timeout", "t", 0, "Upload timeout in seconds (default from config, 90)")
		c.Flags().StringP("output", "o", "", "Output format: json for a machine-readable result")
	}
	pushCmd.Flags().String("dir", ".", "Directory holding the templates")
	pushCmd.Flags().BoolP("watch", "w", false, "Upload again when files change")
	pushCmd.Flags().Duration("debounce", workspace.DefaultDebounce, "How long to wait for writes to settle in watch mode")
}

// UploadInput configures how files are uploaded.
type UploadInput struct {
	BrowserID string
	Include   []string
	Exclude   []string
	DryRun    bool
	Timeout   int
	Output    string
}

// ImportInput uploads an archive.
type ImportInput struct {
	UploadInput
	Source string
}

// PushInput uploads a directory.
type PushInput struct {
	UploadInput
	Dir      string
	Watch    bool
	Debounce time.Duration
}

// DryRunOutput is the JSON result of --dry-run.
type DryRunOutput struct {
	PageURL string      `json:"pageUrl"`
	Files   []PlanEntry `json:"files"`
}

func (c TemplatesCmd) Import(ctx context.Context, in ImportInput) error {
	if err := checkOutput(in.Output); err != nil {
		return err
	}
	filter, err := workspace.NewFilter(in.Include, in.Exclude)
	if err != nil {
		return err
	}
	jsonOutput := in.Output == "json"

	src, name, err := store.Open(in.Source, c.cfg.Store)
	if err != nil {
		return err
	}
	data, err := src.Get(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load archive: %w", err)
	}
	files, report, err := archive.Read(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}
	files = filter.Apply(files)
	if len(files) == 0 {
		return fmt.Errorf("%w after filtering with %s", archive.ErrNoTemplates, filter)
	}

	if !jsonOutput {
		if report != nil && report.SourcePage != "" {
			pterm.Info.Printf("Archive exported from %s on %s\n", report.SourcePage, report.ExportedAt.Local().Format(time.DateTime))
		}
		pterm.Info.Printf("Loaded %s from %s\n", util.Plural(len(files), "template", "templates"), in.Source)
	}

	sessionID, tab, err := c.session(ctx, in.BrowserID)
	if err != nil {
		return err
	}
	_, err = c.upload(ctx, sessionID, tab, files, in.UploadInput)
	return err
}

func (c TemplatesCmd) Push(ctx context.Context, in PushInput) error {
	if err := checkOutput(in.Output); err != nil {
		return err
	}
	if in.Watch && in.Output == "json" {
		return fmt.Errorf("--watch cannot be combined with --output json")
	}
	filter, err := workspace.NewFilter(in.Include, in.Exclude)
	if err != nil {
		return err
	}
	dir := util.FirstOrDash(in.Dir, ".")

	files, err := workspace.Collect(dir, filter)
	if err != nil {
		return err
	}
	if len(files) == 0 && !in.Watch {
		return fmt.Errorf("no template files found in %s", dir)
	}

	sessionID, tab, err := c.session(ctx, in.BrowserID)
	if err != nil {
		return err
	}
	if len(files) > 0 {
		if in.Output != "json" {
			pterm.Info.Printf("Pushing %s from %s\n", util.Plural(len(files), "template", "templates"), dir)
		}
		if _, err := c.upload(ctx, sessionID, tab, files, in.UploadInput); err != nil {
			if !in.Watch {
				return err
			}
			pterm.Error.Println(err)
		}
	}
	if !in.Watch {
		return nil
	}

	pterm.Info.Printf("Watching %s for changes (Ctrl+C to stop)\n", dir)
	err = workspace.Watch(ctx, dir, filter, in.Debounce, c.logger, func(ctx context.Context, batch map[string]string) error {
		names := lo.Keys(batch)
		sort.Strings(names)
		pterm.Println()
		pterm.Info.Printf("Changed: %s\n", util.JoinOrDash(names...))
		if _, err := c.upload(ctx, sessionID, tab, batch, in.UploadInput); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			pterm.Error.Println(err)
		}
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// upload injects files, or only resolves them with DryRun, and renders the
// outcome.
func (c TemplatesCmd) upload(ctx context.Context, sessionID string, tab page.Tab, files map[string]string, in UploadInput) (*inject.Result, error) {
	jsonOutput := in.Output == "json"

	if in.DryRun {
		pageURL, entries, err := c.plan(ctx, tab, lo.Keys(files))
		if err != nil {
			return nil, err
		}
		if jsonOutput {
			return nil, util.PrintJSON(DryRunOutput{PageURL: pageURL, Files: entries})
		}
		pterm.Println()
		renderPlan(entries)
		return nil, nil
	}

	timeout := c.cfg.Timeout()
	if in.Timeout > 0 {
		timeout = time.Duration(in.Timeout) * time.Second
	}
	if !jsonOutput {
		pterm.Info.Printf("Uploading into browser %s...\n", sessionID)
	}
	res, err := c.injector(timeout).InjectTab(ctx, tab, files)
	if err != nil {
		return nil, fmt.Errorf("failed to upload templates: %w", err)
	}
	if !res.IsSupportedPage {
		return res, errors.New(util.FirstOrDash(res.ErrorMessage, "page is not supported"))
	}

	if jsonOutput {
		if err := util.PrintJSON(res); err != nil {
			return res, err
		}
	} else {
		pterm.Println()
		renderInjection(res)
	}
	if res.TotalRequested > 0 && res.UploadedCount == 0 {
		return res, fmt.Errorf("no files were uploaded")
	}
	return res, nil
}

func uploadInput(cmd *cobra.Command, browserID string) UploadInput {
	include, _ := cmd.Flags().GetStringSlice("include")
	exclude, _ := cmd.Flags().GetStringSlice("exclude")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	timeout, _ := cmd.Flags().GetInt("timeout")
	output, _ := cmd.Flags().GetString("output")
	return UploadInput{
		BrowserID: browserID,
		Include:   include,
		Exclude:   exclude,
		DryRun:    dryRun,
		Timeout:   timeout,
		Output:    output,
	}
}

func runImport(cmd *cobra.Command, args []string) error {
	c := newTemplatesCmd(cmd)
	return c.Import(cmd.Context(), ImportInput{
		UploadInput: uploadInput(cmd, args[0]),
		Source:      args[1],
	})
}

func runPush(cmd *cobra.Command, args []string) error {
	dir, _ := cmd.Flags().GetString("dir")
	watch, _ := cmd.Flags().GetBool("watch")
	debounce, _ := cmd.Flags().GetDuration("debounce")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := newTemplatesCmd(cmd)
	return c.Push(ctx, PushInput{
		UploadInput: uploadInput(cmd, args[0]),
		Dir:         dir,
		Watch:       watch,
		Debounce:    debounce,
	})
}
