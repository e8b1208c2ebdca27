package cmd

import (
	"context"

	"github.com/kernel/tplsync/pkg/util"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var filesCmd = &cobra.Command{
	Use:   "files <browser-id>",
	Short: "List the editor's template files and how they resolve",
	Long: `Scan the Tebex editor's file tree in a Kernel browser and show every detected
template together with the default theme files, and how each name resolves to
a file tree entry. Nothing in the editor is opened or changed.`,
	Example:     `  tplsync files abc123xyz`,
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{requiresKernel: "true"},
	RunE:        runFiles,
}

func init() {
	filesCmd.Flags().StringP("output", "o", "", "Output format: json for a machine-readable list")
}

// FilesInput lists files of one browser.
type FilesInput struct {
	BrowserID string
	Output    string
}

func (c TemplatesCmd) Files(ctx context.Context, in FilesInput) error {
	if err := checkOutput(in.Output); err != nil {
		return err
	}
	_, tab, err := c.session(ctx, in.BrowserID)
	if err != nil {
		return err
	}
	pageURL, entries, err := c.plan(ctx, tab, nil)
	if err != nil {
		return err
	}
	if in.Output == "json" {
		return util.PrintJSON(DryRunOutput{PageURL: pageURL, Files: entries})
	}
	pterm.Info.Printf("Page: %s\n", pageURL)
	pterm.Println()
	renderPlan(entries)
	return nil
}

func runFiles(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")

	c := newTemplatesCmd(cmd)
	return c.Files(cmd.Context(), FilesInput{BrowserID: args[0], Output: output})
}
