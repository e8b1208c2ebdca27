package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion <bash|zsh|fish|powershell>",
	Short: "Print a shell completion script for tplsync",
	Long: `Print a completion script for tplsync to stdout.

Besides commands and flags, the scripts complete archive paths for import and
--output-file, directories for --dir and the values accepted by --output.`,
	Example: `  # Try it in the current bash session
  source <(tplsync completion bash)

  # Install for zsh (start a new shell afterwards)
  tplsync completion zsh > "${fpath[1]}/_tplsync"

  # Install for fish
  tplsync completion fish > ~/.config/fish/completions/tplsync.fish

  # PowerShell
  tplsync completion powershell | Out-String | Invoke-Expression`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeCompletion(cmd.Root(), args[0], os.Stdout)
	},
}

func writeCompletion(root *cobra.Command, shell string, w io.Writer) error {
	switch shell {
	case "bash":
		return root.GenBashCompletionV2(w, true)
	case "zsh":
		return root.GenZshCompletion(w)
	case "fish":
		return root.GenFishCompletion(w, true)
	case "powershell":
		return root.GenPowerShellCompletionWithDesc(w)
	}
	return fmt.Errorf("unsupported shell %q", shell)
}

// registerCompletions wires argument and flag completion. It runs after every
// command has registered its flags.
func registerCompletions() {
	outputValues := cobra.FixedCompletions([]string{"json\tmachine-readable output"}, cobra.ShellCompDirectiveNoFileComp)
	for _, c := range []*cobra.Command{exportCmd, importCmd, pushCmd, filesCmd, launchCmd} {
		_ = c.RegisterFlagCompletionFunc("output", outputValues)
	}

	archives := func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{"zip"}, cobra.ShellCompDirectiveFilterFileExt
	}
	dirs := func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return nil, cobra.ShellCompDirectiveFilterDirs
	}
	_ = exportCmd.RegisterFlagCompletionFunc("output-file", archives)
	_ = exportCmd.RegisterFlagCompletionFunc("dir", dirs)
	_ = pushCmd.RegisterFlagCompletionFunc("dir", dirs)

	// Browser IDs are not completed; only import's archive argument is.
	importCmd.ValidArgsFunction = func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) == 1 {
			return archives(cmd, args, toComplete)
		}
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
}
