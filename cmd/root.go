package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/fang"
	"github.com/kernel/kernel-go-sdk"
	"github.com/kernel/kernel-go-sdk/option"
	"github.com/kernel/tplsync/internal/config"
	"github.com/kernel/tplsync/internal/extract"
	"github.com/kernel/tplsync/internal/tuning"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// Metadata is set by main from build flags.
type Metadata struct {
	Version string
	Commit  string
	Date    string
}

var metadata = Metadata{Version: "dev"}

// requiresKernel marks commands that talk to the Kernel API.
const requiresKernel = "kernel"

type contextKey int

const (
	clientKey contextKey = iota
	runtimeKey
)

// runtime is the per-invocation state built before a command runs.
type runtime struct {
	cfg    *config.Config
	logger *pterm.Logger
}

var rootCmd = &cobra.Command{
	Use:   "tplsync",
	Short: "Export and import Tebex webstore templates through Kernel browsers",
	Long: `tplsync reads and writes the template files of the Tebex webstore editor
running in a Kernel browser session.

Export every template into a zip archive, upload an archive or a local
directory back into the editor, and keep a directory in sync while you edit.`,
	SilenceUsage:      true,
	PersistentPreRunE: initRuntime,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default is $HOME/.config/tplsync/config.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("api-key", "", "Kernel API key (default: KERNEL_API_KEY or the key saved by 'tplsync login')")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(launchCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(completionCmd)

	registerCompletions()
}

// Execute runs the CLI.
func Execute(ctx context.Context, m Metadata) error {
	metadata = m
	return fang.Execute(ctx, rootCmd,
		fang.WithVersion(m.Version),
		fang.WithCommit(m.Commit),
	)
}

func initRuntime(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(); err != nil {
		pterm.Warning.Printf("Ignoring .env: %v\n", err)
	}

	configPath, _ := cmd.Flags().GetString("config")
	debug, _ := cmd.Flags().GetBool("debug")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(debug)
	ctx := context.WithValue(cmd.Context(), runtimeKey, &runtime{cfg: cfg, logger: logger})
	if cfg.File != "" {
		logger.Debug("using config file", logger.Args("path", cfg.File))
	}

	if cmd.Annotations[requiresKernel] != "" {
		flagKey, _ := cmd.Flags().GetString("api-key")
		apiKey, source, err := config.ResolveAPIKey(flagKey)
		if err != nil {
			return err
		}
		logger.Debug("resolved api key", logger.Args("source", string(source)))
		ctx = context.WithValue(ctx, clientKey, newKernelClient(apiKey))
	}

	cmd.SetContext(ctx)
	return nil
}

func newLogger(debug bool) *pterm.Logger {
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelWarn)
	if debug {
		logger = logger.WithLevel(pterm.LogLevelDebug)
		pterm.EnableDebugMessages()
	}
	return logger
}

func newKernelClient(apiKey string) kernel.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHeader("User-Agent", "tplsync/"+metadata.Version),
	}
	if u := os.Getenv("KERNEL_BASE_URL"); strings.TrimSpace(u) != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(u, "/")))
	}
	return kernel.NewClient(opts...)
}

func getKernelClient(cmd *cobra.Command) kernel.Client {
	client, ok := cmd.Context().Value(clientKey).(kernel.Client)
	if !ok {
		panic(fmt.Sprintf("command %q is missing the %q annotation", cmd.Name(), requiresKernel))
	}
	return client
}

func getRuntime(cmd *cobra.Command) *runtime {
	if rt, ok := cmd.Context().Value(runtimeKey).(*runtime); ok {
		return rt
	}
	cfg := &config.Config{DefaultFiles: extract.DefaultFiles, Tuning: tuning.Default()}
	return &runtime{cfg: cfg, logger: newLogger(false)}
}
