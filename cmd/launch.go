package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kernel/kernel-go-sdk"
	"github.com/kernel/tplsync/internal/poll"
	"github.com/kernel/tplsync/pkg/util"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// DefaultLaunchURL is where new browsers start.
const DefaultLaunchURL = "https://webstore.tebex.io"

var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Create a Kernel browser opened on the Tebex webstore editor",
	Long: `Create a new Kernel browser session and navigate it to the Tebex webstore.

Log in through the live view and open the template editor, then use the
printed browser ID with export, import, push and files.`,
	Example: `  # Launch and open the live view in your browser
  tplsync launch --open

  # Launch with a longer session timeout in stealth mode
  tplsync launch -t 3600 --stealth`,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{requiresKernel: "true"},
	RunE:        runLaunch,
}

func init() {
	launchCmd.Flags().String("url", DefaultLaunchURL, "Initial URL to navigate to")
	launchCmd.Flags().IntP("timeout", "t", 600, "Session timeout in seconds")
	launchCmd.Flags().BoolP("stealth", "s", false, "Launch browser in stealth mode")
	launchCmd.Flags().BoolP("headless", "H", false, "Launch browser in headless mode")
	launchCmd.Flags().Bool("open", false, "Open the live view URL in your default browser")
	launchCmd.Flags().StringP("output", "o", "", "Output format: json for raw API response")
}

// LaunchInput configures a new browser.
type LaunchInput struct {
	URL      string
	Timeout  int
	Stealth  bool
	Headless bool
	Open     bool
	Output   string
}

func (c TemplatesCmd) Launch(ctx context.Context, in LaunchInput) error {
	if err := checkOutput(in.Output); err != nil {
		return err
	}
	jsonOutput := in.Output == "json"

	params := kernel.BrowserNewParams{
		TimeoutSeconds: kernel.Opt(int64(in.Timeout)),
	}
	if in.Stealth {
		params.Stealth = kernel.Opt(true)
	}
	if in.Headless {
		params.Headless = kernel.Opt(true)
	}

	if !jsonOutput {
		pterm.Info.Println("Creating browser session...")
	}
	b, err := c.browsers.New(ctx, params)
	if err != nil {
		return util.CleanedUpSdkError{Err: err}
	}
	if !jsonOutput {
		pterm.Info.Printf("Created browser: %s\n", b.SessionID)
	}

	if err := c.waitForBrowserReady(ctx, b.SessionID); err != nil {
		_ = c.browsers.DeleteByID(context.WithoutCancel(ctx), b.SessionID)
		return fmt.Errorf("browser not ready: %w", err)
	}

	if in.URL != "" {
		if !jsonOutput {
			pterm.Info.Printf("Navigating to: %s\n", in.URL)
		}
		if err := c.navigate(ctx, b.SessionID, in.URL); err != nil {
			pterm.Warning.Printf("Failed to navigate to URL: %v\n", err)
		}
	}

	if in.Open && b.BrowserLiveViewURL != "" && c.openURL != nil {
		if err := c.openURL(b.BrowserLiveViewURL); err != nil {
			pterm.Warning.Printf("Failed to open live view: %v\n", err)
		}
	}

	if jsonOutput {
		return util.PrintPrettyJSON(b)
	}

	pterm.Println()
	tableData := pterm.TableData{
		{"Property", "Value"},
		{"Browser ID", b.SessionID},
		{"Live View URL", util.OrDash(b.BrowserLiveViewURL)},
		{"CDP WebSocket URL", util.Truncate(util.OrDash(b.CdpWsURL), 60)},
		{"Timeout (seconds)", fmt.Sprintf("%d", in.Timeout)},
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(tableData).Render()

	pterm.Println()
	pterm.Info.Println("Next steps:")
	pterm.Printf("  # Log in through the live view and open the template editor, then\n")
	pterm.Printf("  tplsync files %s\n", b.SessionID)
	pterm.Printf("  tplsync export %s\n", b.SessionID)
	return nil
}

// waitForBrowserReady polls until the browser is accessible via GET.
// This handles eventual consistency after browser creation.
func (c TemplatesCmd) waitForBrowserReady(ctx context.Context, browserID string) error {
	schedule := poll.Schedule{Attempts: 10, FastDelay: 500 * time.Millisecond, SlowDelay: 500 * time.Millisecond}
	sleep := c.sleep
	if sleep == nil {
		sleep = poll.Sleep
	}

	logger := c.log()
	ready, err := poll.Run(ctx, schedule, sleep, func(attempt int) (bool, error) {
		_, err := c.browsers.Get(ctx, browserID, kernel.BrowserGetParams{})
		if err != nil {
			logger.Debug("browser not ready", logger.Args("attempt", attempt, "error", err))
		}
		return err == nil, nil
	})
	if err != nil {
		return err
	}
	if !ready {
		return fmt.Errorf("browser %s not accessible after %d attempts", browserID, schedule.Attempts)
	}
	return nil
}

func (c TemplatesCmd) navigate(ctx context.Context, sessionID, url string) error {
	target, err := json.Marshal(url)
	if err != nil {
		return err
	}
	result, err := c.playwright.Execute(ctx, sessionID, kernel.BrowserPlaywrightExecuteParams{
		Code:       fmt.Sprintf("await page.goto(%s);", target),
		TimeoutSec: kernel.Opt(int64(60)),
	})
	if err != nil {
		return util.CleanedUpSdkError{Err: err}
	}
	if !result.Success {
		return fmt.Errorf("navigation failed: %s", util.FirstOrDash(result.Error, "unknown error"))
	}
	return nil
}

func runLaunch(cmd *cobra.Command, args []string) error {
	startURL, _ := cmd.Flags().GetString("url")
	timeout, _ := cmd.Flags().GetInt("timeout")
	stealth, _ := cmd.Flags().GetBool("stealth")
	headless, _ := cmd.Flags().GetBool("headless")
	open, _ := cmd.Flags().GetBool("open")
	output, _ := cmd.Flags().GetString("output")

	c := newTemplatesCmd(cmd)
	return c.Launch(cmd.Context(), LaunchInput{
		URL:      startURL,
		Timeout:  timeout,
		Stealth:  stealth,
		Headless: headless,
		Open:     open,
		Output:   output,
	})
}
