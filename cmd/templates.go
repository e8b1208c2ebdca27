package cmd

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss/v2"
	"github.com/kernel/kernel-go-sdk"
	"github.com/kernel/kernel-go-sdk/option"
	"github.com/kernel/tplsync/internal/config"
	"github.com/kernel/tplsync/internal/extract"
	"github.com/kernel/tplsync/internal/inject"
	"github.com/kernel/tplsync/internal/nodeindex"
	"github.com/kernel/tplsync/internal/page"
	"github.com/kernel/tplsync/internal/poll"
	"github.com/kernel/tplsync/internal/tuning"
	"github.com/kernel/tplsync/pkg/util"
	"github.com/pkg/browser"
	"github.com/pterm/pterm"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

// BrowsersService defines the subset of the Kernel SDK browser client that we use.
type BrowsersService interface {
	Get(ctx context.Context, id string, query kernel.BrowserGetParams, opts ...option.RequestOption) (res *kernel.BrowserGetResponse, err error)
	New(ctx context.Context, body kernel.BrowserNewParams, opts ...option.RequestOption) (res *kernel.BrowserNewResponse, err error)
	DeleteByID(ctx context.Context, id string, opts ...option.RequestOption) (err error)
}

// TemplatesCmd handles template operations independent of cobra.
type TemplatesCmd struct {
	browsers   BrowsersService
	playwright page.PlaywrightService
	// tabs opens the active page of a browser session.
	tabs   func(sessionID string) page.Tab
	cfg    *config.Config
	logger *pterm.Logger

	sleep   poll.SleepFunc
	now     func() time.Time
	openURL func(url string) error
}

func newTemplatesCmd(cmd *cobra.Command) TemplatesCmd {
	client := getKernelClient(cmd)
	rt := getRuntime(cmd)
	browsers := client.Browsers
	playwright := client.Browsers.Playwright
	return TemplatesCmd{
		browsers:   &browsers,
		playwright: &playwright,
		tabs: func(sessionID string) page.Tab {
			return page.NewRemoteTab(&playwright, sessionID, 0)
		},
		cfg:     rt.cfg,
		logger:  rt.logger,
		sleep:   poll.Sleep,
		now:     time.Now,
		openURL: browser.OpenURL,
	}
}

func (c TemplatesCmd) extractor() *extract.Extractor {
	e := extract.New(c.logger)
	e.Tuning = c.cfg.Tuning
	if c.sleep != nil {
		e.Sleep = c.sleep
	}
	return e
}

func (c TemplatesCmd) injector(timeout time.Duration) *inject.Injector {
	in := inject.New(c.logger)
	in.Tuning = c.cfg.Tuning
	in.Timeout = timeout
	if c.sleep != nil {
		in.Sleep = c.sleep
	}
	return in
}

func (c TemplatesCmd) log() *pterm.Logger {
	if c.logger == nil {
		return &pterm.DefaultLogger
	}
	return c.logger
}

func (c TemplatesCmd) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// session resolves a browser ID to its session and opens the active tab.
func (c TemplatesCmd) session(ctx context.Context, browserID string) (string, page.Tab, error) {
	b, err := c.browsers.Get(ctx, browserID, kernel.BrowserGetParams{})
	if err != nil {
		if util.IsNotFound(err) {
			return "", nil, fmt.Errorf("browser %s not found", browserID)
		}
		return "", nil, util.CleanedUpSdkError{Err: err}
	}
	return b.SessionID, c.tabs(b.SessionID), nil
}

func checkOutput(output string) error {
	if output != "" && output != "json" {
		return fmt.Errorf("unsupported --output value: use 'json'")
	}
	return nil
}

// PlanEntry is how one file resolves against the editor's file tree.
type PlanEntry struct {
	File  string          `json:"file"`
	Match nodeindex.Match `json:"match"`
}

// plan resolves files against the top frame without changing the page.
func (c TemplatesCmd) plan(ctx context.Context, tab page.Tab, files []string) (string, []PlanEntry, error) {
	top, err := tab.Top(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("failed to resolve top frame: %w", err)
	}
	loc, err := top.Location(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read page location: %w", err)
	}
	if !c.cfg.Tuning.IsSupportedHost(loc.Hostname) {
		return loc.Href, nil, errors.New(tuning.UnsupportedPageMessage)
	}
	idx, err := nodeindex.Build(ctx, top, c.cfg.Tuning)
	if err != nil {
		return loc.Href, nil, err
	}
	if files == nil {
		files = lo.Uniq(append(append([]string{}, idx.Detected...), c.cfg.DefaultFiles...))
	}
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)

	entries := make([]PlanEntry, 0, len(sorted))
	for _, f := range sorted {
		entries = append(entries, PlanEntry{File: f, Match: idx.Resolve(f)})
	}
	return loc.Href, entries, nil
}

var (
	okBadge   = lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#2E7D32"))
	warnBadge = lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(lipgloss.Color("#000000")).Background(lipgloss.Color("#F9A825"))
	failBadge = lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#C62828"))
)

// statusBadge picks a badge by how many of total succeeded.
func statusBadge(done, total int) string {
	switch {
	case total > 0 && done == total:
		return okBadge.Render("OK")
	case done > 0:
		return warnBadge.Render("PARTIAL")
	default:
		return failBadge.Render("FAILED")
	}
}

func renderPlan(entries []PlanEntry) {
	tableData := pterm.TableData{{"File", "Match", "Detail"}}
	for _, e := range entries {
		match := string(e.Match.Type)
		if e.Match.OK() {
			match = pterm.Green(match)
		} else {
			match = pterm.Red(match)
		}
		detail := e.Match.Reason
		if e.Match.OK() && e.Match.Path != "" && e.Match.Path != e.File {
			detail = "resolved to " + e.Match.Path
		}
		tableData = append(tableData, []string{e.File, match, util.OrDash(detail)})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(tableData).Render()

	ok := lo.CountBy(entries, func(e PlanEntry) bool { return e.Match.OK() })
	pterm.Println()
	pterm.Printf("%s %d of %s resolvable\n", statusBadge(ok, len(entries)), ok, util.Plural(len(entries), "file", "files"))
}

func renderInjection(res *inject.Result) {
	if len(res.UploadedFiles) > 0 {
		tableData := pterm.TableData{{"Uploaded", "Write", "Save"}}
		for _, f := range res.UploadedFiles {
			tableData = append(tableData, []string{f.File, f.WriteMethod, util.OrDash(f.SaveMethod)})
		}
		_ = pterm.DefaultTable.WithHasHeader().WithData(tableData).Render()
		pterm.Println()
	}
	if len(res.FailedFiles) > 0 {
		tableData := pterm.TableData{{"Failed", "Reason"}}
		for _, f := range res.FailedFiles {
			tableData = append(tableData, []string{f.File, pterm.Red(f.Reason)})
		}
		_ = pterm.DefaultTable.WithHasHeader().WithData(tableData).Render()
		pterm.Println()
	}
	pterm.Printf("%s Uploaded %d of %s (%d matched)\n",
		statusBadge(res.UploadedCount, res.TotalRequested),
		res.UploadedCount,
		util.Plural(res.TotalRequested, "file", "files"),
		res.MatchedCount)
	if res.BlockedSwitchPrompts > 0 {
		pterm.Warning.Printf("Blocked %s while switching files\n", util.Plural(res.BlockedSwitchPrompts, "unsaved-changes prompt", "unsaved-changes prompts"))
	}
}

func renderExtraction(res *extract.Result) {
	names := lo.Keys(res.Files)
	sort.Strings(names)
	if len(names) > 0 {
		tableData := pterm.TableData{{"File", "Source", "Size"}}
		for _, name := range names {
			tableData = append(tableData, []string{name, util.OrDash(res.Sources[name]), util.FormatBytes(int64(len(res.Files[name])))})
		}
		_ = pterm.DefaultTable.WithHasHeader().WithData(tableData).Render()
		pterm.Println()
	}
	if len(res.MissingFiles) > 0 {
		tableData := pterm.TableData{{"Missing", "Reason"}}
		for _, name := range res.MissingFiles {
			tableData = append(tableData, []string{name, pterm.Red(util.OrDash(res.Errors[name]))})
		}
		_ = pterm.DefaultTable.WithHasHeader().WithData(tableData).Render()
		pterm.Println()
	}
	total := res.ExtractedFileCount + len(res.MissingFiles)
	pterm.Printf("%s Extracted %d of %s (%d detected in the file tree)\n",
		statusBadge(res.ExtractedFileCount, total),
		res.ExtractedFileCount,
		util.Plural(total, "file", "files"),
		res.DetectedFileCount)
}
