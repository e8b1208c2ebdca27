// Package inject writes template files back into the host editor: it opens
// each file, replaces the editor content and saves it.
package inject

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kernel/tplsync/internal/editor"
	"github.com/kernel/tplsync/internal/nodeindex"
	"github.com/kernel/tplsync/internal/page"
	"github.com/kernel/tplsync/internal/pathname"
	"github.com/kernel/tplsync/internal/poll"
	"github.com/kernel/tplsync/internal/tuning"
	"github.com/pterm/pterm"
)

// DefaultTimeout bounds a whole InjectTab call.
const DefaultTimeout = 90 * time.Second

// restoreTimeout bounds the confirm guard cleanup.
const restoreTimeout = 5 * time.Second

// ErrTimeout is returned when InjectTab runs out of time.
var ErrTimeout = fmt.Errorf("upload timed out: %w", context.DeadlineExceeded)

const (
	reasonNoEntry      = "No matching file entry found in Tebex file tree."
	reasonNotConfirmed = "Could not confirm the exact target file/directory became active."
	reasonNoWriter     = "Could not find a writable editor instance after opening file."
	reasonSaveFailed   = "Save verification failed."
	scriptErrorsHead   = "Upload script error: "
)

// UploadedFile records a file written and saved.
type UploadedFile struct {
	File        string `json:"file"`
	WriteMethod string `json:"method"`
	SaveMethod  string `json:"saveMethod"`
}

// FailedFile records why a file could not be uploaded.
type FailedFile struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
}

// Result is the outcome of one injection.
type Result struct {
	IsSupportedPage      bool           `json:"isSupportedPage"`
	ErrorMessage         string         `json:"errorMessage,omitempty"`
	PageURL              string         `json:"pageUrl,omitempty"`
	TotalRequested       int            `json:"totalRequested"`
	MatchedCount         int            `json:"matchedCount"`
	UploadedCount        int            `json:"uploadedCount"`
	UploadedFiles        []UploadedFile `json:"uploadedFiles"`
	FailedFiles          []FailedFile   `json:"failedFiles"`
	BlockedSwitchPrompts int            `json:"blockedSwitchPrompts"`
}

func newResult() *Result {
	return &Result{UploadedFiles: []UploadedFile{}, FailedFiles: []FailedFile{}}
}

func unsupported(message string) *Result {
	r := newResult()
	r.ErrorMessage = message
	return r
}

func (r *Result) fail(file, reason string) {
	r.FailedFiles = append(r.FailedFiles, FailedFile{File: file, Reason: reason})
}

// Injector runs injections with one policy.
type Injector struct {
	Tuning  tuning.Tuning
	Sleep   poll.SleepFunc
	Logger  *pterm.Logger
	Timeout time.Duration
}

// New returns an Injector with the default tuning and timeout.
func New(logger *pterm.Logger) *Injector {
	return &Injector{Tuning: tuning.Default(), Sleep: poll.Sleep, Logger: logger, Timeout: DefaultTimeout}
}

func (in *Injector) logger() *pterm.Logger {
	if in.Logger == nil {
		return &pterm.DefaultLogger
	}
	return in.Logger
}

func (in *Injector) sleep(ctx context.Context, d time.Duration) error {
	if in.Sleep == nil {
		return poll.Sleep(ctx, d)
	}
	return in.Sleep(ctx, d)
}

type entry struct {
	path    string
	content string
}

// requestedEntries normalizes and filters the requested files and sorts them
// by path.
func requestedEntries(files map[string]string) []entry {
	var out []entry
	for path, content := range files {
		normalized := pathname.Normalize(path)
		if !pathname.IsSupported(normalized) {
			continue
		}
		out = append(out, entry{path: normalized, content: content})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out
}

// Run uploads files into one frame. Per-file failures are collected in the
// result; failures observing the frame or installing the guard are returned.
func (in *Injector) Run(ctx context.Context, p page.Page, files map[string]string) (*Result, error) {
	loc, err := p.Location(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page location: %w", err)
	}
	if !in.Tuning.IsSupportedHost(loc.Hostname) {
		return unsupported(tuning.UnsupportedPageMessage), nil
	}

	if err := p.InstallConfirmGuard(ctx, in.Tuning.PromptPhrases); err != nil {
		return nil, fmt.Errorf("failed to install confirm guard: %w", err)
	}
	defer func() {
		cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), restoreTimeout)
		defer cancel()
		if rerr := p.RestoreConfirm(cleanup); rerr != nil {
			in.logger().Warn("failed to restore confirm", in.logger().Args("error", rerr))
		}
	}()

	entries := requestedEntries(files)
	res := newResult()
	res.IsSupportedPage = true
	res.PageURL = loc.Href
	res.TotalRequested = len(entries)

	for _, e := range entries {
		uploaded, reason, err := in.injectFile(ctx, p, e, res)
		if err != nil {
			return nil, err
		}
		if uploaded == nil {
			res.fail(e.path, reason)
			in.logger().Debug("file not uploaded", in.logger().Args("file", e.path, "reason", reason))
			continue
		}
		res.UploadedFiles = append(res.UploadedFiles, *uploaded)
		in.logger().Debug("file uploaded", in.logger().Args("file", e.path, "method", uploaded.WriteMethod, "save", uploaded.SaveMethod))
	}
	res.UploadedCount = len(res.UploadedFiles)
	return res, nil
}

func (in *Injector) resolve(ctx context.Context, p page.Page, target string) (*nodeindex.Index, nodeindex.Match, error) {
	idx, err := nodeindex.Build(ctx, p, in.Tuning)
	if err != nil {
		return nil, nodeindex.Match{}, err
	}
	match := idx.Resolve(target)
	if match.OK() {
		return idx, match, nil
	}
	if err := in.sleep(ctx, in.Tuning.RebuildWait); err != nil {
		return nil, nodeindex.Match{}, err
	}
	if idx, err = nodeindex.Build(ctx, p, in.Tuning); err != nil {
		return nil, nodeindex.Match{}, err
	}
	return idx, idx.Resolve(target), nil
}

// injectFile opens, writes and saves one file. It returns an error only when
// ctx is done; every other failure is a reason.
func (in *Injector) injectFile(ctx context.Context, p page.Page, e entry, res *Result) (*UploadedFile, string, error) {
	fail := func(err error) (*UploadedFile, string, error) {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, err.Error(), nil
	}
	orReason := func(outcome saveOutcome, fallback string) string {
		if outcome.reason != "" {
			return outcome.reason
		}
		return fallback
	}
	target := e.path

	idx, match, err := in.resolve(ctx, p, target)
	if err != nil {
		return fail(err)
	}
	if !match.OK() {
		if match.Reason == "" {
			return nil, reasonNoEntry, nil
		}
		return nil, match.Reason, nil
	}
	res.MatchedCount++
	in.logger().Debug("opening file", in.logger().Args("file", target, "match", match.Type, "path", match.Path))

	nodes, err := p.ActiveNodes(ctx)
	if err != nil {
		return fail(err)
	}
	current := nodeindex.ActiveFileName(nodes)
	if dirty := nodeindex.LooksDirty(nodes); dirty != nil && *dirty && current != "" && !idx.ActiveNameMatches(current, target) {
		in.logger().Debug("saving dirty file before switching", in.logger().Args("file", current))
		outcome, err := in.save(ctx, p, idx, current)
		if err != nil {
			return nil, "", err
		}
		if !outcome.ok {
			return nil, orReason(outcome, fmt.Sprintf("Current file %s is unsaved and could not be saved before switching.", current)), nil
		}
		if err := in.sleep(ctx, in.Tuning.SettleWait); err != nil {
			return nil, "", err
		}
	}

	if match.Node.Visible {
		if err := p.ScrollIntoView(ctx, match.Node.ID); err != nil {
			return fail(err)
		}
	}

	blocked, err := in.clickCounting(ctx, p, match.Node.ID, res)
	if err != nil {
		return fail(err)
	}
	if blocked {
		active := current
		if nodes, err := p.ActiveNodes(ctx); err == nil {
			if name := nodeindex.ActiveFileName(nodes); name != "" {
				active = name
			}
		}
		if active == "" {
			active = target
		}
		outcome, err := in.save(ctx, p, idx, active)
		if err != nil {
			return nil, "", err
		}
		if !outcome.ok {
			return nil, orReason(outcome, fmt.Sprintf("Unsaved-change prompt blocked switch while opening %s.", target)), nil
		}
		if err := in.sleep(ctx, in.Tuning.SettleWait); err != nil {
			return nil, "", err
		}
		blocked, err = in.clickCounting(ctx, p, match.Node.ID, res)
		if err != nil {
			return fail(err)
		}
		if blocked {
			return nil, fmt.Sprintf("Switch to %s still blocked by unsaved changes after save retry.", target), nil
		}
	}

	confirmed, err := in.confirmSwitch(ctx, p, idx, match, target)
	if err != nil {
		return fail(err)
	}
	if !confirmed {
		return nil, reasonNotConfirmed, nil
	}

	writer := &editor.Writer{Tuning: in.Tuning, Logger: in.Logger}
	method, err := writer.Write(ctx, p, e.content)
	if err != nil {
		return fail(err)
	}
	if method == "" {
		return nil, reasonNoWriter, nil
	}

	outcome, err := in.save(ctx, p, idx, target)
	if err != nil {
		return nil, "", err
	}
	if !outcome.ok {
		return nil, orReason(outcome, reasonSaveFailed), nil
	}
	return &UploadedFile{File: target, WriteMethod: method, SaveMethod: outcome.method}, "", nil
}

// clickCounting clicks id and reports whether the confirm guard blocked a
// prompt meanwhile.
func (in *Injector) clickCounting(ctx context.Context, p page.Page, id page.NodeID, res *Result) (bool, error) {
	before, err := p.BlockedPrompts(ctx)
	if err != nil {
		return false, err
	}
	if err := p.Click(ctx, id); err != nil {
		return false, err
	}
	after, err := p.BlockedPrompts(ctx)
	if err != nil {
		return false, err
	}
	if after > before {
		res.BlockedSwitchPrompts += after - before
		in.logger().Debug("blocked unsaved-change prompt", in.logger().Args("count", after-before))
		return true, nil
	}
	return false, nil
}

func (in *Injector) confirmSwitch(ctx context.Context, p page.Page, idx *nodeindex.Index, match nodeindex.Match, target string) (bool, error) {
	return poll.Run(ctx, in.Tuning.SwitchPoll, in.Sleep, func(attempt int) (bool, error) {
		nodes, err := p.ActiveNodes(ctx)
		if err != nil {
			return false, err
		}
		active := nodeindex.ActiveFileName(nodes)
		if active == "" {
			blind := match.Type == nodeindex.MatchExact || match.Type == nodeindex.MatchSuffix
			return blind && attempt >= in.Tuning.SwitchBlindAttempt, nil
		}
		return idx.ActiveNameMatches(active, target), nil
	})
}

// InjectTab uploads into the top frame first. When it is supported but
// uploads nothing, every frame is tried and the best supported result is
// kept if it uploaded anything. The call is bounded by Timeout.
func (in *Injector) InjectTab(ctx context.Context, tab page.Tab, files map[string]string) (*Result, error) {
	timeout := in.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := in.injectTab(ctx, tab, files)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
	return res, err
}

func (in *Injector) injectTab(ctx context.Context, tab page.Tab, files map[string]string) (*Result, error) {
	top, err := tab.Top(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve top frame: %w", err)
	}
	topResult, err := in.Run(ctx, top, files)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return unsupported(scriptErrorsHead + err.Error()), nil
	}
	if !topResult.IsSupportedPage || topResult.UploadedCount > 0 {
		return topResult, nil
	}

	frames, err := tab.Frames(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		in.logger().Debug("frame listing failed", in.logger().Args("error", err))
		return topResult, nil
	}

	var best *Result
	for i, frame := range frames {
		res, err := in.Run(ctx, frame, files)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			in.logger().Debug("frame upload failed", in.logger().Args("frame", i, "error", err))
			continue
		}
		if !res.IsSupportedPage {
			continue
		}
		if best == nil || res.UploadedCount > best.UploadedCount ||
			(res.UploadedCount == best.UploadedCount && res.MatchedCount > best.MatchedCount) {
			best = res
		}
	}
	if best != nil && best.UploadedCount > 0 {
		return best, nil
	}
	return topResult, nil
}
