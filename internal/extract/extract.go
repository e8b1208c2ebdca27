// Package extract opens every template file the host editor knows about and
// captures the content its editor widget displays.
package extract

import (
	"context"
	"fmt"
	"sort"

	"github.com/kernel/tplsync/internal/editor"
	"github.com/kernel/tplsync/internal/nodeindex"
	"github.com/kernel/tplsync/internal/page"
	"github.com/kernel/tplsync/internal/pathname"
	"github.com/kernel/tplsync/internal/poll"
	"github.com/kernel/tplsync/internal/tuning"
	"github.com/pterm/pterm"
	"github.com/samber/lo"
)

const (
	reasonNoNode     = "No matching file node found."
	reasonNoContent  = "Editor content was not available after opening file."
	scriptErrorsHead = "Extraction script error: "
)

// DefaultFiles are the template files every webstore theme ships with.
var DefaultFiles = []string{
	"category.html",
	"checkout.html",
	"cms/page.html",
	"index.html",
	"layout.html",
	"module.communitygoal.html",
	"module.featuredpackage.html",
	"module.giftcardbalance.html",
	"module.goal.html",
	"module.payments.html",
	"module.serverstatus.html",
	"module.textbox.html",
	"module.topdonator.html",
	"options.html",
	"package.html",
	"username.html",
	"header.twig",
	"package-media.twig",
	"tiered-actions.twig",
	"quote.html",
	"category/tiered.html",
	"package-actions.twig",
	"discount.twig",
	"head.twig",
	"constants.twig",
	"price.twig",
	"package-entry.twig",
	"sidebar.twig",
	"footer.twig",
	"pagination.twig",
	"main.js",
	"swiper-element-bundle.min.js",
	"styles.css",
}

// Result is the outcome of one extraction.
type Result struct {
	IsSupportedPage    bool              `json:"isSupportedPage"`
	ErrorMessage       string            `json:"errorMessage,omitempty"`
	PageURL            string            `json:"pageUrl,omitempty"`
	Files              map[string]string `json:"files"`
	Sources            map[string]string `json:"sources"`
	Errors             map[string]string `json:"errors"`
	DetectedFileCount  int               `json:"detectedFileCount"`
	ExtractedFileCount int               `json:"extractedFileCount"`
	MissingFiles       []string          `json:"missingFiles"`
}

func newResult() *Result {
	return &Result{
		Files:        map[string]string{},
		Sources:      map[string]string{},
		Errors:       map[string]string{},
		MissingFiles: []string{},
	}
}

func unsupported(message string) *Result {
	r := newResult()
	r.ErrorMessage = message
	return r
}

// Extractor runs extractions with one policy.
type Extractor struct {
	Tuning tuning.Tuning
	Sleep  poll.SleepFunc
	Logger *pterm.Logger
}

// New returns an Extractor with the default tuning.
func New(logger *pterm.Logger) *Extractor {
	return &Extractor{Tuning: tuning.Default(), Sleep: poll.Sleep, Logger: logger}
}

func (e *Extractor) logger() *pterm.Logger {
	if e.Logger == nil {
		return &pterm.DefaultLogger
	}
	return e.Logger
}

// Targets returns the files to extract: the defaults, every indexed path and
// every path named by a Monaco model, filtered and sorted.
func Targets(defaults []string, idx *nodeindex.Index, s *page.Surfaces) []string {
	set := make(map[string]struct{})
	add := func(name string) {
		normalized := pathname.Normalize(name)
		if pathname.IsSupported(normalized) {
			set[normalized] = struct{}{}
		}
	}
	for _, name := range defaults {
		add(name)
	}
	for _, name := range idx.Detected {
		add(name)
	}
	for _, inst := range s.Of(page.KindMonacoModel) {
		for name := range editor.ModelNames(inst) {
			add(name)
		}
	}
	targets := lo.Keys(set)
	sort.Strings(targets)
	return targets
}

// Run extracts every target from one frame. Bridge failures while reading
// one file become that file's error; failures observing the frame itself are
// returned.
func (e *Extractor) Run(ctx context.Context, p page.Page, defaultFiles []string) (*Result, error) {
	loc, err := p.Location(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page location: %w", err)
	}
	if !e.Tuning.IsSupportedHost(loc.Hostname) {
		return unsupported(tuning.UnsupportedPageMessage), nil
	}

	idx, err := nodeindex.Build(ctx, p, e.Tuning)
	if err != nil {
		return nil, err
	}
	surfaces, err := p.Surfaces(ctx)
	if err != nil {
		e.logger().Debug("monaco model discovery failed", e.logger().Args("error", err))
	}

	res := newResult()
	res.IsSupportedPage = true
	res.PageURL = loc.Href
	reader := &editor.Reader{Tuning: e.Tuning, Logger: e.Logger}

	targets := Targets(defaultFiles, idx, surfaces)
	for _, target := range targets {
		snap, reason, err := e.extractFile(ctx, p, idx, reader, target)
		if err != nil {
			return nil, err
		}
		if snap == nil {
			res.Errors[target] = reason
			e.logger().Debug("file not extracted", e.logger().Args("file", target, "reason", reason))
			continue
		}
		res.Files[target] = snap.Content
		res.Sources[target] = snap.Method
		e.logger().Debug("file extracted", e.logger().Args("file", target, "method", snap.Method, "bytes", len(snap.Content)))
	}

	if err := e.rescueActive(ctx, p, reader, targets, res); err != nil {
		return nil, err
	}

	res.DetectedFileCount = len(targets)
	res.ExtractedFileCount = len(res.Files)
	res.MissingFiles = lo.Filter(targets, func(name string, _ int) bool {
		_, ok := res.Files[name]
		return !ok
	})
	return res, nil
}

// extractFile opens target and polls until the active indicator and the
// editor agree. It returns an error only when ctx is done.
func (e *Extractor) extractFile(ctx context.Context, p page.Page, idx *nodeindex.Index, reader *editor.Reader, target string) (*editor.Snapshot, string, error) {
	match := idx.ResolveLoose(target)
	if !match.OK() {
		return nil, reasonNoNode, nil
	}
	e.logger().Debug("opening file", e.logger().Args("file", target, "match", match.Type, "path", match.Path))

	fail := func(err error) (*editor.Snapshot, string, error) {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, err.Error(), nil
	}

	if match.Node.Visible {
		if err := p.ScrollIntoView(ctx, match.Node.ID); err != nil {
			return fail(err)
		}
	}
	before, err := reader.Read(ctx, p, target)
	if err != nil {
		return fail(err)
	}
	if err := p.Click(ctx, match.Node.ID); err != nil {
		return fail(err)
	}

	schedule := e.Tuning.ExtractPoll
	var best *editor.Snapshot
	_, err = poll.Run(ctx, schedule, e.Sleep, func(attempt int) (bool, error) {
		nodes, err := p.ActiveNodes(ctx)
		if err != nil {
			return false, err
		}
		active := nodeindex.ActiveFileName(nodes)
		snap, err := reader.Read(ctx, p, target)
		if err != nil || snap == nil {
			return false, err
		}

		changed := before == nil || snap.Content != before.Content
		nameMatches := active != "" && pathname.SameFileName(active, target)
		switch {
		case nameMatches && (changed || attempt >= e.Tuning.ExtractSettleAttempt):
			best = snap
			return true, nil
		case nameMatches && best == nil:
			best = snap
		case !nameMatches && changed && attempt >= e.Tuning.ExtractChangedAttempt && best == nil:
			best = snap
		case schedule.Last(attempt) && best == nil:
			best = snap
		}
		return false, nil
	})
	if err != nil {
		return fail(err)
	}

	if best == nil || !editor.ContentLooksReasonable(best.Content, target, e.Tuning) {
		return nil, reasonNoContent, nil
	}
	return &editor.Snapshot{Content: pathname.NormalizeContent(best.Content), Method: best.Method}, "", nil
}

// rescueActive reads the editor once more when the active file is a target
// that is still missing.
func (e *Extractor) rescueActive(ctx context.Context, p page.Page, reader *editor.Reader, targets []string, res *Result) error {
	nodes, err := p.ActiveNodes(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return nil
	}
	active := nodeindex.ActiveFileName(nodes)
	if active == "" {
		return nil
	}
	target, ok := lo.Find(targets, func(name string) bool {
		_, done := res.Files[name]
		return !done && pathname.SameFileName(name, active)
	})
	if !ok {
		return nil
	}
	snap, err := reader.Read(ctx, p, target)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return nil
	}
	if snap != nil {
		res.Files[target] = snap.Content
		res.Sources[target] = snap.Method
		delete(res.Errors, target)
		e.logger().Debug("rescued active file", e.logger().Args("file", target, "method", snap.Method))
	}
	return nil
}

// ExtractTab runs the top frame first. When it is supported but yields
// nothing, every frame is extracted and the results merged; the merge
// replaces the top result only when it found files.
func (e *Extractor) ExtractTab(ctx context.Context, tab page.Tab, defaultFiles []string) (*Result, error) {
	top, err := tab.Top(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve top frame: %w", err)
	}
	topResult, err := e.Run(ctx, top, defaultFiles)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return unsupported(scriptErrorsHead + err.Error()), nil
	}
	if !topResult.IsSupportedPage || len(topResult.Files) > 0 {
		return topResult, nil
	}

	frames, err := tab.Frames(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger().Debug("frame listing failed", e.logger().Args("error", err))
		return topResult, nil
	}
	merged, err := e.mergeFrames(ctx, frames, defaultFiles)
	if err != nil {
		return nil, err
	}
	if len(merged.Files) > 0 {
		return merged, nil
	}
	return topResult, nil
}

func (e *Extractor) mergeFrames(ctx context.Context, frames []page.Page, defaultFiles []string) (*Result, error) {
	merged := newResult()
	detected := make(map[string]struct{})
	missing := make(map[string]struct{})
	var frameErrors []string

	for i, frame := range frames {
		res, err := e.Run(ctx, frame, defaultFiles)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger().Debug("frame extraction failed", e.logger().Args("frame", i, "error", err))
			frameErrors = append(frameErrors, err.Error())
			continue
		}
		if !res.IsSupportedPage {
			continue
		}

		merged.IsSupportedPage = true
		if merged.PageURL == "" {
			merged.PageURL = res.PageURL
		}
		for _, name := range lo.Keys(res.Files) {
			content := res.Files[name]
			if len(content) > len(merged.Files[name]) {
				merged.Files[name] = content
				merged.Sources[name] = res.Sources[name]
			}
			detected[name] = struct{}{}
		}
		for _, name := range lo.Keys(res.Errors) {
			if _, ok := merged.Errors[name]; !ok {
				merged.Errors[name] = res.Errors[name]
			}
		}
		for _, name := range res.MissingFiles {
			missing[name] = struct{}{}
			detected[name] = struct{}{}
		}
	}

	if !merged.IsSupportedPage {
		if len(frameErrors) > 0 {
			return unsupported(scriptErrorsHead + frameErrors[0]), nil
		}
		return unsupported(tuning.UnsupportedPageMessage), nil
	}

	merged.MissingFiles = lo.Filter(lo.Keys(missing), func(name string, _ int) bool {
		_, ok := merged.Files[name]
		return !ok
	})
	sort.Strings(merged.MissingFiles)
	merged.DetectedFileCount = len(detected)
	merged.ExtractedFileCount = len(merged.Files)
	return merged, nil
}
