// Package editor reads and writes the content of whichever embeddable code
// editor the host page is showing.
package editor

import (
	"context"
	"math"
	"regexp"
	"strings"

	"github.com/kernel/tplsync/internal/page"
	"github.com/kernel/tplsync/internal/pathname"
	"github.com/kernel/tplsync/internal/tuning"
	"github.com/pterm/pterm"
)

// Snapshot is the content shown by an editor surface and the integration
// that produced it.
type Snapshot struct {
	Content string `json:"content"`
	Method  string `json:"method"`
}

// Integration is one editor surface variant.
type Integration interface {
	// Name is the write method reported for this variant.
	Name() string
	Kind() page.Kind
	// TryRead returns the content of the best instance for target.
	TryRead(s *page.Surfaces, target string, t tuning.Tuning) (string, bool)
	// TryWrite writes text into the best instance. It reports false when no
	// writable instance exists.
	TryWrite(ctx context.Context, p page.Page, s *page.Surfaces, text string, w tuning.PickWeights) (bool, error)
}

// Integrations lists every variant in priority order.
var Integrations = []Integration{
	monacoEditor{},
	monacoModels{},
	instanceEditor{name: "codemirror", kind: page.KindCodeMirror},
	instanceEditor{name: "ace", kind: page.KindAce},
	instanceEditor{name: "textarea", kind: page.KindTextarea},
	instanceEditor{name: "contenteditable", kind: page.KindContentEditable},
}

// Pick returns the highest-scoring instance. The first of equal scores wins.
func Pick(instances []page.Instance, w tuning.PickWeights) (page.Instance, bool) {
	best := -1
	bestScore := math.MinInt
	for i, inst := range instances {
		score := 0
		if inst.Focused {
			score += w.Focused
		}
		if inst.Visible {
			score += w.Visible
		}
		if w.AreaDivisor > 0 {
			score += min(w.AreaCap, int(math.Round(inst.Area/w.AreaDivisor)))
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return page.Instance{}, false
	}
	return instances[best], true
}

type monacoEditor struct{}

func (monacoEditor) Name() string    { return "monaco" }
func (monacoEditor) Kind() page.Kind { return page.KindMonacoEditor }

func (m monacoEditor) TryRead(s *page.Surfaces, _ string, t tuning.Tuning) (string, bool) {
	inst, ok := Pick(s.Of(m.Kind()), t.ReadWeights[string(m.Kind())])
	return inst.Value, ok
}

func (m monacoEditor) TryWrite(ctx context.Context, p page.Page, s *page.Surfaces, text string, w tuning.PickWeights) (bool, error) {
	inst, ok := Pick(s.Of(m.Kind()), w)
	if !ok {
		return false, nil
	}
	return true, p.SetValue(ctx, m.Kind(), inst.ID, text)
}

// monacoModels reads every Monaco model and keeps the first one whose URI or
// id names the target and whose content passes ContentLooksReasonable. It is
// never written to directly.
type monacoModels struct{}

func (monacoModels) Name() string    { return "monaco-model" }
func (monacoModels) Kind() page.Kind { return page.KindMonacoModel }

func (m monacoModels) TryRead(s *page.Surfaces, target string, t tuning.Tuning) (string, bool) {
	for _, inst := range s.Of(m.Kind()) {
		if !matchesAny(ModelNames(inst), target) {
			continue
		}
		if ContentLooksReasonable(inst.Value, target, t) {
			return inst.Value, true
		}
	}
	return "", false
}

func (monacoModels) TryWrite(context.Context, page.Page, *page.Surfaces, string, tuning.PickWeights) (bool, error) {
	return false, nil
}

// ModelNames returns the template paths mentioned by a model's URI and id.
func ModelNames(inst page.Instance) map[string]bool {
	names := make(map[string]bool)
	for _, source := range inst.Names {
		for _, name := range pathname.FindFileNames(source) {
			names[name] = true
		}
	}
	return names
}

func matchesAny(names map[string]bool, target string) bool {
	for name := range names {
		if pathname.SameFileName(name, target) {
			return true
		}
	}
	return false
}

// instanceEditor covers the variants that expose a single value per
// instance: CodeMirror, Ace, textarea and contenteditable.
type instanceEditor struct {
	name string
	kind page.Kind
}

func (e instanceEditor) Name() string    { return e.name }
func (e instanceEditor) Kind() page.Kind { return e.kind }

func (e instanceEditor) TryRead(s *page.Surfaces, _ string, t tuning.Tuning) (string, bool) {
	inst, ok := Pick(s.Of(e.kind), t.ReadWeights[string(e.kind)])
	return inst.Value, ok
}

func (e instanceEditor) TryWrite(ctx context.Context, p page.Page, s *page.Surfaces, text string, w tuning.PickWeights) (bool, error) {
	inst, ok := Pick(s.Of(e.kind), w)
	if !ok {
		return false, nil
	}
	return true, p.SetValue(ctx, e.kind, inst.ID, text)
}

// Reader returns the content of the active editor.
type Reader struct {
	Tuning tuning.Tuning
	Logger *pterm.Logger
}

// Read observes the page once and returns the first snapshot that looks
// like plausible content for target, or nil.
func (r *Reader) Read(ctx context.Context, p page.Page, target string) (*Snapshot, error) {
	s, err := p.Surfaces(ctx)
	if err != nil {
		return nil, err
	}
	return r.FromSurfaces(s, target), nil
}

// FromSurfaces applies the read priority to an existing observation.
func (r *Reader) FromSurfaces(s *page.Surfaces, target string) *Snapshot {
	for kind, msg := range s.Errors {
		r.logger().Debug("editor probe failed", r.logger().Args("kind", kind, "error", msg))
	}
	for _, in := range Integrations {
		content, ok := in.TryRead(s, target, r.Tuning)
		if !ok {
			continue
		}
		content = pathname.NormalizeContent(content)
		if ContentLooksReasonable(content, target, r.Tuning) {
			return &Snapshot{Content: content, Method: string(in.Kind())}
		}
	}
	return nil
}

func (r *Reader) logger() *pterm.Logger {
	if r.Logger == nil {
		return &pterm.DefaultLogger
	}
	return r.Logger
}

// Writer pushes content into the active editor.
type Writer struct {
	Tuning tuning.Tuning
	Logger *pterm.Logger
}

// Write returns the name of the integration that accepted text, or "" when
// no writable surface exists.
func (w *Writer) Write(ctx context.Context, p page.Page, text string) (string, error) {
	text = pathname.NormalizeContent(text)
	s, err := p.Surfaces(ctx)
	if err != nil {
		return "", err
	}
	log := w.Logger
	if log == nil {
		log = &pterm.DefaultLogger
	}
	for _, in := range Integrations {
		ok, err := in.TryWrite(ctx, p, s, text, w.Tuning.WriteWeights[string(in.Kind())])
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			log.Debug("editor write failed", log.Args("integration", in.Name(), "error", err))
			continue
		}
		if ok {
			return in.Name(), nil
		}
	}
	return "", nil
}

var (
	markupSyntax  = regexp.MustCompile(`[<>]|\{\{|\{%|\{#`)
	scriptKeyword = regexp.MustCompile(`\b(function|const|let|var|import|export|class|return)\b|=>`)
	scriptPunct   = regexp.MustCompile(`[=;(){}]`)
	identifier    = regexp.MustCompile(`[A-Za-z_$]`)
	styleMarker   = regexp.MustCompile(`(?i)@media|@keyframes|:root|--[a-z0-9_-]+`)
	stylePunct    = regexp.MustCompile(`[{}:;]`)
	selectorChars = regexp.MustCompile(`[.#a-zA-Z0-9_-]`)
)

// ContentLooksReasonable rejects editor content that cannot belong to
// target: empty content, or short content without syntax of the target's
// type.
func ContentLooksReasonable(content, target string, t tuning.Tuning) bool {
	trimmed := strings.TrimSpace(pathname.NormalizeContent(content))
	if trimmed == "" {
		return false
	}
	length := len([]rune(trimmed))
	name := strings.ToLower(pathname.Normalize(target))

	switch {
	case strings.HasSuffix(name, ".html"), strings.HasSuffix(name, ".twig"):
		return markupSyntax.MatchString(trimmed) || length > t.MinMarkupLength
	case strings.HasSuffix(name, ".js"):
		if scriptKeyword.MatchString(trimmed) {
			return true
		}
		if scriptPunct.MatchString(trimmed) && identifier.MatchString(trimmed) {
			return true
		}
		return length > t.MinScriptLength
	case strings.HasSuffix(name, ".css"):
		if styleMarker.MatchString(trimmed) {
			return true
		}
		if stylePunct.MatchString(trimmed) && selectorChars.MatchString(trimmed) {
			return true
		}
		return length > t.MinStyleLength
	default:
		return length > t.MinOtherLength
	}
}
