package inject

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/kernel/tplsync/internal/nodeindex"
	"github.com/kernel/tplsync/internal/page"
	"github.com/kernel/tplsync/internal/tuning"
	"github.com/samber/lo"
)

// Save methods reported in UploadedFile.SaveMethod.
const (
	SaveShortcut       = "shortcut"
	SaveButton         = "button+shortcut"
	SaveShortcutRetry  = "shortcut-retry"
	saveWord           = `\bsave\b`
	secondarySaveWords = `\b(publish|update|apply)\b`
)

var (
	saveWordPattern      = regexp.MustCompile(saveWord)
	secondarySavePattern = regexp.MustCompile(secondarySaveWords)
)

type saveOutcome struct {
	ok     bool
	method string
	reason string
}

func controlLabel(n page.Node) string {
	return strings.ToLower(strings.Join(lo.Compact([]string{
		n.Text, n.Attr("title"), n.Attr("aria-label"), n.Attr("data-action"),
		n.Attr("data-testid"), n.Attr("id"), n.Class(),
	}), " "))
}

func controlDisabled(n page.Node) bool {
	return n.Disabled || n.Attr("aria-disabled") == "true" || n.HasClass("disabled")
}

// scoreControl ranks a save control candidate.
func scoreControl(n page.Node, w tuning.SaveControlScore) int {
	label := controlLabel(n)
	score := 0
	if strings.EqualFold(n.Tag, "button") || n.Role() == "button" {
		score += w.Button
	}
	if strings.EqualFold(n.Attr("type"), "submit") {
		score += w.Submit
	}
	if saveWordPattern.MatchString(label) {
		score += w.SaveWord
	}
	if secondarySavePattern.MatchString(label) {
		score += w.Secondary
	}
	if controlDisabled(n) {
		score += w.Disabled
	}
	return score
}

// RankSaveControls orders controls by score, keeping document order for
// equal scores, and returns at most limit of them.
func RankSaveControls(controls []page.Node, w tuning.SaveControlScore, limit int) []page.Node {
	ranked := append([]page.Node(nil), controls...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return scoreControl(ranked[i], w) > scoreControl(ranked[j], w)
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// controlsIdle reports whether every visible control is disabled. It returns
// nil when there is no visible control to judge by.
func (in *Injector) controlsIdle(ctx context.Context, p page.Page, controls []page.Node) (*bool, error) {
	if len(controls) == 0 {
		return nil, nil
	}
	ids := lo.Map(controls, func(n page.Node, _ int) page.NodeID { return n.ID })
	current, err := p.Describe(ctx, ids)
	if err != nil {
		return nil, err
	}
	visible := lo.Filter(current, func(n page.Node, _ int) bool { return n.Visible })
	if len(visible) == 0 {
		return nil, nil
	}
	idle := lo.EveryBy(visible, controlDisabled)
	return &idle, nil
}

// save triggers a save of the active file and verifies that its dirty marker
// clears. target is the file expected to stay active; an empty target skips
// that check. Only context errors are returned.
func (in *Injector) save(ctx context.Context, p page.Page, idx *nodeindex.Index, target string) (saveOutcome, error) {
	t := in.Tuning
	method := SaveShortcut

	all, err := p.SaveControls(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return saveOutcome{}, ctx.Err()
		}
		in.logger().Debug("save control lookup failed", in.logger().Args("error", err))
	}
	controls := RankSaveControls(all, t.SaveControlScore, t.SaveControlsLimit)

	var lastDirty *bool
	if nodes, err := p.ActiveNodes(ctx); err == nil {
		lastDirty = nodeindex.LooksDirty(nodes)
	}

	for attempt := 0; attempt < t.SaveAttempts; attempt++ {
		for _, s := range []page.Shortcut{page.CtrlS, page.CmdS} {
			if err := p.DispatchShortcut(ctx, s); err != nil {
				if ctx.Err() != nil {
					return saveOutcome{}, ctx.Err()
				}
				in.logger().Debug("save shortcut failed", in.logger().Args("error", err))
			}
		}
		if err := in.sleep(ctx, t.SaveShortcutWait); err != nil {
			return saveOutcome{}, err
		}

		clicked := false
		for _, control := range controls {
			if err := p.Activate(ctx, control.ID); err != nil {
				if ctx.Err() != nil {
					return saveOutcome{}, ctx.Err()
				}
				continue
			}
			clicked = true
			break
		}
		if clicked {
			method = SaveButton
		} else if attempt > 0 {
			method = SaveShortcutRetry
		}

		if err := in.sleep(ctx, t.SaveVerifyWait); err != nil {
			return saveOutcome{}, err
		}

		nodes, err := p.ActiveNodes(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return saveOutcome{}, ctx.Err()
			}
			in.logger().Debug("active file lookup failed", in.logger().Args("error", err))
			continue
		}
		active := nodeindex.ActiveFileName(nodes)
		if target != "" && active != "" && !idx.ActiveNameMatches(active, target) {
			return saveOutcome{
				method: method,
				reason: fmt.Sprintf("Active file switched to %s while saving %s.", active, target),
			}, nil
		}

		dirty := nodeindex.LooksDirty(nodes)
		lastDirty = dirty
		in.logger().Debug("save attempt", in.logger().Args("file", target, "attempt", attempt, "method", method, "dirty", dirtyString(dirty)))
		if dirty != nil && !*dirty {
			return saveOutcome{ok: true, method: method}, nil
		}
		if dirty == nil && attempt >= t.SaveIdleAttempt {
			idle, err := in.controlsIdle(ctx, p, controls)
			if err != nil && ctx.Err() != nil {
				return saveOutcome{}, ctx.Err()
			}
			if idle != nil && *idle {
				return saveOutcome{ok: true, method: method}, nil
			}
		}
	}

	if lastDirty != nil && *lastDirty {
		return saveOutcome{
			method: method,
			reason: fmt.Sprintf("Save did not clear dirty state for %s.", target),
		}, nil
	}
	return saveOutcome{ok: true, method: method}, nil
}

func dirtyString(dirty *bool) string {
	if dirty == nil {
		return "unknown"
	}
	if *dirty {
		return "dirty"
	}
	return "clean"
}
