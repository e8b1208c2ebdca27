package page

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kernel/kernel-go-sdk"
	"github.com/kernel/kernel-go-sdk/option"
)

// PlaywrightService defines the subset of the Kernel SDK browser Playwright
// client that the bridge uses.
type PlaywrightService interface {
	Execute(ctx context.Context, id string, body kernel.BrowserPlaywrightExecuteParams, opts ...option.RequestOption) (*kernel.BrowserPlaywrightExecuteResponse, error)
}

// DefaultCallTimeout bounds one bridge call, in seconds.
const DefaultCallTimeout = 30

const nodeGoneMarker = "tplsync:node-gone"

const evaluateTemplate = `const frame = page.frames()[%d];
if (!frame) {
  throw new Error('frame %d is not available');
}
return await frame.evaluate(async (args) => {
%s
%s
}, %s);`

var (
	_ Tab  = (*RemoteTab)(nil)
	_ Page = (*RemotePage)(nil)
)

// RemoteTab is the active page of a Kernel browser session.
type RemoteTab struct {
	svc        PlaywrightService
	sessionID  string
	timeoutSec int64
}

// NewRemoteTab returns a tab bound to a browser session. A timeoutSec of zero
// selects DefaultCallTimeout.
func NewRemoteTab(svc PlaywrightService, sessionID string, timeoutSec int64) *RemoteTab {
	if timeoutSec <= 0 {
		timeoutSec = DefaultCallTimeout
	}
	return &RemoteTab{svc: svc, sessionID: sessionID, timeoutSec: timeoutSec}
}

// Frames lists every frame of the page, top frame first.
func (t *RemoteTab) Frames(ctx context.Context) ([]Page, error) {
	var count int
	if err := t.execute(ctx, framesScript, &count); err != nil {
		return nil, fmt.Errorf("failed to list frames: %w", err)
	}
	if count < 1 {
		count = 1
	}
	pages := make([]Page, 0, count)
	for i := 0; i < count; i++ {
		pages = append(pages, &RemotePage{tab: t, index: i})
	}
	return pages, nil
}

// Top returns the main frame.
func (t *RemoteTab) Top(ctx context.Context) (Page, error) {
	return &RemotePage{tab: t, index: 0}, nil
}

func (t *RemoteTab) execute(ctx context.Context, code string, out any) error {
	result, err := t.svc.Execute(ctx, t.sessionID, kernel.BrowserPlaywrightExecuteParams{
		Code:       code,
		TimeoutSec: kernel.Opt(t.timeoutSec),
	})
	if err != nil {
		return fmt.Errorf("failed to execute page script: %w", err)
	}
	if !result.Success {
		if strings.Contains(result.Error, nodeGoneMarker) {
			return fmt.Errorf("%w: %s", ErrNodeGone, result.Error)
		}
		if result.Error != "" {
			return fmt.Errorf("%w: %s", ErrScript, result.Error)
		}
		return ErrScript
	}
	if out == nil || result.Result == nil {
		return nil
	}

	resultBytes, err := json.Marshal(result.Result)
	if err != nil {
		return fmt.Errorf("failed to parse result: %w", err)
	}
	if err := json.Unmarshal(resultBytes, out); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}

// RemotePage is one frame of a RemoteTab, addressed by its index in
// page.frames().
type RemotePage struct {
	tab   *RemoteTab
	index int
}

func (p *RemotePage) eval(ctx context.Context, body string, args any, out any) error {
	if args == nil {
		args = struct{}{}
	}
	argBytes, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to encode script arguments: %w", err)
	}
	code := fmt.Sprintf(evaluateTemplate, p.index, p.index, preludeScript, body, argBytes)
	return p.tab.execute(ctx, code, out)
}

func (p *RemotePage) Location(ctx context.Context) (Location, error) {
	var loc Location
	err := p.eval(ctx, locationScript, nil, &loc)
	return loc, err
}

func (p *RemotePage) Scan(ctx context.Context, limit int) ([]ScanItem, error) {
	var items []ScanItem
	err := p.eval(ctx, scanScript, map[string]any{"limit": limit}, &items)
	return items, err
}

func (p *RemotePage) ActiveNodes(ctx context.Context) ([]Node, error) {
	var nodes []Node
	err := p.eval(ctx, activeScript, nil, &nodes)
	return nodes, err
}

func (p *RemotePage) Surfaces(ctx context.Context) (*Surfaces, error) {
	var s Surfaces
	if err := p.eval(ctx, surfacesScript, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *RemotePage) SetValue(ctx context.Context, kind Kind, id NodeID, text string) error {
	return p.eval(ctx, setValueScript, map[string]any{"kind": kind, "id": id, "text": text}, nil)
}

func (p *RemotePage) Click(ctx context.Context, id NodeID) error {
	return p.eval(ctx, clickScript, map[string]any{"id": id, "native": false}, nil)
}

func (p *RemotePage) Activate(ctx context.Context, id NodeID) error {
	return p.eval(ctx, clickScript, map[string]any{"id": id, "native": true}, nil)
}

func (p *RemotePage) ScrollIntoView(ctx context.Context, id NodeID) error {
	return p.eval(ctx, scrollScript, map[string]any{"id": id}, nil)
}

func (p *RemotePage) DispatchShortcut(ctx context.Context, s Shortcut) error {
	return p.eval(ctx, shortcutScript, s, nil)
}

func (p *RemotePage) SaveControls(ctx context.Context) ([]Node, error) {
	var nodes []Node
	err := p.eval(ctx, saveControlsScript, nil, &nodes)
	return nodes, err
}

func (p *RemotePage) Describe(ctx context.Context, ids []NodeID) ([]Node, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var nodes []Node
	err := p.eval(ctx, describeScript, map[string]any{"ids": ids}, &nodes)
	return nodes, err
}

func (p *RemotePage) InstallConfirmGuard(ctx context.Context, phrases []string) error {
	if phrases == nil {
		phrases = []string{}
	}
	return p.eval(ctx, guardInstallScript, map[string]any{"phrases": phrases}, nil)
}

func (p *RemotePage) BlockedPrompts(ctx context.Context) (int, error) {
	var n int
	err := p.eval(ctx, guardCountScript, nil, &n)
	return n, err
}

func (p *RemotePage) RestoreConfirm(ctx context.Context) error {
	return p.eval(ctx, guardRestoreScript, nil, nil)
}
