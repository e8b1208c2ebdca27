// Package page defines how the editor automation reaches a live document: a
// small set of observations and mutations on one frame, addressed through
// node ids handed out by the page itself.
package page

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrScript is returned when an evaluated script reports a failure.
	ErrScript = errors.New("page script failed")

	// ErrNodeGone is returned when a node id no longer refers to a live element.
	ErrNodeGone = errors.New("node is no longer attached")
)

// NodeID identifies an element or widget instance registered in the page.
type NodeID int

// Node is a snapshot of one element's identity-relevant state.
type Node struct {
	ID         NodeID            `json:"id"`
	Tag        string            `json:"tag"`
	Attrs      map[string]string `json:"attrs,omitempty"`
	Text       string            `json:"text,omitempty"`
	Visible    bool              `json:"visible"`
	TabIndex   int               `json:"tabIndex"`
	HasOnClick bool              `json:"hasOnClick,omitempty"`
	Disabled   bool              `json:"disabled,omitempty"`
}

// Attr returns the attribute value, or "" when absent.
func (n Node) Attr(name string) string {
	return n.Attrs[name]
}

// HasAttr reports whether the attribute is present.
func (n Node) HasAttr(name string) bool {
	_, ok := n.Attrs[name]
	return ok
}

// Role returns the lowercased ARIA role.
func (n Node) Role() string {
	return strings.ToLower(n.Attr("role"))
}

// Class returns the class attribute.
func (n Node) Class() string {
	return n.Attr("class")
}

// HasClass reports whether the class list contains name.
func (n Node) HasClass(name string) bool {
	for _, c := range strings.Fields(n.Class()) {
		if c == name {
			return true
		}
	}
	return false
}

// ScanItem pairs a scanned element with its nearest clickable ancestor. When
// no ancestor matches, Candidate is the element itself.
type ScanItem struct {
	Element   Node `json:"element"`
	Candidate Node `json:"candidate"`
}

// Location describes the document loaded in a frame.
type Location struct {
	Href     string `json:"href"`
	Hostname string `json:"hostname"`
}

// Kind names an editor surface variant.
type Kind string

const (
	KindMonacoEditor    Kind = "monaco-editor"
	KindMonacoModel     Kind = "monaco-model"
	KindCodeMirror      Kind = "codemirror"
	KindAce             Kind = "ace"
	KindTextarea        Kind = "textarea"
	KindContentEditable Kind = "contenteditable"
)

// Instance is one editor surface found in the page.
type Instance struct {
	ID      NodeID   `json:"id"`
	Value   string   `json:"value"`
	Focused bool     `json:"focused,omitempty"`
	Visible bool     `json:"visible,omitempty"`
	Area    float64  `json:"area,omitempty"`
	Names   []string `json:"names,omitempty"`
}

// Surfaces is one observation of every editor surface on the page. A kind
// whose probe threw has an entry in Errors and no instances.
type Surfaces struct {
	Instances map[Kind][]Instance `json:"instances"`
	Errors    map[Kind]string     `json:"errors,omitempty"`
}

// Of returns the instances of one kind.
func (s *Surfaces) Of(kind Kind) []Instance {
	if s == nil {
		return nil
	}
	return s.Instances[kind]
}

// Shortcut is a synthesized key chord.
type Shortcut struct {
	Key  string `json:"key"`
	Code string `json:"code"`
	Ctrl bool   `json:"ctrlKey"`
	Meta bool   `json:"metaKey"`
}

var (
	CtrlS = Shortcut{Key: "s", Code: "KeyS", Ctrl: true}
	CmdS  = Shortcut{Key: "s", Code: "KeyS", Meta: true}
)

// Page is one frame of the host editor.
type Page interface {
	Location(ctx context.Context) (Location, error)

	// Scan returns up to limit candidate elements in document order.
	Scan(ctx context.Context, limit int) ([]ScanItem, error)

	// ActiveNodes returns the first element matching each active-state
	// selector, in selector order.
	ActiveNodes(ctx context.Context) ([]Node, error)

	Surfaces(ctx context.Context) (*Surfaces, error)
	SetValue(ctx context.Context, kind Kind, id NodeID, text string) error

	// Click dispatches mousedown, mouseup and click.
	Click(ctx context.Context, id NodeID) error
	// Activate dispatches the Click sequence and calls the native click().
	Activate(ctx context.Context, id NodeID) error
	ScrollIntoView(ctx context.Context, id NodeID) error

	// DispatchShortcut fires keydown, keypress and keyup at the focused
	// element, the document and the window.
	DispatchShortcut(ctx context.Context, s Shortcut) error

	// SaveControls returns the visible elements that may trigger a save.
	SaveControls(ctx context.Context) ([]Node, error)
	// Describe refreshes the state of previously returned nodes. Nodes that
	// are gone are omitted.
	Describe(ctx context.Context, ids []NodeID) ([]Node, error)

	// InstallConfirmGuard replaces window.confirm (and the top window's when
	// reachable) with one that answers false to messages containing any of
	// phrases and counts each such answer.
	InstallConfirmGuard(ctx context.Context, phrases []string) error
	BlockedPrompts(ctx context.Context) (int, error)
	RestoreConfirm(ctx context.Context) error
}

// Tab is a browser tab made of frames.
type Tab interface {
	// Frames returns the top frame first.
	Frames(ctx context.Context) ([]Page, error)
	Top(ctx context.Context) (Page, error)
}
