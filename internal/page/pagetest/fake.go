// Package pagetest provides an in-memory host editor for tests: a file tree
// whose items open files in a single editor widget, an unsaved-changes
// confirm prompt, and save handlers reachable by shortcut or button.
package pagetest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kernel/tplsync/internal/page"
	"github.com/kernel/tplsync/internal/pathname"
)

const (
	editorID     page.NodeID = 1
	saveButtonID page.NodeID = 2
	firstFileID  page.NodeID = 100
	firstModelID page.NodeID = 5000
	firstExtraID page.NodeID = 9000
)

// File is one template known to the fake editor.
type File struct {
	Path    string
	Content string
	Dirty   bool
	// Label is the tree item text. Defaults to the base name.
	Label string
	// Hidden renders the tree item invisible.
	Hidden bool

	node  page.NodeID
	model page.NodeID
}

// Element is an extra scanned element outside the file tree.
type Element struct {
	Node page.Node
	// Candidate is the clickable ancestor. The element itself when nil.
	Candidate *page.Node
	OnClick   func()
}

// FakePage simulates one frame of a template editor.
type FakePage struct {
	mu sync.Mutex

	Loc page.Location

	// Widget is the kind of the editor surface. Empty means no editor.
	Widget page.Kind
	// ExposeModels lists every file as a Monaco model.
	ExposeModels bool
	// ReadLag is the number of surface reads after a switch that still show
	// the previous file's content.
	ReadLag int
	// HideActive removes the active-file indicator.
	HideActive bool
	// DirtyMarker marks the active item with "*" while it has unsaved edits.
	DirtyMarker bool
	// PromptOnDirtySwitch asks confirm() before leaving a dirty file.
	PromptOnDirtySwitch bool
	// ConfirmAnswer is what the page's own confirm() answers.
	ConfirmAnswer bool
	// SaveOnShortcut makes Ctrl+S and Cmd+S save the active file.
	SaveOnShortcut bool
	// SaveButton renders a save button. SaveButtonWorks makes it save.
	SaveButton      bool
	SaveButtonWorks bool
	// DisableIdleSave disables the save button while nothing is dirty.
	DisableIdleSave bool
	// OnSave runs after a successful save.
	OnSave func(p *FakePage)

	SurfaceErrors map[page.Kind]string
	ExtraSurfaces map[page.Kind][]page.Instance
	// WriteErrors fails SetValue for a kind.
	WriteErrors map[page.Kind]error
	// Errors fails a whole operation by method name.
	Errors map[string]error

	files   []*File
	extras  []Element
	active  string
	shown   string
	lag     int
	guard   []string
	blocked int
	nextID  page.NodeID

	Calls        []string
	Shortcuts    []page.Shortcut
	Saves        []string
	GuardInstall int
	GuardRestore int
}

var _ page.Page = (*FakePage)(nil)

// New returns an editor on host with a focused Monaco editor, a dirty marker
// and a working Ctrl+S handler.
func New(host string) *FakePage {
	return &FakePage{
		Loc:            page.Location{Href: "https://" + host + "/templates", Hostname: host},
		Widget:         page.KindMonacoEditor,
		DirtyMarker:    true,
		ConfirmAnswer:  true,
		SaveOnShortcut: true,
		nextID:         firstExtraID,
	}
}

// AddFile adds a file to the tree.
func (p *FakePage) AddFile(path, content string) *File {
	p.mu.Lock()
	defer p.mu.Unlock()
	f := &File{
		Path:    path,
		Content: content,
		node:    firstFileID + page.NodeID(2*len(p.files)),
		model:   firstModelID + page.NodeID(len(p.files)),
	}
	p.files = append(p.files, f)
	return f
}

// AddElement adds an extra element and returns its id.
func (p *FakePage) AddElement(el Element) page.NodeID {
	p.mu.Lock()
	defer p.mu.Unlock()
	if el.Node.ID == 0 {
		el.Node.ID = p.nextID
		p.nextID++
	}
	if el.Candidate != nil && el.Candidate.ID == 0 {
		el.Candidate.ID = p.nextID
		p.nextID++
	}
	p.extras = append(p.extras, el)
	return el.Node.ID
}

// Open makes path the active file without any prompt.
func (p *FakePage) Open(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = path
	p.shown = path
	p.lag = 0
}

// Active returns the active file path.
func (p *FakePage) Active() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// File returns the file at path, or nil.
func (p *FakePage) File(path string) *File {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.file(path)
}

// GuardActive reports whether the confirm guard is installed.
func (p *FakePage) GuardActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.guard != nil
}

func (p *FakePage) file(path string) *File {
	for _, f := range p.files {
		if f.Path == path {
			return f
		}
	}
	return nil
}

func (p *FakePage) record(op string) error {
	p.Calls = append(p.Calls, op)
	if err, ok := p.Errors[op]; ok {
		return err
	}
	return nil
}

func (p *FakePage) label(f *File) string {
	if f.Label != "" {
		return f.Label
	}
	return pathname.BaseName(f.Path)
}

func (p *FakePage) itemNode(f *File) page.Node {
	class := "file-item"
	attrs := map[string]string{"role": "treeitem", "data-path": f.Path}
	text := p.label(f)
	if f.Path == p.active && !p.HideActive {
		class += " active"
		attrs["aria-selected"] = "true"
		if p.DirtyMarker && f.Dirty {
			text += " *"
		}
	}
	attrs["class"] = class
	return page.Node{ID: f.node, Tag: "li", Attrs: attrs, Text: text, Visible: !f.Hidden, TabIndex: 0}
}

func (p *FakePage) saveButtonNode() page.Node {
	n := page.Node{
		ID:       saveButtonID,
		Tag:      "button",
		Attrs:    map[string]string{"type": "button", "class": "btn btn-primary"},
		Text:     "Save",
		Visible:  true,
		TabIndex: 0,
	}
	if p.DisableIdleSave {
		if f := p.file(p.active); f == nil || !f.Dirty {
			n.Disabled = true
			n.Attrs["aria-disabled"] = "true"
		}
	}
	return n
}

func (p *FakePage) Location(ctx context.Context) (page.Location, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("Location"); err != nil {
		return page.Location{}, err
	}
	return p.Loc, nil
}

func (p *FakePage) Scan(ctx context.Context, limit int) ([]page.ScanItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("Scan"); err != nil {
		return nil, err
	}

	var items []page.ScanItem
	for _, f := range p.files {
		item := p.itemNode(f)
		span := page.Node{ID: f.node + 1, Tag: "span", Text: p.label(f), Visible: !f.Hidden, TabIndex: -1}
		items = append(items, page.ScanItem{Element: item, Candidate: item}, page.ScanItem{Element: span, Candidate: item})
	}
	for _, el := range p.extras {
		candidate := el.Node
		if el.Candidate != nil {
			candidate = *el.Candidate
		}
		items = append(items, page.ScanItem{Element: el.Node, Candidate: candidate})
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (p *FakePage) ActiveNodes(ctx context.Context) ([]page.Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("ActiveNodes"); err != nil {
		return nil, err
	}
	if p.HideActive {
		return nil, nil
	}
	f := p.file(p.active)
	if f == nil {
		return nil, nil
	}
	return []page.Node{p.itemNode(f)}, nil
}

func (p *FakePage) Surfaces(ctx context.Context) (*page.Surfaces, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("Surfaces"); err != nil {
		return nil, err
	}

	s := &page.Surfaces{Instances: map[page.Kind][]page.Instance{}, Errors: map[page.Kind]string{}}
	shown := p.file(p.shown)
	if p.lag > 0 {
		p.lag--
	} else {
		p.shown = p.active
		shown = p.file(p.active)
	}

	if p.Widget != "" {
		inst := page.Instance{ID: editorID, Focused: true, Visible: true, Area: 640 * 480}
		if shown != nil {
			inst.Value = shown.Content
			inst.Names = []string{"/" + shown.Path}
		}
		s.Instances[p.Widget] = append(s.Instances[p.Widget], inst)
	}
	if p.ExposeModels {
		for _, f := range p.files {
			s.Instances[page.KindMonacoModel] = append(s.Instances[page.KindMonacoModel], page.Instance{
				ID:    f.model,
				Value: f.Content,
				Names: []string{"/" + f.Path, "inmemory://model/" + f.Path},
			})
		}
	}
	for kind, instances := range p.ExtraSurfaces {
		s.Instances[kind] = append(s.Instances[kind], instances...)
	}
	for kind, msg := range p.SurfaceErrors {
		delete(s.Instances, kind)
		s.Errors[kind] = msg
	}
	return s, nil
}

func (p *FakePage) SetValue(ctx context.Context, kind page.Kind, id page.NodeID, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("SetValue"); err != nil {
		return err
	}
	if err, ok := p.WriteErrors[kind]; ok {
		return err
	}
	if kind != p.Widget || id != editorID {
		return fmt.Errorf("%w: %s %d", page.ErrNodeGone, kind, id)
	}
	f := p.file(p.active)
	if f == nil {
		return fmt.Errorf("%w: editor has no model", page.ErrScript)
	}
	f.Content = text
	f.Dirty = true
	return nil
}

func (p *FakePage) Click(ctx context.Context, id page.NodeID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("Click"); err != nil {
		return err
	}
	return p.click(id)
}

func (p *FakePage) Activate(ctx context.Context, id page.NodeID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("Activate"); err != nil {
		return err
	}
	return p.click(id)
}

func (p *FakePage) click(id page.NodeID) error {
	if id == saveButtonID && p.SaveButton {
		if p.SaveButtonWorks {
			p.save()
		}
		return nil
	}
	for _, f := range p.files {
		if f.node == id || f.node+1 == id {
			p.switchTo(f)
			return nil
		}
	}
	for _, el := range p.extras {
		if el.Node.ID == id || (el.Candidate != nil && el.Candidate.ID == id) {
			if el.OnClick != nil {
				el.OnClick()
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %d", page.ErrNodeGone, id)
}

func (p *FakePage) switchTo(f *File) {
	if f.Path == p.active {
		return
	}
	if current := p.file(p.active); current != nil && current.Dirty && p.PromptOnDirtySwitch {
		if !p.confirm("You have unsaved changes. Leave this file?") {
			return
		}
		current.Dirty = false
	}
	p.active = f.Path
	p.lag = p.ReadLag
}

func (p *FakePage) confirm(message string) bool {
	lower := strings.ToLower(message)
	for _, phrase := range p.guard {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			p.blocked++
			return false
		}
	}
	return p.ConfirmAnswer
}

func (p *FakePage) save() {
	f := p.file(p.active)
	if f == nil {
		return
	}
	f.Dirty = false
	p.Saves = append(p.Saves, f.Path)
	if p.OnSave != nil {
		p.OnSave(p)
	}
}

func (p *FakePage) ScrollIntoView(ctx context.Context, id page.NodeID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.record("ScrollIntoView")
}

func (p *FakePage) DispatchShortcut(ctx context.Context, s page.Shortcut) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("DispatchShortcut"); err != nil {
		return err
	}
	p.Shortcuts = append(p.Shortcuts, s)
	if p.SaveOnShortcut && s.Key == "s" && (s.Ctrl || s.Meta) {
		if f := p.file(p.active); f != nil && f.Dirty {
			p.save()
		}
	}
	return nil
}

func (p *FakePage) SaveControls(ctx context.Context) ([]page.Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("SaveControls"); err != nil {
		return nil, err
	}
	if !p.SaveButton {
		return nil, nil
	}
	return []page.Node{p.saveButtonNode()}, nil
}

func (p *FakePage) Describe(ctx context.Context, ids []page.NodeID) ([]page.Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("Describe"); err != nil {
		return nil, err
	}
	var nodes []page.Node
	for _, id := range ids {
		if id == saveButtonID && p.SaveButton {
			nodes = append(nodes, p.saveButtonNode())
			continue
		}
		for _, f := range p.files {
			if f.node == id {
				nodes = append(nodes, p.itemNode(f))
			}
		}
	}
	return nodes, nil
}

func (p *FakePage) InstallConfirmGuard(ctx context.Context, phrases []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("InstallConfirmGuard"); err != nil {
		return err
	}
	p.guard = append([]string{}, phrases...)
	p.blocked = 0
	p.GuardInstall++
	return nil
}

func (p *FakePage) BlockedPrompts(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("BlockedPrompts"); err != nil {
		return 0, err
	}
	return p.blocked, nil
}

func (p *FakePage) RestoreConfirm(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("RestoreConfirm"); err != nil {
		return err
	}
	p.guard = nil
	p.GuardRestore++
	return nil
}

// FakeTab is a tab made of fake frames, top frame first.
type FakeTab struct {
	Pages []page.Page
	Err   error
}

var _ page.Tab = (*FakeTab)(nil)

func (t *FakeTab) Frames(ctx context.Context) ([]page.Page, error) {
	if t.Err != nil {
		return nil, t.Err
	}
	return t.Pages, nil
}

func (t *FakeTab) Top(ctx context.Context) (page.Page, error) {
	if t.Err != nil {
		return nil, t.Err
	}
	if len(t.Pages) == 0 {
		return nil, fmt.Errorf("tab has no frames")
	}
	return t.Pages[0], nil
}
