// Package nodeindex maps template file paths to the page elements that open
// them, and resolves a requested path to exactly one element or a typed
// reason why it cannot.
package nodeindex

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/kernel/tplsync/internal/page"
	"github.com/kernel/tplsync/internal/pathname"
	"github.com/kernel/tplsync/internal/tuning"
	"github.com/samber/lo"
)

// MatchType classifies how a target was resolved.
type MatchType string

const (
	MatchExact           MatchType = "exact"
	MatchExactCI         MatchType = "exact-ci"
	MatchSuffix          MatchType = "suffix"
	MatchReverseSuffix   MatchType = "reverse-suffix"
	MatchBaseUnique      MatchType = "basename-unique"
	MatchBaseDir         MatchType = "basename-dir"
	MatchAmbiguousSuffix MatchType = "ambiguous-suffix"
	MatchAmbiguousBase   MatchType = "ambiguous-base"
	MatchAmbiguousDir    MatchType = "ambiguous-dir"
	MatchDirMismatch     MatchType = "dir-mismatch"
	MatchMissing         MatchType = "missing"
)

// Entry associates a path with the node believed to open it.
type Entry struct {
	Path      string
	PathLower string
	DirLower  string
	Node      page.Node
	Score     int
}

// Match is the outcome of Resolve. Node is nil unless the match is usable.
type Match struct {
	Node   *page.Node `json:"-"`
	Path   string     `json:"path,omitempty"`
	Type   MatchType  `json:"matchType"`
	Reason string     `json:"reason,omitempty"`
}

// OK reports whether the match selected a node.
func (m Match) OK() bool {
	return m.Node != nil
}

// Index is one scan of the page.
type Index struct {
	Exact map[string]*Entry
	Lower map[string]*Entry
	// Base holds every distinct (path, node) pair by lowercased base name.
	Base map[string][]*Entry
	// Detected lists every accepted path in first-seen order.
	Detected []string

	order []string
}

// identityAttrs are read, in order, for file names.
var identityAttrs = []string{"data-filename", "data-file", "data-path", "data-name", "title", "aria-label"}

var hintClass = regexp.MustCompile(`file|template|editor|tree|sidebar|list-item`)

var whitespace = regexp.MustCompile(`\s+`)

// IsProbablyClickable reports whether n reacts to clicks.
func IsProbablyClickable(n page.Node) bool {
	switch strings.ToLower(n.Tag) {
	case "button", "a":
		return true
	}
	switch n.Role() {
	case "tab", "treeitem", "menuitem", "option":
		return true
	}
	return n.HasOnClick || n.TabIndex >= 0
}

// HasFileNodeHints reports whether n looks like an entry of a file list.
func HasFileNodeHints(n page.Node) bool {
	for _, attr := range identityAttrs[:4] {
		if n.HasAttr(attr) {
			return true
		}
	}
	switch n.Role() {
	case "tab", "treeitem", "option":
		return true
	}
	return hintClass.MatchString(strings.ToLower(n.Class()))
}

// NamesOf returns the template paths named by n's identity attributes and
// text, in that order.
func NamesOf(n page.Node) []string {
	parts := make([]string, 0, len(identityAttrs)+1)
	for _, attr := range identityAttrs {
		if v := n.Attr(attr); v != "" {
			parts = append(parts, v)
		}
	}
	if n.Text != "" {
		parts = append(parts, n.Text)
	}
	return pathname.FindFileNames(strings.Join(parts, " "))
}

// qualifiedNames drops bare base names that another name from the same node
// already qualifies with a directory, so a tree item labelled "tiered.html"
// with data-path "category/tiered.html" does not also claim "tiered.html".
func qualifiedNames(names []string) []string {
	names = lo.Uniq(names)
	return lo.Filter(names, func(name string, _ int) bool {
		if strings.Contains(name, "/") {
			return true
		}
		return !lo.ContainsBy(names, func(other string) bool {
			return other != name && pathname.StrictMatch(name, other)
		})
	})
}

// Build scans p and indexes every file node.
func Build(ctx context.Context, p page.Page, t tuning.Tuning) (*Index, error) {
	items, err := p.Scan(ctx, t.MaxScanElements)
	if err != nil {
		return nil, fmt.Errorf("failed to scan file nodes: %w", err)
	}
	return FromScan(items, t.NodeScore), nil
}

// FromScan indexes an existing scan.
func FromScan(items []page.ScanItem, w tuning.NodeScore) *Index {
	idx := &Index{
		Exact: make(map[string]*Entry),
		Lower: make(map[string]*Entry),
		Base:  make(map[string][]*Entry),
	}
	detected := make(map[string]struct{})

	for _, item := range items {
		el, candidate := item.Element, item.Candidate
		if !IsProbablyClickable(candidate) {
			continue
		}
		if !HasFileNodeHints(el) && !HasFileNodeHints(candidate) {
			continue
		}
		names := qualifiedNames(append(NamesOf(el), NamesOf(candidate)...))
		if len(names) == 0 {
			continue
		}

		label := strings.ToLower(strings.Join(lo.Compact([]string{
			candidate.Text, candidate.Attr("title"), candidate.Attr("aria-label"),
			el.Text, el.Attr("title"), el.Attr("aria-label"),
		}), " "))
		labelLength := len([]rune(strings.TrimSpace(whitespace.ReplaceAllString(label, " "))))

		for _, name := range names {
			if _, ok := detected[name]; !ok {
				detected[name] = struct{}{}
				idx.Detected = append(idx.Detected, name)
			}
			idx.add(name, candidate, score(name, candidate, label, labelLength, w))
		}
	}
	return idx
}

func score(path string, candidate page.Node, label string, labelLength int, w tuning.NodeScore) int {
	lower := strings.ToLower(path)
	s := 0
	if candidate.Visible {
		s += w.Visible
	}
	if strings.Contains(label, lower) {
		s += w.FullPathInLabel
	}
	if strings.Contains(label, strings.ToLower(pathname.BaseName(lower))) {
		s += w.BaseNameInLabel
	}
	if candidate.Attr("aria-selected") == "true" {
		s += w.AriaSelected
	}
	s += max(0, w.ShortLabelBonus-min(w.ShortLabelBonus, labelLength))
	return s
}

func (idx *Index) add(path string, node page.Node, score int) {
	lower := strings.ToLower(path)
	entry := &Entry{
		Path:      path,
		PathLower: lower,
		DirLower:  pathname.ParentDir(lower),
		Node:      node,
		Score:     score,
	}

	if current, ok := idx.Exact[path]; !ok {
		idx.Exact[path] = entry
		idx.order = append(idx.order, path)
	} else if score > current.Score {
		idx.Exact[path] = entry
	}
	if current, ok := idx.Lower[lower]; !ok || score > current.Score {
		idx.Lower[lower] = entry
	}

	base := strings.ToLower(pathname.BaseName(lower))
	for _, existing := range idx.Base[base] {
		if existing.PathLower == lower && existing.Node.ID == node.ID {
			existing.Score = max(existing.Score, score)
			return
		}
	}
	idx.Base[base] = append(idx.Base[base], entry)
}

// Resolve maps target to a node. Ambiguous targets never select one.
func (idx *Index) Resolve(target string) Match {
	return idx.resolve(target, false)
}

// ResolveLoose is Resolve plus a reverse suffix step: a nested target such
// as "category/tiered.html" also resolves to a single flat entry
// "tiered.html". Extraction uses it since reading the wrong file is caught by
// the content checks; uploads stay on Resolve.
func (idx *Index) ResolveLoose(target string) Match {
	return idx.resolve(target, true)
}

func (idx *Index) resolve(target string, reverse bool) Match {
	normalized := pathname.Normalize(target)
	lower := strings.ToLower(normalized)
	dir := pathname.ParentDir(lower)
	base := strings.ToLower(pathname.BaseName(lower))

	if e, ok := idx.Exact[normalized]; ok {
		return found(e, MatchExact)
	}
	if e, ok := idx.Lower[lower]; ok {
		return found(e, MatchExactCI)
	}

	var suffix []*Entry
	for _, path := range idx.order {
		e := idx.Exact[path]
		if pathname.StrictMatch(lower, e.PathLower) {
			suffix = append(suffix, e)
		}
	}
	if groups := byPath(suffix); len(groups) == 1 {
		return found(groups[0], MatchSuffix)
	} else if len(groups) > 1 {
		return Match{
			Type:   MatchAmbiguousSuffix,
			Reason: fmt.Sprintf("Ambiguous path match for %s. Multiple directories matched.", normalized),
		}
	}

	if reverse {
		var parents []*Entry
		for _, path := range idx.order {
			e := idx.Exact[path]
			if strings.HasSuffix(lower, "/"+e.PathLower) {
				parents = append(parents, e)
			}
		}
		if groups := byPath(parents); len(groups) == 1 {
			return found(groups[0], MatchReverseSuffix)
		} else if len(groups) > 1 {
			return Match{
				Type:   MatchAmbiguousSuffix,
				Reason: fmt.Sprintf("Ambiguous path match for %s. Multiple shorter paths matched.", normalized),
			}
		}
	}

	candidates := byPath(idx.Base[base])
	switch {
	case len(candidates) == 1:
		only := candidates[0]
		if dir == "" || only.DirLower == dir {
			return found(only, MatchBaseUnique)
		}
		return Match{
			Type:   MatchDirMismatch,
			Reason: fmt.Sprintf("Directory mismatch for %s. Found %s.", normalized, only.Path),
		}
	case len(candidates) > 1:
		sameDir := lo.Filter(candidates, func(e *Entry, _ int) bool { return e.DirLower == dir })
		switch len(sameDir) {
		case 1:
			return found(sameDir[0], MatchBaseDir)
		case 0:
			return Match{
				Type:   MatchAmbiguousBase,
				Reason: fmt.Sprintf("Ambiguous filename for %s. Multiple directories contain %s.", normalized, base),
			}
		default:
			return Match{
				Type:   MatchAmbiguousDir,
				Reason: fmt.Sprintf("Ambiguous file in directory for %s.", normalized),
			}
		}
	}

	return Match{
		Type:   MatchMissing,
		Reason: fmt.Sprintf("No matching file entry found for %s.", normalized),
	}
}

// FindNodeForFile returns the resolved node, or nil.
func (idx *Index) FindNodeForFile(target string) *page.Node {
	return idx.Resolve(target).Node
}

// UniqueBase reports whether exactly one indexed path has base name base.
func (idx *Index) UniqueBase(base string) bool {
	return len(byPath(idx.Base[strings.ToLower(base)])) == 1
}

// ActiveNameMatches reports whether the active file name denotes target: a
// strict path match in either direction, or the same base name when that
// base name is unique in the index.
func (idx *Index) ActiveNameMatches(active, target string) bool {
	if active == "" {
		return false
	}
	if pathname.StrictMatch(target, active) || pathname.StrictMatch(active, target) {
		return true
	}
	activeBase := strings.ToLower(pathname.BaseName(active))
	if activeBase != strings.ToLower(pathname.BaseName(target)) {
		return false
	}
	return idx.UniqueBase(activeBase)
}

// byPath keeps the highest-scoring entry of each distinct lowercased path, in
// first-seen order.
func byPath(entries []*Entry) []*Entry {
	var out []*Entry
	index := make(map[string]int)
	for _, e := range entries {
		if i, ok := index[e.PathLower]; ok {
			if e.Score > out[i].Score {
				out[i] = e
			}
			continue
		}
		index[e.PathLower] = len(out)
		out = append(out, e)
	}
	return out
}

func found(e *Entry, t MatchType) Match {
	node := e.Node
	return Match{Node: &node, Path: e.Path, Type: t}
}

// ActiveFileName returns the first file name carried by an active-state
// node, or "" when none names a file.
func ActiveFileName(nodes []page.Node) string {
	for _, n := range nodes {
		if names := NamesOf(n); len(names) > 0 {
			return names[0]
		}
	}
	return ""
}

var (
	unsavedWord = regexp.MustCompile(`\bunsaved\b`)
	dirtyWord   = regexp.MustCompile(`\bdirty\b`)
)

// LooksDirty inspects the first active node for an unsaved-changes marker.
// It returns nil when there is no active node to inspect.
func LooksDirty(nodes []page.Node) *bool {
	if len(nodes) == 0 {
		return nil
	}
	n := nodes[0]
	label := strings.Join(lo.Compact([]string{n.Text, n.Attr("title"), n.Attr("aria-label"), n.Class()}), " ")
	if label == "" {
		return nil
	}
	lower := strings.ToLower(label)
	dirty := strings.Contains(label, "*") || unsavedWord.MatchString(lower) || dirtyWord.MatchString(lower)
	return &dirty
}
