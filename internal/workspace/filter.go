// Package workspace reads template files from a local directory and watches
// it for changes.
package workspace

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
	"github.com/kernel/tplsync/internal/pathname"
)

type pattern struct {
	source string
	glob   glob.Glob
	// baseOnly patterns have no separator and match the base name.
	baseOnly bool
}

// Filter selects template paths by include and exclude globs. A nil or empty
// Filter matches every path.
type Filter struct {
	include []pattern
	exclude []pattern
}

// NewFilter compiles include and exclude patterns with "/" as separator.
// Patterns without a "/" match the base name.
func NewFilter(include, exclude []string) (*Filter, error) {
	in, err := compile(include)
	if err != nil {
		return nil, err
	}
	ex, err := compile(exclude)
	if err != nil {
		return nil, err
	}
	return &Filter{include: in, exclude: ex}, nil
}

func compile(sources []string) ([]pattern, error) {
	var out []pattern
	for _, src := range sources {
		src = strings.TrimSpace(src)
		if src == "" {
			continue
		}
		g, err := glob.Compile(src, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", src, err)
		}
		out = append(out, pattern{source: src, glob: g, baseOnly: !strings.Contains(src, "/")})
	}
	return out, nil
}

func (p pattern) match(path string) bool {
	if p.baseOnly {
		return p.glob.Match(pathname.BaseName(path))
	}
	return p.glob.Match(path)
}

// Match reports whether path is included and not excluded.
func (f *Filter) Match(path string) bool {
	if f == nil {
		return true
	}
	path = pathname.Normalize(path)
	for _, p := range f.exclude {
		if p.match(path) {
			return false
		}
	}
	if len(f.include) == 0 {
		return true
	}
	for _, p := range f.include {
		if p.match(path) {
			return true
		}
	}
	return false
}

// Apply returns the entries of files whose paths match.
func (f *Filter) Apply(files map[string]string) map[string]string {
	out := make(map[string]string, len(files))
	for name, content := range files {
		if f.Match(name) {
			out[name] = content
		}
	}
	return out
}

func (f *Filter) String() string {
	if f == nil {
		return "*"
	}
	var parts []string
	for _, p := range f.include {
		parts = append(parts, "+"+p.source)
	}
	for _, p := range f.exclude {
		parts = append(parts, "-"+p.source)
	}
	if len(parts) == 0 {
		return "*"
	}
	return strings.Join(parts, " ")
}
