package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/boyter/gocodewalker"
	"github.com/kernel/tplsync/internal/pathname"
)

// ExcludeDirectories are never walked.
var ExcludeDirectories = []string{"node_modules", ".git", "__MACOSX"}

// Collect reads every template under dir that passes filter, keyed by its
// slash-separated path relative to dir. Ignore files (.gitignore, .ignore)
// are respected.
func Collect(dir string, filter *Filter) (map[string]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to access %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	fileQueue := make(chan *gocodewalker.File, 256)
	walker := gocodewalker.NewFileWalker(dir, fileQueue)
	walker.AllowListExtensions = append([]string(nil), pathname.Extensions...)
	walker.ExcludeDirectory = append(walker.ExcludeDirectory, ExcludeDirectories...)

	errChan := make(chan error, 1)
	go func() {
		errChan <- walker.Start()
	}()

	files := make(map[string]string)
	var readErr error
	for f := range fileQueue {
		if readErr != nil {
			continue
		}
		rel, ok := relativeTemplate(dir, f.Location, filter)
		if !ok {
			continue
		}
		data, err := os.ReadFile(f.Location)
		if err != nil {
			readErr = fmt.Errorf("failed to read %s: %w", f.Location, err)
			continue
		}
		files[rel] = pathname.NormalizeContent(string(data))
	}

	if err := <-errChan; err != nil {
		return nil, fmt.Errorf("directory walk failed: %w", err)
	}
	if readErr != nil {
		return nil, readErr
	}
	return files, nil
}

// relativeTemplate maps an absolute location under dir to its template path.
func relativeTemplate(dir, location string, filter *Filter) (string, bool) {
	rel, err := filepath.Rel(dir, location)
	if err != nil {
		return "", false
	}
	rel = pathname.Normalize(filepath.ToSlash(rel))
	if !pathname.IsSupported(rel) || !filter.Match(rel) {
		return "", false
	}
	return rel, true
}
