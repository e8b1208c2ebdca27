// Package archive packs extracted templates into a zip file with an export
// report, and reads template files back out of such archives.
package archive

import (
	"archive/zip"
	"compress/flate"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/kernel/tplsync/internal/pathname"
	"github.com/samber/lo"
)

// ReportName is the archive entry holding the export report.
const ReportName = "_tebex_export_report.json"

// FormatVersion is written into every report. Archives whose report carries
// a different major version are rejected.
const FormatVersion = "1.0.0"

const macOSMetadata = "__MACOSX/"

var (
	// ErrNoTemplates is returned when an archive holds no importable file.
	ErrNoTemplates = errors.New("no .html/.twig/.js/.css files found in zip")
	// ErrUnsupportedFormat is returned for reports of another major version.
	ErrUnsupportedFormat = errors.New("unsupported export format version")
)

// Report describes one export.
type Report struct {
	FormatVersion      string    `json:"formatVersion"`
	ExportedAt         time.Time `json:"exportedAt"`
	ExtractedFileCount int       `json:"extractedFileCount"`
	DetectedFileCount  int       `json:"detectedFileCount"`
	MissingFiles       []string  `json:"missingFiles"`
	SourcePage         string    `json:"sourcePage"`
}

// FileName returns the archive name for an export made at t.
func FileName(t time.Time) string {
	return fmt.Sprintf("tebex-templates-%s.zip", t.Format("2006-01-02"))
}

// Write stores files, sorted by name, followed by the report. Names that
// normalize to the same entry are written once, the first in sorted order
// winning. Missing report fields are derived from the entries written.
func Write(w io.Writer, files map[string]string, report Report) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, 6)
	})

	names := lo.Keys(files)
	sort.Strings(names)
	modified := report.ExportedAt
	if modified.IsZero() {
		modified = time.Now()
	}

	written := make(map[string]struct{}, len(names))
	for _, name := range names {
		entry := pathname.Normalize(name)
		if entry == "" {
			continue
		}
		if _, ok := written[entry]; ok {
			continue
		}
		written[entry] = struct{}{}
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: entry, Method: zip.Deflate, Modified: modified})
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", entry, err)
		}
		if _, err := io.WriteString(fw, pathname.NormalizeContent(files[name])); err != nil {
			return fmt.Errorf("failed to write %s: %w", entry, err)
		}
	}

	report.FormatVersion = FormatVersion
	report.ExportedAt = modified.UTC()
	report.ExtractedFileCount = len(written)
	if report.DetectedFileCount == 0 {
		report.DetectedFileCount = len(written)
	}
	if report.MissingFiles == nil {
		report.MissingFiles = []string{}
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode export report: %w", err)
	}
	fw, err := zw.CreateHeader(&zip.FileHeader{Name: ReportName, Method: zip.Deflate, Modified: modified})
	if err != nil {
		return fmt.Errorf("failed to add export report: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("failed to write export report: %w", err)
	}
	return zw.Close()
}

// Read returns every importable template in the archive keyed by normalized
// path, and the export report when one is present.
func Read(r io.ReaderAt, size int64) (map[string]string, *Report, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open zip: %w", err)
	}

	files := make(map[string]string)
	var report *Report
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := pathname.Normalize(f.Name)
		switch {
		case name == "":
			continue
		case strings.HasPrefix(name, macOSMetadata):
			continue
		case name == ReportName:
			if report, err = readReport(f); err != nil {
				return nil, nil, err
			}
			continue
		case !pathname.IsSupported(name):
			continue
		}
		content, err := readEntry(f)
		if err != nil {
			return nil, nil, err
		}
		files[name] = pathname.NormalizeContent(content)
	}

	if len(files) == 0 {
		return nil, report, ErrNoTemplates
	}
	return StripSharedRoot(files), report, nil
}

func readEntry(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", f.Name, err)
	}
	return string(data), nil
}

func readReport(f *zip.File) (*Report, error) {
	data, err := readEntry(f)
	if err != nil {
		return nil, err
	}
	var report Report
	if err := json.Unmarshal([]byte(data), &report); err != nil {
		return nil, fmt.Errorf("failed to parse export report: %w", err)
	}
	if err := CheckVersion(report.FormatVersion); err != nil {
		return nil, err
	}
	return &report, nil
}

// CheckVersion accepts reports without a version and reports sharing the
// major version of FormatVersion.
func CheckVersion(version string) error {
	if version == "" {
		return nil
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, version)
	}
	current := semver.MustParse(FormatVersion)
	if v.Major() != current.Major() {
		return fmt.Errorf("%w: %s (expected %d.x)", ErrUnsupportedFormat, v, current.Major())
	}
	return nil
}

// StripSharedRoot removes a folder that every path lives under, so archives
// zipped from a parent directory import cleanly.
func StripSharedRoot(files map[string]string) map[string]string {
	names := lo.Keys(files)
	if len(names) == 0 {
		return files
	}
	roots := lo.Uniq(lo.Map(names, func(name string, _ int) string {
		return strings.SplitN(name, "/", 2)[0]
	}))
	if len(roots) != 1 {
		return files
	}
	root := roots[0]
	if root == "" || pathname.IsSupported(root) {
		return files
	}
	prefix := root + "/"
	if !lo.EveryBy(names, func(name string) bool { return strings.HasPrefix(name, prefix) }) {
		return files
	}
	stripped := make(map[string]string, len(files))
	for name, content := range files {
		stripped[strings.TrimPrefix(name, prefix)] = content
	}
	return stripped
}
