// Package pathname canonicalizes template file paths and classifies which
// strings look like files of the host editor.
package pathname

import (
	"regexp"
	"strings"

	"github.com/samber/lo"
)

// Extensions lists the supported template file extensions.
var Extensions = []string{"html", "twig", "js", "css"}

var (
	templatePattern = regexp.MustCompile(`(?i)\.(html|twig|js|css)$`)
	schemePattern   = regexp.MustCompile(`(?i)^(https?:|chrome:|file:|data:|blob:)`)
	fileNamePattern = regexp.MustCompile(`(?i)[A-Za-z0-9_./-]+\.(?:html|twig|js|css)\b`)
	repeatedSlashes = regexp.MustCompile(`/{2,}`)
)

// Normalize replaces backslashes, collapses repeated slashes, strips leading
// slashes and trims whitespace. Steps repeat until the value is stable, so
// Normalize(Normalize(p)) == Normalize(p).
func Normalize(path string) string {
	current := path
	for {
		next := normalizeOnce(current)
		if next == current {
			return next
		}
		current = next
	}
}

func normalizeOnce(path string) string {
	p := strings.TrimSpace(path)
	p = strings.ReplaceAll(p, `\`, "/")
	p = repeatedSlashes.ReplaceAllString(p, "/")
	p = strings.TrimLeft(p, "/")
	return strings.TrimSpace(p)
}

// IsTemplatePath reports whether path ends in a supported extension.
func IsTemplatePath(path string) bool {
	return templatePattern.MatchString(path)
}

// IsLikelyEditorFilePath rejects URLs, protocol-relative references and
// paths whose first segment looks like a foreign file name (for example
// "example.com/foo.html").
func IsLikelyEditorFilePath(path string) bool {
	raw := strings.TrimSpace(strings.ReplaceAll(path, `\`, "/"))
	if strings.HasPrefix(raw, "//") || strings.Contains(raw, "://") {
		return false
	}

	normalized := Normalize(raw)
	if i := strings.IndexAny(normalized, "?#"); i >= 0 {
		normalized = normalized[:i]
	}
	if normalized == "" {
		return false
	}
	if schemePattern.MatchString(normalized) {
		return false
	}
	if lo.Contains(strings.Split(normalized, "/"), "..") {
		return false
	}

	first, _, hasDir := strings.Cut(normalized, "/")
	if hasDir && strings.Contains(first, ".") && !IsTemplatePath(first) {
		return false
	}
	return true
}

// IsSupported is the combined filter applied to every candidate path.
func IsSupported(path string) bool {
	return IsTemplatePath(path) && IsLikelyEditorFilePath(path)
}

// FindFileNames returns the unique template paths mentioned in raw, in the
// order they first appear.
func FindFileNames(raw string) []string {
	if raw == "" {
		return nil
	}

	var names []string
	seen := make(map[string]struct{})
	for _, loc := range fileNamePattern.FindAllStringIndex(raw, -1) {
		if continuesName(raw[loc[1]:]) {
			continue
		}
		cleaned := Normalize(raw[loc[0]:loc[1]])
		if !IsSupported(cleaned) {
			continue
		}
		if _, ok := seen[cleaned]; ok {
			continue
		}
		seen[cleaned] = struct{}{}
		names = append(names, cleaned)
	}
	return names
}

// continuesName reports whether rest extends the preceding file name, as in
// "header.twig.bak" or "main.js-old". A trailing "." ends a sentence.
func continuesName(rest string) bool {
	if rest == "" {
		return false
	}
	if isNameChar(rest[0]) || rest[0] == '-' {
		return true
	}
	return rest[0] == '.' && len(rest) > 1 && isNameChar(rest[1])
}

func isNameChar(c byte) bool {
	return c == '_' || ('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

// BaseName returns the final path segment.
func BaseName(path string) string {
	normalized := Normalize(path)
	if i := strings.LastIndex(normalized, "/"); i >= 0 && i < len(normalized)-1 {
		return normalized[i+1:]
	}
	return normalized
}

// ParentDir returns the lowercased directory part of path, or "" for a bare
// file name.
func ParentDir(path string) string {
	normalized := strings.ToLower(Normalize(path))
	i := strings.LastIndex(normalized, "/")
	if i < 0 {
		return ""
	}
	return normalized[:i]
}

// StrictMatch reports whether candidate names the same file as target, either
// exactly or as a deeper path ending in "/"+target. Case-insensitive.
func StrictMatch(target, candidate string) bool {
	t := strings.ToLower(Normalize(target))
	c := strings.ToLower(Normalize(candidate))
	if t == "" || c == "" {
		return false
	}
	return t == c || strings.HasSuffix(c, "/"+t)
}

// SameFileName is the loose comparison used for active-file indicators:
// equal paths, a suffix match in either direction, or equal base names.
func SameFileName(a, b string) bool {
	left := strings.ToLower(Normalize(a))
	right := strings.ToLower(Normalize(b))
	if left == "" || right == "" {
		return false
	}
	if left == right {
		return true
	}
	if strings.HasSuffix(left, "/"+right) || strings.HasSuffix(right, "/"+left) {
		return true
	}
	return BaseName(left) == BaseName(right)
}

// NormalizeContent converts CRLF and lone CR line endings to LF.
func NormalizeContent(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	return strings.ReplaceAll(content, "\r", "\n")
}
