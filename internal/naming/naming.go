// Package naming builds destination file paths from item metadata:
// sanitized, accent-folded, deterministic, and collision-safe.
package naming

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// illegalChars are characters not allowed in filenames on common filesystems.
var illegalChars = regexp.MustCompile(`[<>:"/\\|?*\x00]`)

// multiSpace matches multiple consecutive spaces.
var multiSpace = regexp.MustCompile(`\s+`)

// Sanitize removes or replaces characters that are unsafe for filenames
// and folds accented characters to their base form. Empty results fall
// back to "untitled".
func Sanitize(name string) string {
	name = strings.ReplaceAll(name, "\x00", "")
	name = foldAccents(name)
	name = illegalChars.ReplaceAllString(name, " ")
	name = multiSpace.ReplaceAllString(name, " ")
	name = strings.Trim(name, " .")
	if name == "" {
		return "untitled"
	}
	return name
}

func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return result
}

// ItemPath builds the destination path for an item. Collection members
// land in a subdirectory named after the collection with an ordinal
// prefix for stable ordering; standalone items go directly into dest.
func ItemPath(dest, collectionTitle, itemTitle string, ordinal int, ext string) string {
	name := Sanitize(itemTitle)
	if collectionTitle != "" {
		file := fmt.Sprintf("%03d - %s.%s", ordinal, name, ext)
		return filepath.Join(dest, Sanitize(collectionTitle), file)
	}
	return filepath.Join(dest, name+"."+ext)
}

// EnsureUnique returns path if nothing exists there, otherwise the first
// "name (n).ext" variant that is free.
func EnsureUnique(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, n, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// ValidatePath ensures path stays within root after cleaning, guarding
// against traversal via hostile titles.
func ValidatePath(path, root string) error {
	cleanPath := filepath.Clean(path)
	cleanRoot := filepath.Clean(root)
	if !strings.HasSuffix(cleanRoot, string(filepath.Separator)) {
		cleanRoot += string(filepath.Separator)
	}
	if cleanPath != filepath.Clean(root) && !strings.HasPrefix(cleanPath, cleanRoot) {
		return fmt.Errorf("path %q escapes destination root", path)
	}
	return nil
}
