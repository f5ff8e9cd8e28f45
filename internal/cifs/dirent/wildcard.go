// Package dirent implements the page-buffered FIND_FIRST/FIND_NEXT
// directory-enumeration engine: five info-level encoders, 8-byte-aligned
// variable-length records, and a resumable dirent cursor.
package dirent

import (
	"path/filepath"
	"strings"
)

// MatchesPattern reports whether name matches an SMB search pattern
// case-insensitively. An empty pattern or "*" matches every name.
func MatchesPattern(name, pattern string) bool {
	if pattern == "" || pattern == "*" || pattern == "*.*" {
		return true
	}

	nameLower := strings.ToLower(name)
	patternLower := strings.ToLower(pattern)

	matched, err := filepath.Match(patternLower, nameLower)
	if err != nil {
		return nameLower == patternLower
	}
	return matched
}
