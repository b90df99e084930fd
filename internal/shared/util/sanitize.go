package util

import (
	"strings"
	"unicode"
)

const maxFileNameLen = 255

// SanitizeFileName keeps only the last path element of name, drops control
// characters and caps the length. It returns "" when nothing usable remains.
func SanitizeFileName(name string) string {
	s := strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if s == "." || s == ".." {
		return ""
	}
	return truncateRunes(s, maxFileNameLen)
}

// truncateRunes cuts s to at most max bytes on a rune boundary.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if i > max {
			break
		}
		n = i
	}
	return s[:n]
}
