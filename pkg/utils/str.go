package utils

import "strings"

// SplitByMultipleDelimiters splits s on any of the given delimiters, trimming
// blanks and dropping empty parts
func SplitByMultipleDelimiters(s string, delimiters ...string) []string {
	if len(delimiters) == 0 {
		return []string{s}
	}
	parts := strings.FieldsFunc(s, func(r rune) bool {
		for _, d := range delimiters {
			if strings.ContainsRune(d, r) {
				return true
			}
		}
		return false
	})
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// FirstNonEmpty returns the first non-empty string
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// SafeTruncate returns at most n leading bytes of s, for logging credential prefixes
func SafeTruncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	return s[:n]
}
