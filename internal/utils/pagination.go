// Package utils provides small helpers shared by the HTTP layer. They carry
// no domain logic.
package utils

import "strconv"

// AtoiDefault parses s as an int, returning def when s is empty or invalid.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ClampPage parses raw page and page size values and bounds them:
// page >= 1 and 1 <= size <= maxSize, with defSize when size is missing.
func ClampPage(rawPage, rawSize string, defSize, maxSize int) (page, size int) {
	page = AtoiDefault(rawPage, 1)
	if page < 1 {
		page = 1
	}
	size = AtoiDefault(rawSize, defSize)
	if size < 1 {
		size = 1
	}
	if size > maxSize {
		size = maxSize
	}
	return page, size
}

// TotalPages returns how many pages of size hold total items.
func TotalPages(total int64, size int) int {
	if size <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(size) - 1) / int64(size))
}
