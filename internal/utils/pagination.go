// Package utils holds small helpers shared by the HTTP layer.
package utils

import (
	"strconv"
	"strings"
)

// Bounded parses s as an int and clamps it to [lo, hi]. Empty or malformed
// input yields def, which is clamped as well. hi <= 0 means no upper bound.
func Bounded(s string, def, lo, hi int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		n = def
	}
	if n < lo {
		n = lo
	}
	if hi > 0 && n > hi {
		n = hi
	}
	return n
}

// PageWindow returns the row offset of page and the number of pages needed
// for total rows. page is 1-based; size must be positive.
func PageWindow(page, size int, total int64) (offset, pages int) {
	offset = (page - 1) * size
	pages = int((total + int64(size) - 1) / int64(size))
	return offset, pages
}
