// Package utils parses the numeric query parameters shared by the list and
// sweep endpoints and turns page numbers into row windows.
package utils

import (
	"strconv"
	"strings"
)

// Page size bounds shared by every list endpoint.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// AtoiDefault parses s as a base-10 int, ignoring surrounding space. Empty
// or malformed input returns def.
func AtoiDefault(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// AtoiClamp is AtoiDefault bounded to [lo, hi]. Inverted bounds disable
// the clamp.
//
//	utils.AtoiClamp("0", 20, 1, 100)   // 1
//	utils.AtoiClamp("500", 20, 1, 100) // 100
func AtoiClamp(s string, def, lo, hi int) int {
	n := AtoiDefault(s, def)
	if hi < lo {
		return n
	}
	return min(max(n, lo), hi)
}

// Page is a 1-based page number and a page size.
type Page struct {
	Number int
	Size   int
}

// ParsePage reads page and page_size query values.
func ParsePage(number, size string) Page {
	return Page{Number: AtoiDefault(number, 1), Size: AtoiDefault(size, DefaultPageSize)}.Normalize()
}

// Normalize moves Number to at least 1 and Size into [1, MaxPageSize];
// a non-positive Size becomes DefaultPageSize.
func (p Page) Normalize() Page {
	p.Number = max(p.Number, 1)
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	p.Size = min(p.Size, MaxPageSize)
	return p
}

// Offset is the number of rows before the page.
func (p Page) Offset() int { return (p.Number - 1) * p.Size }

// Pages is the number of pages needed for total rows.
func (p Page) Pages(total int64) int {
	if total <= 0 || p.Size <= 0 {
		return 0
	}
	return int((total + int64(p.Size) - 1) / int64(p.Size))
}

// HasNext reports whether rows remain after this page.
func (p Page) HasNext(total int64) bool { return p.Number < p.Pages(total) }
