package pages

import (
	"path/filepath"
	"strings"
	"unicode"
)

// NaturalLess compares strings naturally (so "page2" < "page10"). Digit
// runs are compared by value, everything else byte-wise.
func NaturalLess(a, b string) bool {
	for len(a) > 0 && len(b) > 0 {
		if isDigit(a[0]) && isDigit(b[0]) {
			aNum, aRest := takeNumber(a)
			bNum, bRest := takeNumber(b)
			if aNum != bNum {
				return lessNumeric(aNum, bNum)
			}
			a, b = aRest, bRest
			continue
		}
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		a, b = a[1:], b[1:]
	}
	return len(a) < len(b)
}

// pageLess orders final page names, giving names whose base name starts
// with punctuation priority over everything else. Archive entries can
// carry a directory prefix, so the priority check keys on the base name.
func pageLess(a, b string) bool {
	aPunct := startsWithPunct(filepath.Base(a))
	bPunct := startsWithPunct(filepath.Base(b))
	if aPunct != bPunct {
		return aPunct
	}
	return NaturalLess(a, b)
}

func startsWithPunct(s string) bool {
	for _, r := range s {
		return unicode.IsPunct(r) || unicode.IsSymbol(r)
	}
	return false
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func takeNumber(s string) (string, string) {
	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	return s[:i], s[i:]
}

// lessNumeric compares two digit strings by value without overflowing on
// long runs: compare zero-stripped lengths first, then lexically.
func lessNumeric(a, b string) bool {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
