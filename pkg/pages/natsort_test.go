package pages

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNaturalLess(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		expected bool
	}{
		{"numeric before longer numeric", "page2", "page10", true},
		{"numeric reversed", "page10", "page2", false},
		{"equal strings", "page2", "page2", false},
		{"zero padding compares by value", "page002", "page10", true},
		{"same value different padding", "page02", "page2", false},
		{"prefix is less", "page", "page2", true},
		{"plain lexical", "apple", "banana", true},
		{"digits against letters", "1page", "apage", true},
		{"multiple digit runs", "v1c10", "v1c9", false},
		{"huge digit runs compare without overflow", "p184467440737095516160", "p184467440737095516151", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NaturalLess(tt.a, tt.b))
		})
	}
}

func TestPageLess(t *testing.T) {
	names := []string{"10.png", "2.png", "cover.png", "!cover.png", "1.png"}
	sort.SliceStable(names, func(i, j int) bool {
		return pageLess(names[i], names[j])
	})

	assert.Equal(t, []string{"!cover.png", "1.png", "2.png", "10.png", "cover.png"}, names)
}

func TestPageLessNestedEntries(t *testing.T) {
	names := []string{"ch1/cover.png", "ch1/01.png", "ch1/!cover.png", "ch1/10.png"}
	sort.SliceStable(names, func(i, j int) bool {
		return pageLess(names[i], names[j])
	})

	assert.Equal(t, []string{"ch1/!cover.png", "ch1/01.png", "ch1/10.png", "ch1/cover.png"}, names)
}
