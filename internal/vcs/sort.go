package vcs

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/mod/semver"
)

// SortDescending orders tags newest first. Tags that parse as semantic
// versions (with or without a leading "v") come first in semver order, the
// rest follow in natural order so "2024.10" sorts above "2024.9".
func SortDescending(tags []string) {
	sort.SliceStable(tags, func(i, j int) bool {
		a, b := canonical(tags[i]), canonical(tags[j])
		switch {
		case a != "" && b != "":
			if c := semver.Compare(a, b); c != 0 {
				return c > 0
			}
			return tags[i] > tags[j]
		case a != "":
			return true
		case b != "":
			return false
		default:
			return compareNatural(tags[i], tags[j]) > 0
		}
	})
}

func canonical(tag string) string {
	v := tag
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return v
}

// compareNatural compares strings treating runs of digits as numbers.
func compareNatural(a, b string) int {
	for a != "" && b != "" {
		ca, restA := nextChunk(a)
		cb, restB := nextChunk(b)

		if isDigits(ca) && isDigits(cb) {
			na, nb := strings.TrimLeft(ca, "0"), strings.TrimLeft(cb, "0")
			if len(na) != len(nb) {
				return cmpInt(len(na), len(nb))
			}
			if na != nb {
				return strings.Compare(na, nb)
			}
		} else if ca != cb {
			return strings.Compare(ca, cb)
		}
		a, b = restA, restB
	}
	return cmpInt(len(a), len(b))
}

func nextChunk(s string) (string, string) {
	digit := unicode.IsDigit(rune(s[0]))
	i := 1
	for i < len(s) && unicode.IsDigit(rune(s[i])) == digit {
		i++
	}
	return s[:i], s[i:]
}

func isDigits(s string) bool {
	return s != "" && unicode.IsDigit(rune(s[0]))
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
