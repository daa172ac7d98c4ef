package pipeline

import (
	"regexp"
	"strings"
)

// MaxVersionLength bounds accepted version references.
const MaxVersionLength = 128

var versionPattern = regexp.MustCompile(`^[a-zA-Z0-9._/-]+$`)

// ValidVersion reports whether v is an acceptable tag reference. Only a
// restricted character set is allowed so the value can never be read as
// shell syntax; ".." and a leading "-" are rejected so it cannot escape
// refs/tags or be parsed as a git option.
func ValidVersion(v string) bool {
	if v == "" || len(v) > MaxVersionLength {
		return false
	}
	if !versionPattern.MatchString(v) {
		return false
	}
	return !strings.Contains(v, "..") && !strings.HasPrefix(v, "-")
}
