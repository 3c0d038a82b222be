// Package phone normalizes Indian mobile numbers to +91XXXXXXXXXX.
package phone

import (
	"regexp"
	"strings"
)

var (
	reLetters = regexp.MustCompile(`[A-Za-z]`)
	// Only allow digits, spaces, +, -, (, )
	reAllowed = regexp.MustCompile(`^[0-9+\-\s\(\)]+$`)
	reMobile  = regexp.MustCompile(`^[6-9][0-9]{9}$`)
)

// Normalize returns the +91 form of an Indian mobile number, or "" when p is
// not one. Accepted prefixes are +91, 0091, 91 and a single leading 0.
func Normalize(p string) string {
	s := strings.TrimSpace(p)
	if s == "" || reLetters.MatchString(s) || !reAllowed.MatchString(s) {
		return ""
	}

	repl := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")
	s = repl.Replace(s)

	switch {
	case strings.HasPrefix(s, "+91"):
		s = s[3:]
	case strings.HasPrefix(s, "0091"):
		s = s[4:]
	case strings.HasPrefix(s, "91") && len(s) == 12:
		s = s[2:]
	case strings.HasPrefix(s, "0") && len(s) == 11:
		s = s[1:]
	}

	if !reMobile.MatchString(s) {
		return ""
	}
	return "+91" + s
}

func Valid(p string) bool {
	return Normalize(p) != ""
}

// WithoutPlus is the form messaging providers expect in the "to" field.
func WithoutPlus(p string) string {
	return strings.TrimPrefix(p, "+")
}
