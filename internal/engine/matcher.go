package engine

import "regexp"

// MatchLabel evaluates pattern as a case-insensitive regular expression
// against each label in order and returns the first label the pattern matches
// in full. Substring hits do not count: "bug" does not match "bugfix".
//
// An empty or invalid pattern yields no match rather than an error. Pattern
// validity is also enforced at subscription-creation time with the same
// compilation rule, so an invalid pattern here means the store was written
// around the API; we still must not crash on it.
func MatchLabel(pattern string, labels []string) (string, bool) {
	if pattern == "" {
		return "", false
	}
	re, err := regexp.Compile(`(?i)\A(?:` + pattern + `)\z`)
	if err != nil {
		return "", false
	}
	for _, label := range labels {
		if re.MatchString(label) {
			return label, true
		}
	}
	return "", false
}

// ValidatePattern reports whether pattern compiles under the exact rule
// MatchLabel uses. The subscription CRUD layer calls this on create so the
// engine never stores a pattern it cannot evaluate.
func ValidatePattern(pattern string) error {
	_, err := regexp.Compile(`(?i)\A(?:` + pattern + `)\z`)
	return err
}
