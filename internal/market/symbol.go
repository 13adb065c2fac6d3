package market

import "regexp"

// symbolRegex matches exchange ticker symbols: 1–5 uppercase letters with
// an optional single-letter class suffix (BRK.B style).
var symbolRegex = regexp.MustCompile(`^[A-Z]{1,5}(\.[A-Z])?$`)

// ValidSymbol reports whether s has a recognized ticker format.
func ValidSymbol(s string) bool {
	return symbolRegex.MatchString(s)
}
