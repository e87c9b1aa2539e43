// Package nip normalizes and validates Polish tax identification numbers.
package nip

import (
	"strings"
)

var checksumWeights = [9]int{6, 5, 7, 2, 3, 4, 5, 6, 7}

// Normalize strips the country prefix and common separators and returns
// the bare 10-digit form. The second return is false when the input
// cannot be a NIP at all (wrong length, non-digits).
func Normalize(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(strings.ToUpper(s), "PL")

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == ' ':
			// separator, skip
		default:
			return "", false
		}
	}

	normalized := b.String()
	if len(normalized) != 10 {
		return "", false
	}
	return normalized, true
}

// Valid reports whether a normalized 10-digit NIP passes the mod-11
// checksum. The check digit may never be 10, so a weighted sum of 10
// fails outright.
func Valid(normalized string) bool {
	if len(normalized) != 10 {
		return false
	}
	sum := 0
	for i, w := range checksumWeights {
		d := normalized[i]
		if d < '0' || d > '9' {
			return false
		}
		sum += w * int(d-'0')
	}
	check := sum % 11
	if check == 10 {
		return false
	}
	return check == int(normalized[9]-'0')
}
