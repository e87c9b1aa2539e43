package registry

import (
	"regexp"
	"strings"
)

// Polish postal codes are always NN-NNN, which makes them a reliable
// anchor for splitting a free-text address into street and city parts.
var postalCodePattern = regexp.MustCompile(`\b(\d{2}-\d{3})\b`)

// ParsedAddress is the structured form of a register address line
type ParsedAddress struct {
	Street     string
	PostalCode string
	City       string
}

// ParseAddress splits a free-text address like
// "UL. MARSZAŁKOWSKA 12A, 00-590 WARSZAWA" on the postal code. When no
// postal code is present the whole text lands in Street and the caller
// keeps the raw value.
func ParseAddress(raw string) ParsedAddress {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ParsedAddress{}
	}

	loc := postalCodePattern.FindStringIndex(text)
	if loc == nil {
		return ParsedAddress{Street: text}
	}

	street := strings.TrimRight(strings.TrimSpace(text[:loc[0]]), ",")
	city := strings.TrimLeft(strings.TrimSpace(text[loc[1]:]), ",")

	return ParsedAddress{
		Street:     strings.TrimSpace(street),
		PostalCode: text[loc[0]:loc[1]],
		City:       strings.TrimSpace(city),
	}
}
