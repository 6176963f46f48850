// Package postcode implements UK postcode format checking, canonical
// formatting, component decomposition and region classification.
//
// Nothing in this package performs I/O. Whether a postcode is actually
// assigned is decided by the lookup service in postcode-service.
package postcode

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
)

// ExampleFormat is the postcode shown to users when their input is malformed.
const ExampleFormat = "SW1A 1AA"

var (
	// ErrInvalidFormat is returned by Parse when the input fails CheckFormat.
	ErrInvalidFormat = errors.New("invalid postcode format")

	// ErrMalformedPostcode is returned by Decompose when the input is not in
	// canonical "OUTWARD INWARD" form.
	ErrMalformedPostcode = errors.New("malformed postcode: expected outward and inward parts separated by one space")
)

var formatPattern = regexp.MustCompile(`(?i)^[A-Z]{1,2}[0-9][A-Z0-9]?\s?[0-9][A-Z]{2}$`)

// Components is a normalized postcode split into its four parts.
type Components struct {
	Area     string `json:"area"`
	District string `json:"district"`
	Sector   string `json:"sector"`
	Unit     string `json:"unit"`
}

// Outward returns the area and district, e.g. "SW1A".
func (c Components) Outward() string {
	return c.Area + c.District
}

// Inward returns the sector and unit, e.g. "1AA".
func (c Components) Inward() string {
	return c.Sector + c.Unit
}

// String reassembles the canonical postcode.
func (c Components) String() string {
	return c.Outward() + " " + c.Inward()
}

// CheckFormat reports whether raw looks like a UK postcode. Leading and
// trailing whitespace is ignored and letters may be any case.
func CheckFormat(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return false
	}
	return formatPattern.MatchString(trimmed)
}

// Canonicalize uppercases raw and rewrites its spacing so exactly one space
// precedes the last three characters. Input shorter than five characters (runes) once
// whitespace is removed is returned without a space; callers must not treat
// that value as a valid postcode.
func Canonicalize(raw string) string {
	cleaned := strings.ToUpper(strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw))

	chars := []rune(cleaned)
	if len(chars) < 5 {
		return cleaned
	}
	split := len(chars) - 3
	return string(chars[:split]) + " " + string(chars[split:])
}

// Decompose splits a canonical postcode into its components.
func Decompose(normalized string) (Components, error) {
	parts := strings.Split(normalized, " ")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Components{}, ErrMalformedPostcode
	}
	outward, inward := parts[0], parts[1]

	areaLen := 0
	for areaLen < len(outward) && areaLen < 2 && isASCIILetter(outward[areaLen]) {
		areaLen++
	}

	return Components{
		Area:     outward[:areaLen],
		District: outward[areaLen:],
		Sector:   inward[:1],
		Unit:     inward[1:],
	}, nil
}

// Parse format-checks, canonicalizes and decomposes raw in one step.
func Parse(raw string) (Components, error) {
	if !CheckFormat(raw) {
		return Components{}, ErrInvalidFormat
	}
	return Decompose(Canonicalize(raw))
}

func isASCIILetter(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}
