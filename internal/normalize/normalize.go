// Package normalize converts the string fields coming back from the
// extraction model into canonical values. Unparseable values become nil
// rather than errors; extraction confidence is reported separately.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Amount parses a monetary string into a dot-decimal float. It accepts
// both "1,234.56" and the grouping convention "1.234,56", discarding
// currency glyphs and whitespace. Returns nil if no number can be read.
func Amount(s string) *float64 {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' || r == '.' || r == ',' || r == '-' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return nil
	}

	lastDot := strings.LastIndexByte(cleaned, '.')
	lastComma := strings.LastIndexByte(cleaned, ',')
	switch {
	case lastDot >= 0 && lastComma >= 0:
		// Both present: the later one is the decimal separator.
		if lastComma > lastDot {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastComma >= 0:
		cleaned = resolveSingleSeparator(cleaned, ',', lastComma)
	case lastDot >= 0:
		cleaned = resolveSingleSeparator(cleaned, '.', lastDot)
	}

	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return &v
}

// resolveSingleSeparator decides whether a lone separator is a decimal
// point or a digit-group separator: one or two trailing digits mean a
// fraction, anything else is grouping.
func resolveSingleSeparator(s string, sep byte, last int) string {
	frac := len(s) - last - 1
	decimal := frac >= 1 && frac <= 2 && strings.Count(s, string(sep)) == 1
	if decimal {
		if sep == ',' {
			return strings.Replace(s, ",", ".", 1)
		}
		return s
	}
	return strings.ReplaceAll(s, string(sep), "")
}

var dateLayouts = []string{
	"2006-01-02",
	"02-01-2006",
	"2-1-2006",
	"02/01/2006",
	"2/1/2006",
}

// Date parses day-month-year (dash or slash separated) or ISO
// year-month-day into a UTC calendar date. Returns nil on failure.
func Date(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return &t
		}
	}
	return nil
}

// TaxID keeps only alphanumeric characters, uppercased.
func TaxID(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if r >= '0' && r <= '9' || r >= 'A' && r <= 'Z' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IssuerID derives a deterministic issuer identifier: the normalized
// tax id when one was extracted, otherwise a slug of the issuer name.
func IssuerID(taxID, name string) string {
	if id := TaxID(taxID); id != "" {
		return id
	}
	return Slug(name)
}

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)

// Slug converts free text into a safe record/object key component.
func Slug(s string) string {
	lower := strings.ToLower(s)
	slug := nonAlphanumeric.ReplaceAllString(lower, "_")
	slug = strings.Trim(slug, "_")

	const maxLength = 100
	if len(slug) > maxLength {
		slug = strings.Trim(slug[:maxLength], "_")
	}
	return slug
}
