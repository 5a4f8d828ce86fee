package util

import (
	"math"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	reNonAlnum     = regexp.MustCompile(`[^a-z0-9\s]`)
	reNonDigit     = regexp.MustCompile(`\D`)
	reSlugSeps     = regexp.MustCompile(`[^a-z0-9]+`)
	accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// Portuguese stop words removed before any description comparison.
var stopwordsPT = map[string]struct{}{
	"de": {}, "da": {}, "do": {}, "das": {}, "dos": {},
	"para": {}, "com": {}, "em": {}, "sem": {},
	"uma": {}, "um": {}, "e": {}, "ou": {},
	"a": {}, "o": {}, "as": {}, "os": {},
}

// StripAccents removes diacritics without touching the base letters.
func StripAccents(input string) string {
	out, _, err := transform.String(accentStripper, input)
	if err != nil {
		return input
	}
	return out
}

// NormalizeText builds the comparison key used by fuzzy and synonym
// description lookups: lowercase, accent-free, punctuation-free, collapsed
// whitespace, fixed stop-word set removed. Locale independent.
func NormalizeText(input string) string {
	s := strings.ToLower(StripAccents(input))
	s = reNonAlnum.ReplaceAllString(s, " ")
	words := strings.Fields(s)
	kept := words[:0]
	for _, w := range words {
		if _, skip := stopwordsPT[w]; skip {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// NormalizeSKU returns the canonical uppercase form, or "" for blank input.
func NormalizeSKU(input string) string {
	return strings.ToUpper(strings.TrimSpace(input))
}

// NormalizeBarcode keeps digits only, "" when nothing remains.
func NormalizeBarcode(input string) string {
	return reNonDigit.ReplaceAllString(input, "")
}

// GTINIsValid checks the GTIN-8/12/13/14 check digit.
func GTINIsValid(input string) bool {
	digits := NormalizeBarcode(input)
	switch len(digits) {
	case 8, 12, 13, 14:
	default:
		return false
	}

	check := int(digits[len(digits)-1] - '0')
	sum := 0
	factor := 3
	for i := len(digits) - 2; i >= 0; i-- {
		sum += int(digits[i]-'0') * factor
		if factor == 3 {
			factor = 1
		} else {
			factor = 3
		}
	}
	return (10-sum%10)%10 == check
}

// RoundMoney rounds half-up to two decimals. Downstream price comparisons
// rely on this exact behaviour, not on banker's rounding.
func RoundMoney(value float64) float64 {
	return math.Floor(value*100+0.5) / 100
}

// Slugify derives a URL-safe handle from a title.
func Slugify(input string) string {
	normalized := NormalizeText(input)
	if normalized == "" {
		return ""
	}
	return strings.Trim(reSlugSeps.ReplaceAllString(normalized, "-"), "-")
}
