package conversation

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// PriceRange is a price bound pulled from free text. Either side may be nil.
type PriceRange struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// IsZero reports whether no bound was found.
func (r PriceRange) IsZero() bool { return r.Min == nil && r.Max == nil }

const priceAmount = `(\d+(?:[.,]\d+)*)\s*(k|nghìn|ngàn|vnđ|vnd|đ|dong|\$)?`

var (
	priceAmountRe  = regexp.MustCompile(`(?i)` + priceAmount)
	priceBetweenRe = regexp.MustCompile(`(?i)(?:between|from)?\s*` + priceAmount + `\s*(?:-|–|to|and)\s*` + priceAmount)
	priceUnderRe   = regexp.MustCompile(`(?i)\b(?:under|below|less than|cheaper than|up to|at most|no more than|max(?:imum)?|within|budget(?: of| is)?)\s+` + priceAmount)
	priceOverRe    = regexp.MustCompile(`(?i)\b(?:over|above|more than|at least|min(?:imum)?|starting at)\s+` + priceAmount)
)

const priceBand = 0.2

// ExtractPriceRange parses phrases such as "under 100k", "over 50k",
// "50k-100k" and "around 80k". A lone amount without a qualifier becomes a
// band of plus or minus 20 percent.
func ExtractPriceRange(message string) PriceRange {
	text := strings.ToLower(message)

	if loc := priceBetweenRe.FindStringSubmatchIndex(text); loc != nil {
		lo, loOK := amountAt(text, loc, 1)
		hi, hiOK := amountAt(text, loc, 3)
		// "between 50 and 150k" borrows the multiplier from the upper bound.
		if !loOK && hiOK && unitAt(text, loc, 4) == "k" {
			if raw, ok := parseDigits(groupAt(text, loc, 1)); ok {
				lo, loOK = raw*1000, true
			}
		}
		if loOK && hiOK {
			if lo > hi {
				lo, hi = hi, lo
			}
			return PriceRange{Min: floatPtr(lo), Max: floatPtr(hi)}
		}
	}
	if loc := priceUnderRe.FindStringSubmatchIndex(text); loc != nil {
		if v, ok := amountAt(text, loc, 1); ok {
			return PriceRange{Max: floatPtr(v)}
		}
	}
	if loc := priceOverRe.FindStringSubmatchIndex(text); loc != nil {
		if v, ok := amountAt(text, loc, 1); ok {
			return PriceRange{Min: floatPtr(v)}
		}
	}
	for _, loc := range priceAmountRe.FindAllStringSubmatchIndex(text, -1) {
		if v, ok := amountAt(text, loc, 1); ok {
			return PriceRange{Min: floatPtr(math.Round(v * (1 - priceBand))), Max: floatPtr(math.Round(v * (1 + priceBand)))}
		}
	}
	return PriceRange{}
}

// amountAt parses the digits in capture group g and the unit in group g+1.
func amountAt(text string, loc []int, g int) (float64, bool) {
	return parseAmount(groupAt(text, loc, g), unitAt(text, loc, g+1))
}

func groupAt(text string, loc []int, g int) string {
	if 2*g+1 >= len(loc) || loc[2*g] < 0 {
		return ""
	}
	return text[loc[2*g]:loc[2*g+1]]
}

// unitAt returns the unit in group g, or "" when the unit is only the first
// letter of a longer word ("2 kebabs", "2 đĩa").
func unitAt(text string, loc []int, g int) string {
	unit := groupAt(text, loc, g)
	if unit == "" || unit == "$" {
		return unit
	}
	if end := loc[2*g+1]; end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return ""
		}
	}
	return unit
}

// parseAmount accepts an amount when it has a k multiplier, a currency
// marker, or is at least 1000 on its own.
func parseAmount(digits, unit string) (float64, bool) {
	v, ok := parseDigits(digits)
	if !ok {
		return 0, false
	}
	switch strings.ToLower(unit) {
	case "k", "nghìn", "ngàn":
		return v * 1000, true
	case "":
		return v, v >= 1000
	default:
		return v, true
	}
}

// parseDigits strips thousands separators ("100,000", "100.000") and treats a
// trailing short group as a decimal part ("1.5").
func parseDigits(raw string) (float64, bool) {
	groups := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '.' })
	if len(groups) == 0 {
		return 0, false
	}
	thousands := len(groups) > 1
	for _, g := range groups[1:] {
		if len(g) != 3 {
			thousands = false
		}
	}
	var s string
	switch {
	case len(groups) == 1 || thousands:
		s = strings.Join(groups, "")
	default:
		s = strings.Join(groups[:len(groups)-1], "") + "." + groups[len(groups)-1]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
