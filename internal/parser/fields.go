package parser

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	nonDigitRe  = regexp.MustCompile(`\D`)
	milesRe     = regexp.MustCompile(`(?i)\(([\d,]+(?:\.\d+)?)\s*mi\.\)`)
	conditionRe = regexp.MustCompile(`(?i)^(New|Used|Certified|CPO)\s+(\d{4})\s+(.*)$`)
	uuidRe      = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
)

// DigitsToInt concatenates every decimal digit in text and parses the result,
// so "\n  $40,658\n" becomes 40658. It returns nil when text holds no digits
// or the digits overflow an int.
func DigitsToInt(text string) *int {
	digits := nonDigitRe.ReplaceAllString(text, "")
	if digits == "" {
		return nil
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return nil
	}
	return &n
}

// MilesToFloat reads a "(1,498 mi.)" distance annotation.
func MilesToFloat(text string) *float64 {
	m := milesRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return nil
	}
	return &f
}

// DeriveConditionYear splits a carousel body like "New 2025 Toyota RAV4 XLE"
// into its condition and model year. Both are nil unless the whole body
// matches.
func DeriveConditionYear(body string) (*string, *int) {
	m := conditionRe.FindStringSubmatch(body)
	if m == nil {
		return nil, nil
	}
	year, err := strconv.Atoi(m[2])
	if err != nil {
		return nil, nil
	}
	condition := m[1]
	return &condition, &year
}

// ExtractUUID returns the first UUID-shaped token in s, or "".
func ExtractUUID(s string) string {
	return uuidRe.FindString(s)
}

// CoerceInt converts a decoded JSON value to an int: integers pass through,
// floats are truncated and strings go through DigitsToInt. Anything else,
// booleans included, yields nil.
func CoerceInt(v any) *int {
	switch t := v.(type) {
	case nil:
		return nil
	case int:
		return &t
	case int64:
		n := int(t)
		return &n
	case float64:
		return truncate(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			n := int(i)
			return &n
		}
		f, err := t.Float64()
		if err != nil {
			return nil
		}
		return truncate(f)
	case string:
		return DigitsToInt(t)
	default:
		return nil
	}
}

func truncate(f float64) *int {
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return nil
	}
	n := int(f)
	return &n
}

// CoerceString returns JSON strings as-is and numbers in their literal form.
func CoerceString(v any) *string {
	switch t := v.(type) {
	case string:
		return &t
	case json.Number:
		s := t.String()
		return &s
	default:
		return nil
	}
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
