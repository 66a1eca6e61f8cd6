package clean

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseDecimal parses a numeric string with locale-aware decimal handling.
// Sources disagree on separators: "1,234.56", "1.234,56" and "1 234,56" all
// denote the same quantity. The rightmost of '.' and ',' is taken as the
// decimal separator when both appear; a lone comma is a decimal separator
// unless it is followed by exactly three digits (a grouping comma).
func ParseDecimal(s string) (float64, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', ' ', ' ', '\'':
			return -1
		}
		return r
	}, strings.TrimSpace(s))

	if cleaned == "" {
		return 0, fmt.Errorf("empty numeric string")
	}

	dot := strings.LastIndex(cleaned, ".")
	comma := strings.LastIndex(cleaned, ",")

	switch {
	case dot >= 0 && comma >= 0:
		if comma > dot {
			// European style: '.' groups, ',' is the decimal point.
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case comma >= 0:
		if strings.Count(cleaned, ",") == 1 && len(cleaned)-comma-1 == 3 {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		} else if strings.Count(cleaned, ",") > 1 {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		} else {
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		}
	}

	return strconv.ParseFloat(cleaned, 64)
}

// NormalizeText trims and collapses whitespace runs to single spaces.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// FoldCase applies a configured case fold: "lower", "upper", or anything
// else to preserve the source casing.
func FoldCase(s, mode string) string {
	switch mode {
	case "lower":
		return strings.ToLower(s)
	case "upper":
		return strings.ToUpper(s)
	default:
		return s
	}
}
