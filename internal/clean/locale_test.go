package clean

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"1234.56", 1234.56},
		{"1,234.56", 1234.56},
		{"1.234,56", 1234.56},
		{"1 234,56", 1234.56},
		{"1'234.56", 1234.56},
		{"1,234,567.89", 1234567.89},
		{"1.234.567,89", 1234567.89},
		// A lone comma followed by exactly three digits is grouping.
		{"1,234", 1234},
		// Any other lone comma is the decimal separator.
		{"12,5", 12.5},
		{"12,56", 12.56},
		{"0,5", 0.5},
		{"-1.234,5", -1234.5},
		{"  42  ", 42},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDecimal(tt.in)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestParseDecimalErrors(t *testing.T) {
	for _, in := range []string{"", "   ", "abc", "12x5", "1.2.3.4,5,6"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseDecimal(in)
			assert.Error(t, err)
		})
	}
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "In Progress", NormalizeText("  In   Progress \t"))
	assert.Equal(t, "", NormalizeText("   "))
	assert.Equal(t, "Digital", NormalizeText("Digital"))
}
