package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmount(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"1.234,56", 1234.56},
		{"1,234.56", 1234.56},
		{"1.234.567,89", 1234567.89},
		{"€ 1.234,56", 1234.56},
		{"$1,234.56", 1234.56},
		{"150", 150},
		{"12,5", 12.5},
		{"0.5", 0.5},
		{"1.234", 1234}, // three trailing digits read as a digit group
		{"-45,20", -45.2},
		{"89,00 EUR", 89},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := Amount(tt.in)
			require.NotNil(t, got)
			assert.InDelta(t, tt.want, *got, 1e-9)
		})
	}
}

func TestAmountUnparseable(t *testing.T) {
	for _, in := range []string{"", "n/a", "free of charge", "€", "-.,"} {
		t.Run(in, func(t *testing.T) {
			assert.Nil(t, Amount(in))
		})
	}
}

func TestDate(t *testing.T) {
	want := time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2024-03-15", "15-03-2024", "15/03/2024", "15/3/2024"} {
		t.Run(in, func(t *testing.T) {
			got := Date(in)
			require.NotNil(t, got)
			assert.True(t, got.Equal(want), "got %v", got)
		})
	}
}

func TestDateUnparseable(t *testing.T) {
	for _, in := range []string{"", "soon", "2024/03/15 10:00", "32-13-2024"} {
		t.Run(in, func(t *testing.T) {
			assert.Nil(t, Date(in))
		})
	}
}

func TestTaxID(t *testing.T) {
	assert.Equal(t, "EL123456789", TaxID(" el 123-456.789 "))
	assert.Equal(t, "", TaxID("---"))
}

func TestIssuerID(t *testing.T) {
	assert.Equal(t, "123456789", IssuerID("123 456 789", "ACME Corp."))
	// No tax id: fall back to the normalized name.
	assert.Equal(t, "acme_corp", IssuerID("", "ACME Corp."))
	assert.Equal(t, "", IssuerID("", ""))
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "123_2024", Slug("ΤΔΑ-123/2024")) // non-latin glyphs collapse away
	assert.Equal(t, "tda_123_2024", Slug("TDA-123/2024"))
	assert.Equal(t, "inv_42", Slug("  INV 42  "))
}
