package model

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestToMinorUnits(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"30.80", 3080},
		{"0.50", 50},
		{"0.005", 1},
		{"1234567.89", 123456789},
		{"0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ToMinorUnits(decimal.RequireFromString(tt.input))
			if got != tt.want {
				t.Errorf("ToMinorUnits(%s) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatAmount(t *testing.T) {
	if got := FormatAmount(decimal.RequireFromString("30.8")); got != "30.80" {
		t.Errorf("FormatAmount() = %q, want %q", got, "30.80")
	}
}
