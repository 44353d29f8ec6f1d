package ingest

import (
	"testing"
)

func TestNormalizeAmount(t *testing.T) {
	tests := []struct {
		raw         string
		wantAmount  int64
		wantDisplay string
	}{
		{"", 0, "未定"},
		{"未定", 0, "未定"},
		{"なし", 0, "未定"},
		{"  未定 ", 0, "未定"},
		{"3000万円", 30_000_000, "3,000万円"},
		{"3,000万円", 30_000_000, "3,000万円"},
		{"１億円", 100_000_000, "1.0億円"},
		{"15億", 1_500_000_000, "15.0億円"},
		{"500千円", 500_000, "50万円"},
		{"500000", 500_000, "50万円"},
		{"9999", 9_999, "9,999円"},
		{"上限なし", 0, "未定"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			amount, display := NormalizeAmount(tt.raw)
			if amount != tt.wantAmount {
				t.Errorf("NormalizeAmount(%q) amount = %d, want %d", tt.raw, amount, tt.wantAmount)
			}
			if display != tt.wantDisplay {
				t.Errorf("NormalizeAmount(%q) display = %q, want %q", tt.raw, display, tt.wantDisplay)
			}
		})
	}
}

func TestFormatAmount_MatchesNormalize(t *testing.T) {
	for _, raw := range []string{"1200万円", "2億", "48000", "750千円"} {
		amount, display := NormalizeAmount(raw)
		if got := FormatAmount(amount); got != display {
			t.Errorf("FormatAmount(%d) = %q, NormalizeAmount display = %q", amount, got, display)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "未定"},
		{800, "800円"},
		{12_345, "1万円"},
		{15_000, "2万円"},
		{12_500_000, "1,250万円"},
		{99_994_999, "9,999万円"},
		{99_995_000, "1.0億円"},
		{150_000_000, "1.5億円"},
	}
	for _, tt := range tests {
		if got := FormatAmount(tt.in); got != tt.want {
			t.Errorf("FormatAmount(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
