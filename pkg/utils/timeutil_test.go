package utils

import (
	"testing"
	"time"
)

func TestFormatExpiry(t *testing.T) {
	tests := []struct {
		epoch int64
		want  string
	}{
		{1705622400, "2024-01-19"},
		{1708041600, "2024-02-16"},
		{0, "1970-01-01"},
	}
	for _, tt := range tests {
		if got := FormatExpiry(tt.epoch); got != tt.want {
			t.Errorf("FormatExpiry(%d) = %q, want %q", tt.epoch, got, tt.want)
		}
	}
}

func TestParseExpiryRoundTrip(t *testing.T) {
	epoch, err := ParseExpiry("2024-01-19")
	if err != nil {
		t.Fatalf("ParseExpiry error: %v", err)
	}
	if epoch != 1705622400 {
		t.Errorf("ParseExpiry = %d, want 1705622400", epoch)
	}
	if FormatExpiry(epoch) != "2024-01-19" {
		t.Errorf("round trip = %q", FormatExpiry(epoch))
	}
}

func TestParseExpiryInvalid(t *testing.T) {
	for _, s := range []string{"", "2024/01/19", "Jan 19 2024", "2024-13-01"} {
		if _, err := ParseExpiry(s); err == nil {
			t.Errorf("ParseExpiry(%q) expected error", s)
		}
	}
}

func TestMarketOpenClose(t *testing.T) {
	date := time.Date(2026, 2, 18, 12, 0, 0, 0, ET)

	open := MarketOpenTime(date)
	if open.Hour() != 9 || open.Minute() != 30 {
		t.Errorf("MarketOpenTime = %v, want 09:30", open)
	}

	close := MarketCloseTime(date)
	if close.Hour() != 16 || close.Minute() != 0 {
		t.Errorf("MarketCloseTime = %v, want 16:00", close)
	}
}

func TestMarketStatus(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"weekday session", time.Date(2026, 2, 18, 10, 0, 0, 0, ET), "OPEN"},
		{"pre-market", time.Date(2026, 2, 18, 8, 0, 0, 0, ET), "PRE-MARKET"},
		{"overnight", time.Date(2026, 2, 18, 2, 0, 0, 0, ET), "CLOSED"},
		{"after close", time.Date(2026, 2, 18, 17, 0, 0, 0, ET), "AFTER-HOURS"},
		{"saturday", time.Date(2026, 2, 21, 10, 0, 0, 0, ET), "CLOSED (Weekend)"},
		{"holiday", time.Date(2026, 11, 26, 10, 0, 0, 0, ET), "CLOSED (Thanksgiving Day)"},
	}
	for _, tt := range tests {
		if got := MarketStatus(tt.at); got != tt.want {
			t.Errorf("%s: MarketStatus = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestIsTradingHoliday(t *testing.T) {
	if !IsTradingHoliday(time.Date(2026, 12, 25, 12, 0, 0, 0, ET)) {
		t.Error("Christmas should be a holiday")
	}
	if IsTradingHoliday(time.Date(2026, 12, 24, 12, 0, 0, 0, ET)) {
		t.Error("Dec 24 should not be a full-day holiday")
	}
}
