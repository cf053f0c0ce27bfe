package utils

import (
	"fmt"
	"time"
)

// ExpiryLayout is the layout of expiration date strings.
const ExpiryLayout = "2006-01-02"

// ET is the US Eastern time zone, where listed US equity options trade.
var ET *time.Location

func init() {
	var err error
	ET, err = time.LoadLocation("America/New_York")
	if err != nil {
		// No tz database: fixed EST, ignoring DST.
		ET = time.FixedZone("EST", -5*60*60)
	}
}

// FormatExpiry formats a provider expiration timestamp (epoch seconds) as a
// UTC calendar date. Yahoo stamps expirations at 00:00 UTC of the expiry day.
func FormatExpiry(epoch int64) string {
	return time.Unix(epoch, 0).UTC().Format(ExpiryLayout)
}

// ParseExpiry is the inverse of FormatExpiry.
func ParseExpiry(date string) (int64, error) {
	t, err := time.ParseInLocation(ExpiryLayout, date, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("parse expiry %q: %w", date, err)
	}
	return t.Unix(), nil
}

// NowET returns the current time in US Eastern time.
func NowET() time.Time {
	return time.Now().In(ET)
}

// MarketOpenTime returns the regular session open (9:30 AM ET) for a given date.
func MarketOpenTime(date time.Time) time.Time {
	d := date.In(ET)
	return time.Date(d.Year(), d.Month(), d.Day(), 9, 30, 0, 0, ET)
}

// MarketCloseTime returns the regular session close (4:00 PM ET) for a given date.
func MarketCloseTime(date time.Time) time.Time {
	d := date.In(ET)
	return time.Date(d.Year(), d.Month(), d.Day(), 16, 0, 0, 0, ET)
}

// PreMarketStart returns the pre-market session start (4:00 AM ET).
func PreMarketStart(date time.Time) time.Time {
	d := date.In(ET)
	return time.Date(d.Year(), d.Month(), d.Day(), 4, 0, 0, 0, ET)
}

// IsTradingHoliday checks if the given date is a NYSE full-day holiday.
// This list should be updated annually.
func IsTradingHoliday(t time.Time) bool {
	_, ok := nyseHolidays2026[t.In(ET).Format(ExpiryLayout)]
	return ok
}

// NYSE full-day holidays for 2026 (update annually).
var nyseHolidays2026 = map[string]string{
	"2026-01-01": "New Year's Day",
	"2026-01-19": "Martin Luther King Jr. Day",
	"2026-02-16": "Washington's Birthday",
	"2026-04-03": "Good Friday",
	"2026-05-25": "Memorial Day",
	"2026-06-19": "Juneteenth",
	"2026-07-03": "Independence Day (observed)",
	"2026-09-07": "Labor Day",
	"2026-11-26": "Thanksgiving Day",
	"2026-12-25": "Christmas Day",
}

// MarketStatus returns the US equity market status at t.
func MarketStatus(t time.Time) string {
	now := t.In(ET)

	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return "CLOSED (Weekend)"
	}
	if holiday, ok := nyseHolidays2026[now.Format(ExpiryLayout)]; ok {
		return "CLOSED (" + holiday + ")"
	}

	switch {
	case now.Before(PreMarketStart(now)):
		return "CLOSED"
	case now.Before(MarketOpenTime(now)):
		return "PRE-MARKET"
	case now.Before(MarketCloseTime(now)):
		return "OPEN"
	default:
		return "AFTER-HOURS"
	}
}
