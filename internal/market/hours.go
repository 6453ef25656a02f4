package market

import (
	"strings"
	"time"
	_ "time/tzdata" // market time zones must resolve without system tzdata
)

// MarketHours is a weekly trading session in a market's local time
type MarketHours struct {
	Name       string
	Location   *time.Location
	Open       time.Duration // offset from local midnight
	Close      time.Duration
	Days       []time.Weekday
	AlwaysOpen bool
}

// Crypto markets never close
func Crypto() MarketHours {
	return MarketHours{Name: "CRYPTO", Location: time.UTC, AlwaysOpen: true}
}

// NYSE regular session, 09:30-16:00 New York time, Monday to Friday
func NYSE() MarketHours {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.FixedZone("EST", -5*60*60)
	}
	return MarketHours{
		Name:     "NYSE",
		Location: loc,
		Open:     9*time.Hour + 30*time.Minute,
		Close:    16 * time.Hour,
		Days:     []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
	}
}

// MarketByName looks up a built-in market; the empty name is CRYPTO
func MarketByName(name string) (MarketHours, bool) {
	switch strings.ToUpper(name) {
	case "", "CRYPTO":
		return Crypto(), true
	case "NYSE":
		return NYSE(), true
	default:
		return MarketHours{}, false
	}
}

func (m MarketHours) tradingDay(d time.Weekday) bool {
	for _, day := range m.Days {
		if day == d {
			return true
		}
	}
	return false
}

func (m MarketHours) midnight(t time.Time) time.Time {
	local := t.In(m.Location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, m.Location)
}

// IsOpen reports whether the session is open at t
func (m MarketHours) IsOpen(t time.Time) bool {
	if m.AlwaysOpen {
		return true
	}
	day := m.midnight(t)
	if !m.tradingDay(day.Weekday()) {
		return false
	}
	open, closing := day.Add(m.Open), day.Add(m.Close)
	return !t.Before(open) && t.Before(closing)
}

// NextOpen returns the first session open at or after t
func (m MarketHours) NextOpen(t time.Time) time.Time {
	if m.AlwaysOpen {
		return t
	}
	day := m.midnight(t)
	for i := 0; i < 8; i++ {
		d := day.AddDate(0, 0, i)
		if !m.tradingDay(d.Weekday()) {
			continue
		}
		if open := d.Add(m.Open); !open.Before(t) {
			return open
		}
	}
	return t
}

// NextClose returns the first session close at or after t
func (m MarketHours) NextClose(t time.Time) time.Time {
	if m.AlwaysOpen {
		return t
	}
	day := m.midnight(t)
	for i := 0; i < 8; i++ {
		d := day.AddDate(0, 0, i)
		if !m.tradingDay(d.Weekday()) {
			continue
		}
		if closing := d.Add(m.Close); !closing.Before(t) {
			return closing
		}
	}
	return t
}
