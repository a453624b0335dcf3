// Package markethours provides the market clock: per-exchange trading
// sessions, the golden entry window, and holiday handling. All predicates
// evaluate in IST; timestamp conversion happens at the I/O boundary.
package markethours

import (
	"fmt"
	"time"
)

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// Session is an inclusive-start / exclusive-end local-time trading window.
type Session struct {
	OpenHour    int
	OpenMinute  int
	CloseHour   int
	CloseMinute int
}

// contains reports whether the minute-of-day falls inside the session.
func (s Session) contains(hm int) bool {
	return hm >= s.OpenHour*60+s.OpenMinute && hm < s.CloseHour*60+s.CloseMinute
}

// Per-exchange sessions. Exchange codes follow the tick feed:
// "N" NSE, "B" BSE, "M" MCX.
var sessions = map[string]Session{
	"N": {9, 15, 15, 30},
	"B": {9, 15, 15, 30},
	"M": {9, 0, 23, 30},
}

// defaultSession covers unknown exchange codes (NSE hours).
var defaultSession = Session{9, 15, 15, 30}

// Golden entry window: fresh entries only between 9:30 and 14:30 IST.
// Exits are never gated on this window.
var goldenWindow = Session{9, 30, 14, 30}

// SessionFor returns the trading session for an exchange code.
func SessionFor(exchange string) Session {
	if s, ok := sessions[exchange]; ok {
		return s
	}
	return defaultSession
}

// IsWithinTradingHours returns true if t falls within the exchange's
// trading session on a trading day.
func IsWithinTradingHours(exchange string, t time.Time) bool {
	ist := t.In(IST)
	if !IsTradingDay(exchange, ist) {
		return false
	}
	return SessionFor(exchange).contains(ist.Hour()*60 + ist.Minute())
}

// IsWithinGoldenWindow returns true if t falls inside the golden entry
// window on a trading day. Only fresh entries are gated on this.
func IsWithinGoldenWindow(exchange string, t time.Time) bool {
	ist := t.In(IST)
	if !IsTradingDay(exchange, ist) {
		return false
	}
	return goldenWindow.contains(ist.Hour()*60 + ist.Minute())
}

// IsMarketClosed is the sweeper predicate: true when the exchange is not
// currently trading.
func IsMarketClosed(exchange string, t time.Time) bool {
	return !IsWithinTradingHours(exchange, t)
}

// IsWeekday returns true if t is Mon-Fri in IST.
func IsWeekday(t time.Time) bool {
	wd := t.In(IST).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a weekday and not an exchange holiday.
func IsTradingDay(exchange string, t time.Time) bool {
	ist := t.In(IST)
	return IsWeekday(ist) && !IsHoliday(exchange, ist)
}

// TradingDate returns the session date (midnight IST) for t.
func TradingDate(t time.Time) time.Time {
	ist := t.In(IST)
	return time.Date(ist.Year(), ist.Month(), ist.Day(), 0, 0, 0, 0, IST)
}

// SessionEnd returns the close time of the exchange's session on t's date.
func SessionEnd(exchange string, t time.Time) time.Time {
	ist := t.In(IST)
	s := SessionFor(exchange)
	return time.Date(ist.Year(), ist.Month(), ist.Day(), s.CloseHour, s.CloseMinute, 0, 0, IST)
}

// NextOpen returns the next session open for the exchange. If t is before
// today's open on a trading day, returns today's open.
func NextOpen(exchange string, t time.Time) time.Time {
	ist := t.In(IST)
	s := SessionFor(exchange)

	todayOpen := time.Date(ist.Year(), ist.Month(), ist.Day(), s.OpenHour, s.OpenMinute, 0, 0, IST)
	if ist.Before(todayOpen) && IsTradingDay(exchange, ist) {
		return todayOpen
	}

	d := ist.AddDate(0, 0, 1)
	for i := 0; i < 10; i++ { // max 10 days ahead (holidays + weekends)
		if IsTradingDay(exchange, d) {
			return time.Date(d.Year(), d.Month(), d.Day(), s.OpenHour, s.OpenMinute, 0, 0, IST)
		}
		d = d.AddDate(0, 0, 1)
	}
	// Fallback: next day
	return time.Date(ist.Year(), ist.Month(), ist.Day()+1, s.OpenHour, s.OpenMinute, 0, 0, IST)
}

// TimeUntilClose returns the duration until the exchange's close on t's
// date. Returns 0 if already closed.
func TimeUntilClose(exchange string, t time.Time) time.Duration {
	d := SessionEnd(exchange, t).Sub(t.In(IST))
	if d < 0 {
		return 0
	}
	return d
}

// StatusString returns a human-readable market status for logs.
func StatusString(exchange string, t time.Time) string {
	if IsWithinTradingHours(exchange, t) {
		return fmt.Sprintf("Market Open — closes in %s", fmtDur(TimeUntilClose(exchange, t)))
	}
	next := NextOpen(exchange, t)
	ist := next.In(IST)
	return fmt.Sprintf("Market Closed — opens %s %s (%s)",
		ist.Weekday().String()[:3], ist.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
