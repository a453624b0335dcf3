package markethours

import "time"

// Exchange holidays for 2026. Equities (NSE/BSE) share one list; MCX
// observes only the national holidays (it trades through most festival
// closures in the evening session).
// Source: NSE India / MCX official holiday lists.
var equityHolidays2026 = []struct {
	month time.Month
	day   int
}{
	{time.January, 26},  // Republic Day
	{time.February, 17}, // Mahashivratri (tentative)
	{time.March, 14},    // Holi
	{time.March, 31},    // Id-ul-Fitr (Eid) (tentative)
	{time.April, 2},     // Ram Navami (tentative)
	{time.April, 6},     // Mahavir Jayanti
	{time.April, 10},    // Good Friday
	{time.April, 14},    // Dr. Ambedkar Jayanti
	{time.May, 1},       // Maharashtra Day
	{time.June, 7},      // Bakrid / Eid ul-Adha (tentative)
	{time.July, 6},      // Muharram (tentative)
	{time.August, 15},   // Independence Day
	{time.August, 16},   // Janmashtami (tentative)
	{time.September, 5}, // Milad-un-Nabi (tentative)
	{time.October, 2},   // Mahatma Gandhi Jayanti
	{time.October, 20},  // Dussehra
	{time.October, 21},  // Dussehra (tentative)
	{time.November, 5},  // Diwali / Lakshmi Puja (tentative)
	{time.November, 6},  // Diwali Balipratipada (tentative)
	{time.November, 7},  // Bhai Dooj (tentative)
	{time.November, 19}, // Guru Nanak Jayanti
	{time.December, 25}, // Christmas
}

var mcxHolidays2026 = []struct {
	month time.Month
	day   int
}{
	{time.January, 26}, // Republic Day
	{time.April, 10},   // Good Friday
	{time.August, 15},  // Independence Day
	{time.October, 2},  // Mahatma Gandhi Jayanti
	{time.December, 25}, // Christmas
}

// pre-compute for fast lookup
var (
	equityHolidaySet map[string]bool
	mcxHolidaySet    map[string]bool
)

func init() {
	equityHolidaySet = make(map[string]bool, len(equityHolidays2026))
	for _, h := range equityHolidays2026 {
		equityHolidaySet[dateKey(2026, h.month, h.day)] = true
	}
	mcxHolidaySet = make(map[string]bool, len(mcxHolidays2026))
	for _, h := range mcxHolidays2026 {
		mcxHolidaySet[dateKey(2026, h.month, h.day)] = true
	}
}

// IsHoliday returns true if the date (in IST) is a holiday for the exchange.
func IsHoliday(exchange string, t time.Time) bool {
	ist := t.In(IST)
	key := dateKey(ist.Year(), ist.Month(), ist.Day())
	if exchange == "M" {
		return mcxHolidaySet[key]
	}
	return equityHolidaySet[key]
}

func dateKey(year int, month time.Month, day int) string {
	return time.Date(year, month, day, 0, 0, 0, 0, IST).Format("2006-01-02")
}
