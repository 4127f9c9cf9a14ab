package service

import (
	"strings"
	"time"
)

// DateRange restricts search to documents created within [Start, End).
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the range.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// TemporalParser resolves relative time phrases in a query against a
// caller-supplied reference time. It never reads the system clock, so
// resolution is deterministic. The query text itself is never rewritten;
// a recognized phrase only narrows the search window.
type TemporalParser struct{}

func NewTemporalParser() *TemporalParser {
	return &TemporalParser{}
}

var monthNames = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June,
	"july": time.July, "august": time.August, "september": time.September,
	"october": time.October, "november": time.November, "december": time.December,
}

// Resolve returns the date range implied by the query, or nil when no
// temporal expression is recognized. Weeks start on Monday. Failures inside
// the parser degrade to nil rather than aborting the query.
func (p *TemporalParser) Resolve(query string, now time.Time) *DateRange {
	q := strings.ToLower(query)
	day := startOfDay(now)

	switch {
	case strings.Contains(q, "today"):
		return &DateRange{Start: day, End: day.AddDate(0, 0, 1)}

	case strings.Contains(q, "yesterday"):
		return &DateRange{Start: day.AddDate(0, 0, -1), End: day}

	case strings.Contains(q, "last week"), strings.Contains(q, "past week"):
		weekStart := startOfWeek(day)
		return &DateRange{Start: weekStart.AddDate(0, 0, -7), End: weekStart}

	case strings.Contains(q, "this week"):
		weekStart := startOfWeek(day)
		return &DateRange{Start: weekStart, End: weekStart.AddDate(0, 0, 7)}

	case strings.Contains(q, "last month"), strings.Contains(q, "past month"):
		monthStart := startOfMonth(day)
		return &DateRange{Start: monthStart.AddDate(0, -1, 0), End: monthStart}

	case strings.Contains(q, "this month"):
		monthStart := startOfMonth(day)
		return &DateRange{Start: monthStart, End: monthStart.AddDate(0, 1, 0)}

	case strings.Contains(q, "last year"), strings.Contains(q, "past year"):
		yearStart := startOfYear(day)
		return &DateRange{Start: yearStart.AddDate(-1, 0, 0), End: yearStart}

	case strings.Contains(q, "this year"):
		yearStart := startOfYear(day)
		return &DateRange{Start: yearStart, End: yearStart.AddDate(1, 0, 0)}
	}

	if rng := resolveDaysAgo(q, day); rng != nil {
		return rng
	}
	return resolveMonthName(q, day)
}

// resolveDaysAgo handles "N days ago" and "last N days".
func resolveDaysAgo(q string, day time.Time) *DateRange {
	words := strings.Fields(q)
	for i, w := range words {
		n, ok := parseSmallNumber(w)
		if !ok {
			continue
		}
		if i+2 < len(words) && strings.HasPrefix(words[i+1], "day") && strings.HasPrefix(words[i+2], "ago") {
			start := day.AddDate(0, 0, -n)
			return &DateRange{Start: start, End: start.AddDate(0, 0, 1)}
		}
		if i >= 1 && (words[i-1] == "last" || words[i-1] == "past") && i+1 < len(words) && strings.HasPrefix(words[i+1], "day") {
			return &DateRange{Start: day.AddDate(0, 0, -n), End: day.AddDate(0, 0, 1)}
		}
	}
	return nil
}

// resolveMonthName handles "in March" style phrases. The most recent such
// month not after the reference time is chosen.
func resolveMonthName(q string, day time.Time) *DateRange {
	words := strings.Fields(q)
	for i, w := range words {
		if i == 0 || (words[i-1] != "in" && words[i-1] != "during" && words[i-1] != "from") {
			continue
		}
		month, ok := monthNames[strings.Trim(w, ".,!?")]
		if !ok {
			continue
		}
		year := day.Year()
		if month > day.Month() {
			year--
		}
		start := time.Date(year, month, 1, 0, 0, 0, 0, day.Location())
		return &DateRange{Start: start, End: start.AddDate(0, 1, 0)}
	}
	return nil
}

func parseSmallNumber(w string) (int, bool) {
	switch w {
	case "two":
		return 2, true
	case "three":
		return 3, true
	case "four":
		return 4, true
	case "five":
		return 5, true
	case "six":
		return 6, true
	case "seven":
		return 7, true
	}
	n := 0
	for _, r := range w {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
		if n > 3650 {
			return 0, false
		}
	}
	if w == "" || n == 0 {
		return 0, false
	}
	return n, true
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// startOfWeek returns the Monday of t's week.
func startOfWeek(day time.Time) time.Time {
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func startOfYear(t time.Time) time.Time {
	return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, t.Location())
}
