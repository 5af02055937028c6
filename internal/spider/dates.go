package spider

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ptMonths maps month names as gazette sites print them. Unaccented
// variants appear on older pages and stay here on purpose.
var ptMonths = map[string]time.Month{
	"janeiro":   time.January,
	"fevereiro": time.February,
	"março":     time.March,
	"marco":     time.March,
	"abril":     time.April,
	"maio":      time.May,
	"junho":     time.June,
	"julho":     time.July,
	"agosto":    time.August,
	"setembro":  time.September,
	"outubro":   time.October,
	"novembro":  time.November,
	"dezembro":  time.December,
}

// ParsePortugueseDate parses long-form dates like "10 de Março de 2025".
func ParsePortugueseDate(s string) (time.Time, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), " de ")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("parse date %q: want «dia de mês de ano»", s)
	}

	day, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: day: %w", s, err)
	}

	month, ok := ptMonths[strings.TrimSpace(parts[1])]
	if !ok {
		return time.Time{}, fmt.Errorf("parse date %q: unknown month %q", s, parts[1])
	}

	year, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: year: %w", s, err)
	}

	if day < 1 || day > 31 {
		return time.Time{}, fmt.Errorf("parse date %q: day out of range", s)
	}

	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), nil
}

// ParseNumericDate parses dd/mm/yyyy.
func ParseNumericDate(s string) (time.Time, error) {
	t, err := time.Parse("02/01/2006", strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}

	return t, nil
}

// monthsIn lists the first day of every month the range touches, oldest
// first.
func monthsIn(r DateRange) []time.Time {
	var months []time.Time

	cur := time.Date(r.Start.Year(), r.Start.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(r.End.Year(), r.End.Month(), 1, 0, 0, 0, 0, time.UTC)

	for !cur.After(last) {
		months = append(months, cur)
		cur = cur.AddDate(0, 1, 0)
	}

	return months
}

// daysIn lists every day in the range, oldest first.
func daysIn(r DateRange) []time.Time {
	var days []time.Time

	cur := time.Date(r.Start.Year(), r.Start.Month(), r.Start.Day(), 0, 0, 0, 0, time.UTC)
	last := time.Date(r.End.Year(), r.End.Month(), r.End.Day(), 0, 0, 0, 0, time.UTC)

	for !cur.After(last) {
		days = append(days, cur)
		cur = cur.AddDate(0, 0, 1)
	}

	return days
}

// digitsOnly strips everything but digits; edition numbers arrive as
// "Edição nº 1.542" and are stored as "1542".
func digitsOnly(s string) string {
	var b strings.Builder

	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	return b.String()
}
