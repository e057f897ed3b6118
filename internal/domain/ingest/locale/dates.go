package locale

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateOrder is the field order of numeric dates in a file. It is resolved
// once over the whole date column: a single row like 03/04/2024 is ambiguous,
// but any row with a first group above 12 settles the file on day-first.
type DateOrder int

const (
	OrderUnknown DateOrder = iota
	OrderYMD
	OrderDMY
	OrderMDY
)

var numericDateRe = regexp.MustCompile(`^(\d{1,4})[./-](\d{1,2})[./-](\d{2,4})$`)

// DetectDateOrder inspects every value in a date column. Four-digit leading
// groups mean ISO order. For two-group-first dates, a first group above 12
// proves day-first and a second group above 12 proves month-first. A file
// where no row disambiguates stays unknown and the caller falls back to
// day-first, with the per-row signal cleared.
func DetectDateOrder(values []string) DateOrder {
	for _, v := range values {
		m := numericDateRe.FindStringSubmatch(strings.TrimSpace(v))
		if m == nil {
			continue
		}
		if len(m[1]) == 4 {
			return OrderYMD
		}
		first, _ := strconv.Atoi(m[1])
		second, _ := strconv.Atoi(m[2])
		if first > 12 {
			return OrderDMY
		}
		if second > 12 {
			return OrderMDY
		}
	}
	return OrderUnknown
}

// ParseDate parses one cell under the file's resolved order. The second
// return distinguishes "did not parse" from success; the third reports
// whether the order was proven rather than assumed.
func ParseDate(s string, order DateOrder) (time.Time, bool, bool) {
	s = strings.TrimSpace(s)
	m := numericDateRe.FindStringSubmatch(s)
	if m == nil {
		// Textual month forms such as "15 Jan 2024".
		for _, layout := range []string{"2 Jan 2006", "Jan 2, 2006", "2-Jan-2006"} {
			if t, err := time.Parse(layout, s); err == nil {
				return midnightUTC(t), true, true
			}
		}
		return time.Time{}, false, false
	}

	if len(m[1]) == 4 {
		return assembleDate(m[1], m[2], m[3])
	}

	day, month, year := m[1], m[2], m[3]
	matched := true
	switch order {
	case OrderMDY:
		day, month = m[2], m[1]
	case OrderDMY, OrderYMD:
	default:
		// Unproven order: assume day-first but say so.
		matched = false
	}
	t, ok, _ := assembleDate(year, month, day)
	return t, ok, ok && matched
}

// LooksLikeDate reports whether a cell is date-shaped under any order.
func LooksLikeDate(s string) bool {
	_, ok, _ := ParseDate(s, OrderUnknown)
	return ok
}

func assembleDate(year, month, day string) (time.Time, bool, bool) {
	y, err := strconv.Atoi(year)
	if err != nil {
		return time.Time{}, false, false
	}
	if len(year) == 2 {
		y += 2000
	}
	mo, _ := strconv.Atoi(month)
	d, _ := strconv.Atoi(day)
	if mo < 1 || mo > 12 || d < 1 || d > 31 {
		return time.Time{}, false, false
	}
	t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes overflow (Feb 30 becomes Mar 1); reject that.
	if t.Day() != d || t.Month() != time.Month(mo) {
		return time.Time{}, false, false
	}
	return t, true, true
}

func midnightUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
