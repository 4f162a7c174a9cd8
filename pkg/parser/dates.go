package parser

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const monthPattern = `(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\.?`

var (
	isoDateRegex     = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	numericDateRegex = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{4}|\d{2}))?\b`)
	dayMonthRegex    = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?(?:\s+of)?\s+` + monthPattern + `(?:\s+(\d{4}))?\b`)
	monthDayRegex    = regexp.MustCompile(`(?i)\b` + monthPattern + `\s+(\d{1,2})(?:st|nd|rd|th)?\b(?:,?\s+(\d{4})\b)?`)
	relativeDayRegex = regexp.MustCompile(`(?i)\b(day after tomorrow|today|tonight|tomorrow|tmrw?|yesterday)\b`)
	inDurationRegex  = regexp.MustCompile(`(?i)\bin\s+(\d+|an?|one|two|three|four|five|six|seven|eight|nine|ten)\s+(day|week|month)s?\b`)
	nextWeekRegex    = regexp.MustCompile(`(?i)\bnext\s+week\b`)
	weekdayRegex     = regexp.MustCompile(`(?i)\b(?:(next|this|coming)\s+)?(monday|mon|tuesday|tues|tue|wednesday|wed|thursday|thurs|thur|thu|friday|fri|saturday|sunday)\b`)
	wordNumbers      = map[string]int{"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10}
	weekdayByPrefix  = map[string]time.Weekday{"mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday, "thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday, "sun": time.Sunday}
	monthByPrefix    = map[string]time.Month{"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April, "may": time.May, "jun": time.June, "jul": time.July, "aug": time.August, "sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December}
)

// dateMatch is a candidate date found in the text. Candidates without an
// explicit year carry yearless=true and are placed inside the window later.
type dateMatch struct {
	start, end int
	year       int
	month      time.Month
	day        int
	yearless   bool
	// fixed is set for relative expressions that already resolved to a day.
	fixed time.Time
}

// extractDates returns at most two dates, in text order, that fall inside the
// accepted window around today.
func (p *Parser) extractDates(text string, today time.Time) []time.Time {
	var candidates []dateMatch

	for _, m := range isoDateRegex.FindAllStringSubmatchIndex(text, -1) {
		candidates = append(candidates, dateMatch{
			start: m[0],
			end:   m[1],
			year:  atoi(text[m[2]:m[3]]),
			month: time.Month(atoi(text[m[4]:m[5]])),
			day:   atoi(text[m[6]:m[7]]),
		})
	}

	for _, m := range numericDateRegex.FindAllStringSubmatchIndex(text, -1) {
		first, second := atoi(text[m[2]:m[3]]), atoi(text[m[4]:m[5]])
		dm := dateMatch{start: m[0], end: m[1], yearless: true}
		if p.monthFirst {
			dm.month, dm.day = time.Month(first), second
		} else {
			dm.month, dm.day = time.Month(second), first
		}
		if m[6] >= 0 {
			dm.year = fullYear(atoi(text[m[6]:m[7]]))
			dm.yearless = false
		}
		candidates = append(candidates, dm)
	}

	for _, m := range dayMonthRegex.FindAllStringSubmatchIndex(text, -1) {
		dm := dateMatch{
			start:    m[0],
			end:      m[1],
			day:      atoi(text[m[2]:m[3]]),
			month:    monthByPrefix[strings.ToLower(text[m[4]:m[4]+3])],
			yearless: true,
		}
		if m[6] >= 0 {
			dm.year = atoi(text[m[6]:m[7]])
			dm.yearless = false
		}
		candidates = append(candidates, dm)
	}

	for _, m := range monthDayRegex.FindAllStringSubmatchIndex(text, -1) {
		dm := dateMatch{
			start:    m[0],
			end:      m[1],
			month:    monthByPrefix[strings.ToLower(text[m[2]:m[2]+3])],
			day:      atoi(text[m[4]:m[5]]),
			yearless: true,
		}
		if m[6] >= 0 {
			dm.year = atoi(text[m[6]:m[7]])
			dm.yearless = false
		}
		candidates = append(candidates, dm)
	}

	for _, m := range relativeDayRegex.FindAllStringSubmatchIndex(text, -1) {
		var offset int
		switch strings.ToLower(text[m[2]:m[3]]) {
		case "day after tomorrow":
			offset = 2
		case "tomorrow", "tmr", "tmrw":
			offset = 1
		case "yesterday":
			offset = -1
		}
		candidates = append(candidates, dateMatch{start: m[0], end: m[1], fixed: today.AddDate(0, 0, offset)})
	}

	for _, m := range inDurationRegex.FindAllStringSubmatchIndex(text, -1) {
		n := wordNumbers[strings.ToLower(text[m[2]:m[3]])]
		if n == 0 {
			n = atoi(text[m[2]:m[3]])
		}
		var fixed time.Time
		switch strings.ToLower(text[m[4]:m[5]]) {
		case "day":
			fixed = today.AddDate(0, 0, n)
		case "week":
			fixed = today.AddDate(0, 0, 7*n)
		case "month":
			fixed = today.AddDate(0, n, 0)
		}
		candidates = append(candidates, dateMatch{start: m[0], end: m[1], fixed: fixed})
	}

	for _, m := range nextWeekRegex.FindAllStringIndex(text, -1) {
		candidates = append(candidates, dateMatch{start: m[0], end: m[1], fixed: today.AddDate(0, 0, 7)})
	}

	for _, m := range weekdayRegex.FindAllStringSubmatchIndex(text, -1) {
		wd := weekdayByPrefix[strings.ToLower(text[m[4]:m[4]+3])]
		ahead := (int(wd) - int(today.Weekday()) + 7) % 7
		if m[2] >= 0 && strings.EqualFold(text[m[2]:m[3]], "next") && ahead == 0 {
			ahead = 7
		}
		candidates = append(candidates, dateMatch{start: m[0], end: m[1], fixed: today.AddDate(0, 0, ahead)})
	}

	// Earlier matches win; at the same position the longer one does.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].start != candidates[j].start {
			return candidates[i].start < candidates[j].start
		}
		return candidates[i].end > candidates[j].end
	})

	var dates []time.Time
	lastEnd := -1
	for _, c := range candidates {
		if c.start < lastEnd {
			continue
		}
		lastEnd = c.end
		if d, ok := p.resolve(c, today); ok {
			dates = append(dates, d)
			if len(dates) == 2 {
				break
			}
		}
	}
	return dates
}

// resolve turns a candidate into a concrete day and applies the window.
func (p *Parser) resolve(c dateMatch, today time.Time) (time.Time, bool) {
	if !c.fixed.IsZero() {
		return c.fixed, p.inWindow(c.fixed, today)
	}
	if !c.yearless {
		d, ok := calendarDate(c.year, c.month, c.day, p.loc)
		return d, ok && p.inWindow(d, today)
	}

	// Yearless dates take the nearest occurrence inside the window, upcoming
	// ones first.
	var best time.Time
	for _, y := range []int{today.Year(), today.Year() + 1, today.Year() - 1} {
		d, ok := calendarDate(y, c.month, c.day, p.loc)
		if !ok || !p.inWindow(d, today) {
			continue
		}
		if best.IsZero() || (!d.Before(today) && (best.Before(today) || d.Before(best))) {
			best = d
		}
	}
	return best, !best.IsZero()
}

func (p *Parser) inWindow(d, today time.Time) bool {
	return !d.Before(today.AddDate(0, -p.lookback, 0)) && !d.After(today.AddDate(0, p.lookahead, 0))
}

// calendarDate rejects impossible days such as 31/2 instead of normalising them.
func calendarDate(y int, m time.Month, d int, loc *time.Location) (time.Time, bool) {
	if m < time.January || m > time.December || d < 1 {
		return time.Time{}, false
	}
	t := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return t, t.Month() == m && t.Day() == d
}

func fullYear(y int) int {
	if y < 100 {
		return 2000 + y
	}
	return y
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
