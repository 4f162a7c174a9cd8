package parser

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

var (
	clockRegex    = regexp.MustCompile(`(?i)\b([01]?\d|2[0-3]):([0-5]\d)(?:\s*(am|pm)\b)?`)
	meridiemRegex = regexp.MustCompile(`(?i)\b(1[0-2]|0?[1-9])\s*(am|pm)\b`)
	namedRegex    = regexp.MustCompile(`(?i)\b(noon|midday|midnight)\b`)
)

type timeMatch struct {
	start, end   int
	hour, minute int
}

// on places the time of day on the given calendar day, keeping its location.
func (t timeMatch) on(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), t.hour, t.minute, 0, 0, day.Location())
}

// extractTimes returns at most two times of day, in text order.
func extractTimes(text string) []timeMatch {
	var candidates []timeMatch

	for _, m := range clockRegex.FindAllStringSubmatchIndex(text, -1) {
		hour := atoi(text[m[2]:m[3]])
		if m[6] >= 0 {
			if hour == 0 || hour > 12 {
				continue
			}
			hour = to24(hour, text[m[6]:m[7]])
		}
		candidates = append(candidates, timeMatch{
			start:  m[0],
			end:    m[1],
			hour:   hour,
			minute: atoi(text[m[4]:m[5]]),
		})
	}

	for _, m := range meridiemRegex.FindAllStringSubmatchIndex(text, -1) {
		candidates = append(candidates, timeMatch{
			start: m[0],
			end:   m[1],
			hour:  to24(atoi(text[m[2]:m[3]]), text[m[4]:m[5]]),
		})
	}

	for _, m := range namedRegex.FindAllStringSubmatchIndex(text, -1) {
		tm := timeMatch{start: m[0], end: m[1], hour: 12}
		if strings.EqualFold(text[m[2]:m[3]], "midnight") {
			tm.hour = 0
		}
		candidates = append(candidates, tm)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].start != candidates[j].start {
			return candidates[i].start < candidates[j].start
		}
		return candidates[i].end > candidates[j].end
	})

	var times []timeMatch
	lastEnd := -1
	for _, c := range candidates {
		if c.start < lastEnd {
			continue
		}
		lastEnd = c.end
		times = append(times, c)
		if len(times) == 2 {
			break
		}
	}
	return times
}

func to24(hour int, meridiem string) int {
	pm := strings.HasPrefix(strings.ToLower(meridiem), "p")
	switch {
	case pm && hour < 12:
		return hour + 12
	case !pm && hour == 12:
		return 0
	}
	return hour
}
