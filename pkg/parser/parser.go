// Package parser turns free-form chat text into a task descriptor.
//
// Extraction runs in a fixed order and each stage removes what it matched
// before the next one looks at the text: workspace tag, project tag, title,
// dates, times. Nothing here fails; fields that cannot be recognised stay unset.
package parser

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/harrisonrobin/tasklink/pkg/model"
)

var (
	workspaceRegex = regexp.MustCompile(`#(\w+)`)
	projectRegex   = regexp.MustCompile(`\[((?:\s|\w)+)\]`)
	titleRegex     = regexp.MustCompile(`(?s)^\s*(.*?)\s*(?:(?i:\bby\b)|,|(?i:\bfrom\b).+(?i:\bto)\s|$)`)
)

// Options configure date and time recognition.
type Options struct {
	// Locale decides how numeric dates are read: "en" and "en-US" are month
	// first, every other locale is day first.
	Locale string
	// Timezone is an IANA name; times are stamped with its UTC offset.
	Timezone string
	// LookbackMonths and LookaheadMonths bound the dates accepted around now.
	LookbackMonths  int
	LookaheadMonths int
	// Now overrides the clock, mostly for tests.
	Now func() time.Time
}

// Parser holds the resolved locale and timezone settings.
type Parser struct {
	loc        *time.Location
	monthFirst bool
	lookback   int
	lookahead  int
	now        func() time.Time
}

// New builds a Parser, failing only on an unknown timezone.
func New(opts Options) (*Parser, error) {
	loc := time.Local
	if opts.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(opts.Timezone)
		if err != nil {
			return nil, fmt.Errorf("failed to load timezone '%s': %w", opts.Timezone, err)
		}
	}
	p := &Parser{
		loc:        loc,
		monthFirst: monthFirstLocale(opts.Locale),
		lookback:   opts.LookbackMonths,
		lookahead:  opts.LookaheadMonths,
		now:        opts.Now,
	}
	if p.lookback <= 0 {
		p.lookback = 2
	}
	if p.lookahead <= 0 {
		p.lookahead = 4
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

func monthFirstLocale(locale string) bool {
	switch strings.ToLower(strings.ReplaceAll(locale, "_", "-")) {
	case "", "en", "en-us":
		return true
	}
	return false
}

// Parse extracts a task descriptor from text.
func (p *Parser) Parse(text string) model.TaskDescriptor {
	var task model.TaskDescriptor

	if m := workspaceRegex.FindStringSubmatch(text); m != nil {
		task.Workspace = strings.TrimSpace(m[1])
		text = strings.Replace(text, m[0], "", 1)
	}

	if m := projectRegex.FindStringSubmatch(text); m != nil {
		task.Project = strings.TrimSpace(m[1])
		text = strings.Replace(text, m[0], "", 1)
	}

	if m := titleRegex.FindStringSubmatch(text); m != nil {
		task.Title = collapseSpaces(m[1])
	}

	today := dateOf(p.now().In(p.loc))
	dates := p.extractDates(text, today)
	times := extractTimes(text)

	var start, end *model.DateBound
	if len(dates) > 0 {
		start = model.NewDate(dates[0])
	}
	if len(dates) > 1 {
		end = model.NewDate(dates[1])
	}

	if len(times) > 0 {
		startDay := today
		if len(dates) > 0 {
			startDay = dates[0]
		}
		start = model.NewDateTime(times[0].on(startDay))

		if len(times) > 1 {
			endDay := startDay
			if len(dates) > 1 {
				endDay = dates[1]
			}
			end = model.NewDateTime(times[1].on(endDay))
		}
	}

	if start != nil {
		task.Date = &model.DateRange{Start: start, End: end}
	}
	return task
}

// StripMarker removes the task marker from the start of text. The second
// result reports whether the marker was present.
func StripMarker(text, marker string) (string, bool) {
	if marker == "" {
		return text, true
	}
	return strings.CutPrefix(text, marker)
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
