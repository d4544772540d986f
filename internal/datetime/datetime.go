// Package datetime parses the timestamps accepted by the calendar tools.
package datetime

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// ErrUnparseable is returned when a value matches no known format.
var ErrUnparseable = errors.New("unrecognized date/time")

// Zoned layouts carry their own offset.
var zonedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"20060102T150405Z",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04Z07:00",
}

// Local layouts are interpreted in the parser's location.
var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"20060102T150405",
}

const dateLayout = "2006-01-02"

// Parser converts user-supplied timestamps to time.Time.
type Parser struct {
	loc  *time.Location
	when *when.Parser
	now  func() time.Time
}

// NewParser returns a parser that interprets local timestamps in loc.
func NewParser(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.Local
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &Parser{loc: loc, when: w, now: time.Now}
}

// Location returns the zone local timestamps are interpreted in.
func (p *Parser) Location() *time.Location {
	return p.loc
}

// Parse accepts ISO-8601 timestamps with or without an offset, plain dates,
// and English phrases such as "tomorrow 3pm". dateOnly reports whether value
// named a day without a time of day.
func (p *Parser) Parse(value string) (t time.Time, dateOnly bool, err error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, false, fmt.Errorf("%w: empty value", ErrUnparseable)
	}

	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, false, nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, v, p.loc); err == nil {
			return t, false, nil
		}
	}
	if t, err := time.ParseInLocation(dateLayout, v, p.loc); err == nil {
		return t, true, nil
	}

	// Natural language, relative to now in the configured zone.
	result, err := p.when.Parse(v, p.now().In(p.loc))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse %q: %w", value, err)
	}
	if result == nil {
		return time.Time{}, false, fmt.Errorf("%w: %q (use ISO-8601 such as 2025-01-17T13:00:00)", ErrUnparseable, value)
	}
	return result.Time, false, nil
}

// ParseDate parses value and truncates it to midnight in the parser's zone.
func (p *Parser) ParseDate(value string) (time.Time, error) {
	t, _, err := p.Parse(value)
	if err != nil {
		return time.Time{}, err
	}
	t = t.In(p.loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, p.loc), nil
}
