package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// Frequency is the FREQ part of a recurrence rule.
type Frequency string

const (
	Daily   Frequency = "DAILY"
	Weekly  Frequency = "WEEKLY"
	Monthly Frequency = "MONTHLY"
	Yearly  Frequency = "YEARLY"
)

var frequencies = map[Frequency]rrule.Frequency{
	Daily:   rrule.DAILY,
	Weekly:  rrule.WEEKLY,
	Monthly: rrule.MONTHLY,
	Yearly:  rrule.YEARLY,
}

// ParseFrequency accepts the frequency names in any case.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := frequencies[f]; !ok {
		return "", fmt.Errorf("unsupported frequency %q (expected daily, weekly, monthly or yearly)", s)
	}
	return f, nil
}

// Recurrence is a structured recurrence rule. It is passed through to the
// server as an RRULE; occurrences are never expanded locally.
type Recurrence struct {
	Frequency Frequency
	Interval  int
	Count     int
	Until     time.Time
	Weekdays  []time.Weekday
}

var weekdaysToRRule = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

// Validate checks the rule without contacting the server.
func (r *Recurrence) Validate() error {
	if _, ok := frequencies[r.Frequency]; !ok {
		return fmt.Errorf("unsupported frequency %q", r.Frequency)
	}
	if r.Interval < 0 {
		return fmt.Errorf("interval must be at least 1, got %d", r.Interval)
	}
	if r.Count < 0 {
		return fmt.Errorf("count must be positive, got %d", r.Count)
	}
	if r.Count > 0 && !r.Until.IsZero() {
		return fmt.Errorf("only one of count or until can be set")
	}
	for _, day := range r.Weekdays {
		if _, ok := weekdaysToRRule[day]; !ok {
			return fmt.Errorf("invalid weekday %d", day)
		}
	}
	if _, err := rrule.NewRRule(r.option()); err != nil {
		return fmt.Errorf("invalid recurrence rule: %w", err)
	}
	return nil
}

func (r *Recurrence) option() rrule.ROption {
	opt := rrule.ROption{
		Freq:  frequencies[r.Frequency],
		Count: r.Count,
	}
	if r.Interval > 1 {
		opt.Interval = r.Interval
	}
	if !r.Until.IsZero() {
		opt.Until = r.Until.UTC()
	}
	for _, day := range r.Weekdays {
		opt.Byweekday = append(opt.Byweekday, weekdaysToRRule[day])
	}
	return opt
}

// RRule renders the rule as the value of an RRULE property.
func (r *Recurrence) RRule() (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}
	opt := r.option()
	return opt.RRuleString(), nil
}

// parseRRule converts an RRULE property value back into a Recurrence.
func parseRRule(value string) (*Recurrence, error) {
	opt, err := rrule.StrToROption(value)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RRULE %q: %w", value, err)
	}

	r := &Recurrence{
		Interval: opt.Interval,
		Count:    opt.Count,
		Until:    opt.Until,
	}
	if r.Interval == 0 {
		r.Interval = 1
	}
	for name, freq := range frequencies {
		if freq == opt.Freq {
			r.Frequency = name
			break
		}
	}
	if r.Frequency == "" {
		return nil, fmt.Errorf("unsupported RRULE frequency in %q", value)
	}
	for _, wd := range opt.Byweekday {
		for day, rwd := range weekdaysToRRule {
			if rwd.Day() == wd.Day() {
				r.Weekdays = append(r.Weekdays, day)
				break
			}
		}
	}
	return r, nil
}

// String is a short human-readable description used in tool output.
func (r *Recurrence) String() string {
	parts := []string{string(r.Frequency)}
	if r.Interval > 1 {
		parts = append(parts, fmt.Sprintf("every %d", r.Interval))
	}
	if len(r.Weekdays) > 0 {
		var days []string
		for _, d := range r.Weekdays {
			days = append(days, d.String()[:3])
		}
		parts = append(parts, "on "+strings.Join(days, ","))
	}
	if r.Count > 0 {
		parts = append(parts, fmt.Sprintf("%d times", r.Count))
	}
	if !r.Until.IsZero() {
		parts = append(parts, "until "+r.Until.Format("2006-01-02"))
	}
	return strings.Join(parts, ", ")
}
