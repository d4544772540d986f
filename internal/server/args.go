package server

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/beekhof/mcp-ical/internal/calendar"
	"github.com/beekhof/mcp-ical/internal/datetime"
)

// arguments are the decoded JSON arguments of a tool call. A key whose value
// is null counts as absent.
type arguments map[string]any

func invalidArgument(op, format string, a ...any) error {
	return &calendar.Error{Kind: calendar.ErrInvalidInput, Op: op, Detail: fmt.Sprintf(format, a...)}
}

func (a arguments) value(key string) (any, bool) {
	v, ok := a[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func (a arguments) has(key string) bool {
	_, ok := a.value(key)
	return ok
}

// first returns the first of keys that is present, so aliases can be accepted.
func (a arguments) first(keys ...string) string {
	for _, k := range keys {
		if a.has(k) {
			return k
		}
	}
	return ""
}

func (a arguments) str(op, key string) (string, bool, error) {
	v, ok := a.value(key)
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, invalidArgument(op, "%s must be a string", key)
	}
	return s, true, nil
}

func (a arguments) requireString(op, key string) (string, error) {
	s, ok, err := a.str(op, key)
	if err != nil {
		return "", err
	}
	if !ok || strings.TrimSpace(s) == "" {
		return "", invalidArgument(op, "%s is required", key)
	}
	return s, nil
}

// optString returns the trimmed value or "" when absent.
func (a arguments) optString(op, key string) (string, error) {
	s, _, err := a.str(op, key)
	return strings.TrimSpace(s), err
}

func (a arguments) boolean(op, key string) (bool, bool, error) {
	v, ok := a.value(key)
	if !ok {
		return false, false, nil
	}
	switch b := v.(type) {
	case bool:
		return b, true, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, false, invalidArgument(op, "%s must be true or false", key)
		}
		return parsed, true, nil
	default:
		return false, false, invalidArgument(op, "%s must be a boolean", key)
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}

func (a arguments) integer(op, key string) (int, bool, error) {
	v, ok := a.value(key)
	if !ok {
		return 0, false, nil
	}
	n, ok := toInt(v)
	if !ok {
		return 0, false, invalidArgument(op, "%s must be an integer", key)
	}
	return n, true, nil
}

// intList accepts a JSON array of integers or a single integer.
func (a arguments) intList(op, key string) ([]int, bool, error) {
	v, ok := a.value(key)
	if !ok {
		return nil, false, nil
	}
	items, isList := v.([]any)
	if !isList {
		items = []any{v}
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		n, ok := toInt(item)
		if !ok {
			return nil, false, invalidArgument(op, "%s must be a list of integers", key)
		}
		out = append(out, n)
	}
	return out, true, nil
}

// timestamp parses key with p. dateOnly is set for plain dates.
func (a arguments) timestamp(op, key string, p *datetime.Parser) (t time.Time, dateOnly bool, present bool, err error) {
	s, ok, err := a.str(op, key)
	if err != nil || !ok {
		return time.Time{}, false, false, err
	}
	t, dateOnly, err = p.Parse(s)
	if err != nil {
		return time.Time{}, false, false, invalidArgument(op, "%s: %v", key, err)
	}
	return t, dateOnly, true, nil
}

// alarms merges alarms_minutes_offsets with the single alarm_minutes_before.
func (a arguments) alarms(op string) ([]int, bool, error) {
	list, okList, err := a.intList(op, a.first("alarms_minutes_offsets", "reminder_offsets"))
	if err != nil {
		return nil, false, err
	}
	single, okSingle, err := a.integer(op, "alarm_minutes_before")
	if err != nil {
		return nil, false, err
	}
	if okSingle {
		list = append(list, single)
	}
	return list, okList || okSingle, nil
}

// Days of week are 1 (Sunday) through 7 (Saturday), or day names.
var weekdayNames = map[string]time.Weekday{
	"su": time.Sunday, "sun": time.Sunday, "sunday": time.Sunday,
	"mo": time.Monday, "mon": time.Monday, "monday": time.Monday,
	"tu": time.Tuesday, "tue": time.Tuesday, "tuesday": time.Tuesday,
	"we": time.Wednesday, "wed": time.Wednesday, "wednesday": time.Wednesday,
	"th": time.Thursday, "thu": time.Thursday, "thursday": time.Thursday,
	"fr": time.Friday, "fri": time.Friday, "friday": time.Friday,
	"sa": time.Saturday, "sat": time.Saturday, "saturday": time.Saturday,
}

func parseWeekday(v any) (time.Weekday, bool) {
	if s, ok := v.(string); ok {
		if d, ok := weekdayNames[strings.ToLower(strings.TrimSpace(s))]; ok {
			return d, true
		}
	}
	n, ok := toInt(v)
	if !ok || n < 1 || n > 7 {
		return 0, false
	}
	return time.Weekday(n - 1), true
}

var frequencyNumbers = []calendar.Frequency{calendar.Daily, calendar.Weekly, calendar.Monthly, calendar.Yearly}

// recurrence decodes the recurrence object of create_event and update_event.
func (a arguments) recurrence(op string, p *datetime.Parser) (*calendar.Recurrence, bool, error) {
	key := a.first("recurrence", "recurrence_rule")
	if key == "" {
		return nil, false, nil
	}
	v, _ := a.value(key)
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, false, invalidArgument(op, "%s must be an object", key)
	}
	r := arguments(obj)

	rule := &calendar.Recurrence{Interval: 1}

	freq, ok := r.value("frequency")
	if !ok {
		return nil, false, invalidArgument(op, "%s.frequency is required", key)
	}
	if s, isString := freq.(string); isString {
		if n, err := strconv.Atoi(s); err == nil {
			freq = n
		} else if rule.Frequency, err = calendar.ParseFrequency(s); err != nil {
			return nil, false, invalidArgument(op, "%s.frequency: %v", key, err)
		}
	}
	if rule.Frequency == "" {
		n, ok := toInt(freq)
		if !ok || n < 0 || n >= len(frequencyNumbers) {
			return nil, false, invalidArgument(op, "%s.frequency must be daily, weekly, monthly or yearly", key)
		}
		rule.Frequency = frequencyNumbers[n]
	}

	if n, ok, err := r.integer(op, "interval"); err != nil {
		return nil, false, err
	} else if ok {
		if n < 1 {
			return nil, false, invalidArgument(op, "%s.interval must be at least 1", key)
		}
		rule.Interval = n
	}

	if n, ok, err := r.integer(op, r.first("count", "occurrence_count")); err != nil {
		return nil, false, err
	} else if ok {
		if n < 1 {
			return nil, false, invalidArgument(op, "%s.count must be at least 1", key)
		}
		rule.Count = n
	}

	if until, _, ok, err := r.timestamp(op, r.first("end_date", "until"), p); err != nil {
		return nil, false, err
	} else if ok {
		rule.Until = until
	}

	if days, ok := r.value("days_of_week"); ok {
		list, isList := days.([]any)
		if !isList {
			list = []any{days}
		}
		for _, d := range list {
			wd, ok := parseWeekday(d)
			if !ok {
				return nil, false, invalidArgument(op, "%s.days_of_week: %v is not a day (1=Sunday ... 7=Saturday)", key, d)
			}
			rule.Weekdays = append(rule.Weekdays, wd)
		}
	}

	if err := rule.Validate(); err != nil {
		return nil, false, invalidArgument(op, "%s: %v", key, err)
	}
	return rule, true, nil
}
