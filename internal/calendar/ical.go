package calendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"
)

const productID = "-//mcp-ical//EN"

// masterEvent returns the VEVENT that carries the series (the one without a
// RECURRENCE-ID), falling back to the first VEVENT.
func masterEvent(cal *ical.Calendar) *ical.Component {
	var first *ical.Component
	for _, comp := range cal.Children {
		if comp.Name != ical.CompEvent {
			continue
		}
		if first == nil {
			first = comp
		}
		if comp.Props.Get(ical.PropRecurrenceID) == nil {
			return comp
		}
	}
	return first
}

// eventFromICal decodes the fields this package models from an iCalendar
// object. Only a missing VEVENT is an error; malformed properties are left at
// their zero value so the event stays addressable by UID and href.
func eventFromICal(cal *ical.Calendar, loc *time.Location) (*Event, error) {
	vevent := masterEvent(cal)
	if vevent == nil {
		return nil, fmt.Errorf("no VEVENT found in calendar")
	}
	if loc == nil {
		loc = time.UTC
	}

	event := &Event{Data: cal}

	if uid := vevent.Props.Get(ical.PropUID); uid != nil {
		event.UID = uid.Value
	}
	event.Title = propText(vevent, ical.PropSummary)
	event.Description = propText(vevent, ical.PropDescription)
	event.Location = propText(vevent, ical.PropLocation)
	if u := vevent.Props.Get(ical.PropURL); u != nil {
		event.URL = u.Value
	}

	if dtstart := vevent.Props.Get(ical.PropDateTimeStart); dtstart != nil {
		event.AllDay = dtstart.ValueType() == ical.ValueDate
		if t, err := dtstart.DateTime(loc); err == nil {
			event.Start = t
		}
	}
	if dtend := vevent.Props.Get(ical.PropDateTimeEnd); dtend != nil {
		if t, err := dtend.DateTime(loc); err == nil {
			event.End = t
		}
	} else if !event.Start.IsZero() {
		// RFC 5545: without DTEND the event lasts DURATION, else an all-day
		// event lasts one day and a timed event has no duration.
		if dur, ok := eventDuration(vevent); ok {
			if day := 24 * time.Hour; event.AllDay && dur%day == 0 {
				event.End = event.Start.AddDate(0, 0, int(dur/day))
			} else {
				event.End = event.Start.Add(dur)
			}
		} else if event.AllDay {
			event.End = event.Start.AddDate(0, 0, 1)
		} else {
			event.End = event.Start
		}
	}

	if lm := vevent.Props.Get(ical.PropLastModified); lm != nil {
		if t, err := lm.DateTime(loc); err == nil {
			event.LastModified = t
		}
	}

	if rrule := vevent.Props.Get(ical.PropRecurrenceRule); rrule != nil {
		if r, err := parseRRule(rrule.Value); err == nil {
			event.Recurrence = r
		}
	}

	if organizer := vevent.Props.Get(ical.PropOrganizer); organizer != nil {
		event.Organizer = attendeeName(organizer)
	}
	for _, attendee := range vevent.Props.Values(ical.PropAttendee) {
		event.Attendees = append(event.Attendees, attendeeName(&attendee))
	}

	for _, child := range vevent.Children {
		if child.Name != ical.CompAlarm {
			continue
		}
		trigger := child.Props.Get(ical.PropTrigger)
		if trigger == nil {
			continue
		}
		if minutes, ok := parseTrigger(trigger.Value); ok {
			event.Alarms = append(event.Alarms, minutes)
		}
	}

	return event, nil
}

func eventDuration(vevent *ical.Component) (time.Duration, bool) {
	prop := vevent.Props.Get(ical.PropDuration)
	if prop == nil {
		return 0, false
	}
	dur, err := prop.Duration()
	if err != nil || dur < 0 {
		return 0, false
	}
	return dur, true
}

func propText(comp *ical.Component, name string) string {
	prop := comp.Props.Get(name)
	if prop == nil {
		return ""
	}
	text, err := prop.Text()
	if err != nil {
		return prop.Value
	}
	return text
}

func attendeeName(prop *ical.Prop) string {
	if cn := prop.Params.Get(ical.ParamCommonName); cn != "" {
		return cn
	}
	return strings.TrimPrefix(strings.TrimPrefix(prop.Value, "mailto:"), "MAILTO:")
}

// newEventCalendar builds the iCalendar object for a new event.
func newEventCalendar(uid string, fields EventFields, now time.Time) (*ical.Calendar, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	vevent := ical.NewComponent(ical.CompEvent)
	cal.Children = append(cal.Children, vevent)

	vevent.Props.SetText(ical.PropUID, uid)
	vevent.Props.SetText(ical.PropSummary, fields.Title)
	setEventTimes(vevent, fields.Start, fields.End, fields.AllDay)

	if fields.Description != "" {
		vevent.Props.SetText(ical.PropDescription, fields.Description)
	}
	if fields.Location != "" {
		vevent.Props.SetText(ical.PropLocation, fields.Location)
	}
	if fields.URL != "" {
		setURL(vevent, fields.URL)
	}
	if err := setRecurrence(vevent, fields.Recurrence); err != nil {
		return nil, err
	}
	setAlarms(vevent, fields.Title, fields.Alarms)

	vevent.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	vevent.Props.SetDateTime(ical.PropCreated, now.UTC())
	vevent.Props.SetDateTime(ical.PropLastModified, now.UTC())

	return cal, nil
}

// applyUpdate changes only the fields present in u on the master VEVENT of cal.
// current is the decoded state of cal before the update.
func applyUpdate(cal *ical.Calendar, current *Event, u EventUpdate, now time.Time) error {
	vevent := masterEvent(cal)
	if vevent == nil {
		return fmt.Errorf("no VEVENT found in calendar")
	}

	if title, ok := u.Title.Get(); ok {
		vevent.Props.SetText(ical.PropSummary, title)
	}
	if desc, ok := u.Description.Get(); ok {
		setOrDeleteText(vevent, ical.PropDescription, desc)
	}
	if loc, ok := u.Location.Get(); ok {
		setOrDeleteText(vevent, ical.PropLocation, loc)
	}
	if link, ok := u.URL.Get(); ok {
		if link == "" {
			vevent.Props.Del(ical.PropURL)
		} else {
			setURL(vevent, link)
		}
	}

	if u.Start.IsPresent() || u.End.IsPresent() || u.AllDay.IsPresent() {
		start := u.Start.OrElse(current.Start)
		end := u.End.OrElse(current.End)
		allDay := u.AllDay.OrElse(current.AllDay)
		setEventTimes(vevent, start, end, allDay)
		vevent.Props.Del(ical.PropDuration)
	}

	if r, ok := u.Recurrence.Get(); ok {
		if err := setRecurrence(vevent, r); err != nil {
			return err
		}
	}

	if alarms, ok := u.Alarms.Get(); ok {
		title := current.Title
		if t, ok := u.Title.Get(); ok {
			title = t
		}
		setAlarms(vevent, title, alarms)
	}

	vevent.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	vevent.Props.SetDateTime(ical.PropLastModified, now.UTC())
	if seq := vevent.Props.Get(ical.PropSequence); seq != nil {
		if n, err := strconv.Atoi(seq.Value); err == nil {
			seq.Value = strconv.Itoa(n + 1)
		}
	}
	return nil
}

func setOrDeleteText(comp *ical.Component, name, value string) {
	if value == "" {
		comp.Props.Del(name)
		return
	}
	comp.Props.SetText(name, value)
}

func setURL(comp *ical.Component, link string) {
	prop := ical.NewProp(ical.PropURL)
	prop.SetValueType(ical.ValueURI)
	prop.Value = link
	comp.Props.Set(prop)
}

// setEventTimes writes DTSTART/DTEND. Timed events are written in UTC so the
// object does not depend on a VTIMEZONE definition; all-day events use DATE
// values in the zone of start.
func setEventTimes(vevent *ical.Component, start, end time.Time, allDay bool) {
	if allDay {
		dtstart := ical.NewProp(ical.PropDateTimeStart)
		dtstart.SetDate(start)
		vevent.Props.Set(dtstart)

		dtend := ical.NewProp(ical.PropDateTimeEnd)
		dtend.SetDate(end)
		vevent.Props.Set(dtend)
		return
	}
	vevent.Props.SetDateTime(ical.PropDateTimeStart, start.UTC())
	vevent.Props.SetDateTime(ical.PropDateTimeEnd, end.UTC())
}

func setRecurrence(vevent *ical.Component, r *Recurrence) error {
	vevent.Props.Del(ical.PropRecurrenceRule)
	if r == nil {
		return nil
	}
	value, err := r.RRule()
	if err != nil {
		return err
	}
	prop := ical.NewProp(ical.PropRecurrenceRule)
	prop.SetValueType(ical.ValueRecurrence)
	prop.Value = value
	vevent.Props.Set(prop)
	return nil
}

// setAlarms replaces every VALARM of vevent with one display alarm per offset.
func setAlarms(vevent *ical.Component, title string, alarms []int) {
	children := vevent.Children[:0]
	for _, child := range vevent.Children {
		if child.Name != ical.CompAlarm {
			children = append(children, child)
		}
	}
	vevent.Children = children

	for _, minutes := range alarms {
		alarm := ical.NewComponent(ical.CompAlarm)
		alarm.Props.SetText(ical.PropAction, "DISPLAY")
		alarm.Props.SetText(ical.PropDescription, title)
		trigger := ical.NewProp(ical.PropTrigger)
		trigger.Value = formatTrigger(minutes)
		alarm.Props.Set(trigger)
		vevent.Children = append(vevent.Children, alarm)
	}
}

func formatTrigger(minutes int) string {
	if minutes == 0 {
		return "PT0M"
	}
	return fmt.Sprintf("-PT%dM", minutes)
}

// parseTrigger converts a relative TRIGGER before the start into minutes.
// Absolute triggers and triggers after the start are not reported.
func parseTrigger(value string) (int, bool) {
	v := strings.ToUpper(strings.TrimSpace(value))
	switch {
	case v == "PT0M" || v == "PT0S" || v == "-PT0M" || v == "-PT0S":
		return 0, true
	case !strings.HasPrefix(v, "-P"):
		return 0, false
	}
	v = strings.TrimPrefix(v, "-P")

	var total time.Duration
	inTime := false
	units := 0
	num := ""
	for _, ch := range v {
		switch {
		case ch >= '0' && ch <= '9':
			num += string(ch)
			continue
		case ch == 'T':
			inTime = true
			continue
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			return 0, false
		}
		num = ""
		units++
		switch {
		case ch == 'W' && !inTime:
			total += time.Duration(n) * 7 * 24 * time.Hour
		case ch == 'D' && !inTime:
			total += time.Duration(n) * 24 * time.Hour
		case ch == 'H' && inTime:
			total += time.Duration(n) * time.Hour
		case ch == 'M' && inTime:
			total += time.Duration(n) * time.Minute
		case ch == 'S' && inTime:
			total += time.Duration(n) * time.Second
		default:
			return 0, false
		}
	}
	if num != "" || units == 0 {
		return 0, false
	}
	return int(total / time.Minute), true
}
