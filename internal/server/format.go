package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/beekhof/mcp-ical/internal/calendar"
)

const dateLayout = "2006-01-02"

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func formatTime(t time.Time, allDay bool, loc *time.Location) string {
	if t.IsZero() {
		return "N/A"
	}
	if allDay {
		return t.Format(dateLayout)
	}
	return t.In(loc).Format(time.RFC3339)
}

// formatEvent renders an event for the model. The identifier line is the
// handle to pass back to get_event, update_event and delete_event.
func formatEvent(e *calendar.Event, loc *time.Location) string {
	alarms := "None"
	if len(e.Alarms) > 0 {
		parts := make([]string, len(e.Alarms))
		for i, a := range e.Alarms {
			parts[i] = strconv.Itoa(a)
		}
		alarms = strings.Join(parts, ", ")
	}
	attendees := "None"
	if len(e.Attendees) > 0 {
		attendees = strings.Join(e.Attendees, ", ")
	}
	recurrence := "No recurrence"
	if e.Recurrence != nil {
		recurrence = "Recurrence: " + e.Recurrence.String()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Event: %s\n", e.Title)
	fmt.Fprintf(&b, " - Identifier: %s\n", e.Href)
	fmt.Fprintf(&b, " - UID: %s\n", e.UID)
	fmt.Fprintf(&b, " - Start Time: %s\n", formatTime(e.Start, e.AllDay, loc))
	fmt.Fprintf(&b, " - End Time: %s\n", formatTime(e.End, e.AllDay, loc))
	fmt.Fprintf(&b, " - Calendar: %s\n", orNA(e.Calendar))
	fmt.Fprintf(&b, " - Location: %s\n", orNA(e.Location))
	fmt.Fprintf(&b, " - Notes: %s\n", orNA(e.Description))
	fmt.Fprintf(&b, " - Alarms (minutes before): %s\n", alarms)
	fmt.Fprintf(&b, " - URL: %s\n", orNA(e.URL))
	fmt.Fprintf(&b, " - All Day Event?: %t\n", e.AllDay)
	fmt.Fprintf(&b, " - Organizer: %s\n", orNA(e.Organizer))
	fmt.Fprintf(&b, " - Attendees: %s\n", attendees)
	fmt.Fprintf(&b, " - %s\n", recurrence)
	return b.String()
}

var hints = map[string]string{
	"invalid_input":          "Fix the arguments and call the tool again.",
	"invalid_time_range":     "The end must be after the start. Fix the times and call the tool again.",
	"calendar_not_found":     "Check the calendar name against calendars://list.",
	"ambiguous_calendar":     "Several calendars share that name. Pass the calendar path instead.",
	"event_not_found":        "Use list_events over the relevant dates to find the event's identifier.",
	"ambiguous_event":        "Several events match. Call again with one of the candidate identifiers and its calendar_name.",
	"mutation_not_confirmed": "The server accepted the write but reading it back did not match. Check the event with get_event before retrying.",
	"deletion_not_confirmed": "The event is still present on the server. Retry the delete.",
	"transport":              "The calendar server could not be reached or rejected the request. Retry later.",
}

// errorText renders err with its kind and a hint on how to proceed.
func errorText(err error) string {
	kind := calendar.KindName(err)
	var b strings.Builder
	fmt.Fprintf(&b, "Error (%s): %v", kind, err)

	var calErr *calendar.Error
	if errors.As(err, &calErr) && len(calErr.Candidates) > 0 {
		b.WriteString("\nCandidates:")
		for _, c := range calErr.Candidates {
			b.WriteString("\n - ")
			b.WriteString(c)
		}
	}
	if hint, ok := hints[kind]; ok {
		b.WriteString("\nHint: ")
		b.WriteString(hint)
	}
	return b.String()
}
