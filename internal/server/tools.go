package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/beekhof/mcp-ical/internal/calendar"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/samber/mo"
)

const timeFormats = "ISO 8601: local '2025-01-17T13:00:00' (configured timezone), zoned '2025-01-17T13:00:00+01:00', a date '2025-01-17', or natural language such as 'tomorrow 3pm'"

const recurrenceDescription = `Optional recurrence rule object:
  - frequency: daily, weekly, monthly or yearly
  - interval: repeat every N periods (default 1)
  - count: stop after this many occurrences
  - end_date: stop on this date
  - days_of_week: list of days, 1=Sunday ... 7=Saturday (or names such as "MO")
Only one of count and end_date may be set.`

var recurrenceProperties = map[string]any{
	"frequency":    map[string]any{"type": "string", "enum": []string{"daily", "weekly", "monthly", "yearly"}},
	"interval":     map[string]any{"type": "integer", "minimum": 1},
	"count":        map[string]any{"type": "integer", "minimum": 1},
	"end_date":     map[string]any{"type": "string"},
	"days_of_week": map[string]any{"type": "array", "items": map[string]any{"type": "integer", "minimum": 1, "maximum": 7}},
}

func eventFieldOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("notes", mcp.Description("Event notes/description. Ask the user if they want to add notes.")),
		mcp.WithString("description", mcp.Description("Alias for notes.")),
		mcp.WithString("location", mcp.Description("Event location. Ask the user if they want to specify a location.")),
		mcp.WithString("url", mcp.Description("URL attached to the event.")),
		mcp.WithBoolean("all_day", mcp.Description("Whether this is an all-day event. Defaults to true when both times are plain dates.")),
		mcp.WithArray("alarms_minutes_offsets",
			mcp.Description("Minutes before the event to trigger reminders, e.g. [60, 1440] for one hour and one day before. Replaces existing reminders on update."),
			mcp.Items(map[string]any{"type": "integer", "minimum": 0}),
		),
		mcp.WithNumber("alarm_minutes_before", mcp.Description("A single reminder, in minutes before the event.")),
		mcp.WithObject("recurrence", mcp.Description(recurrenceDescription), mcp.Properties(recurrenceProperties)),
	}
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("list_calendars",
		mcp.WithDescription("List all available calendars."),
	), s.instrument("list_calendars", s.listCalendars))

	s.mcp.AddTool(mcp.NewTool("list_events",
		mcp.WithDescription(`List calendar events in a date range.

Use a start_date at the beginning of the first day and an end_date at the end of the last day so the
search is inclusive. A plain date as end_date covers that whole day.`),
		mcp.WithString("start_date", mcp.Required(), mcp.Description("Start of the range. "+timeFormats)),
		mcp.WithString("end_date", mcp.Required(), mcp.Description("End of the range. "+timeFormats)),
		mcp.WithString("calendar_name", mcp.Description("Calendar to search. Searches all calendars when omitted.")),
	), s.instrument("list_events", s.listEvents))

	s.mcp.AddTool(mcp.NewTool("get_event",
		mcp.WithDescription("Show one event. event_id may be the identifier from list_events, the event UID, or its URL-encoded path."),
		mcp.WithString("event_id", mcp.Required(), mcp.Description("Identifier of the event")),
		mcp.WithString("calendar_name", mcp.Description("Calendar holding the event. Searches all calendars when omitted.")),
	), s.instrument("get_event", s.getEvent))

	createOpts := []mcp.ToolOption{
		mcp.WithDescription(`Create a new calendar event.

Before using this tool, make sure to:
1. Ask the user which calendar they want to use if not specified (check calendars://list)
2. Ask if they want to add a location or notes if none provided
3. Confirm the date and time with the user
4. Ask if they want to set reminders for the event

The event is read back from the server after it is written. The returned identifier can be passed to
get_event, update_event and delete_event.`),
		mcp.WithString("title", mcp.Required(), mcp.Description("Event title")),
		mcp.WithString("start_time", mcp.Required(), mcp.Description("Start time. "+timeFormats)),
		mcp.WithString("end_time", mcp.Required(), mcp.Description("End time. "+timeFormats)),
		mcp.WithString("calendar_name", mcp.Description("Calendar to create the event in. Defaults to the configured default calendar.")),
	}
	s.mcp.AddTool(mcp.NewTool("create_event", append(createOpts, eventFieldOptions()...)...),
		s.instrument("create_event", s.createEvent))

	updateOpts := []mcp.ToolOption{
		mcp.WithDescription(`Update an existing calendar event. Only the fields given are changed.

Before using this tool, make sure to:
1. Ask the user which fields they want to update
2. If moving to a different calendar, verify the calendar exists using calendars://list
3. If updating time, confirm the new time with the user`),
		mcp.WithString("event_id", mcp.Required(), mcp.Description("Identifier of the event to update")),
		mcp.WithString("calendar_name", mcp.Description("Calendar holding the event. Searches all calendars when omitted.")),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("start_time", mcp.Description("New start time. "+timeFormats)),
		mcp.WithString("end_time", mcp.Description("New end time. "+timeFormats)),
		mcp.WithString("new_calendar_name", mcp.Description("Move the event to this calendar")),
		mcp.WithBoolean("clear_recurrence", mcp.Description("Remove the recurrence rule")),
	}
	s.mcp.AddTool(mcp.NewTool("update_event", append(updateOpts, eventFieldOptions()...)...),
		s.instrument("update_event", s.updateEvent))

	s.mcp.AddTool(mcp.NewTool("delete_event",
		mcp.WithDescription(`Delete a calendar event by its identifier.

Before using this tool, make sure to:
1. Confirm with the user that they want to delete the event
2. Verify the event exists by listing events first
3. Note that this action cannot be undone`),
		mcp.WithString("event_id", mcp.Required(), mcp.Description("Identifier of the event to delete")),
		mcp.WithString("calendar_name", mcp.Description("Calendar holding the event. Searches all calendars when omitted.")),
	), s.instrument("delete_event", s.deleteEvent))

	s.mcp.AddTool(mcp.NewTool("debug_calendar_connection",
		mcp.WithDescription("Check the CalDAV connection and count the events of the last 7 days in every calendar."),
	), s.instrument("debug_calendar_connection", s.debugConnection))
}

func (s *Server) listCalendars(ctx context.Context, _ arguments) (string, error) {
	calendars, err := s.svc.ListCalendars(ctx)
	if err != nil {
		return "", err
	}
	if len(calendars) == 0 {
		return "No calendars found", nil
	}
	var b strings.Builder
	b.WriteString("Available calendars:")
	for _, c := range calendars {
		b.WriteString("\n- ")
		b.WriteString(c.Name)
	}
	return b.String(), nil
}

func (s *Server) listEvents(ctx context.Context, args arguments) (string, error) {
	const op = "list_events"
	start, _, ok, err := args.timestamp(op, "start_date", s.parser)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", invalidArgument(op, "start_date is required")
	}
	end, endDateOnly, ok, err := args.timestamp(op, "end_date", s.parser)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", invalidArgument(op, "end_date is required")
	}
	if endDateOnly {
		end = end.AddDate(0, 0, 1)
	}
	calendarName, err := args.optString(op, "calendar_name")
	if err != nil {
		return "", err
	}

	events, err := s.svc.ListEvents(ctx, calendarName, start, end)
	if err != nil {
		return "", err
	}

	loc := s.parser.Location()
	if len(events) == 0 {
		scope := "all calendars"
		if calendarName != "" {
			scope = fmt.Sprintf("calendar %q", calendarName)
		}
		return fmt.Sprintf("No events found in the specified date range.\nSearched period: %s to %s\nSearch scope: %s",
			start.In(loc).Format(time.RFC3339), end.In(loc).Format(time.RFC3339), scope), nil
	}

	parts := make([]string, len(events))
	for i := range events {
		parts[i] = formatEvent(&events[i], loc)
	}
	return fmt.Sprintf("Found %d events:\n\n%s", len(events), strings.Join(parts, "\n")), nil
}

func (s *Server) getEvent(ctx context.Context, args arguments) (string, error) {
	const op = "get_event"
	id, err := args.requireString(op, "event_id")
	if err != nil {
		return "", err
	}
	calendarName, err := args.optString(op, "calendar_name")
	if err != nil {
		return "", err
	}

	event, err := s.svc.ResolveEvent(ctx, calendarName, id)
	if err != nil {
		return "", err
	}
	return formatEvent(event, s.parser.Location()), nil
}

// notes reads notes or its alias description.
func (a arguments) notes(op string) (string, bool, error) {
	return a.str(op, a.first("notes", "description"))
}

func (s *Server) createEvent(ctx context.Context, args arguments) (string, error) {
	const op = "create_event"
	var fields calendar.EventFields
	var err error

	if fields.Title, err = args.requireString(op, "title"); err != nil {
		return "", err
	}
	start, startDateOnly, ok, err := args.timestamp(op, "start_time", s.parser)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", invalidArgument(op, "start_time is required")
	}
	end, endDateOnly, ok, err := args.timestamp(op, "end_time", s.parser)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", invalidArgument(op, "end_time is required")
	}
	fields.Start, fields.End = start, end

	allDay, ok, err := args.boolean(op, "all_day")
	if err != nil {
		return "", err
	}
	if !ok {
		allDay = startDateOnly && endDateOnly
	}
	fields.AllDay = allDay

	if fields.Description, _, err = args.notes(op); err != nil {
		return "", err
	}
	if fields.Location, err = args.optString(op, "location"); err != nil {
		return "", err
	}
	if fields.URL, err = args.optString(op, "url"); err != nil {
		return "", err
	}
	if fields.Alarms, _, err = args.alarms(op); err != nil {
		return "", err
	}
	if fields.Recurrence, _, err = args.recurrence(op, s.parser); err != nil {
		return "", err
	}
	calendarName, err := args.optString(op, "calendar_name")
	if err != nil {
		return "", err
	}

	result, err := s.svc.CreateEvent(ctx, calendarName, fields)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Successfully created event: %s (ID: %s)\n\n%s",
		result.Event.Title, result.Identifier, formatEvent(result.Event, s.parser.Location())), nil
}

func (s *Server) updateEvent(ctx context.Context, args arguments) (string, error) {
	const op = "update_event"
	id, err := args.requireString(op, "event_id")
	if err != nil {
		return "", err
	}
	calendarName, err := args.optString(op, "calendar_name")
	if err != nil {
		return "", err
	}

	var u calendar.EventUpdate

	if title, ok, err := args.str(op, "title"); err != nil {
		return "", err
	} else if ok {
		u.Title = mo.Some(title)
	}
	start, startDateOnly, hasStart, err := args.timestamp(op, "start_time", s.parser)
	if err != nil {
		return "", err
	}
	if hasStart {
		u.Start = mo.Some(start)
	}
	end, endDateOnly, hasEnd, err := args.timestamp(op, "end_time", s.parser)
	if err != nil {
		return "", err
	}
	if hasEnd {
		u.End = mo.Some(end)
	}
	if allDay, ok, err := args.boolean(op, "all_day"); err != nil {
		return "", err
	} else if ok {
		u.AllDay = mo.Some(allDay)
	} else if hasStart && hasEnd && startDateOnly && endDateOnly {
		u.AllDay = mo.Some(true)
	}
	if notes, ok, err := args.notes(op); err != nil {
		return "", err
	} else if ok {
		u.Description = mo.Some(notes)
	}
	if location, ok, err := args.str(op, "location"); err != nil {
		return "", err
	} else if ok {
		u.Location = mo.Some(location)
	}
	if url, ok, err := args.str(op, "url"); err != nil {
		return "", err
	} else if ok {
		u.URL = mo.Some(url)
	}
	if alarms, ok, err := args.alarms(op); err != nil {
		return "", err
	} else if ok {
		u.Alarms = mo.Some(alarms)
	}

	rule, hasRule, err := args.recurrence(op, s.parser)
	if err != nil {
		return "", err
	}
	clearRule, _, err := args.boolean(op, "clear_recurrence")
	if err != nil {
		return "", err
	}
	switch {
	case hasRule && clearRule:
		return "", invalidArgument(op, "recurrence and clear_recurrence cannot be combined")
	case hasRule:
		u.Recurrence = mo.Some(rule)
	case clearRule:
		u.Recurrence = mo.Some[*calendar.Recurrence](nil)
	}

	if target, err := args.optString(op, "new_calendar_name"); err != nil {
		return "", err
	} else if target != "" {
		u.Calendar = mo.Some(target)
	}

	if u.IsEmpty() {
		return "", invalidArgument(op, "no fields to update")
	}

	result, err := s.svc.UpdateEvent(ctx, calendarName, id, u)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Successfully updated event: %s (ID: %s)\n\n%s",
		result.Event.Title, result.Identifier, formatEvent(result.Event, s.parser.Location())), nil
}

func (s *Server) deleteEvent(ctx context.Context, args arguments) (string, error) {
	const op = "delete_event"
	id, err := args.requireString(op, "event_id")
	if err != nil {
		return "", err
	}
	calendarName, err := args.optString(op, "calendar_name")
	if err != nil {
		return "", err
	}

	result, err := s.svc.DeleteEvent(ctx, calendarName, id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Successfully deleted event with ID: %s", result.Identifier), nil
}

func (s *Server) debugConnection(ctx context.Context, _ arguments) (string, error) {
	calendars, err := s.svc.ListCalendars(ctx)
	if err != nil {
		return "", err
	}

	names := make([]string, len(calendars))
	for i, c := range calendars {
		names[i] = c.Name
	}
	lines := []string{
		"=== Calendar Connection Debug ===",
		"CalDAV connection successful",
		fmt.Sprintf("Found %d calendars: %s", len(calendars), strings.Join(names, ", ")),
		"",
	}

	end := s.now()
	start := end.AddDate(0, 0, -7)
	total := 0
	for _, c := range calendars {
		events, err := s.svc.ListEvents(ctx, c.Name, start, end)
		if err != nil {
			lines = append(lines, fmt.Sprintf("Calendar '%s': ERROR - %v", c.Name, err))
			continue
		}
		total += len(events)
		lines = append(lines, fmt.Sprintf("Calendar '%s': %d events in last 7 days", c.Name, len(events)))
		for _, e := range events[:min(2, len(events))] {
			lines = append(lines, fmt.Sprintf("  - %s (%s)", e.Title, e.Start.In(s.parser.Location()).Format(dateLayout)))
		}
	}

	lines = append(lines, "", fmt.Sprintf("Total events found in last 7 days: %d", total))
	return strings.Join(lines, "\n"), nil
}
