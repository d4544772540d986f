package calendar

import (
	"time"

	"github.com/emersion/go-ical"
	"github.com/samber/mo"
)

// Calendar identifies a calendar collection on the CalDAV server.
type Calendar struct {
	Name        string
	Path        string
	Description string
}

// TimeRange bounds an event query. A zero End means unbounded.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Event is a calendar event as stored on the remote server. It is addressable
// by both its UID and its href (the decoded server path of the object).
type Event struct {
	UID          string
	Href         string
	ETag         string
	Calendar     string
	CalendarPath string

	Title        string
	Start        time.Time
	End          time.Time
	AllDay       bool
	Description  string
	Location     string
	URL          string
	Alarms       []int // minutes before start
	Recurrence   *Recurrence
	Organizer    string
	Attendees    []string
	LastModified time.Time

	// Data is the iCalendar object the event was decoded from. Updates are
	// applied to it in place so that properties this package does not model
	// survive a round trip.
	Data *ical.Calendar
}

// EventFields is the payload for creating an event.
type EventFields struct {
	Title       string
	Start       time.Time
	End         time.Time
	AllDay      bool
	Description string
	Location    string
	URL         string
	Alarms      []int
	Recurrence  *Recurrence
}

// EventUpdate describes a partial update. Fields left as None are not touched.
type EventUpdate struct {
	Title       mo.Option[string]
	Start       mo.Option[time.Time]
	End         mo.Option[time.Time]
	AllDay      mo.Option[bool]
	Description mo.Option[string]
	Location    mo.Option[string]
	URL         mo.Option[string]
	Alarms      mo.Option[[]int]
	// Some(nil) removes the recurrence rule.
	Recurrence mo.Option[*Recurrence]
	// Calendar moves the event to another calendar when it names a different one.
	Calendar mo.Option[string]
}

// IsEmpty reports whether the update changes nothing.
func (u EventUpdate) IsEmpty() bool {
	return !u.Title.IsPresent() &&
		!u.Start.IsPresent() &&
		!u.End.IsPresent() &&
		!u.AllDay.IsPresent() &&
		!u.Description.IsPresent() &&
		!u.Location.IsPresent() &&
		!u.URL.IsPresent() &&
		!u.Alarms.IsPresent() &&
		!u.Recurrence.IsPresent() &&
		!u.Calendar.IsPresent()
}

// Operation names the kind of mutation that produced a MutationResult.
type Operation string

const (
	OpCreated Operation = "created"
	OpUpdated Operation = "updated"
	OpDeleted Operation = "deleted"
)

// MutationResult is the confirmed outcome of a create, update or delete.
type MutationResult struct {
	Op Operation
	// Identifier is the canonical handle of the event (its href).
	Identifier string
	// Event is the record read back after the mutation. Nil for deletes.
	Event *Event
}
