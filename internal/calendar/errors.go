package calendar

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every error returned by Manager and Resolver matches exactly one
// of these with errors.Is, and may additionally match the kind of its cause.
var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrInvalidTimeRange     = errors.New("invalid time range")
	ErrCalendarNotFound     = errors.New("calendar not found")
	ErrAmbiguousCalendar    = errors.New("ambiguous calendar")
	ErrEventNotFound        = errors.New("event not found")
	ErrAmbiguousEvent       = errors.New("ambiguous event")
	ErrMutationNotConfirmed = errors.New("mutation not confirmed")
	ErrDeletionNotConfirmed = errors.New("deletion not confirmed")
	ErrTransport            = errors.New("transport error")
)

var kindNames = map[error]string{
	ErrInvalidInput:         "invalid_input",
	ErrInvalidTimeRange:     "invalid_time_range",
	ErrCalendarNotFound:     "calendar_not_found",
	ErrAmbiguousCalendar:    "ambiguous_calendar",
	ErrEventNotFound:        "event_not_found",
	ErrAmbiguousEvent:       "ambiguous_event",
	ErrMutationNotConfirmed: "mutation_not_confirmed",
	ErrDeletionNotConfirmed: "deletion_not_confirmed",
	ErrTransport:            "transport",
}

// Error carries the kind of failure plus the calendar and identifier involved,
// so callers can decide between retrying, asking for disambiguation, or giving up.
type Error struct {
	Kind       error
	Op         string
	Calendar   string
	Identifier string
	// Candidates lists the hrefs (or calendar paths) that matched when Kind is
	// one of the ambiguity errors.
	Candidates []string
	Detail     string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())

	var ctx []string
	if e.Calendar != "" {
		ctx = append(ctx, fmt.Sprintf("calendar %q", e.Calendar))
	}
	if e.Identifier != "" {
		ctx = append(ctx, fmt.Sprintf("identifier %q", e.Identifier))
	}
	if len(ctx) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(ctx, ", "))
		b.WriteString(")")
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if len(e.Candidates) > 0 {
		b.WriteString("; candidates: ")
		b.WriteString(strings.Join(e.Candidates, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is reports whether target is the kind of this error.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindName returns a short stable name for the kind of err, suitable for metric
// labels. Errors from outside this package are reported as "internal".
func KindName(err error) string {
	if err == nil {
		return "ok"
	}
	var e *Error
	if errors.As(err, &e) {
		if name, ok := kindNames[e.Kind]; ok {
			return name
		}
	}
	return "internal"
}

func transportError(op, calendar, identifier string, err error) error {
	var e *Error
	if errors.As(err, &e) && e.Kind == ErrTransport {
		return err
	}
	return &Error{Kind: ErrTransport, Op: op, Calendar: calendar, Identifier: identifier, Err: err}
}
