package calendar

import (
	"context"
	"time"

	"github.com/emersion/go-ical"
)

// Store is the remote calendar collaborator. Implementations talk to the
// server on every call and must not cache events.
type Store interface {
	ListCalendars(ctx context.Context) ([]Calendar, error)
	// ListEvents returns every event in cal, or only those overlapping tr when
	// tr is non-nil.
	ListEvents(ctx context.Context, cal Calendar, tr *TimeRange) ([]Event, error)
	// SaveEvent creates or overwrites the object at href.
	SaveEvent(ctx context.Context, cal Calendar, href string, data *ical.Calendar) (*Event, error)
	DeleteEvent(ctx context.Context, event *Event) error
	// Location is the zone floating and all-day times are decoded in.
	Location() *time.Location
}
