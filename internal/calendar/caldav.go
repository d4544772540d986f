package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/beekhof/mcp-ical/internal/metrics"
	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
)

// CalDAVStore is a Store backed by a CalDAV server such as iCloud.
type CalDAVStore struct {
	client *caldav.Client
	loc    *time.Location
	logger *slog.Logger

	mu      sync.Mutex
	homeSet string
}

// NewCalDAVStore creates a store for the CalDAV server at endpoint.
// httpClient must already carry credentials (see auth.NewCalDAVHTTPClient);
// loc is the zone floating and all-day times are interpreted in.
func NewCalDAVStore(httpClient webdav.HTTPClient, endpoint string, loc *time.Location, logger *slog.Logger) (*CalDAVStore, error) {
	client, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create CalDAV client: %w", err)
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CalDAVStore{client: client, loc: loc, logger: logger}, nil
}

// Location returns the zone floating and all-day times are decoded in.
func (s *CalDAVStore) Location() *time.Location {
	return s.loc
}

// calendarHomeSet discovers the calendar home of the current user once.
func (s *CalDAVStore) calendarHomeSet(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.homeSet != "" {
		return s.homeSet, nil
	}

	principal, err := s.client.FindCurrentUserPrincipal(ctx)
	metrics.ObserveCalDAV("find_principal", err)
	if err != nil {
		return "", fmt.Errorf("failed to find current user principal: %w", err)
	}

	homeSet, err := s.client.FindCalendarHomeSet(ctx, principal)
	metrics.ObserveCalDAV("find_home_set", err)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}

	s.logger.Debug("Discovered calendar home set", "principal", principal, "home_set", homeSet)
	s.homeSet = homeSet
	return homeSet, nil
}

// ListCalendars returns the calendars that accept VEVENT components.
func (s *CalDAVStore) ListCalendars(ctx context.Context) ([]Calendar, error) {
	homeSet, err := s.calendarHomeSet(ctx)
	if err != nil {
		return nil, err
	}

	found, err := s.client.FindCalendars(ctx, homeSet)
	metrics.ObserveCalDAV("find_calendars", err)
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}

	calendars := make([]Calendar, 0, len(found))
	for _, c := range found {
		if !supportsEvents(c.SupportedComponentSet) {
			continue
		}
		name := c.Name
		if name == "" {
			name = path.Base(strings.TrimSuffix(c.Path, "/"))
		}
		calendars = append(calendars, Calendar{Name: name, Path: c.Path, Description: c.Description})
	}
	return calendars, nil
}

func supportsEvents(components []string) bool {
	if len(components) == 0 {
		return true
	}
	for _, comp := range components {
		if strings.EqualFold(comp, ical.CompEvent) {
			return true
		}
	}
	return false
}

// ListEvents queries cal for VEVENT objects, restricted to tr when set.
// Objects that cannot be decoded are logged and skipped.
func (s *CalDAVStore) ListEvents(ctx context.Context, cal Calendar, tr *TimeRange) ([]Event, error) {
	filter := caldav.CompFilter{Name: ical.CompEvent}
	if tr != nil {
		filter.Start = tr.Start.UTC()
		if !tr.End.IsZero() {
			filter.End = tr.End.UTC()
		}
	}
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     ical.CompCalendar,
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name:  ical.CompCalendar,
			Comps: []caldav.CompFilter{filter},
		},
	}

	objects, err := s.client.QueryCalendar(ctx, cal.Path, query)
	metrics.ObserveCalDAV("query_calendar", err)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar %s: %w", cal.Path, err)
	}

	events := make([]Event, 0, len(objects))
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		event, err := eventFromICal(obj.Data, s.loc)
		if err != nil {
			s.logger.Warn("Skipping calendar object", "path", obj.Path, "error", err)
			continue
		}
		event.Href = obj.Path
		event.ETag = obj.ETag
		event.Calendar = cal.Name
		event.CalendarPath = cal.Path
		events = append(events, *event)
	}
	return events, nil
}

// SaveEvent writes data to href. The server only returns the path and ETag of
// the object, so the returned event is decoded from data.
func (s *CalDAVStore) SaveEvent(ctx context.Context, cal Calendar, href string, data *ical.Calendar) (*Event, error) {
	obj, err := s.client.PutCalendarObject(ctx, href, data)
	metrics.ObserveCalDAV("put_object", err)
	if err != nil {
		return nil, fmt.Errorf("failed to save event at %s: %w", href, err)
	}

	event, err := eventFromICal(data, s.loc)
	if err != nil {
		event = &Event{Data: data}
	}
	event.Href = href
	if obj != nil {
		if obj.Path != "" {
			event.Href = obj.Path
		}
		event.ETag = obj.ETag
	}
	event.Calendar = cal.Name
	event.CalendarPath = cal.Path
	return event, nil
}

// DeleteEvent removes the object at event.Href.
func (s *CalDAVStore) DeleteEvent(ctx context.Context, event *Event) error {
	err := s.client.RemoveAll(ctx, event.Href)
	metrics.ObserveCalDAV("delete_object", err)
	if err != nil {
		return fmt.Errorf("failed to delete event at %s: %w", event.Href, err)
	}
	return nil
}
