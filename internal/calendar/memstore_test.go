package calendar

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-ical"
)

// memStore is an in-memory Store. Objects are kept in encoded form so every
// read returns a fresh decode, like a real server would.
type memStore struct {
	mu sync.Mutex

	calendars []Calendar
	// loc is the zone floating times are decoded in; nil means UTC.
	loc       *time.Location
	objects   map[string]map[string][]byte // calendar path -> href -> iCalendar

	// ignoreDeletes acknowledges deletes without removing anything.
	ignoreDeletes bool
	// dropSaves acknowledges saves without storing anything.
	dropSaves bool
	// tamper, when set, alters each saved object before it is stored.
	tamper func(*ical.Calendar)

	calendarsErr error
	listErr      map[string]error // keyed by calendar path
	saveErr      error
	deleteErr    error

	calls map[string]int
}

func newMemStore(calendars ...Calendar) *memStore {
	s := &memStore{
		calendars: calendars,
		objects:   make(map[string]map[string][]byte),
		listErr:   make(map[string]error),
		calls:     make(map[string]int),
	}
	for _, cal := range calendars {
		s.objects[cal.Path] = make(map[string][]byte)
	}
	return s
}

func (s *memStore) Location() *time.Location {
	if s.loc == nil {
		return time.UTC
	}
	return s.loc
}

func (s *memStore) totalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

// putRaw stores an iCalendar text object directly.
func (s *memStore) putRaw(t *testing.T, calPath, href, text string) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[calPath][href] = []byte(strings.ReplaceAll(text, "\n", "\r\n"))
}

func (s *memStore) calendarFor(path string) Calendar {
	for _, cal := range s.calendars {
		if cal.Path == path {
			return cal
		}
	}
	return Calendar{Path: path}
}

func (s *memStore) ListCalendars(ctx context.Context) ([]Calendar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["ListCalendars"]++
	if s.calendarsErr != nil {
		return nil, s.calendarsErr
	}
	return append([]Calendar(nil), s.calendars...), nil
}

func (s *memStore) ListEvents(ctx context.Context, cal Calendar, tr *TimeRange) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["ListEvents"]++
	if err := s.listErr[cal.Path]; err != nil {
		return nil, err
	}

	objects := s.objects[cal.Path]
	hrefs := make([]string, 0, len(objects))
	for href := range objects {
		hrefs = append(hrefs, href)
	}
	sort.Strings(hrefs)

	var events []Event
	for _, href := range hrefs {
		data, err := ical.NewDecoder(bytes.NewReader(objects[href])).Decode()
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", href, err)
		}
		event, err := eventFromICal(data, s.Location())
		if err != nil {
			continue
		}
		if tr != nil && !(event.Start.Before(tr.End) && event.End.After(tr.Start)) {
			continue
		}
		event.Href = href
		event.ETag = fmt.Sprintf("%q", fmt.Sprint(len(objects[href])))
		event.Calendar = s.calendarFor(cal.Path).Name
		event.CalendarPath = cal.Path
		events = append(events, *event)
	}
	return events, nil
}

func (s *memStore) SaveEvent(ctx context.Context, cal Calendar, href string, data *ical.Calendar) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["SaveEvent"]++
	if s.saveErr != nil {
		return nil, s.saveErr
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(data); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	if s.tamper != nil {
		stored, err := ical.NewDecoder(bytes.NewReader(buf.Bytes())).Decode()
		if err != nil {
			return nil, err
		}
		s.tamper(stored)
		buf.Reset()
		if err := ical.NewEncoder(&buf).Encode(stored); err != nil {
			return nil, err
		}
	}
	if !s.dropSaves {
		if s.objects[cal.Path] == nil {
			s.objects[cal.Path] = make(map[string][]byte)
		}
		s.objects[cal.Path][href] = buf.Bytes()
	}
	return &Event{Href: href, Calendar: cal.Name, CalendarPath: cal.Path, Data: data}, nil
}

func (s *memStore) DeleteEvent(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["DeleteEvent"]++
	if s.deleteErr != nil {
		return s.deleteErr
	}
	if s.ignoreDeletes {
		return nil
	}
	for _, objects := range s.objects {
		delete(objects, event.Href)
	}
	return nil
}

const lunchICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Test//EN
BEGIN:VEVENT
UID:abc-123
DTSTAMP:20250101T000000Z
DTSTART:20250117T120000Z
DTEND:20250117T130000Z
SUMMARY:Lunch
DESCRIPTION:With the team
LOCATION:Cafe
X-APPLE-TRAVEL-ADVISORY-BEHAVIOR:AUTOMATIC
END:VEVENT
END:VCALENDAR
`

var (
	personal = Calendar{Name: "Personal", Path: "/123/calendars/home/"}
	work     = Calendar{Name: "Work", Path: "/123/calendars/work/"}
)

// lunchStore returns a store with calendar "Personal" holding event abc-123.
func lunchStore(t *testing.T) *memStore {
	t.Helper()
	store := newMemStore(personal, work)
	store.putRaw(t, personal.Path, personal.Path+"abc-123.ics", lunchICS)
	return store
}
