package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

// Manager applies event mutations with read-after-write verification. A
// mutation is reported as successful only after the event has been read back
// from the server and found in the expected state.
type Manager struct {
	store           Store
	resolver        *Resolver
	defaultCalendar string
	logger          *slog.Logger

	newUID func() string
	now    func() time.Time
}

// NewManager creates a manager over store. defaultCalendar is used by
// CreateEvent when no calendar is named; it may be empty.
func NewManager(store Store, defaultCalendar string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:           store,
		resolver:        NewResolver(store, logger),
		defaultCalendar: defaultCalendar,
		logger:          logger,
		newUID:          uuid.NewString,
		now:             time.Now,
	}
}

// ListCalendars returns the calendars that can hold events.
func (m *Manager) ListCalendars(ctx context.Context) ([]Calendar, error) {
	calendars, err := m.store.ListCalendars(ctx)
	if err != nil {
		return nil, transportError("list calendars", "", "", err)
	}
	return calendars, nil
}

// FindCalendar looks up a calendar by exact display name or by path.
func (m *Manager) FindCalendar(ctx context.Context, name string) (Calendar, error) {
	calendars, err := m.ListCalendars(ctx)
	if err != nil {
		return Calendar{}, err
	}
	return matchCalendar(calendars, name)
}

func matchCalendar(calendars []Calendar, name string) (Calendar, error) {
	var matches []Calendar
	for _, cal := range calendars {
		if cal.Name == name || samePath(cal.Path, name) {
			matches = append(matches, cal)
		}
	}
	switch len(matches) {
	case 0:
		available := make([]string, 0, len(calendars))
		for _, cal := range calendars {
			available = append(available, cal.Name)
		}
		return Calendar{}, &Error{
			Kind:     ErrCalendarNotFound,
			Op:       "find calendar",
			Calendar: name,
			Detail:   "available calendars: " + strings.Join(available, ", "),
		}
	case 1:
		return matches[0], nil
	default:
		paths := make([]string, 0, len(matches))
		for _, cal := range matches {
			paths = append(paths, cal.Path)
		}
		return Calendar{}, &Error{Kind: ErrAmbiguousCalendar, Op: "find calendar", Calendar: name, Candidates: paths}
	}
}

func samePath(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.TrimSuffix(a, "/") == strings.TrimSuffix(b, "/")
}

// ListEvents returns the events overlapping [start, end), from one calendar
// or, when calendarName is empty, from every calendar. When listing every
// calendar a calendar that cannot be read is logged and skipped.
func (m *Manager) ListEvents(ctx context.Context, calendarName string, start, end time.Time) ([]Event, error) {
	if !end.After(start) {
		return nil, &Error{
			Kind:     ErrInvalidTimeRange,
			Op:       "list events",
			Calendar: calendarName,
			Detail:   fmt.Sprintf("end %s is not after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339)),
		}
	}
	tr := &TimeRange{Start: start, End: end}

	if calendarName != "" {
		cal, err := m.FindCalendar(ctx, calendarName)
		if err != nil {
			return nil, err
		}
		events, err := m.store.ListEvents(ctx, cal, tr)
		if err != nil {
			return nil, transportError("list events", cal.Name, "", err)
		}
		sortEvents(events)
		return events, nil
	}

	calendars, err := m.ListCalendars(ctx)
	if err != nil {
		return nil, err
	}
	var all []Event
	for _, cal := range calendars {
		events, err := m.store.ListEvents(ctx, cal, tr)
		if err != nil {
			m.logger.Warn("Skipping calendar that could not be listed", "calendar", cal.Name, "error", err)
			continue
		}
		all = append(all, events...)
	}
	sortEvents(all)
	return all, nil
}

func sortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Start.Before(events[j].Start)
	})
}

// ResolveEvent finds the single event addressed by identifier. An empty
// calendarName searches every calendar, and a match in more than one calendar
// is ambiguous.
func (m *Manager) ResolveEvent(ctx context.Context, calendarName, identifier string) (*Event, error) {
	event, _, err := m.resolve(ctx, calendarName, identifier)
	return event, err
}

func (m *Manager) resolve(ctx context.Context, calendarName, identifier string) (*Event, Calendar, error) {
	if strings.TrimSpace(identifier) == "" {
		return nil, Calendar{}, &Error{Kind: ErrInvalidInput, Op: "resolve", Calendar: calendarName, Detail: "event identifier is empty"}
	}

	if calendarName != "" {
		cal, err := m.FindCalendar(ctx, calendarName)
		if err != nil {
			return nil, Calendar{}, err
		}
		event, err := m.resolver.Resolve(ctx, cal, identifier)
		return event, cal, err
	}

	calendars, err := m.ListCalendars(ctx)
	if err != nil {
		return nil, Calendar{}, err
	}

	type hit struct {
		event *Event
		cal   Calendar
	}
	var hits []hit
	for _, cal := range calendars {
		matches, err := m.resolver.candidates(ctx, cal, identifier)
		if err != nil {
			return nil, Calendar{}, err
		}
		for _, e := range matches {
			hits = append(hits, hit{event: e, cal: cal})
		}
	}

	switch len(hits) {
	case 0:
		return nil, Calendar{}, &Error{Kind: ErrEventNotFound, Op: "resolve", Identifier: identifier, Detail: "searched all calendars"}
	case 1:
		return hits[0].event, hits[0].cal, nil
	default:
		candidates := make([]string, 0, len(hits))
		for _, h := range hits {
			candidates = append(candidates, h.cal.Name+": "+h.event.Href)
		}
		return nil, Calendar{}, &Error{Kind: ErrAmbiguousEvent, Op: "resolve", Identifier: identifier, Candidates: candidates}
	}
}

// CreateEvent validates fields, writes a new event and confirms it by reading
// it back. Invalid input is rejected before any request reaches the server.
func (m *Manager) CreateEvent(ctx context.Context, calendarName string, fields EventFields) (*MutationResult, error) {
	log := m.opLogger("create", calendarName, "")
	log.Debug("Mutation requested")

	fields = normalizeAllDay(fields)
	if err := validateFields(fields); err != nil {
		log.Debug("Mutation failed", "kind", KindName(err))
		return nil, err
	}

	cal, err := m.targetCalendar(ctx, calendarName)
	if err != nil {
		return nil, err
	}

	uid := m.newUID()
	data, err := newEventCalendar(uid, fields, m.now())
	if err != nil {
		return nil, &Error{Kind: ErrInvalidInput, Op: "create", Calendar: cal.Name, Err: err}
	}
	want, err := eventFromICal(data, m.store.Location())
	if err != nil {
		return nil, fmt.Errorf("failed to decode new event: %w", err)
	}

	href := joinHref(cal.Path, uid+".ics")
	log.Debug("Submitting event", "stage", "submitting", "href", href)
	saved, err := m.store.SaveEvent(ctx, cal, href, data)
	if err != nil {
		log.Debug("Mutation failed", "stage", "submitting", "error", err)
		return nil, transportError("create", cal.Name, uid, err)
	}
	if saved != nil && saved.Href != "" {
		href = saved.Href
	}

	log.Debug("Verifying event", "stage", "verifying", "href", href)
	got, err := m.verify(ctx, "create", cal, href, want)
	if err != nil {
		log.Debug("Mutation failed", "stage", "verifying", "kind", KindName(err))
		return nil, err
	}

	log.Debug("Mutation confirmed", "href", got.Href, "uid", got.UID)
	return &MutationResult{Op: OpCreated, Identifier: got.Href, Event: got}, nil
}

// UpdateEvent changes the fields present in u on the event addressed by
// identifier, moving it to another calendar when u.Calendar names one.
func (m *Manager) UpdateEvent(ctx context.Context, calendarName, identifier string, u EventUpdate) (*MutationResult, error) {
	log := m.opLogger("update", calendarName, identifier)
	log.Debug("Mutation requested")

	if err := validateUpdate(u); err != nil {
		log.Debug("Mutation failed", "kind", KindName(err))
		return nil, err
	}

	log.Debug("Resolving event", "stage", "resolving")
	current, cal, err := m.resolve(ctx, calendarName, identifier)
	if err != nil {
		log.Debug("Mutation failed", "stage", "resolving", "kind", KindName(err))
		return nil, err
	}
	if current.Data == nil {
		return nil, fmt.Errorf("event %s has no iCalendar data", current.Href)
	}

	target := cal
	if name, ok := u.Calendar.Get(); ok && name != "" {
		target, err = m.FindCalendar(ctx, name)
		if err != nil {
			return nil, err
		}
	}
	moving := !samePath(target.Path, cal.Path)

	if allDay, ok := u.AllDay.Get(); ok && allDay {
		u = normalizeAllDayUpdate(u, current)
	}
	if err := applyUpdate(current.Data, current, u, m.now()); err != nil {
		return nil, &Error{Kind: ErrInvalidInput, Op: "update", Calendar: cal.Name, Identifier: identifier, Err: err}
	}
	want, err := eventFromICal(current.Data, m.store.Location())
	if err != nil {
		return nil, fmt.Errorf("failed to decode updated event: %w", err)
	}
	// The range is checked only when the update touches the times.
	retimed := u.Start.IsPresent() || u.End.IsPresent() || u.AllDay.IsPresent()
	if retimed && !want.End.After(want.Start) {
		return nil, &Error{
			Kind:       ErrInvalidTimeRange,
			Op:         "update",
			Calendar:   cal.Name,
			Identifier: identifier,
			Detail:     fmt.Sprintf("end %s is not after start %s", want.End.Format(time.RFC3339), want.Start.Format(time.RFC3339)),
		}
	}

	href := current.Href
	if moving {
		href = joinHref(target.Path, path.Base(current.Href))
	}

	log.Debug("Submitting event", "stage", "submitting", "href", href, "move", moving)
	saved, err := m.store.SaveEvent(ctx, target, href, current.Data)
	if err != nil {
		log.Debug("Mutation failed", "stage", "submitting", "error", err)
		return nil, transportError("update", target.Name, identifier, err)
	}
	if saved != nil && saved.Href != "" {
		href = saved.Href
	}

	log.Debug("Verifying event", "stage", "verifying", "href", href)
	got, err := m.verify(ctx, "update", target, href, want)
	if err != nil {
		log.Debug("Mutation failed", "stage", "verifying", "kind", KindName(err))
		return nil, err
	}

	if moving {
		log.Debug("Removing original after move", "stage", "verifying", "href", current.Href)
		if err := m.store.DeleteEvent(ctx, current); err != nil {
			return nil, &Error{
				Kind:       ErrTransport,
				Op:         "update",
				Calendar:   cal.Name,
				Identifier: current.Href,
				Detail:     fmt.Sprintf("event copied to %q but the original could not be removed", target.Name),
				Err:        err,
			}
		}
		if err := m.confirmDeleted(ctx, "update", cal, current.Href); err != nil {
			log.Debug("Mutation failed", "stage", "verifying", "kind", KindName(err))
			return nil, err
		}
	}

	log.Debug("Mutation confirmed", "href", got.Href)
	return &MutationResult{Op: OpUpdated, Identifier: got.Href, Event: got}, nil
}

// DeleteEvent removes the event addressed by identifier and confirms that it
// can no longer be resolved.
func (m *Manager) DeleteEvent(ctx context.Context, calendarName, identifier string) (*MutationResult, error) {
	log := m.opLogger("delete", calendarName, identifier)
	log.Debug("Mutation requested")

	log.Debug("Resolving event", "stage", "resolving")
	event, cal, err := m.resolve(ctx, calendarName, identifier)
	if err != nil {
		log.Debug("Mutation failed", "stage", "resolving", "kind", KindName(err))
		return nil, err
	}

	log.Debug("Submitting delete", "stage", "submitting", "href", event.Href)
	if err := m.store.DeleteEvent(ctx, event); err != nil {
		log.Debug("Mutation failed", "stage", "submitting", "error", err)
		return nil, transportError("delete", cal.Name, identifier, err)
	}

	log.Debug("Verifying delete", "stage", "verifying", "href", event.Href)
	if err := m.confirmDeleted(ctx, "delete", cal, event.Href); err != nil {
		log.Debug("Mutation failed", "stage", "verifying", "kind", KindName(err))
		return nil, err
	}

	log.Debug("Mutation confirmed", "href", event.Href)
	return &MutationResult{Op: OpDeleted, Identifier: event.Href}, nil
}

// confirmDeleted succeeds only when href no longer resolves in cal.
func (m *Manager) confirmDeleted(ctx context.Context, op string, cal Calendar, href string) error {
	_, err := m.resolver.Resolve(ctx, cal, href)
	switch {
	case err == nil:
		return &Error{Kind: ErrDeletionNotConfirmed, Op: op, Calendar: cal.Name, Identifier: href, Detail: "event still present after delete"}
	case errors.Is(err, ErrEventNotFound):
		return nil
	default:
		return err
	}
}

// verify reads href back from cal and checks it against want.
func (m *Manager) verify(ctx context.Context, op string, cal Calendar, href string, want *Event) (*Event, error) {
	got, err := m.resolver.Resolve(ctx, cal, href)
	if err != nil {
		if errors.Is(err, ErrEventNotFound) {
			return nil, &Error{
				Kind:       ErrMutationNotConfirmed,
				Op:         op,
				Calendar:   cal.Name,
				Identifier: href,
				Detail:     "event not found after write",
				Err:        err,
			}
		}
		return nil, err
	}
	if diff := fieldsMismatch(want, got); diff != "" {
		return nil, &Error{Kind: ErrMutationNotConfirmed, Op: op, Calendar: cal.Name, Identifier: href, Detail: diff}
	}
	return got, nil
}

// targetCalendar picks the calendar for a new event: the named one, else the
// configured default, else the first calendar on the server.
func (m *Manager) targetCalendar(ctx context.Context, calendarName string) (Calendar, error) {
	calendars, err := m.ListCalendars(ctx)
	if err != nil {
		return Calendar{}, err
	}
	switch {
	case calendarName != "":
		return matchCalendar(calendars, calendarName)
	case m.defaultCalendar != "":
		return matchCalendar(calendars, m.defaultCalendar)
	case len(calendars) == 0:
		return Calendar{}, &Error{Kind: ErrCalendarNotFound, Op: "create", Detail: "no calendars available"}
	default:
		return calendars[0], nil
	}
}

func (m *Manager) opLogger(op, calendarName, identifier string) *slog.Logger {
	return m.logger.With(
		"op", op,
		"op_id", uuid.NewString()[:8],
		"calendar", calendarName,
		"identifier", identifier,
	)
}

func validateFields(f EventFields) error {
	if strings.TrimSpace(f.Title) == "" {
		return &Error{Kind: ErrInvalidInput, Op: "create", Detail: "title is required"}
	}
	if f.Start.IsZero() || f.End.IsZero() {
		return &Error{Kind: ErrInvalidInput, Op: "create", Detail: "start and end are required"}
	}
	if !f.End.After(f.Start) {
		return &Error{
			Kind:   ErrInvalidTimeRange,
			Op:     "create",
			Detail: fmt.Sprintf("end %s is not after start %s", f.End.Format(time.RFC3339), f.Start.Format(time.RFC3339)),
		}
	}
	if err := validateAlarms(f.Alarms); err != nil {
		return &Error{Kind: ErrInvalidInput, Op: "create", Err: err}
	}
	if f.Recurrence != nil {
		if err := f.Recurrence.Validate(); err != nil {
			return &Error{Kind: ErrInvalidInput, Op: "create", Err: err}
		}
	}
	return nil
}

func validateUpdate(u EventUpdate) error {
	if u.IsEmpty() {
		return &Error{Kind: ErrInvalidInput, Op: "update", Detail: "no fields to update"}
	}
	if title, ok := u.Title.Get(); ok && strings.TrimSpace(title) == "" {
		return &Error{Kind: ErrInvalidInput, Op: "update", Detail: "title cannot be empty"}
	}
	start, hasStart := u.Start.Get()
	end, hasEnd := u.End.Get()
	if hasStart && hasEnd && !end.After(start) && !u.AllDay.OrElse(false) {
		return &Error{
			Kind:   ErrInvalidTimeRange,
			Op:     "update",
			Detail: fmt.Sprintf("end %s is not after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339)),
		}
	}
	if alarms, ok := u.Alarms.Get(); ok {
		if err := validateAlarms(alarms); err != nil {
			return &Error{Kind: ErrInvalidInput, Op: "update", Err: err}
		}
	}
	if r, ok := u.Recurrence.Get(); ok && r != nil {
		if err := r.Validate(); err != nil {
			return &Error{Kind: ErrInvalidInput, Op: "update", Err: err}
		}
	}
	return nil
}

func validateAlarms(alarms []int) error {
	for _, minutes := range alarms {
		if minutes < 0 {
			return fmt.Errorf("alarm offset must not be negative, got %d", minutes)
		}
	}
	return nil
}

// normalizeAllDay truncates all-day times to dates and treats an end on the
// same date as the start as a one-day event.
func normalizeAllDay(f EventFields) EventFields {
	if !f.AllDay || f.Start.IsZero() || f.End.IsZero() {
		return f
	}
	f.Start = dateOf(f.Start)
	f.End = dateOf(f.End)
	if f.End.Equal(f.Start) {
		f.End = f.Start.AddDate(0, 0, 1)
	}
	return f
}

func normalizeAllDayUpdate(u EventUpdate, current *Event) EventUpdate {
	start := dateOf(u.Start.OrElse(current.Start))
	end := dateOf(u.End.OrElse(current.End))
	if !end.After(start) {
		end = start.AddDate(0, 0, 1)
	}
	u.Start = mo.Some(start)
	u.End = mo.Some(end)
	return u
}

func dateOf(t time.Time) time.Time {
	y, month, d := t.Date()
	return time.Date(y, month, d, 0, 0, 0, 0, t.Location())
}

// fieldsMismatch describes the first difference between the submitted and the
// stored event, or returns "" when they agree.
func fieldsMismatch(want, got *Event) string {
	if want.Title != got.Title {
		return fmt.Sprintf("title mismatch: %q != %q", got.Title, want.Title)
	}
	if want.Description != got.Description {
		return fmt.Sprintf("description mismatch: %q != %q", got.Description, want.Description)
	}
	if want.Location != got.Location {
		return fmt.Sprintf("location mismatch: %q != %q", got.Location, want.Location)
	}
	if want.URL != got.URL {
		return fmt.Sprintf("url mismatch: %q != %q", got.URL, want.URL)
	}
	if want.AllDay != got.AllDay {
		return fmt.Sprintf("all-day mismatch: %v != %v", got.AllDay, want.AllDay)
	}
	if !sameTime(want.Start, got.Start, want.AllDay) {
		return fmt.Sprintf("start time mismatch: %v != %v", got.Start, want.Start)
	}
	if !sameTime(want.End, got.End, want.AllDay) {
		return fmt.Sprintf("end time mismatch: %v != %v", got.End, want.End)
	}
	if !sameAlarms(want.Alarms, got.Alarms) {
		return fmt.Sprintf("alarm mismatch: %v != %v", got.Alarms, want.Alarms)
	}
	if !sameRecurrence(want.Recurrence, got.Recurrence) {
		return fmt.Sprintf("recurrence mismatch: %v != %v", got.Recurrence, want.Recurrence)
	}
	return ""
}

func sameTime(a, b time.Time, allDay bool) bool {
	if allDay {
		return a.Format(time.DateOnly) == b.Format(time.DateOnly)
	}
	return a.Equal(b)
}

func sameAlarms(a, b []int) bool {
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

func sameRecurrence(a, b *Recurrence) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ra, errA := a.RRule()
	rb, errB := b.RRule()
	return errA == nil && errB == nil && ra == rb
}

// joinHref builds the path of an object named name inside collection dir.
func joinHref(dir, name string) string {
	return strings.TrimSuffix(dir, "/") + "/" + name
}
