package calendar

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const spacedICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Test//EN
BEGIN:VEVENT
UID:team sync@example.com
DTSTAMP:20250101T000000Z
DTSTART:20250120T090000Z
DTEND:20250120T093000Z
SUMMARY:Team sync
END:VEVENT
END:VCALENDAR
`

func TestResolve_EncodingInvariance(t *testing.T) {
	store := newMemStore(personal)
	href := personal.Path + "team sync@example.com.ics"
	store.putRaw(t, personal.Path, href, spacedICS)
	r := NewResolver(store, nil)
	ctx := context.Background()

	byUID, err := r.Resolve(ctx, personal, "team sync@example.com")
	require.NoError(t, err)

	identifiers := []string{
		url.PathEscape("team sync@example.com"),
		"team%20sync%40example.com",
		href,
		"/123/calendars/home/team%20sync%40example.com.ics",
		"https://p01-caldav.icloud.com/123/calendars/home/team%20sync%40example.com.ics",
		"  team sync@example.com  ",
	}
	for _, id := range identifiers {
		got, err := r.Resolve(ctx, personal, id)
		require.NoError(t, err, "identifier %q", id)
		assert.Equal(t, byUID.Href, got.Href, "identifier %q", id)
		assert.Equal(t, byUID.UID, got.UID, "identifier %q", id)
	}
}

func TestResolve_NotFound(t *testing.T) {
	store := lunchStore(t)
	r := NewResolver(store, nil)

	for _, id := range []string{"missing", "abc-1234", "abc", "%2Fnothing", "https://caldav.icloud.com/other/abc-123.ics"} {
		got, err := r.Resolve(context.Background(), personal, id)
		assert.Nil(t, got, "identifier %q", id)
		assert.True(t, errors.Is(err, ErrEventNotFound), "identifier %q: %v", id, err)

		var e *Error
		if assert.True(t, errors.As(err, &e)) {
			assert.Equal(t, "Personal", e.Calendar)
			assert.Equal(t, id, e.Identifier)
		}
	}
}

func TestResolve_EmptyIdentifier(t *testing.T) {
	store := lunchStore(t)
	r := NewResolver(store, nil)

	_, err := r.Resolve(context.Background(), personal, "  ")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, store.calls["ListEvents"])
}

func TestResolve_Ambiguous(t *testing.T) {
	store := lunchStore(t)
	store.putRaw(t, personal.Path, personal.Path+"copy.ics", lunchICS)
	r := NewResolver(store, nil)

	_, err := r.Resolve(context.Background(), personal, "abc-123")
	require.ErrorIs(t, err, ErrAmbiguousEvent)

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.ElementsMatch(t, []string{personal.Path + "abc-123.ics", personal.Path + "copy.ics"}, e.Candidates)

	// The href still picks one.
	got, err := r.Resolve(context.Background(), personal, personal.Path+"copy.ics")
	require.NoError(t, err)
	assert.Equal(t, personal.Path+"copy.ics", got.Href)
}

func TestResolve_TransportError(t *testing.T) {
	store := lunchStore(t)
	cause := errors.New("connection reset")
	store.listErr[personal.Path] = cause
	r := NewResolver(store, nil)

	_, err := r.Resolve(context.Background(), personal, "abc-123")
	require.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "transport", KindName(err))
}

func TestResolve_SkipsObjectsWithoutEvents(t *testing.T) {
	store := lunchStore(t)
	store.putRaw(t, personal.Path, personal.Path+"todo.ics", `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Test//EN
BEGIN:VTODO
UID:todo-1
DTSTAMP:20250101T000000Z
SUMMARY:Buy milk
END:VTODO
END:VCALENDAR
`)
	r := NewResolver(store, nil)

	got, err := r.Resolve(context.Background(), personal, "abc-123")
	require.NoError(t, err)
	assert.Equal(t, "Lunch", got.Title)

	_, err = r.Resolve(context.Background(), personal, "todo-1")
	assert.ErrorIs(t, err, ErrEventNotFound)
}
