package calendar

import (
	"context"
	"log/slog"
	"strings"
)

// Resolver maps a caller-supplied identifier to exactly one event in a
// calendar. It never writes and never caches: every call re-lists the calendar.
type Resolver struct {
	store  Store
	logger *slog.Logger
}

// NewResolver creates a resolver over store.
func NewResolver(store Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, logger: logger}
}

// Resolve returns the single event in cal addressed by identifier, which may
// be a UID, an encoded or decoded href, or the handle returned by an earlier
// list or create.
func (r *Resolver) Resolve(ctx context.Context, cal Calendar, identifier string) (*Event, error) {
	if strings.TrimSpace(identifier) == "" {
		return nil, &Error{Kind: ErrInvalidInput, Op: "resolve", Calendar: cal.Name, Detail: "event identifier is empty"}
	}

	matches, err := r.candidates(ctx, cal, identifier)
	if err != nil {
		return nil, err
	}

	switch len(matches) {
	case 0:
		return nil, &Error{Kind: ErrEventNotFound, Op: "resolve", Calendar: cal.Name, Identifier: identifier}
	case 1:
		return matches[0], nil
	default:
		return nil, &Error{
			Kind:       ErrAmbiguousEvent,
			Op:         "resolve",
			Calendar:   cal.Name,
			Identifier: identifier,
			Candidates: hrefs(matches),
		}
	}
}

// candidates lists cal and returns every distinct event matching identifier.
func (r *Resolver) candidates(ctx context.Context, cal Calendar, identifier string) ([]*Event, error) {
	events, err := r.store.ListEvents(ctx, cal, nil)
	if err != nil {
		return nil, transportError("resolve", cal.Name, identifier, err)
	}

	matches := matchEvents(events, identifier)
	r.logger.Debug("Resolved identifier",
		"calendar", cal.Name,
		"identifier", identifier,
		"canonical", CanonicalIdentifier(identifier),
		"events", len(events),
		"matches", len(matches))
	return matches, nil
}
