package calendar

import (
	"net/url"
	"path"
	"strings"
)

// CanonicalIdentifier reduces an event identifier to the key used for
// comparison. Whitespace is trimmed, scheme and host are stripped from
// absolute URLs, and the result is percent-decoded exactly once. Input that is
// not valid percent-encoding is returned trimmed but otherwise verbatim.
func CanonicalIdentifier(identifier string) string {
	id := strings.TrimSpace(identifier)
	if id == "" {
		return ""
	}

	if lower := strings.ToLower(id); strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		if u, err := url.Parse(id); err == nil && u.Host != "" {
			id = u.EscapedPath()
		}
	}

	decoded, err := url.PathUnescape(id)
	if err != nil {
		return id
	}
	return decoded
}

// eventKeys returns every key an event can be addressed by.
func eventKeys(event *Event) []string {
	keys := make([]string, 0, 4)
	if event.UID != "" {
		keys = append(keys, event.UID)
	}
	if event.Href != "" {
		keys = append(keys, event.Href)
		base := path.Base(event.Href)
		keys = append(keys, base)
		if trimmed := strings.TrimSuffix(base, ".ics"); trimmed != base {
			keys = append(keys, trimmed)
		}
	}
	return keys
}

// matchEvents returns the events addressed by identifier, at most one per href.
func matchEvents(events []Event, identifier string) []*Event {
	raw := strings.TrimSpace(identifier)
	key := CanonicalIdentifier(raw)

	matches := collectMatches(events, func(e *Event) bool {
		for _, k := range eventKeys(e) {
			if k == key {
				return true
			}
		}
		return false
	})

	// UIDs may themselves contain percent sequences; try the input as given.
	if len(matches) == 0 && key != raw {
		matches = collectMatches(events, func(e *Event) bool {
			return e.UID != "" && e.UID == raw
		})
	}
	return matches
}

func collectMatches(events []Event, match func(*Event) bool) []*Event {
	var matches []*Event
	seen := make(map[string]bool)
	for i := range events {
		e := &events[i]
		if !match(e) {
			continue
		}
		id := e.Href
		if id == "" {
			id = "uid:" + e.UID
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		matches = append(matches, e)
	}
	return matches
}

// hrefs lists the hrefs of events, for error messages.
func hrefs(events []*Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Href)
	}
	return out
}
