// Package subscription holds endpoint subscription filters and the tag
// matcher that turns an item's tags into the set of endpoints to notify.
package subscription

import (
	"context"
	"strings"

	"newswire/internal/news"
)

// Subscription binds a delivery endpoint to a tag filter.
//
// Each dimension is an explicit optional set: an empty set means "any value"
// on that dimension (wildcard). A subscription matches an item iff every
// non-empty dimension contains the item's value (AND across dimensions).
type Subscription struct {
	EndpointID string          `json:"endpoint_id"`
	Regions    []news.Region   `json:"regions,omitempty"`
	Categories []news.Category `json:"categories,omitempty"`
	Languages  []news.Language `json:"languages,omitempty"`
}

// Matches reports whether the filter accepts the given tags.
func (s Subscription) Matches(t news.Tags) bool {
	if len(s.Regions) > 0 && !containsRegion(s.Regions, t.Region) {
		return false
	}
	if len(s.Categories) > 0 && !containsCategory(s.Categories, t.Category) {
		return false
	}
	if len(s.Languages) > 0 && !containsLanguage(s.Languages, t.Language) {
		return false
	}
	return true
}

func containsRegion(set []news.Region, v news.Region) bool {
	for _, r := range set {
		if r == v {
			return true
		}
	}
	return false
}

func containsCategory(set []news.Category, v news.Category) bool {
	for _, c := range set {
		if c == v {
			return true
		}
	}
	return false
}

func containsLanguage(set []news.Language, v news.Language) bool {
	for _, l := range set {
		if l == v {
			return true
		}
	}
	return false
}

// Store is the read surface the broadcast pipeline consumes plus the write
// surface used by endpoint administration. The pipeline itself only calls
// List.
type Store interface {
	List(ctx context.Context) ([]Subscription, error)
	Put(ctx context.Context, sub Subscription) error
	Remove(ctx context.Context, endpointID string) error
}

// Match computes the set of endpoints whose filters accept the tags.
//
// Endpoints appearing more than once in the subscription list (overlapping
// filters) are collapsed to a single entry: an endpoint receives an item at
// most once no matter how many of its filters matched. The returned slice
// has set semantics; callers must not rely on its order.
func Match(t news.Tags, subs []Subscription) []string {
	seen := make(map[string]bool, len(subs))
	var out []string
	for _, s := range subs {
		id := strings.TrimSpace(s.EndpointID)
		if id == "" || seen[id] {
			continue
		}
		if s.Matches(t) {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
