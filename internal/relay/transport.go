package relay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNoEndpoints  = errors.New("no relay endpoints")
	ErrNotConnected = errors.New("relay not connected")
	ErrRejected     = errors.New("event rejected by relay")
	ErrAckTimeout   = errors.New("relay did not acknowledge event")
	ErrClosed       = errors.New("relay connection closed")
)

// Transport is the pub/sub surface game sync runs on. Pool speaks to real
// relays over websockets; Hub keeps everything in memory.
type Transport interface {
	// Query returns stored events matching f, de-duplicated by id, newest first.
	Query(ctx context.Context, endpoints []string, f Filter) ([]Event, error)
	// Subscribe delivers every matching event once, until the subscription
	// is closed or ctx ends.
	Subscribe(ctx context.Context, endpoints []string, f Filter, fn func(Event)) (Subscription, error)
	// Publish sends ev to each endpoint and reports per-endpoint results in
	// endpoint order.
	Publish(ctx context.Context, endpoints []string, ev Event) []PublishResult
}

// PublishResult is the outcome of publishing to a single endpoint.
type PublishResult struct {
	Endpoint string
	Err      error
}

// OK reports whether the endpoint accepted the event.
func (r PublishResult) OK() bool { return r.Err == nil }

// Subscription is a live subscription handle.
type Subscription interface {
	Close()
}

// Accepted counts successful results.
func Accepted(results []PublishResult) int {
	n := 0
	for _, r := range results {
		if r.OK() {
			n++
		}
	}
	return n
}

// NormalizeURL trims whitespace and a trailing slash so that the same relay
// spelled two ways maps to one connection.
func NormalizeURL(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}

// Endpoints returns the de-duplicated, normalized union of lists, preserving
// first-seen order.
func Endpoints(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, u := range list {
			n := NormalizeURL(u)
			if n == "" {
				continue
			}
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	return out
}

// SortNewestFirst orders events by created_at descending, then id for stability.
func SortNewestFirst(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].CreatedAt != events[j].CreatedAt {
			return events[i].CreatedAt > events[j].CreatedAt
		}
		return events[i].ID < events[j].ID
	})
}

func endpointError(endpoint string, err error) error {
	return fmt.Errorf("%s: %w", endpoint, err)
}
