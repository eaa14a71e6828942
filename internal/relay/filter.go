package relay

import (
	"encoding/json"

	"github.com/nbd-wtf/go-nostr"
)

// Filter selects events on a relay. Tags keys are single-letter tag names
// without the leading '#'. Zero Since, Until and Limit mean unset.
type Filter struct {
	IDs     []string
	Kinds   []int
	Authors []string
	Tags    map[string][]string
	Since   int64
	Until   int64
	Limit   int
}

func (f Filter) toNostr() nostr.Filter {
	nf := nostr.Filter{
		IDs:     f.IDs,
		Kinds:   f.Kinds,
		Authors: f.Authors,
		Limit:   f.Limit,
	}
	if len(f.Tags) > 0 {
		nf.Tags = make(nostr.TagMap, len(f.Tags))
		for k, v := range f.Tags {
			if len(v) > 0 {
				nf.Tags[k] = v
			}
		}
	}
	if f.Since > 0 {
		ts := nostr.Timestamp(f.Since)
		nf.Since = &ts
	}
	if f.Until > 0 {
		ts := nostr.Timestamp(f.Until)
		nf.Until = &ts
	}
	return nf
}

func fromNostrFilter(nf nostr.Filter) Filter {
	f := Filter{
		IDs:     nf.IDs,
		Kinds:   nf.Kinds,
		Authors: nf.Authors,
		Limit:   nf.Limit,
	}
	if len(nf.Tags) > 0 {
		f.Tags = make(map[string][]string, len(nf.Tags))
		for k, v := range nf.Tags {
			f.Tags[k] = v
		}
	}
	if nf.Since != nil {
		f.Since = int64(*nf.Since)
	}
	if nf.Until != nil {
		f.Until = int64(*nf.Until)
	}
	return f
}

func (f Filter) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.toNostr())
}

func (f *Filter) UnmarshalJSON(b []byte) error {
	var nf nostr.Filter
	if err := json.Unmarshal(b, &nf); err != nil {
		return err
	}
	*f = fromNostrFilter(nf)
	return nil
}

// Matches reports whether ev satisfies every constraint of f. Limit is ignored.
func (f Filter) Matches(ev Event) bool {
	ne := ev.toNostr()
	return f.toNostr().Matches(&ne)
}
