package relay

import (
	"github.com/nbd-wtf/go-nostr"
)

// Event is the transport envelope exchanged with relays.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

func (e Event) toNostr() nostr.Event {
	tags := make(nostr.Tags, 0, len(e.Tags))
	for _, t := range e.Tags {
		tags = append(tags, nostr.Tag(t))
	}
	return nostr.Event{
		ID:        e.ID,
		PubKey:    e.PubKey,
		CreatedAt: nostr.Timestamp(e.CreatedAt),
		Kind:      e.Kind,
		Tags:      tags,
		Content:   e.Content,
		Sig:       e.Sig,
	}
}

// Serialize returns the canonical form the event id is hashed over:
// [0,pubkey,created_at,kind,tags,content].
func (e Event) Serialize() []byte {
	ne := e.toNostr()
	return ne.Serialize()
}

// ComputeID returns the hex sha256 of the serialized event.
func (e Event) ComputeID() string {
	ne := e.toNostr()
	return ne.GetID()
}

// VerifySignature checks Sig against PubKey and the computed id.
func (e Event) VerifySignature() (bool, error) {
	ne := e.toNostr()
	if ne.GetID() != e.ID {
		return false, nil
	}
	return ne.CheckSignature()
}

// TagValue returns the first value of the first tag named key.
func (e Event) TagValue(key string) (string, bool) {
	for _, t := range e.Tags {
		if len(t) >= 2 && t[0] == key {
			return t[1], true
		}
	}
	return "", false
}

// TagValues returns the first value of every tag named key, in order.
func (e Event) TagValues(key string) []string {
	var out []string
	for _, t := range e.Tags {
		if len(t) >= 2 && t[0] == key {
			out = append(out, t[1])
		}
	}
	return out
}
