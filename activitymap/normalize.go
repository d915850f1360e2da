// Package activitymap flattens member activity events into a generic
// actor/verb/object record for audit logs and downstream feeds.
package activitymap

import (
	"context"
	"strings"
	"time"

	auth "github.com/picklehub/go-club-auth"
)

const (
	MetadataKeyActorType  = "actor_type"
	MetadataKeyFromStatus = "from_status"
	MetadataKeyToStatus   = "to_status"
)

const (
	defaultChannel    = "club"
	defaultObjectType = "member"
	defaultActorID    = "system"
)

// Record is the flattened shape of an auth.ActivityEvent.
type Record struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type Option func(*mapper)

type mapper struct {
	channel    string
	objectType string
	actor      string
	now        func() time.Time
}

// WithChannel sets the channel of every record.
func WithChannel(channel string) Option {
	return func(m *mapper) {
		m.channel = strings.TrimSpace(channel)
	}
}

// WithObjectType sets the object type of every record.
func WithObjectType(objectType string) Option {
	return func(m *mapper) {
		m.objectType = strings.TrimSpace(objectType)
	}
}

// WithActorFallback is used when the event names no actor and no member.
func WithActorFallback(actorID string) Option {
	return func(m *mapper) {
		m.actor = strings.TrimSpace(actorID)
	}
}

// WithClock sets the time used for events without OccurredAt.
func WithClock(now func() time.Time) Option {
	return func(m *mapper) {
		if now != nil {
			m.now = now
		}
	}
}

func newMapper(opts []Option) mapper {
	m := mapper{
		channel:    defaultChannel,
		objectType: defaultObjectType,
		actor:      defaultActorID,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&m)
		}
	}
	return m
}

// Map converts event into a Record. The member is the object; when no actor
// is given the member is assumed to have acted on itself.
func Map(event auth.ActivityEvent, opts ...Option) Record {
	return newMapper(opts).apply(event)
}

func (m mapper) apply(event auth.ActivityEvent) Record {
	memberID := strings.TrimSpace(event.MemberID)

	actor := strings.TrimSpace(event.Actor.ID)
	if actor == "" {
		actor = memberID
	}
	if actor == "" {
		actor = m.actor
	}

	at := event.OccurredAt
	if at.IsZero() {
		at = m.now()
	}

	return Record{
		ActorID:    actor,
		Verb:       string(event.EventType),
		ObjectType: m.objectType,
		ObjectID:   memberID,
		Channel:    m.channel,
		Metadata:   metadata(event),
		OccurredAt: at.UTC(),
	}
}

// Sink returns an auth.ActivitySink that maps every event and hands the
// record to fn.
func Sink(fn func(context.Context, Record) error, opts ...Option) auth.ActivitySink {
	m := newMapper(opts)
	return auth.ActivitySinkFunc(func(ctx context.Context, event auth.ActivityEvent) error {
		return fn(ctx, m.apply(event))
	})
}

func metadata(event auth.ActivityEvent) map[string]any {
	out := map[string]any{}
	for k, v := range event.Metadata {
		out[k] = v
	}

	if t := strings.TrimSpace(event.Actor.Type); t != "" {
		if _, ok := out[MetadataKeyActorType]; !ok {
			out[MetadataKeyActorType] = t
		}
	}
	if event.FromStatus != "" {
		out[MetadataKeyFromStatus] = string(event.FromStatus)
	}
	if event.ToStatus != "" {
		out[MetadataKeyToStatus] = string(event.ToStatus)
	}

	if len(out) == 0 {
		return nil
	}
	return out
}
