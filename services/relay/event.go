package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// EventMemberRemoved is emitted after a user's pool membership is deleted.
	EventMemberRemoved = "pool_member_removed"
	// EventVersion is the payload schema version.
	EventVersion = "1"
)

// MemberRemoved is the payload published when a user leaves a pool.
type MemberRemoved struct {
	Version   string    `json:"version"`
	EventType string    `json:"event_type"`
	PoolID    uuid.UUID `json:"pool_id"`
	UserID    uuid.UUID `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMemberRemoved stamps an event for the given membership.
func NewMemberRemoved(pool, user uuid.UUID, at time.Time) MemberRemoved {
	return MemberRemoved{
		Version:   EventVersion,
		EventType: EventMemberRemoved,
		PoolID:    pool,
		UserID:    user,
		Timestamp: at.UTC(),
	}
}

// MsgID identifies the event for broker-side deduplication of republished
// copies.
func (e MemberRemoved) MsgID() string {
	return fmt.Sprintf("%s.%s.%s.%d", e.EventType, e.PoolID, e.UserID, e.Timestamp.UnixNano())
}

var (
	errUnknownEvent = errors.New("unknown event type")
	errMissingIDs   = errors.New("pool_id and user_id are required")
)

// wireMemberRemoved is the tolerant shape of a delivered payload. Only the ids
// drive cleanup; version and timestamp are informational.
type wireMemberRemoved struct {
	EventType string          `json:"event_type"`
	PoolID    uuid.UUID       `json:"pool_id"`
	UserID    uuid.UUID       `json:"user_id"`
	Version   json.RawMessage `json:"version"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// decodeMemberRemoved parses and validates a delivered payload. A zero-value
// event type is accepted as pool_member_removed for older publishers.
func decodeMemberRemoved(data []byte) (MemberRemoved, error) {
	var wire wireMemberRemoved
	if err := json.Unmarshal(data, &wire); err != nil {
		return MemberRemoved{}, fmt.Errorf("decode event: %w", err)
	}
	evt := MemberRemoved{
		Version:   rawText(wire.Version),
		EventType: wire.EventType,
		PoolID:    wire.PoolID,
		UserID:    wire.UserID,
	}
	var ts string
	if json.Unmarshal(wire.Timestamp, &ts) == nil {
		if at, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			evt.Timestamp = at.UTC()
		}
	}

	if evt.EventType == "" {
		evt.EventType = EventMemberRemoved
	}
	if evt.EventType != EventMemberRemoved {
		return evt, fmt.Errorf("%w %q", errUnknownEvent, evt.EventType)
	}
	if evt.PoolID == uuid.Nil || evt.UserID == uuid.Nil {
		return evt, errMissingIDs
	}
	return evt, nil
}

// rawText renders a JSON scalar as text: strings unquoted, anything else as
// written.
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}
