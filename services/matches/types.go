package matches

import (
	"time"

	"github.com/google/uuid"
)

// Status is the derived state of a match.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusAccepted, StatusRejected:
		return true
	}
	return false
}

// Value is a participant's decision on a match. The zero value means no decision.
type Value string

const (
	ValueNone   Value = ""
	ValueAccept Value = "accept"
	ValueReject Value = "reject"
)

// Valid reports whether v is accept or reject.
func (v Value) Valid() bool {
	return v == ValueAccept || v == ValueReject
}

// Match pairs two members of a pool. User1ID always sorts before User2ID.
type Match struct {
	ID        uuid.UUID `json:"match_id" db:"id"`
	PoolID    uuid.UUID `json:"pool_id" db:"pool_id"`
	User1ID   uuid.UUID `json:"user1_id" db:"user1_id"`
	User2ID   uuid.UUID `json:"user2_id" db:"user2_id"`
	Status    Status    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HasParticipant reports whether user occupies either slot.
func (m Match) HasParticipant(user uuid.UUID) bool {
	return m.User1ID == user || m.User2ID == user
}

// Decision is one participant's latest verdict on a match.
type Decision struct {
	MatchID   uuid.UUID `json:"match_id" db:"match_id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	Decision  Value     `json:"decision" db:"decision"`
	DecidedAt time.Time `json:"decided_at" db:"decided_at"`
}

// Filter narrows ListMatches. Nil fields are ignored.
type Filter struct {
	PoolID *uuid.UUID
	UserID *uuid.UUID
	Status *Status
}

// Patch carries an administrative override. Nil fields are left untouched.
type Patch struct {
	PoolID  *uuid.UUID `json:"pool_id,omitempty"`
	User1ID *uuid.UUID `json:"user1_id,omitempty"`
	User2ID *uuid.UUID `json:"user2_id,omitempty"`
	Status  *Status    `json:"status,omitempty"`
}

// CleanedMatch describes one match removed by a cleanup run.
type CleanedMatch struct {
	MatchID          uuid.UUID `json:"match_id"`
	Status           Status    `json:"status"`
	DecisionsDeleted int       `json:"decisions_deleted"`
}

// CleanupReport is the result of a cleanup run. UserID is nil for pool-wide runs.
type CleanupReport struct {
	PoolID           uuid.UUID      `json:"pool_id"`
	UserID           *uuid.UUID     `json:"user_id,omitempty"`
	MatchesDeleted   int            `json:"matches_deleted"`
	DecisionsDeleted int            `json:"decisions_deleted"`
	Matches          []CleanedMatch `json:"matches"`
	ArchiveKey       string         `json:"archive_key,omitempty"`
}

// AuditEntry is written alongside every cleanup run that removed something.
type AuditEntry struct {
	Actor   string
	Action  string
	Obj     string
	Details map[string]any
}
