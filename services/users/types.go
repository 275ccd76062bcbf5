package users

import (
	"time"

	"github.com/google/uuid"

	"poolmatch/services/matches"
	"poolmatch/services/pools"
)

// UserPool is a user's current pool as seen by the façade.
type UserPool struct {
	UserID      uuid.UUID `json:"user_id"`
	PoolID      uuid.UUID `json:"pool_id"`
	PoolName    string    `json:"pool_name"`
	Location    *string   `json:"location,omitempty"`
	MemberCount int       `json:"member_count"`
	CoordX      *float64  `json:"coord_x,omitempty"`
	CoordY      *float64  `json:"coord_y,omitempty"`
	JoinedAt    time.Time `json:"joined_at"`
}

// JoinRequest asks to place a user in a pool at Location.
type JoinRequest struct {
	Location string   `json:"location"`
	CoordX   *float64 `json:"coord_x,omitempty"`
	CoordY   *float64 `json:"coord_y,omitempty"`
}

// JoinResult reports the pool a user was placed in.
type JoinResult struct {
	Message     string       `json:"message"`
	UserID      uuid.UUID    `json:"user_id"`
	PoolID      uuid.UUID    `json:"pool_id"`
	Location    string       `json:"location"`
	CreatedPool bool         `json:"created_pool"`
	Pool        pools.Pool   `json:"pool"`
	Member      pools.Member `json:"member"`
}

// LeaveResult reports a departure. Warning is set when the member-removed
// event could not be published.
type LeaveResult struct {
	Message string       `json:"message"`
	UserID  uuid.UUID    `json:"user_id"`
	PoolID  uuid.UUID    `json:"pool_id"`
	Member  pools.Member `json:"member"`
	Warning string       `json:"warning,omitempty"`
}

// MoveResult combines the leave and join halves of a pool change.
type MoveResult struct {
	Left   LeaveResult `json:"left"`
	Joined JoinResult  `json:"joined"`
}

// GenerateResult lists the matches created for a user in one call.
type GenerateResult struct {
	Message        string          `json:"message"`
	PoolID         uuid.UUID       `json:"pool_id"`
	MatchesCreated int             `json:"matches_created"`
	Matches        []matches.Match `json:"matches"`
}

// DecisionRequest is a decision submitted on a user's behalf.
type DecisionRequest struct {
	MatchID  *uuid.UUID `json:"match_id,omitempty"`
	UserID   uuid.UUID  `json:"user_id"`
	Decision string     `json:"decision"`
}
