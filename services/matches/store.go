package matches

import (
	"context"

	"github.com/google/uuid"
)

// Store runs units of work against match persistence. Every Tx commits when fn
// returns nil and rolls back otherwise.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
}

// Tx is the set of operations available inside a unit of work.
type Tx interface {
	// PoolMembers reports which of users are live members of pool, holding a
	// share lock on the rows found.
	PoolMembers(ctx context.Context, pool uuid.UUID, users ...uuid.UUID) (map[uuid.UUID]bool, error)

	InsertMatch(ctx context.Context, m Match) (Match, error)
	GetMatch(ctx context.Context, id uuid.UUID, forUpdate bool) (Match, error)
	ListMatches(ctx context.Context, f Filter) ([]Match, error)
	UpdateMatch(ctx context.Context, m Match) (Match, error)
	DeleteMatch(ctx context.Context, id uuid.UUID) (bool, error)

	UpsertDecision(ctx context.Context, d Decision) (Decision, error)
	ListDecisions(ctx context.Context, matchID uuid.UUID) ([]Decision, error)
	ListUserDecisions(ctx context.Context, userID uuid.UUID) ([]Decision, error)
	GetDecision(ctx context.Context, matchID, userID uuid.UUID) (Decision, error)
	// DeleteDecisionsExcept drops the decisions on matchID made by anyone
	// other than keep.
	DeleteDecisionsExcept(ctx context.Context, matchID uuid.UUID, keep ...uuid.UUID) (int64, error)

	// LockCleanupCandidates selects and locks the non-accepted matches of pool,
	// restricted to those user participates in when user is non-nil.
	LockCleanupCandidates(ctx context.Context, pool uuid.UUID, user *uuid.UUID) ([]Match, error)
	CountDecisions(ctx context.Context, matchIDs []uuid.UUID) (map[uuid.UUID]int, error)
	DeleteMatches(ctx context.Context, matchIDs []uuid.UUID) (int64, error)
	InsertAudit(ctx context.Context, entry AuditEntry) error
}
