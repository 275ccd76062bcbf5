package matches

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"poolmatch/pkg/db"
)

const (
	matchColumns    = `id, pool_id, user1_id, user2_id, status, created_at, updated_at`
	decisionColumns = `match_id, user_id, decision, decided_at`
)

// PostgresStore persists matches and decisions with pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an open pgx pool.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("database pool is required")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return db.Ping(ctx, s.pool)
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	err := db.InTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
	return storeErr(err, "match store")
}

type pgTx struct {
	tx pgx.Tx
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func (t *pgTx) PoolMembers(ctx context.Context, pool uuid.UUID, users ...uuid.UUID) (map[uuid.UUID]bool, error) {
	var present []uuid.UUID
	err := pgxscan.Select(ctx, t.tx, &present, `
SELECT user_id
FROM pool_members
WHERE pool_id = $1 AND user_id = ANY($2::uuid[])
FOR SHARE
`, pool, idStrings(users))
	if err != nil {
		return nil, storeErr(err, "lookup pool members")
	}
	found := make(map[uuid.UUID]bool, len(present))
	for _, u := range present {
		found[u] = true
	}
	return found, nil
}

func (t *pgTx) InsertMatch(ctx context.Context, m Match) (Match, error) {
	var out Match
	err := pgxscan.Get(ctx, t.tx, &out, `
INSERT INTO matches (id, pool_id, user1_id, user2_id, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, now(), now())
RETURNING `+matchColumns,
		m.ID, m.PoolID, m.User1ID, m.User2ID, string(m.Status))
	if err != nil {
		return Match{}, storeErr(err, "insert match")
	}
	return out, nil
}

func (t *pgTx) GetMatch(ctx context.Context, id uuid.UUID, forUpdate bool) (Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var out Match
	if err := pgxscan.Get(ctx, t.tx, &out, query, id); err != nil {
		if pgxscan.NotFound(err) {
			return Match{}, matchNotFound(id)
		}
		return Match{}, storeErr(err, "get match")
	}
	return out, nil
}

func (t *pgTx) ListMatches(ctx context.Context, f Filter) ([]Match, error) {
	var (
		where []string
		args  []any
	)
	if f.PoolID != nil {
		args = append(args, *f.PoolID)
		where = append(where, fmt.Sprintf("pool_id = $%d", len(args)))
	}
	if f.UserID != nil {
		args = append(args, *f.UserID)
		where = append(where, fmt.Sprintf("(user1_id = $%d OR user2_id = $%d)", len(args), len(args)))
	}
	if f.Status != nil {
		args = append(args, string(*f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + matchColumns + ` FROM matches`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`

	out := []Match{}
	if err := pgxscan.Select(ctx, t.tx, &out, query, args...); err != nil {
		return nil, storeErr(err, "list matches")
	}
	return out, nil
}

func (t *pgTx) UpdateMatch(ctx context.Context, m Match) (Match, error) {
	var out Match
	err := pgxscan.Get(ctx, t.tx, &out, `
UPDATE matches
SET pool_id = $2, user1_id = $3, user2_id = $4, status = $5, updated_at = now()
WHERE id = $1
RETURNING `+matchColumns,
		m.ID, m.PoolID, m.User1ID, m.User2ID, string(m.Status))
	if err != nil {
		if pgxscan.NotFound(err) {
			return Match{}, matchNotFound(m.ID)
		}
		return Match{}, storeErr(err, "update match")
	}
	return out, nil
}

func (t *pgTx) DeleteMatch(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM matches WHERE id = $1`, id)
	if err != nil {
		return false, storeErr(err, "delete match")
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTx) UpsertDecision(ctx context.Context, d Decision) (Decision, error) {
	var out Decision
	err := pgxscan.Get(ctx, t.tx, &out, `
INSERT INTO match_decisions (match_id, user_id, decision, decided_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (match_id, user_id)
DO UPDATE SET decision = EXCLUDED.decision, decided_at = EXCLUDED.decided_at
RETURNING `+decisionColumns,
		d.MatchID, d.UserID, string(d.Decision))
	if err != nil {
		return Decision{}, storeErr(err, "upsert decision")
	}
	return out, nil
}

func (t *pgTx) ListDecisions(ctx context.Context, matchID uuid.UUID) ([]Decision, error) {
	out := []Decision{}
	err := pgxscan.Select(ctx, t.tx, &out, `
SELECT `+decisionColumns+`
FROM match_decisions
WHERE match_id = $1
ORDER BY decided_at DESC, user_id
`, matchID)
	if err != nil {
		return nil, storeErr(err, "list decisions")
	}
	return out, nil
}

func (t *pgTx) ListUserDecisions(ctx context.Context, userID uuid.UUID) ([]Decision, error) {
	out := []Decision{}
	err := pgxscan.Select(ctx, t.tx, &out, `
SELECT `+decisionColumns+`
FROM match_decisions
WHERE user_id = $1
ORDER BY decided_at DESC, match_id
`, userID)
	if err != nil {
		return nil, storeErr(err, "list user decisions")
	}
	return out, nil
}

func (t *pgTx) GetDecision(ctx context.Context, matchID, userID uuid.UUID) (Decision, error) {
	var out Decision
	err := pgxscan.Get(ctx, t.tx, &out, `
SELECT `+decisionColumns+`
FROM match_decisions
WHERE match_id = $1 AND user_id = $2
`, matchID, userID)
	if err != nil {
		if pgxscan.NotFound(err) {
			return Decision{}, decisionNotFound(matchID, userID)
		}
		return Decision{}, storeErr(err, "get decision")
	}
	return out, nil
}

func (t *pgTx) DeleteDecisionsExcept(ctx context.Context, matchID uuid.UUID, keep ...uuid.UUID) (int64, error) {
	tag, err := t.tx.Exec(ctx, `
DELETE FROM match_decisions
WHERE match_id = $1 AND NOT (user_id = ANY($2::uuid[]))
`, matchID, idStrings(keep))
	if err != nil {
		return 0, storeErr(err, "delete stale decisions")
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) LockCleanupCandidates(ctx context.Context, pool uuid.UUID, user *uuid.UUID) ([]Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE pool_id = $1 AND status <> 'accepted'`
	args := []any{pool}
	if user != nil {
		args = append(args, *user)
		query += ` AND (user1_id = $2 OR user2_id = $2)`
	}
	query += ` ORDER BY created_at DESC, id DESC FOR UPDATE`

	out := []Match{}
	if err := pgxscan.Select(ctx, t.tx, &out, query, args...); err != nil {
		return nil, storeErr(err, "select cleanup candidates")
	}
	return out, nil
}

func (t *pgTx) CountDecisions(ctx context.Context, matchIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	var rows []struct {
		MatchID uuid.UUID `db:"match_id"`
		N       int       `db:"n"`
	}
	err := pgxscan.Select(ctx, t.tx, &rows, `
SELECT match_id, count(*) AS n
FROM match_decisions
WHERE match_id = ANY($1::uuid[])
GROUP BY match_id
`, idStrings(matchIDs))
	if err != nil {
		return nil, storeErr(err, "count decisions")
	}
	counts := make(map[uuid.UUID]int, len(rows))
	for _, r := range rows {
		counts[r.MatchID] = r.N
	}
	return counts, nil
}

func (t *pgTx) DeleteMatches(ctx context.Context, matchIDs []uuid.UUID) (int64, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM matches WHERE id = ANY($1::uuid[])`, idStrings(matchIDs))
	if err != nil {
		return 0, storeErr(err, "delete matches")
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) InsertAudit(ctx context.Context, entry AuditEntry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
INSERT INTO audit (actor, action, obj, details)
VALUES ($1, $2, $3, $4::jsonb)
`, entry.Actor, entry.Action, entry.Obj, string(details))
	return storeErr(err, "insert audit")
}
