package matches

import (
	"context"
	"errors"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"poolmatch/pkg/apperr"
)

const (
	auditActor        = "cleanup"
	auditActionUser   = "user_pool_matches_deleted"
	auditActionPool   = "pool_matches_deleted"
	archiveTimeout    = 10 * time.Second
	archivePrefixRoot = "cleanup"
	cleanupScopeUser  = "user"
	cleanupScopePool  = "pool"
)

// ReportArchiver stores cleanup reports outside the database.
type ReportArchiver interface {
	Put(ctx context.Context, prefix string, v any) (string, error)
}

// Engine owns match creation, decisions, status derivation and cleanup.
type Engine struct {
	store    Store
	archiver ReportArchiver
	log      zerolog.Logger
	newID    func() uuid.UUID
}

// Option customizes an Engine.
type Option func(*Engine)

// WithArchiver archives every non-empty cleanup report after commit.
func WithArchiver(a ReportArchiver) Option {
	return func(e *Engine) { e.archiver = a }
}

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// NewEngine builds an Engine over store.
func NewEngine(store Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	e := &Engine{store: store, log: zerolog.Nop(), newID: uuid.New}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Ping checks the backing store.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// CreateMatch pairs two live members of pool. The pair is stored in canonical
// order so the same two users can only be matched once per pool.
func (e *Engine) CreateMatch(ctx context.Context, pool, userA, userB uuid.UUID) (Match, error) {
	m, err := e.createMatch(ctx, pool, userA, userB)
	matchesCreated.WithLabelValues(resultLabel(err)).Inc()
	return m, err
}

func (e *Engine) createMatch(ctx context.Context, pool, userA, userB uuid.UUID) (Match, error) {
	if pool == uuid.Nil || userA == uuid.Nil || userB == uuid.Nil {
		return Match{}, apperr.InvalidInput("pool_id, user1_id and user2_id are required")
	}
	if userA == userB {
		return Match{}, invalidParticipants()
	}

	first, second := Canonicalize(userA, userB)
	var created Match
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		members, err := tx.PoolMembers(ctx, pool, first, second)
		if err != nil {
			return err
		}
		for _, u := range []uuid.UUID{first, second} {
			if !members[u] {
				return apperr.New(apperr.KindInvalidInput, apperr.CodeParticipantNotInPool,
					"user %s is not a member of pool %s", u, pool)
			}
		}

		created, err = tx.InsertMatch(ctx, Match{
			ID:      e.newID(),
			PoolID:  pool,
			User1ID: first,
			User2ID: second,
			Status:  StatusWaiting,
		})
		return err
	})
	if err != nil {
		return Match{}, err
	}

	e.log.Info().
		Str("match_id", created.ID.String()).
		Str("pool_id", pool.String()).
		Msg("match created")
	return created, nil
}

// GetMatch returns a match by id.
func (e *Engine) GetMatch(ctx context.Context, id uuid.UUID) (Match, error) {
	var m Match
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		m, err = tx.GetMatch(ctx, id, false)
		return err
	})
	return m, err
}

// ListMatches returns matches satisfying every set filter, newest first.
func (e *Engine) ListMatches(ctx context.Context, f Filter) ([]Match, error) {
	if f.Status != nil && !f.Status.Valid() {
		return nil, apperr.InvalidInput("invalid status %q", *f.Status)
	}
	var out []Match
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.ListMatches(ctx, f)
		return err
	})
	if out == nil && err == nil {
		out = []Match{}
	}
	return out, err
}

// PatchMatch applies an administrative override. Touched participants are
// re-canonicalized and decisions of replaced participants are dropped; the
// status is taken as given.
func (e *Engine) PatchMatch(ctx context.Context, id uuid.UUID, p Patch) (Match, error) {
	if p.Status != nil && !p.Status.Valid() {
		return Match{}, apperr.InvalidInput("invalid status %q", *p.Status)
	}
	for _, v := range []*uuid.UUID{p.PoolID, p.User1ID, p.User2ID} {
		if v != nil && *v == uuid.Nil {
			return Match{}, apperr.InvalidInput("ids in a patch must not be empty")
		}
	}

	var updated Match
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		current, err := tx.GetMatch(ctx, id, true)
		if err != nil {
			return err
		}

		next := current
		if p.PoolID != nil {
			next.PoolID = *p.PoolID
		}
		if p.User1ID != nil || p.User2ID != nil {
			a, b := current.User1ID, current.User2ID
			if p.User1ID != nil {
				a = *p.User1ID
			}
			if p.User2ID != nil {
				b = *p.User2ID
			}
			if a == b {
				return invalidParticipants()
			}
			next.User1ID, next.User2ID = Canonicalize(a, b)
		}
		if p.Status != nil {
			next.Status = *p.Status
		}

		updated, err = tx.UpdateMatch(ctx, next)
		if err != nil {
			return err
		}
		if next.User1ID == current.User1ID && next.User2ID == current.User2ID {
			return nil
		}
		dropped, err := tx.DeleteDecisionsExcept(ctx, id, next.User1ID, next.User2ID)
		if err != nil {
			return err
		}
		if dropped > 0 {
			e.log.Info().Str("match_id", id.String()).Int64("decisions", dropped).Msg("dropped decisions of replaced participants")
		}
		return nil
	})
	if err != nil {
		return Match{}, err
	}
	e.log.Info().Str("match_id", id.String()).Str("status", string(updated.Status)).Msg("match patched")
	return updated, nil
}

// DeleteMatch removes a match together with its decisions.
func (e *Engine) DeleteMatch(ctx context.Context, id uuid.UUID) error {
	return e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		deleted, err := tx.DeleteMatch(ctx, id)
		if err != nil {
			return err
		}
		if !deleted {
			return matchNotFound(id)
		}
		return nil
	})
}

// RecomputeStatus re-derives a match status from its recorded decisions.
func (e *Engine) RecomputeStatus(ctx context.Context, id uuid.UUID) (Match, error) {
	var out Match
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		m, err := tx.GetMatch(ctx, id, true)
		if err != nil {
			return err
		}
		out, err = recomputeStatus(ctx, tx, m)
		return err
	})
	return out, err
}

// recomputeStatus persists the derived status of m when it differs from the
// stored one. m must be locked by the caller's transaction.
func recomputeStatus(ctx context.Context, tx Tx, m Match) (Match, error) {
	decisions, err := tx.ListDecisions(ctx, m.ID)
	if err != nil {
		return Match{}, err
	}
	next := statusFromDecisions(m, decisions)
	if next == m.Status {
		return m, nil
	}
	previous := m.Status
	m.Status = next
	updated, err := tx.UpdateMatch(ctx, m)
	if err != nil {
		return Match{}, err
	}
	statusTransitions.WithLabelValues(string(previous), string(next)).Inc()
	return updated, nil
}

// SubmitDecision records a participant's decision and returns the match with
// its re-derived status.
func (e *Engine) SubmitDecision(ctx context.Context, matchID, userID uuid.UUID, value Value) (Match, error) {
	if !value.Valid() {
		return Match{}, apperr.InvalidInput("decision must be accept or reject")
	}
	if userID == uuid.Nil {
		return Match{}, apperr.InvalidInput("user_id is required")
	}

	var out Match
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		m, err := tx.GetMatch(ctx, matchID, true)
		if err != nil {
			return err
		}
		if !m.HasParticipant(userID) {
			return apperr.New(apperr.KindForbidden, apperr.CodeNotParticipant,
				"user %s is not a participant of match %s", userID, matchID)
		}
		if _, err := tx.UpsertDecision(ctx, Decision{MatchID: matchID, UserID: userID, Decision: value}); err != nil {
			return err
		}
		out, err = recomputeStatus(ctx, tx, m)
		return err
	})
	if err != nil {
		return Match{}, err
	}

	decisionsSubmitted.WithLabelValues(string(value)).Inc()
	e.log.Info().
		Str("match_id", matchID.String()).
		Str("user_id", userID.String()).
		Str("decision", string(value)).
		Str("status", string(out.Status)).
		Msg("decision recorded")
	return out, nil
}

// ListDecisions returns the decisions on a match, latest first.
func (e *Engine) ListDecisions(ctx context.Context, matchID uuid.UUID) ([]Decision, error) {
	var out []Decision
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetMatch(ctx, matchID, false); err != nil {
			return err
		}
		var err error
		out, err = tx.ListDecisions(ctx, matchID)
		return err
	})
	return out, err
}

// GetDecision returns one participant's decision on a match.
func (e *Engine) GetDecision(ctx context.Context, matchID, userID uuid.UUID) (Decision, error) {
	var out Decision
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.GetDecision(ctx, matchID, userID)
		return err
	})
	return out, err
}

// ListUserDecisions returns every decision recorded by a user, latest first.
func (e *Engine) ListUserDecisions(ctx context.Context, userID uuid.UUID) ([]Decision, error) {
	var out []Decision
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.ListUserDecisions(ctx, userID)
		return err
	})
	return out, err
}

// CleanupUserPoolMatches deletes the non-accepted matches user holds in pool.
// Accepted matches and other pools are left alone, and a repeated call
// removes nothing.
func (e *Engine) CleanupUserPoolMatches(ctx context.Context, userID, poolID uuid.UUID) (CleanupReport, error) {
	if userID == uuid.Nil || poolID == uuid.Nil {
		return CleanupReport{}, apperr.InvalidInput("user_id and pool_id are required")
	}
	return e.cleanup(ctx, poolID, &userID)
}

// CleanupPoolMatches deletes every non-accepted match in pool.
func (e *Engine) CleanupPoolMatches(ctx context.Context, poolID uuid.UUID) (CleanupReport, error) {
	if poolID == uuid.Nil {
		return CleanupReport{}, apperr.InvalidInput("pool_id is required")
	}
	return e.cleanup(ctx, poolID, nil)
}

func (e *Engine) cleanup(ctx context.Context, poolID uuid.UUID, userID *uuid.UUID) (CleanupReport, error) {
	scope, action := cleanupScopePool, auditActionPool
	if userID != nil {
		scope, action = cleanupScopeUser, auditActionUser
	}

	var report CleanupReport
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		report = CleanupReport{PoolID: poolID, UserID: userID, Matches: []CleanedMatch{}}

		candidates, err := tx.LockCleanupCandidates(ctx, poolID, userID)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, len(candidates))
		for i, m := range candidates {
			ids[i] = m.ID
		}
		counts, err := tx.CountDecisions(ctx, ids)
		if err != nil {
			return err
		}
		deleted, err := tx.DeleteMatches(ctx, ids)
		if err != nil {
			return err
		}

		for _, m := range candidates {
			n := counts[m.ID]
			report.DecisionsDeleted += n
			report.Matches = append(report.Matches, CleanedMatch{MatchID: m.ID, Status: m.Status, DecisionsDeleted: n})
		}
		report.MatchesDeleted = int(deleted)

		obj := poolID.String()
		if userID != nil {
			obj = userID.String()
		}
		return tx.InsertAudit(ctx, AuditEntry{
			Actor:  auditActor,
			Action: action,
			Obj:    obj,
			Details: map[string]any{
				"pool_id":           poolID.String(),
				"matches_deleted":   report.MatchesDeleted,
				"decisions_deleted": report.DecisionsDeleted,
				"match_ids":         idStrings(ids),
			},
		})
	})
	cleanupRuns.WithLabelValues(scope, resultLabel(err)).Inc()
	if err != nil {
		return CleanupReport{}, err
	}

	cleanupMatchesDeleted.Add(float64(report.MatchesDeleted))
	cleanupDecisionsDeleted.Add(float64(report.DecisionsDeleted))

	event := e.log.Info().
		Str("pool_id", poolID.String()).
		Int("matches_deleted", report.MatchesDeleted).
		Int("decisions_deleted", report.DecisionsDeleted)
	if userID != nil {
		event = event.Str("user_id", userID.String())
	}
	event.Msg("cleanup complete")

	if report.MatchesDeleted > 0 && e.archiver != nil {
		report.ArchiveKey = e.archive(ctx, report)
	}
	return report, nil
}

func (e *Engine) archive(ctx context.Context, report CleanupReport) string {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()

	prefix := path.Join(archivePrefixRoot, report.PoolID.String())
	if report.UserID != nil {
		prefix = path.Join(prefix, report.UserID.String())
	}
	key, err := e.archiver.Put(ctx, prefix, report)
	if err != nil {
		e.log.Error().Err(err).Str("pool_id", report.PoolID.String()).Msg("archive cleanup report")
		return ""
	}
	return key
}
