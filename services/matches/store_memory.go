package matches

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"poolmatch/pkg/apperr"
)

type pairKey struct {
	pool, user1, user2 uuid.UUID
}

type decisionKey struct {
	match, user uuid.UUID
}

type memState struct {
	members   map[uuid.UUID]map[uuid.UUID]bool
	matches   map[uuid.UUID]Match
	decisions map[decisionKey]Decision
	audit     []AuditEntry
}

func (s *memState) clone() *memState {
	out := &memState{
		members:   make(map[uuid.UUID]map[uuid.UUID]bool, len(s.members)),
		matches:   make(map[uuid.UUID]Match, len(s.matches)),
		decisions: make(map[decisionKey]Decision, len(s.decisions)),
		audit:     append([]AuditEntry(nil), s.audit...),
	}
	for pool, users := range s.members {
		cp := make(map[uuid.UUID]bool, len(users))
		for u := range users {
			cp[u] = true
		}
		out.members[pool] = cp
	}
	for id, m := range s.matches {
		out.matches[id] = m
	}
	for k, d := range s.decisions {
		out.decisions[k] = d
	}
	return out
}

// MemoryStore is a Store kept in process memory. Units of work are serialized
// and applied to a copy of the state, which replaces the original on commit.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
	now   func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memState{
			members:   map[uuid.UUID]map[uuid.UUID]bool{},
			matches:   map[uuid.UUID]Match{},
			decisions: map[decisionKey]Decision{},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// AddMember records user as a live member of pool.
func (s *MemoryStore) AddMember(pool, user uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.members[pool] == nil {
		s.state.members[pool] = map[uuid.UUID]bool{}
	}
	s.state.members[pool][user] = true
}

// RemoveMember drops user from pool.
func (s *MemoryStore) RemoveMember(pool, user uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state.members[pool], user)
}

// Audit returns the audit entries written so far.
func (s *MemoryStore) Audit() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditEntry(nil), s.state.audit...)
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) InTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return apperr.Upstream(err, "begin transaction")
	}
	work := s.state.clone()
	if err := fn(ctx, &memTx{state: work, now: s.now}); err != nil {
		return err
	}
	s.state = work
	return nil
}

type memTx struct {
	state *memState
	now   func() time.Time
}

func (t *memTx) PoolMembers(_ context.Context, pool uuid.UUID, users ...uuid.UUID) (map[uuid.UUID]bool, error) {
	found := make(map[uuid.UUID]bool, len(users))
	for _, u := range users {
		if t.state.members[pool][u] {
			found[u] = true
		}
	}
	return found, nil
}

func (t *memTx) pairTaken(m Match) bool {
	key := pairKey{m.PoolID, m.User1ID, m.User2ID}
	for id, other := range t.state.matches {
		if id != m.ID && (pairKey{other.PoolID, other.User1ID, other.User2ID}) == key {
			return true
		}
	}
	return false
}

func (t *memTx) InsertMatch(_ context.Context, m Match) (Match, error) {
	if t.pairTaken(m) {
		return Match{}, duplicateMatch()
	}
	now := t.now()
	m.CreatedAt, m.UpdatedAt = now, now
	t.state.matches[m.ID] = m
	return m, nil
}

func (t *memTx) GetMatch(_ context.Context, id uuid.UUID, _ bool) (Match, error) {
	m, ok := t.state.matches[id]
	if !ok {
		return Match{}, matchNotFound(id)
	}
	return m, nil
}

func (t *memTx) ListMatches(_ context.Context, f Filter) ([]Match, error) {
	out := []Match{}
	for _, m := range t.state.matches {
		if f.PoolID != nil && m.PoolID != *f.PoolID {
			continue
		}
		if f.UserID != nil && !m.HasParticipant(*f.UserID) {
			continue
		}
		if f.Status != nil && m.Status != *f.Status {
			continue
		}
		out = append(out, m)
	}
	sortNewestFirst(out)
	return out, nil
}

func (t *memTx) UpdateMatch(_ context.Context, m Match) (Match, error) {
	if _, ok := t.state.matches[m.ID]; !ok {
		return Match{}, matchNotFound(m.ID)
	}
	if t.pairTaken(m) {
		return Match{}, duplicateMatch()
	}
	m.UpdatedAt = t.now()
	t.state.matches[m.ID] = m
	return m, nil
}

func (t *memTx) DeleteMatch(_ context.Context, id uuid.UUID) (bool, error) {
	if _, ok := t.state.matches[id]; !ok {
		return false, nil
	}
	t.deleteMatch(id)
	return true, nil
}

func (t *memTx) deleteMatch(id uuid.UUID) {
	delete(t.state.matches, id)
	for k := range t.state.decisions {
		if k.match == id {
			delete(t.state.decisions, k)
		}
	}
}

func (t *memTx) UpsertDecision(_ context.Context, d Decision) (Decision, error) {
	if _, ok := t.state.matches[d.MatchID]; !ok {
		return Decision{}, matchNotFound(d.MatchID)
	}
	d.DecidedAt = t.now()
	t.state.decisions[decisionKey{d.MatchID, d.UserID}] = d
	return d, nil
}

func (t *memTx) ListDecisions(_ context.Context, matchID uuid.UUID) ([]Decision, error) {
	out := []Decision{}
	for k, d := range t.state.decisions {
		if k.match == matchID {
			out = append(out, d)
		}
	}
	sortDecisions(out)
	return out, nil
}

func (t *memTx) ListUserDecisions(_ context.Context, userID uuid.UUID) ([]Decision, error) {
	out := []Decision{}
	for k, d := range t.state.decisions {
		if k.user == userID {
			out = append(out, d)
		}
	}
	sortDecisions(out)
	return out, nil
}

func (t *memTx) GetDecision(_ context.Context, matchID, userID uuid.UUID) (Decision, error) {
	d, ok := t.state.decisions[decisionKey{matchID, userID}]
	if !ok {
		return Decision{}, decisionNotFound(matchID, userID)
	}
	return d, nil
}

func (t *memTx) DeleteDecisionsExcept(_ context.Context, matchID uuid.UUID, keep ...uuid.UUID) (int64, error) {
	kept := make(map[uuid.UUID]bool, len(keep))
	for _, u := range keep {
		kept[u] = true
	}
	var n int64
	for k := range t.state.decisions {
		if k.match == matchID && !kept[k.user] {
			delete(t.state.decisions, k)
			n++
		}
	}
	return n, nil
}

func (t *memTx) LockCleanupCandidates(_ context.Context, pool uuid.UUID, user *uuid.UUID) ([]Match, error) {
	out := []Match{}
	for _, m := range t.state.matches {
		if m.PoolID != pool || m.Status == StatusAccepted {
			continue
		}
		if user != nil && !m.HasParticipant(*user) {
			continue
		}
		out = append(out, m)
	}
	sortNewestFirst(out)
	return out, nil
}

func (t *memTx) CountDecisions(_ context.Context, matchIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	wanted := make(map[uuid.UUID]bool, len(matchIDs))
	for _, id := range matchIDs {
		wanted[id] = true
	}
	counts := map[uuid.UUID]int{}
	for k := range t.state.decisions {
		if wanted[k.match] {
			counts[k.match]++
		}
	}
	return counts, nil
}

func (t *memTx) DeleteMatches(_ context.Context, matchIDs []uuid.UUID) (int64, error) {
	var n int64
	for _, id := range matchIDs {
		if _, ok := t.state.matches[id]; ok {
			t.deleteMatch(id)
			n++
		}
	}
	return n, nil
}

func (t *memTx) InsertAudit(_ context.Context, entry AuditEntry) error {
	t.state.audit = append(t.state.audit, entry)
	return nil
}

func sortNewestFirst(ms []Match) {
	sort.Slice(ms, func(i, j int) bool {
		if !ms[i].CreatedAt.Equal(ms[j].CreatedAt) {
			return ms[i].CreatedAt.After(ms[j].CreatedAt)
		}
		return ms[i].ID.String() > ms[j].ID.String()
	})
}

func sortDecisions(ds []Decision) {
	sort.Slice(ds, func(i, j int) bool {
		if !ds[i].DecidedAt.Equal(ds[j].DecidedAt) {
			return ds[i].DecidedAt.After(ds[j].DecidedAt)
		}
		return ds[i].UserID.String() < ds[j].UserID.String()
	})
}
