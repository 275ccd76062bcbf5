package pools

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"poolmatch/pkg/apperr"
)

// MemoryStore is a Store held in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	pools   map[uuid.UUID]Pool
	members map[uuid.UUID]map[uuid.UUID]Member
	now     func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools:   map[uuid.UUID]Pool{},
		members: map[uuid.UUID]map[uuid.UUID]Member{},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) CreatePool(_ context.Context, in NewPool) (Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := Pool{ID: uuid.New(), Name: in.Name, Location: in.Location, CreatedAt: s.now()}
	s.pools[p.ID] = p
	s.members[p.ID] = map[uuid.UUID]Member{}
	return p, nil
}

func (s *MemoryStore) ListPools(_ context.Context, location *string) ([]Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Pool{}
	for _, p := range s.pools {
		if location != nil && (p.Location == nil || *p.Location != *location) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) GetPool(_ context.Context, id uuid.UUID) (Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[id]
	if !ok {
		return Pool{}, poolNotFound(id)
	}
	return p, nil
}

func (s *MemoryStore) UpdatePool(_ context.Context, id uuid.UUID, patch PoolPatch) (Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[id]
	if !ok {
		return Pool{}, poolNotFound(id)
	}
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Location != nil {
		p.Location = trimOptional(patch.Location)
	}
	s.pools[id] = p
	return p, nil
}

func (s *MemoryStore) DeletePool(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pools[id]; !ok {
		return poolNotFound(id)
	}
	delete(s.pools, id)
	delete(s.members, id)
	return nil
}

func (s *MemoryStore) DeleteEmptyPool(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pools[id]; !ok {
		return poolNotFound(id)
	}
	if len(s.members[id]) > 0 {
		return poolNotEmpty(id)
	}
	delete(s.pools, id)
	delete(s.members, id)
	return nil
}

func (s *MemoryStore) AddMember(_ context.Context, pool uuid.UUID, in NewMember) (Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[pool]
	if !ok {
		return Member{}, apperr.New(apperr.KindInvalidInput, apperr.CodePoolNotFound, "pool %s does not exist", pool)
	}
	if in.Exclusive && len(s.membershipsLocked(in.UserID)) > 0 {
		return Member{}, alreadyInPool(in.UserID)
	}
	if in.MaxMembers > 0 && p.MemberCount >= in.MaxMembers {
		return Member{}, poolFull(pool, in.MaxMembers)
	}
	if _, exists := s.members[pool][in.UserID]; exists {
		return Member{}, apperr.New(apperr.KindInvalidInput, apperr.CodeMemberExists,
			"user %s is already a member of pool %s", in.UserID, pool)
	}
	m := Member{PoolID: pool, UserID: in.UserID, CoordX: in.CoordX, CoordY: in.CoordY, JoinedAt: s.now()}
	s.members[pool][in.UserID] = m
	p.MemberCount++
	s.pools[pool] = p
	return m, nil
}

func (s *MemoryStore) ListMembers(_ context.Context, pool uuid.UUID) ([]Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pools[pool]; !ok {
		return nil, poolNotFound(pool)
	}
	out := make([]Member, 0, len(s.members[pool]))
	for _, m := range s.members[pool] {
		out = append(out, m)
	}
	sortMembers(out)
	return out, nil
}

func (s *MemoryStore) GetMember(_ context.Context, pool, user uuid.UUID) (Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[pool][user]
	if !ok {
		return Member{}, memberNotFound(pool, user)
	}
	return m, nil
}

func (s *MemoryStore) RemoveMember(_ context.Context, pool, user uuid.UUID) (Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(pool, user)
}

func (s *MemoryStore) removeLocked(pool, user uuid.UUID) (Member, error) {
	m, ok := s.members[pool][user]
	if !ok {
		return Member{}, memberNotFound(pool, user)
	}
	delete(s.members[pool], user)
	p := s.pools[pool]
	if p.MemberCount > 0 {
		p.MemberCount--
	}
	s.pools[pool] = p
	return m, nil
}

func (s *MemoryStore) UserMemberships(_ context.Context, user uuid.UUID) ([]Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.membershipsLocked(user), nil
}

func (s *MemoryStore) membershipsLocked(user uuid.UUID) []Member {
	out := []Member{}
	for _, byUser := range s.members {
		if m, ok := byUser[user]; ok {
			out = append(out, m)
		}
	}
	sortMembers(out)
	return out
}

func (s *MemoryStore) RemoveUser(_ context.Context, user uuid.UUID) ([]Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	memberships := s.membershipsLocked(user)
	if len(memberships) == 0 {
		return nil, apperr.NotFound(apperr.CodeMemberNotFound, "user %s is not in any pool", user)
	}
	for _, m := range memberships {
		if _, err := s.removeLocked(m.PoolID, user); err != nil {
			return nil, err
		}
	}
	return memberships, nil
}

func sortMembers(ms []Member) {
	sort.Slice(ms, func(i, j int) bool {
		if !ms[i].JoinedAt.Equal(ms[j].JoinedAt) {
			return ms[i].JoinedAt.Before(ms[j].JoinedAt)
		}
		return ms[i].UserID.String() < ms[j].UserID.String()
	})
}
