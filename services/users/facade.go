package users

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"poolmatch/pkg/apperr"
	"poolmatch/services/matches"
	"poolmatch/services/pools"
)

const (
	DefaultPoolCapacity = 20
	DefaultMaxMatches   = 10
)

// EventPublisher announces membership removals. *relay.Publisher implements it.
type EventPublisher interface {
	PublishMemberRemoved(ctx context.Context, pool, user uuid.UUID) error
}

// Facade composes the pools and matches services into user-centric operations.
type Facade struct {
	pools      PoolsAPI
	matches    MatchesAPI
	events     EventPublisher
	log        zerolog.Logger
	capacity   int
	maxMatches int
	shuffle    func(n int, swap func(i, j int))
}

// Option configures a Facade.
type Option func(*Facade)

func WithLogger(log zerolog.Logger) Option { return func(f *Facade) { f.log = log } }

// WithPoolCapacity sets how many members a pool may hold before JoinPool
// stops choosing it.
func WithPoolCapacity(n int) Option {
	return func(f *Facade) {
		if n > 0 {
			f.capacity = n
		}
	}
}

// WithMaxMatches sets the default number of matches GenerateMatches creates.
func WithMaxMatches(n int) Option {
	return func(f *Facade) {
		if n > 0 {
			f.maxMatches = n
		}
	}
}

func NewFacade(p PoolsAPI, m MatchesAPI, events EventPublisher, opts ...Option) (*Facade, error) {
	if p == nil || m == nil {
		return nil, errors.New("pools and matches clients are required")
	}
	if events == nil {
		return nil, errors.New("event publisher is required")
	}
	f := &Facade{
		pools:      p,
		matches:    m,
		events:     events,
		log:        zerolog.Nop(),
		capacity:   DefaultPoolCapacity,
		maxMatches: DefaultMaxMatches,
		shuffle:    rand.Shuffle,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Ping reports whether both upstream services are ready.
func (f *Facade) Ping(ctx context.Context) error {
	if err := f.pools.Ping(ctx); err != nil {
		return fmt.Errorf("pools: %w", err)
	}
	if err := f.matches.Ping(ctx); err != nil {
		return fmt.Errorf("matches: %w", err)
	}
	return nil
}

func userNotInPool(user uuid.UUID) error {
	return apperr.New(apperr.KindNotFound, apperr.CodeUserNotInPool, "user %s is not in any pool", user)
}

// GetUserPool resolves the pool user currently belongs to.
func (f *Facade) GetUserPool(ctx context.Context, user uuid.UUID) (UserPool, error) {
	memberships, err := f.pools.UserMemberships(ctx, user)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return UserPool{}, userNotInPool(user)
		}
		return UserPool{}, err
	}
	if len(memberships) == 0 {
		return UserPool{}, userNotInPool(user)
	}
	m := memberships[0]
	p, err := f.pools.GetPool(ctx, m.PoolID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return UserPool{}, userNotInPool(user)
		}
		return UserPool{}, err
	}
	return UserPool{
		UserID:      user,
		PoolID:      p.ID,
		PoolName:    p.Name,
		Location:    p.Location,
		MemberCount: p.MemberCount,
		CoordX:      m.CoordX,
		CoordY:      m.CoordY,
		JoinedAt:    m.JoinedAt,
	}, nil
}

// JoinPool places user in a random pool at the requested location that still
// has room, creating one when none does. A user holds at most one pool; the
// pools service enforces that and the capacity atomically with each add.
func (f *Facade) JoinPool(ctx context.Context, user uuid.UUID, req JoinRequest) (JoinResult, error) {
	location := strings.TrimSpace(req.Location)
	if location == "" {
		return JoinResult{}, apperr.InvalidInput("location is required")
	}
	if err := pools.ValidateCoords(req.CoordX, req.CoordY); err != nil {
		return JoinResult{}, err
	}

	current, err := f.GetUserPool(ctx, user)
	switch {
	case err == nil:
		return JoinResult{}, apperr.New(apperr.KindConflict, apperr.CodeAlreadyInPool,
			"user %s is already in pool %s", user, current.PoolID)
	case !errors.Is(err, apperr.ErrUserNotInPool):
		return JoinResult{}, err
	}

	in := pools.NewMember{
		UserID:     user,
		CoordX:     req.CoordX,
		CoordY:     req.CoordY,
		MaxMembers: f.capacity,
		Exclusive:  true,
	}
	for attempt := 0; attempt < maxJoinAttempts; attempt++ {
		res, err := f.joinOnce(ctx, location, in)
		if errors.Is(err, apperr.ErrPoolFull) {
			continue
		}
		if err != nil {
			return JoinResult{}, err
		}
		f.log.Info().
			Str("user_id", user.String()).
			Str("pool_id", res.PoolID.String()).
			Bool("created_pool", res.CreatedPool).
			Msg("user joined pool")
		return res, nil
	}
	return JoinResult{}, apperr.New(apperr.KindConflict, apperr.CodePoolFull,
		"no pool at %s had room for user %s after %d attempts", location, user, maxJoinAttempts)
}

const maxJoinAttempts = 5

// joinOnce tries the open pools at location in random order and falls back
// to a new pool. It returns ErrPoolFull when every pool it tried filled up
// first.
func (f *Facade) joinOnce(ctx context.Context, location string, in pools.NewMember) (JoinResult, error) {
	candidates, err := f.pools.ListPools(ctx, location)
	if err != nil {
		return JoinResult{}, err
	}
	open := candidates[:0]
	for _, p := range candidates {
		if p.MemberCount < f.capacity {
			open = append(open, p)
		}
	}
	f.shuffle(len(open), func(i, j int) { open[i], open[j] = open[j], open[i] })

	for _, p := range open {
		member, err := f.addMember(ctx, p.ID, in)
		if errors.Is(err, apperr.ErrPoolFull) || apperr.CodeOf(err) == apperr.CodePoolNotFound {
			continue
		}
		if err != nil {
			return JoinResult{}, err
		}
		return joined(location, p, member, false), nil
	}

	loc := location
	p, err := f.pools.CreatePool(ctx, pools.NewPool{Name: "Pool for " + location, Location: &loc})
	if err != nil {
		return JoinResult{}, err
	}
	member, err := f.addMember(ctx, p.ID, in)
	if err != nil {
		f.discardPool(ctx, p.ID)
		return JoinResult{}, err
	}
	return joined(location, p, member, true), nil
}

func (f *Facade) addMember(ctx context.Context, pool uuid.UUID, in pools.NewMember) (pools.Member, error) {
	member, err := f.pools.AddMember(ctx, pool, in)
	if apperr.CodeOf(err) == apperr.CodeMemberExists {
		return pools.Member{}, apperr.New(apperr.KindConflict, apperr.CodeAlreadyInPool,
			"user %s is already in pool %s", in.UserID, pool)
	}
	return member, err
}

// discardPool removes a pool created for a join that did not go through. A
// pool someone else joined in the meantime is kept.
func (f *Facade) discardPool(ctx context.Context, id uuid.UUID) {
	err := f.pools.DeleteEmptyPool(context.WithoutCancel(ctx), id)
	if err == nil || apperr.CodeOf(err) == apperr.CodePoolNotEmpty {
		return
	}
	f.log.Warn().Err(err).Str("pool_id", id.String()).Msg("left empty pool behind")
}

func joined(location string, p pools.Pool, member pools.Member, created bool) JoinResult {
	p.MemberCount++
	return JoinResult{
		Message:     fmt.Sprintf("user %s added to pool %s at %s", member.UserID, p.ID, location),
		UserID:      member.UserID,
		PoolID:      p.ID,
		Location:    location,
		CreatedPool: created,
		Pool:        p,
		Member:      member,
	}
}

// LeavePool removes user from its pool and announces the departure so that
// pending matches get cleaned up. A failed publish is reported as a warning;
// the membership removal stands.
func (f *Facade) LeavePool(ctx context.Context, user uuid.UUID) (LeaveResult, error) {
	current, err := f.GetUserPool(ctx, user)
	if err != nil {
		return LeaveResult{}, err
	}
	member, err := f.pools.RemoveMember(ctx, current.PoolID, user)
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeMemberNotFound {
			return LeaveResult{}, userNotInPool(user)
		}
		return LeaveResult{}, err
	}

	res := LeaveResult{
		Message: fmt.Sprintf("user %s left pool %s", user, current.PoolID),
		UserID:  user,
		PoolID:  current.PoolID,
		Member:  member,
	}
	if err := f.events.PublishMemberRemoved(ctx, current.PoolID, user); err != nil {
		res.Warning = "match cleanup was not scheduled: " + err.Error()
		f.log.Warn().Err(err).
			Str("user_id", user.String()).
			Str("pool_id", current.PoolID.String()).
			Msg("left pool without cleanup event")
	}
	return res, nil
}

// MovePool leaves the current pool, if any, and joins one at the new location.
func (f *Facade) MovePool(ctx context.Context, user uuid.UUID, req JoinRequest) (MoveResult, error) {
	if strings.TrimSpace(req.Location) == "" {
		return MoveResult{}, apperr.InvalidInput("location is required")
	}
	if err := pools.ValidateCoords(req.CoordX, req.CoordY); err != nil {
		return MoveResult{}, err
	}

	var out MoveResult
	left, err := f.LeavePool(ctx, user)
	switch {
	case err == nil:
		out.Left = left
	case !errors.Is(err, apperr.ErrUserNotInPool):
		return MoveResult{}, err
	}

	joined, err := f.JoinPool(ctx, user, req)
	if err != nil {
		return MoveResult{}, err
	}
	out.Joined = joined
	return out, nil
}

// GenerateMatches pairs user with up to limit random members of its pool it is
// not already matched with. limit <= 0 selects the configured default.
func (f *Facade) GenerateMatches(ctx context.Context, user uuid.UUID, limit int) (GenerateResult, error) {
	if limit <= 0 {
		limit = f.maxMatches
	}
	current, err := f.GetUserPool(ctx, user)
	if err != nil {
		return GenerateResult{}, err
	}
	members, err := f.pools.ListMembers(ctx, current.PoolID)
	if err != nil {
		return GenerateResult{}, err
	}
	existing, err := f.matches.ListMatches(ctx, &current.PoolID, user)
	if err != nil {
		return GenerateResult{}, err
	}

	matched := make(map[uuid.UUID]bool, len(existing))
	for _, m := range existing {
		matched[m.User1ID] = true
		matched[m.User2ID] = true
	}
	candidates := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		if m.UserID == user || matched[m.UserID] {
			continue
		}
		candidates = append(candidates, m.UserID)
	}
	f.shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	created := []matches.Match{}
	for _, other := range candidates {
		m, err := f.matches.CreateMatch(ctx, current.PoolID, user, other)
		if err != nil {
			if skippable(err) {
				f.log.Debug().Err(err).Str("candidate", other.String()).Msg("skipping candidate")
				continue
			}
			return GenerateResult{}, err
		}
		created = append(created, m)
	}

	return GenerateResult{
		Message:        fmt.Sprintf("generated %d matches for user %s", len(created), user),
		PoolID:         current.PoolID,
		MatchesCreated: len(created),
		Matches:        created,
	}, nil
}

func skippable(err error) bool {
	return errors.Is(err, apperr.ErrDuplicateMatch) ||
		errors.Is(err, apperr.ErrInvalidParticipants) ||
		errors.Is(err, apperr.ErrParticipantNotInPool)
}

// SubmitDecision records user's decision on a match.
func (f *Facade) SubmitDecision(ctx context.Context, user, match uuid.UUID, req DecisionRequest) (matches.Match, error) {
	if req.UserID != uuid.Nil && req.UserID != user {
		return matches.Match{}, apperr.InvalidInput("user_id in body does not match path")
	}
	if req.MatchID != nil && *req.MatchID != match {
		return matches.Match{}, apperr.InvalidInput("match_id in body does not match path")
	}
	value, err := matches.ParseValue(req.Decision)
	if err != nil {
		return matches.Match{}, err
	}
	return f.matches.SubmitDecision(ctx, match, user, value)
}

// ListUserMatches returns every match user takes part in, across pools.
func (f *Facade) ListUserMatches(ctx context.Context, user uuid.UUID) ([]matches.Match, error) {
	return f.matches.ListMatches(ctx, nil, user)
}

// ListUserDecisions returns every decision user has recorded.
func (f *Facade) ListUserDecisions(ctx context.Context, user uuid.UUID) ([]matches.Decision, error) {
	return f.matches.ListUserDecisions(ctx, user)
}
