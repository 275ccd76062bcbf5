package users

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolmatch/pkg/apperr"
	"poolmatch/pkg/httpx"
	"poolmatch/services/matches"
	"poolmatch/services/pools"
	"poolmatch/services/relay"
)

// mirrorStore keeps the matches service's view of pool membership in step
// with the pools service, as the shared database does in production.
type mirrorStore struct {
	*pools.MemoryStore
	matches *matches.MemoryStore
}

func (s mirrorStore) AddMember(ctx context.Context, pool uuid.UUID, in pools.NewMember) (pools.Member, error) {
	m, err := s.MemoryStore.AddMember(ctx, pool, in)
	if err == nil {
		s.matches.AddMember(pool, in.UserID)
	}
	return m, err
}

func (s mirrorStore) RemoveMember(ctx context.Context, pool, user uuid.UUID) (pools.Member, error) {
	m, err := s.MemoryStore.RemoveMember(ctx, pool, user)
	if err == nil {
		s.matches.RemoveMember(pool, user)
	}
	return m, err
}

// recordingPublisher forwards events to an optional consumer, like the
// broker would, and records what was published.
type recordingPublisher struct {
	mu       sync.Mutex
	err      error
	events   []relay.MemberRemoved
	consumer *relay.Consumer
}

func (p *recordingPublisher) PublishMemberRemoved(ctx context.Context, pool, user uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	evt := relay.NewMemberRemoved(pool, user, time.Now())
	p.events = append(p.events, evt)
	if p.consumer == nil {
		return nil
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.consumer.Handle(ctx, data)
}

type env struct {
	facade     *Facade
	publisher  *recordingPublisher
	engine     *matches.Engine
	poolsURL   string
	matchesURL string
}

func newEnv(t *testing.T, opts ...Option) *env {
	t.Helper()
	matchStore := matches.NewMemoryStore()
	engine, err := matches.NewEngine(matchStore)
	require.NoError(t, err)
	mr := httpx.NewRouter(httpx.RouterOptions{Ready: engine.Ping})
	matches.NewHandler(engine).Routes(mr)
	matchSrv := httptest.NewServer(mr)
	t.Cleanup(matchSrv.Close)

	svc, err := pools.NewService(mirrorStore{MemoryStore: pools.NewMemoryStore(), matches: matchStore}, zerolog.Nop())
	require.NoError(t, err)
	pr := httpx.NewRouter(httpx.RouterOptions{Ready: svc.Ping})
	pools.NewHandler(svc).Routes(pr)
	poolSrv := httptest.NewServer(pr)
	t.Cleanup(poolSrv.Close)

	consumer, err := relay.NewConsumer(relay.NewMatchesClient(matchSrv.URL, time.Second), zerolog.Nop())
	require.NoError(t, err)
	pub := &recordingPublisher{consumer: consumer}

	facade, err := NewFacade(
		NewPoolsClient(poolSrv.URL, time.Second),
		NewMatchesClient(matchSrv.URL, time.Second),
		pub,
		opts...,
	)
	require.NoError(t, err)
	return &env{facade: facade, publisher: pub, engine: engine, poolsURL: poolSrv.URL, matchesURL: matchSrv.URL}
}

func (e *env) join(t *testing.T, location string) (uuid.UUID, JoinResult) {
	t.Helper()
	user := uuid.New()
	res, err := e.facade.JoinPool(context.Background(), user, JoinRequest{Location: location})
	require.NoError(t, err)
	return user, res
}

func TestJoinPoolCreatesThenReuses(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	x, first := e.join(t, "NYC")
	assert.True(t, first.CreatedPool)
	assert.Equal(t, "Pool for NYC", first.Pool.Name)
	assert.Equal(t, 1, first.Pool.MemberCount)

	_, second := e.join(t, " NYC ")
	assert.False(t, second.CreatedPool)
	assert.Equal(t, first.PoolID, second.PoolID)

	got, err := e.facade.GetUserPool(ctx, x)
	require.NoError(t, err)
	assert.Equal(t, first.PoolID, got.PoolID)
	assert.Equal(t, 2, got.MemberCount)

	_, err = e.facade.JoinPool(ctx, x, JoinRequest{Location: "NYC"})
	assert.ErrorIs(t, err, apperr.ErrAlreadyInPool)
}

func TestJoinPoolRespectsCapacity(t *testing.T) {
	e := newEnv(t, WithPoolCapacity(2))

	_, a := e.join(t, "Oslo")
	_, b := e.join(t, "Oslo")
	_, c := e.join(t, "Oslo")
	assert.Equal(t, a.PoolID, b.PoolID)
	assert.NotEqual(t, a.PoolID, c.PoolID)
	assert.True(t, c.CreatedPool)
}

func TestConcurrentJoinsOfOneUserHoldOnePool(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user := uuid.New()

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.facade.JoinPool(ctx, user, JoinRequest{Location: "NYC"})
		}(i)
	}
	wg.Wait()

	joined := 0
	for _, err := range errs {
		if err == nil {
			joined++
			continue
		}
		assert.ErrorIs(t, err, apperr.ErrAlreadyInPool)
	}
	assert.Equal(t, 1, joined)

	client := NewPoolsClient(e.poolsURL, time.Second)
	memberships, err := client.UserMemberships(ctx, user)
	require.NoError(t, err)
	assert.Len(t, memberships, 1)

	nyc, err := client.ListPools(ctx, "NYC")
	require.NoError(t, err)
	for _, p := range nyc {
		assert.Positive(t, p.MemberCount, "pool %s was left empty", p.ID)
	}
}

func TestConcurrentJoinsStayWithinCapacity(t *testing.T) {
	e := newEnv(t, WithPoolCapacity(2))
	ctx := context.Background()
	e.join(t, "Oslo")

	const n = 6
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.facade.JoinPool(ctx, uuid.New(), JoinRequest{Location: "Oslo"})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	client := NewPoolsClient(e.poolsURL, time.Second)
	oslo, err := client.ListPools(ctx, "Oslo")
	require.NoError(t, err)
	total := 0
	for _, p := range oslo {
		assert.LessOrEqual(t, p.MemberCount, 2, "pool %s over capacity", p.ID)
		members, err := client.ListMembers(ctx, p.ID)
		require.NoError(t, err)
		assert.Len(t, members, p.MemberCount)
		total += p.MemberCount
	}
	assert.Equal(t, n+1, total)
}

type failingAdds struct {
	PoolsAPI
	err error
}

func (f failingAdds) AddMember(context.Context, uuid.UUID, pools.NewMember) (pools.Member, error) {
	return pools.Member{}, f.err
}

func TestJoinPoolDiscardsCreatedPoolWhenAddFails(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	client := NewPoolsClient(e.poolsURL, time.Second)

	f, err := NewFacade(
		failingAdds{PoolsAPI: client, err: apperr.Upstream(errors.New("reset by peer"), "POST /pools/x/members")},
		NewMatchesClient(e.matchesURL, time.Second),
		e.publisher,
	)
	require.NoError(t, err)

	_, err = f.JoinPool(ctx, uuid.New(), JoinRequest{Location: "Lima"})
	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)

	lima, err := client.ListPools(ctx, "Lima")
	require.NoError(t, err)
	assert.Empty(t, lima)
}

func TestDeleteEmptyPoolKeepsOccupiedPool(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, res := e.join(t, "Kyiv")

	client := NewPoolsClient(e.poolsURL, time.Second)
	err := client.DeleteEmptyPool(ctx, res.PoolID)
	assert.Equal(t, apperr.CodePoolNotEmpty, apperr.CodeOf(err))
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = client.GetPool(ctx, res.PoolID)
	require.NoError(t, err)
}

func TestJoinPoolValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	x := 1.0

	_, err := e.facade.JoinPool(ctx, uuid.New(), JoinRequest{Location: "  "})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	_, err = e.facade.JoinPool(ctx, uuid.New(), JoinRequest{Location: "NYC", CoordX: &x})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestGetUserPoolNotInPool(t *testing.T) {
	e := newEnv(t)
	_, err := e.facade.GetUserPool(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperr.ErrUserNotInPool)
	assert.Equal(t, http.StatusNotFound, apperr.HTTPStatus(err))
}

func TestGenerateMatchesBoundedByCandidates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	user, _ := e.join(t, "NYC")
	for i := 0; i < 3; i++ {
		e.join(t, "NYC")
	}

	res, err := e.facade.GenerateMatches(ctx, user, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, res.MatchesCreated)
	assert.Len(t, res.Matches, 3)
	for _, m := range res.Matches {
		assert.True(t, m.HasParticipant(user))
		assert.Equal(t, matches.StatusWaiting, m.Status)
	}

	again, err := e.facade.GenerateMatches(ctx, user, 10)
	require.NoError(t, err)
	assert.Zero(t, again.MatchesCreated)
	assert.NotNil(t, again.Matches)

	listed, err := e.facade.ListUserMatches(ctx, user)
	require.NoError(t, err)
	assert.Len(t, listed, 3)
}

func TestGenerateMatchesRespectsLimit(t *testing.T) {
	e := newEnv(t, WithMaxMatches(2))
	user, _ := e.join(t, "NYC")
	for i := 0; i < 4; i++ {
		e.join(t, "NYC")
	}
	res, err := e.facade.GenerateMatches(context.Background(), user, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.MatchesCreated)
}

func TestGenerateMatchesWithoutPool(t *testing.T) {
	e := newEnv(t)
	_, err := e.facade.GenerateMatches(context.Background(), uuid.New(), 10)
	assert.ErrorIs(t, err, apperr.ErrUserNotInPool)
}

func TestSubmitDecisionThroughFacade(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	x, _ := e.join(t, "NYC")
	y, _ := e.join(t, "NYC")

	res, err := e.facade.GenerateMatches(ctx, x, 10)
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	m := res.Matches[0]

	_, err = e.facade.SubmitDecision(ctx, x, m.ID, DecisionRequest{UserID: y, Decision: "accept"})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	other := uuid.New()
	_, err = e.facade.SubmitDecision(ctx, x, m.ID, DecisionRequest{MatchID: &other, Decision: "accept"})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = e.facade.SubmitDecision(ctx, uuid.New(), m.ID, DecisionRequest{Decision: "accept"})
	assert.ErrorIs(t, err, apperr.ErrNotParticipant)

	_, err = e.facade.SubmitDecision(ctx, x, uuid.New(), DecisionRequest{Decision: "accept"})
	assert.ErrorIs(t, err, apperr.ErrMatchNotFound)

	got, err := e.facade.SubmitDecision(ctx, x, m.ID, DecisionRequest{Decision: "accept"})
	require.NoError(t, err)
	assert.Equal(t, matches.StatusWaiting, got.Status)
	got, err = e.facade.SubmitDecision(ctx, y, m.ID, DecisionRequest{UserID: y, Decision: "accept"})
	require.NoError(t, err)
	assert.Equal(t, matches.StatusAccepted, got.Status)

	decisions, err := e.facade.ListUserDecisions(ctx, y)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, matches.ValueAccept, decisions[0].Decision)
}

func TestLeavePoolCleansPendingMatches(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	x, joined := e.join(t, "NYC")
	y, _ := e.join(t, "NYC")
	z, _ := e.join(t, "NYC")

	res, err := e.facade.GenerateMatches(ctx, x, 10)
	require.NoError(t, err)
	require.Len(t, res.Matches, 2)

	var accepted uuid.UUID
	for _, m := range res.Matches {
		if m.HasParticipant(y) {
			accepted = m.ID
			_, err := e.facade.SubmitDecision(ctx, x, m.ID, DecisionRequest{Decision: "accept"})
			require.NoError(t, err)
			_, err = e.facade.SubmitDecision(ctx, y, m.ID, DecisionRequest{Decision: "accept"})
			require.NoError(t, err)
		} else {
			_, err := e.facade.SubmitDecision(ctx, z, m.ID, DecisionRequest{Decision: "accept"})
			require.NoError(t, err)
		}
	}

	left, err := e.facade.LeavePool(ctx, x)
	require.NoError(t, err)
	assert.Empty(t, left.Warning)
	assert.Equal(t, joined.PoolID, left.PoolID)
	require.Len(t, e.publisher.events, 1)
	assert.Equal(t, x, e.publisher.events[0].UserID)

	remaining, err := e.engine.ListMatches(ctx, matches.Filter{UserID: &x})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, accepted, remaining[0].ID)

	_, err = e.facade.GetUserPool(ctx, x)
	assert.ErrorIs(t, err, apperr.ErrUserNotInPool)
	_, err = e.facade.LeavePool(ctx, x)
	assert.ErrorIs(t, err, apperr.ErrUserNotInPool)
}

func TestLeavePoolWarnsWhenPublishFails(t *testing.T) {
	e := newEnv(t)
	e.publisher.err = errors.New("nats: no responders available")
	x, _ := e.join(t, "NYC")

	left, err := e.facade.LeavePool(context.Background(), x)
	require.NoError(t, err)
	assert.Contains(t, left.Warning, "no responders")

	_, err = e.facade.GetUserPool(context.Background(), x)
	assert.ErrorIs(t, err, apperr.ErrUserNotInPool)
}

func TestMovePool(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	x, first := e.join(t, "NYC")

	moved, err := e.facade.MovePool(ctx, x, JoinRequest{Location: "Boston"})
	require.NoError(t, err)
	assert.Equal(t, first.PoolID, moved.Left.PoolID)
	assert.NotEqual(t, first.PoolID, moved.Joined.PoolID)
	assert.Equal(t, "Boston", moved.Joined.Location)
	assert.Len(t, e.publisher.events, 1)

	fresh := uuid.New()
	moved, err = e.facade.MovePool(ctx, fresh, JoinRequest{Location: "Boston"})
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, moved.Left.PoolID)
	assert.Equal(t, fresh, moved.Joined.UserID)
}

func TestUpstreamFailureMapsToBadGateway(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.RespondError(w, apperr.Internal(errors.New("db down"), "boom"))
	}))
	t.Cleanup(broken.Close)
	gone := httptest.NewServer(nil)
	goneURL := gone.URL
	gone.Close()

	for name, url := range map[string]string{"5xx": broken.URL, "unreachable": goneURL} {
		t.Run(name, func(t *testing.T) {
			f, err := NewFacade(NewPoolsClient(url, 200*time.Millisecond), NewMatchesClient(url, 200*time.Millisecond), &recordingPublisher{})
			require.NoError(t, err)
			_, err = f.JoinPool(context.Background(), uuid.New(), JoinRequest{Location: "NYC"})
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)
			assert.Equal(t, http.StatusBadGateway, apperr.HTTPStatus(err))
		})
	}
}
