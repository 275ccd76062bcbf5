package pools

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolmatch/pkg/apperr"
)

func newService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	svc, err := NewService(store, zerolog.Nop())
	require.NoError(t, err)
	return svc, store
}

func strPtr(s string) *string { return &s }

func TestCreatePoolValidatesAndTrims(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.CreatePool(ctx, NewPool{Name: "   "})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	p, err := svc.CreatePool(ctx, NewPool{Name: " Pool for Lyon ", Location: strPtr(" Lyon ")})
	require.NoError(t, err)
	assert.Equal(t, "Pool for Lyon", p.Name)
	require.NotNil(t, p.Location)
	assert.Equal(t, "Lyon", *p.Location)
	assert.Zero(t, p.MemberCount)
}

func TestListPoolsByLocation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.CreatePool(ctx, NewPool{Name: "a", Location: strPtr("Paris")})
	require.NoError(t, err)
	_, err = svc.CreatePool(ctx, NewPool{Name: "b", Location: strPtr("Lyon")})
	require.NoError(t, err)
	_, err = svc.CreatePool(ctx, NewPool{Name: "c"})
	require.NoError(t, err)

	all, err := svc.ListPools(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	paris, err := svc.ListPools(ctx, strPtr(" Paris"))
	require.NoError(t, err)
	require.Len(t, paris, 1)
	assert.Equal(t, "a", paris[0].Name)

	none, err := svc.ListPools(ctx, strPtr("Berlin"))
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestUpdatePoolClearsLocation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	p, err := svc.CreatePool(ctx, NewPool{Name: "a", Location: strPtr("Paris")})
	require.NoError(t, err)

	_, err = svc.UpdatePool(ctx, p.ID, PoolPatch{Name: strPtr("")})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	p, err = svc.UpdatePool(ctx, p.ID, PoolPatch{Name: strPtr("renamed"), Location: strPtr("")})
	require.NoError(t, err)
	assert.Equal(t, "renamed", p.Name)
	assert.Nil(t, p.Location)

	_, err = svc.UpdatePool(ctx, uuid.New(), PoolPatch{Name: strPtr("x")})
	assert.Equal(t, apperr.CodePoolNotFound, apperr.CodeOf(err))
}

func TestMemberCountTracksMembership(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	p, err := svc.CreatePool(ctx, NewPool{Name: "a"})
	require.NoError(t, err)
	users := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, u := range users {
		_, err := svc.AddMember(ctx, p.ID, NewMember{UserID: u})
		require.NoError(t, err)
	}

	got, err := svc.GetPool(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.MemberCount)

	_, err = svc.AddMember(ctx, p.ID, NewMember{UserID: users[0]})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	assert.Equal(t, apperr.CodeMemberExists, apperr.CodeOf(err))

	removed, err := svc.RemoveMember(ctx, p.ID, users[1])
	require.NoError(t, err)
	assert.Equal(t, users[1], removed.UserID)

	_, err = svc.RemoveMember(ctx, p.ID, users[1])
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	got, err = svc.GetPool(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MemberCount)

	members, err := svc.ListMembers(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestAddMemberValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	p, err := svc.CreatePool(ctx, NewPool{Name: "a"})
	require.NoError(t, err)

	x := 1.5
	nan := math.NaN()
	cases := []struct {
		name string
		in   NewMember
	}{
		{"missing user", NewMember{}},
		{"half coordinate", NewMember{UserID: uuid.New(), CoordX: &x}},
		{"nan coordinate", NewMember{UserID: uuid.New(), CoordX: &x, CoordY: &nan}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.AddMember(ctx, p.ID, tc.in)
			assert.ErrorIs(t, err, apperr.ErrInvalidInput)
		})
	}

	_, err = svc.AddMember(ctx, uuid.New(), NewMember{UserID: uuid.New()})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	assert.Equal(t, apperr.CodePoolNotFound, apperr.CodeOf(err))
}

func TestRemoveUserFromAllPools(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	user := uuid.New()

	_, err := svc.RemoveUser(ctx, user)
	assert.Equal(t, apperr.CodeMemberNotFound, apperr.CodeOf(err))

	var pools []Pool
	for _, name := range []string{"a", "b"} {
		p, err := svc.CreatePool(ctx, NewPool{Name: name})
		require.NoError(t, err)
		_, err = svc.AddMember(ctx, p.ID, NewMember{UserID: user})
		require.NoError(t, err)
		pools = append(pools, p)
	}

	memberships, err := svc.UserMemberships(ctx, user)
	require.NoError(t, err)
	assert.Len(t, memberships, 2)

	removed, err := svc.RemoveUser(ctx, user)
	require.NoError(t, err)
	assert.Len(t, removed, 2)

	for _, p := range pools {
		got, err := svc.GetPool(ctx, p.ID)
		require.NoError(t, err)
		assert.Zero(t, got.MemberCount)
	}
	memberships, err = svc.UserMemberships(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, memberships)
}

func TestConcurrentJoinsKeepCount(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	p, err := svc.CreatePool(ctx, NewPool{Name: "a"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AddMember(ctx, p.ID, NewMember{UserID: uuid.New()})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := svc.GetPool(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, got.MemberCount)
}

func TestDeletePool(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	p, err := svc.CreatePool(ctx, NewPool{Name: "a"})
	require.NoError(t, err)

	require.NoError(t, svc.DeletePool(ctx, p.ID))
	_, err = svc.GetPool(ctx, p.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, svc.DeletePool(ctx, p.ID), apperr.ErrNotFound)
}

func TestExclusiveAddAcrossPools(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	a, err := svc.CreatePool(ctx, NewPool{Name: "a"})
	require.NoError(t, err)
	b, err := svc.CreatePool(ctx, NewPool{Name: "b"})
	require.NoError(t, err)
	user := uuid.New()

	var wg sync.WaitGroup
	results := make([]error, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pool := a.ID
			if i%2 == 1 {
				pool = b.ID
			}
			_, results[i] = svc.AddMember(ctx, pool, NewMember{UserID: user, Exclusive: true})
		}(i)
	}
	wg.Wait()

	added := 0
	for _, err := range results {
		if err == nil {
			added++
			continue
		}
		assert.ErrorIs(t, err, apperr.ErrAlreadyInPool)
	}
	assert.Equal(t, 1, added)

	held, err := svc.UserMemberships(ctx, user)
	require.NoError(t, err)
	assert.Len(t, held, 1)

	// Non-exclusive adds still allow several pools.
	other := uuid.New()
	_, err = svc.AddMember(ctx, a.ID, NewMember{UserID: other})
	require.NoError(t, err)
	_, err = svc.AddMember(ctx, b.ID, NewMember{UserID: other})
	require.NoError(t, err)
}

func TestAddMemberHonoursMaxMembers(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	p, err := svc.CreatePool(ctx, NewPool{Name: "small"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 12)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.AddMember(ctx, p.ID, NewMember{UserID: uuid.New(), MaxMembers: 3})
		}(i)
	}
	wg.Wait()

	full := 0
	for _, err := range results {
		if err != nil {
			assert.ErrorIs(t, err, apperr.ErrPoolFull)
			full++
		}
	}
	assert.Equal(t, 9, full)

	got, err := svc.GetPool(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.MemberCount)

	_, err = svc.AddMember(ctx, p.ID, NewMember{UserID: uuid.New(), MaxMembers: -1})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestDeleteEmptyPool(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	p, err := svc.CreatePool(ctx, NewPool{Name: "a"})
	require.NoError(t, err)
	user := uuid.New()
	_, err = svc.AddMember(ctx, p.ID, NewMember{UserID: user})
	require.NoError(t, err)

	err = svc.DeleteEmptyPool(ctx, p.ID)
	assert.Equal(t, apperr.CodePoolNotEmpty, apperr.CodeOf(err))

	_, err = svc.RemoveMember(ctx, p.ID, user)
	require.NoError(t, err)
	require.NoError(t, svc.DeleteEmptyPool(ctx, p.ID))
	assert.ErrorIs(t, svc.DeleteEmptyPool(ctx, p.ID), apperr.ErrNotFound)
}
