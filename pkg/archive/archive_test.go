package archive

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"filippo.io/age"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]map[string]string
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}, meta: map[string]map[string]string{}}
}

func (m *memStore) Put(_ context.Context, bucket, key, _ string, data []byte, meta map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = append([]byte(nil), data...)
	m.meta[bucket+"/"+key] = meta
	return nil
}

func (m *memStore) Get(_ context.Context, bucket, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

type report struct {
	PoolID         string `json:"pool_id"`
	MatchesDeleted int    `json:"matches_deleted"`
}

func TestArchiverRoundTripPlain(t *testing.T) {
	store := newMemStore()
	a, err := New(store, "archives", "")
	require.NoError(t, err)
	a.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	key, err := a.Put(context.Background(), "cleanup/p1", report{PoolID: "p1", MatchesDeleted: 2})
	require.NoError(t, err)
	assert.Equal(t, "cleanup/p1/20260102T030405.000000000Z.json.zst", key)
	assert.Equal(t, "zstd", store.meta["archives/"+key]["encoding"])

	var got report
	require.NoError(t, a.Get(context.Background(), key, nil, &got))
	assert.Equal(t, report{PoolID: "p1", MatchesDeleted: 2}, got)
}

func TestArchiverRoundTripEncrypted(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	store := newMemStore()
	a, err := New(store, "archives", identity.Recipient().String())
	require.NoError(t, err)

	key, err := a.Put(context.Background(), "cleanup/p2", report{PoolID: "p2", MatchesDeleted: 5})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(key, ".json.zst.age"))
	assert.Equal(t, "age", store.meta["archives/"+key]["encryption"])

	var got report
	require.Error(t, Decode(store.objects["archives/"+key], nil, &got), "ciphertext is not a zstd frame")

	require.NoError(t, a.Get(context.Background(), key, identity, &got))
	assert.Equal(t, 5, got.MatchesDeleted)
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, "b", "")
	require.Error(t, err)

	_, err = New(newMemStore(), "", "")
	require.Error(t, err)

	_, err = New(newMemStore(), "b", "not-a-recipient")
	require.Error(t, err)
}
