package pools

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolmatch/pkg/httpx"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	svc, _ := newService(t)
	r := httpx.NewRouter(httpx.RouterOptions{Ready: svc.Ping})
	NewHandler(svc).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHandlerPoolMembershipFlow(t *testing.T) {
	srv := newTestServer(t)
	user := uuid.New()

	var p Pool
	status := call(t, http.MethodPost, srv.URL+"/pools", map[string]any{"name": "Pool for Nantes", "location": "Nantes"}, &p)
	require.Equal(t, http.StatusCreated, status)

	var list []Pool
	require.Equal(t, http.StatusOK, call(t, http.MethodGet, srv.URL+"/pools?location=Nantes", nil, &list))
	require.Len(t, list, 1)
	assert.Equal(t, p.ID, list[0].ID)

	x, y := 2.5, -1.0
	var m Member
	status = call(t, http.MethodPost, srv.URL+"/pools/"+p.ID.String()+"/members",
		map[string]any{"user_id": user, "coord_x": x, "coord_y": y}, &m)
	require.Equal(t, http.StatusCreated, status)
	require.NotNil(t, m.CoordX)
	assert.Equal(t, x, *m.CoordX)

	status = call(t, http.MethodPost, srv.URL+"/pools/"+p.ID.String()+"/members", map[string]any{"user_id": user}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var memberships []Member
	require.Equal(t, http.StatusOK, call(t, http.MethodGet, srv.URL+"/pools/members?user_id="+user.String(), nil, &memberships))
	require.Len(t, memberships, 1)
	assert.Equal(t, p.ID, memberships[0].PoolID)

	require.Equal(t, http.StatusOK, call(t, http.MethodGet, srv.URL+"/pools/"+p.ID.String(), nil, &p))
	assert.Equal(t, 1, p.MemberCount)

	require.Equal(t, http.StatusOK, call(t, http.MethodDelete, srv.URL+"/pools/"+p.ID.String()+"/members/"+user.String(), nil, &m))
	assert.Equal(t, user, m.UserID)
	assert.Equal(t, http.StatusNotFound, call(t, http.MethodGet, srv.URL+"/pools/"+p.ID.String()+"/members/"+user.String(), nil, nil))

	require.Equal(t, http.StatusOK, call(t, http.MethodGet, srv.URL+"/pools/"+p.ID.String(), nil, &p))
	assert.Zero(t, p.MemberCount)
}

func TestHandlerErrors(t *testing.T) {
	srv := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, call(t, http.MethodGet, srv.URL+"/pools/not-a-uuid", nil, nil))
	assert.Equal(t, http.StatusNotFound, call(t, http.MethodGet, srv.URL+"/pools/"+uuid.NewString(), nil, nil))
	assert.Equal(t, http.StatusBadRequest, call(t, http.MethodPost, srv.URL+"/pools", map[string]any{"name": ""}, nil))
	assert.Equal(t, http.StatusBadRequest, call(t, http.MethodPost, srv.URL+"/pools", map[string]any{"name": "a", "bogus": 1}, nil))
	assert.Equal(t, http.StatusBadRequest, call(t, http.MethodGet, srv.URL+"/pools/members", nil, nil))
	assert.Equal(t, http.StatusNotFound, call(t, http.MethodDelete, srv.URL+"/pools/members/"+uuid.NewString(), nil, nil))
}

func TestHandlerPatchAndDeletePool(t *testing.T) {
	srv := newTestServer(t)

	var p Pool
	require.Equal(t, http.StatusCreated, call(t, http.MethodPost, srv.URL+"/pools", map[string]any{"name": "a"}, &p))
	require.Equal(t, http.StatusOK, call(t, http.MethodPatch, srv.URL+"/pools/"+p.ID.String(), map[string]any{"location": "Brest"}, &p))
	require.NotNil(t, p.Location)
	assert.Equal(t, "Brest", *p.Location)

	assert.Equal(t, http.StatusNoContent, call(t, http.MethodDelete, srv.URL+"/pools/"+p.ID.String(), nil, nil))
	assert.Equal(t, http.StatusNotFound, call(t, http.MethodDelete, srv.URL+"/pools/"+p.ID.String(), nil, nil))
}

func TestHandlerGuardedJoinAndEmptyDelete(t *testing.T) {
	srv := newTestServer(t)

	var p Pool
	require.Equal(t, http.StatusCreated, call(t, http.MethodPost, srv.URL+"/pools", map[string]any{"name": "a"}, &p))
	user := uuid.New()
	members := srv.URL + "/pools/" + p.ID.String() + "/members"

	require.Equal(t, http.StatusCreated, call(t, http.MethodPost, members,
		map[string]any{"user_id": user, "max_members": 1, "exclusive": true}, nil))
	assert.Equal(t, http.StatusConflict, call(t, http.MethodPost, members,
		map[string]any{"user_id": uuid.New(), "max_members": 1}, nil))

	assert.Equal(t, http.StatusConflict, call(t, http.MethodDelete, srv.URL+"/pools/"+p.ID.String()+"?if_empty=true", nil, nil))
	require.Equal(t, http.StatusOK, call(t, http.MethodDelete, members+"/"+user.String(), nil, nil))
	assert.Equal(t, http.StatusNoContent, call(t, http.MethodDelete, srv.URL+"/pools/"+p.ID.String()+"?if_empty=true", nil, nil))
}
