package users

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolmatch/pkg/apperr"
	"poolmatch/pkg/httpx"
)

func newFacadeServer(t *testing.T, e *env) *httptest.Server {
	t.Helper()
	r := httpx.NewRouter(httpx.RouterOptions{Ready: e.facade.Ping})
	NewHandler(e.facade).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func send(t *testing.T, method, url string, body any) (int, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out.Bytes()
}

func TestHandlerUserFlow(t *testing.T) {
	e := newEnv(t)
	srv := newFacadeServer(t, e)
	user := uuid.New()
	base := srv.URL + "/users/" + user.String()

	status, body := send(t, http.MethodGet, base+"/pool", nil)
	require.Equal(t, http.StatusNotFound, status)
	var errBody httpx.ErrorBody
	require.NoError(t, json.Unmarshal(body, &errBody))
	assert.Equal(t, apperr.CodeUserNotInPool, errBody.Code)

	status, body = send(t, http.MethodPost, base+"/pool?location=Lima", nil)
	require.Equal(t, http.StatusCreated, status, string(body))
	var joined JoinResult
	require.NoError(t, json.Unmarshal(body, &joined))
	assert.Equal(t, "Lima", joined.Location)

	status, _ = send(t, http.MethodPost, base+"/pool", map[string]any{"location": "Lima"})
	assert.Equal(t, http.StatusConflict, status)

	other, _ := e.join(t, "Lima")

	status, _ = send(t, http.MethodPost, base+"/matches?max_matches=0", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = send(t, http.MethodPost, base+"/matches", nil)
	require.Equal(t, http.StatusCreated, status, string(body))
	var gen GenerateResult
	require.NoError(t, json.Unmarshal(body, &gen))
	require.Equal(t, 1, gen.MatchesCreated)
	matchID := gen.Matches[0].ID.String()

	status, _ = send(t, http.MethodPost, base+"/matches/"+matchID+"/decisions",
		map[string]any{"user_id": other, "decision": "accept"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = send(t, http.MethodPost, base+"/matches/"+matchID+"/decisions",
		map[string]any{"user_id": user, "decision": "reject"})
	require.Equal(t, http.StatusCreated, status, string(body))

	status, body = send(t, http.MethodGet, base+"/decisions", nil)
	require.Equal(t, http.StatusOK, status)
	var decisions []map[string]any
	require.NoError(t, json.Unmarshal(body, &decisions))
	assert.Len(t, decisions, 1)

	status, body = send(t, http.MethodDelete, base+"/pool", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var left LeaveResult
	require.NoError(t, json.Unmarshal(body, &left))
	assert.Equal(t, joined.PoolID, left.PoolID)

	status, body = send(t, http.MethodGet, base+"/matches", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, "[]", string(body))
}

func TestHandlerRejectsBadUserID(t *testing.T) {
	e := newEnv(t)
	srv := newFacadeServer(t, e)
	status, _ := send(t, http.MethodGet, srv.URL+"/users/nope/pool", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}
