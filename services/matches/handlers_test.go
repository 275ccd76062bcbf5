package matches

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

func newTestServer(t *testing.T, f *fixture) *httptest.Server {
	t.Helper()
	r := httpx.NewRouter(httpx.RouterOptions{Ready: f.engine.Ping})
	NewHandler(f.engine).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func TestHandlerMatchLifecycle(t *testing.T) {
	x, y, z := uuid.New(), uuid.New(), uuid.New()
	f := newFixture(t, x, y, z)
	srv := newTestServer(t, f)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/matches", map[string]any{
		"pool_id": f.pool, "user1_id": y, "user2_id": x,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var m Match
	require.NoError(t, json.Unmarshal(body, &m))
	assert.Equal(t, StatusWaiting, m.Status)

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/matches", map[string]any{
		"pool_id": f.pool, "user1_id": x, "user2_id": y,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	var errBody httpx.ErrorBody
	require.NoError(t, json.Unmarshal(body, &errBody))
	assert.Equal(t, "duplicate_match", errBody.Code)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/matches", map[string]any{
		"pool_id": f.pool, "user1_id": x, "user2_id": x,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/matches/"+m.ID.String(), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/matches/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	decisionURL := srv.URL + "/matches/" + m.ID.String() + "/decisions"
	resp, _ = doJSON(t, http.MethodPost, decisionURL, map[string]any{
		"match_id": uuid.New(), "user_id": x, "decision": "accept",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "body match_id must agree with path")

	resp, _ = doJSON(t, http.MethodPost, decisionURL, map[string]any{"user_id": z, "decision": "accept"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/matches/"+uuid.NewString()+"/decisions", map[string]any{
		"user_id": x, "decision": "accept",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, decisionURL, map[string]any{"user_id": x, "decision": "accept"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, body = doJSON(t, http.MethodPost, decisionURL, map[string]any{
		"match_id": m.ID, "user_id": y, "decision": "accept",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &m))
	assert.Equal(t, StatusAccepted, m.Status)

	resp, body = doJSON(t, http.MethodGet, decisionURL, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var decisions []Decision
	require.NoError(t, json.Unmarshal(body, &decisions))
	assert.Len(t, decisions, 2)

	resp, _ = doJSON(t, http.MethodGet, decisionURL+"/"+z.String(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/matches?status_filter=accepted&user_id="+x.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []Match
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 1)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/matches?status_filter=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/decisions?user_id="+y.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &decisions))
	assert.Len(t, decisions, 1)
}

func TestHandlerCleanupEndpoint(t *testing.T) {
	x, y := uuid.New(), uuid.New()
	f := newFixture(t, x, y)
	srv := newTestServer(t, f)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/matches", map[string]any{
		"pool_id": f.pool, "user1_id": x, "user2_id": y,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	url := srv.URL + "/matches/internal/cleanup/user/" + x.String() + "/pool/" + f.pool.String()
	resp, body := doJSON(t, http.MethodDelete, url, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var report map[string]any
	require.NoError(t, json.Unmarshal(body, &report))
	assert.Equal(t, f.pool.String(), report["pool_id"])
	assert.Equal(t, x.String(), report["user_id"])
	assert.EqualValues(t, 1, report["matches_deleted"])
	assert.EqualValues(t, 0, report["decisions_deleted"])

	resp, body = doJSON(t, http.MethodDelete, url, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &report))
	assert.EqualValues(t, 0, report["matches_deleted"])

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/matches/internal/cleanup/pool/"+f.pool.String(), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/readyz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandlerPatchAndDelete(t *testing.T) {
	x, y := uuid.New(), uuid.New()
	f := newFixture(t, x, y)
	srv := newTestServer(t, f)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/matches", map[string]any{
		"pool_id": f.pool, "user1_id": x, "user2_id": y,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var m Match
	require.NoError(t, json.Unmarshal(body, &m))

	resp, body = doJSON(t, http.MethodPatch, srv.URL+"/matches/"+m.ID.String(), map[string]any{"status": "rejected"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, &m))
	assert.Equal(t, StatusRejected, m.Status)

	resp, _ = doJSON(t, http.MethodPatch, srv.URL+"/matches/"+m.ID.String(), map[string]any{"colour": "red"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/matches/"+m.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/matches/"+m.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
