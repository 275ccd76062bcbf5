package relay

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"poolmatch/pkg/httpx"
	"poolmatch/services/matches"
)

// MatchesClient calls the matches service's internal cleanup endpoints.
type MatchesClient struct {
	c *httpx.Client
}

func NewMatchesClient(baseURL string, timeout time.Duration) *MatchesClient {
	return &MatchesClient{c: httpx.NewClient("matches", baseURL, timeout)}
}

func (m *MatchesClient) CleanupUserPoolMatches(ctx context.Context, user, pool uuid.UUID) (matches.CleanupReport, error) {
	var report matches.CleanupReport
	path := fmt.Sprintf("/matches/internal/cleanup/user/%s/pool/%s", user, pool)
	err := m.c.Do(ctx, http.MethodDelete, path, nil, &report)
	return report, err
}

func (m *MatchesClient) CleanupPoolMatches(ctx context.Context, pool uuid.UUID) (matches.CleanupReport, error) {
	var report matches.CleanupReport
	err := m.c.Do(ctx, http.MethodDelete, "/matches/internal/cleanup/pool/"+pool.String(), nil, &report)
	return report, err
}

// Ping checks that the matches service answers its readiness probe.
func (m *MatchesClient) Ping(ctx context.Context) error {
	return m.c.Do(ctx, http.MethodGet, "/readyz", nil, nil)
}
