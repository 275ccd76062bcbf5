package users

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"poolmatch/pkg/httpx"
	"poolmatch/services/matches"
	"poolmatch/services/pools"
)

// PoolsAPI is the subset of the pools service the façade calls.
type PoolsAPI interface {
	UserMemberships(ctx context.Context, user uuid.UUID) ([]pools.Member, error)
	GetPool(ctx context.Context, id uuid.UUID) (pools.Pool, error)
	ListPools(ctx context.Context, location string) ([]pools.Pool, error)
	CreatePool(ctx context.Context, in pools.NewPool) (pools.Pool, error)
	DeleteEmptyPool(ctx context.Context, id uuid.UUID) error
	AddMember(ctx context.Context, pool uuid.UUID, in pools.NewMember) (pools.Member, error)
	ListMembers(ctx context.Context, pool uuid.UUID) ([]pools.Member, error)
	RemoveMember(ctx context.Context, pool, user uuid.UUID) (pools.Member, error)
	Ping(ctx context.Context) error
}

// MatchesAPI is the subset of the matches service the façade calls.
type MatchesAPI interface {
	CreateMatch(ctx context.Context, pool, a, b uuid.UUID) (matches.Match, error)
	ListMatches(ctx context.Context, pool *uuid.UUID, user uuid.UUID) ([]matches.Match, error)
	SubmitDecision(ctx context.Context, match, user uuid.UUID, value matches.Value) (matches.Match, error)
	ListUserDecisions(ctx context.Context, user uuid.UUID) ([]matches.Decision, error)
	Ping(ctx context.Context) error
}

// PoolsClient talks to the pools service over HTTP.
type PoolsClient struct {
	c *httpx.Client
}

func NewPoolsClient(baseURL string, timeout time.Duration) *PoolsClient {
	return &PoolsClient{c: httpx.NewClient("pools", baseURL, timeout)}
}

func (p *PoolsClient) UserMemberships(ctx context.Context, user uuid.UUID) ([]pools.Member, error) {
	var out []pools.Member
	err := p.c.Do(ctx, http.MethodGet, "/pools/members?user_id="+user.String(), nil, &out)
	return out, err
}

func (p *PoolsClient) GetPool(ctx context.Context, id uuid.UUID) (pools.Pool, error) {
	var out pools.Pool
	err := p.c.Do(ctx, http.MethodGet, "/pools/"+id.String(), nil, &out)
	return out, err
}

func (p *PoolsClient) ListPools(ctx context.Context, location string) ([]pools.Pool, error) {
	var out []pools.Pool
	err := p.c.Do(ctx, http.MethodGet, "/pools?location="+url.QueryEscape(location), nil, &out)
	return out, err
}

func (p *PoolsClient) CreatePool(ctx context.Context, in pools.NewPool) (pools.Pool, error) {
	var out pools.Pool
	err := p.c.Do(ctx, http.MethodPost, "/pools", in, &out)
	return out, err
}

func (p *PoolsClient) DeleteEmptyPool(ctx context.Context, id uuid.UUID) error {
	return p.c.Do(ctx, http.MethodDelete, "/pools/"+id.String()+"?if_empty=true", nil, nil)
}

func (p *PoolsClient) AddMember(ctx context.Context, pool uuid.UUID, in pools.NewMember) (pools.Member, error) {
	var out pools.Member
	err := p.c.Do(ctx, http.MethodPost, "/pools/"+pool.String()+"/members", in, &out)
	return out, err
}

func (p *PoolsClient) ListMembers(ctx context.Context, pool uuid.UUID) ([]pools.Member, error) {
	var out []pools.Member
	err := p.c.Do(ctx, http.MethodGet, "/pools/"+pool.String()+"/members", nil, &out)
	return out, err
}

func (p *PoolsClient) RemoveMember(ctx context.Context, pool, user uuid.UUID) (pools.Member, error) {
	var out pools.Member
	err := p.c.Do(ctx, http.MethodDelete, fmt.Sprintf("/pools/%s/members/%s", pool, user), nil, &out)
	return out, err
}

func (p *PoolsClient) Ping(ctx context.Context) error {
	return p.c.Do(ctx, http.MethodGet, "/readyz", nil, nil)
}

// MatchesClient talks to the matches service over HTTP.
type MatchesClient struct {
	c *httpx.Client
}

func NewMatchesClient(baseURL string, timeout time.Duration) *MatchesClient {
	return &MatchesClient{c: httpx.NewClient("matches", baseURL, timeout)}
}

func (m *MatchesClient) CreateMatch(ctx context.Context, pool, a, b uuid.UUID) (matches.Match, error) {
	var out matches.Match
	body := map[string]uuid.UUID{"pool_id": pool, "user1_id": a, "user2_id": b}
	err := m.c.Do(ctx, http.MethodPost, "/matches", body, &out)
	return out, err
}

func (m *MatchesClient) ListMatches(ctx context.Context, pool *uuid.UUID, user uuid.UUID) ([]matches.Match, error) {
	q := url.Values{}
	q.Set("user_id", user.String())
	if pool != nil {
		q.Set("pool_id", pool.String())
	}
	var out []matches.Match
	err := m.c.Do(ctx, http.MethodGet, "/matches?"+q.Encode(), nil, &out)
	return out, err
}

func (m *MatchesClient) SubmitDecision(ctx context.Context, match, user uuid.UUID, value matches.Value) (matches.Match, error) {
	var out matches.Match
	body := map[string]any{"match_id": match, "user_id": user, "decision": value}
	err := m.c.Do(ctx, http.MethodPost, "/matches/"+match.String()+"/decisions", body, &out)
	return out, err
}

func (m *MatchesClient) ListUserDecisions(ctx context.Context, user uuid.UUID) ([]matches.Decision, error) {
	var out []matches.Decision
	err := m.c.Do(ctx, http.MethodGet, "/decisions?user_id="+user.String(), nil, &out)
	return out, err
}

func (m *MatchesClient) Ping(ctx context.Context) error {
	return m.c.Do(ctx, http.MethodGet, "/readyz", nil, nil)
}
