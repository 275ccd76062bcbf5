package pools

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var membershipChanges = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "poolmatch",
	Subsystem: "pools",
	Name:      "membership_changes_total",
	Help:      "Pool membership additions and removals.",
}, []string{"op"})

// Service validates requests before handing them to a Store.
type Service struct {
	store Store
	log   zerolog.Logger
}

// NewService builds a Service over store.
func NewService(store Store, log zerolog.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	return &Service{store: store, log: log}, nil
}

func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

func (s *Service) CreatePool(ctx context.Context, in NewPool) (Pool, error) {
	if err := in.normalize(); err != nil {
		return Pool{}, err
	}
	p, err := s.store.CreatePool(ctx, in)
	if err != nil {
		return Pool{}, err
	}
	s.log.Info().Str("pool_id", p.ID.String()).Str("name", p.Name).Msg("pool created")
	return p, nil
}

func (s *Service) ListPools(ctx context.Context, location *string) ([]Pool, error) {
	return s.store.ListPools(ctx, trimOptional(location))
}

func (s *Service) GetPool(ctx context.Context, id uuid.UUID) (Pool, error) {
	return s.store.GetPool(ctx, id)
}

func (s *Service) UpdatePool(ctx context.Context, id uuid.UUID, patch PoolPatch) (Pool, error) {
	if err := patch.normalize(); err != nil {
		return Pool{}, err
	}
	return s.store.UpdatePool(ctx, id, patch)
}

func (s *Service) DeletePool(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeletePool(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("pool_id", id.String()).Msg("pool deleted")
	return nil
}

// DeleteEmptyPool deletes a pool that has no members.
func (s *Service) DeleteEmptyPool(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeleteEmptyPool(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("pool_id", id.String()).Msg("empty pool deleted")
	return nil
}

func (s *Service) AddMember(ctx context.Context, pool uuid.UUID, in NewMember) (Member, error) {
	if err := in.validate(); err != nil {
		return Member{}, err
	}
	m, err := s.store.AddMember(ctx, pool, in)
	if err != nil {
		return Member{}, err
	}
	membershipChanges.WithLabelValues("add").Inc()
	s.log.Info().Str("pool_id", pool.String()).Str("user_id", in.UserID.String()).Msg("member added")
	return m, nil
}

func (s *Service) ListMembers(ctx context.Context, pool uuid.UUID) ([]Member, error) {
	return s.store.ListMembers(ctx, pool)
}

func (s *Service) GetMember(ctx context.Context, pool, user uuid.UUID) (Member, error) {
	return s.store.GetMember(ctx, pool, user)
}

func (s *Service) RemoveMember(ctx context.Context, pool, user uuid.UUID) (Member, error) {
	m, err := s.store.RemoveMember(ctx, pool, user)
	if err != nil {
		return Member{}, err
	}
	membershipChanges.WithLabelValues("remove").Inc()
	s.log.Info().Str("pool_id", pool.String()).Str("user_id", user.String()).Msg("member removed")
	return m, nil
}

func (s *Service) UserMemberships(ctx context.Context, user uuid.UUID) ([]Member, error) {
	return s.store.UserMemberships(ctx, user)
}

func (s *Service) RemoveUser(ctx context.Context, user uuid.UUID) ([]Member, error) {
	removed, err := s.store.RemoveUser(ctx, user)
	if err != nil {
		return nil, err
	}
	membershipChanges.WithLabelValues("remove").Add(float64(len(removed)))
	s.log.Info().Str("user_id", user.String()).Int("pools", len(removed)).Msg("user removed from pools")
	return removed, nil
}
