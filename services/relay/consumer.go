package relay

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"poolmatch/pkg/apperr"
	"poolmatch/pkg/bus"
	"poolmatch/services/matches"
)

// Cleaner runs the cleanup for one departed member.
type Cleaner interface {
	CleanupUserPoolMatches(ctx context.Context, user, pool uuid.UUID) (matches.CleanupReport, error)
}

// Subscriber is the consuming half of the event channel. *bus.Bus implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, subj string, opts bus.SubscribeOptions, fn bus.Handler) (io.Closer, error)
}

// Consumer turns member-removed events into cleanup calls.
type Consumer struct {
	cleaner Cleaner
	log     zerolog.Logger
}

func NewConsumer(cleaner Cleaner, log zerolog.Logger) (*Consumer, error) {
	if cleaner == nil {
		return nil, errors.New("cleaner is required")
	}
	return &Consumer{cleaner: cleaner, log: log}, nil
}

// Start registers the durable subscription. Delivery stops when ctx is done
// or the returned closer is closed.
func (c *Consumer) Start(ctx context.Context, sub Subscriber, subject string, opts bus.SubscribeOptions) (io.Closer, error) {
	opts.OnError = func(err error, delivered uint64) {
		if bus.IsPermanent(err) {
			eventsConsumed.WithLabelValues("dropped").Inc()
			c.log.Warn().Err(err).Uint64("delivered", delivered).Msg("dropping undeliverable event")
			return
		}
		eventsConsumed.WithLabelValues("retry").Inc()
		c.log.Error().Err(err).Uint64("delivered", delivered).Msg("cleanup failed, requesting redelivery")
	}
	return sub.Subscribe(ctx, subject, opts, c.Handle)
}

// Handle processes one delivery. Malformed events are marked permanent so
// they are acked without retry; cleanup failures are returned for redelivery.
// Duplicate deliveries are safe because cleanup is idempotent.
func (c *Consumer) Handle(ctx context.Context, data []byte) error {
	evt, err := decodeMemberRemoved(data)
	if err != nil {
		return bus.Permanent(err)
	}

	report, err := c.cleaner.CleanupUserPoolMatches(ctx, evt.UserID, evt.PoolID)
	if err != nil {
		// A rejected request will be rejected again; only retry what may succeed later.
		if k := apperr.KindOf(err); k == apperr.KindInvalidInput || k == apperr.KindNotFound {
			return bus.Permanent(err)
		}
		return err
	}

	eventsConsumed.WithLabelValues("ok").Inc()
	c.log.Info().
		Str("pool_id", evt.PoolID.String()).
		Str("user_id", evt.UserID.String()).
		Int("matches_deleted", report.MatchesDeleted).
		Int("decisions_deleted", report.DecisionsDeleted).
		Msg("cleanup applied")
	return nil
}
