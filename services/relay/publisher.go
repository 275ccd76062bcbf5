package relay

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultPublishTimeout bounds a single publish.
const DefaultPublishTimeout = 5 * time.Second

// Broker is the publishing half of the event channel. *bus.Bus implements it.
type Broker interface {
	Publish(ctx context.Context, subj, msgID string, v any) error
}

// Publisher emits member-removed events.
type Publisher struct {
	broker  Broker
	subject string
	timeout time.Duration
	log     zerolog.Logger
	now     func() time.Time
}

// NewPublisher returns a Publisher sending to subject.
func NewPublisher(broker Broker, subject string, log zerolog.Logger) (*Publisher, error) {
	if broker == nil {
		return nil, errors.New("broker is required")
	}
	if subject == "" {
		return nil, errors.New("subject is required")
	}
	return &Publisher{
		broker:  broker,
		subject: subject,
		timeout: DefaultPublishTimeout,
		log:     log,
		now:     time.Now,
	}, nil
}

// PublishMemberRemoved announces that user left pool. A failure is logged and
// returned; the membership change that triggered it is not undone.
func (p *Publisher) PublishMemberRemoved(ctx context.Context, pool, user uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	evt := NewMemberRemoved(pool, user, p.now())
	if err := p.broker.Publish(ctx, p.subject, evt.MsgID(), evt); err != nil {
		eventsPublished.WithLabelValues("error").Inc()
		p.log.Error().Err(err).
			Str("pool_id", pool.String()).
			Str("user_id", user.String()).
			Msg("publish member removed")
		return err
	}
	eventsPublished.WithLabelValues("ok").Inc()
	p.log.Info().
		Str("pool_id", pool.String()).
		Str("user_id", user.String()).
		Msg("member removed event published")
	return nil
}
