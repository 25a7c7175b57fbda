package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/Gopher0727/FeaturedFeed/internal/model"
	"github.com/Gopher0727/FeaturedFeed/internal/pkg/kafka"
	logger "github.com/Gopher0727/FeaturedFeed/middleware/log"
)

// EventProducer relays gateway events to the events topic instead of handling
// them in place. When the broker is unreachable the event is handed to
// fallback directly, so the bot degrades to in-process handling.
type EventProducer struct {
	producer   *kafka.Producer
	topic      string
	maxRetries int
	fallback   EventHandler
	log        *logger.Logger
}

// NewEventProducer builds a relay producer. fallback may be nil, in which
// case produce failures are returned.
func NewEventProducer(producer *kafka.Producer, topic string, maxRetries int, fallback EventHandler, log *logger.Logger) *EventProducer {
	if log == nil {
		log = logger.NewNop()
	}
	return &EventProducer{
		producer:   producer,
		topic:      topic,
		maxRetries: maxRetries,
		fallback:   fallback,
		log:        log.Named("relay"),
	}
}

func (p *EventProducer) HandleMessage(ctx context.Context, ev model.MessageEvent) error {
	err := p.produce(ctx, MessageEnvelope(ev))
	if err == nil || p.fallback == nil {
		return err
	}
	p.log.WarnContext(ctx, "relay unavailable, handling in place", zap.String("source_id", ev.ID), zap.Error(err))
	return p.fallback.HandleMessage(ctx, ev)
}

func (p *EventProducer) HandleThread(ctx context.Context, kind string, ev model.ThreadEvent) error {
	err := p.produce(ctx, ThreadEnvelope(kind, ev))
	if err == nil || p.fallback == nil {
		return err
	}
	p.log.WarnContext(ctx, "relay unavailable, handling in place", zap.String("source_id", ev.ID), zap.Error(err))
	return p.fallback.HandleThread(ctx, kind, ev)
}

func (p *EventProducer) produce(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", env.Type, err)
	}
	if _, _, err := p.producer.ProduceWithRetry(ctx, p.topic, env.Key(), data, p.maxRetries); err != nil {
		return fmt.Errorf("relay %s: %w: %w", env.Type, model.ErrExternalUnavailable, err)
	}
	return nil
}
