package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/Gopher0727/FeaturedFeed/internal/handler"
	"github.com/Gopher0727/FeaturedFeed/internal/model"
	"github.com/Gopher0727/FeaturedFeed/internal/pkg/kafka"
	"github.com/Gopher0727/FeaturedFeed/internal/utils"
	logger "github.com/Gopher0727/FeaturedFeed/middleware/log"
	"github.com/Gopher0727/FeaturedFeed/utils/snowflake"
)

// EventHandler is implemented by handler.EventHandler.
type EventHandler interface {
	HandleMessage(ctx context.Context, ev model.MessageEvent) error
	HandleThread(ctx context.Context, kind string, ev model.ThreadEvent) error
}

// Envelope 事件中继消息：type 决定 message 与 thread 中哪个字段有效
type Envelope struct {
	Type    string              `json:"type"`
	Message *model.MessageEvent `json:"message,omitempty"`
	Thread  *model.ThreadEvent  `json:"thread,omitempty"`
}

// MessageEnvelope wraps a message-created event.
func MessageEnvelope(ev model.MessageEvent) Envelope {
	return Envelope{Type: handler.KindMessageCreated, Message: &ev}
}

// ThreadEnvelope wraps a thread event of the given kind.
func ThreadEnvelope(kind string, ev model.ThreadEvent) Envelope {
	return Envelope{Type: kind, Thread: &ev}
}

// Key is the partition key: the source id keeps one message's events ordered.
func (e Envelope) Key() []byte {
	switch {
	case e.Message != nil:
		return []byte(e.Message.ID)
	case e.Thread != nil:
		return []byte(e.Thread.ID)
	default:
		return nil
	}
}

// EventConsumer feeds relayed platform events into the same serial worker
// the gateway uses, so relayed and live events never interleave.
type EventConsumer struct {
	handler EventHandler
	pool    *utils.WorkerPool
	ids     *snowflake.Generator
	log     *logger.Logger
}

func NewEventConsumer(h EventHandler, pool *utils.WorkerPool, log *logger.Logger) *EventConsumer {
	if log == nil {
		log = logger.NewNop()
	}
	// worker 0 / process 0 is always in range
	ids, _ := snowflake.NewGenerator(0, 0)
	return &EventConsumer{
		handler: h,
		pool:    pool,
		ids:     ids,
		log:     log.Named("relay"),
	}
}

// Handle implements kafka.MessageHandler. Malformed envelopes are permanent
// failures; handler errors are returned for the transport to retry.
func (c *EventConsumer) Handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	var env Envelope
	if err := json.Unmarshal(message.Value, &env); err != nil {
		c.log.Warn("undecodable envelope",
			zap.String("topic", message.Topic),
			zap.Int64("offset", message.Offset),
			zap.Error(err),
		)
		return kafka.Permanent(fmt.Errorf("decode envelope: %w", err))
	}

	job, err := c.job(env)
	if err != nil {
		c.log.Warn("rejected envelope", zap.String("type", env.Type), zap.Error(err))
		return kafka.Permanent(err)
	}
	return c.pool.Do(ctx, job)
}

func (c *EventConsumer) job(env Envelope) (utils.Job, error) {
	switch env.Type {
	case handler.KindMessageCreated:
		if env.Message == nil {
			return nil, fmt.Errorf("%s envelope without message", env.Type)
		}
		ev := *env.Message
		if ev.ID == "" {
			// 手工投递的事件可能没有 id
			id, err := c.ids.NextID()
			if err != nil {
				return nil, fmt.Errorf("mint message id: %w", err)
			}
			ev.ID = id
		}
		return func(ctx context.Context) error {
			return c.handler.HandleMessage(ctx, ev)
		}, nil
	case handler.KindThreadCreated, handler.KindThreadUpdated:
		if env.Thread == nil {
			return nil, fmt.Errorf("%s envelope without thread", env.Type)
		}
		ev, kind := *env.Thread, env.Type
		return func(ctx context.Context) error {
			return c.handler.HandleThread(ctx, kind, ev)
		}, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
}
