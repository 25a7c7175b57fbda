package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/Gopher0727/FeaturedFeed/config"
)

// Headers attached to messages moved to the dead letter queue.
const (
	HeaderError         = "x-error"
	HeaderOriginalTopic = "x-original-topic"
	HeaderAttempts      = "x-attempts"
)

// MessageHandler is a function type that processes consumed messages.
// It receives the message and returns an error if processing fails.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying: the message goes to the DLQ
// after the first attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Consumer represents a Kafka message consumer.
// It manages consumer group membership and message consumption.
type Consumer struct {
	consumerGroup sarama.ConsumerGroup
	config        *config.KafkaConfig
	handler       MessageHandler
	dlqProducer   *Producer
	topics        []string
	logger        *zap.Logger

	mu     sync.Mutex
	ready  chan struct{}
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler interface.
type consumerGroupHandler struct {
	consumer *Consumer
}

// NewConsumer creates a new Kafka consumer instance.
// It establishes a connection to the Kafka brokers and joins the consumer group.
//
// Parameters:
//   - cfg: Kafka configuration containing broker addresses and consumer settings
//   - topics: List of topics to subscribe to
//   - handler: Function to process consumed messages
//   - logger: Destination for consumer errors and DLQ notices (nil discards)
//
// Returns:
//   - *Consumer: The created consumer instance
//   - error: Any error encountered during initialization
func NewConsumer(cfg *config.KafkaConfig, topics []string, handler MessageHandler, logger *zap.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_6_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	// Set connection timeouts to prevent hanging
	saramaConfig.Net.DialTimeout = 10 * time.Second
	saramaConfig.Net.ReadTimeout = 10 * time.Second
	saramaConfig.Net.WriteTimeout = 10 * time.Second
	saramaConfig.Metadata.Retry.Max = 3
	saramaConfig.Metadata.Retry.Backoff = 250 * time.Millisecond
	saramaConfig.Metadata.Timeout = 10 * time.Second

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer group: %w", err)
	}

	// Create DLQ producer for failed messages
	dlqProducer, err := NewProducer(cfg)
	if err != nil {
		consumerGroup.Close()
		return nil, fmt.Errorf("failed to create DLQ producer: %w", err)
	}

	return newConsumer(consumerGroup, dlqProducer, cfg, topics, handler, logger), nil
}

func newConsumer(group sarama.ConsumerGroup, dlq *Producer, cfg *config.KafkaConfig, topics []string, handler MessageHandler, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		consumerGroup: group,
		config:        cfg,
		handler:       handler,
		dlqProducer:   dlq,
		topics:        topics,
		logger:        logger,
		ready:         make(chan struct{}),
	}
}

// Start begins consuming messages from the subscribed topics.
// It runs in a goroutine and processes messages using the provided handler.
// Failed messages are retried according to the configuration, and after max retries,
// they are sent to the dead letter queue (DLQ).
//
// Parameters:
//   - ctx: Context for cancellation control
//
// Returns:
//   - error: ctx.Err() if ctx ends before the first session is set up
func (c *Consumer) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)
	ready := c.Ready()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		handler := &consumerGroupHandler{consumer: c}
		for {
			// Check if context is cancelled
			if ctx.Err() != nil {
				return
			}

			// Consume returns on every rebalance; loop to rejoin
			if err := c.consumerGroup.Consume(ctx, c.topics, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Warn("consume session ended", zap.Strings("topics", c.topics), zap.Error(err))
			}

			if ctx.Err() != nil {
				return
			}
			c.mu.Lock()
			c.ready = make(chan struct{})
			c.mu.Unlock()
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Warn("consumer group error", zap.Error(err))
			case <-ctx.Done():
				return
			}
		}
	}()

	// Wait for consumer to be ready
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops the consumer and waits for all goroutines to finish.
// It should be called when the consumer is no longer needed.
//
// Returns:
//   - error: Any error encountered during stopping
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	if err := c.consumerGroup.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer group: %w", err)
	}
	if err := c.dlqProducer.Close(); err != nil {
		return fmt.Errorf("failed to close DLQ producer: %w", err)
	}
	return nil
}

// Ready returns a channel that is closed when the consumer is ready to consume messages.
// This is useful for synchronization during startup.
func (c *Consumer) Ready() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Setup is run at the beginning of a new session, before ConsumeClaim.
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.consumer.mu.Lock()
	defer h.consumer.mu.Unlock()
	select {
	case <-h.consumer.ready:
	default:
		close(h.consumer.ready)
	}
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines have exited.
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a partition.
// It implements the message consumption logic with retry and DLQ handling.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			if err := h.consumer.process(session.Context(), message); err != nil {
				// Leave the offset unmarked so the message is redelivered
				return err
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// process runs the handler with retries and moves the message to the DLQ when
// they are exhausted. It only fails when the DLQ itself is unreachable or ctx
// ends.
func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) error {
	attempts, err := c.processMessageWithRetry(ctx, message)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if dlqErr := c.sendToDLQ(ctx, message, attempts, err); dlqErr != nil {
		c.logger.Error("failed to send message to DLQ", zap.Error(dlqErr))
		return dlqErr
	}
	return nil
}

// processMessageWithRetry processes a message with retry logic.
// It retries the handler function according to the consumer configuration.
func (c *Consumer) processMessageWithRetry(ctx context.Context, message *sarama.ConsumerMessage) (int, error) {
	maxRetries := c.config.Consumer.MaxRetries
	backoff := time.Duration(c.config.Consumer.RetryBackoffMs) * time.Millisecond

	var lastErr error
	attempt := 0
	for attempt <= maxRetries {
		if err := ctx.Err(); err != nil {
			return attempt, err
		}

		attempt++
		err := c.handler(ctx, message)
		if err == nil {
			return attempt, nil
		}
		lastErr = err
		if IsPermanent(err) {
			break
		}

		// Don't sleep after the last attempt
		if attempt <= maxRetries {
			if err := sleep(ctx, backoff); err != nil {
				return attempt, err
			}
			backoff *= 2
		}
	}
	return attempt, fmt.Errorf("failed after %d attempts: %w", attempt, lastErr)
}

// sendToDLQ sends a failed message to the dead letter queue.
// It includes the original error in the message headers.
func (c *Consumer) sendToDLQ(ctx context.Context, message *sarama.ConsumerMessage, attempts int, processingErr error) error {
	dlqTopic := c.config.Topics.DLQ
	headers := map[string]string{
		HeaderError:         processingErr.Error(),
		HeaderOriginalTopic: message.Topic,
		HeaderAttempts:      strconv.Itoa(attempts),
	}
	_, _, err := c.dlqProducer.ProduceWithHeaders(ctx, dlqTopic, message.Key, message.Value, headers)
	if err != nil {
		return fmt.Errorf("failed to send message to DLQ: %w", err)
	}

	c.logger.Warn("message sent to DLQ",
		zap.String("topic", message.Topic),
		zap.Int32("partition", message.Partition),
		zap.Int64("offset", message.Offset),
		zap.Int("attempts", attempts),
		zap.Error(processingErr),
	)
	return nil
}
