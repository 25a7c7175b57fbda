package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gopher0727/FeaturedFeed/config"
	"github.com/Gopher0727/FeaturedFeed/internal/handler"
	"github.com/Gopher0727/FeaturedFeed/internal/model"
	"github.com/Gopher0727/FeaturedFeed/internal/pkg/kafka"
)

func testKafkaConfig() *config.KafkaConfig {
	return &config.KafkaConfig{
		Brokers:  []string{"localhost:9092"},
		Producer: config.ProducerConfig{MaxRetries: 0, RetryBackoffMs: 1},
	}
}

func TestEventProducerRelaysEnvelope(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "featuredfeed.events" {
			return errors.New("wrong topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "42" {
			return errors.New("wrong key " + string(key))
		}
		value, _ := msg.Value.Encode()
		var env Envelope
		if err := json.Unmarshal(value, &env); err != nil {
			return err
		}
		if env.Type != handler.KindThreadUpdated || env.Thread == nil || env.Thread.Name != "deploy" {
			return errors.New("unexpected envelope")
		}
		return nil
	})
	fallback := &recordingHandler{}
	p := NewEventProducer(kafka.NewProducerFrom(sp, testKafkaConfig()), "featuredfeed.events", 0, fallback, nil)
	defer p.producer.Close()

	require.NoError(t, p.HandleThread(context.Background(), handler.KindThreadUpdated, model.ThreadEvent{ID: "42", Name: "deploy"}))
	assert.Empty(t, fallback.threads)
}

func TestEventProducerFallsBack(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	fallback := &recordingHandler{}
	p := NewEventProducer(kafka.NewProducerFrom(sp, testKafkaConfig()), "featuredfeed.events", 0, fallback, nil)
	defer p.producer.Close()

	require.NoError(t, p.HandleMessage(context.Background(), model.MessageEvent{ID: "1", ChannelID: "100"}))
	require.Len(t, fallback.messages, 1)
	assert.Equal(t, "1", fallback.messages[0].ID)
}

func TestEventProducerWithoutFallback(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	p := NewEventProducer(kafka.NewProducerFrom(sp, testKafkaConfig()), "featuredfeed.events", 0, nil, nil)
	defer p.producer.Close()

	err := p.HandleMessage(context.Background(), model.MessageEvent{ID: "1", ChannelID: "100"})
	assert.ErrorIs(t, err, model.ErrExternalUnavailable)
}

func TestRelayRoundTrip(t *testing.T) {
	var relayed []byte
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		relayed, _ = msg.Value.Encode()
		return nil
	})
	p := NewEventProducer(kafka.NewProducerFrom(sp, testKafkaConfig()), "featuredfeed.events", 0, nil, nil)
	defer p.producer.Close()
	require.NoError(t, p.HandleMessage(context.Background(), model.MessageEvent{ID: "7", ChannelID: "100", Content: "relayed"}))

	h := &recordingHandler{}
	c := newTestConsumer(t, h)
	require.NoError(t, c.Handle(context.Background(), &sarama.ConsumerMessage{Value: relayed}))
	require.Len(t, h.messages, 1)
	assert.Equal(t, "relayed", h.messages[0].Content)
}
