package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/Gopher0727/FeaturedFeed/internal/metrics"
	"github.com/Gopher0727/FeaturedFeed/internal/model"
	"github.com/Gopher0727/FeaturedFeed/internal/pkg/kafka"
	"github.com/Gopher0727/FeaturedFeed/internal/repository"
	"github.com/Gopher0727/FeaturedFeed/internal/storage"
	logger "github.com/Gopher0727/FeaturedFeed/middleware/log"
)

// 静态产物文件名，相对于输出目录
const (
	DiscussionsFile = "discussions.json"
	MessagesFile    = "data/messages.json"
	IndexFile       = "index.html"
)

// SnapshotSink receives the discussions document after each publish.
type SnapshotSink interface {
	PublishSnapshot(ctx context.Context, data []byte) error
}

// KafkaSink produces feed snapshots to a topic, keyed by guild.
type KafkaSink struct {
	producer *kafka.Producer
	topic    string
	key      []byte
}

func NewKafkaSink(producer *kafka.Producer, topic, guildID string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic, key: []byte(guildID)}
}

func (s *KafkaSink) PublishSnapshot(ctx context.Context, data []byte) error {
	_, _, err := s.producer.ProduceWithHeaders(ctx, s.topic, s.key, data,
		map[string]string{"content-type": "application/json"})
	if err != nil {
		return fmt.Errorf("produce feed snapshot: %w: %w", model.ErrExternalUnavailable, err)
	}
	return nil
}

type PublisherOptions struct {
	OutputDir string
	GuildID   string
	// Limit caps the number of discussions, normally the feed capacity.
	Limit int
}

// Publisher writes the static feed artifacts: the discussions document, the
// raw feed document and the rendered widget.
type Publisher struct {
	messages repository.IMessageRepository
	opts     PublisherOptions
	sink     SnapshotSink
	metrics  *metrics.Metrics
	log      *logger.Logger
	now      func() time.Time
}

// NewPublisher builds a publisher. sink may be nil.
func NewPublisher(messages repository.IMessageRepository, opts PublisherOptions, sink SnapshotSink, m *metrics.Metrics, log *logger.Logger) *Publisher {
	if log == nil {
		log = logger.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Publisher{
		messages: messages,
		opts:     opts,
		sink:     sink,
		metrics:  m,
		log:      log.Named("publisher"),
		now:      time.Now,
	}
}

// Publish reads the current feed and replaces every artifact. Each file is
// written atomically; a failed run leaves the previous files in place.
func (p *Publisher) Publish(ctx context.Context) (err error) {
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		p.metrics.Publishes.WithLabelValues(result).Inc()
	}()

	snap, err := p.messages.Snapshot(ctx)
	if err != nil {
		return err
	}
	discussions := BuildDiscussions(snap, p.opts.GuildID, p.opts.Limit, p.now())

	discussionsJSON, err := json.MarshalIndent(discussions, "", "  ")
	if err != nil {
		return fmt.Errorf("encode discussions: %w", err)
	}
	messagesJSON, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	widget, err := WidgetHTML(discussions)
	if err != nil {
		return fmt.Errorf("render widget: %w", err)
	}

	files := []struct {
		name string
		data []byte
	}{
		{MessagesFile, messagesJSON},
		{DiscussionsFile, discussionsJSON},
		{IndexFile, widget},
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := filepath.Join(p.opts.OutputDir, filepath.FromSlash(f.name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create %s: %w: %w", filepath.Dir(path), model.ErrExternalUnavailable, err)
		}
		if err := storage.WriteFileAtomic(path, f.data); err != nil {
			return fmt.Errorf("write %s: %w: %w", f.name, model.ErrExternalUnavailable, err)
		}
	}

	if p.sink != nil {
		if err := p.sink.PublishSnapshot(ctx, discussionsJSON); err != nil {
			return err
		}
	}

	p.log.Info("feed published",
		zap.String("output_dir", p.opts.OutputDir),
		zap.Int("discussions", len(discussions.Discussions)),
	)
	return nil
}
