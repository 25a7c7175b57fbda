package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Gopher0727/FeaturedFeed/config"
	"github.com/Gopher0727/FeaturedFeed/internal/api"
	"github.com/Gopher0727/FeaturedFeed/internal/consumer"
	"github.com/Gopher0727/FeaturedFeed/internal/feed"
	"github.com/Gopher0727/FeaturedFeed/internal/handler"
	"github.com/Gopher0727/FeaturedFeed/internal/metrics"
	"github.com/Gopher0727/FeaturedFeed/internal/pkg/gateway"
	"github.com/Gopher0727/FeaturedFeed/internal/pkg/kafka"
	pkgredis "github.com/Gopher0727/FeaturedFeed/internal/pkg/redis"
	"github.com/Gopher0727/FeaturedFeed/internal/repository"
	"github.com/Gopher0727/FeaturedFeed/internal/service"
	"github.com/Gopher0727/FeaturedFeed/internal/storage"
	"github.com/Gopher0727/FeaturedFeed/internal/utils"
	logger "github.com/Gopher0727/FeaturedFeed/middleware/log"
	"github.com/Gopher0727/FeaturedFeed/utils/ratelimit"
)

const shutdownTimeout = 10 * time.Second

func main() {
	defaultPath := os.Getenv("FEEDBOT_CONFIG")
	if defaultPath == "" {
		defaultPath = "./config.toml"
	}
	configPath := flag.String("config", defaultPath, "path to the TOML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("配置初始化失败: %v", err)
	}
	if cfg.Discord.Token == "" {
		log.Fatalf("配置初始化失败: discord.token (DISCORD_TOKEN) is required")
	}

	lg, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		log.Fatalf("日志初始化失败: %v", err)
	}
	defer lg.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, lg); err != nil {
		lg.Error("bot stopped with error", zap.Error(err))
		_ = lg.Close()
		os.Exit(1)
	}
	lg.Info("bot stopped")
}

func run(ctx context.Context, cfg *config.Config, lg *logger.Logger) error {
	// 初始化存储
	store, err := storage.Open(cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Storage.Backend, err)
	}
	defer store.Close()

	// 初始化仓储层
	messages := repository.NewMessageRepository(store, cfg.Storage.MessagesKey, cfg.Feed.Capacity)
	pending := repository.NewPendingRepository(store, cfg.Storage.PendingKey)
	m := metrics.New()

	// 所有平台事件串行处理
	dispatcher := utils.NewSerialDispatcher(cfg.WorkerPool.QueueSize, lg.Named("dispatcher").Logger)
	defer dispatcher.Stop()

	gw, err := gateway.New(cfg.Discord.Token, gateway.Options{
		GuildID:         cfg.Discord.GuildID,
		NotifyChannelID: cfg.Discord.ApprovalChannelID,
		NotifyPerSecond: cfg.Discord.NotifyPerSecond,
		NotifyBurst:     cfg.Discord.NotifyBurst,
	}, dispatcher, lg)
	if err != nil {
		return err
	}

	// 初始化服务层
	normalizer := service.NewNormalizer(gw, cfg.Discord.ChannelIDs, cfg.Discord.FeaturedTag)
	ingest := service.NewIngestService(normalizer, pending, messages, gw, service.IngestOptions{
		Moderated:     cfg.Discord.Moderated(),
		ExcerptLength: cfg.Feed.ExcerptLength,
	}, lg)
	moderation := service.NewModerationService(pending, messages, cfg.Discord.ModeratorIDs, lg)
	events := handler.NewEventHandler(ingest, moderation, gw, handler.EventHandlerConfig{
		ApprovalChannelID: cfg.Discord.ApprovalChannelID,
		CommandPrefix:     cfg.Discord.CommandPrefix,
	}, m, lg)

	if st, err := moderation.Status(ctx); err != nil {
		lg.Warn("initial status unavailable", zap.Error(err))
	} else {
		m.SetState(st.Channels, st.Messages, st.Pending)
		lg.Info("feed loaded",
			zap.Int("channels", st.Channels),
			zap.Int("messages", st.Messages),
			zap.Int("pending", st.Pending),
		)
	}

	// Kafka 不可用时降级为进程内直接处理
	var sink gateway.EventSink = events
	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer, err = kafka.NewProducer(&cfg.Kafka)
		if err != nil {
			lg.Warn("kafka producer unavailable, events are handled in place", zap.Error(err))
		} else {
			defer producer.Close()

			relay := consumer.NewEventConsumer(events, dispatcher, lg)
			kc, err := kafka.NewConsumer(&cfg.Kafka, []string{cfg.Kafka.Topics.Events}, relay.Handle, lg.Named("kafka").Logger)
			if err != nil {
				lg.Warn("kafka consumer unavailable, events are handled in place", zap.Error(err))
			} else {
				if err := kc.Start(ctx); err != nil {
					_ = kc.Stop()
					return fmt.Errorf("start relay consumer: %w", err)
				}
				defer kc.Stop()
				sink = consumer.NewEventProducer(producer, cfg.Kafka.Topics.Events, cfg.Kafka.Producer.MaxRetries, events, lg)
				lg.Info("event relay enabled", zap.String("topic", cfg.Kafka.Topics.Events))
			}
		}
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Publish.Enabled {
		var snapshots feed.SnapshotSink
		if producer != nil && cfg.Kafka.Topics.Feed != "" {
			snapshots = feed.NewKafkaSink(producer, cfg.Kafka.Topics.Feed, cfg.Discord.GuildID)
		}
		publisher := feed.NewPublisher(messages, feed.PublisherOptions{
			OutputDir: cfg.Publish.OutputDir,
			GuildID:   cfg.Discord.GuildID,
			Limit:     cfg.Feed.Capacity,
		}, snapshots, m, lg)
		scheduler, err := feed.NewScheduler(cfg.Publish.Cron, publisher.Publish, lg)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			scheduler.Run(ctx)
		}()
	}

	var srv *http.Server
	if cfg.Server.Enabled {
		var limiter ratelimit.Limiter = ratelimit.NewLocalLimiter()
		if cfg.RateLimit.UseRedis {
			rc, err := pkgredis.NewClient(&cfg.Redis, cfg.Storage.KeyPrefix)
			if err != nil {
				lg.Warn("redis rate limiter unavailable, using local limiter", zap.Error(err))
			} else {
				defer rc.Close()
				limiter = ratelimit.NewRedisLimiter(rc.GetClient(), strings.TrimSuffix(cfg.Storage.KeyPrefix, ":"), lg.Named("ratelimit").Logger, true)
			}
		}

		feedHandler := handler.NewFeedHandler(messages, moderation, cfg.Discord.GuildID, cfg.Feed.Capacity, lg)
		router := api.NewRouter(feedHandler, api.NewMiddlewareManager(limiter, lg), api.RouterOptions{
			Mode:              cfg.Server.Mode,
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Metrics:           m.Handler(),
		})
		srv = &http.Server{
			Addr:              ":" + strconv.Itoa(cfg.Server.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			lg.Info("http server listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				lg.Error("http server failed", zap.Error(err))
			}
		}()
	}

	gw.Bind(sink)
	if err := gw.Open(ctx); err != nil {
		shutdownHTTP(srv, lg)
		return err
	}
	lg.Info("bot started",
		zap.String("guild_id", cfg.Discord.GuildID),
		zap.Bool("moderated", cfg.Discord.Moderated()),
		zap.String("storage", cfg.Storage.Backend),
	)

	<-ctx.Done()
	lg.Info("shutting down")

	shutdownHTTP(srv, lg)
	if err := gw.Close(); err != nil {
		lg.Warn("close gateway", zap.Error(err))
	}
	return nil
}

func shutdownHTTP(srv *http.Server, lg *logger.Logger) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		lg.Warn("http shutdown", zap.Error(err))
	}
}
