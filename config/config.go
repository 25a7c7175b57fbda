package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/adhocore/gronx"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "FEEDBOT"

// Storage backends understood by storage.Open.
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendPebble   = "pebble"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Discord    DiscordConfig    `mapstructure:"discord"`
	Feed       FeedConfig       `mapstructure:"feed"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Publish    PublishConfig    `mapstructure:"publish"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	WorkerPool WorkerPoolConfig `mapstructure:"worker_pool"`
}

type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Mode    string `mapstructure:"mode"`
}

// LoggingConfig controls the zap logger built by middleware/log.
type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"` // json | text
	Output   string `mapstructure:"output"` // stdout | file
	FilePath string `mapstructure:"file_path"`
}

// DiscordConfig describes the guild being watched and the moderation setup.
// An empty ApprovalChannelID switches the bot to auto-publish mode.
type DiscordConfig struct {
	Token             string   `mapstructure:"token"`
	GuildID           string   `mapstructure:"guild_id"`
	ChannelIDs        []string `mapstructure:"channel_ids"`
	ModeratorIDs      []string `mapstructure:"moderator_ids"`
	ApprovalChannelID string   `mapstructure:"approval_channel_id"`
	FeaturedTag       string   `mapstructure:"featured_tag"`
	CommandPrefix     string   `mapstructure:"command_prefix"`
	NotifyPerSecond   float64  `mapstructure:"notify_per_second"`
	NotifyBurst       int      `mapstructure:"notify_burst"`
}

type FeedConfig struct {
	// Capacity is the global retention cap across all channels.
	Capacity      int `mapstructure:"capacity"`
	ExcerptLength int `mapstructure:"excerpt_length"`
}

type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	Dir         string `mapstructure:"dir"`
	PebblePath  string `mapstructure:"pebble_path"`
	KeyPrefix   string `mapstructure:"key_prefix"`
	MessagesKey string `mapstructure:"messages_key"`
	PendingKey  string `mapstructure:"pending_key"`
}

type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

type PostgresConfig struct {
	Host         string `mapstructure:"host"`
	Port         string `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"dbname"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type KafkaConfig struct {
	Enabled       bool           `mapstructure:"enabled"`
	Brokers       []string       `mapstructure:"brokers"`
	ConsumerGroup string         `mapstructure:"consumer_group"`
	Topics        TopicsConfig   `mapstructure:"topics"`
	Producer      ProducerConfig `mapstructure:"producer"`
	Consumer      ConsumerConfig `mapstructure:"consumer"`
}

type TopicsConfig struct {
	Events string `mapstructure:"events"`
	DLQ    string `mapstructure:"dlq"`
	Feed   string `mapstructure:"feed"`
}

type ProducerConfig struct {
	MaxRetries     int `mapstructure:"max_retries"`
	RetryBackoffMs int `mapstructure:"retry_backoff_ms"`
}

type ConsumerConfig struct {
	MaxRetries     int `mapstructure:"max_retries"`
	RetryBackoffMs int `mapstructure:"retry_backoff_ms"`
}

// PublishConfig controls the static feed artifacts written on a cron schedule.
type PublishConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Cron      string `mapstructure:"cron"`
	OutputDir string `mapstructure:"output_dir"`
}

type RateLimitConfig struct {
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	UseRedis          bool `mapstructure:"use_redis"`
}

type WorkerPoolConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

// legacyEnv maps config keys to the variable names the first version of the
// bot read from its .env file.
var legacyEnv = map[string]string{
	"discord.token":               "DISCORD_TOKEN",
	"discord.guild_id":            "DISCORD_GUILD_ID",
	"discord.channel_ids":         "DISCORD_CHANNEL_IDS",
	"discord.moderator_ids":       "DISCORD_MODERATOR_IDS",
	"discord.approval_channel_id": "DISCORD_APPROVAL_CHANNEL_ID",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 3010)
	v.SetDefault("server.mode", "release")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file_path", "")

	v.SetDefault("discord.token", "")
	v.SetDefault("discord.guild_id", "")
	v.SetDefault("discord.channel_ids", []string{})
	v.SetDefault("discord.moderator_ids", []string{})
	v.SetDefault("discord.approval_channel_id", "")
	v.SetDefault("discord.featured_tag", "Featured")
	v.SetDefault("discord.command_prefix", "!")
	v.SetDefault("discord.notify_per_second", 1.0)
	v.SetDefault("discord.notify_burst", 5)

	v.SetDefault("feed.capacity", 4)
	v.SetDefault("feed.excerpt_length", 1000)

	v.SetDefault("storage.backend", BackendFile)
	v.SetDefault("storage.dir", "data")
	v.SetDefault("storage.pebble_path", "data/pebble")
	v.SetDefault("storage.key_prefix", "featuredfeed:")
	v.SetDefault("storage.messages_key", "messages")
	v.SetDefault("storage.pending_key", "pending_messages")

	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("postgres.host", "127.0.0.1")
	v.SetDefault("postgres.port", "5432")
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.dbname", "featuredfeed")
	v.SetDefault("postgres.max_idle_conns", 2)
	v.SetDefault("postgres.max_open_conns", 5)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.consumer_group", "featuredfeed")
	v.SetDefault("kafka.topics.events", "featuredfeed.events")
	v.SetDefault("kafka.topics.dlq", "featuredfeed.events.dlq")
	v.SetDefault("kafka.topics.feed", "")
	v.SetDefault("kafka.producer.max_retries", 3)
	v.SetDefault("kafka.producer.retry_backoff_ms", 100)
	v.SetDefault("kafka.consumer.max_retries", 3)
	v.SetDefault("kafka.consumer.retry_backoff_ms", 100)

	v.SetDefault("publish.enabled", false)
	v.SetDefault("publish.cron", "*/5 * * * *")
	v.SetDefault("publish.output_dir", "dist")

	v.SetDefault("ratelimit.requests_per_minute", 120)
	v.SetDefault("ratelimit.use_redis", false)

	v.SetDefault("worker_pool.queue_size", 256)
}

// LoadConfig reads the TOML file at path (optional) and overlays environment
// variables. A .env file in the working directory is loaded first.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("加载 .env 失败: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, envPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("读取配置文件失败: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// normalize drops empty entries that comma-separated env values produce.
func (c *Config) normalize() {
	c.Discord.ChannelIDs = compact(c.Discord.ChannelIDs)
	c.Discord.ModeratorIDs = compact(c.Discord.ModeratorIDs)
	c.Kafka.Brokers = compact(c.Kafka.Brokers)
	c.Discord.ApprovalChannelID = strings.TrimSpace(c.Discord.ApprovalChannelID)
	if c.Discord.ApprovalChannelID == "0" {
		c.Discord.ApprovalChannelID = ""
	}
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks the values the runtime cannot recover from.
func (c *Config) Validate() error {
	if c.Feed.Capacity <= 0 {
		return fmt.Errorf("feed.capacity must be > 0, got %d", c.Feed.Capacity)
	}
	if c.Feed.ExcerptLength <= 0 {
		return fmt.Errorf("feed.excerpt_length must be > 0, got %d", c.Feed.ExcerptLength)
	}
	switch c.Storage.Backend {
	case BackendFile, BackendMemory, BackendRedis, BackendPostgres, BackendPebble:
	default:
		return fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend)
	}
	if c.Storage.MessagesKey == "" || c.Storage.PendingKey == "" {
		return fmt.Errorf("storage.messages_key and storage.pending_key are required")
	}
	if c.Storage.MessagesKey == c.Storage.PendingKey {
		return fmt.Errorf("storage.messages_key and storage.pending_key must differ")
	}
	if strings.TrimSpace(c.Discord.FeaturedTag) == "" {
		return fmt.Errorf("discord.featured_tag is required")
	}
	if c.Discord.NotifyPerSecond <= 0 || c.Discord.NotifyBurst <= 0 {
		return fmt.Errorf("discord.notify_per_second and discord.notify_burst must be > 0")
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka is enabled")
	}
	if c.Publish.Enabled {
		if !gronx.IsValid(c.Publish.Cron) {
			return fmt.Errorf("publish.cron: invalid cron expression %q", c.Publish.Cron)
		}
		if strings.TrimSpace(c.Publish.OutputDir) == "" {
			return fmt.Errorf("publish.output_dir is required when publishing is enabled")
		}
	}
	if c.WorkerPool.QueueSize <= 0 {
		return fmt.Errorf("worker_pool.queue_size must be > 0")
	}
	return nil
}

// Moderated reports whether admitted messages go through the approval channel.
func (c *DiscordConfig) Moderated() bool {
	return c.ApprovalChannelID != ""
}
