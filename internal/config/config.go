package config

import (
	"time"

	"github.com/weiawesome/wes-io-broadcast/internal/lifecycle"
	"github.com/weiawesome/wes-io-broadcast/internal/multiplexer"
	"github.com/weiawesome/wes-io-broadcast/internal/payment"
	"github.com/weiawesome/wes-io-broadcast/internal/telemetry"
	"github.com/weiawesome/wes-io-broadcast/internal/transcode"
	"github.com/weiawesome/wes-io-broadcast/internal/ws"
	pkgconfig "github.com/weiawesome/wes-io-broadcast/pkg/config"
	"github.com/weiawesome/wes-io-broadcast/pkg/database"
	"github.com/weiawesome/wes-io-broadcast/pkg/pubsub"
	"github.com/weiawesome/wes-io-broadcast/pkg/storage"
)

type Config struct {
	Server      ServerConfig
	WebSocket   ws.Config          `mapstructure:"websocket"`
	Log         LogConfig
	PubSub      pubsub.Config      `mapstructure:"pubsub"`
	Multiplexer multiplexer.Config `mapstructure:"multiplexer"`
	Repository  RepositoryConfig
	Monitor     MonitorConfig
	Payment     payment.Config
	Transcode   transcode.Config
	Storage     StorageConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration `mapstructure:"-"`
}

type LogConfig struct {
	Level  string
	Pretty bool
}

// RepositoryConfig selects where videos and invoices are stored.
type RepositoryConfig struct {
	Driver   string          `mapstructure:"driver"` // redis, sql, memory
	Redis    RedisConfig     `mapstructure:"redis"`
	Database database.Config `mapstructure:"database"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MonitorConfig struct {
	lifecycle.Config `mapstructure:",squash"`
	Telemetry        telemetry.Config `mapstructure:"telemetry"`
}

type StorageConfig struct {
	VOD VODConfig `mapstructure:"vod"`
}

// VODConfig enables copying encoded variants to object storage.
type VODConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URLExpiry      time.Duration `mapstructure:"url_expiry"`
	storage.Config `mapstructure:",squash"`
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.ping_interval", "54s")
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("websocket.max_queue", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("pubsub.driver", "redis")
	v.SetDefault("pubsub.redis.address", "localhost:6379")
	v.SetDefault("pubsub.redis.pool_size", 10)
	v.SetDefault("pubsub.redis.read_timeout", "3s")
	v.SetDefault("pubsub.redis.write_timeout", "3s")
	v.SetDefault("pubsub.kafka.brokers", "localhost:9092")
	v.SetDefault("pubsub.kafka.topic", "broadcast-rooms")
	v.SetDefault("pubsub.kafka.group_prefix", "broadcast")
	v.SetDefault("pubsub.kafka.partitions", 4)

	v.SetDefault("multiplexer.poll_timeout", "1s")
	v.SetDefault("multiplexer.error_backoff", "1s")

	v.SetDefault("repository.driver", "redis")
	v.SetDefault("repository.redis.address", "localhost:6379")
	v.SetDefault("repository.redis.db", 0)
	v.SetDefault("repository.database.driver", "postgres")
	v.SetDefault("repository.database.host", "localhost")
	v.SetDefault("repository.database.port", 5432)
	v.SetDefault("repository.database.user", "postgres")
	v.SetDefault("repository.database.password", "postgres")
	v.SetDefault("repository.database.dbname", "broadcast")
	v.SetDefault("repository.database.sslmode", "disable")
	v.SetDefault("repository.database.file_path", "./data/broadcast.db")
	v.SetDefault("repository.database.max_idle_conns", 10)
	v.SetDefault("repository.database.max_open_conns", 100)
	v.SetDefault("repository.database.conn_max_lifetime", 60)
	v.SetDefault("repository.database.log_level", "warn")

	v.SetDefault("monitor.interval", "5s")
	v.SetDefault("monitor.grace", "60s")
	v.SetDefault("monitor.application", "src")
	v.SetDefault("monitor.purge_invoices_on_end", true)
	v.SetDefault("monitor.telemetry.url", "http://localhost:8080/stat")
	v.SetDefault("monitor.telemetry.timeout", "3s")
	v.SetDefault("monitor.telemetry.max_retries", 2)
	v.SetDefault("monitor.telemetry.retry_delay", "500ms")

	v.SetDefault("payment.url", "http://localhost:23000")
	v.SetDefault("payment.currency", "BTC")
	v.SetDefault("payment.webhook_url", "http://localhost:8000/btcpay_webhook")
	v.SetDefault("payment.timeout", "10s")

	v.SetDefault("transcode.storage_dir", "./data/media")
	v.SetDefault("transcode.ffmpeg_path", "ffmpeg")
	v.SetDefault("transcode.ffprobe_path", "ffprobe")
	v.SetDefault("transcode.audio_sample_rate", 48000)
	v.SetDefault("transcode.threads", 4)
	v.SetDefault("transcode.apply_fps_cap", false)
	v.SetDefault("transcode.max_attempts", 3)
	v.SetDefault("transcode.max_concurrent", 1)
	v.SetDefault("transcode.retry_delay", "30s")

	v.SetDefault("storage.vod.enabled", false)
	v.SetDefault("storage.vod.url_expiry", "1h")
	v.SetDefault("storage.vod.driver", "local")
	v.SetDefault("storage.vod.local.base_path", "./data/vod")
	v.SetDefault("storage.vod.local.public_url", "/vod")
	v.SetDefault("storage.vod.s3.region", "us-east-1")
	v.SetDefault("storage.vod.s3.use_path_style", true)

	// Bind environment variables
	v.BindEnv("server.port", "PORT")
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("pubsub.driver", "PUBSUB_DRIVER")
	v.BindEnv("pubsub.redis.address", "REDIS_ADDR")
	v.BindEnv("pubsub.redis.password", "REDIS_PASSWORD")
	v.BindEnv("pubsub.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("websocket.max_queue", "WS_MAX_QUEUE")
	v.BindEnv("repository.driver", "REPOSITORY_DRIVER")
	v.BindEnv("repository.redis.address", "REDIS_ADDR")
	v.BindEnv("repository.redis.password", "REDIS_PASSWORD")
	v.BindEnv("repository.database.driver", "DB_DRIVER")
	v.BindEnv("repository.database.host", "DB_HOST")
	v.BindEnv("repository.database.port", "DB_PORT")
	v.BindEnv("repository.database.user", "DB_USER")
	v.BindEnv("repository.database.password", "DB_PASSWORD")
	v.BindEnv("repository.database.dbname", "DB_NAME")
	v.BindEnv("repository.database.file_path", "DB_FILE_PATH")
	v.BindEnv("monitor.telemetry.url", "STAT_URL")
	v.BindEnv("payment.url", "BTCPAY_URL")
	v.BindEnv("payment.api_key", "BTCPAY_API_KEY")
	v.BindEnv("payment.webhook_url", "BTCPAY_WEBHOOK_URL")
	v.BindEnv("transcode.storage_dir", "STORAGE_DIR")
	v.BindEnv("transcode.apply_fps_cap", "APPLY_FPS_CAP")
	v.BindEnv("storage.vod.enabled", "VOD_ENABLED")
	v.BindEnv("storage.vod.driver", "VOD_DRIVER")
	v.BindEnv("storage.vod.s3.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.vod.s3.bucket", "S3_BUCKET")
	v.BindEnv("storage.vod.s3.access_key_id", "S3_ACCESS_KEY_ID")
	v.BindEnv("storage.vod.s3.secret_access_key", "S3_SECRET_ACCESS_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Server.ShutdownTimeout = pkgconfig.Duration(v, "server.shutdown_timeout", 10*time.Second)

	// The monitor enforces the pipeline's retry and concurrency limits.
	cfg.Monitor.MaxAttempts = cfg.Transcode.MaxAttempts
	cfg.Monitor.MaxConcurrent = cfg.Transcode.MaxConcurrent
	cfg.Monitor.RetryDelay = cfg.Transcode.RetryDelay

	if len(cfg.Transcode.Ladder.VP9) == 0 && len(cfg.Transcode.Ladder.H264) == 0 {
		cfg.Transcode.Ladder = transcode.DefaultLadder()
	}

	return &cfg, nil
}
