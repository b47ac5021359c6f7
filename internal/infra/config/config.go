package config

import (
	"errors"
	"io/fs"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	TZ          string `envconfig:"TZ" default:"Asia/Shanghai"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
	SeedDemo    bool   `envconfig:"SEED_DEMO" default:"true"`

	StoreBackend string `envconfig:"STORE_BACKEND" default:"memory"`
	PGDSN        string `envconfig:"PG_DSN"`
	RedisAddr    string `envconfig:"REDIS_ADDR"`

	QueueBackend string `envconfig:"QUEUE_BACKEND" default:"redis"`
	RabbitURL    string `envconfig:"RABBITMQ_URL"`

	Queues struct {
		Digest string `envconfig:"DIGEST_QUEUE_KEY" default:"digest_jobs"`
	} `envconfig:""`

	Auth struct {
		OTPTTL            time.Duration `envconfig:"OTP_TTL" default:"5m"`
		OTPResendInterval time.Duration `envconfig:"OTP_RESEND_INTERVAL" default:"60s"`
		SessionTTL        time.Duration `envconfig:"SESSION_TTL" default:"168h"`
	} `envconfig:""`

	Digest struct {
		Cron        string        `envconfig:"DIGEST_CRON" default:"0 20 * * 1-5"`
		HTTPTimeout time.Duration `envconfig:"DIGEST_HTTP_TIMEOUT" default:"10s"`
		RetryDelay  time.Duration `envconfig:"DIGEST_RETRY_DELAY" default:"1s"`
		MaxAttempts int           `envconfig:"DIGEST_MAX_ATTEMPTS" default:"2"`
	} `envconfig:""`

	Telegram struct {
		APIEndpoint string `envconfig:"TG_API_ENDPOINT"`
	} `envconfig:""`

	RateLimit struct {
		RPS   float64 `envconfig:"HTTP_RATE_RPS" default:"20"`
		Burst int     `envconfig:"HTTP_RATE_BURST" default:"40"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения. Файл .env, если он есть, читается первым.
func Load() AppConfig {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("не удалось прочитать .env: %v", err)
	}
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
