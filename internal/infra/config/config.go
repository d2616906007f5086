package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv   string `envconfig:"APP_ENV" default:"dev"`
	TZ       string `envconfig:"TZ" default:"UTC"`
	LogLevel string `envconfig:"LOG_LEVEL" default:""`

	Portal struct {
		BaseURL  string `envconfig:"IVASMS_BASE_URL" default:"https://www.ivasms.com"`
		Email    string `envconfig:"IVASMS_EMAIL"`
		Password string `envconfig:"IVASMS_PASSWORD"`
	} `envconfig:""`

	Telegram struct {
		Token  string `envconfig:"TG_BOT_TOKEN"`
		ChatID int64  `envconfig:"TG_CHAT_ID"`
	} `envconfig:""`

	Monitor struct {
		StateDir      string        `envconfig:"STATE_DIR" default:"."`
		PollInterval  time.Duration `envconfig:"POLL_INTERVAL" default:"2s"`
		ErrorBackoff  time.Duration `envconfig:"ERROR_BACKOFF" default:"30s"`
		SessionMaxAge time.Duration `envconfig:"SESSION_MAX_AGE" default:"2h"`
		ReauthMinGap  time.Duration `envconfig:"REAUTH_MIN_GAP" default:"60s"`
		CoarseDiff    bool          `envconfig:"COARSE_DIFF" default:"false"`
	} `envconfig:""`

	Panel struct {
		NumbersCap int `envconfig:"PANEL_NUMBERS_CAP" default:"1000"`
	} `envconfig:""`

	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
	StatusAddr  string `envconfig:"STATUS_ADDR" default:":8080"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Queues struct {
		Ranges string `envconfig:"RANGE_QUEUE_NAME" default:"range_jobs"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
