package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	TZ          string `envconfig:"TZ" default:"UTC"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Twitter struct {
		ClientID     string `envconfig:"TWITTER_CLIENT_ID"`
		ClientSecret string `envconfig:"TWITTER_CLIENT_SECRET"`
		BaseURL      string `envconfig:"TWITTER_BASE_URL"`
	} `envconfig:""`

	OpenAI struct {
		APIKey  string        `envconfig:"OPENAI_API_KEY"`
		BaseURL string        `envconfig:"OPENAI_BASE_URL"`
		Model   string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
		Timeout time.Duration `envconfig:"OPENAI_TIMEOUT" default:"60s"`
	} `envconfig:""`

	Notify struct {
		BotToken  string `envconfig:"TG_BOT_TOKEN"`
		OpsChatID int64  `envconfig:"OPS_CHAT_ID"`
	} `envconfig:""`

	Tokens struct {
		// RefreshBuffer — запас до истечения токена, при котором запускается обновление.
		RefreshBuffer time.Duration `envconfig:"REFRESH_BUFFER_SECONDS" default:"300s"`
		// SweepInterval — период проактивного обновления токенов.
		SweepInterval time.Duration `envconfig:"PROACTIVE_REFRESH_INTERVAL" default:"15m"`
	} `envconfig:""`

	Retry struct {
		MaxRetries int           `envconfig:"MAX_RETRIES" default:"3"`
		BaseDelay  time.Duration `envconfig:"BASE_BACKOFF_MS" default:"500ms"`
		MaxDelay   time.Duration `envconfig:"MAX_BACKOFF_MS" default:"30s"`
	} `envconfig:""`

	Ingest struct {
		MaxPages       int `envconfig:"MAX_PAGE_COUNT" default:"10"`
		MaxItems       int `envconfig:"MAX_COLLECTED_ITEMS" default:"500"`
		LookbackDays   int `envconfig:"KEYWORD_LOOKBACK_DAYS" default:"7"`
		ViralThreshold int `envconfig:"VIRAL_THRESHOLD" default:"100"`
	} `envconfig:""`

	Engage struct {
		TopItems  int `envconfig:"ENGAGE_TOP_ITEMS" default:"10"`
		PoolItems int `envconfig:"ENGAGE_POOL_ITEMS" default:"50"`
	} `envconfig:""`

	Queues struct {
		Engagement string `envconfig:"ENGAGEMENT_QUEUE_KEY" default:"engagement_jobs"`
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
