package config

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервиса.
type AppConfig struct {
	AppEnv   string `envconfig:"APP_ENV" default:"dev"`
	LogLevel string `envconfig:"LOG_LEVEL"`
	Port     int    `envconfig:"PORT" default:"8080"`

	Telegram struct {
		Token         string `envconfig:"BOT_TOKEN" required:"true"`
		WebhookURL    string `envconfig:"TG_WEBHOOK_URL"`
		WebhookSecret string `envconfig:"TG_WEBHOOK_SECRET"`
		AdminIDs      string `envconfig:"ADMIN_IDS"`
	} `envconfig:""`

	// Operators разобранный ADMIN_IDS, заполняется в Parse.
	Operators []int64 `ignored:"true"`

	MTProto struct {
		SessionsDir string  `envconfig:"SESSIONS_DIR" default:"sessions"`
		GlobalRPS   float64 `envconfig:"MTPROTO_GLOBAL_RPS" default:"20"`
	} `envconfig:""`

	Storage struct {
		Driver        string `envconfig:"STORAGE_DRIVER" default:"file"`
		DataDir       string `envconfig:"DATA_DIR" default:"data"`
		AccountsFile  string `envconfig:"ACCOUNTS_FILE"`
		TargetsFile   string `envconfig:"TARGETS_FILE"`
		ScheduledFile string `envconfig:"SCHEDULED_FILE"`
		DraftsFile    string `envconfig:"DRAFTS_FILE"`
		StatsFile     string `envconfig:"STATS_FILE"`
		RedisPrefix   string `envconfig:"REDIS_PREFIX" default:"dispatch"`
		MediaDir      string `envconfig:"MEDIA_TMP_DIR"`
	} `envconfig:""`

	PGDSN     string `envconfig:"PG_DSN"`
	RedisAddr string `envconfig:"REDIS_ADDR"`

	Dispatch struct {
		Interval      time.Duration `envconfig:"DISPATCH_INTERVAL" default:"30s"`
		Pacing        time.Duration `envconfig:"DISPATCH_PACING" default:"2s"`
		DisplayOffset time.Duration `envconfig:"DISPLAY_OFFSET" default:"2h"`
	} `envconfig:""`

	Events struct {
		Driver  string `envconfig:"EVENTS_DRIVER"`
		AMQPURL string `envconfig:"AMQP_URL"`
		Queue   string `envconfig:"EVENTS_QUEUE" default:"dispatch_events"`
	} `envconfig:""`

	HTTP struct {
		MetricsAddr string `envconfig:"METRICS_ADDR"`
		AdminToken  string `envconfig:"ADMIN_API_TOKEN"`
	} `envconfig:""`
}

// Load загружает .env, если он есть, затем конфиг из окружения.
func Load() AppConfig {
	_ = godotenv.Load()
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Parse читает конфиг из окружения без побочных эффектов.
func Parse() (AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	switch cfg.Storage.Driver {
	case "file", "postgres", "redis":
	default:
		return cfg, fmt.Errorf("STORAGE_DRIVER=%q: ожидали file, postgres или redis", cfg.Storage.Driver)
	}
	if cfg.Storage.Driver == "postgres" && cfg.PGDSN == "" {
		return cfg, fmt.Errorf("для STORAGE_DRIVER=postgres нужен PG_DSN")
	}
	if cfg.Storage.Driver == "redis" && cfg.RedisAddr == "" {
		return cfg, fmt.Errorf("для STORAGE_DRIVER=redis нужен REDIS_ADDR")
	}
	ops, err := parseAdminIDs(cfg.Telegram.AdminIDs)
	if err != nil {
		return cfg, err
	}
	cfg.Operators = ops
	return cfg, nil
}

// parseAdminIDs разбирает ADMIN_IDS. Пустой список означает доступ для всех.
func parseAdminIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ADMIN_IDS: %q не число", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// FileOverrides возвращает пути файлов коллекций, заданные явно.
func (c AppConfig) FileOverrides() map[string]string {
	return map[string]string{
		"accounts":  c.Storage.AccountsFile,
		"targets":   c.Storage.TargetsFile,
		"scheduled": c.Storage.ScheduledFile,
		"drafts":    c.Storage.DraftsFile,
		"stats":     c.Storage.StatsFile,
	}
}
