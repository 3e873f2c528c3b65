package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/go-homedir"
	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"
)

const EnvPrefix = "GW_"

// StatsDisabled turns the scheduled admin report off when used as STATS_CRON.
const StatsDisabled = "off"

type (
	Config struct {
		TelegramAPIToken string `env:"TOKEN,required" validate:"required"`
		AdminID          int64  `env:"ADMIN_ID"       validate:"gte=0"`
		DefaultLanguage  string `env:"LANG,default=ru" validate:"oneof=en ru uk"`
		LogLevel         int    `env:"LOG_LEVEL,default=4" validate:"gte=0,lte=6"`
		DotPath          string `env:"DOT_PATH,default=~/.gatewarden" validate:"required"`
		Concurrency      int    `env:"CONCURRENCY,default=16" validate:"gte=1,lte=1024"`
		MetricsAddr      string `env:"METRICS_ADDR"`
		StatsCron        string `env:"STATS_CRON,default=0 9 * * *" validate:"required"`
		DB               DB
		LLM              LLM
		Moderation       Moderation
	}

	DB struct {
		Driver      string `env:"DB_DRIVER,default=sqlite" validate:"oneof=sqlite postgres"`
		SQLiteFile  string `env:"DB_SQLITE_FILE,default=gatewarden.db" validate:"required"`
		PostgresDSN string `env:"DB_POSTGRES_DSN" validate:"required_if=Driver postgres"`
	}

	LLM struct {
		APIKey  string        `env:"LLM_API_KEY"`
		Model   string        `env:"LLM_API_MODEL,default=gpt-4o-mini"`
		BaseURL string        `env:"LLM_API_URL,default=https://api.openai.com/v1" validate:"omitempty,url"`
		Type    string        `env:"LLM_API_TYPE,default=openai" validate:"oneof=openai gemini"`
		Timeout time.Duration `env:"LLM_TIMEOUT,default=30s" validate:"min=1s,max=10m"`
	}

	Moderation struct {
		StopWords            []string      `env:"STOP_WORDS"`
		WarningsBeforeBan    int           `env:"WARNINGS_BEFORE_BAN,default=3" validate:"gte=1"`
		BanConfidence        float64       `env:"BAN_CONFIDENCE,default=0.8" validate:"gte=0,lte=1"`
		ReportConfidence     float64       `env:"REPORT_CONFIDENCE,default=0.6" validate:"gte=0,lte=1,ltefield=BanConfidence"`
		FakeAvatarConfidence float64       `env:"FAKE_AVATAR_CONFIDENCE,default=0.85" validate:"gte=0,lte=1"`
		VerificationTimeout  time.Duration `env:"VERIFICATION_TIMEOUT,default=120s" validate:"min=1s"`
		WarningNoticeTTL     time.Duration `env:"WARNING_NOTICE_TTL,default=5s" validate:"min=0"`
		SuccessNoticeTTL     time.Duration `env:"SUCCESS_NOTICE_TTL,default=10s" validate:"min=0"`
		CheckProfilePhotos   bool          `env:"CHECK_PROFILE_PHOTOS,default=true"`
	}
)

var (
	once         sync.Once
	globalConfig = &Config{}
	globalErr    error
)

// Load reads the process environment once.
func Load() (Config, error) {
	once.Do(func() {
		cfg, err := LoadFrom(context.Background(), envconfig.PrefixLookuper(EnvPrefix, envconfig.OsLookuper()))
		if err != nil {
			globalErr = err
			return
		}
		log.Traceln("loaded config")
		globalConfig = cfg
	})
	return *globalConfig, globalErr
}

func Get() Config {
	cfg, err := Load()
	if err != nil {
		log.WithField("error", err.Error()).Error("cant load config")
	}
	return cfg
}

// LoadFrom builds and validates a config from an arbitrary lookuper.
func LoadFrom(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}
	envcfg := envconfig.Config{
		Lookuper: lookuper,
		Target:   cfg,
	}
	if err := envconfig.ProcessWith(ctx, &envcfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}

	dotPath, err := homedir.Expand(cfg.DotPath)
	if err != nil {
		return nil, fmt.Errorf("expand dot path: %w", err)
	}
	cfg.DotPath = dotPath

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// StatsEnabled reports whether the scheduled report has somewhere to go.
func (c Config) StatsEnabled() bool {
	return c.AdminID != 0 && c.StatsCron != StatsDisabled
}

// ClassifierEnabled reports whether an external model is configured.
func (c Config) ClassifierEnabled() bool {
	return c.LLM.APIKey != ""
}
