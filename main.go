package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/iamwavecut/tool"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/gatewarden/internal/adapters"
	"github.com/iamwavecut/gatewarden/internal/adapters/llm/gemini"
	"github.com/iamwavecut/gatewarden/internal/adapters/llm/openai"
	"github.com/iamwavecut/gatewarden/internal/bot"
	"github.com/iamwavecut/gatewarden/internal/classifier"
	"github.com/iamwavecut/gatewarden/internal/config"
	"github.com/iamwavecut/gatewarden/internal/db"
	"github.com/iamwavecut/gatewarden/internal/db/postgres"
	"github.com/iamwavecut/gatewarden/internal/db/sqlite"
	"github.com/iamwavecut/gatewarden/internal/handlers/moderator"
	"github.com/iamwavecut/gatewarden/internal/i18n"
	"github.com/iamwavecut/gatewarden/internal/infra"
	"github.com/iamwavecut/gatewarden/internal/lifecycle"
	"github.com/iamwavecut/gatewarden/internal/observability"
	"github.com/iamwavecut/gatewarden/internal/policy"
	"github.com/iamwavecut/gatewarden/internal/stats"
)

const shutdownTimeout = 15 * time.Second

func main() {
	log.SetFormatter(&config.LogFormatter{})
	log.SetOutput(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatalln("cant load config")
	}
	log.SetLevel(log.Level(cfg.LogLevel))
	if !tool.In(cfg.DefaultLanguage, i18n.GetLanguagesList()...) {
		log.WithField("lang", cfg.DefaultLanguage).Fatalln("unsupported language")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Errorln("exiting")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	shutdownTracing, err := observability.Init(ctx)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.WithError(err).Warn("cant flush tracer provider")
		}
	}()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("cant close store")
		}
	}()

	model, closeModel, err := openModel(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeModel()

	stopWords := cfg.Moderation.StopWords
	if len(stopWords) == 0 {
		if stopWords, err = policy.DefaultStopWords(); err != nil {
			return err
		}
	}
	thresholds := policy.Thresholds{
		WarningsBeforeBan:    cfg.Moderation.WarningsBeforeBan,
		BanConfidence:        cfg.Moderation.BanConfidence,
		ReportConfidence:     cfg.Moderation.ReportConfidence,
		FakeAvatarConfidence: cfg.Moderation.FakeAvatarConfidence,
	}
	if err := thresholds.Validate(); err != nil {
		return err
	}
	log.WithField("thresholds", thresholds.String()).WithField("stop_words", len(stopWords)).Info("policy loaded")

	botAPI, err := api.NewBotAPI(cfg.TelegramAPIToken)
	if err != nil {
		return fmt.Errorf("init bot api: %w", err)
	}
	if log.Level(cfg.LogLevel) == log.TraceLevel {
		botAPI.Debug = true
	}
	transport := bot.NewTelegramTransport(botAPI, nil)

	rules := policy.New(thresholds, stopWords)
	gateway := classifier.NewGateway(model,
		classifier.WithTimeout(cfg.LLM.Timeout),
		classifier.WithStopWords(rules.StopWords()),
	)
	mod := moderator.New(transport, store, gateway, rules, moderator.Config{
		AdminID:             cfg.AdminID,
		Language:            cfg.DefaultLanguage,
		VerificationTimeout: cfg.Moderation.VerificationTimeout,
		WarningNoticeTTL:    cfg.Moderation.WarningNoticeTTL,
		SuccessNoticeTTL:    cfg.Moderation.SuccessNoticeTTL,
		CheckProfilePhotos:  cfg.Moderation.CheckProfilePhotos && model != nil,
	})

	runtime := lifecycle.NewRuntime()
	runtime.Register("moderator", mod)
	if cfg.StatsEnabled() {
		runtime.Register("stats", stats.NewReporter(store, transport, cfg.AdminID, cfg.DefaultLanguage, cfg.StatsCron))
	}
	runtime.Register("metrics", observability.NewMetricsServer(cfg.MetricsAddr))
	if err := runtime.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := runtime.Stop(stopCtx); err != nil {
			log.WithError(err).Warn("cant stop runtime")
		}
	}()

	log.WithField("bot", botAPI.Self.UserName).Info("authorized")

	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()

	updateConfig := api.NewUpdate(0)
	updateConfig.Timeout = 60
	updateConfig.AllowedUpdates = bot.AllowedUpdates
	updates, errorChan := bot.GetUpdatesChans(loopCtx, botAPI, updateConfig)

	processor := bot.NewUpdateProcessor(mod)
	done := make(chan error, 1)
	go infra.GoRecoverable(3, "process_updates", func() {
		done <- processor.Run(loopCtx, updates, cfg.Concurrency, mod.ReportError)
	})

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case <-infra.MonitorExecutable(loopCtx):
		log.Warn("executable file was modified")
	case err := <-errorChan:
		if err != nil && ctx.Err() == nil {
			runErr = fmt.Errorf("get updates: %w", err)
		}
	case err := <-done:
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("process updates: %w", err)
		}
		return nil
	}

	cancelLoop()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		log.Warn("in-flight updates did not finish in time")
	}
	return runErr
}

func openStore(ctx context.Context, cfg config.Config) (db.Client, error) {
	switch cfg.DB.Driver {
	case "postgres":
		return postgres.NewPostgresClient(ctx, cfg.DB.PostgresDSN)
	default:
		dir, err := infra.GetWorkDir(cfg.DotPath)
		if err != nil {
			return nil, err
		}
		return sqlite.NewSQLiteClient(ctx, dir, cfg.DB.SQLiteFile)
	}
}

// openModel returns a nil model when no API key is configured.
func openModel(ctx context.Context, cfg config.Config) (adapters.LLM, func(), error) {
	noop := func() {}
	if !cfg.ClassifierEnabled() {
		log.Warn("no llm api key, using keyword fallback")
		return nil, noop, nil
	}
	logger := log.WithField("object", "LLM").WithField("type", cfg.LLM.Type)
	switch cfg.LLM.Type {
	case "gemini":
		g, err := gemini.NewGemini(ctx, cfg.LLM.APIKey, cfg.LLM.Model, logger)
		if err != nil {
			return nil, noop, fmt.Errorf("init gemini: %w", err)
		}
		return g, func() {
			if err := g.Close(); err != nil {
				logger.WithError(err).Warn("cant close gemini client")
			}
		}, nil
	default:
		return openai.NewOpenAI(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL, logger), noop, nil
	}
}
