package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xaenox/soullink/internal/classifier"
	"github.com/xaenox/soullink/internal/companion"
	"github.com/xaenox/soullink/internal/groupchat"
	"github.com/xaenox/soullink/internal/llm"
	"github.com/xaenox/soullink/internal/metrics"
	"github.com/xaenox/soullink/internal/notify"
	"github.com/xaenox/soullink/internal/proactive"
	"github.com/xaenox/soullink/internal/session"
	"github.com/xaenox/soullink/internal/storage"
	"github.com/xaenox/soullink/pkg/config"
)

var (
	cfg        *config.Config
	logger     *zap.Logger
	configPath string
	namespace  string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	rootCmd := &cobra.Command{
		Use:   "soullink",
		Short: "SoulLink, a chat companion that remembers you",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			logger, err = newLogger()
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&namespace, "session", session.DefaultNamespace, "session namespace for local commands")

	rootCmd.AddCommand(
		botCmd(),
		chatCmd(),
		trendCmd(),
		calendarCmd(),
		partnersCmd(),
		diaryCmd(),
		achievementsCmd(),
		settingsCmd(),
		resetCmd(),
	)

	rootCmd.SetContext(ctx)

	err := rootCmd.Execute()
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	zcfg := zap.NewProductionConfig()
	if level == zapcore.DebugLevel {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.Encoding = cfg.Logging.Format
	return zcfg.Build()
}

// app holds the services every command builds on.
type app struct {
	store       *storage.Store
	sessions    *session.Resolver
	assistant   *llm.Assistant
	companion   *companion.Service
	groups      *groupchat.Service
	broadcaster *notify.Broadcaster
	registry    *prometheus.Registry
	recorder    metrics.Recorder
}

func newApp() (*app, error) {
	backend, err := openBackend()
	if err != nil {
		return nil, err
	}
	store := storage.New(backend, storage.WithLogger(logger))

	registry := prometheus.NewRegistry()
	recorder := metrics.NewCollector(registry)

	lang := llm.ParseLanguage(cfg.Companion.Language)
	client := llm.NewOpenAIClient(llm.ClientConfig{
		BaseURL:           cfg.LLM.BaseURL,
		DefaultModel:      cfg.LLM.Model,
		MaxTokens:         cfg.LLM.MaxTokens,
		Temperature:       cfg.LLM.Temperature,
		Timeout:           cfg.LLM.Timeout,
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
		MaxRetries:        cfg.LLM.MaxRetries,
		RetryBackoff:      cfg.LLM.RetryBackoff,
		Language:          lang,
	}, logger)
	assistant := llm.NewAssistant(client, lang, logger, recorder)
	broadcaster := notify.NewBroadcaster(recorder)

	svc := companion.New(companion.Config{
		Language:              lang,
		Personality:           cfg.Companion.Personality,
		HistorySize:           cfg.Companion.HistorySize,
		SummaryEvery:          cfg.Companion.SummaryEvery,
		ReplyDelay:            cfg.Companion.ReplyDelay,
		PersonalityConfidence: cfg.Companion.PersonalityConfidence,
		Defaults: llm.Credentials{
			APIKey:   cfg.LLM.APIKey,
			Endpoint: cfg.LLM.BaseURL,
			Model:    cfg.LLM.Model,
		},
		Admin: llm.AdminConfig{
			ForceAPI:          cfg.Admin.ForceAPI,
			ForcedAPIKey:      cfg.Admin.ForcedAPIKey,
			ForcedAPIEndpoint: cfg.Admin.ForcedAPIEndpoint,
			ForcedModel:       cfg.Admin.ForcedModel,
		},
	}, store, assistant, classifier.NewKeywordClassifier(), broadcaster, logger)

	return &app{
		store:       store,
		sessions:    session.NewResolver(store, session.PlaceholdersFor(cfg.Companion.Language), logger),
		assistant:   assistant,
		companion:   svc,
		groups:      groupchat.New(store, assistant, svc, svc, logger),
		broadcaster: broadcaster,
		registry:    registry,
		recorder:    recorder,
	}, nil
}

func openBackend() (storage.Backend, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		logger.Info("Using in-memory storage")
		return storage.NewMemoryBackend(), nil
	case config.BackendPostgres:
		pg := cfg.Storage.Postgres
		return storage.NewPostgresBackend(storage.DatabaseConfig{
			Host:     pg.Host,
			Port:     pg.Port,
			User:     pg.User,
			Password: pg.Password,
			DBName:   pg.DBName,
			SSLMode:  pg.SSLMode,
		}, logger)
	default:
		path := cfg.Storage.Path
		if path == "" {
			var err error
			if path, err = storage.DefaultPath(); err != nil {
				return nil, fmt.Errorf("locating data directory: %w", err)
			}
		}
		return storage.NewSQLiteBackend(path, logger)
	}
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		logger.Error("Failed to close storage", zap.Error(err))
	}
}

func (a *app) session() *session.Session {
	return a.sessions.Session(namespace)
}

func (a *app) proactiveTimer() *proactive.Timer {
	return proactive.NewTimer(proactive.Config{
		Interval:    cfg.Proactive.Interval,
		Threshold:   cfg.Proactive.Threshold,
		ContextSize: cfg.Proactive.ContextSize,
	}, a.store, a.sessions, a.companion, a.assistant, a.broadcaster, logger, a.recorder)
}

// serveMetrics exposes /metrics until ctx is done. It does nothing without a
// listen address.
func (a *app) serveMetrics(ctx context.Context) {
	if cfg.Metrics.ListenAddr == "" {
		return
	}

	srv := &http.Server{
		Addr:              cfg.Metrics.ListenAddr,
		Handler:           metrics.Handler(a.registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		logger.Info("Serving metrics", zap.String("addr", cfg.Metrics.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
}
