package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"CitySense/internal/config"
	"CitySense/internal/domain"
	"CitySense/internal/infrastructure/httpapi"
	"CitySense/internal/infrastructure/imaging"
	"CitySense/internal/infrastructure/llm"
	"CitySense/internal/infrastructure/ml"
	"CitySense/internal/infrastructure/objectstore"
	"CitySense/internal/infrastructure/scheduler"
	"CitySense/internal/infrastructure/storage"
	"CitySense/internal/infrastructure/telegram"
	"CitySense/internal/logging"
	"CitySense/internal/metrics"
	"CitySense/internal/ports"
	"CitySense/internal/usecase"
)

const shutdownTimeout = 15 * time.Second

// Adapters replaces the service clients built from configuration. Nil fields use the defaults.
type Adapters struct {
	Images     ports.ObjectStore
	Classifier ports.Classifier
	Extractor  ports.Extractor
	Generator  ports.ContentGenerator
	Alerter    ports.Alerter
	Scheduler  ports.Scheduler
}

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg        config.Config
	logger     *slog.Logger
	db         *sql.DB
	repository *storage.Repository
	metrics    *metrics.Metrics
	dispatcher *usecase.Dispatcher
	scheduler  *usecase.Scheduler
	router     *httpapi.Router
	now        func() time.Time
}

// New opens the store and builds the pipeline.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger, adapters Adapters) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	db, dialect, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	repository := storage.NewRepository(db, dialect)

	if err := fillAdapters(&adapters, cfg, baseLogger); err != nil {
		_ = db.Close()
		return nil, err
	}

	loc := cfg.Scheduler.Location()
	m := metrics.New()

	analyser := usecase.NewAnalyser(usecase.AnalyserDeps{
		Repository: repository,
		Images:     adapters.Images,
		Classifier: adapters.Classifier,
		Extractor:  adapters.Extractor,
		Alerter:    adapters.Alerter,
		ValidateImage: func(data []byte) error {
			_, err := imaging.Validate(data)
			return err
		},
		Scoring: cfg.Scoring,
		Retry:   cfg.Retry,
		Metrics: m,
		Logger:  baseLogger.With("component", "analysis"),
	})

	aggregator := usecase.NewAggregator(usecase.AggregatorDeps{
		Repository: repository,
		Generator:  adapters.Generator,
		Alerter:    adapters.Alerter,
		Location:   loc,
		Retry:      cfg.Retry,
		Metrics:    m,
		Logger:     baseLogger.With("component", "aggregation"),
	})

	dispatcher := usecase.NewDispatcher(usecase.DispatcherDeps{
		Analyser:   analyser,
		Aggregator: aggregator,
		Repository: repository,
		Alerter:    adapters.Alerter,
		Workers:    cfg.Dispatcher.Workers,
		QueueSize:  cfg.Dispatcher.QueueSize,
		Metrics:    m,
		Logger:     baseLogger.With("component", "dispatcher"),
	})

	a := &Application{
		cfg:        cfg,
		logger:     baseLogger,
		db:         db,
		repository: repository,
		metrics:    m,
		dispatcher: dispatcher,
		now:        time.Now,
	}

	a.scheduler = usecase.NewScheduler(adapters.Scheduler, dispatcher, loc, baseLogger.With("component", "scheduler"))
	a.router = httpapi.NewRouter(httpapi.RouterDeps{
		Events:      dispatcher,
		Health:      repository,
		Metrics:     m.Handler(),
		DefaultDate: a.ClosedDay,
		Logger:      baseLogger.With("component", "http"),
	})

	return a, nil
}

func fillAdapters(adapters *Adapters, cfg config.Config, logger *slog.Logger) error {
	if adapters.Images == nil {
		store, err := objectstore.New(cfg.ObjectStore)
		if err != nil {
			return err
		}
		adapters.Images = store
	}
	if adapters.Classifier == nil {
		adapters.Classifier = ml.NewClient(cfg.ML)
	}
	if adapters.Extractor == nil || adapters.Generator == nil {
		chat := llm.NewChatGPTClient(cfg.LLM)
		if adapters.Extractor == nil {
			adapters.Extractor = chat
		}
		if adapters.Generator == nil {
			adapters.Generator = chat
		}
	}
	if adapters.Alerter == nil {
		tg := cfg.Notifications.Telegram
		adapters.Alerter = telegram.NewAlerter(tg.BotToken, tg.ChatID, logger.With("component", "alerts"))
	}
	if adapters.Scheduler == nil {
		adapters.Scheduler = scheduler.NewCronScheduler(cfg.Scheduler.CronExpression, cfg.Scheduler.Location(), logger.With("component", "cron"))
	}
	return nil
}

// ClosedDay is the last full day in the reference timezone.
func (a *Application) ClosedDay() domain.Date {
	return usecase.ClosedDay(a.now(), a.cfg.Scheduler.Location())
}

// Migrate creates missing tables.
func (a *Application) Migrate(ctx context.Context) error {
	return storage.Migrate(ctx, a.db)
}

// Repository exposes the store for tooling.
func (a *Application) Repository() *storage.Repository {
	return a.repository
}

// Handler serves the event intake and operational endpoints.
func (a *Application) Handler() http.Handler {
	return a.router.Handler()
}

// AnalyseReport runs the analysis for one report inline.
func (a *Application) AnalyseReport(ctx context.Context, reportID string) error {
	return a.dispatcher.Analyse(ctx, reportID)
}

// Aggregate runs the daily aggregation for date inline. An empty date means the day that closed last.
func (a *Application) Aggregate(ctx context.Context, date domain.Date) error {
	if date == "" {
		date = a.ClosedDay()
	}
	return a.dispatcher.Aggregate(ctx, date)
}

// Serve runs the dispatcher, the daily timer and the HTTP listener until ctx is cancelled.
func (a *Application) Serve(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	// Nothing runs in the group yet, so a scheduler error leaves no workers behind.
	if err := a.scheduler.Start(gCtx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	g.Go(func() error {
		return a.dispatcher.Run(gCtx)
	})

	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		a.logger.Info("http listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := a.scheduler.Stop(shutdownCtx); err != nil {
			a.logger.Warn("scheduler stop", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Close releases the database connection.
func (a *Application) Close() error {
	return a.db.Close()
}
