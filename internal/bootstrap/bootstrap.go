package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/dandantas/nyxmon/internal/config"
	"github.com/dandantas/nyxmon/internal/database"
	"github.com/dandantas/nyxmon/internal/handler"
	"github.com/dandantas/nyxmon/internal/model"
	"github.com/dandantas/nyxmon/internal/notify"
	"github.com/dandantas/nyxmon/internal/runner"
	"github.com/dandantas/nyxmon/internal/scheduler"
	"github.com/dandantas/nyxmon/internal/service"
	"github.com/dandantas/nyxmon/internal/worker"
	"go.uber.org/multierr"
)

// Version is reported by the health endpoint
const Version = "0.1.0"

// OpenStore opens the configured storage backend. A SQLite file must already
// exist unless create is set; MongoDB indexes are created on connect.
func OpenStore(ctx context.Context, cfg config.StorageConfig, create bool) (database.Store, error) {
	if cfg.MongoURI != "" {
		db, err := database.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoTimeout)
		if err != nil {
			return nil, err
		}
		if err := database.CreateIndexes(ctx, db); err != nil {
			db.Disconnect(ctx)
			return nil, err
		}
		return database.NewMongoStore(db), nil
	}
	return database.OpenSQLite(ctx, cfg.DB, create)
}

// App is the assembled agent
type App struct {
	cfg       *config.Config
	store     database.Store
	bus       *service.MessageBus
	runner    *runner.Runner
	execution *service.CheckExecution
	pool      *worker.WorkerPool
	hub       *handler.StreamHub
	kafka     *notify.KafkaNotifier

	server   *http.Server
	listener net.Listener
}

// New wires every component around store. Nothing runs until Start.
func New(cfg *config.Config, store database.Store) *App {
	app := &App{
		cfg:    cfg,
		store:  store,
		runner: runner.NewRunner(nil, nil),
		pool:   worker.NewWorkerPool(cfg.Notify.Workers, cfg.Notify.Queue),
		hub:    handler.NewStreamHub(),
	}
	app.bus = service.NewMessageBus(func() *service.UnitOfWork { return service.NewUnitOfWork(store) })

	recorder := scheduler.RecorderFunc(func(ctx context.Context, result model.Result) error {
		return app.bus.Handle(ctx, service.AddResult{Result: result})
	})
	collector := scheduler.NewCollector(store, app.runner, recorder, cfg.CollectorInterval(), cfg.ShutdownTimeout)
	cleaner := scheduler.NewCleaner(store, cfg.CleanupInterval(), cfg.RetentionPeriod(), cfg.Cleaner.BatchSize, cfg.ShutdownTimeout)

	app.execution = service.RegisterHandlers(app.bus, service.Dependencies{
		Runner:    app.runner,
		Notifier:  app.notifier(),
		Collector: collector,
		Cleaner:   cleaner,
		Publisher: app.hub,
	})

	if cfg.HTTP.Addr != "" {
		router := handler.NewRouter(
			handler.NewCheckHandler(store, app.bus.Handle),
			handler.NewServiceHandler(store, app.bus.Handle),
			handler.NewHealthHandler(store, Version),
			app.hub,
			cfg.HTTP.CORS,
		)
		app.server = &http.Server{
			Addr:         cfg.HTTP.Addr,
			Handler:      router.Handler(),
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
		}
	}
	return app
}

// notifier always logs and adds webhook and Kafka delivery when configured
func (a *App) notifier() notify.Notifier {
	notifiers := notify.Multi{notify.LoggingNotifier{}}

	if len(a.cfg.Notify.Webhook.URLs) > 0 {
		slog.Info("Webhook notifications enabled", "urls", len(a.cfg.Notify.Webhook.URLs))
		notifiers = append(notifiers, notify.NewWebhookNotifier(a.cfg.Notify.Webhook, a.pool))
	}
	if len(a.cfg.Notify.Kafka.Brokers) > 0 {
		slog.Info("Kafka notifications enabled",
			"brokers", a.cfg.Notify.Kafka.Brokers,
			"topic", a.cfg.Notify.Kafka.Topic,
		)
		a.kafka = notify.NewKafkaNotifier(notify.NewKafkaWriter(a.cfg.Notify.Kafka.Brokers, a.cfg.Notify.Kafka.Topic), a.pool)
		notifiers = append(notifiers, a.kafka)
	}
	return notifiers
}

// Bus exposes the message bus
func (a *App) Bus() *service.MessageBus {
	return a.bus
}

// Addr returns the admin API address once it is listening
func (a *App) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Start validates persisted checks, then starts the notifier pool, the loops and the admin API
func (a *App) Start(ctx context.Context) error {
	if err := a.validateCheckTypes(ctx); err != nil {
		return err
	}

	a.pool.Start()

	if err := a.bus.Handle(ctx, service.StartCollector{}); err != nil {
		return fmt.Errorf("failed to start collector: %w", err)
	}
	if a.cfg.Cleaner.Disabled {
		slog.Info("Cleaner disabled")
	} else if err := a.bus.Handle(ctx, service.StartCleaner{}); err != nil {
		return fmt.Errorf("failed to start cleaner: %w", err)
	}

	if a.server != nil {
		ln, err := net.Listen("tcp", a.server.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", a.server.Addr, err)
		}
		a.listener = ln
		go func() {
			slog.Info("Starting HTTP server", "addr", ln.Addr().String())
			if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("HTTP server error", "error", err.Error())
			}
		}()
	}

	slog.Info("Agent started",
		"version", Version,
		"interval_s", a.cfg.Collector.Interval,
		"cleaner_enabled", !a.cfg.Cleaner.Disabled,
	)
	return nil
}

// Shutdown stops the loops, the admin API and the notifier pool, then closes the store.
// Every step runs even if an earlier one fails.
func (a *App) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down agent")
	var err error

	err = multierr.Append(err, a.bus.Handle(ctx, service.StopCollector{}))
	if !a.cfg.Cleaner.Disabled {
		err = multierr.Append(err, a.bus.Handle(ctx, service.StopCleaner{}))
	}

	if a.server != nil && a.listener != nil {
		if serr := a.server.Shutdown(ctx); serr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to shut down HTTP server: %w", serr))
		}
	}

	a.waitForManualRuns(ctx)
	err = multierr.Append(err, a.closeRunner(ctx))
	a.pool.Stop()

	if a.kafka != nil {
		err = multierr.Append(err, a.kafka.Close())
	}
	err = multierr.Append(err, a.store.Close(ctx))

	slog.Info("Agent stopped")
	return err
}

// waitForManualRuns waits for API-triggered runs until ctx ends
func (a *App) waitForManualRuns(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		a.execution.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("Timeout waiting for manual check runs")
	}
}

// closeRunner releases executors once the current batch ends, giving up when ctx ends
func (a *App) closeRunner(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- a.runner.Close()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		slog.Warn("Timeout waiting for check batch, executors left open")
		return nil
	}
}

func (a *App) validateCheckTypes(ctx context.Context) error {
	tx, err := a.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	checks, err := tx.Checks().List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list checks: %w", err)
	}

	all := make([]model.Check, 0, len(checks))
	for _, c := range checks {
		all = append(all, *c)
	}
	if invalid := a.runner.ValidateCheckTypes(ctx, all); len(invalid) > 0 {
		slog.Warn("Checks with unsupported types will fail with unknown_check_type", "count", len(invalid))
	}
	return nil
}

// Run starts the agent and blocks until ctx is cancelled, then shuts down
// within cfg.ShutdownTimeout.
func Run(ctx context.Context, cfg *config.Config) error {
	store, err := OpenStore(ctx, cfg.Storage, false)
	if err != nil {
		return err
	}

	app := New(cfg, store)
	if err := app.Start(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return multierr.Append(err, app.Shutdown(shutdownCtx))
	}

	<-ctx.Done()
	slog.Info("Received shutdown signal, initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout+5*time.Second)
	defer cancel()
	return app.Shutdown(shutdownCtx)
}
