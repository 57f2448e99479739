// Package runtime assembles the engine from configuration: database, stores,
// notifier fan-out, auth, and the HTTP server lifecycle.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"time"

	app "github.com/R3E-Network/progression_engine/internal/app"
	"github.com/R3E-Network/progression_engine/internal/app/auth"
	"github.com/R3E-Network/progression_engine/internal/app/httpapi"
	"github.com/R3E-Network/progression_engine/internal/app/notify"
	progressionsvc "github.com/R3E-Network/progression_engine/internal/app/services/progression"
	"github.com/R3E-Network/progression_engine/internal/app/storage/postgres"
	"github.com/R3E-Network/progression_engine/internal/config"
	"github.com/R3E-Network/progression_engine/internal/engine/events"
	"github.com/R3E-Network/progression_engine/internal/platform/database"
	"github.com/R3E-Network/progression_engine/internal/platform/migrations"
	"github.com/R3E-Network/progression_engine/pkg/logger"
	"github.com/joho/godotenv"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	app        *app.Application
	httpServer *http.Server
	db         *sql.DB
	notifier   progressionsvc.Notifier
	detachZap  func()
}

// LoadConfig loads .env for local runs, then the YAML + environment
// configuration.
func LoadConfig() (*config.Config, error) {
	_ = godotenv.Load()
	return config.Load()
}

// NewApplication constructs the engine from configuration. When migrate is
// set and a database is configured, schema migrations run before wiring.
func NewApplication(cfg *config.Config, migrate bool) (*Application, error) {
	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	var (
		stores app.Stores
		db     *sql.DB
	)
	if cfg.Database.Driver != "" {
		opened, err := database.OpenWith(context.Background(), database.Config{
			Driver:          cfg.Database.Driver,
			DSN:             cfg.Database.DSN,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if migrate {
			if err := migrations.Apply(context.Background(), opened); err != nil {
				opened.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
		}
		store := postgres.New(opened)
		stores = app.Stores{Progression: store, Ledger: store, Balances: store}
		db = opened
		log.WithField("driver", cfg.Database.Driver).Info("database connected")
	} else {
		log.Warn("no database configured; progression state is in-memory and lost on restart")
	}

	notifier, err := buildNotifier(cfg, log)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, err
	}

	journal := events.NewRingBuffer(512)
	detachZap := func() {}
	if zapLog, err := events.NewJournalLogger(""); err != nil {
		log.WithError(err).Warn("journal logger unavailable; events stay in the ring buffer")
	} else {
		detachZap = events.AttachZapSink(journal, zapLog)
	}

	application, err := app.New(stores, app.Options{
		SettingsPath:   cfg.Levels.SettingsPath,
		ReloadSchedule: cfg.Levels.ReloadSchedule,
		Notifier:       notifier,
		Journal:        journal,
	}, log)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, fmt.Errorf("build application: %w", err)
	}

	for _, desc := range application.Describe() {
		log.WithField("service", desc.Name).
			WithField("layer", string(desc.Layer)).
			WithField("capabilities", strings.Join(desc.Capabilities, ",")).
			Info("service registered")
	}

	audit, err := buildAudit(cfg, db)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, err
	}

	var ready func(context.Context) error
	if db != nil {
		ready = db.PingContext
	}

	var rps float64
	var burst int
	if cfg.RateLimit.Enabled {
		rps, burst = cfg.RateLimit.RPS, cfg.RateLimit.Burst
	}

	handler := httpapi.NewServerHandler(application, httpapi.ServerConfig{
		Tokens:    cfg.Auth.Tokens,
		Auth:      buildAuth(cfg),
		Audit:     audit,
		Ready:     ready,
		RateRPS:   rps,
		RateBurst: burst,
	})

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	return &Application{
		cfg:        cfg,
		log:        log,
		app:        application,
		httpServer: httpSrv,
		db:         db,
		notifier:   notifier,
		detachZap:  detachZap,
	}, nil
}

// App exposes the wired application, mainly for tests and embedding.
func (a *Application) App() *app.Application { return a.app }

// Run starts the services and HTTP server and blocks until the context is
// cancelled or the listener fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)

	go func() {
		a.log.WithField("addr", a.httpServer.Addr).Info("HTTP server listening")
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server, the services, and the database.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := a.app.Stop(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("error stopping services")
	}

	a.detachZap()

	if closer, ok := a.notifier.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			a.log.WithError(err).Warn("error closing notifier")
		}
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}

	return nil
}

func buildNotifier(cfg *config.Config, log *logger.Logger) (progressionsvc.Notifier, error) {
	targets := []notify.Target{notify.NewLogNotifier(log)}

	if cfg.Notify.Redis.Addr != "" {
		redisNotifier, err := notify.NewRedisNotifier(
			context.Background(),
			cfg.Notify.Redis.Addr,
			cfg.Notify.Redis.Password,
			cfg.Notify.Redis.DB,
			cfg.Notify.Redis.ChannelPrefix,
			log,
		)
		if err != nil {
			return nil, fmt.Errorf("connect redis notifier: %w", err)
		}
		targets = append(targets, redisNotifier)
	}

	if cfg.Notify.Realtime.GatewayURL != "" {
		targets = append(targets, notify.NewRealtimeNotifier(cfg.Notify.Realtime.GatewayURL, cfg.Notify.Realtime.Topic, log))
	}

	if len(targets) == 1 {
		return targets[0], nil
	}
	return notify.NewMultiNotifier(log, targets...), nil
}

func buildAuth(cfg *config.Config) *auth.Manager {
	if len(cfg.Auth.Users) == 0 {
		return nil
	}
	users := make([]auth.User, 0, len(cfg.Auth.Users))
	for _, user := range cfg.Auth.Users {
		users = append(users, auth.User{Username: user.Username, Password: user.Password, Role: user.Role})
	}
	return auth.NewManager(cfg.Auth.JWTSecret, users)
}

func buildAudit(cfg *config.Config, db *sql.DB) (*httpapi.AuditLog, error) {
	var sinks []httpapi.AuditSink

	if cfg.Audit.FilePath != "" {
		sink, err := httpapi.NewFileAuditSink(cfg.Audit.FilePath)
		if err != nil {
			return nil, fmt.Errorf("open audit file: %w", err)
		}
		if sink != nil {
			sinks = append(sinks, sink)
		}
	}

	if cfg.Audit.Postgres && db != nil {
		if sink := httpapi.NewPostgresAuditSink(db); sink != nil {
			sinks = append(sinks, sink)
		}
	}

	return httpapi.NewAuditLog(cfg.Audit.MaxEntries, sinks...), nil
}
