package levels

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/progression_engine/internal/app/metrics"
	"github.com/R3E-Network/progression_engine/internal/app/system"
	"github.com/R3E-Network/progression_engine/pkg/logger"
)

var _ system.Service = (*Reloader)(nil)

// Reloader re-reads the level settings source on a cron schedule. A failed
// reload keeps the active snapshot, so a bad settings push never takes the
// engine down.
type Reloader struct {
	service *Service
	log     *logger.Logger
	spec    string

	mu      sync.Mutex
	runner  *cron.Cron
	running bool
}

// NewReloader creates a lifecycle-managed settings reloader. The schedule
// accepts cron syntax, including descriptors such as "@every 5m".
func NewReloader(service *Service, spec string, log *logger.Logger) *Reloader {
	if log == nil {
		log = logger.NewDefault("levels-reloader")
	}
	if spec == "" {
		spec = "@every 5m"
	}
	return &Reloader{service: service, log: log, spec: spec}
}

func (r *Reloader) Name() string { return "levels-reloader" }

func (r *Reloader) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	runner := cron.New()
	if _, err := runner.AddFunc(r.spec, r.tick); err != nil {
		return fmt.Errorf("schedule %q: %w", r.spec, err)
	}
	runner.Start()
	r.runner = runner
	r.running = true
	r.log.WithField("schedule", r.spec).Info("level settings reloader started")
	return nil
}

func (r *Reloader) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	runner := r.runner
	r.runner = nil
	r.running = false
	r.mu.Unlock()

	select {
	case <-runner.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	r.log.Info("level settings reloader stopped")
	return nil
}

func (r *Reloader) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := r.service.Reload(ctx)
	metrics.RecordSettingsReload(err == nil)
	if err != nil {
		r.log.WithError(err).Warn("scheduled level settings reload failed")
	}
}
