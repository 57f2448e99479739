package app

import (
	"context"
	"fmt"

	"github.com/R3E-Network/progression_engine/internal/app/core/service"
	"github.com/R3E-Network/progression_engine/internal/app/domain/levels"
	levelsvc "github.com/R3E-Network/progression_engine/internal/app/services/levels"
	progressionsvc "github.com/R3E-Network/progression_engine/internal/app/services/progression"
	"github.com/R3E-Network/progression_engine/internal/app/storage"
	"github.com/R3E-Network/progression_engine/internal/app/storage/memory"
	"github.com/R3E-Network/progression_engine/internal/app/system"
	"github.com/R3E-Network/progression_engine/internal/engine/events"
	"github.com/R3E-Network/progression_engine/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Progression storage.ProgressionStore
	Ledger      storage.LedgerStore
	Balances    storage.BalanceStore
}

// Options carries the optional collaborators the runtime wires in.
type Options struct {
	// SettingsPath names the level settings file. Empty keeps the built-in
	// development curve, which cannot be reloaded.
	SettingsPath string
	// ReloadSchedule is a cron spec for periodic settings reloads. Ignored
	// without a SettingsPath.
	ReloadSchedule string
	Notifier       progressionsvc.Notifier
	Journal        events.Journal
}

// Application ties the progression services together and manages their
// lifecycle.
type Application struct {
	manager     *system.Manager
	log         *logger.Logger
	descriptors []service.Descriptor

	Progression *progressionsvc.Service
	Levels      *levelsvc.Service
	Journal     events.Journal
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Progression == nil {
		stores.Progression = mem
	}
	if stores.Ledger == nil {
		stores.Ledger = mem
	}
	if stores.Balances == nil {
		stores.Balances = mem
	}

	var (
		levelService *levelsvc.Service
		err          error
	)
	if opts.SettingsPath != "" {
		levelService, err = levelsvc.NewFromFile(opts.SettingsPath, log)
		if err != nil {
			return nil, fmt.Errorf("load level settings: %w", err)
		}
	} else {
		log.Warn("no level settings file configured; using the built-in development curve")
		levelService, err = levelsvc.New(defaultCurve(), defaultRewards(), log)
		if err != nil {
			return nil, fmt.Errorf("built-in level settings: %w", err)
		}
	}

	journal := opts.Journal
	if journal == nil {
		journal = events.NewRingBuffer(512)
	}

	progressionService := progressionsvc.New(stores.Progression, stores.Ledger, stores.Balances, levelService, log)
	progressionService.AttachJournal(journal)
	if opts.Notifier != nil {
		progressionService.AttachNotifier(opts.Notifier)
	}

	manager := system.NewManager()
	for _, name := range []string{"levels", "progression"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	if opts.SettingsPath != "" && opts.ReloadSchedule != "" {
		reloader := levelsvc.NewReloader(levelService, opts.ReloadSchedule, log)
		if err := manager.Register(reloader); err != nil {
			return nil, fmt.Errorf("register %s: %w", reloader.Name(), err)
		}
	} else if opts.ReloadSchedule != "" {
		log.Warn("reload schedule set without a settings file; scheduled reloads disabled")
	}

	progressionDesc := service.Descriptor{
		Name:         "progression",
		Domain:       "progression",
		Layer:        service.LayerEngine,
		Capabilities: []string{"profiles", "xp-deposits", "reward-crediting", "progress"},
	}
	if opts.Notifier != nil {
		progressionDesc = progressionDesc.WithCapabilities("level-up-notifications")
	}
	levelsDesc := service.Descriptor{
		Name:         "levels",
		Domain:       "progression",
		Layer:        service.LayerEngine,
		Capabilities: []string{"curve-resolution", "reward-tables"},
	}
	if opts.SettingsPath != "" {
		levelsDesc = levelsDesc.WithCapabilities("reload")
		if opts.ReloadSchedule != "" {
			levelsDesc = levelsDesc.WithCapabilities("scheduled-reload")
		}
	}

	return &Application{
		manager:     manager,
		log:         log,
		descriptors: []service.Descriptor{progressionDesc, levelsDesc},
		Progression: progressionService,
		Levels:      levelService,
		Journal:     journal,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(svc system.Service) error {
	return a.manager.Register(svc)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// Describe advertises the wired services for startup logging and tooling.
func (a *Application) Describe() []service.Descriptor {
	out := make([]service.Descriptor, len(a.descriptors))
	copy(out, a.descriptors)
	return out
}

// defaultCurve is a ten-level development curve used when no settings file is
// configured.
func defaultCurve() levels.Curve {
	return levels.Curve{Thresholds: []levels.Threshold{
		{Level: 1, MinXP: 0},
		{Level: 2, MinXP: 100},
		{Level: 3, MinXP: 300},
		{Level: 4, MinXP: 600},
		{Level: 5, MinXP: 1000},
		{Level: 6, MinXP: 1500},
		{Level: 7, MinXP: 2200},
		{Level: 8, MinXP: 3000},
		{Level: 9, MinXP: 4000},
		{Level: 10, MinXP: 5200},
	}}
}

func defaultRewards() levels.Table {
	return levels.Table{Bundles: map[int]levels.RewardBundle{
		2:  {"coins": 50},
		3:  {"coins": 100},
		4:  {"coins": 150},
		5:  {"coins": 200, "diamonds": 5},
		6:  {"coins": 250},
		7:  {"coins": 300},
		8:  {"coins": 400},
		9:  {"coins": 500},
		10: {"coins": 750, "diamonds": 20},
	}}
}
