// Package notify delivers committed level-up events to external channels.
// Sinks are best-effort: a failed emit is logged and counted by the caller
// and never unwinds the deposit that produced the event.
package notify

import (
	"context"

	"github.com/R3E-Network/progression_engine/internal/app/domain/progression"
	"github.com/R3E-Network/progression_engine/pkg/logger"
)

// Target is any sink an event can be delivered to.
type Target interface {
	Name() string
	Emit(ctx context.Context, event progression.LevelUpEvent) error
}

// LogNotifier writes level-up events to the application log. It is the
// default sink when no external channel is configured.
type LogNotifier struct {
	log *logger.Logger
}

// NewLogNotifier creates a log-backed sink.
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.NewDefault("notify")
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Emit(_ context.Context, event progression.LevelUpEvent) error {
	n.log.WithField("user_id", event.UserID).
		WithField("level", event.Level).
		WithField("previous_level", event.PreviousLevel).
		WithField("xp", event.XP).
		WithField("rewards", len(event.Rewards)).
		Info("level up")
	return nil
}
