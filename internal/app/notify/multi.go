package notify

import (
	"context"

	"github.com/R3E-Network/progression_engine/internal/app/domain/progression"
	"github.com/R3E-Network/progression_engine/internal/app/metrics"
	"github.com/R3E-Network/progression_engine/pkg/logger"
)

// MultiNotifier fans an event out to every configured target. Every target
// is attempted; the first error becomes the return value.
type MultiNotifier struct {
	targets []Target
	log     *logger.Logger
}

// NewMultiNotifier creates a fan-out over the given targets.
func NewMultiNotifier(log *logger.Logger, targets ...Target) *MultiNotifier {
	if log == nil {
		log = logger.NewDefault("notify")
	}
	return &MultiNotifier{targets: targets, log: log}
}

func (n *MultiNotifier) Name() string { return "multi" }

func (n *MultiNotifier) Emit(ctx context.Context, event progression.LevelUpEvent) error {
	var firstErr error
	for _, target := range n.targets {
		err := target.Emit(ctx, event)
		metrics.RecordNotification(target.Name(), err)
		if err != nil {
			n.log.WithError(err).
				WithField("sink", target.Name()).
				WithField("user_id", event.UserID).
				Warn("notification sink failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Close closes every target that holds a connection.
func (n *MultiNotifier) Close() error {
	var firstErr error
	for _, target := range n.targets {
		if closer, ok := target.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
