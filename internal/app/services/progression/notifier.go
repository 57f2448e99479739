package progression

import (
	"context"

	"github.com/R3E-Network/progression_engine/internal/app/domain/progression"
)

// Notifier publishes level-up events to an external channel. Emit failures
// are the caller's to log and count; a committed deposit never fails because
// its notification did.
type Notifier interface {
	Name() string
	Emit(ctx context.Context, event progression.LevelUpEvent) error
}
