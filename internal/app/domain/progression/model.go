package progression

import (
	"fmt"
	"time"

	"github.com/R3E-Network/progression_engine/internal/app/domain/levels"
)

// Profile tracks a user's cumulative XP and the level derived from it.
// XP and level only ever increase; the level is persisted at mutation time
// so reads never recompute it.
type Profile struct {
	UserID    string
	XP        int64
	Level     int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EntryStatus is the lifecycle state of a ledger entry. Reward credits are
// written in their terminal state; this engine does not model pending
// credits.
type EntryStatus string

const (
	StatusCompleted EntryStatus = "completed"
)

// LedgerEntry is an immutable audit record of a single reward credit.
// Reference is globally unique and deterministically derived from the
// credit event, which is what makes crediting exactly-once under races.
type LedgerEntry struct {
	ID           string
	Reference    string
	UserID       string
	Level        int
	CurrencyKind string
	Amount       int64
	Status       EntryStatus
	Reason       string
	Description  string
	CreatedAt    time.Time
}

// Balance is a user's accumulated amount of one currency kind.
type Balance struct {
	UserID       string
	CurrencyKind string
	Amount       int64
	UpdatedAt    time.Time
}

// ApplyResult reports the outcome of one XP deposit.
type ApplyResult struct {
	UserID        string
	XP            int64
	Level         int
	PreviousLevel int
	LeveledUp     bool
	NewLevel      int
	Credited      []LedgerEntry
}

// Progress is a consistent snapshot of where a user sits on the curve.
type Progress struct {
	UserID             string
	XP                 int64
	Level              int
	CurrentLevelXP     int64
	NextLevelXP        int64
	XPIntoLevel        int64
	XPRequiredForLevel int64
	Percent            int
	IsMaxLevel         bool
}

// LevelUpEvent is the payload published to the notification channel after a
// level-up commits.
type LevelUpEvent struct {
	UserID        string
	Level         int
	PreviousLevel int
	XP            int64
	Amount        int64
	Reason        string
	Rewards       levels.RewardBundle
	OccurredAt    time.Time
}

// RewardReference derives the ledger reference for crediting one currency
// kind of one level's bundle to one user. Identical inputs always produce
// the identical reference, so a retried or raced credit collides on the
// ledger's uniqueness constraint instead of double-paying.
func RewardReference(userID string, level int, kind string) string {
	return fmt.Sprintf("levelup:%s:%d:%s", userID, level, kind)
}
