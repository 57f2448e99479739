package storage

import (
	"context"

	"github.com/R3E-Network/progression_engine/internal/app/domain/levels"
	"github.com/R3E-Network/progression_engine/internal/app/domain/progression"
)

// XpDeposit carries one XP application through a store transaction. Resolve
// and Rewards are supplied by the caller so the whole read-increment-credit
// unit runs against one consistent curve snapshot inside the transaction.
type XpDeposit struct {
	UserID string
	Amount int64
	Reason string

	Resolve func(xp int64) levels.Resolution
	Rewards func(level int) levels.RewardBundle
}

// XpOutcome reports what an XpDeposit transaction committed. Credited lists
// only the ledger entries this transaction inserted; credits skipped because
// their reference already existed are absent.
type XpOutcome struct {
	Profile       progression.Profile
	PreviousLevel int
	Credited      []progression.LedgerEntry
}

// ProgressionStore persists progression profiles and applies XP deposits
// atomically. ApplyXp must guarantee that concurrent deposits for the same
// user serialize (no lost updates) and that a duplicate ledger reference
// inside the transaction skips that credit rather than failing it.
// List methods treat a non-positive limit as unlimited.
type ProgressionStore interface {
	CreateProfile(ctx context.Context, profile progression.Profile) (progression.Profile, error)
	GetProfile(ctx context.Context, userID string) (progression.Profile, error)
	ApplyXp(ctx context.Context, dep XpDeposit) (XpOutcome, error)
	ListTopProfiles(ctx context.Context, limit int) ([]progression.Profile, error)
}

// LedgerStore reads the immutable reward-credit audit trail.
type LedgerStore interface {
	GetLedgerEntry(ctx context.Context, id string) (progression.LedgerEntry, error)
	GetLedgerEntryByReference(ctx context.Context, reference string) (progression.LedgerEntry, error)
	ListLedgerEntries(ctx context.Context, userID string, limit int) ([]progression.LedgerEntry, error)
}

// BalanceStore reads per-currency balances accumulated by reward credits.
type BalanceStore interface {
	GetBalance(ctx context.Context, userID, currencyKind string) (progression.Balance, error)
	ListBalances(ctx context.Context, userID string) ([]progression.Balance, error)
}
