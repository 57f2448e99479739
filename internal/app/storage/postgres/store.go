package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/R3E-Network/progression_engine/internal/app/domain/progression"
	"github.com/R3E-Network/progression_engine/internal/app/storage"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Store implements the storage interfaces backed by PostgreSQL. Writes go
// through database/sql; the read models in reporting.go use sqlx on the
// same handle.
type Store struct {
	db  *sql.DB
	rdb *sqlx.DB
}

var _ storage.ProgressionStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)
var _ storage.BalanceStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db, rdb: sqlx.NewDb(db, "postgres")}
}

// --- ProgressionStore -------------------------------------------------------

func (s *Store) CreateProfile(ctx context.Context, profile progression.Profile) (progression.Profile, error) {
	now := time.Now().UTC()
	profile.CreatedAt = now
	profile.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO progression_profiles (user_id, xp, level, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, profile.UserID, profile.XP, profile.Level, profile.CreatedAt, profile.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return progression.Profile{}, fmt.Errorf("profile %s: %w", profile.UserID, progression.ErrExists)
		}
		return progression.Profile{}, err
	}
	return profile, nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (progression.Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, xp, level, created_at, updated_at
		FROM progression_profiles
		WHERE user_id = $1
	`, userID)

	var profile progression.Profile
	if err := row.Scan(&profile.UserID, &profile.XP, &profile.Level, &profile.CreatedAt, &profile.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return progression.Profile{}, fmt.Errorf("profile %s: %w", userID, progression.ErrNotFound)
		}
		return progression.Profile{}, err
	}
	return profile, nil
}

// ApplyXp runs the whole deposit as one transaction. The profile row lock
// serializes concurrent deposits per user; the ledger's unique reference
// arbitrates reward credits, so a conflicting insert skips that credit's
// balance increment instead of failing the deposit.
func (s *Store) ApplyXp(ctx context.Context, dep storage.XpDeposit) (storage.XpOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.XpOutcome{}, err
	}
	defer tx.Rollback()

	var profile progression.Profile
	row := tx.QueryRowContext(ctx, `
		SELECT user_id, xp, level, created_at, updated_at
		FROM progression_profiles
		WHERE user_id = $1
		FOR UPDATE
	`, dep.UserID)
	if err := row.Scan(&profile.UserID, &profile.XP, &profile.Level, &profile.CreatedAt, &profile.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.XpOutcome{}, fmt.Errorf("profile %s: %w", dep.UserID, progression.ErrNotFound)
		}
		return storage.XpOutcome{}, err
	}

	now := time.Now().UTC()
	previousLevel := profile.Level
	profile.XP += dep.Amount

	resolution := dep.Resolve(profile.XP)
	var credited []progression.LedgerEntry
	if resolution.Level > previousLevel {
		profile.Level = resolution.Level
		for level := previousLevel + 1; level <= resolution.Level; level++ {
			bundle := dep.Rewards(level)
			for _, kind := range sortedKinds(bundle) {
				entry := progression.LedgerEntry{
					ID:           uuid.NewString(),
					Reference:    progression.RewardReference(dep.UserID, level, kind),
					UserID:       dep.UserID,
					Level:        level,
					CurrencyKind: kind,
					Amount:       bundle[kind],
					Status:       progression.StatusCompleted,
					Reason:       dep.Reason,
					Description:  fmt.Sprintf("level %d reward", level),
					CreatedAt:    now,
				}
				result, err := tx.ExecContext(ctx, `
					INSERT INTO progression_ledger (id, reference, user_id, level, currency_kind, amount, status, reason, description, created_at)
					VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
					ON CONFLICT (reference) DO NOTHING
				`, entry.ID, entry.Reference, entry.UserID, entry.Level, entry.CurrencyKind, entry.Amount, entry.Status, entry.Reason, entry.Description, entry.CreatedAt)
				if err != nil {
					return storage.XpOutcome{}, err
				}
				if rows, _ := result.RowsAffected(); rows == 0 {
					// Reference already taken: this level's reward was
					// credited by an earlier or racing deposit.
					continue
				}
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO progression_balances (user_id, currency_kind, amount, updated_at)
					VALUES ($1, $2, $3, $4)
					ON CONFLICT (user_id, currency_kind)
					DO UPDATE SET amount = progression_balances.amount + EXCLUDED.amount, updated_at = EXCLUDED.updated_at
				`, dep.UserID, kind, bundle[kind], now); err != nil {
					return storage.XpOutcome{}, err
				}
				credited = append(credited, entry)
			}
		}
	}

	profile.UpdatedAt = now
	if _, err := tx.ExecContext(ctx, `
		UPDATE progression_profiles
		SET xp = $2, level = $3, updated_at = $4
		WHERE user_id = $1
	`, profile.UserID, profile.XP, profile.Level, profile.UpdatedAt); err != nil {
		return storage.XpOutcome{}, err
	}

	if err := tx.Commit(); err != nil {
		return storage.XpOutcome{}, err
	}

	return storage.XpOutcome{
		Profile:       profile,
		PreviousLevel: previousLevel,
		Credited:      credited,
	}, nil
}

// --- LedgerStore ------------------------------------------------------------

func (s *Store) GetLedgerEntry(ctx context.Context, id string) (progression.LedgerEntry, error) {
	return s.getLedgerEntry(ctx, `id = $1`, id)
}

func (s *Store) GetLedgerEntryByReference(ctx context.Context, reference string) (progression.LedgerEntry, error) {
	return s.getLedgerEntry(ctx, `reference = $1`, reference)
}

func (s *Store) getLedgerEntry(ctx context.Context, where, arg string) (progression.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, reference, user_id, level, currency_kind, amount, status, reason, description, created_at
		FROM progression_ledger
		WHERE `+where, arg)

	var entry progression.LedgerEntry
	if err := row.Scan(&entry.ID, &entry.Reference, &entry.UserID, &entry.Level, &entry.CurrencyKind, &entry.Amount, &entry.Status, &entry.Reason, &entry.Description, &entry.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return progression.LedgerEntry{}, fmt.Errorf("ledger entry %s: %w", arg, progression.ErrNotFound)
		}
		return progression.LedgerEntry{}, err
	}
	return entry, nil
}

// --- BalanceStore -----------------------------------------------------------

func (s *Store) GetBalance(ctx context.Context, userID, currencyKind string) (progression.Balance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, currency_kind, amount, updated_at
		FROM progression_balances
		WHERE user_id = $1 AND currency_kind = $2
	`, userID, currencyKind)

	var balance progression.Balance
	if err := row.Scan(&balance.UserID, &balance.CurrencyKind, &balance.Amount, &balance.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return progression.Balance{UserID: userID, CurrencyKind: currencyKind}, nil
		}
		return progression.Balance{}, err
	}
	return balance, nil
}

func (s *Store) ListBalances(ctx context.Context, userID string) ([]progression.Balance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, currency_kind, amount, updated_at
		FROM progression_balances
		WHERE user_id = $1
		ORDER BY currency_kind
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []progression.Balance
	for rows.Next() {
		var balance progression.Balance
		if err := rows.Scan(&balance.UserID, &balance.CurrencyKind, &balance.Amount, &balance.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, balance)
	}
	return result, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func sortedKinds(bundle map[string]int64) []string {
	kinds := make([]string, 0, len(bundle))
	for kind := range bundle {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
