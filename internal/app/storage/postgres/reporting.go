package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/R3E-Network/progression_engine/internal/app/domain/progression"
)

// Read models for listing endpoints. These scan into tagged row structs via
// sqlx so the column mapping stays in one place.

type profileRow struct {
	UserID    string    `db:"user_id"`
	XP        int64     `db:"xp"`
	Level     int       `db:"level"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r profileRow) toDomain() progression.Profile {
	return progression.Profile{
		UserID:    r.UserID,
		XP:        r.XP,
		Level:     r.Level,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type ledgerRow struct {
	ID           string    `db:"id"`
	Reference    string    `db:"reference"`
	UserID       string    `db:"user_id"`
	Level        int       `db:"level"`
	CurrencyKind string    `db:"currency_kind"`
	Amount       int64     `db:"amount"`
	Status       string    `db:"status"`
	Reason       string    `db:"reason"`
	Description  string    `db:"description"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r ledgerRow) toDomain() progression.LedgerEntry {
	return progression.LedgerEntry{
		ID:           r.ID,
		Reference:    r.Reference,
		UserID:       r.UserID,
		Level:        r.Level,
		CurrencyKind: r.CurrencyKind,
		Amount:       r.Amount,
		Status:       progression.EntryStatus(r.Status),
		Reason:       r.Reason,
		Description:  r.Description,
		CreatedAt:    r.CreatedAt,
	}
}

// ListTopProfiles returns profiles ordered by XP descending. A non-positive
// limit returns everything.
func (s *Store) ListTopProfiles(ctx context.Context, limit int) ([]progression.Profile, error) {
	query := `
		SELECT user_id, xp, level, created_at, updated_at
		FROM progression_profiles
		ORDER BY xp DESC, user_id
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	var rows []profileRow
	if err := s.rdb.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}

	result := make([]progression.Profile, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

// ListLedgerEntries returns a user's credits, newest first. A non-positive
// limit returns everything.
func (s *Store) ListLedgerEntries(ctx context.Context, userID string, limit int) ([]progression.LedgerEntry, error) {
	query := `
		SELECT id, reference, user_id, level, currency_kind, amount, status, reason, description, created_at
		FROM progression_ledger
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	var rows []ledgerRow
	if err := s.rdb.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, err
	}

	result := make([]progression.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}
