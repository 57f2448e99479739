package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/R3E-Network/progression_engine/internal/app/domain/progression"
	"github.com/R3E-Network/progression_engine/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development. The single mutex held across ApplyXp is what serializes
// concurrent deposits for the same user.
type Store struct {
	mu          sync.RWMutex
	nextID      int64
	profiles    map[string]progression.Profile
	ledger      map[string][]progression.LedgerEntry
	ledgerByID  map[string]progression.LedgerEntry
	ledgerByRef map[string]progression.LedgerEntry
	balances    map[string]map[string]progression.Balance
}

var _ storage.ProgressionStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)
var _ storage.BalanceStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:      1,
		profiles:    make(map[string]progression.Profile),
		ledger:      make(map[string][]progression.LedgerEntry),
		ledgerByID:  make(map[string]progression.LedgerEntry),
		ledgerByRef: make(map[string]progression.LedgerEntry),
		balances:    make(map[string]map[string]progression.Balance),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// ProgressionStore implementation ---------------------------------------------

func (s *Store) CreateProfile(_ context.Context, profile progression.Profile) (progression.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.profiles[profile.UserID]; exists {
		return progression.Profile{}, fmt.Errorf("profile %s: %w", profile.UserID, progression.ErrExists)
	}

	now := time.Now().UTC()
	profile.CreatedAt = now
	profile.UpdatedAt = now

	s.profiles[profile.UserID] = profile
	return profile, nil
}

func (s *Store) GetProfile(_ context.Context, userID string) (progression.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[userID]
	if !ok {
		return progression.Profile{}, fmt.Errorf("profile %s: %w", userID, progression.ErrNotFound)
	}
	return profile, nil
}

func (s *Store) ApplyXp(_ context.Context, dep storage.XpDeposit) (storage.XpOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[dep.UserID]
	if !ok {
		return storage.XpOutcome{}, fmt.Errorf("profile %s: %w", dep.UserID, progression.ErrNotFound)
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
				reference := progression.RewardReference(dep.UserID, level, kind)
				if _, exists := s.ledgerByRef[reference]; exists {
					// Already credited by an earlier deposit; skip the
					// balance increment with it.
					continue
				}
				entry := progression.LedgerEntry{
					ID:           s.nextIDLocked(),
					Reference:    reference,
					UserID:       dep.UserID,
					Level:        level,
					CurrencyKind: kind,
					Amount:       bundle[kind],
					Status:       progression.StatusCompleted,
					Reason:       dep.Reason,
					Description:  fmt.Sprintf("level %d reward", level),
					CreatedAt:    now,
				}
				s.ledger[dep.UserID] = append(s.ledger[dep.UserID], entry)
				s.ledgerByID[entry.ID] = entry
				s.ledgerByRef[reference] = entry
				s.incrementBalanceLocked(dep.UserID, kind, bundle[kind], now)
				credited = append(credited, entry)
			}
		}
	}

	profile.UpdatedAt = now
	s.profiles[dep.UserID] = profile

	return storage.XpOutcome{
		Profile:       profile,
		PreviousLevel: previousLevel,
		Credited:      credited,
	}, nil
}

func (s *Store) ListTopProfiles(_ context.Context, limit int) ([]progression.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profiles := make([]progression.Profile, 0, len(s.profiles))
	for _, profile := range s.profiles {
		profiles = append(profiles, profile)
	}
	sort.Slice(profiles, func(i, j int) bool {
		if profiles[i].XP != profiles[j].XP {
			return profiles[i].XP > profiles[j].XP
		}
		return profiles[i].UserID < profiles[j].UserID
	})
	if limit > 0 && limit < len(profiles) {
		profiles = profiles[:limit]
	}
	return profiles, nil
}

func (s *Store) incrementBalanceLocked(userID, kind string, amount int64, now time.Time) {
	byKind, ok := s.balances[userID]
	if !ok {
		byKind = make(map[string]progression.Balance)
		s.balances[userID] = byKind
	}
	balance := byKind[kind]
	balance.UserID = userID
	balance.CurrencyKind = kind
	balance.Amount += amount
	balance.UpdatedAt = now
	byKind[kind] = balance
}

// LedgerStore implementation ---------------------------------------------------

func (s *Store) GetLedgerEntry(_ context.Context, id string) (progression.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.ledgerByID[id]
	if !ok {
		return progression.LedgerEntry{}, fmt.Errorf("ledger entry %s: %w", id, progression.ErrNotFound)
	}
	return entry, nil
}

func (s *Store) GetLedgerEntryByReference(_ context.Context, reference string) (progression.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.ledgerByRef[reference]
	if !ok {
		return progression.LedgerEntry{}, fmt.Errorf("ledger reference %s: %w", reference, progression.ErrNotFound)
	}
	return entry, nil
}

func (s *Store) ListLedgerEntries(_ context.Context, userID string, limit int) ([]progression.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.ledger[userID]
	out := make([]progression.LedgerEntry, 0, len(entries))
	// Newest first.
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// BalanceStore implementation --------------------------------------------------

func (s *Store) GetBalance(_ context.Context, userID, currencyKind string) (progression.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	balance, ok := s.balances[userID][currencyKind]
	if !ok {
		return progression.Balance{UserID: userID, CurrencyKind: currencyKind}, nil
	}
	return balance, nil
}

func (s *Store) ListBalances(_ context.Context, userID string) ([]progression.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byKind := s.balances[userID]
	out := make([]progression.Balance, 0, len(byKind))
	for _, balance := range byKind {
		out = append(out, balance)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CurrencyKind < out[j].CurrencyKind })
	return out, nil
}

func sortedKinds(bundle map[string]int64) []string {
	kinds := make([]string, 0, len(bundle))
	for kind := range bundle {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
