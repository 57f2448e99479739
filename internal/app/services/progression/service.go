package progression

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/R3E-Network/progression_engine/internal/app/domain/levels"
	"github.com/R3E-Network/progression_engine/internal/app/domain/progression"
	"github.com/R3E-Network/progression_engine/internal/app/metrics"
	levelsvc "github.com/R3E-Network/progression_engine/internal/app/services/levels"
	"github.com/R3E-Network/progression_engine/internal/app/storage"
	"github.com/R3E-Network/progression_engine/internal/engine/events"
	"github.com/R3E-Network/progression_engine/pkg/logger"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Service coordinates XP deposits, progress reads and reward queries. All
// mutation goes through the store's transactional primitive; notification
// and journaling happen strictly after commit.
type Service struct {
	store    storage.ProgressionStore
	ledger   storage.LedgerStore
	balances storage.BalanceStore
	levels   *levelsvc.Service
	notifier Notifier
	journal  events.Journal
	log      *logger.Logger

	notifyTimeout time.Duration
}

// New constructs a progression service.
func New(store storage.ProgressionStore, ledger storage.LedgerStore, balances storage.BalanceStore, levelSvc *levelsvc.Service, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("progression")
	}
	return &Service{
		store:         store,
		ledger:        ledger,
		balances:      balances,
		levels:        levelSvc,
		journal:       events.NoOpJournal{},
		log:           log,
		notifyTimeout: 5 * time.Second,
	}
}

// AttachNotifier sets the level-up notification channel.
func (s *Service) AttachNotifier(notifier Notifier) {
	s.notifier = notifier
}

// AttachJournal sets the event journal.
func (s *Service) AttachJournal(journal events.Journal) {
	if journal != nil {
		s.journal = journal
	}
}

// CreateProfile provisions a progression profile at level 1 with zero XP.
func (s *Service) CreateProfile(ctx context.Context, userID string) (progression.Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return progression.Profile{}, &progression.ValidationError{Field: "userId", Reason: "must not be empty"}
	}

	profile, err := s.store.CreateProfile(ctx, progression.Profile{UserID: userID, XP: 0, Level: 1})
	if err != nil {
		return progression.Profile{}, err
	}

	s.journal.LogWithContext(ctx, events.Event{Type: events.EventProfileCreated, UserID: userID})
	s.log.WithField("user_id", userID).Info("progression profile created")
	return profile, nil
}

// GetProfile returns the stored profile row.
func (s *Service) GetProfile(ctx context.Context, userID string) (progression.Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return progression.Profile{}, &progression.ValidationError{Field: "userId", Reason: "must not be empty"}
	}
	return s.store.GetProfile(ctx, userID)
}

// ApplyXp credits XP to a user and, when thresholds are crossed, credits the
// reward bundle of every crossed level exactly once. The store runs the whole
// deposit as one transaction; a failed deposit changes nothing.
func (s *Service) ApplyXp(ctx context.Context, userID string, amount int64, reason string) (progression.ApplyResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return progression.ApplyResult{}, &progression.ValidationError{Field: "userId", Reason: "must not be empty"}
	}
	if amount <= 0 {
		return progression.ApplyResult{}, &progression.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "xp_deposit"
	}

	// One snapshot for the whole deposit: resolution and reward lookups
	// must not see different settings generations mid-transaction.
	snap := s.levels.Current()

	start := time.Now()
	out, err := s.store.ApplyXp(ctx, storage.XpDeposit{
		UserID:  userID,
		Amount:  amount,
		Reason:  reason,
		Resolve: snap.Curve.LevelForXp,
		Rewards: snap.Rewards.RewardsFor,
	})
	elapsed := time.Since(start)
	if err != nil {
		status := "error"
		if errors.Is(err, progression.ErrNotFound) {
			status = "not_found"
		}
		metrics.RecordXpDeposit(status, 0, elapsed)
		return progression.ApplyResult{}, err
	}
	metrics.RecordXpDeposit("applied", amount, elapsed)

	result := progression.ApplyResult{
		UserID:        out.Profile.UserID,
		XP:            out.Profile.XP,
		Level:         out.Profile.Level,
		PreviousLevel: out.PreviousLevel,
		LeveledUp:     out.Profile.Level > out.PreviousLevel,
		NewLevel:      out.Profile.Level,
		Credited:      out.Credited,
	}

	s.journal.LogWithContext(ctx, events.Event{
		Type:     events.EventXpDeposited,
		UserID:   userID,
		Amount:   amount,
		Duration: elapsed,
		Metadata: map[string]string{"reason": reason},
	})

	if result.LeveledUp {
		s.afterLevelUp(ctx, result, amount, reason)
	}
	return result, nil
}

// afterLevelUp runs the post-commit side effects of a level-up: metrics,
// journal entries and the notification emit. Nothing here can fail the
// already-committed deposit.
func (s *Service) afterLevelUp(ctx context.Context, result progression.ApplyResult, amount int64, reason string) {
	for level := result.PreviousLevel + 1; level <= result.Level; level++ {
		metrics.RecordLevelUp(level)
	}

	rewards := make(levels.RewardBundle, len(result.Credited))
	for _, entry := range result.Credited {
		rewards[entry.CurrencyKind] += entry.Amount
		metrics.RecordRewardCredit(entry.CurrencyKind, entry.Amount)
		s.journal.LogWithContext(ctx, events.Event{
			Type:         events.EventRewardCredited,
			UserID:       entry.UserID,
			Level:        entry.Level,
			CurrencyKind: entry.CurrencyKind,
			Amount:       entry.Amount,
		})
	}

	s.journal.LogWithContext(ctx, events.Event{
		Type:    events.EventLevelUp,
		UserID:  result.UserID,
		Level:   result.Level,
		Message: fmt.Sprintf("level %d to %d", result.PreviousLevel, result.Level),
	})
	s.log.WithField("user_id", result.UserID).
		WithField("from_level", result.PreviousLevel).
		WithField("to_level", result.Level).
		WithField("credited", len(result.Credited)).
		Info("level up")

	if s.notifier == nil {
		return
	}

	event := progression.LevelUpEvent{
		UserID:        result.UserID,
		Level:         result.Level,
		PreviousLevel: result.PreviousLevel,
		XP:            result.XP,
		Amount:        amount,
		Reason:        reason,
		Rewards:       rewards,
		OccurredAt:    time.Now().UTC(),
	}

	// The deposit is committed; the emit must not inherit the request's
	// cancellation.
	notifyCtx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
	defer cancel()

	err := s.notifier.Emit(notifyCtx, event)
	metrics.RecordNotification(s.notifier.Name(), err)
	if err != nil {
		s.journal.Log(events.Event{
			Type:     events.EventNotifyFailed,
			Severity: events.SeverityWarning,
			UserID:   result.UserID,
			Level:    result.Level,
			Error:    err.Error(),
		})
		s.log.WithError(err).
			WithField("user_id", result.UserID).
			WithField("sink", s.notifier.Name()).
			Warn("level-up notification failed")
	}
}

// GetProgress reports where a user sits on the active curve. It reads the
// latest committed row on every call.
func (s *Service) GetProgress(ctx context.Context, userID string) (progression.Progress, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return progression.Progress{}, &progression.ValidationError{Field: "userId", Reason: "must not be empty"}
	}

	profile, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return progression.Progress{}, err
	}

	res := s.levels.LevelForXp(profile.XP)
	into := profile.XP - res.CurrentLevelXP
	required := res.NextLevelXP - res.CurrentLevelXP

	percent := 100
	if required > 0 {
		percent = int(math.Round(100 * float64(into) / float64(required)))
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
	}

	// The stored level never regresses. A curve that shrank since the last
	// deposit reads as max level until its thresholds pass the user's XP.
	level := res.Level
	if profile.Level > level {
		level = profile.Level
	}

	return progression.Progress{
		UserID:             profile.UserID,
		XP:                 profile.XP,
		Level:              level,
		CurrentLevelXP:     res.CurrentLevelXP,
		NextLevelXP:        res.NextLevelXP,
		XPIntoLevel:        into,
		XPRequiredForLevel: required,
		Percent:            percent,
		IsMaxLevel:         res.NextLevelXP == res.CurrentLevelXP,
	}, nil
}

// ListLedger returns a user's reward ledger entries, newest first.
func (s *Service) ListLedger(ctx context.Context, userID string, limit int) ([]progression.LedgerEntry, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, &progression.ValidationError{Field: "userId", Reason: "must not be empty"}
	}
	return s.ledger.ListLedgerEntries(ctx, userID, clampLimit(limit))
}

// Balances returns a user's reward balances across all currency kinds.
func (s *Service) Balances(ctx context.Context, userID string) ([]progression.Balance, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, &progression.ValidationError{Field: "userId", Reason: "must not be empty"}
	}
	return s.balances.ListBalances(ctx, userID)
}

// Balance returns a user's balance for one currency kind; a kind that was
// never credited reads as zero.
func (s *Service) Balance(ctx context.Context, userID, currencyKind string) (progression.Balance, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return progression.Balance{}, &progression.ValidationError{Field: "userId", Reason: "must not be empty"}
	}
	currencyKind = strings.TrimSpace(currencyKind)
	if currencyKind == "" {
		return progression.Balance{}, &progression.ValidationError{Field: "kind", Reason: "must not be empty"}
	}
	return s.balances.GetBalance(ctx, userID, currencyKind)
}

// Leaderboard returns the top profiles ordered by XP.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]progression.Profile, error) {
	return s.store.ListTopProfiles(ctx, clampLimit(limit))
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
