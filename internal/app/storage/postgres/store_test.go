package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/R3E-Network/progression_engine/internal/app/domain/levels"
	"github.com/R3E-Network/progression_engine/internal/app/domain/progression"
	"github.com/R3E-Network/progression_engine/internal/app/storage"
	_ "github.com/lib/pq"
)

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store := New(db)
	ctx := context.Background()

	// The database outlives the test; a fresh user keeps reruns deterministic.
	userID := fmt.Sprintf("it-user-%d", time.Now().UnixNano())
	profile, err := store.CreateProfile(ctx, progression.Profile{UserID: userID, XP: 0, Level: 1})
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}

	curve := levels.Curve{Thresholds: []levels.Threshold{
		{Level: 1, MinXP: 0},
		{Level: 2, MinXP: 100},
	}}
	table := levels.Table{Bundles: map[int]levels.RewardBundle{2: {"coins": 50}}}

	out, err := store.ApplyXp(ctx, storage.XpDeposit{
		UserID:  profile.UserID,
		Amount:  150,
		Reason:  "integration",
		Resolve: curve.LevelForXp,
		Rewards: table.RewardsFor,
	})
	if err != nil {
		t.Fatalf("apply xp: %v", err)
	}
	if out.Profile.XP != 150 || out.Profile.Level != 2 {
		t.Fatalf("profile = %+v, want xp=150 level=2", out.Profile)
	}
	if len(out.Credited) != 1 {
		t.Fatalf("credited = %+v, want one coins entry", out.Credited)
	}

	balance, err := store.GetBalance(ctx, profile.UserID, "coins")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance.Amount != 50 {
		t.Fatalf("coins balance = %d, want 50", balance.Amount)
	}

	entries, err := store.ListLedgerEntries(ctx, profile.UserID, 10)
	if err != nil {
		t.Fatalf("list ledger: %v", err)
	}
	if len(entries) != 1 || entries[0].Reference != progression.RewardReference(profile.UserID, 2, "coins") {
		t.Fatalf("ledger entries = %+v", entries)
	}
}
