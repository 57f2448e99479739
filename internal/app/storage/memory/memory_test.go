package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/R3E-Network/progression_engine/internal/app/domain/levels"
	"github.com/R3E-Network/progression_engine/internal/app/domain/progression"
	"github.com/R3E-Network/progression_engine/internal/app/storage"
)

func testDeposit(userID string, amount int64) storage.XpDeposit {
	curve := levels.Curve{Thresholds: []levels.Threshold{
		{Level: 1, MinXP: 0},
		{Level: 2, MinXP: 100},
		{Level: 3, MinXP: 300},
	}}
	table := levels.Table{Bundles: map[int]levels.RewardBundle{
		2: {"coins": 50},
		3: {"coins": 100, "diamonds": 10},
	}}
	return storage.XpDeposit{
		UserID:  userID,
		Amount:  amount,
		Reason:  "test",
		Resolve: curve.LevelForXp,
		Rewards: table.RewardsFor,
	}
}

func mustCreate(t *testing.T, store *Store, userID string) {
	t.Helper()
	_, err := store.CreateProfile(context.Background(), progression.Profile{UserID: userID, XP: 0, Level: 1})
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}
}

func TestCreateProfileRejectsDuplicates(t *testing.T) {
	store := New()
	mustCreate(t, store, "u-1")

	_, err := store.CreateProfile(context.Background(), progression.Profile{UserID: "u-1", Level: 1})
	if err == nil {
		t.Fatalf("duplicate profile accepted")
	}
}

func TestApplyXpUnknownUser(t *testing.T) {
	store := New()
	_, err := store.ApplyXp(context.Background(), testDeposit("ghost", 10))
	if err == nil {
		t.Fatalf("deposit for unknown user accepted")
	}
}

func TestApplyXpCreditsCrossedLevels(t *testing.T) {
	store := New()
	mustCreate(t, store, "u-1")

	out, err := store.ApplyXp(context.Background(), testDeposit("u-1", 350))
	if err != nil {
		t.Fatalf("apply xp: %v", err)
	}
	if out.Profile.XP != 350 || out.Profile.Level != 3 {
		t.Fatalf("profile = %+v, want xp=350 level=3", out.Profile)
	}
	if out.PreviousLevel != 1 {
		t.Fatalf("previous level = %d, want 1", out.PreviousLevel)
	}
	// Level 2 has one kind, level 3 has two.
	if len(out.Credited) != 3 {
		t.Fatalf("credited %d entries, want 3: %+v", len(out.Credited), out.Credited)
	}

	coins, err := store.GetBalance(context.Background(), "u-1", "coins")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if coins.Amount != 150 {
		t.Fatalf("coins balance = %d, want 150", coins.Amount)
	}
	diamonds, _ := store.GetBalance(context.Background(), "u-1", "diamonds")
	if diamonds.Amount != 10 {
		t.Fatalf("diamonds balance = %d, want 10", diamonds.Amount)
	}
}

func TestApplyXpSkipsAlreadyCreditedReference(t *testing.T) {
	store := New()
	mustCreate(t, store, "u-1")

	if _, err := store.ApplyXp(context.Background(), testDeposit("u-1", 120)); err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	// Second deposit resumes from the stored level, so only level 3 is
	// credited and level 2's reference stays single.
	out, err := store.ApplyXp(context.Background(), testDeposit("u-1", 200))
	if err != nil {
		t.Fatalf("second deposit: %v", err)
	}
	for _, entry := range out.Credited {
		if entry.Level != 3 {
			t.Fatalf("re-credited level %d: %+v", entry.Level, entry)
		}
	}

	entries, err := store.ListLedgerEntries(context.Background(), "u-1", 0)
	if err != nil {
		t.Fatalf("list ledger: %v", err)
	}
	seen := map[string]int{}
	for _, entry := range entries {
		seen[entry.Reference]++
	}
	for reference, count := range seen {
		if count != 1 {
			t.Fatalf("reference %s credited %d times", reference, count)
		}
	}
}

func TestApplyXpConcurrentDepositsNoLostUpdates(t *testing.T) {
	store := New()
	mustCreate(t, store, "u-1")

	const workers = 16
	const perWorker = int64(25)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.ApplyXp(context.Background(), testDeposit("u-1", perWorker)); err != nil {
				t.Errorf("apply xp: %v", err)
			}
		}()
	}
	wg.Wait()

	profile, err := store.GetProfile(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if want := int64(workers) * perWorker; profile.XP != want {
		t.Fatalf("xp = %d, want %d (lost update)", profile.XP, want)
	}
	if profile.Level != 3 {
		t.Fatalf("level = %d, want 3", profile.Level)
	}

	// Exactly one ledger entry per (level, kind) pair regardless of racing.
	entries, _ := store.ListLedgerEntries(context.Background(), "u-1", 0)
	if len(entries) != 3 {
		t.Fatalf("ledger has %d entries, want 3: %+v", len(entries), entries)
	}
	coins, _ := store.GetBalance(context.Background(), "u-1", "coins")
	if coins.Amount != 150 {
		t.Fatalf("coins balance = %d, want 150", coins.Amount)
	}
}

func TestListLedgerEntriesNewestFirstWithLimit(t *testing.T) {
	store := New()
	mustCreate(t, store, "u-1")

	if _, err := store.ApplyXp(context.Background(), testDeposit("u-1", 350)); err != nil {
		t.Fatalf("apply xp: %v", err)
	}

	all, _ := store.ListLedgerEntries(context.Background(), "u-1", 0)
	if len(all) != 3 {
		t.Fatalf("want 3 entries, got %d", len(all))
	}
	limited, _ := store.ListLedgerEntries(context.Background(), "u-1", 2)
	if len(limited) != 2 {
		t.Fatalf("limit ignored: got %d entries", len(limited))
	}
	if limited[0].ID != all[0].ID {
		t.Fatalf("ordering differs between limited and full listings")
	}
}

func TestListTopProfilesOrdersByXP(t *testing.T) {
	store := New()
	for _, userID := range []string{"a", "b", "c"} {
		mustCreate(t, store, userID)
	}
	ctx := context.Background()
	store.ApplyXp(ctx, testDeposit("b", 500))
	store.ApplyXp(ctx, testDeposit("c", 120))

	top, err := store.ListTopProfiles(ctx, 2)
	if err != nil {
		t.Fatalf("list top: %v", err)
	}
	if len(top) != 2 || top[0].UserID != "b" || top[1].UserID != "c" {
		t.Fatalf("unexpected leaderboard: %+v", top)
	}
}
