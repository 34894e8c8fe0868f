package services

import (
	"context"
	"testing"
	"time"

	"github.com/AbstractPlay/session-engine/models"
)

func indexedSession(id string) *models.GameSession {
	now := time.Now()
	return &models.GameSession{
		ID:       id,
		GameType: seqGame,
		Players: []models.Seat{
			{UserID: "alice", Name: "Alice"},
			{UserID: "bob", Name: "Bob"},
		},
		ToMove:     models.TurnState{Seat: 0},
		StartedAt:  now,
		LastMoveAt: now,
	}
}

func TestSessionStartedFansOutAllKeys(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	sess := indexedSession("g1")

	if err := env.index.SessionStarted(ctx, sess); err != nil {
		t.Fatalf("SessionStarted: %v", err)
	}

	// Все четыре запросных среза видят партию.
	checks := []struct {
		name string
		list func() ([]*models.GameListEntry, error)
	}{
		{"all", func() ([]*models.GameListEntry, error) {
			return env.gameListRepo.ListAll(ctx, models.ListCurrent)
		}},
		{"by game", func() ([]*models.GameListEntry, error) {
			return env.gameListRepo.ListByGame(ctx, models.ListCurrent, seqGame)
		}},
		{"by player", func() ([]*models.GameListEntry, error) {
			return env.gameListRepo.ListByPlayer(ctx, models.ListCurrent, "bob")
		}},
		{"by game and player", func() ([]*models.GameListEntry, error) {
			return env.gameListRepo.ListByGamePlayer(ctx, models.ListCurrent, seqGame, "alice")
		}},
	}
	for _, check := range checks {
		entries, err := check.list()
		if err != nil {
			t.Fatalf("%s: %v", check.name, err)
		}
		if len(entries) != 1 || entries[0].ID != "g1" {
			t.Errorf("%s listing = %v, want exactly g1", check.name, entries)
		}
	}

	count, err := env.gameListRepo.Counter(ctx, models.ListCurrent, seqGame)
	if err != nil {
		t.Fatalf("Counter: %v", err)
	}
	if count != 1 {
		t.Errorf("current counter = %d, want 1", count)
	}

	// Личный список каждого участника пополнился.
	alice, _ := env.userRepo.GetByID(ctx, "alice")
	if len(alice.Games) != 1 || alice.Games[0].ID != "g1" {
		t.Errorf("alice personal list = %v, want g1", alice.Games)
	}
	if alice.GamesUpdate == 0 {
		t.Error("personal list rewrite must bump gamesUpdate")
	}
}

func TestSessionCompletedMovesBetweenPartitions(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	sess := indexedSession("g1")

	if err := env.index.SessionStarted(ctx, sess); err != nil {
		t.Fatalf("SessionStarted: %v", err)
	}

	sess.NumMoves = 10
	sess.Winner = []int{1}
	sess.ToMove.Clear()
	sess.CompletedAt = time.Now()
	if err := env.index.SessionCompleted(ctx, sess); err != nil {
		t.Fatalf("SessionCompleted: %v", err)
	}

	current, _ := env.gameListRepo.ListAll(ctx, models.ListCurrent)
	if len(current) != 0 {
		t.Errorf("current listing has %d entries, want 0", len(current))
	}
	completed, _ := env.gameListRepo.ListAll(ctx, models.ListCompleted)
	if len(completed) != 1 {
		t.Fatalf("completed listing has %d entries, want 1", len(completed))
	}
	if len(completed[0].Winner) != 1 || completed[0].Winner[0] != 1 {
		t.Errorf("completed projection winner = %v, want [1]", completed[0].Winner)
	}

	currentCount, _ := env.gameListRepo.Counter(ctx, models.ListCurrent, seqGame)
	completedCount, _ := env.gameListRepo.Counter(ctx, models.ListCompleted, seqGame)
	if currentCount != 0 || completedCount != 1 {
		t.Errorf("counters = %d current, %d completed, want 0, 1", currentCount, completedCount)
	}

	// Личные списки держат завершённую партию до зачистки.
	bob, _ := env.userRepo.GetByID(ctx, "bob")
	if len(bob.Games) != 1 {
		t.Errorf("bob personal list = %v, want the completed game", bob.Games)
	}
}

func TestSessionCompletedShortGameDropsEverywhere(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	sess := indexedSession("g1")

	if err := env.index.SessionStarted(ctx, sess); err != nil {
		t.Fatalf("SessionStarted: %v", err)
	}

	sess.NumMoves = 1 // сдача до настоящего хода
	sess.Winner = []int{2}
	sess.ToMove.Clear()
	sess.CompletedAt = time.Now()
	if err := env.index.SessionCompleted(ctx, sess); err != nil {
		t.Fatalf("SessionCompleted: %v", err)
	}

	completed, _ := env.gameListRepo.ListAll(ctx, models.ListCompleted)
	if len(completed) != 0 {
		t.Errorf("short game retained: %d entries", len(completed))
	}
	alice, _ := env.userRepo.GetByID(ctx, "alice")
	if len(alice.Games) != 0 {
		t.Errorf("short game kept in personal list: %v", alice.Games)
	}
	completedCount, _ := env.gameListRepo.Counter(ctx, models.ListCompleted, seqGame)
	if completedCount != 0 {
		t.Errorf("completed counter = %d, want 0", completedCount)
	}
}

func TestTrimPersonalLists(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	fresh := indexedSession("fresh")
	stale := indexedSession("stale")

	for _, sess := range []*models.GameSession{fresh, stale} {
		if err := env.index.SessionStarted(ctx, sess); err != nil {
			t.Fatalf("SessionStarted: %v", err)
		}
		sess.NumMoves = 10
		sess.ToMove.Clear()
	}

	fresh.CompletedAt = time.Now()
	stale.CompletedAt = time.Now().Add(-100 * time.Hour)
	for _, sess := range []*models.GameSession{fresh, stale} {
		if err := env.index.SessionCompleted(ctx, sess); err != nil {
			t.Fatalf("SessionCompleted: %v", err)
		}
	}

	if err := env.index.TrimPersonalLists(ctx, 48*time.Hour); err != nil {
		t.Fatalf("TrimPersonalLists: %v", err)
	}

	alice, _ := env.userRepo.GetByID(ctx, "alice")
	if len(alice.Games) != 1 || alice.Games[0].ID != "fresh" {
		t.Errorf("after trim alice has %v, want only fresh", alice.Games)
	}

	// Общие завершённые листинги зачистка не трогает.
	completed, _ := env.gameListRepo.ListAll(ctx, models.ListCompleted)
	if len(completed) != 2 {
		t.Errorf("shared completed listing = %d entries, want 2", len(completed))
	}
}
