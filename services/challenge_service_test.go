package services

import (
	"context"
	"errors"
	"testing"

	"github.com/AbstractPlay/session-engine/models"
	"github.com/AbstractPlay/session-engine/repositories"
)

func proposeInput(gameType string, required int, invited []string) ProposeInput {
	return ProposeInput{
		GameType:        gameType,
		RequiredPlayers: required,
		Seating:         models.SeatingFirst,
		Clock:           models.ClockSettings{StartHours: 72, IncrementHours: 24, MaxHours: 120},
		Rated:           true,
		Invited:         invited,
	}
}

func TestProposeValidation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.seedUser("alice", "Alice")

	_, err := env.challenges.Propose(ctx, "alice", proposeInput("nosuchgame", 2, []string{"bob"}))
	if !errors.Is(err, ErrUnknownGameType) {
		t.Errorf("unknown game: got %v, want ErrUnknownGameType", err)
	}

	_, err = env.challenges.Propose(ctx, "alice", proposeInput(seqGame, 9, []string{"bob"}))
	if !errors.Is(err, ErrInvalidChallenge) {
		t.Errorf("player count out of range: got %v, want ErrInvalidChallenge", err)
	}

	_, err = env.challenges.Propose(ctx, "alice", proposeInput(seqGame, 3, []string{"bob"}))
	if !errors.Is(err, ErrInvalidChallenge) {
		t.Errorf("too few invitees: got %v, want ErrInvalidChallenge", err)
	}

	_, err = env.challenges.Propose(ctx, "alice", proposeInput(seqGame, 2, []string{"alice"}))
	if !errors.Is(err, ErrInvalidChallenge) {
		t.Errorf("self-invite: got %v, want ErrInvalidChallenge", err)
	}
}

func TestDirectChallengeLifecycle(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.seedUser("alice", "Alice")
	env.seedUser("bob", "Bob")

	challenge, err := env.challenges.Propose(ctx, "alice", proposeInput(seqGame, 2, []string{"bob"}))
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}

	// Ссылки у обеих сторон.
	alice, _ := env.userRepo.GetByID(ctx, "alice")
	if alice.ChallengeRefIndex(challenge.ID) < 0 {
		t.Error("challenger is missing the issued reference")
	}
	bob, _ := env.userRepo.GetByID(ctx, "bob")
	if idx := bob.ChallengeRefIndex(challenge.ID); idx < 0 || bob.Challenges[idx].Status != models.ChallengeReceived {
		t.Error("invitee is missing the received reference")
	}

	// Посторонний не может принять прямой вызов.
	env.seedUser("eve", "Eve")
	if _, err := env.challenges.Accept(ctx, "eve", challenge.ID); !errors.Is(err, ErrNotEligible) {
		t.Errorf("stranger accept: got %v, want ErrNotEligible", err)
	}

	result, err := env.challenges.Accept(ctx, "bob", challenge.ID)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if result.Session == nil {
		t.Fatal("completing accept must start a match")
	}
	if len(result.Session.Players) != 2 {
		t.Fatalf("session has %d players, want 2", len(result.Session.Players))
	}
	// seat-first: вызывающий на первом месте.
	if result.Session.Players[0].UserID != "alice" {
		t.Errorf("seat 0 = %s, want alice", result.Session.Players[0].UserID)
	}

	// Потреблённый вызов исчез вместе со ссылками.
	if _, err := env.challengeRepo.GetByID(ctx, challenge.ID); !errors.Is(err, repositories.ErrChallengeNotFound) {
		t.Errorf("consumed challenge still exists: %v", err)
	}
	alice, _ = env.userRepo.GetByID(ctx, "alice")
	if alice.ChallengeRefIndex(challenge.ID) >= 0 {
		t.Error("challenger reference survived consumption")
	}
	bob, _ = env.userRepo.GetByID(ctx, "bob")
	if bob.ChallengeRefIndex(challenge.ID) >= 0 {
		t.Error("invitee reference survived consumption")
	}
}

func TestAcceptVanishedChallengeIsBenign(t *testing.T) {
	env := newTestEnv()
	env.seedUser("bob", "Bob")
	_, err := env.challenges.Accept(context.Background(), "bob", "no-such-challenge")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound (benign race)", err)
	}
}

func TestRevokePermissions(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.seedUser("alice", "Alice")
	env.seedUser("bob", "Bob")

	challenge, err := env.challenges.Propose(ctx, "alice", proposeInput(seqGame, 2, []string{"bob"}))
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}

	if err := env.challenges.Revoke(ctx, "bob", challenge.ID); !errors.Is(err, ErrNotOwner) {
		t.Errorf("non-owner revoke: got %v, want ErrNotOwner", err)
	}

	if err := env.challenges.Revoke(ctx, "alice", challenge.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := env.challengeRepo.GetByID(ctx, challenge.ID); !errors.Is(err, repositories.ErrChallengeNotFound) {
		t.Error("revoked challenge still exists")
	}
	bob, _ := env.userRepo.GetByID(ctx, "bob")
	if bob.ChallengeRefIndex(challenge.ID) >= 0 {
		t.Error("invitee reference survived revocation")
	}
}

func TestDeclineRemovesChallenge(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.seedUser("alice", "Alice")
	env.seedUser("bob", "Bob")
	env.seedUser("eve", "Eve")

	challenge, err := env.challenges.Propose(ctx, "alice", proposeInput(seqGame, 2, []string{"bob"}))
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}

	if err := env.challenges.Decline(ctx, "eve", challenge.ID); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("stranger decline: got %v, want ErrNotParticipant", err)
	}
	if err := env.challenges.Decline(ctx, "alice", challenge.ID); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("challenger decline: got %v, want ErrNotParticipant", err)
	}

	if err := env.challenges.Decline(ctx, "bob", challenge.ID); err != nil {
		t.Fatalf("Decline: %v", err)
	}
	if _, err := env.challengeRepo.GetByID(ctx, challenge.ID); !errors.Is(err, repositories.ErrChallengeNotFound) {
		t.Error("declined challenge still exists")
	}
}

func TestStandingTwoPlayerRearmsUntilDurationExpires(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.seedUser("alice", "Alice")
	env.seedUser("bob", "Bob")
	env.seedUser("carol", "Carol")

	input := proposeInput(seqGame, 2, nil)
	input.Standing = true
	input.Duration = 2

	challenge, err := env.challenges.Propose(ctx, "alice", input)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}

	// Первая партия: вызов потребляется и перевзводится с остатком срока 1.
	result, err := env.challenges.Accept(ctx, "bob", challenge.ID)
	if err != nil {
		t.Fatalf("Accept #1: %v", err)
	}
	if result.Session == nil {
		t.Fatal("standing 2-player accept must start a match")
	}

	standing, err := env.challenges.ListStanding(ctx, seqGame)
	if err != nil {
		t.Fatalf("ListStanding: %v", err)
	}
	if len(standing) != 1 {
		t.Fatalf("standing list has %d entries, want 1 rearmed", len(standing))
	}
	if standing[0].Duration != 1 {
		t.Errorf("rearmed duration = %d, want 1", standing[0].Duration)
	}

	// Вторая (последняя) партия: вызов истекает.
	result, err = env.challenges.Accept(ctx, "carol", standing[0].ID)
	if err != nil {
		t.Fatalf("Accept #2: %v", err)
	}
	if result.Session == nil {
		t.Fatal("second accept must start a match")
	}

	standing, err = env.challenges.ListStanding(ctx, seqGame)
	if err != nil {
		t.Fatalf("ListStanding: %v", err)
	}
	if len(standing) != 0 {
		t.Errorf("expired standing challenge still listed: %d entries", len(standing))
	}
}

func TestStandingMultiplayerDuplication(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	for _, u := range []string{"alice", "bob", "carol", "dave"} {
		env.seedUser(u, u)
	}

	input := proposeInput(seqGame, 3, nil)
	input.Standing = true

	original, err := env.challenges.Propose(ctx, "alice", input)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}

	// Первое принятие порождает дубликат, оригинал не занимает мест.
	result, err := env.challenges.Accept(ctx, "bob", original.ID)
	if err != nil {
		t.Fatalf("Accept bob: %v", err)
	}
	if result.Session != nil {
		t.Fatal("first accept of 3-player standing challenge must not start a match")
	}
	duplicate := result.Challenge
	if duplicate.ID == original.ID {
		t.Fatal("accept must spawn a duplicate, not mutate the original")
	}
	if duplicate.ParentID != original.ID {
		t.Errorf("duplicate parent = %q, want %q", duplicate.ParentID, original.ID)
	}
	if len(duplicate.Accepted) != 2 {
		t.Errorf("duplicate has %d accepted, want 2", len(duplicate.Accepted))
	}

	reread, err := env.challengeRepo.GetByID(ctx, original.ID)
	if err != nil {
		t.Fatalf("GetByID original: %v", err)
	}
	if reread.Spawned != 1 {
		t.Errorf("original spawned = %d, want 1", reread.Spawned)
	}
	if len(reread.Accepted) != 1 {
		t.Errorf("original accepted = %d, want just the challenger", len(reread.Accepted))
	}

	// Второе принятие оригинала порождает второй дубликат.
	result2, err := env.challenges.Accept(ctx, "carol", original.ID)
	if err != nil {
		t.Fatalf("Accept carol on original: %v", err)
	}
	if result2.Challenge == nil || result2.Challenge.ID == duplicate.ID {
		t.Fatal("second accept of the original must spawn a fresh duplicate")
	}
	reread, _ = env.challengeRepo.GetByID(ctx, original.ID)
	if reread.Spawned != 2 {
		t.Errorf("original spawned = %d, want 2", reread.Spawned)
	}

	// Доукомплектование первого дубликата стартует партию.
	result3, err := env.challenges.Accept(ctx, "dave", duplicate.ID)
	if err != nil {
		t.Fatalf("Accept dave on duplicate: %v", err)
	}
	if result3.Session == nil {
		t.Fatal("completing the duplicate must start a match")
	}
	if len(result3.Session.Players) != 3 {
		t.Errorf("session has %d players, want 3", len(result3.Session.Players))
	}

	// Потреблённый дубликат исчез, оригинал жив (срок бессрочный).
	if _, err := env.challengeRepo.GetByID(ctx, duplicate.ID); !errors.Is(err, repositories.ErrChallengeNotFound) {
		t.Error("consumed duplicate still exists")
	}
	if _, err := env.challengeRepo.GetByID(ctx, original.ID); err != nil {
		t.Errorf("original must survive consumption of a duplicate: %v", err)
	}
}

func TestStandingDurationSettledThroughDuplicates(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	for _, u := range []string{"alice", "bob", "carol"} {
		env.seedUser(u, u)
	}

	input := proposeInput(seqGame, 3, nil)
	input.Standing = true
	input.Duration = 1

	original, err := env.challenges.Propose(ctx, "alice", input)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}

	result, err := env.challenges.Accept(ctx, "bob", original.ID)
	if err != nil {
		t.Fatalf("Accept bob: %v", err)
	}
	if _, err := env.challenges.Accept(ctx, "carol", result.Challenge.ID); err != nil {
		t.Fatalf("Accept carol: %v", err)
	}

	// Последняя партия срока: оригинал истёк.
	if _, err := env.challengeRepo.GetByID(ctx, original.ID); !errors.Is(err, repositories.ErrChallengeNotFound) {
		t.Error("original must expire after its last game started")
	}
}
