package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/AbstractPlay/session-engine/models"
)

// mutateState правит сериализованное состояние тестового движка прямо в
// хранилище.
func mutateState(t *testing.T, env *testEnv, sessionID string, mutate func(*stubState)) {
	t.Helper()
	ctx := context.Background()
	sess, err := env.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	var st stubState
	if err := json.Unmarshal(sess.State, &st); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	mutate(&st)
	sess.State, err = json.Marshal(st)
	if err != nil {
		t.Fatalf("marshal state: %v", err)
	}
	if err := env.sessionRepo.Update(ctx, sess); err != nil {
		t.Fatalf("Update: %v", err)
	}
}

func TestSubmitMoveSequentialTurnOrder(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	sess := env.startDirectMatch(seqGame, true, models.SeatingFirst, "alice", "bob")

	if _, err := env.moves.SubmitMove(ctx, "bob", sess.ID, "m1"); !errors.Is(err, ErrNotYourTurn) {
		t.Errorf("out-of-turn move: got %v, want ErrNotYourTurn", err)
	}
	if _, err := env.moves.SubmitMove(ctx, "eve", sess.ID, "m1"); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("stranger move: got %v, want ErrNotParticipant", err)
	}
	if _, err := env.moves.SubmitMove(ctx, "alice", sess.ID, "a,b"); !errors.Is(err, ErrInvalidMove) {
		t.Errorf("payload with comma: got %v, want ErrInvalidMove", err)
	}
	if _, err := env.moves.SubmitMove(ctx, "alice", sess.ID, "bad"); !errors.Is(err, ErrInvalidMove) {
		t.Errorf("engine-rejected move: got %v, want ErrInvalidMove", err)
	}

	updated, err := env.moves.SubmitMove(ctx, "alice", sess.ID, "m1")
	if err != nil {
		t.Fatalf("SubmitMove: %v", err)
	}
	if updated.NumMoves != 1 {
		t.Errorf("NumMoves = %d, want 1", updated.NumMoves)
	}
	if updated.ToMove.Seat != 1 {
		t.Errorf("ToMove.Seat = %d, want 1", updated.ToMove.Seat)
	}
	if _, err := env.moves.SubmitMove(ctx, "alice", sess.ID, "m2"); !errors.Is(err, ErrNotYourTurn) {
		t.Errorf("double move: got %v, want ErrNotYourTurn", err)
	}
}

func TestSubmitMoveCompletionUpdatesRatingsAndIndexes(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	sess := env.startDirectMatch(seqGame, true, models.SeatingFirst, "alice", "bob")

	for _, move := range []struct{ user, payload string }{
		{"alice", "m1"}, {"bob", "m2"},
	} {
		if _, err := env.moves.SubmitMove(ctx, move.user, sess.ID, move.payload); err != nil {
			t.Fatalf("SubmitMove %s: %v", move.payload, err)
		}
	}
	final, err := env.moves.SubmitMove(ctx, "alice", sess.ID, "win")
	if err != nil {
		t.Fatalf("SubmitMove win: %v", err)
	}

	if !final.Completed() {
		t.Fatal("game must be completed")
	}
	if len(final.Winner) != 1 || final.Winner[0] != 1 {
		t.Errorf("winner = %v, want [1]", final.Winner)
	}
	if final.CompletedAt.IsZero() {
		t.Error("CompletedAt must be set")
	}

	if _, err := env.moves.SubmitMove(ctx, "bob", sess.ID, "m"); !errors.Is(err, ErrAlreadyOver) {
		t.Errorf("move after completion: got %v, want ErrAlreadyOver", err)
	}

	// Рейтинги пересчитаны: три хода > двух мест.
	r, err := env.ratings.Get(ctx, seqGame, "alice")
	if err != nil {
		t.Fatalf("ratings.Get: %v", err)
	}
	if r.N != 1 || r.Wins != 1 {
		t.Errorf("winner rating record = {N:%d Wins:%d}, want {1 1}", r.N, r.Wins)
	}

	// Партия переехала из текущих листингов в завершённые.
	current, err := env.gameListRepo.ListAll(ctx, models.ListCurrent)
	if err != nil {
		t.Fatalf("ListAll current: %v", err)
	}
	if len(current) != 0 {
		t.Errorf("current listing has %d entries, want 0", len(current))
	}
	completed, err := env.gameListRepo.ListByGamePlayer(ctx, models.ListCompleted, seqGame, "bob")
	if err != nil {
		t.Fatalf("ListByGamePlayer completed: %v", err)
	}
	if len(completed) != 1 || completed[0].ID != sess.ID {
		t.Errorf("completed listing = %v, want the finished game", completed)
	}
}

func TestResignShortGameNotRetained(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	sess := env.startDirectMatch(seqGame, true, models.SeatingFirst, "alice", "bob")

	final, err := env.moves.Resign(ctx, "bob", sess.ID)
	if err != nil {
		t.Fatalf("Resign: %v", err)
	}
	if len(final.Winner) != 1 || final.Winner[0] != 1 {
		t.Errorf("winner = %v, want [1]", final.Winner)
	}

	// Сдача до настоящего хода: рейтинг не трогается, в завершённых
	// листингах партия не задерживается.
	r, _ := env.ratings.Get(ctx, seqGame, "alice")
	if r.N != 0 {
		t.Errorf("rating games = %d, want 0 for a pre-move resignation", r.N)
	}
	completed, _ := env.gameListRepo.ListAll(ctx, models.ListCompleted)
	if len(completed) != 0 {
		t.Errorf("short game retained in completed listing: %d entries", len(completed))
	}
	current, _ := env.gameListRepo.ListAll(ctx, models.ListCurrent)
	if len(current) != 0 {
		t.Errorf("finished game still in current listing: %d entries", len(current))
	}
}

func TestClaimTimeout(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	sess := env.startDirectMatch(seqGame, true, models.SeatingFirst, "alice", "bob")

	if _, err := env.moves.ClaimTimeout(ctx, "bob", sess.ID); !errors.Is(err, ErrNoTimeout) {
		t.Errorf("fresh clocks: got %v, want ErrNoTimeout", err)
	}

	// Сдвигаем часы сервиса за горизонт стартового времени alice.
	env.moves.(*moveService).now = func() time.Time {
		return time.Now().Add(80 * time.Hour)
	}

	// Заявить просрочку может кто угодно, даже не участник.
	final, err := env.moves.ClaimTimeout(ctx, "eve", sess.ID)
	if err != nil {
		t.Fatalf("ClaimTimeout: %v", err)
	}
	if !final.Completed() {
		t.Fatal("timeout must complete the game")
	}
	if len(final.Winner) != 1 || final.Winner[0] != 2 {
		t.Errorf("winner = %v, want [2] (seat 0 timed out)", final.Winner)
	}
	if final.Players[0].TimeRemaining != 0 {
		t.Errorf("timed-out seat clock = %v, want 0", final.Players[0].TimeRemaining)
	}
}

func TestHardClockResolvesOnMoveSubmission(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	sess := env.startDirectMatch(seqGame, true, models.SeatingFirst, "alice", "bob")

	// Включаем жёсткие часы прямо в записи партии.
	stored, _ := env.sessionRepo.GetByID(ctx, sess.ID)
	stored.Clock.Hard = true
	if err := env.sessionRepo.Update(ctx, stored); err != nil {
		t.Fatalf("Update: %v", err)
	}

	env.moves.(*moveService).now = func() time.Time {
		return time.Now().Add(80 * time.Hour)
	}

	// Ход просрочившего не применяется: партия разрешается просрочкой.
	final, err := env.moves.SubmitMove(ctx, "alice", sess.ID, "m1")
	if err != nil {
		t.Fatalf("SubmitMove: %v", err)
	}
	if !final.Completed() {
		t.Fatal("hard clock must auto-resolve on submission")
	}
	if final.NumMoves != 0 {
		t.Errorf("NumMoves = %d, want 0 (move must not apply)", final.NumMoves)
	}
	if len(final.Winner) != 1 || final.Winner[0] != 2 {
		t.Errorf("winner = %v, want [2]", final.Winner)
	}
}

func TestDrawAgreement(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	sess := env.startDirectMatch(seqGame, true, models.SeatingFirst, "alice", "bob")

	if _, err := env.moves.OfferDraw(ctx, "alice", sess.ID); err != nil {
		t.Fatalf("OfferDraw: %v", err)
	}

	// Ход, не являющийся согласием, снимает висящее предложение.
	if _, err := env.moves.SubmitMove(ctx, "alice", sess.ID, "m1"); err != nil {
		t.Fatalf("SubmitMove: %v", err)
	}
	stored, _ := env.sessionRepo.GetByID(ctx, sess.ID)
	if stored.Players[0].Draw != models.DrawNone {
		t.Error("move must clear pending draw offers")
	}

	// После m1 ходит bob: предложить ничью alice может, принять — нет.
	if _, err := env.moves.OfferDraw(ctx, "alice", sess.ID); err != nil {
		t.Fatalf("OfferDraw alice: %v", err)
	}
	if _, err := env.moves.AcceptDraw(ctx, "alice", sess.ID); !errors.Is(err, ErrNotYourTurn) {
		t.Errorf("accept out of turn: got %v, want ErrNotYourTurn", err)
	}
	stored, _ = env.sessionRepo.GetByID(ctx, sess.ID)
	if stored.Completed() {
		t.Fatal("out-of-turn acceptance must not complete the game")
	}
	if stored.Players[0].Draw != models.DrawOffered {
		t.Error("rejected acceptance must leave the standing offer untouched")
	}

	final, err := env.moves.AcceptDraw(ctx, "bob", sess.ID)
	if err != nil {
		t.Fatalf("AcceptDraw: %v", err)
	}
	if !final.Completed() {
		t.Fatal("unanimous draw must complete the game")
	}
	if len(final.Winner) != 2 {
		t.Errorf("winner = %v, want both seats drawing", final.Winner)
	}
}

func TestInvokePie(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	sess := env.startDirectMatch(seqGame, true, models.SeatingFirst, "alice", "bob")

	// Pie доступен только ходящему.
	if _, err := env.moves.InvokePie(ctx, "bob", sess.ID); !errors.Is(err, ErrNotYourTurn) {
		t.Errorf("pie out of turn: got %v, want ErrNotYourTurn", err)
	}

	if _, err := env.moves.SubmitMove(ctx, "alice", sess.ID, "m1"); err != nil {
		t.Fatalf("SubmitMove: %v", err)
	}

	updated, err := env.moves.InvokePie(ctx, "bob", sess.ID)
	if err != nil {
		t.Fatalf("InvokePie: %v", err)
	}
	if !updated.PieInvoked {
		t.Error("PieInvoked must be set")
	}
	// Игроки поменялись местами, повороты остались привязанными к местам.
	if updated.Players[0].UserID != "bob" || updated.Players[1].UserID != "alice" {
		t.Errorf("seats after pie = %s, %s, want bob, alice",
			updated.Players[0].UserID, updated.Players[1].UserID)
	}
	if updated.Players[0].Rotation != 0 || updated.Players[1].Rotation != 180 {
		t.Errorf("rotations after pie = %d, %d, want 0, 180",
			updated.Players[0].Rotation, updated.Players[1].Rotation)
	}
	// Ход не передаётся: место 1 по-прежнему ходит, теперь это alice.
	if updated.ToMove.Seat != 1 {
		t.Errorf("ToMove.Seat = %d, want 1", updated.ToMove.Seat)
	}

	if _, err := env.moves.InvokePie(ctx, "alice", sess.ID); !errors.Is(err, ErrAlreadySubmitted) {
		t.Errorf("second pie: got %v, want ErrAlreadySubmitted", err)
	}
}

func TestInvokePieUnavailable(t *testing.T) {
	env := newTestEnv()
	sess := env.startDirectMatch(plainGame, false, models.SeatingFirst, "alice", "bob")
	if _, err := env.moves.InvokePie(context.Background(), "alice", sess.ID); !errors.Is(err, ErrPieUnavailable) {
		t.Errorf("got %v, want ErrPieUnavailable", err)
	}
}

func TestAutomoveAppliesForcedReplies(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	sess := env.startDirectMatch(autoGame, false, models.SeatingFirst, "alice", "bob")

	mutateState(t, env, sess.ID, func(st *stubState) {
		st.Forced = []string{"f1"}
	})

	updated, err := env.moves.SubmitMove(ctx, "alice", sess.ID, "m1")
	if err != nil {
		t.Fatalf("SubmitMove: %v", err)
	}
	// Ход alice плюс вынужденный ответ bob: очередь возвращается к alice.
	if updated.NumMoves != 2 {
		t.Errorf("NumMoves = %d, want 2", updated.NumMoves)
	}
	if updated.ToMove.Seat != 0 {
		t.Errorf("ToMove.Seat = %d, want 0", updated.ToMove.Seat)
	}
}

func TestSimultaneousTurnAssembly(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	sess := env.startDirectMatch(simGame, false, models.SeatingFirst, "alice", "bob", "carol")

	if _, err := env.moves.SubmitMove(ctx, "alice", sess.ID, "a"); err != nil {
		t.Fatalf("SubmitMove alice: %v", err)
	}
	if _, err := env.moves.SubmitMove(ctx, "alice", sess.ID, "a2"); !errors.Is(err, ErrAlreadySubmitted) {
		t.Errorf("resubmission: got %v, want ErrAlreadySubmitted", err)
	}
	if _, err := env.moves.SubmitMove(ctx, "bob", sess.ID, "bad"); !errors.Is(err, ErrInvalidMove) {
		t.Errorf("bad partial: got %v, want ErrInvalidMove", err)
	}

	// После отвергнутого хода bob всё ещё должен тур.
	stored, _ := env.sessionRepo.GetByID(ctx, sess.ID)
	if !stored.ToMove.Flags[1] {
		t.Error("rejected submission must keep the seat owing its move")
	}

	// Публичное представление показывает, кто сдал, но не что именно.
	view, err := env.sessions.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("sessions.Get: %v", err)
	}
	wantSubmitted := []bool{true, false, false}
	for i, want := range wantSubmitted {
		if view.Submitted[i] != want {
			t.Errorf("Submitted[%d] = %v, want %v", i, view.Submitted[i], want)
		}
	}

	if _, err := env.moves.SubmitMove(ctx, "bob", sess.ID, "b"); err != nil {
		t.Fatalf("SubmitMove bob: %v", err)
	}
	final, err := env.moves.SubmitMove(ctx, "carol", sess.ID, "c")
	if err != nil {
		t.Fatalf("SubmitMove carol: %v", err)
	}

	// Тур применён целиком: буфер чист, все снова должны ход.
	if final.NumMoves != 1 {
		t.Errorf("NumMoves = %d, want 1", final.NumMoves)
	}
	if final.PartialMove != "" {
		t.Errorf("PartialMove = %q, want empty", final.PartialMove)
	}
	for i, flag := range final.ToMove.Flags {
		if !flag {
			t.Errorf("ToMove.Flags[%d] = false, want true after full turn", i)
		}
	}
}

func TestSimultaneousEliminatedSeatAutoFilled(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	sess := env.startDirectMatch(simGame, false, models.SeatingFirst, "alice", "bob", "carol")

	mutateState(t, env, sess.ID, func(st *stubState) {
		st.Eliminated = []int{3} // место carol
	})

	if _, err := env.moves.SubmitMove(ctx, "alice", sess.ID, "a"); err != nil {
		t.Fatalf("SubmitMove alice: %v", err)
	}
	final, err := env.moves.SubmitMove(ctx, "bob", sess.ID, "b")
	if err != nil {
		t.Fatalf("SubmitMove bob: %v", err)
	}

	// Слот выбывшего места заполнился прочерком, тур применился без carol.
	if final.NumMoves != 1 {
		t.Errorf("NumMoves = %d, want 1 (turn must apply without the eliminated seat)", final.NumMoves)
	}

	var st stubState
	if err := json.Unmarshal(final.State, &st); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if len(st.Moves) != 1 || st.Moves[0] != "a,b,-" {
		t.Errorf("applied turn = %v, want [a,b,-]", st.Moves)
	}
}
