package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/AbstractPlay/session-engine/broadcast"
	"github.com/AbstractPlay/session-engine/models"
	"github.com/AbstractPlay/session-engine/repositories"
	"github.com/AbstractPlay/session-engine/rules"
	"github.com/AbstractPlay/session-engine/store"
)

// Тестовый движок правил: ровно столько поведения, сколько нужно ядру.
// Состояние сериализуется в JSON, чтобы проходить через Load как у настоящих
// движков.
//
// Словарь ходов последовательной игры:
//   "win"  — ходящий побеждает (1-based место берётся из state.NextSeat)
//   "bad"  — движок отвергает ход
//   прочее — обычный ход
//
// В одновременной игре полный тур — склейка слотов через запятую; слот "bad"
// отвергается, слот "boom" завершает партию победой первого места.
type stubState struct {
	Players    int      `json:"players"`
	Moves      []string `json:"moves"`
	NextSeat   int      `json:"next_seat"` // 1-based, только последовательные
	Over       bool     `json:"over"`
	Winners    []int    `json:"winners"`
	Eliminated []int    `json:"eliminated"`
	// Forced — очередь вынужденных ходов для automove: пока она не пуста,
	// LegalMoves возвращает ровно один ход.
	Forced []string `json:"forced,omitempty"`
}

type stubGame struct {
	st           stubState
	simultaneous bool
}

func newStubGame(players int, simultaneous bool) *stubGame {
	return &stubGame{
		st:           stubState{Players: players, NextSeat: 1},
		simultaneous: simultaneous,
	}
}

func loadStubGame(state []byte, simultaneous bool) (rules.Game, error) {
	g := &stubGame{simultaneous: simultaneous}
	if err := json.Unmarshal(state, &g.st); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *stubGame) Move(payload string) error {
	if g.st.Over {
		return errors.New("game is over")
	}
	if g.simultaneous {
		slots := strings.Split(payload, ",")
		if len(slots) != g.st.Players {
			return fmt.Errorf("expected %d slots, got %d", g.st.Players, len(slots))
		}
		for _, slot := range slots {
			if slot == "" || slot == "bad" {
				return errors.New("bad slot")
			}
		}
		g.st.Moves = append(g.st.Moves, payload)
		for _, slot := range slots {
			if slot == "boom" {
				g.st.Over = true
				g.st.Winners = []int{1}
			}
		}
		return nil
	}

	if payload == "bad" {
		return errors.New("bad move")
	}
	if len(g.st.Forced) > 0 && payload == g.st.Forced[0] {
		g.st.Forced = g.st.Forced[1:]
	}
	g.st.Moves = append(g.st.Moves, payload)
	if payload == "win" {
		g.st.Over = true
		g.st.Winners = []int{g.st.NextSeat}
	}
	g.st.NextSeat = g.st.NextSeat%g.st.Players + 1
	return nil
}

func (g *stubGame) ValidateMove(payload string) error {
	if g.simultaneous {
		for _, slot := range strings.Split(payload, ",") {
			if slot == "bad" {
				return errors.New("bad slot")
			}
		}
		return nil
	}
	if payload == "bad" {
		return errors.New("bad move")
	}
	return nil
}

func (g *stubGame) Resign(seat int) error {
	g.st.Over = true
	g.st.Winners = nil
	for i := 1; i <= g.st.Players; i++ {
		if i != seat {
			g.st.Winners = append(g.st.Winners, i)
		}
	}
	return nil
}

func (g *stubGame) Timeout(seat int) error {
	return g.Resign(seat)
}

func (g *stubGame) Draw() error {
	g.st.Over = true
	g.st.Winners = nil
	for i := 1; i <= g.st.Players; i++ {
		g.st.Winners = append(g.st.Winners, i)
	}
	return nil
}

func (g *stubGame) GameOver() (bool, []int) {
	return g.st.Over, g.st.Winners
}

func (g *stubGame) Eliminated(seat int) bool {
	for _, e := range g.st.Eliminated {
		if e == seat {
			return true
		}
	}
	return false
}

func (g *stubGame) LegalMoves() []string {
	if len(g.st.Forced) > 0 {
		return []string{g.st.Forced[0]}
	}
	return []string{"x", "y"}
}

func (g *stubGame) Serialize() ([]byte, error) {
	return json.Marshal(g.st)
}

// Зарегистрированные в тестовом реестре типы игр.
const (
	seqGame   = "seqgame"   // последовательная, 2-4 места, pie, perspective
	simGame   = "simgame"   // одновременная, 2-4 места
	autoGame  = "autogame"  // последовательная с automove
	plainGame = "plaingame" // последовательная без capability-флагов
)

func newTestRegistry() *rules.Registry {
	registry := rules.NewRegistry()

	registry.Register(
		rules.Info{Type: seqGame, MinPlayers: 2, MaxPlayers: 4,
			Flags: []rules.Flag{rules.FlagPie, rules.FlagPerspective}},
		func(playerCount int, _ []string) (rules.Game, error) {
			return newStubGame(playerCount, false), nil
		},
		func(state []byte) (rules.Game, error) { return loadStubGame(state, false) },
	)
	registry.Register(
		rules.Info{Type: simGame, MinPlayers: 2, MaxPlayers: 4,
			Flags: []rules.Flag{rules.FlagSimultaneous}},
		func(playerCount int, _ []string) (rules.Game, error) {
			return newStubGame(playerCount, true), nil
		},
		func(state []byte) (rules.Game, error) { return loadStubGame(state, true) },
	)
	registry.Register(
		rules.Info{Type: autoGame, MinPlayers: 2, MaxPlayers: 2,
			Flags: []rules.Flag{rules.FlagAutomove}},
		func(playerCount int, _ []string) (rules.Game, error) {
			return newStubGame(playerCount, false), nil
		},
		func(state []byte) (rules.Game, error) { return loadStubGame(state, false) },
	)
	registry.Register(
		rules.Info{Type: plainGame, MinPlayers: 2, MaxPlayers: 2},
		func(playerCount int, _ []string) (rules.Game, error) {
			return newStubGame(playerCount, false), nil
		},
		func(state []byte) (rules.Game, error) { return loadStubGame(state, false) },
	)
	return registry
}

// testEnv собирает полный сервисный стек поверх хранилища в памяти.
type testEnv struct {
	store         store.Store
	userRepo      repositories.UserRepository
	challengeRepo repositories.ChallengeRepository
	sessionRepo   repositories.SessionRepository
	ratingRepo    repositories.RatingRepository
	gameListRepo  repositories.GameListRepository

	registry *rules.Registry
	hub      *broadcast.Hub

	ratings    RatingService
	index      IndexService
	starter    MatchStarter
	challenges ChallengeService
	moves      MoveService
	sessions   SessionService
}

func newTestEnv() *testEnv {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemory()

	env := &testEnv{
		store:         st,
		userRepo:      repositories.NewStoreUserRepository(st),
		challengeRepo: repositories.NewStoreChallengeRepository(st),
		sessionRepo:   repositories.NewStoreSessionRepository(st),
		ratingRepo:    repositories.NewStoreRatingRepository(st),
		gameListRepo:  repositories.NewStoreGameListRepository(st),
		registry:      newTestRegistry(),
		hub:           broadcast.NewHub(logger),
	}

	notifier := NewLogNotifier(logger)
	env.ratings = NewRatingService(env.ratingRepo, logger)
	env.index = NewIndexService(env.gameListRepo, env.userRepo, logger)
	env.starter = NewMatchStarter(env.registry, env.sessionRepo, env.userRepo, env.index, notifier, env.hub, logger)
	env.challenges = NewChallengeService(env.challengeRepo, env.userRepo, env.registry, env.starter, notifier, logger)
	env.moves = NewMoveService(env.sessionRepo, env.userRepo, env.registry, env.ratings, env.index, notifier, env.hub, logger)
	env.sessions = NewSessionService(env.sessionRepo, env.gameListRepo)
	return env
}

// seedUser заводит запись игрока.
func (env *testEnv) seedUser(id, name string) {
	user, err := env.userRepo.GetOrCreate(context.Background(), id)
	if err != nil {
		panic(err)
	}
	user.Name = name
	if err := env.userRepo.Update(context.Background(), user); err != nil {
		panic(err)
	}
}

// startDirectMatch прогоняет прямой вызов от propose до старта партии.
func (env *testEnv) startDirectMatch(gameType string, rated bool, seating models.SeatingPolicy, players ...string) *models.GameSession {
	ctx := context.Background()
	for _, p := range players {
		env.seedUser(p, strings.ToUpper(p[:1])+p[1:])
	}

	challenge, err := env.challenges.Propose(ctx, players[0], ProposeInput{
		GameType:        gameType,
		RequiredPlayers: len(players),
		Seating:         seating,
		Clock:           models.ClockSettings{StartHours: 72, IncrementHours: 24, MaxHours: 120},
		Rated:           rated,
		Invited:         players[1:],
	})
	if err != nil {
		panic(err)
	}

	var session *models.GameSession
	for _, p := range players[1:] {
		result, err := env.challenges.Accept(ctx, p, challenge.ID)
		if err != nil {
			panic(err)
		}
		if result.Session != nil {
			session = result.Session
		}
	}
	if session == nil {
		panic("match did not start")
	}
	return session
}
