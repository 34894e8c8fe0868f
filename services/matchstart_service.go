package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/AbstractPlay/session-engine/broadcast"
	"github.com/AbstractPlay/session-engine/models"
	"github.com/AbstractPlay/session-engine/repositories"
	"github.com/AbstractPlay/session-engine/rules"
)

var ErrMatchStartFailed = errors.New("failed to start match")

// MatchStarter превращает полностью укомплектованный вызов в живую партию:
// рассаживает игроков, заводит часы и ориентацию досок, просит движок правил
// построить начальное состояние и раскладывает партию по индексам.
type MatchStarter interface {
	Start(ctx context.Context, challenge *models.Challenge, participants []string) (*models.GameSession, error)
}

type matchStarter struct {
	registry    *rules.Registry
	sessionRepo repositories.SessionRepository
	userRepo    repositories.UserRepository
	indexSvc    IndexService
	notifier    Notifier
	hub         *broadcast.Hub
	logger      *slog.Logger
}

func NewMatchStarter(
	registry *rules.Registry,
	sessionRepo repositories.SessionRepository,
	userRepo repositories.UserRepository,
	indexSvc IndexService,
	notifier Notifier,
	hub *broadcast.Hub,
	logger *slog.Logger,
) MatchStarter {
	return &matchStarter{
		registry:    registry,
		sessionRepo: sessionRepo,
		userRepo:    userRepo,
		indexSvc:    indexSvc,
		notifier:    notifier,
		hub:         hub,
		logger:      logger,
	}
}

// seatOrder рассаживает участников согласно политике вызова. Участники
// приходят в порядке принятия, первым — вызывающий.
func seatOrder(policy models.SeatingPolicy, participants []string) []string {
	order := make([]string, len(participants))
	copy(order, participants)

	switch policy {
	case models.SeatingFirst:
		// Вызывающий остаётся на первом месте, остальные тасуются.
		rest := order[1:]
		rand.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
	case models.SeatingSecond:
		rest := order[1:]
		rand.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
		if len(order) > 1 {
			order[0], order[1] = order[1], order[0]
		}
	default: // models.SeatingRandom
		rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	return order
}

// seatRotation возвращает поворот доски для места seat. Первое место всегда
// смотрит на доску прямо.
func seatRotation(seat, numSeats int, perspective, rotate90 bool) int {
	if !perspective || seat == 0 {
		return 0
	}
	if rotate90 && numSeats >= 3 {
		return (90 * seat) % 360
	}
	return 180
}

func (s *matchStarter) Start(ctx context.Context, challenge *models.Challenge, participants []string) (*models.GameSession, error) {
	game, err := s.registry.New(challenge.GameType, len(participants), challenge.Variants)
	if err != nil {
		if errors.Is(err, rules.ErrUnknownGame) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownGameType, challenge.GameType)
		}
		return nil, fmt.Errorf("%w: %w", ErrMatchStartFailed, err)
	}
	state, err := game.Serialize()
	if err != nil {
		return nil, fmt.Errorf("%w: serialize initial state: %w", ErrMatchStartFailed, err)
	}

	order := seatOrder(challenge.Seating, participants)

	perspective := s.registry.HasFlag(challenge.GameType, rules.FlagPerspective)
	rotate90 := s.registry.HasFlag(challenge.GameType, rules.FlagRotate90)
	simultaneous := s.registry.HasFlag(challenge.GameType, rules.FlagSimultaneous)

	now := time.Now()
	seats := make([]models.Seat, len(order))
	for i, userID := range order {
		user, err := s.userRepo.GetOrCreate(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("%w: user %s: %w", ErrMatchStartFailed, userID, err)
		}
		name := user.Name
		if name == "" {
			name = userID
		}
		seats[i] = models.Seat{
			UserID:        userID,
			Name:          name,
			TimeRemaining: challenge.Clock.Start(),
			Rotation:      seatRotation(i, len(order), perspective, rotate90),
		}
	}

	toMove := models.NewSequentialTurn()
	if simultaneous {
		toMove = models.NewSimultaneousTurn(len(order))
	}

	session := &models.GameSession{
		ID:         uuid.NewString(),
		GameType:   challenge.GameType,
		Variants:   challenge.Variants,
		Players:    seats,
		ToMove:     toMove,
		State:      state,
		Clock:      challenge.Clock,
		Rated:      challenge.Rated,
		StartedAt:  now,
		LastMoveAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMatchStartFailed, err)
	}

	// Индексы и уведомления — best-effort: партия уже авторитетно создана.
	if err := s.indexSvc.SessionStarted(ctx, session); err != nil {
		s.logger.Error("failed to index new session",
			slog.String("session_id", session.ID), slog.Any("error", err))
	}

	for _, seat := range seats {
		if err := s.notifier.Send(ctx, seat.UserID, TemplateGameStarted, s.localeOf(ctx, seat.UserID), map[string]any{
			"game":    session.GameType,
			"to_move": seats[0].Name,
		}); err != nil {
			s.logger.Warn("failed to send game start notification",
				slog.String("user_id", seat.UserID), slog.Any("error", err))
		}
	}

	s.hub.Publish(session.ID, broadcast.Event{
		Type:    "GAME_STARTED",
		GameID:  session.ID,
		Payload: models.SummaryOf(session),
	}, nil)

	s.logger.Info("match started",
		slog.String("session_id", session.ID),
		slog.String("game_type", session.GameType),
		slog.Int("players", len(seats)))
	return session, nil
}

func (s *matchStarter) localeOf(ctx context.Context, userID string) string {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return ""
	}
	return user.Locale
}
