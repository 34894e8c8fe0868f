package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AbstractPlay/session-engine/models"
	"github.com/AbstractPlay/session-engine/repositories"
)

// SessionView — публичное представление партии. Содержимое буфера частичных
// ходов наружу не отдаётся: до закрытия тура ходы соперников скрыты, видно
// лишь, кто уже сдал свой.
type SessionView struct {
	ID       string   `json:"id"`
	GameType string   `json:"game_type"`
	Variants []string `json:"variants,omitempty"`

	Players []models.Seat    `json:"players"`
	ToMove  models.TurnState `json:"to_move"`
	State   json.RawMessage  `json:"state"`

	// Submitted — по флагу на место: слот тура уже сдан.
	Submitted []bool `json:"submitted,omitempty"`

	Clock      models.ClockSettings `json:"clock"`
	Rated      bool                 `json:"rated"`
	StartedAt  time.Time            `json:"started_at"`
	LastMoveAt time.Time            `json:"last_move_at"`

	Winner      []int     `json:"winner,omitempty"`
	NumMoves    int       `json:"num_moves"`
	PieInvoked  bool      `json:"pie_invoked,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	Log         []string  `json:"log,omitempty"`
}

// ListFilter — срез листинга партий. Пустые поля не ограничивают выборку.
type ListFilter struct {
	GameType string
	UserID   string
}

// SessionService — читающий фасад над партиями и их листингами.
type SessionService interface {
	Get(ctx context.Context, sessionID string) (*SessionView, error)
	List(ctx context.Context, partition models.ListPartition, filter ListFilter) ([]*models.GameListEntry, error)
	Count(ctx context.Context, partition models.ListPartition, gameType string) (int64, error)
}

type sessionService struct {
	sessionRepo  repositories.SessionRepository
	gameListRepo repositories.GameListRepository
}

func NewSessionService(
	sessionRepo repositories.SessionRepository,
	gameListRepo repositories.GameListRepository,
) SessionService {
	return &sessionService{sessionRepo: sessionRepo, gameListRepo: gameListRepo}
}

func (s *sessionService) Get(ctx context.Context, sessionID string) (*SessionView, error) {
	sess, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repositories.ErrSessionNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	return ViewOf(sess), nil
}

// ViewOf строит публичное представление из авторитетной записи.
func ViewOf(sess *models.GameSession) *SessionView {
	view := &SessionView{
		ID:          sess.ID,
		GameType:    sess.GameType,
		Variants:    sess.Variants,
		Players:     sess.Players,
		ToMove:      sess.ToMove,
		State:       sess.State,
		Clock:       sess.Clock,
		Rated:       sess.Rated,
		StartedAt:   sess.StartedAt,
		LastMoveAt:  sess.LastMoveAt,
		Winner:      sess.Winner,
		NumMoves:    sess.NumMoves,
		PieInvoked:  sess.PieInvoked,
		CompletedAt: sess.CompletedAt,
		Log:         sess.Log,
	}

	if sess.ToMove.Simultaneous && !sess.Completed() {
		slots := sess.PartialSlots()
		submitted := make([]bool, len(sess.Players))
		for i := range submitted {
			submitted[i] = i < len(slots) && slots[i] != ""
		}
		view.Submitted = submitted
	}
	return view
}

func (s *sessionService) List(ctx context.Context, partition models.ListPartition, filter ListFilter) ([]*models.GameListEntry, error) {
	switch {
	case filter.GameType != "" && filter.UserID != "":
		return s.gameListRepo.ListByGamePlayer(ctx, partition, filter.GameType, filter.UserID)
	case filter.GameType != "":
		return s.gameListRepo.ListByGame(ctx, partition, filter.GameType)
	case filter.UserID != "":
		return s.gameListRepo.ListByPlayer(ctx, partition, filter.UserID)
	default:
		return s.gameListRepo.ListAll(ctx, partition)
	}
}

func (s *sessionService) Count(ctx context.Context, partition models.ListPartition, gameType string) (int64, error) {
	return s.gameListRepo.Counter(ctx, partition, gameType)
}
