package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/AbstractPlay/session-engine/models"
	"github.com/AbstractPlay/session-engine/repositories"
)

var ErrRatingFailed = errors.New("failed to update ratings")

// RatingService пересчитывает рейтинги Эло по завершённой партии. Применим
// только к рейтинговым партиям двух игроков, в которых сделан хотя бы один
// настоящий ход (не сдача со старта).
type RatingService interface {
	RateSession(ctx context.Context, session *models.GameSession) error
	Get(ctx context.Context, gameType, userID string) (*models.Rating, error)
	ListByGame(ctx context.Context, gameType string) ([]*models.Rating, error)
}

type ratingService struct {
	ratingRepo repositories.RatingRepository
	logger     *slog.Logger
}

func NewRatingService(ratingRepo repositories.RatingRepository, logger *slog.Logger) RatingService {
	return &ratingService{ratingRepo: ratingRepo, logger: logger}
}

// kFactor выбирается по числу сыгранных рейтинговых партий самого игрока.
func kFactor(n int) float64 {
	switch {
	case n < 10:
		return 40
	case n < 20:
		return 30
	case n < 40:
		return 25
	default:
		return 20
	}
}

func expectedScore(own, opponent float64) float64 {
	return 1 / (1 + math.Pow(10, (opponent-own)/400))
}

// scores переводит множество победителей (1-based номера мест) в реализованные
// очки обоих мест. Пустое множество трактуется как ничья; любая другая форма —
// дефект целостности данных.
func scores(winner []int) (s1, s2 float64, err error) {
	switch {
	case len(winner) == 0:
		return 0.5, 0.5, nil
	case len(winner) == 1 && winner[0] == 1:
		return 1, 0, nil
	case len(winner) == 1 && winner[0] == 2:
		return 0, 1, nil
	case len(winner) == 2 &&
		((winner[0] == 1 && winner[1] == 2) || (winner[0] == 2 && winner[1] == 1)):
		return 0.5, 0.5, nil
	}
	return 0, 0, fmt.Errorf("%w: %v", ErrInvalidOutcome, winner)
}

func (s *ratingService) RateSession(ctx context.Context, session *models.GameSession) error {
	if !session.Rated || len(session.Players) != 2 {
		return nil
	}
	// Партия, сданная до первого настоящего хода, рейтинг не меняет.
	if session.NumMoves <= len(session.Players) {
		return nil
	}

	score1, score2, err := scores(session.Winner)
	if err != nil {
		s.logger.Error("malformed winner set on rated game",
			slog.String("session_id", session.ID),
			slog.Any("winner", session.Winner))
		return err
	}

	r1, err := s.ratingRepo.Get(ctx, session.GameType, session.Players[0].UserID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRatingFailed, err)
	}
	r2, err := s.ratingRepo.Get(ctx, session.GameType, session.Players[1].UserID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRatingFailed, err)
	}

	e1 := expectedScore(r1.Rating, r2.Rating)
	e2 := expectedScore(r2.Rating, r1.Rating)

	r1.Rating += kFactor(r1.N) * (score1 - e1)
	r2.Rating += kFactor(r2.N) * (score2 - e2)
	r1.N++
	r2.N++
	switch {
	case score1 == 1:
		r1.Wins++
	case score2 == 1:
		r2.Wins++
	default:
		r1.Draws++
		r2.Draws++
	}

	if err := s.ratingRepo.Put(ctx, r1); err != nil {
		return fmt.Errorf("%w: %w", ErrRatingFailed, err)
	}
	if err := s.ratingRepo.Put(ctx, r2); err != nil {
		return fmt.Errorf("%w: %w", ErrRatingFailed, err)
	}

	s.logger.Info("ratings updated",
		slog.String("session_id", session.ID),
		slog.String("game_type", session.GameType),
		slog.Float64("rating_p1", r1.Rating),
		slog.Float64("rating_p2", r2.Rating))
	return nil
}

func (s *ratingService) Get(ctx context.Context, gameType, userID string) (*models.Rating, error) {
	return s.ratingRepo.Get(ctx, gameType, userID)
}

func (s *ratingService) ListByGame(ctx context.Context, gameType string) ([]*models.Rating, error) {
	return s.ratingRepo.ListByGame(ctx, gameType)
}
