package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AbstractPlay/session-engine/models"
	"github.com/AbstractPlay/session-engine/repositories"
)

var ErrIndexUpdateFailed = errors.New("failed to update game indexes")

// userListAttempts — ограниченные повторы переписи личного списка партий
// при проигрыше оптимистической конкуренции (счётчик gamesUpdate).
const userListAttempts = 3

// IndexService поддерживает денормализованные списки партий в согласии с
// авторитетной записью. Веер записей не транзакционен: упавший на середине
// веер оставляет устаревшие листинги, но никогда не трогает саму партию.
type IndexService interface {
	// SessionStarted раскладывает новую партию по «текущим» ключам и
	// личным спискам участников, инкрементируя счётчик текущих партий.
	SessionStarted(ctx context.Context, session *models.GameSession) error

	// SessionAdvanced переписывает проекции после обычного хода.
	SessionAdvanced(ctx context.Context, session *models.GameSession) error

	// SessionCompleted перемещает партию из «текущих» в «завершённые».
	// Короткие партии, сданные до настоящего хода, в завершённых листингах
	// не задерживаются.
	SessionCompleted(ctx context.Context, session *models.GameSession) error

	// TrimPersonalLists выбрасывает из личных списков завершённые партии
	// старше окна хранения.
	TrimPersonalLists(ctx context.Context, retention time.Duration) error
}

type indexService struct {
	gameListRepo repositories.GameListRepository
	userRepo     repositories.UserRepository
	logger       *slog.Logger
}

func NewIndexService(
	gameListRepo repositories.GameListRepository,
	userRepo repositories.UserRepository,
	logger *slog.Logger,
) IndexService {
	return &indexService{
		gameListRepo: gameListRepo,
		userRepo:     userRepo,
		logger:       logger,
	}
}

// Retained сообщает, задерживается ли завершённая партия в завершённых
// листингах: сдача до первого настоящего хода не показывается.
func Retained(session *models.GameSession) bool {
	return session.NumMoves > len(session.Players)
}

func (s *indexService) SessionStarted(ctx context.Context, session *models.GameSession) error {
	if _, err := s.gameListRepo.AddCounter(ctx, models.ListCurrent, session.GameType, 1); err != nil {
		return fmt.Errorf("%w: current counter: %w", ErrIndexUpdateFailed, err)
	}

	entry := models.SummaryOf(session)
	if err := s.fanOutPut(ctx, models.ListCurrent, entry); err != nil {
		return err
	}

	for _, p := range session.Players {
		if err := s.rewriteUserGames(ctx, p.UserID, entry, true); err != nil {
			return err
		}
	}
	return nil
}

func (s *indexService) SessionAdvanced(ctx context.Context, session *models.GameSession) error {
	entry := models.SummaryOf(session)
	if err := s.fanOutPut(ctx, models.ListCurrent, entry); err != nil {
		return err
	}

	for _, p := range session.Players {
		if err := s.rewriteUserGames(ctx, p.UserID, entry, true); err != nil {
			return err
		}
	}
	return nil
}

func (s *indexService) SessionCompleted(ctx context.Context, session *models.GameSession) error {
	if _, err := s.gameListRepo.AddCounter(ctx, models.ListCurrent, session.GameType, -1); err != nil {
		return fmt.Errorf("%w: current counter: %w", ErrIndexUpdateFailed, err)
	}

	entry := models.SummaryOf(session)
	retained := Retained(session)

	if retained {
		if _, err := s.gameListRepo.AddCounter(ctx, models.ListCompleted, session.GameType, 1); err != nil {
			return fmt.Errorf("%w: completed counter: %w", ErrIndexUpdateFailed, err)
		}
		if err := s.fanOutPut(ctx, models.ListCompleted, entry); err != nil {
			return err
		}
	}

	if err := s.fanOutDelete(ctx, models.ListCurrent, entry); err != nil {
		return err
	}

	for _, p := range session.Players {
		if err := s.rewriteUserGames(ctx, p.UserID, entry, retained); err != nil {
			return err
		}
	}
	return nil
}

func (s *indexService) TrimPersonalLists(ctx context.Context, retention time.Duration) error {
	users, err := s.userRepo.List(ctx)
	if err != nil {
		return fmt.Errorf("%w: list users: %w", ErrIndexUpdateFailed, err)
	}

	cutoff := time.Now().Add(-retention)
	for _, user := range users {
		trimmed := user.Games[:0]
		for _, g := range user.Games {
			if !g.CompletedAt.IsZero() && g.CompletedAt.Before(cutoff) {
				continue
			}
			trimmed = append(trimmed, g)
		}
		if len(trimmed) == len(user.Games) {
			continue
		}
		user.Games = trimmed
		user.GamesUpdate++
		if err := s.userRepo.Update(ctx, user); err != nil {
			// Гонка с переписью списка — пропускаем, следующий проход доберёт.
			if errors.Is(err, repositories.ErrUserConflict) {
				continue
			}
			return fmt.Errorf("%w: trim user %s: %w", ErrIndexUpdateFailed, user.ID, err)
		}
	}
	return nil
}

// fanOutPut параллельно пишет проекцию под все ключи веера раздела.
func (s *indexService) fanOutPut(ctx context.Context, partition models.ListPartition, entry *models.GameListEntry) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, key := range repositories.FanOutKeys(entry) {
		key := key
		g.Go(func() error {
			return s.gameListRepo.PutEntry(gctx, partition, key, entry)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: fan-out put %s: %w", ErrIndexUpdateFailed, entry.ID, err)
	}
	return nil
}

func (s *indexService) fanOutDelete(ctx context.Context, partition models.ListPartition, entry *models.GameListEntry) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, key := range repositories.FanOutKeys(entry) {
		key := key
		g.Go(func() error {
			return s.gameListRepo.DeleteEntry(gctx, partition, key)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: fan-out delete %s: %w", ErrIndexUpdateFailed, entry.ID, err)
	}
	return nil
}

// rewriteUserGames переписывает сводку партии в личном списке пользователя
// через compare-and-swap по gamesUpdate: перечитать, заново применить только
// свою дельту, никогда не затирать чужие параллельные изменения.
func (s *indexService) rewriteUserGames(ctx context.Context, userID string, entry *models.GameListEntry, keep bool) error {
	var lastErr error
	for attempt := 0; attempt < userListAttempts; attempt++ {
		user, err := s.userRepo.GetOrCreate(ctx, userID)
		if err != nil {
			return fmt.Errorf("%w: user %s: %w", ErrIndexUpdateFailed, userID, err)
		}

		idx := -1
		for i, g := range user.Games {
			if g.ID == entry.ID {
				idx = i
				break
			}
		}
		switch {
		case keep && idx >= 0:
			user.Games[idx] = *entry
		case keep:
			user.Games = append(user.Games, *entry)
		case idx >= 0:
			user.Games = append(user.Games[:idx], user.Games[idx+1:]...)
		default:
			return nil
		}

		user.GamesUpdate++
		err = s.userRepo.Update(ctx, user)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repositories.ErrUserConflict) {
			return fmt.Errorf("%w: user %s: %w", ErrIndexUpdateFailed, userID, err)
		}
		lastErr = err
		s.logger.Warn("personal game list rewrite lost the race, retrying",
			slog.String("user_id", userID),
			slog.String("session_id", entry.ID),
			slog.Int("attempt", attempt+1))
	}
	return fmt.Errorf("%w: user %s after %d attempts: %w", ErrIndexUpdateFailed, userID, userListAttempts, lastErr)
}
