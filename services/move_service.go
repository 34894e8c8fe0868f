package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AbstractPlay/session-engine/broadcast"
	"github.com/AbstractPlay/session-engine/models"
	"github.com/AbstractPlay/session-engine/repositories"
	"github.com/AbstractPlay/session-engine/rules"
)

var (
	// ErrInvalidMove — движок правил отверг присланный ход.
	ErrInvalidMove = errors.New("move rejected by the rules engine")

	ErrMoveFailed = errors.New("failed to process move")
)

// sessionAttempts — ограниченные повторы compare-and-swap записи партии.
const sessionAttempts = 3

// eliminatedSlot — слот выбывшего места в буфере одновременных ходов.
const eliminatedSlot = "-"

// MoveService — обработчик переходов партии: ходы, сдачи, просрочки, ничьи
// и pie-swap. Каждый переход выполняется циклом перечитать-применить-записать
// поверх оптимистической версии записи партии; после фиксации перехода
// раскатываются необратимые побочные эффекты (рейтинги, индексы, уведомления),
// отказ которых уже не откатывает партию.
type MoveService interface {
	SubmitMove(ctx context.Context, userID, sessionID, payload string) (*models.GameSession, error)
	Resign(ctx context.Context, userID, sessionID string) (*models.GameSession, error)
	// ClaimTimeout завершает партию по истёкшим часам. Заявить может кто
	// угодно: просрочка — свойство часов, а не заявителя.
	ClaimTimeout(ctx context.Context, userID, sessionID string) (*models.GameSession, error)
	OfferDraw(ctx context.Context, userID, sessionID string) (*models.GameSession, error)
	AcceptDraw(ctx context.Context, userID, sessionID string) (*models.GameSession, error)
	// InvokePie — разовый обмен местами по pie-правилу.
	InvokePie(ctx context.Context, userID, sessionID string) (*models.GameSession, error)
}

type moveService struct {
	sessionRepo repositories.SessionRepository
	userRepo    repositories.UserRepository
	registry    *rules.Registry
	ratingSvc   RatingService
	indexSvc    IndexService
	notifier    Notifier
	hub         *broadcast.Hub
	logger      *slog.Logger
	now         func() time.Time
}

func NewMoveService(
	sessionRepo repositories.SessionRepository,
	userRepo repositories.UserRepository,
	registry *rules.Registry,
	ratingSvc RatingService,
	indexSvc IndexService,
	notifier Notifier,
	hub *broadcast.Hub,
	logger *slog.Logger,
) MoveService {
	return &moveService{
		sessionRepo: sessionRepo,
		userRepo:    userRepo,
		registry:    registry,
		ratingSvc:   ratingSvc,
		indexSvc:    indexSvc,
		notifier:    notifier,
		hub:         hub,
		logger:      logger,
		now:         time.Now,
	}
}

// transitionResult описывает, что изменил переход, для раскатки побочных
// эффектов после фиксации.
type transitionResult struct {
	event      string // тип события комнаты партии
	advanced   bool   // проекции листингов устарели и требуют переписи
	notifyTurn bool   // следующим по очереди причитается уведомление
}

// transition выполняет переход поверх оптимистической версии записи партии:
// перечитать, применить, записать через compare-and-swap; при проигрыше
// гонки — перечитать заново, ограниченное число раз.
func (s *moveService) transition(
	ctx context.Context,
	userID, sessionID string,
	apply func(sess *models.GameSession) (transitionResult, error),
) (*models.GameSession, error) {
	for attempt := 0; attempt < sessionAttempts; attempt++ {
		sess, err := s.sessionRepo.GetByID(ctx, sessionID)
		if err != nil {
			if errors.Is(err, repositories.ErrSessionNotFound) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("%w: %w", ErrMoveFailed, err)
		}
		if sess.Completed() {
			return nil, ErrAlreadyOver
		}

		result, err := apply(sess)
		if err != nil {
			return nil, err
		}

		if err := s.sessionRepo.Update(ctx, sess); err != nil {
			if errors.Is(err, repositories.ErrSessionConflict) {
				continue
			}
			return nil, fmt.Errorf("%w: %w", ErrMoveFailed, err)
		}

		s.settle(ctx, userID, sess, result)
		return sess, nil
	}
	return nil, fmt.Errorf("%w: session %s", ErrConflict, sessionID)
}

// settle раскатывает побочные эффекты зафиксированного перехода. Партия уже
// авторитетно записана: любой отказ здесь логируется и глотается, откат
// не выполняется.
func (s *moveService) settle(ctx context.Context, actorID string, sess *models.GameSession, result transitionResult) {
	if sess.Completed() {
		if err := s.ratingSvc.RateSession(ctx, sess); err != nil {
			s.logger.Error("failed to rate completed session",
				slog.String("session_id", sess.ID), slog.Any("error", err))
		}
		if err := s.indexSvc.SessionCompleted(ctx, sess); err != nil {
			s.logger.Error("failed to index completed session",
				slog.String("session_id", sess.ID), slog.Any("error", err))
		}
		for _, p := range sess.Players {
			s.notify(ctx, p.UserID, TemplateGameOver, map[string]any{"game": sess.GameType})
		}
	} else if result.advanced {
		if err := s.indexSvc.SessionAdvanced(ctx, sess); err != nil {
			s.logger.Error("failed to index session after move",
				slog.String("session_id", sess.ID), slog.Any("error", err))
		}
		if result.notifyTurn {
			for seat, p := range sess.Players {
				if p.UserID != actorID && sess.ToMove.Active(seat) {
					s.notify(ctx, p.UserID, TemplateYourTurn, map[string]any{"game": sess.GameType})
				}
			}
		}
	}

	s.hub.Publish(sess.ID, broadcast.Event{
		Type:    result.event,
		GameID:  sess.ID,
		Payload: models.SummaryOf(sess),
	}, []string{actorID})
}

func (s *moveService) SubmitMove(ctx context.Context, userID, sessionID, payload string) (*models.GameSession, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" || strings.Contains(payload, ",") {
		// Запятая зарезервирована под склейку одновременных туров.
		return nil, fmt.Errorf("%w: empty or malformed payload", ErrInvalidMove)
	}

	return s.transition(ctx, userID, sessionID, func(sess *models.GameSession) (transitionResult, error) {
		seat := sess.SeatOf(userID)
		if seat < 0 {
			return transitionResult{}, ErrNotParticipant
		}

		// Жёсткие часы не ждут явной заявки: истёкшая партия разрешается
		// просрочкой прямо на попытке хода, сам ход не применяется.
		if sess.Clock.Hard {
			if expired := TimedOutSeat(sess, s.now()); expired >= 0 {
				if err := s.applyTimeout(sess, expired); err != nil {
					return transitionResult{}, err
				}
				return transitionResult{event: "GAME_OVER"}, nil
			}
		}

		if sess.ToMove.Simultaneous {
			return s.applySimultaneousMove(sess, seat, payload)
		}
		return s.applySequentialMove(sess, seat, payload)
	})
}

func (s *moveService) applySequentialMove(sess *models.GameSession, seat int, payload string) (transitionResult, error) {
	if !sess.ToMove.Active(seat) {
		return transitionResult{}, ErrNotYourTurn
	}

	game, err := s.registry.Load(sess.GameType, sess.State)
	if err != nil {
		return transitionResult{}, fmt.Errorf("%w: %w", ErrMoveFailed, err)
	}
	if err := game.Move(payload); err != nil {
		return transitionResult{}, fmt.Errorf("%w: %w", ErrInvalidMove, err)
	}
	plies := 1

	// Automove: пока из позиции есть ровно один легальный ответ, он
	// применяется сразу, не дожидаясь его владельца.
	if s.registry.HasFlag(sess.GameType, rules.FlagAutomove) {
		for {
			if over, _ := game.GameOver(); over {
				break
			}
			legal := game.LegalMoves()
			if len(legal) != 1 {
				break
			}
			if err := game.Move(legal[0]); err != nil {
				return transitionResult{}, fmt.Errorf("%w: automove: %w", ErrMoveFailed, err)
			}
			plies++
		}
	}

	s.chargeClock(sess, seat)
	sess.NumMoves += plies
	clearDrawOffers(sess)

	if over, winners := game.GameOver(); over {
		return s.applyCompletion(sess, game, winners)
	}

	sess.ToMove.Seat = (seat + plies) % len(sess.Players)
	state, err := game.Serialize()
	if err != nil {
		return transitionResult{}, fmt.Errorf("%w: %w", ErrMoveFailed, err)
	}
	sess.State = state
	return transitionResult{event: "GAME_UPDATED", advanced: true, notifyTurn: true}, nil
}

func (s *moveService) applySimultaneousMove(sess *models.GameSession, seat int, payload string) (transitionResult, error) {
	if !sess.ToMove.Active(seat) {
		return transitionResult{}, ErrAlreadySubmitted
	}

	game, err := s.registry.Load(sess.GameType, sess.State)
	if err != nil {
		return transitionResult{}, fmt.Errorf("%w: %w", ErrMoveFailed, err)
	}

	slots := sess.PartialSlots()

	// Слоты выбывших мест заполняются прочерком автоматически: от них тура
	// никто не ждёт.
	for i := range sess.Players {
		if sess.ToMove.Flags[i] && game.Eliminated(i+1) {
			slots[i] = eliminatedSlot
			sess.ToMove.Flags[i] = false
		}
	}
	if !sess.ToMove.Flags[seat] {
		return transitionResult{}, ErrAlreadySubmitted
	}
	slots[seat] = payload
	sess.ToMove.Flags[seat] = false

	full := true
	for _, flag := range sess.ToMove.Flags {
		if flag {
			full = false
			break
		}
	}
	candidate := strings.Join(slots, ",")

	if !full {
		// Тур ещё не собран: частичный сабмит только проверяется, состояние
		// движка не меняется.
		if err := game.ValidateMove(candidate); err != nil {
			sess.ToMove.Flags[seat] = true // вернуть долг хода
			return transitionResult{}, fmt.Errorf("%w: %w", ErrInvalidMove, err)
		}
		sess.SetPartialSlots(slots)
		return transitionResult{event: "MOVE_SUBMITTED"}, nil
	}

	// Последний сабмит применяет тур целиком — единым ходом движка.
	if err := game.Move(candidate); err != nil {
		sess.ToMove.Flags[seat] = true
		return transitionResult{}, fmt.Errorf("%w: %w", ErrInvalidMove, err)
	}

	now := s.now()
	elapsed := now.Sub(sess.LastMoveAt)
	for i := range sess.Players {
		sess.Players[i].TimeRemaining = ApplyElapsed(
			sess.Players[i].TimeRemaining, elapsed, sess.Clock.Increment(), sess.Clock.Max())
	}
	sess.LastMoveAt = now
	sess.NumMoves++
	sess.PartialMove = ""
	clearDrawOffers(sess)

	if over, winners := game.GameOver(); over {
		return s.applyCompletion(sess, game, winners)
	}

	for i := range sess.ToMove.Flags {
		sess.ToMove.Flags[i] = true
	}
	state, err := game.Serialize()
	if err != nil {
		return transitionResult{}, fmt.Errorf("%w: %w", ErrMoveFailed, err)
	}
	sess.State = state
	return transitionResult{event: "GAME_UPDATED", advanced: true, notifyTurn: true}, nil
}

func (s *moveService) Resign(ctx context.Context, userID, sessionID string) (*models.GameSession, error) {
	return s.transition(ctx, userID, sessionID, func(sess *models.GameSession) (transitionResult, error) {
		seat := sess.SeatOf(userID)
		if seat < 0 {
			return transitionResult{}, ErrNotParticipant
		}

		game, err := s.registry.Load(sess.GameType, sess.State)
		if err != nil {
			return transitionResult{}, fmt.Errorf("%w: %w", ErrMoveFailed, err)
		}
		if err := game.Resign(seat + 1); err != nil {
			return transitionResult{}, fmt.Errorf("%w: resign: %w", ErrMoveFailed, err)
		}

		_, winners := game.GameOver()
		return s.applyCompletion(sess, game, winners)
	})
}

func (s *moveService) ClaimTimeout(ctx context.Context, userID, sessionID string) (*models.GameSession, error) {
	return s.transition(ctx, userID, sessionID, func(sess *models.GameSession) (transitionResult, error) {
		expired := TimedOutSeat(sess, s.now())
		if expired < 0 {
			return transitionResult{}, ErrNoTimeout
		}
		if err := s.applyTimeout(sess, expired); err != nil {
			return transitionResult{}, err
		}
		return transitionResult{event: "GAME_OVER"}, nil
	})
}

// applyTimeout завершает партию просрочкой указанного места.
func (s *moveService) applyTimeout(sess *models.GameSession, seat int) error {
	game, err := s.registry.Load(sess.GameType, sess.State)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMoveFailed, err)
	}
	if err := game.Timeout(seat + 1); err != nil {
		return fmt.Errorf("%w: timeout: %w", ErrMoveFailed, err)
	}

	sess.Players[seat].TimeRemaining = 0
	_, winners := game.GameOver()
	_, err = s.applyCompletion(sess, game, winners)
	return err
}

func (s *moveService) OfferDraw(ctx context.Context, userID, sessionID string) (*models.GameSession, error) {
	return s.transition(ctx, userID, sessionID, func(sess *models.GameSession) (transitionResult, error) {
		seat := sess.SeatOf(userID)
		if seat < 0 {
			return transitionResult{}, ErrNotParticipant
		}
		sess.Players[seat].Draw = models.DrawOffered
		if done, result, err := s.maybeAgreeDraw(sess); done {
			return result, err
		}
		return transitionResult{event: "DRAW_OFFERED"}, nil
	})
}

func (s *moveService) AcceptDraw(ctx context.Context, userID, sessionID string) (*models.GameSession, error) {
	return s.transition(ctx, userID, sessionID, func(sess *models.GameSession) (transitionResult, error) {
		seat := sess.SeatOf(userID)
		if seat < 0 {
			return transitionResult{}, ErrNotParticipant
		}
		// Принятие ничьей подчиняется той же очерёдности, что и ход;
		// предложение — нет.
		if !sess.ToMove.Active(seat) {
			return transitionResult{}, ErrNotYourTurn
		}
		sess.Players[seat].Draw = models.DrawAccepted
		if done, result, err := s.maybeAgreeDraw(sess); done {
			return result, err
		}
		return transitionResult{event: "DRAW_ACCEPTED"}, nil
	})
}

// maybeAgreeDraw завершает партию ничьей по соглашению, когда каждое место
// предложило либо приняло ничью.
func (s *moveService) maybeAgreeDraw(sess *models.GameSession) (bool, transitionResult, error) {
	for _, p := range sess.Players {
		if p.Draw == models.DrawNone {
			return false, transitionResult{}, nil
		}
	}

	game, err := s.registry.Load(sess.GameType, sess.State)
	if err != nil {
		return true, transitionResult{}, fmt.Errorf("%w: %w", ErrMoveFailed, err)
	}
	if err := game.Draw(); err != nil {
		return true, transitionResult{}, fmt.Errorf("%w: draw: %w", ErrMoveFailed, err)
	}

	over, winners := game.GameOver()
	if !over || len(winners) == 0 {
		// Движок не ведёт соглашения о ничьей — ничья между всеми местами.
		winners = make([]int, len(sess.Players))
		for i := range winners {
			winners[i] = i + 1
		}
	}
	result, err := s.applyCompletion(sess, game, winners)
	return true, result, err
}

func (s *moveService) InvokePie(ctx context.Context, userID, sessionID string) (*models.GameSession, error) {
	return s.transition(ctx, userID, sessionID, func(sess *models.GameSession) (transitionResult, error) {
		if !s.registry.HasFlag(sess.GameType, rules.FlagPie) {
			return transitionResult{}, ErrPieUnavailable
		}
		if sess.PieInvoked {
			return transitionResult{}, fmt.Errorf("%w: pie already invoked", ErrAlreadySubmitted)
		}
		seat := sess.SeatOf(userID)
		if seat < 0 {
			return transitionResult{}, ErrNotParticipant
		}
		if !sess.ToMove.Active(seat) {
			return transitionResult{}, ErrNotYourTurn
		}

		// Обмен местами: игроки меняются местами, повороты досок остаются
		// привязанными к местам, а не к игрокам.
		rotations := make([]int, len(sess.Players))
		for i, p := range sess.Players {
			rotations[i] = p.Rotation
		}
		for i, j := 0, len(sess.Players)-1; i < j; i, j = i+1, j-1 {
			sess.Players[i], sess.Players[j] = sess.Players[j], sess.Players[i]
		}
		for i := range sess.Players {
			sess.Players[i].Rotation = rotations[i]
		}

		// Та же тарификация часов, что и у обычного хода; место берётся уже
		// после обмена — часы принадлежат игроку.
		s.chargeClock(sess, sess.SeatOf(userID))
		sess.PieInvoked = true
		sess.Log = append(sess.Log, fmt.Sprintf("pie invoked by %s", sess.Players[sess.SeatOf(userID)].Name))

		return transitionResult{event: "GAME_UPDATED", advanced: true, notifyTurn: true}, nil
	})
}

// chargeClock списывает затраченное время с места и ставит штамп хода.
func (s *moveService) chargeClock(sess *models.GameSession, seat int) {
	now := s.now()
	elapsed := now.Sub(sess.LastMoveAt)
	sess.Players[seat].TimeRemaining = ApplyElapsed(
		sess.Players[seat].TimeRemaining, elapsed, sess.Clock.Increment(), sess.Clock.Max())
	sess.LastMoveAt = now
}

// applyCompletion переводит партию в терминальное состояние.
func (s *moveService) applyCompletion(sess *models.GameSession, game rules.Game, winners []int) (transitionResult, error) {
	state, err := game.Serialize()
	if err != nil {
		return transitionResult{}, fmt.Errorf("%w: %w", ErrMoveFailed, err)
	}
	sess.State = state
	sess.Winner = winners
	sess.ToMove.Clear()
	sess.PartialMove = ""
	sess.CompletedAt = s.now()
	return transitionResult{event: "GAME_OVER"}, nil
}

// clearDrawOffers снимает висящие предложения ничьей: ход, не являющийся
// согласием, отзывает их.
func clearDrawOffers(sess *models.GameSession) {
	for i := range sess.Players {
		sess.Players[i].Draw = models.DrawNone
	}
}

func (s *moveService) notify(ctx context.Context, userID, templateKey string, params map[string]any) {
	locale := ""
	if user, err := s.userRepo.GetByID(ctx, userID); err == nil {
		locale = user.Locale
	}
	if err := s.notifier.Send(ctx, userID, templateKey, locale, params); err != nil {
		s.logger.Warn("failed to send game notification",
			slog.String("user_id", userID),
			slog.String("template", templateKey),
			slog.Any("error", err))
	}
}
