package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AbstractPlay/session-engine/models"
	"github.com/AbstractPlay/session-engine/repositories"
	"github.com/AbstractPlay/session-engine/rules"
)

var (
	ErrInvalidChallenge   = errors.New("invalid challenge terms")
	ErrChallengeLifecycle = errors.New("challenge lifecycle operation failed")
)

// challengeAttempts — ограниченные повторы compare-and-swap записи вызова
// при параллельных принятиях.
const challengeAttempts = 3

// ProposeInput — условия нового вызова.
type ProposeInput struct {
	GameType        string               `json:"game_type"`
	RequiredPlayers int                  `json:"required_players"`
	Seating         models.SeatingPolicy `json:"seating"`
	Variants        []string             `json:"variants"`
	Clock           models.ClockSettings `json:"clock"`
	Rated           bool                 `json:"rated"`
	Invited         []string             `json:"invited"`
	Standing        bool                 `json:"standing"`
	Duration        int                  `json:"duration"`
}

// AcceptResult — исход принятия: либо вызов ещё ждёт игроков, либо партия
// уже стартовала.
type AcceptResult struct {
	Challenge *models.Challenge   `json:"challenge,omitempty"`
	Session   *models.GameSession `json:"session,omitempty"`
}

// ChallengeService ведёт жизненный цикл вызовов: от публикации до потребления
// стартом партии, включая дублирование открытых вызовов и учёт их срока.
type ChallengeService interface {
	Propose(ctx context.Context, userID string, input ProposeInput) (*models.Challenge, error)
	// Accept занимает место в вызове. Исчезнувший вызов — не ошибка для
	// принимающего: гонка разрешается в пользу уже случившегося исхода.
	Accept(ctx context.Context, userID, challengeID string) (*AcceptResult, error)
	// Revoke отзывает вызов. Доступен только вызывающему.
	Revoke(ctx context.Context, userID, challengeID string) error
	// Decline отклоняет вызов от лица приглашённого либо уже занявшего место;
	// вызов при этом снимается целиком.
	Decline(ctx context.Context, userID, challengeID string) error
	ListForUser(ctx context.Context, userID string) ([]*models.Challenge, error)
	ListStanding(ctx context.Context, gameType string) ([]*models.Challenge, error)
}

type challengeService struct {
	challengeRepo repositories.ChallengeRepository
	userRepo      repositories.UserRepository
	registry      *rules.Registry
	starter       MatchStarter
	notifier      Notifier
	logger        *slog.Logger
}

func NewChallengeService(
	challengeRepo repositories.ChallengeRepository,
	userRepo repositories.UserRepository,
	registry *rules.Registry,
	starter MatchStarter,
	notifier Notifier,
	logger *slog.Logger,
) ChallengeService {
	return &challengeService{
		challengeRepo: challengeRepo,
		userRepo:      userRepo,
		registry:      registry,
		starter:       starter,
		notifier:      notifier,
		logger:        logger,
	}
}

func (s *challengeService) Propose(ctx context.Context, userID string, input ProposeInput) (*models.Challenge, error) {
	info, err := s.registry.Info(input.GameType)
	if err != nil {
		if errors.Is(err, rules.ErrUnknownGame) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownGameType, input.GameType)
		}
		return nil, fmt.Errorf("%w: %w", ErrChallengeLifecycle, err)
	}

	if input.RequiredPlayers < info.MinPlayers || input.RequiredPlayers > info.MaxPlayers {
		return nil, fmt.Errorf("%w: %s takes %d-%d players, got %d",
			ErrInvalidChallenge, input.GameType, info.MinPlayers, info.MaxPlayers, input.RequiredPlayers)
	}
	if input.Clock.StartHours <= 0 || input.Clock.MaxHours < input.Clock.StartHours {
		return nil, fmt.Errorf("%w: bad clock settings", ErrInvalidChallenge)
	}
	if input.Duration < 0 {
		return nil, fmt.Errorf("%w: negative duration", ErrInvalidChallenge)
	}

	switch input.Seating {
	case models.SeatingRandom, models.SeatingFirst, models.SeatingSecond, "":
	default:
		return nil, fmt.Errorf("%w: unknown seating policy %q", ErrInvalidChallenge, input.Seating)
	}
	seating := input.Seating
	if seating == "" {
		seating = models.SeatingRandom
	}

	if !input.Standing {
		if len(input.Invited) < input.RequiredPlayers-1 {
			return nil, fmt.Errorf("%w: %d invitees for %d seats",
				ErrInvalidChallenge, len(input.Invited), input.RequiredPlayers)
		}
		for _, invitee := range input.Invited {
			if invitee == userID {
				return nil, fmt.Errorf("%w: challenger cannot invite themselves", ErrInvalidChallenge)
			}
		}
	}

	challenger, err := s.userRepo.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChallengeLifecycle, err)
	}

	challenge := &models.Challenge{
		ID:              uuid.NewString(),
		GameType:        input.GameType,
		RequiredPlayers: input.RequiredPlayers,
		Seating:         seating,
		Variants:        input.Variants,
		Clock:           input.Clock,
		Rated:           input.Rated,
		ChallengerID:    userID,
		ChallengerName:  challenger.Name,
		Invited:         input.Invited,
		Accepted:        []string{userID},
		Standing:        input.Standing,
		Duration:        input.Duration,
		CreatedAt:       time.Now(),
	}
	if challenge.Standing {
		challenge.Invited = nil
	}

	if err := s.challengeRepo.Create(ctx, challenge); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChallengeLifecycle, err)
	}

	refStatus := models.ChallengeIssued
	if challenge.Standing {
		refStatus = models.ChallengeStanding
	}
	if err := s.addChallengeRef(ctx, userID, challenge, refStatus); err != nil {
		return nil, err
	}
	for _, invitee := range challenge.Invited {
		if err := s.addChallengeRef(ctx, invitee, challenge, models.ChallengeReceived); err != nil {
			return nil, err
		}
		s.notify(ctx, invitee, TemplateChallengeReceived, map[string]any{
			"challenger": challenge.ChallengerName,
			"game":       challenge.GameType,
		})
	}

	s.logger.Info("challenge proposed",
		slog.String("challenge_id", challenge.ID),
		slog.String("game_type", challenge.GameType),
		slog.Bool("standing", challenge.Standing))
	return challenge, nil
}

func (s *challengeService) Accept(ctx context.Context, userID, challengeID string) (*AcceptResult, error) {
	for attempt := 0; attempt < challengeAttempts; attempt++ {
		challenge, err := s.challengeRepo.GetByID(ctx, challengeID)
		if err != nil {
			if errors.Is(err, repositories.ErrChallengeNotFound) {
				// Вызов уже отозван или потреблён — для принимающего это
				// безобидный исход, а не ошибка.
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("%w: %w", ErrChallengeLifecycle, err)
		}

		if challenge.HasAccepted(userID) {
			return nil, fmt.Errorf("%w: already seated", ErrNotEligible)
		}
		if !challenge.Standing && !challenge.IsInvited(userID) {
			return nil, fmt.Errorf("%w: not invited", ErrNotEligible)
		}
		if len(challenge.Accepted) >= challenge.RequiredPlayers {
			// Состав уже полон: вызов в процессе потребления параллельным
			// принятием.
			return nil, ErrNotFound
		}

		// Первое принятие открытого вызова на 3+ игроков не занимает место в
		// самом вызове, а порождает его дубликат: оригинал остаётся висеть и
		// собирать новые партии.
		if challenge.Standing && challenge.ParentID == "" && challenge.RequiredPlayers > 2 {
			result, err := s.spawnDuplicate(ctx, userID, challenge)
			if err != nil {
				if errors.Is(err, repositories.ErrChallengeConflict) {
					continue
				}
				return nil, err
			}
			return result, nil
		}

		challenge.Accepted = append(challenge.Accepted, userID)

		if len(challenge.Accepted) < challenge.RequiredPlayers {
			if err := s.challengeRepo.Update(ctx, challenge); err != nil {
				if errors.Is(err, repositories.ErrChallengeConflict) {
					continue
				}
				if errors.Is(err, repositories.ErrChallengeNotFound) {
					return nil, ErrNotFound
				}
				return nil, fmt.Errorf("%w: %w", ErrChallengeLifecycle, err)
			}
			if err := s.recordAcceptance(ctx, userID, challenge); err != nil {
				return nil, err
			}
			s.notify(ctx, challenge.ChallengerID, TemplateChallengeAccepted, map[string]any{
				"accepter": s.nameOf(ctx, userID),
				"game":     challenge.GameType,
			})
			return &AcceptResult{Challenge: challenge}, nil
		}

		// Состав полон. Фиксируем занятое место через compare-and-swap, чтобы
		// партию стартовал ровно один из гоняющихся принимающих.
		if err := s.challengeRepo.Update(ctx, challenge); err != nil {
			if errors.Is(err, repositories.ErrChallengeConflict) {
				continue
			}
			if errors.Is(err, repositories.ErrChallengeNotFound) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("%w: %w", ErrChallengeLifecycle, err)
		}

		session, err := s.consume(ctx, challenge)
		if err != nil {
			return nil, err
		}
		return &AcceptResult{Session: session}, nil
	}
	return nil, fmt.Errorf("%w: challenge %s", ErrConflict, challengeID)
}

// spawnDuplicate создаёт дубликат открытого вызова с первым принявшим на
// борту и увеличивает счётчик порождённых у оригинала.
func (s *challengeService) spawnDuplicate(ctx context.Context, userID string, original *models.Challenge) (*AcceptResult, error) {
	duplicate := &models.Challenge{
		ID:              uuid.NewString(),
		GameType:        original.GameType,
		RequiredPlayers: original.RequiredPlayers,
		Seating:         original.Seating,
		Variants:        original.Variants,
		Clock:           original.Clock,
		Rated:           original.Rated,
		ChallengerID:    original.ChallengerID,
		ChallengerName:  original.ChallengerName,
		Accepted:        []string{original.ChallengerID, userID},
		Standing:        true,
		ParentID:        original.ID,
		CreatedAt:       time.Now(),
	}

	original.Spawned++
	if err := s.challengeRepo.Update(ctx, original); err != nil {
		return nil, err
	}
	if err := s.challengeRepo.Create(ctx, duplicate); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChallengeLifecycle, err)
	}

	if err := s.addChallengeRef(ctx, userID, duplicate, models.ChallengeAccepted); err != nil {
		return nil, err
	}
	s.notify(ctx, original.ChallengerID, TemplateChallengeAccepted, map[string]any{
		"accepter": s.nameOf(ctx, userID),
		"game":     original.GameType,
	})

	s.logger.Info("standing challenge duplicated",
		slog.String("challenge_id", original.ID),
		slog.String("duplicate_id", duplicate.ID),
		slog.Int("spawned", original.Spawned))
	return &AcceptResult{Challenge: duplicate}, nil
}

// consume стартует партию из полностью укомплектованного вызова, снимает его
// вместе со ссылками и проводит учёт срока исходного открытого вызова.
func (s *challengeService) consume(ctx context.Context, challenge *models.Challenge) (*models.GameSession, error) {
	session, err := s.starter.Start(ctx, challenge, challenge.Accepted)
	if err != nil {
		return nil, err
	}

	if err := s.removeChallenge(ctx, challenge); err != nil {
		s.logger.Error("failed to clean up consumed challenge",
			slog.String("challenge_id", challenge.ID), slog.Any("error", err))
	}

	// Учёт срока: для дубликата — у оригинала, для двухместного открытого
	// вызова — у него самого (он и был потреблён, дальше его судьбу решает
	// duration оригинала... которым он сам и является).
	switch {
	case challenge.ParentID != "":
		s.settleOriginal(ctx, challenge.ParentID)
	case challenge.Standing:
		// Двухместный открытый вызов потребляется сам; если срок ещё не
		// исчерпан, он перевзводится свежей копией.
		s.rearmStanding(ctx, challenge)
	}
	return session, nil
}

// settleOriginal списывает одну партию со срока исходного открытого вызова:
// duration == 1 означает, что эта партия была последней.
func (s *challengeService) settleOriginal(ctx context.Context, originalID string) {
	for attempt := 0; attempt < challengeAttempts; attempt++ {
		original, err := s.challengeRepo.GetByID(ctx, originalID)
		if err != nil {
			if !errors.Is(err, repositories.ErrChallengeNotFound) {
				s.logger.Error("failed to settle standing challenge duration",
					slog.String("challenge_id", originalID), slog.Any("error", err))
			}
			return
		}

		switch {
		case original.Duration == 1:
			if err := s.removeChallenge(ctx, original); err != nil {
				s.logger.Error("failed to expire standing challenge",
					slog.String("challenge_id", originalID), slog.Any("error", err))
			}
			return
		case original.Duration > 1:
			original.Duration--
		default:
			return // бессрочный
		}

		err = s.challengeRepo.Update(ctx, original)
		if err == nil {
			return
		}
		if !errors.Is(err, repositories.ErrChallengeConflict) {
			s.logger.Error("failed to settle standing challenge duration",
				slog.String("challenge_id", originalID), slog.Any("error", err))
			return
		}
	}
	s.logger.Error("gave up settling standing challenge duration",
		slog.String("challenge_id", originalID))
}

// rearmStanding возвращает потреблённый двухместный открытый вызов в строй,
// если его срок не исчерпан.
func (s *challengeService) rearmStanding(ctx context.Context, consumed *models.Challenge) {
	if consumed.Duration == 1 {
		return // последняя партия, перевзводить нечего
	}

	fresh := &models.Challenge{
		ID:              uuid.NewString(),
		GameType:        consumed.GameType,
		RequiredPlayers: consumed.RequiredPlayers,
		Seating:         consumed.Seating,
		Variants:        consumed.Variants,
		Clock:           consumed.Clock,
		Rated:           consumed.Rated,
		ChallengerID:    consumed.ChallengerID,
		ChallengerName:  consumed.ChallengerName,
		Accepted:        []string{consumed.ChallengerID},
		Standing:        true,
		Spawned:         consumed.Spawned,
		CreatedAt:       time.Now(),
	}
	if consumed.Duration > 1 {
		fresh.Duration = consumed.Duration - 1
	}

	if err := s.challengeRepo.Create(ctx, fresh); err != nil {
		s.logger.Error("failed to rearm standing challenge",
			slog.String("challenge_id", consumed.ID), slog.Any("error", err))
		return
	}
	if err := s.addChallengeRef(ctx, consumed.ChallengerID, fresh, models.ChallengeStanding); err != nil {
		s.logger.Error("failed to reference rearmed standing challenge",
			slog.String("challenge_id", fresh.ID), slog.Any("error", err))
	}
}

func (s *challengeService) Revoke(ctx context.Context, userID, challengeID string) error {
	challenge, err := s.challengeRepo.GetByID(ctx, challengeID)
	if err != nil {
		if errors.Is(err, repositories.ErrChallengeNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %w", ErrChallengeLifecycle, err)
	}
	if challenge.ChallengerID != userID {
		return fmt.Errorf("%w: only the challenger can revoke", ErrNotOwner)
	}

	if err := s.removeChallenge(ctx, challenge); err != nil {
		return err
	}

	for _, uid := range s.touchedUsers(challenge) {
		if uid == userID {
			continue
		}
		s.notify(ctx, uid, TemplateChallengeRevoked, map[string]any{
			"challenger": challenge.ChallengerName,
			"game":       challenge.GameType,
		})
	}
	s.logger.Info("challenge revoked", slog.String("challenge_id", challengeID))
	return nil
}

func (s *challengeService) Decline(ctx context.Context, userID, challengeID string) error {
	challenge, err := s.challengeRepo.GetByID(ctx, challengeID)
	if err != nil {
		if errors.Is(err, repositories.ErrChallengeNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %w", ErrChallengeLifecycle, err)
	}
	if userID == challenge.ChallengerID || (!challenge.IsInvited(userID) && !challenge.HasAccepted(userID)) {
		return fmt.Errorf("%w: not a party to this challenge", ErrNotParticipant)
	}

	if err := s.removeChallenge(ctx, challenge); err != nil {
		return err
	}

	s.notify(ctx, challenge.ChallengerID, TemplateChallengeDeclined, map[string]any{
		"decliner": s.nameOf(ctx, userID),
		"game":     challenge.GameType,
	})
	s.logger.Info("challenge declined",
		slog.String("challenge_id", challengeID), slog.String("user_id", userID))
	return nil
}

func (s *challengeService) ListForUser(ctx context.Context, userID string) ([]*models.Challenge, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return []*models.Challenge{}, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrChallengeLifecycle, err)
	}

	challenges := make([]*models.Challenge, 0, len(user.Challenges))
	for _, ref := range user.Challenges {
		challenge, err := s.challengeRepo.GetByID(ctx, ref.ID)
		if err != nil {
			if errors.Is(err, repositories.ErrChallengeNotFound) {
				continue // устаревшая ссылка, подчистится при следующем касании
			}
			return nil, fmt.Errorf("%w: %w", ErrChallengeLifecycle, err)
		}
		challenges = append(challenges, challenge)
	}
	return challenges, nil
}

func (s *challengeService) ListStanding(ctx context.Context, gameType string) ([]*models.Challenge, error) {
	challenges, err := s.challengeRepo.ListStandingByGame(ctx, gameType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChallengeLifecycle, err)
	}
	return challenges, nil
}

// removeChallenge снимает вызов и вычищает ссылки у всех причастных.
func (s *challengeService) removeChallenge(ctx context.Context, challenge *models.Challenge) error {
	if err := s.challengeRepo.Delete(ctx, challenge); err != nil &&
		!errors.Is(err, repositories.ErrChallengeNotFound) {
		return fmt.Errorf("%w: %w", ErrChallengeLifecycle, err)
	}

	for _, uid := range s.touchedUsers(challenge) {
		if err := s.dropChallengeRef(ctx, uid, challenge.ID); err != nil {
			s.logger.Warn("failed to drop challenge reference",
				slog.String("challenge_id", challenge.ID),
				slog.String("user_id", uid),
				slog.Any("error", err))
		}
	}
	return nil
}

// touchedUsers — все пользователи, у которых могла остаться ссылка на вызов.
func (s *challengeService) touchedUsers(challenge *models.Challenge) []string {
	seen := map[string]bool{}
	var users []string
	for _, uid := range append(append([]string{}, challenge.Accepted...), challenge.Invited...) {
		if !seen[uid] {
			seen[uid] = true
			users = append(users, uid)
		}
	}
	return users
}

// recordAcceptance обновляет ссылку принявшего: приглашение становится
// занятым местом.
func (s *challengeService) recordAcceptance(ctx context.Context, userID string, challenge *models.Challenge) error {
	return s.updateUserRefs(ctx, userID, func(user *models.User) {
		if idx := user.ChallengeRefIndex(challenge.ID); idx >= 0 {
			user.Challenges[idx].Status = models.ChallengeAccepted
			return
		}
		user.Challenges = append(user.Challenges, models.ChallengeRef{
			ID:       challenge.ID,
			GameType: challenge.GameType,
			Status:   models.ChallengeAccepted,
		})
	})
}

func (s *challengeService) addChallengeRef(ctx context.Context, userID string, challenge *models.Challenge, status models.ChallengeRefStatus) error {
	return s.updateUserRefs(ctx, userID, func(user *models.User) {
		if user.ChallengeRefIndex(challenge.ID) >= 0 {
			return
		}
		user.Challenges = append(user.Challenges, models.ChallengeRef{
			ID:       challenge.ID,
			GameType: challenge.GameType,
			Status:   status,
		})
	})
}

func (s *challengeService) dropChallengeRef(ctx context.Context, userID, challengeID string) error {
	return s.updateUserRefs(ctx, userID, func(user *models.User) {
		if idx := user.ChallengeRefIndex(challengeID); idx >= 0 {
			user.Challenges = append(user.Challenges[:idx], user.Challenges[idx+1:]...)
		}
	})
}

// updateUserRefs применяет правку личного списка ссылок через ограниченный
// compare-and-swap цикл.
func (s *challengeService) updateUserRefs(ctx context.Context, userID string, apply func(*models.User)) error {
	var lastErr error
	for attempt := 0; attempt < challengeAttempts; attempt++ {
		user, err := s.userRepo.GetOrCreate(ctx, userID)
		if err != nil {
			return fmt.Errorf("%w: user %s: %w", ErrChallengeLifecycle, userID, err)
		}
		apply(user)
		err = s.userRepo.Update(ctx, user)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repositories.ErrUserConflict) {
			return fmt.Errorf("%w: user %s: %w", ErrChallengeLifecycle, userID, err)
		}
		lastErr = err
	}
	return fmt.Errorf("%w: user %s: %w", ErrChallengeLifecycle, userID, lastErr)
}

func (s *challengeService) nameOf(ctx context.Context, userID string) string {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil || user.Name == "" {
		return userID
	}
	return user.Name
}

func (s *challengeService) notify(ctx context.Context, userID, templateKey string, params map[string]any) {
	locale := ""
	if user, err := s.userRepo.GetByID(ctx, userID); err == nil {
		locale = user.Locale
	}
	if err := s.notifier.Send(ctx, userID, templateKey, locale, params); err != nil {
		s.logger.Warn("failed to send challenge notification",
			slog.String("user_id", userID),
			slog.String("template", templateKey),
			slog.Any("error", err))
	}
}
