package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/AbstractPlay/session-engine/models"
	"github.com/AbstractPlay/session-engine/store"
)

var (
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrChallengeConflict — версия записи ушла вперёд, нужно перечитать.
	ErrChallengeConflict = errors.New("challenge version conflict")
)

// ChallengeRepository хранит вызовы. Открытые вызовы дополнительно
// индексируются по типу игры тонкой записью-указателем, чтобы листинг
// «открытые вызовы по игре» не сканировал весь раздел.
type ChallengeRepository interface {
	Create(ctx context.Context, challenge *models.Challenge) error
	GetByID(ctx context.Context, id string) (*models.Challenge, error)
	// Update — compare-and-swap по challenge.Version.
	Update(ctx context.Context, challenge *models.Challenge) error
	Delete(ctx context.Context, challenge *models.Challenge) error
	ListStandingByGame(ctx context.Context, gameType string) ([]*models.Challenge, error)
}

type storeChallengeRepository struct {
	st store.Store
}

func NewStoreChallengeRepository(st store.Store) ChallengeRepository {
	return &storeChallengeRepository{st: st}
}

func (r *storeChallengeRepository) Create(ctx context.Context, challenge *models.Challenge) error {
	payload, err := json.Marshal(challenge)
	if err != nil {
		return fmt.Errorf("failed to marshal challenge %s: %w", challenge.ID, err)
	}

	rec := &store.Record{PK: pkChallenge, SK: challenge.ID, Payload: payload}
	if err := r.st.Put(ctx, rec); err != nil {
		return err
	}
	challenge.Version = rec.Version

	if challenge.Standing {
		idx := &store.Record{
			PK:      pkStanding,
			SK:      standingSK(challenge.GameType, challenge.ID),
			Payload: []byte(`"` + challenge.ID + `"`),
		}
		if err := r.st.Put(ctx, idx); err != nil {
			return fmt.Errorf("failed to index standing challenge %s: %w", challenge.ID, err)
		}
	}
	return nil
}

func (r *storeChallengeRepository) GetByID(ctx context.Context, id string) (*models.Challenge, error) {
	rec, err := r.st.Get(ctx, pkChallenge, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, err
	}

	challenge := &models.Challenge{}
	if err := json.Unmarshal(rec.Payload, challenge); err != nil {
		return nil, fmt.Errorf("failed to unmarshal challenge %s: %w", id, err)
	}
	challenge.Version = rec.Version
	return challenge, nil
}

func (r *storeChallengeRepository) Update(ctx context.Context, challenge *models.Challenge) error {
	payload, err := json.Marshal(challenge)
	if err != nil {
		return fmt.Errorf("failed to marshal challenge %s: %w", challenge.ID, err)
	}

	rec := &store.Record{PK: pkChallenge, SK: challenge.ID, Payload: payload}
	err = r.st.Update(ctx, rec, challenge.Version)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrRecordNotFound):
			return ErrChallengeNotFound
		case errors.Is(err, store.ErrVersionConflict):
			return ErrChallengeConflict
		}
		return err
	}
	challenge.Version = rec.Version
	return nil
}

func (r *storeChallengeRepository) Delete(ctx context.Context, challenge *models.Challenge) error {
	if err := r.st.Delete(ctx, pkChallenge, challenge.ID); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return ErrChallengeNotFound
		}
		return err
	}

	if challenge.Standing {
		// Указатель лучше потерять, чем оставить висящим: листинг обязан
		// переживать битые указатели, поэтому ошибку не возвращаем наверх.
		if err := r.st.Delete(ctx, pkStanding, standingSK(challenge.GameType, challenge.ID)); err != nil &&
			!errors.Is(err, store.ErrRecordNotFound) {
			return fmt.Errorf("failed to drop standing index for %s: %w", challenge.ID, err)
		}
	}
	return nil
}

func (r *storeChallengeRepository) ListStandingByGame(ctx context.Context, gameType string) ([]*models.Challenge, error) {
	idx, err := r.st.Query(ctx, pkStanding, gameType+"#")
	if err != nil {
		return nil, err
	}

	challenges := make([]*models.Challenge, 0, len(idx))
	for _, rec := range idx {
		var id string
		if err := json.Unmarshal(rec.Payload, &id); err != nil {
			continue
		}
		challenge, err := r.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, ErrChallengeNotFound) {
				continue // устаревший указатель
			}
			return nil, err
		}
		challenges = append(challenges, challenge)
	}
	return challenges, nil
}
