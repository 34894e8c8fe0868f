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
	ErrSessionNotFound = errors.New("game session not found")
	// ErrSessionConflict — параллельный писатель успел первым; перечитать
	// и перепроверить право хода.
	ErrSessionConflict = errors.New("game session version conflict")
)

// SessionRepository хранит авторитетные записи партий. Записи не удаляются;
// перемещение между «текущим» и «завершённым» — забота индексных списков.
type SessionRepository interface {
	Create(ctx context.Context, session *models.GameSession) error
	GetByID(ctx context.Context, id string) (*models.GameSession, error)
	// Update — compare-and-swap по session.Version. Единственный способ
	// мутировать партию: гарантирует не больше одного успешного применения
	// хода на логический ход.
	Update(ctx context.Context, session *models.GameSession) error
}

type storeSessionRepository struct {
	st store.Store
}

func NewStoreSessionRepository(st store.Store) SessionRepository {
	return &storeSessionRepository{st: st}
}

func (r *storeSessionRepository) Create(ctx context.Context, session *models.GameSession) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", session.ID, err)
	}

	rec := &store.Record{PK: pkSession, SK: session.ID, Payload: payload}
	if err := r.st.Put(ctx, rec); err != nil {
		return err
	}
	session.Version = rec.Version
	return nil
}

func (r *storeSessionRepository) GetByID(ctx context.Context, id string) (*models.GameSession, error) {
	rec, err := r.st.Get(ctx, pkSession, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	session := &models.GameSession{}
	if err := json.Unmarshal(rec.Payload, session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", id, err)
	}
	session.Version = rec.Version
	return session, nil
}

func (r *storeSessionRepository) Update(ctx context.Context, session *models.GameSession) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", session.ID, err)
	}

	rec := &store.Record{PK: pkSession, SK: session.ID, Payload: payload}
	err = r.st.Update(ctx, rec, session.Version)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrRecordNotFound):
			return ErrSessionNotFound
		case errors.Is(err, store.ErrVersionConflict):
			return ErrSessionConflict
		}
		return err
	}
	session.Version = rec.Version
	return nil
}
