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
	ErrUserNotFound = errors.New("user not found")
	ErrUserConflict = errors.New("user version conflict")
)

// UserRepository хранит записи игроков вместе с их личными денормализованными
// списками (ссылки на вызовы, сводки партий).
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	// GetOrCreate возвращает запись, создавая пустую при первом обращении:
	// идентичность приходит извне, запись заводится лениво.
	GetOrCreate(ctx context.Context, id string) (*models.User, error)
	// Update — compare-and-swap по user.Version.
	Update(ctx context.Context, user *models.User) error
	// List возвращает все записи игроков (фоновые зачистки списков).
	List(ctx context.Context) ([]*models.User, error)
}

type storeUserRepository struct {
	st store.Store
}

func NewStoreUserRepository(st store.Store) UserRepository {
	return &storeUserRepository{st: st}
}

func (r *storeUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	rec, err := r.st.Get(ctx, pkUser, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return unmarshalUser(rec)
}

func (r *storeUserRepository) GetOrCreate(ctx context.Context, id string) (*models.User, error) {
	user, err := r.GetByID(ctx, id)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	user = &models.User{ID: id}
	payload, err := json.Marshal(user)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal user %s: %w", id, err)
	}
	rec := &store.Record{PK: pkUser, SK: id, Payload: payload}
	if err := r.st.Put(ctx, rec); err != nil {
		return nil, err
	}
	user.Version = rec.Version
	return user, nil
}

func (r *storeUserRepository) Update(ctx context.Context, user *models.User) error {
	payload, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user %s: %w", user.ID, err)
	}

	rec := &store.Record{PK: pkUser, SK: user.ID, Payload: payload}
	err = r.st.Update(ctx, rec, user.Version)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrRecordNotFound):
			return ErrUserNotFound
		case errors.Is(err, store.ErrVersionConflict):
			return ErrUserConflict
		}
		return err
	}
	user.Version = rec.Version
	return nil
}

func (r *storeUserRepository) List(ctx context.Context) ([]*models.User, error) {
	recs, err := r.st.Query(ctx, pkUser, "")
	if err != nil {
		return nil, err
	}

	users := make([]*models.User, 0, len(recs))
	for _, rec := range recs {
		user, err := unmarshalUser(rec)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}

func unmarshalUser(rec *store.Record) (*models.User, error) {
	user := &models.User{}
	if err := json.Unmarshal(rec.Payload, user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user %s: %w", rec.SK, err)
	}
	user.Version = rec.Version
	return user, nil
}
