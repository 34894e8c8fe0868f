package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/AbstractPlay/session-engine/models"
	"github.com/AbstractPlay/session-engine/store"
)

// GameListRepository хранит денормализованные проекции партий и агрегатные
// счётчики «текущих»/«завершённых» по типу игры. Записи под разными ключами
// веера не атомарны между собой — это обязан терпеть читатель.
type GameListRepository interface {
	PutEntry(ctx context.Context, partition models.ListPartition, key string, entry *models.GameListEntry) error
	DeleteEntry(ctx context.Context, partition models.ListPartition, key string) error

	// ListAll / ListByGame / ListByPlayer / ListByGamePlayer — четыре
	// запросных среза, симметричных ключам веера.
	ListAll(ctx context.Context, partition models.ListPartition) ([]*models.GameListEntry, error)
	ListByGame(ctx context.Context, partition models.ListPartition, gameType string) ([]*models.GameListEntry, error)
	ListByPlayer(ctx context.Context, partition models.ListPartition, userID string) ([]*models.GameListEntry, error)
	ListByGamePlayer(ctx context.Context, partition models.ListPartition, gameType, userID string) ([]*models.GameListEntry, error)

	AddCounter(ctx context.Context, partition models.ListPartition, gameType string, delta int64) (int64, error)
	Counter(ctx context.Context, partition models.ListPartition, gameType string) (int64, error)
}

type storeGameListRepository struct {
	st store.Store
}

func NewStoreGameListRepository(st store.Store) GameListRepository {
	return &storeGameListRepository{st: st}
}

func (r *storeGameListRepository) PutEntry(ctx context.Context, partition models.ListPartition, key string, entry *models.GameListEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal list entry %s: %w", entry.ID, err)
	}
	return r.st.Put(ctx, &store.Record{PK: listPK(partition), SK: key, Payload: payload})
}

func (r *storeGameListRepository) DeleteEntry(ctx context.Context, partition models.ListPartition, key string) error {
	err := r.st.Delete(ctx, listPK(partition), key)
	if errors.Is(err, store.ErrRecordNotFound) {
		// Идемпотентность: повторная зачистка после частичного веера —
		// нормальный ход событий.
		return nil
	}
	return err
}

func (r *storeGameListRepository) ListAll(ctx context.Context, partition models.ListPartition) ([]*models.GameListEntry, error) {
	return r.list(ctx, partition, "ALL#")
}

func (r *storeGameListRepository) ListByGame(ctx context.Context, partition models.ListPartition, gameType string) ([]*models.GameListEntry, error) {
	return r.list(ctx, partition, "TYPE#"+gameType+"#ALL#")
}

func (r *storeGameListRepository) ListByPlayer(ctx context.Context, partition models.ListPartition, userID string) ([]*models.GameListEntry, error) {
	return r.list(ctx, partition, "PLAYER#"+userID+"#")
}

func (r *storeGameListRepository) ListByGamePlayer(ctx context.Context, partition models.ListPartition, gameType, userID string) ([]*models.GameListEntry, error) {
	return r.list(ctx, partition, "TYPE#"+gameType+"#PLAYER#"+userID+"#")
}

func (r *storeGameListRepository) list(ctx context.Context, partition models.ListPartition, prefix string) ([]*models.GameListEntry, error) {
	recs, err := r.st.Query(ctx, listPK(partition), prefix)
	if err != nil {
		return nil, err
	}

	entries := make([]*models.GameListEntry, 0, len(recs))
	for _, rec := range recs {
		entry := &models.GameListEntry{}
		if err := json.Unmarshal(rec.Payload, entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal list entry %s: %w", rec.SK, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (r *storeGameListRepository) AddCounter(ctx context.Context, partition models.ListPartition, gameType string, delta int64) (int64, error) {
	return r.st.Add(ctx, pkCounter, counterSK(partition, gameType), delta)
}

func (r *storeGameListRepository) Counter(ctx context.Context, partition models.ListPartition, gameType string) (int64, error) {
	return r.st.Add(ctx, pkCounter, counterSK(partition, gameType), 0)
}
