package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/AbstractPlay/session-engine/models"
	"github.com/AbstractPlay/session-engine/store"
)

// RatingRepository хранит рейтинговые записи по разделу на тип игры.
// Отсутствующая запись — это запись по умолчанию, а не ошибка.
type RatingRepository interface {
	Get(ctx context.Context, gameType, userID string) (*models.Rating, error)
	Put(ctx context.Context, rating *models.Rating) error
	ListByGame(ctx context.Context, gameType string) ([]*models.Rating, error)
}

type storeRatingRepository struct {
	st store.Store
}

func NewStoreRatingRepository(st store.Store) RatingRepository {
	return &storeRatingRepository{st: st}
}

func (r *storeRatingRepository) Get(ctx context.Context, gameType, userID string) (*models.Rating, error) {
	rec, err := r.st.Get(ctx, ratingPK(gameType), userID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return models.NewRating(userID, gameType), nil
		}
		return nil, err
	}

	rating := &models.Rating{}
	if err := json.Unmarshal(rec.Payload, rating); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rating %s/%s: %w", gameType, userID, err)
	}
	return rating, nil
}

func (r *storeRatingRepository) Put(ctx context.Context, rating *models.Rating) error {
	payload, err := json.Marshal(rating)
	if err != nil {
		return fmt.Errorf("failed to marshal rating %s/%s: %w", rating.GameType, rating.UserID, err)
	}
	rec := &store.Record{PK: ratingPK(rating.GameType), SK: rating.UserID, Payload: payload}
	return r.st.Put(ctx, rec)
}

func (r *storeRatingRepository) ListByGame(ctx context.Context, gameType string) ([]*models.Rating, error) {
	recs, err := r.st.Query(ctx, ratingPK(gameType), "")
	if err != nil {
		return nil, err
	}

	ratings := make([]*models.Rating, 0, len(recs))
	for _, rec := range recs {
		rating := &models.Rating{}
		if err := json.Unmarshal(rec.Payload, rating); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rating %s/%s: %w", gameType, rec.SK, err)
		}
		ratings = append(ratings, rating)
	}
	return ratings, nil
}
