package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/AbstractPlay/session-engine/services"
)

type RatingHandler struct {
	ratingService services.RatingService
}

func NewRatingHandler(rs services.RatingService) *RatingHandler {
	return &RatingHandler{ratingService: rs}
}

func (h *RatingHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	gameType := chi.URLParam(r, "gameType")
	userID := chi.URLParam(r, "userID")
	if gameType == "" || userID == "" {
		badRequestResponse(w, r, errors.New("missing game type or user id in URL path"))
		return
	}

	rating, err := h.ratingService.Get(r.Context(), gameType, userID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"rating": rating}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *RatingHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	gameType := chi.URLParam(r, "gameType")
	if gameType == "" {
		badRequestResponse(w, r, errors.New("missing game type in URL path"))
		return
	}

	ratings, err := h.ratingService.ListByGame(r.Context(), gameType)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"ratings": ratings}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
