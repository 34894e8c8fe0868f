package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/AbstractPlay/session-engine/middleware"
	"github.com/AbstractPlay/session-engine/models"
	"github.com/AbstractPlay/session-engine/services"
)

type SessionHandler struct {
	sessionService services.SessionService
	moveService    services.MoveService
}

func NewSessionHandler(ss services.SessionService, ms services.MoveService) *SessionHandler {
	return &SessionHandler{sessionService: ss, moveService: ms}
}

func (h *SessionHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	view, err := h.sessionService.Get(r.Context(), sessionID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"game": view}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// ListHandler отдаёт листинги партий: ?status=current|completed,
// опционально ?game= и ?player= (или player=me).
func (h *SessionHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	partition := models.ListCurrent
	if r.URL.Query().Get("status") == "completed" {
		partition = models.ListCompleted
	}

	filter := services.ListFilter{
		GameType: r.URL.Query().Get("game"),
		UserID:   r.URL.Query().Get("player"),
	}
	if filter.UserID == "me" {
		currentUserID, err := middleware.GetUserIDFromContext(r.Context())
		if err != nil {
			unauthorizedResponse(w, r, "failed to identify current user")
			return
		}
		filter.UserID = currentUserID
	}

	entries, err := h.sessionService.List(r.Context(), partition, filter)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	response := jsonResponse{"games": entries}
	if filter.GameType != "" && filter.UserID == "" {
		count, err := h.sessionService.Count(r.Context(), partition, filter.GameType)
		if err == nil {
			response["count"] = count
		}
	}

	if err := writeJSON(w, http.StatusOK, response, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *SessionHandler) MoveHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	currentUserID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "failed to identify current user")
		return
	}

	var input struct {
		Move string `json:"move"`
	}
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	sess, err := h.moveService.SubmitMove(r.Context(), currentUserID, sessionID, input.Move)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"game": services.ViewOf(sess)}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *SessionHandler) ResignHandler(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, h.moveService.Resign)
}

func (h *SessionHandler) TimeoutHandler(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, h.moveService.ClaimTimeout)
}

func (h *SessionHandler) PieHandler(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, h.moveService.InvokePie)
}

// DrawHandler принимает {"action": "offer"} либо {"action": "accept"}.
func (h *SessionHandler) DrawHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	currentUserID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "failed to identify current user")
		return
	}

	var input struct {
		Action string `json:"action"`
	}
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var transition func(ctx context.Context, userID, sessionID string) (*models.GameSession, error)
	switch input.Action {
	case "offer":
		transition = h.moveService.OfferDraw
	case "accept":
		transition = h.moveService.AcceptDraw
	default:
		unprocessableResponse(w, r, "action must be \"offer\" or \"accept\"")
		return
	}

	h.transitionWith(w, r, currentUserID, sessionID, transition)
}

func (h *SessionHandler) transitionWith(
	w http.ResponseWriter,
	r *http.Request,
	userID, sessionID string,
	transition func(ctx context.Context, userID, sessionID string) (*models.GameSession, error),
) {
	sess, err := transition(r.Context(), userID, sessionID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"game": services.ViewOf(sess)}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// simpleTransition — общий каркас для переходов без тела запроса.
func (h *SessionHandler) simpleTransition(
	w http.ResponseWriter,
	r *http.Request,
	transition func(ctx context.Context, userID, sessionID string) (*models.GameSession, error),
) {
	sessionID := chi.URLParam(r, "sessionID")
	currentUserID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "failed to identify current user")
		return
	}

	h.transitionWith(w, r, currentUserID, sessionID, transition)
}
