package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/AbstractPlay/session-engine/broadcast"
	"github.com/AbstractPlay/session-engine/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// В продакшене здесь должна быть проверка Origin,
		// чтобы разрешать подключения только с доверенных доменов.
		return true
	},
}

type WebSocketHandler struct {
	hub    *broadcast.Hub
	logger *slog.Logger
}

func NewWebSocketHandler(hub *broadcast.Hub, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, logger: logger}
}

// ServeWs подписывает клиента на комнату конкретной партии.
// Клиент подключается к /ws/games/{sessionID}.
func (h *WebSocketHandler) ServeWs(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "Missing sessionID", http.StatusBadRequest)
		return
	}

	// Подписка доступна и без аутентификации (наблюдатели); идентификатор
	// нужен лишь для исключения автора события из рассылки.
	userID, _ := middleware.GetUserIDFromContext(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade websocket connection",
			slog.String("session_id", sessionID), slog.Any("error", err))
		// upgrader.Upgrade сам отправляет HTTP ошибку клиенту.
		return
	}

	client := broadcast.NewClient(h.hub, conn, sessionID, userID)
	h.hub.Register <- client

	go client.WritePump()
	go client.ReadPump()

	h.logger.Debug("websocket client joined game room",
		slog.String("session_id", sessionID))
}
