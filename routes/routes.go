package routes

import (
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware" // Alias to avoid conflict
	"github.com/go-chi/cors"

	"github.com/AbstractPlay/session-engine/handlers"
	"github.com/AbstractPlay/session-engine/middleware"
)

// SetupRoutes настраивает маршруты API поверх переданного роутера.
func SetupRoutes(
	router *chi.Mux,
	jwtSecret string,
	challengeHandler *handlers.ChallengeHandler,
	sessionHandler *handlers.SessionHandler,
	ratingHandler *handlers.RatingHandler,
	webSocketHandler *handlers.WebSocketHandler,
) {
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	authenticate := middleware.Authenticate(jwtSecret)
	maybeAuthenticate := middleware.AuthenticateOptional(jwtSecret)

	router.Route("/challenges", func(r chi.Router) {
		// Публичный листинг открытых вызовов по игре
		r.Get("/standing/{gameType}", challengeHandler.ListStandingHandler)

		r.Group(func(r chi.Router) {
			r.Use(authenticate)

			r.Post("/", challengeHandler.ProposeHandler)
			r.Get("/", challengeHandler.ListMineHandler)
			r.Post("/{challengeID}/accept", challengeHandler.AcceptHandler)
			r.Post("/{challengeID}/decline", challengeHandler.DeclineHandler)
			r.Delete("/{challengeID}", challengeHandler.RevokeHandler)
		})
	})

	router.Route("/games", func(r chi.Router) {
		// Публичные маршруты для просмотра партий
		r.With(maybeAuthenticate).Get("/", sessionHandler.ListHandler)
		r.Get("/{sessionID}", sessionHandler.GetHandler)

		r.Group(func(r chi.Router) {
			r.Use(authenticate)

			r.Post("/{sessionID}/move", sessionHandler.MoveHandler)
			r.Post("/{sessionID}/draw", sessionHandler.DrawHandler)
			r.Post("/{sessionID}/resign", sessionHandler.ResignHandler)
			r.Post("/{sessionID}/timeout", sessionHandler.TimeoutHandler)
			r.Post("/{sessionID}/pie", sessionHandler.PieHandler)
		})
	})

	router.Route("/ratings", func(r chi.Router) {
		r.Get("/{gameType}", ratingHandler.ListHandler)
		r.Get("/{gameType}/{userID}", ratingHandler.GetHandler)
	})

	router.With(maybeAuthenticate).Get("/ws/games/{sessionID}", webSocketHandler.ServeWs)
}
