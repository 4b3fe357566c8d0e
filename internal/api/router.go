package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling
	r.Use(requestLogger(apiHandler.logger))

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Post("/auth/register", apiHandler.RegisterHandler)
	r.Post("/auth/login", apiHandler.LoginHandler)

	// Session-authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(apiHandler.SessionMiddleware)

		r.Post("/chat", apiHandler.ChatHandler)

		r.Get("/chats", apiHandler.ListChatsHandler)
		r.Post("/chats", apiHandler.CreateChatHandler)
		r.Put("/chats/{chatID}", apiHandler.RenameChatHandler)
		r.Get("/chats/{chatID}/messages", apiHandler.GetChatMessagesHandler)

		r.Get("/preferences", apiHandler.GetPreferencesHandler)
		r.Put("/preferences", apiHandler.PutPreferencesHandler)
	})

	return r
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}
