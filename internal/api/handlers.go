package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"dianita/internal/auth"
	"dianita/internal/core"
	"dianita/internal/store"
)

type contextKey string

const userContextKey contextKey = "user"

type APIHandler struct {
	users     *core.UserService
	chats     *core.ChatService
	prefs     *core.PrefsService
	jwtSecret []byte
	logger    zerolog.Logger
}

func NewAPIHandler(users *core.UserService, chats *core.ChatService, prefs *core.PrefsService, jwtSecret []byte, logger zerolog.Logger) *APIHandler {
	return &APIHandler{
		users:     users,
		chats:     chats,
		prefs:     prefs,
		jwtSecret: jwtSecret,
		logger:    logger,
	}
}

// SessionMiddleware verifies the session token, resolves (upserting) the user
// row, and stores it on the request context. Every authenticated route pays
// for exactly one upsert here.
func (h *APIHandler) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		} else if cookie, err := r.Cookie("session"); err == nil {
			token = cookie.Value
		}
		if token == "" {
			h.writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		claims, err := auth.ValidateToken(h.jwtSecret, token)
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		user, err := h.users.Resolve(r.Context(), core.IdentityClaims{
			Email:   claims.Email,
			Name:    claims.Name,
			Picture: claims.Picture,
		})
		if err != nil {
			if errors.Is(err, core.ErrUnauthenticated) {
				h.writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			h.logger.Error().Err(err).Msg("failed to resolve user identity")
			h.writeError(w, http.StatusInternalServerError, "Failed to process user identity")
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFrom(r *http.Request) *store.User {
	user, _ := r.Context().Value(userContextKey).(*store.User)
	return user
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type registeredUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (h *APIHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.users.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]registeredUser{
		"user": {ID: user.ID, Email: user.Email},
	})
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	claims := auth.Claims{UserID: user.ID, Email: user.Email}
	if user.Name != nil {
		claims.Name = *user.Name
	}
	if user.Image != nil {
		claims.Picture = *user.Image
	}
	token, err := auth.GenerateToken(h.jwtSecret, claims)
	if err != nil {
		h.logger.Error().Err(err).Str("email", user.Email).Msg("failed to generate session token")
		h.writeError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "session",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  registeredUser{ID: user.ID, Email: user.Email},
	})
}

type ChatRequest struct {
	ChatID    string `json:"chatId"`
	Message   string `json:"message"`
	WebSearch bool   `json:"webSearch"`
}

type ChatResponse struct {
	Reply   string         `json:"reply"`
	Sources []store.Source `json:"sources"`
}

func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.chats.AppendTurn(r.Context(), user, req.ChatID, req.Message, req.WebSearch)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	sources := result.Sources
	if sources == nil {
		sources = []store.Source{}
	}
	writeJSON(w, http.StatusOK, ChatResponse{Reply: result.Reply, Sources: sources})
}

func (h *APIHandler) ListChatsHandler(w http.ResponseWriter, r *http.Request) {
	chats, err := h.chats.ListChats(r.Context(), userFrom(r))
	if err != nil {
		h.serviceError(w, err)
		return
	}
	if chats == nil {
		chats = []store.ChatSession{}
	}
	writeJSON(w, http.StatusOK, map[string][]store.ChatSession{"chats": chats})
}

func (h *APIHandler) CreateChatHandler(w http.ResponseWriter, r *http.Request) {
	chat, err := h.chats.CreateChat(r.Context(), userFrom(r))
	if err != nil {
		h.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]*store.ChatSession{"chat": chat})
}

type RenameChatRequest struct {
	Title string `json:"title"`
}

func (h *APIHandler) RenameChatHandler(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")

	var req RenameChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	chat, err := h.chats.RenameChat(r.Context(), userFrom(r), chatID, req.Title)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*store.ChatSession{"chat": chat})
}

func (h *APIHandler) GetChatMessagesHandler(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")

	messages, err := h.chats.GetHistory(r.Context(), userFrom(r), chatID)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	if messages == nil {
		messages = []store.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, map[string][]store.ChatMessage{"messages": messages})
}

func (h *APIHandler) GetPreferencesHandler(w http.ResponseWriter, r *http.Request) {
	theme, err := h.prefs.GetTheme(r.Context(), userFrom(r))
	if err != nil {
		h.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]map[string]string{"theme": theme})
}

type PutPreferencesRequest struct {
	Theme map[string]string `json:"theme"`
}

func (h *APIHandler) PutPreferencesHandler(w http.ResponseWriter, r *http.Request) {
	var req PutPreferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	theme, err := h.prefs.SetTheme(r.Context(), userFrom(r), req.Theme)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]map[string]string{"theme": theme})
}

// serviceError maps core/store sentinels to statuses. Ownership failures stay
// indistinguishable from missing entities.
func (h *APIHandler) serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, core.ErrAlreadyExists):
		h.writeError(w, http.StatusConflict, "An account with this email already exists.")
	case errors.Is(err, core.ErrInvalidCredentials):
		h.writeError(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, core.ErrUnauthenticated):
		h.writeError(w, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, core.ErrProvider):
		h.writeError(w, http.StatusInternalServerError, err.Error())
	default:
		h.logger.Error().Err(err).Msg("request failed")
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *APIHandler) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
