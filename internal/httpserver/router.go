package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"chatcore/internal/chat"
	"chatcore/internal/config"
	"chatcore/internal/domain"
	"chatcore/internal/security"
	"chatcore/internal/service"
	"chatcore/internal/ws"
)

// Deps bundles everything the router wires together.
type Deps struct {
	Config     *config.Config
	Users      domain.UserRepository
	AuthSvc    *service.AuthService
	UserSvc    *service.UserService
	Directory  *chat.Directory
	Messages   *chat.MessageService
	Dispatcher *chat.Dispatcher
	Gateway    *ws.Gateway
	Tokens     *security.TokenService
}

// NewRouter constructs the main HTTP router and wires routes and middleware.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.Config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", handleRegister(d.AuthSvc))
			r.Post("/login", handleLogin(d.AuthSvc))
		})

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(d.Tokens, d.Users))

			r.Post("/auth/logout", handleLogout())
			r.Get("/auth/me", handleMe())

			r.Route("/users", func(r chi.Router) {
				r.Get("/", handleListUsers(d.UserSvc))
				r.Get("/online", handleListOnlineUsers(d.UserSvc))
				r.Get("/{userID}", handleGetUser(d.UserSvc))
			})

			r.Route("/conversations", func(r chi.Router) {
				r.Post("/", handleFindOrCreateConversation(d.Directory))
				r.Get("/", handleListConversations(d.Directory, d.Messages))
				r.Get("/{conversationID}", handleGetConversation(d.Directory, d.Messages))
				r.Post("/{conversationID}/read", handleMarkConversationRead(d.Dispatcher))
				r.Get("/{conversationID}/messages", handleListMessages(d.Messages))
			})
		})
	})

	// WebSocket endpoint; the upgrade is the connect intent.
	r.Get("/ws", d.Gateway.MakeHandler(d.Config.CORSOrigins))

	return r
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps the domain error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidTransition):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
