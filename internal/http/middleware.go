package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/grokgate/internal/models"
)

type contextKey string

const identityKey contextKey = "admin_identity"

func withIdentity(ctx context.Context, identity models.AdminIdentity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext returns the admin authenticated for this request.
func IdentityFromContext(ctx context.Context) (models.AdminIdentity, bool) {
	identity, ok := ctx.Value(identityKey).(models.AdminIdentity)
	return identity, ok
}

// requireSession rejects requests without a valid Bearer session token.
func (h *Handlers) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			h.writeError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid authorization", nil)
			return
		}

		claims, err := h.sessions.Parse(token)
		if err != nil {
			h.logger.Warn("session validation failed",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Error(err),
			)
			h.writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), claims.Identity())))
	})
}

// requireGuildAdmin allows only admins of the {guildID} route parameter.
// Must run after requireSession.
func (h *Handlers) requireGuildAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		guildID := chi.URLParam(r, "guildID")
		if !h.authorize(w, r, guildID) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authorize writes 403 and returns false unless the caller administers guildID.
func (h *Handlers) authorize(w http.ResponseWriter, r *http.Request, guildID string) bool {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Missing admin identity", nil)
		return false
	}

	isAdmin, err := h.store.IsAdmin(r.Context(), identity.DiscordUserID, guildID)
	if err != nil {
		h.handleServiceError(w, err)
		return false
	}
	if !isAdmin {
		h.logger.Warn("admin access denied",
			zap.String("discord_id", identity.DiscordUserID),
			zap.String("guild_id", guildID),
		)
		h.writeError(w, http.StatusForbidden, "forbidden", "Not an admin for this guild", nil)
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// loggingMiddleware logs all HTTP requests
func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			wrappedWriter := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			logger.Debug("HTTP request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
			)

			next.ServeHTTP(wrappedWriter, r)

			logger.Info("HTTP request completed",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrappedWriter.statusCode),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
