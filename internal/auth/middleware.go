package auth

import (
	"context"
	"net/http"
	"time"
)

type contextKey string

const UserIDKey contextKey = "user_id"

// AuthMiddleware guards raw chi routes. It accepts an X-API-KEY header or the
// session cookie and stores the user id on the request context.
func (h *AuthHandler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if apiKey := r.Header.Get("X-API-KEY"); apiKey != "" {
			userID, err := h.userFromAPIKey(r.Context(), apiKey)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		cookie, err := r.Cookie(CookieName)
		if err != nil {
			http.Error(w, "Unauthorized: No token found", http.StatusUnauthorized)
			return
		}

		userID, exp, err := h.staffClaims(cookie.Value)
		if err != nil {
			http.Error(w, "Unauthorized: Invalid token", http.StatusUnauthorized)
			return
		}
		h.renew(w, userID, exp)

		ctx := context.WithValue(r.Context(), UserIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SlidingSession renews a valid session cookie past half its lifetime and
// otherwise lets the request through untouched. It wraps the huma routes,
// which authorize inside their handlers.
func (h *AuthHandler) SlidingSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie(CookieName); err == nil {
			if userID, exp, err := h.staffClaims(cookie.Value); err == nil {
				h.renew(w, userID, exp)
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (h *AuthHandler) renew(w http.ResponseWriter, userID uint, exp time.Time) {
	if exp.IsZero() || time.Until(exp) >= TokenDuration/2 {
		return
	}
	newToken, err := h.GenerateToken(userID)
	if err != nil {
		return
	}
	http.SetCookie(w, h.sessionCookie(newToken))
}
