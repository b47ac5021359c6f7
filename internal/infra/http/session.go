package http

import (
	"context"
	"net/http"
	"strings"

	"liuyan-board/internal/domain"
)

// SessionVerifier проверяет токен сессии.
type SessionVerifier interface {
	VerifySession(ctx context.Context, token string) (domain.Session, error)
}

type sessionKey struct{}

type tokenKey struct{}

// BearerToken извлекает токен из заголовка Authorization.
func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// WithSession кладёт сессию в контекст, если запрос несёт действительный токен.
// Запрос без токена или с недействительным токеном проходит как анонимный.
func WithSession(v SessionVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			sess, err := v.VerifySession(r.Context(), token)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := context.WithValue(r.Context(), sessionKey{}, sess)
			ctx = context.WithValue(ctx, tokenKey{}, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSession отвечает 401, если WithSession не нашёл сессию.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := SessionFromContext(r.Context()); !ok {
			WriteError(w, domain.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SessionFromContext возвращает сессию текущего запроса.
func SessionFromContext(ctx context.Context) (domain.Session, bool) {
	sess, ok := ctx.Value(sessionKey{}).(domain.Session)
	return sess, ok
}

// TokenFromContext возвращает проверенный токен текущего запроса.
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}
