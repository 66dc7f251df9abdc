package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"comicforge/internal/auth"
	"comicforge/internal/services"
)

// RequestIDHeader carries the correlation id of a request in both directions.
const RequestIDHeader = "X-Request-ID"

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(services.WithRequestID(r.Context(), id)))
	})
}

type userKey struct{}

func userFrom(ctx context.Context) *auth.User {
	user, _ := ctx.Value(userKey{}).(*auth.User)
	return user
}

// authenticated resolves the caller before the handler runs. Unauthenticated
// requests never reach the handler.
func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.identity.AuthenticatedUser(r)
		if err != nil {
			s.writeError(w, r, services.Wrap(services.ErrInternal, "auth", "authenticate", "resolve identity", err))
			return
		}
		if user == nil || strings.TrimSpace(user.ID) == "" {
			s.writeError(w, r, services.Wrap(services.ErrUnauthenticated, "auth", "authenticate", "missing or invalid bearer token", nil))
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	}
}
