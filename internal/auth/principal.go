package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/carebook/carebook/internal/authz"
	"github.com/carebook/carebook/internal/platform/httpx"
	"github.com/carebook/carebook/internal/shared"
)

// PrincipalMiddleware resolves the session's user into an authorization
// principal on the request context. Requests without a valid session simply
// continue unauthenticated; the guards downstream answer 401. A failing user
// lookup fails closed with 500.
func PrincipalMiddleware(service *Service, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := shared.SessionFromContext(r.Context())
			if sess == nil || sess.User() == "" {
				next.ServeHTTP(w, r)
				return
			}
			userID, err := strconv.ParseInt(sess.User(), 10, 64)
			if err != nil || userID <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			user, err := service.LoadUser(r.Context(), userID)
			if err != nil {
				if errors.Is(err, shared.ErrNotFound) {
					// Account deleted since login; drop the association.
					sess.SetUser("")
					next.ServeHTTP(w, r)
					return
				}
				logger.Error("principal load", slog.Int64("user_id", userID), slog.Any("error", err))
				httpx.Message(w, http.StatusInternalServerError, "authentication unavailable")
				return
			}

			ctx := authz.ContextWithPrincipal(r.Context(), user.Principal())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
