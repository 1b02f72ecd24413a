package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/safar/storefront/internal/models"
)

type UserStore interface {
	EnsureUser(ctx context.Context, email, name string) (*models.User, error)
}

type ctxKey int

const userKey ctxKey = iota

// Identity trusts the authenticating proxy in front of the storefront: the
// proxy forwards the signed-in shopper's email in UserHeader. Users are
// created on first sight.
type Identity struct {
	Users      UserStore
	UserHeader string
	NameHeader string
	Logger     *slog.Logger
}

func (i *Identity) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email := strings.TrimSpace(r.Header.Get(i.UserHeader))
		if email == "" {
			next.ServeHTTP(w, r)
			return
		}

		user, err := i.Users.EnsureUser(r.Context(), email, strings.TrimSpace(r.Header.Get(i.NameHeader)))
		if err != nil {
			i.Logger.Error("resolve user", "error", err)
			httpError(w, http.StatusInternalServerError)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns nil for anonymous requests.
func UserFromContext(ctx context.Context) *models.User {
	user, _ := ctx.Value(userKey).(*models.User)
	return user
}
