package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"sunshine.org/internal/auth"
	"sunshine.org/internal/dao"
)

const (
	authHeader    = "Authorization"
	accountHeader = "X-Account"
)

var publicPaths = []string{
	"/v1/dev/token",
	"/v1/info",
	"/metrics",
	"/healthz",
	"/readyz",
}

var errUnauthenticated = dao.NewError(dao.KindAuthorization, "Unauthenticated", "caller is not authenticated")

func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.tokens == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		token, err := auth.BearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := a.tokens.Parse(token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}
		ctx := auth.ContextWithClaims(r.Context(), claims)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// caller returns the account a command runs for. Without a token service
// the node trusts the X-Account header; this mode is meant for local runs
// behind an authenticating proxy.
func (a *API) caller(r *http.Request) (dao.AccountID, error) {
	if acct, ok := auth.AccountFromContext(r.Context()); ok {
		return acct, nil
	}
	if a.tokens != nil {
		return "", errUnauthenticated
	}
	acct := dao.AccountID(strings.TrimSpace(r.Header.Get(accountHeader)))
	if acct == "" {
		return "", fmt.Errorf("%w: %s header is required", errUnauthenticated, accountHeader)
	}
	if err := acct.Validate(); err != nil {
		return "", err
	}
	return acct, nil
}

func (a *API) requireScope(ctx context.Context, scope string) error {
	if a.tokens == nil {
		return nil
	}
	claims, ok := auth.ClaimsFromContext(ctx)
	if !ok || !claims.HasScope(scope) {
		return fmt.Errorf("%w: scope %s required", dao.ErrNotAuthorized, scope)
	}
	return nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
