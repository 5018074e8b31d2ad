// Package identity resolves the host platform session behind an
// authorization request. The OAuth server never manages logins itself; it
// trusts the platform fronting it.
package identity

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
)

// ErrNoSession signals an unauthenticated or guest request. Callers redirect
// the user agent to the platform login page.
var ErrNoSession = errors.New("identity: no session")

// Resolver maps an incoming request to the logged-in platform user.
type Resolver interface {
	Resolve(r *http.Request) (int64, error)
}

// HeaderResolver trusts a header injected by the fronting platform or proxy.
// A zero or missing value means guest.
type HeaderResolver struct {
	Header string
}

var _ Resolver = (*HeaderResolver)(nil)

func NewHeaderResolver(header string) *HeaderResolver {
	return &HeaderResolver{Header: header}
}

func (h *HeaderResolver) Resolve(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.Header.Get(h.Header))
	if raw == "" {
		return 0, ErrNoSession
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		return 0, ErrNoSession
	}
	return userID, nil
}
