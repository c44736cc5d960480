package app

import (
	"context"
	"strings"

	"github.com/hylla/taskgate/internal/domain"
)

// WithPrincipal attaches the resolved request principal to context.
func WithPrincipal(ctx context.Context, principal domain.Principal) context.Context {
	principal.Username = strings.TrimSpace(principal.Username)
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// PrincipalFromContext returns the request principal when one was attached.
func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	principal, ok := ctx.Value(principalContextKey{}).(domain.Principal)
	if !ok || principal.Username == "" {
		return domain.Principal{}, false
	}
	return principal, true
}

// principalContextKey stores context keys for principal values.
type principalContextKey struct{}

// ResolvePrincipal reads the account fresh and returns its principal.
// Unknown accounts resolve to an inactive principal so every gate refuses them.
func (s *Service) ResolvePrincipal(ctx context.Context, username string) (domain.Principal, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return domain.Principal{}, classify(domain.ErrInvalidUsername)
	}
	account, err := s.store.GetAccount(ctx, username)
	switch {
	case err == nil:
		return account.Principal(), nil
	case ErrorCode(err) == CodeNotFound:
		return domain.Principal{Username: username}, nil
	default:
		return domain.Principal{}, classify(err)
	}
}
