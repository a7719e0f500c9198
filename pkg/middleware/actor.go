package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// ErrNoActor indicates the request carries no caller identity.
var ErrNoActor = errors.New("caller identity required")

type actorKey struct{}

// WithActor returns a context carrying the caller identity.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the caller identity attached by the Actor middleware.
func ActorFrom(ctx context.Context) (string, error) {
	actor, _ := ctx.Value(actorKey{}).(string)
	if actor == "" {
		return "", ErrNoActor
	}
	return actor, nil
}

// TokenVerifier verifies a raw bearer token.
type TokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

// NewVerifier discovers the issuer's signing keys and returns an ID token verifier.
func NewVerifier(ctx context.Context, cfg *AuthConfig) (TokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("discover oidc issuer: %w", err)
	}
	return provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}), nil
}

// Actor resolves the caller identity for each request.
// A nil verifier selects header mode: the identity is taken from
// cfg.ActorHeader and may be absent. With a verifier, requests must carry a
// valid bearer token and the identity comes from cfg.ActorClaim.
func Actor(cfg *AuthConfig, verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				if actor := strings.TrimSpace(r.Header.Get(cfg.ActorHeader)); actor != "" {
					r = r.WithContext(WithActor(r.Context(), actor))
				}
				next.ServeHTTP(w, r)
				return
			}

			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}

			token, err := verifier.Verify(r.Context(), raw)
			if err != nil {
				http.Error(w, "invalid bearer token", http.StatusUnauthorized)
				return
			}

			actor, err := claim(token, cfg.ActorClaim)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

func claim(token *oidc.IDToken, name string) (string, error) {
	if name == "" || name == "sub" {
		if token.Subject == "" {
			return "", fmt.Errorf("token has no subject")
		}
		return token.Subject, nil
	}

	var claims map[string]any
	if err := token.Claims(&claims); err != nil {
		return "", fmt.Errorf("decode token claims: %w", err)
	}
	v, _ := claims[name].(string)
	if v == "" {
		return "", fmt.Errorf("token has no %s claim", name)
	}
	return v, nil
}
