// Package auth guards the admin routes with Firebase ID tokens.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"
	"go.uber.org/zap"

	"github.com/threadcraft/api/internal/platform/httpx"
	"github.com/threadcraft/api/internal/platform/requestctx"
)

const (
	defaultRoleClaim = "role"
	adminFlagClaim   = "admin"
)

// Sentinel errors a TokenVerifier may return in place of the SDK's typed errors.
var (
	ErrTokenExpired = errors.New("auth: firebase id token expired")
	ErrTokenInvalid = errors.New("auth: firebase id token invalid")
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator turns verified tokens into an Identity on the request context.
type Authenticator struct {
	verifier  TokenVerifier
	roleClaim string
}

type Option func(*Authenticator)

// WithRoleClaim reads roles from claim instead of "role".
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.roleClaim = claim
		}
	}
}

func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{verifier: verifier, roleClaim: defaultRoleClaim}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireAdmin admits callers whose token grants the admin role, either through
// the role claim (a string, a list, or a map of flags) or a boolean "admin" claim.
// Every rejection is a 401 written before the wrapped handler runs.
func (a *Authenticator) RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok || a == nil || a.verifier == nil {
				deny(ctx, w, "unauthenticated", "authorization header missing or invalid")
				return
			}
			token, err := a.verifier.VerifyIDToken(ctx, raw)
			if err != nil {
				code, message := classifyVerifyError(err)
				requestctx.Logger(ctx).Debug("admin token rejected", zap.String("reason", code), zap.Error(err))
				deny(ctx, w, code, message)
				return
			}

			identity := a.identity(token)
			if !identity.IsAdmin() {
				requestctx.Logger(ctx).Info("admin role missing", zap.String("uid", identity.UID))
				deny(ctx, w, "insufficient_role", "identity does not have required role")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

func (a *Authenticator) identity(token *firebaseauth.Token) *Identity {
	identity := &Identity{UID: token.UID, Roles: roles(token.Claims[a.roleClaim])}
	if email, ok := token.Claims["email"].(string); ok {
		identity.Email = strings.TrimSpace(email)
	}
	if flag, _ := token.Claims[adminFlagClaim].(bool); flag && !identity.IsAdmin() {
		identity.Roles = append(identity.Roles, RoleAdmin)
	}
	return identity
}

func roles(raw any) []string {
	var out []string
	add := func(role string) {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" {
			return
		}
		for _, existing := range out {
			if existing == role {
				return
			}
		}
		out = append(out, role)
	}
	switch v := raw.(type) {
	case string:
		add(v)
	case []string:
		for _, role := range v {
			add(role)
		}
	case []any:
		for _, item := range v {
			if role, ok := item.(string); ok {
				add(role)
			}
		}
	case map[string]any:
		for role, granted := range v {
			if flag, _ := granted.(bool); flag {
				add(role)
			}
		}
	}
	return out
}

func classifyVerifyError(err error) (code, message string) {
	switch {
	case errors.Is(err, ErrTokenExpired), firebaseauth.IsIDTokenExpired(err):
		return "token_expired", "firebase id token expired"
	case firebaseauth.IsIDTokenRevoked(err), firebaseauth.IsUserDisabled(err):
		return "token_revoked", "firebase id token revoked"
	case errors.Is(err, ErrTokenInvalid), firebaseauth.IsIDTokenInvalid(err):
		return "invalid_token", "firebase id token invalid"
	default:
		return "invalid_token", "firebase id token verification failed"
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func deny(ctx context.Context, w http.ResponseWriter, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, http.StatusUnauthorized))
}
