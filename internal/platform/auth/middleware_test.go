package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func serveAuth(t *testing.T, mw func(http.Handler) http.Handler, header string) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	called := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr, called
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	code, _ := body["error"].(string)
	return code
}

func TestRequireAdmin_AllowsAdminRole(t *testing.T) {
	verifier := &stubTokenVerifier{
		token: &firebaseauth.Token{
			UID: "uid-123",
			Claims: map[string]interface{}{
				"role":  []interface{}{"user", "admin"},
				"email": "ops@example.com",
			},
		},
	}
	authn := NewAuthenticator(verifier)

	var identity *Identity
	handler := authn.RequireAdmin()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer token-value")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if verifier.received != "token-value" {
		t.Fatalf("expected verifier to receive token-value, got %s", verifier.received)
	}
	if identity == nil || !identity.IsAdmin() || identity.Email != "ops@example.com" {
		t.Fatalf("unexpected identity %+v", identity)
	}
}

func TestRequireAdmin_AdminFlagClaim(t *testing.T) {
	verifier := &stubTokenVerifier{
		token: &firebaseauth.Token{UID: "uid-1", Claims: map[string]interface{}{"admin": true}},
	}
	rr, called := serveAuth(t, NewAuthenticator(verifier).RequireAdmin(), "Bearer t")
	if rr.Code != http.StatusNoContent || !called {
		t.Fatalf("expected admin flag claim to grant access, got %d", rr.Code)
	}
}

func TestRequireAdmin_RejectsNonAdminWith401(t *testing.T) {
	verifier := &stubTokenVerifier{
		token: &firebaseauth.Token{UID: "uid-2", Claims: map[string]interface{}{"role": "user"}},
	}
	rr, called := serveAuth(t, NewAuthenticator(verifier).RequireAdmin(), "Bearer t")
	if called {
		t.Fatalf("handler must not run for non-admin")
	}
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "insufficient_role" {
		t.Fatalf("expected insufficient_role, got %s", code)
	}
}

func TestRequireAdmin_MissingHeader(t *testing.T) {
	verifier := &stubTokenVerifier{}
	rr, called := serveAuth(t, NewAuthenticator(verifier).RequireAdmin(), "")
	if called || rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without handler call, got %d", rr.Code)
	}
	if verifier.received != "" {
		t.Fatalf("verifier should not be called without a token")
	}
	if code := errorCode(t, rr); code != "unauthenticated" {
		t.Fatalf("expected unauthenticated, got %s", code)
	}
}

func TestRequireAdmin_ExpiredToken(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{err: ErrTokenExpired})
	rr, called := serveAuth(t, authn.RequireAdmin(), "Bearer expired-token")
	if called || rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "token_expired" {
		t.Fatalf("expected token_expired error, got %v", code)
	}
}

func TestRequireAdmin_RejectsMalformedHeaders(t *testing.T) {
	for _, header := range []string{"Basic abc", "Bearer", "Bearer   ", "token-only"} {
		verifier := &stubTokenVerifier{}
		rr, called := serveAuth(t, NewAuthenticator(verifier).RequireAdmin(), header)
		if called || rr.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, rr.Code)
		}
		if verifier.received != "" {
			t.Fatalf("header %q: verifier should not be called", header)
		}
	}
}

func TestRoles(t *testing.T) {
	cases := map[string]struct {
		raw  any
		want []string
	}{
		"string":     {raw: " Admin ", want: []string{"admin"}},
		"list":       {raw: []any{"user", "ADMIN", 3, "user"}, want: []string{"user", "admin"}},
		"string set": {raw: []string{"admin", "admin"}, want: []string{"admin"}},
		"flags":      {raw: map[string]any{"admin": true, "ops": false}, want: []string{"admin"}},
		"missing":    {raw: nil, want: nil},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := roles(tc.raw)
			if len(got) != len(tc.want) {
				t.Fatalf("roles(%v) = %v, want %v", tc.raw, got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("roles(%v) = %v, want %v", tc.raw, got, tc.want)
				}
			}
		})
	}
}

func TestRequireAdmin_CustomRoleClaim(t *testing.T) {
	verifier := &stubTokenVerifier{
		token: &firebaseauth.Token{UID: "uid-9", Claims: map[string]interface{}{"roles": []interface{}{"admin"}}},
	}
	rr, called := serveAuth(t, NewAuthenticator(verifier, WithRoleClaim("roles")).RequireAdmin(), "Bearer t")
	if !called || rr.Code != http.StatusNoContent {
		t.Fatalf("expected roles claim to grant access, got %d", rr.Code)
	}
}
