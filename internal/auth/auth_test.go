package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newJWTService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Config{Mode: ModeJWT, Secret: "s3cret", Issuer: "evolvd", Audience: []string{"evolve-api"}})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestIssueAndAuthenticate(t *testing.T) {
	svc := newJWTService(t)
	token, err := svc.Issue(&Subject{ID: "ops-1", Username: "ops", Permissions: []string{PermissionAdmin}}, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	subject, err := svc.AuthenticateRequest(context.Background(), "Bearer "+token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if subject.ID != "ops-1" || !subject.HasPermission("EVOLUTION:ADMIN") {
		t.Fatalf("unexpected subject: %+v", subject)
	}
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	svc := newJWTService(t)
	other, _ := NewService(Config{Mode: ModeJWT, Secret: "other", Issuer: "evolvd", Audience: []string{"evolve-api"}})
	forged, _ := other.Issue(&Subject{ID: "x"}, time.Minute)

	expiredSvc := newJWTService(t)
	expiredSvc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := expiredSvc.Issue(&Subject{ID: "x"}, time.Minute)

	wrongIssuer, _ := NewService(Config{Mode: ModeJWT, Secret: "s3cret", Issuer: "someone-else"})
	foreign, _ := wrongIssuer.Issue(&Subject{ID: "x"}, time.Minute)

	cases := map[string]struct {
		header string
		want   error
	}{
		"missing":       {"", ErrMissingToken},
		"not bearer":    {"Basic abc", ErrMissingToken},
		"garbage":       {"Bearer abc.def.ghi", ErrInvalidToken},
		"bad signature": {"Bearer " + forged, ErrInvalidToken},
		"expired":       {"Bearer " + expired, ErrInvalidToken},
		"wrong issuer":  {"Bearer " + foreign, ErrInvalidToken},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.AuthenticateRequest(context.Background(), tc.header); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestRequireMiddleware(t *testing.T) {
	svc := newJWTService(t)
	admin, _ := svc.Issue(&Subject{ID: "admin", Permissions: []string{PermissionAdmin}}, time.Minute)
	viewer, _ := svc.Issue(&Subject{ID: "viewer", Permissions: []string{"evolution:read"}}, time.Minute)

	var seen *Subject
	handler := svc.Require(PermissionAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"anonymous", "", http.StatusUnauthorized},
		{"viewer", "Bearer " + viewer, http.StatusForbidden},
		{"admin", "Bearer " + admin, http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/api/v1/policy/cooldown", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
		})
	}
	if seen == nil || seen.ID != "admin" {
		t.Fatalf("subject should be propagated through the context, got %+v", seen)
	}
}

func TestDisabledModeAllowsEverything(t *testing.T) {
	svc, err := NewService(Config{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	called := false
	handler := svc.Require(PermissionAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))
	if !called {
		t.Fatalf("disabled mode should not block requests")
	}
	if _, err := svc.Issue(&Subject{ID: "x"}, 0); err == nil {
		t.Fatalf("issuing tokens requires jwt mode")
	}
}

func TestNewServiceValidation(t *testing.T) {
	if _, err := NewService(Config{Mode: ModeJWT}); err == nil {
		t.Fatalf("jwt mode without secret should fail")
	}
	if _, err := NewService(Config{Mode: "oauth"}); err == nil {
		t.Fatalf("unknown mode should fail")
	}
}

func TestActor(t *testing.T) {
	ctx := context.Background()
	if got := Actor(ctx); got != "anonymous" {
		t.Fatalf("expected anonymous, got %q", got)
	}
	if got := Actor(WithSubject(ctx, &Subject{ID: "svc-1"})); got != "svc-1" {
		t.Fatalf("expected subject id, got %q", got)
	}
	if got := Actor(WithSubject(ctx, &Subject{ID: "svc-1", Username: "ops"})); got != "ops" {
		t.Fatalf("expected username, got %q", got)
	}
}
