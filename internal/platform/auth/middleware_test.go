package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type testAuthenticator struct {
	identity Identity
	err      error
	calls    int
}

func (a *testAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	a.calls++
	return a.identity, a.err
}

func serve(t *testing.T, m Middleware, method, path string) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	called := false
	h := m.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if _, ok := IdentityFromContext(r.Context()); !ok {
			t.Fatalf("identity missing from context")
		}
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(method, "http://example.test"+path, nil)
	req.Header.Set("X-Request-Id", "rid-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, called
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return body
}

func TestMiddleware_Unauthorized(t *testing.T) {
	rec, called := serve(t, Middleware{Authenticator: &testAuthenticator{err: ErrUnauthenticated}}, http.MethodGet, "/sessions/abc")
	if called {
		t.Fatalf("handler should not be called")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", rec.Code)
	}
	body := decodeError(t, rec)
	if body["error"] != "unauthorized" {
		t.Fatalf("error=%v, want unauthorized", body["error"])
	}
	if body["request_id"] != "rid-1" {
		t.Fatalf("request_id=%v, want rid-1", body["request_id"])
	}
}

func TestMiddleware_InvalidToken(t *testing.T) {
	rec, _ := serve(t, Middleware{Authenticator: &testAuthenticator{err: errors.New("bad token")}}, http.MethodGet, "/sessions/abc")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", rec.Code)
	}
	if body := decodeError(t, rec); body["error"] != "invalid_token" {
		t.Fatalf("error=%v, want invalid_token", body["error"])
	}
}

func TestMiddleware_RoleChecks(t *testing.T) {
	viewer := &testAuthenticator{identity: Identity{Subject: "alice", Roles: []string{RoleViewer}}}
	m := Middleware{Authenticator: viewer, Authorize: MethodRoleAuthorizer()}

	if rec, called := serve(t, m, http.MethodGet, "/sessions/abc/logs"); !called || rec.Code != http.StatusOK {
		t.Fatalf("viewer GET status=%d called=%v", rec.Code, called)
	}
	rec, called := serve(t, m, http.MethodPost, "/sessions/abc/generate")
	if called || rec.Code != http.StatusForbidden {
		t.Fatalf("viewer POST status=%d called=%v, want 403", rec.Code, called)
	}

	student := &testAuthenticator{identity: Identity{Subject: "bob", Roles: []string{RoleStudent}}}
	m.Authenticator = student
	if rec, called := serve(t, m, http.MethodPost, "/sessions/abc/generate"); !called || rec.Code != http.StatusOK {
		t.Fatalf("student POST status=%d called=%v", rec.Code, called)
	}
	if rec, _ := serve(t, m, http.MethodGet, "/sessions"); rec.Code != http.StatusForbidden {
		t.Fatalf("student list status=%d, want 403", rec.Code)
	}
}

func TestMiddleware_SkipPrefix(t *testing.T) {
	authn := &testAuthenticator{err: ErrUnauthenticated}
	called := false
	h := Middleware{
		Authenticator: authn,
		SkipPrefixes:  []string{"/healthz"},
	}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.test/healthz", nil))

	if !called || rec.Code != http.StatusOK {
		t.Fatalf("status=%d called=%v", rec.Code, called)
	}
	if authn.calls != 0 {
		t.Fatalf("authenticator calls=%d, want 0", authn.calls)
	}
}

func TestMiddleware_AuditOnDeny(t *testing.T) {
	var got DenyEvent
	calls := 0
	m := Middleware{
		Authenticator: &testAuthenticator{identity: Identity{Subject: "carol", Email: "carol@lab", Roles: []string{RoleViewer}}},
		Authorize:     MethodRoleAuthorizer(),
		Audit: func(ctx context.Context, event DenyEvent) error {
			calls++
			got = event
			return errors.New("db down")
		},
	}
	rec, _ := serve(t, m, http.MethodDelete, "/sessions/abc")

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status=%d, want 403", rec.Code)
	}
	if calls != 1 {
		t.Fatalf("audit calls=%d, want 1", calls)
	}
	if got.Reason != "forbidden" || got.RequestID != "rid-1" || got.Identity.Email != "carol@lab" || got.Method != http.MethodDelete {
		t.Fatalf("event=%+v", got)
	}
}

func TestIdentityActor(t *testing.T) {
	cases := []struct {
		identity Identity
		want     string
	}{
		{Identity{Subject: "s", Email: "e@x"}, "e@x"},
		{Identity{Subject: "s"}, "s"},
		{Identity{}, "anonymous"},
	}
	for _, tc := range cases {
		if got := tc.identity.Actor(); got != tc.want {
			t.Fatalf("Actor()=%q, want %q", got, tc.want)
		}
	}
}

func TestNewAuthenticator_DevAndDisabled(t *testing.T) {
	authn, svc, err := NewAuthenticator(context.Background(), Config{Mode: ModeDev, Dev: DevConfig{Subject: "d", Roles: []string{RoleStudent}}})
	if err != nil || svc != nil {
		t.Fatalf("NewAuthenticator(dev) svc=%v err=%v", svc, err)
	}
	identity, _ := authn.Authenticate(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	if identity.Subject != "d" {
		t.Fatalf("Subject=%q, want d", identity.Subject)
	}

	authn, _, err = NewAuthenticator(context.Background(), Config{Mode: ModeDisabled})
	if err != nil {
		t.Fatalf("NewAuthenticator(disabled) err=%v", err)
	}
	identity, _ = authn.Authenticate(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !HasAtLeast(identity.Roles, RoleInstructor) {
		t.Fatalf("Roles=%v, want instructor", identity.Roles)
	}
}
