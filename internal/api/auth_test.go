package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nerrad567/momcore/internal/auth"
	"github.com/nerrad567/momcore/internal/infrastructure/logging"
	"github.com/nerrad567/momcore/internal/session"
)

func TestNew_RequiresSecret(t *testing.T) {
	env := newEnv()
	_, err := New(Deps{Logger: logging.Discard(), Session: env.session(t, session.RoleManager, nil)})
	if err == nil {
		t.Fatal("New() without jwt secret succeeded")
	}
}

func TestAuth_BearerRequired(t *testing.T) {
	env := newEnv()
	_, ts := testServer(t, Deps{Session: env.session(t, session.RoleManager, nil)})

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "tester",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
		Scope: auth.ScopeOperator,
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing expired token: %v", err)
	}
	foreign, err := auth.IssueToken("tester", auth.ScopeOperator, "fedcba9876543210fedcba9876543210", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	tests := []struct {
		name   string
		bearer string
		method string
		path   string
		want   int
	}{
		{"health is public", "", http.MethodGet, "/api/v1/health", http.StatusOK},
		{"no token read", "", http.MethodGet, "/api/v1/users", http.StatusUnauthorized},
		{"no token write", "", http.MethodPost, "/api/v1/users/alice", http.StatusUnauthorized},
		{"no token ticket", "", http.MethodPost, "/api/v1/auth/ws-ticket", http.StatusUnauthorized},
		{"garbage token", "not-a-jwt", http.MethodGet, "/api/v1/state", http.StatusUnauthorized},
		{"expired token", expired, http.MethodGet, "/api/v1/state", http.StatusUnauthorized},
		{"other secret", foreign, http.MethodGet, "/api/v1/state", http.StatusUnauthorized},
		{"operator", token(t, auth.ScopeOperator), http.MethodGet, "/api/v1/state", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, body := doAs(t, ts, tt.bearer, tt.method, tt.path, nil)
			if got != tt.want {
				t.Fatalf("%s %s status = %d, want %d (body %s)", tt.method, tt.path, got, tt.want, body)
			}
			if got == http.StatusUnauthorized {
				if apiErr := decode[Error](t, body); apiErr.Code != ErrCodeUnauthorized {
					t.Errorf("error code = %q, want %q", apiErr.Code, ErrCodeUnauthorized)
				}
			}
		})
	}
}

func TestAuth_ViewerIsReadOnly(t *testing.T) {
	env := newEnv()
	_, ts := testServer(t, Deps{Session: env.session(t, session.RoleManager, nil)})
	viewer := token(t, auth.ScopeViewer)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/v1/users", http.StatusOK},
		{http.MethodGet, "/api/v1/metrics", http.StatusOK},
		{http.MethodPost, "/api/v1/users/alice", http.StatusForbidden},
		{http.MethodDelete, "/api/v1/topics/news", http.StatusForbidden},
		{http.MethodPost, "/api/v1/presence/poll", http.StatusForbidden},
		{http.MethodPost, "/api/v1/auth/ws-ticket", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			if got, body := doAs(t, ts, viewer, tt.method, tt.path, nil); got != tt.want {
				t.Errorf("status = %d, want %d (body %s)", got, tt.want, body)
			}
		})
	}

	// Nothing the viewer attempted reached the directory.
	if users := decode[usersResponse](t, expectStatus(t, ts, http.MethodGet, "/api/v1/users", nil, http.StatusOK)); users.Count != 0 {
		t.Errorf("users = %+v, want none", users.Users)
	}
}

func TestTicketStore(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	ts := newTicketStore()
	ts.now = func() time.Time { return now }

	first, err := ts.issue("ops")
	if err != nil {
		t.Fatalf("issue() error = %v", err)
	}
	second, err := ts.issue("ops")
	if err != nil {
		t.Fatalf("issue() error = %v", err)
	}
	if first == second || len(first) != 2*ticketBytes {
		t.Fatalf("tickets %q and %q", first, second)
	}

	if subject, ok := ts.redeem(first); !ok || subject != "ops" {
		t.Errorf("redeem(first) = %q, %v, want ops, true", subject, ok)
	}
	if _, ok := ts.redeem(first); ok {
		t.Error("ticket redeemed twice")
	}
	if _, ok := ts.redeem("unknown"); ok {
		t.Error("unknown ticket redeemed")
	}

	now = now.Add(ticketTTL)
	if _, ok := ts.redeem(second); ok {
		t.Error("expired ticket redeemed")
	}

	if _, err := ts.issue("ops"); err != nil {
		t.Fatalf("issue() error = %v", err)
	}
	if _, err := ts.issue("ops"); err != nil {
		t.Fatalf("issue() error = %v", err)
	}
	now = now.Add(ticketTTL + time.Second)
	ts.sweep()
	if n := ts.count(); n != 0 {
		t.Errorf("count() after sweep = %d, want 0", n)
	}
}

func TestWSTicketResponse(t *testing.T) {
	env := newEnv()
	srv, ts := testServer(t, Deps{Session: env.session(t, session.RoleManager, nil)})

	body := decode[map[string]any](t, expectStatus(t, ts, http.MethodPost, "/api/v1/auth/ws-ticket", nil, http.StatusOK))
	id, _ := body["ticket"].(string)
	if id == "" || body["expires_in"] != float64(60) {
		t.Fatalf("ticket response = %v", body)
	}
	if subject, ok := srv.tickets.redeem(id); !ok || subject != "tester" {
		t.Errorf("redeem() = %q, %v, want tester, true", subject, ok)
	}
}
