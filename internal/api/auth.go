package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/momcore/internal/auth"
)

const (
	// ticketTTL is how long a WebSocket ticket stays redeemable.
	ticketTTL = 60 * time.Second

	// ticketBytes is the amount of randomness in a ticket.
	ticketBytes = 32

	// ticketSweepInterval is how often expired tickets are dropped.
	ticketSweepInterval = time.Minute
)

const ctxKeyClaims contextKey = "claims"

// claimsFromContext returns the token claims stored by authMiddleware.
func claimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(ctxKeyClaims).(*auth.Claims)
	return claims
}

// authMiddleware requires a valid bearer token and stores its claims in the
// request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			writeUnauthorized(w, "bearer token required")
			return
		}

		claims, err := auth.ParseToken(raw, s.secCfg.JWT.Secret)
		if err != nil {
			s.logger.Debug("rejected api token", "error", err, "request_id", r.Context().Value(ctxKeyRequestID))
			writeUnauthorized(w, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyClaims, claims)))
	})
}

// writeScopeMiddleware lets only operator tokens through for methods that
// change state. Must run after authMiddleware.
func (s *Server) writeScopeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead:
		default:
			if claims := claimsFromContext(r.Context()); claims == nil || !claims.Scope.CanWrite() {
				writeForbidden(w, "operator scope required")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// WebSocket tickets
// =============================================================================

// ticketStore holds single-use WebSocket tickets. A browser cannot set an
// Authorization header on an upgrade request, so it trades its bearer token
// for a short-lived ticket and passes that in the query string instead.
type ticketStore struct {
	mu      sync.Mutex
	tickets map[string]ticket
	now     func() time.Time
}

type ticket struct {
	subject   string
	expiresAt time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{
		tickets: make(map[string]ticket),
		now:     time.Now,
	}
}

// issue creates a ticket for subject.
func (ts *ticketStore) issue(subject string) (string, error) {
	b := make([]byte, ticketBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	id := hex.EncodeToString(b)

	ts.mu.Lock()
	ts.tickets[id] = ticket{subject: subject, expiresAt: ts.now().Add(ticketTTL)}
	ts.mu.Unlock()
	return id, nil
}

// redeem consumes a ticket. It reports the subject and whether the ticket
// existed and had not expired.
func (ts *ticketStore) redeem(id string) (string, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	t, ok := ts.tickets[id]
	if !ok {
		return "", false
	}
	delete(ts.tickets, id)
	return t.subject, ts.now().Before(t.expiresAt)
}

// sweep drops expired tickets.
func (ts *ticketStore) sweep() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := ts.now()
	for id, t := range ts.tickets {
		if !now.Before(t.expiresAt) {
			delete(ts.tickets, id)
		}
	}
}

func (ts *ticketStore) count() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.tickets)
}

// sweepLoop runs sweep until ctx is cancelled.
func (ts *ticketStore) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ts.sweep()
		}
	}
}

// handleWSTicket trades the caller's bearer token for a WebSocket ticket.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	var subject string
	if claims := claimsFromContext(r.Context()); claims != nil {
		subject = claims.Subject
	}

	id, err := s.tickets.issue(subject)
	if err != nil {
		s.logger.Error("issuing websocket ticket", "error", err)
		writeInternalError(w, "failed to issue ticket")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     id,
		"expires_in": int(ticketTTL.Seconds()),
	})
}
