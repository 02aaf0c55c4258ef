package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestIssueToken_RoundTrip(t *testing.T) {
	token, err := IssueToken("ops", ScopeOperator, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "ops" {
		t.Errorf("Subject = %q, want ops", claims.Subject)
	}
	if claims.Scope != ScopeOperator {
		t.Errorf("Scope = %q, want operator", claims.Scope)
	}
	if claims.ID == "" {
		t.Error("ID is empty")
	}
	if left := time.Until(claims.ExpiresAt.Time); left < 59*time.Minute || left > time.Hour {
		t.Errorf("token expires in %v, want about 1h", left)
	}
}

func TestIssueToken_DefaultTTL(t *testing.T) {
	token, err := IssueToken("ops", ScopeViewer, testSecret, 0)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if left := time.Until(claims.ExpiresAt.Time); left > defaultTokenTTL || left < defaultTokenTTL-time.Minute {
		t.Errorf("token expires in %v, want about %v", left, defaultTokenTTL)
	}
}

func TestIssueToken_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		scope   Scope
	}{
		{"empty subject", "", ScopeViewer},
		{"unknown scope", "ops", Scope("root")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := IssueToken(tt.subject, tt.scope, testSecret, time.Minute)
			if !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("IssueToken() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}

func signed(t *testing.T, method jwt.SigningMethod, key any, claims jwt.Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return s
}

func TestParseToken_Invalid(t *testing.T) {
	now := time.Now()
	valid := func() Claims {
		return Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "ops",
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			},
			Scope: ScopeViewer,
		}
	}

	tests := []struct {
		name  string
		token func() string
	}{
		{"garbage", func() string { return "not-a-token" }},
		{"wrong secret", func() string {
			return signed(t, jwt.SigningMethodHS256, []byte("fedcba9876543210fedcba9876543210"), valid())
		}},
		{"expired", func() string {
			c := valid()
			c.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))
			return signed(t, jwt.SigningMethodHS256, []byte(testSecret), c)
		}},
		{"no expiry", func() string {
			c := valid()
			c.ExpiresAt = nil
			return signed(t, jwt.SigningMethodHS256, []byte(testSecret), c)
		}},
		{"other algorithm", func() string {
			return signed(t, jwt.SigningMethodHS512, []byte(testSecret), valid())
		}},
		{"missing subject", func() string {
			c := valid()
			c.Subject = ""
			return signed(t, jwt.SigningMethodHS256, []byte(testSecret), c)
		}},
		{"unknown scope", func() string {
			c := valid()
			c.Scope = "root"
			return signed(t, jwt.SigningMethodHS256, []byte(testSecret), c)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseToken(tt.token(), testSecret); !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}

func TestScope_CanWrite(t *testing.T) {
	if ScopeViewer.CanWrite() {
		t.Error("viewer CanWrite() = true")
	}
	if !ScopeOperator.CanWrite() {
		t.Error("operator CanWrite() = false")
	}
}
