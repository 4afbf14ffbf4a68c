package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestPassword(t *testing.T) {
	hash, err := HashPassword("hunter22")
	if err != nil {
		t.Fatal(err)
	}
	if hash == "hunter22" {
		t.Fatal("password stored in clear")
	}
	if err := CheckPassword(hash, "hunter22"); err != nil {
		t.Errorf("expected match, got %v", err)
	}
	if err := CheckPassword(hash, "wrong"); err != ErrBadCredentials {
		t.Errorf("expected ErrBadCredentials, got %v", err)
	}
}

func TestIssueVerify(t *testing.T) {
	iss := NewIssuer("secret", 0)
	token, err := iss.Issue(42, "a@example.com", "Ann")
	if err != nil {
		t.Fatal(err)
	}
	s, err := iss.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if s.UserID != 42 || s.Email != "a@example.com" || s.Name != "Ann" {
		t.Errorf("unexpected session %+v", s)
	}
	if d := time.Until(s.ExpiresAt); d < DefaultTTL-time.Minute || d > DefaultTTL+time.Minute {
		t.Errorf("expected expiry about 7 days out, got %v", d)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	token, _ := NewIssuer("one", time.Hour).Issue(1, "a@example.com", "")
	if _, err := NewIssuer("two", time.Hour).Verify(token); err == nil {
		t.Fatal("expected error for token signed with another secret")
	}
}

func TestVerify_Expired(t *testing.T) {
	iss := NewIssuer("secret", time.Hour)
	iss.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _ := iss.Issue(1, "a@example.com", "")

	if _, err := NewIssuer("secret", time.Hour).Verify(token); err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestVerify_RejectsNoneAlg(t *testing.T) {
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewIssuer("secret", time.Hour).Verify(token); err == nil {
		t.Fatal("expected unsigned token to be rejected")
	}
}

func TestMiddleware(t *testing.T) {
	iss := NewIssuer("secret", time.Hour)
	var got *Session
	h := iss.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = SessionFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
			if !strings.Contains(w.Body.String(), `"error"`) {
				t.Errorf("expected error envelope, got %s", w.Body.String())
			}
		})
	}

	token, _ := iss.Issue(7, "b@example.com", "Bo")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer "+token)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if got == nil || got.UserID != 7 {
		t.Errorf("expected session in context, got %+v", got)
	}
}
