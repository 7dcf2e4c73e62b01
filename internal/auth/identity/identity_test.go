package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestVerify_RoundTrip(t *testing.T) {
	v := NewVerifier(testSecret)

	signed, err := v.Issue("user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	userID, err := v.Verify(signed)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("user id = %q, want user-1", userID)
	}
}

func TestVerify_RejectsForeignSecret(t *testing.T) {
	signed, err := NewVerifier("ffffffffffffffffffffffffffffffff").Issue("user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := NewVerifier(testSecret).Verify(signed); err == nil {
		t.Fatal("token signed with another secret must not verify")
	}
}

func TestVerify_RejectsGarbage(t *testing.T) {
	v := NewVerifier(testSecret)
	for _, tok := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := v.Verify(tok); err == nil {
			t.Fatalf("token %q must not verify", tok)
		}
	}
}

func TestFromHeader(t *testing.T) {
	cases := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc123", "abc123", true},
		{"bearer abc123", "abc123", true},
		{"", "", false},
		{"abc123", "", false},
		{"Basic dXNlcjpwYXNz", "", false},
	}
	for _, c := range cases {
		got, err := FromHeader(c.header)
		if c.ok && (err != nil || got != c.want) {
			t.Errorf("FromHeader(%q) = %q, %v", c.header, got, err)
		}
		if !c.ok && err == nil {
			t.Errorf("FromHeader(%q) should fail", c.header)
		}
	}
}

func TestRequireUser(t *testing.T) {
	v := NewVerifier(testSecret)
	var gotUserID string
	handler := RequireUser(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, _ = UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	// No token.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d", rec.Code)
	}

	// Valid token.
	signed, err := v.Issue("user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status with token = %d", rec.Code)
	}
	if gotUserID != "user-1" {
		t.Fatalf("context user id = %q", gotUserID)
	}
}
