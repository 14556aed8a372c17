package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIdentityClientVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/user" || r.Header.Get("apikey") != "anon" {
			t.Errorf("unexpected request %s %v", r.URL.Path, r.Header)
		}
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			_ = json.NewEncoder(w).Encode(Identity{ID: "u-1", Email: "a@example.com"})
		case "Bearer broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	c := NewIdentityClient(srv.URL+"/", "anon")
	id, err := c.Verify(context.Background(), "good")
	if err != nil || id.ID != "u-1" {
		t.Fatalf("good: %+v, %v", id, err)
	}
	if _, err := c.Verify(context.Background(), "bad"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("bad: %v", err)
	}
	if _, err := c.Verify(context.Background(), "broken"); err == nil || errors.Is(err, ErrUnauthorized) {
		t.Fatalf("broken: %v", err)
	}
	if _, err := c.Verify(context.Background(), " "); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("empty: %v", err)
	}
}

func TestIdentityClientLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "pw" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(Session{AccessToken: "at", User: Identity{ID: "u-1"}})
	}))
	defer srv.Close()

	c := NewIdentityClient(srv.URL, "anon")
	s, err := c.Login(context.Background(), "a@example.com", "pw")
	if err != nil || s.AccessToken != "at" || s.User.ID != "u-1" {
		t.Fatalf("login: %+v, %v", s, err)
	}
	if _, err := c.Login(context.Background(), "a@example.com", "nope"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestStaticVerifierAndBearer(t *testing.T) {
	v := StaticVerifier{"tok": "alice"}
	if id, err := v.Verify(context.Background(), "tok"); err != nil || id.ID != "alice" {
		t.Fatalf("verify: %+v, %v", id, err)
	}
	if _, err := v.Verify(context.Background(), "other"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unknown token: %v", err)
	}

	for header, want := range map[string]string{
		"Bearer abc":   "abc",
		"bearer  xyz ": "xyz",
		"Basic abc":    "",
		"Bearer ":      "",
		"":             "",
	} {
		got, ok := BearerToken(header)
		if got != want || ok != (want != "") {
			t.Fatalf("BearerToken(%q) = %q, %v", header, got, ok)
		}
	}
}
