package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientSendsHeadersAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid token"}`))
			return
		}
		switch r.URL.Path {
		case "/v1/me/wallet":
			_ = json.NewEncoder(w).Encode(Wallet{OwnerID: "alice", Balance: 42})
		case "/v1/transfers":
			if r.Header.Get("Idempotency-Key") != "k1" {
				t.Errorf("missing idempotency key")
			}
			w.WriteHeader(http.StatusPaymentRequired)
			_, _ = w.Write([]byte(`{"error":"insufficient funds","required":7}`))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	w, err := c.Wallet(context.Background(), "tok")
	if err != nil || w.Balance != 42 {
		t.Fatalf("wallet = %+v, %v", w, err)
	}

	_, err = c.Do(context.Background(), http.MethodPost, "/v1/transfers", "tok", map[string]any{"payee": "bob"}, "k1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusPaymentRequired || apiErr.Message != "insufficient funds" {
		t.Fatalf("err = %v", err)
	}
	if apiErr.Body["required"] != float64(7) {
		t.Fatalf("body = %v", apiErr.Body)
	}

	if _, err := c.Wallet(context.Background(), "bad"); !IsAPIError(err) {
		t.Fatalf("unauthorized should be an api error: %v", err)
	}
}

func TestTransportErrorIsNotAPIError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	_, err := NewClient(url).Do(context.Background(), http.MethodGet, "/v1/me/wallet", "tok", nil, "")
	if err == nil || IsAPIError(err) {
		t.Fatalf("err = %v", err)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	dir, err := BaseDir(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSession(dir); err == nil {
		t.Fatalf("expected missing session error")
	}
	if err := SaveSession(dir, Session{AccessToken: "at", PlayerID: "alice"}); err != nil {
		t.Fatal(err)
	}
	s, err := LoadSession(dir)
	if err != nil || s.PlayerID != "alice" {
		t.Fatalf("session = %+v, %v", s, err)
	}
	if err := ClearSession(dir); err != nil {
		t.Fatal(err)
	}
	if err := ClearSession(dir); err != nil {
		t.Fatalf("second clear: %v", err)
	}
}
