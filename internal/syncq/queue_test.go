package syncq

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestPushAndLoad(t *testing.T) {
	q := New(filepath.Join(t.TempDir(), "nested"))
	got, err := q.Load()
	if err != nil || len(got) != 0 {
		t.Fatalf("empty load = %v, %v", got, err)
	}
	for _, key := range []string{"a", "b"} {
		if err := q.Push(Command{Method: "POST", Path: "/v1/transfers", IdempotencyKey: key}); err != nil {
			t.Fatalf("push %s: %v", key, err)
		}
	}
	got, err = q.Load()
	if err != nil || len(got) != 2 || got[1].IdempotencyKey != "b" {
		t.Fatalf("load = %+v, %v", got, err)
	}
}

func TestReplayKeepsRetryableFailures(t *testing.T) {
	q := New(t.TempDir())
	for _, key := range []string{"ok", "offline", "rejected"} {
		if err := q.Push(Command{Method: "POST", Path: "/v1/transfers", IdempotencyKey: key}); err != nil {
			t.Fatal(err)
		}
	}
	errOffline := errors.New("connection refused")
	errRejected := errors.New("insufficient funds")
	send := func(_ context.Context, c Command) error {
		switch c.IdempotencyKey {
		case "offline":
			return errOffline
		case "rejected":
			return errRejected
		}
		return nil
	}
	keep := func(err error) bool { return errors.Is(err, errOffline) }

	sent, failures, err := q.Replay(context.Background(), send, keep)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if sent != 1 || len(failures) != 2 {
		t.Fatalf("sent=%d failures=%d", sent, len(failures))
	}
	left, _ := q.Load()
	if len(left) != 1 || left[0].IdempotencyKey != "offline" {
		t.Fatalf("remaining = %+v", left)
	}
}

func TestReplayStopsOnCancelledContext(t *testing.T) {
	q := New(t.TempDir())
	_ = q.Push(Command{Method: "POST", Path: "/v1/transfers", IdempotencyKey: "x"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sent, _, err := q.Replay(ctx, func(context.Context, Command) error {
		t.Fatalf("send called after cancel")
		return nil
	}, nil)
	if err != nil || sent != 0 {
		t.Fatalf("sent=%d err=%v", sent, err)
	}
	if left, _ := q.Load(); len(left) != 1 {
		t.Fatalf("remaining = %+v", left)
	}
}
