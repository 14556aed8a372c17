package syncq

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
)

// Command is a write that failed to reach the API. It is replayed with the
// same idempotency key so the server applies it at most once.
type Command struct {
	Method         string         `json:"method"`
	Path           string         `json:"path"`
	Body           map[string]any `json:"body,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
}

// Sender performs one queued command against the API.
type Sender func(ctx context.Context, cmd Command) error

type Queue struct {
	path string
}

// New returns the queue stored as queue.json under dir.
func New(dir string) *Queue {
	return &Queue{path: filepath.Join(dir, "queue.json")}
}

func (q *Queue) Load() ([]Command, error) {
	raw, err := os.ReadFile(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Command{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []Command{}, nil
	}
	var out []Command
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (q *Queue) Save(commands []Command) error {
	if err := os.MkdirAll(filepath.Dir(q.path), 0o700); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(commands, "", "  ")
	if err != nil {
		return err
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, q.path)
}

func (q *Queue) Push(cmd Command) error {
	commands, err := q.Load()
	if err != nil {
		return err
	}
	commands = append(commands, cmd)
	return q.Save(commands)
}

// Failure is a command that was sent and rejected or could not be delivered.
type Failure struct {
	Command Command
	Err     error
}

// Replay sends every queued command in order. Commands for which keep
// returns true stay queued; the rest are dropped whether they succeeded or
// not. A nil keep retains every failed command.
func (q *Queue) Replay(ctx context.Context, send Sender, keep func(error) bool) (int, []Failure, error) {
	commands, err := q.Load()
	if err != nil {
		return 0, nil, err
	}
	remaining := make([]Command, 0, len(commands))
	var failures []Failure
	sent := 0
	for _, c := range commands {
		if ctx.Err() != nil {
			remaining = append(remaining, c)
			continue
		}
		if err := send(ctx, c); err != nil {
			failures = append(failures, Failure{Command: c, Err: err})
			if keep == nil || keep(err) {
				remaining = append(remaining, c)
			}
			continue
		}
		sent++
	}
	if err := q.Save(remaining); err != nil {
		return sent, failures, err
	}
	return sent, failures, nil
}
