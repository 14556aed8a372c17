// Package memstore is an in-memory game.TxRunner. Transactions are fully
// serialized and run against a private copy of the state that replaces the
// committed state only when fn succeeds.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradepost/internal/game"
)

type pair [2]string

type state struct {
	wallets       map[string]int64
	stacks        map[game.StackKey]int64
	ledger        []game.LedgerEntry
	listings      map[int64]game.Listing
	guildOf       map[string]string
	alliances     map[pair]int
	contributions map[pair]game.GuildContribution
	agents        map[int64]game.Agent
	missions      map[int64]game.MissionInstance
	unlocks       map[pair]time.Time
	progress      map[pair]game.Progress
	jobs          map[int64]game.CraftJob
	idempotency   map[pair]string
	seq           int64
}

func newState() *state {
	return &state{
		wallets:       map[string]int64{},
		stacks:        map[game.StackKey]int64{},
		listings:      map[int64]game.Listing{},
		guildOf:       map[string]string{},
		alliances:     map[pair]int{},
		contributions: map[pair]game.GuildContribution{},
		agents:        map[int64]game.Agent{},
		missions:      map[int64]game.MissionInstance{},
		unlocks:       map[pair]time.Time{},
		progress:      map[pair]game.Progress{},
		jobs:          map[int64]game.CraftJob{},
		idempotency:   map[pair]string{},
	}
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	return &state{
		wallets:       cloneMap(s.wallets),
		stacks:        cloneMap(s.stacks),
		ledger:        append([]game.LedgerEntry(nil), s.ledger...),
		listings:      cloneMap(s.listings),
		guildOf:       cloneMap(s.guildOf),
		alliances:     cloneMap(s.alliances),
		contributions: cloneMap(s.contributions),
		agents:        cloneMap(s.agents),
		missions:      cloneMap(s.missions),
		unlocks:       cloneMap(s.unlocks),
		progress:      cloneMap(s.progress),
		jobs:          cloneMap(s.jobs),
		idempotency:   cloneMap(s.idempotency),
		seq:           s.seq,
	}
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

type Store struct {
	sem chan struct{}

	mu     sync.Mutex
	st     *state
	faults map[string]error
}

func New() *Store {
	return &Store{
		sem:    make(chan struct{}, 1),
		st:     newState(),
		faults: map[string]error{},
	}
}

func (s *Store) WithTx(ctx context.Context, opts game.TxOptions, fn func(ctx context.Context, uow game.UnitOfWork) error) error {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.sem }()

	s.mu.Lock()
	work := s.st.clone()
	faults := cloneMap(s.faults)
	s.mu.Unlock()

	if err := fn(ctx, &uow{st: work, faults: faults}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.mu.Lock()
	s.st = work
	s.mu.Unlock()
	return nil
}

// FailOn makes every later call of the named UnitOfWork method return err.
// A nil err clears the fault.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, method)
		return
	}
	s.faults[method] = err
}

// Seeding and inspection helpers. They bypass transactions.

func (s *Store) SetBalance(owner string, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.wallets[owner] = amount
}

func (s *Store) Balance(owner string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.wallets[owner]
}

func (s *Store) HasWallet(owner string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.st.wallets[owner]
	return ok
}

func (s *Store) SetStack(owner, item string, qty int64) {
	s.SetStackAt(game.StackKey{Owner: owner, Item: item, Location: game.LocationBackpack}, qty)
}

func (s *Store) SetStackAt(key game.StackKey, qty int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if qty <= 0 {
		delete(s.st.stacks, key)
		return
	}
	s.st.stacks[key] = qty
}

func (s *Store) Stack(owner, item string) int64 {
	return s.StackAt(game.StackKey{Owner: owner, Item: item, Location: game.LocationBackpack})
}

func (s *Store) StackAt(key game.StackKey) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.stacks[key]
}

func (s *Store) SetGuild(member, guildID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.guildOf[member] = guildID
}

func (s *Store) SetAlliance(guildA, guildB string, discountPct int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.alliances[orderedPair(guildA, guildB)] = discountPct
}

func (s *Store) AddAgent(a game.Agent) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.st.nextID()
	if a.Status == "" {
		a.Status = game.AgentIdle
	}
	s.st.agents[a.ID] = a
	return a.ID
}

func (s *Store) Agent(id int64) (game.Agent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.st.agents[id]
	return a, ok
}

func (s *Store) SetProgress(owner, skill string, p game.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.progress[pair{owner, skill}] = p
}

func (s *Store) Unlock(owner, blueprintID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.unlocks[pair{owner, blueprintID}] = time.Now().UTC()
}

// Ledger returns every entry in append order.
func (s *Store) Ledger() []game.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]game.LedgerEntry(nil), s.st.ledger...)
}

func (s *Store) ListingByID(id int64) (game.Listing, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.st.listings[id]
	return l, ok
}

func orderedPair(a, b string) pair {
	if a > b {
		a, b = b, a
	}
	return pair{a, b}
}
