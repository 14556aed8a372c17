package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tradepost/internal/metrics"
)

type Service struct {
	tx      TxRunner
	catalog Catalog
	econ    Economy
	clock   Clock
	roller  Roller
	events  EventSink
	log     *slog.Logger
}

type Option func(*Service)

func WithClock(c Clock) Option { return func(s *Service) { s.clock = c } }

func WithRoller(r Roller) Option { return func(s *Service) { s.roller = r } }

func WithEvents(sink EventSink) Option { return func(s *Service) { s.events = sink } }

func WithEconomy(e Economy) Option { return func(s *Service) { s.econ = e } }

func NewService(tx TxRunner, catalog Catalog, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		tx:      tx,
		catalog: catalog,
		econ:    DefaultEconomy(),
		clock:   SystemClock{},
		roller:  NewRandRoller(time.Now().UnixNano()),
		events:  nopSink{},
		log:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Economy() Economy { return s.econ }

func (s *Service) Now() time.Time { return s.clock.Now() }

// txScope collects events and gold movements from one attempt so that only
// the committed attempt publishes or counts them.
type txScope struct {
	events []Event
	gold   map[Reason]int64
}

func (t *txScope) emit(ev Event) {
	t.events = append(t.events, ev)
}

func (t *txScope) moved(entries []LedgerEntry) {
	for _, e := range entries {
		if e.Amount <= 0 {
			continue
		}
		if t.gold == nil {
			t.gold = make(map[Reason]int64)
		}
		t.gold[e.Reason] += e.Amount
	}
}

// scopedUnit records appended ledger entries on the attempt's scope.
type scopedUnit struct {
	UnitOfWork
	scope *txScope
}

func (u scopedUnit) AppendLedger(ctx context.Context, entries []LedgerEntry) error {
	if err := u.UnitOfWork.AppendLedger(ctx, entries); err != nil {
		return err
	}
	u.scope.moved(entries)
	return nil
}

// run executes fn in a serializable scope with the given timeout, maps
// unexpected failures to ErrInternal and publishes events after commit.
func (s *Service) run(ctx context.Context, op string, timeout time.Duration, fn func(ctx context.Context, uow UnitOfWork, scope *txScope) error) error {
	start := time.Now()
	var scope *txScope
	err := s.tx.WithTx(ctx, TxOptions{Isolation: Serializable, Timeout: timeout}, func(ctx context.Context, uow UnitOfWork) error {
		scope = &txScope{}
		return fn(ctx, scopedUnit{UnitOfWork: uow, scope: scope}, scope)
	})
	metrics.TxDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TxOutcomes.WithLabelValues(op, errorLabel(err)).Inc()
		if !IsDomainError(err) {
			s.log.Error("transaction failed", "op", op, "err", err)
			return fmt.Errorf("%w: %s", ErrInternal, op)
		}
		return err
	}
	metrics.TxOutcomes.WithLabelValues(op, "ok").Inc()
	for reason, amount := range scope.gold {
		metrics.GoldMoved.WithLabelValues(string(reason)).Add(float64(amount))
	}
	for _, ev := range scope.events {
		s.events.Publish(ev)
	}
	return nil
}

// read executes fn in a read-committed scope; used for queries.
func (s *Service) read(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error {
	err := s.tx.WithTx(ctx, TxOptions{Isolation: ReadCommitted, Timeout: s.econ.ShortTimeout}, fn)
	if err != nil && !IsDomainError(err) {
		s.log.Error("read failed", "err", err)
		return fmt.Errorf("%w: read", ErrInternal)
	}
	return err
}

func errorLabel(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInsufficientInventory):
		return "insufficient_inventory"
	case errors.Is(err, ErrInvalidOperation):
		return "invalid_operation"
	case errors.Is(err, ErrListingUnavailable):
		return "listing_unavailable"
	case errors.Is(err, ErrAlreadyComplete):
		return "already_complete"
	case errors.Is(err, ErrNotYetComplete):
		return "not_yet_complete"
	case errors.Is(err, ErrTxConflict):
		return "tx_conflict"
	case errors.Is(err, ErrDuplicateIdempotency):
		return "duplicate"
	default:
		return "internal"
	}
}

func claimKey(ctx context.Context, uow UnitOfWork, owner, key, action string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	return uow.ClaimIdempotency(ctx, owner, key, action)
}

// Read models.

func (s *Service) Balance(ctx context.Context, owner string) (int64, error) {
	var out int64
	err := s.read(ctx, func(ctx context.Context, uow UnitOfWork) error {
		var err error
		out, err = uow.Balance(ctx, owner)
		return err
	})
	return out, err
}

func (s *Service) Inventory(ctx context.Context, owner string) ([]InventoryStack, error) {
	var out []InventoryStack
	err := s.read(ctx, func(ctx context.Context, uow UnitOfWork) error {
		var err error
		out, err = uow.Stacks(ctx, owner)
		return err
	})
	return out, err
}

func (s *Service) LedgerHistory(ctx context.Context, owner string, limit int) ([]LedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []LedgerEntry
	err := s.read(ctx, func(ctx context.Context, uow UnitOfWork) error {
		var err error
		out, err = uow.LedgerByOwner(ctx, owner, limit)
		return err
	})
	return out, err
}

func (s *Service) Listing(ctx context.Context, id int64) (Listing, error) {
	var out Listing
	err := s.read(ctx, func(ctx context.Context, uow UnitOfWork) error {
		var err error
		out, err = uow.GetListing(ctx, id)
		return err
	})
	return out, err
}

func (s *Service) ActiveListings(ctx context.Context, itemID string, limit int) ([]Listing, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []Listing
	err := s.read(ctx, func(ctx context.Context, uow UnitOfWork) error {
		var err error
		out, err = uow.ActiveListings(ctx, strings.TrimSpace(itemID), limit)
		return err
	})
	return out, err
}

func (s *Service) Mission(ctx context.Context, owner string, id int64) (MissionInstance, error) {
	var out MissionInstance
	err := s.read(ctx, func(ctx context.Context, uow UnitOfWork) error {
		m, err := uow.GetMission(ctx, id)
		if err != nil {
			return err
		}
		if m.OwnerID != owner {
			return notFoundf("mission %d", id)
		}
		out = m
		return nil
	})
	return out, err
}

func (s *Service) CraftJob(ctx context.Context, owner string, id int64) (CraftJob, error) {
	var out CraftJob
	err := s.read(ctx, func(ctx context.Context, uow UnitOfWork) error {
		j, err := uow.GetCraftJob(ctx, id)
		if err != nil {
			return err
		}
		if j.OwnerID != owner {
			return notFoundf("craft job %d", id)
		}
		out = j
		return nil
	})
	return out, err
}

func (s *Service) SkillProgress(ctx context.Context, owner, skill string) (Progress, error) {
	out := s.econ.CraftingCurve.Start()
	err := s.read(ctx, func(ctx context.Context, uow UnitOfWork) error {
		p, ok, err := uow.GetProgress(ctx, owner, skill)
		if err != nil {
			return err
		}
		if ok {
			out = p
		}
		return nil
	})
	return out, err
}
