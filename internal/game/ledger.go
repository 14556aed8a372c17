package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type walletLedger interface {
	Wallets
	Ledger
}

type TransferResult struct {
	PayerBalance  int64  `json:"payer_balance"`
	PayeeBalance  int64  `json:"payee_balance"`
	CorrelationID string `json:"correlation_id"`
}

// Transfer moves amount from payer to payee inside the caller's transaction.
// The debit is a single conditional write, the credit an upsert, and exactly
// one debit and one credit ledger entry share correlationID (a fresh uuid
// when empty). On any error the caller must abort the transaction.
func Transfer(ctx context.Context, uow walletLedger, at time.Time, payer, payee string, amount int64, reason Reason, correlationID string, meta map[string]any) (TransferResult, error) {
	var out TransferResult
	if amount <= 0 {
		return out, invalidf("transfer amount must be > 0")
	}
	if payer == payee {
		return out, invalidf("payer and payee must differ")
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	out.CorrelationID = correlationID

	bal, err := uow.DebitWallet(ctx, payer, amount)
	if err != nil {
		return out, shortfall(ctx, uow, err, payer, amount)
	}
	out.PayerBalance = bal

	bal, err = uow.CreditWallet(ctx, payee, amount)
	if err != nil {
		return out, fmt.Errorf("credit %s: %w", payee, err)
	}
	out.PayeeBalance = bal

	if err := uow.AppendLedger(ctx, pairedEntries(at, payer, payee, amount, reason, correlationID, meta)); err != nil {
		return out, fmt.Errorf("append ledger: %w", err)
	}
	return out, nil
}

// chargeFee debits owner and books the fee to the house account.
func chargeFee(ctx context.Context, uow walletLedger, at time.Time, owner string, fee int64, reason Reason, correlationID string, meta map[string]any) (int64, error) {
	bal, err := uow.DebitWallet(ctx, owner, fee)
	if err != nil {
		return 0, shortfall(ctx, uow, err, owner, fee)
	}
	if err := uow.AppendLedger(ctx, pairedEntries(at, owner, SystemAccount, fee, reason, correlationID, meta)); err != nil {
		return 0, fmt.Errorf("append ledger: %w", err)
	}
	return bal, nil
}

// mint credits owner from the house account.
func mint(ctx context.Context, uow walletLedger, at time.Time, owner string, amount int64, reason Reason, correlationID string, meta map[string]any) (int64, error) {
	bal, err := uow.CreditWallet(ctx, owner, amount)
	if err != nil {
		return 0, fmt.Errorf("credit %s: %w", owner, err)
	}
	if err := uow.AppendLedger(ctx, pairedEntries(at, SystemAccount, owner, amount, reason, correlationID, meta)); err != nil {
		return 0, fmt.Errorf("append ledger: %w", err)
	}
	return bal, nil
}

func pairedEntries(at time.Time, from, to string, amount int64, reason Reason, correlationID string, meta map[string]any) []LedgerEntry {
	if meta == nil {
		meta = map[string]any{}
	}
	debitMeta := copyMeta(meta)
	debitMeta["counterparty"] = to
	creditMeta := copyMeta(meta)
	creditMeta["counterparty"] = from
	return []LedgerEntry{
		{OwnerID: from, Amount: -amount, Reason: reason, CorrelationID: correlationID, Metadata: debitMeta, CreatedAt: at},
		{OwnerID: to, Amount: amount, Reason: reason, CorrelationID: correlationID, Metadata: creditMeta, CreatedAt: at},
	}
}

func copyMeta(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

// shortfall decorates ErrInsufficientFunds with the balance seen inside the
// (already failing) transaction.
func shortfall(ctx context.Context, uow Wallets, err error, owner string, required int64) error {
	if !errors.Is(err, ErrInsufficientFunds) {
		return fmt.Errorf("debit %s: %w", owner, err)
	}
	available, berr := uow.Balance(ctx, owner)
	if berr != nil {
		return err
	}
	return &ShortfallError{Kind: ErrInsufficientFunds, Required: required, Available: available}
}

// Transfer is the service-level gold transfer between two players.
func (s *Service) Transfer(ctx context.Context, payer, payee string, amount int64, idempotencyKey string) (TransferResult, error) {
	var out TransferResult
	if err := validateOwner(payer); err != nil {
		return out, err
	}
	if err := validateOwner(payee); err != nil {
		return out, err
	}
	err := s.run(ctx, "transfer", s.econ.ShortTimeout, func(ctx context.Context, uow UnitOfWork, scope *txScope) error {
		if err := claimKey(ctx, uow, payer, idempotencyKey, "transfer"); err != nil {
			return err
		}
		now := s.clock.Now()
		res, err := Transfer(ctx, uow, now, payer, payee, amount, ReasonTransfer, "", nil)
		if err != nil {
			return err
		}
		out = res
		scope.emit(Event{Kind: "gold.transferred", OwnerID: payer, At: now, Data: map[string]any{"payee": payee, "amount": amount}})
		return nil
	})
	return out, err
}

// Grant mints gold from the house account. Operator tooling only.
func (s *Service) Grant(ctx context.Context, owner string, amount int64, note string) (int64, error) {
	var out int64
	if err := validateOwner(owner); err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, invalidf("grant amount must be > 0")
	}
	err := s.run(ctx, "grant", s.econ.ShortTimeout, func(ctx context.Context, uow UnitOfWork, scope *txScope) error {
		now := s.clock.Now()
		bal, err := mint(ctx, uow, now, owner, amount, ReasonGrant, uuid.NewString(), map[string]any{"note": note})
		if err != nil {
			return err
		}
		out = bal
		scope.emit(Event{Kind: "gold.granted", OwnerID: owner, At: now, Data: map[string]any{"amount": amount}})
		return nil
	})
	return out, err
}
