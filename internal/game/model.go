package game

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// SystemAccount is the ledger counterparty for fees and mission rewards.
	// It never has a wallet row; its entries exist so every event nets to zero.
	SystemAccount = "system:house"

	LocationBackpack   = "backpack"
	LocationGuildVault = "guild_vault"

	SkillCrafting = "crafting"

	MaxCraftBatch   = int64(100)
	MaxListingUnits = int64(1_000_000)

	// Per-request ceilings for guild contributions. Gold is bounded by the
	// member's balance; these keep item and trade points well inside int64.
	MaxContributionItems  = int64(10_000)
	MaxContributionTrades = int64(100)
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrInvalidOperation      = errors.New("invalid operation")
	ErrListingUnavailable    = errors.New("listing unavailable")
	ErrAlreadyComplete       = errors.New("already complete")
	ErrNotYetComplete        = errors.New("not yet complete")
	ErrInternal              = errors.New("internal error")
	ErrTxConflict            = errors.New("transaction conflict, retry later")
	ErrDuplicateIdempotency  = errors.New("duplicate idempotency key")
)

// ShortfallError reports a failed quantity check with what was needed.
// It unwraps to ErrInsufficientFunds or ErrInsufficientInventory.
type ShortfallError struct {
	Kind      error
	Item      string
	Required  int64
	Available int64
}

func (e *ShortfallError) Error() string {
	if e.Item != "" {
		return fmt.Sprintf("%v: %s requires %d, have %d", e.Kind, e.Item, e.Required, e.Available)
	}
	return fmt.Sprintf("%v: requires %d, have %d", e.Kind, e.Required, e.Available)
}

func (e *ShortfallError) Unwrap() error {
	return e.Kind
}

var domainErrors = []error{
	ErrNotFound,
	ErrInsufficientFunds,
	ErrInsufficientInventory,
	ErrInvalidOperation,
	ErrListingUnavailable,
	ErrAlreadyComplete,
	ErrNotYetComplete,
	ErrInternal,
	ErrTxConflict,
	ErrDuplicateIdempotency,
}

// IsDomainError reports whether err belongs to the error taxonomy callers map
// to user-facing responses.
func IsDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidOperation, fmt.Sprintf(format, args...))
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// GuildTreasury is the wallet/inventory owner id for a guild's shared funds.
func GuildTreasury(guildID string) string {
	return "guild:" + strings.TrimSpace(guildID)
}

func validateOwner(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return invalidf("owner id is required")
	}
	if strings.HasPrefix(id, "system:") || strings.HasPrefix(id, "guild:") {
		return invalidf("owner id %q is reserved", id)
	}
	return nil
}
