package game

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

type Isolation int

const (
	ReadCommitted Isolation = iota
	RepeatableRead
	Serializable
)

func (i Isolation) String() string {
	switch i {
	case ReadCommitted:
		return "read_committed"
	case RepeatableRead:
		return "repeatable_read"
	case Serializable:
		return "serializable"
	default:
		return "unknown"
	}
}

type TxOptions struct {
	Isolation Isolation
	Timeout   time.Duration
}

// TxRunner opens a transaction scope. fn's writes commit together when it
// returns nil and roll back together otherwise, including on timeout.
type TxRunner interface {
	WithTx(ctx context.Context, opts TxOptions, fn func(ctx context.Context, uow UnitOfWork) error) error
}

// Wallets mutate balances only through single-statement conditional writes.
type Wallets interface {
	// DebitWallet subtracts amount iff the balance covers it. A missing wallet
	// or short balance returns ErrInsufficientFunds and changes nothing.
	DebitWallet(ctx context.Context, owner string, amount int64) (int64, error)
	// CreditWallet creates the wallet with amount or increments it.
	CreditWallet(ctx context.Context, owner string, amount int64) (int64, error)
	Balance(ctx context.Context, owner string) (int64, error)
}

type Inventory interface {
	// WithdrawItems subtracts qty iff the stack holds it, deleting empty
	// stacks. Otherwise ErrInsufficientInventory and nothing changes.
	WithdrawItems(ctx context.Context, key StackKey, qty int64) (int64, error)
	DepositItems(ctx context.Context, key StackKey, qty int64) (int64, error)
	StackQuantity(ctx context.Context, key StackKey) (int64, error)
	Stacks(ctx context.Context, owner string) ([]InventoryStack, error)
}

type Ledger interface {
	AppendLedger(ctx context.Context, entries []LedgerEntry) error
	LedgerByOwner(ctx context.Context, owner string, limit int) ([]LedgerEntry, error)
}

type Listings interface {
	InsertListing(ctx context.Context, l *Listing) error
	GetListing(ctx context.Context, id int64) (Listing, error)
	// CloseListing moves an active listing to a terminal status. A listing
	// that is no longer active returns ErrListingUnavailable.
	CloseListing(ctx context.Context, id int64, to ListingStatus, buyer string, at time.Time) error
	DueListings(ctx context.Context, now time.Time, limit int) ([]int64, error)
	ActiveListings(ctx context.Context, itemID string, limit int) ([]Listing, error)
}

type Guilds interface {
	GuildOf(ctx context.Context, owner string) (string, bool, error)
	AllianceDiscount(ctx context.Context, guildA, guildB string) (int, bool, error)
	GetContribution(ctx context.Context, guildID, memberID string) (GuildContribution, bool, error)
	SaveContribution(ctx context.Context, c GuildContribution) error
}

type Agents interface {
	GetAgent(ctx context.Context, id int64) (Agent, error)
	// ClaimAgent flips an idle agent owned by owner to on_mission.
	ClaimAgent(ctx context.Context, id int64, owner string) error
	ReleaseAgent(ctx context.Context, id int64, progress Progress) error
}

type Missions interface {
	InsertMission(ctx context.Context, m *MissionInstance) error
	GetMission(ctx context.Context, id int64) (MissionInstance, error)
	// FinishMission moves active to completed once; again returns ErrAlreadyComplete.
	FinishMission(ctx context.Context, id int64, at time.Time, reward int64, tier Tier) error
}

type Crafting interface {
	HasUnlock(ctx context.Context, owner, blueprintID string) (bool, error)
	InsertUnlock(ctx context.Context, owner, blueprintID string, at time.Time) error
	GetProgress(ctx context.Context, owner, skill string) (Progress, bool, error)
	SaveProgress(ctx context.Context, owner, skill string, p Progress) error
	InsertCraftJob(ctx context.Context, j *CraftJob) error
	GetCraftJob(ctx context.Context, id int64) (CraftJob, error)
	FinishCraftJob(ctx context.Context, id int64, at time.Time) error
}

type Idempotency interface {
	ClaimIdempotency(ctx context.Context, owner, key, action string) error
}

// UnitOfWork is the transaction-scoped view of the store handed to fn by
// TxRunner.WithTx. It must not be retained after fn returns.
type UnitOfWork interface {
	Wallets
	Inventory
	Ledger
	Listings
	Guilds
	Agents
	Missions
	Crafting
	Idempotency
}

// Catalog resolves static content definitions.
type Catalog interface {
	Item(id string) (ItemDef, bool)
	Blueprint(id string) (Blueprint, bool)
	Mission(id string) (MissionDef, bool)
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Roller yields uniform rolls in [0, 100).
type Roller interface {
	Roll() float64
}

type RandRoller struct {
	mu   sync.Mutex
	rand *rand.Rand
}

func NewRandRoller(seed int64) *RandRoller {
	return &RandRoller{rand: rand.New(rand.NewSource(seed))}
}

func (r *RandRoller) Roll() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64() * 100
}

type FixedRoller float64

func (f FixedRoller) Roll() float64 { return float64(f) }

// Event is a committed economic event.
type Event struct {
	Kind    string         `json:"kind"`
	OwnerID string         `json:"owner_id"`
	Ref     int64          `json:"ref"`
	At      time.Time      `json:"at"`
	Data    map[string]any `json:"data,omitempty"`
}

type EventSink interface {
	Publish(ev Event)
}

type nopSink struct{}

func (nopSink) Publish(Event) {}
