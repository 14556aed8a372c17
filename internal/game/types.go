package game

import "time"

type ListingStatus string

const (
	ListingActive    ListingStatus = "active"
	ListingSold      ListingStatus = "sold"
	ListingCancelled ListingStatus = "cancelled"
	ListingExpired   ListingStatus = "expired"
)

type Reason string

const (
	ReasonPurchase          Reason = "listing_purchase"
	ReasonListingFee        Reason = "listing_fee"
	ReasonMissionReward     Reason = "mission_reward"
	ReasonGuildContribution Reason = "guild_contribution"
	ReasonTransfer          Reason = "transfer"
	ReasonGrant             Reason = "admin_grant"
)

type MissionStatus string

const (
	MissionActive    MissionStatus = "active"
	MissionCompleted MissionStatus = "completed"
)

type CraftStatus string

const (
	CraftRunning  CraftStatus = "running"
	CraftComplete CraftStatus = "complete"
)

type AgentStatus string

const (
	AgentIdle      AgentStatus = "idle"
	AgentOnMission AgentStatus = "on_mission"
)

type StackKey struct {
	Owner    string `json:"owner"`
	Item     string `json:"item"`
	Location string `json:"location"`
}

type InventoryStack struct {
	StackKey
	Quantity int64 `json:"quantity"`
}

type ItemCount struct {
	Item  string `json:"item" yaml:"item"`
	Count int64  `json:"count" yaml:"count"`
}

type Listing struct {
	ID            int64         `json:"id"`
	SellerID      string        `json:"seller_id"`
	BuyerID       string        `json:"buyer_id,omitempty"`
	ReservedFor   string        `json:"reserved_for,omitempty"`
	ItemID        string        `json:"item_id"`
	Quantity      int64         `json:"quantity"`
	UnitPrice     int64         `json:"unit_price"`
	Fee           int64         `json:"fee"`
	DurationHours int           `json:"duration_hours"`
	Status        ListingStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	ExpiresAt     time.Time     `json:"expires_at"`
	ClosedAt      *time.Time    `json:"closed_at,omitempty"`
}

func (l Listing) TotalValue() int64 {
	return l.Quantity * l.UnitPrice
}

type LedgerEntry struct {
	ID            int64          `json:"id"`
	OwnerID       string         `json:"owner_id"`
	Amount        int64          `json:"amount"`
	Reason        Reason         `json:"reason"`
	CorrelationID string         `json:"correlation_id"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	// TxID is the writing transaction, set only on committed export reads.
	TxID int64 `json:"txid,omitempty"`
}

// LedgerPosition is an export cursor: entries are ordered by the
// transaction that wrote them, then by id.
type LedgerPosition struct {
	TxID int64 `json:"txid"`
	ID   int64 `json:"id"`
}

// Precedes reports whether e sorts after p.
func (p LedgerPosition) Precedes(e LedgerEntry) bool {
	return e.TxID > p.TxID || (e.TxID == p.TxID && e.ID > p.ID)
}

type Agent struct {
	ID           int64       `json:"id"`
	OwnerID      string      `json:"owner_id"`
	Name         string      `json:"name"`
	SuccessBonus int         `json:"success_bonus"`
	Status       AgentStatus `json:"status"`
	Progress     Progress    `json:"progress"`
}

type MissionInstance struct {
	ID           int64         `json:"id"`
	OwnerID      string        `json:"owner_id"`
	MissionID    string        `json:"mission_id"`
	AgentID      int64         `json:"agent_id,omitempty"`
	Status       MissionStatus `json:"status"`
	StartedAt    time.Time     `json:"started_at"`
	EndsAt       time.Time     `json:"ends_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	ActualReward int64         `json:"actual_reward"`
	Outcome      Tier          `json:"outcome,omitempty"`
}

type CraftJob struct {
	ID          int64       `json:"id"`
	OwnerID     string      `json:"owner_id"`
	BlueprintID string      `json:"blueprint_id"`
	Quantity    int64       `json:"quantity"`
	Status      CraftStatus `json:"status"`
	StartedAt   time.Time   `json:"started_at"`
	ETA         time.Time   `json:"eta"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

type GuildContribution struct {
	GuildID  string   `json:"guild_id"`
	MemberID string   `json:"member_id"`
	Points   int64    `json:"points"`
	Progress Progress `json:"progress"`
}

// Catalog definitions.

type ItemDef struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Tradable bool   `json:"tradable" yaml:"tradable"`
}

type Blueprint struct {
	ID            string      `json:"id" yaml:"id"`
	Name          string      `json:"name" yaml:"name"`
	OutputItem    string      `json:"output_item" yaml:"output_item"`
	OutputQty     int64       `json:"output_qty" yaml:"output_qty"`
	Inputs        []ItemCount `json:"inputs" yaml:"inputs"`
	TimeMin       int         `json:"time_min" yaml:"time_min"`
	XPReward      int64       `json:"xp_reward" yaml:"xp_reward"`
	RequiredLevel int         `json:"required_level" yaml:"required_level"`
	Starter       bool        `json:"starter" yaml:"starter"`
}

type MissionDef struct {
	ID            string      `json:"id" yaml:"id"`
	Name          string      `json:"name" yaml:"name"`
	Risk          Risk        `json:"risk" yaml:"risk"`
	DurationMin   int         `json:"duration_min" yaml:"duration_min"`
	Distance      *int        `json:"distance,omitempty" yaml:"distance,omitempty"`
	BaseGold      int64       `json:"base_gold" yaml:"base_gold"`
	BaseXP        int64       `json:"base_xp" yaml:"base_xp"`
	Items         []ItemCount `json:"items" yaml:"items"`
	MinAgentLevel int         `json:"min_agent_level" yaml:"min_agent_level"`
}

// Operation inputs and results.

type CreateListingInput struct {
	SellerID       string
	ItemID         string
	Quantity       int64
	UnitPrice      int64
	DurationHours  int
	ReservedFor    string
	IdempotencyKey string
}

type CreateListingResult struct {
	Listing    Listing `json:"listing"`
	TotalValue int64   `json:"total_value"`
	BaseFee    int64   `json:"base_fee"`
	Discount   int64   `json:"discount"`
	Fee        int64   `json:"fee"`
	Balance    int64   `json:"balance"`
}

type PurchaseInput struct {
	BuyerID        string
	ListingID      int64
	IdempotencyKey string
}

type PurchaseResult struct {
	Listing       Listing `json:"listing"`
	TotalValue    int64   `json:"total_value"`
	BuyerBalance  int64   `json:"buyer_balance"`
	CorrelationID string  `json:"correlation_id"`
}

type DispatchInput struct {
	OwnerID        string
	MissionID      string
	AgentID        int64
	IdempotencyKey string
}

type DispatchResult struct {
	Mission             MissionInstance `json:"mission"`
	EstimatedCompletion time.Time       `json:"estimated_completion_time"`
}

type MissionResult struct {
	Success       bool            `json:"success"`
	ActualReward  int64           `json:"actual_reward"`
	ItemsReceived []ItemCount     `json:"items_received"`
	OutcomeType   Tier            `json:"outcome_type"`
	Roll          float64         `json:"roll"`
	Mission       MissionInstance `json:"mission"`
	Agent         *Agent          `json:"agent,omitempty"`
}

type StartCraftInput struct {
	OwnerID        string
	BlueprintID    string
	Quantity       int64
	IdempotencyKey string
}

type StartCraftResult struct {
	CraftJob                CraftJob    `json:"craft_job"`
	MaterialsConsumed       []ItemCount `json:"materials_consumed"`
	EstimatedCompletionTime time.Time   `json:"estimated_completion_time"`
}

type CompleteCraftResult struct {
	CraftJob     CraftJob  `json:"craft_job"`
	ItemsGranted ItemCount `json:"items_granted"`
	XPGained     int64     `json:"xp_gained"`
	LevelsGained int       `json:"levels_gained"`
	Progress     Progress  `json:"progress"`
}

type ContributeResult struct {
	Contribution    GuildContribution `json:"contribution"`
	PointsAwarded   int64             `json:"points_awarded"`
	LevelsGained    int               `json:"levels_gained"`
	TreasuryBalance int64             `json:"treasury_balance"`
}
