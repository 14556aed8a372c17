package game_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"tradepost/internal/catalog"
	"tradepost/internal/game"
	"tradepost/internal/memstore"
	"tradepost/internal/metrics"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingSink struct {
	mu     sync.Mutex
	events []game.Event
}

func (r *recordingSink) Publish(ev game.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (r *recordingSink) all() []game.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]game.Event(nil), r.events...)
}

type fixture struct {
	svc    *game.Service
	store  *memstore.Store
	clock  *manualClock
	events *recordingSink
}

func newFixture(t *testing.T, roll float64) *fixture {
	t.Helper()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	f := &fixture{
		store:  memstore.New(),
		clock:  &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		events: &recordingSink{},
	}
	f.svc = game.NewService(f.store, cat, nil,
		game.WithClock(f.clock),
		game.WithRoller(game.FixedRoller(roll)),
		game.WithEvents(f.events),
	)
	return f
}

func (f *fixture) list(t *testing.T, seller, item string, qty, price int64, hours int) game.CreateListingResult {
	t.Helper()
	res, err := f.svc.CreateListing(context.Background(), game.CreateListingInput{
		SellerID: seller, ItemID: item, Quantity: qty, UnitPrice: price, DurationHours: hours,
	})
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	return res
}

func ledgerSum(entries []game.LedgerEntry) int64 {
	var sum int64
	for _, e := range entries {
		sum += e.Amount
	}
	return sum
}

func TestListThenBuyScenario(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	f.store.SetStack("seller", "wood", 10)
	f.store.SetBalance("seller", 100)
	f.store.SetBalance("buyer", 1000)

	created := f.list(t, "seller", "wood", 10, 50, 24)
	if created.Fee != 25 || created.TotalValue != 500 {
		t.Fatalf("fee=%d total=%d, want 25 and 500", created.Fee, created.TotalValue)
	}
	if created.Listing.Status != game.ListingActive {
		t.Fatalf("status = %s, want active", created.Listing.Status)
	}
	if got := f.store.Balance("seller"); got != 75 {
		t.Fatalf("seller balance = %d, want 75", got)
	}
	if got := f.store.Stack("seller", "wood"); got != 0 {
		t.Fatalf("seller wood = %d, want 0", got)
	}

	bought, err := f.svc.PurchaseListing(ctx, game.PurchaseInput{BuyerID: "buyer", ListingID: created.Listing.ID})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if bought.Listing.Status != game.ListingSold || bought.BuyerBalance != 500 {
		t.Fatalf("unexpected purchase result %+v", bought)
	}
	if got := f.store.Balance("buyer"); got != 500 {
		t.Fatalf("buyer balance = %d, want 500", got)
	}
	if got := f.store.Balance("seller"); got != 575 {
		t.Fatalf("seller balance = %d, want 575", got)
	}
	if got := f.store.Stack("buyer", "wood"); got != 10 {
		t.Fatalf("buyer wood = %d, want 10", got)
	}
	l, _ := f.store.ListingByID(created.Listing.ID)
	if l.Status != game.ListingSold || l.ClosedAt == nil || l.BuyerID != "buyer" {
		t.Fatalf("stored listing = %+v", l)
	}

	var sale []game.LedgerEntry
	for _, e := range f.store.Ledger() {
		if e.Reason == game.ReasonPurchase {
			sale = append(sale, e)
		}
	}
	if len(sale) != 2 {
		t.Fatalf("purchase ledger entries = %d, want 2", len(sale))
	}
	if sale[0].CorrelationID == "" || sale[0].CorrelationID != sale[1].CorrelationID {
		t.Fatalf("correlation ids differ: %q vs %q", sale[0].CorrelationID, sale[1].CorrelationID)
	}
	if sale[0].OwnerID != "buyer" || sale[0].Amount != -500 || sale[1].OwnerID != "seller" || sale[1].Amount != 500 {
		t.Fatalf("unexpected sale entries %+v", sale)
	}
	if sum := ledgerSum(f.store.Ledger()); sum != 0 {
		t.Fatalf("ledger does not net to zero: %d", sum)
	}

	kinds := f.events.kinds()
	if len(kinds) != 2 || kinds[0] != "listing.created" || kinds[1] != "listing.sold" {
		t.Fatalf("events = %v", kinds)
	}
}

func TestPurchaseRaceHasOneWinner(t *testing.T) {
	f := newFixture(t, 50)
	f.store.SetStack("seller", "wood", 10)
	f.store.SetBalance("seller", 100)
	buyers := []string{"b1", "b2", "b3", "b4"}
	for _, b := range buyers {
		f.store.SetBalance(b, 1000)
	}
	id := f.list(t, "seller", "wood", 10, 50, 24).Listing.ID

	var wg sync.WaitGroup
	errs := make([]error, len(buyers))
	start := make(chan struct{})
	for i, b := range buyers {
		wg.Add(1)
		go func(i int, b string) {
			defer wg.Done()
			<-start
			_, errs[i] = f.svc.PurchaseListing(context.Background(), game.PurchaseInput{BuyerID: b, ListingID: id})
		}(i, b)
	}
	close(start)
	wg.Wait()

	wins := 0
	for i, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, game.ErrListingUnavailable):
		default:
			t.Fatalf("buyer %s: unexpected error %v", buyers[i], err)
		}
	}
	if wins != 1 {
		t.Fatalf("winners = %d, want 1", wins)
	}
	var spent int64
	for _, b := range buyers {
		spent += 1000 - f.store.Balance(b)
	}
	if spent != 500 {
		t.Fatalf("total debited = %d, want 500", spent)
	}
}

func TestPurchaseFailuresLeaveListingActive(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	f.store.SetStack("seller", "wood", 10)
	f.store.SetBalance("seller", 100)
	f.store.SetBalance("poor", 100)
	id := f.list(t, "seller", "wood", 10, 50, 24).Listing.ID

	_, err := f.svc.PurchaseListing(ctx, game.PurchaseInput{BuyerID: "poor", ListingID: id})
	var short *game.ShortfallError
	if !errors.As(err, &short) || !errors.Is(err, game.ErrInsufficientFunds) {
		t.Fatalf("expected funds shortfall, got %v", err)
	}
	if short.Required != 500 || short.Available != 100 {
		t.Fatalf("shortfall = %+v", short)
	}

	if _, err := f.svc.PurchaseListing(ctx, game.PurchaseInput{BuyerID: "seller", ListingID: id}); !errors.Is(err, game.ErrInvalidOperation) {
		t.Fatalf("self purchase: expected ErrInvalidOperation, got %v", err)
	}
	if _, err := f.svc.PurchaseListing(ctx, game.PurchaseInput{BuyerID: "poor", ListingID: 9999}); !errors.Is(err, game.ErrNotFound) {
		t.Fatalf("missing listing: expected ErrNotFound, got %v", err)
	}

	l, _ := f.store.ListingByID(id)
	if l.Status != game.ListingActive {
		t.Fatalf("listing status = %s, want active", l.Status)
	}
	if f.store.Balance("poor") != 100 || f.store.Stack("poor", "wood") != 0 {
		t.Fatalf("failed purchase leaked state")
	}
}

func goldMoved(t *testing.T, reason game.Reason) float64 {
	t.Helper()
	var m dto.Metric
	if err := metrics.GoldMoved.WithLabelValues(string(reason)).Write(&m); err != nil {
		t.Fatalf("read gold counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestGoldMovedCountsCommittedWorkOnly(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	f.store.SetStack("seller", "wood", 10)
	f.store.SetBalance("seller", 1000)
	f.store.SetBalance("buyer", 1000)
	created := f.list(t, "seller", "wood", 10, 5, 24)

	before := goldMoved(t, game.ReasonPurchase)
	// The transfer and its ledger entries succeed; the item deposit after
	// them fails and the attempt rolls back.
	f.store.FailOn("DepositItems", errors.New("disk full"))
	if _, err := f.svc.PurchaseListing(ctx, game.PurchaseInput{BuyerID: "buyer", ListingID: created.Listing.ID}); !errors.Is(err, game.ErrInternal) {
		t.Fatalf("expected ErrInternal, got %v", err)
	}
	if got := goldMoved(t, game.ReasonPurchase); got != before {
		t.Fatalf("rolled back purchase counted: %v -> %v", before, got)
	}

	f.store.FailOn("DepositItems", nil)
	if _, err := f.svc.PurchaseListing(ctx, game.PurchaseInput{BuyerID: "buyer", ListingID: created.Listing.ID}); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if got := goldMoved(t, game.ReasonPurchase); got != before+50 {
		t.Fatalf("gold moved = %v, want %v", got, before+50)
	}
}

func TestTransferIsAtomicWhenLedgerWriteFails(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	f.store.SetBalance("alice", 100)

	f.store.FailOn("AppendLedger", errors.New("disk full"))
	_, err := f.svc.Transfer(ctx, "alice", "bob", 40, "")
	if !errors.Is(err, game.ErrInternal) {
		t.Fatalf("expected ErrInternal, got %v", err)
	}
	if f.store.Balance("alice") != 100 || f.store.HasWallet("bob") {
		t.Fatalf("partial transfer visible: alice=%d bob wallet=%v", f.store.Balance("alice"), f.store.HasWallet("bob"))
	}
	if n := len(f.store.Ledger()); n != 0 {
		t.Fatalf("ledger entries = %d, want 0", n)
	}

	f.store.FailOn("AppendLedger", nil)
	res, err := f.svc.Transfer(ctx, "alice", "bob", 40, "")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if res.PayerBalance != 60 || res.PayeeBalance != 40 {
		t.Fatalf("result = %+v", res)
	}
	entries := f.store.Ledger()
	if len(entries) != 2 || ledgerSum(entries) != 0 || entries[0].CorrelationID != entries[1].CorrelationID {
		t.Fatalf("ledger = %+v", entries)
	}
}

func TestConcurrentTransfersNeverGoNegative(t *testing.T) {
	f := newFixture(t, 50)
	f.store.SetBalance("alice", 100)

	const workers = 40
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		successes    int
		insufficient int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Transfer(context.Background(), "alice", "bob", 7, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, game.ErrInsufficientFunds):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 14 || insufficient != workers-14 {
		t.Fatalf("successes=%d insufficient=%d", successes, insufficient)
	}
	if got := f.store.Balance("alice"); got != 2 {
		t.Fatalf("alice = %d, want 2", got)
	}
	if got := f.store.Balance("bob"); got != 98 {
		t.Fatalf("bob = %d, want 98", got)
	}
}

func TestTransferValidation(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	f.store.SetBalance("alice", 100)
	cases := []struct {
		payer, payee string
		amount       int64
	}{
		{"alice", "bob", 0},
		{"alice", "bob", -5},
		{"alice", "alice", 10},
		{"alice", game.SystemAccount, 10},
		{"", "bob", 10},
	}
	for _, tc := range cases {
		if _, err := f.svc.Transfer(ctx, tc.payer, tc.payee, tc.amount, ""); !errors.Is(err, game.ErrInvalidOperation) {
			t.Fatalf("%+v: expected ErrInvalidOperation, got %v", tc, err)
		}
	}
	if _, err := f.svc.Transfer(ctx, "nobody", "bob", 1, ""); !errors.Is(err, game.ErrInsufficientFunds) {
		t.Fatalf("missing wallet: expected ErrInsufficientFunds, got %v", err)
	}
}

func TestGrantMintsFromHouse(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	bal, err := f.svc.Grant(ctx, "alice", 250, "starter")
	if err != nil || bal != 250 {
		t.Fatalf("grant = %d, %v", bal, err)
	}
	if f.store.HasWallet(game.SystemAccount) {
		t.Fatalf("house account must not get a wallet")
	}
	entries := f.store.Ledger()
	if len(entries) != 2 || ledgerSum(entries) != 0 {
		t.Fatalf("ledger = %+v", entries)
	}
	if entries[0].OwnerID != game.SystemAccount || entries[0].Reason != game.ReasonGrant {
		t.Fatalf("debit side = %+v", entries[0])
	}
	if _, err := f.svc.Grant(ctx, "alice", 0, ""); !errors.Is(err, game.ErrInvalidOperation) {
		t.Fatalf("zero grant: %v", err)
	}
	if _, err := f.svc.Grant(ctx, "guild:north", 5, ""); !errors.Is(err, game.ErrInvalidOperation) {
		t.Fatalf("reserved owner: %v", err)
	}
}

func TestCreateListingAllianceDiscount(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	f.store.SetStack("seller", "iron_ore", 100)
	f.store.SetBalance("seller", 1000)
	f.store.SetBalance("ally", 5000)
	f.store.SetBalance("stranger", 5000)
	f.store.SetGuild("seller", "g1")
	f.store.SetGuild("ally", "g2")
	f.store.SetAlliance("g2", "g1", 20)

	direct, err := f.svc.CreateListing(ctx, game.CreateListingInput{
		SellerID: "seller", ItemID: "iron_ore", Quantity: 20, UnitPrice: 50, DurationHours: 24, ReservedFor: "ally",
	})
	if err != nil {
		t.Fatalf("create reserved listing: %v", err)
	}
	if direct.BaseFee != 50 || direct.Discount != 10 || direct.Fee != 40 {
		t.Fatalf("base=%d discount=%d fee=%d, want 50/10/40", direct.BaseFee, direct.Discount, direct.Fee)
	}
	if got := f.store.Balance("seller"); got != 960 {
		t.Fatalf("seller balance = %d, want 960", got)
	}

	open := f.list(t, "seller", "iron_ore", 20, 50, 24)
	if open.Fee != 50 || open.Discount != 0 {
		t.Fatalf("open listing fee=%d discount=%d", open.Fee, open.Discount)
	}

	if _, err := f.svc.PurchaseListing(ctx, game.PurchaseInput{BuyerID: "stranger", ListingID: direct.Listing.ID}); !errors.Is(err, game.ErrInvalidOperation) {
		t.Fatalf("stranger buying reserved listing: expected ErrInvalidOperation, got %v", err)
	}
	if _, err := f.svc.PurchaseListing(ctx, game.PurchaseInput{BuyerID: "ally", ListingID: direct.Listing.ID}); err != nil {
		t.Fatalf("ally purchase: %v", err)
	}
}

func TestCreateListingFailuresRollBack(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	f.store.SetStack("seller", "wood", 5)

	_, err := f.svc.CreateListing(ctx, game.CreateListingInput{SellerID: "seller", ItemID: "wood", Quantity: 6, UnitPrice: 10, DurationHours: 24})
	var short *game.ShortfallError
	if !errors.As(err, &short) || !errors.Is(err, game.ErrInsufficientInventory) {
		t.Fatalf("expected inventory shortfall, got %v", err)
	}
	if short.Item != "wood" || short.Required != 6 || short.Available != 5 {
		t.Fatalf("shortfall = %+v", short)
	}

	// No wallet: the fee debit fails after the inventory was withdrawn.
	if _, err := f.svc.CreateListing(ctx, game.CreateListingInput{SellerID: "seller", ItemID: "wood", Quantity: 5, UnitPrice: 10, DurationHours: 24}); !errors.Is(err, game.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := f.store.Stack("seller", "wood"); got != 5 {
		t.Fatalf("wood = %d after failed listing, want 5", got)
	}

	bad := []game.CreateListingInput{
		{SellerID: "seller", ItemID: "unobtainium", Quantity: 1, UnitPrice: 1, DurationHours: 24},
		{SellerID: "seller", ItemID: "guild_banner", Quantity: 1, UnitPrice: 1, DurationHours: 24},
		{SellerID: "seller", ItemID: "wood", Quantity: 0, UnitPrice: 1, DurationHours: 24},
		{SellerID: "seller", ItemID: "wood", Quantity: 1, UnitPrice: 0, DurationHours: 24},
		{SellerID: "seller", ItemID: "wood", Quantity: 1, UnitPrice: 1, DurationHours: 96},
		{SellerID: "seller", ItemID: "wood", Quantity: 1, UnitPrice: 1, DurationHours: 24, ReservedFor: "seller"},
	}
	for _, in := range bad {
		if _, err := f.svc.CreateListing(ctx, in); err == nil {
			t.Fatalf("%+v: expected error", in)
		}
	}
	if n := len(f.events.kinds()); n != 0 {
		t.Fatalf("failed operations published %d events", n)
	}
}

func TestCreateListingIdempotencyKey(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	f.store.SetStack("seller", "wood", 10)
	f.store.SetBalance("seller", 100)
	in := game.CreateListingInput{SellerID: "seller", ItemID: "wood", Quantity: 4, UnitPrice: 10, DurationHours: 24, IdempotencyKey: "k-1"}

	if _, err := f.svc.CreateListing(ctx, in); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := f.svc.CreateListing(ctx, in); !errors.Is(err, game.ErrDuplicateIdempotency) {
		t.Fatalf("replay: expected ErrDuplicateIdempotency, got %v", err)
	}
	if got := f.store.Stack("seller", "wood"); got != 6 {
		t.Fatalf("wood = %d, want 6", got)
	}
}

func TestExpireDueReturnsGoods(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	f.store.SetStack("seller", "wood", 10)
	f.store.SetBalance("seller", 100)
	f.store.SetBalance("buyer", 1000)
	short := f.list(t, "seller", "wood", 4, 10, 6)
	long := f.list(t, "seller", "wood", 6, 10, 24)

	if _, err := f.svc.ExpireListing(ctx, short.Listing.ID); !errors.Is(err, game.ErrNotYetComplete) {
		t.Fatalf("early expiry: expected ErrNotYetComplete, got %v", err)
	}

	f.clock.Advance(7 * time.Hour)
	if _, err := f.svc.PurchaseListing(ctx, game.PurchaseInput{BuyerID: "buyer", ListingID: short.Listing.ID}); !errors.Is(err, game.ErrListingUnavailable) {
		t.Fatalf("purchase after expiry time: expected ErrListingUnavailable, got %v", err)
	}

	n, err := f.svc.ExpireDue(ctx, 10)
	if err != nil || n != 1 {
		t.Fatalf("sweep = %d, %v; want 1", n, err)
	}
	if got := f.store.Stack("seller", "wood"); got != 4 {
		t.Fatalf("wood = %d, want 4", got)
	}
	l, _ := f.store.ListingByID(short.Listing.ID)
	if l.Status != game.ListingExpired {
		t.Fatalf("status = %s, want expired", l.Status)
	}
	if l2, _ := f.store.ListingByID(long.Listing.ID); l2.Status != game.ListingActive {
		t.Fatalf("24h listing status = %s, want active", l2.Status)
	}

	if n, err := f.svc.ExpireDue(ctx, 10); err != nil || n != 0 {
		t.Fatalf("second sweep = %d, %v; want 0", n, err)
	}
	if _, err := f.svc.ExpireListing(ctx, short.Listing.ID); !errors.Is(err, game.ErrListingUnavailable) {
		t.Fatalf("re-expire: expected ErrListingUnavailable, got %v", err)
	}
}

func TestCancelListing(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	f.store.SetStack("seller", "wood", 10)
	f.store.SetBalance("seller", 100)
	res := f.list(t, "seller", "wood", 10, 10, 24)

	if _, err := f.svc.CancelListing(ctx, "mallory", res.Listing.ID, ""); !errors.Is(err, game.ErrInvalidOperation) {
		t.Fatalf("foreign cancel: expected ErrInvalidOperation, got %v", err)
	}
	l, err := f.svc.CancelListing(ctx, "seller", res.Listing.ID, "")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if l.Status != game.ListingCancelled {
		t.Fatalf("status = %s", l.Status)
	}
	if got := f.store.Stack("seller", "wood"); got != 10 {
		t.Fatalf("wood = %d, want 10", got)
	}
	if got := f.store.Balance("seller"); got != 95 {
		t.Fatalf("balance = %d, want 95 (fee kept)", got)
	}
	if _, err := f.svc.CancelListing(ctx, "seller", res.Listing.ID, ""); !errors.Is(err, game.ErrListingUnavailable) {
		t.Fatalf("double cancel: expected ErrListingUnavailable, got %v", err)
	}
}

func TestMissionLifecycle(t *testing.T) {
	f := newFixture(t, 60)
	ctx := context.Background()
	agentID := f.store.AddAgent(game.Agent{OwnerID: "alice", Name: "Scout"})

	d, err := f.svc.DispatchMission(ctx, game.DispatchInput{OwnerID: "alice", MissionID: "supply_run", AgentID: agentID})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !d.EstimatedCompletion.Equal(f.clock.Now().Add(60 * time.Minute)) {
		t.Fatalf("eta = %s", d.EstimatedCompletion)
	}
	if _, err := f.svc.DispatchMission(ctx, game.DispatchInput{OwnerID: "alice", MissionID: "supply_run", AgentID: agentID}); !errors.Is(err, game.ErrInvalidOperation) {
		t.Fatalf("busy agent: expected ErrInvalidOperation, got %v", err)
	}

	if _, err := f.svc.CompleteMission(ctx, "alice", d.Mission.ID); !errors.Is(err, game.ErrNotYetComplete) {
		t.Fatalf("early completion: expected ErrNotYetComplete, got %v", err)
	}
	f.clock.Advance(60 * time.Minute)
	if _, err := f.svc.CompleteMission(ctx, "bob", d.Mission.ID); !errors.Is(err, game.ErrNotFound) {
		t.Fatalf("foreign completion: expected ErrNotFound, got %v", err)
	}

	// 60 + 20 (LOW) + 3 (distance 50) + 2 (60 minutes) = 85: GOOD.
	res, err := f.svc.CompleteMission(ctx, "alice", d.Mission.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !res.Success || res.OutcomeType != game.TierGood || res.ActualReward != 120 {
		t.Fatalf("result = %+v", res)
	}
	if len(res.ItemsReceived) != 1 || res.ItemsReceived[0] != (game.ItemCount{Item: "wood", Count: 5}) {
		t.Fatalf("items = %+v", res.ItemsReceived)
	}
	if f.store.Balance("alice") != 120 || f.store.Stack("alice", "wood") != 5 {
		t.Fatalf("rewards not granted")
	}
	if sum := ledgerSum(f.store.Ledger()); sum != 0 {
		t.Fatalf("mint does not balance: %d", sum)
	}
	agent, _ := f.store.Agent(agentID)
	if agent.Status != game.AgentIdle || agent.Progress.XP != 50 || agent.Progress.Level != 1 {
		t.Fatalf("agent = %+v", agent)
	}

	if _, err := f.svc.CompleteMission(ctx, "alice", d.Mission.ID); !errors.Is(err, game.ErrAlreadyComplete) {
		t.Fatalf("second completion: expected ErrAlreadyComplete, got %v", err)
	}
}

func TestMissionFailureDropsZeroItems(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	d, err := f.svc.DispatchMission(ctx, game.DispatchInput{OwnerID: "alice", MissionID: "spice_caravan"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	f.clock.Advance(4 * time.Hour)
	res, err := f.svc.CompleteMission(ctx, "alice", d.Mission.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Success || res.OutcomeType != game.TierFailure || res.ActualReward != 120 {
		t.Fatalf("result = %+v", res)
	}
	if len(res.ItemsReceived) != 0 {
		t.Fatalf("items = %+v, want none", res.ItemsReceived)
	}
}

func TestDispatchRequiresAgentLevel(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	rookie := f.store.AddAgent(game.Agent{OwnerID: "alice", Progress: game.Progress{Level: 1, XPNext: 200}})
	if _, err := f.svc.DispatchMission(ctx, game.DispatchInput{OwnerID: "alice", MissionID: "deep_mine", AgentID: rookie}); !errors.Is(err, game.ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}
	if _, err := f.svc.DispatchMission(ctx, game.DispatchInput{OwnerID: "bob", MissionID: "supply_run", AgentID: rookie}); !errors.Is(err, game.ErrNotFound) {
		t.Fatalf("foreign agent: expected ErrNotFound, got %v", err)
	}
	if _, err := f.svc.DispatchMission(ctx, game.DispatchInput{OwnerID: "alice", MissionID: "moon_trip"}); !errors.Is(err, game.ErrNotFound) {
		t.Fatalf("unknown mission: expected ErrNotFound, got %v", err)
	}
}

func TestCraftingLifecycle(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	f.store.SetStack("alice", "iron_ore", 3)
	f.store.SetStack("alice", "coal", 5)

	_, err := f.svc.StartCraft(ctx, game.StartCraftInput{OwnerID: "alice", BlueprintID: "smelt_iron", Quantity: 2})
	var short *game.ShortfallError
	if !errors.As(err, &short) || short.Item != "iron_ore" || short.Required != 4 || short.Available != 3 {
		t.Fatalf("expected iron_ore shortfall, got %v", err)
	}
	if f.store.Stack("alice", "coal") != 5 {
		t.Fatalf("coal consumed by a failed start")
	}

	f.store.SetStack("alice", "iron_ore", 4)
	started, err := f.svc.StartCraft(ctx, game.StartCraftInput{OwnerID: "alice", BlueprintID: "smelt_iron", Quantity: 2})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if want := f.clock.Now().Add(54 * time.Minute); !started.EstimatedCompletionTime.Equal(want) {
		t.Fatalf("eta = %s, want %s", started.EstimatedCompletionTime, want)
	}
	if len(started.MaterialsConsumed) != 2 || started.MaterialsConsumed[0] != (game.ItemCount{Item: "iron_ore", Count: 4}) {
		t.Fatalf("materials = %+v", started.MaterialsConsumed)
	}
	if f.store.Stack("alice", "iron_ore") != 0 || f.store.Stack("alice", "coal") != 3 {
		t.Fatalf("materials not consumed")
	}

	if _, err := f.svc.CompleteCraft(ctx, "alice", started.CraftJob.ID); !errors.Is(err, game.ErrNotYetComplete) {
		t.Fatalf("early completion: expected ErrNotYetComplete, got %v", err)
	}
	f.clock.Advance(54 * time.Minute)
	done, err := f.svc.CompleteCraft(ctx, "alice", started.CraftJob.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.ItemsGranted != (game.ItemCount{Item: "iron_ingot", Count: 2}) || done.XPGained != 40 {
		t.Fatalf("result = %+v", done)
	}
	if done.CraftJob.Status != game.CraftComplete || done.CraftJob.CompletedAt == nil {
		t.Fatalf("job = %+v", done.CraftJob)
	}
	if f.store.Stack("alice", "iron_ingot") != 2 {
		t.Fatalf("output not granted")
	}
	if _, err := f.svc.CompleteCraft(ctx, "alice", started.CraftJob.ID); !errors.Is(err, game.ErrAlreadyComplete) {
		t.Fatalf("second completion: expected ErrAlreadyComplete, got %v", err)
	}
}

func TestCraftingGrantsLevels(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	f.store.SetStack("alice", "iron_ore", 10)
	f.store.SetStack("alice", "coal", 5)

	started, err := f.svc.StartCraft(ctx, game.StartCraftInput{OwnerID: "alice", BlueprintID: "smelt_iron", Quantity: 5})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	f.clock.Advance(135 * time.Minute)
	done, err := f.svc.CompleteCraft(ctx, "alice", started.CraftJob.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	want := game.Progress{Level: 2, XP: 0, XPNext: 150}
	if done.LevelsGained != 1 || done.Progress != want {
		t.Fatalf("progress = %+v (+%d), want %+v (+1)", done.Progress, done.LevelsGained, want)
	}
	p, err := f.svc.SkillProgress(ctx, "alice", game.SkillCrafting)
	if err != nil || p != want {
		t.Fatalf("stored progress = %+v, %v", p, err)
	}
}

func TestBlueprintUnlockGate(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	f.store.SetStack("alice", "copper_ore", 3)
	in := game.StartCraftInput{OwnerID: "alice", BlueprintID: "draw_wire", Quantity: 1}

	if _, err := f.svc.StartCraft(ctx, in); !errors.Is(err, game.ErrInvalidOperation) {
		t.Fatalf("locked blueprint: expected ErrInvalidOperation, got %v", err)
	}
	if err := f.svc.UnlockBlueprint(ctx, "alice", "draw_wire"); !errors.Is(err, game.ErrInvalidOperation) {
		t.Fatalf("underleveled unlock: expected ErrInvalidOperation, got %v", err)
	}

	f.store.SetProgress("alice", game.SkillCrafting, game.Progress{Level: 2, XPNext: 150})
	if _, err := f.svc.StartCraft(ctx, in); !errors.Is(err, game.ErrInvalidOperation) {
		t.Fatalf("level without unlock: expected ErrInvalidOperation, got %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := f.svc.UnlockBlueprint(ctx, "alice", "draw_wire"); err != nil {
			t.Fatalf("unlock #%d: %v", i+1, err)
		}
	}
	if _, err := f.svc.StartCraft(ctx, in); err != nil {
		t.Fatalf("start after unlock: %v", err)
	}

	for _, qty := range []int64{0, game.MaxCraftBatch + 1} {
		if _, err := f.svc.StartCraft(ctx, game.StartCraftInput{OwnerID: "alice", BlueprintID: "cut_planks", Quantity: qty}); !errors.Is(err, game.ErrInvalidOperation) {
			t.Fatalf("qty=%d: expected ErrInvalidOperation, got %v", qty, err)
		}
	}
	if _, err := f.svc.StartCraft(ctx, game.StartCraftInput{OwnerID: "alice", BlueprintID: "nope", Quantity: 1}); !errors.Is(err, game.ErrNotFound) {
		t.Fatalf("unknown blueprint: expected ErrNotFound, got %v", err)
	}
}

func TestGuildContributions(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	f.store.SetGuild("alice", "g1")
	f.store.SetBalance("alice", 500)
	f.store.SetStack("alice", "wood", 5)
	treasury := game.GuildTreasury("g1")

	res, err := f.svc.Contribute(ctx, "alice", "g1", game.GoldContribution{Amount: 100}, "")
	if err != nil {
		t.Fatalf("gold: %v", err)
	}
	if res.PointsAwarded != 100 || res.TreasuryBalance != 100 || f.store.Balance("alice") != 400 {
		t.Fatalf("gold result = %+v", res)
	}

	res, err = f.svc.Contribute(ctx, "alice", "g1", game.ItemsContribution{Items: map[string]int64{"wood": 3}}, "")
	if err != nil {
		t.Fatalf("items: %v", err)
	}
	if res.PointsAwarded != 30 {
		t.Fatalf("items points = %d", res.PointsAwarded)
	}
	vault := game.StackKey{Owner: treasury, Item: "wood", Location: game.LocationGuildVault}
	if f.store.StackAt(vault) != 3 || f.store.Stack("alice", "wood") != 2 {
		t.Fatalf("items not moved to the vault")
	}

	res, err = f.svc.Contribute(ctx, "alice", "g1", game.TradesContribution{Count: 2}, "")
	if err != nil {
		t.Fatalf("trades: %v", err)
	}
	if res.Contribution.Points != 180 || res.Contribution.Progress.Level != 1 {
		t.Fatalf("contribution = %+v", res.Contribution)
	}

	res, err = f.svc.Contribute(ctx, "alice", "g1", game.GoldContribution{Amount: 100}, "")
	if err != nil {
		t.Fatalf("gold: %v", err)
	}
	if res.LevelsGained != 1 || res.Contribution.Progress != (game.Progress{Level: 2, XP: 30, XPNext: 500}) {
		t.Fatalf("contribution = %+v (+%d)", res.Contribution, res.LevelsGained)
	}

	if _, err := f.svc.Contribute(ctx, "alice", "g2", game.TradesContribution{Count: 1}, ""); !errors.Is(err, game.ErrInvalidOperation) {
		t.Fatalf("wrong guild: expected ErrInvalidOperation, got %v", err)
	}
	if _, err := f.svc.Contribute(ctx, "alice", "g1", game.ItemsContribution{Items: map[string]int64{"wood": 9}}, ""); !errors.Is(err, game.ErrInsufficientInventory) {
		t.Fatalf("too many items: expected ErrInsufficientInventory, got %v", err)
	}
}

func TestGuildContributionCeilings(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	f.store.SetGuild("alice", "g1")
	f.store.SetStack("alice", "wood", game.MaxContributionItems+1)

	for _, c := range []game.Contribution{
		game.TradesContribution{Count: 1 << 59},
		game.TradesContribution{Count: 1_000_000},
		game.ItemsContribution{Items: map[string]int64{"wood": game.MaxContributionItems + 1}},
	} {
		if _, err := f.svc.Contribute(ctx, "alice", "g1", c, ""); !errors.Is(err, game.ErrInvalidOperation) {
			t.Fatalf("%+v: expected ErrInvalidOperation, got %v", c, err)
		}
	}
	if got := f.store.Stack("alice", "wood"); got != game.MaxContributionItems+1 {
		t.Fatalf("wood = %d after rejected contributions", got)
	}

	res, err := f.svc.Contribute(ctx, "alice", "g1", game.TradesContribution{Count: game.MaxContributionTrades}, "")
	if err != nil {
		t.Fatalf("max trades: %v", err)
	}
	if res.PointsAwarded != 2500 || res.Contribution.Points != 2500 || res.Contribution.Progress.Level >= 100 {
		t.Fatalf("max trades result = %+v", res)
	}
}

func TestPurchaseCreditsGuildTrades(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	f.store.SetStack("seller", "wood", 10)
	f.store.SetBalance("seller", 1000)
	f.store.SetBalance("buyer", 1000)
	f.store.SetGuild("buyer", "g1")

	created := f.list(t, "seller", "wood", 10, 5, 24)
	if _, err := f.svc.PurchaseListing(ctx, game.PurchaseInput{BuyerID: "buyer", ListingID: created.Listing.ID}); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	// The seller has no guild, so only the buyer is credited.
	res, err := f.svc.Contribute(ctx, "buyer", "g1", game.GoldContribution{Amount: 1}, "")
	if err != nil {
		t.Fatalf("gold: %v", err)
	}
	if res.Contribution.Points != 26 {
		t.Fatalf("buyer points = %d, want 26", res.Contribution.Points)
	}
	var credited int
	for _, ev := range f.events.all() {
		if ev.Kind == "guild.contribution" {
			credited++
			if ev.OwnerID != "buyer" {
				t.Fatalf("contribution event for %q", ev.OwnerID)
			}
		}
	}
	if credited != 2 {
		t.Fatalf("contribution events = %d, want 2", credited)
	}
}
