package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"tradepost/internal/game"
)

type uow struct {
	st     *state
	faults map[string]error
}

var _ game.UnitOfWork = (*uow)(nil)

func (u *uow) check(ctx context.Context, method string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err, ok := u.faults[method]; ok {
		return err
	}
	return nil
}

func (u *uow) DebitWallet(ctx context.Context, owner string, amount int64) (int64, error) {
	if err := u.check(ctx, "DebitWallet"); err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, fmt.Errorf("debit amount must be > 0")
	}
	bal, ok := u.st.wallets[owner]
	if !ok || bal < amount {
		return 0, game.ErrInsufficientFunds
	}
	bal -= amount
	u.st.wallets[owner] = bal
	return bal, nil
}

func (u *uow) CreditWallet(ctx context.Context, owner string, amount int64) (int64, error) {
	if err := u.check(ctx, "CreditWallet"); err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, fmt.Errorf("credit amount must be > 0")
	}
	u.st.wallets[owner] += amount
	return u.st.wallets[owner], nil
}

func (u *uow) Balance(ctx context.Context, owner string) (int64, error) {
	if err := u.check(ctx, "Balance"); err != nil {
		return 0, err
	}
	return u.st.wallets[owner], nil
}

func (u *uow) WithdrawItems(ctx context.Context, key game.StackKey, qty int64) (int64, error) {
	if err := u.check(ctx, "WithdrawItems"); err != nil {
		return 0, err
	}
	if qty <= 0 {
		return 0, fmt.Errorf("withdraw quantity must be > 0")
	}
	have, ok := u.st.stacks[key]
	if !ok || have < qty {
		return 0, game.ErrInsufficientInventory
	}
	left := have - qty
	if left == 0 {
		delete(u.st.stacks, key)
	} else {
		u.st.stacks[key] = left
	}
	return left, nil
}

func (u *uow) DepositItems(ctx context.Context, key game.StackKey, qty int64) (int64, error) {
	if err := u.check(ctx, "DepositItems"); err != nil {
		return 0, err
	}
	if qty <= 0 {
		return 0, fmt.Errorf("deposit quantity must be > 0")
	}
	u.st.stacks[key] += qty
	return u.st.stacks[key], nil
}

func (u *uow) StackQuantity(ctx context.Context, key game.StackKey) (int64, error) {
	if err := u.check(ctx, "StackQuantity"); err != nil {
		return 0, err
	}
	return u.st.stacks[key], nil
}

func (u *uow) Stacks(ctx context.Context, owner string) ([]game.InventoryStack, error) {
	if err := u.check(ctx, "Stacks"); err != nil {
		return nil, err
	}
	out := []game.InventoryStack{}
	for k, q := range u.st.stacks {
		if k.Owner == owner {
			out = append(out, game.InventoryStack{StackKey: k, Quantity: q})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Location != out[j].Location {
			return out[i].Location < out[j].Location
		}
		return out[i].Item < out[j].Item
	})
	return out, nil
}

func (u *uow) AppendLedger(ctx context.Context, entries []game.LedgerEntry) error {
	if err := u.check(ctx, "AppendLedger"); err != nil {
		return err
	}
	for _, e := range entries {
		e.ID = u.st.nextID()
		u.st.ledger = append(u.st.ledger, e)
	}
	return nil
}

func (u *uow) LedgerByOwner(ctx context.Context, owner string, limit int) ([]game.LedgerEntry, error) {
	if err := u.check(ctx, "LedgerByOwner"); err != nil {
		return nil, err
	}
	out := []game.LedgerEntry{}
	for i := len(u.st.ledger) - 1; i >= 0 && len(out) < limit; i-- {
		if u.st.ledger[i].OwnerID == owner {
			out = append(out, u.st.ledger[i])
		}
	}
	return out, nil
}

func (u *uow) InsertListing(ctx context.Context, l *game.Listing) error {
	if err := u.check(ctx, "InsertListing"); err != nil {
		return err
	}
	l.ID = u.st.nextID()
	u.st.listings[l.ID] = *l
	return nil
}

func (u *uow) GetListing(ctx context.Context, id int64) (game.Listing, error) {
	if err := u.check(ctx, "GetListing"); err != nil {
		return game.Listing{}, err
	}
	l, ok := u.st.listings[id]
	if !ok {
		return game.Listing{}, fmt.Errorf("%w: listing %d", game.ErrNotFound, id)
	}
	return l, nil
}

func (u *uow) CloseListing(ctx context.Context, id int64, to game.ListingStatus, buyer string, at time.Time) error {
	if err := u.check(ctx, "CloseListing"); err != nil {
		return err
	}
	l, ok := u.st.listings[id]
	if !ok {
		return fmt.Errorf("%w: listing %d", game.ErrNotFound, id)
	}
	if l.Status != game.ListingActive {
		return fmt.Errorf("%w: listing %d is %s", game.ErrListingUnavailable, id, l.Status)
	}
	l.Status = to
	l.BuyerID = buyer
	closed := at
	l.ClosedAt = &closed
	u.st.listings[id] = l
	return nil
}

func (u *uow) DueListings(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	if err := u.check(ctx, "DueListings"); err != nil {
		return nil, err
	}
	var ids []int64
	for id, l := range u.st.listings {
		if l.Status == game.ListingActive && !now.Before(l.ExpiresAt) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (u *uow) ActiveListings(ctx context.Context, itemID string, limit int) ([]game.Listing, error) {
	if err := u.check(ctx, "ActiveListings"); err != nil {
		return nil, err
	}
	out := []game.Listing{}
	for _, l := range u.st.listings {
		if l.Status == game.ListingActive && (itemID == "" || l.ItemID == itemID) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (u *uow) GuildOf(ctx context.Context, owner string) (string, bool, error) {
	if err := u.check(ctx, "GuildOf"); err != nil {
		return "", false, err
	}
	g, ok := u.st.guildOf[owner]
	return g, ok, nil
}

func (u *uow) AllianceDiscount(ctx context.Context, guildA, guildB string) (int, bool, error) {
	if err := u.check(ctx, "AllianceDiscount"); err != nil {
		return 0, false, err
	}
	pct, ok := u.st.alliances[orderedPair(guildA, guildB)]
	return pct, ok, nil
}

func (u *uow) GetContribution(ctx context.Context, guildID, memberID string) (game.GuildContribution, bool, error) {
	if err := u.check(ctx, "GetContribution"); err != nil {
		return game.GuildContribution{}, false, err
	}
	c, ok := u.st.contributions[pair{guildID, memberID}]
	return c, ok, nil
}

func (u *uow) SaveContribution(ctx context.Context, c game.GuildContribution) error {
	if err := u.check(ctx, "SaveContribution"); err != nil {
		return err
	}
	u.st.contributions[pair{c.GuildID, c.MemberID}] = c
	return nil
}

func (u *uow) GetAgent(ctx context.Context, id int64) (game.Agent, error) {
	if err := u.check(ctx, "GetAgent"); err != nil {
		return game.Agent{}, err
	}
	a, ok := u.st.agents[id]
	if !ok {
		return game.Agent{}, fmt.Errorf("%w: agent %d", game.ErrNotFound, id)
	}
	return a, nil
}

func (u *uow) ClaimAgent(ctx context.Context, id int64, owner string) error {
	if err := u.check(ctx, "ClaimAgent"); err != nil {
		return err
	}
	a, ok := u.st.agents[id]
	if !ok || a.OwnerID != owner {
		return fmt.Errorf("%w: agent %d", game.ErrNotFound, id)
	}
	if a.Status != game.AgentIdle {
		return fmt.Errorf("%w: agent %d is %s", game.ErrInvalidOperation, id, a.Status)
	}
	a.Status = game.AgentOnMission
	u.st.agents[id] = a
	return nil
}

func (u *uow) ReleaseAgent(ctx context.Context, id int64, progress game.Progress) error {
	if err := u.check(ctx, "ReleaseAgent"); err != nil {
		return err
	}
	a, ok := u.st.agents[id]
	if !ok {
		return fmt.Errorf("%w: agent %d", game.ErrNotFound, id)
	}
	a.Status = game.AgentIdle
	a.Progress = progress
	u.st.agents[id] = a
	return nil
}

func (u *uow) InsertMission(ctx context.Context, m *game.MissionInstance) error {
	if err := u.check(ctx, "InsertMission"); err != nil {
		return err
	}
	m.ID = u.st.nextID()
	u.st.missions[m.ID] = *m
	return nil
}

func (u *uow) GetMission(ctx context.Context, id int64) (game.MissionInstance, error) {
	if err := u.check(ctx, "GetMission"); err != nil {
		return game.MissionInstance{}, err
	}
	m, ok := u.st.missions[id]
	if !ok {
		return game.MissionInstance{}, fmt.Errorf("%w: mission %d", game.ErrNotFound, id)
	}
	return m, nil
}

func (u *uow) FinishMission(ctx context.Context, id int64, at time.Time, reward int64, tier game.Tier) error {
	if err := u.check(ctx, "FinishMission"); err != nil {
		return err
	}
	m, ok := u.st.missions[id]
	if !ok {
		return fmt.Errorf("%w: mission %d", game.ErrNotFound, id)
	}
	if m.Status != game.MissionActive {
		return fmt.Errorf("%w: mission %d", game.ErrAlreadyComplete, id)
	}
	m.Status = game.MissionCompleted
	done := at
	m.CompletedAt = &done
	m.ActualReward = reward
	m.Outcome = tier
	u.st.missions[id] = m
	return nil
}

func (u *uow) HasUnlock(ctx context.Context, owner, blueprintID string) (bool, error) {
	if err := u.check(ctx, "HasUnlock"); err != nil {
		return false, err
	}
	_, ok := u.st.unlocks[pair{owner, blueprintID}]
	return ok, nil
}

func (u *uow) InsertUnlock(ctx context.Context, owner, blueprintID string, at time.Time) error {
	if err := u.check(ctx, "InsertUnlock"); err != nil {
		return err
	}
	k := pair{owner, blueprintID}
	if _, ok := u.st.unlocks[k]; !ok {
		u.st.unlocks[k] = at
	}
	return nil
}

func (u *uow) GetProgress(ctx context.Context, owner, skill string) (game.Progress, bool, error) {
	if err := u.check(ctx, "GetProgress"); err != nil {
		return game.Progress{}, false, err
	}
	p, ok := u.st.progress[pair{owner, skill}]
	return p, ok, nil
}

func (u *uow) SaveProgress(ctx context.Context, owner, skill string, p game.Progress) error {
	if err := u.check(ctx, "SaveProgress"); err != nil {
		return err
	}
	u.st.progress[pair{owner, skill}] = p
	return nil
}

func (u *uow) InsertCraftJob(ctx context.Context, j *game.CraftJob) error {
	if err := u.check(ctx, "InsertCraftJob"); err != nil {
		return err
	}
	j.ID = u.st.nextID()
	u.st.jobs[j.ID] = *j
	return nil
}

func (u *uow) GetCraftJob(ctx context.Context, id int64) (game.CraftJob, error) {
	if err := u.check(ctx, "GetCraftJob"); err != nil {
		return game.CraftJob{}, err
	}
	j, ok := u.st.jobs[id]
	if !ok {
		return game.CraftJob{}, fmt.Errorf("%w: craft job %d", game.ErrNotFound, id)
	}
	return j, nil
}

func (u *uow) FinishCraftJob(ctx context.Context, id int64, at time.Time) error {
	if err := u.check(ctx, "FinishCraftJob"); err != nil {
		return err
	}
	j, ok := u.st.jobs[id]
	if !ok {
		return fmt.Errorf("%w: craft job %d", game.ErrNotFound, id)
	}
	if j.Status != game.CraftRunning {
		return fmt.Errorf("%w: craft job %d", game.ErrAlreadyComplete, id)
	}
	j.Status = game.CraftComplete
	done := at
	j.CompletedAt = &done
	u.st.jobs[id] = j
	return nil
}

func (u *uow) ClaimIdempotency(ctx context.Context, owner, key, action string) error {
	if err := u.check(ctx, "ClaimIdempotency"); err != nil {
		return err
	}
	k := pair{owner, key}
	if _, ok := u.st.idempotency[k]; ok {
		return game.ErrDuplicateIdempotency
	}
	u.st.idempotency[k] = action
	return nil
}
