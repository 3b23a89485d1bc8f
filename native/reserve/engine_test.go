package reserve

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"reserveledger/core/events"
	"reserveledger/core/state"
	"reserveledger/core/state/layout"
	"reserveledger/core/types"
	"reserveledger/native/bank"
	"reserveledger/storage"
)

const testGenesisTime int64 = 1_700_000_000

type fixture struct {
	t        *testing.T
	store    *storage.Store
	tokens   *bank.Tokens
	native   *bank.Native
	engine   *Engine
	recorder *events.Recorder
	now      int64

	authority types.Address
	mint      types.Address
	treasury  types.Address
	user      types.Address
	fulfiller types.Address
}

func newTestAddress(fill byte) types.Address {
	var addr types.Address
	copy(addr[:], bytes.Repeat([]byte{fill}, types.AddressLength))
	return addr
}

// newBareFixture wires an engine against genesis balances without creating a
// ledger record.
func newBareFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:         t,
		store:     storage.NewStore(storage.NewMemDB()),
		tokens:    bank.NewTokens(),
		native:    bank.NewNative(),
		recorder:  &events.Recorder{},
		now:       testGenesisTime,
		authority: newTestAddress(0xA1),
		mint:      newTestAddress(0xB1),
		treasury:  newTestAddress(0xB2),
		user:      newTestAddress(0xC1),
		fulfiller: newTestAddress(0xC2),
	}
	f.engine = NewEngine(f.store, f.tokens, f.native)
	f.engine.SetNowFunc(func() int64 { return f.now })
	f.engine.SetEmitter(f.recorder)
	f.engine.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	f.seed(func(st *state.Manager) error {
		if err := f.tokens.RegisterMint(st, f.mint, LedgerIdentity); err != nil {
			return err
		}
		if err := f.tokens.Delegate(st, f.mint, f.treasury, LedgerIdentity); err != nil {
			return err
		}
		if err := f.native.Credit(st, f.authority, 10_000_000_000); err != nil {
			return err
		}
		return f.native.Credit(st, f.user, 1_000_000_000)
	})
	return f
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := newBareFixture(t)
	if err := f.engine.Initialize(f.authority, f.mint, f.treasury); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return f
}

func (f *fixture) seed(fn func(st *state.Manager) error) {
	f.t.Helper()
	tx := f.store.Begin()
	if err := fn(state.NewManager(tx)); err != nil {
		tx.Discard()
		f.t.Fatalf("seed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		f.t.Fatalf("seed commit: %v", err)
	}
}

func (f *fixture) read(fn func(st *state.Manager) (uint64, error)) uint64 {
	f.t.Helper()
	tx := f.store.Begin()
	defer tx.Discard()
	v, err := fn(state.NewManager(tx))
	if err != nil {
		f.t.Fatalf("read: %v", err)
	}
	return v
}

func (f *fixture) tokenBalance(holder types.Address) uint64 {
	return f.read(func(st *state.Manager) (uint64, error) { return f.tokens.Balance(st, f.mint, holder) })
}

func (f *fixture) nativeBalance(addr types.Address) uint64 {
	return f.read(func(st *state.Manager) (uint64, error) { return f.native.Balance(st, addr) })
}

func (f *fixture) ledger() *layout.LedgerState {
	f.t.Helper()
	s, err := f.engine.LedgerState()
	if err != nil {
		f.t.Fatalf("ledger state: %v", err)
	}
	return s
}

// attest sets reserves and submits a matching proof.
func (f *fixture) attest(reserves uint64) {
	f.t.Helper()
	root := [32]byte{0x01, byte(reserves)}
	if err := f.engine.UpdateAttestationRoot(f.authority, root, reserves); err != nil {
		f.t.Fatalf("update root: %v", err)
	}
	if err := f.engine.SubmitProof(f.authority, []byte("proof"), reserves); err != nil {
		f.t.Fatalf("submit proof: %v", err)
	}
}

// stock attests reserves, mints them into the treasury and sets a price.
func (f *fixture) stock(reserves, price uint64) {
	f.t.Helper()
	f.attest(reserves)
	if err := f.engine.Mint(f.authority, reserves); err != nil {
		f.t.Fatalf("mint: %v", err)
	}
	if err := f.engine.SetPrice(f.authority, price); err != nil {
		f.t.Fatalf("set price: %v", err)
	}
}

func TestInitializeCreatesCurrentLayout(t *testing.T) {
	f := newFixture(t)
	s := f.ledger()
	if s.Authority != f.authority || s.Operator != f.authority || s.NativeReceiver != f.authority {
		t.Fatalf("unexpected identities: %+v", s)
	}
	if s.TokenMint != f.mint || s.Treasury != f.treasury {
		t.Fatalf("unexpected accounts: %+v", s)
	}
	version, err := f.engine.LedgerLayout()
	if err != nil || version != layout.VersionV2 {
		t.Fatalf("unexpected layout %s err=%v", version, err)
	}
	need, _ := layout.DefaultRent().MinimumBalance(layout.V2Size)
	if got := f.nativeBalance(LedgerIdentity); got != need {
		t.Fatalf("record balance %d want %d", got, need)
	}
	if err := f.engine.Initialize(f.authority, f.mint, f.treasury); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestOperationsRequireInitializedLedger(t *testing.T) {
	f := newBareFixture(t)
	if err := f.engine.Mint(f.authority, 1); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if _, err := f.engine.LedgerState(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestMintNeverExceedsProvenReserves(t *testing.T) {
	f := newFixture(t)
	f.attest(100)

	if err := f.engine.Mint(f.authority, 60); err != nil {
		t.Fatalf("mint 60: %v", err)
	}
	if err := f.engine.Mint(f.authority, 50); !errors.Is(err, ErrInsufficientReserves) {
		t.Fatalf("expected ErrInsufficientReserves, got %v", err)
	}
	if got := f.ledger().TotalSupply; got != 60 {
		t.Fatalf("failed mint changed supply to %d", got)
	}
	if err := f.engine.Mint(f.authority, 40); err != nil {
		t.Fatalf("mint 40: %v", err)
	}
	s := f.ledger()
	if s.TotalSupply != 100 || s.TotalSupply > s.ProvenReserves {
		t.Fatalf("unexpected supply %d reserves %d", s.TotalSupply, s.ProvenReserves)
	}
	if got := f.tokenBalance(f.treasury); got != 100 {
		t.Fatalf("treasury holds %d", got)
	}
	if err := f.engine.Mint(f.user, 0); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestMintOverflowIsRejected(t *testing.T) {
	f := newFixture(t)
	f.attest(^uint64(0))
	if err := f.engine.Mint(f.authority, 10); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := f.engine.Mint(f.authority, ^uint64(0)); !errors.Is(err, ErrMathOverflow) {
		t.Fatalf("expected ErrMathOverflow, got %v", err)
	}
}

func TestMintRequiresFreshProof(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.UpdateAttestationRoot(f.authority, [32]byte{1}, 100); err != nil {
		t.Fatalf("update root: %v", err)
	}
	if err := f.engine.Mint(f.authority, 1); !errors.Is(err, ErrStaleProof) {
		t.Fatalf("mint without proof should be stale, got %v", err)
	}
	if err := f.engine.SubmitProof(f.authority, []byte("p"), 100); err != nil {
		t.Fatalf("submit proof: %v", err)
	}
	window := int64(f.engine.Params().StalenessWindow.Seconds())
	f.now += window - 1
	if err := f.engine.Mint(f.authority, 1); err != nil {
		t.Fatalf("mint inside window: %v", err)
	}
	f.now++
	if err := f.engine.Mint(f.authority, 1); !errors.Is(err, ErrStaleProof) {
		t.Fatalf("expected ErrStaleProof, got %v", err)
	}
	if code, ok := CodeOf(ErrStaleProof); !ok || code != 6001 {
		t.Fatalf("unexpected code %d", code)
	}
}

func TestSubmitProofMustMatchReserves(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.UpdateAttestationRoot(f.authority, [32]byte{2}, 50); err != nil {
		t.Fatalf("update root: %v", err)
	}
	if err := f.engine.SubmitProof(f.authority, []byte("p"), 51); !errors.Is(err, ErrReserveCountMismatch) {
		t.Fatalf("expected ErrReserveCountMismatch, got %v", err)
	}
	if got := f.ledger().LastProofTimestamp; got != 0 {
		t.Fatalf("rejected proof stamped %d", got)
	}
	// Reserves may be revised downwards.
	if err := f.engine.UpdateAttestationRoot(f.authority, [32]byte{3}, 10); err != nil {
		t.Fatalf("downward revision: %v", err)
	}
	if s := f.ledger(); s.ProvenReserves != 10 || s.LastRootUpdate != f.now {
		t.Fatalf("unexpected attestation %+v", s)
	}
}

func TestPriceBand(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.SetPrice(f.authority, 0); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
	if err := f.engine.SetPrice(f.authority, 100); err != nil {
		t.Fatalf("initial price: %v", err)
	}
	if err := f.engine.SetPrice(f.authority, 119); err != nil {
		t.Fatalf("price 119: %v", err)
	}
	if err := f.engine.SetPrice(f.authority, 200); !errors.Is(err, ErrPriceChangeExceedsLimit) {
		t.Fatalf("expected ErrPriceChangeExceedsLimit, got %v", err)
	}
	if got := f.ledger().PricePerUnit; got != 119 {
		t.Fatalf("price moved to %d", got)
	}
	operator := newTestAddress(0xD1)
	if err := f.engine.SetOperator(f.authority, operator); err != nil {
		t.Fatalf("set operator: %v", err)
	}
	if err := f.engine.SetPriceAdmin(operator, 200); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("operator must not use the admin path, got %v", err)
	}
	if err := f.engine.SetPriceAdmin(f.authority, 200); err != nil {
		t.Fatalf("admin price: %v", err)
	}
	if got := f.ledger().PricePerUnit; got != 200 {
		t.Fatalf("unexpected price %d", got)
	}
	if err := f.engine.SetPrice(operator, 95); !errors.Is(err, ErrPriceChangeExceedsLimit) {
		t.Fatalf("expected ErrPriceChangeExceedsLimit, got %v", err)
	}
	if err := f.engine.SetPrice(operator, 160); err != nil {
		t.Fatalf("operator price at band edge: %v", err)
	}
}

func TestBuyAndBurnAccruePointsAndTier(t *testing.T) {
	f := newFixture(t)
	f.stock(1000, 10)

	// No profile yet: the purchase succeeds and accrues nothing.
	if err := f.engine.Buy(f.user, 250); err != nil {
		t.Fatalf("buy without profile: %v", err)
	}
	if err := f.engine.InitUserProfile(f.user); err != nil {
		t.Fatalf("init profile: %v", err)
	}
	if err := f.engine.InitUserProfile(f.user); !errors.Is(err, ErrProfileExists) {
		t.Fatalf("expected ErrProfileExists, got %v", err)
	}

	receiverBefore := f.nativeBalance(f.authority)
	if err := f.engine.Buy(f.user, 150); err != nil {
		t.Fatalf("buy: %v", err)
	}
	profile, err := f.engine.UserProfile(f.user)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.Points != 150 || profile.Tier != TierSilver || profile.TotalVolume != 150 {
		t.Fatalf("unexpected profile after buy: %+v", profile)
	}
	if got := f.nativeBalance(f.authority) - receiverBefore; got != 1500 {
		t.Fatalf("receiver credited %d", got)
	}
	if got := f.tokenBalance(f.user); got != 400 {
		t.Fatalf("user holds %d tokens", got)
	}

	if err := f.engine.BurnToRedeem(f.user, 400, 1); err != nil {
		t.Fatalf("burn: %v", err)
	}
	profile, _ = f.engine.UserProfile(f.user)
	if profile.Points != 950 || profile.Tier != TierGold || profile.TotalRedeemed != 400 {
		t.Fatalf("unexpected profile after burn: %+v", profile)
	}
	s := f.ledger()
	if s.TotalSupply != 600 || s.TotalBurned != 400 {
		t.Fatalf("unexpected counters supply=%d burned=%d", s.TotalSupply, s.TotalBurned)
	}
	req, err := f.engine.Redemption(f.user, 1)
	if err != nil {
		t.Fatalf("redemption: %v", err)
	}
	if req.Status != RedemptionPending || req.Amount != 400 || !req.Fulfiller.IsZero() {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestReceiverCanBuy(t *testing.T) {
	f := newFixture(t)
	f.stock(100, 1)
	if got := f.ledger().NativeReceiver; got != f.authority {
		t.Fatalf("receiver should default to the authority, got %s", got)
	}

	nativeBefore := f.nativeBalance(f.authority)
	if err := f.engine.Buy(f.authority, 10); err != nil {
		t.Fatalf("receiver buy: %v", err)
	}
	if got := f.nativeBalance(f.authority); got != nativeBefore {
		t.Fatalf("receiver native balance moved: %d -> %d", nativeBefore, got)
	}
	if got := f.tokenBalance(f.authority); got != 10 {
		t.Fatalf("receiver holds %d tokens", got)
	}
	if got := f.tokenBalance(f.treasury); got != 90 {
		t.Fatalf("treasury holds %d tokens", got)
	}

	if err := f.engine.Buy(f.authority, 1000); !errors.Is(err, bank.ErrInsufficientBalance) {
		t.Fatalf("receiver cannot buy past the treasury, got %v", err)
	}
	if err := f.engine.SetPriceAdmin(f.authority, 1<<40); err != nil {
		t.Fatalf("admin price: %v", err)
	}
	if err := f.engine.Buy(f.authority, 10); !errors.Is(err, bank.ErrInsufficientBalance) {
		t.Fatalf("receiver still pays for what it cannot afford, got %v", err)
	}
	if got := f.tokenBalance(f.authority); got != 10 {
		t.Fatalf("failed receiver buy moved tokens: %d", got)
	}
}

func TestBuyPreconditions(t *testing.T) {
	f := newFixture(t)
	f.attest(5000)
	if err := f.engine.Mint(f.authority, 5000); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := f.engine.Buy(f.user, 1); !errors.Is(err, ErrPriceNotSet) {
		t.Fatalf("expected ErrPriceNotSet, got %v", err)
	}
	if err := f.engine.SetPrice(f.authority, 1); err != nil {
		t.Fatalf("set price: %v", err)
	}
	if err := f.engine.Buy(f.user, 1001); !errors.Is(err, ErrExceedsTransactionCap) {
		t.Fatalf("expected ErrExceedsTransactionCap, got %v", err)
	}
	if err := f.engine.Buy(f.user, 1000); err != nil {
		t.Fatalf("buy at cap: %v", err)
	}

	poor := newTestAddress(0xE1)
	treasuryBefore := f.tokenBalance(f.treasury)
	if err := f.engine.Buy(poor, 10); !errors.Is(err, bank.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient native balance, got %v", err)
	}
	if got := f.tokenBalance(f.treasury); got != treasuryBefore {
		t.Fatalf("failed purchase moved tokens: %d -> %d", treasuryBefore, got)
	}
}

func TestBurnIsAtomicWithRequestCreation(t *testing.T) {
	f := newFixture(t)
	f.stock(100, 1)
	if err := f.engine.Buy(f.user, 50); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if err := f.engine.BurnToRedeem(f.user, 10, 7); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if err := f.engine.BurnToRedeem(f.user, 10, 7); !errors.Is(err, ErrRedemptionExists) {
		t.Fatalf("expected ErrRedemptionExists, got %v", err)
	}
	if got := f.tokenBalance(f.user); got != 40 {
		t.Fatalf("duplicate id burned tokens: balance %d", got)
	}
	if err := f.engine.BurnToRedeem(f.user, 41, 8); !errors.Is(err, bank.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient token balance, got %v", err)
	}
	if s := f.ledger(); s.TotalSupply != 90 || s.TotalBurned != 10 {
		t.Fatalf("failed burns changed counters: %+v", s)
	}
	if _, err := f.engine.Redemption(f.user, 8); !errors.Is(err, ErrRedemptionNotFound) {
		t.Fatalf("failed burn left a request: %v", err)
	}
}

func TestBurnPastRecordedSupplyIsRejected(t *testing.T) {
	f := newFixture(t)
	f.stock(100, 1)
	// Tokens minted around the ledger counters leave the holder with more than
	// the recorded supply.
	f.seed(func(st *state.Manager) error {
		return f.tokens.MintTo(st, f.mint, f.user, LedgerIdentity, 500)
	})
	before := f.ledger()

	if err := f.engine.BurnToRedeem(f.user, 200, 1); !errors.Is(err, ErrMathOverflow) {
		t.Fatalf("expected ErrMathOverflow, got %v", err)
	}
	after := f.ledger()
	if after.TotalSupply != before.TotalSupply || after.TotalBurned != before.TotalBurned {
		t.Fatalf("rejected burn changed counters: %+v -> %+v", before, after)
	}
	if got := f.tokenBalance(f.user); got != 500 {
		t.Fatalf("rejected burn moved tokens: balance %d", got)
	}
	if _, err := f.engine.Redemption(f.user, 1); !errors.Is(err, ErrRedemptionNotFound) {
		t.Fatalf("rejected burn left a request: %v", err)
	}
}

func TestRedemptionStateMachine(t *testing.T) {
	f := newFixture(t)
	f.stock(100, 1)
	if err := f.engine.Buy(f.user, 30); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if err := f.engine.InitUserProfile(f.fulfiller); err != nil {
		t.Fatalf("fulfiller profile: %v", err)
	}
	if err := f.engine.BurnToRedeem(f.user, 10, 1); err != nil {
		t.Fatalf("burn 1: %v", err)
	}
	if err := f.engine.BurnToRedeem(f.user, 10, 2); err != nil {
		t.Fatalf("burn 2: %v", err)
	}

	if err := f.engine.ConfirmDelivery(f.authority, f.user, 1); !errors.Is(err, ErrInvalidRedemptionStatus) {
		t.Fatalf("pending request cannot be confirmed, got %v", err)
	}
	if err := f.engine.ClaimRedemption(f.user, f.user, 1); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("requester cannot fulfil own request, got %v", err)
	}
	if err := f.engine.ClaimRedemption(f.fulfiller, f.user, 1); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := f.engine.ClaimRedemption(newTestAddress(0xC3), f.user, 1); !errors.Is(err, ErrInvalidRedemptionStatus) {
		t.Fatalf("second claim must fail, got %v", err)
	}
	if err := f.engine.ConfirmDelivery(f.fulfiller, f.user, 1); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("fulfiller cannot confirm, got %v", err)
	}
	if err := f.engine.ConfirmDelivery(f.authority, f.user, 1); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	req, _ := f.engine.Redemption(f.user, 1)
	if req.Status != RedemptionConfirmed || req.Fulfiller != f.fulfiller || req.ClaimedAt == 0 || req.ConfirmedAt == 0 {
		t.Fatalf("unexpected confirmed request %+v", req)
	}
	profile, _ := f.engine.UserProfile(f.fulfiller)
	if profile.Points != 5 || profile.TotalFulfilled != 1 {
		t.Fatalf("unexpected fulfiller profile %+v", profile)
	}
	if err := f.engine.CancelRedemption(f.authority, f.user, 1); !errors.Is(err, ErrInvalidRedemptionStatus) {
		t.Fatalf("confirmed request cannot be cancelled, got %v", err)
	}

	if err := f.engine.CancelRedemption(f.fulfiller, f.user, 2); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("only the authority cancels, got %v", err)
	}
	supplyBefore := f.ledger().TotalSupply
	if err := f.engine.CancelRedemption(f.authority, f.user, 2); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := f.engine.ClaimRedemption(f.fulfiller, f.user, 2); !errors.Is(err, ErrInvalidRedemptionStatus) {
		t.Fatalf("cancelled request cannot be claimed, got %v", err)
	}
	s := f.ledger()
	if s.TotalSupply != supplyBefore || s.TotalBurned != 20 {
		t.Fatalf("cancellation restored tokens: %+v", s)
	}
	if got := f.tokenBalance(f.user); got != 10 {
		t.Fatalf("cancellation refunded tokens: balance %d", got)
	}
	if err := f.engine.ClaimRedemption(f.fulfiller, f.user, 99); !errors.Is(err, ErrRedemptionNotFound) {
		t.Fatalf("expected ErrRedemptionNotFound, got %v", err)
	}
}

func TestConcurrentClaimHasSingleWinner(t *testing.T) {
	f := newFixture(t)
	f.stock(100, 1)
	if err := f.engine.Buy(f.user, 10); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if err := f.engine.BurnToRedeem(f.user, 10, 1); err != nil {
		t.Fatalf("burn: %v", err)
	}

	const claimants = 8
	results := make(chan error, claimants)
	start := make(chan struct{})
	for i := 0; i < claimants; i++ {
		fulfiller := newTestAddress(byte(0x50 + i))
		go func() {
			<-start
			results <- f.engine.ClaimRedemption(fulfiller, f.user, 1)
		}()
	}
	close(start)

	wins := 0
	for i := 0; i < claimants; i++ {
		err := <-results
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrInvalidRedemptionStatus):
		default:
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning claim, got %d", wins)
	}
	req, _ := f.engine.Redemption(f.user, 1)
	if req.Status != RedemptionClaimed || req.Fulfiller.IsZero() {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestTransitionScopesConflictsToRedemption(t *testing.T) {
	f := newFixture(t)
	f.stock(100, 1)
	if err := f.engine.Buy(f.user, 10); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if err := f.engine.InitUserProfile(f.fulfiller); err != nil {
		t.Fatalf("fulfiller profile: %v", err)
	}
	if err := f.engine.BurnToRedeem(f.user, 10, 1); err != nil {
		t.Fatalf("burn: %v", err)
	}

	// lose stages a read of the request and the fulfiller profile, lets a
	// competing commit rewrite key, and returns the losing commit error.
	lose := func(key []byte, value interface{}) error {
		t.Helper()
		tx := f.store.Begin()
		st := state.NewManager(tx)
		if _, err := loadRedemption(st, f.user, 1); err != nil {
			t.Fatalf("load redemption: %v", err)
		}
		if _, _, err := loadProfile(st, f.fulfiller); err != nil {
			t.Fatalf("load profile: %v", err)
		}
		if err := st.KVPut([]byte("scratch"), uint64(1)); err != nil {
			t.Fatalf("stage: %v", err)
		}
		f.seed(func(other *state.Manager) error { return other.KVPut(key, value) })
		return tx.Commit()
	}

	profile, err := f.engine.UserProfile(f.fulfiller)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	profile.Points++
	err = transition(f.user, 1, lose(profileKey(f.fulfiller), profile))
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected a storage conflict, got %v", err)
	}
	if errors.Is(err, ErrInvalidRedemptionStatus) {
		t.Fatalf("profile conflict reported as a status mismatch: %v", err)
	}

	req, err := f.engine.Redemption(f.user, 1)
	if err != nil {
		t.Fatalf("redemption: %v", err)
	}
	req.Status = RedemptionCancelled
	raw := lose(redemptionKey(f.user, 1), req)
	err = transition(f.user, 1, raw)
	if !errors.Is(err, ErrInvalidRedemptionStatus) || !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("redemption conflict should be a status mismatch, got %v", err)
	}
	if err := transition(f.user, 2, raw); errors.Is(err, ErrInvalidRedemptionStatus) {
		t.Fatalf("conflict on another request must not be mapped: %v", err)
	}
}

func TestPauseGatesSupplyAndPurchase(t *testing.T) {
	f := newFixture(t)
	f.stock(100, 1)
	if err := f.engine.SetPaused(f.user, true); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.engine.SetPaused(f.authority, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := f.engine.UpdateAttestationRoot(f.authority, [32]byte{9}, 200); !errors.Is(err, ErrProtocolPaused) {
		t.Fatalf("expected ErrProtocolPaused on root update, got %v", err)
	}
	if err := f.engine.Mint(f.authority, 1); !errors.Is(err, ErrProtocolPaused) {
		t.Fatalf("expected ErrProtocolPaused on mint, got %v", err)
	}
	if err := f.engine.Buy(f.user, 1); !errors.Is(err, ErrProtocolPaused) {
		t.Fatalf("expected ErrProtocolPaused on buy, got %v", err)
	}
	if err := f.engine.BurnToRedeem(f.user, 0, 1); !errors.Is(err, ErrProtocolPaused) {
		t.Fatalf("expected ErrProtocolPaused on burn, got %v", err)
	}
	if err := f.engine.SetPaused(f.authority, false); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if err := f.engine.Buy(f.user, 1); err != nil {
		t.Fatalf("buy after unpause: %v", err)
	}
}

func TestAuthorityRetainsOperatorPowers(t *testing.T) {
	f := newFixture(t)
	operator := newTestAddress(0xD1)
	if err := f.engine.SetOperator(f.user, operator); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.engine.SetOperator(f.authority, operator); err != nil {
		t.Fatalf("set operator: %v", err)
	}
	if err := f.engine.UpdateAttestationRoot(operator, [32]byte{1}, 10); err != nil {
		t.Fatalf("operator root update: %v", err)
	}
	if err := f.engine.SubmitProof(f.authority, nil, 10); err != nil {
		t.Fatalf("authority proof: %v", err)
	}
	if err := f.engine.SetPaused(operator, true); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("operator cannot pause, got %v", err)
	}
	if err := f.engine.UpdateAttestationRoot(f.user, [32]byte{2}, 1_000_000); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if got := f.ledger().ProvenReserves; got != 10 {
		t.Fatalf("rejected update changed reserves to %d", got)
	}
	if kind, _ := KindOf(ErrUnauthorized); kind != KindAuthorization {
		t.Fatalf("unexpected kind %s", kind)
	}
}

func TestAdminSettersAndYield(t *testing.T) {
	f := newFixture(t)
	receiver, treasury := newTestAddress(0xF1), newTestAddress(0xF2)
	if err := f.engine.SetNativeReceiver(f.authority, receiver); err != nil {
		t.Fatalf("set receiver: %v", err)
	}
	if err := f.engine.SetTreasury(f.authority, treasury); err != nil {
		t.Fatalf("set treasury: %v", err)
	}
	if err := f.engine.SetYieldRate(f.authority, 450); err != nil {
		t.Fatalf("set yield: %v", err)
	}
	if err := f.engine.RecordYieldDistribution(f.authority, 30); err != nil {
		t.Fatalf("record yield: %v", err)
	}
	if err := f.engine.RecordYieldDistribution(f.authority, ^uint64(0)); !errors.Is(err, ErrMathOverflow) {
		t.Fatalf("expected ErrMathOverflow, got %v", err)
	}
	s := f.ledger()
	if s.NativeReceiver != receiver || s.Treasury != treasury || s.YieldRateBps != 450 {
		t.Fatalf("unexpected ledger %+v", s)
	}
	if s.TotalYieldDistributed != 30 || s.LastYieldDistribution != f.now {
		t.Fatalf("unexpected yield bookkeeping %+v", s)
	}
}

func TestAwardPointsRequiresProfile(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.AwardPoints(f.authority, f.user, 10); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
	if err := f.engine.InitUserProfile(f.user); err != nil {
		t.Fatalf("init profile: %v", err)
	}
	if err := f.engine.AwardPoints(f.user, f.user, 10); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("users cannot award themselves, got %v", err)
	}
	if err := f.engine.AwardPoints(f.authority, f.user, 2001); err != nil {
		t.Fatalf("award: %v", err)
	}
	if err := f.engine.AwardPoints(f.authority, f.user, ^uint64(0)); err != nil {
		t.Fatalf("saturating award: %v", err)
	}
	profile, _ := f.engine.UserProfile(f.user)
	if profile.Points != ^uint64(0) || profile.Tier != TierPlatinum {
		t.Fatalf("unexpected profile %+v", profile)
	}
}

func TestTierNeverDecreases(t *testing.T) {
	p := &UserProfile{Points: 600}
	p.refreshTier()
	if p.Tier != TierGold {
		t.Fatalf("unexpected tier %s", p.Tier)
	}
	p.Points = 50
	p.refreshTier()
	if p.Tier != TierGold {
		t.Fatalf("tier dropped to %s", p.Tier)
	}
	for points, want := range map[uint64]Tier{0: TierBronze, 100: TierBronze, 101: TierSilver, 500: TierSilver, 501: TierGold, 2000: TierGold, 2001: TierPlatinum} {
		if got := tierFor(points); got != want {
			t.Fatalf("tierFor(%d) = %s want %s", points, got, want)
		}
	}
}

func TestEventsEmittedOnlyAfterCommit(t *testing.T) {
	f := newFixture(t)
	f.attest(10)
	before := len(f.recorder.Types())
	if err := f.engine.Mint(f.authority, 11); err == nil {
		t.Fatalf("expected mint to fail")
	}
	if got := len(f.recorder.Types()); got != before {
		t.Fatalf("failed operation emitted %d events", got-before)
	}
	if err := f.engine.Mint(f.authority, 10); err != nil {
		t.Fatalf("mint: %v", err)
	}
	kinds := f.recorder.Types()
	if kinds[len(kinds)-1] != events.TypeTokensMinted {
		t.Fatalf("unexpected last event %s", kinds[len(kinds)-1])
	}

	entries, err := f.engine.AuditEntries(0, 100)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(entries) != len(kinds) {
		t.Fatalf("audit has %d entries, emitted %d events", len(entries), len(kinds))
	}
	for i, entry := range entries {
		if entry.Type != kinds[i] {
			t.Fatalf("audit entry %d is %s, emitted %s", i, entry.Type, kinds[i])
		}
	}
	if err := state.VerifyAuditChain(entries); err != nil {
		t.Fatalf("verify chain: %v", err)
	}
}

func TestEmittedEventsCarryAuditSequence(t *testing.T) {
	f := newFixture(t)

	const users = 12
	var wg sync.WaitGroup
	errs := make(chan error, users)
	for i := 0; i < users; i++ {
		user := newTestAddress(byte(0x70 + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				err := f.engine.InitUserProfile(user)
				if errors.Is(err, storage.ErrConflict) {
					continue
				}
				errs <- err
				return
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("init profile: %v", err)
		}
	}

	entries, err := f.engine.AuditEntries(0, 100)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	emitted := f.recorder.Events
	if len(emitted) != len(entries) {
		t.Fatalf("emitted %d events for %d audit entries", len(emitted), len(entries))
	}
	for i, evt := range emitted {
		rendered := events.Render(evt)
		if rendered.Seq == nil {
			t.Fatalf("event %d (%s) has no sequence", i, rendered.Type)
		}
		if *rendered.Seq != uint64(i) {
			t.Fatalf("event %d emitted out of order with seq %d", i, *rendered.Seq)
		}
		if entries[i].Type != rendered.Type || entries[i].Event().Attributes["user"] != rendered.Attributes["user"] {
			t.Fatalf("event %d does not match audit entry: %+v vs %+v", i, rendered, entries[i])
		}
	}
}

func TestCloseLedgerRefundsAndAllowsReinit(t *testing.T) {
	f := newFixture(t)
	deposit := f.nativeBalance(LedgerIdentity)
	before := f.nativeBalance(f.authority)
	if err := f.engine.CloseLedger(f.user); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.engine.CloseLedger(f.authority); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := f.nativeBalance(f.authority) - before; got != deposit {
		t.Fatalf("refund %d want %d", got, deposit)
	}
	if _, err := f.engine.LedgerState(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected closed ledger, got %v", err)
	}
	if err := f.engine.Initialize(f.user, f.mint, f.treasury); err != nil {
		t.Fatalf("reinitialize: %v", err)
	}
	if got := f.ledger().Authority; got != f.user {
		t.Fatalf("unexpected authority %s", got)
	}
}
