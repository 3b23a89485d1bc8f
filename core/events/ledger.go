package events

import (
	"encoding/hex"
	"strconv"

	"reserveledger/core/types"
)

const (
	TypeLedgerInitialized      = "ledger.initialized"
	TypeLedgerClosed           = "ledger.closed"
	TypeOperatorUpdated        = "ledger.operator.updated"
	TypeReceiverUpdated        = "ledger.receiver.updated"
	TypeTreasuryUpdated        = "ledger.treasury.updated"
	TypePauseToggled           = "ledger.paused"
	TypePriceUpdated           = "ledger.price.updated"
	TypeAttestationRootUpdated = "ledger.attestation.root_updated"
	TypeProofSubmitted         = "ledger.proof.submitted"
	TypeTokensMinted           = "ledger.tokens.minted"
	TypeTokensPurchased        = "ledger.tokens.purchased"
	TypeTokensBurned           = "ledger.tokens.burned"
	TypeRedemptionClaimed      = "ledger.redemption.claimed"
	TypeRedemptionConfirmed    = "ledger.redemption.confirmed"
	TypeRedemptionCancelled    = "ledger.redemption.cancelled"
	TypeProfileCreated         = "ledger.profile.created"
	TypePointsAwarded          = "ledger.points.awarded"
	TypeYieldRateUpdated       = "ledger.yield.rate_updated"
	TypeYieldDistributed       = "ledger.yield.distributed"
	TypeLayoutResized          = "ledger.layout.resized"
	TypeLayoutRemapped         = "ledger.layout.remapped"
)

const (
	// PricePathOperator marks a price change through the bounded operator path.
	PricePathOperator = "operator"
	// PricePathAdmin marks an unbounded administrator override.
	PricePathAdmin = "admin"
)

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

func i64(v int64) string { return strconv.FormatInt(v, 10) }

func newEvent(kind string, ts int64, attrs map[string]string) *types.Event {
	attrs["timestamp"] = i64(ts)
	return &types.Event{Type: kind, Attributes: attrs}
}

// LedgerInitialized records a fresh deployment of the ledger record.
type LedgerInitialized struct {
	Authority types.Address
	TokenMint types.Address
	Treasury  types.Address
	Timestamp int64
}

func (LedgerInitialized) EventType() string { return TypeLedgerInitialized }

func (e LedgerInitialized) Event() *types.Event {
	return newEvent(TypeLedgerInitialized, e.Timestamp, map[string]string{
		"authority": e.Authority.String(),
		"tokenMint": e.TokenMint.String(),
		"treasury":  e.Treasury.String(),
	})
}

// LedgerClosed records the removal of the ledger record.
type LedgerClosed struct {
	Authority types.Address
	Refund    uint64
	Timestamp int64
}

func (LedgerClosed) EventType() string { return TypeLedgerClosed }

func (e LedgerClosed) Event() *types.Event {
	return newEvent(TypeLedgerClosed, e.Timestamp, map[string]string{
		"authority": e.Authority.String(),
		"refund":    u64(e.Refund),
	})
}

// OperatorUpdated records a rotation of the operator identity.
type OperatorUpdated struct {
	Previous  types.Address
	Operator  types.Address
	Timestamp int64
}

func (OperatorUpdated) EventType() string { return TypeOperatorUpdated }

func (e OperatorUpdated) Event() *types.Event {
	return newEvent(TypeOperatorUpdated, e.Timestamp, map[string]string{
		"previous": e.Previous.String(),
		"operator": e.Operator.String(),
	})
}

// ReceiverUpdated records a change of the native-currency receiver.
type ReceiverUpdated struct {
	Previous  types.Address
	Receiver  types.Address
	Timestamp int64
}

func (ReceiverUpdated) EventType() string { return TypeReceiverUpdated }

func (e ReceiverUpdated) Event() *types.Event {
	return newEvent(TypeReceiverUpdated, e.Timestamp, map[string]string{
		"previous": e.Previous.String(),
		"receiver": e.Receiver.String(),
	})
}

// TreasuryUpdated records a change of the treasury token account.
type TreasuryUpdated struct {
	Previous  types.Address
	Treasury  types.Address
	Timestamp int64
}

func (TreasuryUpdated) EventType() string { return TypeTreasuryUpdated }

func (e TreasuryUpdated) Event() *types.Event {
	return newEvent(TypeTreasuryUpdated, e.Timestamp, map[string]string{
		"previous": e.Previous.String(),
		"treasury": e.Treasury.String(),
	})
}

// PauseToggled records the pause flag being set or cleared.
type PauseToggled struct {
	Paused    bool
	Timestamp int64
}

func (PauseToggled) EventType() string { return TypePauseToggled }

func (e PauseToggled) Event() *types.Event {
	return newEvent(TypePauseToggled, e.Timestamp, map[string]string{
		"paused": strconv.FormatBool(e.Paused),
	})
}

// PriceUpdated records a price change through either update path.
type PriceUpdated struct {
	Caller    types.Address
	Previous  uint64
	Price     uint64
	Path      string
	Timestamp int64
}

func (PriceUpdated) EventType() string { return TypePriceUpdated }

func (e PriceUpdated) Event() *types.Event {
	return newEvent(TypePriceUpdated, e.Timestamp, map[string]string{
		"caller":   e.Caller.String(),
		"previous": u64(e.Previous),
		"price":    u64(e.Price),
		"path":     e.Path,
	})
}

// AttestationRootUpdated records a replacement of the attested reserves.
type AttestationRootUpdated struct {
	Root             [32]byte
	PreviousReserves uint64
	TotalAttested    uint64
	Timestamp        int64
}

func (AttestationRootUpdated) EventType() string { return TypeAttestationRootUpdated }

func (e AttestationRootUpdated) Event() *types.Event {
	return newEvent(TypeAttestationRootUpdated, e.Timestamp, map[string]string{
		"root":             hex.EncodeToString(e.Root[:]),
		"previousReserves": u64(e.PreviousReserves),
		"totalAttested":    u64(e.TotalAttested),
	})
}

// ProofSubmitted records an accepted proof of reserves.
type ProofSubmitted struct {
	Root            [32]byte
	ClaimedReserves uint64
	ProofHash       []byte
	Timestamp       int64
}

func (ProofSubmitted) EventType() string { return TypeProofSubmitted }

func (e ProofSubmitted) Event() *types.Event {
	return newEvent(TypeProofSubmitted, e.Timestamp, map[string]string{
		"root":            hex.EncodeToString(e.Root[:]),
		"claimedReserves": u64(e.ClaimedReserves),
		"proofHash":       hex.EncodeToString(e.ProofHash),
	})
}

// TokensMinted records issuance into the treasury.
type TokensMinted struct {
	Amount         uint64
	NewTotalSupply uint64
	ProvenReserves uint64
	Timestamp      int64
}

func (TokensMinted) EventType() string { return TypeTokensMinted }

func (e TokensMinted) Event() *types.Event {
	return newEvent(TypeTokensMinted, e.Timestamp, map[string]string{
		"amount":         u64(e.Amount),
		"totalSupply":    u64(e.NewTotalSupply),
		"provenReserves": u64(e.ProvenReserves),
	})
}

// TokensPurchased records a native-currency for token swap.
type TokensPurchased struct {
	Buyer     types.Address
	Amount    uint64
	Cost      uint64
	Price     uint64
	Timestamp int64
}

func (TokensPurchased) EventType() string { return TypeTokensPurchased }

func (e TokensPurchased) Event() *types.Event {
	return newEvent(TypeTokensPurchased, e.Timestamp, map[string]string{
		"buyer":  e.Buyer.String(),
		"amount": u64(e.Amount),
		"cost":   u64(e.Cost),
		"price":  u64(e.Price),
	})
}

// TokensBurned records a burn-to-redeem and the request it opened.
type TokensBurned struct {
	Requester      types.Address
	RequestID      uint64
	Amount         uint64
	NewTotalSupply uint64
	TotalBurned    uint64
	Timestamp      int64
}

func (TokensBurned) EventType() string { return TypeTokensBurned }

func (e TokensBurned) Event() *types.Event {
	return newEvent(TypeTokensBurned, e.Timestamp, map[string]string{
		"requester":   e.Requester.String(),
		"requestId":   u64(e.RequestID),
		"amount":      u64(e.Amount),
		"totalSupply": u64(e.NewTotalSupply),
		"totalBurned": u64(e.TotalBurned),
	})
}

// RedemptionClaimed records a fulfiller winning a pending request.
type RedemptionClaimed struct {
	Requester types.Address
	RequestID uint64
	Fulfiller types.Address
	Timestamp int64
}

func (RedemptionClaimed) EventType() string { return TypeRedemptionClaimed }

func (e RedemptionClaimed) Event() *types.Event {
	return newEvent(TypeRedemptionClaimed, e.Timestamp, map[string]string{
		"requester": e.Requester.String(),
		"requestId": u64(e.RequestID),
		"fulfiller": e.Fulfiller.String(),
	})
}

// RedemptionConfirmed records confirmed delivery of a claimed request.
type RedemptionConfirmed struct {
	Requester types.Address
	RequestID uint64
	Fulfiller types.Address
	Confirmer types.Address
	Timestamp int64
}

func (RedemptionConfirmed) EventType() string { return TypeRedemptionConfirmed }

func (e RedemptionConfirmed) Event() *types.Event {
	return newEvent(TypeRedemptionConfirmed, e.Timestamp, map[string]string{
		"requester": e.Requester.String(),
		"requestId": u64(e.RequestID),
		"fulfiller": e.Fulfiller.String(),
		"confirmer": e.Confirmer.String(),
	})
}

// RedemptionCancelled records an administrator cancelling a request. Burned
// tokens are not restored.
type RedemptionCancelled struct {
	Requester   types.Address
	RequestID   uint64
	PriorStatus string
	Timestamp   int64
}

func (RedemptionCancelled) EventType() string { return TypeRedemptionCancelled }

func (e RedemptionCancelled) Event() *types.Event {
	return newEvent(TypeRedemptionCancelled, e.Timestamp, map[string]string{
		"requester":   e.Requester.String(),
		"requestId":   u64(e.RequestID),
		"priorStatus": e.PriorStatus,
	})
}

// ProfileCreated records a new loyalty profile.
type ProfileCreated struct {
	User      types.Address
	Timestamp int64
}

func (ProfileCreated) EventType() string { return TypeProfileCreated }

func (e ProfileCreated) Event() *types.Event {
	return newEvent(TypeProfileCreated, e.Timestamp, map[string]string{
		"user": e.User.String(),
	})
}

// PointsAwarded records loyalty points credited to a profile.
type PointsAwarded struct {
	User      types.Address
	Amount    uint64
	Points    uint64
	Tier      string
	Reason    string
	Timestamp int64
}

func (PointsAwarded) EventType() string { return TypePointsAwarded }

func (e PointsAwarded) Event() *types.Event {
	return newEvent(TypePointsAwarded, e.Timestamp, map[string]string{
		"user":   e.User.String(),
		"amount": u64(e.Amount),
		"points": u64(e.Points),
		"tier":   e.Tier,
		"reason": e.Reason,
	})
}

// YieldRateUpdated records a change of the informational yield rate.
type YieldRateUpdated struct {
	Bps       uint16
	Timestamp int64
}

func (YieldRateUpdated) EventType() string { return TypeYieldRateUpdated }

func (e YieldRateUpdated) Event() *types.Event {
	return newEvent(TypeYieldRateUpdated, e.Timestamp, map[string]string{
		"bps": u64(uint64(e.Bps)),
	})
}

// YieldDistributed records an off-ledger yield distribution.
type YieldDistributed struct {
	Amount    uint64
	NewTotal  uint64
	Timestamp int64
}

func (YieldDistributed) EventType() string { return TypeYieldDistributed }

func (e YieldDistributed) Event() *types.Event {
	return newEvent(TypeYieldDistributed, e.Timestamp, map[string]string{
		"amount":   u64(e.Amount),
		"newTotal": u64(e.NewTotal),
	})
}

// LayoutResized records growth of the ledger record buffer.
type LayoutResized struct {
	OldSize   int
	NewSize   int
	RentTopUp uint64
	Timestamp int64
}

func (LayoutResized) EventType() string { return TypeLayoutResized }

func (e LayoutResized) Event() *types.Event {
	return newEvent(TypeLayoutResized, e.Timestamp, map[string]string{
		"oldSize":   strconv.Itoa(e.OldSize),
		"newSize":   strconv.Itoa(e.NewSize),
		"rentTopUp": u64(e.RentTopUp),
	})
}

// LayoutRemapped records a field remap between two layout versions.
type LayoutRemapped struct {
	From      string
	To        string
	Timestamp int64
}

func (LayoutRemapped) EventType() string { return TypeLayoutRemapped }

func (e LayoutRemapped) Event() *types.Event {
	return newEvent(TypeLayoutRemapped, e.Timestamp, map[string]string{
		"from": e.From,
		"to":   e.To,
	})
}
