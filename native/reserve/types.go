package reserve

import (
	"fmt"
	"time"

	"reserveledger/core/types"
)

// Tier is the loyalty classification of a profile. It only ever rises.
type Tier uint8

const (
	TierBronze Tier = iota
	TierSilver
	TierGold
	TierPlatinum
)

func (t Tier) String() string {
	switch t {
	case TierBronze:
		return "bronze"
	case TierSilver:
		return "silver"
	case TierGold:
		return "gold"
	case TierPlatinum:
		return "platinum"
	default:
		return fmt.Sprintf("tier(%d)", uint8(t))
	}
}

func (t Tier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// RedemptionStatus is the lifecycle position of a redemption request.
type RedemptionStatus uint8

const (
	RedemptionPending RedemptionStatus = 0
	RedemptionClaimed RedemptionStatus = 1
	// RedemptionShipped is reserved by the persisted encoding and never entered.
	RedemptionShipped   RedemptionStatus = 2
	RedemptionConfirmed RedemptionStatus = 3
	RedemptionCancelled RedemptionStatus = 4
)

func (s RedemptionStatus) String() string {
	switch s {
	case RedemptionPending:
		return "pending"
	case RedemptionClaimed:
		return "claimed"
	case RedemptionShipped:
		return "shipped"
	case RedemptionConfirmed:
		return "confirmed"
	case RedemptionCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

func (s RedemptionStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether no further transition is possible.
func (s RedemptionStatus) Terminal() bool {
	return s == RedemptionConfirmed || s == RedemptionCancelled
}

// UserProfile tracks loyalty bookkeeping for one end user.
type UserProfile struct {
	Owner          types.Address `json:"owner"`
	Points         uint64        `json:"points"`
	Tier           Tier          `json:"tier"`
	TotalVolume    uint64        `json:"totalVolume"`
	TotalRedeemed  uint64        `json:"totalRedeemed"`
	TotalFulfilled uint64        `json:"totalFulfilled"`
	CreatedAt      uint64        `json:"createdAt"`
}

// RedemptionRequest records one burn-to-redeem action. A zero Fulfiller means
// the request has not been claimed.
type RedemptionRequest struct {
	Requester   types.Address    `json:"requester"`
	RequestID   uint64           `json:"requestId"`
	Amount      uint64           `json:"amount"`
	Status      RedemptionStatus `json:"status"`
	Fulfiller   types.Address    `json:"fulfiller"`
	CreatedAt   uint64           `json:"createdAt"`
	ClaimedAt   uint64           `json:"claimedAt"`
	ConfirmedAt uint64           `json:"confirmedAt"`
}

// Params bounds the operator-facing surface of the engine.
type Params struct {
	// StalenessWindow is the maximum age of the last reserve proof before
	// minting is frozen.
	StalenessWindow time.Duration
	// MaxPurchasePerCall caps the token amount of a single Buy.
	MaxPurchasePerCall uint64
	// PriceBandDivisor limits an operator price change to previous/divisor.
	PriceBandDivisor uint64
}

// DefaultParams returns the production parameter set.
func DefaultParams() Params {
	return Params{
		StalenessWindow:    48 * time.Hour,
		MaxPurchasePerCall: 1000,
		PriceBandDivisor:   5,
	}
}

// Validate ensures the parameters are usable.
func (p Params) Validate() error {
	if p.StalenessWindow <= 0 {
		return fmt.Errorf("reserve: staleness window must be positive")
	}
	if p.StalenessWindow%time.Second != 0 {
		return fmt.Errorf("reserve: staleness window must be whole seconds")
	}
	if p.MaxPurchasePerCall == 0 {
		return fmt.Errorf("reserve: purchase cap must be positive")
	}
	if p.PriceBandDivisor == 0 {
		return fmt.Errorf("reserve: price band divisor must be positive")
	}
	return nil
}
