package reserve

import (
	"errors"

	"reserveledger/core/events"
	"reserveledger/core/state"
	"reserveledger/core/types"
)

const (
	reasonPurchase    = "purchase"
	reasonRedemption  = "redemption"
	reasonFulfillment = "fulfillment"
	reasonAward       = "award"

	fulfillmentPoints = 5
	redemptionFactor  = 2
)

// tierFor maps a points balance to the tier it qualifies for. Thresholds are
// exclusive and checked from the top.
func tierFor(points uint64) Tier {
	switch {
	case points > 2000:
		return TierPlatinum
	case points > 500:
		return TierGold
	case points > 100:
		return TierSilver
	default:
		return TierBronze
	}
}

func (p *UserProfile) refreshTier() {
	if next := tierFor(p.Points); next > p.Tier {
		p.Tier = next
	}
}

// accrue adds points to owner's profile when one exists. Accrual saturates
// and never fails the surrounding operation on arithmetic.
func (t *txn) accrue(owner types.Address, points uint64, reason string, update func(*UserProfile)) error {
	profile, ok, err := loadProfile(t.st, owner)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return t.applyPoints(profile, points, reason, update)
}

func (t *txn) applyPoints(profile *UserProfile, points uint64, reason string, update func(*UserProfile)) error {
	profile.Points = saturatingAdd(profile.Points, points)
	if update != nil {
		update(profile)
	}
	profile.refreshTier()
	if err := storeProfile(t.st, profile); err != nil {
		return err
	}
	t.record(events.PointsAwarded{
		User:      profile.Owner,
		Amount:    points,
		Points:    profile.Points,
		Tier:      profile.Tier.String(),
		Reason:    reason,
		Timestamp: t.now,
	})
	return nil
}

// InitUserProfile creates the caller's loyalty profile at Bronze.
func (e *Engine) InitUserProfile(user types.Address) error {
	return e.execute("init_user_profile", func(t *txn) error {
		if user.IsZero() {
			return ErrUnauthorized
		}
		profile := &UserProfile{Owner: user, Tier: TierBronze, CreatedAt: uint64(t.now)}
		if err := t.st.KVCreate(profileKey(user), profile); err != nil {
			if errors.Is(err, state.ErrRecordExists) {
				return ErrProfileExists
			}
			return err
		}
		t.record(events.ProfileCreated{User: user, Timestamp: t.now})
		return nil
	})
}

// AwardPoints credits points earned outside the ledger, such as shop
// purchases. The profile must exist.
func (e *Engine) AwardPoints(caller, user types.Address, amount uint64) error {
	return e.execute("award_points", func(t *txn) error {
		s, err := t.loadLedger()
		if err != nil {
			return err
		}
		if err := requireOperator(s, caller); err != nil {
			return err
		}
		profile, ok, err := loadProfile(t.st, user)
		if err != nil {
			return err
		}
		if !ok {
			return ErrProfileNotFound
		}
		return t.applyPoints(profile, amount, reasonAward, nil)
	})
}
