package reserve

import (
	"fmt"

	"reserveledger/core/events"
	"reserveledger/core/state"
	"reserveledger/core/types"
)

// BurnToRedeem burns the requester's tokens and opens a redemption request
// under the caller-chosen id. The id must not be in use for this requester.
func (e *Engine) BurnToRedeem(requester types.Address, amount, requestID uint64) error {
	return e.execute("burn_to_redeem", func(t *txn) error {
		if requester.IsZero() {
			return ErrUnauthorized
		}
		s, err := t.loadLedger()
		if err != nil {
			return err
		}
		if s.IsPaused {
			return ErrProtocolPaused
		}
		supply, err := checkedSub(s.TotalSupply, amount)
		if err != nil {
			return err
		}
		burned, err := checkedAdd(s.TotalBurned, amount)
		if err != nil {
			return err
		}
		if err := e.tokens.Burn(t.st, s.TokenMint, requester, requester, amount); err != nil {
			return err
		}
		s.TotalSupply = supply
		s.TotalBurned = burned
		if err := t.saveLedger(s); err != nil {
			return err
		}
		req := &RedemptionRequest{
			Requester: requester,
			RequestID: requestID,
			Amount:    amount,
			Status:    RedemptionPending,
			CreatedAt: uint64(t.now),
		}
		if err := createRedemption(t.st, req); err != nil {
			return err
		}
		t.record(events.TokensBurned{
			Requester:      requester,
			RequestID:      requestID,
			Amount:         amount,
			NewTotalSupply: supply,
			TotalBurned:    burned,
			Timestamp:      t.now,
		})
		return t.accrue(requester, saturatingMul(amount, redemptionFactor), reasonRedemption, func(p *UserProfile) {
			p.TotalRedeemed = saturatingAdd(p.TotalRedeemed, amount)
		})
	})
}

// transition maps a lost commit race on the redemption record itself to a
// status mismatch. Conflicts on other keys stay plain storage conflicts. The
// caller must re-read the request before retrying either way.
func transition(requester types.Address, requestID uint64, err error) error {
	if state.ConflictOn(err, redemptionKey(requester, requestID)) {
		return fmt.Errorf("%w: %w", ErrInvalidRedemptionStatus, err)
	}
	return err
}

// ClaimRedemption lets an independent fulfiller take a pending request. When
// several fulfillers race, exactly one commit succeeds.
func (e *Engine) ClaimRedemption(fulfiller, requester types.Address, requestID uint64) error {
	return transition(requester, requestID, e.execute("claim_redemption", func(t *txn) error {
		if fulfiller.IsZero() {
			return ErrUnauthorized
		}
		req, err := loadRedemption(t.st, requester, requestID)
		if err != nil {
			return err
		}
		if isRequester(req, fulfiller) {
			return ErrUnauthorized
		}
		if req.Status != RedemptionPending {
			return ErrInvalidRedemptionStatus
		}
		req.Status = RedemptionClaimed
		req.Fulfiller = fulfiller
		req.ClaimedAt = uint64(t.now)
		if err := storeRedemption(t.st, req); err != nil {
			return err
		}
		t.record(events.RedemptionClaimed{
			Requester: requester,
			RequestID: requestID,
			Fulfiller: fulfiller,
			Timestamp: t.now,
		})
		return nil
	}))
}

// ConfirmDelivery closes a claimed request and rewards the fulfiller.
func (e *Engine) ConfirmDelivery(caller, requester types.Address, requestID uint64) error {
	return transition(requester, requestID, e.execute("confirm_delivery", func(t *txn) error {
		s, err := t.loadLedger()
		if err != nil {
			return err
		}
		if err := requireOperator(s, caller); err != nil {
			return err
		}
		req, err := loadRedemption(t.st, requester, requestID)
		if err != nil {
			return err
		}
		if req.Status != RedemptionClaimed {
			return ErrInvalidRedemptionStatus
		}
		req.Status = RedemptionConfirmed
		req.ConfirmedAt = uint64(t.now)
		if err := storeRedemption(t.st, req); err != nil {
			return err
		}
		t.record(events.RedemptionConfirmed{
			Requester: requester,
			RequestID: requestID,
			Fulfiller: req.Fulfiller,
			Confirmer: caller,
			Timestamp: t.now,
		})
		return t.accrue(req.Fulfiller, fulfillmentPoints, reasonFulfillment, func(p *UserProfile) {
			p.TotalFulfilled = saturatingAdd(p.TotalFulfilled, 1)
		})
	}))
}

// CancelRedemption abandons a pending or claimed request. Burned tokens are
// not restored.
func (e *Engine) CancelRedemption(caller, requester types.Address, requestID uint64) error {
	return transition(requester, requestID, e.execute("cancel_redemption", func(t *txn) error {
		s, err := t.loadLedger()
		if err != nil {
			return err
		}
		if err := requireAuthority(s, caller); err != nil {
			return err
		}
		req, err := loadRedemption(t.st, requester, requestID)
		if err != nil {
			return err
		}
		if req.Status != RedemptionPending && req.Status != RedemptionClaimed {
			return ErrInvalidRedemptionStatus
		}
		prior := req.Status
		req.Status = RedemptionCancelled
		if err := storeRedemption(t.st, req); err != nil {
			return err
		}
		t.record(events.RedemptionCancelled{
			Requester:   requester,
			RequestID:   requestID,
			PriorStatus: prior.String(),
			Timestamp:   t.now,
		})
		return nil
	}))
}
