package reserve

import (
	"errors"

	"reserveledger/core/events"
	"reserveledger/core/state/layout"
	"reserveledger/core/types"
)

// Initialize deploys a fresh ledger record in the current layout. The caller
// becomes authority, operator and native receiver, and funds the record's
// minimum balance.
func (e *Engine) Initialize(caller, tokenMint, treasury types.Address) error {
	return e.execute("initialize", func(t *txn) error {
		if caller.IsZero() {
			return ErrUnauthorized
		}
		_, err := rawLedger(t.st)
		switch {
		case err == nil:
			return ErrAlreadyInitialized
		case !errors.Is(err, ErrNotInitialized):
			return err
		}
		if _, err := e.fundRecord(t, caller, layout.V2Size); err != nil {
			return err
		}
		s := &layout.LedgerState{
			Authority:      caller,
			Operator:       caller,
			TokenMint:      tokenMint,
			Treasury:       treasury,
			NativeReceiver: caller,
		}
		data, err := layout.NewV2Record(s)
		if err != nil {
			return err
		}
		if err := t.st.PutRecord(ledgerKey, data); err != nil {
			return err
		}
		t.ledger = s
		t.record(events.LedgerInitialized{
			Authority: caller,
			TokenMint: tokenMint,
			Treasury:  treasury,
			Timestamp: t.now,
		})
		return nil
	})
}

// CloseLedger deletes the ledger record of any layout and returns its native
// balance to the authority, allowing a clean re-initialisation.
func (e *Engine) CloseLedger(caller types.Address) error {
	return e.execute("close_ledger", func(t *txn) error {
		data, err := rawLedger(t.st)
		if err != nil {
			return err
		}
		if err := requireRawAuthority(data, caller); err != nil {
			return err
		}
		refund, err := e.native.Balance(t.st, LedgerIdentity)
		if err != nil {
			return err
		}
		if refund > 0 {
			if err := e.native.Transfer(t.st, LedgerIdentity, caller, refund); err != nil {
				return err
			}
		}
		if err := t.st.KVDelete(ledgerKey); err != nil {
			return err
		}
		t.record(events.LedgerClosed{Authority: caller, Refund: refund, Timestamp: t.now})
		return nil
	})
}

// updateLedger runs an authority-only mutation of the ledger record.
func (e *Engine) updateLedger(op string, caller types.Address, apply func(t *txn, s *layout.LedgerState) error) error {
	return e.execute(op, func(t *txn) error {
		s, err := t.loadLedger()
		if err != nil {
			return err
		}
		if err := requireAuthority(s, caller); err != nil {
			return err
		}
		if err := apply(t, s); err != nil {
			return err
		}
		return t.saveLedger(s)
	})
}

// SetOperator rotates the operator key.
func (e *Engine) SetOperator(caller, operator types.Address) error {
	return e.updateLedger("set_operator", caller, func(t *txn, s *layout.LedgerState) error {
		t.record(events.OperatorUpdated{Previous: s.Operator, Operator: operator, Timestamp: t.now})
		s.Operator = operator
		return nil
	})
}

// SetNativeReceiver changes the account that receives purchase proceeds.
func (e *Engine) SetNativeReceiver(caller, receiver types.Address) error {
	return e.updateLedger("set_native_receiver", caller, func(t *txn, s *layout.LedgerState) error {
		t.record(events.ReceiverUpdated{Previous: s.NativeReceiver, Receiver: receiver, Timestamp: t.now})
		s.NativeReceiver = receiver
		return nil
	})
}

// SetTreasury changes the token account minted into and sold from.
func (e *Engine) SetTreasury(caller, treasury types.Address) error {
	return e.updateLedger("set_treasury", caller, func(t *txn, s *layout.LedgerState) error {
		t.record(events.TreasuryUpdated{Previous: s.Treasury, Treasury: treasury, Timestamp: t.now})
		s.Treasury = treasury
		return nil
	})
}

// SetPaused toggles the pause flag gating supply and purchase operations.
func (e *Engine) SetPaused(caller types.Address, paused bool) error {
	return e.updateLedger("set_paused", caller, func(t *txn, s *layout.LedgerState) error {
		s.IsPaused = paused
		t.record(events.PauseToggled{Paused: paused, Timestamp: t.now})
		return nil
	})
}

// SetYieldRate records the advertised yield in basis points. The value is
// informational only.
func (e *Engine) SetYieldRate(caller types.Address, bps uint16) error {
	return e.updateLedger("set_yield_rate", caller, func(t *txn, s *layout.LedgerState) error {
		s.YieldRateBps = bps
		t.record(events.YieldRateUpdated{Bps: bps, Timestamp: t.now})
		return nil
	})
}

// RecordYieldDistribution books a yield payout made outside the ledger.
func (e *Engine) RecordYieldDistribution(caller types.Address, amount uint64) error {
	return e.execute("record_yield_distribution", func(t *txn) error {
		s, err := t.loadLedger()
		if err != nil {
			return err
		}
		if err := requireOperator(s, caller); err != nil {
			return err
		}
		total, err := checkedAdd(s.TotalYieldDistributed, amount)
		if err != nil {
			return err
		}
		s.TotalYieldDistributed = total
		s.LastYieldDistribution = t.now
		if err := t.saveLedger(s); err != nil {
			return err
		}
		t.record(events.YieldDistributed{Amount: amount, NewTotal: total, Timestamp: t.now})
		return nil
	})
}
