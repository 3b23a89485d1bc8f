package reserve

import (
	"errors"
	"fmt"

	"reserveledger/core/events"
	"reserveledger/core/state/layout"
	"reserveledger/core/types"
)

// fundRecord tops up the record's native balance to the minimum required for
// size bytes, charging the shortfall to payer. It returns the amount moved.
func (e *Engine) fundRecord(t *txn, payer types.Address, size int) (uint64, error) {
	need, err := e.rent.MinimumBalance(size)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMathOverflow, err)
	}
	have, err := e.native.Balance(t.st, LedgerIdentity)
	if err != nil {
		return 0, err
	}
	if have >= need {
		return 0, nil
	}
	shortfall := need - have
	available, err := e.native.Balance(t.st, payer)
	if err != nil {
		return 0, err
	}
	if available < shortfall {
		return 0, fmt.Errorf("%w: need %d have %d", ErrInsufficientRentBalance, shortfall, available)
	}
	if err := e.native.Transfer(t.st, payer, LedgerIdentity, shortfall); err != nil {
		return 0, err
	}
	return shortfall, nil
}

// ResizeLedgerRecord grows the ledger record to the current layout size
// without reinterpreting any field. The caller is validated from the raw
// identity slot and pays any minimum-balance shortfall first. A record that
// is already large enough is left untouched.
func (e *Engine) ResizeLedgerRecord(caller types.Address) error {
	return e.execute("resize_ledger_record", func(t *txn) error {
		data, err := rawLedger(t.st)
		if err != nil {
			return err
		}
		if err := requireRawAuthority(data, caller); err != nil {
			return err
		}
		if _, err := layout.Detect(data); err != nil {
			return err
		}
		if len(data) >= layout.V2Size {
			return nil
		}
		topUp, err := e.fundRecord(t, caller, layout.V2Size)
		if err != nil {
			return err
		}
		oldSize := len(data)
		if err := t.st.PutRecord(ledgerKey, layout.Grow(data, layout.V2Size)); err != nil {
			return err
		}
		t.record(events.LayoutResized{
			OldSize:   oldSize,
			NewSize:   layout.V2Size,
			RentTopUp: topUp,
			Timestamp: t.now,
		})
		return nil
	})
}

// RemapLedgerLayout moves every field of a resized V1 record to its V2 offset.
// Running it again on a remapped record is rejected.
func (e *Engine) RemapLedgerLayout(caller types.Address) error {
	return e.execute("remap_ledger_layout", func(t *txn) error {
		data, err := rawLedger(t.st)
		if err != nil {
			return err
		}
		if err := requireRawAuthority(data, caller); err != nil {
			return err
		}
		from, err := layout.Detect(data)
		if err != nil {
			return err
		}
		if err := layout.RemapV1ToV2(data); err != nil {
			switch {
			case errors.Is(err, layout.ErrAlreadyRemapped):
				return ErrAlreadyMigrated
			case errors.Is(err, layout.ErrRecordTooSmall):
				return ErrRecordTooSmall
			case errors.Is(err, layout.ErrLayoutMismatch):
				return fmt.Errorf("%w: %v", ErrLayoutMismatch, err)
			}
			return err
		}
		if err := t.st.PutRecord(ledgerKey, data); err != nil {
			return err
		}
		s, err := layout.DecodeV2(data)
		if err != nil {
			return err
		}
		t.ledger = s
		t.record(events.LayoutRemapped{
			From:      from.String(),
			To:        layout.VersionV2.String(),
			Timestamp: t.now,
		})
		return nil
	})
}
