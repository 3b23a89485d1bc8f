package reserve

import (
	"bytes"

	"reserveledger/core/events"
	"reserveledger/core/state/layout"
	"reserveledger/core/types"
)

// UpdateAttestationRoot replaces the attestation root and the proven reserve
// count. The count is a full replacement, so it may move down.
func (e *Engine) UpdateAttestationRoot(caller types.Address, root [32]byte, totalAttested uint64) error {
	return e.execute("update_attestation_root", func(t *txn) error {
		s, err := t.loadLedger()
		if err != nil {
			return err
		}
		if err := requireOperator(s, caller); err != nil {
			return err
		}
		if s.IsPaused {
			return ErrProtocolPaused
		}
		previous := s.ProvenReserves
		s.AttestationRoot = root
		s.ProvenReserves = totalAttested
		s.LastRootUpdate = t.now
		if err := t.saveLedger(s); err != nil {
			return err
		}
		t.record(events.AttestationRootUpdated{
			Root:             root,
			PreviousReserves: previous,
			TotalAttested:    totalAttested,
			Timestamp:        t.now,
		})
		return nil
	})
}

// SubmitProof stamps the proof time. The claimed count must agree with the
// reserves recorded by the last attestation update.
func (e *Engine) SubmitProof(caller types.Address, proofHash []byte, claimedReserves uint64) error {
	return e.execute("submit_proof", func(t *txn) error {
		s, err := t.loadLedger()
		if err != nil {
			return err
		}
		if err := requireOperator(s, caller); err != nil {
			return err
		}
		if claimedReserves != s.ProvenReserves {
			return ErrReserveCountMismatch
		}
		s.LastProofTimestamp = t.now
		if err := t.saveLedger(s); err != nil {
			return err
		}
		t.record(events.ProofSubmitted{
			Root:            s.AttestationRoot,
			ClaimedReserves: claimedReserves,
			ProofHash:       bytes.Clone(proofHash),
			Timestamp:       t.now,
		})
		return nil
	})
}

// SetPrice is the bounded operator price path. Once a price exists a single
// update may move it by at most previous/PriceBandDivisor.
func (e *Engine) SetPrice(caller types.Address, price uint64) error {
	return e.execute("set_price", func(t *txn) error {
		s, err := t.loadLedger()
		if err != nil {
			return err
		}
		if err := requireOperator(s, caller); err != nil {
			return err
		}
		if price == 0 {
			return ErrInvalidPrice
		}
		previous := s.PricePerUnit
		if previous > 0 && absDiff(price, previous) > previous/e.params.PriceBandDivisor {
			return ErrPriceChangeExceedsLimit
		}
		return t.applyPrice(s, caller, previous, price, events.PricePathOperator)
	})
}

// SetPriceAdmin is the unbounded authority override used for emergency
// correction.
func (e *Engine) SetPriceAdmin(caller types.Address, price uint64) error {
	return e.execute("set_price_admin", func(t *txn) error {
		s, err := t.loadLedger()
		if err != nil {
			return err
		}
		if err := requireAuthority(s, caller); err != nil {
			return err
		}
		return t.applyPrice(s, caller, s.PricePerUnit, price, events.PricePathAdmin)
	})
}

func (t *txn) applyPrice(s *layout.LedgerState, caller types.Address, previous, price uint64, path string) error {
	s.PricePerUnit = price
	if err := t.saveLedger(s); err != nil {
		return err
	}
	t.record(events.PriceUpdated{
		Caller:    caller,
		Previous:  previous,
		Price:     price,
		Path:      path,
		Timestamp: t.now,
	})
	return nil
}

// Mint issues amount tokens into the treasury. Issuance is frozen while the
// last proof is older than the staleness window, and supply may never exceed
// proven reserves.
func (e *Engine) Mint(caller types.Address, amount uint64) error {
	return e.execute("mint", func(t *txn) error {
		s, err := t.loadLedger()
		if err != nil {
			return err
		}
		if err := requireOperator(s, caller); err != nil {
			return err
		}
		if s.IsPaused {
			return ErrProtocolPaused
		}
		window := int64(e.params.StalenessWindow.Seconds())
		if t.now-s.LastProofTimestamp >= window {
			return ErrStaleProof
		}
		newSupply, err := checkedAdd(s.TotalSupply, amount)
		if err != nil {
			return err
		}
		if newSupply > s.ProvenReserves {
			return ErrInsufficientReserves
		}
		if err := e.tokens.MintTo(t.st, s.TokenMint, s.Treasury, LedgerIdentity, amount); err != nil {
			return err
		}
		s.TotalSupply = newSupply
		if err := t.saveLedger(s); err != nil {
			return err
		}
		t.record(events.TokensMinted{
			Amount:         amount,
			NewTotalSupply: newSupply,
			ProvenReserves: s.ProvenReserves,
			Timestamp:      t.now,
		})
		return nil
	})
}
