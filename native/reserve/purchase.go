package reserve

import (
	"reserveledger/core/events"
	"reserveledger/core/types"
)

// Buy swaps native currency for tokens at the current price. The native debit
// to the receiver and the token credit from the treasury commit together or
// not at all.
func (e *Engine) Buy(buyer types.Address, amount uint64) error {
	return e.execute("buy", func(t *txn) error {
		if buyer.IsZero() {
			return ErrUnauthorized
		}
		s, err := t.loadLedger()
		if err != nil {
			return err
		}
		if s.IsPaused {
			return ErrProtocolPaused
		}
		if s.PricePerUnit == 0 {
			return ErrPriceNotSet
		}
		if amount > e.params.MaxPurchasePerCall {
			return ErrExceedsTransactionCap
		}
		cost, err := checkedMul(s.PricePerUnit, amount)
		if err != nil {
			return err
		}
		if err := e.native.Transfer(t.st, buyer, s.NativeReceiver, cost); err != nil {
			return err
		}
		if err := e.tokens.Transfer(t.st, s.TokenMint, s.Treasury, buyer, LedgerIdentity, amount); err != nil {
			return err
		}
		t.record(events.TokensPurchased{
			Buyer:     buyer,
			Amount:    amount,
			Cost:      cost,
			Price:     s.PricePerUnit,
			Timestamp: t.now,
		})
		return t.accrue(buyer, amount, reasonPurchase, func(p *UserProfile) {
			p.TotalVolume = saturatingAdd(p.TotalVolume, amount)
		})
	})
}
