package bank

import (
	"reserveledger/core/state"
	"reserveledger/core/types"
)

// Native is the native-currency transfer primitive.
type Native struct{}

// NewNative returns the native-currency module.
func NewNative() *Native { return &Native{} }

// Credit mints native currency to addr. It backs genesis allocations and test
// fixtures; the reserve engine never calls it.
func (n *Native) Credit(st *state.Manager, addr types.Address, amount uint64) error {
	return credit(st, joinKey(nativeBalancePrefix, addr), amount)
}

// Transfer moves amount of native currency from one address to another. A
// transfer to self only checks that the balance covers amount.
func (n *Native) Transfer(st *state.Manager, from, to types.Address, amount uint64) error {
	if from == to {
		return requireBalance(st, joinKey(nativeBalancePrefix, from), amount)
	}
	if err := debit(st, joinKey(nativeBalancePrefix, from), amount); err != nil {
		return err
	}
	return credit(st, joinKey(nativeBalancePrefix, to), amount)
}

// Balance returns the native balance of addr.
func (n *Native) Balance(st *state.Manager, addr types.Address) (uint64, error) {
	return readUint64(st, joinKey(nativeBalancePrefix, addr))
}
