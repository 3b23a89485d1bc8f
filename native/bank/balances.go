// Package bank implements the token-balance module and the native-currency
// transfer primitive consumed by the reserve engine. Balances are stored
// through the caller's state manager, so every debit and credit joins the
// surrounding transaction.
package bank

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"reserveledger/core/state"
	"reserveledger/core/types"
)

var (
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrBalanceOverflow     = errors.New("bank: balance overflow")
	ErrUnauthorized        = errors.New("bank: signer lacks authority")
	ErrMintNotRegistered   = errors.New("bank: mint not registered")
	ErrMintExists          = errors.New("bank: mint already registered")
)

var (
	nativeBalancePrefix = []byte("bank/native/")
	tokenBalancePrefix  = []byte("bank/token/balance/")
	tokenOwnerPrefix    = []byte("bank/token/owner/")
	mintPrefix          = []byte("bank/token/mint/")
)

func joinKey(prefix []byte, parts ...types.Address) []byte {
	key := make([]byte, 0, len(prefix)+len(parts)*types.AddressLength)
	key = append(key, prefix...)
	for _, p := range parts {
		key = append(key, p[:]...)
	}
	return key
}

func loadAmount(st *state.Manager, key []byte) (*uint256.Int, error) {
	var raw []byte
	ok, err := st.KVGet(key, &raw)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	return new(uint256.Int).SetBytes(raw), nil
}

func storeAmount(st *state.Manager, key []byte, amount *uint256.Int) error {
	if amount.IsZero() {
		return st.KVDelete(key)
	}
	return st.KVPut(key, amount.Bytes())
}

// credit adds amount to the balance under key, failing if the result no
// longer fits the 64-bit amount domain.
func credit(st *state.Manager, key []byte, amount uint64) error {
	current, err := loadAmount(st, key)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(current, uint256.NewInt(amount))
	if overflow || !sum.IsUint64() {
		return ErrBalanceOverflow
	}
	return storeAmount(st, key, sum)
}

func debit(st *state.Manager, key []byte, amount uint64) error {
	current, err := loadAmount(st, key)
	if err != nil {
		return err
	}
	delta := uint256.NewInt(amount)
	if current.Lt(delta) {
		return fmt.Errorf("%w: have %s need %d", ErrInsufficientBalance, current.Dec(), amount)
	}
	return storeAmount(st, key, new(uint256.Int).Sub(current, delta))
}

func requireBalance(st *state.Manager, key []byte, amount uint64) error {
	current, err := loadAmount(st, key)
	if err != nil {
		return err
	}
	if current.Lt(uint256.NewInt(amount)) {
		return fmt.Errorf("%w: have %s need %d", ErrInsufficientBalance, current.Dec(), amount)
	}
	return nil
}

func readUint64(st *state.Manager, key []byte) (uint64, error) {
	amount, err := loadAmount(st, key)
	if err != nil {
		return 0, err
	}
	if !amount.IsUint64() {
		return 0, ErrBalanceOverflow
	}
	return amount.Uint64(), nil
}
