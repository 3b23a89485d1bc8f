package bank

import (
	"fmt"

	"reserveledger/core/state"
	"reserveledger/core/types"
)

type mintRecord struct {
	Authority types.Address
	Supply    uint64
}

// Tokens is the fungible token-balance module. A mint has one mint authority;
// a token account is controlled by its owner, which defaults to the account
// address itself until delegated.
type Tokens struct{}

// NewTokens returns the token module.
func NewTokens() *Tokens { return &Tokens{} }

func (t *Tokens) loadMint(st *state.Manager, mint types.Address) (*mintRecord, error) {
	rec := new(mintRecord)
	ok, err := st.KVGet(joinKey(mintPrefix, mint), rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMintNotRegistered, mint)
	}
	return rec, nil
}

// RegisterMint creates a mint controlled by authority.
func (t *Tokens) RegisterMint(st *state.Manager, mint, authority types.Address) error {
	if err := st.KVCreate(joinKey(mintPrefix, mint), &mintRecord{Authority: authority}); err != nil {
		if err == state.ErrRecordExists {
			return fmt.Errorf("%w: %s", ErrMintExists, mint)
		}
		return err
	}
	return nil
}

// Delegate hands control of a token account to owner.
func (t *Tokens) Delegate(st *state.Manager, mint, account, owner types.Address) error {
	if _, err := t.loadMint(st, mint); err != nil {
		return err
	}
	return st.KVPut(joinKey(tokenOwnerPrefix, mint, account), owner)
}

// Owner returns the identity allowed to move funds out of account.
func (t *Tokens) Owner(st *state.Manager, mint, account types.Address) (types.Address, error) {
	var owner types.Address
	ok, err := st.KVGet(joinKey(tokenOwnerPrefix, mint, account), &owner)
	if err != nil {
		return types.Address{}, err
	}
	if !ok {
		return account, nil
	}
	return owner, nil
}

func (t *Tokens) requireOwner(st *state.Manager, mint, account, signer types.Address) error {
	owner, err := t.Owner(st, mint, account)
	if err != nil {
		return err
	}
	if owner != signer {
		return fmt.Errorf("%w: %s does not control %s", ErrUnauthorized, signer, account)
	}
	return nil
}

// MintTo creates amount units into the to account. signer must be the mint
// authority.
func (t *Tokens) MintTo(st *state.Manager, mint, to, signer types.Address, amount uint64) error {
	rec, err := t.loadMint(st, mint)
	if err != nil {
		return err
	}
	if rec.Authority != signer {
		return fmt.Errorf("%w: %s is not the mint authority", ErrUnauthorized, signer)
	}
	supply := rec.Supply + amount
	if supply < rec.Supply {
		return ErrBalanceOverflow
	}
	if err := credit(st, joinKey(tokenBalancePrefix, mint, to), amount); err != nil {
		return err
	}
	rec.Supply = supply
	return st.KVPut(joinKey(mintPrefix, mint), rec)
}

// Transfer moves amount from one token account to another.
func (t *Tokens) Transfer(st *state.Manager, mint, from, to, signer types.Address, amount uint64) error {
	if _, err := t.loadMint(st, mint); err != nil {
		return err
	}
	if err := t.requireOwner(st, mint, from, signer); err != nil {
		return err
	}
	if from == to {
		return requireBalance(st, joinKey(tokenBalancePrefix, mint, from), amount)
	}
	if err := debit(st, joinKey(tokenBalancePrefix, mint, from), amount); err != nil {
		return err
	}
	return credit(st, joinKey(tokenBalancePrefix, mint, to), amount)
}

// Burn destroys amount units held by from.
func (t *Tokens) Burn(st *state.Manager, mint, from, signer types.Address, amount uint64) error {
	rec, err := t.loadMint(st, mint)
	if err != nil {
		return err
	}
	if err := t.requireOwner(st, mint, from, signer); err != nil {
		return err
	}
	if err := debit(st, joinKey(tokenBalancePrefix, mint, from), amount); err != nil {
		return err
	}
	if rec.Supply < amount {
		return fmt.Errorf("bank: mint supply underflow")
	}
	rec.Supply -= amount
	return st.KVPut(joinKey(mintPrefix, mint), rec)
}

// Balance returns the token balance of holder.
func (t *Tokens) Balance(st *state.Manager, mint, holder types.Address) (uint64, error) {
	return readUint64(st, joinKey(tokenBalancePrefix, mint, holder))
}

// Supply returns the circulating supply of mint.
func (t *Tokens) Supply(st *state.Manager, mint types.Address) (uint64, error) {
	rec, err := t.loadMint(st, mint)
	if err != nil {
		return 0, err
	}
	return rec.Supply, nil
}
