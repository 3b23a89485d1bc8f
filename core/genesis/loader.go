package genesis

import (
	"errors"
	"fmt"

	"reserveledger/core/state"
	"reserveledger/core/types"
	"reserveledger/native/bank"
	"reserveledger/storage"
)

var markerKey = []byte("genesis/applied")

type marker struct {
	TokenMint   types.Address
	Allocations uint64
}

// Apply seeds an empty store from spec in a single transaction. The token mint
// is registered under mintAuthority and the treasury token account is
// delegated to it. Apply returns false without touching the store when a
// genesis has already been applied.
func Apply(store *storage.Store, tokens *bank.Tokens, native *bank.Native, spec *Spec, mintAuthority types.Address) (bool, error) {
	if store == nil {
		return false, fmt.Errorf("genesis: store must not be nil")
	}
	if spec == nil {
		return false, fmt.Errorf("genesis: spec must not be nil")
	}
	tx := store.Begin()
	defer tx.Discard()
	manager := state.NewManager(tx)

	err := manager.KVCreate(markerKey, &marker{TokenMint: spec.TokenMint, Allocations: uint64(len(spec.Allocations))})
	if errors.Is(err, state.ErrRecordExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("genesis: write marker: %w", err)
	}

	if spec.HasMint() {
		if err := tokens.RegisterMint(manager, spec.TokenMint, mintAuthority); err != nil {
			return false, fmt.Errorf("genesis: register mint: %w", err)
		}
		if err := tokens.Delegate(manager, spec.TokenMint, spec.Treasury, mintAuthority); err != nil {
			return false, fmt.Errorf("genesis: delegate treasury: %w", err)
		}
	}
	for _, alloc := range spec.Allocations {
		if err := native.Credit(manager, alloc.Address, alloc.Amount); err != nil {
			return false, fmt.Errorf("genesis: credit %s: %w", alloc.Address, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("genesis: commit: %w", err)
	}
	return true, nil
}
