package genesis

import (
	"fmt"
	"sort"

	"reserveledger/config"
	"reserveledger/core/types"
)

// Spec is the validated form of the genesis section of the daemon config.
type Spec struct {
	TokenMint   types.Address
	Treasury    types.Address
	Allocations []Allocation
}

type Allocation struct {
	Address types.Address
	Amount  uint64
}

// FromConfig parses and validates cfg. Allocations to the same address are
// merged and the result is sorted by address so application is deterministic.
func FromConfig(cfg config.Genesis) (*Spec, error) {
	spec := &Spec{}
	if cfg.TokenMint != "" || cfg.Treasury != "" {
		mint, err := types.ParseAddress(cfg.TokenMint)
		if err != nil {
			return nil, fmt.Errorf("genesis: token mint: %w", err)
		}
		treasury, err := types.ParseAddress(cfg.Treasury)
		if err != nil {
			return nil, fmt.Errorf("genesis: treasury: %w", err)
		}
		spec.TokenMint = mint
		spec.Treasury = treasury
	}
	merged := make(map[types.Address]uint64, len(cfg.Allocations))
	for i, alloc := range cfg.Allocations {
		addr, err := types.ParseAddress(alloc.Address)
		if err != nil {
			return nil, fmt.Errorf("genesis: allocation %d: %w", i, err)
		}
		total := merged[addr] + alloc.Amount
		if total < merged[addr] {
			return nil, fmt.Errorf("genesis: allocation %d: amount overflows for %s", i, addr)
		}
		merged[addr] = total
	}
	for addr, amount := range merged {
		spec.Allocations = append(spec.Allocations, Allocation{Address: addr, Amount: amount})
	}
	sort.Slice(spec.Allocations, func(i, j int) bool {
		return spec.Allocations[i].Address.String() < spec.Allocations[j].Address.String()
	})
	return spec, nil
}

// HasMint reports whether the spec registers a token mint.
func (s *Spec) HasMint() bool {
	return s != nil && !s.TokenMint.IsZero()
}
