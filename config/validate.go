package config

import (
	"fmt"
	"strings"

	"reserveledger/core/types"
)

var validLogLevels = map[string]struct{}{"debug": {}, "info": {}, "warn": {}, "error": {}}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("config: ListenAddress must be set")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir must be set")
	}
	if _, ok := validLogLevels[strings.ToLower(c.Log.Level)]; !ok {
		return fmt.Errorf("config: log: unknown level %q", c.Log.Level)
	}
	if c.Ledger.StalenessWindowHours == 0 {
		return fmt.Errorf("config: ledger: StalenessWindowHours must be positive")
	}
	if c.Ledger.MaxPurchasePerCall == 0 {
		return fmt.Errorf("config: ledger: MaxPurchasePerCall must be positive")
	}
	if c.Ledger.PriceBandDivisor == 0 {
		return fmt.Errorf("config: ledger: PriceBandDivisor must be positive")
	}
	if c.Rent.LamportsPerByteYear == 0 || c.Rent.ExemptionYears == 0 {
		return fmt.Errorf("config: rent: rate and exemption years must be positive")
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("config: rate limit must not be negative")
	}
	if c.Genesis.TokenMint != "" || c.Genesis.Treasury != "" {
		if _, err := types.ParseAddress(c.Genesis.TokenMint); err != nil {
			return fmt.Errorf("config: genesis: TokenMint: %w", err)
		}
		if _, err := types.ParseAddress(c.Genesis.Treasury); err != nil {
			return fmt.Errorf("config: genesis: Treasury: %w", err)
		}
	}
	for i, alloc := range c.Genesis.Allocations {
		if _, err := types.ParseAddress(alloc.Address); err != nil {
			return fmt.Errorf("config: genesis: allocation %d: %w", i, err)
		}
	}
	return nil
}
