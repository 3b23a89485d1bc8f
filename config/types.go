package config

// Log controls where structured logs are written. An empty File logs to
// stdout; otherwise the file is rotated by size.
type Log struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Ledger carries the engine parameters.
type Ledger struct {
	StalenessWindowHours uint64
	MaxPurchasePerCall   uint64
	PriceBandDivisor     uint64
}

// Rent is the minimum-balance schedule applied when the ledger record is
// created or resized.
type Rent struct {
	LamportsPerByteYear uint64
	ExemptionYears      uint64
}

// RateLimit bounds per-client request rates on the gateway.
type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint string
	Insecure bool
	Headers  string
	Traces   bool
	Metrics  bool
}

// Allocation credits native currency at genesis.
type Allocation struct {
	Address string
	Amount  uint64
}

// Genesis seeds an empty data directory: the token mint is registered under
// the ledger's derived identity and the treasury account is delegated to it.
type Genesis struct {
	TokenMint   string
	Treasury    string
	Allocations []Allocation
}
