package layout

import (
	"fmt"
	"math/bits"
)

// RecordOverhead is the per-record storage overhead charged on top of the
// buffer length.
const RecordOverhead = 128

// Rent describes the minimum native balance a record must hold to stay
// resident at a given size.
type Rent struct {
	LamportsPerByteYear uint64
	ExemptionYears      uint64
}

// DefaultRent returns the schedule used when none is configured.
func DefaultRent() Rent {
	return Rent{LamportsPerByteYear: 3480, ExemptionYears: 2}
}

// MinimumBalance returns the balance required for a record of size bytes.
func (r Rent) MinimumBalance(size int) (uint64, error) {
	if size < 0 {
		return 0, fmt.Errorf("rent: negative size %d", size)
	}
	hi, perYear := bits.Mul64(uint64(size)+RecordOverhead, r.LamportsPerByteYear)
	if hi != 0 {
		return 0, fmt.Errorf("rent: balance overflow for %d bytes", size)
	}
	hi, total := bits.Mul64(perYear, r.ExemptionYears)
	if hi != 0 {
		return 0, fmt.Errorf("rent: balance overflow for %d bytes", size)
	}
	return total, nil
}
