// Package layout defines the fixed-offset binary layouts of the ledger record
// and the migration between them. Offsets are a wire contract: a field's
// position in a given version never changes, and each adjacent pair of
// versions has exactly one remap function.
package layout

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"reserveledger/core/types"
)

// Version identifies how a raw record buffer must be interpreted.
type Version uint8

const (
	VersionUnknown Version = iota
	// VersionV1 is the original 218 byte layout.
	VersionV1
	// VersionV1Resized is a V1 layout already grown to the V2 size but not yet
	// remapped. Its contents must still be read with V1 offsets.
	VersionV1Resized
	// VersionV2 is the current layout.
	VersionV2
)

func (v Version) String() string {
	switch v {
	case VersionV1:
		return "v1"
	case VersionV1Resized:
		return "v1-resized"
	case VersionV2:
		return "v2"
	default:
		return "unknown"
	}
}

const (
	DiscriminatorSize = 8

	// V1Size is the full length of a V1 record.
	V1Size = 218
	// V2Size is the allocated length of a V2 record. The V2 fields end at
	// V2DataEnd; the remainder is headroom for later layouts.
	V2Size    = 520
	V2DataEnd = 332

	// TagV2 marks a buffer whose fields sit at V2 offsets.
	TagV2 byte = 2
)

var (
	ErrBadDiscriminator = errors.New("layout: record discriminator mismatch")
	ErrRecordTooSmall   = errors.New("layout: record too small for layout")
	ErrUnknownLayout    = errors.New("layout: unrecognised record layout")
	ErrAlreadyRemapped  = errors.New("layout: record already uses the v2 layout")
	ErrLayoutMismatch   = errors.New("layout: record is not in the expected layout")
)

// Discriminator prefixes every ledger record regardless of version.
var Discriminator = func() [DiscriminatorSize]byte {
	var d [DiscriminatorSize]byte
	copy(d[:], ethcrypto.Keccak256([]byte("account:LedgerState")))
	return d
}()

type span struct{ off, size int }

func (s span) end() int { return s.off + s.size }

// The identity slot is shared by every layout. Authority validation reads only
// these bytes, so it works on a buffer of any version.
var authoritySpan = span{8, 32}

// V1 offsets.
var (
	v1TokenMint          = span{40, 32}
	v1Treasury           = span{72, 32}
	v1AttestationRoot    = span{104, 32}
	v1LastRootUpdate     = span{136, 8}
	v1LastProofTimestamp = span{144, 8}
	v1ProvenReserves     = span{152, 8}
	v1TotalSupply        = span{160, 8}
	v1IsPaused           = span{168, 1}
	v1Bump               = span{169, 1}
	v1Price              = span{170, 8}
	v1NativeReceiver     = span{178, 32}
)

// V2 offsets.
var (
	v2Operator              = span{40, 32}
	v2TokenMint             = span{72, 32}
	v2Treasury              = span{104, 32}
	v2TotalSupply           = span{136, 8}
	v2TotalBurned           = span{144, 8}
	v2AttestationRoot       = span{152, 32}
	v2ProvenReserves        = span{184, 8}
	v2LastRootUpdate        = span{192, 8}
	v2LastProofTimestamp    = span{200, 8}
	v2Price                 = span{208, 8}
	v2NativeReceiver        = span{216, 32}
	v2YieldRateBps          = span{248, 2}
	v2TotalYieldDistributed = span{250, 8}
	v2LastYieldDistribution = span{258, 8}
	v2IsPaused              = span{266, 1}
	v2Bump                  = span{267, 1}
	v2Tag                   = span{268, 1}
)

// LedgerState is the decoded singleton ledger record.
type LedgerState struct {
	Authority             types.Address `json:"authority"`
	Operator              types.Address `json:"operator"`
	TokenMint             types.Address `json:"tokenMint"`
	Treasury              types.Address `json:"treasury"`
	TotalSupply           uint64        `json:"totalSupply"`
	TotalBurned           uint64        `json:"totalBurned"`
	AttestationRoot       [32]byte      `json:"attestationRoot"`
	ProvenReserves        uint64        `json:"provenReserves"`
	LastRootUpdate        int64         `json:"lastRootUpdate"`
	LastProofTimestamp    int64         `json:"lastProofTimestamp"`
	PricePerUnit          uint64        `json:"pricePerUnit"`
	NativeReceiver        types.Address `json:"nativeReceiver"`
	YieldRateBps          uint16        `json:"yieldRateBps"`
	TotalYieldDistributed uint64        `json:"totalYieldDistributed"`
	LastYieldDistribution int64         `json:"lastYieldDistribution"`
	IsPaused              bool          `json:"isPaused"`
	Bump                  uint8         `json:"bump"`
}

func hasDiscriminator(data []byte) bool {
	return len(data) >= DiscriminatorSize && bytes.Equal(data[:DiscriminatorSize], Discriminator[:])
}

// Detect classifies a raw record buffer.
func Detect(data []byte) (Version, error) {
	if !hasDiscriminator(data) {
		return VersionUnknown, ErrBadDiscriminator
	}
	switch {
	case len(data) == V1Size:
		return VersionV1, nil
	case len(data) >= V2Size:
		switch data[v2Tag.off] {
		case TagV2:
			return VersionV2, nil
		case 0:
			return VersionV1Resized, nil
		}
	}
	return VersionUnknown, fmt.Errorf("%w: %d bytes", ErrUnknownLayout, len(data))
}

// ReadAuthority extracts the identity slot directly from the raw buffer
// without decoding any other field.
func ReadAuthority(data []byte) (types.Address, error) {
	var addr types.Address
	if len(data) < authoritySpan.end() {
		return addr, ErrRecordTooSmall
	}
	if !hasDiscriminator(data) {
		return addr, ErrBadDiscriminator
	}
	copy(addr[:], data[authoritySpan.off:authoritySpan.end()])
	return addr, nil
}

func getAddr(data []byte, s span) types.Address {
	var addr types.Address
	copy(addr[:], data[s.off:s.end()])
	return addr
}

func putAddr(data []byte, s span, addr types.Address) { copy(data[s.off:s.end()], addr[:]) }

func getU64(data []byte, s span) uint64 { return binary.LittleEndian.Uint64(data[s.off:s.end()]) }

func putU64(data []byte, s span, v uint64) { binary.LittleEndian.PutUint64(data[s.off:s.end()], v) }

func getI64(data []byte, s span) int64 { return int64(getU64(data, s)) }

func putI64(data []byte, s span, v int64) { putU64(data, s, uint64(v)) }

func getBool(data []byte, s span) bool { return data[s.off] != 0 }

func putBool(data []byte, s span, v bool) {
	if v {
		data[s.off] = 1
		return
	}
	data[s.off] = 0
}

// NewRecord allocates a zeroed buffer of size bytes carrying the discriminator.
func NewRecord(size int) []byte {
	data := make([]byte, size)
	copy(data, Discriminator[:])
	return data
}

// EncodeV1 renders the V1 subset of s into a fresh V1 buffer. Fields that do
// not exist in V1 are dropped.
func EncodeV1(s *LedgerState) []byte {
	data := NewRecord(V1Size)
	putAddr(data, authoritySpan, s.Authority)
	putAddr(data, v1TokenMint, s.TokenMint)
	putAddr(data, v1Treasury, s.Treasury)
	copy(data[v1AttestationRoot.off:v1AttestationRoot.end()], s.AttestationRoot[:])
	putI64(data, v1LastRootUpdate, s.LastRootUpdate)
	putI64(data, v1LastProofTimestamp, s.LastProofTimestamp)
	putU64(data, v1ProvenReserves, s.ProvenReserves)
	putU64(data, v1TotalSupply, s.TotalSupply)
	putBool(data, v1IsPaused, s.IsPaused)
	data[v1Bump.off] = s.Bump
	putU64(data, v1Price, s.PricePerUnit)
	putAddr(data, v1NativeReceiver, s.NativeReceiver)
	return data
}

func decodeV1Fields(data []byte) *LedgerState {
	s := &LedgerState{
		Authority:          getAddr(data, authoritySpan),
		TokenMint:          getAddr(data, v1TokenMint),
		Treasury:           getAddr(data, v1Treasury),
		LastRootUpdate:     getI64(data, v1LastRootUpdate),
		LastProofTimestamp: getI64(data, v1LastProofTimestamp),
		ProvenReserves:     getU64(data, v1ProvenReserves),
		TotalSupply:        getU64(data, v1TotalSupply),
		IsPaused:           getBool(data, v1IsPaused),
		Bump:               data[v1Bump.off],
		PricePerUnit:       getU64(data, v1Price),
		NativeReceiver:     getAddr(data, v1NativeReceiver),
	}
	copy(s.AttestationRoot[:], data[v1AttestationRoot.off:v1AttestationRoot.end()])
	return s
}

// DecodeV1 reads a V1 buffer, including one that was resized but not yet
// remapped.
func DecodeV1(data []byte) (*LedgerState, error) {
	version, err := Detect(data)
	if err != nil {
		return nil, err
	}
	if version != VersionV1 && version != VersionV1Resized {
		return nil, fmt.Errorf("%w: want v1, have %s", ErrLayoutMismatch, version)
	}
	return decodeV1Fields(data), nil
}

// EncodeV2 writes every V2 field of s into data at V2 offsets and stamps the
// layout tag. The buffer must already be V2 sized; bytes past V2DataEnd are
// left untouched.
func EncodeV2(data []byte, s *LedgerState) error {
	if len(data) < V2Size {
		return ErrRecordTooSmall
	}
	if !hasDiscriminator(data) {
		return ErrBadDiscriminator
	}
	clear(data[DiscriminatorSize:V2DataEnd])
	putAddr(data, authoritySpan, s.Authority)
	putAddr(data, v2Operator, s.Operator)
	putAddr(data, v2TokenMint, s.TokenMint)
	putAddr(data, v2Treasury, s.Treasury)
	putU64(data, v2TotalSupply, s.TotalSupply)
	putU64(data, v2TotalBurned, s.TotalBurned)
	copy(data[v2AttestationRoot.off:v2AttestationRoot.end()], s.AttestationRoot[:])
	putU64(data, v2ProvenReserves, s.ProvenReserves)
	putI64(data, v2LastRootUpdate, s.LastRootUpdate)
	putI64(data, v2LastProofTimestamp, s.LastProofTimestamp)
	putU64(data, v2Price, s.PricePerUnit)
	putAddr(data, v2NativeReceiver, s.NativeReceiver)
	binary.LittleEndian.PutUint16(data[v2YieldRateBps.off:v2YieldRateBps.end()], s.YieldRateBps)
	putU64(data, v2TotalYieldDistributed, s.TotalYieldDistributed)
	putI64(data, v2LastYieldDistribution, s.LastYieldDistribution)
	putBool(data, v2IsPaused, s.IsPaused)
	data[v2Bump.off] = s.Bump
	data[v2Tag.off] = TagV2
	return nil
}

// DecodeV2 reads a V2 buffer. Any other layout is rejected rather than
// misread.
func DecodeV2(data []byte) (*LedgerState, error) {
	version, err := Detect(data)
	if err != nil {
		return nil, err
	}
	if version != VersionV2 {
		return nil, fmt.Errorf("%w: want v2, have %s", ErrLayoutMismatch, version)
	}
	s := &LedgerState{
		Authority:             getAddr(data, authoritySpan),
		Operator:              getAddr(data, v2Operator),
		TokenMint:             getAddr(data, v2TokenMint),
		Treasury:              getAddr(data, v2Treasury),
		TotalSupply:           getU64(data, v2TotalSupply),
		TotalBurned:           getU64(data, v2TotalBurned),
		ProvenReserves:        getU64(data, v2ProvenReserves),
		LastRootUpdate:        getI64(data, v2LastRootUpdate),
		LastProofTimestamp:    getI64(data, v2LastProofTimestamp),
		PricePerUnit:          getU64(data, v2Price),
		NativeReceiver:        getAddr(data, v2NativeReceiver),
		YieldRateBps:          binary.LittleEndian.Uint16(data[v2YieldRateBps.off:v2YieldRateBps.end()]),
		TotalYieldDistributed: getU64(data, v2TotalYieldDistributed),
		LastYieldDistribution: getI64(data, v2LastYieldDistribution),
		IsPaused:              getBool(data, v2IsPaused),
		Bump:                  data[v2Bump.off],
	}
	copy(s.AttestationRoot[:], data[v2AttestationRoot.off:v2AttestationRoot.end()])
	return s, nil
}

// NewV2Record allocates a V2 buffer holding s.
func NewV2Record(s *LedgerState) ([]byte, error) {
	data := NewRecord(V2Size)
	if err := EncodeV2(data, s); err != nil {
		return nil, err
	}
	return data, nil
}

// Grow returns data extended with zero bytes to size. A buffer that is
// already at least size bytes is returned unchanged.
func Grow(data []byte, size int) []byte {
	if len(data) >= size {
		return data
	}
	grown := make([]byte, size)
	copy(grown, data)
	return grown
}

// RemapV1ToV2 rewrites a resized V1 buffer in place so every field sits at its
// V2 offset. All V1 fields are read into temporaries before the buffer is
// zeroed. The operator slot is seeded with the authority; fields new in V2
// start at zero.
func RemapV1ToV2(data []byte) error {
	if len(data) < V2Size {
		return ErrRecordTooSmall
	}
	version, err := Detect(data)
	if err != nil {
		return err
	}
	switch version {
	case VersionV2:
		return ErrAlreadyRemapped
	case VersionV1Resized:
	default:
		return fmt.Errorf("%w: cannot remap %s", ErrLayoutMismatch, version)
	}

	authority := getAddr(data, authoritySpan)
	tokenMint := getAddr(data, v1TokenMint)
	treasury := getAddr(data, v1Treasury)
	var root [32]byte
	copy(root[:], data[v1AttestationRoot.off:v1AttestationRoot.end()])
	lastRootUpdate := getI64(data, v1LastRootUpdate)
	lastProof := getI64(data, v1LastProofTimestamp)
	reserves := getU64(data, v1ProvenReserves)
	supply := getU64(data, v1TotalSupply)
	paused := getBool(data, v1IsPaused)
	bump := data[v1Bump.off]
	price := getU64(data, v1Price)
	receiver := getAddr(data, v1NativeReceiver)

	clear(data[DiscriminatorSize:])

	putAddr(data, authoritySpan, authority)
	putAddr(data, v2Operator, authority)
	putAddr(data, v2TokenMint, tokenMint)
	putAddr(data, v2Treasury, treasury)
	putU64(data, v2TotalSupply, supply)
	copy(data[v2AttestationRoot.off:v2AttestationRoot.end()], root[:])
	putU64(data, v2ProvenReserves, reserves)
	putI64(data, v2LastRootUpdate, lastRootUpdate)
	putI64(data, v2LastProofTimestamp, lastProof)
	putU64(data, v2Price, price)
	putAddr(data, v2NativeReceiver, receiver)
	putBool(data, v2IsPaused, paused)
	data[v2Bump.off] = bump
	data[v2Tag.off] = TagV2
	return nil
}
