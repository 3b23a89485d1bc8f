package types

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// AddressLength is the size of an identity slot in persisted records.
const AddressLength = 32

// Address identifies an actor or account on the ledger.
type Address [AddressLength]byte

// ParseAddress decodes a 0x-prefixed or bare hex string.
func ParseAddress(s string) (Address, error) {
	var addr Address
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		trimmed = trimmed[2:]
	}
	if len(trimmed) != AddressLength*2 {
		return addr, fmt.Errorf("address must be %d bytes (got %d hex chars)", AddressLength, len(trimmed))
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("decode address: %w", err)
	}
	copy(addr[:], decoded)
	return addr, nil
}

// BytesToAddress copies b into an address, left-padding short input.
func BytesToAddress(b []byte) Address {
	var addr Address
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(addr[AddressLength-len(b):], b)
	return addr
}

func (a Address) String() string { return "0x" + hex.EncodeToString(a[:]) }

func (a Address) Bytes() []byte { return append([]byte(nil), a[:]...) }

func (a Address) IsZero() bool { return a == Address{} }

// MarshalText renders the address as 0x-hex for JSON payloads.
func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText parses a 0x-hex address.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// DeriveIdentity computes a deterministic address from seed material. Seeds
// are length-prefixed so ("ab","c") and ("a","bc") never collide.
func DeriveIdentity(seeds ...[]byte) Address {
	buf := make([]byte, 0, 64)
	var lenBuf [4]byte
	for _, seed := range seeds {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(seed)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, seed...)
	}
	return BytesToAddress(ethcrypto.Keccak256(buf))
}
