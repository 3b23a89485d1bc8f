package types

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseAddressRoundTrip(t *testing.T) {
	addr := DeriveIdentity([]byte("ledger_state"))
	parsed, err := ParseAddress(addr.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != addr {
		t.Fatalf("round trip mismatch: %s != %s", parsed, addr)
	}
	bare, err := ParseAddress(strings.TrimPrefix(addr.String(), "0x"))
	if err != nil || bare != addr {
		t.Fatalf("bare hex: %v", err)
	}
}

func TestParseAddressRejectsShortInput(t *testing.T) {
	if _, err := ParseAddress("0x1234"); err == nil {
		t.Fatalf("expected error for short address")
	}
	if _, err := ParseAddress(strings.Repeat("zz", AddressLength)); err == nil {
		t.Fatalf("expected error for non-hex address")
	}
}

func TestDeriveIdentityIsDeterministicAndSeparated(t *testing.T) {
	a := DeriveIdentity([]byte("ab"), []byte("c"))
	b := DeriveIdentity([]byte("a"), []byte("bc"))
	if a == b {
		t.Fatalf("length prefixing should separate seed boundaries")
	}
	if DeriveIdentity([]byte("ab"), []byte("c")) != a {
		t.Fatalf("derivation not deterministic")
	}
	if a.IsZero() {
		t.Fatalf("derived identity should not be zero")
	}
}

func TestAddressJSON(t *testing.T) {
	addr := BytesToAddress([]byte{0xAA, 0xBB})
	encoded, err := json.Marshal(map[string]Address{"a": addr})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]Address
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["a"] != addr {
		t.Fatalf("unexpected decoded address %s", decoded["a"])
	}
	if addr[AddressLength-1] != 0xBB || addr[AddressLength-2] != 0xAA {
		t.Fatalf("BytesToAddress should left-pad: %s", addr)
	}
}
