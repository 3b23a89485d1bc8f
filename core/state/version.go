package state

import (
	"errors"
	"fmt"
	"math"

	"reserveledger/storage"
)

// StateVersion identifies the expected schema of the key-value records
// (profiles, redemption requests, audit entries). The ledger record carries
// its own layout version in its binary form and is not covered here.
const StateVersion uint32 = 1

var (
	stateVersionKey = []byte("state/version")
	// ErrStateVersionMismatch indicates the stored schema version does not
	// match the version supported by the current binary.
	ErrStateVersionMismatch = errors.New("state: schema version mismatch")
)

// SetStateVersion records the provided schema version in state.
func (m *Manager) SetStateVersion(version uint32) error {
	if m == nil {
		return fmt.Errorf("state: manager unavailable")
	}
	return m.KVPut(stateVersionKey, uint64(version))
}

// StateVersion returns the stored schema version and a boolean indicating
// whether the value was present.
func (m *Manager) StateVersion() (uint32, bool, error) {
	if m == nil {
		return 0, false, fmt.Errorf("state: manager unavailable")
	}
	var stored uint64
	ok, err := m.KVGet(stateVersionKey, &stored)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, nil
	}
	if stored > uint64(math.MaxUint32) {
		return 0, false, fmt.Errorf("state: schema version overflow: %d", stored)
	}
	return uint32(stored), true, nil
}

// EnsureStateVersion verifies that the stored schema version matches this
// binary. An empty store is stamped with the current version.
func EnsureStateVersion(store *storage.Store) error {
	if store == nil {
		return fmt.Errorf("state: store must not be nil")
	}
	tx := store.Begin()
	defer tx.Discard()
	manager := NewManager(tx)
	version, ok, err := manager.StateVersion()
	if err != nil {
		return err
	}
	if !ok {
		if err := manager.SetStateVersion(StateVersion); err != nil {
			return err
		}
		return tx.Commit()
	}
	if version != StateVersion {
		return fmt.Errorf("%w: on-disk=%d expected=%d", ErrStateVersionMismatch, version, StateVersion)
	}
	return nil
}
