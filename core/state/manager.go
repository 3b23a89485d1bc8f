package state

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"reserveledger/storage"
)

// ErrRecordExists is returned by KVCreate when the key is already populated.
var ErrRecordExists = errors.New("state: record already exists")

// Manager provides typed reads and writes against a single storage
// transaction. Every mutation performed through a manager becomes visible
// together when the transaction commits, or not at all.
type Manager struct {
	tx *storage.Tx
}

// NewManager creates a state manager operating on the provided transaction.
func NewManager(tx *storage.Tx) *Manager {
	return &Manager{tx: tx}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// ConflictOn reports whether err is a commit conflict that invalidated the
// read of key.
func ConflictOn(err error, key []byte) bool {
	var conflict *storage.ConflictError
	if !errors.As(err, &conflict) {
		return false
	}
	return conflict.Touches(kvKey(key))
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is automatically hashed with keccak256.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if m == nil || m.tx == nil {
		return fmt.Errorf("state: manager unavailable")
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.tx.Put(kvKey(key), encoded)
}

// KVCreate behaves like KVPut but refuses to overwrite an existing record.
func (m *Manager) KVCreate(key []byte, value interface{}) error {
	if m == nil || m.tx == nil {
		return fmt.Errorf("state: manager unavailable")
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	if err := m.tx.Create(kvKey(key), encoded); err != nil {
		if errors.Is(err, storage.ErrKeyExists) {
			return ErrRecordExists
		}
		return err
	}
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if m == nil || m.tx == nil {
		return false, fmt.Errorf("state: manager unavailable")
	}
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, ok, err := m.tx.Get(kvKey(key))
	if err != nil {
		return false, err
	}
	if !ok || len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the record stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if m == nil || m.tx == nil {
		return fmt.Errorf("state: manager unavailable")
	}
	return m.tx.Delete(kvKey(key))
}

// Record returns the raw bytes stored under key without decoding them. Binary
// layouts that must be inspected field by field are read through here.
func (m *Manager) Record(key []byte) ([]byte, bool, error) {
	if m == nil || m.tx == nil {
		return nil, false, fmt.Errorf("state: manager unavailable")
	}
	return m.tx.Get(kvKey(key))
}

// PutRecord stores raw bytes under key.
func (m *Manager) PutRecord(key, data []byte) error {
	if m == nil || m.tx == nil {
		return fmt.Errorf("state: manager unavailable")
	}
	return m.tx.Put(kvKey(key), data)
}
