package reserve

import (
	"encoding/binary"
	"errors"
	"fmt"

	"reserveledger/core/state"
	"reserveledger/core/state/layout"
	"reserveledger/core/types"
)

var (
	ledgerKey        = []byte("reserve/ledger")
	profilePrefix    = []byte("reserve/profile/")
	redemptionPrefix = []byte("reserve/redemption/")
)

func profileKey(owner types.Address) []byte {
	key := make([]byte, 0, len(profilePrefix)+types.AddressLength)
	key = append(key, profilePrefix...)
	return append(key, owner[:]...)
}

func redemptionKey(requester types.Address, id uint64) []byte {
	key := make([]byte, 0, len(redemptionPrefix)+types.AddressLength+8)
	key = append(key, redemptionPrefix...)
	key = append(key, requester[:]...)
	return binary.BigEndian.AppendUint64(key, id)
}

// rawLedger returns the ledger record bytes in whatever layout they are in.
func rawLedger(st *state.Manager) ([]byte, error) {
	data, ok, err := st.Record(ledgerKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	return data, nil
}

// loadLedger decodes the ledger record. Only the current layout is accepted;
// a record awaiting migration is rejected rather than read at wrong offsets.
func loadLedger(st *state.Manager) (*layout.LedgerState, error) {
	data, err := rawLedger(st)
	if err != nil {
		return nil, err
	}
	s, err := layout.DecodeV2(data)
	if err != nil {
		if errors.Is(err, layout.ErrLayoutMismatch) {
			return nil, fmt.Errorf("%w: %v", ErrLayoutMismatch, err)
		}
		return nil, err
	}
	return s, nil
}

func storeLedger(st *state.Manager, s *layout.LedgerState) error {
	data, err := rawLedger(st)
	if err != nil {
		return err
	}
	if err := layout.EncodeV2(data, s); err != nil {
		return err
	}
	return st.PutRecord(ledgerKey, data)
}

func loadProfile(st *state.Manager, owner types.Address) (*UserProfile, bool, error) {
	profile := new(UserProfile)
	ok, err := st.KVGet(profileKey(owner), profile)
	if err != nil || !ok {
		return nil, false, err
	}
	return profile, true, nil
}

func storeProfile(st *state.Manager, profile *UserProfile) error {
	return st.KVPut(profileKey(profile.Owner), profile)
}

func loadRedemption(st *state.Manager, requester types.Address, id uint64) (*RedemptionRequest, error) {
	req := new(RedemptionRequest)
	ok, err := st.KVGet(redemptionKey(requester, id), req)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRedemptionNotFound
	}
	return req, nil
}

func storeRedemption(st *state.Manager, req *RedemptionRequest) error {
	return st.KVPut(redemptionKey(req.Requester, req.RequestID), req)
}

func createRedemption(st *state.Manager, req *RedemptionRequest) error {
	if err := st.KVCreate(redemptionKey(req.Requester, req.RequestID), req); err != nil {
		if errors.Is(err, state.ErrRecordExists) {
			return ErrRedemptionExists
		}
		return err
	}
	return nil
}
