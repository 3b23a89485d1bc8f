package reserve

import (
	"reserveledger/core/state/layout"
	"reserveledger/core/types"
)

// Capability checks are evaluated on every call against the freshly loaded
// record and run before any mutation.

func isAuthority(s *layout.LedgerState, caller types.Address) bool {
	return !caller.IsZero() && caller == s.Authority
}

// isOperator holds for the operator and for the authority, which always keeps
// operator powers.
func isOperator(s *layout.LedgerState, caller types.Address) bool {
	if caller.IsZero() {
		return false
	}
	return caller == s.Operator || caller == s.Authority
}

func isRequester(req *RedemptionRequest, caller types.Address) bool {
	return !caller.IsZero() && caller == req.Requester
}

func requireAuthority(s *layout.LedgerState, caller types.Address) error {
	if !isAuthority(s, caller) {
		return ErrUnauthorized
	}
	return nil
}

func requireOperator(s *layout.LedgerState, caller types.Address) error {
	if !isOperator(s, caller) {
		return ErrUnauthorized
	}
	return nil
}

// requireRawAuthority validates the caller against the identity slot of a raw
// record of any layout.
func requireRawAuthority(data []byte, caller types.Address) error {
	authority, err := layout.ReadAuthority(data)
	if err != nil {
		return ErrUnauthorized
	}
	if caller.IsZero() || authority != caller {
		return ErrUnauthorized
	}
	return nil
}
