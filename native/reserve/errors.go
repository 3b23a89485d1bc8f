package reserve

import (
	"errors"
	"fmt"
)

// Kind groups rejections by the class of precondition that failed.
type Kind uint8

const (
	KindAuthorization Kind = iota + 1
	KindInvariant
	KindStaleness
	KindArithmetic
	KindResource
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindInvariant:
		return "invariant"
	case KindStaleness:
		return "staleness"
	case KindArithmetic:
		return "arithmetic"
	case KindResource:
		return "resource"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Error is a rejected precondition with a stable numeric code. Codes are part
// of the public surface and never reused.
type Error struct {
	Code uint32
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return "reserve: " + e.Msg }

func newError(code uint32, kind Kind, msg string) *Error {
	return &Error{Code: code, Kind: kind, Msg: msg}
}

var (
	ErrProtocolPaused          = newError(6000, KindInvariant, "protocol is paused")
	ErrStaleProof              = newError(6001, KindStaleness, "reserve proof is stale")
	ErrMathOverflow            = newError(6002, KindArithmetic, "math overflow")
	ErrInsufficientReserves    = newError(6003, KindInvariant, "cannot mint more tokens than proven reserves")
	ErrInvalidPrice            = newError(6004, KindInvariant, "invalid price")
	ErrPriceChangeExceedsLimit = newError(6005, KindInvariant, "price change exceeds limit")
	ErrUnauthorized            = newError(6006, KindAuthorization, "unauthorized")
	ErrReserveCountMismatch    = newError(6007, KindInvariant, "reserve count does not match attestation")
	ErrPriceNotSet             = newError(6008, KindInvariant, "price not set")
	ErrInvalidRedemptionStatus = newError(6009, KindInvariant, "invalid redemption status for this operation")
	ErrExceedsTransactionCap   = newError(6010, KindInvariant, "purchase exceeds per-transaction cap")
	ErrRedemptionExists        = newError(6011, KindInvariant, "redemption request already exists")
	ErrRedemptionNotFound      = newError(6012, KindInvariant, "redemption request not found")
	ErrProfileExists           = newError(6013, KindInvariant, "user profile already exists")
	ErrProfileNotFound         = newError(6014, KindInvariant, "user profile not found")
	ErrInsufficientRentBalance = newError(6015, KindResource, "insufficient balance to back record size")
	ErrRecordTooSmall          = newError(6016, KindInvariant, "ledger record has not been resized")
	ErrAlreadyMigrated         = newError(6017, KindInvariant, "ledger record already migrated")
	ErrLayoutMismatch          = newError(6018, KindInvariant, "ledger record layout is not current")
	ErrNotInitialized          = newError(6019, KindInvariant, "ledger not initialized")
	ErrAlreadyInitialized      = newError(6020, KindInvariant, "ledger already initialized")
)

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) (uint32, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
