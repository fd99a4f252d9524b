package ledger

import "errors"

var (
	// ErrValidation indicates a payload was rejected before any write.
	ErrValidation = errors.New("ledger: validation failed")
	// ErrInvalidAmount indicates an amount that is not strictly positive.
	ErrInvalidAmount = errors.New("ledger: amount must be greater than zero")
	// ErrEmptyDescription indicates a blank required description.
	ErrEmptyDescription = errors.New("ledger: description required")
	// ErrSamePartner indicates a transfer whose source and destination match.
	ErrSamePartner = errors.New("ledger: source and destination partner are the same")
	// ErrNotFound indicates a referenced row is missing from the period store.
	ErrNotFound = errors.New("ledger: not found")
	// ErrDuplicate indicates a row with the same id already exists.
	ErrDuplicate = errors.New("ledger: duplicate id")
	// ErrInconsistent indicates a paired row is missing its counterpart.
	ErrInconsistent = errors.New("ledger: inconsistent paired records")
	// ErrConflictRetryExceeded indicates a write conflict survived the automatic retry.
	ErrConflictRetryExceeded = errors.New("ledger: conflict retry exceeded")
	// ErrStoreClosed indicates use of a store handle after Close.
	ErrStoreClosed = errors.New("ledger: store closed")
)

// IsValidation reports whether err belongs to the validation class.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrEmptyDescription) ||
		errors.Is(err, ErrSamePartner)
}
