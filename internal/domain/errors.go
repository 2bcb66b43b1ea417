package domain

import "errors"

// Shared infrastructure sentinels. The engines (vault, nft, market) define
// their own operation-level error spaces; these cover storage and plumbing.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("domain: not found")

	// ErrAlreadyExists indicates a uniqueness violation on insert.
	ErrAlreadyExists = errors.New("domain: already exists")

	// ErrInsufficientFunds indicates a balance book debit exceeding the
	// account's balance.
	ErrInsufficientFunds = errors.New("domain: insufficient funds")

	// ErrLockHeld indicates a distributed lock is held by another owner.
	ErrLockHeld = errors.New("domain: lock held")
)
