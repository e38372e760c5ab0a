package ricks

import "errors"

var (
	// Input.
	ErrInvalidParams = errors.New("ricks: invalid parameters")

	// Authorization.
	ErrNotDepositor = errors.New("ricks: caller is not the depositor")
	ErrNotBidder    = errors.New("ricks: caller holds no bid")

	// State.
	ErrEscrowNotFound   = errors.New("ricks: escrow not found")
	ErrEscrowExists     = errors.New("ricks: escrow already exists")
	ErrEscrowClosed     = errors.New("ricks: escrow closed")
	ErrWindowNotFound   = errors.New("ricks: auction window not found")
	ErrWindowNotOpen    = errors.New("ricks: auction window not open")
	ErrWindowNotClosed  = errors.New("ricks: auction window not closed")
	ErrAlreadySettled   = errors.New("ricks: auction window already settled")
	ErrNotSettled       = errors.New("ricks: auction window not settled")
	ErrExhausted        = errors.New("ricks: fraction supply exhausted")
	ErrPositionExists   = errors.New("ricks: user position already exists")
	ErrPositionNotFound = errors.New("ricks: user position not found")

	// Economics. ErrNoBidsToSettle is informational: the window is still
	// marked settled when it is returned.
	ErrBidTooLow      = errors.New("ricks: bid does not exceed current highest")
	ErrNoBidsToSettle = errors.New("ricks: no bids to settle")

	// External.
	ErrLedgerInsufficient = errors.New("ricks: fraction custody insufficient")
	ErrValueInsufficient  = errors.New("ricks: value balance insufficient")
	ErrAssetUnavailable   = errors.New("ricks: asset unavailable for custody")
	ErrClockSkew          = errors.New("ricks: timestamp precedes escrow genesis")

	// Concurrency. Timeouts and version conflicts are safe to retry after a
	// re-read; an invariant violation is a caller bug and is not.
	ErrTimeout            = errors.New("ricks: escrow serialization timeout")
	ErrVersionConflict    = errors.New("ricks: conflicting concurrent write")
	ErrInvariantViolation = errors.New("ricks: store invariant violated")
)
