package ricks

import "math/big"

// Ledger abstracts the external fungible-token ledger and value-transfer
// primitive. Every call is atomic with respect to the command invoking it and
// implementations must conserve balances. The engine sequences ledger calls
// after all decisions and before its own store commit, so a failing call
// aborts a command with no state written.
//
// Implementations report failures through the package sentinels:
// ErrAssetUnavailable, ErrLedgerInsufficient and ErrValueInsufficient.
type Ledger interface {
	// LockAsset takes exclusive custody of the depositor's asset.
	LockAsset(depositor [20]byte, assetRef [32]byte) error
	// ReleaseAsset returns a locked asset to its depositor.
	ReleaseAsset(depositor [20]byte, assetRef [32]byte) error
	// MintFractions issues amount fractions of the mint into custody.
	MintFractions(mintRef [32]byte, toCustody [20]byte, amount *big.Int) error
	// CreditFractions moves fractions out of custody to a recipient.
	CreditFractions(mintRef [32]byte, fromCustody [20]byte, recipient [20]byte, amount *big.Int) error
	// TransferValue moves bid funds. A self-transfer must be a no-op
	// beyond the balance check, so the uniform settlement path works when
	// the winner is also the depositor.
	TransferValue(from, to [20]byte, amount *big.Int) error
}
