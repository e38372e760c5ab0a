// Package ledger provides the reference implementation of the fungible-token
// ledger and value-transfer primitive the ricks engine consumes. Balances,
// fraction mints and asset custody records live in a key-value backend; every
// operation conserves balances and is atomic with respect to the command that
// invoked it.
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"rickchain/native/ricks"
	"rickchain/storage"
)

type Adapter struct {
	mu sync.Mutex
	db storage.Database
}

// NewAdapter binds the adapter to a key-value backend.
func NewAdapter(db storage.Database) *Adapter {
	return &Adapter{db: db}
}

var (
	valuePrefix    = "ledger/value/"
	fractionPrefix = "ledger/fractions/"
	assetPrefix    = "ledger/asset/"
	supplyPrefix   = "ledger/supply/"
)

type storedAsset struct {
	Owner  [20]byte
	Locked bool
}

func valueKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", valuePrefix, addr))
}

func fractionKey(mint [32]byte, addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x/%x", fractionPrefix, mint, addr))
}

func assetKey(ref [32]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", assetPrefix, ref))
}

func supplyKey(mint [32]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", supplyPrefix, mint))
}

func (a *Adapter) getAmount(key []byte) (*big.Int, error) {
	raw, err := a.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	amount := new(big.Int)
	if err := rlp.DecodeBytes(raw, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

func (a *Adapter) putAmount(key []byte, amount *big.Int) error {
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	return a.db.Put(key, encoded)
}

// RegisterAsset records a transferable asset owned by the given account. Used
// at genesis and in tests to seed the ledger; locking an unregistered asset
// fails.
func (a *Adapter) RegisterAsset(owner [20]byte, ref [32]byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	exists, err := a.db.Has(assetKey(ref))
	if err != nil {
		return err
	}
	if exists {
		return ricks.ErrAssetUnavailable
	}
	encoded, err := rlp.EncodeToBytes(&storedAsset{Owner: owner})
	if err != nil {
		return err
	}
	return a.db.Put(assetKey(ref), encoded)
}

// CreditValue adds spendable value to an account. Seeding helper.
func (a *Adapter) CreditValue(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ricks.ErrInvalidParams
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	balance, err := a.getAmount(valueKey(addr))
	if err != nil {
		return err
	}
	return a.putAmount(valueKey(addr), balance.Add(balance, amount))
}

// ValueBalance reports the spendable value of an account.
func (a *Adapter) ValueBalance(addr [20]byte) (*big.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.getAmount(valueKey(addr))
}

// FractionBalance reports the fraction holdings of an account for one mint.
func (a *Adapter) FractionBalance(mint [32]byte, addr [20]byte) (*big.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.getAmount(fractionKey(mint, addr))
}

// Supply reports the total fractions ever minted for one mint.
func (a *Adapter) Supply(mint [32]byte) (*big.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.getAmount(supplyKey(mint))
}

// AssetLocked reports whether the asset is in protocol custody.
func (a *Adapter) AssetLocked(ref [32]byte) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	asset, err := a.getAsset(ref)
	if err != nil {
		return false, err
	}
	return asset.Locked, nil
}

func (a *Adapter) getAsset(ref [32]byte) (*storedAsset, error) {
	raw, err := a.db.Get(assetKey(ref))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, ricks.ErrAssetUnavailable
	}
	if err != nil {
		return nil, err
	}
	asset := new(storedAsset)
	if err := rlp.DecodeBytes(raw, asset); err != nil {
		return nil, err
	}
	return asset, nil
}

func (a *Adapter) putAsset(ref [32]byte, asset *storedAsset) error {
	encoded, err := rlp.EncodeToBytes(asset)
	if err != nil {
		return err
	}
	return a.db.Put(assetKey(ref), encoded)
}

// LockAsset takes exclusive custody of the depositor's asset.
func (a *Adapter) LockAsset(depositor [20]byte, assetRef [32]byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	asset, err := a.getAsset(assetRef)
	if err != nil {
		return err
	}
	if asset.Owner != depositor || asset.Locked {
		return ricks.ErrAssetUnavailable
	}
	asset.Locked = true
	return a.putAsset(assetRef, asset)
}

// ReleaseAsset returns a locked asset to its depositor.
func (a *Adapter) ReleaseAsset(depositor [20]byte, assetRef [32]byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	asset, err := a.getAsset(assetRef)
	if err != nil {
		return err
	}
	if asset.Owner != depositor || !asset.Locked {
		return ricks.ErrAssetUnavailable
	}
	asset.Locked = false
	return a.putAsset(assetRef, asset)
}

// MintFractions issues fractions of the mint into the custody account and
// grows the recorded supply by the same amount.
func (a *Adapter) MintFractions(mintRef [32]byte, toCustody [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ricks.ErrInvalidParams
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	balance, err := a.getAmount(fractionKey(mintRef, toCustody))
	if err != nil {
		return err
	}
	if err := a.putAmount(fractionKey(mintRef, toCustody), balance.Add(balance, amount)); err != nil {
		return err
	}
	supply, err := a.getAmount(supplyKey(mintRef))
	if err != nil {
		return err
	}
	return a.putAmount(supplyKey(mintRef), supply.Add(supply, amount))
}

// CreditFractions moves fractions out of custody to a recipient.
func (a *Adapter) CreditFractions(mintRef [32]byte, fromCustody [20]byte, recipient [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ricks.ErrInvalidParams
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	from, err := a.getAmount(fractionKey(mintRef, fromCustody))
	if err != nil {
		return err
	}
	if from.Cmp(amount) < 0 {
		return ricks.ErrLedgerInsufficient
	}
	if fromCustody == recipient {
		return nil
	}
	to, err := a.getAmount(fractionKey(mintRef, recipient))
	if err != nil {
		return err
	}
	if err := a.putAmount(fractionKey(mintRef, fromCustody), from.Sub(from, amount)); err != nil {
		return err
	}
	return a.putAmount(fractionKey(mintRef, recipient), to.Add(to, amount))
}

// TransferValue moves bid funds between accounts. A self-transfer only checks
// the balance, keeping the uniform settlement path idempotent when the winner
// is also the depositor.
func (a *Adapter) TransferValue(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ricks.ErrInvalidParams
	}
	if amount.Sign() == 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	fromBalance, err := a.getAmount(valueKey(from))
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return ricks.ErrValueInsufficient
	}
	if from == to {
		return nil
	}
	toBalance, err := a.getAmount(valueKey(to))
	if err != nil {
		return err
	}
	if err := a.putAmount(valueKey(from), fromBalance.Sub(fromBalance, amount)); err != nil {
		return err
	}
	return a.putAmount(valueKey(to), toBalance.Add(toBalance, amount))
}
