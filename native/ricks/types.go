package ricks

import (
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// DefaultWindowLength is the auction window duration applied when the caller
// does not override it: one day, matching the original per-day release model.
const DefaultWindowLength int64 = 86_400

// EscrowStatus represents the lifecycle states of a fractionalization escrow.
type EscrowStatus uint8

const (
	// EscrowLocked means the asset is in protocol custody and windows may
	// be scheduled against the escrow.
	EscrowLocked EscrowStatus = iota
	// EscrowClosed means the depositor reclaimed the asset before any
	// auction settled. Terminal.
	EscrowClosed
)

// Valid reports whether the status value is within the supported range.
func (s EscrowStatus) Valid() bool {
	switch s {
	case EscrowLocked, EscrowClosed:
		return true
	default:
		return false
	}
}

// WindowPhase represents the auction state machine phases of a single window.
type WindowPhase uint8

const (
	// WindowOpen accepts bids until the window's closing time.
	WindowOpen WindowPhase = iota
	// WindowClosedUnsettled no longer accepts bids and awaits settlement.
	// The phase is derived from the clock, never persisted: a stored Open
	// window whose closing time has passed reads as ClosedUnsettled.
	WindowClosedUnsettled
	// WindowSettled is terminal.
	WindowSettled
)

// Escrow binds a locked asset to its fraction supply and auction schedule.
// TotalFractions and FractionsPerWindow are immutable after creation;
// OutstandingFractions only ever decreases while the escrow stays locked.
type Escrow struct {
	ID                   [32]byte
	Depositor            [20]byte
	AssetRef             [32]byte
	FractionMint         [32]byte
	TotalFractions       *big.Int
	OutstandingFractions *big.Int
	FractionsPerWindow   *big.Int
	GenesisTime          int64
	WindowLength         int64
	Status               EscrowStatus
}

// EscrowID derives the deterministic identifier for a depositor/asset pair.
func EscrowID(depositor [20]byte, assetRef [32]byte) [32]byte {
	return ethcrypto.Keccak256Hash(depositor[:], assetRef[:])
}

// FractionMintRef derives the fraction token handle minted against an escrow.
func FractionMintRef(id [32]byte) [32]byte {
	return ethcrypto.Keccak256Hash([]byte("ricks/mint/"), id[:])
}

// CustodyAddress derives the protocol custody account holding an escrow's
// undistributed fractions and the bid funds of its live window.
func CustodyAddress(id [32]byte) [20]byte {
	digest := ethcrypto.Keccak256([]byte("ricks/custody/"), id[:])
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr
}

// Clone returns a deep copy so callers can mutate the result without touching
// the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	clone.TotalFractions = cloneBigInt(e.TotalFractions)
	clone.OutstandingFractions = cloneBigInt(e.OutstandingFractions)
	clone.FractionsPerWindow = cloneBigInt(e.FractionsPerWindow)
	return &clone
}

// AuctionWindow is one slot of the escrow's schedule, created lazily when the
// first bid (or a settlement attempt) references its index. Only Phase and the
// highest-bid pair mutate after creation.
type AuctionWindow struct {
	Escrow           [32]byte
	Index            uint64
	OpensAt          int64
	ClosesAt         int64
	FractionsOnOffer *big.Int
	HighestBidder    [20]byte
	HighestBid       *big.Int // nil until the first bid is accepted
	Phase            WindowPhase
}

// HasBid reports whether any bid has been accepted into the window.
func (w *AuctionWindow) HasBid() bool {
	return w != nil && w.HighestBid != nil
}

// PhaseAt resolves the effective phase at the given instant. The closing
// boundary itself belongs to the next window, so now == ClosesAt reads as
// closed.
func (w *AuctionWindow) PhaseAt(now int64) WindowPhase {
	if w.Phase == WindowSettled {
		return WindowSettled
	}
	if now >= w.ClosesAt {
		return WindowClosedUnsettled
	}
	return WindowOpen
}

// Clone returns a deep copy of the window.
func (w *AuctionWindow) Clone() *AuctionWindow {
	if w == nil {
		return nil
	}
	clone := *w
	clone.FractionsOnOffer = cloneBigInt(w.FractionsOnOffer)
	if w.HighestBid != nil {
		clone.HighestBid = new(big.Int).Set(w.HighestBid)
	}
	return &clone
}

// Bid is the live bid of one bidder in one window. Amount only ever increases;
// Custody is the protocol-held balance backing it and never drops below
// Amount while the window is live.
type Bid struct {
	Escrow      [32]byte
	WindowIndex uint64
	Bidder      [20]byte
	Amount      *big.Int
	Custody     *big.Int
}

// Clone returns a deep copy of the bid.
func (b *Bid) Clone() *Bid {
	if b == nil {
		return nil
	}
	clone := *b
	clone.Amount = cloneBigInt(b.Amount)
	clone.Custody = cloneBigInt(b.Custody)
	return &clone
}

// UserPosition shadows the fractions a user has accumulated from settlements
// of one escrow. The external fungible-token ledger stays the source of truth
// for transferability; the position backs auditing and the supply invariant.
type UserPosition struct {
	Escrow    [32]byte
	User      [20]byte
	Fractions *big.Int
}

// Clone returns a deep copy of the position.
func (p *UserPosition) Clone() *UserPosition {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Fractions = cloneBigInt(p.Fractions)
	return &clone
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// SanitizeEscrow validates an escrow record and returns a normalised clone
// with non-nil amount fields. The original value is not mutated.
func SanitizeEscrow(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, ErrInvalidParams
	}
	clone := e.Clone()
	if !clone.Status.Valid() {
		return nil, ErrInvalidParams
	}
	if clone.TotalFractions.Sign() <= 0 {
		return nil, ErrInvalidParams
	}
	if clone.FractionsPerWindow.Sign() <= 0 || clone.FractionsPerWindow.Cmp(clone.TotalFractions) > 0 {
		return nil, ErrInvalidParams
	}
	if clone.OutstandingFractions.Sign() < 0 || clone.OutstandingFractions.Cmp(clone.TotalFractions) > 0 {
		return nil, ErrInvalidParams
	}
	if clone.WindowLength <= 0 || clone.GenesisTime < 0 {
		return nil, ErrInvalidParams
	}
	return clone, nil
}

// SanitizeWindow validates a window record and returns a clone.
func SanitizeWindow(w *AuctionWindow) (*AuctionWindow, error) {
	if w == nil {
		return nil, ErrInvalidParams
	}
	clone := w.Clone()
	if clone.FractionsOnOffer.Sign() <= 0 {
		return nil, ErrInvalidParams
	}
	if clone.ClosesAt <= clone.OpensAt {
		return nil, ErrInvalidParams
	}
	if clone.HighestBid != nil && clone.HighestBid.Sign() <= 0 {
		return nil, ErrInvalidParams
	}
	return clone, nil
}
