package ricks

import (
	"fmt"
	"math/big"

	"rickchain/core/events"
)

// Engine wires the fractionalization business logic with the persistent store
// and the external ledger adapter. All operations take the caller-observed
// timestamp explicitly; the engine never reads a wall clock, which keeps the
// schedule a pure function of its inputs.
//
// Ledger calls are always the last fallible step before the store commit. A
// ledger failure therefore aborts the command with no store mutation, and a
// store read never observes half-applied value movement.
type Engine struct {
	store   *Store
	ledger  Ledger
	emitter events.Emitter
}

// NewEngine creates an engine with a no-op event emitter.
func NewEngine(store *Store, ledger Ledger) *Engine {
	return &Engine{store: store, ledger: ledger, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}

// SettlementReceipt summarises the outcome of a Settle command.
type SettlementReceipt struct {
	Escrow      [32]byte
	Window      uint64
	HasWinner   bool
	Winner      [20]byte
	Amount      *big.Int
	Fractions   *big.Int
	Refund      *big.Int
	Outstanding *big.Int
}

// InitializeEscrow locks the asset, mints the full fraction supply into
// protocol custody and persists the escrow record. genesisTime == 0 anchors
// the schedule at now; a future genesis acts as a warm-up period.
func (e *Engine) InitializeEscrow(depositor [20]byte, assetRef [32]byte, total, perWindow *big.Int, windowLength, genesisTime, now int64) (*Escrow, error) {
	if genesisTime == 0 {
		genesisTime = now
	}
	esc := &Escrow{
		ID:                   EscrowID(depositor, assetRef),
		Depositor:            depositor,
		AssetRef:             assetRef,
		TotalFractions:       total,
		OutstandingFractions: total,
		FractionsPerWindow:   perWindow,
		GenesisTime:          genesisTime,
		WindowLength:         windowLength,
		Status:               EscrowLocked,
	}
	esc.FractionMint = FractionMintRef(esc.ID)
	sanitized, err := SanitizeEscrow(esc)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.GetEscrow(sanitized.ID); err == nil {
		return nil, ErrEscrowExists
	} else if err != ErrEscrowNotFound {
		return nil, err
	}
	if err := e.ledger.LockAsset(depositor, assetRef); err != nil {
		return nil, err
	}
	if err := e.ledger.MintFractions(sanitized.FractionMint, CustodyAddress(sanitized.ID), sanitized.TotalFractions); err != nil {
		return nil, err
	}
	if err := e.store.CreateEscrow(sanitized); err != nil {
		return nil, err
	}
	e.emit(newEscrowLockedEvent(sanitized))
	return sanitized.Clone(), nil
}

// InitializeUserPosition records a zero-balance position binding a user to an
// escrow.
func (e *Engine) InitializeUserPosition(user [20]byte, escrowID [32]byte) (*UserPosition, error) {
	esc, err := e.store.GetEscrow(escrowID)
	if err != nil {
		return nil, err
	}
	if esc.Status == EscrowClosed {
		return nil, ErrEscrowClosed
	}
	pos := &UserPosition{Escrow: escrowID, User: user, Fractions: big.NewInt(0)}
	if err := e.store.CreatePosition(pos); err != nil {
		return nil, err
	}
	e.emit(newPositionOpenedEvent(pos))
	return pos.Clone(), nil
}

// PlaceBid accepts a strictly increasing first-price bid into the current
// window, opening the window lazily on its first bid. The caller-chosen
// margin is custodied on top of the amount so later raises can avoid a second
// value transfer; custody already held from an earlier bid in the same window
// is retained and topped up, never returned while the window is live.
func (e *Engine) PlaceBid(bidder [20]byte, escrowID [32]byte, amount, margin *big.Int, now int64) (*AuctionWindow, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidParams
	}
	if margin == nil {
		margin = big.NewInt(0)
	}
	if margin.Sign() < 0 {
		return nil, ErrInvalidParams
	}
	esc, err := e.store.GetEscrow(escrowID)
	if err != nil {
		return nil, err
	}
	if esc.Status == EscrowClosed {
		return nil, ErrEscrowClosed
	}
	index, err := WindowIndex(esc.GenesisTime, esc.WindowLength, now)
	if err != nil {
		return nil, err
	}
	window, err := e.store.GetWindow(escrowID, index)
	opened := false
	switch err {
	case nil:
	case ErrWindowNotFound:
		if esc.OutstandingFractions.Cmp(esc.FractionsPerWindow) < 0 {
			return nil, ErrExhausted
		}
		// A new window may not open while an earlier one is still
		// unsettled; rejected before any value moves.
		latest, live, ok, headErr := e.store.Head(escrowID)
		if headErr != nil {
			return nil, headErr
		}
		if ok && (live || index <= latest) {
			return nil, ErrWindowNotOpen
		}
		window, err = e.newWindow(esc, index)
		if err != nil {
			return nil, err
		}
		opened = true
	default:
		return nil, err
	}
	if window.PhaseAt(now) != WindowOpen {
		return nil, ErrWindowNotOpen
	}
	if window.HasBid() && amount.Cmp(window.HighestBid) <= 0 {
		return nil, ErrBidTooLow
	}

	priorCustody := big.NewInt(0)
	if prior, err := e.store.GetBid(escrowID, index, bidder); err == nil {
		priorCustody = prior.Custody
	} else if err != ErrNotBidder {
		return nil, err
	}
	target := new(big.Int).Add(amount, margin)
	if target.Cmp(priorCustody) < 0 {
		target = priorCustody
	}
	delta := new(big.Int).Sub(target, priorCustody)
	if delta.Sign() > 0 {
		if err := e.ledger.TransferValue(bidder, CustodyAddress(escrowID), delta); err != nil {
			return nil, err
		}
	}

	window.HighestBidder = bidder
	window.HighestBid = new(big.Int).Set(amount)
	if opened {
		if err := e.store.OpenWindow(window); err != nil {
			return nil, err
		}
	} else if err := e.store.PutWindow(window); err != nil {
		return nil, err
	}
	bid := &Bid{Escrow: escrowID, WindowIndex: index, Bidder: bidder, Amount: amount, Custody: target}
	if err := e.store.PutBid(bid); err != nil {
		return nil, err
	}
	e.emit(newBidAcceptedEvent(window, bid))
	return window.Clone(), nil
}

// Settle finalises a closed window. Anyone may call it. With a winner the
// highest bid moves to the depositor, the offered fractions move to the
// winner and the outstanding supply shrinks; without one the window merely
// lapses and ErrNoBidsToSettle reports that nothing was sold (the lapse is
// still recorded).
func (e *Engine) Settle(escrowID [32]byte, index uint64, now int64) (*SettlementReceipt, error) {
	esc, err := e.store.GetEscrow(escrowID)
	if err != nil {
		return nil, err
	}
	if esc.Status == EscrowClosed {
		return nil, ErrEscrowClosed
	}
	closesAt, err := WindowClosesAt(esc.GenesisTime, esc.WindowLength, index)
	if err != nil {
		return nil, err
	}
	if now < closesAt {
		return nil, ErrWindowNotClosed
	}
	window, err := e.store.GetWindow(escrowID, index)
	switch err {
	case nil:
		if window.Phase == WindowSettled {
			return nil, ErrAlreadySettled
		}
	case ErrWindowNotFound:
		// No bid ever touched the window, so no record exists yet. The
		// lapse is materialised so a repeat settle reports
		// ErrAlreadySettled.
		window, err = e.newWindow(esc, index)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	receipt := &SettlementReceipt{Escrow: escrowID, Window: index}
	if !window.HasBid() {
		window.Phase = WindowSettled
		if err := e.store.SettleWindow(esc, window); err != nil {
			return nil, err
		}
		e.emit(newWindowLapsedEvent(window))
		receipt.Outstanding = cloneBigInt(esc.OutstandingFractions)
		return receipt, ErrNoBidsToSettle
	}

	winning, err := e.store.GetBid(escrowID, index, window.HighestBidder)
	if err != nil {
		return nil, err
	}
	custody := CustodyAddress(escrowID)
	refund := new(big.Int).Sub(winning.Custody, winning.Amount)
	if err := e.ledger.TransferValue(custody, esc.Depositor, winning.Amount); err != nil {
		return nil, err
	}
	if err := e.ledger.CreditFractions(esc.FractionMint, custody, window.HighestBidder, window.FractionsOnOffer); err != nil {
		return nil, err
	}
	if refund.Sign() > 0 {
		if err := e.ledger.TransferValue(custody, window.HighestBidder, refund); err != nil {
			return nil, err
		}
	}

	position := &UserPosition{Escrow: escrowID, User: window.HighestBidder, Fractions: big.NewInt(0)}
	if existing, err := e.store.GetPosition(escrowID, window.HighestBidder); err == nil {
		position = existing
	} else if err != ErrPositionNotFound {
		return nil, err
	}
	position.Fractions = new(big.Int).Add(position.Fractions, window.FractionsOnOffer)
	if err := e.store.UpsertPosition(position); err != nil {
		return nil, err
	}
	esc.OutstandingFractions = new(big.Int).Sub(esc.OutstandingFractions, window.FractionsOnOffer)
	window.Phase = WindowSettled
	if err := e.store.SettleWindow(esc, window); err != nil {
		return nil, err
	}
	if err := e.store.DeleteBid(escrowID, index, window.HighestBidder); err != nil {
		return nil, err
	}
	e.emit(newWindowSettledEvent(window))

	receipt.HasWinner = true
	receipt.Winner = window.HighestBidder
	receipt.Amount = new(big.Int).Set(winning.Amount)
	receipt.Fractions = new(big.Int).Set(window.FractionsOnOffer)
	receipt.Refund = refund
	receipt.Outstanding = new(big.Int).Set(esc.OutstandingFractions)
	return receipt, nil
}

// ReclaimBid returns a losing bidder's full custodied balance once the window
// has settled and destroys the bid record.
func (e *Engine) ReclaimBid(bidder [20]byte, escrowID [32]byte, index uint64) (*big.Int, error) {
	window, err := e.store.GetWindow(escrowID, index)
	if err != nil {
		return nil, err
	}
	if window.Phase != WindowSettled {
		return nil, ErrNotSettled
	}
	bid, err := e.store.GetBid(escrowID, index, bidder)
	if err != nil {
		return nil, err
	}
	if err := e.ledger.TransferValue(CustodyAddress(escrowID), bidder, bid.Custody); err != nil {
		return nil, err
	}
	if err := e.store.DeleteBid(escrowID, index, bidder); err != nil {
		return nil, err
	}
	e.emit(newBidReclaimedEvent(bid))
	return cloneBigInt(bid.Custody), nil
}

// CloseEscrow lets the depositor unwind an escrow that never sold a fraction:
// the full supply returns from protocol custody together with the asset. A
// still-live auction window blocks the close.
func (e *Engine) CloseEscrow(caller [20]byte, escrowID [32]byte) (*Escrow, error) {
	esc, err := e.store.GetEscrow(escrowID)
	if err != nil {
		return nil, err
	}
	if esc.Status == EscrowClosed {
		return nil, ErrEscrowClosed
	}
	if caller != esc.Depositor {
		return nil, ErrNotDepositor
	}
	if esc.OutstandingFractions.Cmp(esc.TotalFractions) != 0 {
		return nil, fmt.Errorf("%w: fractions already distributed", ErrInvalidParams)
	}
	if _, live, ok, err := e.store.Head(escrowID); err != nil {
		return nil, err
	} else if ok && live {
		return nil, ErrWindowNotClosed
	}
	custody := CustodyAddress(escrowID)
	if err := e.ledger.CreditFractions(esc.FractionMint, custody, esc.Depositor, esc.TotalFractions); err != nil {
		return nil, err
	}
	if err := e.ledger.ReleaseAsset(esc.Depositor, esc.AssetRef); err != nil {
		return nil, err
	}
	esc.Status = EscrowClosed
	if err := e.store.PutEscrow(esc); err != nil {
		return nil, err
	}
	e.emit(newEscrowClosedEvent(esc))
	return esc.Clone(), nil
}

func (e *Engine) newWindow(esc *Escrow, index uint64) (*AuctionWindow, error) {
	opensAt, err := WindowOpensAt(esc.GenesisTime, esc.WindowLength, index)
	if err != nil {
		return nil, err
	}
	closesAt, err := WindowClosesAt(esc.GenesisTime, esc.WindowLength, index)
	if err != nil {
		return nil, err
	}
	return &AuctionWindow{
		Escrow:           esc.ID,
		Index:            index,
		OpensAt:          opensAt,
		ClosesAt:         closesAt,
		FractionsOnOffer: new(big.Int).Set(esc.FractionsPerWindow),
		Phase:            WindowOpen,
	}, nil
}
