package ricks

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"rickchain/observability/metrics"
)

// Clock supplies the timestamp a command observes. The dispatcher samples it
// exactly once per command, so the schedule stays monotonic within a single
// invocation regardless of the underlying source.
type Clock interface {
	Now() int64
}

// SystemClock reads the operating system clock.
type SystemClock struct{}

// Now implements the Clock interface.
func (SystemClock) Now() int64 { return time.Now().Unix() }

// Dispatcher validates commands and linearizes every command touching the
// same escrow. Commands for different escrows run in parallel. A command that
// cannot acquire its escrow's serialization before the context deadline
// returns ErrTimeout, which is safe to retry.
type Dispatcher struct {
	engine *Engine
	clock  Clock
	logger *slog.Logger

	mu    sync.Mutex
	locks map[[32]byte]chan struct{}
}

// NewDispatcher wraps an engine. A nil clock defaults to the system clock.
func NewDispatcher(engine *Engine, clock Clock) *Dispatcher {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Dispatcher{
		engine: engine,
		clock:  clock,
		logger: slog.Default(),
		locks:  make(map[[32]byte]chan struct{}),
	}
}

// SetLogger overrides the structured logger used for command outcomes.
func (d *Dispatcher) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	d.logger = logger
}

func (d *Dispatcher) lockFor(id [32]byte) chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.locks[id]
	if !ok {
		l = make(chan struct{}, 1)
		d.locks[id] = l
	}
	return l
}

func (d *Dispatcher) acquire(ctx context.Context, id [32]byte) (func(), error) {
	l := d.lockFor(id)
	select {
	case l <- struct{}{}:
		return func() { <-l }, nil
	case <-ctx.Done():
		return nil, ErrTimeout
	}
}

// InitializeEscrowCmd creates an escrow, locks the asset and mints the full
// fraction supply into protocol custody.
type InitializeEscrowCmd struct {
	Depositor          [20]byte
	AssetRef           [32]byte
	TotalFractions     *big.Int
	FractionsPerWindow *big.Int
	WindowLength       int64
	GenesisTime        int64 // zero anchors the schedule at submission time
}

// InitializeUserPositionCmd creates a zero-balance position for a user.
type InitializeUserPositionCmd struct {
	User   [20]byte
	Escrow [32]byte
}

// PlaceBidCmd submits a first-price bid into the current window. Margin is
// extra custody held on top of the amount to cover future raises.
type PlaceBidCmd struct {
	Bidder [20]byte
	Escrow [32]byte
	Amount *big.Int
	Margin *big.Int
}

// SettleCmd finalises a closed window.
type SettleCmd struct {
	Escrow      [32]byte
	WindowIndex uint64
}

// ReclaimBidCmd returns a losing bidder's custody after settlement.
type ReclaimBidCmd struct {
	Bidder      [20]byte
	Escrow      [32]byte
	WindowIndex uint64
}

// CloseEscrowCmd unwinds an escrow that never sold a fraction.
type CloseEscrowCmd struct {
	Depositor [20]byte
	Escrow    [32]byte
}

// InitializeEscrow executes the escrow creation command.
func (d *Dispatcher) InitializeEscrow(ctx context.Context, cmd InitializeEscrowCmd) (*Escrow, error) {
	id := EscrowID(cmd.Depositor, cmd.AssetRef)
	release, err := d.acquire(ctx, id)
	if err != nil {
		return nil, d.observe("initialize_escrow", id, err)
	}
	defer release()
	esc, err := d.engine.InitializeEscrow(cmd.Depositor, cmd.AssetRef, cmd.TotalFractions, cmd.FractionsPerWindow, cmd.WindowLength, cmd.GenesisTime, d.clock.Now())
	if err == nil {
		metrics.Ricks().OutstandingFractions(hexID(esc.ID), amountGauge(esc.OutstandingFractions))
	}
	return esc, d.observe("initialize_escrow", id, err)
}

// InitializeUserPosition executes the position creation command.
func (d *Dispatcher) InitializeUserPosition(ctx context.Context, cmd InitializeUserPositionCmd) (*UserPosition, error) {
	release, err := d.acquire(ctx, cmd.Escrow)
	if err != nil {
		return nil, d.observe("initialize_user_position", cmd.Escrow, err)
	}
	defer release()
	pos, err := d.engine.InitializeUserPosition(cmd.User, cmd.Escrow)
	return pos, d.observe("initialize_user_position", cmd.Escrow, err)
}

// PlaceBid executes the bid command.
func (d *Dispatcher) PlaceBid(ctx context.Context, cmd PlaceBidCmd) (*AuctionWindow, error) {
	release, err := d.acquire(ctx, cmd.Escrow)
	if err != nil {
		return nil, d.observe("place_bid", cmd.Escrow, err)
	}
	defer release()
	window, err := d.engine.PlaceBid(cmd.Bidder, cmd.Escrow, cmd.Amount, cmd.Margin, d.clock.Now())
	if err == nil {
		metrics.Ricks().BidAccepted()
	}
	return window, d.observe("place_bid", cmd.Escrow, err)
}

// Settle executes the settlement command. A window that lapses without bids
// is not a failure: the lapse is recorded and reported through the receipt.
func (d *Dispatcher) Settle(ctx context.Context, cmd SettleCmd) (*SettlementReceipt, error) {
	release, err := d.acquire(ctx, cmd.Escrow)
	if err != nil {
		return nil, d.observe("settle", cmd.Escrow, err)
	}
	defer release()
	receipt, err := d.engine.Settle(cmd.Escrow, cmd.WindowIndex, d.clock.Now())
	if errors.Is(err, ErrNoBidsToSettle) {
		metrics.Ricks().WindowSettled("lapsed")
		d.logger.Info("auction window lapsed without bids",
			slog.String("escrow", hexID(cmd.Escrow)),
			slog.Uint64("window", cmd.WindowIndex))
		return receipt, nil
	}
	if err == nil {
		metrics.Ricks().WindowSettled("won")
		metrics.Ricks().OutstandingFractions(hexID(cmd.Escrow), amountGauge(receipt.Outstanding))
	}
	return receipt, d.observe("settle", cmd.Escrow, err)
}

// ReclaimBid executes the losing-bid reclaim command.
func (d *Dispatcher) ReclaimBid(ctx context.Context, cmd ReclaimBidCmd) (*big.Int, error) {
	release, err := d.acquire(ctx, cmd.Escrow)
	if err != nil {
		return nil, d.observe("reclaim_bid", cmd.Escrow, err)
	}
	defer release()
	custody, err := d.engine.ReclaimBid(cmd.Bidder, cmd.Escrow, cmd.WindowIndex)
	if err == nil {
		metrics.Ricks().BidReclaimed()
	}
	return custody, d.observe("reclaim_bid", cmd.Escrow, err)
}

// CloseEscrow executes the escrow close command.
func (d *Dispatcher) CloseEscrow(ctx context.Context, cmd CloseEscrowCmd) (*Escrow, error) {
	release, err := d.acquire(ctx, cmd.Escrow)
	if err != nil {
		return nil, d.observe("close_escrow", cmd.Escrow, err)
	}
	defer release()
	esc, err := d.engine.CloseEscrow(cmd.Depositor, cmd.Escrow)
	return esc, d.observe("close_escrow", cmd.Escrow, err)
}

func (d *Dispatcher) observe(command string, escrow [32]byte, err error) error {
	if err == nil {
		return nil
	}
	kind := errorKind(err)
	metrics.Ricks().CommandFailed(command, kind)
	d.logger.Warn("command rejected",
		slog.String("command", command),
		slog.String("escrow", hexID(escrow)),
		slog.String("kind", kind),
		slog.Any("error", err))
	return err
}

func hexID(id [32]byte) string {
	return hex.EncodeToString(id[:])
}

func amountGauge(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidParams):
		return "invalid_params"
	case errors.Is(err, ErrNotDepositor):
		return "not_depositor"
	case errors.Is(err, ErrNotBidder):
		return "not_bidder"
	case errors.Is(err, ErrEscrowNotFound):
		return "escrow_not_found"
	case errors.Is(err, ErrEscrowExists):
		return "escrow_exists"
	case errors.Is(err, ErrEscrowClosed):
		return "escrow_closed"
	case errors.Is(err, ErrWindowNotFound):
		return "window_not_found"
	case errors.Is(err, ErrWindowNotOpen):
		return "window_not_open"
	case errors.Is(err, ErrWindowNotClosed):
		return "window_not_closed"
	case errors.Is(err, ErrAlreadySettled):
		return "already_settled"
	case errors.Is(err, ErrNotSettled):
		return "not_settled"
	case errors.Is(err, ErrExhausted):
		return "exhausted"
	case errors.Is(err, ErrPositionExists):
		return "position_exists"
	case errors.Is(err, ErrPositionNotFound):
		return "position_not_found"
	case errors.Is(err, ErrBidTooLow):
		return "bid_too_low"
	case errors.Is(err, ErrLedgerInsufficient):
		return "ledger_insufficient"
	case errors.Is(err, ErrValueInsufficient):
		return "value_insufficient"
	case errors.Is(err, ErrAssetUnavailable):
		return "asset_unavailable"
	case errors.Is(err, ErrClockSkew):
		return "clock_skew"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrVersionConflict):
		return "version_conflict"
	case errors.Is(err, ErrInvariantViolation):
		return "invariant_violation"
	default:
		return "internal"
	}
}
