package ricks

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rickchain/storage"
)

type stubClock struct {
	mu  sync.Mutex
	now int64
}

func (c *stubClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stubClock) set(now int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *stubClock, *mockLedger, *Store) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	store := NewStore(db)
	ledger := newMockLedger()
	engine := NewEngine(store, ledger)
	clock := &stubClock{}
	return NewDispatcher(engine, clock), clock, ledger, store
}

func TestDispatcherCommandFlow(t *testing.T) {
	d, clock, ledger, store := newTestDispatcher(t)
	ctx := context.Background()
	ledger.registerAsset(depositor, assetRef)
	ledger.fund(alice, 1_000)
	ledger.fund(bob, 1_000)

	esc, err := d.InitializeEscrow(ctx, InitializeEscrowCmd{
		Depositor:          depositor,
		AssetRef:           assetRef,
		TotalFractions:     big.NewInt(100),
		FractionsPerWindow: big.NewInt(10),
		WindowLength:       DefaultWindowLength,
	})
	require.NoError(t, err)

	_, err = d.InitializeUserPosition(ctx, InitializeUserPositionCmd{User: bob, Escrow: esc.ID})
	require.NoError(t, err)

	clock.set(1_000)
	_, err = d.PlaceBid(ctx, PlaceBidCmd{Bidder: alice, Escrow: esc.ID, Amount: big.NewInt(500)})
	require.NoError(t, err)
	clock.set(2_000)
	_, err = d.PlaceBid(ctx, PlaceBidCmd{Bidder: bob, Escrow: esc.ID, Amount: big.NewInt(600)})
	require.NoError(t, err)

	clock.set(DefaultWindowLength)
	receipt, err := d.Settle(ctx, SettleCmd{Escrow: esc.ID, WindowIndex: 0})
	require.NoError(t, err)
	require.True(t, receipt.HasWinner)
	require.Equal(t, bob, receipt.Winner)

	custody, err := d.ReclaimBid(ctx, ReclaimBidCmd{Bidder: alice, Escrow: esc.ID, WindowIndex: 0})
	require.NoError(t, err)
	require.Zero(t, custody.Cmp(big.NewInt(500)))

	pos, err := store.GetPosition(esc.ID, bob)
	require.NoError(t, err)
	require.Zero(t, pos.Fractions.Cmp(big.NewInt(10)))
}

func TestDispatcherLapseIsNotAnError(t *testing.T) {
	d, clock, ledger, store := newTestDispatcher(t)
	ctx := context.Background()
	ledger.registerAsset(depositor, assetRef)

	esc, err := d.InitializeEscrow(ctx, InitializeEscrowCmd{
		Depositor:          depositor,
		AssetRef:           assetRef,
		TotalFractions:     big.NewInt(100),
		FractionsPerWindow: big.NewInt(10),
		WindowLength:       DefaultWindowLength,
	})
	require.NoError(t, err)

	clock.set(DefaultWindowLength)
	receipt, err := d.Settle(ctx, SettleCmd{Escrow: esc.ID, WindowIndex: 0})
	require.NoError(t, err)
	require.False(t, receipt.HasWinner)

	w, err := store.GetWindow(esc.ID, 0)
	require.NoError(t, err)
	require.Equal(t, WindowSettled, w.Phase)
}

func TestDispatcherTimeout(t *testing.T) {
	d, clock, ledger, _ := newTestDispatcher(t)
	ctx := context.Background()
	ledger.registerAsset(depositor, assetRef)
	ledger.fund(alice, 1_000)

	esc, err := d.InitializeEscrow(ctx, InitializeEscrowCmd{
		Depositor:          depositor,
		AssetRef:           assetRef,
		TotalFractions:     big.NewInt(100),
		FractionsPerWindow: big.NewInt(10),
		WindowLength:       DefaultWindowLength,
	})
	require.NoError(t, err)

	// Hold the escrow's serialization and watch a deadline-bound command
	// bail out with ErrTimeout.
	release, err := d.acquire(ctx, esc.ID)
	require.NoError(t, err)

	clock.set(1_000)
	bounded, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = d.PlaceBid(bounded, PlaceBidCmd{Bidder: alice, Escrow: esc.ID, Amount: big.NewInt(500)})
	require.ErrorIs(t, err, ErrTimeout)

	release()
	_, err = d.PlaceBid(ctx, PlaceBidCmd{Bidder: alice, Escrow: esc.ID, Amount: big.NewInt(500)})
	require.NoError(t, err)
}

func TestDispatcherSerializesPerEscrow(t *testing.T) {
	d, clock, ledger, store := newTestDispatcher(t)
	ctx := context.Background()
	ledger.registerAsset(depositor, assetRef)

	esc, err := d.InitializeEscrow(ctx, InitializeEscrowCmd{
		Depositor:          depositor,
		AssetRef:           assetRef,
		TotalFractions:     big.NewInt(100),
		FractionsPerWindow: big.NewInt(10),
		WindowLength:       DefaultWindowLength,
	})
	require.NoError(t, err)
	clock.set(1_000)

	// Concurrent strictly-increasing bids from many goroutines: exactly
	// the top one wins, every accepted bid observed the serialized state.
	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		bidder := newTestAddress(byte(0x10 + i))
		ledger.fund(bidder, 10_000)
		amount := int64(i * 100)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.PlaceBid(ctx, PlaceBidCmd{Bidder: bidder, Escrow: esc.ID, Amount: big.NewInt(amount)})
			if err != nil && !errors.Is(err, ErrBidTooLow) {
				t.Errorf("unexpected bid error: %v", err)
			}
		}()
	}
	wg.Wait()

	w, err := store.GetWindow(esc.ID, 0)
	require.NoError(t, err)
	require.Zero(t, w.HighestBid.Cmp(big.NewInt(800)))
	require.Equal(t, newTestAddress(0x18), w.HighestBidder)
}
