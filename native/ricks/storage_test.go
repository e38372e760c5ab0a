package ricks

import (
	"errors"
	"math/big"
	"testing"

	"rickchain/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	return NewStore(db)
}

func testEscrowRecord() *Escrow {
	depositor := newTestAddress(0x01)
	assetRef := newTestRef(0xAA)
	id := EscrowID(depositor, assetRef)
	return &Escrow{
		ID:                   id,
		Depositor:            depositor,
		AssetRef:             assetRef,
		FractionMint:         FractionMintRef(id),
		TotalFractions:       big.NewInt(100),
		OutstandingFractions: big.NewInt(100),
		FractionsPerWindow:   big.NewInt(10),
		GenesisTime:          0,
		WindowLength:         DefaultWindowLength,
		Status:               EscrowLocked,
	}
}

func testWindowRecord(esc *Escrow, index uint64) *AuctionWindow {
	opens := int64(index) * esc.WindowLength
	return &AuctionWindow{
		Escrow:           esc.ID,
		Index:            index,
		OpensAt:          opens,
		ClosesAt:         opens + esc.WindowLength,
		FractionsOnOffer: big.NewInt(10),
		Phase:            WindowOpen,
	}
}

func TestStoreEscrowRoundTrip(t *testing.T) {
	store := newTestStore(t)
	esc := testEscrowRecord()
	if err := store.CreateEscrow(esc); err != nil {
		t.Fatalf("CreateEscrow: %v", err)
	}
	if err := store.CreateEscrow(esc); !errors.Is(err, ErrEscrowExists) {
		t.Fatalf("expected ErrEscrowExists, got %v", err)
	}
	stored, err := store.GetEscrow(esc.ID)
	if err != nil {
		t.Fatalf("GetEscrow: %v", err)
	}
	if stored.TotalFractions.Cmp(esc.TotalFractions) != 0 {
		t.Fatalf("unexpected total: %v", stored.TotalFractions)
	}
	if stored.TotalFractions == esc.TotalFractions {
		t.Fatalf("GetEscrow should not alias the stored amount pointer")
	}
	if stored.GenesisTime != esc.GenesisTime || stored.WindowLength != esc.WindowLength {
		t.Fatalf("schedule fields did not round-trip")
	}
	if _, err := store.GetEscrow(newTestRef(0x77)); !errors.Is(err, ErrEscrowNotFound) {
		t.Fatalf("expected ErrEscrowNotFound, got %v", err)
	}
}

func TestStoreRejectsMalformedEscrow(t *testing.T) {
	store := newTestStore(t)
	esc := testEscrowRecord()
	esc.FractionsPerWindow = big.NewInt(0)
	if err := store.CreateEscrow(esc); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
	esc = testEscrowRecord()
	esc.OutstandingFractions = big.NewInt(101)
	if err := store.CreateEscrow(esc); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams for outstanding > total, got %v", err)
	}
}

func TestStoreWindowMonotonicity(t *testing.T) {
	store := newTestStore(t)
	esc := testEscrowRecord()
	if err := store.CreateEscrow(esc); err != nil {
		t.Fatalf("CreateEscrow: %v", err)
	}

	w0 := testWindowRecord(esc, 0)
	w0.HighestBidder = newTestAddress(0x02)
	w0.HighestBid = big.NewInt(500)
	if err := store.OpenWindow(w0); err != nil {
		t.Fatalf("OpenWindow: %v", err)
	}
	// A second live window is refused while the first is unsettled.
	w1 := testWindowRecord(esc, 1)
	w1.HighestBidder = newTestAddress(0x03)
	w1.HighestBid = big.NewInt(100)
	if err := store.OpenWindow(w1); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation for second live window, got %v", err)
	}

	settled := w0.Clone()
	settled.Phase = WindowSettled
	esc.OutstandingFractions = big.NewInt(90)
	if err := store.SettleWindow(esc, settled); err != nil {
		t.Fatalf("SettleWindow: %v", err)
	}
	if err := store.OpenWindow(w1); err != nil {
		t.Fatalf("OpenWindow after settle: %v", err)
	}
	// Indices never move backwards.
	w0again := testWindowRecord(esc, 0)
	w0again.HighestBidder = newTestAddress(0x04)
	w0again.HighestBid = big.NewInt(50)
	if err := store.OpenWindow(w0again); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation for stale index, got %v", err)
	}
}

func TestStoreSettleChecksSupplyDelta(t *testing.T) {
	store := newTestStore(t)
	esc := testEscrowRecord()
	if err := store.CreateEscrow(esc); err != nil {
		t.Fatalf("CreateEscrow: %v", err)
	}
	w := testWindowRecord(esc, 0)
	w.HighestBidder = newTestAddress(0x02)
	w.HighestBid = big.NewInt(500)
	if err := store.OpenWindow(w); err != nil {
		t.Fatalf("OpenWindow: %v", err)
	}
	settled := w.Clone()
	settled.Phase = WindowSettled
	// Outstanding must shrink by exactly the fractions on offer.
	bad := esc.Clone()
	bad.OutstandingFractions = big.NewInt(95)
	if err := store.SettleWindow(bad, settled); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict for wrong delta, got %v", err)
	}
	good := esc.Clone()
	good.OutstandingFractions = big.NewInt(90)
	if err := store.SettleWindow(good, settled); err != nil {
		t.Fatalf("SettleWindow: %v", err)
	}
	if err := store.PutWindow(w); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled on write to settled window, got %v", err)
	}
}

func TestStoreLapseRecordKeepsHead(t *testing.T) {
	store := newTestStore(t)
	esc := testEscrowRecord()
	if err := store.CreateEscrow(esc); err != nil {
		t.Fatalf("CreateEscrow: %v", err)
	}
	w0 := testWindowRecord(esc, 0)
	w0.HighestBidder = newTestAddress(0x02)
	w0.HighestBid = big.NewInt(500)
	if err := store.OpenWindow(w0); err != nil {
		t.Fatalf("OpenWindow: %v", err)
	}
	// Window 3 never opened; its lapse record must not disturb the live
	// head at index 0.
	lapsed := testWindowRecord(esc, 3)
	lapsed.Phase = WindowSettled
	if err := store.SettleWindow(esc.Clone(), lapsed); err != nil {
		t.Fatalf("SettleWindow lapse: %v", err)
	}
	latest, live, ok, err := store.Head(esc.ID)
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if !ok || !live || latest != 0 {
		t.Fatalf("head disturbed by lapse record: latest=%d live=%v ok=%v", latest, live, ok)
	}
}

func TestStoreBidIndex(t *testing.T) {
	store := newTestStore(t)
	id := newTestRef(0x11)
	a := newTestAddress(0x02)
	b := newTestAddress(0x03)

	put := func(bidder [20]byte, amount int64) {
		t.Helper()
		err := store.PutBid(&Bid{Escrow: id, WindowIndex: 0, Bidder: bidder, Amount: big.NewInt(amount), Custody: big.NewInt(amount)})
		if err != nil {
			t.Fatalf("PutBid: %v", err)
		}
	}
	put(a, 500)
	put(b, 600)
	put(a, 700) // raise keeps a single index entry

	bidders, err := store.Bidders(id, 0)
	if err != nil {
		t.Fatalf("Bidders: %v", err)
	}
	if len(bidders) != 2 {
		t.Fatalf("expected 2 bidders, got %d", len(bidders))
	}
	bid, err := store.GetBid(id, 0, a)
	if err != nil {
		t.Fatalf("GetBid: %v", err)
	}
	if bid.Amount.Cmp(big.NewInt(700)) != 0 {
		t.Fatalf("raise not persisted: %v", bid.Amount)
	}
	if err := store.DeleteBid(id, 0, a); err != nil {
		t.Fatalf("DeleteBid: %v", err)
	}
	if _, err := store.GetBid(id, 0, a); !errors.Is(err, ErrNotBidder) {
		t.Fatalf("expected ErrNotBidder after delete, got %v", err)
	}
	bidders, err = store.Bidders(id, 0)
	if err != nil {
		t.Fatalf("Bidders: %v", err)
	}
	if len(bidders) != 1 || bidders[0] != b {
		t.Fatalf("unexpected bidder index after delete: %v", bidders)
	}
}

func TestStoreBidRequiresCustodyCoverage(t *testing.T) {
	store := newTestStore(t)
	id := newTestRef(0x11)
	bid := &Bid{Escrow: id, WindowIndex: 0, Bidder: newTestAddress(0x02), Amount: big.NewInt(500), Custody: big.NewInt(499)}
	if err := store.PutBid(bid); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams for custody < amount, got %v", err)
	}
}

func TestStorePositions(t *testing.T) {
	store := newTestStore(t)
	id := newTestRef(0x11)
	user := newTestAddress(0x02)

	pos := &UserPosition{Escrow: id, User: user, Fractions: big.NewInt(0)}
	if err := store.CreatePosition(pos); err != nil {
		t.Fatalf("CreatePosition: %v", err)
	}
	if err := store.CreatePosition(pos); !errors.Is(err, ErrPositionExists) {
		t.Fatalf("expected ErrPositionExists, got %v", err)
	}
	pos.Fractions = big.NewInt(10)
	if err := store.UpsertPosition(pos); err != nil {
		t.Fatalf("UpsertPosition: %v", err)
	}
	stored, err := store.GetPosition(id, user)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if stored.Fractions.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("unexpected position: %v", stored.Fractions)
	}
	if _, err := store.GetPosition(id, newTestAddress(0x09)); !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("expected ErrPositionNotFound, got %v", err)
	}
}
