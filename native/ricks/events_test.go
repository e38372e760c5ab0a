package ricks

import (
	"encoding/hex"
	"math/big"
	"testing"
)

func TestEscrowLockedEventAttributes(t *testing.T) {
	esc := testEscrowRecord()
	evt := newEscrowLockedEvent(esc)
	if evt.Type != EventTypeEscrowLocked {
		t.Fatalf("unexpected type: %s", evt.Type)
	}
	if evt.Attributes["id"] != hex.EncodeToString(esc.ID[:]) {
		t.Fatalf("unexpected id attribute: %s", evt.Attributes["id"])
	}
	if evt.Attributes["totalFractions"] != "100" {
		t.Fatalf("unexpected total attribute: %s", evt.Attributes["totalFractions"])
	}
	if evt.Attributes["windowLength"] != "86400" {
		t.Fatalf("unexpected window length attribute: %s", evt.Attributes["windowLength"])
	}
}

func TestBidAndSettleEventAttributes(t *testing.T) {
	esc := testEscrowRecord()
	w := testWindowRecord(esc, 2)
	bidder := newTestAddress(0x05)
	w.HighestBidder = bidder
	w.HighestBid = big.NewInt(600)
	bid := &Bid{Escrow: esc.ID, WindowIndex: 2, Bidder: bidder, Amount: big.NewInt(600), Custody: big.NewInt(650)}

	evt := newBidAcceptedEvent(w, bid)
	if evt.Attributes["window"] != "2" || evt.Attributes["amount"] != "600" || evt.Attributes["custody"] != "650" {
		t.Fatalf("unexpected bid attributes: %v", evt.Attributes)
	}

	evt = newWindowSettledEvent(w)
	if evt.Attributes["winner"] != hex.EncodeToString(bidder[:]) {
		t.Fatalf("unexpected winner attribute: %s", evt.Attributes["winner"])
	}
	if evt.Attributes["fractions"] != "10" {
		t.Fatalf("unexpected fractions attribute: %s", evt.Attributes["fractions"])
	}

	evt = newWindowLapsedEvent(w)
	if evt.Type != EventTypeWindowLapsed || evt.Attributes["window"] != "2" {
		t.Fatalf("unexpected lapse event: %v", evt)
	}
}
