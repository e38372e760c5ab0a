package ricks

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"rickchain/core/events"
)

const (
	EventTypeEscrowLocked   = "ricks.escrow.locked"
	EventTypeEscrowClosed   = "ricks.escrow.closed"
	EventTypePositionOpened = "ricks.position.opened"
	EventTypeBidAccepted    = "ricks.auction.bid"
	EventTypeWindowSettled  = "ricks.auction.settled"
	EventTypeWindowLapsed   = "ricks.auction.lapsed"
	EventTypeBidReclaimed   = "ricks.bid.reclaimed"
)

func newEscrowLockedEvent(e *Escrow) events.Event {
	return events.Event{
		Type: EventTypeEscrowLocked,
		Attributes: map[string]string{
			"id":                 hex.EncodeToString(e.ID[:]),
			"depositor":          hex.EncodeToString(e.Depositor[:]),
			"assetRef":           hex.EncodeToString(e.AssetRef[:]),
			"fractionMint":       hex.EncodeToString(e.FractionMint[:]),
			"totalFractions":     formatAmount(e.TotalFractions),
			"fractionsPerWindow": formatAmount(e.FractionsPerWindow),
			"genesisTime":        strconv.FormatInt(e.GenesisTime, 10),
			"windowLength":       strconv.FormatInt(e.WindowLength, 10),
		},
	}
}

func newEscrowClosedEvent(e *Escrow) events.Event {
	return events.Event{
		Type: EventTypeEscrowClosed,
		Attributes: map[string]string{
			"id":        hex.EncodeToString(e.ID[:]),
			"depositor": hex.EncodeToString(e.Depositor[:]),
			"assetRef":  hex.EncodeToString(e.AssetRef[:]),
		},
	}
}

func newPositionOpenedEvent(p *UserPosition) events.Event {
	return events.Event{
		Type: EventTypePositionOpened,
		Attributes: map[string]string{
			"escrow": hex.EncodeToString(p.Escrow[:]),
			"user":   hex.EncodeToString(p.User[:]),
		},
	}
}

func newBidAcceptedEvent(w *AuctionWindow, b *Bid) events.Event {
	return events.Event{
		Type: EventTypeBidAccepted,
		Attributes: map[string]string{
			"escrow":  hex.EncodeToString(w.Escrow[:]),
			"window":  strconv.FormatUint(w.Index, 10),
			"bidder":  hex.EncodeToString(b.Bidder[:]),
			"amount":  formatAmount(b.Amount),
			"custody": formatAmount(b.Custody),
		},
	}
}

func newWindowSettledEvent(w *AuctionWindow) events.Event {
	return events.Event{
		Type: EventTypeWindowSettled,
		Attributes: map[string]string{
			"escrow":    hex.EncodeToString(w.Escrow[:]),
			"window":    strconv.FormatUint(w.Index, 10),
			"winner":    hex.EncodeToString(w.HighestBidder[:]),
			"amount":    formatAmount(w.HighestBid),
			"fractions": formatAmount(w.FractionsOnOffer),
		},
	}
}

func newWindowLapsedEvent(w *AuctionWindow) events.Event {
	return events.Event{
		Type: EventTypeWindowLapsed,
		Attributes: map[string]string{
			"escrow": hex.EncodeToString(w.Escrow[:]),
			"window": strconv.FormatUint(w.Index, 10),
		},
	}
}

func newBidReclaimedEvent(b *Bid) events.Event {
	return events.Event{
		Type: EventTypeBidReclaimed,
		Attributes: map[string]string{
			"escrow":  hex.EncodeToString(b.Escrow[:]),
			"window":  strconv.FormatUint(b.WindowIndex, 10),
			"bidder":  hex.EncodeToString(b.Bidder[:]),
			"custody": formatAmount(b.Custody),
		},
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
