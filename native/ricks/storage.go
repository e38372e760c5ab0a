package ricks

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"rickchain/storage"
)

// Store persists escrows, auction windows, bids and user positions in a
// key-value backend using RLP encoding. It enforces the structural
// invariants: window indices are strictly increasing per escrow, at most one
// window per escrow is live, and the outstanding supply moves only at
// settlement and exactly by the fractions on offer.
type Store struct {
	db storage.Database
}

// NewStore binds a store to the given backend.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

var (
	escrowPrefix   = "ricks/escrow/"
	windowPrefix   = "ricks/window/"
	headPrefix     = "ricks/window-head/"
	bidPrefix      = "ricks/bid/"
	biddersPrefix  = "ricks/bidders/"
	positionPrefix = "ricks/position/"
)

func escrowKey(id [32]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", escrowPrefix, id))
}

func windowKey(id [32]byte, index uint64) []byte {
	return []byte(fmt.Sprintf("%s%x/%d", windowPrefix, id, index))
}

func headKey(id [32]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", headPrefix, id))
}

func bidKey(id [32]byte, index uint64, bidder [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x/%d/%x", bidPrefix, id, index, bidder))
}

func biddersKey(id [32]byte, index uint64) []byte {
	return []byte(fmt.Sprintf("%s%x/%d", biddersPrefix, id, index))
}

func positionKey(id [32]byte, user [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x/%x", positionPrefix, id, user))
}

// RLP cannot encode signed integers or nil big.Int pointers directly, so the
// persisted shapes carry unsigned timestamps and an explicit has-bid flag.
type storedEscrow struct {
	Depositor            [20]byte
	AssetRef             [32]byte
	FractionMint         [32]byte
	TotalFractions       *big.Int
	OutstandingFractions *big.Int
	FractionsPerWindow   *big.Int
	GenesisTime          uint64
	WindowLength         uint64
	Status               uint8
}

type storedWindow struct {
	Index            uint64
	OpensAt          uint64
	ClosesAt         uint64
	FractionsOnOffer *big.Int
	HighestBidder    [20]byte
	HighestBid       *big.Int
	HasBid           bool
	Phase            uint8
}

type storedBid struct {
	Amount  *big.Int
	Custody *big.Int
}

type storedPosition struct {
	Fractions *big.Int
}

// windowHead tracks the newest window index of an escrow and whether it is
// still unsettled.
type windowHead struct {
	Latest uint64
	Live   bool
}

func (s *Store) kvGet(key []byte, out interface{}) (bool, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) kvPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return s.db.Put(key, encoded)
}

// CreateEscrow persists a new escrow. The record must not already exist.
func (s *Store) CreateEscrow(esc *Escrow) error {
	sanitized, err := SanitizeEscrow(esc)
	if err != nil {
		return err
	}
	key := escrowKey(sanitized.ID)
	exists, err := s.db.Has(key)
	if err != nil {
		return err
	}
	if exists {
		return ErrEscrowExists
	}
	return s.kvPut(key, encodeEscrow(sanitized))
}

// PutEscrow overwrites an existing escrow record.
func (s *Store) PutEscrow(esc *Escrow) error {
	sanitized, err := SanitizeEscrow(esc)
	if err != nil {
		return err
	}
	key := escrowKey(sanitized.ID)
	exists, err := s.db.Has(key)
	if err != nil {
		return err
	}
	if !exists {
		return ErrEscrowNotFound
	}
	return s.kvPut(key, encodeEscrow(sanitized))
}

// GetEscrow loads an escrow by identifier.
func (s *Store) GetEscrow(id [32]byte) (*Escrow, error) {
	var rec storedEscrow
	ok, err := s.kvGet(escrowKey(id), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrEscrowNotFound
	}
	return decodeEscrow(id, &rec), nil
}

// Head returns the newest opened window index of the escrow and whether that
// window is still unsettled. Lapse records for windows that never opened do
// not move the head. ok is false when no window has ever been opened.
func (s *Store) Head(id [32]byte) (index uint64, live bool, ok bool, err error) {
	var head windowHead
	ok, err = s.kvGet(headKey(id), &head)
	if err != nil || !ok {
		return 0, false, false, err
	}
	return head.Latest, head.Live, true, nil
}

// OpenWindow records a freshly opened window. The index must advance past
// every previously recorded window and no live window may remain.
func (s *Store) OpenWindow(w *AuctionWindow) error {
	sanitized, err := SanitizeWindow(w)
	if err != nil {
		return err
	}
	if sanitized.Phase != WindowOpen {
		return ErrInvalidParams
	}
	latest, live, ok, err := s.Head(sanitized.Escrow)
	if err != nil {
		return err
	}
	if ok {
		if live {
			return ErrInvariantViolation
		}
		if sanitized.Index <= latest {
			return ErrInvariantViolation
		}
	}
	exists, err := s.db.Has(windowKey(sanitized.Escrow, sanitized.Index))
	if err != nil {
		return err
	}
	if exists {
		return ErrInvariantViolation
	}
	if err := s.kvPut(windowKey(sanitized.Escrow, sanitized.Index), encodeWindow(sanitized)); err != nil {
		return err
	}
	return s.kvPut(headKey(sanitized.Escrow), &windowHead{Latest: sanitized.Index, Live: true})
}

// PutWindow overwrites a live window after a highest-bid update. Phase
// transitions must go through SettleWindow.
func (s *Store) PutWindow(w *AuctionWindow) error {
	sanitized, err := SanitizeWindow(w)
	if err != nil {
		return err
	}
	if sanitized.Phase != WindowOpen {
		return ErrInvalidParams
	}
	existing, err := s.GetWindow(sanitized.Escrow, sanitized.Index)
	if err != nil {
		return err
	}
	if existing.Phase == WindowSettled {
		return ErrAlreadySettled
	}
	return s.kvPut(windowKey(sanitized.Escrow, sanitized.Index), encodeWindow(sanitized))
}

// GetWindow loads one window of an escrow.
func (s *Store) GetWindow(id [32]byte, index uint64) (*AuctionWindow, error) {
	var rec storedWindow
	ok, err := s.kvGet(windowKey(id, index), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrWindowNotFound
	}
	return decodeWindow(id, &rec), nil
}

// SettleWindow atomically records a settlement: the window flips to its
// terminal phase and the escrow's outstanding supply moves exactly by the
// fractions on offer when a winner exists, and not at all otherwise.
func (s *Store) SettleWindow(esc *Escrow, w *AuctionWindow) error {
	sanitizedWindow, err := SanitizeWindow(w)
	if err != nil {
		return err
	}
	if sanitizedWindow.Phase != WindowSettled {
		return ErrInvalidParams
	}
	sanitizedEscrow, err := SanitizeEscrow(esc)
	if err != nil {
		return err
	}
	prior, err := s.GetEscrow(sanitizedEscrow.ID)
	if err != nil {
		return err
	}
	expected := new(big.Int).Set(prior.OutstandingFractions)
	if sanitizedWindow.HasBid() {
		expected.Sub(expected, sanitizedWindow.FractionsOnOffer)
	}
	if sanitizedEscrow.OutstandingFractions.Cmp(expected) != 0 {
		return ErrVersionConflict
	}
	latest, _, ok, err := s.Head(sanitizedWindow.Escrow)
	if err != nil {
		return err
	}
	if err := s.kvPut(windowKey(sanitizedWindow.Escrow, sanitizedWindow.Index), encodeWindow(sanitizedWindow)); err != nil {
		return err
	}
	// Only settling the opened head flips it dead; lapse records for
	// windows that never opened leave the head where it is.
	if ok && sanitizedWindow.Index == latest {
		head := &windowHead{Latest: latest, Live: false}
		if err := s.kvPut(headKey(sanitizedWindow.Escrow), head); err != nil {
			return err
		}
	}
	return s.kvPut(escrowKey(sanitizedEscrow.ID), encodeEscrow(sanitizedEscrow))
}

// PutBid upserts the live bid of one bidder in one window and maintains the
// per-window bidder index.
func (s *Store) PutBid(b *Bid) error {
	if b == nil || b.Amount == nil || b.Amount.Sign() <= 0 {
		return ErrInvalidParams
	}
	if b.Custody == nil || b.Custody.Cmp(b.Amount) < 0 {
		return ErrInvalidParams
	}
	key := bidKey(b.Escrow, b.WindowIndex, b.Bidder)
	exists, err := s.db.Has(key)
	if err != nil {
		return err
	}
	if err := s.kvPut(key, &storedBid{Amount: b.Amount, Custody: b.Custody}); err != nil {
		return err
	}
	if exists {
		return nil
	}
	bidders, err := s.Bidders(b.Escrow, b.WindowIndex)
	if err != nil {
		return err
	}
	bidders = append(bidders, b.Bidder)
	return s.kvPut(biddersKey(b.Escrow, b.WindowIndex), bidders)
}

// GetBid loads the live bid of one bidder in one window.
func (s *Store) GetBid(id [32]byte, index uint64, bidder [20]byte) (*Bid, error) {
	var rec storedBid
	ok, err := s.kvGet(bidKey(id, index, bidder), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotBidder
	}
	return &Bid{
		Escrow:      id,
		WindowIndex: index,
		Bidder:      bidder,
		Amount:      cloneBigInt(rec.Amount),
		Custody:     cloneBigInt(rec.Custody),
	}, nil
}

// DeleteBid destroys a bid record and removes the bidder from the window's
// index.
func (s *Store) DeleteBid(id [32]byte, index uint64, bidder [20]byte) error {
	if err := s.db.Delete(bidKey(id, index, bidder)); err != nil {
		return err
	}
	bidders, err := s.Bidders(id, index)
	if err != nil {
		return err
	}
	filtered := bidders[:0]
	for _, b := range bidders {
		if b != bidder {
			filtered = append(filtered, b)
		}
	}
	if len(filtered) == 0 {
		return s.db.Delete(biddersKey(id, index))
	}
	return s.kvPut(biddersKey(id, index), filtered)
}

// Bidders lists every bidder holding a live bid in the window.
func (s *Store) Bidders(id [32]byte, index uint64) ([][20]byte, error) {
	var bidders [][20]byte
	if _, err := s.kvGet(biddersKey(id, index), &bidders); err != nil {
		return nil, err
	}
	return bidders, nil
}

// CreatePosition records a zero-balance position. The record must not exist.
func (s *Store) CreatePosition(p *UserPosition) error {
	if p == nil {
		return ErrInvalidParams
	}
	key := positionKey(p.Escrow, p.User)
	exists, err := s.db.Has(key)
	if err != nil {
		return err
	}
	if exists {
		return ErrPositionExists
	}
	return s.kvPut(key, &storedPosition{Fractions: cloneBigInt(p.Fractions)})
}

// UpsertPosition overwrites (or creates) the position of one user.
func (s *Store) UpsertPosition(p *UserPosition) error {
	if p == nil || p.Fractions == nil || p.Fractions.Sign() < 0 {
		return ErrInvalidParams
	}
	return s.kvPut(positionKey(p.Escrow, p.User), &storedPosition{Fractions: p.Fractions})
}

// GetPosition loads the position of one user in one escrow.
func (s *Store) GetPosition(id [32]byte, user [20]byte) (*UserPosition, error) {
	var rec storedPosition
	ok, err := s.kvGet(positionKey(id, user), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPositionNotFound
	}
	return &UserPosition{Escrow: id, User: user, Fractions: cloneBigInt(rec.Fractions)}, nil
}

func encodeEscrow(e *Escrow) *storedEscrow {
	return &storedEscrow{
		Depositor:            e.Depositor,
		AssetRef:             e.AssetRef,
		FractionMint:         e.FractionMint,
		TotalFractions:       e.TotalFractions,
		OutstandingFractions: e.OutstandingFractions,
		FractionsPerWindow:   e.FractionsPerWindow,
		GenesisTime:          uint64(e.GenesisTime),
		WindowLength:         uint64(e.WindowLength),
		Status:               uint8(e.Status),
	}
}

func decodeEscrow(id [32]byte, rec *storedEscrow) *Escrow {
	return &Escrow{
		ID:                   id,
		Depositor:            rec.Depositor,
		AssetRef:             rec.AssetRef,
		FractionMint:         rec.FractionMint,
		TotalFractions:       cloneBigInt(rec.TotalFractions),
		OutstandingFractions: cloneBigInt(rec.OutstandingFractions),
		FractionsPerWindow:   cloneBigInt(rec.FractionsPerWindow),
		GenesisTime:          int64(rec.GenesisTime),
		WindowLength:         int64(rec.WindowLength),
		Status:               EscrowStatus(rec.Status),
	}
}

func encodeWindow(w *AuctionWindow) *storedWindow {
	rec := &storedWindow{
		Index:            w.Index,
		OpensAt:          uint64(w.OpensAt),
		ClosesAt:         uint64(w.ClosesAt),
		FractionsOnOffer: w.FractionsOnOffer,
		HighestBidder:    w.HighestBidder,
		HighestBid:       big.NewInt(0),
		Phase:            uint8(w.Phase),
	}
	if w.HighestBid != nil {
		rec.HighestBid = w.HighestBid
		rec.HasBid = true
	}
	return rec
}

func decodeWindow(id [32]byte, rec *storedWindow) *AuctionWindow {
	w := &AuctionWindow{
		Escrow:           id,
		Index:            rec.Index,
		OpensAt:          int64(rec.OpensAt),
		ClosesAt:         int64(rec.ClosesAt),
		FractionsOnOffer: cloneBigInt(rec.FractionsOnOffer),
		Phase:            WindowPhase(rec.Phase),
	}
	if rec.HasBid {
		w.HighestBidder = rec.HighestBidder
		w.HighestBid = cloneBigInt(rec.HighestBid)
	}
	return w
}
