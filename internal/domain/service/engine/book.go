package engine

import (
	"sync"

	"github.com/shopspring/decimal"
)

// leader is the current leading bid of an auction together with the balance
// hold backing it. version is the auction version its admission produced.
type leader struct {
	bidID    string
	bidderID string
	holdID   string
	amount   decimal.Decimal
	version  uint64
}

// book tracks the leading bid per auction. It is the only mutable state the
// engine owns besides the ledger; access is short and never overlaps a
// blocking call.
type book struct {
	mu      sync.Mutex
	leaders map[string]leader
	closed  map[string]struct{}
}

func newBook() *book {
	return &book{
		leaders: make(map[string]leader),
		closed:  make(map[string]struct{}),
	}
}

// promote installs next as the auction leader and returns the displaced
// entry. Admissions serialize on the ledger but reach the book in any
// order, so promotion is version-gated: a candidate older than the current
// leader is refused, meaning that bid was already superseded while its
// submission was still in flight. Promotions onto a settled auction are
// refused the same way; the caller unwinds the hold instead of parking it
// in the book forever.
func (b *book) promote(auctionID string, next leader) (prev leader, installed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, done := b.closed[auctionID]; done {
		return leader{}, false
	}

	cur, ok := b.leaders[auctionID]
	if ok && cur.version >= next.version {
		return leader{}, false
	}

	b.leaders[auctionID] = next

	return cur, true
}

// holdOf reports the hold backing bidderID's bid on the auction, if that
// bidder is the current leader.
func (b *book) holdOf(auctionID, bidderID string) (leader, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur, ok := b.leaders[auctionID]
	if !ok || cur.bidderID != bidderID {
		return leader{}, false
	}

	return cur, true
}

// detachHold takes the hold reference off bidderID's leader entry, leaving
// the entry itself in place. Used when a repeat bid replaces the hold: the
// old one must be released before the new one is acquired.
func (b *book) detachHold(auctionID, bidderID string) (leader, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur, ok := b.leaders[auctionID]
	if !ok || cur.bidderID != bidderID || cur.holdID == "" {
		return leader{}, false
	}

	detached := cur
	cur.holdID = ""
	b.leaders[auctionID] = cur

	return detached, true
}

// attachHold points bidderID's leader entry at holdID again. Refused when
// the entry moved on while the hold was being re-acquired.
func (b *book) attachHold(auctionID, bidderID, holdID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur, ok := b.leaders[auctionID]
	if !ok || cur.bidderID != bidderID || cur.holdID != "" {
		return false
	}

	cur.holdID = holdID
	b.leaders[auctionID] = cur

	return true
}

// settle removes and returns the auction's leader entry once the auction
// has ended, and marks the auction settled so no late promotion can park a
// stale leader afterwards.
func (b *book) settle(auctionID string) (leader, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed[auctionID] = struct{}{}

	cur, ok := b.leaders[auctionID]
	if ok {
		delete(b.leaders, auctionID)
	}

	return cur, ok
}
