package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bidhouse/internal/domain"
	"bidhouse/internal/domain/entity"
	"bidhouse/pkg/errcodes"
)

var (
	// ErrVersionConflict is returned when the expected version no longer
	// matches. The ledger never retries internally; callers re-read and
	// decide.
	ErrVersionConflict = domain.NewError(errcodes.VersionConflict, "auction version conflict")

	// ErrNotFound is returned for unknown or archived auction ids.
	ErrNotFound = domain.NewError(errcodes.AuctionNotFound, "auction not found")

	// ErrCorrupted marks an auction whose version moved backward. The entry
	// is poisoned: every further update fails until the process is restarted
	// and state is re-hydrated.
	ErrCorrupted = domain.NewError(errcodes.LedgerCorrupted, "auction ledger corrupted")
)

// Mutation computes the next auction state from the current one. Mutations
// are pure: no side effects, no version bumps (the ledger owns Version).
type Mutation func(entity.Auction) (entity.Auction, error)

// AuctionRepository persists accepted snapshots behind the in-memory state.
type AuctionRepository interface {
	Upsert(ctx context.Context, auction entity.Auction) error
	ListOpen(ctx context.Context) ([]entity.Auction, error)
	Archive(ctx context.Context, auctionID string) error
}

type entry struct {
	mu       sync.Mutex
	state    entity.Auction
	poisoned bool
}

// Ledger owns the authoritative mutable state of all live auctions, keyed by
// auction id. TryUpdate is the single serialization point per auction: bid
// admissions and lifecycle transitions for the same id contend on the same
// entry, which yields a total order of state changes per auction.
//
// Accepted mutations are persisted write-behind: snapshots are queued in
// version order (the enqueue happens inside the per-auction critical
// section) and drained by a single writer goroutine.
type Ledger struct {
	mu      sync.RWMutex
	entries map[string]*entry

	repo    AuctionRepository
	persist chan entity.Auction
}

const persistQueueSize = 1024

func New(repo AuctionRepository) *Ledger {
	return &Ledger{
		entries: make(map[string]*entry),
		repo:    repo,
		persist: make(chan entity.Auction, persistQueueSize),
	}
}

// Hydrate loads all non-archived auctions from the repository into the
// registry. Called once at startup, before any traffic.
func (l *Ledger) Hydrate(ctx context.Context) (int, error) {
	auctions, err := l.repo.ListOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("repo.ListOpen: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, a := range auctions {
		l.entries[a.ID] = &entry{state: a}
	}

	return len(auctions), nil
}

// Run drains the persist queue until ctx is done, then flushes what is left.
func (l *Ledger) Run(ctx context.Context) error {
	for {
		select {
		case snapshot := <-l.persist:
			l.persistSnapshot(ctx, snapshot)
		case <-ctx.Done():
			for {
				select {
				case snapshot := <-l.persist:
					l.persistSnapshot(context.WithoutCancel(ctx), snapshot)
				default:
					return nil
				}
			}
		}
	}
}

func (l *Ledger) persistSnapshot(ctx context.Context, snapshot entity.Auction) {
	if err := l.repo.Upsert(ctx, snapshot); err != nil {
		logger(ctx).Error("ledger persist failed",
			"auction_id", snapshot.ID,
			"version", snapshot.Version,
			"error", err,
		)
	}
}

// Create registers a new auction at version 1 and persists it.
func (l *Ledger) Create(ctx context.Context, auction entity.Auction) error {
	if auction.ID == "" {
		return domain.NewError(errcodes.InvalidAuctionID, "empty auction id")
	}

	auction.Version = 1
	auction.CurrentPrice = auction.StartingPrice
	auction.UpdatedAt = time.Now().UTC()

	l.mu.Lock()
	if _, exists := l.entries[auction.ID]; exists {
		l.mu.Unlock()
		return domain.NewError(errcodes.ValidationError, "auction already registered")
	}
	l.entries[auction.ID] = &entry{state: auction}
	l.mu.Unlock()

	// Unconditional for the same reason as in TryUpdate: the entry exists,
	// its snapshot must follow.
	l.persist <- auction

	return nil
}

// Snapshot returns the current state of an auction.
func (l *Ledger) Snapshot(auctionID string) (entity.Auction, error) {
	e, err := l.lookup(auctionID)
	if err != nil {
		return entity.Auction{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.poisoned {
		return entity.Auction{}, ErrCorrupted
	}

	return e.state, nil
}

// List returns snapshots of every registered auction. Used by the lifecycle
// scheduler and the platform-wide stats endpoint.
func (l *Ledger) List() []entity.Auction {
	l.mu.RLock()
	entries := make([]*entry, 0, len(l.entries))
	for _, e := range l.entries {
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	out := make([]entity.Auction, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.poisoned {
			out = append(out, e.state)
		}
		e.mu.Unlock()
	}

	return out
}

// TryUpdate applies mutation to the auction iff its version still equals
// expectedVersion. On success the new state carries Version+1 and has been
// queued for persistence. Returns ErrVersionConflict on a CAS miss.
func (l *Ledger) TryUpdate(
	ctx context.Context,
	auctionID string,
	expectedVersion uint64,
	mutation Mutation,
) (entity.Auction, error) {
	e, err := l.lookup(auctionID)
	if err != nil {
		return entity.Auction{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.poisoned {
		return entity.Auction{}, ErrCorrupted
	}

	cur := e.state
	if cur.Version != expectedVersion {
		return entity.Auction{}, ErrVersionConflict
	}

	next, err := mutation(cur)
	if err != nil {
		return entity.Auction{}, err
	}

	if err := validateTransition(cur, next); err != nil {
		if errors.Is(err, ErrCorrupted) {
			e.poisoned = true
			logger(ctx).Error("ledger invariant violated, poisoning auction",
				"auction_id", auctionID,
				"version", cur.Version,
			)
		}
		return entity.Auction{}, err
	}

	next.Version = cur.Version + 1
	next.UpdatedAt = time.Now().UTC()
	e.state = next

	// Enqueued inside the critical section so the writer sees snapshots of
	// one auction in version order. The send is unconditional: the mutation
	// is already committed, so a canceled caller cannot take it back and
	// the snapshot must reach the writer regardless.
	l.persist <- next

	return next, nil
}

// Archive removes an ended auction from the registry and marks it archived
// in the store. Active auctions cannot be archived.
func (l *Ledger) Archive(ctx context.Context, auctionID string) error {
	e, err := l.lookup(auctionID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.state.Status != entity.StatusEnded {
		e.mu.Unlock()
		return domain.NewError(errcodes.InvalidTransition, "only ended auctions can be archived")
	}
	e.mu.Unlock()

	l.mu.Lock()
	delete(l.entries, auctionID)
	l.mu.Unlock()

	if err := l.repo.Archive(ctx, auctionID); err != nil {
		return fmt.Errorf("repo.Archive: %w", err)
	}

	return nil
}

func (l *Ledger) lookup(auctionID string) (*entry, error) {
	l.mu.RLock()
	e, ok := l.entries[auctionID]
	l.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}

	return e, nil
}

// validateTransition enforces the ledger invariants on a mutation result.
// A mutation that tampers with Version is indistinguishable from a
// double-write and poisons the entry.
func validateTransition(cur, next entity.Auction) error {
	if next.Version != cur.Version {
		return ErrCorrupted
	}

	if next.ID != cur.ID {
		return domain.NewError(errcodes.InvalidTransition, "mutation changed auction id")
	}

	if next.CurrentPrice.LessThan(cur.CurrentPrice) {
		return domain.NewError(errcodes.InvalidTransition, "price must not decrease")
	}

	if !statusTransitionAllowed(cur.Status, next.Status) {
		return domain.NewError(
			errcodes.InvalidTransition,
			fmt.Sprintf("illegal status transition %s -> %s", cur.Status, next.Status),
		)
	}

	return nil
}

func statusTransitionAllowed(from, to entity.AuctionStatus) bool {
	if from == to {
		return true
	}

	switch from {
	case entity.StatusUpcoming:
		return to == entity.StatusActive || to == entity.StatusEnded
	case entity.StatusActive:
		return to == entity.StatusEnded
	case entity.StatusEnded:
		return false
	}

	return false
}
