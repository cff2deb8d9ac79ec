package balance

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/xid"
	"github.com/shopspring/decimal"

	"bidhouse/internal/domain"
	"bidhouse/pkg/errcodes"
)

type fakeHold struct {
	userID string
	amount decimal.Decimal
}

// Fake is an in-memory BalanceReservation used by tests and local runs. It
// honors the same hold/release/debit accounting as the real service.
type Fake struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	holds    map[string]fakeHold
	debited  map[string]fakeHold
}

func NewFake() *Fake {
	return &Fake{
		balances: make(map[string]decimal.Decimal),
		holds:    make(map[string]fakeHold),
		debited:  make(map[string]fakeHold),
	}
}

// Deposit credits a user. Test setup only.
func (f *Fake) Deposit(userID string, amount decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.balances[userID] = f.balances[userID].Add(amount)
}

func (f *Fake) Available(_ context.Context, userID string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.balances[userID], nil
}

func (f *Fake) Hold(_ context.Context, userID string, amount decimal.Decimal) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.balances[userID].LessThan(amount) {
		return "", domain.NewError(errcodes.InsufficientBalance, "balance service refused the hold")
	}

	holdID := xid.New().String()
	f.balances[userID] = f.balances[userID].Sub(amount)
	f.holds[holdID] = fakeHold{userID: userID, amount: amount}

	return holdID, nil
}

func (f *Fake) Release(_ context.Context, holdID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	hold, ok := f.holds[holdID]
	if !ok {
		return domain.NewError(errcodes.NotFound, "hold not found")
	}

	delete(f.holds, holdID)
	f.balances[hold.userID] = f.balances[hold.userID].Add(hold.amount)

	return nil
}

func (f *Fake) Debit(_ context.Context, holdID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	hold, ok := f.holds[holdID]
	if !ok {
		return domain.NewError(errcodes.NotFound, "hold not found")
	}

	delete(f.holds, holdID)
	f.debited[holdID] = hold

	return nil
}

// ActiveHolds reports how many holds a user currently has outstanding.
func (f *Fake) ActiveHolds(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int
	for _, hold := range f.holds {
		if hold.userID == userID {
			n++
		}
	}

	return n
}

// TotalHolds reports all outstanding holds.
func (f *Fake) TotalHolds() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.holds)
}

// Debited reports whether the given user has exactly one debited hold of
// the given amount.
func (f *Fake) Debited(userID string, amount decimal.Decimal) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	var matches int
	for _, hold := range f.debited {
		if hold.userID == userID && hold.amount.Equal(amount) {
			matches++
		}
	}

	return matches == 1
}

// String implements fmt.Stringer for debug logging.
func (f *Fake) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return fmt.Sprintf("fake balance: %d accounts, %d holds", len(f.balances), len(f.holds))
}
