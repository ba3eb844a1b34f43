package assets

import (
	"context"
	"sync"
)

// MemoryLedger is an in-process asset ledger with per-account balances and a
// single custody account. It backs tests and local development; a production
// deployment plugs a real token ledger in behind the Ledger interface.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]uint64
	custody  uint64
}

// NewMemoryLedger creates an empty in-memory asset ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[string]uint64),
	}
}

// Mint credits an account out of thin air. Test and bootstrap helper.
func (l *MemoryLedger) Mint(account string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next, err := CheckedAdd(l.balances[account], amount)
	if err != nil {
		return err
	}

	l.balances[account] = next

	return nil
}

// Balance returns the free balance of an account.
func (l *MemoryLedger) Balance(account string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.balances[account]
}

func (l *MemoryLedger) TransferIn(_ context.Context, from string, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	balance, ok := l.balances[from]
	if !ok {
		return ErrUnknownAccount
	}

	if balance < amount {
		return ErrInsufficientBalance
	}

	custody, err := CheckedAdd(l.custody, amount)
	if err != nil {
		return err
	}

	l.balances[from] = balance - amount
	l.custody = custody

	return nil
}

func (l *MemoryLedger) TransferOut(_ context.Context, to string, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.custody < amount {
		return ErrInsufficientBalance
	}

	next, err := CheckedAdd(l.balances[to], amount)
	if err != nil {
		return err
	}

	l.custody -= amount
	l.balances[to] = next

	return nil
}

func (l *MemoryLedger) CustodyBalance(_ context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.custody, nil
}
