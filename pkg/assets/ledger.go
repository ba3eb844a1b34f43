// Package assets abstracts the external fungible-asset ledger the settlement
// engine moves escrow and payouts through.
package assets

import (
	"context"
	"errors"
	"math"
)

var (
	// ErrInsufficientBalance indicates the source account cannot cover the transfer.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrUnknownAccount indicates the account has never been funded.
	ErrUnknownAccount = errors.New("unknown account")

	// ErrAmountOverflow indicates an amount operation would wrap around uint64.
	// This is an invariant violation, never a recoverable condition.
	ErrAmountOverflow = errors.New("amount overflow")

	// ErrZeroAmount indicates a transfer of zero was requested.
	ErrZeroAmount = errors.New("amount must be positive")
)

// Ledger is the engine's view of the asset ledger. Both operations are atomic:
// they fully apply or leave every balance untouched. The engine treats a
// returned error as "no funds moved".
type Ledger interface {
	// TransferIn pulls amount from the given account into the ledger's custody.
	TransferIn(ctx context.Context, from string, amount uint64) error
	// TransferOut pushes amount from custody to the given account.
	TransferOut(ctx context.Context, to string, amount uint64) error
	// CustodyBalance returns the amount currently held in custody.
	CustodyBalance(ctx context.Context) (uint64, error)
}

// CheckedAdd returns a+b, failing instead of wrapping on overflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, ErrAmountOverflow
	}

	return a + b, nil
}

// CheckedSub returns a-b, failing instead of wrapping on underflow.
func CheckedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrAmountOverflow
	}

	return a - b, nil
}
