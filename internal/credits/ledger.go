// Package credits meters workflow usage against per-user credit balances.
package credits

import (
	"context"
	"log/slog"

	"github.com/rendis/pagepilot/internal/store"
	"github.com/rendis/pagepilot/internal/tasks"
	"github.com/rendis/pagepilot/pkg/schema"
)

// Ledger deducts and tops up credits through a BalanceStore. It holds no
// state of its own: atomicity comes from the store's conditional decrement.
type Ledger struct {
	store  store.BalanceStore
	logger *slog.Logger
}

// NewLedger creates a ledger over s.
func NewLedger(s store.BalanceStore, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: s, logger: logger}
}

// TryDeduct removes amount from the user's balance, or fails with
// INSUFFICIENT_CREDITS leaving the balance unchanged. A zero amount always succeeds.
func (l *Ledger) TryDeduct(ctx context.Context, userID string, amount int) error {
	if amount < 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "negative credit amount %d", amount)
	}
	if amount == 0 {
		return nil
	}
	ok, err := l.store.DecrementCredits(ctx, userID, amount)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "deduct credits").WithCause(err)
	}
	if !ok {
		return schema.NewErrorf(schema.ErrCodeInsufficientCredits, "insufficient credits: need %d", amount).
			WithDetails(map[string]any{"user_id": userID, "amount": amount})
	}
	l.logger.DebugContext(ctx, "credits deducted", "user_id", userID, "amount", amount)
	return nil
}

// Balance returns the user's current balance.
func (l *Ledger) Balance(ctx context.Context, userID string) (int, error) {
	bal, err := l.store.GetBalance(ctx, userID)
	if err != nil {
		return 0, schema.NewError(schema.ErrCodeStore, "read balance").WithCause(err)
	}
	return bal, nil
}

// TopUp adds credits and returns the new balance.
func (l *Ledger) TopUp(ctx context.Context, userID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, schema.NewErrorf(schema.ErrCodeValidation, "top-up amount must be positive, got %d", amount)
	}
	bal, err := l.store.AddCredits(ctx, userID, amount)
	if err != nil {
		return 0, schema.NewError(schema.ErrCodeStore, "add credits").WithCause(err)
	}
	l.logger.InfoContext(ctx, "credits added", "user_id", userID, "amount", amount, "balance", bal)
	return bal, nil
}

// Catalog looks up task definitions by kind.
type Catalog interface {
	Lookup(kind schema.TaskKind) (*tasks.Definition, error)
}

// EstimateCost returns the total credits one run of def consumes: the sum of
// the fixed cost of every node's task.
func EstimateCost(def schema.FlowDefinition, catalog Catalog) (int, error) {
	total := 0
	for _, n := range def.Nodes {
		td, err := catalog.Lookup(n.Type)
		if err != nil {
			return 0, err
		}
		total += td.Credits
	}
	return total, nil
}
