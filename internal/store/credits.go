package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetBalance returns a user's credit balance. Unknown users have zero credits.
func (s *LibSQLStore) GetBalance(ctx context.Context, userID string) (int, error) {
	var credits int
	err := s.db.QueryRowContext(ctx, `SELECT credits FROM user_credits WHERE user_id = ?`, userID).Scan(&credits)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return credits, err
}

// DecrementCredits subtracts amount only if the balance covers it. It reports
// whether the deduction happened.
func (s *LibSQLStore) DecrementCredits(ctx context.Context, userID string, amount int) (bool, error) {
	if amount < 0 {
		return false, errNegativeAmount
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_credits SET credits = credits - ?, updated_at = ?
		 WHERE user_id = ? AND credits >= ?`,
		amount, time.Now().UTC(), userID, amount,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// AddCredits tops up a user's balance and returns the new balance.
func (s *LibSQLStore) AddCredits(ctx context.Context, userID string, amount int) (int, error) {
	if amount < 0 {
		return 0, errNegativeAmount
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_credits (user_id, credits, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET credits = credits + excluded.credits, updated_at = excluded.updated_at`,
		userID, amount, now,
	); err != nil {
		return 0, fmt.Errorf("add credits: %w", err)
	}

	var balance int
	if err := tx.QueryRowContext(ctx, `SELECT credits FROM user_credits WHERE user_id = ?`, userID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit credits: %w", err)
	}
	return balance, nil
}
