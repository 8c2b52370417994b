package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/lookstudio/internal/models"
)

// MutateFunc changes a locked subscription in place and returns the ledger row
// describing the change. Returning a nil transaction leaves the row untouched.
type MutateFunc func(sub *models.Subscription) (*models.TokenTransaction, error)

type SubscriptionRepository struct {
	db *sql.DB
}

func NewSubscriptionRepository(db *sql.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const subscriptionColumns = `id, user_id, tier, total_tokens, available_tokens, consumed_tokens, lifetime_consumed, period_start, period_end, created_at, updated_at`

func scanSubscription(row interface{ Scan(...any) error }) (*models.Subscription, error) {
	var s models.Subscription
	if err := row.Scan(&s.ID, &s.UserID, &s.Tier, &s.TotalTokens, &s.AvailableTokens, &s.ConsumedTokens, &s.LifetimeConsumed, &s.PeriodStart, &s.PeriodEnd, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SubscriptionRepository) Get(ctx context.Context, userID int64) (*models.Subscription, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = ?`, userID)
	s, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	return s, nil
}

// Create inserts a new subscription. A concurrent insert for the same user
// surfaces as ErrDuplicate.
func (r *SubscriptionRepository) Create(ctx context.Context, sub *models.Subscription) error {
	const query = `
INSERT INTO subscriptions (user_id, tier, total_tokens, available_tokens, consumed_tokens, lifetime_consumed, period_start, period_end)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, sub.UserID, sub.Tier, sub.TotalTokens, sub.AvailableTokens, sub.ConsumedTokens, sub.LifetimeConsumed, sub.PeriodStart, sub.PeriodEnd)
	if err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert subscription: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	sub.ID = id
	return nil
}

// Mutate locks the user's subscription row, applies fn and persists the new
// counters together with the ledger row fn returns, all in one transaction.
func (r *SubscriptionRepository) Mutate(ctx context.Context, userID int64, fn MutateFunc) (*models.Subscription, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = ? FOR UPDATE`, userID)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock subscription: %w", err)
	}

	txn, err := fn(sub)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return sub, tx.Commit()
	}

	const update = `
UPDATE subscriptions
SET tier = ?, total_tokens = ?, available_tokens = ?, consumed_tokens = ?, lifetime_consumed = ?, period_start = ?, period_end = ?, updated_at = NOW()
WHERE id = ?`
	if _, err := tx.ExecContext(ctx, update, sub.Tier, sub.TotalTokens, sub.AvailableTokens, sub.ConsumedTokens, sub.LifetimeConsumed, sub.PeriodStart, sub.PeriodEnd, sub.ID); err != nil {
		return nil, fmt.Errorf("update subscription: %w", err)
	}

	txn.UserID = sub.UserID
	const insert = `
INSERT INTO token_transactions (user_id, type, amount, balance_before, balance_after, description, admin_id)
VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), ?)`
	res, err := tx.ExecContext(ctx, insert, txn.UserID, txn.Type, txn.Amount, txn.BalanceBefore, txn.BalanceAfter, txn.Description, txn.AdminID)
	if err != nil {
		return nil, fmt.Errorf("insert token transaction: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		txn.ID = id
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit subscription tx: %w", err)
	}
	return sub, nil
}

const transactionColumns = `id, user_id, type, amount, balance_before, balance_after, COALESCE(description, ''), admin_id, created_at`

func scanTransaction(row interface{ Scan(...any) error }) (*models.TokenTransaction, error) {
	var t models.TokenTransaction
	var adminID sql.NullInt64
	if err := row.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.BalanceBefore, &t.BalanceAfter, &t.Description, &adminID, &t.CreatedAt); err != nil {
		return nil, err
	}
	if adminID.Valid {
		id := adminID.Int64
		t.AdminID = &id
	}
	return &t, nil
}

// ListTransactions returns a page of the user's ledger, newest first, and the total row count.
func (r *SubscriptionRepository) ListTransactions(ctx context.Context, userID int64, limit, offset int) ([]models.TokenTransaction, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM token_transactions WHERE user_id = ?`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count token transactions: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+transactionColumns+` FROM token_transactions WHERE user_id = ? ORDER BY id DESC LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list token transactions: %w", err)
	}
	defer rows.Close()

	var out []models.TokenTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan token transaction: %w", err)
		}
		out = append(out, *t)
	}
	return out, total, rows.Err()
}
