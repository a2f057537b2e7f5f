package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
)

const creditsTable = "user_credits"

// Credits is the credit ledger. Jobs are debited up front; Settle refunds
// proportionally for files that were never delivered.
type Credits struct {
	db *DB
	qb squirrel.StatementBuilderType
}

// NewCredits creates the ledger.
func NewCredits(db *DB) *Credits {
	return &Credits{
		db: db,
		qb: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Balance returns the user's current credit balance.
func (c *Credits) Balance(ctx context.Context, userID string) (int, error) {
	query := c.qb.Select("credits").From(creditsTable).Where(squirrel.Eq{"user_id": userID})

	sqlQuery, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build balance query: %w", err)
	}

	var balance int
	if err := c.db.get(ctx, "credits.balance", &balance, sqlQuery, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// Debit atomically removes amount credits. The conditional update makes the
// balance check and the debit one statement, so concurrent submissions
// cannot overdraw.
func (c *Credits) Debit(ctx context.Context, userID string, amount int) error {
	if amount <= 0 {
		return nil
	}

	query := fmt.Sprintf(
		`UPDATE %s SET credits = credits - $1, updated_at = NOW() WHERE user_id = $2 AND credits >= $1`,
		creditsTable,
	)

	affected, err := c.db.exec(ctx, "credits.debit", query, amount, userID)
	if err != nil {
		return fmt.Errorf("debit credits: %w", err)
	}
	if affected == 0 {
		c.db.metrics.IncrementCounter("credits.debit_rejected", nil)
		return ErrInsufficientCredits
	}

	c.db.logger.Info("credits debited", "user_id", userID, "amount", amount)
	c.db.metrics.IncrementCounter("credits.debited", nil)
	return nil
}

// refund returns amount credits to the user.
func (c *Credits) refund(ctx context.Context, userID string, amount int) error {
	query := fmt.Sprintf(
		`UPDATE %s SET credits = credits + $1, updated_at = NOW() WHERE user_id = $2`,
		creditsTable,
	)

	affected, err := c.db.exec(ctx, "credits.refund", query, amount, userID)
	if err != nil {
		return fmt.Errorf("refund credits: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("refund credits: %w", ErrNotFound)
	}

	c.db.metrics.IncrementCounter("credits.refunded", nil)
	return nil
}

// Settle reconciles a terminal job: the ledger refunds the share of the
// up-front charge covering files that were never delivered. The caller only
// reports what happened; the refund policy lives here.
func (c *Credits) Settle(ctx context.Context, userID, jobID string, delivered, total, charged int) error {
	if total <= 0 || charged <= 0 || delivered >= total {
		return nil
	}

	refund := charged * (total - delivered) / total
	if refund <= 0 {
		return nil
	}

	if err := c.refund(ctx, userID, refund); err != nil {
		return fmt.Errorf("settle job %s: %w", jobID, err)
	}

	c.db.logger.Info("job settled",
		"job_id", jobID,
		"user_id", userID,
		"delivered", delivered,
		"total", total,
		"refunded", refund)
	return nil
}
