package source

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// DefaultBatchSize is the number of order ids sent per payment query.
const DefaultBatchSize = 500

// PaymentFinder resolves which orders still hold an uncanceled payment.
type PaymentFinder interface {
	FindPaymentsRequiringCancellation(ctx context.Context, orderIDs []string) (Matches, error)
}

// Matches is the result of a payment lookup.
type Matches struct {
	// ByOrder maps each order that still has an uncanceled payment to the
	// payment chosen for cancellation. Orders missing from it need no action.
	ByOrder map[string]string
	// Skipped holds the other uncanceled payments of orders that have more
	// than one. They are not canceled and need manual follow-up.
	Skipped []SkippedPayment
}

// SkippedPayment is an uncanceled payment left untouched because another
// payment of the same order was chosen.
type SkippedPayment struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	ChosenID  string `json:"chosen_payment_id"`
}

// PaymentQuery reads payments and their status history from the payment database.
type PaymentQuery struct {
	db        *sql.DB
	dialect   Dialect
	batchSize int
	timeout   time.Duration
	log       zerolog.Logger
}

// PaymentQueryOptions tunes PaymentQuery.
type PaymentQueryOptions struct {
	BatchSize    int
	QueryTimeout time.Duration
}

// NewPaymentQuery returns a PaymentQuery on db.
func NewPaymentQuery(db *sql.DB, dialect Dialect, opts PaymentQueryOptions, log zerolog.Logger) *PaymentQuery {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &PaymentQuery{
		db:        db,
		dialect:   dialect,
		batchSize: opts.BatchSize,
		timeout:   opts.QueryTimeout,
		log:       log.With().Str("component", "payment_source").Logger(),
	}
}

func (q *PaymentQuery) buildQuery(orderIDs []string) (string, []any) {
	in, args := q.dialect.inClause("pi.client_order_id", orderIDs, 1)
	query := `SELECT pi.client_order_id, pi.payment_id
FROM payment_information pi
WHERE ` + in + `
  AND NOT EXISTS (
    SELECT 1
    FROM payment_status_history psh
    WHERE psh.payment_id = pi.payment_id
      AND psh.status = 'canceled'
  )
ORDER BY pi.client_order_id, pi.payment_id`
	return query, args
}

// FindPaymentsRequiringCancellation maps each order that still has an
// uncanceled payment to that payment. When an order has several uncanceled
// payments the last one in payment id order is chosen and the others are
// reported in Matches.Skipped.
func (q *PaymentQuery) FindPaymentsRequiringCancellation(ctx context.Context, orderIDs []string) (Matches, error) {
	out := Matches{ByOrder: map[string]string{}}
	if len(orderIDs) == 0 {
		return out, nil
	}
	for start := 0; start < len(orderIDs); start += q.batchSize {
		end := min(start+q.batchSize, len(orderIDs))
		if err := q.queryChunk(ctx, orderIDs[start:end], &out); err != nil {
			return Matches{}, err
		}
	}
	for i, sp := range out.Skipped {
		out.Skipped[i].ChosenID = out.ByOrder[sp.OrderID]
	}
	q.log.Info().
		Int("orders", len(orderIDs)).
		Int("payments", len(out.ByOrder)).
		Int("skipped_payments", len(out.Skipped)).
		Msg("resolved uncanceled payments")
	return out, nil
}

func (q *PaymentQuery) queryChunk(ctx context.Context, chunk []string, out *Matches) error {
	query, args := q.buildQuery(chunk)

	ctx, cancel := withTimeout(ctx, q.timeout)
	defer cancel()

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query uncanceled payments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var orderID, paymentID string
		if err := rows.Scan(&orderID, &paymentID); err != nil {
			return fmt.Errorf("scan payment: %w", err)
		}
		if prev, ok := out.ByOrder[orderID]; ok {
			q.log.Warn().
				Str("order_id", orderID).
				Str("skipped_payment_id", prev).
				Str("payment_id", paymentID).
				Msg("order has several uncanceled payments, using the latest")
			out.Skipped = append(out.Skipped, SkippedPayment{OrderID: orderID, PaymentID: prev})
		}
		out.ByOrder[orderID] = paymentID
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate payments: %w", err)
	}
	return nil
}
