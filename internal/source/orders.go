package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DateLayout is the calendar-date format used for the run window.
const DateLayout = "2006-01-02"

// DateRange bounds order creation dates. Both ends are inclusive calendar
// days; a zero range means no bound.
type DateRange struct {
	From time.Time
	To   time.Time
}

// IsZero reports whether the range is unbounded.
func (r DateRange) IsZero() bool { return r.From.IsZero() && r.To.IsZero() }

func (r DateRange) String() string {
	if r.IsZero() {
		return "all dates"
	}
	return r.From.Format(DateLayout) + ".." + r.To.Format(DateLayout)
}

// OrderFetcher lists canceled orders from the order system.
type OrderFetcher interface {
	FetchCanceledOrders(ctx context.Context, window DateRange) ([]string, error)
}

// OrderQuery reads canceled orders from a Magento-style sales schema.
type OrderQuery struct {
	db                *sql.DB
	dialect           Dialect
	minPaymentRecords int
	timeout           time.Duration
	log               zerolog.Logger
}

// OrderQueryOptions tunes OrderQuery.
type OrderQueryOptions struct {
	// MinPaymentRecords keeps only orders with at least this many payment
	// attempts. Values below 2 disable the constraint.
	MinPaymentRecords int
	QueryTimeout      time.Duration
}

// NewOrderQuery returns an OrderQuery on db.
func NewOrderQuery(db *sql.DB, dialect Dialect, opts OrderQueryOptions, log zerolog.Logger) *OrderQuery {
	return &OrderQuery{
		db:                db,
		dialect:           dialect,
		minPaymentRecords: opts.MinPaymentRecords,
		timeout:           opts.QueryTimeout,
		log:               log.With().Str("component", "order_source").Logger(),
	}
}

func (q *OrderQuery) buildQuery(window DateRange) (string, []any) {
	var b strings.Builder
	var args []any
	b.WriteString(`SELECT sfo.increment_id
FROM sales_flat_order sfo
INNER JOIN sales_flat_order_payment sfop ON sfop.parent_id = sfo.entity_id
WHERE sfo.status = 'canceled'
  AND sfop.txn_id IS NOT NULL
  AND sfop.txn_id <> ''`)
	if !window.IsZero() {
		fmt.Fprintf(&b, "\n  AND sfo.created_at >= %s AND sfo.created_at < %s",
			q.dialect.placeholder(1), q.dialect.placeholder(2))
		args = append(args,
			window.From.Format(DateLayout),
			window.To.AddDate(0, 0, 1).Format(DateLayout))
	}
	b.WriteString("\nGROUP BY sfo.increment_id")
	if q.minPaymentRecords > 1 {
		fmt.Fprintf(&b, "\nHAVING COUNT(sfop.entity_id) >= %s", q.dialect.placeholder(len(args)+1))
		args = append(args, q.minPaymentRecords)
	}
	return b.String(), args
}

// FetchCanceledOrders returns the ids of canceled orders created inside window.
func (q *OrderQuery) FetchCanceledOrders(ctx context.Context, window DateRange) ([]string, error) {
	query, args := q.buildQuery(window)

	ctx, cancel := withTimeout(ctx, q.timeout)
	defer cancel()

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query canceled orders: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan canceled order: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate canceled orders: %w", err)
	}

	q.log.Info().Int("count", len(ids)).Str("window", window.String()).Msg("fetched canceled orders")
	return ids, nil
}
