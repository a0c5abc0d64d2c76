package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Store is the durable progress ledger. Every write is persisted before it returns.
type Store interface {
	// LoadAll returns every record keyed by order id.
	LoadAll(ctx context.Context) (map[string]Record, error)
	// Upsert replaces the record for orderID.
	Upsert(ctx context.Context, orderID string, status Status, paymentID, errorDetail string) error
	// BulkRegister adds a record for every id not yet present and returns how many were added.
	BulkRegister(ctx context.Context, orderIDs []string, status Status) (int, error)
}

// Outstanding returns the de-duplicated candidates, in source order, that
// still need work: no record yet, or a record still in Fetched.
func Outstanding(candidates []string, records map[string]Record) []string {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		rec, ok := records[id]
		if !ok || rec.Status == StatusFetched {
			out = append(out, id)
		}
	}
	return out
}

// Summarize counts records by status. With nil ids every record is counted;
// otherwise only the given ids, and ids without a record count as Missing.
func Summarize(records map[string]Record, ids []string) Summary {
	var s Summary
	count := func(r Record) {
		switch r.Status {
		case StatusFetched:
			s.Fetched++
		case StatusNoActionNeeded:
			s.NoActionNeeded++
		case StatusSuccess:
			s.Success++
		case StatusFailed:
			s.Failed++
		}
	}
	if ids == nil {
		s.Total = len(records)
		for _, r := range records {
			count(r)
		}
		return s
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		s.Total++
		r, ok := records[id]
		if !ok {
			s.Missing++
			continue
		}
		count(r)
	}
	return s
}

// Filter returns the records in the given status ordered by order id.
// An empty status selects every record.
func Filter(records map[string]Record, status Status) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

// Lookup returns the record for one order or ErrNotFound.
func Lookup(ctx context.Context, s Store, orderID string) (Record, error) {
	records, err := s.LoadAll(ctx)
	if err != nil {
		return Record{}, err
	}
	r, ok := records[orderID]
	if !ok {
		return Record{}, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	return r, nil
}

// Reset moves existing records back to Fetched so the next run re-evaluates
// them. Unknown ids are skipped. It returns the number of records reset.
func Reset(ctx context.Context, s Store, orderIDs []string) (int, error) {
	records, err := s.LoadAll(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range orderIDs {
		r, ok := records[id]
		if !ok || r.Status == StatusFetched {
			continue
		}
		if err := s.Upsert(ctx, id, StatusFetched, "", ""); err != nil {
			return n, fmt.Errorf("reset order %s: %w", id, err)
		}
		n++
	}
	return n, nil
}

// nextTimestamp keeps UpdatedAt monotonic per record.
func nextTimestamp(now, previous time.Time) time.Time {
	now = now.UTC()
	if now.Before(previous) {
		return previous
	}
	return now
}
