package ledger

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Header is the fixed first row of the ledger file.
var Header = []string{"order_id", "timestamp", "status", "payment_id", "error_message"}

// CSVStore keeps the ledger in a human-readable CSV file. Each write rewrites
// the whole file through a temp file and an atomic rename.
type CSVStore struct {
	path    string
	log     zerolog.Logger
	mu      sync.Mutex
	nowFunc func() time.Time
}

// NewCSVStore returns a store backed by the file at path. The file is created on first write.
func NewCSVStore(path string, log zerolog.Logger) *CSVStore {
	return &CSVStore{
		path:    path,
		log:     log.With().Str("component", "ledger").Str("path", path).Logger(),
		nowFunc: time.Now,
	}
}

// Path returns the ledger file location.
func (s *CSVStore) Path() string { return s.path }

// LoadAll reads the ledger. An unreadable or corrupt file yields an empty map and a warning.
func (s *CSVStore) LoadAll(ctx context.Context) (map[string]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.readRows()
	if errors.Is(err, os.ErrNotExist) {
		return map[string]Record{}, nil
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("ledger unreadable, starting from an empty ledger")
		return map[string]Record{}, nil
	}
	out := make(map[string]Record, len(rows))
	for _, r := range rows {
		out[r.OrderID] = r
	}
	return out, nil
}

// Upsert replaces the record for orderID and persists the file before returning.
func (s *CSVStore) Upsert(ctx context.Context, orderID string, status Status, paymentID, errorDetail string) error {
	rec := Record{OrderID: orderID, Status: status, PaymentID: paymentID, ErrorDetail: errorDetail}
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.loadForWrite()
	if err != nil {
		return err
	}
	idx := slices.IndexFunc(rows, func(r Record) bool { return r.OrderID == orderID })
	if idx >= 0 {
		rec.UpdatedAt = nextTimestamp(s.nowFunc(), rows[idx].UpdatedAt)
		rows[idx] = rec
	} else {
		rec.UpdatedAt = nextTimestamp(s.nowFunc(), time.Time{})
		rows = append(rows, rec)
	}
	if err := s.writeRows(rows); err != nil {
		return fmt.Errorf("upsert order %s: %w", orderID, err)
	}
	return nil
}

// BulkRegister appends a record for each id not already in the ledger.
// Existing records are left untouched. The file is written once.
func (s *CSVStore) BulkRegister(ctx context.Context, orderIDs []string, status Status) (int, error) {
	for _, id := range orderIDs {
		if err := (Record{OrderID: id, Status: status}).Validate(); err != nil {
			return 0, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.loadForWrite()
	if err != nil {
		return 0, err
	}
	present := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		present[r.OrderID] = struct{}{}
	}
	now := nextTimestamp(s.nowFunc(), time.Time{})
	added := 0
	for _, id := range orderIDs {
		if _, ok := present[id]; ok {
			continue
		}
		present[id] = struct{}{}
		rows = append(rows, Record{OrderID: id, Status: status, UpdatedAt: now})
		added++
	}
	if added == 0 {
		return 0, nil
	}
	if err := s.writeRows(rows); err != nil {
		return 0, fmt.Errorf("bulk register: %w", err)
	}
	return added, nil
}

// loadForWrite reads the current rows for a read-modify-write. A corrupt
// file is moved aside so the rewrite never destroys it.
func (s *CSVStore) loadForWrite() ([]Record, error) {
	rows, err := s.readRows()
	if err == nil {
		return rows, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	backup := fmt.Sprintf("%s.corrupt-%d", s.path, s.nowFunc().Unix())
	if rerr := os.Rename(s.path, backup); rerr != nil {
		return nil, fmt.Errorf("back up corrupt ledger: %w", rerr)
	}
	s.log.Warn().Err(err).Str("backup", backup).Msg("corrupt ledger moved aside")
	return nil, nil
}

func (s *CSVStore) readRows() ([]Record, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(Header)

	head, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if !slices.Equal(head, Header) {
		return nil, fmt.Errorf("unexpected header %v", head)
	}

	var rows []Record
	index := map[string]int{}
	for {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		rec, err := parseRow(fields)
		if err != nil {
			line, _ := r.FieldPos(0)
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		// a repeated order id means the later row wins
		if i, ok := index[rec.OrderID]; ok {
			rows[i] = rec
			continue
		}
		index[rec.OrderID] = len(rows)
		rows = append(rows, rec)
	}
	return rows, nil
}

// legacyTimeLayout is the zoneless ISO form written by earlier versions of
// the tool. Such values are read as UTC.
const legacyTimeLayout = "2006-01-02T15:04:05.999999"

func parseTimestamp(v string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err == nil {
		return ts, nil
	}
	if legacy, lerr := time.Parse(legacyTimeLayout, v); lerr == nil {
		return legacy, nil
	}
	return time.Time{}, fmt.Errorf("parse timestamp: %w", err)
}

func parseRow(fields []string) (Record, error) {
	status, err := ParseStatus(fields[2])
	if err != nil {
		return Record{}, err
	}
	ts, err := parseTimestamp(fields[1])
	if err != nil {
		return Record{}, err
	}
	rec := Record{
		OrderID:     fields[0],
		UpdatedAt:   ts.UTC(),
		Status:      status,
		PaymentID:   fields[3],
		ErrorDetail: fields[4],
	}
	if rec.OrderID == "" {
		return Record{}, errors.New("empty order id")
	}
	return rec, nil
}

func (s *CSVStore) writeRows(rows []Record) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	w := csv.NewWriter(tmp)
	if err := w.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range rows {
		if err := w.Write([]string{
			r.OrderID,
			r.UpdatedAt.UTC().Format(time.RFC3339Nano),
			string(r.Status),
			r.PaymentID,
			r.ErrorDetail,
		}); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}
	committed = true
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open ledger dir: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync ledger dir: %w", err)
	}
	return nil
}
