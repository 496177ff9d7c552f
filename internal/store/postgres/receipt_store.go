package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/poolsettle/internal/domain"
)

// ReceiptStore journals verified ledger receipts.
type ReceiptStore struct {
	pool *pgxpool.Pool
}

// NewReceiptStore creates a ReceiptStore backed by the given connection pool.
func NewReceiptStore(pool *pgxpool.Pool) *ReceiptStore {
	return &ReceiptStore{pool: pool}
}

const receiptColumns = `id, tx_hash, block_number, contract, address, method, events, confirmed_at, created_at`

// Append stores r. A receipt already journaled is ignored.
func (s *ReceiptStore) Append(ctx context.Context, r domain.Receipt) error {
	events, err := json.Marshal(r.Events)
	if err != nil {
		return fmt.Errorf("postgres: marshal receipt events: %w", err)
	}
	const query = `
		INSERT INTO ledger_receipts (tx_hash, block_number, contract, address, method, events, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tx_hash) DO NOTHING`
	_, err = s.pool.Exec(ctx, query,
		r.TxHash, int64(r.BlockNumber), r.Contract, r.Address, r.Method, events, r.ConfirmedAt)
	if err != nil {
		return fmt.Errorf("postgres: append receipt %s: %w", r.TxHash, err)
	}
	return nil
}

// List returns journaled receipts, newest first.
func (s *ReceiptStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.ReceiptEntry, error) {
	query, args := listQuery(`SELECT `+receiptColumns+` FROM ledger_receipts WHERE TRUE`, opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list receipts: %w", err)
	}
	return collectReceipts(rows)
}

// ListBefore returns up to limit receipts journaled before the cutoff,
// oldest first.
func (s *ReceiptStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.ReceiptEntry, error) {
	query := `SELECT ` + receiptColumns + ` FROM ledger_receipts WHERE created_at < $1 ORDER BY created_at, id`
	args := []any{before}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list receipts before %s: %w", before.Format(time.RFC3339), err)
	}
	return collectReceipts(rows)
}

// DeleteBefore removes receipts journaled before the cutoff.
func (s *ReceiptStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM ledger_receipts WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete receipts before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func collectReceipts(rows pgx.Rows) ([]domain.ReceiptEntry, error) {
	defer rows.Close()
	var entries []domain.ReceiptEntry
	for rows.Next() {
		var (
			e      domain.ReceiptEntry
			block  int64
			events []byte
		)
		err := rows.Scan(&e.ID, &e.Receipt.TxHash, &block, &e.Receipt.Contract, &e.Receipt.Address,
			&e.Receipt.Method, &events, &e.Receipt.ConfirmedAt, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan receipt: %w", err)
		}
		e.Receipt.BlockNumber = uint64(block)
		if e.Receipt.Events, err = decodeEvents(events); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list receipts: %w", err)
	}
	return entries, nil
}

// decodeEvents keeps integer event values exact by decoding them as
// json.Number.
func decodeEvents(raw []byte) ([]domain.Event, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var events []domain.Event
	if err := dec.Decode(&events); err != nil {
		return nil, fmt.Errorf("postgres: decode receipt events: %w", err)
	}
	return events, nil
}

var _ domain.ReceiptStore = (*ReceiptStore)(nil)
