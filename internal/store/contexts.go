package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrContextNotFound is returned when no context is stored under an id.
var ErrContextNotFound = errors.New("context not found")

// ContextRecord is a stored change context in portable form. Phase, Status
// and Seq are copied out of the portable bytes so listings need not decode
// them.
type ContextRecord struct {
	ID     string
	Phase  string
	Status string
	Seq    int64
	Data   []byte
}

// SaveContext inserts or replaces a context record.
func (s *Store) SaveContext(ctx context.Context, rec ContextRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contexts (id, phase, status, seq, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			phase = excluded.phase,
			status = excluded.status,
			seq = excluded.seq,
			data = excluded.data
	`, rec.ID, rec.Phase, rec.Status, rec.Seq, rec.Data)
	if err != nil {
		return fmt.Errorf("save context %s: %w", rec.ID, err)
	}
	return nil
}

// LoadContext returns the record stored under id.
func (s *Store) LoadContext(ctx context.Context, id string) (ContextRecord, error) {
	var rec ContextRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, phase, status, seq, data FROM contexts WHERE id = ?
	`, id).Scan(&rec.ID, &rec.Phase, &rec.Status, &rec.Seq, &rec.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return ContextRecord{}, fmt.Errorf("load context %s: %w", id, ErrContextNotFound)
	}
	if err != nil {
		return ContextRecord{}, fmt.Errorf("load context %s: %w", id, err)
	}
	return rec, nil
}

// ListContexts returns records ordered by seq, then id. An empty phase lists
// every context.
func (s *Store) ListContexts(ctx context.Context, phase string) ([]ContextRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, phase, status, seq, data
		FROM contexts
		WHERE ? = '' OR phase = ?
		ORDER BY seq ASC, id ASC COLLATE BINARY
	`, phase, phase)
	if err != nil {
		return nil, fmt.Errorf("list contexts: %w", err)
	}
	defer rows.Close()

	records := []ContextRecord{}
	for rows.Next() {
		var rec ContextRecord
		if err := rows.Scan(&rec.ID, &rec.Phase, &rec.Status, &rec.Seq, &rec.Data); err != nil {
			return nil, fmt.Errorf("scan context: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contexts: %w", err)
	}
	return records, nil
}

// DeleteContext removes a context record. Deleting a missing record is not
// an error.
func (s *Store) DeleteContext(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM contexts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete context %s: %w", id, err)
	}
	return nil
}

// MaxContextSeq returns the highest stored context seq, or 0 when empty.
func (s *Store) MaxContextSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM contexts`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("max context seq: %w", err)
	}
	return seq.Int64, nil
}
