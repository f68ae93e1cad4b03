package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/queryir"
	"github.com/roach88/tether/internal/repo"
)

// Get returns the object stored under (typ, id). NoFetch and Raw have no
// effect: the store never consults a resource.
func (s *Store) Get(ctx context.Context, typ, id string, opts *repo.GetOptions) (*ir.Object, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT type, id, version, data
		FROM objects
		WHERE type = ? AND id = ?
	`, typ, id)

	obj, err := scanObject(row)
	if errors.Is(err, sql.ErrNoRows) {
		if opts != nil && opts.AllowNotFound {
			return nil, nil
		}
		return nil, repo.NotFound("get", typ, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", typ, id, err)
	}
	return obj, nil
}

// GetVersion returns the version counter of a stored object.
func (s *Store) GetVersion(ctx context.Context, typ, id string) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, `
		SELECT version FROM objects WHERE type = ? AND id = ?
	`, typ, id).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, repo.NotFound("get version", typ, id)
	}
	if err != nil {
		return 0, fmt.Errorf("get version %s/%s: %w", typ, id, err)
	}
	return version, nil
}

// Search compiles q to SQL and returns matching objects ordered by id.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) Search(ctx context.Context, q queryir.Select, opts *repo.GetOptions) ([]*ir.Object, error) {
	query, params, err := s.compiler.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", q.From, err)
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", q.From, err)
	}
	defer rows.Close()

	objects := []*ir.Object{}
	for rows.Next() {
		obj, err := scanObject(rows)
		if err != nil {
			return nil, err
		}
		objects = append(objects, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", q.From, err)
	}
	return objects, nil
}

// Count returns the number of stored objects of a type.
func (s *Store) Count(ctx context.Context, typ string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM objects WHERE type = ?`, typ).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", typ, err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanObject scans one objects row. sql.ErrNoRows passes through unwrapped.
func scanObject(row scanner) (*ir.Object, error) {
	var obj ir.Object
	var data string
	if err := row.Scan(&obj.Type, &obj.ID, &obj.Version, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan object: %w", err)
	}
	attrs, err := unmarshalAttrs(data)
	if err != nil {
		return nil, err
	}
	obj.Attrs = attrs
	return &obj, nil
}
