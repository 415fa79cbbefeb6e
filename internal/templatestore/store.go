// Package templatestore persists built templates keyed by scope, so the
// template service can answer lookups without re-running the clustering.
package templatestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/template"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/database"
)

const schema = `CREATE TABLE IF NOT EXISTS templates (
    scope    TEXT PRIMARY KEY,
    run_id   TEXT NOT NULL,
    source   TEXT NOT NULL,
    data     TEXT NOT NULL,
    built_at BIGINT NOT NULL
)`

const upsert = `INSERT INTO templates (scope, run_id, source, data, built_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (scope) DO UPDATE SET
    run_id = excluded.run_id,
    source = excluded.source,
    data = excluded.data,
    built_at = excluded.built_at`

// Record is one stored template.
type Record struct {
	Scope    string                            `json:"scope"`
	RunID    string                            `json:"run_id"`
	Source   string                            `json:"source"`
	BuiltAt  time.Time                         `json:"built_at"`
	Template *template.VirtualDocumentTemplate `json:"template,omitempty"`
}

// Store keeps the latest template per scope key ("global", "type:<uri>").
type Store struct {
	db     *database.Client
	logger *slog.Logger
}

// New creates the templates table when it does not exist.
func New(ctx context.Context, db *database.Client) (*Store, error) {
	if _, err := db.DB.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("creating templates table: %w", err)
	}
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "template-store"),
	}, nil
}

// Save replaces the stored template of each record's scope in one
// transaction.
func (s *Store) Save(ctx context.Context, records ...Record) error {
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		q := s.db.Rebind(upsert)
		for _, r := range records {
			data, err := template.Marshal(r.Template)
			if err != nil {
				return fmt.Errorf("marshaling template %s: %w", r.Scope, err)
			}
			builtAt := r.BuiltAt
			if builtAt.IsZero() {
				builtAt = time.Now()
			}
			if _, err := tx.ExecContext(ctx, q, r.Scope, r.RunID, r.Source, string(data), builtAt.UTC().UnixMilli()); err != nil {
				return fmt.Errorf("saving template %s: %w", r.Scope, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("templates saved", "count", len(records))
	return nil
}

// Load returns the template stored for scope. Returns nil, nil if there is
// none.
func (s *Store) Load(ctx context.Context, scope string) (*Record, error) {
	var (
		r       = Record{Scope: scope}
		data    string
		builtAt int64
	)
	err := s.db.DB.QueryRowContext(ctx,
		s.db.Rebind(`SELECT run_id, source, data, built_at FROM templates WHERE scope = $1`),
		scope,
	).Scan(&r.RunID, &r.Source, &data, &builtAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying template %s: %w", scope, err)
	}
	t, err := template.Unmarshal([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("decoding template %s: %w", scope, err)
	}
	r.Template = t
	r.BuiltAt = time.UnixMilli(builtAt).UTC()
	return &r, nil
}

// List returns every stored scope without the template bodies, ordered by
// scope.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT scope, run_id, source, built_at FROM templates ORDER BY scope`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r       Record
			builtAt int64
		)
		if err := rows.Scan(&r.Scope, &r.RunID, &r.Source, &builtAt); err != nil {
			return nil, fmt.Errorf("scanning template row: %w", err)
		}
		r.BuiltAt = time.UnixMilli(builtAt).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRun removes templates written by runs other than keep. A rebuild
// calls it so that types dropped from the graph do not linger.
func (s *Store) DeleteRun(ctx context.Context, keep string) (int64, error) {
	res, err := s.db.DB.ExecContext(ctx, s.db.Rebind(`DELETE FROM templates WHERE run_id <> $1`), keep)
	if err != nil {
		return 0, fmt.Errorf("pruning templates: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned templates: %w", err)
	}
	if n > 0 {
		s.logger.Info("stale templates pruned", "count", n, "run_id", keep)
	}
	return n, nil
}
