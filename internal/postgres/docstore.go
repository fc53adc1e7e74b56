package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-pos-orders/internal/docstore"
)

// DocStore keeps every collection in one documents table, one jsonb row per
// document.
type DocStore struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

var _ docstore.Store = (*DocStore)(nil)

func NewDocStore(pool *pgxpool.Pool, logger *slog.Logger) *DocStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocStore{pool: pool, log: logger.With("component", "docstore")}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	getSQL       = `SELECT data FROM documents WHERE collection = $1 AND id = $2`
	getForUpdate = getSQL + ` FOR UPDATE`
	getAllSQL    = `SELECT id, data FROM documents WHERE collection = $1 AND id = ANY($2::text[]) ORDER BY id`
	upsertSQL    = `
		INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`
	mergeSQL = `
		UPDATE documents SET data = data || $3::jsonb, updated_at = now()
		WHERE collection = $1 AND id = $2`
	incrementSQL = `
		UPDATE documents
		SET data = jsonb_set(data, ARRAY[$3::text], to_jsonb(COALESCE((data->>$3::text)::numeric, 0) + $4::numeric)),
		    updated_at = now()
		WHERE collection = $1 AND id = $2`
)

func get(ctx context.Context, q querier, sql, coll, id string) (docstore.Snapshot, error) {
	var data []byte
	err := q.QueryRow(ctx, sql, coll, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return docstore.Snapshot{Collection: coll, ID: id}, nil
	}
	if err != nil {
		return docstore.Snapshot{}, classify("get "+coll+"/"+id, err)
	}
	return docstore.Snapshot{Collection: coll, ID: id, Data: data}, nil
}

func (s *DocStore) Get(ctx context.Context, coll, id string) (docstore.Snapshot, error) {
	return get(ctx, s.pool, getSQL, coll, id)
}

func (s *DocStore) GetAll(ctx context.Context, coll string, ids []string) ([]docstore.Snapshot, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, getAllSQL, coll, ids)
	if err != nil {
		return nil, classify("get all "+coll, err)
	}
	return scanSnapshots(rows, coll)
}

func scanSnapshots(rows pgx.Rows, coll string) ([]docstore.Snapshot, error) {
	defer rows.Close()
	var out []docstore.Snapshot
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, classify("scan "+coll, err)
		}
		out = append(out, docstore.Snapshot{Collection: coll, ID: id, Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, classify("scan "+coll, err)
	}
	return out, nil
}

func (s *DocStore) Set(ctx context.Context, coll, id string, v any) error {
	w, err := docstore.SetDoc(coll, id, v)
	if err != nil {
		return err
	}
	return execWrite(ctx, s.pool, w)
}

func (s *DocStore) Update(ctx context.Context, coll, id string, fields map[string]any) error {
	return execWrite(ctx, s.pool, docstore.UpdateDoc(coll, id, fields))
}

func (s *DocStore) Increment(ctx context.Context, coll, id, field string, delta float64) error {
	return execWrite(ctx, s.pool, docstore.IncrementField(coll, id, field, delta))
}

func (s *DocStore) Query(ctx context.Context, q docstore.Query) ([]docstore.Snapshot, error) {
	sql, args, err := buildQuery(q)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify("query "+q.Collection, err)
	}
	return scanSnapshots(rows, q.Collection)
}

func (s *DocStore) Commit(ctx context.Context, writes ...docstore.Write) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, w := range writes {
			if err := execWrite(ctx, tx, w); err != nil {
				return err
			}
		}
		return nil
	})
}

type pgTx struct {
	tx  pgx.Tx
	buf docstore.TxBuffer
}

// Get locks the row until the transaction ends.
func (t *pgTx) Get(ctx context.Context, coll, id string) (docstore.Snapshot, error) {
	if err := t.buf.CheckRead(coll, id); err != nil {
		return docstore.Snapshot{}, err
	}
	return get(ctx, t.tx, getForUpdate, coll, id)
}

func (t *pgTx) Set(coll, id string, v any) error { return t.buf.Set(coll, id, v) }

func (t *pgTx) Update(coll, id string, fields map[string]any) error {
	return t.buf.Update(coll, id, fields)
}

func (t *pgTx) Increment(coll, id, field string, delta float64) error {
	return t.buf.Increment(coll, id, field, delta)
}

func (s *DocStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classify("begin", err)
	}
	t := &pgTx{tx: tx}
	if err := fn(ctx, t); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	for _, w := range t.buf.Writes() {
		if err := execWrite(ctx, tx, w); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w: %v", docstore.ErrAborted, err)
	}
	return nil
}

func execWrite(ctx context.Context, q querier, w docstore.Write) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	switch w.Kind {
	case docstore.WriteSet:
		tag, err = q.Exec(ctx, upsertSQL, w.Collection, w.ID, string(w.Data))
	case docstore.WriteUpdate:
		b, merr := json.Marshal(w.Fields)
		if merr != nil {
			return fmt.Errorf("encode %s/%s: %w", w.Collection, w.ID, merr)
		}
		tag, err = q.Exec(ctx, mergeSQL, w.Collection, w.ID, string(b))
	case docstore.WriteIncrement:
		if !fieldRe.MatchString(w.Field) {
			return fmt.Errorf("increment %s/%s: bad field %q", w.Collection, w.ID, w.Field)
		}
		// integral deltas stay integral in the stored JSON
		var delta any = w.Delta
		if w.Delta == math.Trunc(w.Delta) {
			delta = int64(w.Delta)
		}
		tag, err = q.Exec(ctx, incrementSQL, w.Collection, w.ID, w.Field, delta)
	default:
		return fmt.Errorf("unknown write kind %d", w.Kind)
	}
	if err != nil {
		return classify("write "+w.Collection+"/"+w.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", w.Collection, w.ID, docstore.ErrNotFound)
	}
	return nil
}

// classify maps driver errors onto the docstore sentinels. Anything that is
// not a server-side statement error is treated as the store being
// unreachable.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, docstore.ErrUnavailable, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%s: %w: %v", op, docstore.ErrAborted, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, docstore.ErrUnavailable, err)
}
