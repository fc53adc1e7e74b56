// Package docstore defines the contract of the remote document store the
// order pipeline writes to: named collections of JSON documents keyed by id,
// point reads and writes, filtered queries, a field-increment primitive,
// atomic batches, read-then-write transactions and change subscriptions.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("document not found")
	ErrUnavailable    = errors.New("document store unavailable")
	ErrReadAfterWrite = errors.New("transaction read issued after a write")
	ErrAborted        = errors.New("transaction aborted")
)

// Snapshot is a document as read from the store. Data is nil when the
// document does not exist.
type Snapshot struct {
	Collection string
	ID         string
	Data       json.RawMessage
}

func (s Snapshot) Exists() bool { return s.Data != nil }

func (s Snapshot) DataTo(v any) error {
	if !s.Exists() {
		return fmt.Errorf("%s/%s: %w", s.Collection, s.ID, ErrNotFound)
	}
	if err := json.Unmarshal(s.Data, v); err != nil {
		return fmt.Errorf("decode %s/%s: %w", s.Collection, s.ID, err)
	}
	return nil
}

type Op string

const (
	OpEq  Op = "=="
	OpLt  Op = "<"
	OpLte Op = "<="
	OpGt  Op = ">"
	OpGte Op = ">="
	OpIn  Op = "in"
)

type Filter struct {
	Field string
	Op    Op
	Value any
}

type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	OrderAs    SortKind
	Desc       bool
	Limit      int
}

// SortKind says how the OrderBy field is compared.
type SortKind int

const (
	SortDefault SortKind = iota
	SortTime
	SortNumber
)

func (q Query) Where(field string, op Op, v any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Op: op, Value: v})
	return q
}

type WriteKind int

const (
	WriteSet WriteKind = iota + 1
	WriteUpdate
	WriteIncrement
)

// Write is one mutation of a batch or transaction.
type Write struct {
	Kind       WriteKind
	Collection string
	ID         string
	Data       json.RawMessage // WriteSet
	Fields     map[string]any  // WriteUpdate
	Field      string          // WriteIncrement
	Delta      float64         // WriteIncrement
}

func SetDoc(coll, id string, v any) (Write, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Write{}, fmt.Errorf("encode %s/%s: %w", coll, id, err)
	}
	return Write{Kind: WriteSet, Collection: coll, ID: id, Data: b}, nil
}

func UpdateDoc(coll, id string, fields map[string]any) Write {
	return Write{Kind: WriteUpdate, Collection: coll, ID: id, Fields: fields}
}

func IncrementField(coll, id, field string, delta float64) Write {
	return Write{Kind: WriteIncrement, Collection: coll, ID: id, Field: field, Delta: delta}
}

// Tx is the handle passed to a transaction function. Every Get must happen
// before the first write; writes are buffered and applied on commit.
type Tx interface {
	Get(ctx context.Context, coll, id string) (Snapshot, error)
	Set(coll, id string, v any) error
	Update(coll, id string, fields map[string]any) error
	Increment(coll, id, field string, delta float64) error
}

type Store interface {
	// Get returns a snapshot with nil Data when the document is absent.
	Get(ctx context.Context, coll, id string) (Snapshot, error)
	// GetAll returns the existing documents among ids.
	GetAll(ctx context.Context, coll string, ids []string) ([]Snapshot, error)
	Set(ctx context.Context, coll, id string, v any) error
	// Update merges top-level fields into an existing document.
	Update(ctx context.Context, coll, id string, fields map[string]any) error
	Increment(ctx context.Context, coll, id, field string, delta float64) error
	Query(ctx context.Context, q Query) ([]Snapshot, error)
	// Commit applies writes atomically.
	Commit(ctx context.Context, writes ...Write) error
	// RunTransaction runs fn and commits its buffered writes atomically.
	// A failed transaction leaves no partial writes.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Watch(ctx context.Context, coll string) (*Subscription, error)
}

// TxBuffer implements the write side of Tx for store implementations and
// enforces the reads-before-writes rule.
type TxBuffer struct {
	writes []Write
}

func (b *TxBuffer) CheckRead(coll, id string) error {
	if len(b.writes) > 0 {
		return fmt.Errorf("get %s/%s: %w", coll, id, ErrReadAfterWrite)
	}
	return nil
}

func (b *TxBuffer) Set(coll, id string, v any) error {
	w, err := SetDoc(coll, id, v)
	if err != nil {
		return err
	}
	b.writes = append(b.writes, w)
	return nil
}

func (b *TxBuffer) Update(coll, id string, fields map[string]any) error {
	b.writes = append(b.writes, UpdateDoc(coll, id, fields))
	return nil
}

func (b *TxBuffer) Increment(coll, id, field string, delta float64) error {
	b.writes = append(b.writes, IncrementField(coll, id, field, delta))
	return nil
}

func (b *TxBuffer) Writes() []Write { return b.writes }
