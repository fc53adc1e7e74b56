package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"
)

// Fault points understood by Memory.SetFault.
const (
	FaultGet         = "get"
	FaultGetAll      = "getAll"
	FaultSet         = "set"
	FaultUpdate      = "update"
	FaultIncrement   = "increment"
	FaultQuery       = "query"
	FaultCommit      = "commit"
	FaultTransaction = "transaction"
	FaultTxGet       = "tx.get"
	FaultWatch       = "watch"
)

// FaultFunc decides whether an operation on coll fails. Returning nil lets
// the operation through.
type FaultFunc func(op, coll string) error

const memSubBuffer = 256

// Memory is an in-process Store. Writes and transactions are serialized,
// which makes every transaction serializable. It backs tests and local runs
// without Postgres.
type Memory struct {
	writeMu sync.Mutex

	mu    sync.RWMutex
	docs  map[string]map[string]json.RawMessage
	subs  map[string]map[*memSub]struct{}
	fault FaultFunc
}

type memSub struct {
	changes chan Change
	errs    chan error
}

func NewMemory() *Memory {
	return &Memory{
		docs: map[string]map[string]json.RawMessage{},
		subs: map[string]map[*memSub]struct{}{},
	}
}

// SetFault installs fn as the failure hook; nil clears it.
func (m *Memory) SetFault(fn FaultFunc) {
	m.mu.Lock()
	m.fault = fn
	m.mu.Unlock()
}

func (m *Memory) fail(op, coll string) error {
	m.mu.RLock()
	fn := m.fault
	m.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn(op, coll)
}

func (m *Memory) read(coll, id string) Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := Snapshot{Collection: coll, ID: id}
	if d, ok := m.docs[coll][id]; ok {
		snap.Data = append(json.RawMessage(nil), d...)
	}
	return snap
}

func (m *Memory) Get(ctx context.Context, coll, id string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	if err := m.fail(FaultGet, coll); err != nil {
		return Snapshot{}, err
	}
	return m.read(coll, id), nil
}

func (m *Memory) GetAll(ctx context.Context, coll string, ids []string) ([]Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.fail(FaultGetAll, coll); err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(ids))
	seen := map[string]bool{}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if snap := m.read(coll, id); snap.Exists() {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (m *Memory) Set(ctx context.Context, coll, id string, v any) error {
	if err := m.fail(FaultSet, coll); err != nil {
		return err
	}
	w, err := SetDoc(coll, id, v)
	if err != nil {
		return err
	}
	return m.commit(ctx, []Write{w})
}

func (m *Memory) Update(ctx context.Context, coll, id string, fields map[string]any) error {
	if err := m.fail(FaultUpdate, coll); err != nil {
		return err
	}
	return m.commit(ctx, []Write{UpdateDoc(coll, id, fields)})
}

func (m *Memory) Increment(ctx context.Context, coll, id, field string, delta float64) error {
	if err := m.fail(FaultIncrement, coll); err != nil {
		return err
	}
	return m.commit(ctx, []Write{IncrementField(coll, id, field, delta)})
}

func (m *Memory) Commit(ctx context.Context, writes ...Write) error {
	if err := m.fail(FaultCommit, ""); err != nil {
		return err
	}
	return m.commit(ctx, writes)
}

func (m *Memory) commit(ctx context.Context, writes []Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.apply(writes)
}

type memTx struct {
	m   *Memory
	buf TxBuffer
}

func (t *memTx) Get(ctx context.Context, coll, id string) (Snapshot, error) {
	if err := t.buf.CheckRead(coll, id); err != nil {
		return Snapshot{}, err
	}
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	if err := t.m.fail(FaultTxGet, coll); err != nil {
		return Snapshot{}, err
	}
	return t.m.read(coll, id), nil
}

func (t *memTx) Set(coll, id string, v any) error { return t.buf.Set(coll, id, v) }

func (t *memTx) Update(coll, id string, fields map[string]any) error {
	return t.buf.Update(coll, id, fields)
}

func (t *memTx) Increment(coll, id, field string, delta float64) error {
	return t.buf.Increment(coll, id, field, delta)
}

// RunTransaction holds the write lock for the whole of fn, so fn must not
// call non-transactional writes on the same Memory.
func (m *Memory) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := m.fail(FaultTransaction, ""); err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	tx := &memTx{m: m}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrAborted, err)
	}
	return m.apply(tx.buf.Writes())
}

type docKey struct{ coll, id string }

// apply stages every write first so a failing write leaves nothing behind.
func (m *Memory) apply(writes []Write) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	staged := map[docKey]json.RawMessage{}
	existed := map[docKey]bool{}
	order := make([]docKey, 0, len(writes))
	for _, w := range writes {
		k := docKey{w.Collection, w.ID}
		cur, ok := staged[k]
		if !ok {
			cur = m.docs[w.Collection][w.ID]
			existed[k] = cur != nil
			order = append(order, k)
		}
		next, err := applyWrite(cur, w)
		if err != nil {
			return err
		}
		staged[k] = next
	}

	for _, k := range order {
		if m.docs[k.coll] == nil {
			m.docs[k.coll] = map[string]json.RawMessage{}
		}
		m.docs[k.coll][k.id] = staged[k]
		typ := ChangeModified
		if !existed[k] {
			typ = ChangeAdded
		}
		m.publish(k.coll, Change{Type: typ, Doc: Snapshot{
			Collection: k.coll,
			ID:         k.id,
			Data:       append(json.RawMessage(nil), staged[k]...),
		}})
	}
	return nil
}

func applyWrite(cur json.RawMessage, w Write) (json.RawMessage, error) {
	switch w.Kind {
	case WriteSet:
		return w.Data, nil
	case WriteUpdate, WriteIncrement:
		if cur == nil {
			return nil, fmt.Errorf("%s/%s: %w", w.Collection, w.ID, ErrNotFound)
		}
		var doc map[string]any
		if err := json.Unmarshal(cur, &doc); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", w.Collection, w.ID, err)
		}
		if w.Kind == WriteUpdate {
			for k, v := range w.Fields {
				doc[k] = v
			}
		} else {
			n := 0.0
			if raw, ok := doc[w.Field]; ok && raw != nil {
				f, ok := raw.(float64)
				if !ok {
					return nil, fmt.Errorf("increment %s/%s: field %q is not numeric", w.Collection, w.ID, w.Field)
				}
				n = f
			}
			doc[w.Field] = n + w.Delta
		}
		return json.Marshal(doc)
	default:
		return nil, fmt.Errorf("unknown write kind %d", w.Kind)
	}
}

// publish must be called with m.mu held.
func (m *Memory) publish(coll string, ch Change) {
	for s := range m.subs[coll] {
		select {
		case s.changes <- ch:
		default:
			s.errs <- ErrSubscriberLagging
			close(s.changes)
			delete(m.subs[coll], s)
		}
	}
}

func (m *Memory) Watch(ctx context.Context, coll string) (*Subscription, error) {
	if err := m.fail(FaultWatch, coll); err != nil {
		return nil, err
	}
	s := &memSub{
		changes: make(chan Change, memSubBuffer),
		errs:    make(chan error, 1),
	}
	m.mu.Lock()
	if m.subs[coll] == nil {
		m.subs[coll] = map[*memSub]struct{}{}
	}
	m.subs[coll][s] = struct{}{}
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[coll][s]; ok {
			delete(m.subs[coll], s)
			close(s.changes)
		}
	}
	stop := context.AfterFunc(ctx, cancel)
	return NewSubscription(s.changes, s.errs, func() {
		stop()
		cancel()
	}), nil
}

func (m *Memory) Query(ctx context.Context, q Query) ([]Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.fail(FaultQuery, q.Collection); err != nil {
		return nil, err
	}

	type row struct {
		snap Snapshot
		doc  map[string]any
	}
	m.mu.RLock()
	var rows []row
	for id, data := range m.docs[q.Collection] {
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			continue
		}
		ok := true
		for _, f := range q.Filters {
			if !matches(doc, f) {
				ok = false
				break
			}
		}
		if ok {
			rows = append(rows, row{
				snap: Snapshot{Collection: q.Collection, ID: id, Data: append(json.RawMessage(nil), data...)},
				doc:  doc,
			})
		}
	}
	m.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if q.OrderBy == "" {
			return rows[i].snap.ID < rows[j].snap.ID
		}
		c := compareDocValues(rows[i].doc[q.OrderBy], rows[j].doc[q.OrderBy])
		if q.Desc {
			return c > 0
		}
		return c < 0
	})
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	out := make([]Snapshot, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.snap)
	}
	return out, nil
}

func matches(doc map[string]any, f Filter) bool {
	v, ok := doc[f.Field]
	if !ok {
		return false
	}
	if f.Op == OpIn {
		rv := reflect.ValueOf(f.Value)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return false
		}
		for i := 0; i < rv.Len(); i++ {
			if c, ok := compareFilterValue(v, rv.Index(i).Interface()); ok && c == 0 {
				return true
			}
		}
		return false
	}
	c, ok := compareFilterValue(v, f.Value)
	if !ok {
		return false
	}
	switch f.Op {
	case OpEq:
		return c == 0
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	}
	return false
}

// compareFilterValue compares a decoded JSON value against a Go filter value.
func compareFilterValue(docVal, want any) (int, bool) {
	if t, ok := want.(time.Time); ok {
		s, ok := docVal.(string)
		if !ok {
			return 0, false
		}
		dt, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return 0, false
		}
		return dt.Compare(t), true
	}
	rv := reflect.ValueOf(want)
	switch rv.Kind() {
	case reflect.String:
		s, ok := docVal.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(s, rv.String()), true
	case reflect.Bool:
		b, ok := docVal.(bool)
		if !ok || b != rv.Bool() {
			return 1, ok
		}
		return 0, true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return compareNumber(docVal, float64(rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return compareNumber(docVal, float64(rv.Uint()))
	case reflect.Float32, reflect.Float64:
		return compareNumber(docVal, rv.Float())
	}
	return 0, false
}

func compareNumber(docVal any, want float64) (int, bool) {
	f, ok := docVal.(float64)
	if !ok {
		return 0, false
	}
	switch {
	case f < want:
		return -1, true
	case f > want:
		return 1, true
	}
	return 0, true
}

func compareDocValues(a, b any) int {
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			c, _ := compareNumber(av, bv)
			return c
		}
	case string:
		if bv, ok := b.(string); ok {
			at, aErr := time.Parse(time.RFC3339Nano, av)
			bt, bErr := time.Parse(time.RFC3339Nano, bv)
			if aErr == nil && bErr == nil {
				return at.Compare(bt)
			}
			return strings.Compare(av, bv)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
