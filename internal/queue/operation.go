package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

type Kind string

const (
	KindCreateOrder       Kind = "createOrder"
	KindUpdateOrderStatus Kind = "updateOrderStatus"
	KindDecrementStock    Kind = "decrementStock"
)

// Payload is the closed set of queued mutations. Consumers switch on the
// concrete type.
type Payload interface {
	Kind() Kind
	isPayload()
}

// CreateOrder carries an order snapshot plus the lines whose stock has to
// be decremented when it is written. Order.Items may be empty when the
// order was queued before its lines were resolved against the menu.
type CreateOrder struct {
	Order            orders.Order       `json:"order"`
	ItemsToDecrement []orders.OrderItem `json:"itemsToDecrement"`
}

type UpdateOrderStatus struct {
	ID        string        `json:"id"`
	Status    orders.Status `json:"status"`
	ErrorType string        `json:"error_type,omitempty"`
	Reason    string        `json:"reason,omitempty"`
}

type DecrementStock struct {
	ItemID string   `json:"id"`
	Qty    Quantity `json:"qty"`
}

// Unknown holds a record whose type this build does not recognise.
type Unknown struct {
	Type Kind
	Raw  json.RawMessage
}

func (CreateOrder) Kind() Kind       { return KindCreateOrder }
func (UpdateOrderStatus) Kind() Kind { return KindUpdateOrderStatus }
func (DecrementStock) Kind() Kind    { return KindDecrementStock }
func (u Unknown) Kind() Kind         { return u.Type }

func (CreateOrder) isPayload()       {}
func (UpdateOrderStatus) isPayload() {}
func (DecrementStock) isPayload()    {}
func (Unknown) isPayload()           {}

var ErrMalformedQuantity = errors.New("malformed quantity")

// Quantity keeps the raw JSON value, so a malformed quantity still decodes
// and is rejected when the operation is applied.
type Quantity json.RawMessage

func Qty(n int) Quantity { return Quantity(strconv.Itoa(n)) }

func (q Quantity) MarshalJSON() ([]byte, error) {
	if len(q) == 0 {
		return []byte("null"), nil
	}
	return q, nil
}

func (q *Quantity) UnmarshalJSON(b []byte) error {
	*q = append((*q)[:0], b...)
	return nil
}

// Int parses the quantity as a whole, non-negative number; numeric strings
// are accepted. Stock counts are integers, so fractions are malformed.
func (q Quantity) Int() (int, error) {
	s := strings.TrimSpace(string(q))
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %s", ErrMalformedQuantity, string(q))
	}
	return int(f), nil
}

type Operation struct {
	ID            string
	Payload       Payload
	Attempts      int
	NextAttemptAt time.Time
	CreatedAt     time.Time
}

func (o Operation) Kind() Kind {
	if o.Payload == nil {
		return ""
	}
	return o.Payload.Kind()
}

// record is the persisted representation; timestamps are epoch ms.
type record struct {
	ID            string          `json:"id"`
	Type          Kind            `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int             `json:"attempts"`
	NextAttemptAt int64           `json:"nextAttemptAt"`
	CreatedAt     int64           `json:"createdAt"`
}

func (o Operation) MarshalJSON() ([]byte, error) {
	if o.Payload == nil {
		return nil, fmt.Errorf("operation %s: nil payload", o.ID)
	}
	var raw json.RawMessage
	if u, ok := o.Payload.(Unknown); ok {
		raw = u.Raw
	} else {
		b, err := json.Marshal(o.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		raw = b
	}
	return json.Marshal(record{
		ID:            o.ID,
		Type:          o.Payload.Kind(),
		Payload:       raw,
		Attempts:      o.Attempts,
		NextAttemptAt: o.NextAttemptAt.UnixMilli(),
		CreatedAt:     o.CreatedAt.UnixMilli(),
	})
}

func (o *Operation) UnmarshalJSON(b []byte) error {
	var r record
	if err := json.Unmarshal(b, &r); err != nil {
		return err
	}
	if r.ID == "" {
		return errors.New("operation record without id")
	}
	p, err := decodePayload(r.Type, r.Payload)
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", r.Type, err)
	}
	*o = Operation{
		ID:            r.ID,
		Payload:       p,
		Attempts:      r.Attempts,
		NextAttemptAt: time.UnixMilli(r.NextAttemptAt).UTC(),
		CreatedAt:     time.UnixMilli(r.CreatedAt).UTC(),
	}
	return nil
}

func decodePayload(kind Kind, raw json.RawMessage) (Payload, error) {
	switch kind {
	case KindCreateOrder:
		var p CreateOrder
		err := json.Unmarshal(raw, &p)
		return p, err
	case KindUpdateOrderStatus:
		var p UpdateOrderStatus
		err := json.Unmarshal(raw, &p)
		return p, err
	case KindDecrementStock:
		var p DecrementStock
		err := json.Unmarshal(raw, &p)
		return p, err
	default:
		return Unknown{Type: kind, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}
