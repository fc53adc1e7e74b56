package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperation_RecordShape(t *testing.T) {
	op := Operation{
		ID:            "op-1",
		Payload:       DecrementStock{ItemID: "pizza", Qty: Qty(2)},
		Attempts:      1,
		NextAttemptAt: time.UnixMilli(1_700_000_002_000).UTC(),
		CreatedAt:     time.UnixMilli(1_700_000_000_000).UTC(),
	}
	b, err := json.Marshal(op)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"id": "op-1",
		"type": "decrementStock",
		"payload": {"id": "pizza", "qty": 2},
		"attempts": 1,
		"nextAttemptAt": 1700000002000,
		"createdAt": 1700000000000
	}`, string(b))
}

func TestOperation_UnknownTypeKeepsRawPayload(t *testing.T) {
	in := `{"id":"op-9","type":"refundOrder","payload":{"id":"o1"},"attempts":4,"nextAttemptAt":1,"createdAt":1}`

	var op Operation
	require.NoError(t, json.Unmarshal([]byte(in), &op))
	u, ok := op.Payload.(Unknown)
	require.True(t, ok)
	assert.Equal(t, Kind("refundOrder"), u.Type)
	assert.Equal(t, 4, op.Attempts)

	out, err := json.Marshal(op)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
}

func TestOperation_RejectsUndecodableRecords(t *testing.T) {
	for _, in := range []string{
		`{not json`,
		`{"type":"decrementStock","payload":{}}`,
		`{"id":"x","type":"createOrder","payload":"oops"}`,
	} {
		var op Operation
		assert.Error(t, json.Unmarshal([]byte(in), &op), in)
	}
}

func TestQuantity_Int(t *testing.T) {
	cases := []struct {
		raw  string
		want int
		ok   bool
	}{
		{`3`, 3, true},
		{`"4"`, 4, true},
		{`2.0`, 2, true},
		{`0`, 0, true},
		{`2.9`, 0, false},
		{`"0.5"`, 0, false},
		{`-3`, 0, false},
		{`"-1"`, 0, false},
		{`1e300`, 0, false},
		{`"NaN"`, 0, false},
		{`"abc"`, 0, false},
		{`null`, 0, false},
		{`true`, 0, false},
	}
	for _, tc := range cases {
		var p DecrementStock
		require.NoError(t, json.Unmarshal([]byte(`{"id":"x","qty":`+tc.raw+`}`), &p), tc.raw)
		got, err := p.Qty.Int()
		if !tc.ok {
			assert.ErrorIs(t, err, ErrMalformedQuantity, tc.raw)
			continue
		}
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}
}
