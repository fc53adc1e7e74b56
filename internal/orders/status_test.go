package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTransition_ForwardSequence(t *testing.T) {
	seq := []Status{StatusPending, StatusInProgress, StatusReady, StatusCompleted}
	for i := 0; i+1 < len(seq); i++ {
		require.NoError(t, ValidateTransition(seq[i], seq[i+1]), "%s -> %s", seq[i], seq[i+1])
	}
}

func TestValidateTransition_Rejects(t *testing.T) {
	cases := []struct {
		from, to Status
	}{
		{StatusPending, StatusReady},
		{StatusPending, StatusCompleted},
		{StatusInProgress, StatusPending},
		{StatusReady, StatusInProgress},
		{StatusPending, StatusCancelled},
	}
	for _, tc := range cases {
		err := ValidateTransition(tc.from, tc.to)
		assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", tc.from, tc.to)
	}
}

func TestValidateTransition_TerminalStates(t *testing.T) {
	all := []Status{StatusPending, StatusInProgress, StatusReady, StatusCompleted, StatusCancelled}
	for _, from := range []Status{StatusCompleted, StatusCancelled} {
		for _, to := range all {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestStatusValid(t *testing.T) {
	assert.True(t, StatusInProgress.Valid())
	assert.False(t, Status("In progress").Valid())
}

func TestTotal(t *testing.T) {
	items := []OrderItem{
		{ItemID: "a", Price: 10, Qty: 2},
		{ItemID: "b", Price: 2.5, Qty: 4},
	}
	assert.Equal(t, 27.0, Total(items, 3))
	assert.Equal(t, 0.0, Total(nil, 0))
}

func TestOrderCancelled_DoesNotAliasItems(t *testing.T) {
	o := Order{ID: "o1", Status: StatusPending, Items: []OrderItem{{ItemID: "a", Qty: 1}}}
	c := o.Cancelled(ErrorOutOfStock, "gone")

	c.Items[0].Qty = 9
	assert.Equal(t, 1, o.Items[0].Qty)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, StatusCancelled, c.Status)
	assert.Equal(t, ErrorOutOfStock, c.ErrorType)
	assert.Equal(t, "gone", c.Reason)
}
