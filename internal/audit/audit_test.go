package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-pos-orders/internal/clock"
	"github.com/ariefcatur/go-pos-orders/internal/docstore"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

func TestLogger_Log(t *testing.T) {
	ctx := context.Background()
	db := docstore.NewMemory()
	now := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	l := &Logger{DB: db, Clock: clock.NewManual(now)}

	require.NoError(t, l.Log(ctx, ActionCreateOrder, "", map[string]any{"orderId": "o1"}))

	snaps, err := db.Query(ctx, docstore.Query{Collection: orders.CollAuditLogs})
	require.NoError(t, err)
	require.Len(t, snaps, 1)

	var e orders.AuditEntry
	require.NoError(t, snaps[0].DataTo(&e))
	assert.Equal(t, ActionCreateOrder, e.Action)
	assert.Equal(t, SystemActor, e.CreatedBy)
	assert.True(t, e.Timestamp.Equal(now))
	assert.Equal(t, map[string]any{"orderId": "o1"}, e.Details)
}

func TestLogger_LogWriteFailure(t *testing.T) {
	db := docstore.NewMemory()
	db.SetFault(func(op, _ string) error {
		if op == docstore.FaultSet {
			return docstore.ErrUnavailable
		}
		return nil
	})
	l := &Logger{DB: db}
	err := l.Log(context.Background(), ActionUpdateOrderStatus, "u1", nil)
	assert.ErrorIs(t, err, docstore.ErrUnavailable)
}
