// Package audit appends entries to the audit_logs collection.
package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-pos-orders/internal/clock"
	"github.com/ariefcatur/go-pos-orders/internal/docstore"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

const (
	ActionCreateOrder       = "CREATE_ORDER"
	ActionUpdateOrderStatus = "UPDATE_ORDER_STATUS"
)

// SystemActor is recorded when a change has no authenticated user.
const SystemActor = "system"

type Logger struct {
	DB    docstore.Store
	Clock clock.Clock
}

func (l *Logger) Log(ctx context.Context, action, createdBy string, details any) error {
	clk := l.Clock
	if clk == nil {
		clk = clock.NewSystem()
	}
	if createdBy == "" {
		createdBy = SystemActor
	}
	e := orders.AuditEntry{
		ID:        uuid.NewString(),
		Action:    action,
		CreatedBy: createdBy,
		Timestamp: clk.Now(),
		Details:   details,
	}
	if err := l.DB.Set(ctx, orders.CollAuditLogs, e.ID, e); err != nil {
		return fmt.Errorf("audit %s: %w", action, err)
	}
	return nil
}
