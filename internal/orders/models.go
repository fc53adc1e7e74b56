package orders

import "time"

// Collections in the remote document store.
const (
	CollOrders    = "orders"
	CollMenuItems = "menu_items"
	CollAuditLogs = "audit_logs"
)

type OrderType string

const (
	OrderTypeOnline  OrderType = "online"
	OrderTypeInStore OrderType = "in-store"
)

// Cancellation reasons stored in Order.ErrorType.
const (
	ErrorItemNotFound = "item_not_found"
	ErrorOutOfStock   = "out_of_stock"
)

type MenuItem struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Price          float64 `json:"price"`
	TotalStock     int     `json:"total_stock"`
	RemainingStock int     `json:"remaining_stock"`
}

// OrderItem is a menu line snapshotted at order time (name and price are not
// live-joined to the menu).
type OrderItem struct {
	ItemID string  `json:"id"`
	Name   string  `json:"name"`
	Price  float64 `json:"price"`
	Qty    int     `json:"qty"`
}

type UserRef struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	UserType string `json:"user_type,omitempty"`
}

type Customer struct {
	Name            string `json:"name"`
	DeliveryAddress string `json:"delivery_address,omitempty"`
}

type Order struct {
	ID         string      `json:"id"`
	Items      []OrderItem `json:"items"`
	TotalPrice float64     `json:"total_price"`
	Discount   float64     `json:"discount"`
	Status     Status      `json:"order_status"`
	CreatedAt  time.Time   `json:"order_date"`
	PlacedBy   *UserRef    `json:"order_by"`
	OrderType  OrderType   `json:"order_type"`
	Customer   Customer    `json:"customer"`
	ErrorType  string      `json:"error_type,omitempty"`
	Reason     string      `json:"reason,omitempty"`
}

// Total is Σ(price·qty) − discount.
func Total(items []OrderItem, discount float64) float64 {
	var sum float64
	for _, it := range items {
		sum += it.Price * float64(it.Qty)
	}
	return sum - discount
}

// Cancelled returns a copy of o in the terminal Cancelled state.
func (o Order) Cancelled(errorType, reason string) Order {
	c := o
	c.Items = append([]OrderItem(nil), o.Items...)
	c.Status = StatusCancelled
	c.ErrorType = errorType
	c.Reason = reason
	return c
}

type AuditEntry struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	CreatedBy string    `json:"createdBy"`
	Timestamp time.Time `json:"timestamp"`
	Details   any       `json:"details"`
}
