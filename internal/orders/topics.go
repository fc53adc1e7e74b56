package orders

const (
	TopicOrderCreated       = "order.created"
	TopicOrderUpdated       = "order.updated"
	TopicOrderStatusChanged = "order.status_changed"
)

// Partition key = order_id, so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
