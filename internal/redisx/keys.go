package redisx

import "time"

const (
	// Cached order document: order:{order_id} -> order JSON
	KeyOrder = "order:%s"

	// Last good menu listing: menu:items -> []MenuItem JSON
	KeyMenu = "menu:items"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLOrderCache = 30 * time.Second
	TTLMenu       = 10 * time.Minute
	TTLDedup      = 48 * time.Hour
)
