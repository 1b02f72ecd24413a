package redisx

import "time"

const (
	// Provider webhook events already applied: storefront:webhook:event:{event_id} -> "1"
	KeyProcessedEvent = "storefront:webhook:event:%s"
)

var TTLProcessedEvent = 48 * time.Hour
