package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventLog remembers provider webhook events that were fully applied so a
// redelivery can be acknowledged without touching the database. Entries
// expire after the TTL; the database stays the source of truth.
type EventLog struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewEventLog(rdb *redis.Client, ttl time.Duration) *EventLog {
	if ttl <= 0 {
		ttl = TTLProcessedEvent
	}
	return &EventLog{rdb: rdb, ttl: ttl}
}

func (l *EventLog) Seen(ctx context.Context, eventID string) (bool, error) {
	ok, err := Exists(ctx, l.rdb, fmt.Sprintf(KeyProcessedEvent, eventID))
	if err != nil {
		return false, fmt.Errorf("check processed event: %w", err)
	}
	return ok, nil
}

func (l *EventLog) MarkProcessed(ctx context.Context, eventID string) error {
	if err := l.rdb.Set(ctx, fmt.Sprintf(KeyProcessedEvent, eventID), "1", l.ttl).Err(); err != nil {
		return fmt.Errorf("mark processed event: %w", err)
	}
	return nil
}
