package reconcile

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const markerTTL = 10 * time.Minute

// deliveryMarker coalesces concurrent deliveries of one webhook event across
// replicas. The payment-event table stays the source of truth; the marker
// only keeps a second delivery from racing the first.
type deliveryMarker struct {
	client *goredis.Client
	prefix string
}

func newDeliveryMarker(client *goredis.Client, prefix string) *deliveryMarker {
	if client == nil {
		return nil
	}
	return &deliveryMarker{client: client, prefix: prefix}
}

func (m *deliveryMarker) key(provider, eventID string) string {
	return m.prefix + ":webhook:" + provider + ":" + eventID
}

// Acquire reports whether this caller is the first to see the event. A nil
// marker always acquires.
func (m *deliveryMarker) Acquire(ctx context.Context, provider, eventID string) (bool, error) {
	if m == nil {
		return true, nil
	}
	return m.client.SetNX(ctx, m.key(provider, eventID), time.Now().UTC().Format(time.RFC3339Nano), markerTTL).Result()
}

// Release lets a redelivery retry an event whose processing failed.
func (m *deliveryMarker) Release(ctx context.Context, provider, eventID string) error {
	if m == nil {
		return nil
	}
	return m.client.Del(ctx, m.key(provider, eventID)).Err()
}
