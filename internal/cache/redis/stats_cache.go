package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key layout. Snapshots are plain keys with a TTL so a crashed bot's stale
// numbers age out of dashboards; events go over pub/sub for live monitors.
const (
	statsKeyPrefix = "volumebot:stats:"
	bboKeyPrefix   = "volumebot:bbo:"
	eventsChannel  = "volumebot:events"
	snapshotTTL    = 10 * time.Minute
)

// StatsCache publishes per-cycle engine state: the latest stats snapshot,
// best bid/offer, and risk events for external monitors.
type StatsCache struct {
	rdb *redis.Client
}

// NewStatsCache creates a StatsCache backed by the given Client.
func NewStatsCache(c *Client) *StatsCache {
	return &StatsCache{rdb: c.Underlying()}
}

// SetSnapshot stores an arbitrary JSON-marshalable snapshot under the
// symbol's stats key.
func (s *StatsCache) SetSnapshot(ctx context.Context, symbol string, snap any) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot: %w", err)
	}
	if err := s.rdb.Set(ctx, statsKeyPrefix+symbol, data, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", symbol, err)
	}
	return nil
}

// SetBBO stores the current best bid/offer for symbol.
func (s *StatsCache) SetBBO(ctx context.Context, symbol string, bid, ask float64) error {
	payload, err := json.Marshal(map[string]float64{"bid": bid, "ask": ask})
	if err != nil {
		return fmt.Errorf("redis: marshal bbo: %w", err)
	}
	if err := s.rdb.Set(ctx, bboKeyPrefix+symbol, payload, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("redis: set bbo %s: %w", symbol, err)
	}
	return nil
}

// PublishEvent sends an event to the shared pub/sub channel.
func (s *StatsCache) PublishEvent(ctx context.Context, event string, fields map[string]any) error {
	msg := map[string]any{"event": event, "at": time.Now().UTC().Format(time.RFC3339)}
	for k, v := range fields {
		msg[k] = v
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}
	if err := s.rdb.Publish(ctx, eventsChannel, data).Err(); err != nil {
		return fmt.Errorf("redis: publish event %s: %w", event, err)
	}
	return nil
}

// SubscribeEvents returns a channel of raw event payloads. The subscription
// closes with the context.
func (s *StatsCache) SubscribeEvents(ctx context.Context) (<-chan []byte, error) {
	pubsub := s.rdb.Subscribe(ctx, eventsChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe events: %w", err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
