package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const subscriberBuffer = 8

// Broadcaster fans appointment snapshots out to subscribed observers.
// Delivery is best-effort: a subscriber that stops draining its channel is
// dropped, never waited on. With a Redis client the snapshot travels through
// a pub/sub channel so every api-server instance sees it; with a nil client
// Publish delivers straight to local subscribers.
type Broadcaster struct {
	rdb     *redis.Client
	channel string
	log     *zap.Logger

	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func NewBroadcaster(rdb *redis.Client, channel string, log *zap.Logger) *Broadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broadcaster{
		rdb:     rdb,
		channel: channel,
		log:     log,
		subs:    make(map[chan []byte]struct{}),
	}
}

// Subscribe registers an observer. The returned cancel func must be called
// when the observer's connection goes away; it closes the channel.
func (b *Broadcaster) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}

	return ch, cancel
}

// Publish marshals v and sends it to all observers. Called after the
// corresponding write has committed, so snapshot order follows commit order.
func (b *Broadcaster) Publish(ctx context.Context, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if b.rdb == nil {
		b.deliver(payload)
		return nil
	}

	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}

// Run consumes the Redis snapshot channel and delivers to local subscribers.
// A single goroutine delivers, so subscribers observe snapshots in arrival
// order. Returns when ctx is cancelled. No-op without a Redis client.
func (b *Broadcaster) Run(ctx context.Context) {
	if b.rdb == nil {
		<-ctx.Done()
		return
	}

	sub := b.rdb.Subscribe(ctx, b.channel)
	defer func() {
		_ = sub.Close()
	}()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.deliver([]byte(msg.Payload))
		}
	}
}

// SubscriberCount reports the number of live observers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcaster) deliver(payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- payload:
		default:
			// Observer stopped draining; drop it rather than block the fan-out.
			delete(b.subs, ch)
			close(ch)
			b.log.Debug("dropped slow snapshot subscriber")
		}
	}
}
