package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"classledger/internal/metrics"
)

// Publisher moves events to wherever the recipients' sessions live.
type Publisher interface {
	Publish(ctx context.Context, events []Event) error
}

// Local delivers straight into an in-process hub.
type Local struct {
	hub *Hub
}

// NewLocal wraps a hub.
func NewLocal(hub *Hub) *Local { return &Local{hub: hub} }

func (l *Local) Publish(ctx context.Context, events []Event) error {
	for _, evt := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.hub.Deliver(evt)
	}
	return nil
}

// DefaultChannel is the Redis pub/sub channel shared by API instances.
const DefaultChannel = "classledger:changes"

// RedisBridge fans events out to every API instance over a Redis channel;
// each instance delivers them into its own hub.
type RedisBridge struct {
	client  *redis.Client
	channel string
	hub     *Hub
	log     *zap.Logger
}

// NewRedisBridge builds a bridge on channel.
func NewRedisBridge(client *redis.Client, channel string, hub *Hub, log *zap.Logger) *RedisBridge {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisBridge{client: client, channel: channel, hub: hub, log: log}
}

// Publish sends each event to the shared channel.
func (b *RedisBridge) Publish(ctx context.Context, events []Event) error {
	pipe := b.client.Pipeline()
	for _, evt := range events {
		payload, err := json.Marshal(evt)
		if err != nil {
			return err
		}
		pipe.Publish(ctx, b.channel, payload)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Run subscribes to the channel and delivers into the local hub until ctx is
// done.
func (b *RedisBridge) Run(ctx context.Context) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()
	ch := pubsub.Channel()
	b.log.Info("notification bridge subscribed", zap.String("channel", b.channel))
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				b.log.Warn("discarding malformed change event", zap.Error(err))
				continue
			}
			b.hub.Deliver(evt)
		}
	}
}

// Dispatcher runs publishes off the caller's path. Failures are logged and
// never returned.
type Dispatcher struct {
	pub     Publisher
	timeout time.Duration
	log     *zap.Logger
	wg      sync.WaitGroup
}

// NewDispatcher wraps a publisher with a per-dispatch timeout.
func NewDispatcher(pub Publisher, timeout time.Duration, log *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{pub: pub, timeout: timeout, log: log}
}

// Notify publishes events in the background and returns immediately.
func (d *Dispatcher) Notify(ctx context.Context, events []Event) {
	if d == nil || d.pub == nil || len(events) == 0 {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("notification publish panicked", zap.Any("panic", r))
			}
		}()
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		if err := d.pub.Publish(pubCtx, events); err != nil {
			metrics.Notifications.WithLabelValues("failed").Add(float64(len(events)))
			d.log.Warn("change notification failed",
				zap.Int("events", len(events)), zap.Error(err))
		}
	}()
}

// Wait blocks until in-flight dispatches finish.
func (d *Dispatcher) Wait() {
	if d != nil {
		d.wg.Wait()
	}
}
