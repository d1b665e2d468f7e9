package events

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Publisher is the part of *redis.Client used to publish events.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher forwards committed events to a Redis channel. Enqueue never
// blocks the engine; Run drains the queue and retries with exponential
// backoff.
type RedisPublisher struct {
	client     Publisher
	channel    string
	queue      chan Event
	logger     *zap.Logger
	maxElapsed time.Duration
}

func NewRedisPublisher(client Publisher, channel string, logger *zap.Logger) *RedisPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPublisher{
		client:     client,
		channel:    channel,
		queue:      make(chan Event, 1024),
		logger:     logger,
		maxElapsed: 30 * time.Second,
	}
}

// Enqueue schedules evts for publication. Events that do not fit the queue
// are dropped and logged; watchers recover them from the event log.
func (p *RedisPublisher) Enqueue(evts ...Event) {
	for _, e := range evts {
		select {
		case p.queue <- e:
		default:
			p.logger.Warn("redis publish queue full", zap.String("event_id", e.ID), zap.Uint64("seq", e.Seq))
		}
	}
}

// Publish sends one event, retrying until it succeeds, ctx ends or the
// retry budget is spent.
func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	body, err := Marshal(e)
	if err != nil {
		return err
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = p.maxElapsed

	return backoff.RetryNotify(func() error {
		return p.client.Publish(ctx, p.channel, body).Err()
	}, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		p.logger.Warn("redis publish retry", zap.String("event_id", e.ID), zap.Duration("wait", wait), zap.Error(err))
	})
}

// Run publishes queued events until ctx ends.
func (p *RedisPublisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-p.queue:
			if err := p.Publish(ctx, e); err != nil {
				p.logger.Error("redis publish failed", zap.String("event_id", e.ID), zap.Uint64("seq", e.Seq), zap.Error(err))
			}
		}
	}
}

// Subscribe decodes events published on channel until ctx ends.
func Subscribe(ctx context.Context, client *redis.Client, channel string, logger *zap.Logger) (<-chan Event, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	out := make(chan Event, 64)
	msgs := pubsub.Channel()
	go func() {
		defer close(out)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				e, err := Unmarshal([]byte(msg.Payload))
				if err != nil {
					logger.Warn("drop undecodable event", zap.Error(err))
					continue
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
