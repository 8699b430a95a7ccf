// Package redisstream mirrors registry changes onto a Redis stream so other
// services can follow which client applications are connected.
package redisstream

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hongjun500/neurostream/internal/registry"
	"github.com/hongjun500/neurostream/pkg/logger"
)

type Bus struct {
	cli    *redis.Client
	stream string
	group  string
	maxLen int64
}

// Message is one registry change as stored in the stream's "data" field.
type Message struct {
	Kind        string    `json:"kind"`
	When        time.Time `json:"when"`
	Host        string    `json:"host,omitempty"`
	UUID        string    `json:"uuid"`
	Application string    `json:"application,omitempty"`
	Alive       bool      `json:"alive"`
	LastSeen    time.Time `json:"last_seen"`
}

// FromChange converts a registry change, tagging it with the host name.
func FromChange(host string, c registry.Change) *Message {
	return &Message{
		Kind:        c.Kind.String(),
		When:        c.At,
		Host:        host,
		UUID:        c.Client.UUID,
		Application: c.Client.Name,
		Alive:       c.Client.Alive,
		LastSeen:    c.Client.LastSeen,
	}
}

func New(addr string, db int, stream, group string) *Bus {
	cli := redis.NewClient(&redis.Options{Addr: addr, DB: db, DialTimeout: 2 * time.Second})
	return &Bus{cli: cli, stream: stream, group: group, maxLen: 10000}
}

func (b *Bus) Close() error { return b.cli.Close() }

func (b *Bus) Ping(ctx context.Context) error { return b.cli.Ping(ctx).Err() }

func (b *Bus) EnsureGroup(ctx context.Context) error {
	err := b.cli.XGroupCreateMkStream(ctx, b.stream, b.group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (b *Bus) Publish(ctx context.Context, m *Message) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return b.cli.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]any{"data": payload},
	}).Err()
}

type Handler func(ctx context.Context, m *Message) error

// Consume blocks and delivers messages to handler until ctx is done.
func (b *Bus) Consume(ctx context.Context, consumer string, handler Handler) error {
	for {
		res, err := b.cli.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.group,
			Consumer: consumer,
			Streams:  []string{b.stream, ">"},
			Count:    100,
			Block:    5 * time.Second,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.L().Sugar().Warnw("redis_read_failed", "stream", b.stream, "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		for _, str := range res {
			for _, xmsg := range str.Messages {
				if m, err := decode(xmsg.Values); err == nil {
					if err := handler(ctx, m); err != nil {
						logger.L().Sugar().Warnw("redis_handler_failed", "id", xmsg.ID, "err", err)
					}
				}
				_ = b.cli.XAck(ctx, b.stream, b.group, xmsg.ID).Err()
			}
		}
	}
}

func decode(values map[string]any) (*Message, error) {
	raw, ok := values["data"].(string)
	if !ok {
		return nil, errors.New("redisstream: entry has no data field")
	}
	var m Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Sink is where Feed writes; *Bus is one.
type Sink interface {
	Publish(ctx context.Context, m *Message) error
}

// Feed mirrors registry changes to a sink. Changes are queued on the
// registry's goroutine and published from Run, so a tick never waits on the
// network. Changes arriving while the queue is full are dropped.
type Feed struct {
	sink   Sink
	queue  chan *Message
	cancel func()
}

// NewFeed subscribes to reg immediately.
func NewFeed(reg *registry.Registry, sink Sink, host string) *Feed {
	f := &Feed{sink: sink, queue: make(chan *Message, 256)}
	f.cancel = reg.Subscribe(func(c registry.Change) {
		select {
		case f.queue <- FromChange(host, c):
		default:
			logger.L().Sugar().Warnw("redis_feed_dropped", "uuid", c.Client.UUID, "kind", c.Kind.String())
		}
	})
	return f
}

// Run publishes queued changes until ctx is done, then unsubscribes.
func (f *Feed) Run(ctx context.Context) {
	defer f.cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-f.queue:
			if err := f.sink.Publish(ctx, m); err != nil {
				logger.L().Sugar().Warnw("redis_publish_failed", "uuid", m.UUID, "err", err)
			}
		}
	}
}
