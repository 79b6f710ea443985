// Package relay fans board changes out between server instances over redis pub/sub. Each message carries the
// full saved document so a receiver can merge it without asking anybody for missing changes.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const Channel = "pixelboard:boards"

type Message struct {
	Origin  string `json:"origin"`
	Board   string `json:"board"`
	Content []byte `json:"content"`
}

type Relay struct {
	rdb      *redis.Client
	instance string
}

func New(rdb *redis.Client, instance string) *Relay {
	return &Relay{rdb: rdb, instance: instance}
}

// Dial connects to redis and checks that it answers.
func Dial(ctx context.Context, addr string, instance string) (*Relay, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return New(rdb, instance), nil
}

func (r *Relay) Publish(ctx context.Context, board string, content []byte) error {
	payload, err := json.Marshal(Message{Origin: r.instance, Board: board, Content: content})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if err := r.rdb.Publish(ctx, Channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}
	return nil
}

// Run calls apply for every message published by other instances until the context is cancelled.
func (r *Relay) Run(ctx context.Context, apply func(board string, content []byte)) error {
	pubsub := r.rdb.Subscribe(ctx, Channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var m Message
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				slog.Error("failed to decode relay message", "err", err)
				continue
			}
			if m.Origin == r.instance {
				continue
			}
			apply(m.Board, m.Content)
		case <-ctx.Done():
			return nil
		}
	}
}

func (r *Relay) Close() error {
	return r.rdb.Close()
}
