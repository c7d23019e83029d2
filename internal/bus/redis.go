// Package bus subscribes to the Redis pub/sub stream the upstream app
// publishes events on.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Message is one raw pub/sub message: the channel it arrived on and
// its textual payload.
type Message struct {
	Channel string
	Payload string
}

// RedisBus wraps a go-redis client for pub/sub subscription. One or
// more connect URLs are accepted; multiple URLs address a cluster.
type RedisBus struct {
	client redis.UniversalClient
}

func NewRedis(urls []string) (*RedisBus, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("no redis url configured")
	}

	first, err := redis.ParseURL(urls[0])
	if err != nil {
		return nil, fmt.Errorf("parse redis url %q: %w", urls[0], err)
	}

	addrs := []string{first.Addr}
	for _, raw := range urls[1:] {
		opts, err := redis.ParseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("parse redis url %q: %w", raw, err)
		}
		addrs = append(addrs, opts.Addr)
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		Username:     first.Username,
		Password:     first.Password,
		DB:           first.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed (%v): %w", addrs, err)
	}

	slog.Info("redis connected", "addrs", addrs)
	return &RedisBus{client: client}, nil
}

// Subscribe starts a subscription on the given channels and returns a
// stream of raw messages. The stream closes when the subscription
// terminates or ctx is canceled.
func (b *RedisBus) Subscribe(ctx context.Context, channels ...string) (<-chan Message, error) {
	sub := b.client.Subscribe(ctx, channels...)

	// Wait for the subscription confirmation before reporting success.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe to %v: %w", channels, err)
	}

	go func() {
		<-ctx.Done()
		sub.Close()
	}()

	out := make(chan Message)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			out <- Message{Channel: msg.Channel, Payload: msg.Payload}
		}
	}()

	return out, nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}
