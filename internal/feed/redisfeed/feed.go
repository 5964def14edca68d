// Package redisfeed carries change snapshots over Redis pub/sub
package redisfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/cryptoquiz-go/internal/feed"
	"github.com/mcoot/cryptoquiz-go/internal/model"
)

// channelKey returns the pub/sub channel for a game
func channelKey(gameID model.GameID) string {
	return fmt.Sprintf("cqz:feed:%s", gameID)
}

// Feed publishes and subscribes through a shared Redis client
type Feed struct {
	client *redis.Client
	logger *slog.Logger
}

// New creates a Redis feed. The client is owned by the caller.
func New(client *redis.Client, logger *slog.Logger) *Feed {
	return &Feed{
		client: client,
		logger: logger.With(slog.String("component", "feed-redis")),
	}
}

var _ feed.Feed = (*Feed)(nil)

func (f *Feed) Publish(ctx context.Context, change model.Change) error {
	data, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, channelKey(change.GameID), data).Err()
}

func (f *Feed) Subscribe(ctx context.Context, gameID model.GameID) (*feed.Subscription, error) {
	pubsub := f.client.Subscribe(ctx, channelKey(gameID))

	// Wait for the subscription to be confirmed so no publish is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan model.Change, feed.DefaultBuffer)
	done := make(chan struct{})
	msgs := pubsub.Channel()

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				_ = pubsub.Close()
				return
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var change model.Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					f.logger.Warn("feed message discarded",
						slog.String("channel", msg.Channel),
						slog.Any("error", err))
					continue
				}
				select {
				case out <- change:
				case <-done:
					return
				case <-ctx.Done():
					_ = pubsub.Close()
					return
				}
			}
		}
	}()

	return feed.NewSubscription(out, func() {
		close(done)
		_ = pubsub.Close()
	}), nil
}

// Close is a no-op; the Redis client belongs to the storage layer
func (f *Feed) Close() error {
	return nil
}
