// Package natsfeed carries change snapshots over NATS core subjects
package natsfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mcoot/cryptoquiz-go/internal/feed"
	"github.com/mcoot/cryptoquiz-go/internal/model"
)

// Config holds NATS connection settings
type Config struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns the default NATS configuration
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// subject returns the NATS subject carrying a game's changes
func subject(gameID model.GameID) string {
	return fmt.Sprintf("cryptoquiz.games.%s.changes", gameID)
}

// Feed publishes and subscribes over a NATS connection
type Feed struct {
	nc     *nats.Conn
	logger *slog.Logger
}

// New connects to NATS
func New(cfg Config, logger *slog.Logger) (*Feed, error) {
	logger = logger.With(slog.String("component", "feed-nats"))

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Error("nats disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("nats error", slog.Any("error", err))
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &Feed{nc: nc, logger: logger}, nil
}

var _ feed.Feed = (*Feed)(nil)

func (f *Feed) Publish(_ context.Context, change model.Change) error {
	data, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return f.nc.Publish(subject(change.GameID), data)
}

func (f *Feed) Subscribe(ctx context.Context, gameID model.GameID) (*feed.Subscription, error) {
	msgs := make(chan *nats.Msg, feed.DefaultBuffer)
	sub, err := f.nc.ChanSubscribe(subject(gameID), msgs)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject(gameID), err)
	}
	// Make sure the server has registered interest before returning
	if err := f.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}

	out := make(chan model.Change, feed.DefaultBuffer)
	done := make(chan struct{})

	go func() {
		defer close(out)
		defer func() { _ = sub.Unsubscribe() }()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case msg := <-msgs:
				var change model.Change
				if err := json.Unmarshal(msg.Data, &change); err != nil {
					f.logger.Warn("feed message discarded",
						slog.String("subject", msg.Subject),
						slog.Any("error", err))
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				case <-done:
					return
				}
			}
		}
	}()

	return feed.NewSubscription(out, func() { close(done) }), nil
}

// Close drains and closes the NATS connection
func (f *Feed) Close() error {
	if f.nc == nil || f.nc.IsClosed() {
		return nil
	}
	return f.nc.Drain()
}
