package reader

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"tickstream/internal/bridge"
	"tickstream/internal/metrics"
	"tickstream/internal/subscription"
	"tickstream/logger"
)

// Client keeps one feed connection alive for as long as its context lives.
type Client struct {
	manager  *subscription.Manager
	proxyURL string
	opts     Options
	log      *logger.Entry

	attempts atomic.Int64
}

// NewClient builds a supervisor for manager. proxyURL may be empty for a
// direct connection.
func NewClient(manager *subscription.Manager, proxyURL string, opts ...Option) (*Client, error) {
	if manager == nil {
		return nil, errors.New("reader: nil subscription manager")
	}
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	return newClient(manager, proxyURL, o), nil
}

func newClient(manager *subscription.Manager, proxyURL string, o Options) *Client {
	return &Client{
		manager:  manager,
		proxyURL: proxyURL,
		opts:     o,
		log: logger.GetLogger().WithComponent("supervisor").WithFields(logger.Fields{
			"variant": o.Variant.Name(),
			"url":     o.URL,
		}),
	}
}

// Run connects, streams and reconnects until ctx is cancelled. Every failure,
// whether in the tunnel, the handshake or the live session, leads to another
// attempt. The returned error is always ctx.Err().
func (c *Client) Run(ctx context.Context) error {
	c.log.Info("starting feed supervisor")
	for {
		if ctx.Err() != nil {
			c.log.Info("feed supervisor stopped")
			return ctx.Err()
		}

		c.attempt(ctx)

		if ctx.Err() != nil {
			c.log.Info("feed supervisor stopped")
			return ctx.Err()
		}
		c.opts.Events.Publish(bridge.NoticeEvent(bridge.NoticeReconnecting))
		metrics.Count("supervisor", metrics.Reconnects, nil)

		if waitForReconnect(ctx, c.opts.ReconnectDelay) {
			c.log.Info("feed supervisor stopped")
			return ctx.Err()
		}
	}
}

// Attempts reports how many connection attempts have started.
func (c *Client) Attempts() int64 {
	return c.attempts.Load()
}

func (c *Client) attempt(ctx context.Context) {
	n := c.attempts.Add(1)
	log := c.log.WithFields(logger.Fields{
		"attempt_id": uuid.NewString(),
		"attempt":    n,
	})

	start := time.Now()
	conn, err := c.opts.Dial(ctx, c.proxyURL)
	if err != nil {
		if ctx.Err() == nil {
			log.WithError(err).Warn("failed to establish feed connection")
			metrics.Count("supervisor", metrics.HandshakeFailures, nil)
		}
		return
	}
	log.WithField("handshake_ms", time.Since(start).Milliseconds()).Info("feed connection established")

	s := newSession(conn, c.manager, c.opts, log.WithComponent("session"))
	err = s.run(ctx)
	switch {
	case ctx.Err() != nil:
	case err != nil:
		log.WithError(err).WithField("uptime", time.Since(start).String()).Warn("feed session ended")
	default:
		log.WithField("uptime", time.Since(start).String()).Info("feed session closed by peer")
	}
}

// waitForReconnect reports true when ctx ended during the delay.
func waitForReconnect(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() != nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}
