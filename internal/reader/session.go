package reader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"tickstream/internal/bridge"
	"tickstream/internal/decoder"
	"tickstream/internal/metrics"
	"tickstream/internal/outbox"
	"tickstream/internal/protocol"
	"tickstream/internal/subscription"
	"tickstream/logger"
)

// errOutboxClosed ends a session whose writer stopped without a send error.
var errOutboxClosed = errors.New("outbound writer stopped")

type inbound struct {
	messageType int
	data        []byte
	err         error
}

// session drives one established connection until it ends.
type session struct {
	conn    FrameConn
	box     *outbox.Outbox
	manager *subscription.Manager
	decoder *decoder.Decoder
	variant protocol.Variant
	events  bridge.Publisher
	idle    time.Duration
	probe   []byte
	log     *logger.Entry

	// ignored throttles log lines for frames nobody recognises
	ignored *rate.Limiter
}

func newSession(conn FrameConn, manager *subscription.Manager, opts Options, log *logger.Entry) *session {
	return &session{
		conn:    conn,
		box:     outbox.New(),
		manager: manager,
		decoder: decoder.New(opts.Variant, opts.Policy),
		variant: opts.Variant,
		events:  opts.Events,
		idle:    opts.IdleTimeout,
		probe:   []byte(opts.ProbeMessage),
		log:     log,
		ignored: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// run subscribes, then races the read loop against the outbound writer. The
// first to finish ends the session; the connection and outbox are released
// without waiting for the other.
func (s *session) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.conn.SetPingHandler(func(appData string) error {
		s.box.Push(outbox.Message{Kind: outbox.Pong, Data: []byte(appData)})
		return nil
	})
	s.manager.Attach(s.box)

	readDone := make(chan error, 1)
	writeDone := make(chan error, 1)
	go func() { readDone <- s.readLoop(ctx) }()
	go func() { writeDone <- outbox.Forward(ctx, s.box, s.conn) }()

	var err error
	select {
	case err = <-readDone:
		if err != nil {
			err = fmt.Errorf("read loop: %w", err)
		}
	case err = <-writeDone:
		if err == nil {
			err = errOutboxClosed
		} else {
			err = fmt.Errorf("write loop: %w", err)
		}
	case <-ctx.Done():
		err = ctx.Err()
	}

	s.manager.Detach(s.box)
	s.box.Close()
	s.conn.Close()
	return err
}

// readLoop returns nil on a close frame and the read error otherwise. Idle
// periods produce a probe and never end the loop.
func (s *session) readLoop(ctx context.Context) error {
	frames := make(chan inbound)
	go s.pump(ctx, frames)

	timer := time.NewTimer(s.idle)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timer.C:
			s.log.WithField("idle_timeout", s.idle.String()).Info("no inbound traffic, sending probe")
			s.box.PushText(s.probe)
			metrics.Count("session", metrics.IdleTimeouts, nil)
			timer.Reset(s.idle)

		case f := <-frames:
			if f.err != nil {
				var closeErr *websocket.CloseError
				if errors.As(f.err, &closeErr) {
					s.log.WithFields(logger.Fields{
						"code":   closeErr.Code,
						"reason": closeErr.Text,
					}).Info("feed closed the stream")
					return nil
				}
				return f.err
			}
			if err := s.handle(f.messageType, f.data); err != nil {
				return err
			}
			timer.Reset(s.idle)
		}
	}
}

// pump is the only reader of conn. It stops after the first read error or
// when ctx ends.
func (s *session) pump(ctx context.Context, frames chan<- inbound) {
	for {
		mt, data, err := s.conn.ReadMessage()
		select {
		case frames <- inbound{messageType: mt, data: data, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *session) handle(messageType int, data []byte) error {
	frame, err := s.decoder.Decode(messageType, data)
	if err != nil {
		if errors.Is(err, decoder.ErrDecompress) && s.decoder.Policy == decoder.PolicyIgnore {
			s.logIgnored(err, nil)
			return nil
		}
		s.log.WithError(err).Warn("undecodable frame, closing connection")
		return err
	}

	switch frame.Kind {
	case decoder.KindTick:
		active := s.manager.MatchKey()
		if frame.Tick.MatchKey != active {
			metrics.Count("session", metrics.TicksFiltered, logger.Fields{"match_key": frame.Tick.MatchKey})
			s.log.WithFields(logger.Fields{
				"match_key": frame.Tick.MatchKey,
				"active":    active,
			}).Debug("dropping tick for inactive instrument")
			return nil
		}
		s.events.Publish(bridge.TickEvent(frame.Tick))
		metrics.Count("session", metrics.TicksDelivered, nil)

	case decoder.KindPing:
		s.box.PushText(s.variant.PongPayload(frame.Ping))

	case decoder.KindAck:
		s.log.WithField("payload", string(frame.Text)).Debug("control message acknowledged")

	default:
		s.logIgnored(nil, frame.Text)
	}
	return nil
}

func (s *session) logIgnored(err error, text []byte) {
	metrics.Count("session", metrics.FramesIgnored, nil)
	if !s.ignored.Allow() {
		return
	}
	entry := s.log
	if err != nil {
		entry = entry.WithError(err)
	}
	if text != nil {
		entry = entry.WithField("payload", truncate(text, 256))
	}
	entry.Info("ignoring unrecognized frame")
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
