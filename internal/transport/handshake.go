package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"tickstream/internal/tunnel"
	"tickstream/logger"
)

// ErrHandshake wraps every failure that prevents a framed stream from being
// established: tunnel, TLS or WebSocket upgrade.
var ErrHandshake = errors.New("websocket handshake failed")

const defaultHandshakeTimeout = 15 * time.Second

// Handshaker layers TLS and the WebSocket opening handshake on top of a
// tunnel stream. It never retries.
type Handshaker struct {
	URL              string
	Proxy            *tunnel.Proxy
	TLS              *tls.Config
	HandshakeTimeout time.Duration
	Header           http.Header
}

// Handshake dials the feed and returns the framed connection.
func (h *Handshaker) Handshake(ctx context.Context) (*websocket.Conn, error) {
	timeout := h.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}

	dialer := &websocket.Dialer{
		NetDialContext:   h.dialTunnel,
		TLSClientConfig:  h.TLS,
		HandshakeTimeout: timeout,
	}

	log := logger.GetLogger().WithComponent("transport").WithFields(logger.Fields{
		"url": h.URL,
		"via": h.Proxy.String(),
	})

	conn, resp, err := dialer.DialContext(ctx, h.URL, h.Header)
	if err != nil {
		if resp != nil {
			if resp.Body != nil {
				resp.Body.Close()
			}
			log.WithField("status", resp.StatusCode).Warn("websocket upgrade rejected")
			return nil, fmt.Errorf("%w: %s: upgrade rejected with status %d: %w", ErrHandshake, h.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrHandshake, h.URL, err)
	}

	log.Debug("websocket handshake complete")
	return conn, nil
}

func (h *Handshaker) dialTunnel(ctx context.Context, network, addr string) (net.Conn, error) {
	stream, err := h.Proxy.Dial(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	return stream, nil
}
