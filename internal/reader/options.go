package reader

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"tickstream/config"
	"tickstream/internal/bridge"
	"tickstream/internal/decoder"
	"tickstream/internal/instrument"
	"tickstream/internal/protocol"
	"tickstream/internal/transport"
	"tickstream/internal/tunnel"
)

const (
	defaultIdleTimeout  = 10 * time.Second
	defaultProbeMessage = "haha"
)

// FrameConn is the framed connection a session drives. *websocket.Conn
// satisfies it.
type FrameConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetPingHandler(h func(appData string) error)
	Close() error
}

// DialFunc performs one tunnel plus handshake attempt. proxyURL is the raw
// proxy string and is parsed on every call.
type DialFunc func(ctx context.Context, proxyURL string) (FrameConn, error)

// Options configures a Client.
type Options struct {
	Variant          protocol.Variant
	Catalog          *instrument.Catalog
	Events           bridge.Publisher
	URL              string
	TLS              *tls.Config
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
	ProbeMessage     string
	Policy           decoder.Policy
	ReconnectDelay   time.Duration
	Dial             DialFunc
}

type Option func(*Options)

func WithVariant(v protocol.Variant) Option { return func(o *Options) { o.Variant = v } }
func WithCatalog(c *instrument.Catalog) Option { return func(o *Options) { o.Catalog = c } }
func WithEvents(p bridge.Publisher) Option { return func(o *Options) { o.Events = p } }
func WithURL(url string) Option { return func(o *Options) { o.URL = url } }
func WithTLSConfig(cfg *tls.Config) Option { return func(o *Options) { o.TLS = cfg } }
func WithIdleTimeout(d time.Duration) Option { return func(o *Options) { o.IdleTimeout = d } }
func WithProbeMessage(msg string) Option { return func(o *Options) { o.ProbeMessage = msg } }
func WithPolicy(p decoder.Policy) Option { return func(o *Options) { o.Policy = p } }
func WithReconnectDelay(d time.Duration) Option {
	return func(o *Options) { o.ReconnectDelay = d }
}
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *Options) { o.HandshakeTimeout = d }
}

// WithDial replaces the tunnel and handshake step.
func WithDial(fn DialFunc) Option { return func(o *Options) { o.Dial = fn } }

func buildOptions(opts []Option) (Options, error) {
	o := Options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.Variant == nil {
		o.Variant = protocol.HTX{}
	}
	if o.Catalog == nil {
		cat, err := instrument.NewCatalog(o.Variant.Instruments()...)
		if err != nil {
			return o, err
		}
		o.Catalog = cat
	}
	if o.Events == nil {
		o.Events = bridge.Discard
	}
	if o.URL == "" {
		o.URL = o.Variant.DefaultURL()
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = defaultIdleTimeout
	}
	if o.ProbeMessage == "" {
		o.ProbeMessage = defaultProbeMessage
	}
	if o.Dial == nil {
		o.Dial = o.handshake
	}
	return o, nil
}

func (o Options) handshake(ctx context.Context, proxyURL string) (FrameConn, error) {
	proxy, err := tunnel.ParseProxy(proxyURL)
	if err != nil {
		return nil, err
	}
	h := &transport.Handshaker{
		URL:              o.URL,
		Proxy:            proxy,
		TLS:              o.TLS,
		HandshakeTimeout: o.HandshakeTimeout,
	}
	conn, err := h.Handshake(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ConfigOptions translates the feed section into client options and returns
// the catalog they use.
func ConfigOptions(feed config.FeedConfig) ([]Option, *instrument.Catalog, error) {
	variant, err := protocol.ByName(feed.Variant)
	if err != nil {
		return nil, nil, err
	}
	policy, err := decoder.ParsePolicy(feed.UnknownFramePolicy)
	if err != nil {
		return nil, nil, err
	}

	entries := variant.Instruments()
	if len(feed.Instruments) > 0 {
		entries = make([]instrument.Entry, 0, len(feed.Instruments))
		for _, inst := range feed.Instruments {
			entries = append(entries, instrument.Entry{
				ID: instrument.ID(inst.ID),
				Info: instrument.Info{
					WireName:    inst.WireName,
					DisplayName: inst.DisplayName,
					MatchKey:    inst.MatchKey,
				},
			})
		}
	}
	catalog, err := instrument.NewCatalog(entries...)
	if err != nil {
		return nil, nil, fmt.Errorf("feed.instruments: %w", err)
	}

	opts := []Option{
		WithVariant(variant),
		WithCatalog(catalog),
		WithURL(feed.URL),
		WithIdleTimeout(feed.IdleTimeout),
		WithProbeMessage(feed.ProbeMessage),
		WithPolicy(policy),
		WithReconnectDelay(feed.ReconnectDelay),
		WithHandshakeTimeout(feed.HandshakeTimeout),
	}
	if feed.InsecureSkipVerify {
		opts = append(opts, WithTLSConfig(&tls.Config{InsecureSkipVerify: true}))
	}
	return opts, catalog, nil
}
