package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/proxy"

	"tickstream/logger"
)

var (
	// ErrInvalidProxy is returned for proxy strings that cannot be used.
	ErrInvalidProxy = errors.New("invalid proxy configuration")
	// ErrConnect is returned when the byte stream cannot be established.
	ErrConnect = errors.New("tunnel connect failed")
)

const defaultDialTimeout = 10 * time.Second

// Proxy describes how the raw connection to the feed host is made.
// A nil *Proxy dials directly.
type Proxy struct {
	kind Kind
	addr string
	user *url.Userinfo

	// DialTimeout bounds the TCP dial to the target or the proxy.
	DialTimeout time.Duration
}

// ParseProxy parses "http://[user[:pass]@]host:port" or
// "socks5://[user[:pass]@]host:port". The empty string selects a direct
// connection. No network I/O is performed.
func ParseProxy(raw string) (*Proxy, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return &Proxy{kind: Direct}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProxy, err)
	}

	var kind Kind
	switch strings.ToLower(u.Scheme) {
	case "http":
		kind = HTTPConnect
	case "socks5", "socks5h":
		kind = SOCKS5
	case "":
		return nil, fmt.Errorf("%w: missing scheme in %q", ErrInvalidProxy, raw)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidProxy, u.Scheme)
	}

	if u.Opaque != "" || (u.Path != "" && u.Path != "/") || u.RawQuery != "" {
		return nil, fmt.Errorf("%w: unexpected path or query in %q", ErrInvalidProxy, redact(u))
	}

	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%w: missing host in %q", ErrInvalidProxy, redact(u))
	}
	portStr := u.Port()
	if portStr == "" {
		return nil, fmt.Errorf("%w: missing port in %q", ErrInvalidProxy, redact(u))
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: invalid port %q", ErrInvalidProxy, portStr)
	}

	return &Proxy{
		kind: kind,
		addr: net.JoinHostPort(host, portStr),
		user: u.User,
	}, nil
}

// Kind reports which stream variant Dial produces.
func (p *Proxy) Kind() Kind {
	if p == nil {
		return Direct
	}
	return p.kind
}

// Addr returns the proxy address, empty for direct connections.
func (p *Proxy) Addr() string {
	if p == nil {
		return ""
	}
	return p.addr
}

// String renders the proxy without its password.
func (p *Proxy) String() string {
	if p == nil || p.kind == Direct {
		return "direct"
	}
	u := &url.URL{Scheme: p.kind.scheme(), Host: p.addr}
	if p.user != nil {
		u.User = url.User(p.user.Username())
	}
	return u.String()
}

// Dial opens a byte stream to addr, routed through the proxy when one is set.
func (p *Proxy) Dial(ctx context.Context, network, addr string) (*Stream, error) {
	timeout := defaultDialTimeout
	if p != nil && p.DialTimeout > 0 {
		timeout = p.DialTimeout
	}
	forward := &recordingDialer{dialer: net.Dialer{Timeout: timeout}}
	log := logger.GetLogger().WithComponent("tunnel").WithFields(logger.Fields{
		"target": addr,
		"via":    p.String(),
	})

	var (
		stream *Stream
		err    error
	)
	switch p.Kind() {
	case Direct:
		var conn net.Conn
		conn, err = forward.DialContext(ctx, network, addr)
		if err == nil {
			stream = newStream(Direct, conn, conn)
		}
	case HTTPConnect:
		stream, err = p.dialHTTP(ctx, forward, network, addr)
	case SOCKS5:
		stream, err = p.dialSOCKS5(ctx, forward, network, addr)
	default:
		err = fmt.Errorf("unknown proxy kind %d", p.Kind())
	}
	if err != nil {
		log.WithError(err).Debug("tunnel dial failed")
		return nil, fmt.Errorf("%w: %s via %s: %v", ErrConnect, addr, p.String(), err)
	}

	log.WithField("kind", stream.Kind().String()).Debug("tunnel established")
	return stream, nil
}

func (p *Proxy) dialSOCKS5(ctx context.Context, forward *recordingDialer, network, addr string) (*Stream, error) {
	var auth *proxy.Auth
	if p.user != nil {
		pass, _ := p.user.Password()
		auth = &proxy.Auth{User: p.user.Username(), Password: pass}
	}
	d, err := proxy.SOCKS5("tcp", p.addr, auth, forward)
	if err != nil {
		return nil, err
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks5 dialer does not support contexts")
	}
	conn, err := cd.DialContext(ctx, network, addr)
	if err != nil {
		if forward.conn != nil {
			forward.conn.Close()
		}
		return nil, err
	}
	return newStream(SOCKS5, conn, forward.conn), nil
}

// recordingDialer keeps the socket it handed out so the stream can half-close it.
type recordingDialer struct {
	dialer net.Dialer
	conn   net.Conn
}

func (r *recordingDialer) Dial(network, addr string) (net.Conn, error) {
	return r.DialContext(context.Background(), network, addr)
}

func (r *recordingDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	conn, err := r.dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	r.conn = conn
	return conn, nil
}

func redact(u *url.URL) string {
	if u.User == nil {
		return u.String()
	}
	c := *u
	c.User = url.User(u.User.Username())
	return c.String()
}
