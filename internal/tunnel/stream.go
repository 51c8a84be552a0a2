package tunnel

import (
	"io"
	"net"
)

// Kind enumerates the closed set of stream variants.
type Kind int

const (
	Direct Kind = iota
	HTTPConnect
	SOCKS5
)

func (k Kind) String() string {
	switch k {
	case Direct:
		return "direct"
	case HTTPConnect:
		return "http"
	case SOCKS5:
		return "socks5"
	default:
		return "unknown"
	}
}

func (k Kind) scheme() string {
	if k == SOCKS5 {
		return "socks5"
	}
	return "http"
}

// Stream is the established byte stream to the feed host. Reads, writes and
// shutdown behave the same for every Kind.
type Stream struct {
	net.Conn

	kind   Kind
	socket net.Conn
	reader io.Reader
}

func newStream(kind Kind, conn, socket net.Conn) *Stream {
	if socket == nil {
		socket = conn
	}
	return &Stream{Conn: conn, kind: kind, socket: socket}
}

// Kind reports how the stream was established.
func (s *Stream) Kind() Kind {
	return s.kind
}

// Read drains bytes buffered during the proxy handshake before reading the
// connection itself.
func (s *Stream) Read(p []byte) (int, error) {
	if s.reader != nil {
		return s.reader.Read(p)
	}
	return s.Conn.Read(p)
}

// CloseWrite shuts down the sending side. Sockets without half-close support
// are closed entirely.
func (s *Stream) CloseWrite() error {
	if cw, ok := s.socket.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return s.Conn.Close()
}

// Close closes the stream and its underlying socket.
func (s *Stream) Close() error {
	err := s.Conn.Close()
	if s.socket != s.Conn {
		s.socket.Close()
	}
	return err
}
