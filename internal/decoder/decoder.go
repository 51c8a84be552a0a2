package decoder

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzip"

	"tickstream/internal/models"
	"tickstream/internal/protocol"
)

var (
	// ErrDecompress is returned for binary frames that are not valid gzip.
	ErrDecompress = errors.New("gzip decompression failed")
	// ErrUnrecognized is returned under PolicyClose for text that is neither
	// a price record nor an acknowledgement.
	ErrUnrecognized = errors.New("unrecognized frame")
)

// maxInflated bounds the size of a decompressed frame.
const maxInflated = 4 << 20

// Kind classifies a decoded frame.
type Kind int

const (
	KindIgnored Kind = iota
	KindTick
	KindAck
	KindPing
)

func (k Kind) String() string {
	switch k {
	case KindTick:
		return "tick"
	case KindAck:
		return "ack"
	case KindPing:
		return "ping"
	default:
		return "ignored"
	}
}

// Policy decides what happens to text frames no parser recognizes.
type Policy int

const (
	// PolicyIgnore drops the frame and keeps the connection.
	PolicyIgnore Policy = iota
	// PolicyClose fails the frame so the connection is torn down.
	PolicyClose
)

func (p Policy) String() string {
	if p == PolicyClose {
		return "close"
	}
	return "ignore"
}

// ParsePolicy maps a configuration value to a Policy. Empty means ignore.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ignore":
		return PolicyIgnore, nil
	case "close":
		return PolicyClose, nil
	default:
		return PolicyIgnore, fmt.Errorf("unknown frame policy %q", s)
	}
}

// Frame is the uniform result of decoding one inbound frame.
type Frame struct {
	Kind Kind
	Tick models.PriceTick
	Ping uint64
	// Text holds the (decompressed) payload of ack and ignored frames.
	Text []byte
}

// Decoder turns raw WebSocket frames into Frames for one feed variant.
type Decoder struct {
	Variant protocol.Variant
	Policy  Policy
}

// New returns a decoder for v with the given policy.
func New(v protocol.Variant, policy Policy) *Decoder {
	return &Decoder{Variant: v, Policy: policy}
}

// Decode classifies a text or binary message. Other frame types are ignored;
// control frames are delivered through connection handlers instead.
func (d *Decoder) Decode(frameType int, payload []byte) (Frame, error) {
	switch frameType {
	case websocket.TextMessage:
		return d.decodeText(payload)
	case websocket.BinaryMessage:
		return d.decodeBinary(payload)
	default:
		return Frame{Kind: KindIgnored, Text: payload}, nil
	}
}

func (d *Decoder) decodeBinary(payload []byte) (Frame, error) {
	text, err := inflate(payload)
	if err != nil {
		return Frame{Kind: KindIgnored}, fmt.Errorf("%w: %v", ErrDecompress, err)
	}
	if n, ok := d.Variant.ParsePing(text); ok {
		return Frame{Kind: KindPing, Ping: n}, nil
	}
	return d.decodeText(text)
}

func (d *Decoder) decodeText(text []byte) (Frame, error) {
	if tick, err := d.Variant.ParseTick(text); err == nil {
		return Frame{Kind: KindTick, Tick: tick}, nil
	}
	if d.Variant.IsAck(text) {
		return Frame{Kind: KindAck, Text: text}, nil
	}
	if n, ok := d.Variant.ParsePing(text); ok {
		return Frame{Kind: KindPing, Ping: n}, nil
	}
	if d.Policy == PolicyClose {
		return Frame{Kind: KindIgnored, Text: text}, ErrUnrecognized
	}
	return Frame{Kind: KindIgnored, Text: text}, nil
}

func inflate(payload []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, maxInflated+1))
	if err != nil {
		return nil, err
	}
	if len(out) > maxInflated {
		return nil, fmt.Errorf("decompressed frame exceeds %d bytes", maxInflated)
	}
	return out, nil
}
