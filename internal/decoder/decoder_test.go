package decoder

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzip"

	"tickstream/internal/protocol"
)

func gzipped(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeGzipPing(t *testing.T) {
	d := New(protocol.HTX{}, PolicyIgnore)
	frame, err := d.Decode(websocket.BinaryMessage, gzipped(t, `{"ping": 123456}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if frame.Kind != KindPing || frame.Ping != 123456 {
		t.Fatalf("unexpected frame: %+v", frame)
	}
}

func TestDecodeGzipTick(t *testing.T) {
	d := New(protocol.HTX{}, PolicyIgnore)
	frame, err := d.Decode(websocket.BinaryMessage, gzipped(t, `{"ch":"market.BTC-USDT.detail","ts":1,"tick":{"close":64000.5}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if frame.Kind != KindTick || frame.Tick.Price != 64000.5 || frame.Tick.MatchKey != "market.BTC-USDT.detail" {
		t.Fatalf("unexpected frame: %+v", frame)
	}
}

func TestDecodeTextClassification(t *testing.T) {
	d := New(protocol.HTX{}, PolicyIgnore)
	tests := []struct {
		payload string
		kind    Kind
	}{
		{`{"ch":"market.SOL-USDT.detail","tick":{"close":150}}`, KindTick},
		{`{"id":"1","status":"ok","subbed":"market.SOL-USDT.detail"}`, KindAck},
		{`{"ping":42}`, KindPing},
		{`haha`, KindIgnored},
		{`{"unexpected":true}`, KindIgnored},
	}
	for _, tt := range tests {
		frame, err := d.Decode(websocket.TextMessage, []byte(tt.payload))
		if err != nil {
			t.Errorf("Decode(%s): %v", tt.payload, err)
			continue
		}
		if frame.Kind != tt.kind {
			t.Errorf("Decode(%s) kind = %s, want %s", tt.payload, frame.Kind, tt.kind)
		}
	}
}

func TestDecodeClosePolicy(t *testing.T) {
	d := New(protocol.Binance{}, PolicyClose)
	if _, err := d.Decode(websocket.TextMessage, []byte(`{"unexpected":true}`)); !errors.Is(err, ErrUnrecognized) {
		t.Fatalf("expected ErrUnrecognized, got %v", err)
	}
	frame, err := d.Decode(websocket.TextMessage, []byte(`{"result":null,"id":1}`))
	if err != nil || frame.Kind != KindAck {
		t.Fatalf("ack should survive close policy: %+v %v", frame, err)
	}
}

func TestDecodeBadGzip(t *testing.T) {
	d := New(protocol.HTX{}, PolicyIgnore)
	if _, err := d.Decode(websocket.BinaryMessage, []byte("plainly not gzip")); !errors.Is(err, ErrDecompress) {
		t.Fatalf("expected ErrDecompress, got %v", err)
	}

	truncated := gzipped(t, `{"ping":1}`)
	truncated = truncated[:len(truncated)-6]
	if _, err := d.Decode(websocket.BinaryMessage, truncated); !errors.Is(err, ErrDecompress) {
		t.Fatalf("expected ErrDecompress for truncated frame, got %v", err)
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy(""); err != nil || p != PolicyIgnore {
		t.Fatalf("default policy = %v, %v", p, err)
	}
	if p, err := ParsePolicy("Close"); err != nil || p != PolicyClose {
		t.Fatalf("close policy = %v, %v", p, err)
	}
	if _, err := ParsePolicy("panic"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}
