package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/segmentio/encoding/json"

	"tickstream/internal/instrument"
	"tickstream/internal/models"
)

// Variant is one feed wire dialect. Implementations are stateless.
type Variant interface {
	Name() string
	// DefaultURL is the public endpoint of the feed.
	DefaultURL() string
	// Instruments returns the default catalog entries of the feed.
	Instruments() []instrument.Entry

	SubscribePayload(info instrument.Info) []byte
	UnsubscribePayload(info instrument.Info) []byte

	// ParseTick decodes a price record. Any other shape is an error.
	ParseTick(data []byte) (models.PriceTick, error)
	// IsAck reports whether data is a generic id/result envelope.
	IsAck(data []byte) bool
	// ParsePing extracts the value of a JSON keepalive envelope.
	ParsePing(data []byte) (uint64, bool)
	// PongPayload is the text reply to a keepalive carrying n.
	PongPayload(n uint64) []byte
}

// ByName returns the variant registered under name.
func ByName(name string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "htx", "huobi", "":
		return HTX{}, nil
	case "binance":
		return Binance{}, nil
	default:
		return nil, fmt.Errorf("unknown feed variant %q", name)
	}
}

// Names lists the accepted variant names.
func Names() []string {
	return []string{HTX{}.Name(), Binance{}.Name()}
}

// isAckEnvelope accepts any object carrying an id together with a result or
// status member, whatever their types.
func isAckEnvelope(data []byte) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return false
	}
	if _, ok := fields["id"]; !ok {
		return false
	}
	_, hasResult := fields["result"]
	_, hasStatus := fields["status"]
	return hasResult || hasStatus
}

type pingEnvelope struct {
	Ping *uint64 `json:"ping"`
}

func parsePingEnvelope(data []byte) (uint64, bool) {
	var env pingEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Ping == nil {
		return 0, false
	}
	return *env.Ping, true
}

func pongEnvelope(n uint64) []byte {
	return []byte(`{"pong":` + strconv.FormatUint(n, 10) + `}`)
}

func parseFloat(v string) float64 {
	if v == "" {
		return 0
	}
	val, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return val
}
