package protocol

import (
	"errors"
	"time"

	"github.com/segmentio/encoding/json"

	"tickstream/internal/instrument"
	"tickstream/internal/models"
)

// HTX speaks the linear-swap market channel protocol of api.hbdm.com.
type HTX struct{}

type htxControl struct {
	Sub   string `json:"sub,omitempty"`
	Unsub string `json:"unsub,omitempty"`
	ID    string `json:"id"`
}

type htxDetail struct {
	Channel   string `json:"ch"`
	Timestamp int64  `json:"ts"`
	Tick      *struct {
		Close *float64 `json:"close"`
	} `json:"tick"`
}

func (HTX) Name() string { return "htx" }

func (HTX) DefaultURL() string { return "wss://api.hbdm.com/linear-swap-ws" }

func (HTX) Instruments() []instrument.Entry { return instrument.HTXDefaults() }

func (HTX) SubscribePayload(info instrument.Info) []byte {
	data, _ := json.Marshal(htxControl{Sub: info.WireName, ID: "1"})
	return data
}

func (HTX) UnsubscribePayload(info instrument.Info) []byte {
	data, _ := json.Marshal(htxControl{Unsub: info.WireName, ID: "1"})
	return data
}

func (h HTX) ParseTick(data []byte) (models.PriceTick, error) {
	var payload htxDetail
	if err := json.Unmarshal(data, &payload); err != nil {
		return models.PriceTick{}, err
	}
	if payload.Channel == "" || payload.Tick == nil || payload.Tick.Close == nil {
		return models.PriceTick{}, errors.New("not an htx detail record")
	}

	tick := models.PriceTick{
		MatchKey: payload.Channel,
		Price:    *payload.Tick.Close,
		Source:   h.Name(),
	}
	if payload.Timestamp > 0 {
		tick.Timestamp = time.UnixMilli(payload.Timestamp).UTC()
	}
	return tick, nil
}

func (HTX) IsAck(data []byte) bool { return isAckEnvelope(data) }

func (HTX) ParsePing(data []byte) (uint64, bool) { return parsePingEnvelope(data) }

func (HTX) PongPayload(n uint64) []byte { return pongEnvelope(n) }
