package protocol

import (
	"errors"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"

	"tickstream/internal/instrument"
	"tickstream/internal/models"
)

// Binance speaks the futures mark-price stream protocol of fstream.binance.com.
// Keepalives arrive as native ping frames, so ParsePing never matches.
type Binance struct{}

type binanceControl struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

type binanceMarkPricePayload struct {
	Event                string `json:"e"`
	EventTime            int64  `json:"E"`
	Symbol               string `json:"s"`
	MarkPrice            string `json:"p"`
	IndexPrice           string `json:"i"`
	EstimatedSettlePrice string `json:"P"`
	FundingRate          string `json:"r"`
	NextFundingTime      int64  `json:"T"`
}

// combined streams wrap the payload as {"stream":..., "data":{...}}
type binanceCombined struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

func (Binance) Name() string { return "binance" }

func (Binance) DefaultURL() string { return "wss://fstream.binance.com/ws" }

func (Binance) Instruments() []instrument.Entry { return instrument.BinanceDefaults() }

func (Binance) SubscribePayload(info instrument.Info) []byte {
	data, _ := json.Marshal(binanceControl{Method: "SUBSCRIBE", Params: []string{info.WireName}, ID: 1})
	return data
}

func (Binance) UnsubscribePayload(info instrument.Info) []byte {
	data, _ := json.Marshal(binanceControl{Method: "UNSUBSCRIBE", Params: []string{info.WireName}, ID: 1})
	return data
}

func (b Binance) ParseTick(data []byte) (models.PriceTick, error) {
	var combined binanceCombined
	if err := json.Unmarshal(data, &combined); err == nil && combined.Stream != "" && len(combined.Data) > 0 {
		data = combined.Data
	}

	var payload binanceMarkPricePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return models.PriceTick{}, err
	}
	if payload.Event != "markPriceUpdate" || payload.Symbol == "" || payload.MarkPrice == "" {
		return models.PriceTick{}, errors.New("not a binance mark price record")
	}

	tick := models.PriceTick{
		MatchKey:       strings.ToUpper(payload.Symbol),
		Price:          parseFloat(payload.MarkPrice),
		EventType:      payload.Event,
		IndexPrice:     parseFloat(payload.IndexPrice),
		PredictedPrice: parseFloat(payload.EstimatedSettlePrice),
		FundingFee:     parseFloat(payload.FundingRate),
		Source:         b.Name(),
	}
	if payload.EventTime > 0 {
		tick.Timestamp = time.UnixMilli(payload.EventTime).UTC()
	}
	if payload.NextFundingTime > 0 {
		tick.NextFundingTime = time.UnixMilli(payload.NextFundingTime).UTC()
	}
	return tick, nil
}

func (Binance) IsAck(data []byte) bool { return isAckEnvelope(data) }

func (Binance) ParsePing(data []byte) (uint64, bool) { return 0, false }

func (Binance) PongPayload(n uint64) []byte { return pongEnvelope(n) }
