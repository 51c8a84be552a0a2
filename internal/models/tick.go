package models

import "time"

// PriceTick holds a single decoded price update for one instrument.
// Auxiliary fields stay zero when the feed does not provide them.
type PriceTick struct {
	MatchKey        string
	Price           float64
	EventType       string
	Timestamp       time.Time
	IndexPrice      float64
	PredictedPrice  float64
	FundingFee      float64
	NextFundingTime time.Time
	Source          string
}
