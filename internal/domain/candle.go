package domain

import "time"

// Candle is one OHLC record keyed by its open-time bucket. The most recent
// candle may still be forming; a new bucket boundary closes it.
type Candle struct {
	Symbol    string
	OpenTime  time.Time
	CloseTime time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Trades    int64
}

// Bucket truncates the candle's open time to the interval boundary. Two
// candles belong to the same bucket iff their Bucket values are equal;
// exact timestamp equality is not required.
func (c Candle) Bucket(interval time.Duration) time.Time {
	return c.OpenTime.Truncate(interval)
}
