// Package indicator derives Bollinger bands and rate-of-change values from
// candle close series.
package indicator

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// BollingerBands computes the Bollinger band triple over the last period
// values: the middle band is the simple moving average, the outer bands
// sit stdDev population standard deviations away. It returns ErrNotReady
// when fewer than period values are available.
func BollingerBands(values []float64, period int, stdDev float64) (domain.Band, error) {
	if period <= 0 {
		return domain.Band{}, fmt.Errorf("indicator: band period must be positive, got %d", period)
	}
	if len(values) < period {
		return domain.Band{}, fmt.Errorf("indicator: %d of %d values: %w", len(values), period, domain.ErrNotReady)
	}

	window := values[len(values)-period:]

	var sum float64
	for _, v := range window {
		sum += v
	}
	mean := sum / float64(period)

	var variance float64
	for _, v := range window {
		d := v - mean
		variance += d * d
	}
	variance /= float64(period)
	sigma := math.Sqrt(variance)

	return domain.Band{
		Lower:  mean - stdDev*sigma,
		Middle: mean,
		Upper:  mean + stdDev*sigma,
	}, nil
}

// ROC computes the rate of change in percent between the latest value and
// the value period steps earlier: 100 * (v[n] - v[n-period]) / v[n-period].
// It returns ErrNotReady when fewer than period+1 values are available.
func ROC(values []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("indicator: roc period must be positive, got %d", period)
	}
	if len(values) < period+1 {
		return 0, fmt.Errorf("indicator: %d of %d values: %w", len(values), period+1, domain.ErrNotReady)
	}

	latest := values[len(values)-1]
	past := values[len(values)-1-period]
	if past == 0 {
		return 0, fmt.Errorf("indicator: zero base value %d steps back", period)
	}

	return 100 * (latest - past) / past, nil
}

// Engine recomputes the indicator snapshot for one symbol from the full
// close window on every candle update.
type Engine struct {
	symbol     string
	bandPeriod int
	bandStdDev float64
	rocPeriod  int
}

// NewEngine creates an indicator engine for symbol.
func NewEngine(symbol string, bandPeriod int, bandStdDev float64, rocPeriod int) *Engine {
	return &Engine{
		symbol:     symbol,
		bandPeriod: bandPeriod,
		bandStdDev: bandStdDev,
		rocPeriod:  rocPeriod,
	}
}

// Compute derives the indicator snapshot from the close series, oldest
// first. The snapshot is marked not ready until both indicators have
// enough history; a not-ready snapshot carries no values.
func (e *Engine) Compute(closes []float64) domain.IndicatorSnapshot {
	band, bandErr := BollingerBands(closes, e.bandPeriod, e.bandStdDev)
	roc, rocErr := ROC(closes, e.rocPeriod)
	if bandErr != nil || rocErr != nil {
		return domain.IndicatorSnapshot{Symbol: e.symbol}
	}
	return domain.IndicatorSnapshot{
		Symbol: e.symbol,
		Band:   band,
		ROC:    roc,
		Ready:  true,
	}
}
