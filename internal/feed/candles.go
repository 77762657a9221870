package feed

import (
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// CandleSeries holds a rolling window of candles for one symbol at a fixed
// interval. Updates for the current bucket replace the last candle in
// place; updates for a newer bucket append. Updates for a bucket older
// than the newest one are rejected, so a finalized candle is never
// rewritten.
type CandleSeries struct {
	mu sync.Mutex

	symbol   string
	interval time.Duration
	cap      int

	candles []domain.Candle
}

// NewCandleSeries creates a series for symbol. cap bounds the window
// length; the oldest candles are evicted once it is exceeded.
func NewCandleSeries(symbol string, interval time.Duration, cap int) *CandleSeries {
	return &CandleSeries{
		symbol:   symbol,
		interval: interval,
		cap:      cap,
	}
}

// Seed replaces the window with historical candles, assumed ascending by
// open time, keeping at most the cap newest.
func (s *CandleSeries) Seed(candles []domain.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(candles) > s.cap {
		candles = candles[len(candles)-s.cap:]
	}
	s.candles = append(s.candles[:0], candles...)
}

// Update folds one candle update into the window.
func (s *CandleSeries) Update(c domain.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.Symbol != s.symbol {
		return fmt.Errorf("feed: %w: candle for %s on series %s", domain.ErrTriangleMismatch, c.Symbol, s.symbol)
	}

	if len(s.candles) == 0 {
		s.candles = append(s.candles, c)
		return nil
	}

	last := &s.candles[len(s.candles)-1]
	bucket := c.Bucket(s.interval)
	lastBucket := last.Bucket(s.interval)

	switch {
	case bucket.Equal(lastBucket):
		*last = c
	case bucket.After(lastBucket):
		s.candles = append(s.candles, c)
		if len(s.candles) > s.cap {
			s.candles = append(s.candles[:0], s.candles[len(s.candles)-s.cap:]...)
		}
	default:
		return fmt.Errorf("feed: %s: bucket %s behind %s: %w",
			s.symbol, bucket.Format(time.RFC3339), lastBucket.Format(time.RFC3339), domain.ErrClosedBucket)
	}
	return nil
}

// Closes returns the close prices of the window, oldest first.
func (s *CandleSeries) Closes() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]float64, len(s.candles))
	for i, c := range s.candles {
		out[i] = c.Close
	}
	return out
}

// Last returns the newest candle in the window.
func (s *CandleSeries) Last() (domain.Candle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.candles) == 0 {
		return domain.Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}

// Len returns the number of candles in the window.
func (s *CandleSeries) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.candles)
}
