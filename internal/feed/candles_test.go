package feed

import (
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
)

func candleAt(open time.Time, close float64) domain.Candle {
	return domain.Candle{
		Symbol:    "BTCUSDT",
		OpenTime:  open,
		CloseTime: open.Add(time.Hour),
		Close:     close,
	}
}

func TestCandleSeriesSeedKeepsNewest(t *testing.T) {
	s := NewCandleSeries("BTCUSDT", time.Hour, 3)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var candles []domain.Candle
	for i := 0; i < 5; i++ {
		candles = append(candles, candleAt(base.Add(time.Duration(i)*time.Hour), float64(i)))
	}
	s.Seed(candles)

	if s.Len() != 3 {
		t.Fatalf("Len=%d want 3", s.Len())
	}
	closes := s.Closes()
	if closes[0] != 2 || closes[2] != 4 {
		t.Fatalf("closes = %v want [2 3 4]", closes)
	}
}

func TestCandleSeriesUpdateSameBucketReplaces(t *testing.T) {
	s := NewCandleSeries("BTCUSDT", time.Hour, 10)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Seed([]domain.Candle{candleAt(base, 100)})

	// Same hourly bucket, later tick: the forming candle is replaced.
	c := candleAt(base.Add(30*time.Minute), 105)
	if err := s.Update(c); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("Len=%d want 1", s.Len())
	}
	last, _ := s.Last()
	if last.Close != 105 {
		t.Fatalf("Close=%v want 105", last.Close)
	}
}

func TestCandleSeriesUpdateNewBucketAppendsAndEvicts(t *testing.T) {
	s := NewCandleSeries("BTCUSDT", time.Hour, 2)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Seed([]domain.Candle{
		candleAt(base, 100),
		candleAt(base.Add(time.Hour), 101),
	})

	if err := s.Update(candleAt(base.Add(2*time.Hour), 102)); err != nil {
		t.Fatalf("Update: %v", err)
	}
	closes := s.Closes()
	if len(closes) != 2 || closes[0] != 101 || closes[1] != 102 {
		t.Fatalf("closes = %v want [101 102]", closes)
	}
}

func TestCandleSeriesRejectsClosedBucket(t *testing.T) {
	s := NewCandleSeries("BTCUSDT", time.Hour, 10)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Seed([]domain.Candle{
		candleAt(base, 100),
		candleAt(base.Add(time.Hour), 101),
	})

	err := s.Update(candleAt(base, 99))
	if !errors.Is(err, domain.ErrClosedBucket) {
		t.Fatalf("err = %v want ErrClosedBucket", err)
	}
	// The finalized candle is untouched.
	if closes := s.Closes(); closes[0] != 100 {
		t.Fatalf("closes = %v, finalized candle rewritten", closes)
	}
}

func TestCandleSeriesRejectsWrongSymbol(t *testing.T) {
	s := NewCandleSeries("BTCUSDT", time.Hour, 10)
	c := candleAt(time.Now().UTC(), 100)
	c.Symbol = "ETHUSDT"
	if err := s.Update(c); err == nil {
		t.Fatalf("update with wrong symbol must error")
	}
}
