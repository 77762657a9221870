package indicator

import (
	"errors"
	"math"
	"testing"

	"github.com/alanyoungcy/triarb/internal/domain"
)

func approx(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func TestBollingerBandsKnownValues(t *testing.T) {
	// Window 1..5: mean 3, population sigma sqrt(2).
	values := []float64{1, 2, 3, 4, 5}
	band, err := BollingerBands(values, 5, 2)
	if err != nil {
		t.Fatalf("BollingerBands: %v", err)
	}

	sigma := math.Sqrt(2)
	if !approx(band.Middle, 3, 1e-12) {
		t.Fatalf("Middle=%v want 3", band.Middle)
	}
	if !approx(band.Lower, 3-2*sigma, 1e-12) {
		t.Fatalf("Lower=%v want %v", band.Lower, 3-2*sigma)
	}
	if !approx(band.Upper, 3+2*sigma, 1e-12) {
		t.Fatalf("Upper=%v want %v", band.Upper, 3+2*sigma)
	}
}

func TestBollingerBandsUsesTrailingWindow(t *testing.T) {
	// Leading values must not influence the band.
	values := []float64{1000, 1000, 10, 10, 10}
	band, err := BollingerBands(values, 3, 2)
	if err != nil {
		t.Fatalf("BollingerBands: %v", err)
	}
	if !approx(band.Middle, 10, 1e-12) || !approx(band.Upper, 10, 1e-12) {
		t.Fatalf("band = %+v want flat at 10", band)
	}
}

func TestBollingerBandsNotReady(t *testing.T) {
	_, err := BollingerBands([]float64{1, 2}, 3, 2)
	if !errors.Is(err, domain.ErrNotReady) {
		t.Fatalf("err = %v want ErrNotReady", err)
	}
}

func TestROCKnownValues(t *testing.T) {
	values := []float64{100, 104, 101, 110}
	roc, err := ROC(values, 3)
	if err != nil {
		t.Fatalf("ROC: %v", err)
	}
	if !approx(roc, 10, 1e-12) {
		t.Fatalf("roc=%v want 10", roc)
	}

	roc, err = ROC([]float64{110, 99}, 1)
	if err != nil {
		t.Fatalf("ROC: %v", err)
	}
	if !approx(roc, -10, 1e-12) {
		t.Fatalf("roc=%v want -10", roc)
	}
}

func TestROCNotReady(t *testing.T) {
	// period+1 values are required.
	if _, err := ROC([]float64{1, 2, 3}, 3); !errors.Is(err, domain.ErrNotReady) {
		t.Fatalf("err = %v want ErrNotReady", err)
	}
}

func TestROCZeroBase(t *testing.T) {
	if _, err := ROC([]float64{0, 5}, 1); err == nil {
		t.Fatalf("zero base value must error")
	}
}

func TestEngineComputeReadiness(t *testing.T) {
	e := NewEngine("BTCUSDT", 3, 2, 2)

	snap := e.Compute([]float64{1, 2})
	if snap.Ready {
		t.Fatalf("snapshot ready with insufficient history")
	}
	if snap.Symbol != "BTCUSDT" {
		t.Fatalf("Symbol=%q", snap.Symbol)
	}
	if snap.Band != (domain.Band{}) || snap.ROC != 0 {
		t.Fatalf("not-ready snapshot carries values: %+v", snap)
	}

	snap = e.Compute([]float64{1, 2, 4})
	if !snap.Ready {
		t.Fatalf("snapshot not ready with full history")
	}
	if !approx(snap.ROC, 300, 1e-12) {
		t.Fatalf("ROC=%v want 300", snap.ROC)
	}
	if !approx(snap.Band.Middle, 7.0/3, 1e-12) {
		t.Fatalf("Middle=%v want %v", snap.Band.Middle, 7.0/3)
	}
}
