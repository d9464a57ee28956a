// Package models defines the core domain entities: bars, signal evaluations, risk levels and alerts.
package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Bar is one OHLCV sample for a fixed interval of a single instrument.
type Bar struct {
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	CloseTime time.Time `json:"close_time"`
}

// Validate checks bar field constraints.
func (b *Bar) Validate() error {
	if b.OpenTime.IsZero() {
		return errors.New("open time must be set")
	}
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"open", b.Open},
		{"high", b.High},
		{"low", b.Low},
		{"close", b.Close},
		{"volume", b.Volume},
	} {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("%s must be a finite number", f.name)
		}
		if f.value < 0 {
			return fmt.Errorf("%s must not be negative", f.name)
		}
	}
	if b.High < b.Low {
		return errors.New("high must be >= low")
	}
	if !b.CloseTime.IsZero() && b.CloseTime.Before(b.OpenTime) {
		return errors.New("close time must be >= open time")
	}
	return nil
}

// ValidateSeries checks every bar and that open times are strictly ascending.
// Gap continuity is not checked.
func ValidateSeries(bars []Bar) error {
	for i := range bars {
		if err := bars[i].Validate(); err != nil {
			return fmt.Errorf("bar %d: %w", i, err)
		}
		if i > 0 && !bars[i].OpenTime.After(bars[i-1].OpenTime) {
			return fmt.Errorf("bar %d: open time %s is not after %s",
				i, bars[i].OpenTime.Format(time.RFC3339), bars[i-1].OpenTime.Format(time.RFC3339))
		}
	}
	return nil
}
