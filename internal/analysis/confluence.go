package analysis

import (
	"errors"
	"fmt"

	"github.com/rewired-gh/confluence/internal/indicator"
	"github.com/rewired-gh/confluence/internal/models"
)

const (
	// stochOversold bounds both %K and %D for the oversold condition.
	stochOversold = 20
	// supportFraction is the share of the middle-to-upper band treated as near support.
	supportFraction = 0.3
	// minTrendScore is the trend score that supports an entry.
	minTrendScore = 2
)

// Thresholds configure trend and confluence grading.
type Thresholds struct {
	ADXTrend         float64
	RSIOversold      float64
	VolumeMultiplier float64
	MinConditions    int
	StrongConditions int
	SqueezeLookback  int
}

// DefaultThresholds mirror the stock strategy: ADX 25, RSI 30, volume 1.5x,
// 3 conditions for a signal and 5 for a strong one, squeeze over 5 bars.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ADXTrend:         25,
		RSIOversold:      30,
		VolumeMultiplier: 1.5,
		MinConditions:    3,
		StrongConditions: 5,
		SqueezeLookback:  5,
	}
}

func (t Thresholds) Validate() error {
	if t.RSIOversold <= 0 || t.RSIOversold >= 100 {
		return fmt.Errorf("rsi oversold must be between 0 and 100, got %g", t.RSIOversold)
	}
	if t.ADXTrend < 0 || t.ADXTrend >= 100 {
		return fmt.Errorf("adx trend threshold must be between 0 and 100, got %g", t.ADXTrend)
	}
	if t.VolumeMultiplier <= 0 {
		return errors.New("volume multiplier must be positive")
	}
	if t.MinConditions < 1 || t.MinConditions > models.ConditionCount {
		return fmt.Errorf("min conditions must be between 1 and %d, got %d", models.ConditionCount, t.MinConditions)
	}
	if t.StrongConditions < t.MinConditions || t.StrongConditions > models.ConditionCount {
		return fmt.Errorf("strong conditions must be between min conditions (%d) and %d, got %d",
			t.MinConditions, models.ConditionCount, t.StrongConditions)
	}
	if t.SqueezeLookback < 1 {
		return errors.New("squeeze lookback must be positive")
	}
	return nil
}

// EvaluateConfluence checks the ten entry conditions on the latest bar against
// the previous one. An undefined input makes only its own condition false.
func EvaluateConfluence(symbol string, bars []models.Bar, set *indicator.Set, trend models.TrendAssessment, th Thresholds) models.SignalEvaluation {
	ev := models.SignalEvaluation{Symbol: symbol, Trend: trend}
	if len(bars) == 0 || set == nil {
		return ev
	}

	last := bars[len(bars)-1]
	price := last.Close
	var c models.Conditions

	rsi, rsiOK := set.RSI.Last()
	prevRSI, prevRSIOK := set.RSI.Back(1)
	c.RSIOversold = rsiOK && rsi < th.RSIOversold
	c.RSIRising = rsiOK && prevRSIOK && rsi > prevRSI

	upper, upperOK := set.BBUpper.Last()
	middle, middleOK := set.BBMiddle.Last()
	lower, lowerOK := set.BBLower.Last()
	c.PriceAboveBBLower = lowerOK && price > lower
	c.PriceNearSupport = upperOK && middleOK && price <= middle+(upper-middle)*supportFraction

	k, kOK := set.StochK.Last()
	d, dOK := set.StochD.Last()
	prevK, prevKOK := set.StochK.Back(1)
	prevD, prevDOK := set.StochD.Back(1)
	c.StochOversold = kOK && dOK && k < stochOversold && d < stochOversold
	c.StochBullishCross = kOK && dOK && prevKOK && prevDOK && k > d && prevK <= prevD

	avgVolume, volOK := set.VolumeSMA.Last()
	c.VolumeConfirmation = volOK && last.Volume > avgVolume*th.VolumeMultiplier

	c.TrendSupport = trend.Score >= minTrendScore

	macd, macdOK := set.MACD.Last()
	prevMACD, prevMACDOK := set.MACD.Back(1)
	c.MACDRising = macdOK && prevMACDOK && macd > prevMACD

	width, widthOK := set.BBWidth.Last()
	prevWidth, prevWidthOK := set.BBWidth.Back(th.SqueezeLookback)
	c.BBSqueeze = widthOK && prevWidthOK && width < prevWidth

	ev.Conditions = c
	ev.ConditionsMet = c.Met()
	ev.IsSignal, ev.Strength = grade(ev.ConditionsMet, th)

	ev.Snapshot = models.Snapshot{
		Price:        price,
		RSI:          rsi,
		HasRSI:       rsiOK,
		StochK:       k,
		StochD:       d,
		HasStoch:     kOK && dOK,
		BBUpper:      upper,
		BBMiddle:     middle,
		BBLower:      lower,
		HasBands:     upperOK && middleOK && lowerOK,
		BBWidth:      width,
		HasWidth:     widthOK,
		BarOpenTime:  last.OpenTime,
		BarCloseTime: last.CloseTime,
	}
	if ev.Snapshot.HasBands && upper > lower {
		ev.Snapshot.BBPosition = (price - lower) / (upper - lower) * 100
		ev.Snapshot.HasPosition = true
	}
	if volOK && avgVolume > 0 {
		ev.Snapshot.VolumeRatio = last.Volume / avgVolume
		ev.Snapshot.HasVolume = true
	}
	return ev
}

func grade(met int, th Thresholds) (bool, models.Strength) {
	switch {
	case met >= th.StrongConditions && met >= th.MinConditions:
		return true, models.Strong
	case met >= th.MinConditions:
		return true, models.Moderate
	default:
		return false, models.Weak
	}
}
