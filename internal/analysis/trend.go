// Package analysis turns an indicator set into a trend assessment, a graded
// confluence signal and risk levels.
package analysis

import (
	"github.com/rewired-gh/confluence/internal/indicator"
	"github.com/rewired-gh/confluence/internal/models"
)

// minEMASeparation is the fractional EMA gap that counts as a trend point.
const minEMASeparation = 0.01

// ScoreTrend reduces the two latest indicator points to a 0-5 score.
// Without two defined MACD points the assessment is WEAK with score 0.
func ScoreTrend(set *indicator.Set, adxThreshold float64) models.TrendAssessment {
	var t models.TrendAssessment
	if set == nil {
		return t
	}

	macd, ok := set.MACD.Last()
	prevMACD, prevOK := set.MACD.Back(1)
	if !ok || !prevOK {
		return t
	}

	if adx, ok := set.ADX.Last(); ok {
		t.ADXStrong = adx > adxThreshold
	}
	if sig, ok := set.MACDSignal.Last(); ok {
		t.MACDPositive = macd > sig
	}
	t.MACDIncreasing = macd > prevMACD

	fast, fastOK := set.EMAFast.Last()
	slow, slowOK := set.EMASlow.Last()
	if fastOK && slowOK {
		t.EMABullish = fast > slow
		if slow != 0 {
			t.EMASeparation = (fast - slow) / slow
		}
	}

	for _, point := range []bool{
		t.ADXStrong,
		t.MACDPositive,
		t.MACDIncreasing,
		t.EMABullish,
		t.EMASeparation > minEMASeparation,
	} {
		if point {
			t.Score++
		}
	}
	t.Label = trendLabel(t.Score)
	return t
}

func trendLabel(score int) models.Strength {
	switch {
	case score >= 4:
		return models.Strong
	case score >= 2:
		return models.Moderate
	default:
		return models.Weak
	}
}
