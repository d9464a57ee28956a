package analysis

import (
	"errors"
	"math"

	"github.com/rewired-gh/confluence/internal/models"
)

// bandStopFactor places the volatility stop just under the lower band.
const bandStopFactor = 0.99

// RiskParams are fractional offsets from the entry price.
type RiskParams struct {
	StopLossPct    float64
	TakeProfit1Pct float64
	TakeProfit2Pct float64
	MinRiskReward  float64
}

// DefaultRiskParams: 2% stop, 3% and 6% targets, 1.5 minimum reward to risk.
func DefaultRiskParams() RiskParams {
	return RiskParams{
		StopLossPct:    0.02,
		TakeProfit1Pct: 0.03,
		TakeProfit2Pct: 0.06,
		MinRiskReward:  1.5,
	}
}

func (p RiskParams) Validate() error {
	if p.StopLossPct <= 0 || p.StopLossPct >= 1 {
		return errors.New("stop loss pct must be between 0 and 1")
	}
	if p.TakeProfit1Pct <= 0 || p.TakeProfit2Pct <= 0 {
		return errors.New("take profit pcts must be positive")
	}
	if p.TakeProfit2Pct < p.TakeProfit1Pct {
		return errors.New("take profit 2 pct must be >= take profit 1 pct")
	}
	if p.MinRiskReward < 0 {
		return errors.New("min risk reward must not be negative")
	}
	return nil
}

// CalculateRisk derives stop and targets for a long entry at price. The stop
// is the lower of the percentage floor and just under lowerBand; pass NaN when
// the band is undefined to use the percentage floor alone.
func CalculateRisk(price, lowerBand float64, p RiskParams) models.RiskLevels {
	stop := price * (1 - p.StopLossPct)
	if !math.IsNaN(lowerBand) {
		stop = math.Min(stop, lowerBand*bandStopFactor)
	}

	r := models.RiskLevels{
		StopLoss:    stop,
		TakeProfit1: price * (1 + p.TakeProfit1Pct),
		TakeProfit2: price * (1 + p.TakeProfit2Pct),
		RiskAmount:  price - stop,
	}
	if r.RiskAmount > 0 {
		r.RiskReward1 = (r.TakeProfit1 - price) / r.RiskAmount
		r.RiskReward2 = (r.TakeProfit2 - price) / r.RiskAmount
	}
	r.MeetsMinimumRatio = r.RiskReward1 >= p.MinRiskReward
	return r
}
