package models

import "time"

// Strength grades a trend or a signal.
type Strength int

const (
	Weak Strength = iota
	Moderate
	Strong
)

func (s Strength) String() string {
	switch s {
	case Strong:
		return "STRONG"
	case Moderate:
		return "MODERATE"
	default:
		return "WEAK"
	}
}

// TrendAssessment reduces the latest indicator state to a 0-5 score.
type TrendAssessment struct {
	ADXStrong      bool
	MACDPositive   bool
	MACDIncreasing bool
	EMABullish     bool
	EMASeparation  float64
	Score          int
	Label          Strength
}

// ConditionCount is the fixed number of entry conditions in Conditions.
const ConditionCount = 10

// Conditions holds the ten confluence checks evaluated on the latest bar.
type Conditions struct {
	RSIOversold        bool
	RSIRising          bool
	PriceAboveBBLower  bool
	PriceNearSupport   bool
	StochOversold      bool
	StochBullishCross  bool
	VolumeConfirmation bool
	TrendSupport       bool
	MACDRising         bool
	BBSqueeze          bool
}

// Condition is a named view of one entry in Conditions.
type Condition struct {
	Name string
	Met  bool
}

// List returns the conditions in evaluation order.
func (c Conditions) List() [ConditionCount]Condition {
	return [ConditionCount]Condition{
		{"rsi_oversold", c.RSIOversold},
		{"rsi_rising", c.RSIRising},
		{"price_above_bb_lower", c.PriceAboveBBLower},
		{"price_near_support", c.PriceNearSupport},
		{"stoch_oversold", c.StochOversold},
		{"stoch_bullish_cross", c.StochBullishCross},
		{"volume_confirmation", c.VolumeConfirmation},
		{"trend_support", c.TrendSupport},
		{"macd_rising", c.MACDRising},
		{"bb_squeeze", c.BBSqueeze},
	}
}

// Met counts the true conditions.
func (c Conditions) Met() int {
	n := 0
	for _, cond := range c.List() {
		if cond.Met {
			n++
		}
	}
	return n
}

// Snapshot captures the latest price and the indicator values shown in alerts.
// Fields whose indicator was undefined carry ok=false in the matching Has* flag.
type Snapshot struct {
	Price        float64
	RSI          float64
	StochK       float64
	StochD       float64
	BBUpper      float64
	BBMiddle     float64
	BBLower      float64
	BBWidth      float64
	BBPosition   float64 // percent of the band range, 0 = lower band
	VolumeRatio  float64
	HasRSI       bool
	HasStoch     bool
	HasBands     bool
	HasWidth     bool
	HasPosition  bool
	HasVolume    bool
	BarOpenTime  time.Time
	BarCloseTime time.Time
}

// SignalEvaluation is the per-cycle outcome for one instrument.
type SignalEvaluation struct {
	Symbol        string
	IsSignal      bool
	Strength      Strength
	Conditions    Conditions
	ConditionsMet int
	Trend         TrendAssessment
	Snapshot      Snapshot
}

// RiskLevels are derived from the current price and the lower volatility band.
type RiskLevels struct {
	StopLoss          float64
	TakeProfit1       float64
	TakeProfit2       float64
	RiskAmount        float64
	RiskReward1       float64
	RiskReward2       float64
	MeetsMinimumRatio bool
}

// Alert is a qualifying signal ready for delivery.
type Alert struct {
	Symbol     string
	Interval   string
	Evaluation SignalEvaluation
	Risk       RiskLevels
	DetectedAt time.Time
}

// SignalRecord is a delivered alert as kept in the journal.
type SignalRecord struct {
	ID            string
	Symbol        string
	Interval      string
	Strength      Strength
	ConditionsMet int
	TrendScore    int
	Price         float64
	StopLoss      float64
	TakeProfit1   float64
	TakeProfit2   float64
	RiskReward1   float64
	MeetsMinRatio bool
	SentAt        time.Time
}
