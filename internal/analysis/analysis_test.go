package analysis

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rewired-gh/confluence/internal/indicator"
	"github.com/rewired-gh/confluence/internal/models"
)

var nan = math.NaN()

// tail builds a series of length n whose last values are vals; the head is undefined.
func tail(n int, vals ...float64) indicator.Series {
	s := make(indicator.Series, n)
	for i := range s {
		s[i] = nan
	}
	copy(s[n-len(vals):], vals)
	return s
}

func emptySet(n int) *indicator.Set {
	return &indicator.Set{
		RSI: tail(n), EMAFast: tail(n), EMASlow: tail(n),
		MACD: tail(n), MACDSignal: tail(n), MACDHist: tail(n),
		BBUpper: tail(n), BBMiddle: tail(n), BBLower: tail(n), BBWidth: tail(n),
		ADX: tail(n), StochK: tail(n), StochD: tail(n), VolumeSMA: tail(n),
	}
}

func barsEndingWith(n int, close, volume float64) []models.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]models.Bar, n)
	for i := range bars {
		bars[i] = models.Bar{OpenTime: start.Add(time.Duration(i) * 5 * time.Minute), Open: close, High: close, Low: close, Close: close, Volume: 100}
	}
	bars[n-1].Volume = volume
	return bars
}

func TestScoreTrend(t *testing.T) {
	tests := []struct {
		name      string
		build     func(s *indicator.Set)
		wantScore int
		wantLabel models.Strength
	}{
		{
			name: "all points",
			build: func(s *indicator.Set) {
				s.ADX = tail(8, 30)
				s.MACD = tail(8, 1, 2)
				s.MACDSignal = tail(8, 1.5)
				s.EMAFast = tail(8, 102)
				s.EMASlow = tail(8, 100)
			},
			wantScore: 5,
			wantLabel: models.Strong,
		},
		{
			name: "bullish EMAs below separation",
			build: func(s *indicator.Set) {
				s.ADX = tail(8, 20)
				s.MACD = tail(8, 2, 1)
				s.MACDSignal = tail(8, 1.5)
				s.EMAFast = tail(8, 100.5)
				s.EMASlow = tail(8, 100)
			},
			wantScore: 1,
			wantLabel: models.Weak,
		},
		{
			name: "macd only",
			build: func(s *indicator.Set) {
				s.MACD = tail(8, 1, 2)
				s.MACDSignal = tail(8, 0)
				s.EMAFast = tail(8, 99)
				s.EMASlow = tail(8, 100)
			},
			wantScore: 2,
			wantLabel: models.Moderate,
		},
		{
			name: "adx at threshold is not strong",
			build: func(s *indicator.Set) {
				s.ADX = tail(8, 25)
				s.MACD = tail(8, 1, 1)
				s.MACDSignal = tail(8, 1)
			},
			wantScore: 0,
			wantLabel: models.Weak,
		},
		{
			name: "single macd point",
			build: func(s *indicator.Set) {
				s.ADX = tail(8, 40)
				s.MACD = tail(8, 2)
				s.MACDSignal = tail(8, 1)
				s.EMAFast = tail(8, 110)
				s.EMASlow = tail(8, 100)
			},
			wantScore: 0,
			wantLabel: models.Weak,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := emptySet(8)
			tt.build(set)
			got := ScoreTrend(set, 25)
			if got.Score != tt.wantScore || got.Label != tt.wantLabel {
				t.Errorf("ScoreTrend() = score %d %s, want %d %s", got.Score, got.Label, tt.wantScore, tt.wantLabel)
			}
		})
	}

	if got := ScoreTrend(nil, 25); got.Score != 0 || got.Label != models.Weak {
		t.Errorf("ScoreTrend(nil) = %+v", got)
	}
}

func TestScoreTrendSeparation(t *testing.T) {
	set := emptySet(4)
	set.MACD = tail(4, 1, 1)
	set.EMAFast = tail(4, 103)
	set.EMASlow = tail(4, 100)
	got := ScoreTrend(set, 25)
	if math.Abs(got.EMASeparation-0.03) > 1e-12 {
		t.Errorf("EMASeparation = %v, want 0.03", got.EMASeparation)
	}

	set.EMASlow = tail(4, 0)
	if got := ScoreTrend(set, 25); got.EMASeparation != 0 {
		t.Errorf("EMASeparation with zero slow EMA = %v, want 0", got.EMASeparation)
	}
}

func TestEvaluateConfluenceAllConditions(t *testing.T) {
	const n = 8
	set := emptySet(n)
	set.RSI = tail(n, 20, 25)
	set.BBUpper = tail(n, 105)
	set.BBMiddle = tail(n, 100)
	set.BBLower = tail(n, 95)
	set.BBWidth = tail(n, 0.2, 0.18, 0.16, 0.14, 0.12, 0.1)
	set.StochK = tail(n, 10, 15)
	set.StochD = tail(n, 12, 13)
	set.VolumeSMA = tail(n, 100)
	set.MACD = tail(n, -1, -0.5)

	trend := models.TrendAssessment{Score: 2, Label: models.Moderate}
	ev := EvaluateConfluence("BTCUSDT", barsEndingWith(n, 96, 300), set, trend, DefaultThresholds())

	for _, c := range ev.Conditions.List() {
		if !c.Met {
			t.Errorf("condition %s should hold", c.Name)
		}
	}
	if ev.ConditionsMet != models.ConditionCount || !ev.IsSignal || ev.Strength != models.Strong {
		t.Errorf("got met=%d signal=%v strength=%s", ev.ConditionsMet, ev.IsSignal, ev.Strength)
	}
	if ev.Symbol != "BTCUSDT" || ev.Trend.Score != 2 {
		t.Errorf("evaluation lost its identity: %+v", ev)
	}

	snap := ev.Snapshot
	if snap.Price != 96 || !snap.HasBands || math.Abs(snap.BBPosition-10) > 1e-9 {
		t.Errorf("unexpected snapshot bands: %+v", snap)
	}
	if !snap.HasVolume || math.Abs(snap.VolumeRatio-3) > 1e-9 {
		t.Errorf("VolumeRatio = %v, want 3", snap.VolumeRatio)
	}
}

func TestEvaluateConfluenceBoundaries(t *testing.T) {
	const n = 8
	tests := []struct {
		name  string
		build func(s *indicator.Set)
		close float64
		vol   float64
		check func(c models.Conditions) bool
	}{
		{
			name:  "rsi at threshold is not oversold",
			build: func(s *indicator.Set) { s.RSI = tail(n, 29, 30) },
			close: 100, vol: 100,
			check: func(c models.Conditions) bool { return !c.RSIOversold && c.RSIRising },
		},
		{
			name: "price on lower band is not above it",
			build: func(s *indicator.Set) {
				s.BBUpper, s.BBMiddle, s.BBLower = tail(n, 105), tail(n, 100), tail(n, 95)
			},
			close: 95, vol: 100,
			check: func(c models.Conditions) bool { return !c.PriceAboveBBLower && c.PriceNearSupport },
		},
		{
			name: "support boundary is inclusive",
			build: func(s *indicator.Set) {
				s.BBUpper, s.BBMiddle, s.BBLower = tail(n, 110), tail(n, 100), tail(n, 90)
			},
			close: 103, vol: 100,
			check: func(c models.Conditions) bool { return c.PriceNearSupport && c.PriceAboveBBLower },
		},
		{
			name:  "stochastic already crossed",
			build: func(s *indicator.Set) { s.StochK, s.StochD = tail(n, 15, 16), tail(n, 12, 13) },
			close: 100, vol: 100,
			check: func(c models.Conditions) bool { return c.StochOversold && !c.StochBullishCross },
		},
		{
			name:  "volume exactly at multiplier",
			build: func(s *indicator.Set) { s.VolumeSMA = tail(n, 100) },
			close: 100, vol: 150,
			check: func(c models.Conditions) bool { return !c.VolumeConfirmation },
		},
		{
			name:  "width compared five bars back",
			build: func(s *indicator.Set) { s.BBWidth = tail(n, 0.1, 0.5, 0.5, 0.5, 0.5, 0.2) },
			close: 100, vol: 100,
			check: func(c models.Conditions) bool { return !c.BBSqueeze },
		},
		{
			name:  "width history too short",
			build: func(s *indicator.Set) { s.BBWidth = tail(n, 0.3, 0.3, 0.3, 0.3, 0.1) },
			close: 100, vol: 100,
			check: func(c models.Conditions) bool { return !c.BBSqueeze },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := emptySet(n)
			tt.build(set)
			ev := EvaluateConfluence("ETHUSDT", barsEndingWith(n, tt.close, tt.vol), set, models.TrendAssessment{}, DefaultThresholds())
			if !tt.check(ev.Conditions) {
				t.Errorf("unexpected conditions: %+v", ev.Conditions)
			}
		})
	}
}

func TestEvaluateConfluenceUndefinedInputs(t *testing.T) {
	const n = 8
	ev := EvaluateConfluence("SOLUSDT", barsEndingWith(n, 50, 1000), emptySet(n), models.TrendAssessment{}, DefaultThresholds())
	if ev.ConditionsMet != 0 || ev.IsSignal || ev.Strength != models.Weak {
		t.Errorf("undefined indicators: met=%d signal=%v strength=%s", ev.ConditionsMet, ev.IsSignal, ev.Strength)
	}
	if ev.Snapshot.HasRSI || ev.Snapshot.HasBands || ev.Snapshot.HasVolume {
		t.Errorf("snapshot should flag undefined values: %+v", ev.Snapshot)
	}
}

func TestGradeInvariants(t *testing.T) {
	th := DefaultThresholds()
	for met := 0; met <= models.ConditionCount; met++ {
		isSignal, strength := grade(met, th)
		if isSignal != (met >= th.MinConditions) {
			t.Errorf("met=%d: isSignal=%v", met, isSignal)
		}
		if strength == models.Strong && (met < th.StrongConditions || !isSignal) {
			t.Errorf("met=%d: STRONG without enough conditions", met)
		}
		if isSignal && strength == models.Weak {
			t.Errorf("met=%d: signal graded WEAK", met)
		}
	}
}

func TestThresholdsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Thresholds)
		wantErr bool
	}{
		{"defaults", func(*Thresholds) {}, false},
		{"rsi oversold out of range", func(th *Thresholds) { th.RSIOversold = 120 }, true},
		{"zero volume multiplier", func(th *Thresholds) { th.VolumeMultiplier = 0 }, true},
		{"min above ten", func(th *Thresholds) { th.MinConditions = 11 }, true},
		{"strong below min", func(th *Thresholds) { th.StrongConditions = 2 }, true},
		{"zero squeeze lookback", func(th *Thresholds) { th.SqueezeLookback = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := DefaultThresholds()
			tt.mutate(&th)
			if err := th.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCalculateRiskScenario(t *testing.T) {
	r := CalculateRisk(100, 95, DefaultRiskParams())

	for _, f := range []struct {
		name      string
		got, want float64
	}{
		{"stop loss", r.StopLoss, 94.05},
		{"take profit 1", r.TakeProfit1, 103},
		{"take profit 2", r.TakeProfit2, 106},
		{"risk amount", r.RiskAmount, 5.95},
		{"risk reward 1", r.RiskReward1, 3 / 5.95},
		{"risk reward 2", r.RiskReward2, 6 / 5.95},
	} {
		if math.Abs(f.got-f.want) > 1e-9 {
			t.Errorf("%s = %v, want %v", f.name, f.got, f.want)
		}
	}
	if r.MeetsMinimumRatio {
		t.Error("risk/reward ~0.504 should not meet a 1.5 minimum")
	}
}

func TestCalculateRiskProperties(t *testing.T) {
	tests := []struct {
		name      string
		price     float64
		lower     float64
		wantStop  float64
		wantMeets bool
	}{
		{"percentage floor tighter", 100, 99.5, 98, true},
		{"band floor lower", 100, 90, 89.1, false},
		{"undefined band", 100, nan, 98, true},
		{"band above price", 100, 120, 98, true},
	}
	p := RiskParams{StopLossPct: 0.02, TakeProfit1Pct: 0.03, TakeProfit2Pct: 0.06, MinRiskReward: 1.5}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := CalculateRisk(tt.price, tt.lower, p)
			if math.Abs(r.StopLoss-tt.wantStop) > 1e-9 {
				t.Errorf("StopLoss = %v, want %v", r.StopLoss, tt.wantStop)
			}
			if r.StopLoss >= tt.price {
				t.Errorf("StopLoss %v not below price %v", r.StopLoss, tt.price)
			}
			if r.TakeProfit1 >= r.TakeProfit2 {
				t.Errorf("TP1 %v not below TP2 %v", r.TakeProfit1, r.TakeProfit2)
			}
			want1 := (r.TakeProfit1 - tt.price) / (tt.price - r.StopLoss)
			want2 := (r.TakeProfit2 - tt.price) / (tt.price - r.StopLoss)
			if r.RiskReward1 != want1 || r.RiskReward2 != want2 {
				t.Errorf("risk/reward = %v/%v, want %v/%v", r.RiskReward1, r.RiskReward2, want1, want2)
			}
			if r.MeetsMinimumRatio != tt.wantMeets {
				t.Errorf("MeetsMinimumRatio = %v, want %v", r.MeetsMinimumRatio, tt.wantMeets)
			}
		})
	}
}

func TestCalculateRiskNoRisk(t *testing.T) {
	r := CalculateRisk(100, nan, RiskParams{StopLossPct: 0, TakeProfit1Pct: 0.03, TakeProfit2Pct: 0.06, MinRiskReward: 1.5})
	if r.RiskAmount != 0 || r.RiskReward1 != 0 || r.RiskReward2 != 0 || r.MeetsMinimumRatio {
		t.Errorf("zero risk should give zero ratios: %+v", r)
	}
}

func rampBars(n int) []models.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]models.Bar, n)
	for i := range bars {
		c := 100 + 5*math.Sin(float64(i)/4)
		bars[i] = models.Bar{OpenTime: start.Add(time.Duration(i) * 5 * time.Minute), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 100 + float64(i%7)}
	}
	return bars
}

func TestEvaluator(t *testing.T) {
	ev, err := NewEvaluator(indicator.DefaultParams(), DefaultThresholds(), DefaultRiskParams())
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}

	if _, err := ev.Evaluate("BTCUSDT", rampBars(15)); !errors.Is(err, indicator.ErrInsufficientData) {
		t.Errorf("short series: error = %v, want ErrInsufficientData", err)
	}

	bars := rampBars(120)
	got, err := ev.Evaluate("BTCUSDT", bars)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if got.ConditionsMet < 0 || got.ConditionsMet > models.ConditionCount {
		t.Errorf("ConditionsMet = %d out of range", got.ConditionsMet)
	}
	if got.IsSignal != (got.ConditionsMet >= DefaultThresholds().MinConditions) {
		t.Errorf("IsSignal=%v inconsistent with %d conditions", got.IsSignal, got.ConditionsMet)
	}
	if got.Snapshot.Price != bars[len(bars)-1].Close {
		t.Errorf("snapshot price = %v, want latest close", got.Snapshot.Price)
	}

	bars[10], bars[11] = bars[11], bars[10]
	if _, err := ev.Evaluate("BTCUSDT", bars); err == nil || errors.Is(err, indicator.ErrInsufficientData) {
		t.Errorf("unordered bars: error = %v, want a validation error", err)
	}
}

func TestEvaluatorRiskWithoutBands(t *testing.T) {
	ev, err := NewEvaluator(indicator.DefaultParams(), DefaultThresholds(), DefaultRiskParams())
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}
	r := ev.Risk(models.Snapshot{Price: 100, BBLower: 1})
	if math.Abs(r.StopLoss-98) > 1e-9 {
		t.Errorf("StopLoss without bands = %v, want 98", r.StopLoss)
	}
}

func TestNewEvaluatorRejectsBadConfig(t *testing.T) {
	th := DefaultThresholds()
	th.MinConditions = 0
	if _, err := NewEvaluator(indicator.DefaultParams(), th, DefaultRiskParams()); err == nil {
		t.Error("expected invalid thresholds to be rejected")
	}
	p := indicator.DefaultParams()
	p.EMAFast = 40
	if _, err := NewEvaluator(p, DefaultThresholds(), DefaultRiskParams()); err == nil {
		t.Error("expected invalid indicator params to be rejected")
	}
}
