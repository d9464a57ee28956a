// Package indicator computes technical indicator series over a bar series.
//
// Every indicator is a single forward fold over the bars. Positions without
// enough history hold NaN, which Series.At reports as undefined.
package indicator

import (
	"errors"
	"fmt"
	"math"

	"github.com/rewired-gh/confluence/internal/models"
)

const (
	// VolumeWindow is the fixed window of the volume moving average.
	VolumeWindow = 20
	// SafetyMargin is added to the largest window to get the minimum series length.
	SafetyMargin = 10
)

// ErrInsufficientData is returned when the series is shorter than Params.MinBars.
var ErrInsufficientData = errors.New("insufficient data")

// Params are the window sizes of the indicator set.
type Params struct {
	RSIPeriod int
	EMAFast   int
	EMASlow   int
	EMASignal int
	BBPeriod  int
	BBStdDev  float64
	ADXPeriod int
	StochK    int
	StochD    int
}

// DefaultParams returns the conventional periods: RSI 14, MACD 12/26/9,
// Bollinger 20/2, ADX 14, Stochastic 14/3.
func DefaultParams() Params {
	return Params{
		RSIPeriod: 14,
		EMAFast:   12,
		EMASlow:   26,
		EMASignal: 9,
		BBPeriod:  20,
		BBStdDev:  2,
		ADXPeriod: 14,
		StochK:    14,
		StochD:    3,
	}
}

// Validate checks that every window is usable.
func (p Params) Validate() error {
	for _, w := range []struct {
		name string
		v    int
	}{
		{"rsi period", p.RSIPeriod},
		{"ema fast", p.EMAFast},
		{"ema slow", p.EMASlow},
		{"ema signal", p.EMASignal},
		{"bb period", p.BBPeriod},
		{"adx period", p.ADXPeriod},
		{"stoch k", p.StochK},
		{"stoch d", p.StochD},
	} {
		if w.v < 1 {
			return fmt.Errorf("%s must be positive, got %d", w.name, w.v)
		}
	}
	if p.EMAFast >= p.EMASlow {
		return fmt.Errorf("ema fast (%d) must be shorter than ema slow (%d)", p.EMAFast, p.EMASlow)
	}
	if p.BBStdDev <= 0 {
		return fmt.Errorf("bb std dev must be positive, got %g", p.BBStdDev)
	}
	return nil
}

// MinBars is the shortest series Compute accepts.
func (p Params) MinBars() int {
	return max(p.RSIPeriod, p.EMAFast, p.EMASlow, p.EMASignal, p.BBPeriod,
		p.ADXPeriod, p.StochK, p.StochD, VolumeWindow) + SafetyMargin
}

// Series is a bar-aligned indicator series; NaN marks an undefined position.
type Series []float64

// At returns the value at i and whether it is defined.
func (s Series) At(i int) (float64, bool) {
	if i < 0 || i >= len(s) || math.IsNaN(s[i]) {
		return 0, false
	}
	return s[i], true
}

// Back returns the value k bars before the latest one.
func (s Series) Back(k int) (float64, bool) {
	return s.At(len(s) - 1 - k)
}

// Last returns the latest value.
func (s Series) Last() (float64, bool) {
	return s.Back(0)
}

// Set is the full indicator output for one bar series. Every Series has the
// same length as the input.
type Set struct {
	RSI        Series
	EMAFast    Series
	EMASlow    Series
	MACD       Series
	MACDSignal Series
	MACDHist   Series
	BBUpper    Series
	BBMiddle   Series
	BBLower    Series
	BBWidth    Series
	ADX        Series
	StochK     Series
	StochD     Series
	VolumeSMA  Series
}

// Len returns the number of aligned positions.
func (s *Set) Len() int { return len(s.RSI) }

func newSet(n int) *Set {
	s := &Set{}
	for _, p := range s.all() {
		*p = make(Series, n)
		for i := range *p {
			(*p)[i] = math.NaN()
		}
	}
	return s
}

func (s *Set) all() []*Series {
	return []*Series{
		&s.RSI, &s.EMAFast, &s.EMASlow, &s.MACD, &s.MACDSignal, &s.MACDHist,
		&s.BBUpper, &s.BBMiddle, &s.BBLower, &s.BBWidth,
		&s.ADX, &s.StochK, &s.StochD, &s.VolumeSMA,
	}
}

// Compute derives the indicator set for bars. It performs no I/O and its
// output depends only on its arguments.
func Compute(bars []models.Bar, p Params) (*Set, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid indicator params: %w", err)
	}
	if need := p.MinBars(); len(bars) < need {
		return nil, fmt.Errorf("%w: have %d bars, need %d", ErrInsufficientData, len(bars), need)
	}

	s := newSet(len(bars))
	rsi := newRSI(p.RSIPeriod)
	macd := newMACD(p.EMAFast, p.EMASlow, p.EMASignal)
	bands := newWindow(p.BBPeriod)
	adx := newADX(p.ADXPeriod)
	stoch := newStochastic(p.StochK, p.StochD)
	volume := newWindow(VolumeWindow)

	for i, b := range bars {
		s.RSI[i] = rsi.next(b.Close)
		s.EMAFast[i], s.EMASlow[i], s.MACD[i], s.MACDSignal[i], s.MACDHist[i] = macd.next(b.Close)

		bands.push(b.Close)
		if bands.ready() {
			mid := bands.mean()
			dev := p.BBStdDev * bands.stddev(mid)
			s.BBMiddle[i], s.BBUpper[i], s.BBLower[i] = mid, mid+dev, mid-dev
			if mid != 0 {
				s.BBWidth[i] = 2 * dev / mid
			}
		}

		s.ADX[i] = adx.next(b)
		s.StochK[i], s.StochD[i] = stoch.next(b)

		volume.push(b.Volume)
		if volume.ready() {
			s.VolumeSMA[i] = volume.mean()
		}
	}
	return s, nil
}

type rsiState struct {
	prev       float64
	seen       bool
	gain, loss *smoother
}

func newRSI(period int) *rsiState {
	return &rsiState{gain: newWilder(period), loss: newWilder(period)}
}

func (r *rsiState) next(close float64) float64 {
	if !r.seen {
		r.prev, r.seen = close, true
		return math.NaN()
	}
	change := close - r.prev
	r.prev = close

	avgGain, ok := r.gain.add(math.Max(change, 0))
	avgLoss, _ := r.loss.add(math.Max(-change, 0))
	switch {
	case !ok:
		return math.NaN()
	case avgLoss == 0 && avgGain == 0:
		return 50
	case avgLoss == 0:
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}

type macdState struct {
	fast, slow, signal *smoother
}

func newMACD(fast, slow, signal int) *macdState {
	return &macdState{fast: newEMA(fast), slow: newEMA(slow), signal: newEMA(signal)}
}

// next returns fast EMA, slow EMA, MACD line, signal line and histogram.
// The signal EMA starts at the first defined MACD value.
func (m *macdState) next(close float64) (fast, slow, line, signal, hist float64) {
	nan := math.NaN()
	fast, slow, line, signal, hist = nan, nan, nan, nan, nan

	f, fastOK := m.fast.add(close)
	sl, slowOK := m.slow.add(close)
	if fastOK {
		fast = f
	}
	if !slowOK {
		return
	}
	slow = sl
	line = f - sl

	if sig, ok := m.signal.add(line); ok {
		signal, hist = sig, line-sig
	}
	return
}

type adxState struct {
	prev                models.Bar
	seen                bool
	tr, plusDM, minusDM *smoother
	adx                 *smoother
}

func newADX(period int) *adxState {
	return &adxState{
		tr:      newWilder(period),
		plusDM:  newWilder(period),
		minusDM: newWilder(period),
		adx:     newWilder(period),
	}
}

func (a *adxState) next(b models.Bar) float64 {
	if !a.seen {
		a.prev, a.seen = b, true
		return math.NaN()
	}
	prev := a.prev
	a.prev = b

	tr := math.Max(b.High-b.Low, math.Max(math.Abs(b.High-prev.Close), math.Abs(b.Low-prev.Close)))
	up, down := b.High-prev.High, prev.Low-b.Low
	var pdm, mdm float64
	if up > down && up > 0 {
		pdm = up
	}
	if down > up && down > 0 {
		mdm = down
	}

	atr, ok := a.tr.add(tr)
	plus, _ := a.plusDM.add(pdm)
	minus, _ := a.minusDM.add(mdm)
	if !ok {
		return math.NaN()
	}

	// No range or no directional movement counts as zero directional strength.
	dx := 0.0
	if atr > 0 {
		pdi, mdi := 100*plus/atr, 100*minus/atr
		if pdi+mdi > 0 {
			dx = 100 * math.Abs(pdi-mdi) / (pdi + mdi)
		}
	}
	v, ok := a.adx.add(dx)
	if !ok {
		return math.NaN()
	}
	return v
}

type stochState struct {
	highs, lows *window
	k           *window
}

func newStochastic(k, d int) *stochState {
	return &stochState{highs: newWindow(k), lows: newWindow(k), k: newWindow(d)}
}

// next returns fast %K and %D (simple average of %K). %K is undefined when
// the lookback range is flat.
func (s *stochState) next(b models.Bar) (float64, float64) {
	s.highs.push(b.High)
	s.lows.push(b.Low)
	if !s.highs.ready() {
		return math.NaN(), math.NaN()
	}

	k := math.NaN()
	if hh, ll := s.highs.max(), s.lows.min(); hh > ll {
		k = 100 * (b.Close - ll) / (hh - ll)
	}
	s.k.push(k)
	if !s.k.ready() {
		return k, math.NaN()
	}
	return k, s.k.meanDefined()
}
