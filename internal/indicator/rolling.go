package indicator

import "math"

// smoother is an SMA-seeded exponential recurrence. The first period inputs
// are averaged; after that value += alpha * (x - value).
type smoother struct {
	period int
	alpha  float64
	count  int
	value  float64
}

// newWilder returns Wilder's smoothing (alpha = 1/period), used by RSI and ADX.
func newWilder(period int) *smoother {
	return &smoother{period: period, alpha: 1 / float64(period)}
}

// newEMA returns the standard exponential moving average (alpha = 2/(period+1)).
func newEMA(period int) *smoother {
	return &smoother{period: period, alpha: 2 / float64(period+1)}
}

// add folds x in and reports whether the seed window is complete.
func (s *smoother) add(x float64) (float64, bool) {
	if s.count < s.period {
		s.count++
		s.value += (x - s.value) / float64(s.count)
		return s.value, s.count == s.period
	}
	s.value += s.alpha * (x - s.value)
	return s.value, true
}

// window is a fixed-size ring buffer. Statistics are recomputed from the
// slots on demand so no rounding error carries over between bars.
type window struct {
	buf  []float64
	next int
	full bool
}

func newWindow(size int) *window {
	return &window{buf: make([]float64, size)}
}

// push writes x into the ring, evicting the oldest sample once full.
func (w *window) push(x float64) {
	w.buf[w.next] = x
	w.next = (w.next + 1) % len(w.buf)
	if w.next == 0 {
		w.full = true
	}
}

func (w *window) ready() bool { return w.full }

func (w *window) mean() float64 {
	sum := 0.0
	for _, v := range w.buf {
		sum += v
	}
	return sum / float64(len(w.buf))
}

// stddev is the two-pass population standard deviation around mean.
func (w *window) stddev(mean float64) float64 {
	ss := 0.0
	for _, v := range w.buf {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(w.buf)))
}

func (w *window) max() float64 {
	m := math.Inf(-1)
	for _, v := range w.buf {
		m = math.Max(m, v)
	}
	return m
}

func (w *window) min() float64 {
	m := math.Inf(1)
	for _, v := range w.buf {
		m = math.Min(m, v)
	}
	return m
}

// meanDefined averages the window, or returns NaN if any slot is undefined.
func (w *window) meanDefined() float64 {
	sum := 0.0
	for _, v := range w.buf {
		if math.IsNaN(v) {
			return math.NaN()
		}
		sum += v
	}
	return sum / float64(len(w.buf))
}
