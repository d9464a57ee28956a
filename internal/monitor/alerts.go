package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/confluence/internal/models"
)

// Decision is the outcome of consulting the AlertManager for one evaluation.
type Decision int

const (
	SuppressNone Decision = iota
	Emit
	SuppressCooldown
)

func (d Decision) String() string {
	switch d {
	case Emit:
		return "EMIT"
	case SuppressCooldown:
		return "SUPPRESS_COOLDOWN"
	default:
		return "SUPPRESS_NONE"
	}
}

// AlertManager deduplicates alerts per symbol. The cooldown clock only starts
// on Confirm, so a signal whose delivery failed is offered again next cycle.
type AlertManager struct {
	mu       sync.Mutex
	cooldown time.Duration
	states   map[string]*models.AlertState
	inFlight map[string]bool
}

func NewAlertManager(cooldown time.Duration) *AlertManager {
	return &AlertManager{
		cooldown: cooldown,
		states:   make(map[string]*models.AlertState),
		inFlight: make(map[string]bool),
	}
}

// Decide classifies ev at now. An Emit must be followed by Confirm after a
// successful delivery or Abort otherwise; until then further Decide calls for
// the symbol return SuppressCooldown.
func (a *AlertManager) Decide(symbol string, ev models.SignalEvaluation, now time.Time) Decision {
	a.mu.Lock()
	defer a.mu.Unlock()

	state, exists := a.states[symbol]
	if !ev.IsSignal {
		if exists {
			state.CurrentlyAlerted = false
			state.LastEvaluatedTime = now
		}
		return SuppressNone
	}

	if !exists {
		state = &models.AlertState{Symbol: symbol}
		a.states[symbol] = state
	}
	state.LastEvaluatedTime = now

	if a.inFlight[symbol] || state.InCooldown(now, a.cooldown) {
		return SuppressCooldown
	}
	a.inFlight[symbol] = true
	return Emit
}

// Confirm records a delivered alert for symbol at now.
func (a *AlertManager) Confirm(symbol string, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	state, exists := a.states[symbol]
	if !exists {
		state = &models.AlertState{Symbol: symbol}
		a.states[symbol] = state
	}
	state.CurrentlyAlerted = true
	state.LastSignalTime = now
	delete(a.inFlight, symbol)
}

// Abort releases an Emit whose delivery failed without touching the state.
func (a *AlertManager) Abort(symbol string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inFlight, symbol)
}

// State returns a copy of the tracked state for symbol.
func (a *AlertManager) State(symbol string) (models.AlertState, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	state, exists := a.states[symbol]
	if !exists {
		return models.AlertState{}, false
	}
	return *state, true
}

// Alerted lists symbols whose latest delivered alert still holds, sorted.
func (a *AlertManager) Alerted() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var symbols []string
	for symbol, state := range a.states {
		if state.CurrentlyAlerted {
			symbols = append(symbols, symbol)
		}
	}
	sort.Strings(symbols)
	return symbols
}
