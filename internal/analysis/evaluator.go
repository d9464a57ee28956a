package analysis

import (
	"fmt"
	"math"

	"github.com/rewired-gh/confluence/internal/indicator"
	"github.com/rewired-gh/confluence/internal/models"
)

// Evaluator runs indicators, trend scoring and confluence grading for one
// bar series. It holds only configuration and is safe for concurrent use.
type Evaluator struct {
	params     indicator.Params
	thresholds Thresholds
	risk       RiskParams
}

// NewEvaluator validates the configuration and returns an Evaluator.
func NewEvaluator(params indicator.Params, thresholds Thresholds, risk RiskParams) (*Evaluator, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid indicator params: %w", err)
	}
	if err := thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid signal thresholds: %w", err)
	}
	if err := risk.Validate(); err != nil {
		return nil, fmt.Errorf("invalid risk params: %w", err)
	}
	return &Evaluator{params: params, thresholds: thresholds, risk: risk}, nil
}

// Evaluate grades the latest bar of bars. It returns an error wrapping
// indicator.ErrInsufficientData when the series is too short, in which case
// no evaluation exists.
func (e *Evaluator) Evaluate(symbol string, bars []models.Bar) (models.SignalEvaluation, error) {
	if err := models.ValidateSeries(bars); err != nil {
		return models.SignalEvaluation{}, fmt.Errorf("invalid bars for %s: %w", symbol, err)
	}
	set, err := indicator.Compute(bars, e.params)
	if err != nil {
		return models.SignalEvaluation{}, fmt.Errorf("indicators for %s: %w", symbol, err)
	}
	trend := ScoreTrend(set, e.thresholds.ADXTrend)
	return EvaluateConfluence(symbol, bars, set, trend, e.thresholds), nil
}

// Risk derives risk levels from an evaluation snapshot.
func (e *Evaluator) Risk(s models.Snapshot) models.RiskLevels {
	lower := math.NaN()
	if s.HasBands {
		lower = s.BBLower
	}
	return CalculateRisk(s.Price, lower, e.risk)
}
