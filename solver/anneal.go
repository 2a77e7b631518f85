package solver

import (
	"context"
	"fmt"
	"math"
	"math/rand"
)

type AnnealParams struct {
	Steps    int     `json:"steps"`
	TempHigh float64 `json:"temp_high"`
	TempLow  float64 `json:"temp_low"`
}

var DefaultAnnealParams = AnnealParams{
	Steps:    200000,
	TempHigh: 119.5,
	TempLow:  1.563,
}

func (p AnnealParams) Validate() error {
	if p.Steps < 0 {
		return fmt.Errorf("%w: anneal steps must be >= 0 (got %d)", ErrInvalidInput, p.Steps)
	}
	if p.TempHigh <= 0 || p.TempLow <= 0 {
		return fmt.Errorf("%w: anneal temperatures must be > 0 (got %g, %g)", ErrInvalidInput, p.TempHigh, p.TempLow)
	}
	return nil
}

// Anneal runs a single simulated-annealing trajectory starting from previous
// with a temperature falling linearly from TempHigh to TempLow. The best
// layout seen anywhere on the trajectory is returned.
func Anneal(ctx context.Context, previous Grid, students []Student, weights Weights, params AnnealParams, rng *rand.Rand) (Solution, error) {
	if err := params.Validate(); err != nil {
		return Solution{}, err
	}
	if rng == nil {
		return Solution{}, fmt.Errorf("%w: nil random source", ErrInvalidInput)
	}
	eval, err := NewEvaluator(previous, students, weights)
	if err != nil {
		return Solution{}, err
	}

	current := previous.Clone()
	currentScore, err := eval.Score(current)
	if err != nil {
		return Solution{}, err
	}
	best := current.Clone()
	bestScore := currentScore

	depth, width := previous.Depth(), previous.Width()
	for step := range params.Steps {
		if step%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return Solution{}, err
			}
		}

		a := Pos{X: rng.Intn(width), Y: rng.Intn(depth)}
		b := Pos{X: rng.Intn(width), Y: rng.Intn(depth)}
		if a == b || previous.At(a) == Empty || previous.At(b) == Empty {
			continue
		}

		t := params.TempHigh + (params.TempLow-params.TempHigh)*float64(step)/float64(params.Steps)

		current.Swap(a, b)
		newScore, err := eval.Score(current)
		if err != nil {
			current.Swap(a, b)
			return Solution{}, fmt.Errorf("anneal step %d: %w", step, err)
		}

		if newScore > currentScore || rng.Float64() < math.Exp(float64(newScore-currentScore)/t) {
			currentScore = newScore
			if currentScore > bestScore {
				bestScore = currentScore
				best.copyFrom(current)
			}
		} else {
			current.Swap(a, b)
		}
	}

	return Solution{Grid: best, Score: bestScore}, nil
}
