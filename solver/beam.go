package solver

import (
	"context"
	"fmt"
	"slices"
)

type BeamParams struct {
	Width int `json:"width"`
}

var DefaultBeamParams = BeamParams{Width: 5}

func (p BeamParams) Validate() error {
	if p.Width < 1 {
		return fmt.Errorf("%w: beam width must be >= 1 (got %d)", ErrInvalidInput, p.Width)
	}
	return nil
}

type beamCandidate struct {
	grid  Grid
	score int
}

// compareCandidates puts higher scores first and breaks ties with
// CompareGrids so the ranking is total.
func compareCandidates(a, b beamCandidate) int {
	if a.score != b.score {
		if a.score > b.score {
			return -1
		}
		return 1
	}
	return CompareGrids(a.grid, b.grid)
}

// BeamSearch resolves one occupied seat of previous at a time, column by
// column. Every queued layout is expanded by swapping the seat being resolved
// with each occupied seat (itself included), and only the best params.Width
// distinct layouts survive to the next seat.
//
// A wider beam is not guaranteed to score at least as well as a narrower
// one: the extra candidates it keeps can crowd out a narrower beam's path.
func BeamSearch(ctx context.Context, previous Grid, students []Student, weights Weights, params BeamParams) (Solution, error) {
	if err := params.Validate(); err != nil {
		return Solution{}, err
	}
	eval, err := NewEvaluator(previous, students, weights)
	if err != nil {
		return Solution{}, err
	}

	cells := columnMajor(previous)
	if len(cells) == 0 {
		return Solution{}, fmt.Errorf("%w: no occupied seats", ErrNoFeasibleResult)
	}

	start := previous.Clone()
	startScore, err := eval.Score(start)
	if err != nil {
		return Solution{}, err
	}
	queue := []beamCandidate{{grid: start, score: startScore}}
	scratch := previous.Clone()

	expanded := 0
	for _, fixed := range cells {
		next := make([]beamCandidate, 0, params.Width)
		for _, c := range queue {
			scratch.copyFrom(c.grid)
			for _, other := range cells {
				if expanded%256 == 0 {
					if err := ctx.Err(); err != nil {
						return Solution{}, err
					}
				}
				expanded++

				scratch.Swap(fixed, other)
				score, err := eval.Score(scratch)
				if err != nil {
					scratch.Swap(fixed, other)
					return Solution{}, fmt.Errorf("beam search at seat (%d,%d): %w", fixed.X, fixed.Y, err)
				}
				next = offer(next, beamCandidate{grid: scratch, score: score}, params.Width)
				scratch.Swap(fixed, other)
			}
		}
		queue = next
	}

	if len(queue) == 0 {
		return Solution{}, fmt.Errorf("%w: beam emptied", ErrNoFeasibleResult)
	}
	return Solution{Grid: queue[0].grid, Score: queue[0].score}, nil
}

// offer inserts c into beam, which is kept sorted by compareCandidates and
// holds at most width distinct layouts. c.grid is cloned only when kept.
func offer(beam []beamCandidate, c beamCandidate, width int) []beamCandidate {
	i, found := slices.BinarySearchFunc(beam, c, compareCandidates)
	if found || i >= width {
		return beam
	}
	if len(beam) == width {
		beam = beam[:width-1]
	}
	c.grid = c.grid.Clone()
	return slices.Insert(beam, i, c)
}

func columnMajor(g Grid) []Pos {
	var ps []Pos
	for x := range g.Width() {
		for y := range g.Depth() {
			if g[y][x] != Empty {
				ps = append(ps, Pos{X: x, Y: y})
			}
		}
	}
	return ps
}
