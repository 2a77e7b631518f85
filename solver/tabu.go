package solver

import (
	"context"
	"fmt"
	"math/rand"
)

type TabuParams struct {
	Iterations int `json:"iterations"`
	Neighbors  int `json:"neighbors"`
	Capacity   int `json:"capacity"`
}

var DefaultTabuParams = TabuParams{
	Iterations: 2000,
	Neighbors:  40,
	Capacity:   30,
}

func (p TabuParams) Validate() error {
	if p.Iterations < 0 {
		return fmt.Errorf("%w: tabu iterations must be >= 0 (got %d)", ErrInvalidInput, p.Iterations)
	}
	if p.Neighbors < 1 {
		return fmt.Errorf("%w: tabu neighbors must be >= 1 (got %d)", ErrInvalidInput, p.Neighbors)
	}
	if p.Capacity < 0 {
		return fmt.Errorf("%w: tabu capacity must be >= 0 (got %d)", ErrInvalidInput, p.Capacity)
	}
	return nil
}

// maxDraws bounds how often a neighbour is redrawn to escape the tabu set.
const maxDraws = 64

// TabuSearch performs first-improvement swaps between random occupied seats.
// The pair of students of each accepted swap becomes tabu until it is pushed
// out of the FIFO of capacity params.Capacity.
func TabuSearch(ctx context.Context, previous Grid, students []Student, weights Weights, params TabuParams, rng *rand.Rand) (Solution, error) {
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

	seats := previous.Occupied()
	if len(seats) < 2 {
		return Solution{Grid: best, Score: bestScore}, nil
	}

	tabu := newTabuList(params.Capacity)
	for iter := range params.Iterations {
		if err := ctx.Err(); err != nil {
			return Solution{}, err
		}

		for range params.Neighbors {
			a, b, ok := drawPair(current, seats, tabu, rng)
			if !ok {
				continue
			}
			pair := newStudentPair(current.At(a), current.At(b))

			current.Swap(a, b)
			newScore, err := eval.Score(current)
			if err != nil {
				current.Swap(a, b)
				return Solution{}, fmt.Errorf("tabu iteration %d: %w", iter, err)
			}
			if newScore <= currentScore {
				current.Swap(a, b)
				continue
			}

			currentScore = newScore
			tabu.Add(pair)
			if currentScore > bestScore {
				bestScore = currentScore
				best.copyFrom(current)
			}
			break
		}
	}

	return Solution{Grid: best, Score: bestScore}, nil
}

func drawPair(g Grid, seats []Pos, tabu *tabuList, rng *rand.Rand) (Pos, Pos, bool) {
	for range maxDraws {
		a := seats[rng.Intn(len(seats))]
		b := seats[rng.Intn(len(seats))]
		if a == b {
			continue
		}
		if tabu.Contains(newStudentPair(g.At(a), g.At(b))) {
			continue
		}
		return a, b, true
	}
	return Pos{}, Pos{}, false
}

// studentPair is an unordered pair of student ids, smaller id first.
type studentPair [2]int

func newStudentPair(a, b int) studentPair {
	if a > b {
		a, b = b, a
	}
	return studentPair{a, b}
}

// tabuList is a FIFO-bounded set: a ring buffer of pairs with a map for
// membership.
type tabuList struct {
	m    map[studentPair]int
	ring []studentPair
	i    int
	n    int
}

func newTabuList(capacity int) *tabuList {
	return &tabuList{
		m:    make(map[studentPair]int, capacity),
		ring: make([]studentPair, capacity),
	}
}

func (t *tabuList) Contains(p studentPair) bool {
	return t.m[p] > 0
}

// Add appends p, evicting the oldest entry once the list is full.
func (t *tabuList) Add(p studentPair) {
	if len(t.ring) == 0 {
		return
	}
	if t.n == len(t.ring) {
		old := t.ring[t.i]
		if t.m[old]--; t.m[old] == 0 {
			delete(t.m, old)
		}
	} else {
		t.n++
	}
	t.ring[t.i] = p
	t.m[p]++
	t.i = (t.i + 1) % len(t.ring)
}

func (t *tabuList) Len() int { return t.n }
