package solver

import (
	"context"
	"math/rand"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertPermutation checks that got seats exactly the students of previous
// on exactly the same seats.
func assertPermutation(t *testing.T, previous, got Grid) {
	t.Helper()
	require.Equal(t, previous.Depth(), got.Depth())
	require.Equal(t, previous.Width(), got.Width())
	assert.Equal(t, previous.Occupied(), got.Occupied())

	var want, have []int
	for _, p := range previous.Occupied() {
		want = append(want, previous.At(p))
		have = append(have, got.At(p))
	}
	slices.Sort(want)
	slices.Sort(have)
	assert.Equal(t, want, have)
}

func sparseClass(seed int64) (Grid, []Student) {
	rng := rand.New(rand.NewSource(seed))
	return RandomClass(rng, 4, 5, 17)
}

func TestAnneal_ZeroStepsReturnsPrevious(t *testing.T) {
	previous, students := sparseClass(1)
	want, err := Evaluate(previous, previous, students, DefaultWeights)
	require.NoError(t, err)

	params := DefaultAnnealParams
	params.Steps = 0
	sol, err := Anneal(context.Background(), previous, students, DefaultWeights, params, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, previous, sol.Grid)
	assert.Equal(t, want, sol.Score)
}

func TestAnneal_ImprovesAndPreservesSeats(t *testing.T) {
	previous, students := sparseClass(2)
	initial, err := Evaluate(previous, previous, students, DefaultWeights)
	require.NoError(t, err)
	snapshot := previous.Clone()

	params := AnnealParams{Steps: 3000, TempHigh: 119.5, TempLow: 1.563}
	sol, err := Anneal(context.Background(), previous, students, DefaultWeights, params, rand.New(rand.NewSource(2)))
	require.NoError(t, err)

	assert.Equal(t, snapshot, previous, "previous layout must not be mutated")
	assertPermutation(t, previous, sol.Grid)
	assert.GreaterOrEqual(t, sol.Score, initial)

	rescored, err := Evaluate(previous, sol.Grid, students, DefaultWeights)
	require.NoError(t, err)
	assert.Equal(t, rescored, sol.Score)
}

func TestAnneal_Deterministic(t *testing.T) {
	previous, students := sparseClass(3)
	params := AnnealParams{Steps: 2000, TempHigh: 50, TempLow: 1}

	a, err := Anneal(context.Background(), previous, students, DefaultWeights, params, rand.New(rand.NewSource(99)))
	require.NoError(t, err)
	b, err := Anneal(context.Background(), previous, students, DefaultWeights, params, rand.New(rand.NewSource(99)))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestAnneal_InvalidParams(t *testing.T) {
	previous, students := sparseClass(4)
	rng := rand.New(rand.NewSource(4))

	_, err := Anneal(context.Background(), previous, students, DefaultWeights, AnnealParams{Steps: 10, TempHigh: 10, TempLow: 0}, rng)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = Anneal(context.Background(), previous, students, DefaultWeights, AnnealParams{Steps: -1, TempHigh: 10, TempLow: 1}, rng)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = Anneal(context.Background(), previous, students, DefaultWeights, DefaultAnnealParams, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAnneal_Cancelled(t *testing.T) {
	previous, students := sparseClass(5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Anneal(ctx, previous, students, DefaultWeights, DefaultAnnealParams, rand.New(rand.NewSource(5)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBeamSearch_PreservesSeats(t *testing.T) {
	previous, students := sparseClass(6)
	initial, err := Evaluate(previous, previous, students, DefaultWeights)
	require.NoError(t, err)

	sol, err := BeamSearch(context.Background(), previous, students, DefaultWeights, BeamParams{Width: 3})
	require.NoError(t, err)

	assertPermutation(t, previous, sol.Grid)
	assert.GreaterOrEqual(t, sol.Score, initial)
	rescored, err := Evaluate(previous, sol.Grid, students, DefaultWeights)
	require.NoError(t, err)
	assert.Equal(t, rescored, sol.Score)
}

func TestBeamSearch_WiderBeamNeverLosesToExhaustive(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	previous, students := RandomClass(rng, 2, 3, 5)
	students[4].NeedsAssistance = true

	exhaustive, err := BeamSearch(context.Background(), previous, students, DefaultWeights, BeamParams{Width: 1000})
	require.NoError(t, err)

	for _, width := range []int{1, 2, 4, 8} {
		sol, err := BeamSearch(context.Background(), previous, students, DefaultWeights, BeamParams{Width: width})
		require.NoError(t, err)
		assertPermutation(t, previous, sol.Grid)
		assert.GreaterOrEqual(t, exhaustive.Score, sol.Score, "width %d", width)
	}
}

func TestBeamSearch_Deterministic(t *testing.T) {
	previous, students := sparseClass(9)

	a, err := BeamSearch(context.Background(), previous, students, DefaultWeights, BeamParams{Width: 2})
	require.NoError(t, err)
	b, err := BeamSearch(context.Background(), previous, students, DefaultWeights, BeamParams{Width: 2})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestBeamSearch_Errors(t *testing.T) {
	previous, students := sparseClass(10)

	_, err := BeamSearch(context.Background(), previous, students, DefaultWeights, BeamParams{Width: 0})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = BeamSearch(context.Background(), NewGrid(2, 2), nil, DefaultWeights, DefaultBeamParams)
	assert.ErrorIs(t, err, ErrNoFeasibleResult)
}

func TestCompareCandidates_TotalOrder(t *testing.T) {
	cs := []beamCandidate{
		{grid: Grid{{1, 0}}, score: 5},
		{grid: Grid{{0, 1}}, score: 5},
		{grid: Grid{{0, 1}}, score: 9},
	}
	slices.SortFunc(cs, compareCandidates)
	assert.Equal(t, 9, cs[0].score)
	assert.Equal(t, Grid{{0, 1}}, cs[1].grid)
	assert.Equal(t, Grid{{1, 0}}, cs[2].grid)
}

func TestTabuSearch_ImprovesAndPreservesSeats(t *testing.T) {
	previous, students := sparseClass(11)
	initial, err := Evaluate(previous, previous, students, DefaultWeights)
	require.NoError(t, err)

	params := TabuParams{Iterations: 200, Neighbors: 20, Capacity: 10}
	sol, err := TabuSearch(context.Background(), previous, students, DefaultWeights, params, rand.New(rand.NewSource(11)))
	require.NoError(t, err)

	assertPermutation(t, previous, sol.Grid)
	assert.GreaterOrEqual(t, sol.Score, initial)
	rescored, err := Evaluate(previous, sol.Grid, students, DefaultWeights)
	require.NoError(t, err)
	assert.Equal(t, rescored, sol.Score)
}

func TestTabuSearch_Deterministic(t *testing.T) {
	previous, students := sparseClass(12)
	params := TabuParams{Iterations: 100, Neighbors: 10, Capacity: 5}

	a, err := TabuSearch(context.Background(), previous, students, DefaultWeights, params, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	b, err := TabuSearch(context.Background(), previous, students, DefaultWeights, params, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestTabuSearch_TwoStudents(t *testing.T) {
	students := []Student{
		{ID: 0, Academic: 3, Exercise: 3, Leadership: 3, Gender: Male},
		{ID: 1, Academic: 3, Exercise: 3, Leadership: 3, Gender: Female},
	}
	sol, err := TabuSearch(context.Background(), Grid{{0, 1}}, students, DefaultWeights, DefaultTabuParams, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assertPermutation(t, Grid{{0, 1}}, sol.Grid)
	assert.Equal(t, 5000, sol.Score)
}

func TestTabuList_FIFO(t *testing.T) {
	tl := newTabuList(2)
	p1, p2, p3 := newStudentPair(1, 0), newStudentPair(2, 5), newStudentPair(7, 3)

	tl.Add(p1)
	tl.Add(p2)
	assert.True(t, tl.Contains(studentPair{0, 1}))
	assert.True(t, tl.Contains(p2))

	tl.Add(p3)
	assert.False(t, tl.Contains(p1))
	assert.True(t, tl.Contains(p2))
	assert.True(t, tl.Contains(studentPair{3, 7}))
	assert.Equal(t, 2, tl.Len())

	empty := newTabuList(0)
	empty.Add(p1)
	assert.False(t, empty.Contains(p1))
	assert.Equal(t, 0, empty.Len())
}

// naiveBeam expands every candidate, sorts the lot and keeps the best width
// distinct layouts.
func naiveBeam(t *testing.T, previous Grid, students []Student, width int) Solution {
	t.Helper()
	eval, err := NewEvaluator(previous, students, DefaultWeights)
	require.NoError(t, err)
	cells := columnMajor(previous)
	score, err := eval.Score(previous)
	require.NoError(t, err)
	queue := []beamCandidate{{grid: previous.Clone(), score: score}}
	for _, fixed := range cells {
		var next []beamCandidate
		for _, c := range queue {
			for _, other := range cells {
				g := c.grid.Clone()
				g.Swap(fixed, other)
				s, err := eval.Score(g)
				require.NoError(t, err)
				next = append(next, beamCandidate{grid: g, score: s})
			}
		}
		slices.SortFunc(next, compareCandidates)
		next = slices.CompactFunc(next, func(a, b beamCandidate) bool { return compareCandidates(a, b) == 0 })
		queue = next[:min(width, len(next))]
	}
	return Solution{Grid: queue[0].grid, Score: queue[0].score}
}

func TestBeamSearch_MatchesFullExpansion(t *testing.T) {
	for seed := range int64(6) {
		rng := rand.New(rand.NewSource(seed + 40))
		previous, students := RandomClass(rng, 3, 4, 9)
		for _, width := range []int{1, 2, 3, 7} {
			want := naiveBeam(t, previous, students, width)
			got, err := BeamSearch(context.Background(), previous, students, DefaultWeights, BeamParams{Width: width})
			require.NoError(t, err)
			assert.Equal(t, want, got, "seed %d width %d", seed, width)
		}
	}
}

func TestBeamSearch_DeadlineInsideExpansion(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	previous, students := RandomClass(rng, 20, 20, 400)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := BeamSearch(ctx, previous, students, DefaultWeights, BeamParams{Width: 100})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestOffer_KeepsBestDistinct(t *testing.T) {
	var beam []beamCandidate
	g := Grid{{0, 1}}
	beam = offer(beam, beamCandidate{grid: g, score: 3}, 2)
	g.Swap(Pos{X: 0}, Pos{X: 1})
	beam = offer(beam, beamCandidate{grid: g, score: 7}, 2)
	beam = offer(beam, beamCandidate{grid: g, score: 7}, 2)
	beam = offer(beam, beamCandidate{grid: Grid{{5, 5}}, score: 1}, 2)

	require.Len(t, beam, 2)
	assert.Equal(t, 7, beam[0].score)
	assert.Equal(t, Grid{{1, 0}}, beam[0].grid)
	assert.Equal(t, Grid{{0, 1}}, beam[1].grid)

	g.Swap(Pos{X: 0}, Pos{X: 1})
	assert.Equal(t, Grid{{1, 0}}, beam[0].grid, "kept grids must not alias the caller's")
}

func TestDrawPair_SkipsTabuPairs(t *testing.T) {
	g := Grid{{0, 1, 2}}
	seats := g.Occupied()
	tabu := newTabuList(5)
	tabu.Add(newStudentPair(0, 1))
	tabu.Add(newStudentPair(0, 2))

	rng := rand.New(rand.NewSource(17))
	for range 50 {
		a, b, ok := drawPair(g, seats, tabu, rng)
		require.True(t, ok)
		assert.Equal(t, newStudentPair(1, 2), newStudentPair(g.At(a), g.At(b)))
	}

	tabu.Add(newStudentPair(2, 1))
	_, _, ok := drawPair(g, seats, tabu, rng)
	assert.False(t, ok)
}

func TestAnneal_ReturnsBestEverNotFinal(t *testing.T) {
	previous, students := sparseClass(14)
	eval, err := NewEvaluator(previous, students, DefaultWeights)
	require.NoError(t, err)

	// At this temperature every swap is accepted, so the trajectory is a
	// random walk that can be replayed from the same seed.
	params := AnnealParams{Steps: 400, TempHigh: 1e15, TempLow: 1e15}
	replay := rand.New(rand.NewSource(14))
	current := previous.Clone()
	currentScore, err := eval.Score(current)
	require.NoError(t, err)
	bestScore := currentScore
	for range params.Steps {
		a := Pos{X: replay.Intn(current.Width()), Y: replay.Intn(current.Depth())}
		b := Pos{X: replay.Intn(current.Width()), Y: replay.Intn(current.Depth())}
		if a == b || current.At(a) == Empty || current.At(b) == Empty {
			continue
		}
		current.Swap(a, b)
		s, err := eval.Score(current)
		require.NoError(t, err)
		if s <= currentScore {
			replay.Float64()
		}
		currentScore = s
		bestScore = max(bestScore, s)
	}
	require.Less(t, currentScore, bestScore, "walk must end below its peak")

	sol, err := Anneal(context.Background(), previous, students, DefaultWeights, params, rand.New(rand.NewSource(14)))
	require.NoError(t, err)
	assert.Equal(t, bestScore, sol.Score)
	rescored, err := Evaluate(previous, sol.Grid, students, DefaultWeights)
	require.NoError(t, err)
	assert.Equal(t, bestScore, rescored)
}

func TestStrategies_RejectMismatchedStudents(t *testing.T) {
	previous, students := sparseClass(15)
	snapshot := previous.Clone()
	short := students[:len(students)-1]
	rng := rand.New(rand.NewSource(15))

	_, err := Anneal(context.Background(), previous, short, DefaultWeights, DefaultAnnealParams, rng)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = BeamSearch(context.Background(), previous, short, DefaultWeights, DefaultBeamParams)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = TabuSearch(context.Background(), previous, short, DefaultWeights, DefaultTabuParams, rng)
	assert.ErrorIs(t, err, ErrInvalidInput)

	dup := previous.Clone()
	seats := dup.Occupied()
	dup[seats[1].Y][seats[1].X] = dup.At(seats[0])
	_, err = TabuSearch(context.Background(), dup, students, DefaultWeights, DefaultTabuParams, rng)
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.Equal(t, snapshot, previous)
}
