package solver

import (
	"errors"
	"fmt"
	"math"
)

// Weights tune the terms of the objective.
type Weights struct {
	// Distance rewards seating a student far from their former neighbours.
	Distance float64 `json:"distance"`
	// Assistance penalizes students needing assistance for sitting far
	// from the front of the room.
	Assistance float64 `json:"assistance"`
	Academic   float64 `json:"academic"`
	Exercise   float64 `json:"exercise"`
	Leadership float64 `json:"leadership"`
	Gender     float64 `json:"gender"`
}

var DefaultWeights = Weights{
	Distance:   1000,
	Assistance: 1000,
	Academic:   1000,
	Exercise:   1000,
	Leadership: 1000,
	Gender:     1000,
}

var neighborDirs = [8]Pos{
	{0, 1}, {1, 0}, {0, -1}, {-1, 0},
	{-1, -1}, {1, 1}, {-1, 1}, {1, -1},
}

// Corners of the difference-array footprint. After the two prefix passes a
// student contributes to every cell within one row and column of its seat.
var footprint = [4]struct {
	dx, dy int
	sign   float64
}{
	{-1, -1, 1},
	{2, -1, -1},
	{-1, 2, -1},
	{2, 2, 1},
}

const (
	attrAcademic = iota
	attrExercise
	attrLeadership
	attrMale
	numAttrs
)

// Balance holds the localMin/localMax ratio of each attribute. An omitted
// term is NaN.
type Balance struct {
	Academic   float64
	Exercise   float64
	Leadership float64
	Gender     float64
}

type Evaluation struct {
	Score int
	// Individual is indexed by student id; students without a seat score 0.
	Individual []int
	Balance    Balance
}

// Evaluator scores candidate layouts against a fixed previous layout. It
// reuses internal buffers and must not be shared between goroutines.
type Evaluator struct {
	previous Grid
	students []Student
	weights  Weights
	depth    int
	width    int

	seated        []int
	prevNeighbors [][]int

	pos        []Pos
	individual []int
	attr       [numAttrs][]float64
	count      []int
}

func NewEvaluator(previous Grid, students []Student, weights Weights) (*Evaluator, error) {
	if !previous.rectangular() {
		return nil, fmt.Errorf("%w: previous layout is not rectangular", ErrShapeMismatch)
	}
	n := len(students)
	e := &Evaluator{
		previous:      previous,
		students:      students,
		weights:       weights,
		depth:         previous.Depth(),
		width:         previous.Width(),
		prevNeighbors: make([][]int, n),
		pos:           make([]Pos, n),
		individual:    make([]int, n),
	}

	placed := make([]bool, n)
	prevPos := make([]Pos, n)
	for y, row := range previous {
		for x, id := range row {
			if id == Empty {
				continue
			}
			if id < 0 || id >= n {
				return nil, fmt.Errorf("%w: seat (%d,%d) holds student %d, want [0,%d)", ErrInvalidInput, x, y, id, n)
			}
			if placed[id] {
				return nil, &DuplicateIDError{IDs: []int{id}}
			}
			placed[id] = true
			prevPos[id] = Pos{X: x, Y: y}
			e.seated = append(e.seated, id)
		}
	}
	if len(e.seated) == 0 {
		return nil, fmt.Errorf("%w: layout has no seated students", ErrNoFeasibleResult)
	}

	for _, id := range e.seated {
		p := prevPos[id]
		for _, d := range neighborDirs {
			x, y := p.X+d.X, p.Y+d.Y
			if x < 0 || x >= e.width || y < 0 || y >= e.depth {
				continue
			}
			if adj := previous[y][x]; adj != Empty {
				e.prevNeighbors[id] = append(e.prevNeighbors[id], adj)
			}
		}
	}

	cells := e.depth * e.width
	for a := range e.attr {
		e.attr[a] = make([]float64, cells)
	}
	e.count = make([]int, cells)
	return e, nil
}

// Score returns the fitness of candidate. Higher is better.
func (e *Evaluator) Score(candidate Grid) (int, error) {
	score, _, err := e.evaluate(candidate)
	return score, err
}

// Evaluate is Score with the per-student and per-attribute breakdown.
func (e *Evaluator) Evaluate(candidate Grid) (Evaluation, error) {
	score, bal, err := e.evaluate(candidate)
	if err != nil {
		return Evaluation{}, err
	}
	ind := make([]int, len(e.individual))
	for _, id := range e.seated {
		ind[id] = e.individual[id]
	}
	return Evaluation{Score: score, Individual: ind, Balance: bal}, nil
}

// Evaluate scores candidate against previous with a throwaway Evaluator.
func Evaluate(previous, candidate Grid, students []Student, weights Weights) (int, error) {
	e, err := NewEvaluator(previous, students, weights)
	if err != nil {
		return 0, err
	}
	return e.Score(candidate)
}

func (e *Evaluator) evaluate(candidate Grid) (int, Balance, error) {
	if err := e.locate(candidate); err != nil {
		return 0, Balance{}, err
	}

	total := 0
	for _, id := range e.seated {
		e.individual[id] = e.individualScore(id)
		total += e.individual[id]
	}
	score := int(math.Floor(float64(total) / float64(len(e.seated))))

	e.localize()
	weights := [numAttrs]float64{e.weights.Academic, e.weights.Exercise, e.weights.Leadership, e.weights.Gender}
	var ratios [numAttrs]float64
	for a := range numAttrs {
		r, err := e.ratio(a)
		if errors.Is(err, ErrDegenerateMetric) {
			ratios[a] = math.NaN()
			continue
		}
		ratios[a] = r
		score += int(weights[a] * r)
	}

	bal := Balance{
		Academic:   ratios[attrAcademic],
		Exercise:   ratios[attrExercise],
		Leadership: ratios[attrLeadership],
		Gender:     ratios[attrMale],
	}
	return score, bal, nil
}

// locate records the candidate seat of every student and checks that
// candidate occupies exactly the seats previous does, with the same students.
func (e *Evaluator) locate(candidate Grid) error {
	if len(candidate) != e.depth {
		return fmt.Errorf("%w: candidate has %d rows, want %d", ErrShapeMismatch, len(candidate), e.depth)
	}
	for i := range e.pos {
		e.pos[i] = Pos{X: -1, Y: -1}
	}
	n := len(e.students)
	for y, row := range candidate {
		if len(row) != e.width {
			return fmt.Errorf("%w: candidate row %d has %d seats, want %d", ErrShapeMismatch, y, len(row), e.width)
		}
		for x, id := range row {
			if (e.previous[y][x] == Empty) != (id == Empty) {
				return fmt.Errorf("%w: seat (%d,%d) is occupied in only one layout", ErrShapeMismatch, x, y)
			}
			if id == Empty {
				continue
			}
			if id < 0 || id >= n {
				return fmt.Errorf("%w: seat (%d,%d) holds student %d, want [0,%d)", ErrInvalidInput, x, y, id, n)
			}
			if e.pos[id].X >= 0 {
				return fmt.Errorf("%w: student %d occupies more than one seat", ErrShapeMismatch, id)
			}
			e.pos[id] = Pos{X: x, Y: y}
		}
	}
	for _, id := range e.seated {
		if e.pos[id].X < 0 {
			return fmt.Errorf("%w: student %d has no seat in the candidate layout", ErrShapeMismatch, id)
		}
	}
	return nil
}

func (e *Evaluator) individualScore(id int) int {
	p := e.pos[id]
	score := 0

	// A student without previous neighbours has no stability term.
	if adj := e.prevNeighbors[id]; len(adj) > 0 {
		sum := 0
		for _, a := range adj {
			q := e.pos[a]
			sum += absInt(p.X-q.X) + absInt(p.Y-q.Y)
		}
		score = int(float64(sum) / float64(len(adj)) * e.weights.Distance)
	}

	if e.students[id].NeedsAssistance {
		ax, ay := float64(e.width)/2, -1.0
		dist := math.Hypot(float64(p.X)-ax, float64(p.Y)-ay)
		score -= int(dist * e.weights.Assistance)
	}
	return score
}

// localize fills attr with windowed sums and count with windowed occupant
// counts using a 2-D difference array and two prefix passes.
func (e *Evaluator) localize() {
	for a := range e.attr {
		clear(e.attr[a])
	}
	clear(e.count)

	w, d := e.width, e.depth
	for _, id := range e.seated {
		p := e.pos[id]
		s := e.students[id]
		male := 0.0
		if s.Gender == Male {
			male = 1
		}
		vals := [numAttrs]float64{float64(s.Academic), float64(s.Exercise), float64(s.Leadership), male}
		for _, c := range footprint {
			x, y := max(p.X+c.dx, 0), max(p.Y+c.dy, 0)
			if x >= w || y >= d {
				continue
			}
			i := y*w + x
			for a, v := range vals {
				e.attr[a][i] += c.sign * v
			}
			e.count[i] += int(c.sign)
		}
	}

	for y := 0; y < d; y++ {
		for x := 1; x < w; x++ {
			i := y*w + x
			for a := range e.attr {
				e.attr[a][i] += e.attr[a][i-1]
			}
			e.count[i] += e.count[i-1]
		}
	}
	for y := 1; y < d; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			for a := range e.attr {
				e.attr[a][i] += e.attr[a][i-w]
			}
			e.count[i] += e.count[i-w]
		}
	}
}

// ratio returns min/max of the localized mean of attribute a over cells with
// at least one occupant in their window.
func (e *Evaluator) ratio(a int) (float64, error) {
	lo, hi := math.Inf(1), math.Inf(-1)
	valid := 0
	for i, c := range e.count {
		if c <= 0 {
			continue
		}
		v := e.attr[a][i] / float64(c)
		lo = min(lo, v)
		hi = max(hi, v)
		valid++
	}
	if valid == 0 {
		return 0, ErrDegenerateMetric
	}
	if lo == hi {
		return 1, nil
	}
	if hi == 0 {
		return 0, ErrDegenerateMetric
	}
	return lo / hi, nil
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
