package solver

import (
	"fmt"
	"slices"
)

// Empty marks a seat without a student.
const Empty = -1

type Pos struct {
	X int
	Y int
}

// Grid is a dense seat grid indexed [y][x]. Occupied cells hold a student
// index, vacant ones hold Empty.
type Grid [][]int

func NewGrid(depth, width int) Grid {
	g := make(Grid, depth)
	for y := range g {
		g[y] = make([]int, width)
		for x := range g[y] {
			g[y][x] = Empty
		}
	}
	return g
}

func (g Grid) Depth() int { return len(g) }

func (g Grid) Width() int {
	if len(g) == 0 {
		return 0
	}
	return len(g[0])
}

func (g Grid) At(p Pos) int { return g[p.Y][p.X] }

func (g Grid) Clone() Grid {
	c := make(Grid, len(g))
	for y, row := range g {
		c[y] = slices.Clone(row)
	}
	return c
}

// Swap exchanges the occupants of two cells. Both positions must be in bounds.
func (g Grid) Swap(a, b Pos) {
	g[a.Y][a.X], g[b.Y][b.X] = g[b.Y][b.X], g[a.Y][a.X]
}

// Occupied lists occupied positions in row-major order.
func (g Grid) Occupied() []Pos {
	var ps []Pos
	for y, row := range g {
		for x, v := range row {
			if v != Empty {
				ps = append(ps, Pos{X: x, Y: y})
			}
		}
	}
	return ps
}

func (g Grid) copyFrom(src Grid) {
	for y := range g {
		copy(g[y], src[y])
	}
}

func (g Grid) rectangular() bool {
	w := g.Width()
	for _, row := range g {
		if len(row) != w {
			return false
		}
	}
	return true
}

// CompareGrids orders grids lexicographically over their row-major cells,
// shorter grids first.
func CompareGrids(a, b Grid) int {
	for y := 0; y < len(a) && y < len(b); y++ {
		if c := slices.Compare(a[y], b[y]); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

// SplitLayout converts a sparse layout into a grid of raw student ids and the
// list of seated students sorted by id. The layout must already be validated.
func SplitLayout(layout Layout) (Grid, []Student) {
	g := make(Grid, len(layout))
	var students []Student
	for y, row := range layout {
		g[y] = make([]int, len(row))
		for x, s := range row {
			if s == nil {
				g[y][x] = Empty
				continue
			}
			g[y][x] = s.ID
			students = append(students, *s)
		}
	}
	slices.SortFunc(students, func(a, b Student) int { return a.ID - b.ID })
	return g, students
}

// ValidateLayout rejects ragged layouts, negative ids and duplicated ids. All
// duplicates are reported at once through a *DuplicateIDError.
func ValidateLayout(layout Layout) error {
	if len(layout) > 0 {
		w := len(layout[0])
		for y, row := range layout {
			if len(row) != w {
				return fmt.Errorf("%w: row %d has %d seats, want %d", ErrInvalidInput, y, len(row), w)
			}
		}
	}

	seen := map[int]bool{}
	var dups []int
	for _, row := range layout {
		for _, s := range row {
			if s == nil {
				continue
			}
			if s.ID < 0 {
				return fmt.Errorf("%w: negative student id %d", ErrInvalidInput, s.ID)
			}
			if seen[s.ID] {
				dups = append(dups, s.ID)
			}
			seen[s.ID] = true
		}
	}
	if len(dups) > 0 {
		slices.Sort(dups)
		return &DuplicateIDError{IDs: slices.Compact(dups)}
	}
	return nil
}

// CompactIDs renumbers students to 0..n-1 following the sorted order of their
// original ids and rewrites every occupied cell of g accordingly. students is
// re-sorted by the new ids. The returned slice maps compact id to original id.
func CompactIDs(students []Student, g Grid) ([]int, error) {
	original := make([]int, len(students))
	for i, s := range students {
		original[i] = s.ID
	}
	slices.Sort(original)
	for i := 1; i < len(original); i++ {
		if original[i] == original[i-1] {
			return nil, &DuplicateIDError{IDs: []int{original[i]}}
		}
	}

	for i := range students {
		idx, _ := slices.BinarySearch(original, students[i].ID)
		students[i].ID = idx
	}
	slices.SortFunc(students, func(a, b Student) int { return a.ID - b.ID })

	for y, row := range g {
		for x, id := range row {
			if id == Empty {
				continue
			}
			idx, ok := slices.BinarySearch(original, id)
			if !ok {
				return nil, fmt.Errorf("%w: seat (%d,%d) holds unknown student %d", ErrInvalidInput, x, y, id)
			}
			g[y][x] = idx
		}
	}
	return original, nil
}

// ExpandIDs undoes CompactIDs on a grid.
func ExpandIDs(g Grid, original []int) Grid {
	out := g.Clone()
	for y, row := range out {
		for x, idx := range row {
			if idx != Empty {
				out[y][x] = original[idx]
			}
		}
	}
	return out
}
