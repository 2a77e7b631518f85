package solver

import (
	"fmt"
	"math"
	"math/rand"
)

// RandomClass builds a benchmark classroom of n students on a depth×width
// grid. Abilities follow N(3, 1) rounded into 1..5, the first three students
// need assistance, the first half are male, and seats are shuffled with the
// remaining seats left vacant at the back.
func RandomClass(rng *rand.Rand, depth, width, n int) (Grid, []Student) {
	if n > depth*width {
		panic(fmt.Sprintf("%d students do not fit in %dx%d seats", n, depth, width))
	}
	ability := func() int {
		v := int(math.Round(rng.NormFloat64() + 3))
		return min(max(v, 1), 5)
	}

	students := make([]Student, n)
	for i := range students {
		g := Female
		if i < n/2 {
			g = Male
		}
		students[i] = Student{
			ID:              i,
			Name:            fmt.Sprintf("Student %d", i),
			Academic:        ability(),
			Exercise:        ability(),
			Leadership:      ability(),
			NeedsAssistance: i < 3,
			Gender:          g,
		}
	}

	g := NewGrid(depth, width)
	for i, id := range rng.Perm(n) {
		g[i/width][i%width] = id
	}
	return g, students
}

// ToLayout wraps a compacted grid and its students into a Layout.
func ToLayout(g Grid, students []Student) Layout {
	out := make(Layout, len(g))
	for y, row := range g {
		out[y] = make([]*Student, len(row))
		for x, id := range row {
			if id != Empty {
				s := students[id]
				out[y][x] = &s
			}
		}
	}
	return out
}
