package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"seats/solver"
)

func TestParseLists(t *testing.T) {
	assert.Equal(t, []int{1, 20, 300}, parseIntList("1, 20,x,300"))
	assert.Equal(t, []float64{119.5, 1.563}, parseFloatList("119.5,1.563"))
	assert.Empty(t, parseIntList(""))
}

func TestRunConfig_IndependentOfWorkers(t *testing.T) {
	shape := classShape{depth: 3, width: 4, students: 10}
	opts := solver.DefaultOptions()
	opts.Anneal.Steps = 500

	one := runConfig(shape, opts, 6, 1, 7, zaptest.NewLogger(t))
	many := runConfig(shape, opts, 6, 4, 7, zaptest.NewLogger(t))
	require.Len(t, one, 6)
	require.Len(t, many, 6)
	for i := range one {
		assert.Equal(t, one[i].score, many[i].score)
		assert.Equal(t, one[i].individual, many[i].individual)
	}
}
