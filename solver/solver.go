// Package solver seats students in a classroom grid so that former
// neighbours are split up, students needing assistance sit near the front and
// every neighbourhood of the room is balanced.
package solver

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

type Gender int

const (
	Male Gender = iota
	Female
)

func (g Gender) String() string {
	if g == Female {
		return "female"
	}
	return "male"
}

func (g Gender) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

func (g *Gender) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "male":
		*g = Male
	case "female":
		*g = Female
	default:
		return fmt.Errorf("%w: unknown gender %q", ErrInvalidInput, b)
	}
	return nil
}

type Student struct {
	ID              int    `json:"id"`
	Name            string `json:"name"`
	Academic        int    `json:"academic_ability"`
	Exercise        int    `json:"exercise_ability"`
	Leadership      int    `json:"leadership_ability"`
	NeedsAssistance bool   `json:"needs_assistance"`
	Gender          Gender `json:"gender"`
}

// Layout is the caller-facing seat grid, indexed [y][x]; nil is a vacant seat.
type Layout [][]*Student

type Solution struct {
	Grid  Grid
	Score int
}

type Strategy string

const (
	StrategyAnneal Strategy = "anneal"
	StrategyBeam   Strategy = "beam"
	StrategyTabu   Strategy = "tabu"
)

var Strategies = []Strategy{StrategyAnneal, StrategyBeam, StrategyTabu}

func ParseStrategy(s string) (Strategy, error) {
	for _, st := range Strategies {
		if string(st) == strings.ToLower(strings.TrimSpace(s)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown strategy %q", ErrInvalidInput, s)
}

type Options struct {
	Strategy Strategy
	Weights  Weights
	// Seed fixes the random stream. When nil the seed is derived from the
	// input with ContentSeed, so identical input gives identical output.
	Seed   *int64
	Anneal AnnealParams
	Beam   BeamParams
	Tabu   TabuParams
	Logger *zap.Logger
}

func DefaultOptions() Options {
	return Options{
		Strategy: StrategyAnneal,
		Weights:  DefaultWeights,
		Anneal:   DefaultAnnealParams,
		Beam:     DefaultBeamParams,
		Tabu:     DefaultTabuParams,
	}
}

func (o Options) Validate() error {
	switch o.Strategy {
	case StrategyAnneal:
		return o.Anneal.Validate()
	case StrategyBeam:
		return o.Beam.Validate()
	case StrategyTabu:
		return o.Tabu.Validate()
	}
	return fmt.Errorf("%w: unknown strategy %q", ErrInvalidInput, o.Strategy)
}

type Result struct {
	Layout   Layout
	Score    int
	Seed     int64
	Strategy Strategy
}

// Execute validates layout, optimizes it with the configured strategy and
// returns the new layout with the caller's original student ids.
func Execute(ctx context.Context, layout Layout, opts Options) (Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ValidateLayout(layout); err != nil {
		return Result{}, err
	}
	if err := opts.Validate(); err != nil {
		return Result{}, err
	}

	previous, students := SplitLayout(layout)
	if len(students) == 0 {
		return Result{}, fmt.Errorf("%w: layout has no seated students", ErrNoFeasibleResult)
	}

	var seed int64
	if opts.Seed != nil {
		seed = *opts.Seed
	} else {
		seed = ContentSeed(previous, students)
	}

	original, err := CompactIDs(students, previous)
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	sol, err := Solve(ctx, previous, students, opts, rand.New(rand.NewSource(seed)))
	if err != nil {
		logger.Debug("solve failed", zap.String("strategy", string(opts.Strategy)), zap.Int64("seed", seed), zap.Error(err))
		return Result{}, err
	}
	logger.Debug("solved",
		zap.String("strategy", string(opts.Strategy)),
		zap.Int64("seed", seed),
		zap.Int("students", len(students)),
		zap.Int("score", sol.Score),
		zap.Duration("elapsed", time.Since(start)),
	)

	out := make(Layout, len(sol.Grid))
	for y, row := range sol.Grid {
		out[y] = make([]*Student, len(row))
		for x, idx := range row {
			if idx == Empty {
				continue
			}
			s := students[idx]
			s.ID = original[idx]
			out[y][x] = &s
		}
	}
	return Result{Layout: out, Score: sol.Score, Seed: seed, Strategy: opts.Strategy}, nil
}

// Solve runs the strategy named in opts on a compacted grid.
func Solve(ctx context.Context, previous Grid, students []Student, opts Options, rng *rand.Rand) (Solution, error) {
	switch opts.Strategy {
	case StrategyAnneal:
		return Anneal(ctx, previous, students, opts.Weights, opts.Anneal, rng)
	case StrategyBeam:
		return BeamSearch(ctx, previous, students, opts.Weights, opts.Beam)
	case StrategyTabu:
		return TabuSearch(ctx, previous, students, opts.Weights, opts.Tabu, rng)
	}
	return Solution{}, fmt.Errorf("%w: unknown strategy %q", ErrInvalidInput, opts.Strategy)
}

// ContentSeed hashes the JSON encoding of students followed by g.
func ContentSeed(g Grid, students []Student) int64 {
	h := xxhash.New()
	enc := json.NewEncoder(h)
	// Encoding plain structs and int slices cannot fail.
	_ = enc.Encode(students)
	_ = enc.Encode(g)
	return int64(h.Sum64())
}
