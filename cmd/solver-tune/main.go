package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"seats/solver"
)

type runResult struct {
	score      int
	individual float64
	elapsed    time.Duration
}

type classShape struct {
	depth, width, students int
}

func printStats(label string, results []runResult, runs int) {
	if len(results) == 0 {
		fmt.Printf("--- %s ---\n  no successful runs\n\n", label)
		return
	}
	var totalTime time.Duration
	scores := make([]float64, len(results))
	individual := make([]float64, len(results))
	for i, r := range results {
		totalTime += r.elapsed
		scores[i] = float64(r.score)
		individual[i] = r.individual
	}
	mean, sigma := solver.Mean(scores), solver.StandardDeviation(scores)

	fmt.Printf("--- %s ---\n", label)
	fmt.Printf("  runs ok: %d/%d\n", len(results), runs)
	fmt.Printf("  avg time: %v\n", totalTime/time.Duration(len(results)))
	fmt.Printf("  score: mean %.1f sigma %.1f best %.0f worst %.0f\n", mean, sigma, slices.Max(scores), slices.Min(scores))
	fmt.Printf("  individual: mean %.1f sigma %.1f\n", solver.Mean(individual), solver.StandardDeviation(individual))
	fmt.Printf("%.1f,%.1f\n\n", mean, sigma)
}

// runConfig solves runs independent random classes with opts. Run i uses
// seed+i*31337 for both the class and the search, so results do not depend
// on the worker count.
func runConfig(shape classShape, opts solver.Options, runs, workers int, seed int64, logger *zap.Logger) []runResult {
	results := make([]*runResult, runs)
	jobs := make(chan int)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for run := range jobs {
				res, err := runOnce(shape, opts, seed+int64(run*31337))
				if err != nil {
					logger.Warn("run failed", zap.Int("run", run), zap.Error(err))
					continue
				}
				logger.Debug("run finished",
					zap.Int("run", run),
					zap.Int("score", res.score),
					zap.Duration("elapsed", res.elapsed),
				)
				results[run] = &res
			}
		}()
	}
	for run := range runs {
		jobs <- run
	}
	close(jobs)
	wg.Wait()

	var out []runResult
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

func runOnce(shape classShape, opts solver.Options, seed int64) (runResult, error) {
	rng := rand.New(rand.NewSource(seed))
	previous, students := solver.RandomClass(rng, shape.depth, shape.width, shape.students)

	start := time.Now()
	sol, err := solver.Solve(context.Background(), previous, students, opts, rng)
	elapsed := time.Since(start)
	if err != nil {
		return runResult{}, err
	}

	ev, err := solver.NewEvaluator(previous, students, opts.Weights)
	if err != nil {
		return runResult{}, err
	}
	eval, err := ev.Evaluate(sol.Grid)
	if err != nil {
		return runResult{}, err
	}
	individual := make([]float64, len(eval.Individual))
	for i, v := range eval.Individual {
		individual[i] = float64(v)
	}
	return runResult{score: sol.Score, individual: solver.Mean(individual), elapsed: elapsed}, nil
}

func main() {
	runs := flag.Int("runs", 20, "number of solver runs per parameter set")
	algo := flag.String("algo", "all", "algorithm: anneal, beam, tabu, all")
	seed := flag.Int64("seed", 0, "base seed; run i uses seed+i*31337")
	depth := flag.Int("depth", 7, "rows of the classroom")
	width := flag.Int("width", 7, "seats per row")
	numStudents := flag.Int("students", 45, "number of students")
	workers := flag.Int("workers", runtime.GOMAXPROCS(0), "concurrent runs")
	steps := flag.String("steps", strconv.Itoa(solver.DefaultAnnealParams.Steps), "comma-separated annealing step counts")
	tempHigh := flag.String("thigh", fmt.Sprint(solver.DefaultAnnealParams.TempHigh), "comma-separated annealing initial temperatures")
	tempLow := flag.String("tlow", fmt.Sprint(solver.DefaultAnnealParams.TempLow), "comma-separated annealing final temperatures")
	beamWidths := flag.String("beam", strconv.Itoa(solver.DefaultBeamParams.Width), "comma-separated beam widths")
	iterations := flag.String("iters", strconv.Itoa(solver.DefaultTabuParams.Iterations), "comma-separated tabu iteration counts")
	neighbors := flag.String("neighbors", strconv.Itoa(solver.DefaultTabuParams.Neighbors), "comma-separated tabu neighbour draws per iteration")
	tenure := flag.String("tabu", strconv.Itoa(solver.DefaultTabuParams.Capacity), "comma-separated tabu list capacities")
	verbose := flag.Bool("v", false, "log every run")
	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			fmt.Fprintf(os.Stderr, "building logger: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()
	}

	shape := classShape{depth: *depth, width: *width, students: *numStudents}
	if shape.students > shape.depth*shape.width || shape.students < 1 {
		fmt.Fprintf(os.Stderr, "%d students do not fit in %dx%d seats\n", shape.students, shape.depth, shape.width)
		os.Exit(1)
	}
	*workers = max(*workers, 1)

	fmt.Printf("Classroom: %dx%d, Students: %d\n", shape.depth, shape.width, shape.students)
	fmt.Printf("Runs per config: %d, workers: %d\n\n", *runs, *workers)

	run := func(label string, opts solver.Options) {
		if err := opts.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", label, err)
			return
		}
		printStats(label, runConfig(shape, opts, *runs, *workers, *seed, logger), *runs)
	}

	if *algo == "anneal" || *algo == "all" {
		for _, ns := range parseIntList(*steps) {
			for _, th := range parseFloatList(*tempHigh) {
				for _, tl := range parseFloatList(*tempLow) {
					opts := solver.DefaultOptions()
					opts.Anneal = solver.AnnealParams{Steps: ns, TempHigh: th, TempLow: tl}
					run(fmt.Sprintf("anneal steps=%d thigh=%.3f tlow=%.3f", ns, th, tl), opts)
				}
			}
		}
	}

	if *algo == "beam" || *algo == "all" {
		for _, bw := range parseIntList(*beamWidths) {
			opts := solver.DefaultOptions()
			opts.Strategy = solver.StrategyBeam
			opts.Beam = solver.BeamParams{Width: bw}
			run(fmt.Sprintf("beam width=%d", bw), opts)
		}
	}

	if *algo == "tabu" || *algo == "all" {
		for _, ni := range parseIntList(*iterations) {
			for _, nn := range parseIntList(*neighbors) {
				for _, nt := range parseIntList(*tenure) {
					opts := solver.DefaultOptions()
					opts.Strategy = solver.StrategyTabu
					opts.Tabu = solver.TabuParams{Iterations: ni, Neighbors: nn, Capacity: nt}
					run(fmt.Sprintf("tabu iters=%d neighbors=%d tenure=%d", ni, nn, nt), opts)
				}
			}
		}
	}
}

func parseIntList(s string) []int {
	parts := strings.Split(s, ",")
	var result []int
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err == nil {
			result = append(result, v)
		}
	}
	return result
}

func parseFloatList(s string) []float64 {
	parts := strings.Split(s, ",")
	var result []float64
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err == nil {
			result = append(result, v)
		}
	}
	return result
}
