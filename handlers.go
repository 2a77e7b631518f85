package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"seats/solver"
)

const (
	defaultLayoutHistory = 20
	maxLayoutHistory     = 100
	maxBodyBytes         = 1 << 20
)

// weightsRequest holds optional weights; omitted ones keep their current
// value.
type weightsRequest struct {
	Distance   *float64 `json:"distance" validate:"omitempty,gte=0,lte=1000000"`
	Assistance *float64 `json:"assistance" validate:"omitempty,gte=0,lte=1000000"`
	Academic   *float64 `json:"academic" validate:"omitempty,gte=0,lte=1000000"`
	Exercise   *float64 `json:"exercise" validate:"omitempty,gte=0,lte=1000000"`
	Leadership *float64 `json:"leadership" validate:"omitempty,gte=0,lte=1000000"`
	Gender     *float64 `json:"gender" validate:"omitempty,gte=0,lte=1000000"`
}

func (w weightsRequest) apply(base solver.Weights) solver.Weights {
	for _, f := range []struct {
		src *float64
		dst *float64
	}{
		{w.Distance, &base.Distance},
		{w.Assistance, &base.Assistance},
		{w.Academic, &base.Academic},
		{w.Exercise, &base.Exercise},
		{w.Leadership, &base.Leadership},
		{w.Gender, &base.Gender},
	} {
		if f.src != nil {
			*f.dst = *f.src
		}
	}
	return base
}

type classroomRequest struct {
	Name    string          `json:"name" validate:"required,max=200"`
	Depth   int             `json:"depth" validate:"min=1,max=30"`
	Width   int             `json:"width" validate:"min=1,max=30"`
	Weights *weightsRequest `json:"weights"`
}

type classroomPatch struct {
	Name    *string         `json:"name" validate:"omitempty,min=1,max=200"`
	Weights *weightsRequest `json:"weights"`
}

type studentRequest struct {
	ID              int    `json:"id" validate:"gte=0"`
	Name            string `json:"name" validate:"required,max=100"`
	Academic        int    `json:"academic_ability" validate:"min=1,max=5"`
	Exercise        int    `json:"exercise_ability" validate:"min=1,max=5"`
	Leadership      int    `json:"leadership_ability" validate:"min=1,max=5"`
	NeedsAssistance bool   `json:"needs_assistance"`
	Gender          string `json:"gender" validate:"oneof=male female"`
}

type layoutRequest struct {
	Seats [][]*studentRequest `json:"seats" validate:"required"`
}

type solveRequest struct {
	Strategy   string  `json:"strategy" validate:"oneof=anneal beam tabu"`
	Seed       *int64  `json:"seed"`
	Steps      int     `json:"steps" validate:"gte=0,lte=10000000"`
	TempHigh   float64 `json:"temp_high" validate:"gte=0"`
	TempLow    float64 `json:"temp_low" validate:"gte=0"`
	BeamWidth  int     `json:"beam_width" validate:"gte=0,lte=100"`
	Iterations int     `json:"iterations" validate:"gte=0,lte=1000000"`
	Neighbors  int     `json:"neighbors" validate:"gte=0,lte=10000"`
	Tenure     int     `json:"tabu_tenure" validate:"gte=0,lte=10000"`
	DryRun     bool    `json:"dry_run"`
}

// options fills unset parameters from the solver defaults.
func (req solveRequest) options(weights solver.Weights) solver.Options {
	opts := solver.DefaultOptions()
	opts.Strategy = solver.Strategy(req.Strategy)
	opts.Weights = weights
	opts.Seed = req.Seed
	if req.Steps > 0 {
		opts.Anneal.Steps = req.Steps
	}
	if req.TempHigh > 0 {
		opts.Anneal.TempHigh = req.TempHigh
	}
	if req.TempLow > 0 {
		opts.Anneal.TempLow = req.TempLow
	}
	if req.BeamWidth > 0 {
		opts.Beam.Width = req.BeamWidth
	}
	if req.Iterations > 0 {
		opts.Tabu.Iterations = req.Iterations
	}
	if req.Neighbors > 0 {
		opts.Tabu.Neighbors = req.Neighbors
	}
	if req.Tenure > 0 {
		opts.Tabu.Capacity = req.Tenure
	}
	return opts
}

// toLayout checks every seated student and the grid shape against the
// classroom and converts the request to a solver layout.
func toLayout(v *validator.Validate, req layoutRequest, c classroom) (solver.Layout, error) {
	if len(req.Seats) != c.Depth {
		return nil, fmt.Errorf("%w: layout has %d rows, classroom has %d", solver.ErrShapeMismatch, len(req.Seats), c.Depth)
	}
	layout := make(solver.Layout, len(req.Seats))
	for y, row := range req.Seats {
		if len(row) != c.Width {
			return nil, fmt.Errorf("%w: row %d has %d seats, classroom has %d", solver.ErrShapeMismatch, y, len(row), c.Width)
		}
		layout[y] = make([]*solver.Student, len(row))
		for x, s := range row {
			if s == nil {
				continue
			}
			s.Gender = strings.ToLower(s.Gender)
			if err := v.Struct(s); err != nil {
				return nil, fmt.Errorf("seat (%d, %d): %w", x, y, err)
			}
			student := solver.Student{
				ID:              s.ID,
				Name:            s.Name,
				Academic:        s.Academic,
				Exercise:        s.Exercise,
				Leadership:      s.Leadership,
				NeedsAssistance: s.NeedsAssistance,
			}
			if err := student.Gender.UnmarshalText([]byte(s.Gender)); err != nil {
				return nil, err
			}
			layout[y][x] = &student
		}
	}
	if err := solver.ValidateLayout(layout); err != nil {
		return nil, err
	}
	return layout, nil
}

// solvableLayout decodes the newest revision. A classroom without one is an
// empty room and has nothing to solve.
func solvableLayout(l layoutRevision, err error) (solver.Layout, error) {
	if errors.Is(err, errNotFound) {
		return nil, fmt.Errorf("%w: classroom has no saved layout", solver.ErrNoFeasibleResult)
	}
	if err != nil {
		return nil, err
	}
	return l.layout()
}

func emptyLayout(depth, width int) solver.Layout {
	layout := make(solver.Layout, depth)
	for y := range layout {
		layout[y] = make([]*solver.Student, width)
	}
	return layout
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return true
	case errors.As(err, &tooLarge):
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
	default:
		http.Error(w, "invalid JSON", http.StatusBadRequest)
	}
	return false
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		http.Error(w, "invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func handleListClassrooms(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email, ok := requireUser(w, r)
		if !ok {
			return
		}
		cs, err := a.store.classrooms(r.Context(), email, isAdmin(email))
		if err != nil {
			writeStoreError(a, w, err)
			return
		}
		writeJSON(w, http.StatusOK, cs)
	}
}

func handleCreateClassroom(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email, ok := requireUser(w, r)
		if !ok {
			return
		}
		var req classroomRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := a.validate.Struct(req); err != nil {
			writeValidationError(w, err)
			return
		}
		weights := solver.DefaultWeights
		if req.Weights != nil {
			if err := a.validate.Struct(req.Weights); err != nil {
				writeValidationError(w, err)
				return
			}
			weights = req.Weights.apply(weights)
		}
		raw, err := json.Marshal(weights)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		c, err := a.store.createClassroom(r.Context(), classroom{
			Owner:   email,
			Name:    req.Name,
			Depth:   req.Depth,
			Width:   req.Width,
			Weights: types.JSONText(raw),
		})
		if err != nil {
			writeStoreError(a, w, err)
			return
		}
		a.logger.Info("classroom created", zap.Int64("classroom", c.ID), zap.String("owner", email))
		writeJSON(w, http.StatusCreated, c)
	}
}

func handleGetClassroom(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, c, ok := requireClassroom(a, w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func handleUpdateClassroom(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, c, ok := requireClassroom(a, w, r)
		if !ok {
			return
		}
		var req classroomPatch
		if !decodeBody(w, r, &req) {
			return
		}
		if err := a.validate.Struct(req); err != nil {
			writeValidationError(w, err)
			return
		}
		if req.Name != nil {
			c.Name = *req.Name
		}
		if req.Weights != nil {
			if err := a.validate.Struct(req.Weights); err != nil {
				writeValidationError(w, err)
				return
			}
			current, err := c.weights()
			if err != nil {
				writeStoreError(a, w, err)
				return
			}
			raw, err := json.Marshal(req.Weights.apply(current))
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			c.Weights = types.JSONText(raw)
		}
		if err := a.store.updateClassroom(r.Context(), c); err != nil {
			writeStoreError(a, w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func handleDeleteClassroom(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email, c, ok := requireClassroom(a, w, r)
		if !ok {
			return
		}
		if err := a.store.deleteClassroom(r.Context(), c.ID); err != nil {
			writeStoreError(a, w, err)
			return
		}
		a.logger.Info("classroom deleted", zap.Int64("classroom", c.ID), zap.String("by", email))
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleGetLayout(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, c, ok := requireClassroom(a, w, r)
		if !ok {
			return
		}
		l, err := a.store.latestLayout(r.Context(), c.ID)
		if errors.Is(err, errNotFound) {
			writeJSON(w, http.StatusOK, map[string]any{
				"classroom_id": c.ID,
				"seats":        emptyLayout(c.Depth, c.Width),
			})
			return
		}
		if err != nil {
			writeStoreError(a, w, err)
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}

func handlePutLayout(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email, c, ok := requireClassroom(a, w, r)
		if !ok {
			return
		}
		var req layoutRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := a.validate.Struct(req); err != nil {
			writeValidationError(w, err)
			return
		}
		layout, err := toLayout(a.validate, req, c)
		if err != nil {
			writeSolverError(a, w, err)
			return
		}
		l, err := a.store.saveLayout(r.Context(), c.ID, email, layout, nil)
		if err != nil {
			writeStoreError(a, w, err)
			return
		}
		writeJSON(w, http.StatusCreated, l)
	}
}

func handleListLayouts(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, c, ok := requireClassroom(a, w, r)
		if !ok {
			return
		}
		limit := defaultLayoutHistory
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = min(n, maxLayoutHistory)
		}
		ls, err := a.store.layouts(r.Context(), c.ID, limit)
		if err != nil {
			writeStoreError(a, w, err)
			return
		}
		writeJSON(w, http.StatusOK, ls)
	}
}

func handleSolve(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email, c, ok := requireClassroom(a, w, r)
		if !ok {
			return
		}
		req := solveRequest{Strategy: string(solver.StrategyAnneal)}
		if !decodeBody(w, r, &req) {
			return
		}
		req.Strategy = strings.ToLower(strings.TrimSpace(req.Strategy))
		if err := a.validate.Struct(req); err != nil {
			writeValidationError(w, err)
			return
		}

		layout, err := solvableLayout(a.store.latestLayout(r.Context(), c.ID))
		switch {
		case errors.Is(err, solver.ErrNoFeasibleResult):
			writeSolverError(a, w, err)
			return
		case err != nil:
			writeStoreError(a, w, err)
			return
		}
		weights, err := c.weights()
		if err != nil {
			writeStoreError(a, w, err)
			return
		}

		opts := req.options(weights)
		opts.Logger = a.logger.With(zap.Int64("classroom", c.ID))

		ctx, cancel := solveContext(r.Context(), a.solveTimeout)
		defer cancel()
		res, err := solver.Execute(ctx, layout, opts)
		if err != nil {
			writeSolverError(a, w, err)
			return
		}
		a.logger.Info("solved",
			zap.Int64("classroom", c.ID),
			zap.String("strategy", string(res.Strategy)),
			zap.Int64("seed", res.Seed),
			zap.Int("score", res.Score),
		)

		if req.DryRun {
			writeJSON(w, http.StatusOK, map[string]any{
				"seats":    res.Layout,
				"score":    res.Score,
				"seed":     res.Seed,
				"strategy": res.Strategy,
			})
			return
		}
		l, err := a.store.saveLayout(r.Context(), c.ID, email, res.Layout, &res)
		if err != nil {
			writeStoreError(a, w, err)
			return
		}
		writeJSON(w, http.StatusCreated, l)
	}
}

// chartLayout loads the classroom and its newest layout, or an all-vacant
// grid when nothing has been saved yet.
func chartLayout(a *app, w http.ResponseWriter, r *http.Request) (classroom, solver.Layout, bool) {
	_, c, ok := requireClassroom(a, w, r)
	if !ok {
		return classroom{}, nil, false
	}
	l, err := a.store.latestLayout(r.Context(), c.ID)
	switch {
	case errors.Is(err, errNotFound):
		return c, emptyLayout(c.Depth, c.Width), true
	case err != nil:
		writeStoreError(a, w, err)
		return classroom{}, nil, false
	}
	layout, err := l.layout()
	if err != nil {
		writeStoreError(a, w, err)
		return classroom{}, nil, false
	}
	return c, layout, true
}

func handleChart(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, layout, ok := chartLayout(a, w, r)
		if !ok {
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := renderChart(w, c.Name, layout); err != nil {
			a.logger.Error("rendering chart", zap.Int64("classroom", c.ID), zap.Error(err))
		}
	}
}

func handleChartPDF(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, layout, ok := chartLayout(a, w, r)
		if !ok {
			return
		}
		var buf bytes.Buffer
		if err := renderChartPDF(&buf, layout, a.chartFont); err != nil {
			a.logger.Error("rendering pdf chart", zap.Int64("classroom", c.ID), zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", c.Name+".pdf"))
		w.Write(buf.Bytes())
	}
}

func writeValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	fields := make([]string, len(verrs))
	for i, fe := range verrs {
		fields[i] = fe.Field() + ": " + fe.Tag()
	}
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":  "invalid request",
		"fields": fields,
	})
}

func writeSolverError(a *app, w http.ResponseWriter, err error) {
	var dup *solver.DuplicateIDError
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &dup):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":      err.Error(),
			"duplicates": dup.IDs,
		})
	case errors.As(err, &verrs):
		writeValidationError(w, verrs)
	case errors.Is(err, solver.ErrInvalidInput), errors.Is(err, solver.ErrShapeMismatch):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
	case errors.Is(err, solver.ErrNoFeasibleResult):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "solve timed out", http.StatusServiceUnavailable)
	case errors.Is(err, context.Canceled):
		a.logger.Debug("solve cancelled", zap.Error(err))
	default:
		a.logger.Error("solve failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeStoreError(a *app, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case isConstraintViolation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		a.logger.Error("database error", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
