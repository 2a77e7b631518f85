package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"

	"seats/solver"
)

var errNotFound = errors.New("not found")

type store struct {
	db *sqlx.DB
}

type classroom struct {
	ID        int64          `db:"id" json:"id"`
	Owner     string         `db:"owner" json:"owner"`
	Name      string         `db:"name" json:"name"`
	Depth     int            `db:"depth" json:"depth"`
	Width     int            `db:"width" json:"width"`
	Weights   types.JSONText `db:"weights" json:"weights"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

func (c classroom) weights() (solver.Weights, error) {
	w := solver.DefaultWeights
	if len(c.Weights) == 0 {
		return w, nil
	}
	if err := c.Weights.Unmarshal(&w); err != nil {
		return solver.Weights{}, fmt.Errorf("decoding weights of classroom %d: %w", c.ID, err)
	}
	return w, nil
}

// layoutRevision is one saved seating of a classroom. Manual edits carry no
// strategy, score or seed.
type layoutRevision struct {
	ID          string         `db:"id" json:"id"`
	ClassroomID int64          `db:"classroom_id" json:"classroom_id"`
	Seats       types.JSONText `db:"seats" json:"seats"`
	Strategy    sql.NullString `db:"strategy" json:"-"`
	Score       sql.NullInt64  `db:"score" json:"-"`
	Seed        sql.NullInt64  `db:"seed" json:"-"`
	CreatedBy   string         `db:"created_by" json:"created_by"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
}

func (l layoutRevision) layout() (solver.Layout, error) {
	var layout solver.Layout
	if err := l.Seats.Unmarshal(&layout); err != nil {
		return nil, fmt.Errorf("decoding layout %s: %w", l.ID, err)
	}
	return layout, nil
}

func (l layoutRevision) MarshalJSON() ([]byte, error) {
	type plain layoutRevision
	out := struct {
		plain
		Strategy *string `json:"strategy"`
		Score    *int64  `json:"score"`
		Seed     *int64  `json:"seed"`
	}{plain: plain(l)}
	if l.Strategy.Valid {
		out.Strategy = &l.Strategy.String
	}
	if l.Score.Valid {
		out.Score = &l.Score.Int64
	}
	if l.Seed.Valid {
		out.Seed = &l.Seed.Int64
	}
	return json.Marshal(out)
}

func (s *store) classrooms(ctx context.Context, email string, all bool) ([]classroom, error) {
	cs := []classroom{}
	err := s.db.SelectContext(ctx, &cs, `
		SELECT id, owner, name, depth, width, weights, created_at
		FROM classrooms
		WHERE owner = $1 OR $2
		ORDER BY name, id`, email, all)
	if err != nil {
		return nil, err
	}
	return cs, nil
}

func (s *store) classroom(ctx context.Context, id int64) (classroom, error) {
	var c classroom
	err := s.db.GetContext(ctx, &c, `
		SELECT id, owner, name, depth, width, weights, created_at
		FROM classrooms
		WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return classroom{}, errNotFound
	}
	return c, err
}

func (s *store) createClassroom(ctx context.Context, c classroom) (classroom, error) {
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO classrooms (owner, name, depth, width, weights)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		c.Owner, c.Name, c.Depth, c.Width, c.Weights,
	).Scan(&c.ID, &c.CreatedAt)
	return c, err
}

func (s *store) updateClassroom(ctx context.Context, c classroom) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE classrooms SET name = $1, weights = $2
		WHERE id = $3`, c.Name, c.Weights, c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errNotFound
	}
	return nil
}

func (s *store) deleteClassroom(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM classrooms WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errNotFound
	}
	return nil
}

func (s *store) latestLayout(ctx context.Context, classroomID int64) (layoutRevision, error) {
	var l layoutRevision
	err := s.db.GetContext(ctx, &l, `
		SELECT id, classroom_id, seats, strategy, score, seed, created_by, created_at
		FROM layouts
		WHERE classroom_id = $1
		ORDER BY created_at DESC, id
		LIMIT 1`, classroomID)
	if errors.Is(err, sql.ErrNoRows) {
		return layoutRevision{}, errNotFound
	}
	return l, err
}

func (s *store) layouts(ctx context.Context, classroomID int64, limit int) ([]layoutRevision, error) {
	ls := []layoutRevision{}
	err := s.db.SelectContext(ctx, &ls, `
		SELECT id, classroom_id, seats, strategy, score, seed, created_by, created_at
		FROM layouts
		WHERE classroom_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2`, classroomID, limit)
	if err != nil {
		return nil, err
	}
	return ls, nil
}

// saveLayout stores a new revision. res is nil for a manual edit.
func (s *store) saveLayout(ctx context.Context, classroomID int64, email string, layout solver.Layout, res *solver.Result) (layoutRevision, error) {
	seats, err := json.Marshal(layout)
	if err != nil {
		return layoutRevision{}, err
	}
	l := layoutRevision{
		ID:          uuid.NewString(),
		ClassroomID: classroomID,
		Seats:       types.JSONText(seats),
		CreatedBy:   email,
	}
	if res != nil {
		l.Strategy = sql.NullString{String: string(res.Strategy), Valid: true}
		l.Score = sql.NullInt64{Int64: int64(res.Score), Valid: true}
		l.Seed = sql.NullInt64{Int64: res.Seed, Valid: true}
	}
	err = s.db.QueryRowxContext(ctx, `
		INSERT INTO layouts (id, classroom_id, seats, strategy, score, seed, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		l.ID, l.ClassroomID, l.Seats, l.Strategy, l.Score, l.Seed, l.CreatedBy,
	).Scan(&l.CreatedAt)
	return l, err
}

// isConstraintViolation reports whether err is a postgres integrity
// constraint failure (SQLSTATE class 23).
func isConstraintViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code.Class() == "23"
}
