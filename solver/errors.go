package solver

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidInput reports malformed or duplicated student identities.
	ErrInvalidInput = errors.New("invalid input")
	// ErrShapeMismatch reports a candidate layout whose shape or occupied
	// cells diverge from the previous layout.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrNoFeasibleResult reports that a search had nothing to return,
	// e.g. a layout without any seated student.
	ErrNoFeasibleResult = errors.New("no feasible result")
	// ErrDegenerateMetric reports a balance term without any valid sample.
	// Evaluate recovers from it by omitting the term.
	ErrDegenerateMetric = errors.New("degenerate metric")
)

// DuplicateIDError lists every student id seated more than once.
type DuplicateIDError struct {
	IDs []int
}

func (e *DuplicateIDError) Error() string {
	ids := make([]string, len(e.IDs))
	for i, id := range e.IDs {
		ids[i] = fmt.Sprint(id)
	}
	return fmt.Sprintf("%v: duplicated student ids: [%s]", ErrInvalidInput, strings.Join(ids, ", "))
}

func (e *DuplicateIDError) Unwrap() error {
	return ErrInvalidInput
}
