// Package hmm implements the activity hidden Markov model: parameters, Baum-Welch training,
// Viterbi decoding and an atomically swapped snapshot store.
package hmm

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/jengzang/worktag-backend-go/internal/models"
)

var (
	// ErrInvalidModel is returned for parameters with wrong dimensions or rows that are not distributions.
	ErrInvalidModel = errors.New("invalid hmm parameters")
	// ErrInsufficientSequences is returned when training gets fewer sequences than required.
	ErrInsufficientSequences = errors.New("insufficient training sequences")
)

// rowTolerance is how far a probability row may drift from 1.
const rowTolerance = 1e-6

// Params are the model matrices. The state dimension is always models.NumStates.
type Params struct {
	Initial    []float64   `json:"initial"`
	Transition [][]float64 `json:"transition"`
	// Emission[f][s][v] is P(feature f = v | state s); features are independent given the state.
	Emission [NumFeatures][][]float64 `json:"emission"`
}

// Validate checks dimensions and that every row is a probability distribution.
func (p *Params) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil", ErrInvalidModel)
	}
	n := models.NumStates
	if len(p.Initial) != n {
		return fmt.Errorf("%w: initial has %d states, want %d", ErrInvalidModel, len(p.Initial), n)
	}
	if err := checkRow(p.Initial, "initial"); err != nil {
		return err
	}
	if len(p.Transition) != n {
		return fmt.Errorf("%w: transition has %d rows, want %d", ErrInvalidModel, len(p.Transition), n)
	}
	for i, row := range p.Transition {
		if len(row) != n {
			return fmt.Errorf("%w: transition row %d has %d columns", ErrInvalidModel, i, len(row))
		}
		if err := checkRow(row, fmt.Sprintf("transition row %d", i)); err != nil {
			return err
		}
	}
	for f := 0; f < NumFeatures; f++ {
		if len(p.Emission[f]) != n {
			return fmt.Errorf("%w: emission %d has %d states", ErrInvalidModel, f, len(p.Emission[f]))
		}
		for s, row := range p.Emission[f] {
			if len(row) != Cardinalities[f] {
				return fmt.Errorf("%w: emission %d state %d has %d values, want %d",
					ErrInvalidModel, f, s, len(row), Cardinalities[f])
			}
			if err := checkRow(row, fmt.Sprintf("emission %d state %d", f, s)); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkRow(row []float64, name string) error {
	sum := 0.0
	for _, v := range row {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s has invalid entry %v", ErrInvalidModel, name, v)
		}
		sum += v
	}
	if math.Abs(sum-1) > rowTolerance {
		return fmt.Errorf("%w: %s sums to %.9f", ErrInvalidModel, name, sum)
	}
	return nil
}

// Clone returns a deep copy.
func (p *Params) Clone() *Params {
	out := &Params{
		Initial:    append([]float64(nil), p.Initial...),
		Transition: cloneMatrix(p.Transition),
	}
	for f := range p.Emission {
		out.Emission[f] = cloneMatrix(p.Emission[f])
	}
	return out
}

func cloneMatrix(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// LogEmission is log P(v | state s) under the naive Bayes factorisation.
func (p *Params) LogEmission(v Vector, s int) float64 {
	lp := 0.0
	for f, x := range v {
		lp += math.Log(p.Emission[f][s][x])
	}
	return lp
}

// Snapshot is an immutable parameter set together with its metadata.
type Snapshot struct {
	Params *Params
	Meta   models.ModelSnapshotMeta
}

// Store publishes the current snapshot. Readers never observe a partially written model.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore returns a store holding initial, which must be valid.
func NewStore(initial *Snapshot) (*Store, error) {
	s := &Store{}
	if err := s.Swap(initial); err != nil {
		return nil, err
	}
	return s, nil
}

// Load returns the current snapshot. Callers must not modify it.
func (s *Store) Load() *Snapshot {
	return s.current.Load()
}

// Swap validates next and publishes it.
func (s *Store) Swap(next *Snapshot) error {
	if next == nil {
		return fmt.Errorf("%w: nil snapshot", ErrInvalidModel)
	}
	if err := next.Params.Validate(); err != nil {
		return err
	}
	s.current.Store(next)
	return nil
}
