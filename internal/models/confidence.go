package models

import (
	"errors"
	"math"
)

// EvidenceKind tags where an Evidence entry came from.
type EvidenceKind string

const (
	EvidenceRule        EvidenceKind = "rule"
	EvidenceProbability EvidenceKind = "probability"
	EvidenceContext     EvidenceKind = "context"
)

// Severity of an Evidence entry. Overrides and repairs are warnings.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

// Evidence records why a state or confidence was assigned.
type Evidence struct {
	Kind        EvidenceKind `json:"kind"`
	Description string       `json:"description"`
	Weight      float64      `json:"weight"`
	Severity    Severity     `json:"severity,omitempty"`
}

// NewEvidence returns an info-level Evidence with the weight clamped to [0,1].
func NewEvidence(kind EvidenceKind, description string, weight float64) Evidence {
	return Evidence{Kind: kind, Description: description, Weight: Clamp01(weight), Severity: SeverityInfo}
}

// Warning returns a warning-level Evidence.
func Warning(kind EvidenceKind, description string, weight float64) Evidence {
	ev := NewEvidence(kind, description, weight)
	ev.Severity = SeverityWarning
	return ev
}

// Alternative is a ranked runner-up state.
type Alternative struct {
	State ActivityState `json:"state"`
	Score float64       `json:"score"`
}

// ErrNoEvidence is returned when a StateWithConfidence would carry no Evidence.
var ErrNoEvidence = errors.New("state must carry at least one evidence entry")

// StateWithConfidence is the unit produced for every resolved span.
type StateWithConfidence struct {
	State        ActivityState `json:"state"`
	Confidence   float64       `json:"confidence"`
	Evidence     []Evidence    `json:"evidence"`
	Alternatives []Alternative `json:"alternatives,omitempty"`
}

// NewStateWithConfidence builds a result, clamping confidence into [0,1].
func NewStateWithConfidence(state ActivityState, confidence float64, evidence ...Evidence) (StateWithConfidence, error) {
	if len(evidence) == 0 {
		return StateWithConfidence{}, ErrNoEvidence
	}
	ev := make([]Evidence, len(evidence))
	copy(ev, evidence)
	return StateWithConfidence{State: state, Confidence: Clamp01(confidence), Evidence: ev}, nil
}

// WithConfidence returns a copy with a new confidence and one more Evidence entry.
// The receiver is left untouched.
func (s StateWithConfidence) WithConfidence(confidence float64, ev Evidence) StateWithConfidence {
	out := s.clone()
	out.Confidence = Clamp01(confidence)
	out.Evidence = append(out.Evidence, ev)
	return out
}

// WithState returns a copy with state and confidence replaced, keeping the evidence trail.
func (s StateWithConfidence) WithState(state ActivityState, confidence float64, ev Evidence) StateWithConfidence {
	out := s.WithConfidence(confidence, ev)
	out.State = state
	return out
}

// WithEvidence returns a copy with ev appended.
func (s StateWithConfidence) WithEvidence(ev Evidence) StateWithConfidence {
	out := s.clone()
	out.Evidence = append(out.Evidence, ev)
	return out
}

func (s StateWithConfidence) clone() StateWithConfidence {
	out := s
	out.Evidence = make([]Evidence, len(s.Evidence), len(s.Evidence)+1)
	copy(out.Evidence, s.Evidence)
	if s.Alternatives != nil {
		out.Alternatives = make([]Alternative, len(s.Alternatives))
		copy(out.Alternatives, s.Alternatives)
	}
	return out
}

// HasWarning reports whether any Evidence entry is a warning.
func (s StateWithConfidence) HasWarning() bool {
	for _, ev := range s.Evidence {
		if ev.Severity == SeverityWarning {
			return true
		}
	}
	return false
}

// Clamp01 clamps v into [0,1]; NaN maps to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
