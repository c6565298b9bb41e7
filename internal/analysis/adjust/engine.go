package adjust

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/jengzang/worktag-backend-go/internal/config"
	"github.com/jengzang/worktag-backend-go/internal/models"
)

// Engine applies the context adjustment. It holds no per-day state.
type Engine struct {
	cfg    *config.ClassifierConfig
	logger *zap.Logger
}

func NewEngine(cfg *config.ClassifierConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, logger: logger.Named("adjust")}
}

// Factor is the multiplicative confidence factor 1 + (score - 0.5) * k for role.
func (e *Engine) Factor(role models.RoleClass, score float64) float64 {
	k := e.cfg.Context.KUnknown
	switch role {
	case models.RoleProduction:
		k = e.cfg.Context.KProduction
	case models.RoleOffice:
		k = e.cfg.Context.KOffice
	}
	return 1 + (score-0.5)*k
}

// Target says how a state was produced, which decides the bounds applied to it.
type Target struct {
	Finalized bool
	Inferred  bool
}

// Apply returns s with its confidence rescaled. The state only changes on promotion of an
// unclassified span to its best alternative or on demotion to the unclassified sentinel.
func (e *Engine) Apply(s models.StateWithConfidence, role models.RoleClass, q Quality, target Target) models.StateWithConfidence {
	th := e.cfg.Thresholds
	factor := e.Factor(role, q.Score)
	conf := models.Clamp01(s.Confidence * factor)
	note := models.NewEvidence(models.EvidenceContext,
		fmt.Sprintf("quality %.2f, role %s, factor %.3f", q.Score, role, factor), q.Score)

	if target.Finalized {
		return s.WithConfidence(math.Max(conf, th.Certain), note)
	}
	if target.Inferred {
		conf = math.Min(conf, th.InferenceCap)
	}
	out := s.WithConfidence(conf, note)

	if out.State == models.StateUnclassified {
		if len(out.Alternatives) > 0 && conf >= th.Promotion {
			best := out.Alternatives[0]
			out = out.WithState(best.State, conf, models.NewEvidence(models.EvidenceContext,
				fmt.Sprintf("promoted to %s at %.3f", best.State, conf), conf))
			out.Alternatives = out.Alternatives[1:]
		}
		return out
	}

	if role == models.RoleOffice && conf < th.Floor {
		conf = th.Floor
		out = out.WithConfidence(conf, models.NewEvidence(models.EvidenceContext,
			fmt.Sprintf("floor %.2f for low-density role", th.Floor), th.Floor))
	}

	if conf < th.Demotion {
		previous := out.State
		out = out.WithState(models.StateUnclassified, conf, models.NewEvidence(models.EvidenceContext,
			fmt.Sprintf("%s demoted: confidence %.3f below %.2f", previous, conf, th.Demotion), conf))
		out.Alternatives = append([]models.Alternative{{State: previous, Score: conf}}, out.Alternatives...)
	}
	return out
}

// Adjust applies Apply to every span and returns new spans; the input is not modified.
func (e *Engine) Adjust(spans []models.Span, role models.RoleClass, q Quality) []models.Span {
	out := make([]models.Span, len(spans))
	demoted := 0
	for i, sp := range spans {
		before := sp.State.State
		sp.State = e.Apply(sp.State, role, q, Target{
			Finalized: sp.Finalized,
			Inferred:  sp.Source == models.SourceInference,
		})
		if before != models.StateUnclassified && sp.State.State == models.StateUnclassified {
			demoted++
		}
		out[i] = sp
	}
	if demoted > 0 {
		e.logger.Debug("spans demoted",
			zap.Int("count", demoted),
			zap.String("role", string(role)),
			zap.Float64("quality", q.Score))
	}
	return out
}
