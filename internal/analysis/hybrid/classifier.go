// Package hybrid runs the full classification pipeline for one worker-day: rules first, the
// probabilistic layer for whatever they leave open, then context adjustment, merge and repair.
package hybrid

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jengzang/worktag-backend-go/internal/analysis/adjust"
	"github.com/jengzang/worktag-backend-go/internal/analysis/foundation"
	"github.com/jengzang/worktag-backend-go/internal/analysis/inference"
	"github.com/jengzang/worktag-backend-go/internal/analysis/rules"
	"github.com/jengzang/worktag-backend-go/internal/config"
	"github.com/jengzang/worktag-backend-go/internal/hmm"
	"github.com/jengzang/worktag-backend-go/internal/models"
	"github.com/jengzang/worktag-backend-go/internal/stats"
)

// Input is one worker-day of raw events. A zero WorkDate is derived from the first valid event.
type Input struct {
	Worker   models.WorkerContext
	WorkDate time.Time
	Events   []models.TagEvent
}

// Classifier holds the stage engines built from one config snapshot. It keeps no per-day state
// and is safe for concurrent use.
type Classifier struct {
	cfg        *config.ClassifierConfig
	preprocess *foundation.Preprocessor
	rules      *rules.Engine
	inference  *inference.Engine
	adjust     *adjust.Engine
	logger     *zap.Logger
}

// NewClassifier builds the pipeline. It fails when the rule table is unusable.
func NewClassifier(cfg *config.ClassifierConfig, logger *zap.Logger) (*Classifier, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", config.ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	re, err := rules.NewEngine(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Classifier{
		cfg:        cfg,
		preprocess: foundation.NewPreprocessor(cfg, logger),
		rules:      re,
		inference:  inference.NewEngine(cfg, logger),
		adjust:     adjust.NewEngine(cfg, logger),
		logger:     logger.Named("hybrid"),
	}, nil
}

// Config returns the snapshot the classifier was built from.
func (c *Classifier) Config() *config.ClassifierConfig {
	return c.cfg
}

// Classify produces the timeline and summary of one worker-day. A nil model selects the
// domain-knowledge defaults. An invalid model is a systemic error. A timeline that cannot be
// repaired returns a failed result together with an error wrapping ErrTimelineCorrupt.
func (c *Classifier) Classify(in Input, model *hmm.Params) (models.DayResult, error) {
	if model == nil {
		model = hmm.DefaultParams()
	}
	if err := model.Validate(); err != nil {
		return models.DayResult{}, err
	}

	pre := c.preprocess.Process(in.Worker.WorkerID, in.Worker.Shift, in.WorkDate, in.Events)
	res := models.DayResult{
		WorkerID:  in.Worker.WorkerID,
		WorkDate:  pre.WorkDate,
		Status:    models.DayStatusOK,
		Timeline:  models.Timeline{WorkerID: in.Worker.WorkerID, WorkDate: pre.WorkDate, Segments: []models.Segment{}},
		Summary:   models.NewDaySummary(),
		Dropped:   pre.Dropped,
		Anomalies: pre.Anomalies(),
	}
	if pre.LowConfidenceShift {
		res.Flags = append(res.Flags, models.FlagLowConfidenceShift)
	}
	if len(pre.Dropped) > 0 {
		res.Flags = append(res.Flags, models.FlagDroppedEvents)
	}
	if len(res.Anomalies) > 0 {
		res.Flags = append(res.Flags, models.FlagAnomalies)
	}
	if len(pre.Valid()) == 0 {
		res.Status = models.DayStatusNoData
		res.Flags = append(res.Flags, models.FlagNoData)
		c.logger.Debug("no data", zap.String("worker_id", in.Worker.WorkerID), zap.Int("events", len(in.Events)))
		return res, nil
	}

	obs := pre.Observations
	shift := pre.Shift
	resolution := c.rules.Resolve(obs, shift)
	spans := make([]models.Span, 0, len(resolution.Spans)*2)
	spans = append(spans, resolution.Spans...)

	hybridOn := c.cfg.Features.HybridFor(in.Worker.WorkerID)
	if !hybridOn {
		res.Flags = append(res.Flags, models.FlagRulesOnly)
	}
	day := inference.Day{Worker: in.Worker, Shift: shift, Observations: obs, Params: model}
	for _, sp := range Unresolved(c.cfg, obs, resolution) {
		if hybridOn {
			pieces, err := c.inference.Segment(day, sp)
			if err != nil {
				return models.DayResult{}, fmt.Errorf("infer %s-%s: %w", sp.Start.Format("15:04"), sp.End.Format("15:04"), err)
			}
			spans = append(spans, pieces...)
			continue
		}
		sp.State, _ = models.NewStateWithConfidence(models.StateUnclassified, 0,
			models.NewEvidence(models.EvidenceContext, "probabilistic layer disabled for this worker", 0))
		spans = append(spans, sp)
	}

	quality := c.adjust.Quality(obs)
	role := c.adjust.Role(in.Worker, quality)
	spans = c.adjust.Adjust(spans, role, quality)
	if quality.Score < c.cfg.Context.SparseQuality {
		res.Flags = append(res.Flags, models.FlagSparse)
	}

	spans, overrides := c.rules.Sweep(spans, obs, shift)

	segments, repairs, err := Validate(Merge(spans))
	if err != nil {
		res.Status = models.DayStatusFailed
		res.Error = err.Error()
		c.logger.Warn("timeline corrupt",
			zap.String("worker_id", in.Worker.WorkerID),
			zap.Time("work_date", pre.WorkDate),
			zap.Error(err))
		return res, err
	}
	if repairs > 0 {
		res.Flags = append(res.Flags, models.FlagRepaired)
		c.logger.Warn("timeline repaired",
			zap.String("worker_id", in.Worker.WorkerID),
			zap.Int("repairs", repairs))
	}
	res.Timeline.Segments = segments
	res.Summary = summarize(segments, quality.Score, c.adjust.Estimate(role, quality))

	c.logger.Debug("worker-day classified",
		zap.String("worker_id", in.Worker.WorkerID),
		zap.Time("work_date", pre.WorkDate),
		zap.String("role", string(role)),
		zap.Int("rule_spans", len(resolution.Spans)),
		zap.Int("segments", len(segments)),
		zap.Int("overrides", len(overrides)),
		zap.Float64("quality", quality.Score))
	return res, nil
}

// summarize aggregates minutes per state and the duration-weighted mean confidence, and bounds
// the work minutes by the estimation interval.
func summarize(segments []models.Segment, quality float64, est models.Estimation) models.DaySummary {
	sum := models.NewDaySummary()
	sum.QualityScore = quality
	sum.Estimation = est
	confs := make([]float64, 0, len(segments))
	weights := make([]float64, 0, len(segments))
	for _, s := range segments {
		minutes := s.Duration().Minutes()
		if s.State.State == models.StateUnclassified {
			sum.UnclassifiedMinutes += minutes
		} else {
			sum.Minutes[s.State.State] += minutes
		}
		if models.CountsAsWork(s.State.State) {
			sum.WorkMinutes += minutes
		}
		sum.TotalMinutes += minutes
		confs = append(confs, s.State.Confidence)
		weights = append(weights, minutes)
	}
	sum.MeanConfidence = stats.WeightedMean(confs, weights)
	sum.WorkMinutesLow = sum.WorkMinutes * est.Low
	sum.WorkMinutesHigh = sum.WorkMinutes * est.High
	return sum
}

// IsSystemic reports whether err should abort a whole run rather than one worker-day.
func IsSystemic(err error) bool {
	return errors.Is(err, hmm.ErrInvalidModel) || errors.Is(err, rules.ErrEmptyRuleTable) ||
		errors.Is(err, config.ErrInvalidConfig)
}
