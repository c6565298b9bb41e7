// Package inference resolves spans the rule table left open by combining temporal and personal
// priors with the likelihood of a locally decoded HMM window.
package inference

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/jengzang/worktag-backend-go/internal/config"
	"github.com/jengzang/worktag-backend-go/internal/hmm"
	"github.com/jengzang/worktag-backend-go/internal/models"
	"github.com/jengzang/worktag-backend-go/internal/timenorm"
)

const (
	mealBoost        = 5.0
	commuteDamping   = 0.3
	attendanceDamped = 0.2
)

// Day is the worker-day an engine call works against.
type Day struct {
	Worker       models.WorkerContext
	Shift        models.ShiftType
	Observations []models.Observation
	Params       *hmm.Params
}

// Result is the inferred state of one span plus the distributions behind it.
type Result struct {
	State     models.StateWithConfidence
	Prior     []float64
	Posterior []float64
	// Empty is set when the span held no observation and the likelihood came from the preceding state.
	Empty bool
}

// Engine is stateless; one instance can serve any number of worker-days.
type Engine struct {
	cfg     *config.ClassifierConfig
	encoder hmm.Encoder
	logger  *zap.Logger
}

func NewEngine(cfg *config.ClassifierConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, encoder: hmm.NewEncoder(cfg), logger: logger.Named("inference")}
}

// Infer computes the posterior over the model states for span and picks the top state.
func (e *Engine) Infer(day Day, span models.Span) (Result, error) {
	valid, inSpan := locate(day, span)
	if len(inSpan) == 0 {
		likelihood, detail, err := e.predictFromPrevious(day, valid, span.Start)
		if err != nil {
			return Result{}, err
		}
		return e.resolve(day, span.Start, span.End, likelihood, detail, true)
	}

	w, err := e.decodeWindow(day, valid, inSpan)
	if err != nil {
		return Result{}, err
	}
	return e.resolve(day, span.Start, span.End, w.likelihood(inSpan),
		fmt.Sprintf("decoded %d observations with %d in span, path confidence %.2f",
			len(w.res.Path), len(inSpan), w.res.Confidence), false)
}

// Segment decodes span once and cuts it where the Viterbi state changes. A piece starts at its
// first observation and runs to the first observation of the next piece; the outer pieces keep
// the span's own start and end. Each piece is inferred from its own steps, and neighbouring
// pieces that settle on the same state are joined. A span without observations comes back whole.
func (e *Engine) Segment(day Day, span models.Span) ([]models.Span, error) {
	valid, inSpan := locate(day, span)
	if len(inSpan) == 0 {
		r, err := e.Infer(day, span)
		if err != nil {
			return nil, err
		}
		span.State = r.State
		return []models.Span{span}, nil
	}

	w, err := e.decodeWindow(day, valid, inSpan)
	if err != nil {
		return nil, err
	}

	var runs [][]int
	for i, pos := range inSpan {
		if i == 0 || w.state(pos) != w.state(inSpan[i-1]) {
			runs = append(runs, nil)
		}
		runs[len(runs)-1] = append(runs[len(runs)-1], pos)
	}

	out := make([]models.Span, 0, len(runs))
	steps := make([][]int, 0, len(runs))
	for i, run := range runs {
		start, end := span.Start, span.End
		if i > 0 {
			start = day.Observations[valid[run[0]]].Time()
		}
		if i < len(runs)-1 {
			end = day.Observations[valid[runs[i+1][0]]].Time()
		}
		r, err := e.resolve(day, start, end, w.likelihood(run), w.describe(run), false)
		if err != nil {
			return nil, err
		}
		if n := len(out); n > 0 && out[n-1].State.State == r.State.State {
			joined := append(append([]int(nil), steps[n-1]...), run...)
			j, err := e.resolve(day, out[n-1].Start, end, w.likelihood(joined), w.describe(joined), false)
			if err != nil {
				return nil, err
			}
			out[n-1].End = end
			out[n-1].State = j.State
			out[n-1].Observations = w.indexes(valid, joined)
			steps[n-1] = joined
			continue
		}
		out = append(out, models.Span{
			Start:        start,
			End:          end,
			State:        r.State,
			Source:       span.Source,
			Rank:         span.Rank,
			Observations: w.indexes(valid, run),
		})
		steps = append(steps, run)
	}

	if len(out) > 1 {
		e.logger.Debug("span segmented",
			zap.String("worker_id", day.Worker.WorkerID),
			zap.Time("start", span.Start),
			zap.Time("end", span.End),
			zap.Int("pieces", len(out)))
	}
	return out, nil
}

// resolve combines the prior of [start, end) with likelihood and picks the top state.
func (e *Engine) resolve(day Day, start, end time.Time, likelihood []float64, detail string, empty bool) (Result, error) {
	prior := e.Prior(day.Worker, day.Shift, start, end)
	posterior := make([]float64, models.NumStates)
	sum := 0.0
	for s := range posterior {
		posterior[s] = prior[s] * likelihood[s]
		sum += posterior[s]
	}
	if sum == 0 || math.IsNaN(sum) {
		copy(posterior, prior)
	} else {
		for s := range posterior {
			posterior[s] /= sum
		}
	}

	order := Rank(posterior, prior, e.cfg.Thresholds.TieEpsilon, 3)
	top := order[0]
	conf := math.Min(posterior[top], e.cfg.Thresholds.InferenceCap)
	if empty {
		conf *= e.cfg.Inference.GapFactor
	}

	evidence := []models.Evidence{
		models.NewEvidence(models.EvidenceContext,
			fmt.Sprintf("prior %.3f for %s (role %s, shift %s)", prior[top], models.StateAt(top), roleOf(day.Worker), day.Shift),
			prior[top]),
		models.NewEvidence(models.EvidenceProbability,
			fmt.Sprintf("posterior %.3f for %s; %s", posterior[top], models.StateAt(top), detail),
			posterior[top]),
	}
	if empty {
		evidence = append(evidence, models.NewEvidence(models.EvidenceProbability,
			fmt.Sprintf("no observations between %s and %s, confidence scaled by %.2f",
				start.Format("15:04"), end.Format("15:04"), e.cfg.Inference.GapFactor),
			e.cfg.Inference.GapFactor))
	}

	state := models.StateAt(top)
	alts := order[1:]
	if conf < e.cfg.Thresholds.Viability {
		state = models.StateUnclassified
		alts = order
		evidence = append(evidence, models.NewEvidence(models.EvidenceProbability,
			fmt.Sprintf("confidence %.3f below viability %.2f", conf, e.cfg.Thresholds.Viability), conf))
	}

	swc, err := models.NewStateWithConfidence(state, conf, evidence...)
	if err != nil {
		return Result{}, err
	}
	for _, s := range alts {
		swc.Alternatives = append(swc.Alternatives, models.Alternative{State: models.StateAt(s), Score: posterior[s]})
	}

	return Result{State: swc, Prior: prior, Posterior: posterior, Empty: empty}, nil
}

// locate returns the positions of the valid observations in the day and the positions of the
// span's own observations among them.
func locate(day Day, span models.Span) (valid []int, inSpan []int) {
	valid = make([]int, 0, len(day.Observations))
	position := make(map[int]int, len(day.Observations))
	for i, o := range day.Observations {
		if o.Anomaly {
			continue
		}
		position[i] = len(valid)
		valid = append(valid, i)
	}
	for _, idx := range span.Observations {
		if pos, ok := position[idx]; ok {
			inSpan = append(inSpan, pos)
		}
	}
	return valid, inSpan
}

// window is one decoded stretch of valid observations, [lo, lo+len(res.Path)).
type window struct {
	lo  int
	res hmm.DecodeResult
}

// decodeWindow decodes the span's observations with ContextEvents neighbours on each side.
func (e *Engine) decodeWindow(day Day, valid []int, inSpan []int) (window, error) {
	k := e.cfg.Inference.ContextEvents
	lo := max(inSpan[0]-k, 0)
	hi := min(inSpan[len(inSpan)-1]+k, len(valid)-1)

	res, err := hmm.Decode(day.Params, e.encode(day, valid, lo, hi), e.cfg.HMM.Temperature)
	if err != nil {
		return window{}, fmt.Errorf("decode window: %w", err)
	}
	return window{lo: lo, res: res}, nil
}

func (w window) state(pos int) int {
	return w.res.Path[pos-w.lo]
}

// likelihood averages the step posteriors at positions.
func (w window) likelihood(positions []int) []float64 {
	out := make([]float64, models.NumStates)
	for _, pos := range positions {
		for s, p := range w.res.StepPosteriors[pos-w.lo] {
			out[s] += p
		}
	}
	for s := range out {
		out[s] /= float64(len(positions))
	}
	return out
}

func (w window) describe(positions []int) string {
	return fmt.Sprintf("decoded %d observations, %d decoded as %s, path confidence %.2f",
		len(w.res.Path), len(positions), w.res.States[positions[0]-w.lo], w.res.Confidence)
}

func (w window) indexes(valid []int, positions []int) []int {
	out := make([]int, len(positions))
	for i, pos := range positions {
		out[i] = valid[pos]
	}
	return out
}

// predictFromPrevious propagates the state distribution of the last observation before start
// one step through the transition matrix. Without one the initial distribution is used.
func (e *Engine) predictFromPrevious(day Day, valid []int, start time.Time) ([]float64, string, error) {
	prev := -1
	for pos, idx := range valid {
		if day.Observations[idx].Time().After(start) {
			break
		}
		prev = pos
	}
	if prev < 0 {
		return append([]float64(nil), day.Params.Initial...), "no preceding observation, initial distribution", nil
	}

	lo := max(prev-e.cfg.Inference.ContextEvents, 0)
	res, err := hmm.Decode(day.Params, e.encode(day, valid, lo, prev), e.cfg.HMM.Temperature)
	if err != nil {
		return nil, "", fmt.Errorf("decode preceding window: %w", err)
	}
	last := res.StepPosteriors[len(res.StepPosteriors)-1]

	likelihood := make([]float64, models.NumStates)
	for i, pi := range last {
		for s := range likelihood {
			likelihood[s] += pi * day.Params.Transition[i][s]
		}
	}
	o := day.Observations[valid[prev]]
	return likelihood, fmt.Sprintf("predicted from %s at %s", res.States[len(res.States)-1], o.Time().Format("15:04")), nil
}

func (e *Engine) encode(day Day, valid []int, lo, hi int) []hmm.Vector {
	seq := make([]hmm.Vector, 0, hi-lo+1)
	for pos := lo; pos <= hi; pos++ {
		var prev *models.Observation
		if pos > 0 {
			prev = &day.Observations[valid[pos-1]]
		}
		seq = append(seq, e.encoder.Encode(day.Observations[valid[pos]], prev, day.Shift))
	}
	return seq
}

// Prior returns the normalised prior over the model states for an interval.
func (e *Engine) Prior(worker models.WorkerContext, shift models.ShiftType, start, end time.Time) []float64 {
	n := models.NumStates
	// the role base rate is the probability mass given to the work states
	mass := worker.Role.BaseRate()
	work := 0
	for _, s := range models.AllStates() {
		if s.IsWork() {
			work++
		}
	}

	mid := start.Add(end.Sub(start) / 2)
	sw := e.cfg.Shifts.For(shift)
	radius := e.cfg.Shifts.BoundaryRadius

	prior := make([]float64, n)
	for i, s := range models.AllStates() {
		p := (1 - mass) / float64(n-work)
		if s.IsWork() {
			p = mass / float64(work)
		}
		switch {
		case s.IsMeal():
			if e.inMealWindow(s, mid) {
				p *= mealBoost
			} else {
				p *= e.cfg.Inference.MealDamping
			}
		case s == models.StateCommuteIn:
			if timenorm.ClockDistance(start, sw.Start) <= radius {
				p *= e.cfg.Inference.CommuteBoost
			} else {
				p *= commuteDamping
			}
		case s == models.StateCommuteOut:
			if timenorm.ClockDistance(end, sw.End) <= radius {
				p *= e.cfg.Inference.CommuteBoost
			} else {
				p *= commuteDamping
			}
		case s == models.StateLeave, s == models.StateBusinessTrip:
			p *= attendanceDamped
		}
		if w, ok := worker.Priors[s]; ok && w >= 0 {
			p *= w
		}
		prior[i] = p
	}

	sum := 0.0
	for _, p := range prior {
		sum += p
	}
	if sum == 0 {
		for i := range prior {
			prior[i] = 1 / float64(n)
		}
		return prior
	}
	for i := range prior {
		prior[i] /= sum
	}
	return prior
}

func (e *Engine) inMealWindow(s models.ActivityState, ts time.Time) bool {
	for _, mw := range e.cfg.Meals.Windows {
		if mw.State == s && timenorm.IsInWindow(ts, mw.Window) {
			return true
		}
	}
	return false
}

// Rank returns the indexes of the top n states by posterior. Posteriors within eps of each other
// are ordered by prior, then by enumeration order.
func Rank(posterior, prior []float64, eps float64, n int) []int {
	taken := make([]bool, len(posterior))
	out := make([]int, 0, n)
	for len(out) < n && len(out) < len(posterior) {
		best := -1
		for s := range posterior {
			if taken[s] {
				continue
			}
			if best < 0 || beats(s, best, posterior, prior, eps) {
				best = s
			}
		}
		taken[best] = true
		out = append(out, best)
	}
	return out
}

// beats reports whether state a outranks b; a has the higher enumeration index.
func beats(a, b int, posterior, prior []float64, eps float64) bool {
	if math.Abs(posterior[a]-posterior[b]) > eps {
		return posterior[a] > posterior[b]
	}
	return prior[a] > prior[b]
}

func roleOf(w models.WorkerContext) models.RoleClass {
	if w.Role == "" {
		return models.RoleUnknown
	}
	return w.Role
}
