package hmm

import (
	"fmt"
	"math"

	"github.com/jengzang/worktag-backend-go/internal/models"
)

// TrainOptions are the Baum-Welch hyperparameters.
type TrainOptions struct {
	MaxIterations int
	Tolerance     float64
	MinSequences  int
	// Smoothing is added to every count before rows are normalised, so no probability reaches zero.
	Smoothing float64
}

// TrainResult carries the best parameters seen and how training went.
type TrainResult struct {
	Params        *Params
	Iterations    int
	LogLikelihood float64
	Converged     bool
	// ConvergenceWarning is set when the iteration cap was hit before the tolerance was met.
	ConvergenceWarning bool
	History            []float64
}

// Train fits the model to seqs with Baum-Welch, starting from init. init is not modified.
// Hitting the iteration cap is not an error; the best parameters seen so far are returned.
func Train(init *Params, seqs [][]Vector, opts TrainOptions) (*TrainResult, error) {
	if err := init.Validate(); err != nil {
		return nil, err
	}
	usable := make([][]Vector, 0, len(seqs))
	for _, seq := range seqs {
		if len(seq) == 0 {
			continue
		}
		for t, v := range seq {
			if !v.Valid() {
				return nil, fmt.Errorf("sequence %d step %d: feature value out of range", len(usable), t)
			}
		}
		usable = append(usable, seq)
	}
	if len(usable) < opts.MinSequences || len(usable) == 0 {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientSequences, len(usable), opts.MinSequences)
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 1
	}

	res := &TrainResult{LogLikelihood: math.Inf(-1)}
	cur := init.Clone()
	prev := math.Inf(-1)
	for it := 1; it <= opts.MaxIterations; it++ {
		ll, next := iterate(cur, usable, opts.Smoothing)
		res.History = append(res.History, ll)
		res.Iterations = it
		if ll > res.LogLikelihood || res.Params == nil {
			res.LogLikelihood = ll
			res.Params = cur
		}
		if err := next.Validate(); err != nil {
			return nil, fmt.Errorf("iteration %d: %w", it, err)
		}
		if it > 1 && math.Abs(ll-prev) < opts.Tolerance {
			res.Converged = true
			break
		}
		prev = ll
		cur = next
	}
	res.ConvergenceWarning = !res.Converged
	return res, nil
}

// accumulator holds expected counts across sequences.
type accumulator struct {
	initial    []float64
	transition [][]float64
	emission   [NumFeatures][][]float64
}

func newAccumulator() *accumulator {
	n := models.NumStates
	acc := &accumulator{initial: make([]float64, n), transition: zeros(n, n)}
	for f := range acc.emission {
		acc.emission[f] = zeros(n, Cardinalities[f])
	}
	return acc
}

func zeros(rows, cols int) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
	}
	return m
}

// iterate runs one E step under p and returns the total log-likelihood and the M-step parameters.
func iterate(p *Params, seqs [][]Vector, smoothing float64) (float64, *Params) {
	n := models.NumStates
	acc := newAccumulator()
	total := 0.0

	for _, seq := range seqs {
		T := len(seq)
		b, offset := emissionTable(p, seq)

		alpha := zeros(T, n)
		scale := make([]float64, T)
		for i := 0; i < n; i++ {
			alpha[0][i] = p.Initial[i] * b[0][i]
		}
		scale[0] = rescale(alpha[0])
		for t := 1; t < T; t++ {
			for j := 0; j < n; j++ {
				s := 0.0
				for i := 0; i < n; i++ {
					s += alpha[t-1][i] * p.Transition[i][j]
				}
				alpha[t][j] = s * b[t][j]
			}
			scale[t] = rescale(alpha[t])
		}

		ll := offset
		impossible := false
		for _, c := range scale {
			if c == 0 {
				impossible = true
				break
			}
			ll += math.Log(c)
		}
		if impossible {
			// contributes nothing; the model gives it zero probability
			total += math.Inf(-1)
			continue
		}
		total += ll

		beta := zeros(T, n)
		for i := 0; i < n; i++ {
			beta[T-1][i] = 1
		}
		for t := T - 2; t >= 0; t-- {
			for i := 0; i < n; i++ {
				s := 0.0
				for j := 0; j < n; j++ {
					s += p.Transition[i][j] * b[t+1][j] * beta[t+1][j]
				}
				beta[t][i] = s / scale[t+1]
			}
		}

		for t := 0; t < T; t++ {
			for i := 0; i < n; i++ {
				g := alpha[t][i] * beta[t][i]
				if t == 0 {
					acc.initial[i] += g
				}
				for f, x := range seq[t] {
					acc.emission[f][i][x] += g
				}
			}
			if t == T-1 {
				continue
			}
			for i := 0; i < n; i++ {
				if alpha[t][i] == 0 {
					continue
				}
				for j := 0; j < n; j++ {
					acc.transition[i][j] += alpha[t][i] * p.Transition[i][j] * b[t+1][j] * beta[t+1][j] / scale[t+1]
				}
			}
		}
	}

	next := &Params{
		Initial:    normalizedRow(acc.initial, p.Initial, smoothing),
		Transition: make([][]float64, n),
	}
	for i := 0; i < n; i++ {
		next.Transition[i] = normalizedRow(acc.transition[i], p.Transition[i], smoothing)
	}
	for f := range acc.emission {
		next.Emission[f] = make([][]float64, n)
		for i := 0; i < n; i++ {
			next.Emission[f][i] = normalizedRow(acc.emission[f][i], p.Emission[f][i], smoothing)
		}
	}
	return total, next
}

// emissionTable returns b[t][i] = P(seq[t] | i) scaled per step by the step maximum, and the
// sum of the log scale factors.
func emissionTable(p *Params, seq []Vector) ([][]float64, float64) {
	n := models.NumStates
	b := zeros(len(seq), n)
	offset := 0.0
	logs := make([]float64, n)
	for t, v := range seq {
		maxLog := math.Inf(-1)
		for i := 0; i < n; i++ {
			logs[i] = p.LogEmission(v, i)
			if logs[i] > maxLog {
				maxLog = logs[i]
			}
		}
		if math.IsInf(maxLog, -1) {
			continue
		}
		offset += maxLog
		for i := 0; i < n; i++ {
			b[t][i] = math.Exp(logs[i] - maxLog)
		}
	}
	return b, offset
}

// rescale normalises row in place and returns its previous sum.
func rescale(row []float64) float64 {
	sum := 0.0
	for _, v := range row {
		sum += v
	}
	if sum == 0 {
		return 0
	}
	for i := range row {
		row[i] /= sum
	}
	return sum
}

// normalizedRow turns counts into a distribution. A row with no counts keeps its previous values.
func normalizedRow(counts, previous []float64, smoothing float64) []float64 {
	sum := 0.0
	for _, c := range counts {
		sum += c
	}
	if sum == 0 {
		return append([]float64(nil), previous...)
	}
	if smoothing < 0 {
		smoothing = 0
	}
	denom := sum + smoothing*float64(len(counts))
	row := make([]float64, len(counts))
	for i, c := range counts {
		row[i] = (c + smoothing) / denom
	}
	return row
}
