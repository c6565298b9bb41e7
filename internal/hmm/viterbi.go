package hmm

import (
	"errors"
	"fmt"
	"math"

	"github.com/jengzang/worktag-backend-go/internal/models"
)

// ErrEmptySequence is returned when decoding nothing.
var ErrEmptySequence = errors.New("empty observation sequence")

// DecodeResult is the Viterbi path of one sequence.
type DecodeResult struct {
	Path   []int
	States []models.ActivityState
	// LogProb is the log joint probability of the path and the observations.
	LogProb float64
	// StepPosteriors[t] is a softmax over the best score of any full path through each state at
	// step t, so observations on both sides of t count.
	StepPosteriors [][]float64
	// Confidence is the mean step posterior of the chosen states.
	Confidence float64
}

// Decode runs Viterbi in log space. It is deterministic: ties go to the lowest state index.
// temperature scales the per-step softmax; values <= 0 mean 1.
func Decode(p *Params, seq []Vector, temperature float64) (DecodeResult, error) {
	if len(seq) == 0 {
		return DecodeResult{}, ErrEmptySequence
	}
	n := models.NumStates
	if p == nil || len(p.Initial) != n || len(p.Transition) != n {
		return DecodeResult{}, fmt.Errorf("%w: wrong state dimension", ErrInvalidModel)
	}
	for t, v := range seq {
		if !v.Valid() {
			return DecodeResult{}, fmt.Errorf("step %d: feature value out of range", t)
		}
	}
	if temperature <= 0 {
		temperature = 1
	}

	logA := make([][]float64, n)
	for i := range logA {
		logA[i] = make([]float64, n)
		for j := range logA[i] {
			logA[i][j] = math.Log(p.Transition[i][j])
		}
	}

	T := len(seq)
	logB := zeros(T, n)
	for t := range seq {
		for j := 0; j < n; j++ {
			logB[t][j] = p.LogEmission(seq[t], j)
		}
	}

	delta := zeros(T, n)
	back := make([][]int, T)
	for i := 0; i < n; i++ {
		delta[0][i] = math.Log(p.Initial[i]) + logB[0][i]
	}
	for t := 1; t < T; t++ {
		back[t] = make([]int, n)
		for j := 0; j < n; j++ {
			best, arg := math.Inf(-1), 0
			for i := 0; i < n; i++ {
				if v := delta[t-1][i] + logA[i][j]; v > best {
					best, arg = v, i
				}
			}
			delta[t][j] = best + logB[t][j]
			back[t][j] = arg
		}
	}

	// beta[t][i] is the best log score of steps t+1..T-1 given state i at step t.
	beta := zeros(T, n)
	for t := T - 2; t >= 0; t-- {
		for i := 0; i < n; i++ {
			best := math.Inf(-1)
			for j := 0; j < n; j++ {
				if v := logA[i][j] + logB[t+1][j] + beta[t+1][j]; v > best {
					best = v
				}
			}
			beta[t][i] = best
		}
	}

	last, logProb := argmax(delta[T-1])
	res := DecodeResult{
		Path:           make([]int, T),
		States:         make([]models.ActivityState, T),
		LogProb:        logProb,
		StepPosteriors: make([][]float64, T),
	}
	res.Path[T-1] = last
	for t := T - 1; t > 0; t-- {
		res.Path[t-1] = back[t][res.Path[t]]
	}

	sum := 0.0
	score := make([]float64, n)
	for t := 0; t < T; t++ {
		for i := range score {
			score[i] = delta[t][i] + beta[t][i]
		}
		res.StepPosteriors[t] = softmax(score, temperature)
		res.States[t] = models.StateAt(res.Path[t])
		sum += res.StepPosteriors[t][res.Path[t]]
	}
	res.Confidence = sum / float64(T)
	return res, nil
}

func argmax(row []float64) (int, float64) {
	best, arg := math.Inf(-1), 0
	for i, v := range row {
		if v > best {
			best, arg = v, i
		}
	}
	return arg, best
}

// softmax of row/temperature. A row with no finite entry gives the uniform distribution.
func softmax(row []float64, temperature float64) []float64 {
	out := make([]float64, len(row))
	_, maxV := argmax(row)
	if math.IsInf(maxV, -1) {
		for i := range out {
			out[i] = 1 / float64(len(out))
		}
		return out
	}
	sum := 0.0
	for i, v := range row {
		out[i] = math.Exp((v - maxV) / temperature)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
