package adjust

import (
	"math"

	"github.com/jengzang/worktag-backend-go/internal/models"
	"github.com/jengzang/worktag-backend-go/internal/stats"
)

// Estimation bounds
const (
	rateSlope       = 0.4
	rateMin         = 0.3
	rateMax         = 0.95
	sparseSamples   = 50
	thinSamples     = 100
	irregularGapStd = 30.0 // minutes
	z95             = 1.96
)

var baseVariance = map[models.RoleClass]float64{
	models.RoleProduction: 0.01,
	models.RoleOffice:     0.04,
	models.RoleUnknown:    0.025,
}

// Rate scales the role base rate by 1 + (score - 0.5) * 0.4 and clamps it to [0.3, 0.95].
func Rate(role models.RoleClass, score float64) float64 {
	return stats.Clamp(role.BaseRate()*(1+(score-0.5)*rateSlope), rateMin, rateMax)
}

// Estimate returns the estimation rate of a worker-day and its 95% interval. The variance starts
// from the role and grows when there are few observations or the gaps between them are irregular.
func (e *Engine) Estimate(role models.RoleClass, q Quality) models.Estimation {
	if _, ok := baseVariance[role]; !ok {
		role = models.RoleUnknown
	}
	v := baseVariance[role]
	switch {
	case q.Samples < sparseSamples:
		v *= 2
	case q.Samples < thinSamples:
		v *= 1.5
	}
	if q.GapStdDev > irregularGapStd {
		v *= 1.5
	}

	rate := Rate(role, q.Score)
	margin := z95 * math.Sqrt(v)
	return models.Estimation{
		Role:     role,
		Rate:     rate,
		Variance: v,
		Low:      math.Max(0, rate-margin),
		High:     math.Min(1, rate+margin),
	}
}
