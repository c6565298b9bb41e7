package hybrid

import (
	"sort"
	"time"

	"github.com/jengzang/worktag-backend-go/internal/analysis/rules"
	"github.com/jengzang/worktag-backend-go/internal/config"
	"github.com/jengzang/worktag-backend-go/internal/models"
)

type interval struct {
	start, end time.Time
}

// ObservedPeriod is the interval the timeline of a day must cover: from the first rule span or
// unresolved observation to the last rule span end or natural end of an unresolved observation.
func ObservedPeriod(cfg *config.ClassifierConfig, obs []models.Observation, res rules.Resolution) (time.Time, time.Time, bool) {
	var start, end time.Time
	found := false
	extend := func(s, e time.Time) {
		if !found || s.Before(start) {
			start = s
		}
		if !found || e.After(end) {
			end = e
		}
		found = true
	}
	for _, sp := range res.Spans {
		extend(sp.Start, sp.End)
	}
	for i, o := range obs {
		if o.Anomaly || res.Resolved[i] {
			continue
		}
		extend(o.Time(), rules.NaturalEnd(cfg, o))
	}
	return start, end, found
}

// Unresolved returns placeholder spans for every part of the observed period no rule span covers.
// Uncovered stretches are cut around flagged gaps next to unresolved events, so the anchor dwell
// of the last event before the gap and the silent gap itself become separate spans. Each span lists the unresolved
// observations it contains, possibly none.
func Unresolved(cfg *config.ClassifierConfig, obs []models.Observation, res rules.Resolution) []models.Span {
	start, end, ok := ObservedPeriod(cfg, obs, res)
	if !ok {
		return nil
	}

	covers := make([]interval, 0, len(res.Spans))
	for _, sp := range res.Spans {
		covers = append(covers, interval{sp.Start, sp.End})
	}
	uncovered := subtract(interval{start, end}, covers)

	var cuts []time.Time
	for i, o := range obs {
		if o.Anomaly || res.Resolved[i] {
			continue
		}
		if o.GapAfter {
			cuts = append(cuts, o.Time().Add(cfg.Preprocess.GapAnchorDwell))
		}
		if p := previousValid(obs, i); p >= 0 && obs[p].GapAfter {
			cuts = append(cuts, o.Time())
		}
	}

	var out []models.Span
	for _, u := range uncovered {
		for _, piece := range split(u, cuts) {
			sp := models.Span{Start: piece.start, End: piece.end, Source: models.SourceInference, Rank: -1}
			for i, o := range obs {
				if o.Anomaly || res.Resolved[i] {
					continue
				}
				if !o.Time().Before(piece.start) && o.Time().Before(piece.end) {
					sp.Observations = append(sp.Observations, i)
				}
			}
			out = append(out, sp)
		}
	}
	return out
}

func previousValid(obs []models.Observation, i int) int {
	for p := i - 1; p >= 0; p-- {
		if !obs[p].Anomaly {
			return p
		}
	}
	return -1
}

// subtract removes covers from period and returns what is left in time order.
func subtract(period interval, covers []interval) []interval {
	sorted := make([]interval, len(covers))
	copy(sorted, covers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].start.Before(sorted[j].start) })

	var out []interval
	cursor := period.start
	for _, c := range sorted {
		if !c.end.After(cursor) {
			continue
		}
		if c.start.After(cursor) {
			gapEnd := c.start
			if gapEnd.After(period.end) {
				gapEnd = period.end
			}
			if gapEnd.After(cursor) {
				out = append(out, interval{cursor, gapEnd})
			}
		}
		cursor = c.end
		if !cursor.Before(period.end) {
			return out
		}
	}
	if period.end.After(cursor) {
		out = append(out, interval{cursor, period.end})
	}
	return out
}

// split cuts u at every cut strictly inside it.
func split(u interval, cuts []time.Time) []interval {
	inside := []time.Time{u.start}
	for _, c := range cuts {
		if c.After(u.start) && c.Before(u.end) {
			inside = append(inside, c)
		}
	}
	inside = append(inside, u.end)
	sort.Slice(inside, func(i, j int) bool { return inside[i].Before(inside[j]) })

	var out []interval
	for i := 1; i < len(inside); i++ {
		if inside[i].After(inside[i-1]) {
			out = append(out, interval{inside[i-1], inside[i]})
		}
	}
	return out
}
