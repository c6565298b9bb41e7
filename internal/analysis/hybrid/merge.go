package hybrid

import (
	"errors"
	"fmt"
	"sort"

	"github.com/jengzang/worktag-backend-go/internal/models"
)

// ErrTimelineCorrupt marks a worker-day whose timeline could not be made contiguous.
var ErrTimelineCorrupt = errors.New("timeline cannot be repaired")

// Merge paints spans onto one timeline in ascending rank, so higher-ranked spans overwrite lower
// ones where they overlap. Within a rank the earlier-starting span is painted last and wins.
// Every segment that loses part of its interval records which state trimmed it.
func Merge(spans []models.Span) []models.Segment {
	order := make([]models.Span, 0, len(spans))
	for _, sp := range spans {
		if sp.End.After(sp.Start) {
			order = append(order, sp)
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].Rank != order[j].Rank {
			return order[i].Rank < order[j].Rank
		}
		return order[i].Start.After(order[j].Start)
	})

	var segs []models.Segment
	for _, sp := range order {
		next := make([]models.Segment, 0, len(segs)+2)
		for _, s := range segs {
			if !s.End.After(sp.Start) || !s.Start.Before(sp.End) {
				next = append(next, s)
				continue
			}
			trimmed := s.State.WithEvidence(models.NewEvidence(evidenceKind(sp.Source),
				fmt.Sprintf("boundary trimmed by higher-priority %s span", sp.State.State), sp.State.Confidence))
			if s.Start.Before(sp.Start) {
				left := s
				left.End = sp.Start
				left.State = trimmed
				next = append(next, left)
			}
			if s.End.After(sp.End) {
				right := s
				right.Start = sp.End
				right.State = trimmed
				next = append(next, right)
			}
		}
		next = append(next, models.Segment{
			Start:  sp.Start,
			End:    sp.End,
			State:  sp.State,
			Source: sp.Source,
			RuleID: sp.RuleID,
		})
		sort.SliceStable(next, func(i, j int) bool { return next[i].Start.Before(next[j].Start) })
		segs = next
	}
	return segs
}

func evidenceKind(src models.SpanSource) models.EvidenceKind {
	if src == models.SourceInference {
		return models.EvidenceProbability
	}
	return models.EvidenceRule
}

// Validate makes segs contiguous and non-overlapping. A gap is closed by extending the
// lower-confidence neighbour; an overlap is removed by trimming it. Each repair adds a warning
// Evidence entry. It fails with ErrTimelineCorrupt when a segment ends before it starts.
func Validate(segs []models.Segment) ([]models.Segment, int, error) {
	out := make([]models.Segment, len(segs))
	copy(out, segs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	if err := checkDurations(out); err != nil {
		return nil, 0, err
	}

	repairs := 0
	for i := 0; i+1 < len(out); i++ {
		a, b := &out[i], &out[i+1]
		switch {
		case a.End.Before(b.Start):
			desc := fmt.Sprintf("gap %s-%s closed", a.End.Format("15:04"), b.Start.Format("15:04"))
			if a.State.Confidence <= b.State.Confidence {
				a.State = a.State.WithEvidence(models.Warning(models.EvidenceRule, desc+" by extending this segment", a.State.Confidence))
				a.End = b.Start
			} else {
				b.State = b.State.WithEvidence(models.Warning(models.EvidenceRule, desc+" by extending this segment", b.State.Confidence))
				b.Start = a.End
			}
			repairs++
		case a.End.After(b.Start):
			desc := fmt.Sprintf("overlap %s-%s removed", b.Start.Format("15:04"), a.End.Format("15:04"))
			if a.State.Confidence <= b.State.Confidence {
				a.State = a.State.WithEvidence(models.Warning(models.EvidenceRule, desc+" by trimming this segment", a.State.Confidence))
				a.End = b.Start
			} else {
				b.State = b.State.WithEvidence(models.Warning(models.EvidenceRule, desc+" by trimming this segment", b.State.Confidence))
				b.Start = a.End
			}
			repairs++
		}
	}

	if err := checkDurations(out); err != nil {
		return nil, repairs, err
	}
	final := out[:0]
	for _, s := range out {
		if s.End.After(s.Start) {
			final = append(final, s)
		}
	}
	return final, repairs, nil
}

func checkDurations(segs []models.Segment) error {
	for _, s := range segs {
		if s.End.Before(s.Start) {
			return fmt.Errorf("%w: %s segment %s-%s has negative duration",
				ErrTimelineCorrupt, s.State.State, s.Start.Format("15:04"), s.End.Format("15:04"))
		}
	}
	return nil
}
