package search

import "sort"

// Fusion combines doc-tier and step-tier kNN results into a single ranked
// sequence using linear weighted score fusion with parent rollup of step
// hits, per the configured scope.
type Fusion struct {
	wDoc  float64
	wStep float64
}

// Default fusion weights.
const (
	DefaultWDoc  = 0.7
	DefaultWStep = 0.3
)

// NewFusion creates a Fusion with the default weights.
func NewFusion() Fusion {
	return Fusion{wDoc: DefaultWDoc, wStep: DefaultWStep}
}

// NewFusionWithWeights creates a Fusion with custom weights. When neither
// weight is positive, the defaults are used; otherwise both weights are kept
// as given (so one of them may be zero).
func NewFusionWithWeights(wDoc, wStep float64) Fusion {
	if wDoc <= 0 && wStep <= 0 {
		return NewFusion()
	}
	return Fusion{wDoc: wDoc, wStep: wStep}
}

// WDoc returns the doc-tier weight.
func (f Fusion) WDoc() float64 { return f.wDoc }

// WStep returns the step-tier weight.
func (f Fusion) WStep() float64 { return f.wStep }

// Hit is a fused, ranked result: a doc uid with its fusion score and the
// step indices (if any) that contributed to it.
type Hit struct {
	uid                string
	score              float64
	bestStepIndex      int
	hasStep            bool
	matchedStepIndices []int
}

// UID returns the doc identifier.
func (h Hit) UID() string { return h.uid }

// Score returns the fused final score.
func (h Hit) Score() float64 { return h.score }

// MatchedStepIndices returns the step indices that contributed to this hit,
// empty if the hit came from the doc tier only.
func (h Hit) MatchedStepIndices() []int {
	out := make([]int, len(h.matchedStepIndices))
	copy(out, h.matchedStepIndices)
	return out
}

// stepGroup accumulates the step hits for one parent during rollup.
type stepGroup struct {
	bestScore  float64
	bestIndex  int
	allIndices []int
}

// Fuse merges docHits and stepHits per §4.6.1 steps 4-6. scope controls
// which tier contributes to the final score; both tiers may still be
// supplied for docs/steps scopes (the caller is expected to have already
// skipped the unwanted fan-out), but Fuse honours scope defensively.
func (f Fusion) Fuse(docHits []DocHit, stepHits []StepHit, scope Scope) []Hit {
	docScores := make(map[string]float64, len(docHits))
	if scope == ScopeDocs || scope == ScopeAll {
		for _, h := range docHits {
			docScores[h.UID()] = h.Score()
		}
	}

	groups := make(map[string]*stepGroup)
	if scope == ScopeSteps || scope == ScopeAll {
		for _, h := range stepHits {
			g, ok := groups[h.ParentUID()]
			if !ok {
				g = &stepGroup{bestScore: -1}
				groups[h.ParentUID()] = g
			}
			g.allIndices = append(g.allIndices, h.Index())
			if h.Score() > g.bestScore {
				g.bestScore = h.Score()
				g.bestIndex = h.Index()
			}
		}
	}

	uids := make(map[string]struct{}, len(docScores)+len(groups))
	for uid := range docScores {
		uids[uid] = struct{}{}
	}
	for uid := range groups {
		uids[uid] = struct{}{}
	}

	hits := make([]Hit, 0, len(uids))
	for uid := range uids {
		sDoc, hasDoc := docScores[uid]
		group, hasGroup := groups[uid]

		var final float64
		switch {
		case hasDoc && hasGroup:
			final = f.wDoc*sDoc + f.wStep*group.bestScore
		case hasDoc:
			final = f.wDoc * sDoc
		case hasGroup:
			final = f.wStep * group.bestScore
		}

		hit := Hit{uid: uid, score: final}
		if hasGroup {
			hit.hasStep = true
			hit.bestStepIndex = group.bestIndex
			sort.Ints(group.allIndices)
			hit.matchedStepIndices = group.allIndices
		}
		hits = append(hits, hit)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		if hits[i].uid != hits[j].uid {
			return hits[i].uid < hits[j].uid
		}
		return bestIndexOf(hits[i]) < bestIndexOf(hits[j])
	})

	return hits
}

func bestIndexOf(h Hit) int {
	if !h.hasStep {
		return -1
	}
	return h.bestStepIndex
}

// Truncate limits hits to topK, a no-op if topK is non-positive or already
// satisfied.
func Truncate(hits []Hit, topK int) []Hit {
	if topK <= 0 || topK >= len(hits) {
		return hits
	}
	return hits[:topK]
}
