package routing

// Overlap decides whether two candidates address the same part of a message.
// The multi-handler rule only fans out to pairwise disjoint candidates.
type Overlap interface {
	Overlaps(a, b Candidate) bool
}

// OverlapFunc adapts a function to Overlap.
type OverlapFunc func(a, b Candidate) bool

func (f OverlapFunc) Overlaps(a, b Candidate) bool { return f(a, b) }

// KeywordOverlap treats candidates as overlapping when they were triggered
// by the same keyword or share a topic.
type KeywordOverlap struct{}

func (KeywordOverlap) Overlaps(a, b Candidate) bool {
	if a.Slots.Topic != "" && Normalize(a.Slots.Topic) == Normalize(b.Slots.Topic) {
		return true
	}
	seen := make(map[string]struct{}, len(a.Slots.Keywords))
	for _, kw := range a.Slots.Keywords {
		seen[Normalize(kw)] = struct{}{}
	}
	for _, kw := range b.Slots.Keywords {
		if _, ok := seen[Normalize(kw)]; ok {
			return true
		}
	}
	return false
}

func pairwiseDisjoint(cands []Candidate, o Overlap) bool {
	for i := range cands {
		for j := i + 1; j < len(cands); j++ {
			if o.Overlaps(cands[i], cands[j]) {
				return false
			}
		}
	}
	return true
}
