package retrieval

import "sort"

// DefaultAlpha weights the dense score at 60% and the keyword score at 40%.
const DefaultAlpha = 0.6

// Fuse blends a dense and a keyword score, both expected in [0,1].
func Fuse(alpha, dense, keyword float64) float64 {
	return alpha*dense + (1-alpha)*keyword
}

// NormalizeByMax scales scores to [0,1] by dividing by the maximum.
// Negative scores are clamped to 0.
func NormalizeByMax(scores []float64) []float64 {
	out := make([]float64, len(scores))
	var maxScore float64
	for _, s := range scores {
		if s > maxScore {
			maxScore = s
		}
	}
	if maxScore <= 0 {
		return out
	}
	for i, s := range scores {
		if s > 0 {
			out[i] = s / maxScore
		}
	}
	return out
}

// NormalizeMinMax rescales scores to [0,1] using the range of the set.
// A flat set maps to 1 when positive and 0 otherwise.
func NormalizeMinMax(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	lo, hi := scores[0], scores[0]
	for _, s := range scores {
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	if hi == lo {
		for i := range out {
			if hi > 0 {
				out[i] = 1
			}
		}
		return out
	}
	for i, s := range scores {
		out[i] = (s - lo) / (hi - lo)
	}
	return out
}

// normalizeDense keeps cosine-like scores that already sit in [0,1] and
// min-max normalizes anything else.
func normalizeDense(scores []float64) []float64 {
	for _, s := range scores {
		if s < 0 || s > 1 {
			return NormalizeMinMax(scores)
		}
	}
	return append([]float64(nil), scores...)
}

// FuseHits normalizes both legs within the candidate set, fuses them with
// alpha and orders by fused score descending, document id ascending.
func FuseHits(hits []IndexHit, alpha float64) []Candidate {
	keywords := make([]float64, len(hits))
	denses := make([]float64, len(hits))
	for i, h := range hits {
		keywords[i] = h.KeywordScore
		denses[i] = h.DenseScore
	}
	keywords = NormalizeByMax(keywords)
	denses = normalizeDense(denses)

	candidates := make([]Candidate, len(hits))
	for i, h := range hits {
		source := h.Source
		if source.DocumentID == "" {
			source.DocumentID = h.DocumentID
		}
		candidates[i] = Candidate{
			DocumentID:   h.DocumentID,
			Text:         h.Text,
			Source:       source,
			KeywordScore: keywords[i],
			DenseScore:   denses[i],
			FusedScore:   Fuse(alpha, denses[i], keywords[i]),
		}
	}
	SortByFused(candidates)
	return candidates
}

// SortByFused orders by fused score descending with document id as the tie breaker.
func SortByFused(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].FusedScore != candidates[j].FusedScore {
			return candidates[i].FusedScore > candidates[j].FusedScore
		}
		return candidates[i].DocumentID < candidates[j].DocumentID
	})
}

// MergeHits unions keyword-only and dense-only hit lists by document id,
// for indexes that answer each leg with a separate call.
func MergeHits(keyword, dense []IndexHit) []IndexHit {
	byID := make(map[string]int, len(keyword)+len(dense))
	merged := make([]IndexHit, 0, len(keyword)+len(dense))
	for _, h := range keyword {
		if i, ok := byID[h.DocumentID]; ok {
			if h.KeywordScore > merged[i].KeywordScore {
				merged[i].KeywordScore = h.KeywordScore
			}
			continue
		}
		byID[h.DocumentID] = len(merged)
		merged = append(merged, IndexHit{DocumentID: h.DocumentID, Text: h.Text, Source: h.Source, KeywordScore: h.KeywordScore})
	}
	for _, h := range dense {
		if i, ok := byID[h.DocumentID]; ok {
			if h.DenseScore > merged[i].DenseScore {
				merged[i].DenseScore = h.DenseScore
			}
			continue
		}
		byID[h.DocumentID] = len(merged)
		merged = append(merged, IndexHit{DocumentID: h.DocumentID, Text: h.Text, Source: h.Source, DenseScore: h.DenseScore})
	}
	return merged
}
