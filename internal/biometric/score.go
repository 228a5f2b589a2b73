package biometric

import "math"

// MinScore is the similarity threshold for a verified match.
const MinScore = 50.0

// Score compares a live embedding against the enrolled reference and returns
// a similarity in [0, 100]. Both vectors are unit-normalized first so the
// euclidean distance between them falls in [0, 2]; the normalized distance is
// mapped to (1 - d) * 100. Mismatched or empty vectors score zero.
func Score(live, ref []float64) float64 {
	if len(live) == 0 || len(ref) == 0 || len(live) != len(ref) {
		return 0
	}
	a := normalize(live)
	b := normalize(ref)
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	dist := math.Sqrt(sum) / 2 // unit vectors are at most 2 apart
	score := (1 - dist) * 100
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func normalize(v []float64) []float64 {
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}
