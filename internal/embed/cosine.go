package embed

import "math"

// Cosine returns the cosine similarity of a and b normalized into [0,1]
// via (cos+1)/2. Mismatched lengths or a zero-norm input yield 0, which is
// what a degraded zero-vector embedding contributes to every comparison.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp against floating point drift before shifting into [0,1].
	cos = math.Max(-1, math.Min(1, cos))
	return (cos + 1) / 2
}
