// Package vecmath provides vector helpers shared by the resolver and the stores.
package vecmath

import "math"

// CosineSimilarity returns dot(a,b) / (|a| * |b|). Vectors of different
// length, empty vectors and zero-norm vectors are never similar and yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
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
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
