package testutil

// Vector returns a dims-wide vector with 1 at each hot index, for building
// embeddings whose cosine distances are known in advance.
func Vector(dims int, hot ...int) []float32 {
	v := make([]float32, dims)
	for _, i := range hot {
		v[i] = 1
	}
	return v
}
