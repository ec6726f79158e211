package sampling

// Bernoulli returns true with probability p. It always consumes one uniform
// draw, so p = 0 and p = 1 keep the stream aligned with other values of p.
func Bernoulli(src Source, p float64) bool {
	u := src.Float64()

	return u < p
}
