package geo

import "math/rand"

// Sample returns k elements of pop chosen uniformly without replacement. If k
// is greater than or equal to len(pop), the full population is returned
// (unshuffled). rng may be nil, in which case a new source seeded with 1 is
// used.
func Sample(pop []int, k int, rng *rand.Rand) []int {
	if k >= len(pop) {
		return pop
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	indices := rng.Perm(len(pop))[:k]
	out := make([]int, k)
	for i, idx := range indices {
		out[i] = pop[idx]
	}
	return out
}
