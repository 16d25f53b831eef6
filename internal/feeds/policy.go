package feeds

import "math/rand"

// PickGroup flips a weighted coin: concept with probability conceptWeight,
// news otherwise.
func PickGroup(rng *rand.Rand, conceptWeight float64) Group {
	if rng.Float64() < conceptWeight {
		return GroupConcept
	}
	return GroupNews
}

// Shuffled returns a shuffled copy of sources so no feed is always tried first.
func Shuffled(rng *rand.Rand, sources []Source) []Source {
	out := make([]Source, len(sources))
	copy(out, sources)
	rng.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}
