package brains

import (
	"math/rand"
)

// nodeRef addresses one node by layer and position.
type nodeRef struct {
	layer, node int
}

func nodeRefs(n *Network) []nodeRef {
	refs := make([]nodeRef, 0, n.TotalNodes())
	for l := range n.Layers {
		for i := range n.Layers[l].Activations {
			refs = append(refs, nodeRef{layer: l, node: i})
		}
	}
	return refs
}

// weightAt resolves a flat weight index across all layers.
func weightAt(n *Network, flat int) *float64 {
	for l := range n.Layers {
		w := n.Layers[l].Weights
		if flat < len(w) {
			return &w[flat]
		}
		flat -= len(w)
	}
	return nil
}

// countInRange draws from [min, max) and never exceeds limit.
func countInRange(rng *rand.Rand, min, max, limit int) int {
	c := min
	if max > min {
		c = min + rng.Intn(max-min)
	}
	if c > limit {
		c = limit
	}
	return c
}

// crossover writes two children built from a and b. Children start as
// clones and exchange a random subset of nodes.
func crossover(rng *rand.Rand, cfg crossoverSettings, a, b *Network) (*Network, *Network) {
	c1, c2 := a.Clone(), b.Clone()
	refs := nodeRefs(c1)
	count := countInRange(rng, cfg.minNodes, cfg.maxNodes, len(refs))
	for _, k := range rng.Perm(len(refs))[:count] {
		ref := refs[k]
		r1 := c1.Layers[ref.layer].Node(ref.node)
		r2 := c2.Layers[ref.layer].Node(ref.node)
		m := cfg.methods[cfg.pick.pick(rng.Float64())]
		switch m.Method {
		case CrossSwapWholeNode:
			for i := range r1 {
				r1[i], r2[i] = r2[i], r1[i]
			}
		case CrossSwapSomeWeights:
			lo := int(m.MinWeightsSwappedRatio * float64(len(r1)))
			hi := int(m.MaxWeightsSwappedRatio*float64(len(r1))) + 1
			swaps := countInRange(rng, lo, hi, len(r1))
			for _, i := range rng.Perm(len(r1))[:swaps] {
				r1[i], r2[i] = r2[i], r1[i]
			}
		}
	}
	return c1, c2
}

// mutate perturbs a random subset of weights with probability cfg.probability.
// It reports whether the network changed.
func mutate(rng *rand.Rand, cfg mutationSettings, n *Network) bool {
	if rng.Float64() >= cfg.probability {
		return false
	}
	total := n.TotalWeights()
	count := countInRange(rng, cfg.minWeights, cfg.maxWeights, total)
	for _, flat := range rng.Perm(total)[:count] {
		w := weightAt(n, flat)
		m := cfg.methods[cfg.pick.pick(rng.Float64())]
		switch m.Method {
		case MutateInvert:
			*w = -*w
		case MutateReplace:
			*w = uniform(rng, m.Min, m.Max)
		case MutateScale:
			*w *= uniform(rng, m.Min, m.Max)
		case MutateShift:
			*w += uniform(rng, m.Min, m.Max)
		}
	}
	return count > 0
}

func uniform(rng *rand.Rand, min, max float64) float64 {
	return min + rng.Float64()*(max-min)
}

// evolve builds the next generation: elites are carried over unchanged,
// the rest are children of selected parents and then mutated.
func evolve(rng *rand.Rand, s *settings, members []*Network, fitness []float64) ([]*Network, error) {
	size := len(members)
	if len(fitness) != size {
		return nil, errorf(CategoryEvolution, "fitness length %d does not match population size %d", len(fitness), size)
	}
	if size == 0 {
		return nil, errorf(CategoryEvolution, "empty population")
	}

	elites := s.elitism
	if elites > size {
		elites = size
	}
	next := make([]*Network, 0, size)
	for _, idx := range rankByFitness(fitness)[:elites] {
		next = append(next, members[idx].Clone())
	}

	room := size - len(next)
	pairs := (room + 1) / 2
	parents, err := s.selector.Select(rng, fitness, pairs*2)
	if err != nil {
		return nil, wrap(CategoryEvolution, err, "select parents")
	}
	for p := 0; p < pairs; p++ {
		c1, c2 := crossover(rng, s.crossover, members[parents[2*p]], members[parents[2*p+1]])
		next = append(next, c1)
		if len(next) < size {
			next = append(next, c2)
		}
	}

	for _, n := range next[elites:] {
		mutate(rng, s.mutation, n)
	}
	return next, nil
}
