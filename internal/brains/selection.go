package brains

import (
	"fmt"
	"math/rand"
	"sort"
)

// Selector chooses parent indices from a fitness vector for replication.
type Selector interface {
	Name() string
	Select(rng *rand.Rand, fitness []float64, count int) ([]int, error)
}

func newSelector(t SelectionTemplate) (Selector, error) {
	switch t.Method {
	case "", SelectFitnessProportionate:
		return FitnessProportionateSelector{}, nil
	case SelectStochasticUniversal:
		return StochasticUniversalSelector{}, nil
	case SelectTournament:
		if t.TournamentSize < 0 {
			return nil, errorf(CategoryConfig, "invalid tournament_size %d", t.TournamentSize)
		}
		return TournamentSelector{TournamentSize: t.TournamentSize}, nil
	case SelectTruncation:
		if t.TruncationRatio < 0 || t.TruncationRatio > 1 {
			return nil, errorf(CategoryConfig, "invalid truncation_ratio %f", t.TruncationRatio)
		}
		return TruncationSelector{Ratio: t.TruncationRatio}, nil
	default:
		return nil, errorf(CategoryConfig, "unknown selection method %q", t.Method)
	}
}

func checkSelect(rng *rand.Rand, fitness []float64) error {
	if rng == nil {
		return fmt.Errorf("random source is required")
	}
	if len(fitness) == 0 {
		return fmt.Errorf("empty fitness vector")
	}
	return nil
}

// roulette clamps negative fitness to zero. A zero total selects uniformly.
func roulette(fitness []float64) ([]float64, float64) {
	cum := make([]float64, len(fitness))
	total := 0.0
	for i, f := range fitness {
		if f > 0 {
			total += f
		}
		cum[i] = total
	}
	return cum, total
}

func spin(cum []float64, target float64) int {
	i := sort.Search(len(cum), func(i int) bool { return cum[i] > target })
	if i >= len(cum) {
		return len(cum) - 1
	}
	return i
}

// FitnessProportionateSelector spins the roulette wheel once per parent.
type FitnessProportionateSelector struct{}

func (FitnessProportionateSelector) Name() string { return SelectFitnessProportionate }

func (FitnessProportionateSelector) Select(rng *rand.Rand, fitness []float64, count int) ([]int, error) {
	if err := checkSelect(rng, fitness); err != nil {
		return nil, err
	}
	cum, total := roulette(fitness)
	out := make([]int, count)
	for i := range out {
		if total <= 0 {
			out[i] = rng.Intn(len(fitness))
			continue
		}
		out[i] = spin(cum, rng.Float64()*total)
	}
	return out, nil
}

// StochasticUniversalSelector places count evenly spaced pointers on one
// spin of the wheel.
type StochasticUniversalSelector struct{}

func (StochasticUniversalSelector) Name() string { return SelectStochasticUniversal }

func (StochasticUniversalSelector) Select(rng *rand.Rand, fitness []float64, count int) ([]int, error) {
	if err := checkSelect(rng, fitness); err != nil {
		return nil, err
	}
	out := make([]int, count)
	if count == 0 {
		return out, nil
	}
	cum, total := roulette(fitness)
	if total <= 0 {
		for i := range out {
			out[i] = rng.Intn(len(fitness))
		}
		return out, nil
	}
	step := total / float64(count)
	start := rng.Float64() * step
	for i := range out {
		out[i] = spin(cum, start+float64(i)*step)
	}
	// pointers land in order; shuffle so pairs mix strong and weak parents
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out, nil
}

// TournamentSelector samples TournamentSize candidates and keeps the best.
type TournamentSelector struct {
	TournamentSize int
}

func (TournamentSelector) Name() string { return SelectTournament }

func (s TournamentSelector) Select(rng *rand.Rand, fitness []float64, count int) ([]int, error) {
	if err := checkSelect(rng, fitness); err != nil {
		return nil, err
	}
	size := s.TournamentSize
	if size <= 0 {
		size = 3
	}
	out := make([]int, count)
	for i := range out {
		best := rng.Intn(len(fitness))
		for k := 1; k < size; k++ {
			candidate := rng.Intn(len(fitness))
			if fitness[candidate] > fitness[best] {
				best = candidate
			}
		}
		out[i] = best
	}
	return out, nil
}

// TruncationSelector picks uniformly from the top Ratio of the population.
type TruncationSelector struct {
	Ratio float64
}

func (TruncationSelector) Name() string { return SelectTruncation }

func (s TruncationSelector) Select(rng *rand.Rand, fitness []float64, count int) ([]int, error) {
	if err := checkSelect(rng, fitness); err != nil {
		return nil, err
	}
	ratio := s.Ratio
	if ratio <= 0 {
		ratio = 0.5
	}
	pool := int(ratio * float64(len(fitness)))
	if pool < 1 {
		pool = 1
	}
	ranked := rankByFitness(fitness)
	out := make([]int, count)
	for i := range out {
		out[i] = ranked[rng.Intn(pool)]
	}
	return out, nil
}

// rankByFitness returns member indices sorted by descending fitness. Ties
// keep index order.
func rankByFitness(fitness []float64) []int {
	idx := make([]int, len(fitness))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return fitness[idx[a]] > fitness[idx[b]] })
	return idx
}
