package trainer

import "math"

// Leniency scales the stall timeout down as more of the population
// finishes: max(0, 1 - finished/(total*k)).
func Leniency(finished, total int, k float64) float64 {
	if total <= 0 || k <= 0 {
		return 1
	}
	return math.Max(0, 1-float64(finished)/(float64(total)*k))
}

// accumulator carries fitness across the tracks of one set.
type accumulator struct {
	fitness        []float64
	speedBonus     []float64
	tracksFinished []int
}

func newAccumulator(n int) *accumulator {
	return &accumulator{
		fitness:        make([]float64, n),
		speedBonus:     make([]float64, n),
		tracksFinished: make([]int, n),
	}
}

func (a *accumulator) reset() {
	for i := range a.fitness {
		a.fitness[i] = 0
		a.speedBonus[i] = 0
		a.tracksFinished[i] = 0
	}
}

// speedRank is 1 for the fastest finisher and 0 for the slowest.
func (c Config) speedRank(finish, fastest, slowest float64) float64 {
	s := 1 - (finish-fastest)/(slowest-fastest)
	if c.SpeedBonusSquared {
		s *= s
	}
	return c.SpeedBonusWeight * s
}

// finishSpread returns the fastest and slowest finish times and whether
// enough agents finished with distinct times to rank them.
func (c Config) finishSpread(episodes []Episode) (fastest, slowest float64, rank bool) {
	finishers := 0
	for _, ep := range episodes {
		if !ep.Finished {
			continue
		}
		if finishers == 0 || ep.FinishTime < fastest {
			fastest = ep.FinishTime
		}
		if finishers == 0 || ep.FinishTime > slowest {
			slowest = ep.FinishTime
		}
		finishers++
	}
	minCount := int(math.Round(c.MinFinishFraction * float64(len(episodes))))
	return fastest, slowest, slowest > fastest && finishers > minCount
}

// scoreTrack adds one track's contribution for every agent and returns it.
func (c Config) scoreTrack(acc *accumulator, episodes []Episode, checkpoints int) []float64 {
	fastest, slowest, rank := c.finishSpread(episodes)
	added := make([]float64, len(episodes))
	for i, ep := range episodes {
		v := float64(ep.Checkpoint) / float64(checkpoints)
		if ep.Finished {
			v += c.FlatFinishBonus
			acc.tracksFinished[i]++
			if rank {
				bonus := c.speedRank(ep.FinishTime, fastest, slowest)
				if c.BonusPlacement == BonusPerTrack {
					v += bonus
				} else {
					acc.speedBonus[i] += bonus
				}
			}
		}
		if c.SquareAfterTrack {
			v *= v
		}
		acc.fitness[i] += v
		added[i] = v
	}
	return added
}

// closeSet applies set-level shaping and returns the fitness vector handed
// to evolve.
func (c Config) closeSet(acc *accumulator, seeds int) []float64 {
	minTracks := c.setBonusTracks(seeds)
	out := make([]float64, len(acc.fitness))
	for i, f := range acc.fitness {
		if c.BonusPlacement == BonusPerSet && acc.tracksFinished[i] >= minTracks {
			f += acc.speedBonus[i]
		}
		if c.SquareAfterSet {
			f *= f
		}
		out[i] = f
	}
	return out
}

func allZero(v []float64) bool {
	for _, f := range v {
		if f != 0 {
			return false
		}
	}
	return true
}

func bestAndMean(v []float64) (best, mean float64) {
	if len(v) == 0 {
		return 0, 0
	}
	best = v[0]
	sum := 0.0
	for _, f := range v {
		sum += f
		if f > best {
			best = f
		}
	}
	return best, sum / float64(len(v))
}
