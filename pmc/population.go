// Package pmc implements projector Monte Carlo population control and the GFMC and DMC estimator loops.
package pmc

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/jokurian/VMC/comm"
)

var (
	ErrPopulationExplosion = errors.New("population explosion")
	ErrExtinct             = errors.New("population extinct")
)

const (
	smallWeight    = 0.5
	largeWeight    = 2.0
	mergeThreshold = 1.0
)

type Cloner[W any] interface {
	Clone() W
}

type Member[W Cloner[W]] struct {
	Walker W
	Weight float64
}

type Uniform interface {
	Float64() float64
}

// Random draws uniform and standard normal variates.
type Random interface {
	Float64() float64
	NormFloat64() float64
}

// Stream is the random stream of a rank.
type Stream struct {
	rng *rand.Rand
	// Normal draws standard normal variates from the same source.
	Normal distuv.Normal
}

func NewStream(seed uint64, rank int) *Stream {
	src := rand.NewSource(seed + uint64(rank))
	return &Stream{rng: rand.New(src), Normal: distuv.Normal{Mu: 0, Sigma: 1, Src: src}}
}

func (s *Stream) Float64() float64     { return s.rng.Float64() }
func (s *Stream) NormFloat64() float64 { return s.Normal.Rand() }

// Reconfigure splits heavy members and merges light ones, preserving the total weight.
// Members lighter than 0.5 are pooled until the pool exceeds 1 or the sweep ends;
// one of them, drawn with probability proportional to weight, then carries the pool's total and the others are dropped.
// Members heavier than 2 are split into int(weight) copies of equal weight.
// The members slice is reused; copies are appended after the survivors.
func Reconfigure[W Cloner[W]](rng Uniform, members []Member[W]) []Member[W] {
	removed := make([]bool, len(members))
	var dups []Member[W]

	var pool []int
	var poolWeight float64
	merge := func() {
		if len(pool) == 0 {
			return
		}
		sel := rng.Float64() * poolWeight
		chosen := -1
		for _, i := range pool {
			wt := members[i].Weight
			if chosen < 0 && sel < wt {
				chosen = i
			}
			sel -= wt
			removed[i] = true
		}
		if chosen < 0 && poolWeight > 0 {
			for _, i := range pool {
				if members[i].Weight > 0 {
					chosen = i
				}
			}
		}
		if chosen >= 0 {
			removed[chosen] = false
			members[chosen].Weight = poolWeight
		}
		pool = pool[:0]
		poolWeight = 0
	}

	for i := range members {
		wt := members[i].Weight
		switch {
		case wt < smallWeight:
			pool = append(pool, i)
			poolWeight += wt
		case wt > largeWeight:
			n := int(wt)
			members[i].Weight = wt / float64(n)
			for range n - 1 {
				dups = append(dups, Member[W]{Walker: members[i].Walker.Clone(), Weight: members[i].Weight})
			}
		}
		if poolWeight > mergeThreshold {
			merge()
		}
	}
	merge()

	out := members[:0]
	for i, m := range members {
		if removed[i] {
			continue
		}
		out = append(out, m)
	}
	return append(out, dups...)
}

// Balance reports the ensemble size of every rank and the largest of them.
// Walkers are not migrated.
func Balance(ctx context.Context, c comm.Communicator, n int) (int, []int, error) {
	counts := make([]float64, c.Size())
	counts[c.Rank()] = float64(n)
	if err := c.AllReduceMax(ctx, counts); err != nil {
		return 0, nil, errors.Wrap(err, "")
	}
	perRank := make([]int, len(counts))
	var maxCount int
	for r, v := range counts {
		perRank[r] = int(v)
		maxCount = max(maxCount, perRank[r])
	}
	return maxCount, perRank, nil
}

// TotalWeight returns the sum of the weights.
func TotalWeight[W Cloner[W]](members []Member[W]) float64 {
	var total float64
	for _, m := range members {
		total += m.Weight
	}
	return total
}

// Normalize scales the weights so that they sum to target.
func Normalize[W Cloner[W]](members []Member[W], target float64) {
	total := TotalWeight(members)
	if total == 0 {
		return
	}
	for i := range members {
		members[i].Weight *= target / total
	}
}
