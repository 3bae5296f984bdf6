package pmc

import (
	"context"
	"io"
	"log"
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/jokurian/VMC/comm"
	"github.com/jokurian/VMC/util"
)

// Excitation is a configuration connected to a walker by the Hamiltonian.
type Excitation struct {
	// Hij is the Hamiltonian matrix element <x'|H|x>.
	Hij float64
	// OvlpRatio is psi(x')/psi(x).
	OvlpRatio float64
	// Move identifies the excitation to the guide.
	Move int
}

// OrbitalGuide evaluates a trial wavefunction on discrete configurations.
type OrbitalGuide[W any] interface {
	// DiagonalEnergy returns <x|H|x>.
	DiagonalEnergy(w W) float64
	// HamAndOvlp returns the local energy and the trial overlap of the walker,
	// appending the connected excitations to exc.
	HamAndOvlp(w W, exc []Excitation) (float64, float64, []Excitation)
	// Move applies an excitation to the walker.
	Move(w W, e Excitation)
}

// PropagateContinuousTime evolves a walker for imaginary time tau with the fixed-node continuous-time propagator,
// returning the new weight, and the local energy and overlap at the start of the last segment.
// Excitations with positive Hij*ratio are sign problematic; fnFactor of them is treated as a hopping rate
// and 1+fnFactor of them is added to the diagonal.
func PropagateContinuousTime[W any](rng Uniform, guide OrbitalGuide[W], w W, wt, tau, eshift, fnFactor float64, exc []Excitation) (float64, float64, float64, []Excitation) {
	var ham, ovlp float64
	var cum []float64
	t := tau
	for t > 0 {
		ewalk := guide.DiagonalEnergy(w)
		ham, ovlp, exc = guide.HamAndOvlp(w, exc[:0])

		cum = cum[:0]
		var rate float64
		for _, e := range exc {
			v := e.Hij * e.OvlpRatio
			switch {
			case v > 0:
				ewalk += v * (1 + fnFactor)
				rate += fnFactor * math.Abs(v)
			default:
				rate += math.Abs(v)
			}
			cum = append(cum, rate)
		}

		tsample := -math.Log(rng.Float64()) / rate
		deltaT := min(t, tsample)
		t -= tsample
		wt *= math.Exp(deltaT * (eshift - (ewalk - rate)))

		if t > 0 {
			sel := rng.Float64() * rate
			idx := sort.SearchFloat64s(cum, sel)
			if idx >= len(exc) {
				idx = len(exc) - 1
			}
			guide.Move(w, exc[idx])
		}
	}
	return wt, ham, ovlp, exc
}

// GenerateWalkers fills members by a random walk from the first member,
// stepping to connected configurations with probability proportional to |psi(x')/psi(x)|.
// Every 30th configuration is recorded with weight 1/Σ|psi(x')/psi(x)|.
func GenerateWalkers[W Cloner[W]](rng Uniform, guide OrbitalGuide[W], members []Member[W]) {
	if len(members) == 0 {
		return
	}
	walk := members[0].Walker.Clone()
	niter := 30*len(members) + 1
	var exc []Excitation
	var cum []float64
	filled := 0
	for iter := 0; iter < niter && filled < len(members); iter++ {
		_, _, exc = guide.HamAndOvlp(walk, exc[:0])
		cum = cum[:0]
		var total float64
		for _, e := range exc {
			total += math.Abs(e.OvlpRatio)
			cum = append(cum, total)
		}

		if iter%30 == 0 {
			weight := 1.0
			if total > 0 {
				weight = 1 / total
			}
			members[filled] = Member[W]{Walker: walk.Clone(), Weight: weight}
			filled++
		}

		if total == 0 {
			continue
		}
		idx := sort.SearchFloat64s(cum, rng.Float64()*total)
		if idx >= len(exc) {
			idx = len(exc) - 1
		}
		guide.Move(walk, exc[idx])
	}
}

type GFMCConfig struct {
	Nwalk       int
	MaxIter     int
	NGeneration int
	Tau         float64
	FnFactor    float64
}

type Result struct {
	// Energy is the average over generations after equilibration.
	Energy float64
	// EnergyExp is the exponentially decaying average.
	EnergyExp   float64
	Eshift      float64
	Population  float64
	Generations int
}

// RunGFMC runs continuous-time Green's function Monte Carlo on the ranks of c.
// Reports are written to out, which only rank 0 should receive.
func RunGFMC[W Cloner[W]](ctx context.Context, cfg GFMCConfig, c comm.Communicator, rng Uniform, guide OrbitalGuide[W], seed W, eshift float64, out io.Writer, metrics *Metrics) (Result, error) {
	const method = "gfmc"
	if cfg.Nwalk <= 0 || cfg.NGeneration <= 0 || cfg.Tau <= 0 {
		return Result{}, errors.Errorf("%#v", cfg)
	}
	start := time.Now()
	throttler := util.NewSkipThrottler(30 * time.Second)

	members := make([]Member[W], cfg.Nwalk)
	members[0] = Member[W]{Walker: seed.Clone(), Weight: 1}
	GenerateWalkers(rng, guide, members)
	for i := range members {
		if members[i].Weight == 0 {
			members[i] = Member[W]{Walker: seed.Clone(), Weight: 1}
		}
	}
	Normalize(members, float64(cfg.Nwalk))

	target := float64(cfg.Nwalk * c.Size())
	oldPop := target
	gen := Generation{Blend: 0.9}
	var enum, eden float64
	var exc []Excitation
	WriteGenerationHeader(out)
	for iter := 0; iter < cfg.MaxIter; iter++ {
		var pop float64
		for i := range members {
			m := &members[i]
			var ham float64
			m.Weight, ham, _, exc = PropagateContinuousTime(rng, guide, m.Walker, m.Weight, cfg.Tau, eshift, cfg.FnFactor, exc)
			pop += math.Abs(m.Weight)
			enum += m.Weight * ham
			eden += m.Weight
		}

		members = Reconfigure(rng, members)
		maxWalkers, _, err := Balance(ctx, c, len(members))
		if err != nil {
			return Result{}, errors.Wrap(err, "")
		}

		popv := []float64{pop}
		if err := c.AllReduceSum(ctx, popv); err != nil {
			return Result{}, errors.Wrap(err, "")
		}
		pop = popv[0]
		if pop == 0 {
			return Result{}, errors.Wrapf(ErrExtinct, "iteration %d", iter)
		}
		if pop > 5*target {
			return Result{}, errors.Wrapf(ErrPopulationExplosion, "rank %d iteration %d eshift %f population %f / %f", c.Rank(), iter, eshift, pop, target)
		}
		eshift -= 0.1 / cfg.Tau * math.Log(pop/oldPop)
		oldPop = pop
		metrics.ObservePopulation(method, pop, eshift, maxWalkers)

		if iter%cfg.NGeneration == 0 && iter != 0 {
			e := []float64{enum, eden}
			if err := c.AllReduceSum(ctx, e); err != nil {
				return Result{}, errors.Wrap(err, "")
			}
			ecur := e[0] / e[1]
			gen.Add(ecur)
			metrics.ObserveEnergy(method, ecur)
			WriteGenerationLine(out, iter, ecur, gen.Exp(), gen.Average(), len(members), pop/float64(c.Size()), eshift, time.Since(start))
			enum, eden = 0, 0
		}

		if throttler.Ok() {
			log.Printf("rank %d gfmc iteration %d/%d population %f", c.Rank(), iter, cfg.MaxIter, pop)
		}
	}

	return Result{Energy: gen.Average(), EnergyExp: gen.Exp(), Eshift: eshift, Population: oldPop, Generations: gen.Count()}, nil
}
