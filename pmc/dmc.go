package pmc

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/jokurian/VMC/comm"
	"github.com/jokurian/VMC/util"
)

type Coord [3]float64

func (c Coord) Add(d Coord) Coord {
	return Coord{c[0] + d[0], c[1] + d[1], c[2] + d[2]}
}

func (c Coord) Norm2() float64 {
	return c[0]*c[0] + c[1]*c[1] + c[2]*c[2]
}

// TMove is a candidate move of a particle generated by a nonlocal potential.
type TMove struct {
	// V is the nonlocal matrix element, negative for sign free moves.
	V  float64
	To Coord
}

// ContinuumGuide evaluates a trial wavefunction of particles in real space.
type ContinuumGuide[W any] interface {
	Particles(w W) int
	Position(w W, i int) Coord
	// VMCStep proposes a displacement of particle i and returns it with its Metropolis acceptance probability.
	VMCStep(rnd Random, w W, i int, stepSize float64) (Coord, float64)
	// DMCStep proposes a drift diffusion displacement of particle i,
	// returning it with psi(r')/psi(r) and the ratio of reverse to forward proposal densities.
	DMCStep(rnd Random, w W, i int, tau float64) (Coord, float64, float64)
	Update(w W, i int, to Coord)
	LocalEnergy(w W) float64
	// NonLocal returns the T-move candidates of each particle.
	NonLocal(w W) [][]TMove
}

// PropagateMetropolis moves every particle once with a drift diffusion Metropolis step,
// branches the weight on the capped local energy, and optionally applies heat bath T-moves.
// It returns the new weight, the local energy after the move, and the fraction of accepted moves.
func PropagateMetropolis[W any](rnd Random, guide ContinuumGuide[W], w W, wt, tau, eshift, ebest float64, doTMove bool) (float64, float64, float64) {
	elocPrev := guide.LocalEnergy(w)

	nelec := guide.Particles(w)
	var accepted, dr2Accepted, dr2Proposed float64
	for i := 0; i < nelec; i++ {
		step, ratio, proposal := guide.DMCStep(rnd, w, i, tau)
		d2 := step.Norm2()
		dr2Proposed += d2
		if ratio*ratio*proposal > rnd.Float64() && ratio > 0 {
			accepted++
			dr2Accepted += d2
			guide.Update(w, i, guide.Position(w, i).Add(step))
		}
	}
	if accepted != 0 {
		dr2Accepted /= accepted
	}
	dr2Proposed /= float64(nelec)
	acceptedFrac := accepted / float64(nelec)
	tauEff := tau
	if dr2Proposed > 0 {
		tauEff = tau * dr2Accepted / dr2Proposed
	}

	eloc := guide.LocalEnergy(w)
	var tmoves [][]TMove
	if doTMove {
		tmoves = guide.NonLocal(w)
	}

	// Energy cutoff of Phys. Rev. B 93, 241118(R) (2016).
	eavg := (eloc + elocPrev) / 2
	ecut := 0.2 * math.Sqrt(float64(nelec)/tau)
	delta := eavg - ebest
	ebar := ebest + math.Copysign(1, delta)*min(ecut, math.Abs(delta))
	wt *= math.Exp(-tauEff * (ebar - eshift))

	var cum []float64
	for i, cands := range tmoves {
		if len(cands) == 0 {
			continue
		}
		// The first entry is staying put.
		cum = append(cum[:0], 1)
		for _, m := range cands {
			cum = append(cum, cum[len(cum)-1]-tauEff*m.V)
		}
		idx := sort.SearchFloat64s(cum, rnd.Float64()*cum[len(cum)-1])
		if idx != 0 && idx <= len(cands) {
			guide.Update(w, i, cands[idx-1].To)
		}
	}

	if wt > 50 {
		log.Printf("large weight %f: exponent %f effective time step %f branching energy %f shift %f local energy %f -> %f", wt, -tauEff*(ebar-eshift), tauEff, ebar, eshift, elocPrev, eloc)
	}
	return wt, eloc, acceptedFrac
}

// GenerateContinuumWalkers fills members by Metropolis sampling of |psi|² from the first member,
// recording the walker every 30 sweeps with weight 1.
func GenerateContinuumWalkers[W Cloner[W]](rnd Random, guide ContinuumGuide[W], members []Member[W], stepSize float64) {
	if len(members) == 0 {
		return
	}
	walk := members[0].Walker.Clone()
	nelec := guide.Particles(walk)
	niter := 30*len(members) + 1
	filled := 0
	for iter := 0; iter < niter && filled < len(members); iter++ {
		for i := 0; i < nelec; i++ {
			step, p := guide.VMCStep(rnd, walk, i, stepSize)
			if p > rnd.Float64() {
				guide.Update(walk, i, guide.Position(walk, i).Add(step))
			}
		}
		if iter%30 == 0 {
			members[filled] = Member[W]{Walker: walk.Clone(), Weight: 1}
			filled++
		}
	}
}

type DMCConfig struct {
	Nwalk       int
	MaxIter     int
	NGeneration int
	Tau         float64
	StepSize    float64
	DoTMove     bool
}

// RunDMC runs fixed time step diffusion Monte Carlo on the ranks of c.
// Generation reports go to out and the per iteration trace to trace; only rank 0 should receive them.
// Each rank controls its own population with its own energy shift.
func RunDMC[W Cloner[W]](ctx context.Context, cfg DMCConfig, c comm.Communicator, rnd Random, guide ContinuumGuide[W], seed W, eshift float64, out, trace io.Writer, metrics *Metrics) (Result, error) {
	const method = "dmc"
	if cfg.Nwalk <= 0 || cfg.NGeneration <= 0 || cfg.Tau <= 0 {
		return Result{}, errors.Errorf("%#v", cfg)
	}
	start := time.Now()
	throttler := util.NewSkipThrottler(30 * time.Second)
	size := float64(c.Size())

	members := make([]Member[W], cfg.Nwalk)
	members[0] = Member[W]{Walker: seed.Clone(), Weight: 1}
	GenerateContinuumWalkers(rnd, guide, members, cfg.StepSize)
	Normalize(members, float64(cfg.Nwalk))
	target := float64(cfg.Nwalk)

	var n0, d0 float64
	for _, m := range members {
		n0 += guide.LocalEnergy(m.Walker) * m.Weight
		d0 += m.Weight
	}
	e0 := []float64{n0 / d0}
	if err := c.AllReduceSum(ctx, e0); err != nil {
		return Result{}, errors.Wrap(err, "")
	}
	e0[0] /= size
	fmt.Fprintf(trace, "%d %.5f %.5f %d\n", 0, 0.0, e0[0], len(members))
	fmt.Fprintf(out, "Energy of initial population: %f\n", e0[0])
	writeDMCHeader(out)

	ebest := eshift
	gen := Generation{Blend: 0.75}
	var statsE, statsE2 Statistics
	var pop float64
	for iter := 0; iter <= cfg.MaxIter; iter++ {
		var num, num2, den, accepted float64
		pop = 0
		for i := range members {
			m := &members[i]
			var eloc, acc float64
			m.Weight, eloc, acc = PropagateMetropolis(rnd, guide, m.Walker, m.Weight, cfg.Tau, eshift, ebest, cfg.DoTMove)
			accepted += acc
			pop += m.Weight
			num += m.Weight * eloc
			num2 += m.Weight * eloc * eloc
			den += m.Weight
		}
		if den == 0 {
			return Result{}, errors.Wrapf(ErrExtinct, "rank %d iteration %d", c.Rank(), iter)
		}

		et := num / den
		et2 := num2 / den
		statsE.Push(et)
		statsE2.Push(et2)

		red := []float64{et, et2 - et*et, accepted, float64(len(members)), pop}
		if err := c.AllReduceSum(ctx, red); err != nil {
			return Result{}, errors.Wrap(err, "")
		}
		ebest = red[0] / size
		vart := red[1] / size
		acceptedFrac := red[2] / red[3]
		totalMoves, totalPop := red[3], red[4]
		writeTrace(trace, iter+1, cfg.Tau*float64(iter+1), ebest, vart, int(totalMoves/size), totalPop/size)

		eshift = et - (0.1/cfg.Tau)*math.Log(pop/target)
		if pop > 5*target {
			return Result{}, errors.Wrapf(ErrPopulationExplosion, "rank %d iteration %d eshift %f population %f / %f", c.Rank(), iter, eshift, pop, target)
		}

		if iter%cfg.NGeneration == 0 && iter != 0 {
			ep := statsE.Average()
			tp := statsE.CorrTime()
			ep2 := statsE2.Average()
			g := []float64{ep, tp * (ep2 - ep*ep), tp, statsE.Neff() * float64(len(members))}
			statsE.Reset()
			statsE2.Reset()
			if err := c.AllReduceSum(ctx, g); err != nil {
				return Result{}, errors.Wrap(err, "")
			}
			ebar := g[0] / size
			varbar := g[1] / size / size
			tbar := g[2] / size
			stderr := math.Sqrt(varbar / g[3])

			gen.Add(ebar)
			metrics.ObserveEnergy(method, ebar)
			writeDMCLine(out, iter, ebar, stderr, tbar, gen.Exp(), gen.Average(), acceptedFrac, int(totalMoves/size), totalPop/size, eshift, time.Since(start))
		}

		members = Reconfigure(rnd, members)
		maxWalkers, _, err := Balance(ctx, c, len(members))
		if err != nil {
			return Result{}, errors.Wrap(err, "")
		}
		metrics.ObservePopulation(method, totalPop, eshift, maxWalkers)

		if throttler.Ok() {
			log.Printf("rank %d dmc iteration %d/%d population %f", c.Rank(), iter, cfg.MaxIter, pop)
		}
	}

	return Result{Energy: gen.Average(), EnergyExp: gen.Exp(), Eshift: eshift, Population: pop, Generations: gen.Count()}, nil
}
