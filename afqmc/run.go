package afqmc

import (
	"context"
	"io"
	"log"
	"math"
	"math/cmplx"
	"time"

	"github.com/pkg/errors"
	gmat "gonum.org/v1/gonum/mat"

	"github.com/jokurian/VMC/checkpoint"
	"github.com/jokurian/VMC/comm"
	"github.com/jokurian/VMC/ham"
	"github.com/jokurian/VMC/pmc"
	"github.com/jokurian/VMC/util"
	"github.com/jokurian/VMC/wave"
)

const method = "afqmc"

type Config struct {
	Nwalk       int
	MaxIter     int
	NGeneration int
	Dt          float64
	OrthoSteps  int
	RHF         bool
	// CheckpointSteps is the number of steps between snapshots, zero disables them.
	CheckpointSteps int
}

type RunOptions struct {
	Out     io.Writer
	Metrics *pmc.Metrics

	Store *checkpoint.Store
	RunID string
	// Resume starts from the snapshot of RunID in Store when there is one.
	Resume bool
}

// LocalEnergy returns Re(<T|H|det>/<T|det>).
func LocalEnergy(trial wave.Wavefunction, det [2]*gmat.CDense, h *ham.Hamiltonian) (float64, error) {
	num, ovlp, err := trial.HamAndOverlap(det, h)
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	return real(num / ovlp), nil
}

// Run estimates the ground state energy with the mixed estimator over phaseless walkers.
// The initial ensemble is sampled from trial, or copies ref when trial cannot sample.
func Run(ctx context.Context, cfg Config, c comm.Communicator, rng pmc.Uniform, fields FieldSampler, prop *Propagator, trial wave.Wavefunction, ref [2]*gmat.CDense, opts RunOptions) (pmc.Result, error) {
	if cfg.Nwalk <= 0 || cfg.MaxIter < 0 || cfg.NGeneration <= 0 || cfg.OrthoSteps <= 0 {
		return pmc.Result{}, errors.Errorf("%#v", cfg)
	}
	// Only the phaseless shifts and constants are propagated.
	if !prop.Phaseless() {
		return pmc.Result{}, errors.Errorf("free projection propagator")
	}
	h := prop.Hamiltonian()
	if cfg.RHF && h.Nalpha != h.Nbeta {
		return pmc.Result{}, errors.Errorf("restricted walkers with %d %d electrons", h.Nalpha, h.Nbeta)
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	start := time.Now()
	throttler := util.NewSkipThrottler(30 * time.Second)

	det, err := wave.Sample(trial)
	if errors.Is(err, wave.ErrUnsupported) {
		det = ref
	} else if err != nil {
		return pmc.Result{}, errors.Wrap(err, "")
	}
	etrial, err := LocalEnergy(trial, det, h)
	if err != nil {
		return pmc.Result{}, errors.Wrap(err, "")
	}
	seed := NewWalker(det, cfg.RHF, true)
	if _, err := seed.Overlap(trial); err != nil {
		return pmc.Result{}, errors.Wrap(err, "")
	}

	members, err := initialEnsemble(ctx, cfg, c.Rank(), seed, opts)
	if err != nil {
		return pmc.Result{}, errors.Wrap(err, "")
	}

	target := float64(cfg.Nwalk * c.Size())
	pop := target
	eshift, egen := etrial, etrial
	gen := pmc.Generation{Blend: 0.9}
	var enum, eden float64
	pmc.WriteGenerationHeader(out)
	for step := 1; step <= cfg.MaxIter; step++ {
		var killed int
		for i := range members {
			m := &members[i]
			if m.Weight <= 0 {
				continue
			}
			mult, err := prop.PropagatePhaseless(m.Walker, trial, fields, eshift)
			if err != nil {
				return pmc.Result{}, errors.Wrapf(err, "rank %d step %d walker %d", c.Rank(), step, i)
			}
			if mult == 0 {
				killed++
			}
			m.Weight *= mult
		}
		if step%cfg.OrthoSteps == 0 {
			for _, m := range members {
				m.Walker.Orthogonalize()
			}
		}

		var localPop float64
		for _, m := range members {
			if m.Weight <= 0 {
				continue
			}
			num, ovlp, err := m.Walker.HamAndOverlap(trial, h)
			if err != nil {
				return pmc.Result{}, errors.Wrapf(err, "rank %d step %d", c.Rank(), step)
			}
			eloc := real(num / ovlp)
			if cmplx.IsNaN(num/ovlp) || math.IsInf(eloc, 0) {
				return pmc.Result{}, errors.Errorf("rank %d step %d local energy %v / %v", c.Rank(), step, num, ovlp)
			}
			enum += m.Weight * eloc
			eden += m.Weight
			localPop += m.Weight
		}

		members = pmc.Reconfigure(rng, members)
		maxWalkers, _, err := pmc.Balance(ctx, c, len(members))
		if err != nil {
			return pmc.Result{}, errors.Wrap(err, "")
		}
		popv := []float64{localPop, float64(killed)}
		if err := c.AllReduceSum(ctx, popv); err != nil {
			return pmc.Result{}, errors.Wrap(err, "")
		}
		pop = popv[0]
		if pop == 0 {
			return pmc.Result{}, errors.Wrapf(pmc.ErrExtinct, "step %d", step)
		}
		if pop > 5*target {
			return pmc.Result{}, errors.Wrapf(pmc.ErrPopulationExplosion, "rank %d step %d eshift %f population %f / %f", c.Rank(), step, eshift, pop, target)
		}
		eshift = egen - 0.1/cfg.Dt*math.Log(pop/target)
		opts.Metrics.ObservePopulation(method, pop, eshift, maxWalkers)
		opts.Metrics.Killed(method, killed)

		if step%cfg.NGeneration == 0 {
			e := []float64{enum, eden}
			if err := c.AllReduceSum(ctx, e); err != nil {
				return pmc.Result{}, errors.Wrap(err, "")
			}
			ecur := e[0] / e[1]
			gen.Add(ecur)
			egen = gen.Exp()
			opts.Metrics.ObserveEnergy(method, ecur)
			pmc.WriteGenerationLine(out, step, ecur, gen.Exp(), gen.Average(), len(members), pop/float64(c.Size()), eshift, time.Since(start))
			enum, eden = 0, 0
		}

		if opts.Store != nil && cfg.CheckpointSteps > 0 && step%cfg.CheckpointSteps == 0 {
			if err := save(ctx, opts.Store, opts.RunID, c.Rank(), members); err != nil {
				return pmc.Result{}, errors.Wrap(err, "")
			}
		}

		if throttler.Ok() {
			log.Printf("rank %d afqmc step %d/%d population %f killed %d", c.Rank(), step, cfg.MaxIter, pop, int(popv[1]))
		}
	}

	return pmc.Result{Energy: gen.Average(), EnergyExp: gen.Exp(), Eshift: eshift, Population: pop, Generations: gen.Count()}, nil
}

func initialEnsemble(ctx context.Context, cfg Config, rank int, seed *Walker, opts RunOptions) ([]pmc.Member[*Walker], error) {
	if opts.Resume && opts.Store != nil {
		recs, err := opts.Store.Load(ctx, opts.RunID, rank)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		if len(recs) > 0 {
			members := make([]pmc.Member[*Walker], 0, len(recs))
			for _, r := range recs {
				w := seed.Clone()
				if err := w.Deserialize(r.Det, r.Overlap); err != nil {
					return nil, errors.Wrap(err, "")
				}
				members = append(members, pmc.Member[*Walker]{Walker: w, Weight: r.Weight})
			}
			log.Printf("rank %d resumed %d walkers of run %s", rank, len(members), opts.RunID)
			return members, nil
		}
	}

	members := make([]pmc.Member[*Walker], cfg.Nwalk)
	for i := range members {
		members[i] = pmc.Member[*Walker]{Walker: seed.Clone(), Weight: 1}
	}
	pmc.Normalize(members, float64(cfg.Nwalk))
	return members, nil
}

func save(ctx context.Context, store *checkpoint.Store, run string, rank int, members []pmc.Member[*Walker]) error {
	recs := make([]checkpoint.Record, 0, len(members))
	for i, m := range members {
		det, ovlp := m.Walker.Serialize()
		recs = append(recs, checkpoint.Record{Index: i, Weight: m.Weight, Overlap: ovlp, Det: det})
	}
	if err := store.Save(ctx, run, rank, recs); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}
