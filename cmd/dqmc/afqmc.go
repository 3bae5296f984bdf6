package main

import (
	"context"
	"io"
	"log"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	gmat "gonum.org/v1/gonum/mat"

	"github.com/jokurian/VMC/afqmc"
	"github.com/jokurian/VMC/checkpoint"
	"github.com/jokurian/VMC/comm"
	"github.com/jokurian/VMC/config"
	"github.com/jokurian/VMC/ham"
	"github.com/jokurian/VMC/mat"
	"github.com/jokurian/VMC/pmc"
	"github.com/jokurian/VMC/wave"
)

func afqmcCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "afqmc",
		Short: "Phaseless auxiliary-field QMC on Cholesky integrals",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return errors.Wrap(err, "")
			}
			return runAFQMC(cmd.Context(), cfg)
		},
	}
}

func runAFQMC(ctx context.Context, cfg config.Config) error {
	h, err := ham.Load(cfg.AFQMC.Integrals)
	if err != nil {
		return errors.Wrap(err, "")
	}
	log.Printf("norbs %d nalpha %d nbeta %d fields %d", h.Norbs, h.Nalpha, h.Nbeta, h.NumFields())

	orbitals, err := referenceOrbitals(cfg.AFQMC.Reference, h.Norbs)
	if err != nil {
		return errors.Wrap(err, "")
	}
	right, err := wave.NewUHF(h, orbitals)
	if err != nil {
		return errors.Wrap(err, "")
	}
	ref := right.Sample()

	var trial wave.Wavefunction = right
	if cfg.AFQMC.LeftWave == config.LeftWaveMultislater {
		coefs, occs, err := wave.ReadDeterminants(cfg.AFQMC.DeterminantFile, h.Norbs)
		if err != nil {
			return errors.Wrap(err, "")
		}
		if trial, err = wave.NewMultislater(h, coefs, occs); err != nil {
			return errors.Wrap(err, "")
		}
	}

	ene0, err := afqmc.LocalEnergy(trial, ref, h)
	if err != nil {
		return errors.Wrap(err, "")
	}
	log.Printf("trial energy %.8f", ene0)
	prop, err := afqmc.NewPropagator(ref, h, cfg.AFQMC.Dt, ene0, afqmc.Options{Phaseless: cfg.AFQMC.Phaseless, RDMPath: cfg.AFQMC.RDMFile})
	if err != nil {
		return errors.Wrap(err, "")
	}

	opts := afqmc.RunOptions{Metrics: serveMetrics(cfg.Metrics.Addr)}
	if cfg.AFQMC.Checkpoint.DB != "" {
		store, err := checkpoint.Open(cfg.AFQMC.Checkpoint.DB)
		if err != nil {
			return errors.Wrap(err, "")
		}
		defer store.Close()
		opts.Store = store
		opts.RunID = checkpoint.NewRunID()
		if cfg.AFQMC.Checkpoint.Resume != "" {
			opts.RunID = cfg.AFQMC.Checkpoint.Resume
			opts.Resume = true
		}
		log.Printf("checkpoint run %s in %s", opts.RunID, store.Path)
	}

	report, err := openReport(cfg.Run.Report)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer report.Close()

	return runRanks(ctx, cfg, report, func(ctx context.Context, c comm.Communicator, stream *pmc.Stream, out io.Writer) error {
		o := opts
		o.Out = out
		res, err := afqmc.Run(ctx, cfg.AFQMCRun(), c, stream, stream.Normal, prop, trial, ref, o)
		if err != nil {
			return errors.Wrap(err, "")
		}
		if c.Rank() == 0 {
			log.Printf("afqmc energy %.8f exp %.8f generations %d", res.Energy, res.EnergyExp, res.Generations)
		}
		return nil
	})
}

// referenceOrbitals reads a norbs x 2norbs orbital coefficient file, or returns the lowest orbitals of both spins.
func referenceOrbitals(fpath string, norbs int) (*gmat.Dense, error) {
	if fpath != "" {
		orbitals, err := mat.ReadDense(fpath)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		return orbitals, nil
	}
	orbitals := gmat.NewDense(norbs, 2*norbs, nil)
	for i := 0; i < norbs; i++ {
		orbitals.Set(i, i, 1)
		orbitals.Set(i, norbs+i, 1)
	}
	return orbitals, nil
}
