package main

import (
	"context"
	"io"
	"log"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jokurian/VMC/comm"
	"github.com/jokurian/VMC/config"
	"github.com/jokurian/VMC/lattice"
	"github.com/jokurian/VMC/pmc"
	"github.com/jokurian/VMC/realspace"
)

// Lattices up to this many spins are also solved exactly.
const maxExactSpins = 12

func gfmcCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gfmc",
		Short: "Continuous-time GFMC on the transverse-field Ising model",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return errors.Wrap(err, "")
			}
			return runGFMC(cmd.Context(), cfg)
		},
	}
}

func runGFMC(ctx context.Context, cfg config.Config) error {
	model, err := lattice.NewIsing(cfg.GFMC.Lattice, cfg.GFMC.H, cfg.GFMC.J)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if cfg.GFMC.Lattice[0]*cfg.GFMC.Lattice[1] <= maxExactSpins {
		stats, err := lattice.ExactGround(cfg.GFMC.Lattice, cfg.GFMC.H)
		if err != nil {
			return errors.Wrap(err, "")
		}
		log.Printf("exact energy %.8f magnetization %.8f", stats.Energy, stats.Magnetization)
	}
	metrics := serveMetrics(cfg.Metrics.Addr)

	report, err := openReport(cfg.Run.Report)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer report.Close()

	return runRanks(ctx, cfg, report, func(ctx context.Context, c comm.Communicator, stream *pmc.Stream, out io.Writer) error {
		res, err := pmc.RunGFMC(ctx, cfg.GFMCRun(), c, stream, model, model.NewWalker(), cfg.GFMC.Eshift, out, metrics)
		if err != nil {
			return errors.Wrap(err, "")
		}
		if c.Rank() == 0 {
			log.Printf("gfmc energy %.8f exp %.8f generations %d", res.Energy, res.EnergyExp, res.Generations)
		}
		return nil
	})
}

func dmcCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dmc",
		Short: "Diffusion Monte Carlo on particles in a harmonic well",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return errors.Wrap(err, "")
			}
			return runDMC(cmd.Context(), cfg)
		},
	}
}

func runDMC(ctx context.Context, cfg config.Config) error {
	model, err := realspace.NewOscillator(cfg.DMC.Particles, cfg.DMC.Alpha)
	if err != nil {
		return errors.Wrap(err, "")
	}
	metrics := serveMetrics(cfg.Metrics.Addr)

	report, err := openReport(cfg.Run.Report)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer report.Close()
	trace, err := os.Create(cfg.DMC.Trace)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer trace.Close()

	return runRanks(ctx, cfg, report, func(ctx context.Context, c comm.Communicator, stream *pmc.Stream, out io.Writer) error {
		tr := io.Discard
		if c.Rank() == 0 {
			tr = trace
		}
		res, err := pmc.RunDMC(ctx, cfg.DMCRun(), c, stream, model, model.NewWalker(), cfg.DMC.Eshift, out, tr, metrics)
		if err != nil {
			return errors.Wrap(err, "")
		}
		if c.Rank() == 0 {
			log.Printf("dmc energy %.8f exp %.8f generations %d, exact %.8f", res.Energy, res.EnergyExp, res.Generations, 1.5*float64(cfg.DMC.Particles))
		}
		return nil
	})
}
