package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jokurian/VMC/comm"
	"github.com/jokurian/VMC/config"
	"github.com/jokurian/VMC/pmc"
)

var (
	configPath  string
	seed        uint64
	nprocs      int
	nwalk       int
	maxIter     int
	metricsAddr string
)

func main() {
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	root := &cobra.Command{
		Use:           "dqmc",
		Short:         "Projector quantum Monte Carlo",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "YAML configuration file")
	flags.Uint64Var(&seed, "seed", 0, "random seed, rank r uses seed+r")
	flags.IntVar(&nprocs, "nprocs", 0, "number of ranks")
	flags.IntVar(&nwalk, "nwalk", 0, "walkers per rank")
	flags.IntVar(&maxIter, "max-iter", 0, "number of iterations")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "listen address of the Prometheus /metrics endpoint")

	root.AddCommand(afqmcCmd(), gfmcCmd(), dmcCmd(), exactCmd())
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		log.Fatalf("%+v", err)
	}
}

// loadConfig reads the configuration file and applies the flags set on the command line.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, errors.Wrap(err, "")
	}
	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Run.Seed = seed
	}
	if flags.Changed("nprocs") {
		cfg.Run.Nprocs = nprocs
	}
	if flags.Changed("nwalk") {
		cfg.Run.Nwalk = nwalk
	}
	if flags.Changed("max-iter") {
		cfg.Run.MaxIter = maxIter
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrap(err, "")
	}
	return cfg, nil
}

func serveMetrics(addr string) *pmc.Metrics {
	if addr == "" {
		return nil
	}
	reg := prometheus.NewRegistry()
	metrics := pmc.NewMetrics(reg)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("%+v", errors.Wrap(err, addr))
		}
	}()
	return metrics
}

func openReport(fpath string) (io.WriteCloser, error) {
	if fpath == "" {
		return nopCloser{os.Stdout}, nil
	}
	f, err := os.Create(fpath)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return f, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// runRanks runs fn on every rank with the rank's random stream.
// Only rank 0 receives report, the others write to io.Discard.
func runRanks(ctx context.Context, cfg config.Config, report io.Writer, fn func(ctx context.Context, c comm.Communicator, stream *pmc.Stream, out io.Writer) error) error {
	return comm.Run(ctx, cfg.Run.Nprocs, func(ctx context.Context, c comm.Communicator) error {
		stream := pmc.NewStream(cfg.Run.Seed, c.Rank())
		out := io.Discard
		if c.Rank() == 0 {
			out = report
		}
		if err := fn(ctx, c, stream, out); err != nil {
			return errors.Wrapf(err, "rank %d", c.Rank())
		}
		return nil
	})
}
