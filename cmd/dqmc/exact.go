package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jokurian/VMC/lattice"
)

const (
	fnameDone       = "done.txt"
	fnameStatistics = "statistics.json"
)

type Statistics struct {
	n [2]int
	h float64
	lattice.Statistics
}

func exactCmd() *cobra.Command {
	var runDir string
	var maxL int
	cmd := &cobra.Command{
		Use:   "exact",
		Short: "Exact ground states of transverse-field Ising lattices over a sweep of fields",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExact(runDir, maxL)
		},
	}
	cmd.Flags().StringVarP(&runDir, "dir", "d", filepath.Join("runs", "ising"), "run directory")
	cmd.Flags().IntVar(&maxL, "max-l", 3, "largest linear lattice size")
	return cmd
}

func runExact(runDir string, maxL int) error {
	if err := os.MkdirAll(runDir, os.ModePerm); err != nil {
		return errors.Wrap(err, "")
	}

	type dimtc struct {
		dimension int
		tcGuess   float64
	}
	appendConfigs := func(configs []Statistics, c dimtc) []Statistics {
		tcLog := math.Log10(c.tcGuess)
		for i := 2; i <= maxL; i++ {
			n := [2]int{i * i, 1}
			if c.dimension == 2 {
				n = [2]int{i, i}
			}
			if n[0]*n[1] > maxExactSpins {
				continue
			}

			hLogs := []float64{-1, 1}
			for _, hl := range []float64{0.1, 0.3, 0.5} {
				hLogs = append(hLogs, tcLog+hl, tcLog-hl)
			}
			for _, hl := range hLogs {
				configs = append(configs, Statistics{n: n, h: math.Pow(10, hl)})
			}
		}
		return configs
	}
	configs := make([]Statistics, 0)
	configs = appendConfigs(configs, dimtc{dimension: 1, tcGuess: 1})
	configs = appendConfigs(configs, dimtc{dimension: 2, tcGuess: 3})

	for _, c := range configs {
		dir := filepath.Join(runDir, fmt.Sprintf("%dx%d", c.n[0], c.n[1]), fmt.Sprintf("%f", c.h))
		if err := solve(dir, c.n, c.h); err != nil {
			return errors.Wrap(err, fmt.Sprintf("%v %f", c.n, c.h))
		}
		log.Printf("%v %f", c.n, c.h)
	}

	stats, err := gather(runDir)
	if err != nil {
		return errors.Wrap(err, "")
	}
	fmt.Printf("n0,n1,h,e0,m\n")
	for _, s := range stats {
		fmt.Printf("%d,%d,%f,%f,%f\n", s.n[0], s.n[1], s.h, s.Energy, s.Magnetization)
	}
	return nil
}

// solve writes the ground state statistics of the lattice into dir, unless a previous run already did.
func solve(dir string, n [2]int, h float64) error {
	donePath := filepath.Join(dir, fnameDone)
	if _, err := os.Stat(donePath); err == nil {
		return nil
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return errors.Wrap(err, "")
	}

	stats, err := lattice.ExactGround(n, h)
	if err != nil {
		return errors.Wrap(err, "")
	}
	b, err := json.Marshal(stats)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := os.WriteFile(filepath.Join(dir, fnameStatistics), b, 0644); err != nil {
		return errors.Wrap(err, "")
	}

	if err := os.WriteFile(donePath, nil, 0644); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func gather(dir string) ([]Statistics, error) {
	stats := make([]Statistics, 0)
	nEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	for _, nent := range nEntries {
		nstr := strings.Split(nent.Name(), "x")
		if len(nstr) != 2 {
			return nil, errors.Errorf("%#v", nent.Name())
		}
		var n [2]int
		for i, s := range nstr {
			n[i], err = strconv.Atoi(s)
			if err != nil {
				return nil, errors.Wrap(err, fmt.Sprintf("%#v", nent.Name()))
			}
		}

		ndir := filepath.Join(dir, nent.Name())
		hEntries, err := os.ReadDir(ndir)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		for _, hent := range hEntries {
			h, err := strconv.ParseFloat(hent.Name(), 64)
			if err != nil {
				return nil, errors.Wrap(err, fmt.Sprintf("%s %s", nent.Name(), hent.Name()))
			}
			sb, err := os.ReadFile(filepath.Join(ndir, hent.Name(), fnameStatistics))
			if err != nil {
				return nil, errors.Wrap(err, "")
			}
			s := Statistics{n: n, h: h}
			if err := json.Unmarshal(sb, &s.Statistics); err != nil {
				return nil, errors.Wrap(err, fmt.Sprintf("%s %s", nent.Name(), hent.Name()))
			}
			stats = append(stats, s)
		}
	}
	return stats, nil
}
