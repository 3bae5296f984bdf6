// Package config reads the YAML run configuration.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/jokurian/VMC/afqmc"
	"github.com/jokurian/VMC/pmc"
)

type Config struct {
	Run     Run     `yaml:"run"`
	AFQMC   AFQMC   `yaml:"afqmc"`
	GFMC    GFMC    `yaml:"gfmc"`
	DMC     DMC     `yaml:"dmc"`
	Metrics Metrics `yaml:"metrics"`
}

type Run struct {
	Seed   uint64 `yaml:"seed"`
	Nprocs int    `yaml:"nprocs"`
	// Nwalk is the number of walkers per rank.
	Nwalk       int `yaml:"nwalk"`
	MaxIter     int `yaml:"maxIter"`
	NGeneration int `yaml:"nGeneration"`
	// Report is the file receiving the generation table, stdout when empty.
	Report string `yaml:"report"`
}

type AFQMC struct {
	Integrals string `yaml:"integrals"`
	// Reference is a norbs x 2norbs orbital coefficient file, the lowest orbitals are used when empty.
	Reference       string  `yaml:"reference"`
	Dt              float64 `yaml:"dt"`
	OrthoSteps      int     `yaml:"orthoSteps"`
	Phaseless       bool    `yaml:"phaseless"`
	RHF             bool    `yaml:"rhf"`
	RDMFile         string  `yaml:"rdmFile"`
	LeftWave        string  `yaml:"leftWave"`
	DeterminantFile string  `yaml:"determinantFile"`

	Checkpoint Checkpoint `yaml:"checkpoint"`
}

type Checkpoint struct {
	DB    string `yaml:"db"`
	Steps int    `yaml:"steps"`
	// Resume names the run to continue, a new run is started when empty.
	Resume string `yaml:"resume"`
}

type GFMC struct {
	Tau      float64 `yaml:"tau"`
	FnFactor float64 `yaml:"fnFactor"`
	Lattice  [2]int  `yaml:"lattice"`
	H        float64 `yaml:"h"`
	J        float64 `yaml:"J"`
	Eshift   float64 `yaml:"eshift"`
}

type DMC struct {
	Tau       float64 `yaml:"tau"`
	Particles int     `yaml:"particles"`
	Alpha     float64 `yaml:"alpha"`
	StepSize  float64 `yaml:"stepSize"`
	DoTMove   bool    `yaml:"doTMove"`
	Eshift    float64 `yaml:"eshift"`
	Trace     string  `yaml:"trace"`
}

type Metrics struct {
	// Addr is the listen address of the /metrics endpoint, disabled when empty.
	Addr string `yaml:"addr"`
}

const (
	LeftWaveUHF         = "uhf"
	LeftWaveMultislater = "multislater"
)

func Default() Config {
	return Config{
		Run: Run{Seed: 1, Nprocs: 1, Nwalk: 100, MaxIter: 1000, NGeneration: 50},
		AFQMC: AFQMC{
			Integrals:  "integrals",
			Dt:         0.005,
			OrthoSteps: 20,
			Phaseless:  true,
			LeftWave:   LeftWaveUHF,
		},
		GFMC: GFMC{Tau: 0.05, FnFactor: 1, Lattice: [2]int{4, 1}, H: 1, J: 0.3},
		DMC: DMC{
			Tau:       0.01,
			Particles: 1,
			Alpha:     0.4,
			StepSize:  1,
			Eshift:    1.5,
			Trace:     "simulation.out",
		},
	}
}

// Load overlays the file at fpath on the defaults.
func Load(fpath string) (Config, error) {
	cfg := Default()
	if fpath == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(fpath)
	if err != nil {
		return cfg, errors.Wrap(err, "")
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, errors.Wrap(err, fpath)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.Run.Nprocs < 1:
		return errors.Errorf("nprocs %d", c.Run.Nprocs)
	case c.Run.Nwalk < 1:
		return errors.Errorf("nwalk %d", c.Run.Nwalk)
	case c.Run.MaxIter < 0:
		return errors.Errorf("maxIter %d", c.Run.MaxIter)
	case c.Run.NGeneration < 1:
		return errors.Errorf("nGeneration %d", c.Run.NGeneration)
	}

	switch {
	case c.AFQMC.Dt <= 0:
		return errors.Errorf("afqmc dt %f", c.AFQMC.Dt)
	case c.AFQMC.OrthoSteps < 1:
		return errors.Errorf("afqmc orthoSteps %d", c.AFQMC.OrthoSteps)
	case !c.AFQMC.Phaseless:
		return errors.Errorf("afqmc free projection is not supported")
	case c.AFQMC.Checkpoint.Steps < 0:
		return errors.Errorf("afqmc checkpoint steps %d", c.AFQMC.Checkpoint.Steps)
	case c.AFQMC.Checkpoint.Resume != "" && c.AFQMC.Checkpoint.DB == "":
		return errors.Errorf("resuming %s without a checkpoint db", c.AFQMC.Checkpoint.Resume)
	}
	switch c.AFQMC.LeftWave {
	case LeftWaveUHF:
	case LeftWaveMultislater:
		if c.AFQMC.DeterminantFile == "" {
			return errors.Errorf("multislater without determinantFile")
		}
	default:
		return errors.Errorf("leftWave %q", c.AFQMC.LeftWave)
	}

	switch {
	case c.GFMC.Tau <= 0:
		return errors.Errorf("gfmc tau %f", c.GFMC.Tau)
	case c.GFMC.Lattice[0] < 1 || c.GFMC.Lattice[1] < 1:
		return errors.Errorf("gfmc lattice %v", c.GFMC.Lattice)
	}

	switch {
	case c.DMC.Tau <= 0:
		return errors.Errorf("dmc tau %f", c.DMC.Tau)
	case c.DMC.Particles < 1:
		return errors.Errorf("dmc particles %d", c.DMC.Particles)
	case c.DMC.Alpha <= 0:
		return errors.Errorf("dmc alpha %f", c.DMC.Alpha)
	case c.DMC.StepSize <= 0:
		return errors.Errorf("dmc stepSize %f", c.DMC.StepSize)
	}
	return nil
}

func (c Config) AFQMCRun() afqmc.Config {
	return afqmc.Config{
		Nwalk:           c.Run.Nwalk,
		MaxIter:         c.Run.MaxIter,
		NGeneration:     c.Run.NGeneration,
		Dt:              c.AFQMC.Dt,
		OrthoSteps:      c.AFQMC.OrthoSteps,
		RHF:             c.AFQMC.RHF,
		CheckpointSteps: c.AFQMC.Checkpoint.Steps,
	}
}

func (c Config) GFMCRun() pmc.GFMCConfig {
	return pmc.GFMCConfig{
		Nwalk:       c.Run.Nwalk,
		MaxIter:     c.Run.MaxIter,
		NGeneration: c.Run.NGeneration,
		Tau:         c.GFMC.Tau,
		FnFactor:    c.GFMC.FnFactor,
	}
}

func (c Config) DMCRun() pmc.DMCConfig {
	return pmc.DMCConfig{
		Nwalk:       c.Run.Nwalk,
		MaxIter:     c.Run.MaxIter,
		NGeneration: c.Run.NGeneration,
		Tau:         c.DMC.Tau,
		StepSize:    c.DMC.StepSize,
		DoTMove:     c.DMC.DoTMove,
	}
}
