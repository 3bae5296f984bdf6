// Package realspace implements distinguishable particles in a three dimensional harmonic well,
// H = Σ_i (-½∇_i² + ½r_i²), with the Gaussian trial wavefunction psi = exp(-α Σ_i r_i²).
// The exact ground state energy is 1.5 per particle, reached at α = ½.
package realspace

import (
	"math"

	"github.com/pkg/errors"

	"github.com/jokurian/VMC/pmc"
)

type Walker struct {
	R []pmc.Coord
}

func (w *Walker) Clone() *Walker {
	return &Walker{R: append([]pmc.Coord(nil), w.R...)}
}

type Oscillator struct {
	Alpha float64
	N     int
}

func NewOscillator(n int, alpha float64) (*Oscillator, error) {
	if n <= 0 || alpha <= 0 {
		return nil, errors.Errorf("particles %d alpha %f", n, alpha)
	}
	return &Oscillator{Alpha: alpha, N: n}, nil
}

// NewWalker places the particles on a short line through the origin.
func (o *Oscillator) NewWalker() *Walker {
	w := &Walker{R: make([]pmc.Coord, o.N)}
	for i := range w.R {
		w.R[i] = pmc.Coord{0.1 * float64(i), 0, 0}
	}
	return w
}

func (o *Oscillator) Particles(w *Walker) int               { return len(w.R) }
func (o *Oscillator) Position(w *Walker, i int) pmc.Coord   { return w.R[i] }
func (o *Oscillator) Update(w *Walker, i int, to pmc.Coord) { w.R[i] = to }

func (o *Oscillator) LocalEnergy(w *Walker) float64 {
	var r2 float64
	for _, r := range w.R {
		r2 += r.Norm2()
	}
	return 3*float64(len(w.R))*o.Alpha + (0.5-2*o.Alpha*o.Alpha)*r2
}

// NonLocal returns no moves, the potential is local.
func (o *Oscillator) NonLocal(w *Walker) [][]pmc.TMove { return nil }

func (o *Oscillator) VMCStep(rnd pmc.Random, w *Walker, i int, stepSize float64) (pmc.Coord, float64) {
	var step pmc.Coord
	for d := range step {
		step[d] = stepSize * (2*rnd.Float64() - 1)
	}
	to := w.R[i].Add(step)
	return step, math.Exp(-2 * o.Alpha * (to.Norm2() - w.R[i].Norm2()))
}

func (o *Oscillator) drift(r pmc.Coord) pmc.Coord {
	return pmc.Coord{-2 * o.Alpha * r[0], -2 * o.Alpha * r[1], -2 * o.Alpha * r[2]}
}

func (o *Oscillator) DMCStep(rnd pmc.Random, w *Walker, i int, tau float64) (pmc.Coord, float64, float64) {
	from := w.R[i]
	v := o.drift(from)
	var step pmc.Coord
	for d := range step {
		step[d] = tau*v[d] + math.Sqrt(tau)*rnd.NormFloat64()
	}
	to := from.Add(step)

	ratio := math.Exp(-o.Alpha * (to.Norm2() - from.Norm2()))

	// Green's functions of the drift diffusion move in each direction.
	vTo := o.drift(to)
	var forward, reverse float64
	for d := range step {
		f := to[d] - from[d] - tau*v[d]
		r := from[d] - to[d] - tau*vTo[d]
		forward += f * f
		reverse += r * r
	}
	proposal := math.Exp(-(reverse - forward) / (2 * tau))
	return step, ratio, proposal
}
