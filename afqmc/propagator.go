package afqmc

import (
	"math"
	"math/cmplx"
	"os"

	"github.com/pkg/errors"
	gmat "gonum.org/v1/gonum/mat"

	"github.com/jokurian/VMC/ham"
	"github.com/jokurian/VMC/mat"
	"github.com/jokurian/VMC/wave"
)

const (
	taylorOrder = 5
	minWeight   = 1e-3
	maxWeight   = 100
)

// FieldSampler draws standard normal auxiliary fields.
type FieldSampler interface {
	Rand() float64
}

type Options struct {
	Phaseless bool
	// RDMPath optionally names a spin-orbital one-RDM used for the background subtraction.
	RDMPath string
}

// Propagator holds the mean-field subtracted one-body propagator of a Hamiltonian at a fixed time step.
// It is read only after construction.
type Propagator struct {
	h         *ham.Hamiltonian
	dt        float64
	phaseless bool

	mfShifts     []complex128
	expOneBody   [2]*gmat.CDense
	propConstant [2]complex128
}

func NewPropagator(ref [2]*gmat.CDense, h *ham.Hamiltonian, dt, ene0 float64, opts Options) (*Propagator, error) {
	green, err := backgroundDensity(ref, h.Norbs, opts.RDMPath)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	var oneBody [2]*gmat.CDense
	for s := range 2 {
		oneBody[s] = mat.C(h.H1Mod[s])
	}
	constant := complex(ene0-h.Ecore, 0)
	p := &Propagator{h: h, dt: dt, phaseless: opts.Phaseless}
	for _, l := range h.Chol {
		var op [2]*gmat.CDense
		var mf complex128
		for s := range 2 {
			op[s] = mat.C(l[s])
			mat.Scale(1i, op[s])
			mf += mat.ElemSum(green[s], op[s])
		}
		constant -= mf * mf / 2
		for s := range 2 {
			mat.AddScaled(oneBody[s], -mf, op[s])
		}
		if opts.Phaseless {
			p.mfShifts = append(p.mfShifts, mf)
		} else {
			p.mfShifts = append(p.mfShifts, mf/complex(float64(h.Nalpha+h.Nbeta), 0))
		}
	}

	if opts.Phaseless {
		p.propConstant = [2]complex128{constant - complex(ene0, 0), constant - complex(ene0, 0)}
	} else {
		p.propConstant = [2]complex128{constant / complex(float64(h.Nalpha), 0), constant / complex(float64(h.Nbeta), 0)}
	}
	for s := range 2 {
		mat.Scale(complex(-dt/2, 0), oneBody[s])
		p.expOneBody[s] = mat.Exp(oneBody[s])
	}
	return p, nil
}

// backgroundDensity reads the one-RDM at fpath if it exists, else returns D (D^† D)^{-1} D^† of ref.
func backgroundDensity(ref [2]*gmat.CDense, norbs int, fpath string) ([2]*gmat.CDense, error) {
	var green [2]*gmat.CDense
	if fpath != "" {
		if _, err := os.Stat(fpath); err == nil {
			rdm, err := mat.ReadDense(fpath)
			if err != nil {
				return green, errors.Wrap(err, "")
			}
			if r, c := rdm.Dims(); r != 2*norbs || c != 2*norbs {
				return green, errors.Errorf("%s: rdm %dx%d, expected %dx%d", fpath, r, c, 2*norbs, 2*norbs)
			}
			for s := range 2 {
				green[s] = gmat.NewCDense(norbs, norbs, nil)
				for i := 0; i < norbs; i++ {
					for j := 0; j < norbs; j++ {
						green[s].Set(i, j, complex(rdm.At(2*i+s, 2*j+s), 0))
					}
				}
			}
			return green, nil
		}
	}

	for s := range 2 {
		refT := mat.Adjoint(ref[s])
		inv, err := mat.Inverse(mat.Mul(refT, ref[s]))
		if err != nil {
			return green, errors.Wrapf(err, "spin %d reference", s)
		}
		green[s] = mat.Mul(mat.Mul(ref[s], inv), refT)
	}
	return green, nil
}

func (p *Propagator) Dt() float64                   { return p.dt }
func (p *Propagator) Hamiltonian() *ham.Hamiltonian { return p.h }
func (p *Propagator) PropConstant() [2]complex128   { return p.propConstant }
func (p *Propagator) Phaseless() bool               { return p.phaseless }

func (p *Propagator) MFShifts() []complex128 {
	return append([]complex128(nil), p.mfShifts...)
}

func (p *Propagator) ExpOneBody() [2]*gmat.CDense {
	return [2]*gmat.CDense{mat.Clone(p.expOneBody[0]), mat.Clone(p.expOneBody[1])}
}

// PropagatePhaseless advances w by one time step with importance sampled auxiliary fields drawn from fields,
// and returns the phaseless weight multiplier.
// Multipliers that are NaN, below 1e-3 or above 100 are returned as 0.
func (p *Propagator) PropagatePhaseless(w *Walker, wf wave.Wavefunction, fields FieldSampler, eshift float64) (float64, error) {
	fb, err := w.ForceBias(wf, p.h)
	if err != nil {
		return 0, errors.Wrap(err, "")
	}

	norbs := p.h.Norbs
	npair := norbs * (norbs + 1) / 2
	var propR, propI [2][]float32
	for s := range 2 {
		propR[s] = make([]float32, npair)
		propI[s] = make([]float32, npair)
	}
	sqrtDt := complex(math.Sqrt(p.dt), 0)
	var shift, fbTerm complex128
	for n, fl := range p.h.FloatChol {
		field := complex(fields.Rand(), 0)
		fieldShift := -sqrtDt * (1i*fb[n] - p.mfShifts[n])
		re, im := float32(real(field-fieldShift)), float32(-imag(fieldShift))
		for s := range 2 {
			for k := 0; k < npair; k++ {
				l := real(fl.At(s, k))
				propR[s][k] += re * l
				propI[s][k] += im * l
			}
		}
		shift += (field - fieldShift) * p.mfShifts[n]
		fbTerm += field*fieldShift - fieldShift*fieldShift/2
	}

	for s := range 2 {
		prop := gmat.NewCDense(norbs, norbs, nil)
		for i := 0; i < norbs; i++ {
			for j := 0; j <= i; j++ {
				k := ham.PackedIndex(i, j)
				v := sqrtDt * complex(float64(-propI[s][k]), float64(propR[s][k]))
				prop.Set(i, j, v)
				prop.Set(j, i, v)
			}
		}

		det := mat.Mul(p.expOneBody[s], w.det[s])
		temp := det
		for k := 1; k <= taylorOrder; k++ {
			temp = mat.Mul(prop, temp)
			mat.Scale(complex(1/float64(k), 0), temp)
			mat.AddScaled(det, 1, temp)
		}
		w.det[s] = mat.Mul(p.expOneBody[s], det)
	}

	oldOverlap := w.trialOverlap
	newOverlap, err := w.Overlap(wf)
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	ratio := newOverlap / oldOverlap
	imp := cmplx.Exp(-sqrtDt*shift+fbTerm+complex(p.dt*eshift, 0)+complex(p.dt, 0)*p.propConstant[0]) * ratio
	theta := cmplx.Phase(cmplx.Exp(-sqrtDt*shift) * ratio)
	return clamp(cmplx.Abs(imp) * math.Cos(theta)), nil
}

func clamp(wt float64) float64 {
	if math.IsNaN(wt) || wt < minWeight || wt > maxWeight {
		return 0
	}
	return wt
}
