// Package afqmc implements phaseless auxiliary-field quantum Monte Carlo for determinant walkers.
package afqmc

import (
	"github.com/pkg/errors"
	gmat "gonum.org/v1/gonum/mat"

	"github.com/jokurian/VMC/ham"
	"github.com/jokurian/VMC/mat"
	"github.com/jokurian/VMC/wave"
)

var ErrSingular = mat.ErrSingular

// Walker is a pair of spin determinants evolving in imaginary time.
type Walker struct {
	det [2]*gmat.CDense
	// orthoFac is the normalisation removed from det by Orthogonalize.
	orthoFac     complex128
	trialOverlap complex128

	rhf       bool
	phaseless bool
}

func NewWalker(det [2]*gmat.CDense, rhf, phaseless bool) *Walker {
	w := &Walker{rhf: rhf, phaseless: phaseless}
	w.SetDet(det)
	return w
}

func (w *Walker) Clone() *Walker {
	c := *w
	for s := range 2 {
		c.det[s] = mat.Clone(w.det[s])
	}
	return &c
}

// Det returns a copy of the determinants.
func (w *Walker) Det() [2]*gmat.CDense {
	return [2]*gmat.CDense{mat.Clone(w.det[0]), mat.Clone(w.det[1])}
}

func (w *Walker) SetDet(det [2]*gmat.CDense) {
	for s := range 2 {
		w.det[s] = mat.Clone(det[s])
	}
	w.orthoFac = 1
}

func (w *Walker) OrthoFac() complex128     { return w.orthoFac }
func (w *Walker) TrialOverlap() complex128 { return w.trialOverlap }

// Serialize flattens the determinants row major, spin up first, and returns them with the cached overlap.
func (w *Walker) Serialize() ([]complex128, complex128) {
	norbs, nalpha := w.det[0].Dims()
	_, nbeta := w.det[1].Dims()
	serial := make([]complex128, 0, norbs*(nalpha+nbeta))
	for s := range 2 {
		r, c := w.det[s].Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				serial = append(serial, w.det[s].At(i, j))
			}
		}
	}
	return serial, w.trialOverlap
}

// Deserialize is the inverse of Serialize; the walker keeps its shape.
func (w *Walker) Deserialize(serial []complex128, ovlp complex128) error {
	norbs, nalpha := w.det[0].Dims()
	_, nbeta := w.det[1].Dims()
	if len(serial) != norbs*(nalpha+nbeta) {
		return errors.Errorf("serial length %d, expected %d*(%d+%d)", len(serial), norbs, nalpha, nbeta)
	}
	k := 0
	for s := range 2 {
		r, c := w.det[s].Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				w.det[s].Set(i, j, serial[k])
				k++
			}
		}
	}
	w.trialOverlap = ovlp
	return nil
}

// Orthogonalize replaces the columns of each determinant by an orthonormal basis of their span.
// Phaseless walkers fold the removed normalisation into the cached overlap, others into orthoFac.
func (w *Walker) Orthogonalize() {
	var fac complex128 = 1
	q, diag := mat.QR(w.det[0])
	w.det[0] = q
	for _, d := range diag {
		fac *= d
	}

	if w.rhf {
		w.det[1] = mat.Clone(q)
		fac *= fac
	} else {
		q, diag := mat.QR(w.det[1])
		w.det[1] = q
		for _, d := range diag {
			fac *= d
		}
	}

	w.orthoFac *= fac
	if w.phaseless {
		w.trialOverlap /= fac
		w.orthoFac = 1
	}
}

// Overlap evaluates and caches the overlap with wf. orthoFac is not included.
func (w *Walker) Overlap(wf wave.Wavefunction) (complex128, error) {
	ovlp, err := wf.Overlap(w.det)
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	w.trialOverlap = ovlp
	return ovlp, nil
}

func (w *Walker) ForceBias(wf wave.Wavefunction, h *ham.Hamiltonian) ([]complex128, error) {
	fb, err := wf.ForceBias(w.det, h)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return fb, nil
}

func (w *Walker) OneRDM(wf wave.Wavefunction) ([2]*gmat.CDense, error) {
	rdm, err := wf.OneRDM(w.det)
	if err != nil {
		return rdm, errors.Wrap(err, "")
	}
	return rdm, nil
}

// HamAndOverlap returns <T|H|w> and <T|w>, both including orthoFac.
func (w *Walker) HamAndOverlap(wf wave.Wavefunction, h *ham.Hamiltonian) (complex128, complex128, error) {
	num, ovlp, err := wf.HamAndOverlap(w.det, h)
	if err != nil {
		return 0, 0, errors.Wrap(err, "")
	}
	return num * w.orthoFac, ovlp * w.orthoFac, nil
}
