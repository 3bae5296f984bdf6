// Package wave implements trial wavefunctions for determinant walkers.
package wave

import (
	"github.com/pkg/errors"
	gmat "gonum.org/v1/gonum/mat"

	"github.com/jokurian/VMC/ham"
)

var ErrUnsupported = errors.New("unsupported by wavefunction")

// Wavefunction evaluates a trial state against a walker determinant det,
// given as the spin-up (norbs x nalpha) and spin-down (norbs x nbeta) orbital matrices.
type Wavefunction interface {
	Overlap(det [2]*gmat.CDense) (complex128, error)
	// ForceBias returns the mixed estimate of each Cholesky field, <T|L_n|det>/<T|det>.
	ForceBias(det [2]*gmat.CDense, h *ham.Hamiltonian) ([]complex128, error)
	// OneRDM returns the mixed one-body density matrix per spin.
	OneRDM(det [2]*gmat.CDense) ([2]*gmat.CDense, error)
	// HamAndOverlap returns <T|H|det> and <T|det>.
	HamAndOverlap(det [2]*gmat.CDense, h *ham.Hamiltonian) (complex128, complex128, error)
}

// Sampler is implemented by wavefunctions able to produce a walker determinant.
type Sampler interface {
	Sample() [2]*gmat.CDense
}

func Sample(w Wavefunction) ([2]*gmat.CDense, error) {
	s, ok := w.(Sampler)
	if !ok {
		return [2]*gmat.CDense{}, errors.Wrapf(ErrUnsupported, "%T cannot sample", w)
	}
	return s.Sample(), nil
}
