package wave

import (
	"github.com/pkg/errors"
	gmat "gonum.org/v1/gonum/mat"

	"github.com/jokurian/VMC/ham"
	"github.com/jokurian/VMC/mat"
)

// UHF is a single unrestricted Slater determinant.
type UHF struct {
	det  [2]*gmat.CDense
	detT [2]*gmat.CDense
	// rotChol is detT_s * L_n,s.
	rotChol [][2]*gmat.CDense
}

// NewUHF builds the determinant from an orbital coefficient matrix of norbs rows,
// whose first norbs columns are the spin-up orbitals and next norbs columns the spin-down ones.
func NewUHF(h *ham.Hamiltonian, orbitals gmat.Matrix) (*UHF, error) {
	r, c := orbitals.Dims()
	if r != h.Norbs || c < 2*h.Norbs {
		return nil, errors.Errorf("orbitals %dx%d, expected %dx%d", r, c, h.Norbs, 2*h.Norbs)
	}
	var det [2]*gmat.CDense
	nocc := [2]int{h.Nalpha, h.Nbeta}
	for s := range 2 {
		det[s] = gmat.NewCDense(h.Norbs, nocc[s], nil)
		for i := 0; i < h.Norbs; i++ {
			for j := 0; j < nocc[s]; j++ {
				det[s].Set(i, j, complex(orbitals.At(i, s*h.Norbs+j), 0))
			}
		}
	}
	return NewUHFFromDet(h, det), nil
}

func NewUHFFromDet(h *ham.Hamiltonian, det [2]*gmat.CDense) *UHF {
	u := &UHF{}
	for s := range 2 {
		u.det[s] = mat.Clone(det[s])
		u.detT[s] = mat.Adjoint(det[s])
	}
	u.rotChol = h.RotateCholesky(u.detT)
	return u
}

func (u *UHF) Sample() [2]*gmat.CDense {
	return [2]*gmat.CDense{mat.Clone(u.det[0]), mat.Clone(u.det[1])}
}

func (u *UHF) Overlap(det [2]*gmat.CDense) (complex128, error) {
	ovlp := complex(1, 0)
	for s := range 2 {
		ovlp *= mat.Det(mat.Mul(u.detT[s], det[s]))
	}
	return ovlp, nil
}

// theta returns det_s (detT_s det_s)^{-1}.
func (u *UHF) theta(det [2]*gmat.CDense) ([2]*gmat.CDense, error) {
	var theta [2]*gmat.CDense
	for s := range 2 {
		inv, err := mat.Inverse(mat.Mul(u.detT[s], det[s]))
		if err != nil {
			return theta, errors.Wrapf(err, "spin %d overlap matrix", s)
		}
		theta[s] = mat.Mul(det[s], inv)
	}
	return theta, nil
}

func (u *UHF) ForceBias(det [2]*gmat.CDense, h *ham.Hamiltonian) ([]complex128, error) {
	theta, err := u.theta(det)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	fb := make([]complex128, len(u.rotChol))
	for n, rot := range u.rotChol {
		for s := range 2 {
			fb[n] += mat.ElemSumT(theta[s], rot[s])
		}
	}
	return fb, nil
}

func (u *UHF) OneRDM(det [2]*gmat.CDense) ([2]*gmat.CDense, error) {
	theta, err := u.theta(det)
	if err != nil {
		return [2]*gmat.CDense{}, errors.Wrap(err, "")
	}
	var rdm [2]*gmat.CDense
	for s := range 2 {
		rdm[s] = mat.Transpose(mat.Mul(theta[s], u.detT[s]))
	}
	return rdm, nil
}

func (u *UHF) HamAndOverlap(det [2]*gmat.CDense, h *ham.Hamiltonian) (complex128, complex128, error) {
	ovlp, err := u.Overlap(det)
	if err != nil {
		return 0, 0, errors.Wrap(err, "")
	}
	theta, err := u.theta(det)
	if err != nil {
		return 0, 0, errors.Wrap(err, "")
	}

	ene := complex(h.Ecore, 0)
	for s := range 2 {
		green := mat.Mul(theta[s], u.detT[s])
		ene += mat.ElemSum(green, mat.C(h.H1[s]))
	}

	for _, rot := range u.rotChol {
		var f [2]*gmat.CDense
		var c [2]complex128
		var exc complex128
		for s := range 2 {
			f[s] = mat.Mul(rot[s], theta[s])
			c[s] = mat.Trace(f[s])
			exc += mat.ElemSumT(f[s], f[s])
		}
		ene += ((c[0]+c[1])*(c[0]+c[1]) - exc) / 2
	}
	return ene * ovlp, ovlp, nil
}
