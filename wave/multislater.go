package wave

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	gmat "gonum.org/v1/gonum/mat"

	"github.com/jokurian/VMC/ham"
	"github.com/jokurian/VMC/mat"
)

// Occupation lists the occupied spin-up and spin-down orbitals of a determinant.
type Occupation [2][]int

// Multislater is a linear combination of determinants built from occupied orbitals.
type Multislater struct {
	coefs []float64
	dets  []*UHF
}

func NewMultislater(h *ham.Hamiltonian, coefs []float64, occs []Occupation) (*Multislater, error) {
	if len(coefs) != len(occs) || len(coefs) == 0 {
		return nil, errors.Errorf("%d coefficients, %d determinants", len(coefs), len(occs))
	}
	m := &Multislater{coefs: coefs}
	nocc := [2]int{h.Nalpha, h.Nbeta}
	for k, occ := range occs {
		var det [2]*gmat.CDense
		for s := range 2 {
			if len(occ[s]) != nocc[s] {
				return nil, errors.Errorf("determinant %d spin %d has %d electrons, expected %d", k, s, len(occ[s]), nocc[s])
			}
			det[s] = gmat.NewCDense(h.Norbs, nocc[s], nil)
			for j, orb := range occ[s] {
				det[s].Set(orb, j, 1)
			}
		}
		m.dets = append(m.dets, NewUHFFromDet(h, det))
	}
	return m, nil
}

// ReadDeterminants parses lines of the form
//
//	coef occ_0 occ_1 ... occ_{norbs-1}
//
// where each occupation is one of 2 (doubly occupied), a, b or 0.
func ReadDeterminants(fpath string, norbs int) ([]float64, []Occupation, error) {
	f, err := os.Open(fpath)
	if err != nil {
		return nil, nil, errors.Wrap(err, "")
	}
	defer f.Close()

	var coefs []float64
	var occs []Occupation
	scanner := bufio.NewScanner(f)
	for lineno := 1; scanner.Scan(); lineno++ {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		if len(fields) != norbs+1 {
			return nil, nil, errors.Errorf("%s:%d: %d fields, expected %d", fpath, lineno, len(fields), norbs+1)
		}
		coef, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, nil, errors.Wrap(err, fmt.Sprintf("%s:%d", fpath, lineno))
		}
		var occ Occupation
		for i, tok := range fields[1:] {
			switch tok {
			case "2":
				occ[0] = append(occ[0], i)
				occ[1] = append(occ[1], i)
			case "a":
				occ[0] = append(occ[0], i)
			case "b":
				occ[1] = append(occ[1], i)
			case "0":
			default:
				return nil, nil, errors.Errorf("%s:%d: occupation %q", fpath, lineno, tok)
			}
		}
		coefs = append(coefs, coef)
		occs = append(occs, occ)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, errors.Wrap(err, "")
	}
	if len(coefs) == 0 {
		return nil, nil, errors.Errorf("%s: no determinants", fpath)
	}
	return coefs, occs, nil
}

func (m *Multislater) Overlap(det [2]*gmat.CDense) (complex128, error) {
	var ovlp complex128
	for k, d := range m.dets {
		o, err := d.Overlap(det)
		if err != nil {
			return 0, errors.Wrap(err, fmt.Sprintf("determinant %d", k))
		}
		ovlp += complex(m.coefs[k], 0) * o
	}
	return ovlp, nil
}

// ForceBias averages the force biases of the components, weighted by their contribution to the overlap.
// Components with zero overlap do not contribute.
func (m *Multislater) ForceBias(det [2]*gmat.CDense, h *ham.Hamiltonian) ([]complex128, error) {
	fb := make([]complex128, h.NumFields())
	var ovlp complex128
	for k, d := range m.dets {
		o, err := d.Overlap(det)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		if o == 0 {
			continue
		}
		fbk, err := d.ForceBias(det, h)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("determinant %d", k))
		}
		w := complex(m.coefs[k], 0) * o
		for n, v := range fbk {
			fb[n] += w * v
		}
		ovlp += w
	}
	if ovlp == 0 {
		return nil, errors.Wrap(mat.ErrSingular, "zero overlap with trial")
	}
	for n := range fb {
		fb[n] /= ovlp
	}
	return fb, nil
}

func (m *Multislater) OneRDM(det [2]*gmat.CDense) ([2]*gmat.CDense, error) {
	var rdm [2]*gmat.CDense
	var ovlp complex128
	for k, d := range m.dets {
		o, err := d.Overlap(det)
		if err != nil {
			return rdm, errors.Wrap(err, "")
		}
		if o == 0 {
			continue
		}
		rk, err := d.OneRDM(det)
		if err != nil {
			return rdm, errors.Wrap(err, fmt.Sprintf("determinant %d", k))
		}
		w := complex(m.coefs[k], 0) * o
		for s := range 2 {
			if rdm[s] == nil {
				r, c := rk[s].Dims()
				rdm[s] = gmat.NewCDense(r, c, nil)
			}
			mat.AddScaled(rdm[s], w, rk[s])
		}
		ovlp += w
	}
	if ovlp == 0 {
		return rdm, errors.Wrap(mat.ErrSingular, "zero overlap with trial")
	}
	for s := range 2 {
		mat.Scale(1/ovlp, rdm[s])
	}
	return rdm, nil
}

func (m *Multislater) HamAndOverlap(det [2]*gmat.CDense, h *ham.Hamiltonian) (complex128, complex128, error) {
	var num, ovlp complex128
	for k, d := range m.dets {
		o, err := d.Overlap(det)
		if err != nil {
			return 0, 0, errors.Wrap(err, "")
		}
		if o == 0 {
			continue
		}
		nk, ok, err := d.HamAndOverlap(det, h)
		if err != nil {
			return 0, 0, errors.Wrap(err, fmt.Sprintf("determinant %d", k))
		}
		num += complex(m.coefs[k], 0) * nk
		ovlp += complex(m.coefs[k], 0) * ok
	}
	return num, ovlp, nil
}
