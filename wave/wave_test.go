package wave

import (
	"fmt"
	"math/cmplx"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	gmat "gonum.org/v1/gonum/mat"

	"github.com/jokurian/VMC/ham"
	"github.com/jokurian/VMC/mat"
)

const ecore = 0.25

func toyHam(t *testing.T) *ham.Hamiltonian {
	h1 := gmat.NewDense(2, 2, []float64{0.5, 0, 0, 1.5})
	l := gmat.NewDense(2, 2, []float64{0, 1, 1, 0})
	h, err := ham.New([2]*gmat.Dense{h1, h1}, [][2]*gmat.Dense{{l, l}}, ecore, 1, 1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	return h
}

func column(a, b complex128) [2]*gmat.CDense {
	return [2]*gmat.CDense{
		gmat.NewCDense(2, 1, []complex128{a, b}),
		gmat.NewCDense(2, 1, []complex128{a, b}),
	}
}

func toyUHF(t *testing.T, h *ham.Hamiltonian) *UHF {
	orbitals := gmat.NewDense(2, 4, []float64{
		1, 0, 1, 0,
		0, 1, 0, 1,
	})
	u, err := NewUHF(h, orbitals)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	return u
}

func TestUHF(t *testing.T) {
	t.Parallel()
	tests := []struct {
		det  [2]*gmat.CDense
		ovlp complex128
		fb   complex128
		ene  complex128
		rdm  *gmat.CDense
	}{
		{
			det:  column(1, 0),
			ovlp: 1,
			fb:   0,
			ene:  ecore + 1,
			rdm:  gmat.NewCDense(2, 2, []complex128{1, 0, 0, 0}),
		},
		{
			det:  column(2, 1),
			ovlp: 4,
			fb:   1,
			ene:  ecore + 1.25,
			rdm:  gmat.NewCDense(2, 2, []complex128{1, 0.5, 0, 0}),
		},
		{
			det:  column(1i, 1),
			ovlp: -1,
			fb:   -2i,
			ene:  ecore + 1 + (-4+2)/2.0,
			rdm:  gmat.NewCDense(2, 2, []complex128{1, -1i, 0, 0}),
		},
	}
	h := toyHam(t)
	u := toyUHF(t, h)
	for _, test := range tests {
		t.Run(fmt.Sprintf("%v", test.det[0].RawCMatrix().Data), func(t *testing.T) {
			t.Parallel()
			ovlp, err := u.Overlap(test.det)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if cmplx.Abs(ovlp-test.ovlp) > 1e-12 {
				t.Fatalf("%v, expected %v", ovlp, test.ovlp)
			}

			fb, err := u.ForceBias(test.det, h)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if len(fb) != 1 || cmplx.Abs(fb[0]-test.fb) > 1e-12 {
				t.Fatalf("%v, expected %v", fb, test.fb)
			}

			num, o, err := u.HamAndOverlap(test.det, h)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if cmplx.Abs(o-test.ovlp) > 1e-12 || cmplx.Abs(num/o-test.ene) > 1e-12 {
				t.Fatalf("%v %v, expected %v", num/o, o, test.ene)
			}

			rdm, err := u.OneRDM(test.det)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			for s := range 2 {
				if !mat.EqualApprox(rdm[s], test.rdm, 1e-12) {
					t.Fatalf("%s, expected %s", mat.Sprint(rdm[s]), mat.Sprint(test.rdm))
				}
			}
		})
	}
}

func TestUHFSingular(t *testing.T) {
	t.Parallel()
	h := toyHam(t)
	u := toyUHF(t, h)
	det := column(0, 1)
	ovlp, err := u.Overlap(det)
	if err != nil || ovlp != 0 {
		t.Fatalf("%v %+v", ovlp, err)
	}
	if _, err := u.ForceBias(det, h); !errors.Is(err, mat.ErrSingular) {
		t.Fatalf("%+v", err)
	}
}

func TestSample(t *testing.T) {
	t.Parallel()
	h := toyHam(t)
	u := toyUHF(t, h)
	det, err := Sample(u)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	det[0].Set(0, 0, 7)
	again := u.Sample()
	if again[0].At(0, 0) != 1 {
		t.Fatalf("sample aliases the trial")
	}

	m, err := NewMultislater(h, []float64{1}, []Occupation{{{0}, {0}}})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err := Sample(m); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("%+v", err)
	}
}

func TestMultislater(t *testing.T) {
	t.Parallel()
	dir, err := os.MkdirTemp("", "")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer os.RemoveAll(dir)
	fpath := filepath.Join(dir, "dets")
	if err := os.WriteFile(fpath, []byte("# ci\n1.0 2 0\n0.5 0 2\n\n-0.25 a b\n"), 0644); err != nil {
		t.Fatalf("%+v", err)
	}

	h := toyHam(t)
	coefs, occs, err := ReadDeterminants(fpath, h.Norbs)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if len(coefs) != 3 || coefs[2] != -0.25 {
		t.Fatalf("%v", coefs)
	}
	if occs[2][0][0] != 0 || occs[2][1][0] != 1 {
		t.Fatalf("%v", occs[2])
	}
	m, err := NewMultislater(h, coefs, occs)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	// Overlaps of (2,1) with |00>, |11> and |01> are 4, 1 and 2.
	det := column(2, 1)
	ovlp, err := m.Overlap(det)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if expected := complex(4+0.5-0.5, 0); cmplx.Abs(ovlp-expected) > 1e-12 {
		t.Fatalf("%v, expected %v", ovlp, expected)
	}
	_, o, err := m.HamAndOverlap(det, h)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if cmplx.Abs(o-ovlp) > 1e-12 {
		t.Fatalf("%v %v", o, ovlp)
	}

	// A single component reduces to the plain determinant.
	single, err := NewMultislater(h, []float64{1}, []Occupation{{{0}, {0}}})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	u := toyUHF(t, h)
	fbM, err := single.ForceBias(det, h)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	fbU, err := u.ForceBias(det, h)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if cmplx.Abs(fbM[0]-fbU[0]) > 1e-12 {
		t.Fatalf("%v %v", fbM, fbU)
	}
	rdmM, err := single.OneRDM(det)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	rdmU, err := u.OneRDM(det)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !mat.EqualApprox(rdmM[0], rdmU[0], 1e-12) {
		t.Fatalf("%s %s", mat.Sprint(rdmM[0]), mat.Sprint(rdmU[0]))
	}
}

func TestReadDeterminantsErrors(t *testing.T) {
	t.Parallel()
	dir, err := os.MkdirTemp("", "")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer os.RemoveAll(dir)

	tests := []string{
		"1.0 2\n",
		"x 2 0\n",
		"1.0 2 c\n",
		"",
	}
	for i, content := range tests {
		fpath := filepath.Join(dir, fmt.Sprintf("%d", i))
		if err := os.WriteFile(fpath, []byte(content), 0644); err != nil {
			t.Fatalf("%+v", err)
		}
		if _, _, err := ReadDeterminants(fpath, 2); err == nil {
			t.Fatalf("%q: expected error", content)
		}
	}
}
