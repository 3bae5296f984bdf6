// Package ham holds the electronic Hamiltonian in Cholesky-decomposed form.
package ham

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"
	gmat "gonum.org/v1/gonum/mat"

	"github.com/jokurian/VMC/mat"
)

const (
	FnameMeta = "meta.csv"
	DirH1     = "h1"
	DirChol   = "chol"
)

// Hamiltonian is H = Ecore + Σ_s h1_s + ½ Σ_n (Σ_s L_n,s)².
// It is read-only after construction and may be shared between ranks.
type Hamiltonian struct {
	Norbs  int
	Nalpha int
	Nbeta  int
	Ecore  float64

	H1 [2]*gmat.Dense
	// H1Mod is H1 - ½ Σ_n L_n L_n, the one-body operator left after normal ordering the two-body term.
	H1Mod [2]*gmat.Dense
	Chol  [][2]*gmat.Dense
	// FloatChol holds the packed lower triangles of Chol in single precision, shape {2, Norbs*(Norbs+1)/2}.
	FloatChol []*tensor.Dense
}

func New(h1 [2]*gmat.Dense, chol [][2]*gmat.Dense, ecore float64, nalpha, nbeta int) (*Hamiltonian, error) {
	norbs, c := h1[0].Dims()
	if norbs != c {
		return nil, errors.Errorf("h1 not square %dx%d", norbs, c)
	}
	if nalpha < 1 || nbeta < 1 || nalpha > norbs || nbeta > norbs {
		return nil, errors.Errorf("electrons %d %d for %d orbitals", nalpha, nbeta, norbs)
	}
	for s := range 2 {
		if r, c := h1[s].Dims(); r != norbs || c != norbs {
			return nil, errors.Errorf("h1[%d] %dx%d, expected %dx%d", s, r, c, norbs, norbs)
		}
	}
	for n, l := range chol {
		for s := range 2 {
			if r, c := l[s].Dims(); r != norbs || c != norbs {
				return nil, errors.Errorf("chol[%d][%d] %dx%d, expected %dx%d", n, s, r, c, norbs, norbs)
			}
		}
	}

	h := &Hamiltonian{Norbs: norbs, Nalpha: nalpha, Nbeta: nbeta, Ecore: ecore, H1: h1, Chol: chol}
	for s := range 2 {
		mod := gmat.DenseCopyOf(h1[s])
		var ll gmat.Dense
		for _, l := range chol {
			ll.Mul(l[s], l[s])
			ll.Scale(-0.5, &ll)
			mod.Add(mod, &ll)
		}
		h.H1Mod[s] = mod
	}

	npair := norbs * (norbs + 1) / 2
	for _, l := range chol {
		f := tensor.Zeros(2, npair)
		for s := range 2 {
			for i := 0; i < norbs; i++ {
				for j := 0; j <= i; j++ {
					f.SetAt([]int{s, PackedIndex(i, j)}, complex(float32(l[s].At(i, j)), 0))
				}
			}
		}
		h.FloatChol = append(h.FloatChol, f)
	}
	return h, nil
}

func (h *Hamiltonian) NumFields() int { return len(h.Chol) }

// PackedIndex is the position of element (i, j), i >= j, in a packed lower triangle.
func PackedIndex(i, j int) int {
	if i < j {
		i, j = j, i
	}
	return i*(i+1)/2 + j
}

// RotateCholesky returns detT_s * L_n,s for every field n.
func (h *Hamiltonian) RotateCholesky(detT [2]*gmat.CDense) [][2]*gmat.CDense {
	rot := make([][2]*gmat.CDense, 0, len(h.Chol))
	for _, l := range h.Chol {
		var r [2]*gmat.CDense
		for s := range 2 {
			r[s] = mat.Mul(detT[s], mat.C(l[s]))
		}
		rot = append(rot, r)
	}
	return rot
}

// Load reads a Hamiltonian stored as
//
//	dir/meta.csv      norbs,nalpha,nbeta,ecore
//	dir/h1/           one-body integrals, COO
//	dir/chol/<n>/     Cholesky vector n, COO
//
// The integrals are spin restricted, so both spin blocks share the same matrices.
func Load(dir string) (*Hamiltonian, error) {
	norbs, nalpha, nbeta, ecore, err := readMeta(filepath.Join(dir, FnameMeta))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	h1COO, err := mat.ReadCOO(filepath.Join(dir, DirH1))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if h1COO.Rows() != norbs || h1COO.Cols() != norbs {
		return nil, errors.Errorf("h1 %dx%d, norbs %d", h1COO.Rows(), h1COO.Cols(), norbs)
	}
	h1 := h1COO.Gonum()

	var chol [][2]*gmat.Dense
	for n := 0; ; n++ {
		cdir := filepath.Join(dir, DirChol, strconv.Itoa(n))
		if _, err := os.Stat(cdir); os.IsNotExist(err) {
			break
		}
		l, err := mat.ReadCOO(cdir)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%d", n))
		}
		ld := l.Gonum()
		chol = append(chol, [2]*gmat.Dense{ld, ld})
	}

	return New([2]*gmat.Dense{h1, h1}, chol, ecore, nalpha, nbeta)
}

// Save writes the spin-up integrals of h in the layout read by Load.
func Save(dir string, h *Hamiltonian) error {
	meta := fmt.Sprintf("%d,%d,%d,%s", h.Norbs, h.Nalpha, h.Nbeta, mat.FormatNumpy(h.Ecore))
	if err := os.WriteFile(filepath.Join(dir, FnameMeta), []byte(meta), 0644); err != nil {
		return errors.Wrap(err, "")
	}

	h1Dir := filepath.Join(dir, DirH1)
	if err := os.MkdirAll(h1Dir, 0755); err != nil {
		return errors.Wrap(err, "")
	}
	if err := mat.FromDense(h.H1[0]).WriteCOO(h1Dir); err != nil {
		return errors.Wrap(err, "")
	}
	for n, l := range h.Chol {
		cdir := filepath.Join(dir, DirChol, strconv.Itoa(n))
		if err := os.MkdirAll(cdir, 0755); err != nil {
			return errors.Wrap(err, "")
		}
		if err := mat.FromDense(l[0]).WriteCOO(cdir); err != nil {
			return errors.Wrap(err, "")
		}
	}
	return nil
}

func readMeta(fpath string) (int, int, int, float64, error) {
	f, err := os.Open(fpath)
	if err != nil {
		return 0, 0, 0, 0, errors.Wrap(err, "")
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return 0, 0, 0, 0, errors.Wrap(err, "")
	}
	if len(records) == 0 || len(records[0]) != 4 {
		return 0, 0, 0, 0, errors.Errorf("%#v", records)
	}
	row := records[0]
	ints := make([]int, 3)
	for i := range ints {
		ints[i], err = strconv.Atoi(strings.TrimSpace(row[i]))
		if err != nil {
			return 0, 0, 0, 0, errors.Wrap(err, fmt.Sprintf("%#v", row))
		}
	}
	ecore, err := strconv.ParseFloat(strings.TrimSpace(row[3]), 64)
	if err != nil {
		return 0, 0, 0, 0, errors.Wrap(err, fmt.Sprintf("%#v", row))
	}
	return ints[0], ints[1], ints[2], ecore, nil
}
