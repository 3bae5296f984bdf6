package main

import (
	"log"
	"os"
	"path/filepath"
	"testing"

	gmat "gonum.org/v1/gonum/mat"

	"github.com/jokurian/VMC/ham"
	"github.com/jokurian/VMC/lattice"
	"github.com/jokurian/VMC/wave"
)

func TestSolveGather(t *testing.T) {
	t.Parallel()
	dir, err := os.MkdirTemp("", "")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer os.RemoveAll(dir)

	n := [2]int{2, 1}
	hdir := filepath.Join(dir, "2x1", "0.500000")
	if err := solve(hdir, n, 0.5); err != nil {
		t.Fatalf("%+v", err)
	}
	// A finished directory is not solved again.
	if err := os.WriteFile(filepath.Join(hdir, fnameStatistics), []byte(`{"Energy":-7,"Magnetization":0}`), 0644); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := solve(hdir, n, 0.5); err != nil {
		t.Fatalf("%+v", err)
	}

	stats, err := gather(dir)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if len(stats) != 1 || stats[0].n != n || stats[0].h != 0.5 || stats[0].Energy != -7 {
		t.Fatalf("%#v", stats)
	}

	want, err := lattice.ExactGround(n, 0.5)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if err := os.Remove(filepath.Join(hdir, fnameDone)); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := solve(hdir, n, 0.5); err != nil {
		t.Fatalf("%+v", err)
	}
	stats, err = gather(dir)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if stats[0].Statistics != want {
		t.Fatalf("%#v %#v", stats[0].Statistics, want)
	}
}

func TestReferenceOrbitals(t *testing.T) {
	t.Parallel()
	h1 := gmat.NewDiagDense(3, []float64{0.5, 1.5, 2.5})
	h, err := ham.New([2]*gmat.Dense{gmat.DenseCopyOf(h1), gmat.DenseCopyOf(h1)}, nil, 0, 2, 1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	orbitals, err := referenceOrbitals("", h.Norbs)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	u, err := wave.NewUHF(h, orbitals)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	det := u.Sample()
	if r, c := det[0].Dims(); r != 3 || c != 2 {
		t.Fatalf("%d %d", r, c)
	}
	if r, c := det[1].Dims(); r != 3 || c != 1 {
		t.Fatalf("%d %d", r, c)
	}
	ovlp, err := u.Overlap(det)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if ovlp != 1 {
		t.Fatalf("%v", ovlp)
	}
}

func TestMain(m *testing.M) {
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)
	os.Exit(m.Run())
}
