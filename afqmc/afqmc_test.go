package afqmc

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"
	"os"
	"path/filepath"
	"slices"
	"testing"

	gmat "gonum.org/v1/gonum/mat"

	"github.com/jokurian/VMC/checkpoint"
	"github.com/jokurian/VMC/comm"
	"github.com/jokurian/VMC/ham"
	"github.com/jokurian/VMC/mat"
	"github.com/jokurian/VMC/pmc"
	"github.com/jokurian/VMC/wave"
)

type constField float64

func (f constField) Rand() float64 { return float64(f) }

// toyHam has two orbitals with energies 0.5 and 1.5, and the Cholesky vectors chol.
func toyHam(t *testing.T, chol ...[]float64) *ham.Hamiltonian {
	h1 := gmat.NewDense(2, 2, []float64{0.5, 0, 0, 1.5})
	var ls [][2]*gmat.Dense
	for _, c := range chol {
		l := gmat.NewDense(2, 2, c)
		ls = append(ls, [2]*gmat.Dense{l, l})
	}
	h, err := ham.New([2]*gmat.Dense{h1, h1}, ls, 0.25, 1, 1)
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

func TestClamp(t *testing.T) {
	t.Parallel()
	tests := []struct {
		wt   float64
		want float64
	}{
		{wt: 1, want: 1},
		{wt: 1e-3 - 1e-9, want: 0},
		{wt: 1e-3, want: 1e-3},
		{wt: 100, want: 100},
		{wt: 100 + 1e-9, want: 0},
		{wt: -1, want: 0},
		{wt: math.NaN(), want: 0},
		{wt: math.Inf(1), want: 0},
	}
	for _, test := range tests {
		if got := clamp(test.wt); got != test.want {
			t.Fatalf("%v %v %v", test.wt, got, test.want)
		}
	}
}

func TestNewPropagator(t *testing.T) {
	t.Parallel()
	dir, err := os.MkdirTemp("", "")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer os.RemoveAll(dir)

	// Interleaved alpha/beta density with the spin up electron in orbital 0 and the spin down one in orbital 1.
	rdm := gmat.NewDense(4, 4, nil)
	rdm.Set(0, 0, 1)
	rdm.Set(3, 3, 1)
	rdmPath := filepath.Join(dir, "rdm.txt")
	if err := mat.WriteDense(rdmPath, rdm); err != nil {
		t.Fatalf("%+v", err)
	}
	badPath := filepath.Join(dir, "bad.txt")
	if err := os.WriteFile(badPath, []byte("1 0 0\n0 1 0\n"), 0644); err != nil {
		t.Fatalf("%+v", err)
	}

	h := toyHam(t, []float64{1, 0, 0, -1})
	ref := column(1, 0)
	tests := []struct {
		opts     Options
		mf       complex128
		constant [2]complex128
	}{
		// mf = Σ_s tr(G_s i L) = 2i, constant = ene0 - ecore - mf²/2 = 1 - 0.25 + 2.
		{opts: Options{Phaseless: true}, mf: 2i, constant: [2]complex128{1.75, 1.75}},
		{opts: Options{Phaseless: false}, mf: 1i, constant: [2]complex128{2.75, 2.75}},
		{opts: Options{Phaseless: true, RDMPath: filepath.Join(dir, "missing.txt")}, mf: 2i, constant: [2]complex128{1.75, 1.75}},
		{opts: Options{Phaseless: true, RDMPath: rdmPath}, mf: 0, constant: [2]complex128{-0.25, -0.25}},
	}
	for i, test := range tests {
		// Sequential, the density files live in dir.
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			p, err := NewPropagator(ref, h, 0.01, 1, test.opts)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if mf := p.MFShifts(); len(mf) != 1 || cmplx.Abs(mf[0]-test.mf) > 1e-12 {
				t.Fatalf("%v %v", mf, test.mf)
			}
			pc := p.PropConstant()
			for s := range 2 {
				if cmplx.Abs(pc[s]-test.constant[s]) > 1e-12 {
					t.Fatalf("%d %v %v", s, pc, test.constant)
				}
			}
		})
	}

	if _, err := NewPropagator(ref, h, 0.01, 1, Options{RDMPath: badPath}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPropagateOneBody(t *testing.T) {
	t.Parallel()
	const dt = 0.01
	tests := []struct {
		chol [][]float64
		det  [2]complex128
		// h1mod is the diagonal of H1 - ½ Σ_n L_n L_n.
		h1mod [2]float64
	}{
		{det: [2]complex128{0.6, 0.8}, h1mod: [2]float64{0.5, 1.5}},
		// The force bias and the mean-field shift vanish, so only the normal ordered one-body term acts.
		{chol: [][]float64{{0, 0.3, 0.3, 0}}, det: [2]complex128{1, 0}, h1mod: [2]float64{0.455, 1.455}},
	}
	for i, test := range tests {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			t.Parallel()
			h := toyHam(t, test.chol...)
			trial := wave.NewUHFFromDet(h, column(1, 0))
			p, err := NewPropagator(column(1, 0), h, dt, 1.25, Options{Phaseless: true})
			if err != nil {
				t.Fatalf("%+v", err)
			}
			m := test.h1mod
			half := gmat.NewCDense(2, 2, []complex128{complex(math.Exp(-dt/2*m[0]), 0), 0, 0, complex(math.Exp(-dt/2*m[1]), 0)})
			for s, e := range p.ExpOneBody() {
				if !mat.EqualApprox(e, half, 1e-12) {
					t.Fatalf("%d %s", s, mat.Sprint(e))
				}
			}

			w := NewWalker(column(test.det[0], test.det[1]), false, true)
			ovlp0, err := w.Overlap(trial)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			wt, err := p.PropagatePhaseless(w, trial, constField(0), 0)
			if err != nil {
				t.Fatalf("%+v", err)
			}

			// Without fields the step is exp(dt*propConstant) times the overlap ratio exp(-2*dt*h1mod[0]).
			ratio := math.Exp(-2 * dt * m[0])
			if want := math.Exp(dt*real(p.PropConstant()[0])) * ratio; math.Abs(wt-want) > 1e-12 {
				t.Fatalf("%v %v", wt, want)
			}
			want := column(test.det[0]*complex(math.Exp(-dt*m[0]), 0), test.det[1]*complex(math.Exp(-dt*m[1]), 0))
			det := w.Det()
			for s := range 2 {
				if !mat.EqualApprox(det[s], want[s], 1e-12) {
					t.Fatalf("%d %s %s", s, mat.Sprint(det[s]), mat.Sprint(want[s]))
				}
			}
			if ovlp := w.TrialOverlap(); cmplx.Abs(ovlp-ovlp0*complex(ratio, 0)) > 1e-12 {
				t.Fatalf("%v %v", ovlp, ovlp0)
			}
		})
	}
}

func TestPropagateOverlapRatio(t *testing.T) {
	t.Parallel()
	h := toyHam(t)
	trial := wave.NewUHFFromDet(h, column(1, 0))
	p, err := NewPropagator(column(1, 0), h, 0.01, 1.25, Options{Phaseless: true})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	tests := []struct {
		ovlp complex128
		want float64
	}{
		// The new overlap is 0.36*exp(-dt), so these ratios leave [1e-3, 100] or turn the phase.
		{ovlp: 1e6},
		{ovlp: 1e-6},
		{ovlp: 0},
		{ovlp: -0.36},
		{ovlp: 0.36i},
		{ovlp: complex(math.NaN(), 0)},
	}
	for i, test := range tests {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			t.Parallel()
			w := NewWalker(column(0.6, 0.8), false, true)
			w.trialOverlap = test.ovlp
			wt, err := p.PropagatePhaseless(w, trial, constField(0), 0)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if wt != test.want {
				t.Fatalf("%v %v", wt, test.want)
			}
		})
	}
}

func TestRunFreeProjection(t *testing.T) {
	t.Parallel()
	h := toyHam(t)
	trial := wave.NewUHFFromDet(h, column(1, 0))
	p, err := NewPropagator(column(1, 0), h, 0.01, 1.25, Options{Phaseless: false})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if p.Phaseless() {
		t.Fatalf("phaseless")
	}
	cfg := Config{Nwalk: 2, MaxIter: 2, NGeneration: 1, Dt: 0.01, OrthoSteps: 1}
	stream := pmc.NewStream(1, 0)
	if _, err := Run(context.Background(), cfg, comm.Serial{}, stream, stream.Normal, p, trial, column(1, 0), RunOptions{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPropagateDeterminism(t *testing.T) {
	t.Parallel()
	h := toyHam(t, []float64{0, 0.3, 0.3, 0}, []float64{0.2, 0, 0, -0.1})
	trial := wave.NewUHFFromDet(h, column(1, 0))
	p, err := NewPropagator(column(1, 0), h, 0.01, 1.25, Options{Phaseless: true})
	if err != nil {
		t.Fatalf("%+v", err)
	}

	walk := func(seed uint64) ([]float64, []complex128) {
		stream := pmc.NewStream(seed, 0)
		w := NewWalker(column(0.8, 0.6), false, true)
		if _, err := w.Overlap(trial); err != nil {
			t.Fatalf("%+v", err)
		}
		var wts []float64
		for range 20 {
			wt, err := p.PropagatePhaseless(w, trial, stream.Normal, 1.25)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			wts = append(wts, wt)
		}
		serial, _ := w.Serialize()
		return wts, serial
	}

	wts0, det0 := walk(3)
	wts1, det1 := walk(3)
	if !slices.Equal(wts0, wts1) || !slices.Equal(det0, det1) {
		t.Fatalf("%v %v", wts0, wts1)
	}
	wts2, _ := walk(4)
	if slices.Equal(wts0, wts2) {
		t.Fatalf("%v", wts2)
	}
	for _, wt := range wts0 {
		if wt <= 0 || wt > 2 {
			t.Fatalf("%v", wts0)
		}
	}
}

func TestOrthogonalize(t *testing.T) {
	t.Parallel()
	h1 := gmat.NewDense(3, 3, []float64{1, 0, 0, 0, 2, 0, 0, 0, 3})
	h, err := ham.New([2]*gmat.Dense{h1, h1}, nil, 0, 2, 2)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	trialDet := gmat.NewCDense(3, 2, []complex128{1, 0, 0, 1, 0.5, 0.5i})
	trial := wave.NewUHFFromDet(h, [2]*gmat.CDense{trialDet, trialDet})
	up := gmat.NewCDense(3, 2, []complex128{2, 1i, 0.5, 3, -1, 1})
	dn := gmat.NewCDense(3, 2, []complex128{1, 1, 0, 2i, 1, -3})

	tests := []struct {
		det       [2]*gmat.CDense
		rhf       bool
		phaseless bool
	}{
		{det: [2]*gmat.CDense{up, dn}},
		{det: [2]*gmat.CDense{up, dn}, phaseless: true},
		{det: [2]*gmat.CDense{up, up}, rhf: true},
		{det: [2]*gmat.CDense{up, up}, rhf: true, phaseless: true},
	}
	for i, test := range tests {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			t.Parallel()
			w := NewWalker(test.det, test.rhf, test.phaseless)
			before, err := w.Overlap(trial)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			w.Orthogonalize()

			det := w.Det()
			for s := range 2 {
				qhq := mat.MulH(det[s], det[s])
				if !mat.EqualApprox(qhq, mat.Identity(2), 1e-12) {
					t.Fatalf("%d %s", s, mat.Sprint(qhq))
				}
			}
			if test.rhf && !mat.EqualApprox(det[0], det[1], 0) {
				t.Fatalf("%s %s", mat.Sprint(det[0]), mat.Sprint(det[1]))
			}

			after, err := trial.Overlap(det)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if test.phaseless {
				if w.OrthoFac() != 1 {
					t.Fatalf("%v", w.OrthoFac())
				}
				if cmplx.Abs(w.TrialOverlap()-after) > 1e-10*cmplx.Abs(after) {
					t.Fatalf("%v %v", w.TrialOverlap(), after)
				}
				return
			}
			if cmplx.Abs(before/after-w.OrthoFac()) > 1e-10*cmplx.Abs(w.OrthoFac()) {
				t.Fatalf("%v %v %v", before, after, w.OrthoFac())
			}
			num, ovlp, err := w.HamAndOverlap(trial, h)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if cmplx.Abs(ovlp-before) > 1e-10*cmplx.Abs(before) {
				t.Fatalf("%v %v", ovlp, before)
			}
			num0, _, err := trial.HamAndOverlap(test.det, h)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if cmplx.Abs(num-num0) > 1e-10*cmplx.Abs(num0) {
				t.Fatalf("%v %v", num, num0)
			}
		})
	}
}

func TestSerialize(t *testing.T) {
	t.Parallel()
	up := gmat.NewCDense(3, 2, []complex128{1, 2, 3, 4, 5, 6})
	dn := gmat.NewCDense(3, 1, []complex128{7i, 8i, 9i})
	w := NewWalker([2]*gmat.CDense{up, dn}, false, true)
	w.trialOverlap = complex(0.5, -1)

	serial, ovlp := w.Serialize()
	want := []complex128{1, 2, 3, 4, 5, 6, 7i, 8i, 9i}
	if !slices.Equal(serial, want) || ovlp != complex(0.5, -1) {
		t.Fatalf("%v %v", serial, ovlp)
	}

	zeros := [2]*gmat.CDense{gmat.NewCDense(3, 2, nil), gmat.NewCDense(3, 1, nil)}
	c := NewWalker(zeros, false, true)
	if err := c.Deserialize(serial, ovlp); err != nil {
		t.Fatalf("%+v", err)
	}
	det := c.Det()
	if !mat.EqualApprox(det[0], up, 0) || !mat.EqualApprox(det[1], dn, 0) || c.TrialOverlap() != ovlp {
		t.Fatalf("%s %s", mat.Sprint(det[0]), mat.Sprint(det[1]))
	}
	if err := c.Deserialize(serial[1:], ovlp); err == nil {
		t.Fatalf("expected error")
	}

	// Clones do not share determinants.
	d := c.Clone()
	if err := d.Deserialize(make([]complex128, 9), 0); err != nil {
		t.Fatalf("%+v", err)
	}
	if s, _ := c.Serialize(); !slices.Equal(s, want) {
		t.Fatalf("%v", s)
	}
}

func TestRunNonInteracting(t *testing.T) {
	t.Parallel()
	h := toyHam(t)
	trial := wave.NewUHFFromDet(h, column(1, 0))
	etrial, err := LocalEnergy(trial, column(1, 0), h)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if math.Abs(etrial-1.25) > 1e-12 {
		t.Fatalf("%v", etrial)
	}
	p, err := NewPropagator(column(1, 0), h, 0.01, etrial, Options{Phaseless: true})
	if err != nil {
		t.Fatalf("%+v", err)
	}

	cfg := Config{Nwalk: 10, MaxIter: 50, NGeneration: 10, Dt: 0.01, OrthoSteps: 5}
	stream := pmc.NewStream(1, 0)
	res, err := Run(context.Background(), cfg, comm.Serial{}, stream, stream.Normal, p, trial, column(1, 0), RunOptions{})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if res.Generations != 5 {
		t.Fatalf("%#v", res)
	}
	if math.Abs(res.Energy-1.25) > 1e-9 || math.Abs(res.Population-10) > 1e-6 {
		t.Fatalf("%#v", res)
	}
}

func TestRunCheckpoint(t *testing.T) {
	t.Parallel()
	dir, err := os.MkdirTemp("", "")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer os.RemoveAll(dir)
	store, err := checkpoint.Open(filepath.Join(dir, "walkers.db"))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer store.Close()

	h := toyHam(t, []float64{0, 0.3, 0.3, 0})
	trial := wave.NewUHFFromDet(h, column(1, 0))
	p, err := NewPropagator(column(1, 0), h, 0.01, 1.25, Options{Phaseless: true})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	cfg := Config{Nwalk: 8, MaxIter: 20, NGeneration: 5, Dt: 0.01, OrthoSteps: 4, CheckpointSteps: 10}
	opts := RunOptions{Store: store, RunID: checkpoint.NewRunID()}

	run := func() pmc.Result {
		var res pmc.Result
		err := comm.Run(context.Background(), 2, func(ctx context.Context, c comm.Communicator) error {
			stream := pmc.NewStream(11, c.Rank())
			r, err := Run(ctx, cfg, c, stream, stream.Normal, p, trial, column(1, 0), opts)
			if c.Rank() == 0 {
				res = r
			}
			return err
		})
		if err != nil {
			t.Fatalf("%+v", err)
		}
		return res
	}
	res := run()
	if res.Generations != 4 || math.IsNaN(res.Energy) {
		t.Fatalf("%#v", res)
	}

	for rank := range 2 {
		recs, err := store.Load(context.Background(), opts.RunID, rank)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		if len(recs) == 0 {
			t.Fatalf("rank %d empty", rank)
		}

		seed := NewWalker(column(1, 0), false, true)
		resumed, err := initialEnsemble(context.Background(), cfg, rank, seed, RunOptions{Store: store, RunID: opts.RunID, Resume: true})
		if err != nil {
			t.Fatalf("%+v", err)
		}
		if len(resumed) != len(recs) {
			t.Fatalf("%d %d", len(resumed), len(recs))
		}
		for i, m := range resumed {
			serial, ovlp := m.Walker.Serialize()
			if m.Weight != recs[i].Weight || ovlp != recs[i].Overlap || !slices.Equal(serial, recs[i].Det) {
				t.Fatalf("%d %#v", i, recs[i])
			}
		}
	}

	// The same seeds reproduce the run.
	if again := run(); again != res {
		t.Fatalf("%#v %#v", again, res)
	}
}
