package pmc

import (
	"math"
	"testing"
)

// flipper hops between two states of equal diagonal energy.
type flipper struct {
	state int
	diag  float64
	hops  int
}

func (f *flipper) Clone() *flipper { c := *f; return &c }

type flipGuide struct {
	hij float64
}

func (g flipGuide) DiagonalEnergy(w *flipper) float64 { return w.diag }

func (g flipGuide) HamAndOvlp(w *flipper, exc []Excitation) (float64, float64, []Excitation) {
	if g.hij == 0 {
		return w.diag, 1, exc
	}
	exc = append(exc, Excitation{Hij: g.hij, OvlpRatio: 1, Move: 1 - w.state})
	return w.diag + g.hij, 1, exc
}

func (g flipGuide) Move(w *flipper, e Excitation) {
	w.state = e.Move
	w.hops++
}

func TestPropagateContinuousTime(t *testing.T) {
	t.Parallel()
	tests := []struct {
		hij    float64
		diag   float64
		eshift float64
		tau    float64
	}{
		{hij: 0, diag: 2, eshift: 1, tau: 0.3},
		{hij: -1, diag: 0, eshift: 0, tau: 0.5},
		{hij: -0.5, diag: 1, eshift: 0.25, tau: 2},
	}
	rng := NewStream(11, 0)
	for _, test := range tests {
		var guide OrbitalGuide[*flipper] = flipGuide{hij: test.hij}
		var hops int
		const trials = 2000
		for range trials {
			w := &flipper{diag: test.diag}
			wt, ham, ovlp, _ := PropagateContinuousTime(rng, guide, w, 1, test.tau, test.eshift, 0, nil)
			// The local energy does not depend on the state, so the weight is deterministic.
			expected := math.Exp(test.tau * (test.eshift - test.diag - test.hij))
			if math.Abs(wt-expected) > 1e-12*expected {
				t.Fatalf("%+v: %f, expected %f", test, wt, expected)
			}
			if ham != test.diag+test.hij || ovlp != 1 {
				t.Fatalf("%f %f", ham, ovlp)
			}
			hops += w.hops
		}
		mean := float64(hops) / trials
		rate := math.Abs(test.hij) * test.tau
		if math.Abs(mean-rate) > 5*math.Sqrt(rate/trials)+1e-12 {
			t.Fatalf("%+v: %f hops, expected %f", test, mean, rate)
		}
	}
}

func TestGenerateWalkers(t *testing.T) {
	t.Parallel()
	var guide OrbitalGuide[*flipper] = flipGuide{hij: -1}
	ms := make([]Member[*flipper], 5)
	ms[0] = Member[*flipper]{Walker: &flipper{}, Weight: 1}
	GenerateWalkers(NewStream(12, 0), guide, ms)
	for i, m := range ms {
		if m.Walker == nil || m.Weight != 1 {
			t.Fatalf("%d %+v", i, m)
		}
		// 30 hops separate consecutive samples.
		if m.Walker.hops != 30*i {
			t.Fatalf("%d %d", i, m.Walker.hops)
		}
	}
}
