// Package lattice implements the transverse field Ising model on a rectangular lattice with open boundaries,
//
//	H = -Σ_<ij> Z_i Z_j - h Σ_i X_i.
package lattice

import (
	"math"
	"strconv"

	"github.com/pkg/errors"

	"github.com/jokurian/VMC/mat"
	"github.com/jokurian/VMC/pmc"
)

var (
	identity = mat.COOIdentity(2)
)

// TransverseFieldIsing builds the Hamiltonian of an n[0] x n[1] lattice in hamiltonian, using buf as scratch space.
func TransverseFieldIsing(hamiltonian, buf *mat.COO, n [2]int, h float64) {
	numSpins := n[0] * n[1]
	hamiltonian.Zeros(1<<numSpins, 1<<numSpins)

	for y := 0; y < n[0]; y++ {
		for x := 0; x < n[1]; x++ {
			up := y - 1
			if up >= 0 {
				coupling(hamiltonian, n, [2]int{up, x}, [2]int{y, x}, buf)
			}

			left := x - 1
			if left >= 0 {
				coupling(hamiltonian, n, [2]int{y, left}, [2]int{y, x}, buf)
			}

			magnetic(hamiltonian, n, [2]int{y, x}, h, buf)
		}
	}
}

func coupling(hamiltonian *mat.COO, n [2]int, i [2]int, j [2]int, system *mat.COO) {
	system.Scalar(1)
	for y := 0; y < n[0]; y++ {
		for x := 0; x < n[1]; x++ {
			yx := [2]int{y, x}

			switch {
			case yx == i || yx == j:
				system.Kron(mat.M(mat.PauliZ))
			default:
				system.Kron(identity)
			}
		}
	}

	hamiltonian.Add(-1, system)
}

func magnetic(hamiltonian *mat.COO, n [2]int, i [2]int, h float64, system *mat.COO) {
	system.Scalar(1)
	for y := 0; y < n[0]; y++ {
		for x := 0; x < n[1]; x++ {
			yx := [2]int{y, x}
			switch {
			case yx == i:
				system.Kron(mat.M(mat.PauliX))
			default:
				system.Kron(identity)
			}
		}
	}

	hamiltonian.Add(-h, system)
}

type Statistics struct {
	Energy        float64
	Magnetization float64
}

// ExactGround diagonalizes the Hamiltonian of a small lattice,
// returning the ground state energy and its mean absolute magnetization per spin.
func ExactGround(n [2]int, h float64) (Statistics, error) {
	numSpins := n[0] * n[1]
	if numSpins > 12 {
		return Statistics{}, errors.Errorf("%d spins too many for exact diagonalization", numSpins)
	}
	hamiltonian, buf := mat.COOZeros(1, 1), mat.COOZeros(1, 1)
	TransverseFieldIsing(hamiltonian, buf, n, h)
	ground := hamiltonian.Eigen()[0]

	stats := Statistics{Energy: ground.Val}
	var totalProb float64
	for i, state := range bits(numSpins) {
		prob := ground.Vec[i] * ground.Vec[i]
		var m float64
		for _, b := range state {
			m += float64(2*int(b) - 1)
		}
		totalProb += prob
		stats.Magnetization += prob * math.Abs(m)
	}
	if math.Abs(totalProb-1) > 1e-3 {
		return Statistics{}, errors.Errorf("%f", totalProb)
	}
	stats.Magnetization /= float64(numSpins)
	return stats, nil
}

func indexBit(state []byte, n, i int) {
	stateStr := strconv.FormatInt(int64(i), 2)

	state = state[:0]
	// Pad zeros in front.
	for j := 0; j < n-len(stateStr); j++ {
		state = append(state, 0)
	}
	for _, bit := range []byte(stateStr) {
		state = append(state, bit-'0')
	}
}

// bits enumerates the basis states of n spins in the order of the Kronecker product basis.
// A 0 bit is spin up.
func bits(n int) func(yield func(int, []byte) bool) {
	state := make([]byte, n)
	return func(yield func(int, []byte) bool) {
		numStates := 1 << n
		for i := range numStates {
			indexBit(state, n, i)
			if !yield(i, state) {
				return
			}
		}
	}
}

func bitIndex(state []byte) int {
	idx := 0
	for i := len(state) - 1; i >= 0; i-- {
		if state[i] == 1 {
			idx += 1 << (len(state) - 1 - i)
		}
	}
	return idx
}

// Walker is a spin configuration, with spins of +1 or -1.
type Walker struct {
	Spins []int8
}

func (w *Walker) Clone() *Walker {
	return &Walker{Spins: append([]int8(nil), w.Spins...)}
}

// State returns the basis state of the walker, the index of its row in the Hamiltonian.
func (w *Walker) State() int {
	state := make([]byte, len(w.Spins))
	for i, s := range w.Spins {
		if s < 0 {
			state[i] = 1
		}
	}
	return bitIndex(state)
}

// Ising is the GFMC guide of the model, with the Jastrow trial wavefunction psi(s) = exp(J Σ_<ij> s_i s_j).
type Ising struct {
	N [2]int
	H float64
	J float64

	bonds     [][2]int
	neighbors [][]int
}

func NewIsing(n [2]int, h, j float64) (*Ising, error) {
	if n[0] <= 0 || n[1] <= 0 {
		return nil, errors.Errorf("lattice %v", n)
	}
	m := &Ising{N: n, H: h, J: j, neighbors: make([][]int, n[0]*n[1])}
	for y := 0; y < n[0]; y++ {
		for x := 0; x < n[1]; x++ {
			site := y*n[1] + x
			if y > 0 {
				m.bond(site-n[1], site)
			}
			if x > 0 {
				m.bond(site-1, site)
			}
		}
	}
	return m, nil
}

func (m *Ising) bond(a, b int) {
	m.bonds = append(m.bonds, [2]int{a, b})
	m.neighbors[a] = append(m.neighbors[a], b)
	m.neighbors[b] = append(m.neighbors[b], a)
}

// NewWalker returns the all up configuration.
func (m *Ising) NewWalker() *Walker {
	w := &Walker{Spins: make([]int8, m.N[0]*m.N[1])}
	for i := range w.Spins {
		w.Spins[i] = 1
	}
	return w
}

func (m *Ising) bondSum(w *Walker) float64 {
	var sum float64
	for _, b := range m.bonds {
		sum += float64(w.Spins[b[0]] * w.Spins[b[1]])
	}
	return sum
}

func (m *Ising) DiagonalEnergy(w *Walker) float64 {
	return -m.bondSum(w)
}

func (m *Ising) HamAndOvlp(w *Walker, exc []pmc.Excitation) (float64, float64, []pmc.Excitation) {
	ham := m.DiagonalEnergy(w)
	for k, s := range w.Spins {
		var field float64
		for _, nb := range m.neighbors[k] {
			field += float64(s * w.Spins[nb])
		}
		e := pmc.Excitation{Hij: -m.H, OvlpRatio: math.Exp(-2 * m.J * field), Move: k}
		ham += e.Hij * e.OvlpRatio
		exc = append(exc, e)
	}
	return ham, math.Exp(m.J * m.bondSum(w)), exc
}

func (m *Ising) Move(w *Walker, e pmc.Excitation) {
	w.Spins[e.Move] = -w.Spins[e.Move]
}
