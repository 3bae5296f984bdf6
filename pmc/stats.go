package pmc

import (
	"gonum.org/v1/gonum/stat"
)

// Statistics accumulates a time series of estimates and measures its autocorrelation by blocking.
type Statistics struct {
	data []float64
}

func (s *Statistics) Push(v float64) { s.data = append(s.data, v) }
func (s *Statistics) Len() int       { return len(s.data) }
func (s *Statistics) Reset()         { s.data = s.data[:0] }

func (s *Statistics) Average() float64 {
	if len(s.data) == 0 {
		return 0
	}
	return stat.Mean(s.data, nil)
}

// CorrTime returns the autocorrelation time estimated by repeatedly averaging neighbouring pairs,
// as the largest ratio of the blocked to the naive variance of the mean.
// Levels with fewer than 16 blocks are ignored.
func (s *Statistics) CorrTime() float64 {
	n := len(s.data)
	if n < 2 {
		return 1
	}
	naive := stat.Variance(s.data, nil) / float64(n)
	if naive == 0 {
		return 1
	}

	corr := 1.0
	blocks := append([]float64(nil), s.data...)
	for len(blocks) >= 32 {
		half := len(blocks) / 2
		for i := 0; i < half; i++ {
			blocks[i] = (blocks[2*i] + blocks[2*i+1]) / 2
		}
		blocks = blocks[:half]
		v := stat.Variance(blocks, nil) / float64(len(blocks))
		corr = max(corr, v/naive)
	}
	return corr
}

// Neff is the number of statistically independent samples.
func (s *Statistics) Neff() float64 {
	return float64(len(s.data)) / s.CorrTime()
}

// Generation accumulates per generation energies into an exponentially decaying average,
// and a plain average that starts at the fourth generation.
type Generation struct {
	// Blend is the weight of the previous exponential average.
	Blend float64

	n   int
	exp float64
	avg float64
}

func (g *Generation) Add(e float64) {
	g.n++
	switch {
	case g.n == 1:
		g.exp = e
	default:
		g.exp = g.Blend*g.exp + (1-g.Blend)*e
	}

	switch {
	case g.n == 4:
		g.avg = e
	case g.n > 4:
		g.avg = (float64(g.n-4)*g.avg + e) / float64(g.n-3)
	default:
		g.avg = g.exp
	}
}

func (g *Generation) Count() int       { return g.n }
func (g *Generation) Exp() float64     { return g.exp }
func (g *Generation) Average() float64 { return g.avg }
