// Package comm implements the collective operations between ranks of a simulation.
// A rank is a goroutine owning a disjoint part of the walker ensemble.
package comm

import (
	"context"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

type Communicator interface {
	Rank() int
	Size() int
	// AllReduceSum replaces v on every rank with the elementwise sum over ranks.
	AllReduceSum(ctx context.Context, v []float64) error
	// AllReduceMax replaces v on every rank with the elementwise maximum over ranks.
	AllReduceMax(ctx context.Context, v []float64) error
	Barrier(ctx context.Context) error
}

// Serial is the communicator of a single rank.
type Serial struct{}

func (Serial) Rank() int                                           { return 0 }
func (Serial) Size() int                                           { return 1 }
func (Serial) AllReduceSum(ctx context.Context, v []float64) error { return ctx.Err() }
func (Serial) AllReduceMax(ctx context.Context, v []float64) error { return ctx.Err() }
func (Serial) Barrier(ctx context.Context) error                   { return ctx.Err() }

type op int

const (
	opSum op = iota
	opMax
)

type round struct {
	op op
	n  int
	// vals holds the contribution of every rank, combined in rank order once all have arrived.
	vals [][]float64
	acc  []float64
	err  error
	done chan struct{}
}

// Group is a set of in-process ranks.
// Every rank must issue the same sequence of collective calls.
type Group struct {
	size int

	mu    sync.Mutex
	round *round
}

func NewGroup(size int) *Group {
	return &Group{size: size, round: &round{done: make(chan struct{})}}
}

// Rank returns the communicator of rank r.
func (g *Group) Rank(r int) Communicator {
	return &member{g: g, rank: r}
}

func (g *Group) reduce(ctx context.Context, rank int, o op, v []float64) error {
	g.mu.Lock()
	r := g.round
	switch {
	case r.n == 0:
		r.op = o
		r.vals = make([][]float64, g.size)
		r.vals[rank] = slices.Clone(v)
	case r.op != o || len(r.vals[firstRank(r.vals)]) != len(v):
		first := r.vals[firstRank(r.vals)]
		r.err = errors.Errorf("mismatched collective: op %d len %d, others op %d len %d", o, len(v), r.op, len(first))
		r.vals[rank] = slices.Clone(first)
	default:
		r.vals[rank] = slices.Clone(v)
	}
	r.n++
	if r.n == g.size {
		r.acc = combine(r.op, r.vals)
		g.round = &round{done: make(chan struct{})}
		close(r.done)
	}
	g.mu.Unlock()

	select {
	case <-r.done:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "")
	}
	if r.err != nil {
		return r.err
	}
	copy(v, r.acc)
	return nil
}

func firstRank(vals [][]float64) int {
	for i, v := range vals {
		if v != nil {
			return i
		}
	}
	return 0
}

func combine(o op, vals [][]float64) []float64 {
	acc := slices.Clone(vals[0])
	for _, v := range vals[1:] {
		for i, x := range v {
			switch o {
			case opSum:
				acc[i] += x
			case opMax:
				acc[i] = max(acc[i], x)
			}
		}
	}
	return acc
}

type member struct {
	g    *Group
	rank int
}

func (m *member) Rank() int { return m.rank }
func (m *member) Size() int { return m.g.size }

func (m *member) AllReduceSum(ctx context.Context, v []float64) error {
	return m.g.reduce(ctx, m.rank, opSum, v)
}

func (m *member) AllReduceMax(ctx context.Context, v []float64) error {
	return m.g.reduce(ctx, m.rank, opMax, v)
}

func (m *member) Barrier(ctx context.Context) error {
	return m.g.reduce(ctx, m.rank, opSum, nil)
}

// Run executes fn on size ranks concurrently and returns the first error.
// A failing rank cancels the context seen by the others.
func Run(ctx context.Context, size int, fn func(ctx context.Context, c Communicator) error) error {
	if size <= 1 {
		return fn(ctx, Serial{})
	}

	g := NewGroup(size)
	eg, ctx := errgroup.WithContext(ctx)
	for r := range size {
		eg.Go(func() error {
			return fn(ctx, g.Rank(r))
		})
	}
	return eg.Wait()
}
