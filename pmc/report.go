package pmc

import (
	"fmt"
	"io"
	"time"
)

// WriteGenerationHeader writes the column names of the per generation table shared by the orbital space estimators.
func WriteGenerationHeader(w io.Writer) {
	fmt.Fprintf(w, "%8s %14s  %14s  %14s  %10s  %8s   %14s   %8s\n", "iter", "Ecurrent", "Eexp", "Eavg", "walkers", "pop", "Egr", "time")
}

func WriteGenerationLine(w io.Writer, iter int, ecur, eexp, eavg float64, walkers int, pop, egr float64, elapsed time.Duration) {
	fmt.Fprintf(w, "%8d %14.8f  %14.8f  %14.8f  %10d  %8.2f   %14.8f   %8.2f\n", iter, ecur, eexp, eavg, walkers, pop, egr, elapsed.Seconds())
}

func writeDMCHeader(w io.Writer) {
	fmt.Fprintf(w, "%8s %14s %10s %8s %14s %14s %8s %10s %8s %14s %8s\n", "iter", "Ebar", "error", "tcorr", "Eexp", "Eavg", "accept", "walkers", "pop", "Eshift", "time")
}

func writeDMCLine(w io.Writer, iter int, ebar, stderr, tcorr, eexp, eavg, accept float64, walkers int, pop, eshift float64, elapsed time.Duration) {
	fmt.Fprintf(w, "%8d %14.8f (%8.2e) %8.1f %14.8f %14.8f %8.3f %10d %8.2f %14.8f %8.2f\n", iter, ebar, stderr, tcorr, eexp, eavg, accept, walkers, pop, eshift, elapsed.Seconds())
}

// writeTrace writes a line of the per iteration DMC trace.
func writeTrace(w io.Writer, step int, t, e, variance float64, walkers int, pop float64) {
	fmt.Fprintf(w, "%d %.5f %.5f %.5f %d %.5f\n", step, t, e, variance, walkers, pop)
}
