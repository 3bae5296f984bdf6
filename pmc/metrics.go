package pmc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports the state of the estimator loops. A nil *Metrics records nothing.
type Metrics struct {
	population *prometheus.GaugeVec
	eshift     *prometheus.GaugeVec
	energy     *prometheus.GaugeVec
	walkers    *prometheus.GaugeVec
	killed     *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		population: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dqmc_population",
			Help: "Total walker weight across ranks.",
		}, []string{"method"}),
		eshift: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dqmc_energy_shift",
			Help: "Population control energy shift.",
		}, []string{"method"}),
		energy: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dqmc_energy",
			Help: "Energy of the latest generation.",
		}, []string{"method"}),
		walkers: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dqmc_walkers",
			Help: "Largest number of walkers on a rank.",
		}, []string{"method"}),
		killed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dqmc_killed_walkers_total",
			Help: "Walkers whose weight was set to zero by the phaseless constraint.",
		}, []string{"method"}),
	}
}

func (m *Metrics) ObservePopulation(method string, pop, eshift float64, walkers int) {
	if m == nil {
		return
	}
	m.population.WithLabelValues(method).Set(pop)
	m.eshift.WithLabelValues(method).Set(eshift)
	m.walkers.WithLabelValues(method).Set(float64(walkers))
}

func (m *Metrics) ObserveEnergy(method string, e float64) {
	if m == nil {
		return
	}
	m.energy.WithLabelValues(method).Set(e)
}

func (m *Metrics) Killed(method string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.killed.WithLabelValues(method).Add(float64(n))
}
