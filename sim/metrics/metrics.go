// Package metrics provides engine activity metrics.
// It wraps Prometheus collectors on a private registry so several
// simulations can run in one process without colliding.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/SmartCGMS/core-sub004/sim/event"
)

// Collector records steps, dosages, rejected events and graph size.
// It satisfies gct.Observer.
type Collector struct {
	registry *prometheus.Registry

	steps        prometheus.Counter
	microSteps   prometheus.Counter
	dosages      *prometheus.CounterVec
	dosedAmount  *prometheus.CounterVec
	rejected     *prometheus.CounterVec
	prunedDepots prometheus.Counter
	liveDepots   prometheus.Gauge
	liveLinks    prometheus.Gauge
}

// NewCollector creates a collector registering under namespace.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "gctsim"
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.steps = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "steps_total",
		Help:      "Number of external Step calls that advanced time",
	})
	c.microSteps = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "micro_steps_total",
		Help:      "Number of step/commit cycles executed",
	})
	c.dosages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dosing",
		Name:      "dosages_total",
		Help:      "Number of dosages materialized as absorption chains, by signal",
	}, []string{"signal"})
	c.dosedAmount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dosing",
		Name:      "amount_total",
		Help:      "Total dosed amount by signal (U for insulin, g for carbohydrates)",
	}, []string{"signal"})
	c.rejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "rejected_total",
		Help:      "Inbound events rejected as illegal state changes, by signal",
	}, []string{"signal"})
	c.prunedDepots = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "graph",
		Name:      "pruned_depots_total",
		Help:      "Transient depots removed after expiring empty",
	})
	c.liveDepots = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "graph",
		Name:      "depots",
		Help:      "Live depots in the network",
	})
	c.liveLinks = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "graph",
		Name:      "links",
		Help:      "Live links in the network",
	})

	c.registry.MustRegister(
		c.steps, c.microSteps, c.dosages, c.dosedAmount, c.rejected,
		c.prunedDepots, c.liveDepots, c.liveLinks,
	)
	return c
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// ObserveStep records one Step divided into microSteps cycles.
func (c *Collector) ObserveStep(microSteps int) {
	c.steps.Inc()
	c.microSteps.Add(float64(microSteps))
}

// ObserveDosage records one dosage of amount for signal.
func (c *Collector) ObserveDosage(signal event.Signal, amount float64) {
	c.dosages.WithLabelValues(string(signal)).Inc()
	if amount > 0 {
		c.dosedAmount.WithLabelValues(string(signal)).Add(amount)
	}
}

// ObserveRejected records a rejected inbound event.
func (c *Collector) ObserveRejected(signal event.Signal) {
	c.rejected.WithLabelValues(string(signal)).Inc()
}

// ObserveNetwork records the graph size after a step.
func (c *Collector) ObserveNetwork(depots, links, pruned int) {
	c.liveDepots.Set(float64(depots))
	c.liveLinks.Set(float64(links))
	if pruned > 0 {
		c.prunedDepots.Add(float64(pruned))
	}
}

// Snapshot returns the current value of every sample keyed by metric name
// and label values, e.g. "gctsim_dosing_dosages_total{signal=bolus_request}".
func (c *Collector) Snapshot() (map[string]float64, error) {
	families, err := c.registry.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			if labels := m.GetLabel(); len(labels) > 0 {
				key += "{"
				for i, lp := range labels {
					if i > 0 {
						key += ","
					}
					key += lp.GetName() + "=" + lp.GetValue()
				}
				key += "}"
			}
			switch {
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[key] = m.GetGauge().GetValue()
			}
		}
	}
	return out, nil
}
