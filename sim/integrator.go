package sim

import (
	"fmt"
	"math"
	"sort"
)

// RateFunc is a time-dependent transfer rate.
type RateFunc func(t float64) float64

// Integrator evaluates the integral of a rate over [from, to].
// Implementations are stateless; a Link owns one instance.
type Integrator interface {
	Name() string
	Integrate(rate RateFunc, from, to float64) float64
}

// RectangularIntegrator uses the left endpoint only. Cheapest, first order.
type RectangularIntegrator struct{}

func (RectangularIntegrator) Name() string { return "rectangular" }

func (RectangularIntegrator) Integrate(rate RateFunc, from, to float64) float64 {
	return rate(from) * (to - from)
}

// MidpointIntegrator averages the two endpoints (trapezoidal rule).
type MidpointIntegrator struct{}

func (MidpointIntegrator) Name() string { return "midpoint" }

func (MidpointIntegrator) Integrate(rate RateFunc, from, to float64) float64 {
	return 0.5 * (rate(from) + rate(to)) * (to - from)
}

// SimpsonIntegrator applies Simpson's 1/3 rule on three points.
type SimpsonIntegrator struct{}

func (SimpsonIntegrator) Name() string { return "simpson" }

func (SimpsonIntegrator) Integrate(rate RateFunc, from, to float64) float64 {
	mid := 0.5 * (from + to)
	return (to - from) / 6.0 * (rate(from) + 4.0*rate(mid) + rate(to))
}

// gaussNode is the outer Gauss-Legendre abscissa, sqrt(3/5).
var gaussNode = math.Sqrt(0.6)

// GaussIntegrator is 3-point Gauss-Legendre quadrature, exact for
// polynomials up to degree five. It is the default integrator.
type GaussIntegrator struct{}

func (GaussIntegrator) Name() string { return "gauss" }

func (GaussIntegrator) Integrate(rate RateFunc, from, to float64) float64 {
	half := 0.5 * (to - from)
	mid := 0.5 * (to + from)
	sum := 5.0/9.0*rate(mid-half*gaussNode) +
		8.0/9.0*rate(mid) +
		5.0/9.0*rate(mid+half*gaussNode)
	return half * sum
}

// DefaultIntegrator returns the integrator links use unless configured otherwise.
func DefaultIntegrator() Integrator { return GaussIntegrator{} }

var integrators = map[string]Integrator{
	"rectangular": RectangularIntegrator{},
	"midpoint":    MidpointIntegrator{},
	"simpson":     SimpsonIntegrator{},
	"gauss":       GaussIntegrator{},
}

// IntegratorByName resolves an integrator name. An empty name selects the default.
func IntegratorByName(name string) (Integrator, error) {
	if name == "" {
		return DefaultIntegrator(), nil
	}
	if in, ok := integrators[name]; ok {
		return in, nil
	}
	return nil, fmt.Errorf("unknown integrator %q; valid: %v", name, IntegratorNames())
}

// IntegratorNames lists the registered integrator names in sorted order.
func IntegratorNames() []string {
	names := make([]string, 0, len(integrators))
	for name := range integrators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
