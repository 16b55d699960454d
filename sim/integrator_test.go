package sim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func monomial(k int) RateFunc {
	return func(t float64) float64 { return math.Pow(t, float64(k)) }
}

func TestIntegrators_PolynomialExactness(t *testing.T) {
	tests := []struct {
		in        Integrator
		maxDegree int
	}{
		{RectangularIntegrator{}, 0},
		{MidpointIntegrator{}, 1},
		{SimpsonIntegrator{}, 3},
		{GaussIntegrator{}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.in.Name(), func(t *testing.T) {
			for k := 0; k <= tt.maxDegree; k++ {
				// integral of t^k over [1, 3]
				want := (math.Pow(3, float64(k+1)) - 1) / float64(k+1)
				got := tt.in.Integrate(monomial(k), 1, 3)
				assert.InDelta(t, want, got, 1e-9, "degree %d", k)
			}
			// one degree higher is no longer exact
			k := tt.maxDegree + 1
			want := (math.Pow(3, float64(k+1)) - 1) / float64(k+1)
			assert.Greater(t, math.Abs(tt.in.Integrate(monomial(k), 1, 3)-want), 1e-6, "degree %d", k)
		})
	}
}

func TestIntegrators_EmptyInterval(t *testing.T) {
	for _, name := range IntegratorNames() {
		in, err := IntegratorByName(name)
		require.NoError(t, err)
		assert.Equal(t, 0.0, in.Integrate(monomial(2), 4, 4), name)
	}
}

func TestIntegratorByName(t *testing.T) {
	in, err := IntegratorByName("")
	require.NoError(t, err)
	assert.Equal(t, "gauss", in.Name(), "empty name selects the default")

	in, err = IntegratorByName("simpson")
	require.NoError(t, err)
	assert.Equal(t, SimpsonIntegrator{}, in)

	_, err = IntegratorByName("euler")
	assert.Error(t, err)

	assert.Equal(t, []string{"gauss", "midpoint", "rectangular", "simpson"}, IntegratorNames())
}
