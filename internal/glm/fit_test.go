package glm

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFitGaussianMatchesOLS(t *testing.T) {
	x := []float64{0, 1, 2, 3}
	y := []float64{1, 3, 2, 5}

	res, err := Fit(x, y, Gaussian, DefaultOptions())
	require.NoError(t, err)
	require.True(t, res.Converged)

	assert.InDelta(t, 1.1, res.Params[0], 1e-9)
	assert.InDelta(t, 1.1, res.Params[1], 1e-9)
	assert.InDelta(t, 2.7, res.Deviance, 1e-9)
	assert.InDelta(t, 8.75, res.NullDeviance, 1e-9)
	assert.InDelta(t, 1.35, res.Scale, 1e-9)
	assert.InDelta(t, math.Sqrt(0.27), res.StdErrors[1], 1e-9)
	assert.InDelta(t, 1-2.7/8.75, res.PseudoR2(), 1e-9)
	assert.Equal(t, 4, res.NObs)
	assert.Equal(t, 2, res.DFResid)
}

func TestFitPoissonTwoGroups(t *testing.T) {
	x := []float64{0, 0, 1, 1}
	y := []float64{1, 3, 4, 6}

	res, err := Fit(x, y, Poisson, Options{Intercept: true, Tolerance: 1e-12})
	require.NoError(t, err)
	require.True(t, res.Converged)

	assert.InDelta(t, math.Log(2), res.Params[0], 1e-7)
	assert.InDelta(t, math.Log(2.5), res.Params[1], 1e-7)
	assert.InDelta(t, 0.5, res.StdErrors[0], 1e-6)
	assert.InDelta(t, math.Sqrt(0.35), res.StdErrors[1], 1e-6)
	assert.Equal(t, 1.0, res.Scale)

	wantDev := 2 * (math.Log(0.5) + 3*math.Log(1.5) + 4*math.Log(0.8) + 6*math.Log(1.2))
	assert.InDelta(t, wantDev, res.Deviance, 1e-7)

	pred := res.Predict([]float64{0, 1, math.NaN()})
	assert.InDelta(t, 2, pred[0], 1e-6)
	assert.InDelta(t, 5, pred[1], 1e-6)
	assert.True(t, math.IsNaN(pred[2]))
}

// A two-group design is saturated in the group means, so every family
// recovers them exactly through its own link.
func TestFitAllFamiliesRecoverGroupMeans(t *testing.T) {
	x := []float64{0, 0, 1, 1}
	y := []float64{0.2, 0.4, 0.6, 0.8}
	opts := Options{Intercept: true, MaxIter: 200, Tolerance: 1e-12}

	for _, f := range Families() {
		t.Run(f.Slug(), func(t *testing.T) {
			res, err := Fit(x, y, f, opts)
			require.NoError(t, err)
			require.True(t, res.Converged, "iterations=%d", res.Iterations)

			lk := f.link()
			assert.InDelta(t, lk.link(0.3), res.Params[0], 1e-5)
			assert.InDelta(t, lk.link(0.7)-lk.link(0.3), res.Params[1], 1e-4)

			pred := res.Predict([]float64{0, 1})
			assert.InDelta(t, 0.3, pred[0], 1e-6)
			assert.InDelta(t, 0.7, pred[1], 1e-6)
			assert.Less(t, res.Deviance, res.NullDeviance)
			assert.Greater(t, res.PseudoR2(), 0.0)
		})
	}
}

func TestFitWithoutIntercept(t *testing.T) {
	x := []float64{1, 2, 3, 4}
	y := []float64{2, 4, 6, 8}

	res, err := Fit(x, y, Gaussian, Options{})
	require.NoError(t, err)
	require.Len(t, res.Params, 1)
	assert.InDelta(t, 2, res.Params[0], 1e-9)
	assert.Equal(t, 3, res.DFResid)
}

func TestFitDropsMissingRows(t *testing.T) {
	nan := math.NaN()
	x := []float64{0, 1, nan, 2, 3, 4}
	y := []float64{1, 3, 7, 2, nan, 5}

	res, err := Fit(x, y, Gaussian, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 4, res.NObs)
}

func TestFitErrors(t *testing.T) {
	tests := []struct {
		name   string
		x, y   []float64
		family Family
		opts   Options
		want   error
	}{
		{"too few", []float64{1, 2}, []float64{1, 2}, Gaussian, DefaultOptions(), ErrTooFewRows},
		{"all missing", []float64{math.NaN(), 1, 2}, []float64{1, math.NaN(), math.NaN()}, Poisson, DefaultOptions(), ErrTooFewRows},
		{"gamma zero", []float64{1, 2, 3}, []float64{1, 0, 2}, Gamma, DefaultOptions(), ErrDomain},
		{"binomial above one", []float64{1, 2, 3}, []float64{0, 2, 1}, Binomial, DefaultOptions(), ErrDomain},
		{"poisson negative", []float64{1, 2, 3}, []float64{0, -1, 1}, Poisson, DefaultOptions(), ErrDomain},
		{"infinite predictor", []float64{1, math.Inf(1), 3}, []float64{0, 1, 1}, Poisson, DefaultOptions(), ErrDomain},
		{"zero predictor", []float64{0, 0, 0}, []float64{1, 2, 3}, Gaussian, Options{}, ErrSingular},
		{"unknown family", []float64{1, 2, 3}, []float64{1, 2, 3}, Family(99), DefaultOptions(), ErrUnknownFamily},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Fit(tt.x, tt.y, tt.family, tt.opts)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := Fit([]float64{1, 2}, []float64{1}, Gaussian, DefaultOptions())
	assert.ErrorContains(t, err, "2 values")
}

func TestFitPoissonRateOverTime(t *testing.T) {
	// a sparse rate vector like the ones built from spike trains
	n := 500
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = float64(i) * 0.02
		if i%20 == 0 {
			y[i] = 2 + x[i]
		}
	}

	res, err := Fit(x, y, Poisson, DefaultOptions())
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Greater(t, res.Params[1], 0.0, "rate grows with time")
	for _, v := range res.StdErrors {
		assert.False(t, math.IsNaN(v))
	}
}

func TestFitContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FitContext(ctx, []float64{0, 0, 1, 1}, []float64{1, 2, 4, 5}, Poisson, DefaultOptions())
	assert.ErrorIs(t, err, context.Canceled)
}
