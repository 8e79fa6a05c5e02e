package glm

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var (
	ErrTooFewRows = errors.New("glm: too few observations")
	ErrDomain     = errors.New("glm: response outside family domain")
	ErrSingular   = errors.New("glm: singular design matrix")
	ErrNonFinite  = errors.New("glm: fit produced non-finite values")
)

// maxHalvings bounds the step halving applied when an IRLS update leaves
// the family's mean space.
const maxHalvings = 30

// Options control a fit.
type Options struct {
	// Intercept adds a constant column ahead of the predictor.
	Intercept bool
	MaxIter   int
	// Tolerance is the relative deviance change that ends the iteration.
	Tolerance float64
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{Intercept: true, MaxIter: 100, Tolerance: 1e-8}
}

// Result is a fitted model. With an intercept Params[0] is the constant
// and Params[1] the slope; otherwise Params holds the slope only.
type Result struct {
	Family       Family    `json:"family"`
	Intercept    bool      `json:"intercept"`
	Params       []float64 `json:"params"`
	StdErrors    []float64 `json:"std_errors"`
	Deviance     float64   `json:"deviance"`
	NullDeviance float64   `json:"null_deviance"`
	PearsonChi2  float64   `json:"pearson_chi2"`
	Scale        float64   `json:"scale"`
	Iterations   int       `json:"iterations"`
	Converged    bool      `json:"converged"`
	NObs         int       `json:"n_obs"`
	DFResid      int       `json:"df_resid"`
}

// Predict returns the fitted mean at each x. NaN inputs give NaN.
func (r *Result) Predict(x []float64) []float64 {
	lk := r.Family.link()
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = lk.inverse(r.linear(v))
	}
	return out
}

func (r *Result) linear(x float64) float64 {
	if r.Intercept {
		return r.Params[0] + r.Params[1]*x
	}
	return r.Params[0] * x
}

// PseudoR2 is the fraction of null deviance explained by the predictor.
func (r *Result) PseudoR2() float64 {
	if r.NullDeviance == 0 {
		return 0
	}
	return 1 - r.Deviance/r.NullDeviance
}

// Fit regresses y on x under the given family and its default link. Rows
// where either value is NaN are dropped.
func Fit(x, y []float64, family Family, opts Options) (*Result, error) {
	return FitContext(context.Background(), x, y, family, opts)
}

// FitContext is Fit with cancellation checked before every IRLS iteration.
func FitContext(ctx context.Context, x, y []float64, family Family, opts Options) (*Result, error) {
	if !family.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFamily, int(family))
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("glm: predictor has %d values, response has %d", len(x), len(y))
	}
	def := DefaultOptions()
	if opts.MaxIter <= 0 {
		opts.MaxIter = def.MaxIter
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = def.Tolerance
	}

	xs, ys := dropMissing(x, y)
	p := 1
	if opts.Intercept {
		p = 2
	}
	n := len(ys)
	if n <= p {
		return nil, fmt.Errorf("%w: %d usable rows for %d parameters", ErrTooFewRows, n, p)
	}
	for i := range ys {
		if err := family.checkResponse(ys[i]); err != nil {
			return nil, err
		}
		if math.IsInf(xs[i], 0) {
			return nil, fmt.Errorf("%w: predictor is infinite", ErrDomain)
		}
	}

	design := mat.NewDense(n, p, nil)
	for i, v := range xs {
		if opts.Intercept {
			design.Set(i, 0, 1)
		}
		design.Set(i, p-1, v)
	}

	lk := family.link()
	ybar := stat.Mean(ys, nil)
	mu := make([]float64, n)
	eta := make([]float64, n)
	for i, v := range ys {
		mu[i] = family.startMean(v, ybar)
		eta[i] = lk.link(mu[i])
	}
	dev := deviance(family, ys, mu)

	res := &Result{
		Family:    family,
		Intercept: opts.Intercept,
		NObs:      n,
		DFResid:   n - p,
	}

	var beta *mat.VecDense
	for res.Iterations < opts.MaxIter {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res.Iterations++
		next, _, err := weightedStep(design, ys, mu, eta, family, lk)
		if err != nil {
			return nil, err
		}
		nmu, neta, ndev, ok := evaluate(design, next, family, lk, ys)
		for h := 0; !ok && beta != nil && h < maxHalvings; h++ {
			next.AddVec(next, beta)
			next.ScaleVec(0.5, next)
			nmu, neta, ndev, ok = evaluate(design, next, family, lk, ys)
		}
		if !ok {
			return nil, fmt.Errorf("%w at iteration %d", ErrNonFinite, res.Iterations)
		}

		beta, mu, eta = next, nmu, neta
		change := math.Abs(ndev-dev) / (math.Abs(ndev) + 0.1)
		dev = ndev
		if change < opts.Tolerance {
			res.Converged = true
			break
		}
	}

	_, chol, err := weightedStep(design, ys, mu, eta, family, lk)
	if err != nil {
		return nil, err
	}
	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}

	for i, v := range ys {
		r := v - mu[i]
		res.PearsonChi2 += r * r / family.variance(mu[i])
	}
	res.Scale = 1
	if !family.fixedScale() {
		res.Scale = res.PearsonChi2 / float64(res.DFResid)
	}

	res.Params = make([]float64, p)
	res.StdErrors = make([]float64, p)
	for j := 0; j < p; j++ {
		res.Params[j] = beta.AtVec(j)
		res.StdErrors[j] = math.Sqrt(res.Scale * cov.At(j, j))
	}
	res.Deviance = dev
	res.NullDeviance = nullDeviance(family, ys, ybar)
	return res, nil
}

// weightedStep solves one IRLS weighted least squares problem at the
// current mean, returning the new coefficients and the factorised
// information matrix.
func weightedStep(design *mat.Dense, y, mu, eta []float64, f Family, lk link) (*mat.VecDense, *mat.Cholesky, error) {
	n, p := design.Dims()
	xw := mat.NewDense(n, p, nil)
	zw := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		d := lk.deriv(mu[i])
		w := 1 / (d * d * f.variance(mu[i]))
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, nil, fmt.Errorf("%w: weight at row %d", ErrNonFinite, i)
		}
		sw := math.Sqrt(w)
		for j := 0; j < p; j++ {
			xw.Set(i, j, sw*design.At(i, j))
		}
		zw.SetVec(i, sw*(eta[i]+(y[i]-mu[i])*d))
	}

	var info mat.SymDense
	info.SymOuterK(1, xw.T())
	var chol mat.Cholesky
	if ok := chol.Factorize(&info); !ok || chol.Cond() > mat.ConditionTolerance {
		return nil, nil, ErrSingular
	}

	var rhs mat.VecDense
	rhs.MulVec(xw.T(), zw)
	beta := mat.NewVecDense(p, nil)
	if err := chol.SolveVecTo(beta, &rhs); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	return beta, &chol, nil
}

// evaluate computes the mean, linear predictor and deviance at beta. ok is
// false when any mean leaves the family's mean space.
func evaluate(design *mat.Dense, beta *mat.VecDense, f Family, lk link, y []float64) (mu, eta []float64, dev float64, ok bool) {
	var ev mat.VecDense
	ev.MulVec(design, beta)
	n := ev.Len()
	mu = make([]float64, n)
	eta = make([]float64, n)
	for i := 0; i < n; i++ {
		eta[i] = ev.AtVec(i)
		mu[i] = lk.inverse(eta[i])
		if !f.validMean(mu[i]) {
			return nil, nil, 0, false
		}
	}
	dev = deviance(f, y, mu)
	if math.IsNaN(dev) || math.IsInf(dev, 0) {
		return nil, nil, 0, false
	}
	return mu, eta, dev, true
}

func deviance(f Family, y, mu []float64) float64 {
	var d float64
	for i := range y {
		d += f.unitDeviance(y[i], mu[i])
	}
	return d
}

// nullDeviance is the deviance of the constant-mean model.
func nullDeviance(f Family, y []float64, ybar float64) float64 {
	var d float64
	for _, v := range y {
		d += f.unitDeviance(v, ybar)
	}
	return d
}

func dropMissing(x, y []float64) (xs, ys []float64) {
	xs = make([]float64, 0, len(x))
	ys = make([]float64, 0, len(y))
	for i := range x {
		if math.IsNaN(x[i]) || math.IsNaN(y[i]) {
			continue
		}
		xs = append(xs, x[i])
		ys = append(ys, y[i])
	}
	return xs, ys
}
