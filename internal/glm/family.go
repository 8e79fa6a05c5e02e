// Package glm fits single-predictor generalized linear models by
// iteratively reweighted least squares.
package glm

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Family is an exponential-family response distribution paired with its
// default link.
type Family int

const (
	Poisson Family = iota
	Binomial
	NegativeBinomial
	Gamma
	Gaussian
	InverseGaussian
	Tweedie
)

var familyNames = [...]string{
	Poisson:          "Poisson",
	Binomial:         "Binomial",
	NegativeBinomial: "Negative Binomial",
	Gamma:            "Gamma",
	Gaussian:         "Gaussian",
	InverseGaussian:  "Inverse Gaussian",
	Tweedie:          "Tweedie",
}

// ErrUnknownFamily is returned by ParseFamily for names it does not know.
var ErrUnknownFamily = errors.New("glm: unknown family")

// Families lists every family in display order.
func Families() []Family {
	fs := make([]Family, len(familyNames))
	for i := range fs {
		fs[i] = Family(i)
	}
	return fs
}

func (f Family) valid() bool { return f >= 0 && int(f) < len(familyNames) }

func (f Family) String() string {
	if !f.valid() {
		return fmt.Sprintf("Family(%d)", int(f))
	}
	return familyNames[f]
}

// Slug is the lower-case, hyphenated name used on the command line and in
// file names.
func (f Family) Slug() string {
	return strings.ReplaceAll(strings.ToLower(f.String()), " ", "-")
}

// ParseFamily accepts a display name ("Negative Binomial") or a slug
// ("negative-binomial"), ignoring case.
func ParseFamily(name string) (Family, error) {
	norm := strings.ToLower(strings.TrimSpace(name))
	norm = strings.NewReplacer("_", "-", " ", "-").Replace(norm)
	for _, f := range Families() {
		if f.Slug() == norm {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFamily, name)
}

func (f Family) MarshalText() ([]byte, error) {
	if !f.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFamily, int(f))
	}
	return []byte(f.String()), nil
}

func (f *Family) UnmarshalText(b []byte) error {
	v, err := ParseFamily(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// negBinAlpha is the negative binomial ancillary parameter.
const negBinAlpha = 1.0

// tweediePower is the Tweedie variance power.
const tweediePower = 1.0

// link maps the mean onto the linear predictor.
type link interface {
	link(mu float64) float64
	inverse(eta float64) float64
	// deriv is d eta / d mu.
	deriv(mu float64) float64
}

type logLink struct{}

func (logLink) link(mu float64) float64     { return math.Log(mu) }
func (logLink) inverse(eta float64) float64 { return math.Exp(eta) }
func (logLink) deriv(mu float64) float64    { return 1 / mu }

type logitLink struct{}

func (logitLink) link(mu float64) float64     { return math.Log(mu / (1 - mu)) }
func (logitLink) inverse(eta float64) float64 { return 1 / (1 + math.Exp(-eta)) }
func (logitLink) deriv(mu float64) float64    { return 1 / (mu * (1 - mu)) }

type identityLink struct{}

func (identityLink) link(mu float64) float64     { return mu }
func (identityLink) inverse(eta float64) float64 { return eta }
func (identityLink) deriv(float64) float64       { return 1 }

// inverseLink is the inverse power link 1/mu.
type inverseLink struct{}

func (inverseLink) link(mu float64) float64     { return 1 / mu }
func (inverseLink) inverse(eta float64) float64 { return 1 / eta }
func (inverseLink) deriv(mu float64) float64    { return -1 / (mu * mu) }

// inverseSquaredLink is 1/mu^2.
type inverseSquaredLink struct{}

func (inverseSquaredLink) link(mu float64) float64     { return 1 / (mu * mu) }
func (inverseSquaredLink) inverse(eta float64) float64 { return 1 / math.Sqrt(eta) }
func (inverseSquaredLink) deriv(mu float64) float64    { return -2 / (mu * mu * mu) }

func (f Family) link() link {
	switch f {
	case Binomial:
		return logitLink{}
	case Gamma:
		return inverseLink{}
	case Gaussian:
		return identityLink{}
	case InverseGaussian:
		return inverseSquaredLink{}
	default:
		return logLink{}
	}
}

// LinkName names the family's default link.
func (f Family) LinkName() string {
	switch f.link().(type) {
	case logitLink:
		return "logit"
	case identityLink:
		return "identity"
	case inverseLink:
		return "inverse"
	case inverseSquaredLink:
		return "inverse squared"
	default:
		return "log"
	}
}

// variance is the variance function V(mu).
func (f Family) variance(mu float64) float64 {
	switch f {
	case Binomial:
		return mu * (1 - mu)
	case NegativeBinomial:
		return mu + negBinAlpha*mu*mu
	case Gamma:
		return mu * mu
	case Gaussian:
		return 1
	case InverseGaussian:
		return mu * mu * mu
	case Tweedie:
		return math.Pow(mu, tweediePower)
	default:
		return mu
	}
}

// validMean reports whether mu lies inside the family's mean space.
func (f Family) validMean(mu float64) bool {
	if math.IsNaN(mu) || math.IsInf(mu, 0) {
		return false
	}
	switch f {
	case Binomial:
		return mu > 0 && mu < 1
	case Gaussian:
		return true
	default:
		return mu > 0
	}
}

// checkResponse validates one response value against the family's support.
func (f Family) checkResponse(y float64) error {
	if math.IsInf(y, 0) {
		return fmt.Errorf("%w: response is infinite", ErrDomain)
	}
	switch f {
	case Binomial:
		if y < 0 || y > 1 {
			return fmt.Errorf("%w: %s response must be in [0, 1], got %g", ErrDomain, f, y)
		}
	case Gamma, InverseGaussian:
		if y <= 0 {
			return fmt.Errorf("%w: %s response must be positive, got %g", ErrDomain, f, y)
		}
	case Poisson, NegativeBinomial, Tweedie:
		if y < 0 {
			return fmt.Errorf("%w: %s response must be non-negative, got %g", ErrDomain, f, y)
		}
	}
	return nil
}

// xlogy is x*log(y) with 0*log(0) = 0.
func xlogy(x, y float64) float64 {
	if x == 0 {
		return 0
	}
	return x * math.Log(y)
}

// unitDeviance is the deviance contribution of one observation.
func (f Family) unitDeviance(y, mu float64) float64 {
	switch f {
	case Binomial:
		return 2 * (xlogy(y, y/mu) + xlogy(1-y, (1-y)/(1-mu)))
	case NegativeBinomial:
		a := negBinAlpha
		return 2 * (xlogy(y, y/mu) - (y+1/a)*math.Log((1+a*y)/(1+a*mu)))
	case Gamma:
		return 2 * (-math.Log(y/mu) + (y-mu)/mu)
	case Gaussian:
		return (y - mu) * (y - mu)
	case InverseGaussian:
		return (y - mu) * (y - mu) / (y * mu * mu)
	case Tweedie:
		return tweedieDeviance(y, mu, tweediePower)
	default:
		return 2 * (xlogy(y, y/mu) - (y - mu))
	}
}

func tweedieDeviance(y, mu, p float64) float64 {
	switch p {
	case 1:
		return Poisson.unitDeviance(y, mu)
	case 2:
		return Gamma.unitDeviance(y, mu)
	}
	d := math.Pow(y, 2-p) / ((1 - p) * (2 - p))
	d -= y * math.Pow(mu, 1-p) / (1 - p)
	d += math.Pow(mu, 2-p) / (2 - p)
	return 2 * d
}

// fixedScale reports whether the dispersion is fixed at 1.
func (f Family) fixedScale() bool {
	switch f {
	case Poisson, Binomial, NegativeBinomial:
		return true
	}
	return false
}

// startMean is the IRLS starting mean for one observation.
func (f Family) startMean(y, ybar float64) float64 {
	if f == Binomial {
		return (y + 0.5) / 2
	}
	mu := (y + ybar) / 2
	if f != Gaussian && mu <= 0 {
		mu = 1e-3
	}
	return mu
}
