package analysis

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/cellglm/internal/glm"
	"github.com/banshee-data/cellglm/internal/spikes"
	"github.com/banshee-data/cellglm/internal/units"
)

var (
	ErrNoSuchCell = errors.New("analysis: cell not available")
	ErrNoSpikes   = errors.New("analysis: cell has no spikes")
)

// Request selects what to fit on a loaded session.
type Request struct {
	Cell   int        `json:"cell"`
	Family glm.Family `json:"family"`
	Graph  GraphType  `json:"graph"`
}

// Output is a fitted model and the data it was fitted to, ready to plot.
type Output struct {
	Request    Request     `json:"request"`
	Session    string      `json:"session"`
	Tetrode    int         `json:"tetrode"`
	X          []float64   `json:"x"`
	Y          []float64   `json:"y"`
	Prediction []float64   `json:"prediction"`
	Fit        *glm.Result `json:"fit"`
	XLabel     string      `json:"x_label"`
	YLabel     string      `json:"y_label"`
}

// Title describes the plot.
func (o *Output) Title() string {
	return fmt.Sprintf("%s T%d cell %d: %s GLM", o.Session, o.Tetrode, o.Request.Cell, o.Request.Family)
}

// Compute builds the firing rate of the requested cell on the position
// clock, picks the predictor for the graph type and fits the model.
// progress, when non-nil, receives 25, 50, 75 and 100 as the stages
// complete.
func Compute(ctx context.Context, s *Session, req Request, progress func(int)) (*Output, error) {
	report := func(p int) {
		if progress != nil {
			progress(p)
		}
	}

	neuron, ok := s.Units.Cell(req.Cell)
	if !ok {
		return nil, fmt.Errorf("%w: %d (available %v)", ErrNoSuchCell, req.Cell, s.Cells())
	}
	if len(neuron.Times) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrNoSpikes, req.Cell)
	}
	report(25)

	rate, _ := spikes.FiringRateVsTime(neuron.Times, s.Track.T, s.Settings.RateWindowMs)
	speed := s.Speed()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	report(50)

	out := &Output{
		Request: req,
		Session: s.Name(),
		Tetrode: s.Tetrode,
		Y:       rate,
		YLabel:  "Rate (Hz)",
	}
	switch req.Graph {
	case Rate:
		out.X = append([]float64(nil), s.Track.T...)
		out.XLabel = "Time (s)"
	case RateVsSpeed:
		out.X = speed
		out.XLabel = fmt.Sprintf("Speed (%s)", units.Label(s.Settings.SpeedUnits))
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownGraph, int(req.Graph))
	}
	report(75)

	fit, err := glm.FitContext(ctx, out.X, out.Y, req.Family, s.Settings.GLM)
	if err != nil {
		return nil, fmt.Errorf("fitting %s model: %w", req.Family, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out.Fit = fit
	out.Prediction = fit.Predict(out.X)
	report(100)
	return out, nil
}
