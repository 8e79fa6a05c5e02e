// Package plotting renders a fitted model over the data it was fitted to,
// as a PNG figure or an interactive echarts page.
package plotting

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/cellglm/internal/analysis"
)

// Default figure size.
const (
	DefaultWidth  = 10 * vg.Inch
	DefaultHeight = 6 * vg.Inch
)

var (
	observedColor   = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	predictionColor = color.RGBA{R: 0, G: 160, B: 0, A: 255}
)

// Figure builds the gonum plot for out.
func Figure(out *analysis.Output) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = out.Title()
	p.X.Label.Text = out.XLabel
	p.Y.Label.Text = out.YLabel
	p.Add(plotter.NewGrid())

	observed := points(out.X, out.Y)
	fitted := points(out.X, out.Prediction)
	sort.Slice(fitted, func(i, j int) bool { return fitted[i].X < fitted[j].X })

	switch out.Request.Graph {
	case analysis.RateVsSpeed:
		sc, err := plotter.NewScatter(observed)
		if err != nil {
			return nil, fmt.Errorf("observed scatter: %w", err)
		}
		sc.GlyphStyle.Color = observedColor
		sc.GlyphStyle.Radius = vg.Points(1.5)
		p.Add(sc)
		p.Legend.Add("observed", sc)
	default:
		line, err := plotter.NewLine(observed)
		if err != nil {
			return nil, fmt.Errorf("observed line: %w", err)
		}
		line.Color = observedColor
		line.Width = vg.Points(0.5)
		p.Add(line)
		p.Legend.Add("observed", line)
	}

	pred, err := plotter.NewLine(fitted)
	if err != nil {
		return nil, fmt.Errorf("prediction line: %w", err)
	}
	pred.Color = predictionColor
	pred.Width = vg.Points(2)
	p.Add(pred)
	p.Legend.Add(fmt.Sprintf("%s GLM", out.Request.Family), pred)
	p.Legend.Top = true
	return p, nil
}

// WritePNG renders out as a PNG image.
func WritePNG(w io.Writer, out *analysis.Output, width, height vg.Length) error {
	p, err := Figure(out)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// SavePNG renders out to a PNG file at path.
func SavePNG(out *analysis.Output, path string, width, height vg.Length) error {
	p, err := Figure(out)
	if err != nil {
		return err
	}
	return p.Save(width, height, path)
}

// points pairs x and y, skipping non-finite values.
func points(x, y []float64) plotter.XYs {
	n := min(len(x), len(y))
	pts := make(plotter.XYs, 0, n)
	for i := 0; i < n; i++ {
		if !finite(x[i]) || !finite(y[i]) {
			continue
		}
		pts = append(pts, plotter.XY{X: x[i], Y: y[i]})
	}
	return pts
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
