package plotting

import (
	"bytes"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/plot/plotter"

	"github.com/banshee-data/cellglm/internal/analysis"
	"github.com/banshee-data/cellglm/internal/glm"
)

func testOutput(t *testing.T, graph analysis.GraphType) *analysis.Output {
	t.Helper()
	n := 300
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = float64(i) * 0.1
		if graph == analysis.RateVsSpeed {
			x[i] = float64((i * 37) % 40)
		}
		if i%10 == 0 {
			y[i] = 1 + x[i]/10
		}
	}
	fit, err := glm.Fit(x, y, glm.Poisson, glm.DefaultOptions())
	require.NoError(t, err)
	return &analysis.Output{
		Request:    analysis.Request{Cell: 2, Family: glm.Poisson, Graph: graph},
		Session:    "rat 7/day 1",
		Tetrode:    3,
		X:          x,
		Y:          y,
		Prediction: fit.Predict(x),
		Fit:        fit,
		XLabel:     "Time (s)",
		YLabel:     "Rate (Hz)",
	}
}

func TestWritePNG(t *testing.T) {
	for _, g := range analysis.GraphTypes() {
		t.Run(g.Slug(), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WritePNG(&buf, testOutput(t, g), DefaultWidth, DefaultHeight))

			img, err := png.Decode(&buf)
			require.NoError(t, err)
			assert.Greater(t, img.Bounds().Dx(), 100)
		})
	}
}

func TestSavePNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fit.png")
	require.NoError(t, SavePNG(testOutput(t, analysis.Rate), path, 4*DefaultWidth/10, 4*DefaultHeight/10))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestRenderHTML(t *testing.T) {
	for _, g := range analysis.GraphTypes() {
		t.Run(g.Slug(), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, RenderHTML(&buf, testOutput(t, g)))

			html := buf.String()
			assert.Contains(t, html, "echarts")
			assert.Contains(t, html, "Poisson GLM")
			assert.Contains(t, html, "pseudo R")
		})
	}
}

func TestFigureSkipsNonFinite(t *testing.T) {
	out := testOutput(t, analysis.Rate)
	out.Prediction[5] = math.Inf(1)
	out.Y[7] = math.NaN()

	p, err := Figure(out)
	require.NoError(t, err)
	assert.Equal(t, out.Title(), p.Title.Text)
}

func TestImageName(t *testing.T) {
	out := testOutput(t, analysis.RateVsSpeed)
	assert.Equal(t, "rat_7_day_1_T3_C2_poisson_rate-vs-speed.png", ImageName(out))
	assert.False(t, strings.Contains(ImageName(out), "/"))
}

func TestThin(t *testing.T) {
	pts := make(plotter.XYs, 5*maxFitPoints+3)
	for i := range pts {
		pts[i] = plotter.XY{X: float64(i)}
	}
	got := thin(pts)
	assert.LessOrEqual(t, len(got), maxFitPoints+1)
	assert.Equal(t, pts[0], got[0])
	assert.Equal(t, pts[len(pts)-1], got[len(got)-1])

	short := pts[:10]
	assert.Equal(t, short, thin(short))
}
