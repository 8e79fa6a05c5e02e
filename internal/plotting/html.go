package plotting

import (
	"fmt"
	"io"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot/plotter"

	"github.com/banshee-data/cellglm/internal/analysis"
)

// AssetsHost is where the rendered page loads the echarts scripts from.
// Empty uses the go-echarts default.
var AssetsHost = ""

// maxFitPoints bounds the points of the fitted line sent to the browser.
// Observed points are always sent in full so sparse rate bins survive.
const maxFitPoints = 2000

// RenderHTML writes out as a standalone echarts page.
func RenderHTML(w io.Writer, out *analysis.Output) error {
	initOpts := opts.Initialization{PageTitle: out.Title(), Width: "100%", Height: "640px"}
	if AssetsHost != "" {
		initOpts.AssetsHost = AssetsHost
	}
	subtitle := ""
	if out.Fit != nil {
		subtitle = fmt.Sprintf("link=%s n=%d pseudo R²=%.3f", out.Request.Family.LinkName(), out.Fit.NObs, out.Fit.PseudoR2())
	}
	global := []charts.GlobalOpts{
		charts.WithInitializationOpts(initOpts),
		charts.WithTitleOpts(opts.Title{Title: out.Title(), Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: out.XLabel, NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: out.YLabel, NameLocation: "middle", NameGap: 35}),
	}

	observed := points(out.X, out.Y)
	fitted := points(out.X, out.Prediction)
	sort.Slice(fitted, func(i, j int) bool { return fitted[i].X < fitted[j].X })

	fitLine := charts.NewLine()
	fitLine.AddSeries(fmt.Sprintf("%s GLM", out.Request.Family), lineData(thin(fitted)),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithLineStyleOpts(opts.LineStyle{Color: "green", Width: 2}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: "green"}),
	)

	if out.Request.Graph == analysis.RateVsSpeed {
		sc := charts.NewScatter()
		sc.SetGlobalOptions(global...)
		data := make([]opts.ScatterData, 0, len(observed))
		for _, p := range observed {
			data = append(data, opts.ScatterData{Value: []interface{}{p.X, p.Y}})
		}
		sc.AddSeries("observed", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
		sc.Overlap(fitLine)
		return sc.Render(w)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(global...)
	line.AddSeries("observed", lineData(observed),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithLineStyleOpts(opts.LineStyle{Width: 1}),
	)
	line.Overlap(fitLine)
	return line.Render(w)
}

// thin keeps about maxFitPoints evenly spaced points of a smooth series,
// always ending on the last one.
func thin(pts plotter.XYs) plotter.XYs {
	if len(pts) <= maxFitPoints {
		return pts
	}
	step := (len(pts) + maxFitPoints - 1) / maxFitPoints
	out := make(plotter.XYs, 0, maxFitPoints+1)
	for i := 0; i < len(pts); i += step {
		out = append(out, pts[i])
	}
	if (len(pts)-1)%step != 0 {
		out = append(out, pts[len(pts)-1])
	}
	return out
}

func lineData(pts plotter.XYs) []opts.LineData {
	data := make([]opts.LineData, len(pts))
	for i, p := range pts {
		data[i] = opts.LineData{Value: []interface{}{p.X, p.Y}}
	}
	return data
}
