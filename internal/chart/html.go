package chart

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// RenderHTML writes an interactive line chart of samples to w.
func RenderHTML(w io.Writer, samples []Sample, title string) error {
	if len(samples) == 0 {
		return ErrNoSamples
	}
	start := samples[0].At
	xs := make([]string, len(samples))
	yaw := make([]opts.LineData, len(samples))
	pitch := make([]opts.LineData, len(samples))
	roll := make([]opts.LineData, len(samples))
	for i, s := range samples {
		xs[i] = strconv.FormatFloat(s.At.Sub(start).Seconds(), 'f', 2, 64)
		yaw[i] = opts.LineData{Value: s.Euler.Yaw}
		pitch[i] = opts.LineData{Value: s.Euler.Pitch}
		roll[i] = opts.LineData{Value: s.Euler.Roll}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Theme: "dark", Width: "100%", Height: "640px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("samples=%d from %s", len(samples), start.Format("15:04:05.000"))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "deg", Min: -180, Max: 180}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
	)
	seriesOpts := charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)})
	line.SetXAxis(xs).
		AddSeries("yaw", yaw, seriesOpts).
		AddSeries("pitch", pitch, seriesOpts).
		AddSeries("roll", roll, seriesOpts)
	return line.Render(w)
}
