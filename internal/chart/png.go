package chart

import (
	"errors"
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// ErrNoSamples is returned when there is nothing to plot.
var ErrNoSamples = errors.New("chart: no samples")

var axisColors = map[string]color.Color{
	"yaw":   color.RGBA{R: 220, G: 50, B: 47, A: 255},
	"pitch": color.RGBA{R: 38, G: 139, B: 210, A: 255},
	"roll":  color.RGBA{R: 133, G: 153, B: 0, A: 255},
}

func newPlot(samples []Sample, title string) (*plot.Plot, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Degrees"
	p.Add(plotter.NewGrid())

	start := samples[0].At
	yaw := make(plotter.XYs, len(samples))
	pitch := make(plotter.XYs, len(samples))
	roll := make(plotter.XYs, len(samples))
	for i, s := range samples {
		x := s.At.Sub(start).Seconds()
		yaw[i] = plotter.XY{X: x, Y: s.Euler.Yaw}
		pitch[i] = plotter.XY{X: x, Y: s.Euler.Pitch}
		roll[i] = plotter.XY{X: x, Y: s.Euler.Roll}
	}

	for _, series := range []struct {
		name string
		pts  plotter.XYs
	}{{"yaw", yaw}, {"pitch", pitch}, {"roll", roll}} {
		line, err := plotter.NewLine(series.pts)
		if err != nil {
			return nil, fmt.Errorf("%s line: %w", series.name, err)
		}
		line.Color = axisColors[series.name]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(series.name, line)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// SavePNG writes a yaw/pitch/roll plot of samples to path.
func SavePNG(samples []Sample, title, path string) error {
	p, err := newPlot(samples, title)
	if err != nil {
		return err
	}
	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save orientation plot: %w", err)
	}
	return nil
}

// WritePNG writes the same plot as SavePNG to w.
func WritePNG(w io.Writer, samples []Sample, title string) error {
	p, err := newPlot(samples, title)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(14*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
