package train

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	chart "github.com/wcharczuk/go-chart"
	"gonum.org/v1/gonum/floats"
)

// PlotHistory writes loss.png and accuracy.png into dir, one line per
// split. Accuracy is categorical accuracy.
func PlotHistory(h *History, dir string) error {
	if h == nil || len(h.Epochs) == 0 {
		return errors.New("no epochs to plot")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", dir)
	}
	if err := plotMetric(h, "loss", "Loss", filepath.Join(dir, "loss.png")); err != nil {
		return err
	}
	return plotMetric(h, "categorical_accuracy", "Accuracy", filepath.Join(dir, "accuracy.png"))
}

func plotMetric(h *History, key, title, path string) error {
	xs := make([]float64, len(h.Epochs))
	for i, e := range h.Epochs {
		xs[i] = float64(e.Epoch)
	}
	train := h.Series(key, false)
	val := h.Series(key, true)

	lo := floats.Min(train)
	hi := floats.Max(train)
	if m := floats.Min(val); m < lo {
		lo = m
	}
	if m := floats.Max(val); m > hi {
		hi = m
	}
	if hi-lo < 1e-9 {
		lo, hi = lo-0.5, hi+0.5
	}

	graph := chart.Chart{
		Title:      title,
		TitleStyle: chart.StyleShow(),
		XAxis: chart.XAxis{
			Name:      "epoch",
			NameStyle: chart.StyleShow(),
			Style:     chart.StyleShow(),
			Range:     &chart.ContinuousRange{Min: 0, Max: xs[len(xs)-1] + 1},
		},
		YAxis: chart.YAxis{
			Name:      key,
			NameStyle: chart.StyleShow(),
			Style:     chart.StyleShow(),
			Range:     &chart.ContinuousRange{Min: lo, Max: hi},
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    "train",
				XValues: xs,
				YValues: train,
				Style: chart.Style{
					Show:        true,
					StrokeColor: chart.ColorBlue,
				},
			},
			chart.ContinuousSeries{
				Name:    "validation",
				XValues: xs,
				YValues: val,
				Style: chart.Style{
					Show:        true,
					StrokeColor: chart.ColorOrange,
				},
			},
		},
	}
	graph.Elements = []chart.Renderable{
		chart.Legend(&graph),
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	if err := graph.Render(chart.PNG, f); err != nil {
		f.Close()
		return errors.Wrapf(err, "rendering %s", path)
	}
	return f.Close()
}
