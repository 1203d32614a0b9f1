package chart

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/stresslens/stresslens/dashboard/internal/compute"
	"github.com/stresslens/stresslens/pkg/types"
)

// ErrNoData is returned when there is nothing to plot.
var ErrNoData = errors.New("chart: no data to plot")

// Default image size in pixels.
const (
	DefaultWidth  = 1024
	DefaultHeight = 480

	minBarWidth = 4
	maxBarWidth = 60
)

var (
	colorIncrease = drawing.ColorFromHex("d62728")
	colorDecrease = drawing.ColorFromHex("1f77b4")
	colorBaseline = drawing.ColorFromHex("2ca02c")
	colorStress   = drawing.ColorFromHex("ff7f0e")
)

// ChangeBars renders one bar per summary showing its percent change, red for
// increases and blue for decreases, as a PNG image.
func ChangeBars(summaries []types.FeatureSummary, width, height int) ([]byte, error) {
	if len(summaries) == 0 {
		return nil, ErrNoData
	}
	bars := make([]gochart.Value, 0, len(summaries))
	values := make([]float64, 0, len(summaries))
	for _, s := range summaries {
		label := s.Feature
		if s.Group != "" {
			label = s.Group + types.GroupSeparator + s.Feature
		}
		col := colorIncrease
		if s.ChangePct < 0 {
			col = colorDecrease
		}
		bars = append(bars, gochart.Value{
			Label: label,
			Value: s.ChangePct,
			Style: gochart.Style{FillColor: col, StrokeColor: col, StrokeWidth: 1},
		})
		values = append(values, s.ChangePct)
	}
	return render("Change under stress (%)", bars, values, width, height)
}

// ConditionBars renders the baseline and stress means of one feature per
// group as a PNG image. Cells with a NaN mean are skipped.
func ConditionBars(means []compute.ConditionMean, feature string, width, height int) ([]byte, error) {
	var (
		bars   []gochart.Value
		values []float64
	)
	for _, m := range means {
		v := float64(m.Mean)
		if m.Feature != feature || math.IsNaN(v) {
			continue
		}
		col := colorBaseline
		if m.Condition == types.Stress {
			col = colorStress
		}
		label := string(m.Condition)
		if m.Group != "" {
			label = m.Group + " " + label
		}
		bars = append(bars, gochart.Value{
			Label: label,
			Value: v,
			Style: gochart.Style{FillColor: col, StrokeColor: col, StrokeWidth: 1},
		})
		values = append(values, v)
	}
	if len(bars) == 0 {
		return nil, ErrNoData
	}
	return render(feature+": baseline vs stress", bars, values, width, height)
}

// render draws bars anchored at zero with an explicit y range, so constant
// and mixed-sign values both plot.
func render(title string, bars []gochart.Value, values []float64, width, height int) ([]byte, error) {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}

	lo, hi := 0.0, 0.0
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	pad := (hi - lo) * 0.1
	if pad == 0 {
		pad = 1
	}
	if lo < 0 {
		lo -= pad
	}
	hi += pad

	barWidth := (width - 120) / (len(bars) * 2)
	barWidth = max(minBarWidth, min(maxBarWidth, barWidth))

	bc := gochart.BarChart{
		Title:        title,
		Width:        width,
		Height:       height,
		Background:   gochart.Style{Padding: gochart.Box{Top: 40, Left: 16, Right: 16, Bottom: 16}},
		BarWidth:     barWidth,
		BarSpacing:   barWidth,
		UseBaseValue: true,
		BaseValue:    0,
		YAxis: gochart.YAxis{
			Range:          &gochart.ContinuousRange{Min: lo, Max: hi},
			ValueFormatter: func(v interface{}) string { return fmt.Sprintf("%.1f", v) },
		},
		Bars: bars,
	}

	var buf bytes.Buffer
	if err := bc.Render(gochart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("chart: render %q: %w", title, err)
	}
	return buf.Bytes(), nil
}
