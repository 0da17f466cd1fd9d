// Package trace records a motor's response over time and draws it as a chart.
package trace

import (
	"fmt"
	"image"
	"math"

	"github.com/fogleman/gg"
	"github.com/pkg/errors"

	"github.com/tigerbot-team/tigerbot/dualmotor/pkg/motor"
)

type Sample struct {
	Tick   int
	Target float64
	Rate   float64
	Power  float64
}

// Recorder accumulates one sample per control tick.
type Recorder struct {
	Title   string
	Samples []Sample
}

func (r *Recorder) Record(tick int, s motor.State) {
	p := float64(s.CurrentPower)
	if s.Control&motor.Direction != 0 {
		p = -p
	}
	r.Samples = append(r.Samples, Sample{
		Tick:   tick,
		Target: float64(s.TargetRate),
		Rate:   s.CurrentRate,
		Power:  p,
	})
}

const margin = 40

// Draw plots target and measured rate against the left axis and signed output power
// against the right.
func (r *Recorder) Draw(w, h int) image.Image {
	dc := gg.NewContext(w, h)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	if len(r.Samples) == 0 {
		return dc.Image()
	}

	rateMax := 1.0
	for _, s := range r.Samples {
		rateMax = math.Max(rateMax, math.Max(math.Abs(s.Target), math.Abs(s.Rate)))
	}
	rateMax *= 1.1
	last := r.Samples[len(r.Samples)-1].Tick
	if last == 0 {
		last = 1
	}

	pw := float64(w - 2*margin)
	ph := float64(h - 2*margin)
	x := func(tick int) float64 { return margin + pw*float64(tick)/float64(last) }
	yRate := func(v float64) float64 { return margin + ph/2 - ph/2*v/rateMax }
	yPower := func(v float64) float64 { return margin + ph/2 - ph/2*v/255 }

	// Axes.
	dc.SetRGB(0.6, 0.6, 0.6)
	dc.SetLineWidth(1)
	dc.DrawRectangle(margin, margin, pw, ph)
	dc.DrawLine(margin, margin+ph/2, margin+pw, margin+ph/2)
	dc.Stroke()

	series := []struct {
		r, g, b float64
		v       func(Sample) float64
	}{
		{0.8, 0.8, 0.2, func(s Sample) float64 { return yPower(s.Power) }},
		{0.2, 0.2, 0.9, func(s Sample) float64 { return yRate(s.Target) }},
		{0.9, 0.1, 0.1, func(s Sample) float64 { return yRate(s.Rate) }},
	}
	dc.SetLineWidth(1.5)
	for _, ser := range series {
		dc.SetRGB(ser.r, ser.g, ser.b)
		for i, s := range r.Samples {
			if i == 0 {
				dc.MoveTo(x(s.Tick), ser.v(s))
			} else {
				dc.LineTo(x(s.Tick), ser.v(s))
			}
		}
		dc.Stroke()
	}

	dc.SetRGB(0, 0, 0)
	dc.DrawString(r.Title, margin, margin/2)
	dc.DrawString(fmt.Sprintf("%.0f", rateMax), 2, margin+10)
	dc.DrawString(fmt.Sprintf("%d ticks", last), float64(w-margin-60), float64(h-margin/2))
	return dc.Image()
}

func (r *Recorder) SavePNG(path string, w, h int) error {
	return errors.Wrap(gg.SavePNG(path, r.Draw(w, h)), "trace: save")
}
