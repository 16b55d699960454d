package sim

import "math"

// Unlimited marks a transfer window without an end.
var Unlimited = math.Inf(1)

// Window is the validity interval of a transfer function.
type Window struct {
	Start    float64
	Duration float64 // Unlimited for open-ended transfers
}

// End returns the time at which the window closes.
func (w Window) End() float64 { return w.Start + w.Duration }

// Bounded reports whether the window has a finite end.
func (w Window) Bounded() bool { return !math.IsInf(w.Duration, 1) }

// Started reports whether t lies at or after the window start.
func (w Window) Started(t float64) bool { return t >= w.Start }

// DepotView is the committed, read-only state of a depot.
type DepotView interface {
	Quantity() float64
	Volume() float64
	Concentration() float64
}

// TransferFunction is the rate law of a Link.
//
// Bounded functions return a fixed Amount and a Rate whose integral over the
// window is exactly one, so the total moved equals Amount. Unbounded functions
// derive their base amount from the committed state of the linked depots and
// use Rate as a per-time coefficient.
type TransferFunction interface {
	Window() Window
	Rate(t float64) float64
	Amount(src, dst DepotView) float64
}

// minDuration keeps bounded kernels away from division by zero.
const minDuration = 1e-6

func clampDuration(d float64) float64 {
	if d < minDuration || math.IsNaN(d) {
		return minDuration
	}
	return d
}

// ConstantTransfer moves a fixed amount at a uniform rate over its window.
type ConstantTransfer struct {
	window Window
	amount float64
}

// NewConstantTransfer creates a bounded uniform transfer of amount over [start, start+duration].
func NewConstantTransfer(start, duration, amount float64) *ConstantTransfer {
	return &ConstantTransfer{window: Window{Start: start, Duration: clampDuration(duration)}, amount: amount}
}

func (f *ConstantTransfer) Window() Window { return f.window }

func (f *ConstantTransfer) Rate(t float64) float64 {
	if t < f.window.Start || t > f.window.End() {
		return 0
	}
	return 1.0 / f.window.Duration
}

func (f *ConstantTransfer) Amount(_, _ DepotView) float64 { return f.amount }

// TriangularTransfer rises linearly to a peak and falls back to zero at the
// end of its window. The area under the kernel is one.
type TriangularTransfer struct {
	window Window
	peak   float64 // offset from start
	amount float64
}

// NewTriangularTransfer creates a bounded triangular transfer. peak is the
// offset of the apex from start and is clamped into the window.
func NewTriangularTransfer(start, duration, peak, amount float64) *TriangularTransfer {
	duration = clampDuration(duration)
	peak = math.Max(0, math.Min(peak, duration))
	return &TriangularTransfer{window: Window{Start: start, Duration: duration}, peak: peak, amount: amount}
}

func (f *TriangularTransfer) Window() Window { return f.window }

func (f *TriangularTransfer) Rate(t float64) float64 {
	x := t - f.window.Start
	d := f.window.Duration
	if x < 0 || x > d {
		return 0
	}
	height := 2.0 / d
	switch {
	case x <= f.peak && f.peak > 0:
		return height * x / f.peak
	case f.peak < d:
		return height * (d - x) / (d - f.peak)
	default:
		return height
	}
}

func (f *TriangularTransfer) Amount(_, _ DepotView) float64 { return f.amount }

// BumpTransfer is a raised-cosine kernel: smooth at both ends, area one.
type BumpTransfer struct {
	window Window
	amount float64
}

// NewBumpTransfer creates a bounded raised-cosine transfer.
func NewBumpTransfer(start, duration, amount float64) *BumpTransfer {
	return &BumpTransfer{window: Window{Start: start, Duration: clampDuration(duration)}, amount: amount}
}

func (f *BumpTransfer) Window() Window { return f.window }

func (f *BumpTransfer) Rate(t float64) float64 {
	x := t - f.window.Start
	d := f.window.Duration
	if x < 0 || x > d {
		return 0
	}
	return (1.0 - math.Cos(2.0*math.Pi*x/d)) / d
}

func (f *BumpTransfer) Amount(_, _ DepotView) float64 { return f.amount }

// ConstantUnboundedTransfer is a zero-order flux: Rate units per time unit,
// independent of the source quantity.
type ConstantUnboundedTransfer struct {
	start float64
	flux  float64
}

// NewConstantUnboundedTransfer creates an open-ended zero-order transfer.
func NewConstantUnboundedTransfer(start, flux float64) *ConstantUnboundedTransfer {
	return &ConstantUnboundedTransfer{start: start, flux: flux}
}

func (f *ConstantUnboundedTransfer) Window() Window {
	return Window{Start: f.start, Duration: Unlimited}
}

func (f *ConstantUnboundedTransfer) Rate(t float64) float64 {
	if t < f.start {
		return 0
	}
	return f.flux
}

func (f *ConstantUnboundedTransfer) Amount(_, _ DepotView) float64 { return 1 }

// ProportionalTransfer is first-order kinetics: a fraction k of the source
// quantity moves per time unit.
type ProportionalTransfer struct {
	start float64
	k     float64
}

// NewProportionalTransfer creates an open-ended first-order transfer.
func NewProportionalTransfer(start, k float64) *ProportionalTransfer {
	return &ProportionalTransfer{start: start, k: k}
}

func (f *ProportionalTransfer) Window() Window {
	return Window{Start: f.start, Duration: Unlimited}
}

func (f *ProportionalTransfer) Rate(t float64) float64 {
	if t < f.start {
		return 0
	}
	return f.k
}

func (f *ProportionalTransfer) Amount(src, _ DepotView) float64 { return src.Quantity() }

// ThresholdTransfer is first-order kinetics on the part of the source
// quantity exceeding a threshold.
type ThresholdTransfer struct {
	start     float64
	k         float64
	threshold float64
}

// NewThresholdTransfer creates an open-ended transfer of max(0, q - threshold) at rate k.
func NewThresholdTransfer(start, k, threshold float64) *ThresholdTransfer {
	return &ThresholdTransfer{start: start, k: k, threshold: threshold}
}

func (f *ThresholdTransfer) Window() Window {
	return Window{Start: f.start, Duration: Unlimited}
}

func (f *ThresholdTransfer) Rate(t float64) float64 {
	if t < f.start {
		return 0
	}
	return f.k
}

func (f *ThresholdTransfer) Amount(src, _ DepotView) float64 {
	return math.Max(0, src.Quantity()-f.threshold)
}

// DiffusionTransfer moves quantity down a concentration gradient. The base
// amount is the quantity that would equalize both concentrations, so with
// k*dt <= 1 the concentrations approach each other without overshoot. A
// negative gradient yields a negative base, which reverses the flow.
type DiffusionTransfer struct {
	start float64
	k     float64
}

// NewDiffusionTransfer creates an open-ended two-way diffusion transfer.
func NewDiffusionTransfer(start, k float64) *DiffusionTransfer {
	return &DiffusionTransfer{start: start, k: k}
}

func (f *DiffusionTransfer) Window() Window {
	return Window{Start: f.start, Duration: Unlimited}
}

func (f *DiffusionTransfer) Rate(t float64) float64 {
	if t < f.start {
		return 0
	}
	return f.k
}

func (f *DiffusionTransfer) Amount(src, dst DepotView) float64 {
	vs, vd := src.Volume(), dst.Volume()
	if vs <= 0 || vd <= 0 {
		return 0
	}
	return (src.Concentration() - dst.Concentration()) * vs * vd / (vs + vd)
}
