package sim

import "math"

// Dosage is one periodic delivery of an InfusionDevice.
type Dosage struct {
	Time           float64 // scheduled delivery time
	Amount         float64
	AbsorptionTime float64
}

// InfusionDevice schedules periodic dosages at a configurable rate, like an
// insulin pump delivering basal insulin in fixed pulses.
//
// A dosage of rate*period falls due every period while rate is non-zero.
// Dosages are scheduled on a fixed grid anchored at the last delivery, so the
// number and total of dosages over a span does not depend on how often Poll
// is called. Rate changes take effect at their own time, not when they are
// requested: a dosage due at or before a change is priced at the rate in
// effect before it.
type InfusionDevice struct {
	lastTime       float64
	rate           float64
	period         float64
	absorptionTime float64

	pending []rateChange // sorted by time
}

type rateChange struct {
	at   float64
	rate float64
}

// NewInfusionDevice creates a device idle at time t0.
func NewInfusionDevice(t0, period, absorptionTime float64) *InfusionDevice {
	return &InfusionDevice{
		lastTime:       t0,
		period:         clampDuration(period),
		absorptionTime: clampDuration(absorptionTime),
	}
}

func (d *InfusionDevice) Rate() float64     { return d.rate }
func (d *InfusionDevice) Period() float64   { return d.period }
func (d *InfusionDevice) LastTime() float64 { return d.lastTime }

// SetRate schedules a rate change at time at. The change is applied when Poll
// reaches it; Rate reports the rate in effect after the last Poll. Switching
// on from zero restarts the schedule at that time so no backlog of dosages is
// delivered. Changes at the same time apply in call order.
func (d *InfusionDevice) SetRate(at, rate float64) {
	i := len(d.pending)
	for i > 0 && d.pending[i-1].at > at {
		i--
	}
	d.pending = append(d.pending, rateChange{})
	copy(d.pending[i+1:], d.pending[i:])
	d.pending[i] = rateChange{at: at, rate: rate}
}

func (d *InfusionDevice) apply(c rateChange) {
	if d.rate == 0 && c.rate != 0 {
		d.lastTime = c.at
	}
	d.rate = c.rate
}

// Poll applies the rate changes reached by now and returns every dosage due
// at or before now, in schedule order.
func (d *InfusionDevice) Poll(now float64) []Dosage {
	var due []Dosage
	// tolerate the rounding of accumulated micro-step times
	tol := d.period * 1e-9
	for {
		next := d.lastTime + d.period
		if len(d.pending) > 0 {
			c := d.pending[0]
			// a change exactly on the grid comes after the dosage due there
			if c.at <= now && (d.rate == 0 || c.at < next-tol) {
				d.apply(c)
				d.pending = d.pending[1:]
				continue
			}
		}
		if d.rate == 0 || now-d.lastTime < d.period-tol {
			return due
		}
		d.lastTime = next
		due = append(due, Dosage{
			Time:           d.lastTime,
			Amount:         d.rate * d.period,
			AbsorptionTime: d.absorptionTime,
		})
		if math.IsInf(now, 1) && len(d.pending) == 0 {
			return due
		}
	}
}
