// Package scenario loads YAML scenarios and drives a GCT model through them.
//
// A scenario names one segment, a start time, a horizon, the outer step and
// a list of timed inbound events. Run starts the segment, executes every
// event before the step that covers its time and steps the model to the
// horizon, emitting the model's signals after each step.
package scenario

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/SmartCGMS/core-sub004/sim"
	"github.com/SmartCGMS/core-sub004/sim/event"
	"github.com/SmartCGMS/core-sub004/sim/gct"
)

// Scenario is a deterministic simulation run description. Times are in minutes.
type Scenario struct {
	Name       string         `yaml:"name"`
	Segment    uint64         `yaml:"segment"`
	Start      float64        `yaml:"start"`
	Horizon    float64        `yaml:"horizon"`     // duration after Start
	Step       float64        `yaml:"step"`        // outer step, defaults to 5
	MicroSteps int            `yaml:"micro_steps"` // 0 keeps the model default
	Workers    int            `yaml:"workers"`
	Integrator string         `yaml:"integrator"` // empty selects the default
	Parameters gct.Parameters `yaml:"parameters"` // keys left out keep their defaults
	Events     []event.Event  `yaml:"events"`
}

// DefaultStep is the outer step used when a scenario leaves it unset.
const DefaultStep = 5.0

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes a scenario with strict field checking and validates it.
// Events without a kind are Level events; every event belongs to the
// scenario's segment.
func Parse(data []byte) (*Scenario, error) {
	sc := &Scenario{Parameters: gct.DefaultParameters(), Step: DefaultStep}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(sc); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	for i := range sc.Events {
		if sc.Events[i].Kind == "" {
			sc.Events[i].Kind = event.KindLevel
		}
		sc.Events[i].SegmentID = sc.Segment
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return sc, nil
}

// End is the time the scenario stops at.
func (sc *Scenario) End() float64 { return sc.Start + sc.Horizon }

// Validate checks the run settings and every event.
func (sc *Scenario) Validate() error {
	if math.IsNaN(sc.Start) || math.IsInf(sc.Start, 0) {
		return fmt.Errorf("start must be finite, got %v", sc.Start)
	}
	if sc.Horizon < 0 || math.IsNaN(sc.Horizon) || math.IsInf(sc.Horizon, 0) {
		return fmt.Errorf("horizon must be a finite non-negative duration, got %v", sc.Horizon)
	}
	if sc.Step <= 0 || math.IsNaN(sc.Step) || math.IsInf(sc.Step, 0) {
		return fmt.Errorf("step must be positive, got %v", sc.Step)
	}
	if sc.MicroSteps < 0 {
		return fmt.Errorf("micro_steps must be >= 0, got %d", sc.MicroSteps)
	}
	if sc.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", sc.Workers)
	}
	if _, err := sim.IntegratorByName(sc.Integrator); err != nil {
		return err
	}
	for i, ev := range sc.Events {
		if err := ev.Validate(); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
		if ev.Kind != event.KindLevel {
			return fmt.Errorf("event %d: only level events may be scheduled, got %s", i, ev.Kind)
		}
		if ev.DeviceTime < sc.Start || ev.DeviceTime > sc.End() {
			return fmt.Errorf("event %d: time %g outside [%g, %g]", i, ev.DeviceTime, sc.Start, sc.End())
		}
	}
	return nil
}

// ModelOptions translates the scenario's run settings into model options.
func (sc *Scenario) ModelOptions() ([]gct.Option, error) {
	in, err := sim.IntegratorByName(sc.Integrator)
	if err != nil {
		return nil, err
	}
	opts := []gct.Option{gct.WithIntegrator(in), gct.WithWorkers(sc.Workers)}
	if sc.MicroSteps > 0 {
		opts = append(opts, gct.WithMicroSteps(sc.MicroSteps))
	}
	return opts, nil
}

// Result summarizes a finished run.
type Result struct {
	Steps   int
	Time    float64
	Signals map[event.Signal]float64 // model signals at Time
}

// Run drives the scenario to its horizon, emitting to out. opts are applied
// after the scenario's own settings and may override them.
func Run(sc *Scenario, out event.Emitter, opts ...gct.Option) (*Result, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	base, err := sc.ModelOptions()
	if err != nil {
		return nil, err
	}
	filter := gct.NewFilter(sc.Parameters, out, append(base, opts...)...)

	events := append([]event.Event(nil), sc.Events...)
	sort.SliceStable(events, func(i, j int) bool { return events[i].DeviceTime < events[j].DeviceTime })

	if err := filter.Execute(event.Event{Kind: event.KindSegmentStart, DeviceTime: sc.Start, SegmentID: sc.Segment}); err != nil {
		return nil, err
	}
	if err := filter.Step(sc.Segment, 0); err != nil {
		return nil, err
	}

	res := &Result{Time: sc.Start}
	next := 0
	end := sc.End()
	for k := 1; res.Time < end; k++ {
		to := math.Min(sc.Start+float64(k)*sc.Step, end)
		for next < len(events) && events[next].DeviceTime < to {
			if err := filter.Execute(events[next]); err != nil {
				return nil, fmt.Errorf("executing %v: %w", events[next], err)
			}
			next++
		}
		if err := filter.Step(sc.Segment, to-res.Time); err != nil {
			return nil, err
		}
		res.Time = to
		res.Steps++
	}
	// events at the horizon itself take effect but are never integrated
	for ; next < len(events); next++ {
		if err := filter.Execute(events[next]); err != nil {
			return nil, fmt.Errorf("executing %v: %w", events[next], err)
		}
	}

	res.Signals = filter.Model(sc.Segment).Signals()
	if err := filter.Execute(event.Event{Kind: event.KindSegmentStop, DeviceTime: end, SegmentID: sc.Segment}); err != nil {
		return nil, err
	}
	logrus.Infof("scenario %q finished: %d steps to t=%g", sc.Name, res.Steps, res.Time)
	return res, nil
}
