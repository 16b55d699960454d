package gct

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/SmartCGMS/core-sub004/sim/event"
)

// Filter adapts models to an event pipeline. It keeps one model per segment:
// Segment_Start initializes a model, Segment_Stop discards it and Level
// events are routed to the model of their segment. Events no model consumes
// are passed downstream unchanged, as are segment markers.
type Filter struct {
	params Parameters
	opts   []Option
	out    event.Emitter
	models map[uint64]*Model
}

// NewFilter creates a filter emitting to out. Every model it creates uses
// params and opts; the filter's own emitter is always applied last.
func NewFilter(params Parameters, out event.Emitter, opts ...Option) *Filter {
	if out == nil {
		out = event.Discard
	}
	return &Filter{
		params: params,
		opts:   opts,
		out:    out,
		models: make(map[uint64]*Model),
	}
}

// Model returns the live model of a segment, or nil.
func (f *Filter) Model(segmentID uint64) *Model {
	return f.models[segmentID]
}

// Execute handles one inbound event.
func (f *Filter) Execute(ev event.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	switch ev.Kind {
	case event.KindSegmentStart:
		if _, ok := f.models[ev.SegmentID]; ok {
			return fmt.Errorf("%w: segment %d already started", ErrIllegalStateChange, ev.SegmentID)
		}
		opts := append(append([]Option(nil), f.opts...), WithEmitter(f.out))
		m := New(f.params, opts...)
		if err := m.Initialize(ev.DeviceTime, ev.SegmentID); err != nil {
			return err
		}
		f.models[ev.SegmentID] = m
		logrus.Infof("segment %d started at t=%g", ev.SegmentID, ev.DeviceTime)
	case event.KindSegmentStop:
		delete(f.models, ev.SegmentID)
		logrus.Infof("segment %d stopped at t=%g", ev.SegmentID, ev.DeviceTime)
	case event.KindLevel:
		if m, ok := f.models[ev.SegmentID]; ok {
			consumed, err := m.Execute(ev)
			if err != nil {
				return err
			}
			if consumed {
				return nil
			}
		}
	}
	return f.out.Emit(ev)
}

// Step advances the model of a segment by dt.
func (f *Filter) Step(segmentID uint64, dt float64) error {
	m, ok := f.models[segmentID]
	if !ok {
		return fmt.Errorf("%w: segment %d is not running", ErrIllegalStateChange, segmentID)
	}
	return m.Step(dt)
}
