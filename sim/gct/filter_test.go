package gct

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SmartCGMS/core-sub004/sim/event"
)

func TestFilter_SegmentLifecycle(t *testing.T) {
	out := &event.Collector{}
	f := NewFilter(DefaultParameters(), out, WithMicroSteps(5))

	// GIVEN a started segment
	start := event.Event{Kind: event.KindSegmentStart, DeviceTime: 10, SegmentID: 7}
	require.NoError(t, f.Execute(start))
	m := f.Model(7)
	require.NotNil(t, m)
	assert.Equal(t, 10.0, m.Time())
	assert.Equal(t, []event.Event{start}, out.Events, "segment markers pass through")

	// THEN starting it again is an illegal state change
	assert.True(t, errors.Is(f.Execute(start), ErrIllegalStateChange))

	// AND stepping emits the model's signals for that segment
	require.NoError(t, f.Step(7, 5))
	bg, ok := out.Last(event.SignalBloodGlucose)
	require.True(t, ok)
	assert.Equal(t, uint64(7), bg.SegmentID)
	assert.Equal(t, 15.0, bg.DeviceTime)

	// WHEN the segment stops, its model is dropped
	require.NoError(t, f.Execute(event.Event{Kind: event.KindSegmentStop, DeviceTime: 15, SegmentID: 7}))
	assert.Nil(t, f.Model(7))
	assert.Error(t, f.Step(7, 5))
}

func TestFilter_RoutesAndPassesThrough(t *testing.T) {
	out := &event.Collector{}
	f := NewFilter(DefaultParameters(), out)
	require.NoError(t, f.Execute(event.Event{Kind: event.KindSegmentStart, SegmentID: 1}))
	out.Reset()

	// consumed by the segment's model
	require.NoError(t, f.Execute(event.NewLevel(event.SignalCarbIntake, 0, 40, 1)))
	assert.Empty(t, out.BySignal(event.SignalCarbIntake))
	assert.InDelta(t, 40.0, f.Model(1).Signals()[event.SignalCarbsOnBoard], 1e-12)

	// not a model input
	obs := event.NewLevel(event.SignalGlucoseObservation, 0, 6.1, 1)
	require.NoError(t, f.Execute(obs))
	assert.Equal(t, []event.Event{obs}, out.BySignal(event.SignalGlucoseObservation))

	// no model for the segment
	other := event.NewLevel(event.SignalCarbIntake, 0, 10, 2)
	require.NoError(t, f.Execute(other))
	assert.Equal(t, []event.Event{other}, out.BySignal(event.SignalCarbIntake))

	// informational events pass through untouched
	info := event.Event{Kind: event.KindInformation, DeviceTime: 1, SegmentID: 1}
	require.NoError(t, f.Execute(info))
	assert.Equal(t, info, out.Events[len(out.Events)-1])
}

func TestFilter_RejectsInvalidEvents(t *testing.T) {
	f := NewFilter(DefaultParameters(), nil)
	assert.Error(t, f.Execute(event.Event{Kind: "bogus"}))
	assert.Error(t, f.Execute(event.Event{Kind: event.KindLevel, Signal: "bogus"}))
}

func TestFilter_RetroactiveEventIsReported(t *testing.T) {
	f := NewFilter(DefaultParameters(), nil)
	require.NoError(t, f.Execute(event.Event{Kind: event.KindSegmentStart, SegmentID: 1}))
	require.NoError(t, f.Step(1, 30))

	err := f.Execute(event.NewLevel(event.SignalBolusRequest, 10, 2, 1))
	assert.True(t, errors.Is(err, ErrIllegalStateChange))
}
