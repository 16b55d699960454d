package event

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestEvent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		ev      Event
		wantErr bool
	}{
		{"level with inbound signal", NewLevel(SignalBolusRequest, 0, 2, 1), false},
		{"level with outbound signal", NewLevel(SignalBloodGlucose, 0, 5, 1), false},
		{"segment start without signal", Event{Kind: KindSegmentStart}, false},
		{"unknown kind", Event{Kind: "tick"}, true},
		{"level without signal", Event{Kind: KindLevel}, true},
		{"level with unknown signal", NewLevel("ketones", 0, 1, 1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ev.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEvent_YAMLUsesNames(t *testing.T) {
	var ev Event
	require.NoError(t, yaml.Unmarshal([]byte("{kind: level, signal: carb_intake, time: 30, level: 50, segment: 2}"), &ev))
	assert.Equal(t, NewLevel(SignalCarbIntake, 30, 50, 2), ev)
}

func TestEvent_String(t *testing.T) {
	assert.Equal(t, "Event: (level bolus_request=2 at 15, segment 1)", NewLevel(SignalBolusRequest, 15, 2, 1).String())
	assert.Equal(t, "Event: (segment_stop at 60, segment 3)", Event{Kind: KindSegmentStop, DeviceTime: 60, SegmentID: 3}.String())
}

func TestCollector(t *testing.T) {
	c := &Collector{}
	require.NoError(t, c.Emit(NewLevel(SignalBloodGlucose, 0, 5, 1)))
	require.NoError(t, c.Emit(Event{Kind: KindInformation}))
	require.NoError(t, c.Emit(NewLevel(SignalBloodGlucose, 5, 6, 1)))

	assert.Len(t, c.BySignal(SignalBloodGlucose), 2)
	last, ok := c.Last(SignalBloodGlucose)
	require.True(t, ok)
	assert.Equal(t, 6.0, last.Level)
	_, ok = c.Last(SignalCarbsOnBoard)
	assert.False(t, ok)

	c.Reset()
	assert.Empty(t, c.Events)
}

func TestTee_StopsAtFirstError(t *testing.T) {
	a, b := &Collector{}, &Collector{}
	boom := errors.New("boom")
	failing := EmitterFunc(func(Event) error { return boom })

	err := Tee(a, failing, b).Emit(NewLevel(SignalCarbsOnBoard, 0, 1, 1))
	assert.ErrorIs(t, err, boom)
	assert.Len(t, a.Events, 1)
	assert.Empty(t, b.Events)

	require.NoError(t, Tee(a, b, Discard).Emit(NewLevel(SignalCarbsOnBoard, 1, 1, 1)))
	assert.Len(t, b.Events, 1)
}
