// Package event defines the event schema exchanged between a model and the
// pipeline that drives it. This package has no dependencies on sim/.
package event

import "fmt"

// Kind classifies an event.
type Kind string

const (
	KindLevel        Kind = "level"
	KindSegmentStart Kind = "segment_start"
	KindSegmentStop  Kind = "segment_stop"
	KindInformation  Kind = "information"
	KindShutdown     Kind = "shutdown"
)

// Signal identifies what a Level event measures or requests.
type Signal string

// Inbound signals, consumed by models.
const (
	SignalBasalRateRequest      Signal = "basal_rate_request"
	SignalBolusRequest          Signal = "bolus_request"
	SignalCarbIntake            Signal = "carb_intake"
	SignalCarbRescue            Signal = "carb_rescue"
	SignalPhysicalActivityLevel Signal = "physical_activity_level"
	SignalGlucoseObservation    Signal = "glucose_observation"
)

// Outbound signals, emitted by models.
const (
	SignalBloodGlucose              Signal = "blood_glucose"
	SignalInterstitialGlucose       Signal = "interstitial_glucose"
	SignalInsulinOnBoard            Signal = "insulin_on_board"
	SignalCarbsOnBoard              Signal = "carbs_on_board"
	SignalDeliveredInsulinBasalRate Signal = "delivered_insulin_basal_rate"
	SignalDeliveredInsulinBolus     Signal = "delivered_insulin_bolus"
)

var validKinds = map[Kind]bool{
	KindLevel: true, KindSegmentStart: true, KindSegmentStop: true,
	KindInformation: true, KindShutdown: true,
}

var validSignals = map[Signal]bool{
	SignalBasalRateRequest: true, SignalBolusRequest: true, SignalCarbIntake: true,
	SignalCarbRescue: true, SignalPhysicalActivityLevel: true, SignalGlucoseObservation: true,
	SignalBloodGlucose: true, SignalInterstitialGlucose: true, SignalInsulinOnBoard: true,
	SignalCarbsOnBoard: true, SignalDeliveredInsulinBasalRate: true, SignalDeliveredInsulinBolus: true,
}

// IsValidKind returns true if k is a recognized event kind.
func IsValidKind(k Kind) bool { return validKinds[k] }

// IsValidSignal returns true if s is a recognized signal.
func IsValidSignal(s Signal) bool { return validSignals[s] }

// Event is one message of the stream. DeviceTime is in minutes.
type Event struct {
	Kind       Kind    `yaml:"kind" json:"kind"`
	Signal     Signal  `yaml:"signal,omitempty" json:"signal,omitempty"`
	DeviceTime float64 `yaml:"time" json:"device_time"`
	Level      float64 `yaml:"level,omitempty" json:"level,omitempty"`
	SegmentID  uint64  `yaml:"segment,omitempty" json:"segment_id,omitempty"`
}

// NewLevel creates a Level event.
func NewLevel(signal Signal, deviceTime, level float64, segmentID uint64) Event {
	return Event{Kind: KindLevel, Signal: signal, DeviceTime: deviceTime, Level: level, SegmentID: segmentID}
}

func (e Event) String() string {
	if e.Kind == KindLevel {
		return fmt.Sprintf("Event: (%s %s=%g at %g, segment %d)", e.Kind, e.Signal, e.Level, e.DeviceTime, e.SegmentID)
	}
	return fmt.Sprintf("Event: (%s at %g, segment %d)", e.Kind, e.DeviceTime, e.SegmentID)
}

// Validate checks the kind and, for Level events, the signal.
func (e Event) Validate() error {
	if !IsValidKind(e.Kind) {
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if e.Kind == KindLevel && !IsValidSignal(e.Signal) {
		return fmt.Errorf("unknown signal %q", e.Signal)
	}
	return nil
}
