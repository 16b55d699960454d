package gct

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SmartCGMS/core-sub004/sim/event"
	"github.com/SmartCGMS/core-sub004/sim/internal/testutil"
)

func newModel(t *testing.T, p Parameters, opts ...Option) *Model {
	t.Helper()
	m := New(p, opts...)
	require.NoError(t, m.Initialize(0, 1))
	return m
}

func level(signal event.Signal, at, value float64) event.Event {
	return event.NewLevel(signal, at, value, 1)
}

func execute(t *testing.T, m *Model, ev event.Event) {
	t.Helper()
	consumed, err := m.Execute(ev)
	require.NoError(t, err)
	require.True(t, consumed, "%v not consumed", ev)
}

func TestModel_Initialize_Twice_Fails(t *testing.T) {
	m := newModel(t, DefaultParameters())
	err := m.Initialize(5, 2)
	assert.True(t, errors.Is(err, ErrIllegalStateChange))
	assert.Equal(t, uint64(1), m.SegmentID())
	assert.Equal(t, 0.0, m.Time())
}

func TestModel_UseBeforeInitialize_Fails(t *testing.T) {
	m := New(DefaultParameters())
	assert.True(t, errors.Is(m.Step(5), ErrIllegalStateChange))
	_, err := m.Execute(level(event.SignalBolusRequest, 0, 1))
	assert.True(t, errors.Is(err, ErrIllegalStateChange))
	assert.True(t, errors.Is(m.Initialize(math.NaN(), 1), ErrIllegalStateChange))
}

func TestModel_Step_RejectsInvalidDurations(t *testing.T) {
	m := newModel(t, DefaultParameters())
	assert.Error(t, m.Step(-1))
	assert.Error(t, m.Step(math.NaN()))
	assert.Error(t, m.Step(math.Inf(1)))
	assert.Equal(t, 0.0, m.Time())
}

func TestModel_ZeroStep_IsIdempotent(t *testing.T) {
	// GIVEN a model that has absorbed part of a meal
	col := &event.Collector{}
	m := newModel(t, DefaultParameters(), WithEmitter(col))
	execute(t, m, level(event.SignalCarbIntake, 0, 30))
	require.NoError(t, m.Step(20))
	before := m.Signals()
	depots := m.Network().DepotCount()

	// WHEN Step(0) is called twice
	col.Reset()
	require.NoError(t, m.Step(0))
	first := append([]event.Event(nil), col.Events...)
	col.Reset()
	require.NoError(t, m.Step(0))

	// THEN it only re-emits the same committed state
	assert.Equal(t, first, col.Events)
	assert.Len(t, first, 4)
	assert.Equal(t, before, m.Signals())
	assert.Equal(t, depots, m.Network().DepotCount())
	assert.Equal(t, 20.0, m.Time())
	for _, e := range first {
		assert.Equal(t, 20.0, e.DeviceTime)
	}
}

func TestModel_RetroactiveRequest_LeavesStateUnchanged(t *testing.T) {
	// GIVEN two identical models advanced to t=10
	rejected := newModel(t, DefaultParameters())
	control := newModel(t, DefaultParameters())
	require.NoError(t, rejected.Step(10))
	require.NoError(t, control.Step(10))

	// WHEN one receives requests timestamped at t=5
	for _, signal := range []event.Signal{event.SignalBasalRateRequest, event.SignalBolusRequest, event.SignalCarbIntake} {
		consumed, err := rejected.Execute(level(signal, 5, 2))
		assert.False(t, consumed)
		assert.True(t, errors.Is(err, ErrIllegalStateChange), "%s", signal)
	}

	// THEN both models continue identically
	require.NoError(t, rejected.Step(60))
	require.NoError(t, control.Step(60))
	assert.Equal(t, control.Signals(), rejected.Signals())
	assert.Equal(t, control.Network().DepotCount(), rejected.Network().DepotCount())

	// AND a request at exactly the committed time is accepted
	execute(t, rejected, level(event.SignalBasalRateRequest, 70, 1))
}

func TestModel_Execute_IgnoresForeignEvents(t *testing.T) {
	m := newModel(t, DefaultParameters())

	consumed, err := m.Execute(level(event.SignalGlucoseObservation, 0, 6))
	require.NoError(t, err)
	assert.False(t, consumed)

	consumed, err = m.Execute(event.Event{Kind: event.KindInformation, Signal: event.SignalBolusRequest})
	require.NoError(t, err)
	assert.False(t, consumed)

	_, err = m.Execute(level(event.SignalBolusRequest, 0, math.NaN()))
	assert.Error(t, err)
}

// carbOnlyParameters disables every glucose flux except carbohydrate absorption.
func carbOnlyParameters() Parameters {
	p := DefaultParameters()
	p.Production = 0
	p.Utilization = 0
	p.InsulinSensitivity = 0
	p.InsulinConsumption = 0
	p.RenalRate = 0
	p.Diffusion = 0
	return p
}

func TestModel_CarbIntake_EndToEnd(t *testing.T) {
	// GIVEN plasma at 5 mmol/L and no other glucose fluxes
	p := carbOnlyParameters()
	m := newModel(t, p)
	plasma := m.Network().Depot(m.plasma)
	initial := plasma.Quantity()
	require.InDelta(t, 5.0, plasma.Concentration(), 1e-12)

	// WHEN 50 g of carbohydrates are eaten at t=0
	execute(t, m, level(event.SignalCarbIntake, 0, 50))
	assert.InDelta(t, 50.0, m.Signals()[event.SignalCarbsOnBoard], 1e-12)

	// THEN plasma glucose rises monotonically while staging pools drain
	prev := plasma.Concentration()
	var plateau []float64
	for i := 1; i <= 30; i++ {
		require.NoError(t, m.Step(5))
		bg := m.Signals()[event.SignalBloodGlucose]
		assert.GreaterOrEqual(t, bg, prev-1e-12, "t=%g", m.Time())
		prev = bg
		if m.Time() >= 100 {
			plateau = append(plateau, bg)
		}
	}

	// AND the staged mass arrived exactly, converted to mmol
	gained := plasma.Quantity() - initial
	testutil.AssertFloat64Equal(t, "plasma gain", 50*p.CarbToGlucose, gained, 1e-9)
	testutil.AssertNear(t, "carbs on board", 0, m.Signals()[event.SignalCarbsOnBoard], 1e-9)
	assert.Equal(t, 0, m.Network().Compartment(CompartmentCarbs).Len(), "staging depots pruned")
	assert.InDelta(t, -50.0, m.Network().Depot(m.carbSource).Quantity(), 1e-12)

	// AND it plateaus once the staging pools are empty
	require.NotEmpty(t, plateau)
	for _, bg := range plateau {
		assert.Equal(t, plateau[0], bg)
	}
}

func TestModel_Bolus_ConservesInsulin(t *testing.T) {
	p := DefaultParameters()
	p.InsulinConsumption = 0
	col := &event.Collector{}
	m := newModel(t, p, WithEmitter(col))

	execute(t, m, level(event.SignalBolusRequest, 0, 4))
	assert.InDelta(t, 4.0, m.Signals()[event.SignalInsulinOnBoard], 1e-12)
	delivered, ok := col.Last(event.SignalDeliveredInsulinBolus)
	require.True(t, ok)
	assert.Equal(t, 4.0, delivered.Level)

	net := m.Network()
	insulinTotal := func() float64 {
		return net.Depot(m.insulinSource).Quantity() +
			net.Compartment(CompartmentSubcutaneousInsulin).Quantity() +
			net.Depot(m.insulin).Quantity() +
			net.Depot(m.remote).Quantity() +
			net.Depot(m.insulinSink).Quantity()
	}
	iob := 4.0
	for i := 1; i <= 30; i++ {
		require.NoError(t, m.Step(5))
		testutil.AssertNear(t, "insulin total", 0, insulinTotal(), 1e-9)
		now := m.Signals()[event.SignalInsulinOnBoard]
		assert.LessOrEqual(t, now, iob+1e-12)
		iob = now
	}
	testutil.AssertNear(t, "insulin on board", 0, iob, 1e-9)
	assert.Greater(t, net.Depot(m.insulinSink).Quantity(), 0.0)
}

func TestModel_Bolus_LowersGlucose(t *testing.T) {
	withBolus := newModel(t, DefaultParameters())
	without := newModel(t, DefaultParameters())
	execute(t, withBolus, level(event.SignalBolusRequest, 0, 6))

	require.NoError(t, withBolus.Step(240))
	require.NoError(t, without.Step(240))
	assert.Less(t, withBolus.Signals()[event.SignalBloodGlucose], without.Signals()[event.SignalBloodGlucose])
}

func TestModel_BasalDelivery_IndependentOfMicroSteps(t *testing.T) {
	// GIVEN the same basal rate under 1 and 100 micro-steps
	var totals []float64
	for _, n := range []int{1, 100} {
		col := &event.Collector{}
		m := newModel(t, DefaultParameters(), WithMicroSteps(n), WithEmitter(col))
		execute(t, m, level(event.SignalBasalRateRequest, 0, 1.2))
		e, ok := col.Last(event.SignalDeliveredInsulinBasalRate)
		require.True(t, ok)
		assert.Equal(t, 1.2, e.Level)

		require.NoError(t, m.Step(60))
		totals = append(totals, -m.Network().Depot(m.insulinSource).Quantity())
	}

	// THEN the delivered insulin is identical: 12 pulses of 0.1 U
	assert.InDelta(t, 1.2, totals[0], 1e-12)
	assert.Equal(t, totals[0], totals[1])
}

func TestModel_BasalRate_NegativeStops(t *testing.T) {
	m := newModel(t, DefaultParameters())
	execute(t, m, level(event.SignalBasalRateRequest, 0, 1.2))
	require.NoError(t, m.Step(30))
	execute(t, m, level(event.SignalBasalRateRequest, 30, -3))
	delivered := m.Network().Depot(m.insulinSource).Quantity()
	require.NoError(t, m.Step(60))
	assert.Equal(t, delivered, m.Network().Depot(m.insulinSource).Quantity())
}

func TestModel_BasalStop_ScheduledAheadKeepsEarlierPulses(t *testing.T) {
	// GIVEN 1.2 U/hr from 0 and a stop requested ahead of time for t=30
	m := newModel(t, DefaultParameters())
	execute(t, m, level(event.SignalBasalRateRequest, 0, 1.2))
	execute(t, m, level(event.SignalBasalRateRequest, 30, 0))

	// WHEN the model steps over the stop
	require.NoError(t, m.Step(60))

	// THEN the six pulses before the stop were delivered
	assert.InDelta(t, 0.6, -m.Network().Depot(m.insulinSource).Quantity(), 1e-12)
}

func TestModel_PhysicalActivity_SetsLevel(t *testing.T) {
	m := newModel(t, DefaultParameters())
	execute(t, m, level(event.SignalPhysicalActivityLevel, 0, 0.5))
	assert.InDelta(t, 0.5, m.Network().Depot(m.activityLevel).Quantity(), 1e-12)

	require.NoError(t, m.Step(30))
	assert.Greater(t, m.Network().Depot(m.activity).Quantity(), 0.0, "activity effect builds up")

	execute(t, m, level(event.SignalPhysicalActivityLevel, 30, 0.2))
	assert.InDelta(t, 0.2, m.Network().Depot(m.activityLevel).Quantity(), 1e-12)
	net := m.Network()
	total := net.Depot(m.activitySource).Quantity() + net.Depot(m.activityLevel).Quantity() +
		net.Depot(m.activity).Quantity() + net.Depot(m.activitySink).Quantity()
	assert.InDelta(t, 0.0, total, 1e-9, "activity units are conserved")
}

func TestModel_NonPositiveDoses_AreIgnored(t *testing.T) {
	m := newModel(t, DefaultParameters())
	depots := m.Network().DepotCount()
	execute(t, m, level(event.SignalBolusRequest, 0, 0))
	execute(t, m, level(event.SignalCarbRescue, 0, -5))
	assert.Equal(t, depots, m.Network().DepotCount())
}

func TestModel_New_ClampsParameters(t *testing.T) {
	p := DefaultParameters()
	p.PlasmaVolume = 0
	p.CarbAbsorptionTime = math.NaN()
	m := New(p)
	assert.Equal(t, 0.1, m.Parameters().PlasmaVolume)
	assert.Equal(t, DefaultParameters().CarbAbsorptionTime, m.Parameters().CarbAbsorptionTime)
}
