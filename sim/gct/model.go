// Package gct implements the glucose/insulin/carbohydrate discrete model on
// top of the sim compartment engine.
//
// The model keeps persistent pools for plasma and interstitial glucose,
// plasma and remote insulin and physical activity. Every bolus, basal pulse
// and carbohydrate intake creates a short-lived staging depot with a
// two-stage absorption chain into the matching persistent pool; the engine
// prunes the chain once it has delivered everything.
package gct

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/SmartCGMS/core-sub004/sim"
	"github.com/SmartCGMS/core-sub004/sim/event"
)

// ErrIllegalStateChange reports a call that would move the model backwards in
// time or repeat its initialization. The model state is left unchanged.
var ErrIllegalStateChange = errors.New("illegal state change")

// Compartment names of the model graph.
const (
	CompartmentBoundary            = "boundary"
	CompartmentPlasmaGlucose       = "plasma_glucose"
	CompartmentInterstitialGlucose = "interstitial_glucose"
	CompartmentCarbs               = "carbs"
	CompartmentSubcutaneousInsulin = "subcutaneous_insulin"
	CompartmentPlasmaInsulin       = "plasma_insulin"
	CompartmentRemoteInsulin       = "remote_insulin"
	CompartmentActivity            = "activity"
)

// DefaultMicroSteps is the number of micro-steps per Step unless configured.
const DefaultMicroSteps = 10

// Observer receives engine activity. Implemented by metrics.Collector.
type Observer interface {
	ObserveStep(microSteps int)
	ObserveDosage(signal event.Signal, amount float64)
	ObserveRejected(signal event.Signal)
	ObserveNetwork(depots, links, pruned int)
}

type nopObserver struct{}

func (nopObserver) ObserveStep(int)                     {}
func (nopObserver) ObserveDosage(event.Signal, float64) {}
func (nopObserver) ObserveRejected(event.Signal)        {}
func (nopObserver) ObserveNetwork(int, int, int)        {}

// Option configures a Model.
type Option func(*Model)

// WithMicroSteps sets the number of micro-steps each Step is divided into.
func WithMicroSteps(n int) Option {
	return func(m *Model) {
		if n > 0 {
			m.microSteps = n
		}
	}
}

// WithWorkers lets compartments step and commit concurrently.
func WithWorkers(n int) Option {
	return func(m *Model) { m.workers = n }
}

// WithIntegrator selects the quadrature used by every link of the model.
func WithIntegrator(in sim.Integrator) Option {
	return func(m *Model) {
		if in != nil {
			m.integrator = in
		}
	}
}

// WithEmitter sets where signals are emitted.
func WithEmitter(e event.Emitter) Option {
	return func(m *Model) {
		if e != nil {
			m.emitter = e
		}
	}
}

// WithObserver attaches an activity observer such as a metrics collector.
func WithObserver(o Observer) Option {
	return func(m *Model) {
		if o != nil {
			m.observer = o
		}
	}
}

// Model is the discrete GCT model. It is driven synchronously: Initialize
// once, then interleaved Step and Execute calls.
//
// Thread-safety: NOT thread-safe. Must be called from a single goroutine.
type Model struct {
	params     Parameters
	microSteps int
	workers    int
	integrator sim.Integrator
	emitter    event.Emitter
	observer   Observer

	net         *sim.Network
	device      *sim.InfusionDevice
	initialized bool
	segmentID   uint64
	time        float64 // committed time

	// boundary depots, one source/sink per substance
	glucoseSource, glucoseSink sim.DepotID
	carbSource                 sim.DepotID
	insulinSource, insulinSink sim.DepotID
	activitySource             sim.DepotID
	activitySink               sim.DepotID

	// persistent pools
	plasma, interstitial sim.DepotID
	insulin, remote      sim.DepotID
	activityLevel        sim.DepotID
	activity             sim.DepotID
}

// New creates an uninitialized model. Parameters are clamped to their
// minimum valid magnitudes here, before first use.
func New(params Parameters, opts ...Option) *Model {
	m := &Model{
		params:     clampAndReport(params),
		microSteps: DefaultMicroSteps,
		integrator: sim.DefaultIntegrator(),
		emitter:    event.Discard,
		observer:   nopObserver{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Parameters returns the effective (clamped) parameters.
func (m *Model) Parameters() Parameters { return m.params }

// Time is the last committed simulation time.
func (m *Model) Time() float64 { return m.time }

// SegmentID is the segment the model was initialized for.
func (m *Model) SegmentID() uint64 { return m.segmentID }

// Network exposes the underlying engine, e.g. for inspection in tests.
func (m *Model) Network() *sim.Network { return m.net }

// Initialize creates the baseline persistent depots and links at time t0.
// A second call fails with ErrIllegalStateChange.
func (m *Model) Initialize(t0 float64, segmentID uint64) error {
	if m.initialized {
		return fmt.Errorf("%w: model already initialized for segment %d", ErrIllegalStateChange, m.segmentID)
	}
	if math.IsNaN(t0) || math.IsInf(t0, 0) {
		return fmt.Errorf("%w: initial time %v is not finite", ErrIllegalStateChange, t0)
	}

	net := sim.NewNetwork(sim.WithWorkers(m.workers))
	b := &builder{net: net, integrator: m.integrator}
	m.buildBaseline(b, t0)
	if b.err != nil {
		return fmt.Errorf("building baseline graph: %w", b.err)
	}

	m.net = net
	m.device = sim.NewInfusionDevice(t0, m.params.BasalPeriod, m.params.InsulinAbsorptionTime)
	m.time = t0
	m.segmentID = segmentID
	m.initialized = true
	m.observer.ObserveNetwork(net.DepotCount(), net.LinkCount(), 0)
	logrus.Infof("initialized GCT model for segment %d at t=%g (%d depots, %d links)",
		segmentID, t0, net.DepotCount(), net.LinkCount())
	return nil
}

func (m *Model) buildBaseline(b *builder, t0 float64) {
	p := m.params
	boundary := func(name string) sim.DepotID {
		return b.depot(CompartmentBoundary, sim.DepotConfig{Name: name, Persistent: true, AllowNegative: true})
	}
	m.glucoseSource = boundary("glucose_source")
	m.glucoseSink = boundary("glucose_sink")
	m.carbSource = boundary("carb_source")
	m.insulinSource = boundary("insulin_source")
	m.insulinSink = boundary("insulin_sink")
	m.activitySource = boundary("activity_source")
	m.activitySink = boundary("activity_sink")

	m.plasma = b.depot(CompartmentPlasmaGlucose, sim.DepotConfig{
		Name: "q1", Quantity: p.InitialGlucose * p.PlasmaVolume, Volume: p.PlasmaVolume, Persistent: true,
	})
	m.interstitial = b.depot(CompartmentInterstitialGlucose, sim.DepotConfig{
		Name: "qsc", Quantity: p.InitialInterstitialGlucose * p.InterstitialVolume, Volume: p.InterstitialVolume, Persistent: true,
	})
	m.insulin = b.depot(CompartmentPlasmaInsulin, sim.DepotConfig{
		Name: "i", Quantity: p.InitialInsulin, Volume: p.InsulinVolume, Persistent: true,
	})
	m.remote = b.depot(CompartmentRemoteInsulin, sim.DepotConfig{
		Name: "x", Quantity: p.InitialRemoteInsulin, Persistent: true,
	})
	m.activityLevel = b.depot(CompartmentActivity, sim.DepotConfig{Name: "activity_level", Persistent: true})
	m.activity = b.depot(CompartmentActivity, sim.DepotConfig{Name: "activity_effect", Persistent: true})
	// staging compartments start empty and only hold transient chains
	b.net.Compartment(CompartmentCarbs)
	b.net.Compartment(CompartmentSubcutaneousInsulin)

	// glucose
	b.link(m.glucoseSource, m.plasma, sim.NewConstantUnboundedTransfer(t0, p.Production),
		sim.WithModerator(m.remote, sim.GaussianBaseModeration{Sigma: p.ProductionSigma}))
	b.link(m.plasma, m.glucoseSink, sim.NewProportionalTransfer(t0, p.Utilization))
	b.link(m.plasma, m.glucoseSink, sim.NewProportionalTransfer(t0, 1),
		sim.WithModerator(m.remote, sim.LinearEliminatingModeration{K: p.InsulinSensitivity, KE: p.InsulinConsumption}),
		sim.WithModerator(m.activity, sim.LinearBaseModeration{K: p.ActivitySensitivity}))
	b.link(m.plasma, m.glucoseSink, sim.NewThresholdTransfer(t0, p.RenalRate, p.RenalThreshold*p.PlasmaVolume))
	b.link(m.plasma, m.interstitial, sim.NewDiffusionTransfer(t0, p.Diffusion))

	// insulin
	b.link(m.insulin, m.remote, sim.NewProportionalTransfer(t0, p.InsulinTransfer))
	b.link(m.insulin, m.insulinSink, sim.NewProportionalTransfer(t0, p.InsulinElimination))
	b.link(m.remote, m.insulinSink, sim.NewProportionalTransfer(t0, p.RemoteElimination))

	// physical activity
	b.link(m.activitySource, m.activity, sim.NewConstantUnboundedTransfer(t0, 1),
		sim.WithModerator(m.activityLevel, sim.ActivityProductionModeration{K: p.ActivityProduction}))
	b.link(m.activity, m.activitySink, sim.NewProportionalTransfer(t0, p.ActivityElimination))
}

// Step advances the model by dt minutes in micro-steps, then emits the
// current state once. Step(0) only emits.
func (m *Model) Step(dt float64) error {
	if !m.initialized {
		return fmt.Errorf("%w: step before initialization", ErrIllegalStateChange)
	}
	if dt < 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		return fmt.Errorf("%w: invalid step %v", ErrIllegalStateChange, dt)
	}

	if dt > 0 {
		start := m.time
		pruned := 0
		for i := 1; i <= m.microSteps; i++ {
			now := start + dt*float64(i)/float64(m.microSteps)
			for _, dose := range m.device.Poll(now) {
				if err := m.absorbInsulin(dose.Time, dose.Amount, dose.AbsorptionTime); err != nil {
					return err
				}
				m.observer.ObserveDosage(event.SignalDeliveredInsulinBasalRate, dose.Amount)
			}
			stats, err := m.net.Advance(now)
			if err != nil {
				return fmt.Errorf("micro-step at t=%g: %w", now, err)
			}
			pruned += stats.PrunedDepots
		}
		m.time = start + dt
		m.observer.ObserveStep(m.microSteps)
		m.observer.ObserveNetwork(m.net.DepotCount(), m.net.LinkCount(), pruned)
	}
	return m.emitState()
}

// Signals returns the current derived signals from committed state.
func (m *Model) Signals() map[event.Signal]float64 {
	return map[event.Signal]float64{
		event.SignalBloodGlucose:        m.net.Depot(m.plasma).Concentration(),
		event.SignalInterstitialGlucose: m.net.Depot(m.interstitial).Concentration(),
		event.SignalInsulinOnBoard:      m.net.Compartment(CompartmentSubcutaneousInsulin).Quantity(),
		event.SignalCarbsOnBoard:        m.net.Compartment(CompartmentCarbs).Quantity(),
	}
}

var emittedSignals = []event.Signal{
	event.SignalBloodGlucose,
	event.SignalInterstitialGlucose,
	event.SignalInsulinOnBoard,
	event.SignalCarbsOnBoard,
}

func (m *Model) emitState() error {
	values := m.Signals()
	for _, s := range emittedSignals {
		if err := m.emitter.Emit(event.NewLevel(s, m.time, values[s], m.segmentID)); err != nil {
			return fmt.Errorf("emitting %s: %w", s, err)
		}
	}
	return nil
}

// Execute consumes an inbound Level event. It reports whether the event was
// consumed; unconsumed events are left for the caller to pass through.
// Requests timestamped before the committed time fail with
// ErrIllegalStateChange and leave the model unchanged.
func (m *Model) Execute(ev event.Event) (bool, error) {
	if ev.Kind != event.KindLevel {
		return false, nil
	}
	switch ev.Signal {
	case event.SignalBasalRateRequest, event.SignalPhysicalActivityLevel,
		event.SignalBolusRequest, event.SignalCarbIntake, event.SignalCarbRescue:
	default:
		return false, nil
	}

	if !m.initialized {
		m.observer.ObserveRejected(ev.Signal)
		return false, fmt.Errorf("%w: %s before initialization", ErrIllegalStateChange, ev.Signal)
	}
	if math.IsNaN(ev.DeviceTime) || ev.DeviceTime < m.time {
		m.observer.ObserveRejected(ev.Signal)
		logrus.Warnf("rejected retroactive %s at t=%g (committed t=%g)", ev.Signal, ev.DeviceTime, m.time)
		return false, fmt.Errorf("%w: %s at t=%g precedes committed t=%g", ErrIllegalStateChange, ev.Signal, ev.DeviceTime, m.time)
	}
	if math.IsNaN(ev.Level) || math.IsInf(ev.Level, 0) {
		m.observer.ObserveRejected(ev.Signal)
		return false, fmt.Errorf("%s: level %v is not finite", ev.Signal, ev.Level)
	}

	switch ev.Signal {
	case event.SignalBasalRateRequest:
		return true, m.setBasal(ev)
	case event.SignalPhysicalActivityLevel:
		return true, m.setActivity(ev)
	case event.SignalBolusRequest:
		return true, m.bolus(ev)
	default:
		return true, m.carbs(ev)
	}
}

// setBasal changes the pump rate; the level is in U/hr.
func (m *Model) setBasal(ev event.Event) error {
	rate := math.Max(0, ev.Level)
	m.device.SetRate(ev.DeviceTime, rate/60.0)
	logrus.Debugf("basal rate set to %g U/hr at t=%g", rate, ev.DeviceTime)
	return m.emitter.Emit(event.NewLevel(event.SignalDeliveredInsulinBasalRate, ev.DeviceTime, rate, m.segmentID))
}

// setActivity moves the activity level depot to the requested level.
func (m *Model) setActivity(ev event.Event) error {
	level := math.Max(0, ev.Level)
	delta := level - m.net.Depot(m.activityLevel).Quantity()
	if _, err := m.net.Transfer(m.activitySource, m.activityLevel, delta); err != nil {
		return fmt.Errorf("setting activity level: %w", err)
	}
	return nil
}

func (m *Model) bolus(ev event.Event) error {
	if ev.Level <= 0 {
		logrus.Warnf("ignoring non-positive bolus %g at t=%g", ev.Level, ev.DeviceTime)
		return nil
	}
	for _, dose := range m.split(ev.DeviceTime, ev.Level, m.params.BolusSpread) {
		if err := m.absorbInsulin(dose.Time, dose.Amount, m.params.InsulinAbsorptionTime); err != nil {
			return err
		}
	}
	m.observer.ObserveDosage(event.SignalDeliveredInsulinBolus, ev.Level)
	return m.emitter.Emit(event.NewLevel(event.SignalDeliveredInsulinBolus, ev.DeviceTime, ev.Level, m.segmentID))
}

func (m *Model) carbs(ev event.Event) error {
	if ev.Level <= 0 {
		logrus.Warnf("ignoring non-positive %s %g at t=%g", ev.Signal, ev.Level, ev.DeviceTime)
		return nil
	}
	for _, dose := range m.split(ev.DeviceTime, ev.Level, m.params.CarbSpread) {
		if err := m.absorbCarbs(dose.Time, dose.Amount); err != nil {
			return err
		}
	}
	m.observer.ObserveDosage(ev.Signal, ev.Level)
	return nil
}

// split divides amount into SubDoses evenly spaced sub-doses over spread
// minutes starting at t.
func (m *Model) split(t, amount, spread float64) []sim.Dosage {
	n := int(m.params.SubDoses)
	doses := make([]sim.Dosage, n)
	for i := range doses {
		doses[i] = sim.Dosage{Time: t + spread*float64(i)/float64(n), Amount: amount / float64(n)}
	}
	return doses
}

func (m *Model) absorbInsulin(start, amount, stage float64) error {
	return m.absorb(CompartmentSubcutaneousInsulin, m.insulinSource, m.insulin, start, amount, stage, 1)
}

func (m *Model) absorbCarbs(start, amount float64) error {
	return m.absorb(CompartmentCarbs, m.carbSource, m.plasma, start, amount, m.params.CarbAbsorptionTime, m.params.CarbToGlucose)
}

// absorb materializes a staging depot holding amount plus a two-stage chain
// into pool: a uniform transfer to a second staging depot over one stage,
// then a triangular transfer peaking at the end of the first stage. The
// second stage never outruns the first, so neither link is starved.
func (m *Model) absorb(compartment string, source, pool sim.DepotID, start, amount, stage, coef float64) error {
	b := &builder{net: m.net, integrator: m.integrator}
	first := b.depot(compartment, sim.DepotConfig{Name: compartment + "_stage1"})
	second := b.depot(compartment, sim.DepotConfig{Name: compartment + "_stage2"})
	b.link(first, second, sim.NewConstantTransfer(start, stage, amount))
	b.link(second, pool, sim.NewTriangularTransfer(start, 2*stage, stage, amount), sim.WithConversion(coef, 0))
	if b.err != nil {
		return fmt.Errorf("creating %s absorption chain: %w", compartment, b.err)
	}
	if _, err := m.net.Transfer(source, first, amount); err != nil {
		return fmt.Errorf("filling %s staging depot: %w", compartment, err)
	}
	logrus.Debugf("%s absorption of %g starting at t=%g", compartment, amount, start)
	return nil
}

// builder collects the first error while wiring depots and links.
type builder struct {
	net        *sim.Network
	integrator sim.Integrator
	err        error
}

func (b *builder) depot(compartment string, cfg sim.DepotConfig) sim.DepotID {
	if b.err != nil {
		return 0
	}
	d, err := b.net.AddDepot(compartment, cfg)
	if err != nil {
		b.err = err
		return 0
	}
	return d.ID()
}

func (b *builder) link(src, dst sim.DepotID, tf sim.TransferFunction, opts ...sim.LinkOption) {
	if b.err != nil {
		return
	}
	opts = append([]sim.LinkOption{sim.WithIntegrator(b.integrator)}, opts...)
	if _, err := b.net.Link(src, dst, tf, opts...); err != nil {
		b.err = err
	}
}
