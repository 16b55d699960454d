package gct

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Parameters is the fixed vector of named model constants. Time is in
// minutes, glucose in mmol, carbohydrates in g, insulin in U, volumes in L.
type Parameters struct {
	PlasmaVolume       float64 `yaml:"plasma_volume"`       // glucose distribution volume
	InterstitialVolume float64 `yaml:"interstitial_volume"` // interstitial glucose volume
	InsulinVolume      float64 `yaml:"insulin_volume"`      // plasma insulin distribution volume

	InitialGlucose             float64 `yaml:"initial_glucose"`              // mmol/L
	InitialInterstitialGlucose float64 `yaml:"initial_interstitial_glucose"` // mmol/L
	InitialInsulin             float64 `yaml:"initial_insulin"`              // U in plasma
	InitialRemoteInsulin       float64 `yaml:"initial_remote_insulin"`       // U acting remotely

	Diffusion             float64 `yaml:"diffusion_rate"`               // plasma <-> interstitial, 1/min
	Production            float64 `yaml:"endogenous_production"`        // mmol/min
	ProductionSigma       float64 `yaml:"production_suppression_sigma"` // U of remote insulin
	Utilization           float64 `yaml:"basal_utilization"`            // insulin-independent, 1/min
	InsulinSensitivity    float64 `yaml:"insulin_sensitivity"`          // 1/(U min)
	InsulinConsumption    float64 `yaml:"insulin_consumption"`          // remote insulin used by action, 1/min
	ActivitySensitivity   float64 `yaml:"activity_sensitivity"`         // utilization gain per activity unit
	RenalThreshold        float64 `yaml:"renal_threshold"`              // mmol/L
	RenalRate             float64 `yaml:"renal_rate"`                   // 1/min
	InsulinTransfer       float64 `yaml:"insulin_transfer_rate"`        // plasma -> remote, 1/min
	InsulinElimination    float64 `yaml:"insulin_elimination_rate"`     // plasma clearance, 1/min
	RemoteElimination     float64 `yaml:"remote_insulin_elimination"`   // 1/min
	ActivityProduction    float64 `yaml:"activity_production"`          // activity units/min per level
	ActivityElimination   float64 `yaml:"activity_elimination"`         // 1/min
	CarbAbsorptionTime    float64 `yaml:"carb_absorption_time"`         // per absorption stage, min
	InsulinAbsorptionTime float64 `yaml:"insulin_absorption_time"`      // per absorption stage, min
	CarbToGlucose         float64 `yaml:"carb_to_glucose"`              // mmol per g
	BasalPeriod           float64 `yaml:"basal_period"`                 // pump pulse period, min
	SubDoses              float64 `yaml:"sub_doses"`                    // bolus/carb split count
	BolusSpread           float64 `yaml:"bolus_spread"`                 // min over which a bolus is given
	CarbSpread            float64 `yaml:"carb_spread"`                  // min over which a meal is eaten
}

// paramSpec binds a parameter to its vector position, default and minimum.
type paramSpec struct {
	name  string
	def   float64
	min   float64
	field func(*Parameters) *float64
}

// paramSpecs is the canonical parameter order used by Vector and FromVector.
var paramSpecs = []paramSpec{
	{"plasma_volume", 12.0, 0.1, func(p *Parameters) *float64 { return &p.PlasmaVolume }},
	{"interstitial_volume", 6.0, 0.1, func(p *Parameters) *float64 { return &p.InterstitialVolume }},
	{"insulin_volume", 12.0, 0.1, func(p *Parameters) *float64 { return &p.InsulinVolume }},
	{"initial_glucose", 5.0, 0, func(p *Parameters) *float64 { return &p.InitialGlucose }},
	{"initial_interstitial_glucose", 5.0, 0, func(p *Parameters) *float64 { return &p.InitialInterstitialGlucose }},
	{"initial_insulin", 0, 0, func(p *Parameters) *float64 { return &p.InitialInsulin }},
	{"initial_remote_insulin", 0, 0, func(p *Parameters) *float64 { return &p.InitialRemoteInsulin }},
	{"diffusion_rate", 0.05, 0, func(p *Parameters) *float64 { return &p.Diffusion }},
	{"endogenous_production", 0.6, 0, func(p *Parameters) *float64 { return &p.Production }},
	{"production_suppression_sigma", 2.0, 1e-3, func(p *Parameters) *float64 { return &p.ProductionSigma }},
	{"basal_utilization", 0.005, 0, func(p *Parameters) *float64 { return &p.Utilization }},
	{"insulin_sensitivity", 0.004, 0, func(p *Parameters) *float64 { return &p.InsulinSensitivity }},
	{"insulin_consumption", 0.002, 0, func(p *Parameters) *float64 { return &p.InsulinConsumption }},
	{"activity_sensitivity", 0.5, 0, func(p *Parameters) *float64 { return &p.ActivitySensitivity }},
	{"renal_threshold", 10.0, 0, func(p *Parameters) *float64 { return &p.RenalThreshold }},
	{"renal_rate", 0.01, 0, func(p *Parameters) *float64 { return &p.RenalRate }},
	{"insulin_transfer_rate", 0.03, 0, func(p *Parameters) *float64 { return &p.InsulinTransfer }},
	{"insulin_elimination_rate", 0.05, 0, func(p *Parameters) *float64 { return &p.InsulinElimination }},
	{"remote_insulin_elimination", 0.02, 0, func(p *Parameters) *float64 { return &p.RemoteElimination }},
	{"activity_production", 0.1, 0, func(p *Parameters) *float64 { return &p.ActivityProduction }},
	{"activity_elimination", 0.05, 0, func(p *Parameters) *float64 { return &p.ActivityElimination }},
	{"carb_absorption_time", 40.0, 1, func(p *Parameters) *float64 { return &p.CarbAbsorptionTime }},
	{"insulin_absorption_time", 50.0, 1, func(p *Parameters) *float64 { return &p.InsulinAbsorptionTime }},
	{"carb_to_glucose", 1000.0 / 180.156, 0, func(p *Parameters) *float64 { return &p.CarbToGlucose }},
	{"basal_period", 5.0, 0.1, func(p *Parameters) *float64 { return &p.BasalPeriod }},
	{"sub_doses", 5, 1, func(p *Parameters) *float64 { return &p.SubDoses }},
	{"bolus_spread", 5.0, 0, func(p *Parameters) *float64 { return &p.BolusSpread }},
	{"carb_spread", 10.0, 0, func(p *Parameters) *float64 { return &p.CarbSpread }},
}

// DefaultParameters returns a plausible adult parameter set.
func DefaultParameters() Parameters {
	var p Parameters
	for _, s := range paramSpecs {
		*s.field(&p) = s.def
	}
	return p
}

// ParameterNames lists parameter names in vector order.
func ParameterNames() []string {
	names := make([]string, len(paramSpecs))
	for i, s := range paramSpecs {
		names[i] = s.name
	}
	return names
}

// Vector returns the parameters in canonical order.
func (p Parameters) Vector() []float64 {
	out := make([]float64, len(paramSpecs))
	for i, s := range paramSpecs {
		out[i] = *s.field(&p)
	}
	return out
}

// FromVector builds Parameters from a vector in canonical order.
func FromVector(v []float64) (Parameters, error) {
	if len(v) != len(paramSpecs) {
		return Parameters{}, fmt.Errorf("parameter vector has %d values, want %d", len(v), len(paramSpecs))
	}
	var p Parameters
	for i, s := range paramSpecs {
		*s.field(&p) = v[i]
	}
	return p, nil
}

// Clamped returns a copy with every value raised to its minimum valid
// magnitude. NaN is replaced by the default. The names of adjusted
// parameters are returned so callers can report them.
//
// Physically meaningless values (a zero distribution volume, a zero
// absorption time) are clamped rather than rejected; downstream numeric
// guards rely on these minima.
func (p Parameters) Clamped() (Parameters, []string) {
	var adjusted []string
	for _, s := range paramSpecs {
		v := s.field(&p)
		switch {
		case math.IsNaN(*v) || math.IsInf(*v, 0):
			*v = s.def
			adjusted = append(adjusted, s.name)
		case *v < s.min:
			*v = s.min
			adjusted = append(adjusted, s.name)
		}
	}
	p.SubDoses = math.Round(p.SubDoses)
	return p, adjusted
}

// LoadParameters reads a YAML parameter file. Missing keys keep their
// defaults; unknown keys are rejected.
func LoadParameters(path string) (Parameters, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Parameters{}, fmt.Errorf("reading parameters: %w", err)
	}
	return ParseParameters(data)
}

// ParseParameters decodes YAML over the defaults with strict field checking.
func ParseParameters(data []byte) (Parameters, error) {
	p := DefaultParameters()
	if len(bytes.TrimSpace(data)) == 0 {
		return p, nil
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&p); err != nil {
		return Parameters{}, fmt.Errorf("parsing parameters: %w", err)
	}
	return p, nil
}

// clampAndReport clamps p and warns about every adjusted value.
func clampAndReport(p Parameters) Parameters {
	clamped, adjusted := p.Clamped()
	for _, name := range adjusted {
		logrus.Warnf("parameter %s out of range, clamped to minimum", name)
	}
	return clamped
}
