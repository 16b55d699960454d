package sim

import "math"

// ModerationFunction scales a Link's flow by the quantity q of a third depot
// and may eliminate part of that depot while doing so. Elimination is a rate
// per time unit; the Link multiplies it by the width of the stepped window.
type ModerationFunction interface {
	Moderation(q float64) float64
	Elimination(q float64) float64
}

// LinearModeration: q*k, no elimination.
type LinearModeration struct{ K float64 }

func (m LinearModeration) Moderation(q float64) float64 { return q * m.K }
func (LinearModeration) Elimination(float64) float64    { return 0 }

// LinearBaseModeration: 1 + q*k, no elimination.
type LinearBaseModeration struct{ K float64 }

func (m LinearBaseModeration) Moderation(q float64) float64 { return 1 + q*m.K }
func (LinearBaseModeration) Elimination(float64) float64    { return 0 }

// QuadraticModeration: 1 + q^2*k, no elimination.
type QuadraticModeration struct{ K float64 }

func (m QuadraticModeration) Moderation(q float64) float64 { return 1 + q*q*m.K }
func (QuadraticModeration) Elimination(float64) float64    { return 0 }

// ThresholdLinearModeration: max(0, q-threshold)*k, no elimination.
type ThresholdLinearModeration struct {
	K         float64
	Threshold float64
}

func (m ThresholdLinearModeration) Moderation(q float64) float64 {
	return math.Max(0, q-m.Threshold) * m.K
}
func (ThresholdLinearModeration) Elimination(float64) float64 { return 0 }

// LinearEliminatingModeration: q*k, eliminating q*ke. KE is a per-minute
// rate; the link removes Elimination(q) times the stepped width.
type LinearEliminatingModeration struct {
	K  float64
	KE float64
}

func (m LinearEliminatingModeration) Moderation(q float64) float64  { return q * m.K }
func (m LinearEliminatingModeration) Elimination(q float64) float64 { return q * m.KE }

// QuadraticEliminatingModeration: q*k, eliminating q^2*ke. KE is a per-minute
// rate; the link removes Elimination(q) times the stepped width.
type QuadraticEliminatingModeration struct {
	K  float64
	KE float64
}

func (m QuadraticEliminatingModeration) Moderation(q float64) float64  { return q * m.K }
func (m QuadraticEliminatingModeration) Elimination(q float64) float64 { return q * q * m.KE }

// GaussianBaseModeration: exp(-q^2 / 2 sigma^2), no elimination. Equals one at
// q = 0 and decays towards zero as q grows, which makes it a suppressor.
type GaussianBaseModeration struct{ Sigma float64 }

func (m GaussianBaseModeration) Moderation(q float64) float64 {
	if m.Sigma == 0 {
		if q == 0 {
			return 1
		}
		return 0
	}
	return math.Exp(-(q * q) / (2 * m.Sigma * m.Sigma))
}
func (GaussianBaseModeration) Elimination(float64) float64 { return 0 }

// ActivityProductionModeration is the empirical activity response
// max(0, 2.5*(q-0.05)*k), no elimination.
type ActivityProductionModeration struct{ K float64 }

func (m ActivityProductionModeration) Moderation(q float64) float64 {
	return math.Max(0, 2.5*(q-0.05)*m.K)
}
func (ActivityProductionModeration) Elimination(float64) float64 { return 0 }
