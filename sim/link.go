package sim

import (
	"math"
)

// Moderator pairs a referenced depot with the function that turns its
// quantity into a flow multiplier. The depot is referenced, not owned.
type Moderator struct {
	Depot DepotID
	Fn    ModerationFunction
}

// Link moves quantity from a source depot to a target depot according to one
// TransferFunction, integrated by one Integrator and scaled by zero or more
// moderators. It is owned by its source depot.
type Link struct {
	net        *Network
	source     DepotID
	target     DepotID
	transfer   TransferFunction
	integrator Integrator
	moderators []Moderator
	coef       float64
	shift      float64

	lastTime  float64
	delivered float64 // bounded links: amount taken from the source so far
	scheduled float64 // bounded links: unmoderated schedule covered so far

	touches []*Depot // depots this link may debit or credit
	staged  stagedTransfer
}

// stagedTransfer is what a link plans for the current step phase. Requests are
// resolved against every other request on the same depots before anything is
// staged, so the outcome does not depend on the order links run in.
type stagedTransfer struct {
	forward  bool
	giver    *Depot
	receiver *Depot
	request  float64
	given    float64
	received float64
	accepted float64

	eliminations []elimination
}

type elimination struct {
	depot   *Depot
	request float64
	applied float64
}

// LinkOption configures a Link at creation.
type LinkOption func(*Link)

// WithIntegrator overrides the default Gauss integrator.
func WithIntegrator(in Integrator) LinkOption {
	return func(l *Link) {
		if in != nil {
			l.integrator = in
		}
	}
}

// WithModerator appends a moderator. Moderators apply in registration order.
func WithModerator(depot DepotID, fn ModerationFunction) LinkOption {
	return func(l *Link) {
		l.moderators = append(l.moderators, Moderator{Depot: depot, Fn: fn})
	}
}

// WithConversion converts the amount leaving the source into target units
// as coef*x + shift. coef must be positive; non-positive values are ignored.
func WithConversion(coef, shift float64) LinkOption {
	return func(l *Link) {
		if coef > 0 {
			l.coef = coef
			l.shift = shift
		}
	}
}

func (l *Link) Source() DepotID            { return l.source }
func (l *Link) Target() DepotID            { return l.target }
func (l *Link) Transfer() TransferFunction { return l.transfer }
func (l *Link) Integrator() Integrator     { return l.integrator }
func (l *Link) LastTime() float64          { return l.lastTime }
func (l *Link) Moderators() []Moderator    { return append([]Moderator(nil), l.moderators...) }

// Delivered is the amount a bounded link has taken from its source so far.
func (l *Link) Delivered() float64 { return l.delivered }

func (l *Link) touch(d *Depot) {
	for _, t := range l.touches {
		if t == d {
			return
		}
	}
	l.touches = append(l.touches, d)
	d.touch(l)
}

// owed is the part of a bounded link's amount not yet taken from the source.
func (l *Link) owed(src, dst DepotView) float64 {
	if !l.transfer.Window().Bounded() {
		return 0
	}
	return l.transfer.Amount(src, dst) - l.delivered
}

// plan computes the transfer for the interval (lastTime, now] from committed
// state only. Nothing is staged on depots until the requests are resolved.
func (l *Link) plan(now float64) {
	l.staged = stagedTransfer{}
	defer func() { l.lastTime = now }()

	w := l.transfer.Window()
	if !w.Started(now) {
		return
	}
	src, dst := l.net.Depot(l.source), l.net.Depot(l.target)
	if src == nil || dst == nil {
		return
	}

	past := math.Max(l.lastTime, w.Start)
	future := math.Min(now, w.End())
	moderated := len(l.moderators) > 0

	var flow float64
	switch {
	case future-past < Epsilon:
		// Degenerate window. An unmoderated bounded link past its end that
		// still owes part of its amount (the source was short earlier)
		// flushes it. Moderated links only ever follow their schedule.
		if !w.Bounded() || now < w.End() || moderated {
			return
		}
		owed := l.owed(src, dst)
		if owed <= Epsilon {
			return
		}
		flow = -owed
		past = future
	case w.Bounded() && future >= w.End():
		// Final window: close the schedule exactly. Unmoderated links also
		// catch up on earlier shortfalls so the total equals Amount.
		amount := l.transfer.Amount(src, dst)
		if moderated {
			flow = -(amount - l.scheduled)
		} else {
			flow = -(amount - l.delivered)
		}
		l.scheduled = amount
	default:
		base := l.transfer.Amount(src, dst)
		flow = -base * l.integrator.Integrate(l.transfer.Rate, past, future)
		if w.Bounded() {
			l.scheduled -= flow
		}
	}

	width := future - past
	for _, m := range l.moderators {
		md := l.net.Depot(m.Depot)
		if md == nil {
			continue
		}
		q := md.Quantity()
		flow *= m.Fn.Moderation(q)
		if e := m.Fn.Elimination(q) * width; e > 0 {
			l.staged.eliminations = append(l.staged.eliminations, elimination{depot: md, request: e})
		}
	}

	if math.Abs(flow) < Epsilon*Epsilon || math.IsNaN(flow) {
		return
	}

	s := &l.staged
	s.forward = flow < 0
	s.giver, s.receiver = src, dst
	if !s.forward {
		s.giver, s.receiver = dst, src
	}
	s.request = math.Abs(flow)
}

// convert takes the resolved share of every debit request and converts what
// leaves the giver into receiver units.
func (l *Link) convert() {
	s := &l.staged
	for i := range s.eliminations {
		e := &s.eliminations[i]
		e.applied = e.request * e.depot.debitScale
	}
	if s.giver == nil {
		return
	}
	s.given = s.request * s.giver.debitScale
	s.received = s.given
	if s.forward {
		s.received = math.Max(0, l.coef*s.given+l.shift)
	}
}

// settle applies the receiver's resolved share. When the receiver cannot take
// everything, the giver keeps the part whose conversion was refused.
func (l *Link) settle() {
	s := &l.staged
	if s.giver == nil {
		return
	}
	s.accepted = s.received * s.receiver.creditScale
	if s.accepted < s.received {
		given := s.accepted
		if s.forward {
			given = (s.accepted - l.shift) / l.coef
		}
		s.given = math.Max(0, math.Min(given, s.given))
		switch {
		case s.given == 0:
			s.accepted = 0
		case s.forward:
			s.accepted = math.Min(s.accepted, math.Max(0, l.coef*s.given+l.shift))
		default:
			s.accepted = s.given
		}
	}

	if s.forward {
		l.delivered += s.given
	} else {
		l.delivered -= s.given
	}
}

// debitRequest is what this link asks to take from d in the current phase.
func (l *Link) debitRequest(d *Depot) float64 {
	s := &l.staged
	var sum float64
	if s.giver == d {
		sum += s.request
	}
	for _, e := range s.eliminations {
		if e.depot == d {
			sum += e.request
		}
	}
	return sum
}

// creditRequest is what this link offers to d in the current phase.
func (l *Link) creditRequest(d *Depot) float64 {
	if l.staged.receiver == d {
		return l.staged.received
	}
	return 0
}

// debitOn is the settled amount this link takes from d.
func (l *Link) debitOn(d *Depot) float64 {
	s := &l.staged
	var sum float64
	if s.giver == d {
		sum += s.given
	}
	for _, e := range s.eliminations {
		if e.depot == d {
			sum += e.applied
		}
	}
	return sum
}

// creditOn is the settled amount this link gives to d.
func (l *Link) creditOn(d *Depot) float64 {
	if l.staged.receiver == d {
		return l.staged.accepted
	}
	return 0
}

// expired reports whether the link has finished its work. Unbounded links
// never expire. A bounded link expires once its window has elapsed and it has
// delivered its amount, or its source has nothing left to give. A moderated
// bounded link expires with its window: the moderators decide how much of the
// schedule moved and nothing is owed afterwards.
func (l *Link) expired() bool {
	w := l.transfer.Window()
	if !w.Bounded() || l.lastTime < w.End() {
		return false
	}
	if len(l.moderators) > 0 {
		return true
	}
	src, dst := l.net.Depot(l.source), l.net.Depot(l.target)
	if src == nil || dst == nil {
		return true
	}
	return l.owed(src, dst) <= Epsilon || src.Quantity() <= Epsilon
}
