package sim

import (
	"math"
)

// Epsilon is the smallest window width or quantity the engine acts on.
const Epsilon = 1e-9

// DepotID is a stable handle of a depot within a Network. Handles are never reused.
type DepotID uint64

// DepotConfig describes a depot at creation time.
type DepotConfig struct {
	Name          string
	Quantity      float64 // initial quantity
	Volume        float64 // solution volume; 0 means concentration is undefined (reported as 0)
	Capacity      float64 // upper bound on quantity; 0 means unbounded
	Persistent    bool    // never pruned
	AllowNegative bool    // debits are never capped (boundary sources)
}

// Depot is a reservoir of a conserved quantity. It owns its outgoing links.
//
// Updates are two-phase: during the step phase links stage debits and credits,
// and commit publishes them. Committed state is what every link reads, so the
// step phase of different depots may run concurrently.
//
// When the links touching a depot together ask for more than it holds (or
// offer more than its capacity takes), every request gets the same share.
// Requests are summed in link registration order so the result is identical
// however the phases are scheduled.
type Depot struct {
	id            DepotID
	name          string
	compartment   string
	quantity      float64
	initial       float64
	volume        float64
	capacity      float64
	persistent    bool
	allowNegative bool

	debit       float64
	credit      float64
	debitScale  float64
	creditScale float64

	links    []*Link
	touching []*Link // links that may debit or credit this depot, in creation order
}

func newDepot(id DepotID, compartment string, cfg DepotConfig) *Depot {
	q := cfg.Quantity
	if !cfg.AllowNegative && q < 0 {
		q = 0
	}
	return &Depot{
		id:            id,
		name:          cfg.Name,
		compartment:   compartment,
		quantity:      q,
		initial:       q,
		volume:        cfg.Volume,
		capacity:      cfg.Capacity,
		persistent:    cfg.Persistent,
		allowNegative: cfg.AllowNegative,
	}
}

func (d *Depot) ID() DepotID              { return d.id }
func (d *Depot) Name() string             { return d.name }
func (d *Depot) Compartment() string      { return d.compartment }
func (d *Depot) Quantity() float64        { return d.quantity }
func (d *Depot) InitialQuantity() float64 { return d.initial }
func (d *Depot) Volume() float64          { return d.volume }
func (d *Depot) Persistent() bool         { return d.persistent }
func (d *Depot) AllowNegative() bool      { return d.allowNegative }

// Concentration is quantity per volume, or 0 for volumeless depots.
func (d *Depot) Concentration() float64 {
	if d.volume <= 0 {
		return 0
	}
	return d.quantity / d.volume
}

// Staged returns the quantity the next commit would publish.
func (d *Depot) Staged() float64 {
	return d.quantity + d.credit - d.debit
}

// Links returns the depot's outgoing links.
func (d *Depot) Links() []*Link {
	out := make([]*Link, len(d.links))
	copy(out, d.links)
	return out
}

// ModQuantity stages a signed delta outside the step phase and returns the
// delta actually applied.
//
// A debit exceeding what remains of the committed quantity (after debits
// already staged) is capped to that remainder unless the depot allows
// negative quantities. A credit is capped by Capacity when one is set.
// Credits staged are not available for debit until the next commit.
func (d *Depot) ModQuantity(delta float64) float64 {
	if delta >= 0 {
		if d.capacity > 0 {
			room := math.Max(0, d.capacity-d.quantity-d.credit)
			delta = math.Min(delta, room)
		}
		d.credit += delta
		return delta
	}

	want := -delta
	if !d.allowNegative {
		avail := math.Max(0, d.quantity-d.debit)
		want = math.Min(want, avail)
	}
	d.debit += want
	return -want
}

// ReturnQuantity stages an unconditional credit, refunding a shortfall the
// receiving side of a transfer could not accept.
func (d *Depot) ReturnQuantity(amount float64) {
	d.credit += amount
}

func (d *Depot) addLink(l *Link) {
	d.links = append(d.links, l)
}

func (d *Depot) touch(l *Link) {
	for _, t := range d.touching {
		if t == l {
			return
		}
	}
	d.touching = append(d.touching, l)
}

func (d *Depot) untouch(l *Link) {
	for i, t := range d.touching {
		if t == l {
			d.touching = append(d.touching[:i], d.touching[i+1:]...)
			return
		}
	}
}

// plan lets every outgoing link compute its transfer request.
func (d *Depot) plan(now float64) {
	for _, l := range d.links {
		l.plan(now)
	}
}

// resolveDebits sets the share of the requested debits this depot can honour
// from its committed quantity.
func (d *Depot) resolveDebits() {
	var total float64
	for _, l := range d.touching {
		total += l.debitRequest(d)
	}
	d.debitScale = 1
	if !d.allowNegative && total > d.quantity {
		d.debitScale = math.Max(0, d.quantity) / total
	}
}

func (d *Depot) convert() {
	for _, l := range d.links {
		l.convert()
	}
}

// resolveCredits sets the share of the offered credits that fits under
// Capacity.
func (d *Depot) resolveCredits() {
	d.creditScale = 1
	if d.capacity <= 0 {
		return
	}
	var total float64
	for _, l := range d.touching {
		total += l.creditRequest(d)
	}
	if room := math.Max(0, d.capacity-d.quantity); total > room {
		d.creditScale = room / total
	}
}

func (d *Depot) settle() {
	for _, l := range d.links {
		l.settle()
	}
}

// stage collects the settled debits and credits of every touching link.
func (d *Depot) stage() {
	for _, l := range d.touching {
		d.debit += l.debitOn(d)
		d.credit += l.creditOn(d)
	}
}

// publish moves staged debits and credits into the committed quantity.
func (d *Depot) publish() {
	d.quantity += d.credit - d.debit
	if !d.allowNegative && d.quantity < 0 {
		// rounding only; debits are capped before staging
		d.quantity = 0
	}
	d.debit, d.credit = 0, 0
}

// commit publishes the staged quantity and drops expired links. It returns
// the links removed.
func (d *Depot) commit() []*Link {
	d.publish()

	kept := d.links[:0]
	var removed []*Link
	for _, l := range d.links {
		if l.expired() {
			removed = append(removed, l)
			continue
		}
		kept = append(kept, l)
	}
	for i := len(kept); i < len(d.links); i++ {
		d.links[i] = nil
	}
	d.links = kept
	return removed
}

// prunable reports whether commit may remove this depot from its compartment.
func (d *Depot) prunable() bool {
	return !d.persistent && len(d.links) == 0 && math.Abs(d.quantity) <= Epsilon
}
