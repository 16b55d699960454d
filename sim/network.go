package sim

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrStaging is returned by operations that need committed state while a
// step phase is staged but not yet committed.
var ErrStaging = errors.New("network has an uncommitted step")

// Network is the arena that owns all compartments of a model and resolves
// depot handles. Links refer to depots only through DepotID.
//
// The handle index is written only outside the parallel phases: new depots
// are registered between micro-steps and pruned handles are forgotten after
// the commit barrier. Step and Commit therefore only read it.
//
// Thread-safety: NOT safe for concurrent use by callers. Step and Commit may
// fan out over compartments internally (see WithWorkers).
type Network struct {
	compartments []*Compartment
	byName       map[string]*Compartment
	depots       map[DepotID]*Depot
	nextID       DepotID
	workers      int
	staging      bool
}

// NetworkOption configures a Network.
type NetworkOption func(*Network)

// WithWorkers sets how many compartments are stepped and committed
// concurrently. Values below 2 run the phases sequentially.
func WithWorkers(n int) NetworkOption {
	return func(net *Network) { net.workers = n }
}

// NewNetwork creates an empty network.
func NewNetwork(opts ...NetworkOption) *Network {
	n := &Network{
		byName: make(map[string]*Compartment),
		depots: make(map[DepotID]*Depot),
		nextID: 1,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Compartment returns the named compartment, creating it on first use.
// Compartments keep their creation order, which is also their step order.
func (n *Network) Compartment(name string) *Compartment {
	if c, ok := n.byName[name]; ok {
		return c
	}
	c := &Compartment{name: name}
	n.byName[name] = c
	n.compartments = append(n.compartments, c)
	return c
}

// Compartments returns all compartments in creation order.
func (n *Network) Compartments() []*Compartment {
	out := make([]*Compartment, len(n.compartments))
	copy(out, n.compartments)
	return out
}

// AddDepot creates a depot in the named compartment.
func (n *Network) AddDepot(compartment string, cfg DepotConfig) (*Depot, error) {
	if n.staging {
		return nil, ErrStaging
	}
	if math.IsNaN(cfg.Quantity) || math.IsInf(cfg.Quantity, 0) {
		return nil, fmt.Errorf("depot %q: quantity must be finite, got %v", cfg.Name, cfg.Quantity)
	}
	id := n.nextID
	n.nextID++
	d := newDepot(id, compartment, cfg)
	n.Compartment(compartment).add(d)
	n.depots[id] = d
	logrus.Debugf("created depot %d %q in %q (q=%g, persistent=%v)", id, cfg.Name, compartment, d.quantity, cfg.Persistent)
	return d, nil
}

// Depot resolves a handle. Returns nil for unknown or pruned depots.
func (n *Network) Depot(id DepotID) *Depot {
	return n.depots[id]
}

// Link creates a link from src to dst, owned by src. The link's clock starts
// at the transfer window start, so a link created after its start catches up
// on its first step.
func (n *Network) Link(src, dst DepotID, tf TransferFunction, opts ...LinkOption) (*Link, error) {
	if n.staging {
		return nil, ErrStaging
	}
	if tf == nil {
		return nil, errors.New("link: nil transfer function")
	}
	s := n.Depot(src)
	if s == nil {
		return nil, fmt.Errorf("link: unknown source depot %d", src)
	}
	if n.Depot(dst) == nil {
		return nil, fmt.Errorf("link: unknown target depot %d", dst)
	}
	if src == dst {
		return nil, fmt.Errorf("link: source and target are the same depot %d", src)
	}
	l := &Link{
		net:        n,
		source:     src,
		target:     dst,
		transfer:   tf,
		integrator: DefaultIntegrator(),
		coef:       1,
		lastTime:   tf.Window().Start,
	}
	for _, opt := range opts {
		opt(l)
	}
	for _, m := range l.moderators {
		if n.Depot(m.Depot) == nil {
			return nil, fmt.Errorf("link: unknown moderator depot %d", m.Depot)
		}
	}
	s.addLink(l)
	l.touch(s)
	l.touch(n.Depot(dst))
	for _, m := range l.moderators {
		l.touch(n.Depot(m.Depot))
	}
	return l, nil
}

// Transfer moves amount from src to dst immediately, on committed state.
// The debit is capped like any other transfer; the amount actually moved is
// returned. Used for instantaneous events such as filling a staging depot.
func (n *Network) Transfer(src, dst DepotID, amount float64) (float64, error) {
	if n.staging {
		return 0, ErrStaging
	}
	s, d := n.Depot(src), n.Depot(dst)
	if s == nil || d == nil {
		return 0, fmt.Errorf("transfer: unknown depot %d or %d", src, dst)
	}
	if amount < 0 {
		s, d = d, s
		amount = -amount
	}
	given := -s.ModQuantity(-amount)
	accepted := d.ModQuantity(given)
	if short := given - accepted; short > 0 {
		s.ReturnQuantity(short)
		given = accepted
	}
	s.publish()
	d.publish()
	return given, nil
}

// Step runs the staging phase for time now: every link stages its transfer
// from committed state. Must be followed by Commit.
//
// The phase runs in rounds separated by barriers. Links plan their requests,
// depots resolve the share of debits they can honour, links convert what
// they were granted, depots resolve the share of credits that fits, links
// settle and depots finally collect the settled amounts. Each round reads
// only what earlier rounds wrote.
func (n *Network) Step(now float64) error {
	if n.staging {
		return ErrStaging
	}
	n.staging = true
	rounds := []func(*Depot){
		func(d *Depot) { d.plan(now) },
		(*Depot).resolveDebits,
		(*Depot).convert,
		(*Depot).resolveCredits,
		(*Depot).settle,
		(*Depot).stage,
	}
	for _, round := range rounds {
		if err := n.each(func(_ int, c *Compartment) { c.forEach(round) }); err != nil {
			return err
		}
	}
	return nil
}

// CommitStats summarizes one commit.
type CommitStats struct {
	PrunedDepots int
	ExpiredLinks int
}

// Commit publishes all staged quantities, drops expired links and prunes
// empty non-persistent depots.
func (n *Network) Commit() (CommitStats, error) {
	results := make([]commitResult, len(n.compartments))
	err := n.each(func(i int, c *Compartment) { results[i] = c.commit() })
	n.staging = false

	var stats CommitStats
	for _, r := range results {
		stats.ExpiredLinks += len(r.expired)
		for _, l := range r.expired {
			for _, d := range l.touches {
				d.untouch(l)
			}
		}
		for _, id := range r.pruned {
			logrus.Debugf("pruned depot %d %q", id, n.depots[id].name)
			delete(n.depots, id)
			stats.PrunedDepots++
		}
	}
	return stats, err
}

// Advance runs Step and Commit for time now.
func (n *Network) Advance(now float64) (CommitStats, error) {
	if err := n.Step(now); err != nil {
		return CommitStats{}, err
	}
	return n.Commit()
}

// each applies fn to every compartment, concurrently when workers > 1.
// The call returns once every compartment is done, which is the barrier
// between rounds.
func (n *Network) each(fn func(i int, c *Compartment)) error {
	if n.workers < 2 || len(n.compartments) < 2 {
		for i, c := range n.compartments {
			fn(i, c)
		}
		return nil
	}
	var g errgroup.Group
	g.SetLimit(n.workers)
	for i, c := range n.compartments {
		i, c := i, c
		g.Go(func() error {
			fn(i, c)
			return nil
		})
	}
	return g.Wait()
}

// Total is the committed quantity over every depot of the network.
func (n *Network) Total() float64 {
	var sum float64
	for _, c := range n.compartments {
		sum += c.Quantity()
	}
	return sum
}

// DepotCount is the number of live depots.
func (n *Network) DepotCount() int { return len(n.depots) }

// LinkCount is the number of live links.
func (n *Network) LinkCount() int {
	count := 0
	for _, d := range n.depots {
		count += len(d.links)
	}
	return count
}
