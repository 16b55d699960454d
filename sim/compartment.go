package sim

// Compartment is a named group of depots. It exclusively owns its depots and
// reports aggregate quantity, volume and concentration over them.
type Compartment struct {
	name   string
	depots []*Depot
}

func (c *Compartment) Name() string { return c.name }

// Depots returns the compartment's depots in creation order.
func (c *Compartment) Depots() []*Depot {
	out := make([]*Depot, len(c.depots))
	copy(out, c.depots)
	return out
}

// Len is the number of live depots.
func (c *Compartment) Len() int { return len(c.depots) }

// Quantity is the committed quantity summed over all depots.
func (c *Compartment) Quantity() float64 {
	var sum float64
	for _, d := range c.depots {
		sum += d.quantity
	}
	return sum
}

// Volume is the summed solution volume.
func (c *Compartment) Volume() float64 {
	var sum float64
	for _, d := range c.depots {
		sum += d.volume
	}
	return sum
}

// Concentration is the aggregate quantity over the aggregate volume of the
// depots that have a volume. Returns 0 when none do.
func (c *Compartment) Concentration() float64 {
	var q, v float64
	for _, d := range c.depots {
		if d.volume > 0 {
			q += d.quantity
			v += d.volume
		}
	}
	if v <= 0 {
		return 0
	}
	return q / v
}

func (c *Compartment) add(d *Depot) {
	c.depots = append(c.depots, d)
}

func (c *Compartment) forEach(fn func(*Depot)) {
	for _, d := range c.depots {
		fn(d)
	}
}

// commitResult reports what one compartment's commit removed.
type commitResult struct {
	pruned  []DepotID
	expired []*Link
}

// commit publishes every depot and prunes empty non-persistent depots.
// Pruned handles are returned for the Network to forget after the barrier.
func (c *Compartment) commit() commitResult {
	var res commitResult
	kept := c.depots[:0]
	for _, d := range c.depots {
		res.expired = append(res.expired, d.commit()...)
		if d.prunable() {
			res.pruned = append(res.pruned, d.id)
			continue
		}
		kept = append(kept, d)
	}
	for i := len(kept); i < len(c.depots); i++ {
		c.depots[i] = nil
	}
	c.depots = kept
	return res
}
