package event

// Emitter receives events produced by a model or passed through a filter.
type Emitter interface {
	Emit(Event) error
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event) error

func (f EmitterFunc) Emit(e Event) error { return f(e) }

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(Event) error { return nil })

// Collector keeps every emitted event in order.
type Collector struct {
	Events []Event
}

func (c *Collector) Emit(e Event) error {
	c.Events = append(c.Events, e)
	return nil
}

// BySignal returns the collected Level events carrying signal s.
func (c *Collector) BySignal(s Signal) []Event {
	var out []Event
	for _, e := range c.Events {
		if e.Kind == KindLevel && e.Signal == s {
			out = append(out, e)
		}
	}
	return out
}

// Last returns the most recent Level event carrying signal s.
func (c *Collector) Last(s Signal) (Event, bool) {
	for i := len(c.Events) - 1; i >= 0; i-- {
		if e := c.Events[i]; e.Kind == KindLevel && e.Signal == s {
			return e, true
		}
	}
	return Event{}, false
}

// Reset drops all collected events.
func (c *Collector) Reset() { c.Events = c.Events[:0] }

// Tee fans every event out to all emitters, stopping at the first error.
func Tee(emitters ...Emitter) Emitter {
	return EmitterFunc(func(e Event) error {
		for _, em := range emitters {
			if err := em.Emit(e); err != nil {
				return err
			}
		}
		return nil
	})
}
