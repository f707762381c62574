package ramp

// Envelope is the ramp progress kept by a component across messages.
type Envelope struct {
	Value     int
	Remaining int
	Direction Direction
}

// Begin starts a ramp from value lasting duration jiffies.
func (e *Envelope) Begin(value, duration int, dir Direction) {
	e.Value = value
	e.Remaining = duration
	e.Direction = dir
}

// Done reports whether the ramp has run to completion.
func (e Envelope) Done() bool {
	return e.Remaining <= 0
}

// Stop completes the ramp at its target gain.
func (e *Envelope) Stop() {
	switch e.Direction {
	case Up:
		e.Value = Max
	case Down:
		e.Value = Min
	}
	e.Remaining = 0
	e.Direction = None
}

// Clear resets the envelope to full gain with no ramp.
func (e *Envelope) Clear() {
	*e = Envelope{Value: Max}
}
