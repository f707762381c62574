package starvation

import "fmt"

// state of the ramper. Every state is a distinct type, so a combination
// like "draining while flushing" can't be expressed.
type state interface {
	fmt.Stringer
}

type (
	// halted is entered at start, after a Halt and after a completed flush.
	halted struct{}
	// running delivers audio without ramps.
	running struct{}
	// rampingUp ramps audio up after starvation.
	rampingUp struct{}
	// rampingDown ramps real audio down ahead of a flush.
	rampingDown struct {
		flushID uint32
	}
	// rampingOut ramps the last buffered dsd down before a Halt.
	rampingOut struct{}
	// rampedDown follows a starvation ramp and its Halt.
	rampedDown struct{}
	// flushing discards everything until the Flush with matching id.
	flushing struct {
		flushID uint32
	}
	// draining discards audio until a Drain leaves.
	draining struct{}
	// stopped follows a Quit.
	stopped struct{}
)

func (halted) String() string      { return "halted" }
func (running) String() string     { return "running" }
func (rampingUp) String() string   { return "rampingUp" }
func (s rampingDown) String() string {
	return fmt.Sprintf("rampingDown(flush %d)", s.flushID)
}
func (rampingOut) String() string { return "rampingOut" }
func (rampedDown) String() string { return "rampedDown" }
func (s flushing) String() string {
	return fmt.Sprintf("flushing(%d)", s.flushID)
}
func (draining) String() string { return "draining" }
func (stopped) String() string  { return "stopped" }

// request is sent to the ramper from other goroutines.
type request interface {
	isRequest()
}

type (
	flushRequest struct {
		flushID uint32
	}
	drainRequest struct{}
)

func (flushRequest) isRequest() {}
func (drainRequest) isRequest() {}

// outcome of processing a single message on its way out.
type outcome int

const (
	// forward hands the message to the caller.
	forward outcome = iota
	// consumed means the message was released or queued again.
	consumed
)
