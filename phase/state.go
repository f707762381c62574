package phase

type state interface {
	String() string
}

type (
	// passThrough is used for modes without latency.
	passThrough struct{}
	// adjusting waits for audio to compare against the target. passed is
	// the audio let through while playback was not lagging.
	adjusting struct {
		passed int
	}
	// rampingDown fades audio that was heard before dropping.
	rampingDown struct{}
	// resync emits the stream position of the next kept audio.
	resync struct{}
	rampingUp struct{}
	// running passes everything until the next Mode or Drain.
	running struct{}
)

func (passThrough) String() string { return "passThrough" }
func (adjusting) String() string   { return "adjusting" }
func (rampingDown) String() string { return "rampingDown" }
func (resync) String() string      { return "resync" }
func (rampingUp) String() string   { return "rampingUp" }
func (running) String() string     { return "running" }

type outcome int

const (
	forward outcome = iota
	consumed
)
