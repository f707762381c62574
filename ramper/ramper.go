// Package ramper fades in streams which would otherwise start abruptly.
package ramper

import (
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/dudk/songpipe/jiffies"
	"github.com/dudk/songpipe/log"
	"github.com/dudk/songpipe/metric"
	"github.com/dudk/songpipe/msg"
	"github.com/dudk/songpipe/ramp"
)

// Default ramp durations.
const (
	DefaultLongJiffies  = 500 * jiffies.PerMs
	DefaultShortJiffies = 50 * jiffies.PerMs
)

// Option configures the Ramper.
type Option func(*Ramper)

// WithDurations sets the ramp used by modes asking for long pause/resume
// ramps and the one used otherwise.
func WithDurations(long, short int) Option {
	return func(r *Ramper) {
		r.long, r.short = long, short
	}
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Logger) Option {
	return func(r *Ramper) {
		r.logger = l
	}
}

// Ramper ramps up the first audio of a stream that is live, dsd, or a
// new stream starting past its first sample.
type Ramper struct {
	id       string
	upstream msg.Upstream
	logger   *logrus.Logger
	log      *logrus.Entry
	meter    *metric.Meter
	measure  metric.MeasureFunc

	long, short int
	duration    int

	queue    msg.Queue
	streamID uint32
	ramping  bool
	env      ramp.Envelope
}

// New returns a ramper pulling from upstream.
func New(upstream msg.Upstream, opts ...Option) *Ramper {
	r := &Ramper{
		id:       xid.New().String(),
		upstream: upstream,
		long:     DefaultLongJiffies,
		short:    DefaultShortJiffies,
	}
	for _, o := range opts {
		o(r)
	}
	r.duration = r.long
	r.env.Clear()
	r.log = log.ForComponent(r.logger, "ramper", r.id)
	r.meter = metric.NewMeter(r)
	r.measure = r.meter.Reset()
	return r
}

// ID returns the unique id of the ramper.
func (r *Ramper) ID() string {
	return r.id
}

// Pull implements msg.Upstream.
func (r *Ramper) Pull() msg.Msg {
	m := r.queue.Dequeue()
	if m == nil {
		if m = r.upstream.Pull(); m == nil {
			return nil
		}
	}
	switch m := m.(type) {
	case *msg.Mode:
		if m.Info.RampPauseResumeLong {
			r.duration = r.long
		} else {
			r.duration = r.short
		}
	case *msg.Halt:
		r.ramping = false
	case *msg.DecodedStream:
		r.startStream(m.Info)
	case *msg.Silence:
		r.ramping = false
		r.env.Clear()
	case msg.Decoded:
		r.processAudio(m)
	}
	if a, ok := m.(msg.Audio); ok {
		r.measure(int64(a.Jiffies()))
	} else {
		r.measure(0)
	}
	return m
}

// Close releases queued messages.
func (r *Ramper) Close() {
	r.queue.Clear()
}

func (r *Ramper) startStream(info msg.StreamInfo) {
	newStream := info.StreamID != r.streamID
	r.streamID = info.StreamID
	applicable := info.Live || (newStream && info.SampleStart > 0) || info.Format == msg.FormatDsd
	if applicable && r.duration > 0 {
		r.ramping = true
		r.env.Begin(ramp.Min, r.duration, ramp.Up)
		r.meter.Ramp()
		r.log.Debugf("ramping up %v", info)
		return
	}
	r.ramping = false
	r.env.Clear()
}

func (r *Ramper) processAudio(a msg.Decoded) {
	if !r.ramping {
		return
	}
	if a.Jiffies() > r.env.Remaining {
		r.queue.Enqueue(a.Split(r.env.Remaining))
	}
	value, left, split := a.SetRamp(r.env.Value, r.env.Remaining, ramp.Up)
	if split != nil {
		r.queue.EnqueueAtHead(split)
	}
	r.env.Value, r.env.Remaining = value, left
	if left == 0 || value == ramp.Max {
		r.ramping = false
	}
}
