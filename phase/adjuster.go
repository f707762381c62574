// Package phase aligns playback of latency modes to the delay requested by
// the sender.
//
// Adjuster compares the audio buffered downstream of a Tap with the target
// carried by Delay messages. When playback lags it drops audio at the front
// of the stream, announces the new stream position and ramps back up.
package phase

import (
	"sync/atomic"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/dudk/songpipe/jiffies"
	"github.com/dudk/songpipe/log"
	"github.com/dudk/songpipe/metric"
	"github.com/dudk/songpipe/msg"
	"github.com/dudk/songpipe/ramp"
)

const (
	// DefaultRampMin is the shortest ramp up after a correction.
	DefaultRampMin = 50 * jiffies.PerMs
	// DefaultRampMax is the longest ramp up after a correction.
	DefaultRampMax = 500 * jiffies.PerMs
	// DefaultMaxExtraPulls limits upstream pulls made within a single Pull
	// while dropping audio.
	DefaultMaxExtraPulls = 64
	// DefaultDropLimitOffset is subtracted from a delay to limit the
	// total amount of dropped audio.
	DefaultDropLimitOffset = 10 * jiffies.PerMs
)

// OccupancyWaiter is implemented by buffering elements which can hold the
// next Pull until enough audio is buffered.
type OccupancyWaiter interface {
	WaitForOccupancy(jiffies int)
}

// Option configures the Adjuster.
type Option func(*Adjuster)

// WithRampBounds sets the bounds of ramps following a correction.
func WithRampBounds(min, max int) Option {
	return func(a *Adjuster) {
		a.rampMin, a.rampMax = min, max
	}
}

// WithOccupancyWaiter makes the adjuster wait for the delay target to be
// buffered before correcting.
func WithOccupancyWaiter(w OccupancyWaiter) Option {
	return func(a *Adjuster) {
		a.waiter = w
	}
}

// WithMaxExtraPulls bounds the messages dropped within one Pull. The
// correction is abandoned when the bound is hit.
func WithMaxExtraPulls(n int) Option {
	return func(a *Adjuster) {
		a.maxExtraPulls = n
	}
}

// WithDropLimitOffset sets how much less than the delay may be dropped.
func WithDropLimitOffset(j int) Option {
	return func(a *Adjuster) {
		a.dropLimitOffset = j
	}
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Logger) Option {
	return func(a *Adjuster) {
		a.logger = l
	}
}

// Adjuster is a synchronous pipeline element. It is the buffer observer of
// audio passing through a Tap upstream of it.
type Adjuster struct {
	id       string
	factory  *msg.Factory
	upstream msg.Upstream
	animator msg.Animator
	waiter   OccupancyWaiter
	logger   *logrus.Logger
	log      *logrus.Entry
	meter    *metric.Meter
	measure  metric.MeasureFunc

	rampMin         int
	rampMax         int
	maxExtraPulls   int
	dropLimitOffset int

	tracked int64

	queue         msg.Queue
	stream        msg.StreamSlot
	state         state
	env           ramp.Envelope
	animatorDelay int
	target        int
	dropLimit     int
	dropped       int
	pulls         int
}

// New returns an adjuster pulling from upstream.
func New(f *msg.Factory, upstream msg.Upstream, opts ...Option) *Adjuster {
	a := &Adjuster{
		id:              xid.New().String(),
		factory:         f,
		upstream:        upstream,
		rampMin:         DefaultRampMin,
		rampMax:         DefaultRampMax,
		maxExtraPulls:   DefaultMaxExtraPulls,
		dropLimitOffset: DefaultDropLimitOffset,
		state:           passThrough{},
	}
	for _, o := range opts {
		o(a)
	}
	a.log = log.ForComponent(a.logger, "phase", a.id)
	a.meter = metric.NewMeter(a)
	a.measure = a.meter.Reset()
	return a
}

// SetAnimator sets the animator queried for its output delay.
func (a *Adjuster) SetAnimator(animator msg.Animator) {
	a.animator = animator
}

// ID returns the unique id of the adjuster.
func (a *Adjuster) ID() string {
	return a.id
}

// Update implements msg.BufferObserver.
func (a *Adjuster) Update(delta int) {
	atomic.AddInt64(&a.tracked, int64(delta))
}

// Tracked returns the duration of observed audio which is still alive.
func (a *Adjuster) Tracked() int {
	return int(atomic.LoadInt64(&a.tracked))
}

// Pull returns the next message.
func (a *Adjuster) Pull() msg.Msg {
	a.pulls = 0
	for {
		var m msg.Msg
		if m = a.queue.Dequeue(); m == nil {
			m = a.upstream.Pull()
			a.pulls++
		}
		if m == nil {
			return nil
		}
		out, o := a.process(m)
		if o == forward {
			if au, ok := out.(msg.Audio); ok {
				a.measure(int64(au.Jiffies()))
			} else {
				a.measure(0)
			}
			return out
		}
	}
}

// Close releases the held stream and queued messages.
func (a *Adjuster) Close() {
	a.stream.Clear()
	a.queue.Clear()
}

func (a *Adjuster) process(m msg.Msg) (msg.Msg, outcome) {
	switch m := m.(type) {
	case *msg.Mode:
		if m.Info.SupportsLatency {
			a.reset()
		} else {
			a.state = passThrough{}
			a.stream.Clear()
		}
		return m, forward
	case *msg.Drain:
		if _, ok := a.state.(passThrough); !ok {
			a.reset()
		}
		return m, forward
	case *msg.Delay:
		a.processDelay(m)
		m.Release()
		return nil, consumed
	case *msg.DecodedStream:
		if _, ok := a.state.(passThrough); ok {
			return m, forward
		}
		a.stream.Set(m)
		a.animatorDelay = a.queryAnimator(m.Info)
		return m, forward
	case *msg.Silence:
		return m, forward
	case msg.Decoded:
		return a.processAudio(m)
	}
	return m, forward
}

func (a *Adjuster) reset() {
	a.state = adjusting{}
	a.env.Begin(ramp.Min, 0, ramp.None)
	a.target = 0
	a.dropLimit = 0
	a.dropped = 0
}

func (a *Adjuster) queryAnimator(info msg.StreamInfo) int {
	if a.animator == nil {
		return 0
	}
	d, err := a.animator.DelayJiffies(info.Format, info.SampleRate, info.BitDepth, info.NumChannels)
	if err != nil {
		a.log.Warnf("animator delay for %v: %v", info, err)
		return 0
	}
	return d
}

func (a *Adjuster) processDelay(m *msg.Delay) {
	if _, ok := a.state.(passThrough); ok {
		return
	}
	target := m.Remaining - a.animatorDelay
	if target < 0 {
		target = 0
	}
	if info, ok := a.stream.Info(); ok && info.SampleRate > 0 {
		if _, err := jiffies.PerSample(info.SampleRate); err == nil {
			target = jiffies.RoundDown(target, info.SampleRate)
		}
	}
	a.target = target
	a.dropLimit = 0
	if m.Remaining > a.dropLimitOffset {
		a.dropLimit = m.Remaining - a.dropLimitOffset
	}
	a.log.Debugf("delay %dms, target %dms", jiffies.ToMs(m.Remaining), jiffies.ToMs(target))
	if _, ok := a.state.(adjusting); ok && a.waiter != nil && target > 0 {
		a.waiter.WaitForOccupancy(target)
	}
}

func (a *Adjuster) processAudio(m msg.Decoded) (msg.Msg, outcome) {
	switch s := a.state.(type) {
	case adjusting:
		return a.adjust(m, s)
	case rampingDown:
		if a.applyRamp(m, ramp.Down) {
			a.state = adjusting{}
		}
		return m, forward
	case resync:
		a.queue.EnqueueAtHead(m)
		return a.restart(), forward
	case rampingUp:
		if a.applyRamp(m, ramp.Up) {
			a.state = running{}
		}
		return m, forward
	}
	return m, forward
}

// adjust drops audio while playback lags the target.
func (a *Adjuster) adjust(m msg.Decoded, s adjusting) (msg.Msg, outcome) {
	// a restart needs the stream to announce
	if _, ok := a.stream.Info(); !ok || a.target == 0 {
		a.state = running{}
		return m, forward
	}
	err := a.Tracked() - a.target
	if err <= 0 {
		if a.dropped > 0 {
			a.queue.EnqueueAtHead(m)
			a.state = resync{}
			return a.restart(), forward
		}
		if err == 0 {
			a.state = running{}
		} else {
			a.state = adjusting{passed: s.passed + m.Jiffies()}
		}
		return m, forward
	}

	if s.passed > 0 {
		// audio was heard, fade it before the jump
		a.env.Begin(ramp.Max, a.rampMin, ramp.Down)
		a.meter.Ramp()
		a.state = rampingDown{}
		if a.applyRamp(m, ramp.Down) {
			a.state = adjusting{}
		}
		return m, forward
	}

	if a.dropped+err > a.dropLimit {
		err = a.dropLimit - a.dropped
	}
	err = jiffies.RoundDown(err, m.SampleRate())
	if err <= 0 {
		return a.finish(m)
	}
	if err >= m.Jiffies() {
		a.drop(m, m.Jiffies())
		m.Release()
		if a.dropped >= a.dropLimit {
			return nil, a.finishDropping()
		}
		if a.pulls > a.maxExtraPulls {
			a.log.Warnf("gave up adjustment after %d pulls, %dms still to drop", a.pulls, jiffies.ToMs(a.Tracked()-a.target))
			return nil, a.finishDropping()
		}
		return nil, consumed
	}
	rest := m.Split(err).(msg.Decoded)
	a.drop(m, err)
	m.Release()
	return a.finish(rest)
}

func (a *Adjuster) drop(m msg.Audio, j int) {
	a.dropped += j
	a.meter.Drop(int64(j))
}

// finish ends dropping with m as the first kept message.
func (a *Adjuster) finish(m msg.Decoded) (msg.Msg, outcome) {
	if a.dropped == 0 {
		a.state = running{}
		return m, forward
	}
	a.queue.EnqueueAtHead(m)
	a.state = resync{}
	return a.restart(), forward
}

// finishDropping ends dropping before the first kept message is known.
func (a *Adjuster) finishDropping() outcome {
	if a.dropped == 0 {
		a.state = running{}
	} else {
		a.state = resync{}
	}
	return consumed
}

// restart announces the stream position of the audio queued at head and
// starts the ramp up.
func (a *Adjuster) restart() msg.Msg {
	first := a.queue.Peek().(msg.Decoded)
	info, _ := a.stream.Info()
	info.SampleStart = uint64(jiffies.ToSamples(first.TrackOffset(), first.SampleRate()))
	a.log.Debugf("dropped %dms, restarting at sample %d", jiffies.ToMs(a.dropped), info.SampleStart)

	rampJiffies := a.dropped
	if rampJiffies < a.rampMin {
		rampJiffies = a.rampMin
	}
	if rampJiffies > a.rampMax {
		rampJiffies = a.rampMax
	}
	a.env.Begin(ramp.Min, rampJiffies, ramp.Up)
	a.meter.Ramp()
	a.state = rampingUp{}

	ds := a.factory.DecodedStream(info)
	a.stream.Set(ds)
	return ds
}

// applyRamp ramps m and reports whether the ramp has completed.
func (a *Adjuster) applyRamp(m msg.Audio, dir ramp.Direction) bool {
	if a.env.Remaining <= 0 {
		return true
	}
	if m.Jiffies() > a.env.Remaining {
		a.queue.EnqueueAtHead(m.Split(a.env.Remaining))
	}
	value, left, split := m.SetRamp(a.env.Value, a.env.Remaining, dir)
	if split != nil {
		a.queue.EnqueueAtHead(split)
	}
	a.env.Value, a.env.Remaining = value, left
	if left <= 0 {
		a.env.Stop()
		return true
	}
	return false
}
