// Package delay realizes changes of the requested pipeline delay.
//
// An increase is applied by ramping down, injecting silence and ramping up.
// A decrease ramps down, discards audio and ramps up. Left applies the
// delay remaining once downstream latency is accounted for, Right applies
// the delay relative to the animator.
package delay

import (
	"fmt"
	"sync"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/dudk/songpipe/jiffies"
	"github.com/dudk/songpipe/log"
	"github.com/dudk/songpipe/metric"
	"github.com/dudk/songpipe/msg"
	"github.com/dudk/songpipe/ramp"
)

// MaxSilenceJiffies limits the duration of injected silence messages.
const MaxSilenceJiffies = 2 * jiffies.PerMs

// Observer is told how much delay was applied.
type Observer interface {
	NotifyDelayApplied(jiffies int)
}

// Option configures a delay element.
type Option func(*core)

// WithLogger sets the logger.
func WithLogger(l *logrus.Logger) Option {
	return func(c *core) {
		c.logger = l
	}
}

// WithAnimator sets the animator. See SetAnimator.
func WithAnimator(a msg.Animator) Option {
	return func(c *core) {
		c.SetAnimator(a)
	}
}

type status int

const (
	starting status = iota
	running
	rampingDown
	rampedDown
	rampingUp
)

func (s status) String() string {
	switch s {
	case starting:
		return "starting"
	case running:
		return "running"
	case rampingDown:
		return "rampingDown"
	case rampedDown:
		return "rampedDown"
	case rampingUp:
		return "rampingUp"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

type outcome int

const (
	forward outcome = iota
	consumed
	ended
)

// variant is implemented by Left and Right.
type variant interface {
	processDelay(m *msg.Delay) msg.Msg
	processMode()
	processStream(changed bool, info msg.StreamInfo)
	delayApplied()
}

// core is the state machine shared by both variants. It runs on the
// goroutine pulling from it.
type core struct {
	id           string
	name         string
	factory      *msg.Factory
	upstream     msg.Upstream
	animator     msg.Animator
	logger       *logrus.Logger
	log          *logrus.Entry
	meter        *metric.Meter
	measure      metric.MeasureFunc
	v            variant
	rampDuration int

	mu          sync.Mutex
	clockPuller msg.ClockPuller

	delay      int
	adjustment int

	stream        msg.StreamSlot
	pending       msg.StreamSlot
	queue         msg.Queue
	status        status
	env           ramp.Envelope
	waitForAudio  bool
	targetFlushID uint32
	dsdBlockWords int
}

func newCore(name string, f *msg.Factory, upstream msg.Upstream, rampDuration int, v variant, opts []Option) *core {
	c := &core{
		id:            xid.New().String(),
		name:          name,
		factory:       f,
		upstream:      upstream,
		v:             v,
		rampDuration:  rampDuration,
		dsdBlockWords: 1,
	}
	for _, o := range opts {
		o(c)
	}
	c.log = log.ForComponent(c.logger, "delay."+name, c.id)
	c.meter = metric.NewMeter(v)
	c.measure = c.meter.Reset()
	c.reset()
	return c
}

// SetAnimator sets the animator used for dsd block sizes and latency.
func (c *core) SetAnimator(a msg.Animator) {
	c.animator = a
	if n := a.DsdBlockSizeWords(); n > 0 {
		c.dsdBlockWords = n
	}
}

// ID returns the unique id of the element.
func (c *core) ID() string {
	return c.id
}

// Pull returns the next message. It returns nil once the upstream is
// exhausted.
func (c *core) Pull() msg.Msg {
	for {
		m, o := c.pull()
		switch o {
		case forward:
			if a, ok := m.(msg.Audio); ok {
				c.measure(int64(a.Jiffies()))
			} else {
				c.measure(0)
			}
			return m
		case ended:
			return nil
		}
	}
}

// Close releases held messages.
func (c *core) Close() {
	c.stream.Clear()
	c.pending.Clear()
	c.queue.Clear()
}

func (c *core) pull() (msg.Msg, outcome) {
	for c.waitForAudio {
		m, o := c.next()
		if o != consumed {
			return m, o
		}
	}
	if (c.status == starting || c.status == rampedDown) && c.adjustment > 0 {
		if s := c.silence(); s != nil {
			return s, forward
		}
	}
	return c.next()
}

func (c *core) next() (msg.Msg, outcome) {
	if p := c.pending.Take(); p != nil {
		return p, forward
	}
	m := c.queue.Dequeue()
	if m == nil {
		if m = c.upstream.Pull(); m == nil {
			return nil, ended
		}
	}
	return c.process(m)
}

// silence returns the next piece of injected silence.
func (c *core) silence() *msg.Silence {
	info, ok := c.stream.Info()
	if !ok {
		return nil
	}
	size := c.adjustment
	if size > MaxSilenceJiffies {
		size = MaxSilenceJiffies
	}
	var s *msg.Silence
	if info.Format == msg.FormatDsd {
		s = c.factory.SilenceDsd(size, info.SampleRate, info.NumChannels, c.dsdBlockWords)
	} else {
		s = c.factory.Silence(size, info.SampleRate, info.BitDepth, info.NumChannels)
	}
	if p := c.puller(); p != nil {
		s.SetObserver(p)
	}
	// silence is rounded to whole samples
	if s.Jiffies() > c.adjustment {
		c.adjustment = 0
	} else {
		c.adjustment -= s.Jiffies()
	}
	if c.adjustment == 0 {
		c.v.delayApplied()
		if c.status == rampedDown {
			c.startRampUp()
		} else {
			c.status = running
			c.env = ramp.Envelope{Value: ramp.Max}
		}
	}
	return s
}

func (c *core) puller() msg.ClockPuller {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clockPuller
}

func (c *core) stopPuller() {
	if p := c.puller(); p != nil {
		p.Stop()
	}
}

func (c *core) reset() {
	c.status = starting
	c.env = ramp.Envelope{Value: ramp.Max, Remaining: c.rampDuration}
}

func (c *core) startRampUp() {
	c.status = rampingUp
	c.env.Begin(ramp.Min, c.rampDuration, ramp.Up)
	c.meter.Ramp()
}

// setupRamp continues a ramp in progress when the delay changes.
func (c *core) setupRamp() {
	c.waitForAudio = c.adjustment > 0
	c.log.Debugf("delay %dms, adjustment %dms in %v", jiffies.ToMs(c.delay), c.adjustment/jiffies.PerMs, c.status)
	switch c.status {
	case starting:
		c.env.Direction = ramp.None
		c.env.Remaining = c.rampDuration
	case running:
		if c.adjustment != 0 {
			c.status = rampingDown
			c.env.Direction = ramp.Down
			c.env.Remaining = c.rampDuration
			c.meter.Ramp()
		}
	case rampingDown:
		if c.adjustment == 0 {
			if c.env.Remaining == c.rampDuration {
				c.status = running
				c.env.Direction = ramp.None
				c.env.Remaining = 0
			} else {
				c.status = rampingUp
				c.env.Direction = ramp.Up
				c.env.Remaining = c.rampDuration - c.env.Remaining
			}
		}
	case rampedDown:
		if c.adjustment == 0 {
			c.status = rampingUp
			c.env.Direction = ramp.Up
			c.env.Remaining = c.rampDuration - c.env.Remaining
		}
	case rampingUp:
		c.status = rampingDown
		c.env.Direction = ramp.Down
		c.env.Remaining = c.rampDuration - c.env.Remaining
		if c.env.Remaining == 0 {
			c.status = rampedDown
		}
	}
}

// changeDelay applies a new delay target.
func (c *core) changeDelay(d int) {
	if d == c.delay {
		return
	}
	c.adjustment += d - c.delay
	c.delay = d
	c.setupRamp()
	if c.adjustment != 0 {
		c.stopPuller()
	}
}

// restartStream returns a copy of the current stream starting at
// trackOffset.
func (c *core) restartStream(trackOffset int) *msg.DecodedStream {
	info, _ := c.stream.Info()
	info.SampleStart = uint64(jiffies.ToSamples(trackOffset, info.SampleRate))
	ds := c.factory.DecodedStream(info)
	c.stream.Set(ds)
	return ds
}

func (c *core) process(m msg.Msg) (msg.Msg, outcome) {
	switch m := m.(type) {
	case *msg.Mode:
		c.mu.Lock()
		if c.clockPuller != nil {
			c.clockPuller.Stop()
		}
		c.clockPuller = m.ClockPuller
		c.mu.Unlock()
		c.delay = 0
		c.adjustment = 0
		c.waitForAudio = true
		c.reset()
		c.v.processMode()
		return m, forward
	case *msg.Drain:
		c.stopPuller()
		c.adjustment = c.delay
		if c.adjustment == 0 {
			c.waitForAudio = false
			c.reset()
		} else {
			// the drained pipeline played out, the whole delay is needed again
			c.waitForAudio = true
			c.env = ramp.Envelope{Value: ramp.Min, Direction: ramp.Down}
			c.status = rampedDown
		}
		return m, forward
	case *msg.Delay:
		return c.v.processDelay(m), forward
	case *msg.Flush:
		if c.targetFlushID != msg.FlushIDInvalid && m.ID == c.targetFlushID && c.status == rampedDown {
			c.targetFlushID = msg.FlushIDInvalid
			c.v.delayApplied()
			c.startRampUp()
		}
		return m, forward
	case *msg.DecodedStream:
		prev, ok := c.stream.Info()
		changed := !ok || !prev.SameFormat(m.Info)
		c.stream.Set(m)
		if changed {
			c.reset()
		}
		c.v.processStream(changed, m.Info)
		return m, forward
	case *msg.Silence:
		c.processSilence()
		return m, forward
	case msg.Decoded:
		return c.processAudio(m)
	}
	return m, forward
}

// processSilence completes a ramp in progress.
func (c *core) processSilence() {
	switch c.status {
	case rampingUp:
		c.env = ramp.Envelope{Value: ramp.Max}
		c.status = running
	case rampingDown:
		c.env.Remaining = 0
		c.env.Value = ramp.Min
		if c.adjustment != 0 {
			c.status = rampedDown
		} else {
			c.startRampUp()
		}
	}
}

func (c *core) processAudio(m msg.Decoded) (msg.Msg, outcome) {
	if c.waitForAudio {
		c.waitForAudio = false
		c.queue.EnqueueAtHead(m)
		return nil, consumed
	}
	if c.status == starting && c.adjustment < 0 {
		c.status = rampedDown
	}

	switch c.status {
	case starting:
		c.status = running
	case rampingDown:
		c.rampMsg(m)
		if c.env.Remaining == 0 {
			c.rampedDown()
		}
	case rampedDown:
		return c.discard(m)
	case rampingUp:
		c.rampMsg(m)
		if c.env.Remaining == 0 {
			c.status = running
		}
	}
	return m, forward
}

// rampedDown follows a completed ramp down.
func (c *core) rampedDown() {
	if c.adjustment == 0 {
		c.startRampUp()
		return
	}
	c.status = rampedDown
	if c.adjustment > 0 {
		return
	}
	discarded, trackOffset := discardQueued(&c.queue, -c.adjustment)
	c.meter.Drop(int64(discarded))
	c.adjustment += discarded
	if c.adjustment == 0 {
		c.v.delayApplied()
		c.startRampUp()
		c.pending.Put(c.restartStream(trackOffset))
		return
	}

	info, _ := c.stream.Info()
	if info.Handler == nil {
		return
	}
	c.targetFlushID = info.Handler.TryDiscard(-c.adjustment)
	if c.targetFlushID != msg.FlushIDInvalid {
		c.log.Debugf("waiting for flush %d", c.targetFlushID)
		c.adjustment = 0
	}
}

// discard drops upstream audio while a decrease is pending.
func (c *core) discard(m msg.Decoded) (msg.Msg, outcome) {
	if c.adjustment > 0 {
		panic(fmt.Sprintf("delay: discarding with adjustment %d", c.adjustment))
	}
	if c.adjustment < 0 {
		if m.Jiffies() > -c.adjustment {
			c.queue.EnqueueAtHead(m.Split(-c.adjustment))
		}
		c.adjustment += m.Jiffies()
		c.meter.Drop(int64(m.Jiffies()))
	}
	// Split may round up to a whole sample
	if c.adjustment > 0 {
		c.adjustment = 0
	}
	if c.adjustment == 0 {
		c.v.delayApplied()
		c.startRampUp()
		trackOffset := m.TrackOffset() + m.Jiffies()
		m.Release()
		return c.restartStream(trackOffset), forward
	}
	m.Release()
	return nil, consumed
}

func (c *core) rampMsg(m msg.Audio) {
	if c.env.Remaining <= 0 {
		return
	}
	if m.Jiffies() > c.env.Remaining {
		c.queue.EnqueueAtHead(m.Split(c.env.Remaining))
	}
	value, left, split := m.SetRamp(c.env.Value, c.env.Remaining, c.env.Direction)
	if split != nil {
		c.queue.EnqueueAtHead(split)
	}
	c.env.Value, c.env.Remaining = value, left
}

// discardQueued drops up to max jiffies of queued audio. It returns the
// dropped duration and the track offset following the last dropped sample.
func discardQueued(q *msg.Queue, max int) (discarded, trackOffset int) {
	for discarded < max && !q.IsEmpty() {
		a, ok := q.Dequeue().(msg.Audio)
		if !ok {
			panic("delay: non-audio message queued")
		}
		if discarded+a.Jiffies() > max {
			q.EnqueueAtHead(a.Split(max - discarded))
		}
		discarded += a.Jiffies()
		if d, ok := a.(msg.Decoded); ok {
			trackOffset = d.TrackOffset() + d.Jiffies()
		}
		a.Release()
	}
	return discarded, trackOffset
}
