// Package starvation decouples a pipeline from an upstream that may fail to
// deliver audio in time.
//
// Ramper buffers upstream messages on its own goroutine. When the buffer
// runs dry the most recent audio is continued and ramped down to silence,
// followed by a Halt. When audio resumes it is ramped back up.
package starvation

import (
	"sync"
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
	// TrainingJiffies is the amount of recent audio used to generate a ramp.
	TrainingJiffies = jiffies.PerMs
	// RampDownJiffies is the duration of ramps down.
	RampDownJiffies = 20 * jiffies.PerMs
	// MaxAudioOutJiffies is the default limit for outgoing audio messages.
	MaxAudioOutJiffies = 5 * jiffies.PerMs
	// MinMaxJiffies is the lowest buffer size a Delay can set.
	MinMaxJiffies = 140 * jiffies.PerMs

	defaultMaxStreams  = 10
	defaultMaxMessages = 1024
)

// Observer is notified when the ramper starts or stops buffering.
type Observer interface {
	NotifyStarvationRamperBuffering(buffering bool)
}

// Option configures the Ramper.
type Option func(*Ramper)

// WithMaxJiffies sets the buffer size which blocks the upstream puller.
func WithMaxJiffies(j int) Option {
	return func(r *Ramper) {
		r.maxJiffies = int64(j)
	}
}

// WithMaxStreams limits the number of buffered streams.
func WithMaxStreams(n int) Option {
	return func(r *Ramper) {
		r.maxStreams = int32(n)
	}
}

// WithMaxMessages sets the capacity of the buffer channel.
func WithMaxMessages(n int) Option {
	return func(r *Ramper) {
		r.maxMessages = n
	}
}

// WithRampUpJiffies sets the duration of ramps up after starvation.
func WithRampUpJiffies(j int) Option {
	return func(r *Ramper) {
		r.rampUpJiffies = j
	}
}

// WithMaxAudioOut limits the duration of outgoing audio messages.
// Zero disables splitting.
func WithMaxAudioOut(j int) Option {
	return func(r *Ramper) {
		r.maxAudioOut = j
	}
}

// WithObserver sets the buffering observer.
func WithObserver(o Observer) Option {
	return func(r *Ramper) {
		r.observer = o
	}
}

// WithAnimator prunes messages the animator doesn't support.
func WithAnimator(a msg.Animator) Option {
	return func(r *Ramper) {
		r.pruned = prunable &^ a.SupportedKinds()
	}
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Logger) Option {
	return func(r *Ramper) {
		r.logger = l
	}
}

// prunable kinds are dropped if the animator doesn't need them.
const prunable = msg.KindTrack | msg.KindMetaText | msg.KindBitRate | msg.KindWait

// Ramper is a buffering pipeline element.
type Ramper struct {
	id       string
	factory  *msg.Factory
	upstream msg.Upstream
	logger   *logrus.Logger
	log      *logrus.Entry
	meter    *metric.Meter
	measure  metric.MeasureFunc
	observer Observer

	maxMessages   int
	maxStreams    int32
	rampUpJiffies int
	maxAudioOut   int
	pruned        msg.Kind

	// shared with puller goroutine
	in         chan msg.Msg
	space      chan struct{}
	occupied   chan struct{}
	requests   chan request
	cancel     chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
	closeOnce  sync.Once
	maxJiffies int64
	occupancy  int64
	pending    int32
	streams    int32
	tracks     int32
	halts      int32
	drains     int32
	waitFor    int64

	// owned by the Pull caller
	queue     msg.Queue
	generated msg.Queue
	state     state
	env       ramp.Envelope
	mode      string
	stream    msg.StreamInfo
	fw        flywheel
	buffering bool
}

// New starts a ramper pulling from upstream.
func New(f *msg.Factory, upstream msg.Upstream, opts ...Option) *Ramper {
	r := &Ramper{
		id:            xid.New().String(),
		factory:       f,
		upstream:      upstream,
		maxJiffies:    MinMaxJiffies,
		maxStreams:    defaultMaxStreams,
		maxMessages:   defaultMaxMessages,
		rampUpJiffies: RampDownJiffies,
		maxAudioOut:   MaxAudioOutJiffies,
		space:         make(chan struct{}, 1),
		occupied:      make(chan struct{}, 1),
		requests:      make(chan request, 16),
		cancel:        make(chan struct{}),
		done:          make(chan struct{}),
		state:         halted{},
		fw:            flywheel{training: TrainingJiffies},
	}
	for _, o := range opts {
		o(r)
	}
	r.env.Clear()
	r.log = log.ForComponent(r.logger, "starvation", r.id)
	r.meter = metric.NewMeter(r)
	r.measure = r.meter.Reset()
	r.in = make(chan msg.Msg, r.maxMessages)
	go r.pull()
	return r
}

// ID returns the unique id of the ramper.
func (r *Ramper) ID() string {
	return r.id
}

// Jiffies returns the duration of buffered audio.
func (r *Ramper) Jiffies() int {
	return int(atomic.LoadInt64(&r.occupancy))
}

// Flush ramps buffered audio down and discards everything until a Flush
// with id leaves the ramper. A pending drain takes precedence.
func (r *Ramper) Flush(id uint32) {
	r.request(flushRequest{flushID: id})
}

// DrainAllAudio discards buffered audio until the next Drain. Audible
// audio is ramped down first.
func (r *Ramper) DrainAllAudio() {
	r.request(drainRequest{})
}

func (r *Ramper) request(req request) {
	select {
	case r.requests <- req:
	case <-r.cancel:
	}
}

// WaitForOccupancy makes the next Pull block until j jiffies are buffered.
// It has no effect while a Drain or Halt is buffered.
func (r *Ramper) WaitForOccupancy(j int) {
	if atomic.LoadInt32(&r.drains) > 0 || atomic.LoadInt32(&r.halts) > 0 {
		return
	}
	select {
	case <-r.occupied:
	default:
	}
	atomic.StoreInt64(&r.waitFor, int64(j))
}

// Stop makes pending and future calls to Pull return nil. Buffered
// messages are kept until Close.
func (r *Ramper) Stop() {
	r.stopOnce.Do(func() {
		close(r.cancel)
	})
}

// Close stops the puller and releases buffered messages. The upstream
// must return from its pending Pull for Close to complete.
func (r *Ramper) Close() {
	r.closeOnce.Do(func() {
		r.Stop()
		<-r.done
		for {
			select {
			case m := <-r.in:
				m.Release()
				continue
			default:
			}
			break
		}
		r.queue.Clear()
		r.generated.Clear()
	})
}

func (r *Ramper) full() bool {
	return atomic.LoadInt64(&r.occupancy) >= atomic.LoadInt64(&r.maxJiffies) ||
		atomic.LoadInt32(&r.streams) >= r.maxStreams
}

// pull runs on the puller goroutine.
func (r *Ramper) pull() {
	defer close(r.done)
	for {
		m := r.upstream.Pull()
		if m == nil {
			return
		}
		r.enter(m)
		select {
		case r.in <- m:
		case <-r.cancel:
			atomic.AddInt32(&r.pending, -1)
			r.leave(m)
			m.Release()
			return
		}
		if w := atomic.LoadInt64(&r.waitFor); w > 0 && atomic.LoadInt64(&r.occupancy) >= w {
			r.signal(r.occupied)
		}
		if m.Kind() == msg.KindQuit {
			return
		}
		for r.full() {
			select {
			case <-r.space:
			case <-r.cancel:
				return
			}
		}
	}
}

// enter accounts for a message entering the buffer.
func (r *Ramper) enter(m msg.Msg) {
	atomic.AddInt32(&r.pending, 1)
	switch m := m.(type) {
	case msg.Audio:
		atomic.AddInt64(&r.occupancy, int64(m.Jiffies()))
	case *msg.DecodedStream:
		atomic.AddInt32(&r.streams, 1)
		atomic.AddInt32(&r.tracks, 1)
	case *msg.Track:
		atomic.AddInt32(&r.tracks, 1)
	case *msg.Halt:
		atomic.AddInt32(&r.halts, 1)
		r.signal(r.occupied)
	case *msg.Drain:
		atomic.AddInt32(&r.drains, 1)
		r.signal(r.occupied)
	case *msg.Delay:
		max := m.Remaining
		if max < MinMaxJiffies {
			max = MinMaxJiffies
		}
		atomic.StoreInt64(&r.maxJiffies, int64(max))
	}
}

// leave accounts for a buffered message leaving the ramper.
func (r *Ramper) leave(m msg.Msg) {
	switch m := m.(type) {
	case msg.Audio:
		if atomic.AddInt64(&r.occupancy, -int64(m.Jiffies())) < 0 {
			panic("starvation: negative occupancy")
		}
	case *msg.DecodedStream:
		atomic.AddInt32(&r.streams, -1)
		atomic.AddInt32(&r.tracks, -1)
	case *msg.Track:
		atomic.AddInt32(&r.tracks, -1)
	case *msg.Halt:
		atomic.AddInt32(&r.halts, -1)
	case *msg.Drain:
		atomic.AddInt32(&r.drains, -1)
	}
	r.meter.Occupancy(atomic.LoadInt64(&r.occupancy))
	if !r.full() {
		r.signal(r.space)
	}
}

func (r *Ramper) signal(c chan struct{}) {
	select {
	case c <- struct{}{}:
	default:
	}
}

// Pull returns the next message. It returns nil once the ramper is closed
// or the upstream is exhausted.
func (r *Ramper) Pull() msg.Msg {
	r.waitForOccupancy()
	r.handleRequests()
	if r.queue.IsEmpty() && atomic.LoadInt32(&r.pending) == 0 {
		r.setBuffering(true)
		r.starve()
	}

	for {
		if m := r.generated.Dequeue(); m != nil {
			r.measured(m)
			return m
		}
		m := r.next()
		if m == nil {
			return nil
		}
		out, o := r.process(m)
		if o == forward {
			r.measured(out)
			return out
		}
		r.handleRequests()
	}
}

func (r *Ramper) measured(m msg.Msg) {
	if a, ok := m.(msg.Audio); ok {
		r.measure(int64(a.Jiffies()))
		return
	}
	r.measure(0)
}

func (r *Ramper) waitForOccupancy() {
	w := atomic.LoadInt64(&r.waitFor)
	if w <= 0 {
		return
	}
	if atomic.LoadInt32(&r.drains) == 0 && atomic.LoadInt32(&r.halts) == 0 && atomic.LoadInt64(&r.occupancy) < w {
		select {
		case <-r.occupied:
		case <-r.cancel:
		case <-r.done:
		}
	}
	atomic.StoreInt64(&r.waitFor, 0)
}

// next returns the next buffered message, blocking while there is none.
func (r *Ramper) next() msg.Msg {
	if m := r.queue.Dequeue(); m != nil {
		return m
	}
	select {
	case m := <-r.in:
		atomic.AddInt32(&r.pending, -1)
		return m
	case <-r.cancel:
		return nil
	case <-r.done:
		// puller has exited, drain what it left behind
		select {
		case m := <-r.in:
			atomic.AddInt32(&r.pending, -1)
			return m
		default:
			return nil
		}
	}
}

func (r *Ramper) handleRequests() {
	for {
		select {
		case req := <-r.requests:
			switch req := req.(type) {
			case drainRequest:
				r.startDrain()
			case flushRequest:
				r.startFlush(req.flushID)
			}
		default:
			return
		}
	}
}

// audible reports whether audio is being delivered above silence.
func (r *Ramper) audible() bool {
	switch r.state.(type) {
	case running:
		return true
	case rampingUp, rampingDown, rampingOut:
		return r.env.Value > ramp.Min
	}
	return false
}

func (r *Ramper) startDrain() {
	r.log.Debugf("drain requested in %v", r.state)
	switch s := r.state.(type) {
	case running, rampingUp, rampingOut:
		r.rampDownGenerated(r.env.Value, RampDownJiffies)
	case rampingDown:
		if r.env.Value > ramp.Min {
			r.rampDownGenerated(r.env.Value, r.env.Remaining)
		} else {
			r.generated.Enqueue(r.factory.Halt(0))
		}
		r.log.Debugf("drain abandons flush %d", s.flushID)
	case flushing:
		r.generated.Enqueue(r.factory.Halt(0))
		r.log.Debugf("drain abandons flush %d", s.flushID)
	case stopped:
		return
	}
	r.state = draining{}
}

func (r *Ramper) startFlush(id uint32) {
	switch r.state.(type) {
	case draining, stopped:
		r.log.Debugf("flush %d ignored in %v", id, r.state)
		return
	case running, rampingUp, rampingDown, rampingOut:
		value := r.env.Value
		if _, ok := r.state.(running); ok {
			value = ramp.Max
		}
		if value == ramp.Min {
			r.state = flushing{flushID: id}
			return
		}
		r.env.Begin(value, RampDownJiffies, ramp.Down)
		r.meter.Ramp()
		r.state = rampingDown{flushID: id}
	default:
		r.state = flushing{flushID: id}
	}
}

// starve starts a ramp down if audio was audible when the buffer ran dry.
func (r *Ramper) starve() {
	if !r.audible() {
		return
	}
	if s, ok := r.state.(rampingDown); ok {
		r.log.Debugf("starving during flush %d", s.flushID)
		r.rampDownGenerated(r.env.Value, r.env.Remaining)
		r.state = flushing{flushID: s.flushID}
		return
	}
	r.log.Debugf("starving in %v", r.state)
	r.meter.Starvation()
	if r.stream.Format == msg.FormatDsd {
		r.generated.Enqueue(r.factory.Halt(0))
	} else {
		r.rampDownGenerated(r.env.Value, RampDownJiffies)
	}
	r.state = rampedDown{}
	r.notifyStarving(true)
}

// rampDownGenerated queues generated audio ramping down from value followed
// by a Halt.
func (r *Ramper) rampDownGenerated(value, duration int) {
	if _, ok := r.state.(running); ok {
		value = ramp.Max
	}
	r.meter.Ramp()
	for _, m := range r.fw.generate(r.factory, value, duration, r.maxAudioOut) {
		r.generated.Enqueue(m)
	}
	r.generated.Enqueue(r.factory.Halt(0))
	r.env.Begin(ramp.Min, 0, ramp.None)
}

func (r *Ramper) notifyStarving(starving bool) {
	if r.stream.Handler != nil {
		r.stream.Handler.NotifyStarving(r.mode, r.stream.StreamID, starving)
	}
}

func (r *Ramper) setBuffering(buffering bool) {
	if r.buffering == buffering {
		return
	}
	r.buffering = buffering
	if r.observer != nil {
		r.observer.NotifyStarvationRamperBuffering(buffering)
	}
}

// discard drops a buffered message.
func (r *Ramper) discard(m msg.Msg) (msg.Msg, outcome) {
	r.leave(m)
	if a, ok := m.(msg.Audio); ok {
		r.meter.Drop(int64(a.Jiffies()))
	}
	m.Release()
	return nil, consumed
}

// pass forwards a buffered message.
func (r *Ramper) pass(m msg.Msg) (msg.Msg, outcome) {
	r.leave(m)
	return m, forward
}

// process handles a message leaving the buffer.
func (r *Ramper) process(m msg.Msg) (msg.Msg, outcome) {
	if f, ok := r.state.(flushing); ok {
		if fl, ok := m.(*msg.Flush); ok && fl.ID == f.flushID {
			r.state = halted{}
			r.discard(m)
			return r.factory.Halt(0), forward
		}
		if !m.Kind().Has(msg.KindDrain | msg.KindMode | msg.KindQuit) {
			return r.discard(m)
		}
	}
	if m.Kind().Has(r.pruned) {
		return r.discard(m)
	}

	switch m := m.(type) {
	case *msg.Mode:
		r.mode = m.Name
		r.state = halted{}
		r.env.Clear()
		return r.pass(m)
	case *msg.Drain:
		if _, ok := r.state.(draining); ok {
			r.state = halted{}
			return r.pass(m)
		}
		if r.audible() {
			r.queue.EnqueueAtHead(m)
			r.rampDownGenerated(r.env.Value, RampDownJiffies)
			r.state = halted{}
			return nil, consumed
		}
		r.state = halted{}
		return r.pass(m)
	case *msg.Halt:
		if _, ok := r.state.(draining); !ok {
			r.state = halted{}
		}
		return r.pass(m)
	case *msg.Flush:
		if s, ok := r.state.(rampingDown); ok && s.flushID == m.ID {
			// the flushed audio ended before the ramp did
			r.rampDownGenerated(r.env.Value, r.env.Remaining)
			r.state = halted{}
			return r.discard(m)
		}
		return r.pass(m)
	case *msg.DecodedStream:
		r.stream = m.Info
		r.fw.reset(m.Info)
		r.env.Clear()
		return r.pass(m)
	case *msg.Quit:
		r.state = stopped{}
		return r.pass(m)
	case *msg.Silence:
		if _, ok := r.state.(draining); ok {
			return r.discard(m)
		}
		r.limit(m)
		return r.pass(m)
	case msg.Decoded:
		return r.processAudio(m)
	}
	return r.pass(m)
}

func (r *Ramper) processAudio(m msg.Decoded) (msg.Msg, outcome) {
	switch r.state.(type) {
	case draining:
		return r.discard(m)
	case halted:
		r.state = running{}
	case rampedDown:
		r.notifyStarving(false)
		r.env.Begin(ramp.Min, r.rampUpJiffies, ramp.Up)
		r.meter.Ramp()
		r.state = rampingUp{}
	}

	r.limit(m)
	if m.Kind() == msg.KindAudioDsd {
		r.processDsd(m)
	} else {
		switch s := r.state.(type) {
		case rampingUp:
			if r.applyRamp(m, ramp.Up) {
				r.state = running{}
			}
		case rampingDown:
			if r.applyRamp(m, ramp.Down) {
				r.state = flushing{flushID: s.flushID}
			}
		}
	}

	if pcm, ok := m.(*msg.AudioPcm); ok {
		r.fw.record(pcm.Playable())
	}
	r.setBuffering(false)
	return r.pass(m)
}

// lowDsd reports whether the buffer behind m holds too little dsd for a
// ramp down from full level and nothing ends the stream before it runs out.
func (r *Ramper) lowDsd(m msg.Audio) bool {
	return r.Jiffies()-m.Jiffies() <= RampDownJiffies &&
		atomic.LoadInt32(&r.halts) == 0 && atomic.LoadInt32(&r.tracks) == 0
}

// processDsd ramps dsd down over all remaining audio when the buffer runs
// low. Dsd is never flywheeled.
func (r *Ramper) processDsd(m msg.Audio) {
	switch s := r.state.(type) {
	case running:
		if r.lowDsd(m) {
			r.env.Begin(ramp.Max, r.Jiffies(), ramp.Down)
			r.meter.Ramp()
			r.state = rampingOut{}
			r.rampOut(m)
		}
	case rampingUp:
		if !r.lowDsd(m) {
			if r.applyRamp(m, ramp.Up) {
				r.state = running{}
			}
			return
		}
		if r.env.Value == ramp.Min {
			m.SetMuted()
			return
		}
		r.env.Begin(r.env.Value, r.Jiffies(), ramp.Down)
		r.state = rampingOut{}
		r.rampOut(m)
	case rampingOut:
		r.rampOut(m)
	case rampingDown:
		if r.applyRamp(m, ramp.Down) {
			r.state = flushing{flushID: s.flushID}
		}
	}
}

// rampOut continues a dsd ramp down and halts once it completes.
func (r *Ramper) rampOut(m msg.Audio) {
	if !r.applyRamp(m, ramp.Down) {
		return
	}
	r.log.Debugf("dsd ramped down with %v buffered", jiffies.Duration(r.Jiffies()-m.Jiffies()))
	r.meter.Starvation()
	r.generated.Enqueue(r.factory.Halt(0))
	r.state = rampedDown{}
	r.notifyStarving(true)
}

// limit splits audio longer than the configured maximum.
func (r *Ramper) limit(m msg.Audio) {
	if r.maxAudioOut > 0 && m.Jiffies() > r.maxAudioOut {
		r.queue.EnqueueAtHead(m.Split(r.maxAudioOut))
	}
}

// applyRamp ramps m and reports whether the ramp has completed.
func (r *Ramper) applyRamp(m msg.Audio, dir ramp.Direction) bool {
	if r.env.Remaining <= 0 {
		return true
	}
	if m.Jiffies() > r.env.Remaining {
		r.queue.EnqueueAtHead(m.Split(r.env.Remaining))
	}
	value, left, split := m.SetRamp(r.env.Value, r.env.Remaining, dir)
	if split != nil {
		r.queue.EnqueueAtHead(split)
	}
	r.env.Value, r.env.Remaining = value, left
	if left <= 0 {
		r.env.Stop()
		r.env.Direction = ramp.None
		return true
	}
	return false
}
