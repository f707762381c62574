package songpipe

import (
	"sync"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/dudk/songpipe/delay"
	"github.com/dudk/songpipe/jiffies"
	"github.com/dudk/songpipe/log"
	"github.com/dudk/songpipe/msg"
	"github.com/dudk/songpipe/msglog"
	"github.com/dudk/songpipe/phase"
	"github.com/dudk/songpipe/ramper"
	"github.com/dudk/songpipe/starvation"
)

const (
	// DefaultStarvationJiffies is the default buffer ahead of the output.
	DefaultStarvationJiffies = starvation.MinMaxJiffies
	// DefaultDelayRamp is the default ramp applied on delay changes.
	DefaultDelayRamp = 20 * jiffies.PerMs
)

// Sink renders messages leaving a pipeline. Write does not take over the
// message, a sink keeping it must AddRef.
type Sink interface {
	Write(msg.Msg) error
	Close() error
}

// Pipeline is the standard chain of buffering and timing elements.
type Pipeline struct {
	id      string
	factory *msg.Factory
	logger  *logrus.Logger
	log     *logrus.Entry

	animator          msg.Animator
	observer          starvation.Observer
	starvationJiffies int
	rampLong          int
	rampShort         int
	delayRamp         int
	minDelay          int
	logMask           msg.Kind

	ramper     *ramper.Ramper
	left       *delay.Left
	right      *delay.Right
	starvation *starvation.Ramper
	adjuster   *phase.Adjuster
	tail       msg.Upstream

	mu      sync.Mutex
	running bool
	closed  bool
}

// New assembles a pipeline pulling from upstream. The starvation ramper
// starts pulling immediately.
func New(f *msg.Factory, upstream msg.Upstream, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		id:                xid.New().String(),
		factory:           f,
		starvationJiffies: DefaultStarvationJiffies,
		rampLong:          ramper.DefaultLongJiffies,
		rampShort:         ramper.DefaultShortJiffies,
		delayRamp:         DefaultDelayRamp,
	}
	for _, o := range opts {
		if err := o(p); err != nil {
			return nil, err
		}
	}
	p.log = log.ForComponent(p.logger, "pipeline", p.id)

	if p.logMask != 0 {
		upstream = msglog.NewUpstream("in", upstream, msglog.WithLogger(p.logger), msglog.WithFilter(p.logMask))
	}
	p.ramper = ramper.New(upstream,
		ramper.WithDurations(p.rampLong, p.rampShort),
		ramper.WithLogger(p.logger),
	)

	delayOpts := []delay.Option{delay.WithLogger(p.logger)}
	if p.animator != nil {
		delayOpts = append(delayOpts, delay.WithAnimator(p.animator))
	}
	p.left = delay.NewLeft(f, p.ramper, p.delayRamp, p.starvationJiffies, delayOpts...)
	p.right = delay.NewRight(f, p.left, p.delayRamp, p.minDelay, delayOpts...)
	p.left.SetObserver(p.right)

	// the adjuster observes audio entering the starvation buffer
	p.adjuster = phase.New(f, msg.UpstreamFunc(func() msg.Msg {
		return p.starvation.Pull()
	}), phase.WithLogger(p.logger))
	tap := phase.NewTap(p.right, p.adjuster)

	starvationOpts := []starvation.Option{
		starvation.WithMaxJiffies(p.starvationJiffies),
		starvation.WithLogger(p.logger),
	}
	if p.animator != nil {
		starvationOpts = append(starvationOpts, starvation.WithAnimator(p.animator))
		p.adjuster.SetAnimator(p.animator)
	}
	if p.observer != nil {
		starvationOpts = append(starvationOpts, starvation.WithObserver(p.observer))
	}
	p.starvation = starvation.New(f, tap, starvationOpts...)

	p.tail = p.adjuster
	if p.logMask != 0 {
		p.tail = msglog.NewUpstream("out", p.adjuster, msglog.WithLogger(p.logger), msglog.WithFilter(p.logMask))
	}
	p.log.Debugf("started with %v buffer", jiffies.Duration(p.starvationJiffies))
	return p, nil
}

// ID returns the unique id of the pipeline.
func (p *Pipeline) ID() string {
	return p.id
}

// Pull returns the next message ready for output. It returns nil once the
// pipeline is stopped.
func (p *Pipeline) Pull() msg.Msg {
	return p.tail.Pull()
}

// Jiffies returns the duration of buffered audio.
func (p *Pipeline) Jiffies() int {
	return p.starvation.Jiffies()
}

// Flush discards buffered audio until a Flush with id reaches the output.
func (p *Pipeline) Flush(id uint32) {
	p.starvation.Flush(id)
}

// DrainAllAudio discards buffered audio until the next Drain.
func (p *Pipeline) DrainAllAudio() {
	p.starvation.DrainAllAudio()
}

// Close stops the pipeline and releases buffered messages. The upstream
// must return from its pending Pull for Close to complete.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.starvation.Close()
	p.adjuster.Close()
	p.right.Close()
	p.left.Close()
	p.ramper.Close()
	p.log.Debug("closed")
}
