package delay

import (
	"github.com/dudk/songpipe/msg"
)

// Right applies a requested delay less the latency of the animator, never
// less than a configured minimum. It starts the clock puller of the
// current mode once the delay is applied.
type Right struct {
	*core
	minDelay int
	total    int
	latency  int
}

// NewRight returns a delay element pulling from upstream.
func NewRight(f *msg.Factory, upstream msg.Upstream, rampDuration, minDelay int, opts ...Option) *Right {
	r := &Right{minDelay: minDelay}
	r.core = newCore("right", f, upstream, rampDuration, r, opts)
	return r
}

// NotifyDelayApplied starts the clock puller if no adjustment is pending.
// It must be called from the goroutine pulling from r, which is the case
// for a Left pulled by r.
func (r *Right) NotifyDelayApplied(int) {
	if r.adjustment == 0 {
		r.startPuller()
	}
}

// MaxSampleRates returns the highest pcm and dsd rates of the animator.
func (r *Right) MaxSampleRates() (pcm, dsd int) {
	if r.animator == nil {
		return 0, 0
	}
	return r.animator.MaxSampleRates()
}

func (r *Right) processDelay(m *msg.Delay) msg.Msg {
	remaining, total := m.Remaining, m.Total
	m.Release()
	r.total = max(remaining, r.minDelay)
	d := r.local()
	r.log.Debugf("delay %d, applying %d, animator %d, previous %d in %v", remaining, d, r.latency, r.delay, r.status)
	r.changeDelay(d)
	return r.factory.DelayTotal(d, max(total, r.minDelay))
}

func (r *Right) processMode() {
	r.total = 0
}

func (r *Right) processStream(changed bool, info msg.StreamInfo) {
	if !changed || r.animator == nil {
		return
	}
	latency, err := r.animator.DelayJiffies(info.Format, info.SampleRate, info.BitDepth, info.NumChannels)
	if err != nil {
		r.log.WithError(err).Warnf("animator delay for %v", info)
		return
	}
	r.latency = latency
	r.changeDelay(r.local())
}

func (r *Right) delayApplied() {
	r.startPuller()
}

// local returns the delay this element applies.
func (r *Right) local() int {
	d := 0
	if r.total > r.latency {
		d = r.total - r.latency
	}
	return max(d, r.minDelay)
}

func (r *Right) startPuller() {
	if p := r.puller(); p != nil {
		p.Start()
	}
}
