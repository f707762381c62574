package delay

import (
	"github.com/dudk/songpipe/msg"
)

// Left applies the part of a requested delay not already incurred by
// downstream buffering.
type Left struct {
	*core
	downstream int
	observer   Observer
}

// NewLeft returns a delay element pulling from upstream. downstream is the
// latency of elements further down the pipeline.
func NewLeft(f *msg.Factory, upstream msg.Upstream, rampDuration, downstream int, opts ...Option) *Left {
	l := &Left{downstream: downstream}
	l.core = newCore("left", f, upstream, rampDuration, l, opts)
	return l
}

// SetObserver sets the observer told about applied delays.
func (l *Left) SetObserver(o Observer) {
	l.observer = o
}

func (l *Left) processDelay(m *msg.Delay) msg.Msg {
	total := m.Total
	m.Release()
	out := l.factory.DelayTotal(min(l.downstream, total), total)
	d := 0
	if total > l.downstream {
		d = total - l.downstream
	}
	l.log.Debugf("delay total %d, applying %d, previous %d in %v", total, d, l.delay, l.status)
	l.changeDelay(d)
	return out
}

func (l *Left) processMode() {}

func (l *Left) processStream(bool, msg.StreamInfo) {}

func (l *Left) delayApplied() {
	if l.observer != nil {
		l.observer.NotifyDelayApplied(l.delay)
	}
}
