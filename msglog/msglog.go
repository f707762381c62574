// Package msglog provides a pass-through pipeline element which logs the
// messages flowing through it.
package msglog

import (
	"sync/atomic"

	"github.com/davecgh/go-spew/spew"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/dudk/songpipe/log"
	"github.com/dudk/songpipe/msg"
)

// Option configures a Logger.
type Option func(*Logger)

// WithFilter limits logging to kinds in mask.
func WithFilter(mask msg.Kind) Option {
	return func(l *Logger) {
		l.filter = uint32(mask)
	}
}

// WithLogger sets the logger.
func WithLogger(lg *logrus.Logger) Option {
	return func(l *Logger) {
		l.logger = lg
	}
}

// Logger logs messages pulled through it. It can sit between two
// elements as an Upstream or in front of a Downstream.
type Logger struct {
	id         string
	name       string
	upstream   msg.Upstream
	downstream msg.Downstream
	logger     *logrus.Logger
	log        *logrus.Entry
	filter     uint32
	enabled    int32

	// audio totals by kind, in jiffies
	pcm, dsd, silence int64
}

// NewUpstream returns a logger pulling from upstream.
func NewUpstream(name string, upstream msg.Upstream, opts ...Option) *Logger {
	l := newLogger(name, opts)
	l.upstream = upstream
	return l
}

// NewDownstream returns a logger pushing to downstream.
func NewDownstream(name string, downstream msg.Downstream, opts ...Option) *Logger {
	l := newLogger(name, opts)
	l.downstream = downstream
	return l
}

func newLogger(name string, opts []Option) *Logger {
	l := &Logger{
		id:      xid.New().String(),
		name:    name,
		filter:  uint32(msg.KindAll),
		enabled: 1,
	}
	for _, o := range opts {
		o(l)
	}
	l.log = log.ForComponent(l.logger, "msglog", l.id).WithField("name", name)
	return l
}

// ID returns the unique id of the logger.
func (l *Logger) ID() string {
	return l.id
}

// SetEnabled turns logging on or off.
func (l *Logger) SetEnabled(enabled bool) {
	var v int32
	if enabled {
		v = 1
	}
	atomic.StoreInt32(&l.enabled, v)
}

// SetFilter limits logging to kinds in mask.
func (l *Logger) SetFilter(mask msg.Kind) {
	atomic.StoreUint32(&l.filter, uint32(mask))
}

// Jiffies returns the audio logged so far by kind.
func (l *Logger) Jiffies() (pcm, dsd, silence int) {
	return int(atomic.LoadInt64(&l.pcm)), int(atomic.LoadInt64(&l.dsd)), int(atomic.LoadInt64(&l.silence))
}

// Pull implements msg.Upstream.
func (l *Logger) Pull() msg.Msg {
	m := l.upstream.Pull()
	if m != nil {
		l.record(m)
	}
	return m
}

// Push implements msg.Downstream.
func (l *Logger) Push(m msg.Msg) {
	l.record(m)
	l.downstream.Push(m)
}

func (l *Logger) record(m msg.Msg) {
	if a, ok := m.(msg.Audio); ok {
		switch m.Kind() {
		case msg.KindAudioPcm:
			atomic.AddInt64(&l.pcm, int64(a.Jiffies()))
		case msg.KindAudioDsd:
			atomic.AddInt64(&l.dsd, int64(a.Jiffies()))
		case msg.KindSilence:
			atomic.AddInt64(&l.silence, int64(a.Jiffies()))
		}
	}
	if atomic.LoadInt32(&l.enabled) == 0 || !m.Kind().Has(msg.Kind(atomic.LoadUint32(&l.filter))) {
		return
	}
	e := l.log.WithField("kind", m.Kind().String())
	switch m := m.(type) {
	case *msg.Mode:
		e.Infof("mode %q latency=%v live=%v", m.Name, m.Info.SupportsLatency, m.Info.Live)
	case *msg.Track:
		e.Infof("track %q startOfStream=%v", m.URI, m.StartOfStream)
	case *msg.Drain:
		e.Infof("drain %d", m.ID)
	case *msg.Delay:
		e.Infof("delay remaining=%d total=%d", m.Remaining, m.Total)
	case *msg.EncodedStream:
		e.Infof("encoded stream %d %q", m.StreamID, m.URI)
	case *msg.MetaText:
		// metadata drowns out everything else
		e.Debug("metatext")
	case *msg.StreamInterrupted:
		e.Infof("stream interrupted %d", m.Jiffies)
	case *msg.Halt:
		e.Infof("halt %d", m.ID)
	case *msg.Flush:
		e.Infof("flush %d", m.ID)
	case *msg.BitRate:
		e.Infof("bit rate %d", m.BitRate)
	case *msg.DecodedStream:
		e.Info(m.Info.String())
		if l.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
			e.Debug(spew.Sdump(m.Info))
		}
	case msg.Decoded:
		e.Debugf("%v offset=%d jiffies=%d ramp=%+v", m.Kind(), m.TrackOffset(), m.Jiffies(), m.Ramp())
	case *msg.Silence:
		e.Debugf("silence jiffies=%d ramp=%+v", m.Jiffies(), m.Ramp())
	default:
		e.Info(m.Kind().String())
	}
}
