package sender

import (
	"sync"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/dudk/songpipe/jiffies"
	"github.com/dudk/songpipe/log"
	"github.com/dudk/songpipe/metric"
	"github.com/dudk/songpipe/msg"
)

// DefaultMaxBacklog is the number of messages buffered before pruning.
const DefaultMaxBacklog = 100

// Option configures a Thread.
type Option func(*Thread)

// WithMaxBacklog sets the queue capacity.
func WithMaxBacklog(n int) Option {
	return func(t *Thread) {
		t.maxBacklog = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Logger) Option {
	return func(t *Thread) {
		t.logger = l
	}
}

// Thread pushes messages to a downstream on its own goroutine. Push never
// blocks on the downstream.
type Thread struct {
	id         string
	downstream msg.Downstream
	maxBacklog int
	logger     *logrus.Logger
	log        *logrus.Entry
	meter      *metric.Meter
	measure    metric.MeasureFunc

	mu    sync.Mutex
	queue *Queue

	signal    chan struct{}
	cancel    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewThread starts a thread pushing to downstream.
func NewThread(f *msg.Factory, downstream msg.Downstream, opts ...Option) *Thread {
	t := &Thread{
		id:         xid.New().String(),
		downstream: downstream,
		maxBacklog: DefaultMaxBacklog,
		signal:     make(chan struct{}, 1),
		cancel:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	t.queue = NewQueue(f, t.maxBacklog)
	t.log = log.ForComponent(t.logger, "sender", t.id)
	t.meter = metric.NewMeter(t)
	t.measure = t.meter.Reset()
	go t.run()
	return t
}

// ID returns the unique id of the thread.
func (t *Thread) ID() string {
	return t.id
}

// Push implements msg.Downstream.
func (t *Thread) Push(m msg.Msg) {
	t.mu.Lock()
	if t.queue.Len() >= t.maxBacklog {
		discarded := t.queue.Prune()
		t.meter.Drop(int64(discarded))
		t.log.Warnf("downstream behind, discarded %dms of audio", jiffies.ToMs(discarded))
	}
	t.queue.Enqueue(m)
	t.meter.Occupancy(int64(t.queue.Len()))
	t.mu.Unlock()

	select {
	case t.signal <- struct{}{}:
	default:
	}
}

// Close stops the thread and releases messages not yet pushed. It returns
// once the goroutine has exited.
func (t *Thread) Close() {
	t.closeOnce.Do(func() {
		close(t.cancel)
		<-t.done
		t.mu.Lock()
		t.queue.Clear()
		t.mu.Unlock()
	})
}

// Done is closed once the thread exits, either after pushing a Quit or
// on Close.
func (t *Thread) Done() <-chan struct{} {
	return t.done
}

func (t *Thread) run() {
	defer close(t.done)
	for {
		select {
		case <-t.signal:
		case <-t.cancel:
			return
		}
		for {
			select {
			case <-t.cancel:
				return
			default:
			}
			t.mu.Lock()
			m := t.queue.Dequeue()
			t.mu.Unlock()
			if m == nil {
				break
			}
			quit := m.Kind() == msg.KindQuit
			if a, ok := m.(msg.Audio); ok {
				t.measure(int64(a.Jiffies()))
			} else {
				t.measure(0)
			}
			t.downstream.Push(m)
			if quit {
				t.log.Debug("quit")
				return
			}
		}
	}
}
