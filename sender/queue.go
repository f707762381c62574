// Package sender hands pipeline output to a slow consumer, such as a
// network sender, without blocking the pipeline.
//
// Messages are buffered in a bounded Queue. When the consumer falls behind
// and the queue fills up, buffered audio is discarded and replaced by
// StreamInterrupted markers, and control messages made obsolete by later
// ones are removed.
package sender

import (
	"github.com/dudk/songpipe/msg"
)

// Queue is a FIFO of messages pruned when full. It isn't safe for
// concurrent use.
type Queue struct {
	factory *msg.Factory
	max     int
	msgs    []msg.Msg
}

// NewQueue returns a queue which prunes once it holds max messages.
func NewQueue(f *msg.Factory, max int) *Queue {
	return &Queue{
		factory: f,
		max:     max,
		msgs:    make([]msg.Msg, 0, max),
	}
}

// Enqueue appends m, pruning the queue first if it is full.
func (q *Queue) Enqueue(m msg.Msg) {
	if len(q.msgs) >= q.max {
		q.Prune()
	}
	q.msgs = append(q.msgs, m)
}

// Dequeue removes the oldest message. It returns nil if q is empty.
func (q *Queue) Dequeue() msg.Msg {
	if len(q.msgs) == 0 {
		return nil
	}
	m := q.msgs[0]
	q.msgs[0] = nil
	q.msgs = q.msgs[1:]
	return m
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	return len(q.msgs)
}

// Clear releases every queued message.
func (q *Queue) Clear() {
	msg.Release(q.msgs...)
	q.msgs = q.msgs[:0]
}

// Prune discards queued audio and obsolete control messages. Each run of
// discarded audio is replaced by a StreamInterrupted. Content preceding
// the latest Mode, start of stream Track and DecodedStream is removed and
// only the latest Delay, MetaText and Halt are kept. The order of retained
// messages is preserved. Prune returns the duration of discarded audio.
func (q *Queue) Prune() int {
	msgs, discarded := q.pruneAudio(q.msgs)
	c := countKinds(msgs)

	kept := make([]msg.Msg, 0, len(msgs))
	i := 0
	for _, p := range []struct {
		done func() bool
		keep func(msg.Msg) bool
	}{
		{func() bool { return c.mode == 0 }, c.keepBeforeMode},
		{func() bool { return c.track == 0 }, c.keepBeforeTrack},
		{func() bool { return c.stream == 0 }, c.keepBeforeStream},
	} {
		// each pass continues where the previous one completed
		for ; i < len(msgs) && !p.done(); i++ {
			if p.keep(msgs[i]) {
				kept = append(kept, msgs[i])
			} else {
				msgs[i].Release()
			}
		}
	}
	kept = append(kept, msgs[i:]...)

	q.msgs = q.msgs[:0]
	for _, m := range kept {
		if c.keepLatest(m) {
			q.msgs = append(q.msgs, m)
		} else {
			m.Release()
		}
	}
	return discarded
}

// pruneAudio replaces every run of audio with a StreamInterrupted.
func (q *Queue) pruneAudio(msgs []msg.Msg) ([]msg.Msg, int) {
	out := make([]msg.Msg, 0, len(msgs)+1)
	run, total := 0, 0
	for _, m := range msgs {
		if a, ok := m.(msg.Audio); ok {
			run += a.Jiffies()
			a.Release()
			continue
		}
		if run > 0 {
			out = append(out, q.factory.StreamInterrupted(run))
			total += run
			run = 0
		}
		out = append(out, m)
	}
	if run > 0 {
		out = append(out, q.factory.StreamInterrupted(run))
		total += run
	}
	return out, total
}

// counts tracks how many messages of each pruned family remain.
type counts struct {
	mode, track, delay, meta, halt, stream int
}

func countKinds(msgs []msg.Msg) *counts {
	c := &counts{}
	for _, m := range msgs {
		switch m := m.(type) {
		case *msg.Mode:
			c.mode++
		case *msg.Track:
			if m.StartOfStream {
				c.track++
			}
		case *msg.Delay:
			c.delay++
		case *msg.MetaText:
			c.meta++
		case *msg.Halt:
			c.halt++
		case *msg.DecodedStream:
			c.stream++
		}
	}
	return c
}

// removed accounts for a message about to be discarded.
func (c *counts) removed(m msg.Msg) {
	switch m := m.(type) {
	case *msg.Track:
		if m.StartOfStream {
			c.track--
		}
	case *msg.Delay:
		c.delay--
	case *msg.MetaText:
		c.meta--
	case *msg.Halt:
		c.halt--
	case *msg.DecodedStream:
		c.stream--
	}
}

// keepBeforeMode keeps the latest Mode and discontinuity markers.
func (c *counts) keepBeforeMode(m msg.Msg) bool {
	switch m.(type) {
	case *msg.Mode:
		c.mode--
		return c.mode == 0
	case *msg.StreamInterrupted, *msg.Quit:
		return true
	}
	c.removed(m)
	return false
}

// keepBeforeTrack keeps the latest start of stream Track and messages
// which apply across tracks.
func (c *counts) keepBeforeTrack(m msg.Msg) bool {
	switch m := m.(type) {
	case *msg.Track:
		if !m.StartOfStream {
			return true
		}
		c.track--
		return c.track == 0
	case *msg.Mode, *msg.Delay, *msg.StreamInterrupted, *msg.Quit:
		return true
	}
	c.removed(m)
	return false
}

// keepBeforeStream keeps the latest DecodedStream and messages which apply
// across streams.
func (c *counts) keepBeforeStream(m msg.Msg) bool {
	switch m.(type) {
	case *msg.DecodedStream:
		c.stream--
		return c.stream == 0
	case *msg.Mode, *msg.Track, *msg.Delay, *msg.EncodedStream, *msg.StreamInterrupted, *msg.Quit:
		return true
	}
	c.removed(m)
	return false
}

// keepLatest drops all but the last Delay, MetaText and Halt.
func (c *counts) keepLatest(m msg.Msg) bool {
	var n *int
	switch m.(type) {
	case *msg.Delay:
		n = &c.delay
	case *msg.MetaText:
		n = &c.meta
	case *msg.Halt:
		n = &c.halt
	default:
		return true
	}
	if *n > 1 {
		*n--
		return false
	}
	return true
}
