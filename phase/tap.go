package phase

import "github.com/dudk/songpipe/msg"

// Tap attaches an observer to every audio and silence message pulled
// through it.
type Tap struct {
	upstream msg.Upstream
	observer msg.BufferObserver
}

// NewTap returns a tap reporting to observer.
func NewTap(upstream msg.Upstream, observer msg.BufferObserver) *Tap {
	return &Tap{
		upstream: upstream,
		observer: observer,
	}
}

// Pull implements msg.Upstream.
func (t *Tap) Pull() msg.Msg {
	m := t.upstream.Pull()
	if a, ok := m.(msg.Audio); ok {
		a.SetObserver(t.observer)
	}
	return m
}
