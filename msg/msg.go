// Package msg defines the messages flowing through the pipeline.
//
// Messages are created by a Factory and are reference counted. Whoever
// holds a message owns one reference and must either pass it on or call
// Release. Audio messages share their decoded data, splitting a message
// never copies samples.
package msg

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Msg is implemented by every pipeline message.
type Msg interface {
	Kind() Kind
	AddRef()
	Release()
}

// FlushIDInvalid is never issued by a Factory.
const FlushIDInvalid uint32 = 0

// ref is the reference count embedded in every message.
type ref struct {
	refs    int32
	kind    Kind
	factory *Factory
	onFree  func()
	self    Msg
}

func (r *ref) init(f *Factory, k Kind, onFree func(), self Msg) {
	r.refs = 1
	r.kind = k
	r.factory = f
	r.onFree = onFree
	r.self = self
	f.acquired(k)
}

// Kind returns the message kind.
func (r *ref) Kind() Kind {
	return r.kind
}

// AddRef takes an extra reference.
func (r *ref) AddRef() {
	if atomic.AddInt32(&r.refs, 1) <= 1 {
		panic(fmt.Sprintf("msg: AddRef on released %v", r.kind))
	}
}

// Release drops a reference. The last release clears the message.
func (r *ref) Release() {
	n := atomic.AddInt32(&r.refs, -1)
	switch {
	case n < 0:
		panic(fmt.Sprintf("msg: %v released twice", r.kind))
	case n == 0:
		if r.onFree != nil {
			r.onFree()
		}
		r.factory.released(r.kind)
		r.factory.recycle(r.self)
	}
}

// ModeInfo describes capabilities of a transport mode.
type ModeInfo struct {
	// SupportsLatency is set for modes which carry a Delay target.
	SupportsLatency bool
	// Live streams cannot be paused.
	Live bool
	// RampPauseResumeLong selects long ramps at stream starts.
	RampPauseResumeLong bool
}

// Mode starts a new transport mode.
type Mode struct {
	ref
	Name        string
	Info        ModeInfo
	ClockPuller ClockPuller
}

// Track announces a new track.
type Track struct {
	ref
	URI string
	// StartOfStream is false for tracks continuing the current stream.
	StartOfStream bool
}

// Drain asks for every buffered message to be played out.
type Drain struct {
	ref
	ID       uint32
	callback func()
	once     sync.Once
}

// ReportDrained notifies the creator the drain reached the end of the
// pipeline. Only the first call has effect.
func (m *Drain) ReportDrained() {
	m.once.Do(func() {
		if m.callback != nil {
			m.callback()
		}
	})
}

// Delay sets the latency the pipeline should maintain.
type Delay struct {
	ref
	// Remaining is the delay still to be applied by downstream elements.
	Remaining int
	// Total is the delay requested by the sender.
	Total int
}

// EncodedStream announces a new encoded stream.
type EncodedStream struct {
	ref
	URI      string
	StreamID uint32
	Handler  StreamHandler
}

// MetaText carries track metadata.
type MetaText struct {
	ref
	Text string
}

// StreamInterrupted marks a discontinuity caused by removed audio.
type StreamInterrupted struct {
	ref
	Jiffies int
}

// Halt marks the end of audible output.
type Halt struct {
	ref
	ID uint32
}

// Flush marks the end of audio discarded on request.
type Flush struct {
	ref
	ID uint32
}

// Wait marks a pause the source expects to recover from.
type Wait struct {
	ref
}

// BitRate reports a new encoded bit rate.
type BitRate struct {
	ref
	BitRate int
}

// Quit terminates the pipeline.
type Quit struct {
	ref
}

// DecodedStream announces the format of audio that follows.
type DecodedStream struct {
	ref
	Info StreamInfo
}
