// Package mock provides mocks for pipeline elements and collaborators and
// allows to execute integration tests.
package mock

import (
	"sync"

	"github.com/dudk/songpipe/jiffies"
	"github.com/dudk/songpipe/msg"
)

// Generator creates audio of a single format with increasing track offsets.
type Generator struct {
	Factory     *msg.Factory
	StreamID    uint32
	SampleRate  int
	BitDepth    int
	NumChannels int
	// Value is written to every sample.
	Value   int
	Handler msg.StreamHandler
	Format  msg.Format

	trackOffset int
}

// DecodedStream creates a stream message for generated audio.
func (g *Generator) DecodedStream(sampleStart uint64) *msg.DecodedStream {
	g.trackOffset = int(sampleStart) * jiffies.MustPerSample(g.SampleRate)
	return g.Factory.DecodedStream(msg.StreamInfo{
		StreamID:    g.StreamID,
		BitDepth:    g.BitDepth,
		SampleRate:  g.SampleRate,
		NumChannels: g.NumChannels,
		Codec:       "mock",
		SampleStart: sampleStart,
		Seekable:    true,
		Format:      g.Format,
		Handler:     g.Handler,
	})
}

// Audio creates pcm lasting at least j jiffies.
func (g *Generator) Audio(j int) *msg.AudioPcm {
	samples := jiffies.ToSamples(jiffies.RoundUp(j, g.SampleRate), g.SampleRate)
	bps := g.BitDepth / 8
	b := make([]byte, samples*g.NumChannels*bps)
	for i := 0; i < len(b); i += bps {
		v := g.Value
		for k := bps - 1; k >= 0; k-- {
			b[i+k] = byte(v)
			v >>= 8
		}
	}
	m, err := g.Factory.AudioPcm(b, g.NumChannels, g.SampleRate, g.BitDepth, msg.BigEndian, g.trackOffset)
	if err != nil {
		panic(err)
	}
	g.trackOffset += m.Jiffies()
	return m
}

// Dsd creates a dsd block of n bytes.
func (g *Generator) Dsd(n int) *msg.AudioDsd {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(g.Value)
	}
	m, err := g.Factory.AudioDsd(b, g.NumChannels, g.SampleRate, 1, g.trackOffset)
	if err != nil {
		panic(err)
	}
	g.trackOffset += m.Jiffies()
	return m
}

// Silence creates silence of j jiffies.
func (g *Generator) Silence(j int) *msg.Silence {
	return g.Factory.Silence(j, g.SampleRate, g.BitDepth, g.NumChannels)
}

// Upstream mocks msg.Upstream. Pull blocks until a message is sent or
// the upstream is closed, after which it returns nil.
type Upstream struct {
	once  sync.Once
	msgs  chan msg.Msg
	mu    sync.Mutex
	calls int
	pulls int
}

// NewUpstream returns upstream buffering up to size sent messages.
func NewUpstream(size int) *Upstream {
	return &Upstream{msgs: make(chan msg.Msg, size)}
}

// Send queues messages for Pull.
func (u *Upstream) Send(ms ...msg.Msg) {
	for _, m := range ms {
		u.msgs <- m
	}
}

// Pull implements msg.Upstream.
func (u *Upstream) Pull() msg.Msg {
	u.mu.Lock()
	u.calls++
	u.mu.Unlock()
	m := <-u.msgs
	u.mu.Lock()
	u.pulls++
	u.mu.Unlock()
	return m
}

// Pending returns the number of sent messages not yet pulled.
func (u *Upstream) Pending() int {
	return len(u.msgs)
}

// Pulls returns the number of Pull calls that returned.
func (u *Upstream) Pulls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.pulls
}

// Calls returns the number of Pull calls, including a blocked one.
func (u *Upstream) Calls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}

// Close unblocks pending and future pulls.
func (u *Upstream) Close() {
	u.once.Do(func() {
		close(u.msgs)
	})
}

// Script mocks msg.Upstream for synchronous elements. Pull on an empty
// script panics, so tests detect unexpected pulls.
type Script struct {
	Msgs  []msg.Msg
	Pulls int
	// OnEmpty is called instead of panicking when the script runs out.
	OnEmpty func() msg.Msg
}

// Add appends messages to the script.
func (s *Script) Add(ms ...msg.Msg) {
	s.Msgs = append(s.Msgs, ms...)
}

// Pull implements msg.Upstream.
func (s *Script) Pull() msg.Msg {
	s.Pulls++
	if len(s.Msgs) == 0 {
		if s.OnEmpty != nil {
			return s.OnEmpty()
		}
		panic("mock: script exhausted")
	}
	m := s.Msgs[0]
	s.Msgs = s.Msgs[1:]
	return m
}

// Sink mocks msg.Downstream. Messages are kept until Release.
type Sink struct {
	mu   sync.Mutex
	msgs []msg.Msg
	// Discard releases messages as they are pushed.
	Discard bool
}

// Push implements msg.Downstream.
func (s *Sink) Push(m msg.Msg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
	if s.Discard {
		m.Release()
	}
}

// Kinds returns kinds of pushed messages.
func (s *Sink) Kinds() []msg.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Kinds(s.msgs...)
}

// Msgs returns pushed messages. Discarded messages must not be used.
func (s *Sink) Msgs() []msg.Msg {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]msg.Msg(nil), s.msgs...)
}

// Release releases kept messages.
func (s *Sink) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Discard {
		msg.Release(s.msgs...)
	}
	s.msgs = nil
}

// Recorder mocks a pipeline sink. Written messages are kept in the
// embedded Sink until Release.
type Recorder struct {
	Sink
	// ErrOnWrite is returned by Write.
	ErrOnWrite error
	// ErrOnClose is returned by Close.
	ErrOnClose error

	mu     sync.Mutex
	closed bool
}

// Write keeps a reference to m.
func (r *Recorder) Write(m msg.Msg) error {
	if r.ErrOnWrite != nil {
		return r.ErrOnWrite
	}
	m.AddRef()
	r.Push(m)
	return nil
}

// Close marks the recorder closed.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return r.ErrOnClose
}

// Closed reports whether Close was called.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Kinds returns kinds of ms.
func Kinds(ms ...msg.Msg) []msg.Kind {
	kinds := make([]msg.Kind, 0, len(ms))
	for _, m := range ms {
		kinds = append(kinds, m.Kind())
	}
	return kinds
}

// Starving is a recorded NotifyStarving call.
type Starving struct {
	Mode     string
	StreamID uint32
	Starving bool
}

// StreamHandler mocks msg.StreamHandler.
type StreamHandler struct {
	mu sync.Mutex
	// DiscardID is returned by TryDiscard.
	DiscardID uint32
	Discarded []int
	Starving  []Starving
	NotOk     bool
}

// OkToPlay implements msg.StreamHandler.
func (h *StreamHandler) OkToPlay(uint32) bool {
	return !h.NotOk
}

// TrySeek implements msg.StreamHandler.
func (h *StreamHandler) TrySeek(uint32, uint64) uint32 {
	return msg.FlushIDInvalid
}

// TryDiscard implements msg.StreamHandler.
func (h *StreamHandler) TryDiscard(j int) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Discarded = append(h.Discarded, j)
	return h.DiscardID
}

// TryStop implements msg.StreamHandler.
func (h *StreamHandler) TryStop(uint32) uint32 {
	return msg.FlushIDInvalid
}

// NotifyStarving implements msg.StreamHandler.
func (h *StreamHandler) NotifyStarving(mode string, streamID uint32, starving bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Starving = append(h.Starving, Starving{Mode: mode, StreamID: streamID, Starving: starving})
}

// StarvingCalls returns recorded NotifyStarving calls.
func (h *StreamHandler) StarvingCalls() []Starving {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Starving(nil), h.Starving...)
}

// Animator mocks msg.Animator.
type Animator struct {
	Buffer     int
	Delay      int
	ErrOnDelay error
	BlockWords int
	BitDepth   int
	PcmRate    int
	DsdRate    int
	Kinds      msg.Kind
	// DelayQueries counts DelayJiffies calls.
	DelayQueries int
}

// BufferJiffies implements msg.Animator.
func (a *Animator) BufferJiffies() int {
	return a.Buffer
}

// DelayJiffies implements msg.Animator.
func (a *Animator) DelayJiffies(msg.Format, int, int, int) (int, error) {
	a.DelayQueries++
	return a.Delay, a.ErrOnDelay
}

// DsdBlockSizeWords implements msg.Animator.
func (a *Animator) DsdBlockSizeWords() int {
	if a.BlockWords == 0 {
		return 1
	}
	return a.BlockWords
}

// MaxBitDepth implements msg.Animator.
func (a *Animator) MaxBitDepth() int {
	return a.BitDepth
}

// MaxSampleRates implements msg.Animator.
func (a *Animator) MaxSampleRates() (int, int) {
	return a.PcmRate, a.DsdRate
}

// SupportedKinds implements msg.Animator.
func (a *Animator) SupportedKinds() msg.Kind {
	return a.Kinds
}

// ClockPuller mocks msg.ClockPuller.
type ClockPuller struct {
	mu      sync.Mutex
	Starts  int
	Stops   int
	Running bool
	Total   int
}

// Update implements msg.ClockPuller.
func (c *ClockPuller) Update(delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Total += delta
}

// Start implements msg.ClockPuller.
func (c *ClockPuller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Starts++
	c.Running = true
}

// Stop implements msg.ClockPuller.
func (c *ClockPuller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Stops++
	c.Running = false
}

// Observer mocks msg.BufferObserver.
type Observer struct {
	mu    sync.Mutex
	Total int
	// Forward receives every update.
	Forward msg.BufferObserver
}

// Update implements msg.BufferObserver.
func (o *Observer) Update(delta int) {
	o.mu.Lock()
	o.Total += delta
	o.mu.Unlock()
	if o.Forward != nil {
		o.Forward.Update(delta)
	}
}

// Jiffies returns the observed total.
func (o *Observer) Jiffies() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Total
}

// BufferingObserver records starvation ramper buffering notifications.
type BufferingObserver struct {
	mu    sync.Mutex
	calls []bool
}

// NotifyStarvationRamperBuffering records the notification.
func (o *BufferingObserver) NotifyStarvationRamperBuffering(buffering bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, buffering)
}

// Calls returns recorded notifications.
func (o *BufferingObserver) Calls() []bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]bool(nil), o.calls...)
}

// DelayObserver records applied delays.
type DelayObserver struct {
	Applied []int
}

// NotifyDelayApplied records the delay.
func (o *DelayObserver) NotifyDelayApplied(j int) {
	o.Applied = append(o.Applied, j)
}
