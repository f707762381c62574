package msg

// Upstream is the element a pipeline stage pulls messages from.
// Pull blocks until a message is available.
type Upstream interface {
	Pull() Msg
}

// Downstream is the element a pipeline stage pushes messages to.
type Downstream interface {
	Push(Msg)
}

// StreamHandler controls the source of a stream.
type StreamHandler interface {
	OkToPlay(streamID uint32) bool
	// TrySeek returns a flush id or FlushIDInvalid.
	TrySeek(streamID uint32, offset uint64) uint32
	// TryDiscard asks the source to drop jiffies of audio. It returns the
	// id of the Flush that follows the dropped audio or FlushIDInvalid.
	TryDiscard(jiffies int) uint32
	TryStop(streamID uint32) uint32
	NotifyStarving(mode string, streamID uint32, starving bool)
}

// Animator is the audio output consuming the pipeline.
type Animator interface {
	// BufferJiffies is the amount of audio the animator buffers.
	BufferJiffies() int
	// DelayJiffies is the output latency for a given format.
	DelayJiffies(format Format, sampleRate, bitDepth, numChannels int) (int, error)
	DsdBlockSizeWords() int
	MaxBitDepth() int
	MaxSampleRates() (pcm, dsd int)
	// SupportedKinds lists metadata kinds the animator wants to receive.
	SupportedKinds() Kind
}

// ClockPuller follows buffer occupancy to adjust the local clock.
type ClockPuller interface {
	Update(delta int)
	Start()
	Stop()
}

// BufferObserver is told about audio entering and leaving a buffer.
type BufferObserver interface {
	Update(delta int)
}

// UpstreamFunc adapts a function to Upstream.
type UpstreamFunc func() Msg

// Pull calls f.
func (f UpstreamFunc) Pull() Msg {
	return f()
}

// DownstreamFunc adapts a function to Downstream.
type DownstreamFunc func(Msg)

// Push calls f.
func (f DownstreamFunc) Push(m Msg) {
	f(m)
}
