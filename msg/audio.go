package msg

import (
	"fmt"
	"sync/atomic"

	goaudio "github.com/go-audio/audio"

	"github.com/dudk/songpipe/internal/pool"
	"github.com/dudk/songpipe/jiffies"
	"github.com/dudk/songpipe/ramp"
)

// dsdSilence is the idle pattern of a dsd bitstream.
const dsdSilence = 0x69

// Audio is implemented by AudioPcm, AudioDsd and Silence.
type Audio interface {
	Msg
	// Jiffies is the duration of the message.
	Jiffies() int
	SampleRate() int
	BitDepth() int
	NumChannels() int
	Ramp() ramp.Ramp
	// SetRamp applies a ramp starting at start with remaining jiffies left
	// to run. It returns the gain at the end of the message and the
	// remaining duration of the ramp. If the new ramp intersects an existing
	// one running in the opposite direction the message is split and the
	// trailing part is returned as split.
	SetRamp(start, remaining int, dir ramp.Direction) (value, left int, split Audio)
	SetMuted()
	ClearRamp()
	// Split cuts the message after j jiffies and returns the trailing part.
	Split(j int) Audio
	// SetObserver attaches an observer told about the lifetime of this
	// message and of every part split from it.
	SetObserver(BufferObserver)
	// Playable renders the message with its ramp applied.
	Playable() []byte

	base() *audio
}

// Decoded is audio carrying samples of a stream.
type Decoded interface {
	Audio
	// TrackOffset is the position of the first sample in the track.
	TrackOffset() int
}

// data is decoded audio shared between split messages.
type data struct {
	buf  []byte
	refs int32
}

func newData(size int) *data {
	return &data{buf: pool.Alloc(size), refs: 1}
}

func (d *data) addRef() {
	atomic.AddInt32(&d.refs, 1)
}

func (d *data) release() {
	if atomic.AddInt32(&d.refs, -1) == 0 {
		pool.Free(d.buf)
		d.buf = nil
	}
}

type audio struct {
	ref
	size        int
	offset      int
	sampleRate  int
	bitDepth    int
	numChannels int
	ramp        ramp.Ramp
	observer    BufferObserver
}

func (a *audio) base() *audio {
	return a
}

// Jiffies returns the duration of the message.
func (a *audio) Jiffies() int {
	return a.size
}

// SampleRate of the audio.
func (a *audio) SampleRate() int {
	return a.sampleRate
}

// BitDepth of the audio.
func (a *audio) BitDepth() int {
	return a.bitDepth
}

// NumChannels of the audio.
func (a *audio) NumChannels() int {
	return a.numChannels
}

// Ramp returns the attached ramp.
func (a *audio) Ramp() ramp.Ramp {
	return a.ramp
}

// SetMuted silences the message.
func (a *audio) SetMuted() {
	a.ramp.SetMuted()
}

// ClearRamp removes the attached ramp.
func (a *audio) ClearRamp() {
	a.ramp.Reset()
}

// SetObserver attaches o and reports the message duration to it.
func (a *audio) SetObserver(o BufferObserver) {
	if a.observer != nil {
		panic(fmt.Sprintf("msg: %v already observed", a.kind))
	}
	a.observer = o
	o.Update(a.size)
}

func (a *audio) clearAudio() {
	if a.observer != nil {
		a.observer.Update(-a.size)
		a.observer = nil
	}
}

// splitInto moves everything after j jiffies to rem.
func (a *audio) splitInto(rem *audio, j int) {
	if j <= 0 || j >= a.size {
		panic(fmt.Sprintf("msg: split %v of %d jiffies at %d", a.kind, a.size, j))
	}
	rem.offset = a.offset + j
	rem.size = a.size - j
	rem.sampleRate = a.sampleRate
	rem.bitDepth = a.bitDepth
	rem.numChannels = a.numChannels
	rem.observer = a.observer
	if a.ramp.IsEnabled() {
		rem.ramp = a.ramp.Split(j, a.size)
	} else {
		rem.ramp = ramp.New()
	}
	a.size = j
}

// samples returns the range of whole samples covered by the message.
func (a *audio) samples() (first, last int) {
	ps := jiffies.MustPerSample(a.sampleRate)
	return a.offset / ps, (a.offset + a.size) / ps
}

func setRamp(a Audio, start, remaining int, dir ramp.Direction) (int, int, Audio) {
	if dir != ramp.Up && dir != ramp.Down {
		panic(fmt.Sprintf("msg: ramp %v", dir))
	}
	b := a.base()
	if b.ramp.IsEnabled() && b.ramp.Direction == ramp.Mute {
		if dir == ramp.Down {
			remaining = 0
		}
		return b.ramp.End, remaining, nil
	}

	var split Audio
	if sr, pos, ok := b.ramp.Set(start, b.size, remaining, dir); ok {
		switch pos {
		case 0:
			b.ramp = sr
		case b.size:
		default:
			// Split reshapes both ramps, the intersection values take precedence
			r := b.ramp
			split = a.Split(pos)
			b.ramp = r
			split.base().ramp = sr
		}
	}

	remaining -= b.size
	if split != nil && dir == ramp.Up && split.Ramp().Direction != dir {
		remaining += split.Jiffies()
	}
	// ramps may finish early on messages which had been ramped before
	if dir == ramp.Down && b.ramp.End == ramp.Min || dir == ramp.Up && b.ramp.End == ramp.Max {
		remaining = 0
	}
	return b.ramp.End, remaining, split
}

// AudioPcm is a block of decoded pcm. Samples are stored big-endian.
type AudioPcm struct {
	audio
	data        *data
	trackOffset int
}

// TrackOffset is the position of the first sample in the track.
func (m *AudioPcm) TrackOffset() int {
	return m.trackOffset
}

// SetRamp implements Audio.
func (m *AudioPcm) SetRamp(start, remaining int, dir ramp.Direction) (int, int, Audio) {
	return setRamp(m, start, remaining, dir)
}

// Split implements Audio.
func (m *AudioPcm) Split(j int) Audio {
	rem := m.factory.newAudioPcm()
	m.splitInto(&rem.audio, j)
	m.data.addRef()
	rem.data = m.data
	rem.trackOffset = m.trackOffset + m.size
	return rem
}

// Clone returns a message sharing data with m. The observer isn't copied.
func (m *AudioPcm) Clone() *AudioPcm {
	c := m.factory.newAudioPcm()
	c.size = m.size
	c.offset = m.offset
	c.sampleRate = m.sampleRate
	c.bitDepth = m.bitDepth
	c.numChannels = m.numChannels
	c.ramp = m.ramp
	m.data.addRef()
	c.data = m.data
	c.trackOffset = m.trackOffset
	return c
}

// Playable returns a copy of the samples with the ramp applied.
func (m *AudioPcm) Playable() []byte {
	frame := m.bitDepth / 8 * m.numChannels
	first, last := m.samples()
	out := make([]byte, (last-first)*frame)
	if m.ramp.IsEnabled() && m.ramp.Direction == ramp.Mute {
		return out
	}
	copy(out, m.data.buf[first*frame:last*frame])
	if m.ramp.IsEnabled() {
		ramp.Apply(out, m.ramp, m.bitDepth, m.numChannels)
	}
	return out
}

// IntBuffer renders the message into a go-audio buffer.
func (m *AudioPcm) IntBuffer() *goaudio.IntBuffer {
	return &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: m.numChannels,
			SampleRate:  m.sampleRate,
		},
		Data:           Ints(m.Playable(), m.bitDepth),
		SourceBitDepth: m.bitDepth,
	}
}

func (m *AudioPcm) clear() {
	m.clearAudio()
	m.data.release()
	m.data = nil
}

// AudioDsd is a block of dsd bitstream. Ramps other than mute are not
// applied to dsd.
type AudioDsd struct {
	audio
	data        *data
	trackOffset int
	blockWords  int
}

// TrackOffset is the position of the first sample in the track.
func (m *AudioDsd) TrackOffset() int {
	return m.trackOffset
}

// SetRamp implements Audio.
func (m *AudioDsd) SetRamp(start, remaining int, dir ramp.Direction) (int, int, Audio) {
	return setRamp(m, start, remaining, dir)
}

// Split implements Audio.
func (m *AudioDsd) Split(j int) Audio {
	rem := m.factory.newAudioDsd()
	m.splitInto(&rem.audio, j)
	m.data.addRef()
	rem.data = m.data
	rem.trackOffset = m.trackOffset + m.size
	rem.blockWords = m.blockWords
	return rem
}

// Playable returns a copy of the bitstream.
func (m *AudioDsd) Playable() []byte {
	first, last := m.samples()
	start, end := first*m.numChannels/8, last*m.numChannels/8
	out := make([]byte, end-start)
	if m.ramp.IsEnabled() && m.ramp.Direction == ramp.Mute {
		fill(out, dsdSilence)
		return out
	}
	copy(out, m.data.buf[start:end])
	return out
}

func (m *AudioDsd) clear() {
	m.clearAudio()
	m.data.release()
	m.data = nil
}

// Silence is a block of silence.
type Silence struct {
	audio
	dsd bool
}

// SetRamp implements Audio. The ramp position advances but the audio stays
// silent.
func (m *Silence) SetRamp(start, remaining int, dir ramp.Direction) (int, int, Audio) {
	return setRamp(m, start, remaining, dir)
}

// Split implements Audio.
func (m *Silence) Split(j int) Audio {
	rem := m.factory.newSilence()
	m.splitInto(&rem.audio, j)
	rem.dsd = m.dsd
	return rem
}

// Playable renders the silence.
func (m *Silence) Playable() []byte {
	first, last := m.samples()
	if m.dsd {
		out := make([]byte, (last-first)*m.numChannels/8)
		fill(out, dsdSilence)
		return out
	}
	return make([]byte, (last-first)*m.bitDepth/8*m.numChannels)
}

func (m *Silence) clear() {
	m.clearAudio()
}

// Ints converts big-endian signed samples to ints.
func Ints(b []byte, bitDepth int) []int {
	bps := bitDepth / 8
	out := make([]int, len(b)/bps)
	shift := uint(64 - bitDepth)
	for i := range out {
		var v int64
		for _, x := range b[i*bps : (i+1)*bps] {
			v = v<<8 | int64(x)
		}
		out[i] = int(v << shift >> shift)
	}
	return out
}

// PutInts writes samples to b as big-endian signed values and returns the
// number of bytes written.
func PutInts(b []byte, samples []int, bitDepth int) int {
	bps := bitDepth / 8
	for i, v := range samples {
		s := b[i*bps : (i+1)*bps]
		for k := bps - 1; k >= 0; k-- {
			s[k] = byte(v)
			v >>= 8
		}
	}
	return len(samples) * bps
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}
