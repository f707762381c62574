package msg

import (
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/dudk/songpipe/jiffies"
	"github.com/dudk/songpipe/log"
	"github.com/dudk/songpipe/ramp"
)

// Config sets how many messages of each kind are expected to be alive at
// the same time. Up to that many released messages of a kind are kept for
// reuse. Exceeding a limit is logged once per kind.
type Config struct {
	Limits map[Kind]int
	// Logger receives capacity warnings. Optional.
	Logger *logrus.Logger
}

// DefaultConfig suits a single pipeline.
func DefaultConfig() Config {
	return Config{
		Limits: map[Kind]int{
			KindMode:              10,
			KindTrack:             10,
			KindDrain:             5,
			KindDelay:             10,
			KindEncodedStream:     10,
			KindMetaText:          20,
			KindStreamInterrupted: 10,
			KindHalt:              20,
			KindFlush:             10,
			KindWait:              10,
			KindDecodedStream:     20,
			KindBitRate:           20,
			KindAudioPcm:          1600,
			KindAudioDsd:          1600,
			KindSilence:           1000,
			KindQuit:              1,
		},
	}
}

// Factory creates every message of a pipeline.
type Factory struct {
	limits      [numKinds]int64
	outstanding [numKinds]int64
	warned      [numKinds]int32
	free        [numKinds]chan Msg
	flushID     uint32
	log         *logrus.Entry
}

// NewFactory returns a factory configured by cfg.
func NewFactory(cfg Config) *Factory {
	f := &Factory{
		log: log.ForComponent(cfg.Logger, "msg.factory", ""),
	}
	for k, limit := range cfg.Limits {
		for i := 0; i < numKinds; i++ {
			if k&(1<<i) != 0 {
				f.limits[i] = int64(limit)
				if limit > 0 {
					f.free[i] = make(chan Msg, limit)
				}
			}
		}
	}
	return f
}

// Outstanding returns the number of live messages of kinds in mask.
func (f *Factory) Outstanding(mask Kind) int {
	var n int64
	for i := 0; i < numKinds; i++ {
		if mask&(1<<i) != 0 {
			n += atomic.LoadInt64(&f.outstanding[i])
		}
	}
	return int(n)
}

// NextFlushID allocates a flush id. FlushIDInvalid is never returned.
func (f *Factory) NextFlushID() uint32 {
	id := atomic.AddUint32(&f.flushID, 1)
	if id == FlushIDInvalid {
		id = atomic.AddUint32(&f.flushID, 1)
	}
	return id
}

func (f *Factory) acquired(k Kind) {
	i := k.index()
	n := atomic.AddInt64(&f.outstanding[i], 1)
	if limit := f.limits[i]; limit > 0 && n > limit && atomic.CompareAndSwapInt32(&f.warned[i], 0, 1) {
		f.log.Warnf("%v messages exceed configured limit %d", k, limit)
	}
}

func (f *Factory) released(k Kind) {
	if atomic.AddInt64(&f.outstanding[k.index()], -1) < 0 {
		panic(fmt.Sprintf("msg: negative %v count", k))
	}
}

// recycle keeps a freed message for reuse if its free list has room.
func (f *Factory) recycle(m Msg) {
	select {
	case f.free[m.Kind().index()] <- m:
	default:
	}
}

// reuse returns a freed message of kind k or nil.
func (f *Factory) reuse(k Kind) Msg {
	select {
	case m := <-f.free[k.index()]:
		return m
	default:
		return nil
	}
}

// Mode creates a Mode message.
func (f *Factory) Mode(name string, info ModeInfo, puller ClockPuller) *Mode {
	m, ok := f.reuse(KindMode).(*Mode)
	if !ok {
		m = &Mode{}
	}
	*m = Mode{Name: name, Info: info, ClockPuller: puller}
	m.init(f, KindMode, nil, m)
	return m
}

// Track creates a Track message.
func (f *Factory) Track(uri string, startOfStream bool) *Track {
	m, ok := f.reuse(KindTrack).(*Track)
	if !ok {
		m = &Track{}
	}
	*m = Track{URI: uri, StartOfStream: startOfStream}
	m.init(f, KindTrack, nil, m)
	return m
}

// Drain creates a Drain message. callback runs once the drain is reported.
func (f *Factory) Drain(id uint32, callback func()) *Drain {
	m, ok := f.reuse(KindDrain).(*Drain)
	if !ok {
		m = &Drain{}
	}
	*m = Drain{ID: id, callback: callback}
	m.init(f, KindDrain, nil, m)
	return m
}

// Delay creates a Delay with remaining and total set to j.
func (f *Factory) Delay(j int) *Delay {
	return f.DelayTotal(j, j)
}

// DelayTotal creates a Delay message.
func (f *Factory) DelayTotal(remaining, total int) *Delay {
	m, ok := f.reuse(KindDelay).(*Delay)
	if !ok {
		m = &Delay{}
	}
	*m = Delay{Remaining: remaining, Total: total}
	m.init(f, KindDelay, nil, m)
	return m
}

// EncodedStream creates an EncodedStream message.
func (f *Factory) EncodedStream(uri string, streamID uint32, handler StreamHandler) *EncodedStream {
	m, ok := f.reuse(KindEncodedStream).(*EncodedStream)
	if !ok {
		m = &EncodedStream{}
	}
	*m = EncodedStream{URI: uri, StreamID: streamID, Handler: handler}
	m.init(f, KindEncodedStream, nil, m)
	return m
}

// MetaText creates a MetaText message.
func (f *Factory) MetaText(text string) *MetaText {
	m, ok := f.reuse(KindMetaText).(*MetaText)
	if !ok {
		m = &MetaText{}
	}
	*m = MetaText{Text: text}
	m.init(f, KindMetaText, nil, m)
	return m
}

// StreamInterrupted creates a StreamInterrupted message.
func (f *Factory) StreamInterrupted(j int) *StreamInterrupted {
	m, ok := f.reuse(KindStreamInterrupted).(*StreamInterrupted)
	if !ok {
		m = &StreamInterrupted{}
	}
	*m = StreamInterrupted{Jiffies: j}
	m.init(f, KindStreamInterrupted, nil, m)
	return m
}

// Halt creates a Halt message.
func (f *Factory) Halt(id uint32) *Halt {
	m, ok := f.reuse(KindHalt).(*Halt)
	if !ok {
		m = &Halt{}
	}
	*m = Halt{ID: id}
	m.init(f, KindHalt, nil, m)
	return m
}

// Flush creates a Flush message.
func (f *Factory) Flush(id uint32) *Flush {
	m, ok := f.reuse(KindFlush).(*Flush)
	if !ok {
		m = &Flush{}
	}
	*m = Flush{ID: id}
	m.init(f, KindFlush, nil, m)
	return m
}

// Wait creates a Wait message.
func (f *Factory) Wait() *Wait {
	m, ok := f.reuse(KindWait).(*Wait)
	if !ok {
		m = &Wait{}
	}
	*m = Wait{}
	m.init(f, KindWait, nil, m)
	return m
}

// BitRate creates a BitRate message.
func (f *Factory) BitRate(bitRate int) *BitRate {
	m, ok := f.reuse(KindBitRate).(*BitRate)
	if !ok {
		m = &BitRate{}
	}
	*m = BitRate{BitRate: bitRate}
	m.init(f, KindBitRate, nil, m)
	return m
}

// Quit creates a Quit message.
func (f *Factory) Quit() *Quit {
	m, ok := f.reuse(KindQuit).(*Quit)
	if !ok {
		m = &Quit{}
	}
	*m = Quit{}
	m.init(f, KindQuit, nil, m)
	return m
}

// DecodedStream creates a DecodedStream message.
func (f *Factory) DecodedStream(info StreamInfo) *DecodedStream {
	m, ok := f.reuse(KindDecodedStream).(*DecodedStream)
	if !ok {
		m = &DecodedStream{}
	}
	*m = DecodedStream{Info: info}
	m.init(f, KindDecodedStream, nil, m)
	return m
}

// AudioPcm copies interleaved pcm into a new message. trackOffset is the
// position of the first sample in jiffies.
func (f *Factory) AudioPcm(b []byte, numChannels, sampleRate, bitDepth int, endian Endian, trackOffset int) (*AudioPcm, error) {
	ps, err := jiffies.PerSample(sampleRate)
	if err != nil {
		return nil, err
	}
	switch bitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: bit depth %d", ErrFormatUnsupported, bitDepth)
	}
	if numChannels <= 0 {
		return nil, fmt.Errorf("%w: %d channels", ErrFormatUnsupported, numChannels)
	}
	bps := bitDepth / 8
	frame := bps * numChannels
	if len(b) == 0 || len(b)%frame != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of frames", ErrFormatUnsupported, len(b))
	}

	d := newData(len(b))
	copy(d.buf, b)
	if endian == LittleEndian && bps > 1 {
		for i := 0; i < len(d.buf); i += bps {
			s := d.buf[i : i+bps]
			for l, r := 0, bps-1; l < r; l, r = l+1, r-1 {
				s[l], s[r] = s[r], s[l]
			}
		}
	}
	m := f.newAudioPcm()
	m.size = len(b) / frame * ps
	m.sampleRate = sampleRate
	m.bitDepth = bitDepth
	m.numChannels = numChannels
	m.data = d
	m.trackOffset = trackOffset
	return m, nil
}

// AudioDsd copies a dsd bitstream into a new message.
func (f *Factory) AudioDsd(b []byte, numChannels, sampleRate, blockWords, trackOffset int) (*AudioDsd, error) {
	ps, err := jiffies.PerSample(sampleRate)
	if err != nil {
		return nil, err
	}
	if numChannels <= 0 || len(b) == 0 || (len(b)*8)%numChannels != 0 {
		return nil, fmt.Errorf("%w: %d bytes of %d channel dsd", ErrFormatUnsupported, len(b), numChannels)
	}
	d := newData(len(b))
	copy(d.buf, b)
	m := f.newAudioDsd()
	m.size = len(b) * 8 / numChannels * ps
	m.sampleRate = sampleRate
	m.bitDepth = 1
	m.numChannels = numChannels
	m.data = d
	m.trackOffset = trackOffset
	m.blockWords = blockWords
	return m, nil
}

// Silence creates pcm silence of at most j jiffies. The duration is
// rounded down to a whole sample, or up if that would leave no samples.
func (f *Factory) Silence(j, sampleRate, bitDepth, numChannels int) *Silence {
	size := jiffies.RoundDown(j, sampleRate)
	if size == 0 {
		size = jiffies.RoundUp(j, sampleRate)
	}
	m := f.newSilence()
	m.size = size
	m.sampleRate = sampleRate
	m.bitDepth = bitDepth
	m.numChannels = numChannels
	return m
}

// SilenceDsd creates dsd silence rounded to whole blocks of blockWords
// 32 bit words.
func (f *Factory) SilenceDsd(j, sampleRate, numChannels, blockWords int) *Silence {
	block := jiffies.FromSamples(blockWords*32/numChannels, sampleRate)
	size := j - j%block
	if size == 0 {
		size = block
	}
	m := f.newSilence()
	m.size = size
	m.sampleRate = sampleRate
	m.bitDepth = 1
	m.numChannels = numChannels
	m.dsd = true
	return m
}

func (f *Factory) newAudioPcm() *AudioPcm {
	m, ok := f.reuse(KindAudioPcm).(*AudioPcm)
	if !ok {
		m = &AudioPcm{}
	}
	*m = AudioPcm{}
	m.ramp = ramp.New()
	m.init(f, KindAudioPcm, m.clear, m)
	return m
}

func (f *Factory) newAudioDsd() *AudioDsd {
	m, ok := f.reuse(KindAudioDsd).(*AudioDsd)
	if !ok {
		m = &AudioDsd{}
	}
	*m = AudioDsd{}
	m.ramp = ramp.New()
	m.init(f, KindAudioDsd, m.clear, m)
	return m
}

func (f *Factory) newSilence() *Silence {
	m, ok := f.reuse(KindSilence).(*Silence)
	if !ok {
		m = &Silence{}
	}
	*m = Silence{}
	m.ramp = ramp.New()
	m.init(f, KindSilence, m.clear, m)
	return m
}

// Release releases every message in ms, skipping nils.
func Release(ms ...Msg) {
	for _, m := range ms {
		if m != nil {
			m.Release()
		}
	}
}
