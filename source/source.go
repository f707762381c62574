// Package source turns a decoder into the upstream of a pipeline.
package source

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/dudk/songpipe/jiffies"
	"github.com/dudk/songpipe/log"
	"github.com/dudk/songpipe/metric"
	"github.com/dudk/songpipe/msg"
)

// DefaultChunkJiffies is the default duration of pulled audio messages.
const DefaultChunkJiffies = 10 * jiffies.PerMs

// Format describes pcm produced by a decoder.
type Format struct {
	Codec       string
	SampleRate  int
	BitDepth    int
	NumChannels int
	Endian      msg.Endian
	// TrackLength in jiffies, zero if unknown.
	TrackLength int64
	BitRate     int
	Lossless    bool
}

// Decoder produces interleaved pcm of a single format.
type Decoder interface {
	Format() Format
	// Read fills b with whole frames. It returns io.EOF once the stream
	// is exhausted.
	Read(b []byte) (int, error)
	Close() error
}

// Seeker is implemented by decoders which can restart at a sample.
type Seeker interface {
	SeekSample(n int64) error
}

// Option configures a Source.
type Option func(*Source)

// WithMode sets the mode announced before the stream.
func WithMode(name string, info msg.ModeInfo) Option {
	return func(s *Source) {
		s.modeName, s.modeInfo = name, info
	}
}

// WithDelay announces a delay after the mode. It only has effect in modes
// which support latency.
func WithDelay(j int) Option {
	return func(s *Source) {
		s.delay = j
	}
}

// WithStreamID sets the id of the stream.
func WithStreamID(id uint32) Option {
	return func(s *Source) {
		s.streamID = id
	}
}

// WithChunkJiffies sets the duration of audio messages.
func WithChunkJiffies(j int) Option {
	return func(s *Source) {
		s.chunk = j
	}
}

// WithClockPuller attaches a clock puller to the announced mode.
func WithClockPuller(p msg.ClockPuller) Option {
	return func(s *Source) {
		s.puller = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Logger) Option {
	return func(s *Source) {
		s.logger = l
	}
}

// Source is a msg.Upstream reading audio from a decoder. It is the
// handler of the stream it produces. After the final Quit every Pull
// returns nil.
type Source struct {
	id       string
	factory  *msg.Factory
	decoder  Decoder
	uri      string
	format   Format
	logger   *logrus.Logger
	log      *logrus.Entry
	meter    *metric.Meter
	measure  metric.MeasureFunc
	modeName string
	modeInfo msg.ModeInfo
	puller   msg.ClockPuller
	delay    int
	streamID uint32
	chunk    int

	perSample int
	frame     int
	buf       []byte

	mu      sync.Mutex
	queue   msg.Queue
	started bool
	ended   bool
	offset  int
	// discard is the audio still to be skipped before flushID is sent.
	discard int
	flushID uint32
	seekTo  int64
	seekID  uint32
	stopID  uint32
}

// New returns a source reading from d. The uri is announced in the Track.
func New(f *msg.Factory, uri string, d Decoder, opts ...Option) (*Source, error) {
	format := d.Format()
	ps, err := jiffies.PerSample(format.SampleRate)
	if err != nil {
		return nil, err
	}
	switch format.BitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: bit depth %d", msg.ErrFormatUnsupported, format.BitDepth)
	}
	if format.NumChannels <= 0 {
		return nil, fmt.Errorf("%w: %d channels", msg.ErrFormatUnsupported, format.NumChannels)
	}
	s := &Source{
		id:       xid.New().String(),
		factory:  f,
		decoder:  d,
		uri:      uri,
		format:   format,
		modeName: "Playlist",
		streamID: 1,
		chunk:    DefaultChunkJiffies,
		seekTo:   -1,
	}
	for _, o := range opts {
		o(s)
	}
	s.perSample = ps
	s.frame = format.NumChannels * format.BitDepth / 8
	samples := s.chunk / ps
	if samples == 0 {
		samples = 1
	}
	s.buf = make([]byte, samples*s.frame)
	s.log = log.ForComponent(s.logger, "source", s.id).WithField("uri", uri)
	s.meter = metric.NewMeter(s)
	s.measure = s.meter.Reset()
	return s, nil
}

// ID returns the unique id of the source.
func (s *Source) ID() string {
	return s.id
}

// Pull implements msg.Upstream.
func (s *Source) Pull() msg.Msg {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.queue.Dequeue(); m != nil {
		return s.measured(m)
	}
	if s.ended {
		return nil
	}
	if !s.started {
		s.started = true
		s.start()
		return s.measured(s.queue.Dequeue())
	}
	switch {
	case s.stopID != msg.FlushIDInvalid:
		s.queue.Enqueue(s.factory.Flush(s.stopID))
		s.stopID = msg.FlushIDInvalid
		s.end()
		return s.measured(s.queue.Dequeue())
	case s.seekID != msg.FlushIDInvalid:
		s.seek()
		return s.measured(s.queue.Dequeue())
	case s.discard > 0:
		if err := s.skip(); err != nil {
			s.fail(err)
			return s.measured(s.queue.Dequeue())
		}
		s.queue.Enqueue(s.factory.Flush(s.flushID))
		s.flushID = msg.FlushIDInvalid
		return s.measured(s.queue.Dequeue())
	}
	return s.measured(s.read())
}

func (s *Source) measured(m msg.Msg) msg.Msg {
	if a, ok := m.(msg.Audio); ok {
		s.measure(int64(a.Jiffies()))
	} else if m != nil {
		s.measure(0)
	}
	return m
}

func (s *Source) start() {
	s.queue.Enqueue(s.factory.Mode(s.modeName, s.modeInfo, s.puller))
	if s.modeInfo.SupportsLatency && s.delay > 0 {
		s.queue.Enqueue(s.factory.Delay(s.delay))
	}
	s.queue.Enqueue(s.factory.Track(s.uri, true))
	s.queue.Enqueue(s.stream(0))
	s.log.Debugf("started %s %dHz %dbit %dch", s.format.Codec, s.format.SampleRate, s.format.BitDepth, s.format.NumChannels)
}

func (s *Source) stream(sampleStart uint64) *msg.DecodedStream {
	_, seekable := s.decoder.(Seeker)
	return s.factory.DecodedStream(msg.StreamInfo{
		StreamID:    s.streamID,
		BitRate:     s.format.BitRate,
		BitDepth:    s.format.BitDepth,
		SampleRate:  s.format.SampleRate,
		NumChannels: s.format.NumChannels,
		Codec:       s.format.Codec,
		TrackLength: s.format.TrackLength,
		SampleStart: sampleStart,
		Lossless:    s.format.Lossless,
		Seekable:    seekable,
		Live:        s.modeInfo.Live,
		Format:      msg.FormatPcm,
		Handler:     s,
	})
}

// read returns the next chunk of audio or ends the stream.
func (s *Source) read() msg.Msg {
	n, err := io.ReadFull(readerFunc(s.decoder.Read), s.buf)
	n -= n % s.frame
	if n > 0 {
		m, perr := s.factory.AudioPcm(s.buf[:n], s.format.NumChannels, s.format.SampleRate, s.format.BitDepth, s.format.Endian, s.offset)
		if perr != nil {
			s.fail(perr)
			return s.queue.Dequeue()
		}
		s.offset += m.Jiffies()
		if err != nil {
			s.finish(err)
		}
		return m
	}
	s.finish(err)
	return s.queue.Dequeue()
}

func (s *Source) finish(err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		s.log.Debugf("ended after %v", jiffies.Duration(s.offset))
		s.end()
		return
	}
	s.fail(err)
}

func (s *Source) fail(err error) {
	s.log.Errorf("decoding failed: %v", err)
	s.queue.Enqueue(s.factory.StreamInterrupted(0))
	s.end()
}

// end queues the final Halt and Quit.
func (s *Source) end() {
	s.queue.Enqueue(s.factory.Halt(0))
	s.queue.Enqueue(s.factory.Quit())
	s.ended = true
}

// skip drops discarded audio from the decoder.
func (s *Source) skip() error {
	for s.discard > 0 {
		size := s.discard / s.perSample * s.frame
		if size == 0 {
			size = s.frame
		}
		if size > len(s.buf) {
			size = len(s.buf)
		}
		n, err := io.ReadFull(readerFunc(s.decoder.Read), s.buf[:size])
		n -= n % s.frame
		j := n / s.frame * s.perSample
		s.offset += j
		s.discard -= j
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				s.discard = 0
				return nil
			}
			return err
		}
	}
	s.discard = 0
	return nil
}

func (s *Source) seek() {
	id, sample := s.seekID, s.seekTo
	s.seekID, s.seekTo = msg.FlushIDInvalid, -1
	if err := s.decoder.(Seeker).SeekSample(sample); err != nil {
		s.fail(err)
		return
	}
	s.offset = int(sample) * s.perSample
	s.queue.Enqueue(s.factory.Flush(id))
	s.queue.Enqueue(s.stream(uint64(sample)))
}

// Close closes the decoder and releases queued messages.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue.Clear()
	s.ended = true
	return s.decoder.Close()
}

// OkToPlay implements msg.StreamHandler.
func (s *Source) OkToPlay(streamID uint32) bool {
	return streamID == s.streamID
}

// TrySeek implements msg.StreamHandler. The offset is in samples.
func (s *Source) TrySeek(streamID uint32, offset uint64) uint32 {
	if _, ok := s.decoder.(Seeker); !ok || streamID != s.streamID {
		return msg.FlushIDInvalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return msg.FlushIDInvalid
	}
	s.seekTo = int64(offset)
	s.seekID = s.factory.NextFlushID()
	s.discard = 0
	return s.seekID
}

// TryDiscard implements msg.StreamHandler.
func (s *Source) TryDiscard(j int) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended || !s.started {
		return msg.FlushIDInvalid
	}
	s.discard += j
	if s.flushID == msg.FlushIDInvalid {
		s.flushID = s.factory.NextFlushID()
	}
	return s.flushID
}

// TryStop implements msg.StreamHandler.
func (s *Source) TryStop(streamID uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended || streamID != s.streamID {
		return msg.FlushIDInvalid
	}
	if s.stopID == msg.FlushIDInvalid {
		s.stopID = s.factory.NextFlushID()
	}
	return s.stopID
}

// NotifyStarving implements msg.StreamHandler.
func (s *Source) NotifyStarving(mode string, streamID uint32, starving bool) {
	if starving {
		s.meter.Starvation()
		s.log.Warnf("stream %d starving in %s", streamID, mode)
		return
	}
	s.log.Infof("stream %d recovered in %s", streamID, mode)
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(b []byte) (int, error) {
	return f(b)
}
