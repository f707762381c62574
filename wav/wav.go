// Package wav reads and writes pcm wav files.
package wav

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/dudk/songpipe/jiffies"
	"github.com/dudk/songpipe/log"
	"github.com/dudk/songpipe/msg"
	"github.com/dudk/songpipe/source"
)

const pcmFormat = 1

var (
	// ErrInvalidFile is returned when a file isn't a valid wav.
	ErrInvalidFile = errors.New("wav is not valid")
	// ErrFormatChanged is returned when a stream of another format follows
	// the first one written.
	ErrFormatChanged = errors.New("wav format changed")
	// ErrNoStream is returned when audio arrives before a DecodedStream.
	ErrNoStream = errors.New("audio without stream")
)

// Decoder reads pcm from a wav file.
// This component cannot be reused for consequent runs.
type Decoder struct {
	file    *os.File
	decoder *wav.Decoder
	format  source.Format
	ib      *audio.IntBuffer
}

// Open creates a new wav decoder and reads wav props.
func Open(path string) (*Decoder, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	d, err := NewDecoder(file)
	if err != nil {
		if cerr := file.Close(); cerr != nil {
			return nil, fmt.Errorf("%w, failed to close the file %v: %v", err, path, cerr)
		}
		return nil, err
	}
	d.file = file
	return d, nil
}

// NewDecoder reads wav props from r.
func NewDecoder(r io.ReadSeeker) (*Decoder, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, ErrInvalidFile
	}
	if decoder.WavAudioFormat != pcmFormat {
		return nil, fmt.Errorf("%w: wav audio format %d", msg.ErrFormatUnsupported, decoder.WavAudioFormat)
	}
	if err := decoder.FwdToPCM(); err != nil {
		return nil, err
	}
	format := source.Format{
		Codec:       "wav",
		SampleRate:  int(decoder.SampleRate),
		BitDepth:    int(decoder.BitDepth),
		NumChannels: int(decoder.NumChans),
		Endian:      msg.BigEndian,
		BitRate:     int(decoder.AvgBytesPerSec) * 8,
		Lossless:    true,
	}
	if ps, err := jiffies.PerSample(format.SampleRate); err == nil && format.BitDepth >= 8 && format.NumChannels > 0 {
		format.TrackLength = int64(decoder.PCMSize / (format.BitDepth / 8 * format.NumChannels) * ps)
	}
	return &Decoder{
		decoder: decoder,
		format:  format,
		ib: &audio.IntBuffer{
			Format:         decoder.Format(),
			SourceBitDepth: format.BitDepth,
		},
	}, nil
}

// Format implements source.Decoder.
func (d *Decoder) Format() source.Format {
	return d.format
}

// Read implements source.Decoder. Samples are written big-endian.
func (d *Decoder) Read(b []byte) (int, error) {
	bps := d.format.BitDepth / 8
	size := len(b) / (bps * d.format.NumChannels) * d.format.NumChannels
	if cap(d.ib.Data) < size {
		d.ib.Data = make([]int, size)
	}
	d.ib.Data = d.ib.Data[:size]
	n, err := d.decoder.PCMBuffer(d.ib)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	n -= n % d.format.NumChannels
	samples := d.ib.Data[:n]
	if bps == 1 {
		// 8 bit wav is unsigned
		for i := range samples {
			samples[i] -= 128
		}
	}
	return msg.PutInts(b, samples, d.format.BitDepth), nil
}

// Close closes the file.
func (d *Decoder) Close() error {
	if d.file == nil {
		return nil
	}
	return d.file.Close()
}

// SinkOption configures a Sink.
type SinkOption func(*Sink)

// WithLatency sets the delay reported to the pipeline.
func WithLatency(j int) SinkOption {
	return func(s *Sink) {
		s.latency = j
	}
}

// WithSinkLogger sets the logger.
func WithSinkLogger(l *logrus.Logger) SinkOption {
	return func(s *Sink) {
		s.logger = l
	}
}

// Sink saves rendered audio to a wav file. The file is created with the
// format of the first DecodedStream. It also acts as the animator of the
// pipeline writing to it.
type Sink struct {
	path    string
	latency int
	logger  *logrus.Logger
	log     *logrus.Entry

	mu      sync.Mutex
	file    *os.File
	encoder *wav.Encoder
	stream  msg.StreamInfo
	jiffies int
}

// NewSink creates new wav sink.
func NewSink(path string, opts ...SinkOption) *Sink {
	s := &Sink{path: path}
	for _, o := range opts {
		o(s)
	}
	s.log = log.ForComponent(s.logger, "wav", xid.New().String()).WithField("path", path)
	return s
}

// Write renders audio messages. Other messages are ignored.
func (s *Sink) Write(m msg.Msg) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch m := m.(type) {
	case *msg.DecodedStream:
		return s.start(m.Info)
	case *msg.AudioPcm:
		if s.encoder == nil {
			return ErrNoStream
		}
		s.jiffies += m.Jiffies()
		return s.encoder.Write(m.IntBuffer())
	case *msg.Silence:
		if s.encoder == nil {
			return ErrNoStream
		}
		s.jiffies += m.Jiffies()
		return s.encoder.Write(&audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: s.stream.NumChannels,
				SampleRate:  s.stream.SampleRate,
			},
			Data:           make([]int, len(m.Playable())/(s.stream.BitDepth/8)),
			SourceBitDepth: s.stream.BitDepth,
		})
	case *msg.AudioDsd:
		return fmt.Errorf("%w: dsd", msg.ErrFormatUnsupported)
	}
	return nil
}

func (s *Sink) start(info msg.StreamInfo) error {
	if s.encoder != nil {
		if !s.stream.SameFormat(info) {
			return fmt.Errorf("%w: %v after %v", ErrFormatChanged, info, s.stream)
		}
		return nil
	}
	if info.Format != msg.FormatPcm {
		return fmt.Errorf("%w: %v", msg.ErrFormatUnsupported, info.Format)
	}
	f, err := os.Create(s.path)
	if err != nil {
		return err
	}
	s.file = f
	s.stream = info
	s.encoder = wav.NewEncoder(f, info.SampleRate, info.BitDepth, info.NumChannels, pcmFormat)
	s.log.Debugf("writing %v", info)
	return nil
}

// Jiffies returns the duration of written audio.
func (s *Sink) Jiffies() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jiffies
}

// Close flushes encoder and closes the file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.encoder == nil {
		return nil
	}
	err := s.encoder.Close()
	if err != nil {
		return err
	}
	s.encoder = nil
	return s.file.Close()
}

// BufferJiffies implements msg.Animator.
func (s *Sink) BufferJiffies() int {
	return 0
}

// DelayJiffies implements msg.Animator.
func (s *Sink) DelayJiffies(format msg.Format, sampleRate, bitDepth, numChannels int) (int, error) {
	if format != msg.FormatPcm {
		return 0, fmt.Errorf("%w: %v", msg.ErrFormatUnsupported, format)
	}
	if _, err := jiffies.PerSample(sampleRate); err != nil {
		return 0, err
	}
	return s.latency, nil
}

// DsdBlockSizeWords implements msg.Animator.
func (s *Sink) DsdBlockSizeWords() int {
	return 1
}

// MaxBitDepth implements msg.Animator.
func (s *Sink) MaxBitDepth() int {
	return 32
}

// MaxSampleRates implements msg.Animator.
func (s *Sink) MaxSampleRates() (pcm, dsd int) {
	return 192000, 0
}

// SupportedKinds implements msg.Animator. A file has no use for metadata.
func (s *Sink) SupportedKinds() msg.Kind {
	return 0
}
