// Package portaudio plays pipeline output on the default audio device.
package portaudio

import (
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/dudk/songpipe/jiffies"
	"github.com/dudk/songpipe/log"
	"github.com/dudk/songpipe/msg"
)

// DefaultBufferJiffies is the default duration of a device buffer.
const DefaultBufferJiffies = 10 * jiffies.PerMs

// Option configures a Sink.
type Option func(*Sink)

// WithBufferJiffies sets the duration of a device buffer.
func WithBufferJiffies(j int) Option {
	return func(s *Sink) {
		s.bufferJiffies = j
	}
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Logger) Option {
	return func(s *Sink) {
		s.logger = l
	}
}

// Sink represents portaudio sink which allows to play audio using default
// device. It is the animator of the pipeline writing to it.
type Sink struct {
	bufferJiffies int
	logger        *logrus.Logger
	log           *logrus.Entry
	device        *portaudio.DeviceInfo

	mu     sync.Mutex
	stream *portaudio.Stream
	info   msg.StreamInfo
	buf    []float32
	pos    int
}

// New initializes portaudio and looks up the default output device.
func New(opts ...Option) (*Sink, error) {
	s := &Sink{bufferJiffies: DefaultBufferJiffies}
	for _, o := range opts {
		o(s)
	}
	s.log = log.ForComponent(s.logger, "portaudio", xid.New().String())
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}
	device, err := portaudio.DefaultOutputDevice()
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}
	s.device = device
	s.log.Infof("output device %q", device.Name)
	return s, nil
}

// Write plays audio messages. A DecodedStream of a new format reopens the
// device stream, a Halt plays out buffered samples.
func (s *Sink) Write(m msg.Msg) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch m := m.(type) {
	case *msg.DecodedStream:
		if s.stream != nil && s.info.SameFormat(m.Info) {
			return nil
		}
		return s.open(m.Info)
	case *msg.AudioPcm:
		return s.write(m.Playable(), m.BitDepth())
	case *msg.Silence:
		return s.write(m.Playable(), m.BitDepth())
	case *msg.AudioDsd:
		return fmt.Errorf("%w: dsd", msg.ErrFormatUnsupported)
	case *msg.Halt, *msg.Quit:
		return s.flush()
	}
	return nil
}

func (s *Sink) open(info msg.StreamInfo) error {
	if err := s.closeStream(); err != nil {
		return err
	}
	if info.Format != msg.FormatPcm {
		return fmt.Errorf("%w: %v", msg.ErrFormatUnsupported, info.Format)
	}
	frames := jiffies.ToSamples(s.bufferJiffies, info.SampleRate)
	s.buf = make([]float32, frames*info.NumChannels)
	s.pos = 0
	stream, err := portaudio.OpenDefaultStream(0, info.NumChannels, float64(info.SampleRate), frames, &s.buf)
	if err != nil {
		return err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return err
	}
	s.stream = stream
	s.info = info
	s.log.Debugf("playing %v", info)
	return nil
}

// write converts big-endian samples and writes full buffers to the device.
func (s *Sink) write(b []byte, bitDepth int) error {
	if s.stream == nil {
		return fmt.Errorf("audio without stream")
	}
	scale := float32(int64(1) << uint(bitDepth-1))
	for _, v := range msg.Ints(b, bitDepth) {
		s.buf[s.pos] = float32(v) / scale
		s.pos++
		if s.pos == len(s.buf) {
			if err := s.stream.Write(); err != nil {
				return err
			}
			s.pos = 0
		}
	}
	return nil
}

// flush pads the buffer with silence and writes it.
func (s *Sink) flush() error {
	if s.stream == nil || s.pos == 0 {
		return nil
	}
	for i := s.pos; i < len(s.buf); i++ {
		s.buf[i] = 0
	}
	s.pos = 0
	return s.stream.Write()
}

func (s *Sink) closeStream() error {
	if s.stream == nil {
		return nil
	}
	stream := s.stream
	s.stream = nil
	if err := stream.Stop(); err != nil {
		return err
	}
	return stream.Close()
}

// Close terminates portaudio structures.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.closeStream(); err != nil {
		return err
	}
	return portaudio.Terminate()
}

// BufferJiffies implements msg.Animator.
func (s *Sink) BufferJiffies() int {
	return s.bufferJiffies
}

// DelayJiffies implements msg.Animator. It is the device latency plus one
// buffer.
func (s *Sink) DelayJiffies(format msg.Format, sampleRate, bitDepth, numChannels int) (int, error) {
	if format != msg.FormatPcm {
		return 0, fmt.Errorf("%w: %v", msg.ErrFormatUnsupported, format)
	}
	if numChannels > s.device.MaxOutputChannels {
		return 0, fmt.Errorf("%w: %d channels", msg.ErrFormatUnsupported, numChannels)
	}
	if _, err := jiffies.PerSample(sampleRate); err != nil {
		return 0, err
	}
	latency := s.device.DefaultHighOutputLatency
	s.mu.Lock()
	if s.stream != nil && s.info.SampleRate == sampleRate {
		latency = s.stream.Info().OutputLatency
	}
	s.mu.Unlock()
	return int(latency/time.Millisecond)*jiffies.PerMs + s.bufferJiffies, nil
}

// DsdBlockSizeWords implements msg.Animator.
func (s *Sink) DsdBlockSizeWords() int {
	return 1
}

// MaxBitDepth implements msg.Animator. Samples are rendered as float32.
func (s *Sink) MaxBitDepth() int {
	return 24
}

// MaxSampleRates implements msg.Animator.
func (s *Sink) MaxSampleRates() (pcm, dsd int) {
	return 192000, 0
}

// SupportedKinds implements msg.Animator.
func (s *Sink) SupportedKinds() msg.Kind {
	return msg.KindMetaText
}
