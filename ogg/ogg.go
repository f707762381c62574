// Package ogg decodes ogg vorbis files.
package ogg

import (
	"io"
	"math"
	"os"

	"github.com/jfreymuth/oggvorbis"

	"github.com/dudk/songpipe/jiffies"
	"github.com/dudk/songpipe/msg"
	"github.com/dudk/songpipe/source"
)

const bitDepth = 16

// reader is implemented by oggvorbis.Reader.
type reader interface {
	Read([]float32) (int, error)
	SampleRate() int
	Channels() int
	Length() int64
	SetPosition(int64) error
}

// Decoder renders vorbis as 16 bit pcm.
type Decoder struct {
	closer io.Closer
	dec    reader
	format source.Format
	buf    []float32
}

// Open creates a decoder reading from the file at path.
func Open(path string) (*Decoder, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	d, err := NewDecoder(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	d.closer = file
	return d, nil
}

// NewDecoder creates a decoder reading from r. Seeking and track length
// need r to be an io.ReadSeeker.
func NewDecoder(r io.Reader) (*Decoder, error) {
	dec, err := oggvorbis.NewReader(r)
	if err != nil {
		return nil, err
	}
	d := newDecoder(dec)
	d.format.BitRate = dec.Bitrate().Nominal
	return d, nil
}

func newDecoder(dec reader) *Decoder {
	format := source.Format{
		Codec:       "vorbis",
		SampleRate:  dec.SampleRate(),
		BitDepth:    bitDepth,
		NumChannels: dec.Channels(),
		Endian:      msg.BigEndian,
	}
	if l := dec.Length(); l > 0 {
		if ps, err := jiffies.PerSample(format.SampleRate); err == nil {
			format.TrackLength = l * int64(ps)
		}
	}
	return &Decoder{dec: dec, format: format}
}

// Format implements source.Decoder.
func (d *Decoder) Format() source.Format {
	return d.format
}

// Read implements source.Decoder.
func (d *Decoder) Read(b []byte) (int, error) {
	samples := len(b) / (bitDepth / 8 * d.format.NumChannels) * d.format.NumChannels
	if cap(d.buf) < samples {
		d.buf = make([]float32, samples)
	}
	n, err := d.dec.Read(d.buf[:samples])
	n -= n % d.format.NumChannels
	for i, v := range d.buf[:n] {
		s := int16(math.Max(-1, math.Min(float64(v), 1)) * math.MaxInt16)
		b[2*i] = byte(s >> 8)
		b[2*i+1] = byte(s)
	}
	return n * 2, err
}

// SeekSample implements source.Seeker.
func (d *Decoder) SeekSample(n int64) error {
	return d.dec.SetPosition(n)
}

// Close closes the file opened by Open.
func (d *Decoder) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}
