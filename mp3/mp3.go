// Package mp3 decodes mp3 files.
package mp3

import (
	"io"
	"os"

	gomp3 "github.com/hajimehoshi/go-mp3"

	"github.com/dudk/songpipe/jiffies"
	"github.com/dudk/songpipe/msg"
	"github.com/dudk/songpipe/source"
)

// go-mp3 always renders 16 bit little-endian stereo.
const (
	bitDepth    = 16
	numChannels = 2
	frameSize   = bitDepth / 8 * numChannels
)

// reader is implemented by gomp3.Decoder.
type reader interface {
	io.ReadSeeker
	SampleRate() int
	Length() int64
}

// Decoder reads pcm from an mp3 stream.
type Decoder struct {
	closer io.Closer
	dec    reader
	format source.Format
}

// Open creates a decoder reading from the file at path.
func Open(path string) (*Decoder, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dec, err := gomp3.NewDecoder(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	d := newDecoder(dec)
	d.closer = file
	return d, nil
}

// NewDecoder creates a decoder reading from r. Seeking needs r to be an
// io.Seeker.
func NewDecoder(r io.Reader) (*Decoder, error) {
	dec, err := gomp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	return newDecoder(dec), nil
}

func newDecoder(dec reader) *Decoder {
	format := source.Format{
		Codec:       "mp3",
		SampleRate:  dec.SampleRate(),
		BitDepth:    bitDepth,
		NumChannels: numChannels,
		Endian:      msg.LittleEndian,
	}
	if l := dec.Length(); l > 0 {
		if ps, err := jiffies.PerSample(format.SampleRate); err == nil {
			format.TrackLength = l / frameSize * int64(ps)
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
	return io.ReadFull(d.dec, b[:len(b)-len(b)%frameSize])
}

// SeekSample implements source.Seeker.
func (d *Decoder) SeekSample(n int64) error {
	_, err := d.dec.Seek(n*frameSize, io.SeekStart)
	return err
}

// Close closes the file opened by Open.
func (d *Decoder) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}
