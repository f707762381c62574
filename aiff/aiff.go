// Package aiff reads pcm aiff files.
package aiff

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/aiff"
	"github.com/go-audio/audio"

	"github.com/dudk/songpipe/jiffies"
	"github.com/dudk/songpipe/msg"
	"github.com/dudk/songpipe/source"
)

// ErrInvalidFile is returned when a file isn't a valid aiff.
var ErrInvalidFile = errors.New("aiff is not valid")

// pcmReader is the part of aiff.Decoder used for reading samples.
type pcmReader interface {
	PCMBuffer(*audio.IntBuffer) (int, error)
}

// Decoder reads pcm from an aiff file.
type Decoder struct {
	file    *os.File
	decoder pcmReader
	format  source.Format
	ib      *audio.IntBuffer
}

// Open creates a new aiff decoder and reads aiff props.
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

// NewDecoder reads aiff props from r.
func NewDecoder(r io.ReadSeeker) (*Decoder, error) {
	decoder := aiff.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, ErrInvalidFile
	}
	decoder.ReadInfo()
	af := decoder.Format()
	if af == nil {
		return nil, fmt.Errorf("%w: aiff layout", msg.ErrFormatUnsupported)
	}
	format := source.Format{
		Codec:       "aiff",
		SampleRate:  af.SampleRate,
		BitDepth:    int(decoder.BitDepth),
		NumChannels: af.NumChannels,
		Endian:      msg.BigEndian,
		Lossless:    true,
	}
	format.BitRate = format.SampleRate * format.BitDepth * format.NumChannels
	if ps, err := jiffies.PerSample(format.SampleRate); err == nil {
		format.TrackLength = int64(decoder.NumSampleFrames) * int64(ps)
	}
	return &Decoder{
		decoder: decoder,
		format:  format,
		ib: &audio.IntBuffer{
			Format:         af,
			SourceBitDepth: format.BitDepth,
		},
	}, nil
}

// Format implements source.Decoder.
func (d *Decoder) Format() source.Format {
	return d.format
}

// Read implements source.Decoder.
func (d *Decoder) Read(b []byte) (int, error) {
	bps := d.format.BitDepth / 8
	size := len(b) / (bps * d.format.NumChannels) * d.format.NumChannels
	if cap(d.ib.Data) < size {
		d.ib.Data = make([]int, size)
	}
	d.ib.Data = d.ib.Data[:size]
	n, err := d.decoder.PCMBuffer(d.ib)
	n -= n % d.format.NumChannels
	if n == 0 {
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		return 0, io.EOF
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}
	return msg.PutInts(b, d.ib.Data[:n], d.format.BitDepth), nil
}

// Close closes the file.
func (d *Decoder) Close() error {
	if d.file == nil {
		return nil
	}
	return d.file.Close()
}
