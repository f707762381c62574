package msg

import (
	"errors"
	"fmt"
)

// ErrFormatUnsupported is returned when audio can't be represented.
var ErrFormatUnsupported = errors.New("format unsupported")

// Format of decoded audio.
type Format int

// Audio formats.
const (
	FormatPcm Format = iota
	FormatDsd
)

func (f Format) String() string {
	if f == FormatDsd {
		return "dsd"
	}
	return "pcm"
}

// Endian is the byte order of pcm passed to the factory.
type Endian int

// Byte orders.
const (
	BigEndian Endian = iota
	LittleEndian
)

// StreamInfo describes a decoded stream.
type StreamInfo struct {
	StreamID    uint32
	BitRate     int
	BitDepth    int
	SampleRate  int
	NumChannels int
	Codec       string
	// TrackLength in jiffies, zero if unknown.
	TrackLength int64
	// SampleStart is the position of the first sample that follows.
	SampleStart uint64
	Lossless    bool
	Seekable    bool
	Live        bool
	Format      Format
	Handler     StreamHandler
	// RampAtStart asks for a ramp up on the first audio.
	RampAtStart bool
}

// SameFormat reports whether audio of s and o can be played without
// reconfiguring the output.
func (s StreamInfo) SameFormat(o StreamInfo) bool {
	return s.Format == o.Format &&
		s.SampleRate == o.SampleRate &&
		s.BitDepth == o.BitDepth &&
		s.NumChannels == o.NumChannels
}

func (s StreamInfo) String() string {
	return fmt.Sprintf("stream %d %v %dHz %dbit %dch start=%d", s.StreamID, s.Format, s.SampleRate, s.BitDepth, s.NumChannels, s.SampleStart)
}
