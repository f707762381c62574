package mp3

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudk/songpipe/msg"
	"github.com/dudk/songpipe/source"
)

type fakeReader struct {
	*bytes.Reader
	rate int
}

func (r fakeReader) SampleRate() int { return r.rate }
func (r fakeReader) Length() int64   { return r.Size() }

func TestDecoder(t *testing.T) {
	pcm := make([]byte, 441*frameSize)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	d := newDecoder(fakeReader{Reader: bytes.NewReader(pcm), rate: 44100})
	format := d.Format()
	assert.Equal(t, "mp3", format.Codec)
	assert.Equal(t, msg.LittleEndian, format.Endian)
	assert.Equal(t, int64(441*1280), format.TrackLength)

	b := make([]byte, 403)
	n, err := d.Read(b)
	require.NoError(t, err)
	assert.Equal(t, 400, n)

	require.NoError(t, d.SeekSample(440))
	n, err = d.Read(b)
	assert.Equal(t, frameSize, n)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, pcm[440*frameSize:], b[:n])
	assert.NoError(t, d.Close())
}

func TestSource(t *testing.T) {
	f := msg.NewFactory(msg.DefaultConfig())
	pcm := []byte{0x34, 0x12, 0x78, 0x56}
	d := newDecoder(fakeReader{Reader: bytes.NewReader(pcm), rate: 48000})
	s, err := source.New(f, "file.mp3", d)
	require.NoError(t, err)
	var out []msg.Msg
	for m := s.Pull(); m != nil; m = s.Pull() {
		out = append(out, m)
	}
	defer msg.Release(out...)
	ds := out[2].(*msg.DecodedStream)
	assert.True(t, ds.Info.Seekable)
	a := out[3].(*msg.AudioPcm)
	assert.Equal(t, []byte{0x12, 0x34, 0x56, 0x78}, a.Playable())
}

func TestNotMp3(t *testing.T) {
	_, err := NewDecoder(bytes.NewReader([]byte("not an mp3")))
	assert.Error(t, err)
}
