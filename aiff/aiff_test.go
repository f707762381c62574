package aiff_test

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudk/songpipe/aiff"
	"github.com/dudk/songpipe/internal/mock"
	"github.com/dudk/songpipe/msg"
	"github.com/dudk/songpipe/source"
)

const perSample = 1280

// rate44100 is 44100 as an 80 bit extended float.
var rate44100 = []byte{0x40, 0x0e, 0xac, 0x44, 0, 0, 0, 0, 0, 0}

// file returns a 16 bit stereo 44.1kHz aiff holding frames.
func file(frames [][2]int16) []byte {
	var data bytes.Buffer
	for _, f := range frames {
		binary.Write(&data, binary.BigEndian, f)
	}
	var comm bytes.Buffer
	binary.Write(&comm, binary.BigEndian, uint16(2))
	binary.Write(&comm, binary.BigEndian, uint32(len(frames)))
	binary.Write(&comm, binary.BigEndian, uint16(16))
	comm.Write(rate44100)

	var body bytes.Buffer
	body.WriteString("AIFF")
	body.WriteString("COMM")
	binary.Write(&body, binary.BigEndian, uint32(comm.Len()))
	body.Write(comm.Bytes())
	body.WriteString("SSND")
	binary.Write(&body, binary.BigEndian, uint32(8+data.Len()))
	binary.Write(&body, binary.BigEndian, uint32(0))
	binary.Write(&body, binary.BigEndian, uint32(0))
	body.Write(data.Bytes())

	var out bytes.Buffer
	out.WriteString("FORM")
	binary.Write(&out, binary.BigEndian, uint32(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes()
}

func TestDecoder(t *testing.T) {
	frames := make([][2]int16, 441)
	for i := range frames {
		frames[i] = [2]int16{0x1234, -2}
	}
	path := filepath.Join(t.TempDir(), "in.aiff")
	require.NoError(t, os.WriteFile(path, file(frames), 0o644))

	d, err := aiff.Open(path)
	require.NoError(t, err)
	format := d.Format()
	assert.Equal(t, 44100, format.SampleRate)
	assert.Equal(t, 16, format.BitDepth)
	assert.Equal(t, 2, format.NumChannels)
	assert.Equal(t, int64(441*perSample), format.TrackLength)

	f := msg.NewFactory(msg.DefaultConfig())
	src, err := source.New(f, path, d)
	require.NoError(t, err)
	var out []msg.Msg
	for m := src.Pull(); m != nil; m = src.Pull() {
		out = append(out, m)
	}
	defer msg.Release(out...)
	require.Equal(t, []msg.Kind{
		msg.KindMode, msg.KindTrack, msg.KindDecodedStream, msg.KindAudioPcm, msg.KindHalt, msg.KindQuit,
	}, mock.Kinds(out...))

	a := out[3].(*msg.AudioPcm)
	assert.Equal(t, 441*perSample, a.Jiffies())
	b := a.Playable()
	assert.Equal(t, []byte{0x12, 0x34, 0xff, 0xfe}, b[:4])
	assert.NoError(t, src.Close())
}

func TestInvalidFile(t *testing.T) {
	_, err := aiff.NewDecoder(bytes.NewReader([]byte("RIFF....WAVEfmt ")))
	assert.ErrorIs(t, err, aiff.ErrInvalidFile)

	_, err = aiff.Open(filepath.Join(t.TempDir(), "missing.aiff"))
	assert.Error(t, err)
}
