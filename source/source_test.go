package source_test

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudk/songpipe/jiffies"
	"github.com/dudk/songpipe/msg"
	"github.com/dudk/songpipe/source"
)

const perSample = 1280

// memory decodes 16 bit stereo frames holding their index.
type memory struct {
	frames int
	pos    int
	err    error
	closed bool
}

func (d *memory) Format() source.Format {
	return source.Format{Codec: "mem", SampleRate: 44100, BitDepth: 16, NumChannels: 2, Endian: msg.BigEndian}
}

func (d *memory) Read(b []byte) (int, error) {
	var n int
	for ; n+4 <= len(b) && d.pos < d.frames; n += 4 {
		v := byte(d.pos)
		b[n], b[n+1], b[n+2], b[n+3] = 0, v, 0, v
		d.pos++
	}
	if d.pos == d.frames {
		if d.err != nil {
			return n, d.err
		}
		return n, io.EOF
	}
	return n, nil
}

func (d *memory) Close() error {
	d.closed = true
	return nil
}

type seekable struct {
	*memory
}

func (d seekable) SeekSample(n int64) error {
	d.pos = int(n)
	return nil
}

func drain(t *testing.T, s *source.Source) []msg.Msg {
	t.Helper()
	var out []msg.Msg
	for {
		m := s.Pull()
		if m == nil {
			return out
		}
		out = append(out, m)
		require.Less(t, len(out), 1000)
	}
}

func kinds(ms []msg.Msg) []msg.Kind {
	k := make([]msg.Kind, 0, len(ms))
	for _, m := range ms {
		k = append(k, m.Kind())
	}
	return k
}

func TestSource(t *testing.T) {
	f := msg.NewFactory(msg.DefaultConfig())
	d := &memory{frames: 1000}
	s, err := source.New(f, "mem://a", d, source.WithChunkJiffies(400*perSample))
	require.NoError(t, err)

	out := drain(t, s)
	defer msg.Release(out...)
	assert.Equal(t, []msg.Kind{
		msg.KindMode, msg.KindTrack, msg.KindDecodedStream,
		msg.KindAudioPcm, msg.KindAudioPcm, msg.KindAudioPcm,
		msg.KindHalt, msg.KindQuit,
	}, kinds(out))

	ds := out[2].(*msg.DecodedStream)
	assert.Equal(t, uint32(1), ds.Info.StreamID)
	assert.False(t, ds.Info.Seekable)
	assert.Equal(t, s, ds.Info.Handler)

	last := out[5].(*msg.AudioPcm)
	assert.Equal(t, 800*perSample, last.TrackOffset())
	assert.Equal(t, 200*perSample, last.Jiffies())
	assert.Nil(t, s.Pull())
	assert.NoError(t, s.Close())
	assert.True(t, d.closed)
}

func TestSourceLatencyMode(t *testing.T) {
	f := msg.NewFactory(msg.DefaultConfig())
	s, err := source.New(f, "mem://a", &memory{frames: 10},
		source.WithMode("Receiver", msg.ModeInfo{SupportsLatency: true}),
		source.WithDelay(100*jiffies.PerMs),
		source.WithStreamID(4),
	)
	require.NoError(t, err)
	out := drain(t, s)
	defer msg.Release(out...)
	require.Equal(t, msg.KindDelay, out[1].Kind())
	assert.Equal(t, 100*jiffies.PerMs, out[1].(*msg.Delay).Remaining)
	assert.True(t, s.OkToPlay(4))
	assert.False(t, s.OkToPlay(1))
}

func TestSourceDiscard(t *testing.T) {
	f := msg.NewFactory(msg.DefaultConfig())
	s, err := source.New(f, "mem://a", &memory{frames: 1000}, source.WithChunkJiffies(100*perSample))
	require.NoError(t, err)
	assert.Equal(t, msg.FlushIDInvalid, s.TryDiscard(perSample))

	var out []msg.Msg
	for i := 0; i < 4; i++ {
		out = append(out, s.Pull())
	}
	id := s.TryDiscard(250 * perSample)
	require.NotEqual(t, msg.FlushIDInvalid, id)
	assert.Equal(t, id, s.TryDiscard(50*perSample))

	fl := s.Pull()
	out = append(out, fl)
	require.Equal(t, msg.KindFlush, fl.Kind())
	assert.Equal(t, id, fl.(*msg.Flush).ID)
	a := s.Pull().(*msg.AudioPcm)
	out = append(out, a)
	assert.Equal(t, 400*perSample, a.TrackOffset())
	out = append(out, drain(t, s)...)
	msg.Release(out...)
	assert.Equal(t, 0, f.Outstanding(msg.KindAll))
}

func TestSourceSeek(t *testing.T) {
	f := msg.NewFactory(msg.DefaultConfig())
	s, err := source.New(f, "mem://a", seekable{&memory{frames: 1000}}, source.WithChunkJiffies(100*perSample))
	require.NoError(t, err)
	out := []msg.Msg{s.Pull(), s.Pull(), s.Pull()}
	assert.True(t, out[2].(*msg.DecodedStream).Info.Seekable)

	id := s.TrySeek(1, 900)
	require.NotEqual(t, msg.FlushIDInvalid, id)
	fl := s.Pull()
	ds := s.Pull().(*msg.DecodedStream)
	a := s.Pull().(*msg.AudioPcm)
	out = append(out, fl, ds, a)
	assert.Equal(t, id, fl.(*msg.Flush).ID)
	assert.Equal(t, uint64(900), ds.Info.SampleStart)
	assert.Equal(t, 900*perSample, a.TrackOffset())
	out = append(out, drain(t, s)...)
	msg.Release(out...)
}

func TestSourceStop(t *testing.T) {
	f := msg.NewFactory(msg.DefaultConfig())
	s, err := source.New(f, "mem://a", &memory{frames: 1000})
	require.NoError(t, err)
	out := []msg.Msg{s.Pull(), s.Pull(), s.Pull()}
	assert.Equal(t, msg.FlushIDInvalid, s.TryStop(2))
	id := s.TryStop(1)
	rest := drain(t, s)
	out = append(out, rest...)
	defer msg.Release(out...)
	assert.Equal(t, []msg.Kind{msg.KindFlush, msg.KindHalt, msg.KindQuit}, kinds(rest))
	assert.Equal(t, id, rest[0].(*msg.Flush).ID)
}

func TestSourceDecodeError(t *testing.T) {
	f := msg.NewFactory(msg.DefaultConfig())
	s, err := source.New(f, "mem://a", &memory{frames: 3, err: errors.New("corrupt")})
	require.NoError(t, err)
	out := drain(t, s)
	defer msg.Release(out...)
	assert.Equal(t, []msg.Kind{
		msg.KindMode, msg.KindTrack, msg.KindDecodedStream,
		msg.KindAudioPcm, msg.KindStreamInterrupted, msg.KindHalt, msg.KindQuit,
	}, kinds(out))
}

type badFormat struct{ memory }

func (badFormat) Format() source.Format {
	return source.Format{SampleRate: 44000, BitDepth: 16, NumChannels: 2}
}

func TestUnsupportedFormat(t *testing.T) {
	_, err := source.New(msg.NewFactory(msg.DefaultConfig()), "mem://a", &badFormat{})
	assert.ErrorIs(t, err, jiffies.ErrSampleRateUnsupported)
}
