package mock_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dudk/songpipe/internal/mock"
	"github.com/dudk/songpipe/jiffies"
	"github.com/dudk/songpipe/msg"
)

func TestGenerator(t *testing.T) {
	f := msg.NewFactory(msg.DefaultConfig())
	g := mock.Generator{Factory: f, SampleRate: 44100, BitDepth: 16, NumChannels: 2, Value: -2}
	ds := g.DecodedStream(10)
	assert.Equal(t, uint64(10), ds.Info.SampleStart)

	a := g.Audio(jiffies.PerMs)
	assert.Equal(t, jiffies.RoundUp(jiffies.PerMs, 44100), a.Jiffies())
	assert.Equal(t, 10*jiffies.MustPerSample(44100), a.TrackOffset())
	b := g.Audio(jiffies.PerMs)
	assert.Equal(t, a.TrackOffset()+a.Jiffies(), b.TrackOffset())
	assert.Equal(t, -2, a.IntBuffer().Data[0])

	msg.Release(ds, a, b)
	assert.Equal(t, 0, f.Outstanding(msg.KindAll))
}

func TestScript(t *testing.T) {
	f := msg.NewFactory(msg.DefaultConfig())
	s := mock.Script{}
	s.Add(f.Halt(1))
	m := s.Pull()
	assert.Equal(t, msg.KindHalt, m.Kind())
	m.Release()
	assert.Panics(t, func() { s.Pull() })
	s.OnEmpty = func() msg.Msg { return nil }
	assert.Nil(t, s.Pull())
	assert.Equal(t, 3, s.Pulls)
}

func TestUpstreamAndSink(t *testing.T) {
	f := msg.NewFactory(msg.DefaultConfig())
	u := mock.NewUpstream(2)
	u.Send(f.Wait(), f.Quit())
	assert.Equal(t, 2, u.Pending())

	var sink mock.Sink
	sink.Push(u.Pull())
	sink.Push(u.Pull())
	assert.Equal(t, []msg.Kind{msg.KindWait, msg.KindQuit}, sink.Kinds())
	sink.Release()
	assert.Equal(t, 0, f.Outstanding(msg.KindAll))

	u.Close()
	assert.Nil(t, u.Pull())
	assert.Equal(t, 3, u.Pulls())
}
