package sender_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudk/songpipe/internal/mock"
	"github.com/dudk/songpipe/jiffies"
	"github.com/dudk/songpipe/msg"
	"github.com/dudk/songpipe/sender"
)

const audioJiffies = jiffies.PerMs * 10

type fixture struct {
	f    *msg.Factory
	g    *mock.Generator
	q    *sender.Queue
	sink mock.Sink
}

func newFixture(t *testing.T, max int) *fixture {
	t.Helper()
	f := msg.NewFactory(msg.DefaultConfig())
	fx := &fixture{
		f: f,
		g: &mock.Generator{Factory: f, SampleRate: 44100, BitDepth: 16, NumChannels: 2},
		q: sender.NewQueue(f, max),
	}
	t.Cleanup(func() {
		fx.q.Clear()
		fx.sink.Release()
		assert.Equal(t, 0, f.Outstanding(msg.KindAll))
	})
	return fx
}

func (fx *fixture) audio(n int) int {
	var j int
	for i := 0; i < n; i++ {
		a := fx.g.Audio(audioJiffies)
		j += a.Jiffies()
		fx.q.Enqueue(a)
	}
	return j
}

func (fx *fixture) enqueue(ms ...msg.Msg) {
	for _, m := range ms {
		fx.q.Enqueue(m)
	}
}

// drain dequeues everything into the sink.
func (fx *fixture) drain() []msg.Msg {
	var out []msg.Msg
	for m := fx.q.Dequeue(); m != nil; m = fx.q.Dequeue() {
		fx.sink.Push(m)
		out = append(out, m)
	}
	return out
}

func TestFifo(t *testing.T) {
	fx := newFixture(t, 10)
	fx.enqueue(fx.f.Halt(1), fx.f.Halt(2))
	fx.audio(1)
	require.Equal(t, 3, fx.q.Len())
	assert.Equal(t, []msg.Kind{msg.KindHalt, msg.KindHalt, msg.KindAudioPcm}, mock.Kinds(fx.drain()...))
	assert.Nil(t, fx.q.Dequeue())
}

func TestAudioReplacedByStreamInterrupted(t *testing.T) {
	fx := newFixture(t, 10)
	block1 := fx.audio(3)
	fx.enqueue(fx.f.MetaText("a"))
	block2 := fx.audio(2)
	assert.Equal(t, block1+block2, fx.q.Prune())

	out := fx.drain()
	require.Equal(t, []msg.Kind{msg.KindStreamInterrupted, msg.KindMetaText, msg.KindStreamInterrupted}, mock.Kinds(out...))
	assert.Equal(t, block1, out[0].(*msg.StreamInterrupted).Jiffies)
	assert.Equal(t, block2, out[2].(*msg.StreamInterrupted).Jiffies)
}

func TestPrunesEarlierModeContent(t *testing.T) {
	fx := newFixture(t, 20)
	fx.enqueue(fx.f.MetaText(""))
	block1 := fx.audio(1)
	fx.enqueue(fx.f.Halt(0), fx.f.Mode("mode1", msg.ModeInfo{}, nil), fx.f.Track("", true), fx.g.DecodedStream(0))
	block2 := fx.audio(3)
	fx.enqueue(fx.f.Mode("mode2", msg.ModeInfo{}, nil))
	fx.q.Prune()

	out := fx.drain()
	require.Equal(t, []msg.Kind{
		msg.KindStreamInterrupted,
		msg.KindStreamInterrupted,
		msg.KindMode,
	}, mock.Kinds(out...))
	assert.Equal(t, block1, out[0].(*msg.StreamInterrupted).Jiffies)
	assert.Equal(t, block2, out[1].(*msg.StreamInterrupted).Jiffies)
	assert.Equal(t, "mode2", out[2].(*msg.Mode).Name)
}

func TestKeepsLastModeOnly(t *testing.T) {
	fx := newFixture(t, 20)
	fx.enqueue(fx.f.Mode("m1", msg.ModeInfo{}, nil))
	fx.audio(2)
	fx.enqueue(fx.f.Mode("m2", msg.ModeInfo{}, nil))
	fx.audio(2)
	fx.enqueue(fx.f.Mode("m3", msg.ModeInfo{}, nil))
	fx.q.Prune()

	var modes []string
	for _, m := range fx.drain() {
		if mode, ok := m.(*msg.Mode); ok {
			modes = append(modes, mode.Name)
		}
	}
	assert.Equal(t, []string{"m3"}, modes)
}

func TestPrunesBeforeTrack(t *testing.T) {
	fx := newFixture(t, 20)
	fx.enqueue(fx.f.Delay(3), fx.f.MetaText(""))
	fx.audio(1)
	fx.enqueue(fx.f.Halt(0), fx.f.Track("uri1", true), fx.f.Track("uri1#2", false))
	block := fx.audio(2)
	fx.enqueue(fx.f.Track("uri2", true))
	fx.q.Prune()

	out := fx.drain()
	require.Equal(t, []msg.Kind{
		msg.KindDelay,
		msg.KindStreamInterrupted,
		msg.KindTrack,
		msg.KindStreamInterrupted,
		msg.KindTrack,
	}, mock.Kinds(out...))
	assert.Equal(t, "uri1#2", out[2].(*msg.Track).URI)
	assert.Equal(t, block, out[3].(*msg.StreamInterrupted).Jiffies)
	assert.Equal(t, "uri2", out[4].(*msg.Track).URI)
}

func TestPrunesEarlierStream(t *testing.T) {
	fx := newFixture(t, 20)
	fx.enqueue(fx.f.MetaText(""))
	fx.audio(1)
	fx.enqueue(fx.f.Halt(0), fx.g.DecodedStream(0), fx.f.EncodedStream("uri", 2, nil), fx.f.MetaText(""))
	fx.audio(3)
	fx.enqueue(fx.g.DecodedStream(100))
	fx.q.Prune()

	out := fx.drain()
	require.Equal(t, []msg.Kind{
		msg.KindStreamInterrupted,
		msg.KindEncodedStream,
		msg.KindStreamInterrupted,
		msg.KindDecodedStream,
	}, mock.Kinds(out...))
	assert.Equal(t, uint64(100), out[3].(*msg.DecodedStream).Info.SampleStart)
}

func TestPrunesDuplicateDelayMetaTextHalt(t *testing.T) {
	fx := newFixture(t, 20)
	fx.enqueue(
		fx.f.Halt(0),
		fx.f.MetaText(""),
		fx.f.Delay(3),
		fx.f.MetaText(""),
		fx.f.Halt(0),
		fx.f.Delay(60),
		fx.f.Delay(12345),
		fx.f.MetaText("meta"),
		fx.f.Halt(42),
	)
	assert.Equal(t, 0, fx.q.Prune())

	out := fx.drain()
	require.Equal(t, []msg.Kind{msg.KindDelay, msg.KindMetaText, msg.KindHalt}, mock.Kinds(out...))
	assert.Equal(t, 12345, out[0].(*msg.Delay).Total)
	assert.Equal(t, "meta", out[1].(*msg.MetaText).Text)
	assert.Equal(t, uint32(42), out[2].(*msg.Halt).ID)
}

func TestPrunesAllAbove(t *testing.T) {
	fx := newFixture(t, 30)
	fx.enqueue(fx.f.Delay(3), fx.f.MetaText(""))
	fx.audio(3)
	fx.enqueue(fx.f.Halt(0), fx.f.Mode("mode", msg.ModeInfo{}, nil), fx.f.Delay(300), fx.f.Track("", true), fx.g.DecodedStream(0))
	block2 := fx.audio(1)
	fx.enqueue(fx.f.Delay(400), fx.f.Track("", true), fx.g.DecodedStream(0))
	fx.audio(1)
	fx.enqueue(fx.f.MetaText("meta"))
	block4 := fx.audio(2)
	fx.q.Prune()

	out := fx.drain()
	require.Equal(t, []msg.Kind{
		msg.KindStreamInterrupted,
		msg.KindMode,
		msg.KindStreamInterrupted,
		msg.KindDelay,
		msg.KindTrack,
		msg.KindDecodedStream,
		msg.KindStreamInterrupted,
		msg.KindMetaText,
		msg.KindStreamInterrupted,
	}, mock.Kinds(out...))
	assert.Equal(t, block2, out[2].(*msg.StreamInterrupted).Jiffies)
	assert.Equal(t, 400, out[3].(*msg.Delay).Total)
	assert.Equal(t, block4, out[8].(*msg.StreamInterrupted).Jiffies)
}

func TestPrunesWhenFull(t *testing.T) {
	fx := newFixture(t, 8)
	block := fx.audio(8)
	require.Equal(t, 8, fx.q.Len())
	fx.audio(1)

	out := fx.drain()
	require.Equal(t, []msg.Kind{msg.KindStreamInterrupted, msg.KindAudioPcm}, mock.Kinds(out...))
	assert.Equal(t, block, out[0].(*msg.StreamInterrupted).Jiffies)
}

func TestReuse(t *testing.T) {
	fx := newFixture(t, 4)
	for i := 0; i < 12; i++ {
		fx.audio(1)
		assert.Equal(t, msg.KindAudioPcm, fx.drain()[0].Kind())
	}
	assert.Equal(t, 0, fx.q.Len())
}
