package starvation_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dudk/songpipe/internal/mock"
	"github.com/dudk/songpipe/jiffies"
	"github.com/dudk/songpipe/msg"
	"github.com/dudk/songpipe/ramp"
	"github.com/dudk/songpipe/starvation"
)

const ms = jiffies.PerMs

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	r       *starvation.Ramper
	u       *mock.Upstream
	g       *mock.Generator
	handler *mock.StreamHandler
	sink    mock.Sink
	sent    int
}

func newFixture(t *testing.T, opts ...starvation.Option) *fixture {
	t.Helper()
	f := msg.NewFactory(msg.DefaultConfig())
	h := &mock.StreamHandler{}
	fx := &fixture{
		u:       mock.NewUpstream(64),
		handler: h,
		g: &mock.Generator{
			Factory:     f,
			StreamID:    7,
			SampleRate:  44100,
			BitDepth:    16,
			NumChannels: 2,
			Value:       0x4000,
			Handler:     h,
		},
	}
	fx.r = starvation.New(f, fx.u, opts...)
	t.Cleanup(func() {
		fx.u.Close()
		fx.r.Close()
		fx.sink.Release()
	})
	return fx
}

// send queues messages and waits until the ramper has buffered them all
// and asks the upstream for more.
func (fx *fixture) send(t *testing.T, msgs ...msg.Msg) {
	t.Helper()
	fx.sent += len(msgs)
	fx.u.Send(msgs...)
	require.Eventually(t, func() bool {
		return fx.u.Calls() > fx.sent
	}, time.Second, time.Millisecond)
}

// pull pulls n messages into the sink and returns them.
func (fx *fixture) pull(n int) []msg.Msg {
	out := make([]msg.Msg, 0, n)
	for i := 0; i < n; i++ {
		m := fx.r.Pull()
		if m == nil {
			break
		}
		fx.sink.Push(m)
		out = append(out, m)
	}
	return out
}

// pullUntil pulls until a message of kind k is returned.
func (fx *fixture) pullUntil(k msg.Kind) []msg.Msg {
	var out []msg.Msg
	for {
		m := fx.r.Pull()
		if m == nil {
			return out
		}
		fx.sink.Push(m)
		out = append(out, m)
		if m.Kind() == k {
			return out
		}
	}
}

func audioJiffies(msgs []msg.Msg) int {
	var total int
	for _, m := range msgs {
		if a, ok := m.(msg.Audio); ok {
			total += a.Jiffies()
		}
	}
	return total
}

func count(msgs []msg.Msg, k msg.Kind) int {
	var n int
	for _, m := range msgs {
		if m.Kind() == k {
			n++
		}
	}
	return n
}

func TestPassThrough(t *testing.T) {
	fx := newFixture(t)
	a := fx.g.Audio(12 * ms)
	size := a.Jiffies()
	fx.send(t, fx.g.Factory.Mode("test", msg.ModeInfo{}, nil), fx.g.DecodedStream(0), a, fx.g.Factory.Halt(1))

	out := fx.pullUntil(msg.KindHalt)
	kinds := mock.Kinds(out...)
	assert.Equal(t, msg.KindMode, kinds[0])
	assert.Equal(t, msg.KindDecodedStream, kinds[1])
	assert.Equal(t, msg.KindHalt, kinds[len(kinds)-1])
	assert.Equal(t, size, audioJiffies(out))
	for _, m := range out {
		if a, ok := m.(msg.Audio); ok {
			assert.True(t, a.Jiffies() <= starvation.MaxAudioOutJiffies)
			assert.False(t, a.Ramp().IsEnabled())
		}
	}
	assert.Equal(t, 0, fx.r.Jiffies())
}

func TestPassesEveryKind(t *testing.T) {
	fx := newFixture(t)
	f := fx.g.Factory
	in := []msg.Msg{
		f.Mode("test", msg.ModeInfo{}, nil),
		f.Track("uri", true),
		f.Drain(1, nil),
		f.Delay(200 * ms),
		f.EncodedStream("uri", 7, fx.handler),
		f.MetaText("meta"),
		f.StreamInterrupted(0),
		f.Wait(),
		f.BitRate(1411),
		f.Flush(5),
		fx.g.DecodedStream(0),
		fx.g.Audio(2 * ms),
		fx.g.Silence(ms),
		f.Halt(1),
	}
	want := mock.Kinds(in...)
	fx.send(t, in...)

	out := fx.pull(len(in))
	assert.Equal(t, want, mock.Kinds(out...))
	for _, m := range out {
		if a, ok := m.(msg.Audio); ok {
			assert.False(t, a.Ramp().IsEnabled())
		}
	}

	fx.u.Send(f.Quit())
	assert.Equal(t, []msg.Kind{msg.KindQuit}, mock.Kinds(fx.pull(1)...))
	assert.Equal(t, 0, fx.r.Jiffies())
	assert.Empty(t, fx.handler.StarvingCalls())
}

func TestPrune(t *testing.T) {
	fx := newFixture(t, starvation.WithAnimator(&mock.Animator{Kinds: msg.KindMetaText}))
	f := fx.g.Factory
	fx.send(t, f.Track("uri", true), f.MetaText("meta"), f.BitRate(320), f.Wait(), f.Halt(1))

	out := fx.pullUntil(msg.KindHalt)
	assert.Equal(t, []msg.Kind{msg.KindMetaText, msg.KindHalt}, mock.Kinds(out...))
	assert.Equal(t, 2, f.Outstanding(msg.KindAll))
}

func TestStarvation(t *testing.T) {
	o := &mock.BufferingObserver{}
	fx := newFixture(t, starvation.WithObserver(o))
	fx.send(t, fx.g.Factory.Mode("test", msg.ModeInfo{}, nil), fx.g.DecodedStream(0), fx.g.Audio(3*ms))
	fx.pull(3)

	out := fx.pullUntil(msg.KindHalt)
	require.NotEmpty(t, out)
	assert.Equal(t, 1, count(out, msg.KindHalt))
	assert.Equal(t, starvation.RampDownJiffies, audioJiffies(out))
	first := out[0].(msg.Audio)
	last := out[len(out)-2].(msg.Audio)
	assert.Equal(t, ramp.Max, first.Ramp().Start)
	assert.Equal(t, ramp.Min, last.Ramp().End)
	for _, m := range out[:len(out)-1] {
		assert.Equal(t, ramp.Down, m.(msg.Audio).Ramp().Direction)
	}
	calls := o.Calls()
	require.NotEmpty(t, calls)
	assert.True(t, calls[len(calls)-1])

	// audio resumes with a ramp up
	fx.send(t, fx.g.Audio(10 * ms))
	resumed := fx.pull(1)
	require.Len(t, resumed, 1)
	a := resumed[0].(msg.Audio)
	assert.Equal(t, ramp.Up, a.Ramp().Direction)
	assert.Equal(t, ramp.Min, a.Ramp().Start)
	assert.False(t, o.Calls()[len(o.Calls())-1])

	assert.Equal(t, []mock.Starving{
		{Mode: "test", StreamID: 7, Starving: true},
		{Mode: "test", StreamID: 7, Starving: false},
	}, fx.handler.StarvingCalls())
}

func TestStarvationDsd(t *testing.T) {
	fx := newFixture(t)
	fx.g.Format = msg.FormatDsd
	fx.g.SampleRate = 2822400
	fx.send(t, fx.g.DecodedStream(0), fx.g.Dsd(64))
	fx.pull(2)

	out := fx.pull(1)
	assert.Equal(t, []msg.Kind{msg.KindHalt}, mock.Kinds(out...))
	assert.Len(t, fx.handler.StarvingCalls(), 1)
}

func TestDsdRampsDownLowBuffer(t *testing.T) {
	fx := newFixture(t)
	fx.g.Format = msg.FormatDsd
	fx.g.SampleRate = 2822400
	fx.send(t, fx.g.DecodedStream(0), fx.g.Dsd(64))

	out := fx.pull(3)
	require.Equal(t, []msg.Kind{msg.KindDecodedStream, msg.KindAudioDsd, msg.KindHalt}, mock.Kinds(out...))
	r := out[1].(msg.Audio).Ramp()
	assert.Equal(t, ramp.Down, r.Direction)
	assert.Equal(t, ramp.Max, r.Start)
	assert.Equal(t, ramp.Min, r.End)
	assert.Equal(t, 0, fx.r.Jiffies())
	assert.Equal(t, []mock.Starving{{Mode: "", StreamID: 7, Starving: true}}, fx.handler.StarvingCalls())
}

func TestDsdNotRampedWhileBuffered(t *testing.T) {
	fx := newFixture(t)
	fx.g.Format = msg.FormatDsd
	fx.g.SampleRate = 2822400
	fx.send(t, fx.g.DecodedStream(0), fx.g.Dsd(64), fx.g.Dsd(16384))

	out := fx.pull(2)
	require.Equal(t, []msg.Kind{msg.KindDecodedStream, msg.KindAudioDsd}, mock.Kinds(out...))
	assert.False(t, out[1].(msg.Audio).Ramp().IsEnabled())
}

func TestFlush(t *testing.T) {
	fx := newFixture(t)
	f := fx.g.Factory
	id := f.NextFlushID()
	fx.send(t, fx.g.DecodedStream(0), fx.g.Audio(3*ms), fx.g.Audio(40*ms), f.Flush(id), fx.g.Audio(3*ms))
	fx.pull(2)

	fx.r.Flush(id)
	out := fx.pullUntil(msg.KindHalt)
	assert.Equal(t, 1, count(out, msg.KindHalt))
	assert.Equal(t, 0, count(out, msg.KindFlush))
	assert.Equal(t, starvation.RampDownJiffies, audioJiffies(out))
	last := out[len(out)-2].(msg.Audio)
	assert.Equal(t, ramp.Min, last.Ramp().End)

	// audio after the flush plays without a ramp
	after := fx.pull(1)
	require.Len(t, after, 1)
	assert.Equal(t, msg.KindAudioPcm, after[0].Kind())
	assert.False(t, after[0].(msg.Audio).Ramp().IsEnabled())
}

func TestFlushWhileHalted(t *testing.T) {
	fx := newFixture(t)
	f := fx.g.Factory
	id := f.NextFlushID()
	fx.r.Flush(id)
	fx.send(t, fx.g.DecodedStream(0), f.MetaText("gone"), fx.g.Audio(3*ms), f.Flush(id))

	out := fx.pullUntil(msg.KindHalt)
	assert.Equal(t, []msg.Kind{msg.KindHalt}, mock.Kinds(out...))
}

func TestDrain(t *testing.T) {
	fx := newFixture(t)
	f := fx.g.Factory
	drained := make(chan struct{})
	fx.send(t, fx.g.DecodedStream(0), fx.g.Audio(3*ms), fx.g.Audio(40*ms))
	fx.pull(2)

	fx.r.DrainAllAudio()
	out := fx.pullUntil(msg.KindHalt)
	assert.Equal(t, starvation.RampDownJiffies, audioJiffies(out))
	assert.Equal(t, ramp.Max, out[0].(msg.Audio).Ramp().Start)

	fx.send(t, f.Drain(1, func() { close(drained) }), fx.g.Audio(3*ms))
	out = fx.pull(2)
	require.Len(t, out, 2)
	assert.Equal(t, msg.KindDrain, out[0].Kind())
	out[0].(*msg.Drain).ReportDrained()
	<-drained
	assert.Equal(t, msg.KindAudioPcm, out[1].Kind())
	assert.False(t, out[1].(msg.Audio).Ramp().IsEnabled())
}

func TestDrainWinsOverFlush(t *testing.T) {
	fx := newFixture(t)
	f := fx.g.Factory
	id := f.NextFlushID()
	fx.send(t, fx.g.DecodedStream(0), fx.g.Audio(3*ms), fx.g.Audio(40*ms))
	fx.pull(2)

	fx.r.DrainAllAudio()
	fx.r.Flush(id)
	out := fx.pullUntil(msg.KindHalt)
	assert.Equal(t, starvation.RampDownJiffies, audioJiffies(out))

	// the flush is ignored, so its Flush passes and the Drain ends draining
	fx.send(t, f.Flush(id), f.Drain(1, nil))
	out = fx.pullUntil(msg.KindDrain)
	assert.Equal(t, []msg.Kind{msg.KindFlush, msg.KindDrain}, mock.Kinds(out...))
}

func TestDrainOnDrainMsg(t *testing.T) {
	fx := newFixture(t)
	f := fx.g.Factory
	fx.send(t, fx.g.DecodedStream(0), fx.g.Audio(3*ms), f.Drain(1, nil))
	fx.pull(2)

	// a Drain arriving while audible is preceded by a ramp down and a Halt
	out := fx.pullUntil(msg.KindDrain)
	kinds := mock.Kinds(out...)
	require.True(t, len(kinds) > 2)
	assert.Equal(t, msg.KindHalt, kinds[len(kinds)-2])
	assert.Equal(t, starvation.RampDownJiffies, audioJiffies(out))
}

func TestBackpressure(t *testing.T) {
	fx := newFixture(t, starvation.WithMaxJiffies(10*ms), starvation.WithMaxAudioOut(0))
	fx.u.Send(fx.g.DecodedStream(0))
	for i := 0; i < 6; i++ {
		fx.u.Send(fx.g.Audio(5 * ms))
	}

	assert.Eventually(t, func() bool {
		return fx.r.Jiffies() >= 10*ms
	}, time.Second, time.Millisecond)
	assert.Never(t, func() bool {
		return fx.u.Pending() < 4
	}, 50*time.Millisecond, 5*time.Millisecond)

	// a pulled audio message makes space for one more
	fx.pull(2)
	assert.Eventually(t, func() bool {
		return fx.u.Pending() == 3
	}, time.Second, time.Millisecond)
	assert.True(t, fx.r.Jiffies() >= 10*ms)
}

func TestWaitForOccupancy(t *testing.T) {
	fx := newFixture(t)
	fx.u.Send(fx.g.DecodedStream(0))
	fx.r.WaitForOccupancy(8 * ms)

	pulled := make(chan msg.Msg)
	go func() {
		pulled <- fx.r.Pull()
	}()
	fx.u.Send(fx.g.Audio(5 * ms))
	select {
	case <-pulled:
		t.Fatal("pulled before occupancy was reached")
	case <-time.After(20 * time.Millisecond):
	}
	fx.u.Send(fx.g.Audio(5 * ms))
	m := <-pulled
	fx.sink.Push(m)
	assert.Equal(t, msg.KindDecodedStream, m.Kind())
}

func TestCloseReleases(t *testing.T) {
	f := msg.NewFactory(msg.DefaultConfig())
	g := &mock.Generator{Factory: f, SampleRate: 44100, BitDepth: 16, NumChannels: 2}
	u := mock.NewUpstream(8)
	r := starvation.New(f, u)
	u.Send(g.DecodedStream(0), g.Audio(5*ms), f.Quit())
	r.WaitForOccupancy(5 * ms)
	assert.Eventually(t, func() bool {
		return u.Pending() == 0
	}, time.Second, time.Millisecond)
	r.Close()
	u.Close()
	assert.Nil(t, r.Pull())
	assert.Equal(t, 0, f.Outstanding(msg.KindAll))
}

func TestStopUnblocksPull(t *testing.T) {
	fx := newFixture(t)
	pulled := make(chan msg.Msg)
	go func() {
		pulled <- fx.r.Pull()
	}()
	select {
	case <-pulled:
		t.Fatal("pulled from an empty buffer")
	case <-time.After(10 * time.Millisecond):
	}
	fx.r.Stop()
	assert.Nil(t, <-pulled)
	fx.r.Stop()
}
