package sender_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"github.com/dudk/songpipe/internal/mock"
	"github.com/dudk/songpipe/msg"
	"github.com/dudk/songpipe/sender"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestThreadPushesUntilQuit(t *testing.T) {
	f := msg.NewFactory(msg.DefaultConfig())
	g := &mock.Generator{Factory: f, SampleRate: 44100, BitDepth: 16, NumChannels: 2}
	var sink mock.Sink
	th := sender.NewThread(f, &sink)

	th.Push(f.Mode("mode", msg.ModeInfo{}, nil))
	th.Push(g.DecodedStream(0))
	th.Push(g.Audio(audioJiffies))
	th.Push(f.Quit())

	select {
	case <-th.Done():
	case <-time.After(time.Second):
		t.Fatal("thread didn't quit")
	}
	th.Close()
	assert.Equal(t, []msg.Kind{msg.KindMode, msg.KindDecodedStream, msg.KindAudioPcm, msg.KindQuit}, sink.Kinds())
	sink.Release()
	assert.Equal(t, 0, f.Outstanding(msg.KindAll))
}

// blockingSink holds the thread in Push until released.
type blockingSink struct {
	mock.Sink
	entered chan struct{}
	release chan struct{}
}

func (s *blockingSink) Push(m msg.Msg) {
	s.entered <- struct{}{}
	<-s.release
	s.Sink.Push(m)
}

func TestThreadPrunesBacklog(t *testing.T) {
	f := msg.NewFactory(msg.DefaultConfig())
	g := &mock.Generator{Factory: f, SampleRate: 44100, BitDepth: 16, NumChannels: 2}
	sink := &blockingSink{entered: make(chan struct{}), release: make(chan struct{})}
	th := sender.NewThread(f, sink, sender.WithMaxBacklog(4))

	th.Push(f.Halt(0))
	<-sink.entered
	var block int
	for i := 0; i < 5; i++ {
		a := g.Audio(audioJiffies)
		if i < 4 {
			block += a.Jiffies()
		}
		th.Push(a)
	}
	th.Push(f.Quit())
	close(sink.release)
	for i := 0; i < 3; i++ {
		<-sink.entered
	}
	<-th.Done()
	th.Close()

	ms := sink.Msgs()
	assert.Equal(t, []msg.Kind{msg.KindHalt, msg.KindStreamInterrupted, msg.KindAudioPcm, msg.KindQuit}, mock.Kinds(ms...))
	assert.Equal(t, block, ms[1].(*msg.StreamInterrupted).Jiffies)
	sink.Release()
	assert.Equal(t, 0, f.Outstanding(msg.KindAll))
}

func TestThreadCloseReleases(t *testing.T) {
	f := msg.NewFactory(msg.DefaultConfig())
	var sink mock.Sink
	th := sender.NewThread(f, &sink)
	th.Push(f.Quit())
	<-th.Done()

	// nothing pushes after a Quit
	th.Push(f.Halt(1))
	th.Close()
	assert.Equal(t, []msg.Kind{msg.KindQuit}, sink.Kinds())
	sink.Release()
	assert.Equal(t, 0, f.Outstanding(msg.KindAll))
}
