package msglog_test

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"

	"github.com/dudk/songpipe/internal/mock"
	"github.com/dudk/songpipe/jiffies"
	"github.com/dudk/songpipe/msg"
	"github.com/dudk/songpipe/msglog"
)

func TestUpstream(t *testing.T) {
	lg, hook := test.NewNullLogger()
	lg.SetLevel(logrus.DebugLevel)
	f := msg.NewFactory(msg.DefaultConfig())
	g := &mock.Generator{Factory: f, SampleRate: 44100, BitDepth: 16, NumChannels: 2}
	script := &mock.Script{}
	script.Add(f.Mode("m", msg.ModeInfo{}, nil), g.DecodedStream(0), g.Audio(jiffies.PerMs), g.Silence(jiffies.PerMs), f.Halt(1))
	l := msglog.NewUpstream("test", script, msglog.WithLogger(lg), msglog.WithFilter(msg.KindMode|msg.KindHalt))

	var sink mock.Sink
	for i := 0; i < 5; i++ {
		sink.Push(l.Pull())
	}
	assert.Equal(t, []msg.Kind{msg.KindMode, msg.KindDecodedStream, msg.KindAudioPcm, msg.KindSilence, msg.KindHalt}, sink.Kinds())
	assert.Len(t, hook.AllEntries(), 2)
	assert.Equal(t, "test", hook.LastEntry().Data["name"])

	pcm, dsd, silence := l.Jiffies()
	assert.Equal(t, jiffies.RoundUp(jiffies.PerMs, 44100), pcm)
	assert.Equal(t, 0, dsd)
	assert.Equal(t, jiffies.RoundDown(jiffies.PerMs, 44100), silence)
	sink.Release()
	assert.Equal(t, 0, f.Outstanding(msg.KindAll))
}

func TestDownstreamDisabled(t *testing.T) {
	lg, hook := test.NewNullLogger()
	f := msg.NewFactory(msg.DefaultConfig())
	var sink mock.Sink
	l := msglog.NewDownstream("out", &sink, msglog.WithLogger(lg))
	l.Push(f.Halt(0))
	l.SetEnabled(false)
	l.Push(f.Halt(1))
	assert.Len(t, hook.AllEntries(), 1)
	assert.Len(t, sink.Kinds(), 2)
	sink.Release()
}
