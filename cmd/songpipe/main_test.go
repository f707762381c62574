package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudk/songpipe/internal/mock"
	"github.com/dudk/songpipe/jiffies"
	"github.com/dudk/songpipe/msg"
	"github.com/dudk/songpipe/wav"
)

// writeWav creates a wav file holding d jiffies of audio.
func writeWav(t *testing.T, path string, d int) {
	t.Helper()
	f := msg.NewFactory(msg.DefaultConfig())
	g := &mock.Generator{Factory: f, SampleRate: 44100, BitDepth: 16, NumChannels: 2, Value: 0x1000}
	sink := wav.NewSink(path)
	ms := []msg.Msg{g.DecodedStream(0), g.Audio(d)}
	defer msg.Release(ms...)
	for _, m := range ms {
		require.NoError(t, sink.Write(m))
	}
	require.NoError(t, sink.Close())
}

func TestRender(t *testing.T) {
	dir := t.TempDir()
	in, out := filepath.Join(dir, "in.wav"), filepath.Join(dir, "out.wav")
	writeWav(t, in, 500*jiffies.PerMs)

	cmd := newRootCmd()
	cmd.SetArgs([]string{"render", "--progress", "0", "--metrics", in, out})
	require.NoError(t, cmd.Execute())

	d, err := wav.Open(out)
	require.NoError(t, err)
	defer d.Close()
	format := d.Format()
	assert.Equal(t, 44100, format.SampleRate)
	assert.True(t, format.TrackLength >= int64(499*jiffies.PerMs))
}

func TestRenderWithLatency(t *testing.T) {
	dir := t.TempDir()
	in, out := filepath.Join(dir, "in.wav"), filepath.Join(dir, "out.wav")
	writeWav(t, in, 300*jiffies.PerMs)

	cmd := newRootCmd()
	cmd.SetArgs([]string{"render", "--progress", "0", "-l", "200", "--animator-latency", "20", "--log", "Mode,Delay", in, out})
	require.NoError(t, cmd.Execute())
	_, err := os.Stat(out)
	assert.NoError(t, err)
}

func TestRenderErrors(t *testing.T) {
	dir := t.TempDir()
	for name, args := range map[string][]string{
		"extension": {"render", filepath.Join(dir, "in.flac"), filepath.Join(dir, "out.wav")},
		"missing":   {"render", filepath.Join(dir, "in.wav"), filepath.Join(dir, "out.wav")},
		"args":      {"render", filepath.Join(dir, "in.wav")},
	} {
		cmd := newRootCmd()
		cmd.SetArgs(args)
		cmd.SetOut(&nopWriter{})
		cmd.SetErr(&nopWriter{})
		assert.Error(t, cmd.Execute(), name)
	}
}

func TestParseKinds(t *testing.T) {
	mask, err := parseKinds("Mode, delay,Halt")
	require.NoError(t, err)
	assert.Equal(t, msg.KindMode|msg.KindDelay|msg.KindHalt, mask)

	mask, err = parseKinds("all")
	require.NoError(t, err)
	assert.Equal(t, msg.KindAll, mask)

	mask, err = parseKinds("")
	require.NoError(t, err)
	assert.Equal(t, msg.Kind(0), mask)

	_, err = parseKinds("Mode,Bogus")
	assert.Error(t, err)
}

type nopWriter struct{}

func (nopWriter) Write(b []byte) (int, error) { return len(b), nil }
