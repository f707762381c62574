package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dudk/songpipe"
	"github.com/dudk/songpipe/aiff"
	"github.com/dudk/songpipe/jiffies"
	"github.com/dudk/songpipe/metric"
	"github.com/dudk/songpipe/mp3"
	"github.com/dudk/songpipe/msg"
	"github.com/dudk/songpipe/ogg"
	"github.com/dudk/songpipe/source"
	"github.com/dudk/songpipe/wav"
)

// settings shared by commands running a pipeline.
type settings struct {
	latencyMs  int
	bufferMs   int
	minDelayMs int
	chunkMs    int
	verbose    bool
	metrics    bool
	logKinds   string
	progress   time.Duration
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "songpipe",
		Short: "Buffer and time decoded audio",
		Long: `songpipe decodes wav, aiff, mp3 and ogg vorbis files and pulls them through
a pipeline which ramps stream starts, applies sender delays, absorbs
starvation and keeps playback in phase.

Commands:
  - render: write the pipeline output to a wav file
  - play: play the pipeline output on the default device`,
		SilenceUsage: true,
	}
	root.AddCommand(newRenderCmd(), newPlayCmd())
	return root
}

func (s *settings) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.IntVarP(&s.latencyMs, "latency", "l", 0, "Sender delay in ms, enables a latency mode")
	fs.IntVarP(&s.bufferMs, "buffer", "b", jiffies.ToMs(songpipe.DefaultStarvationJiffies), "Starvation buffer in ms")
	fs.IntVar(&s.minDelayMs, "min-delay", 0, "Minimum delay in ms applied in latency modes")
	fs.IntVar(&s.chunkMs, "chunk", jiffies.ToMs(source.DefaultChunkJiffies), "Duration of decoded messages in ms")
	fs.BoolVarP(&s.verbose, "verbose", "v", false, "Verbose output (debug logging)")
	fs.BoolVar(&s.metrics, "metrics", false, "Print element metrics when done")
	fs.StringVar(&s.logKinds, "log", "", "Comma separated message kinds to log, e.g. Mode,Delay,Halt or All")
	fs.DurationVar(&s.progress, "progress", 2*time.Second, "Interval of progress reports, 0 disables them")
}

func (s *settings) logger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	if s.verbose {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

// options returns pipeline options for the settings.
func (s *settings) options(l *logrus.Logger, animator msg.Animator) ([]songpipe.Option, error) {
	mask, err := parseKinds(s.logKinds)
	if err != nil {
		return nil, err
	}
	return []songpipe.Option{
		songpipe.WithLogger(l),
		songpipe.WithAnimator(animator),
		songpipe.WithStarvationJiffies(jiffies.FromMs(s.bufferMs)),
		songpipe.WithMinDelay(jiffies.FromMs(s.minDelayMs)),
		songpipe.WithMessageLog(mask),
	}, nil
}

// open creates a source for the file at path.
func (s *settings) open(f *msg.Factory, l *logrus.Logger, path string) (*source.Source, error) {
	d, err := openDecoder(path)
	if err != nil {
		return nil, err
	}
	opts := []source.Option{
		source.WithChunkJiffies(jiffies.FromMs(s.chunkMs)),
		source.WithLogger(l),
	}
	if s.latencyMs > 0 {
		opts = append(opts,
			source.WithMode("Receiver", msg.ModeInfo{SupportsLatency: true}),
			source.WithDelay(jiffies.FromMs(s.latencyMs)),
		)
	}
	src, err := source.New(f, path, d, opts...)
	if err != nil {
		d.Close()
		return nil, err
	}
	return src, nil
}

func openDecoder(path string) (source.Decoder, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		return wav.Open(path)
	case ".aif", ".aiff", ".aifc":
		return aiff.Open(path)
	case ".mp3":
		return mp3.Open(path)
	case ".ogg", ".oga":
		return ogg.Open(path)
	}
	return nil, fmt.Errorf("%w: %s", msg.ErrFormatUnsupported, filepath.Ext(path))
}

// parseKinds converts comma separated kind names to a mask.
func parseKinds(s string) (msg.Kind, error) {
	var mask msg.Kind
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if strings.EqualFold(name, "all") {
			return msg.KindAll, nil
		}
		k, ok := kindByName(name)
		if !ok {
			return 0, fmt.Errorf("unknown message kind %q", name)
		}
		mask |= k
	}
	return mask, nil
}

func kindByName(name string) (msg.Kind, bool) {
	for k := msg.Kind(1); k&msg.KindAll != 0; k <<= 1 {
		if strings.EqualFold(k.String(), name) {
			return k, true
		}
	}
	return 0, false
}

// execute runs a pipeline from src to sink until the stream ends or the
// process is interrupted.
func (s *settings) execute(ctx context.Context, l *logrus.Logger, f *msg.Factory, src *source.Source, sink songpipe.Sink, animator msg.Animator) error {
	defer src.Close()
	opts, err := s.options(l, animator)
	if err != nil {
		sink.Close()
		return err
	}
	p, err := songpipe.New(f, src, opts...)
	if err != nil {
		sink.Close()
		return err
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	done := make(chan struct{})
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(done)
		return <-p.Run(ctx, sink)
	})
	if s.progress > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(s.progress)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					l.WithField("buffered", jiffies.Duration(p.Jiffies())).Info("progress")
				case <-done:
					return nil
				}
			}
		})
	}
	err = g.Wait()
	if s.metrics {
		for component, counters := range metric.GetAll() {
			l.WithField("component", component).Info(fmt.Sprint(counters))
		}
	}
	return err
}
