package main

import (
	"github.com/spf13/cobra"

	"github.com/dudk/songpipe/jiffies"
	"github.com/dudk/songpipe/msg"
	"github.com/dudk/songpipe/wav"
)

func newRenderCmd() *cobra.Command {
	var (
		s          settings
		animatorMs int
	)
	cmd := &cobra.Command{
		Use:   "render <in> <out.wav>",
		Short: "Render a file through the pipeline into a wav file",
		Long: `Render decodes the input, pulls it through the pipeline as fast as
possible and writes the output to a wav file. Injected silence, ramps
and dropped audio are audible in the result.

Examples:
  # Render an mp3 as wav
  songpipe render song.mp3 out.wav

  # Apply a 300ms sender delay to an output with 20ms latency
  songpipe render -l 300 --animator-latency 20 song.ogg out.wav`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			l := s.logger()
			f := msg.NewFactory(msg.DefaultConfig())
			src, err := s.open(f, l, args[0])
			if err != nil {
				return err
			}
			sink := wav.NewSink(args[1], wav.WithLatency(jiffies.FromMs(animatorMs)), wav.WithSinkLogger(l))
			return s.execute(cmd.Context(), l, f, src, sink, sink)
		},
	}
	s.register(cmd)
	cmd.Flags().IntVar(&animatorMs, "animator-latency", 0, "Output latency in ms reported to the pipeline")
	return cmd
}
