package main

import (
	"github.com/spf13/cobra"

	"github.com/dudk/songpipe/jiffies"
	"github.com/dudk/songpipe/msg"
	"github.com/dudk/songpipe/portaudio"
)

func newPlayCmd() *cobra.Command {
	var (
		s        settings
		deviceMs int
	)
	cmd := &cobra.Command{
		Use:   "play <file>",
		Short: "Play a file through the pipeline on the default device",
		Long: `Play decodes the input and plays the pipeline output with PortAudio.

Examples:
  # Play a wav file
  songpipe play song.wav

  # Log stream and delay messages with debug output
  songpipe play -v --log DecodedStream,Delay,Halt song.mp3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l := s.logger()
			f := msg.NewFactory(msg.DefaultConfig())
			src, err := s.open(f, l, args[0])
			if err != nil {
				return err
			}
			sink, err := portaudio.New(portaudio.WithBufferJiffies(jiffies.FromMs(deviceMs)), portaudio.WithLogger(l))
			if err != nil {
				src.Close()
				return err
			}
			return s.execute(cmd.Context(), l, f, src, sink, sink)
		},
	}
	s.register(cmd)
	cmd.Flags().IntVar(&deviceMs, "device-buffer", jiffies.ToMs(portaudio.DefaultBufferJiffies), "Device buffer in ms")
	return cmd
}
