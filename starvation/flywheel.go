package starvation

import (
	"github.com/dudk/songpipe/jiffies"
	"github.com/dudk/songpipe/msg"
	"github.com/dudk/songpipe/ramp"
)

// flywheel keeps the most recent output and continues it with a ramp down
// when upstream starves.
type flywheel struct {
	training    int
	sampleRate  int
	bitDepth    int
	numChannels int
	recent      []byte
}

func (fw *flywheel) reset(info msg.StreamInfo) {
	fw.sampleRate = info.SampleRate
	fw.bitDepth = info.BitDepth
	fw.numChannels = info.NumChannels
	fw.recent = fw.recent[:0]
}

func (fw *flywheel) frameSize() int {
	return fw.bitDepth / 8 * fw.numChannels
}

// record keeps the tail of b no longer than the training duration.
func (fw *flywheel) record(b []byte) {
	if fw.sampleRate == 0 {
		return
	}
	limit := jiffies.ToSamples(fw.training, fw.sampleRate) * fw.frameSize()
	if len(b) >= limit {
		fw.recent = append(fw.recent[:0], b[len(b)-limit:]...)
		return
	}
	fw.recent = append(fw.recent, b...)
	if excess := len(fw.recent) - limit; excess > 0 {
		fw.recent = append(fw.recent[:0], fw.recent[excess:]...)
	}
}

// generate returns audio lasting duration rounded down to whole samples,
// in pieces no longer than maxOut, ramped down from value to the minimum.
func (fw *flywheel) generate(f *msg.Factory, value, duration, maxOut int) []msg.Msg {
	if fw.sampleRate == 0 || fw.bitDepth < 8 {
		return nil
	}
	ps := jiffies.MustPerSample(fw.sampleRate)
	frame := fw.frameSize()
	total := duration / ps
	perPiece := total
	if maxOut > 0 && maxOut/ps > 0 && maxOut/ps < total {
		perPiece = maxOut / ps
	}
	remaining := total * ps

	var out []msg.Msg
	var pos int
	for total > 0 {
		n := perPiece
		if n > total {
			n = total
		}
		b := make([]byte, n*frame)
		if len(fw.recent) > 0 {
			for i := range b {
				b[i] = fw.recent[pos]
				pos = (pos + 1) % len(fw.recent)
			}
		}
		a, err := f.AudioPcm(b, fw.numChannels, fw.sampleRate, fw.bitDepth, msg.BigEndian, 0)
		if err != nil {
			panic(err)
		}
		if value == ramp.Min || remaining <= 0 {
			a.SetMuted()
		} else {
			var split msg.Audio
			value, remaining, split = a.SetRamp(value, remaining, ramp.Down)
			if split != nil {
				panic("starvation: generated audio split by ramp")
			}
		}
		out = append(out, a)
		total -= n
	}
	return out
}
