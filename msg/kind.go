package msg

import (
	"math/bits"
	"strings"
)

// Kind identifies the type of a message. Kinds are bits so sets of kinds
// can be expressed as masks.
type Kind uint32

// Message kinds.
const (
	KindMode Kind = 1 << iota
	KindTrack
	KindDrain
	KindDelay
	KindEncodedStream
	KindMetaText
	KindStreamInterrupted
	KindHalt
	KindFlush
	KindWait
	KindDecodedStream
	KindBitRate
	KindAudioPcm
	KindAudioDsd
	KindSilence
	KindQuit

	numKinds = iota
)

// Useful kind masks.
const (
	// KindDecoded is audio carrying decoded samples.
	KindDecoded = KindAudioPcm | KindAudioDsd
	// KindAudio is every message carrying audio, silence included.
	KindAudio = KindDecoded | KindSilence
	// KindAll matches any message.
	KindAll Kind = 1<<numKinds - 1
)

var kindNames = [numKinds]string{
	"Mode",
	"Track",
	"Drain",
	"Delay",
	"EncodedStream",
	"MetaText",
	"StreamInterrupted",
	"Halt",
	"Flush",
	"Wait",
	"DecodedStream",
	"BitRate",
	"AudioPcm",
	"AudioDsd",
	"Silence",
	"Quit",
}

// Has reports whether k contains any kind of mask.
func (k Kind) Has(mask Kind) bool {
	return k&mask != 0
}

func (k Kind) index() int {
	return bits.TrailingZeros32(uint32(k))
}

func (k Kind) String() string {
	if k == 0 {
		return "None"
	}
	var names []string
	for i := 0; i < numKinds; i++ {
		if k&(1<<i) != 0 {
			names = append(names, kindNames[i])
		}
	}
	return strings.Join(names, "|")
}
