package ramp

import "fmt"

// Apply scales interleaved big-endian samples in data by the envelope of r.
// Gain moves linearly from r.Start on the first sample to r.End on the last.
// 8-bit samples are signed.
func Apply(data []byte, r Ramp, bitDepth, numChannels int) {
	bytesPerSample := bitDepth / 8
	frameSize := bytesPerSample * numChannels
	if frameSize == 0 || len(data)%frameSize != 0 {
		panic(fmt.Sprintf("ramp: %d bytes is not a whole number of %d bit samples", len(data), bitDepth))
	}
	n := len(data) / frameSize
	total := int64(r.Start - r.End)
	for i := 0; i < n; i++ {
		gain := int64(r.Start)
		if n > 1 {
			gain = int64(r.Start) - (int64(i)*total)/int64(n-1)
		}
		frame := data[i*frameSize : (i+1)*frameSize]
		for c := 0; c < numChannels; c++ {
			s := frame[c*bytesPerSample : (c+1)*bytesPerSample]
			v := readSample(s)
			putSample(s, v*gain/Max)
		}
	}
}

// Gain returns the gain of sample i out of n under r.
func Gain(r Ramp, i, n int) int {
	if n <= 1 {
		return r.Start
	}
	return r.Start - int((int64(i)*int64(r.Start-r.End))/int64(n-1))
}

func readSample(b []byte) int64 {
	var v int64
	for _, x := range b {
		v = v<<8 | int64(x)
	}
	// sign extend
	shift := uint(64 - 8*len(b))
	return v << shift >> shift
}

func putSample(b []byte, v int64) {
	for i := len(b) - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}
