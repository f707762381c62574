// Package jiffies provides the time unit used by every audio message.
//
// A jiffy is 1/56448000 of a second, a value divisible by every supported
// PCM and DSD sample rate, so any sample count converts to jiffies exactly.
package jiffies

import (
	"errors"
	"fmt"
	"time"
)

const (
	// PerSecond is the number of jiffies in one second.
	PerSecond = 56448000
	// PerMs is the number of jiffies in one millisecond.
	PerMs = PerSecond / 1000
)

// ErrSampleRateUnsupported is returned for rates that don't divide PerSecond.
var ErrSampleRateUnsupported = errors.New("sample rate unsupported")

var perSample = map[int]int{
	7350:    PerSecond / 7350,
	8000:    PerSecond / 8000,
	11025:   PerSecond / 11025,
	12000:   PerSecond / 12000,
	14700:   PerSecond / 14700,
	16000:   PerSecond / 16000,
	22050:   PerSecond / 22050,
	24000:   PerSecond / 24000,
	29400:   PerSecond / 29400,
	32000:   PerSecond / 32000,
	44100:   PerSecond / 44100,
	48000:   PerSecond / 48000,
	88200:   PerSecond / 88200,
	96000:   PerSecond / 96000,
	176400:  PerSecond / 176400,
	192000:  PerSecond / 192000,
	1411200: PerSecond / 1411200, // DSD64
	2822400: PerSecond / 2822400, // DSD128
	5644800: PerSecond / 5644800, // DSD256
}

// PerSample returns the number of jiffies in a single sample at rate.
func PerSample(rate int) (int, error) {
	if j, ok := perSample[rate]; ok {
		return j, nil
	}
	return 0, fmt.Errorf("%w: %d", ErrSampleRateUnsupported, rate)
}

// MustPerSample is like PerSample but panics for unsupported rates.
// Rates are validated when a stream is created, so reaching the panic is a
// programming error.
func MustPerSample(rate int) int {
	j, err := PerSample(rate)
	if err != nil {
		panic(err)
	}
	return j
}

// IsValidSampleRate reports whether rate can be expressed in jiffies.
func IsValidSampleRate(rate int) bool {
	_, ok := perSample[rate]
	return ok
}

// ToSamples returns the number of whole samples in j.
func ToSamples(j, rate int) int {
	return j / MustPerSample(rate)
}

// FromSamples returns the duration of n samples.
func FromSamples(n, rate int) int {
	return n * MustPerSample(rate)
}

// RoundDown truncates j to a whole number of samples.
func RoundDown(j, rate int) int {
	ps := MustPerSample(rate)
	return j - j%ps
}

// RoundUp extends j to a whole number of samples.
func RoundUp(j, rate int) int {
	ps := MustPerSample(rate)
	if r := j % ps; r != 0 {
		return j + ps - r
	}
	return j
}

// ToBytes returns the size in bytes of the whole samples contained in j.
func ToBytes(j, rate, numChannels, bitDepth int) int {
	samples := ToSamples(j, rate)
	return (samples*numChannels*bitDepth + 7) / 8
}

// FromMs converts milliseconds to jiffies.
func FromMs(ms int) int {
	return ms * PerMs
}

// ToMs converts jiffies to whole milliseconds.
func ToMs(j int) int {
	return j / PerMs
}

// Duration converts jiffies to time.Duration.
func Duration(j int) time.Duration {
	return time.Duration(j) * time.Second / PerSecond
}
