// Package ramp implements gain envelopes applied to audio messages.
//
// Gain is a fixed-point value in range [Min, Max]. A Ramp describes a linear
// change of gain over the duration of one message. Ramps on the same message
// combine so that the quieter of two overlapping envelopes wins.
package ramp

import (
	"fmt"
)

const (
	// Max is the gain of unattenuated audio.
	Max = 1 << 14
	// Min is the gain of fully attenuated audio.
	Min = 0
)

// Direction of a ramp.
type Direction int

// Ramp directions.
const (
	None Direction = iota
	Up
	Down
	Mute
)

func (d Direction) String() string {
	switch d {
	case None:
		return "none"
	case Up:
		return "up"
	case Down:
		return "down"
	case Mute:
		return "mute"
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

// Ramp is the envelope attached to a single audio message.
// Zero value is not valid, use New.
type Ramp struct {
	Start     int
	End       int
	Direction Direction
	Enabled   bool
}

// New returns a disabled ramp at full gain.
func New() Ramp {
	return Ramp{Start: Max, End: Max}
}

// Reset disables the ramp.
func (r *Ramp) Reset() {
	*r = New()
}

// IsEnabled reports whether the ramp affects the message.
func (r Ramp) IsEnabled() bool {
	return r.Enabled
}

// Set applies a ramp that starts at start and covers fragment jiffies of
// a ramp which still has remaining jiffies to run.
//
// If the ramp already runs in the opposite direction and both envelopes
// intersect inside the fragment, the ramp is cut at splitPos: r covers
// [0, splitPos) and split covers the rest of the fragment. ok is true only
// in this case.
func (r *Ramp) Set(start, fragment, remaining int, dir Direction) (split Ramp, splitPos int, ok bool) {
	if remaining < fragment {
		panic(fmt.Sprintf("ramp: remaining %d is shorter than fragment %d", remaining, fragment))
	}
	if dir != Up && dir != Down {
		panic(fmt.Sprintf("ramp: invalid direction %v", dir))
	}
	before := *r
	r.Enabled = true
	split = New()
	splitPos = -1

	span := Max - start
	if dir == Down {
		span = start
	}
	// rounding up guarantees a ramp completes within its duration
	delta := int((int64(span)*int64(fragment) + int64(remaining) - 1) / int64(remaining))
	var end int
	if dir == Down {
		end = start - delta
		if end < Min {
			end = Min
		}
	} else {
		end = start + delta
		if end > Max {
			end = Max
		}
	}

	switch r.Direction {
	case None:
		r.Direction = dir
		r.Start = start
		r.End = end
	case dir:
		r.selectLower(start, end)
	default:
		// line through (0, y1)-(fragment, y2) has the lower start
		var y1, y2, y3, y4 int64
		if r.Start < start {
			y1, y2, y3, y4 = int64(r.Start), int64(r.End), int64(start), int64(end)
		} else {
			y1, y2, y3, y4 = int64(start), int64(end), int64(r.Start), int64(r.End)
		}
		if y2-y1 == y4-y3 {
			r.selectLower(start, end)
			break
		}
		x := (int64(fragment) * (y3 - y1)) / ((y2 - y1) - (y4 - y3))
		if x <= 0 || x >= int64(fragment) {
			r.selectLower(start, end)
			break
		}
		y := ((y2-y1)*(y3-y1))/((y2-y1)-(y4-y3)) + y1
		splitPos = int(x)
		split = Ramp{
			Start:   int(y),
			End:     minInt(r.End, end),
			Enabled: true,
		}
		split.Direction = Down
		if split.Start == split.End {
			split.Direction = None
		}
		s := minInt(r.Start, start)
		r.Start = s
		r.End = int(y)
		r.Direction = Up
		if s == r.End {
			r.Direction = None
		}
		ok = true
	}
	if err := r.validate(); err != nil {
		panic(fmt.Sprintf("ramp: set(%d, %d, %d, %v) on %+v: %v", start, fragment, remaining, dir, before, err))
	}
	return split, splitPos, ok
}

// SetMuted silences the whole message.
func (r *Ramp) SetMuted() {
	*r = Ramp{Start: Min, End: Min, Direction: Mute, Enabled: true}
}

// Split cuts the ramp of a message of curSize jiffies at newSize. The
// receiver keeps the leading part and the trailing part is returned. The
// returned ramp starts where the receiver ends.
func (r *Ramp) Split(newSize, curSize int) Ramp {
	remainder := Ramp{
		End:       r.End,
		Direction: r.Direction,
		Enabled:   true,
	}
	if r.Direction == Up {
		r.End = r.Start + int(int64(r.End-r.Start)*int64(newSize)/int64(curSize))
	} else {
		r.End = r.Start - int(int64(r.Start-r.End)*int64(newSize)/int64(curSize))
	}
	if r.Start == r.End && r.Direction != Mute {
		r.Direction = None
	}
	remainder.Start = r.End
	if remainder.Start == remainder.End && remainder.Direction != Mute {
		remainder.Direction = None
	}
	r.mustValidate("split")
	remainder.mustValidate("split remainder")
	return remainder
}

func (r *Ramp) selectLower(start, end int) {
	r.Start = minInt(r.Start, start)
	r.End = minInt(r.End, end)
	switch {
	case r.Start == r.End:
		r.Direction = None
	case r.Start > r.End:
		r.Direction = Down
	default:
		r.Direction = Up
	}
}

func (r Ramp) validate() error {
	if r.Start > Max || r.End > Max || r.Start < Min || r.End < Min {
		return fmt.Errorf("out of range [%d..%d]", r.Start, r.End)
	}
	switch r.Direction {
	case None:
		if r.Start != r.End {
			return fmt.Errorf("flat ramp [%d..%d]", r.Start, r.End)
		}
	case Up:
		if r.Start >= r.End {
			return fmt.Errorf("ramp up [%d..%d]", r.Start, r.End)
		}
	case Down:
		if r.Start <= r.End {
			return fmt.Errorf("ramp down [%d..%d]", r.Start, r.End)
		}
	case Mute:
		if r.Start != Min || r.End != Min {
			return fmt.Errorf("mute [%d..%d]", r.Start, r.End)
		}
	default:
		return fmt.Errorf("unknown direction %v", r.Direction)
	}
	return nil
}

func (r Ramp) mustValidate(op string) {
	if err := r.validate(); err != nil {
		panic(fmt.Sprintf("ramp: %s: %v", op, err))
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
