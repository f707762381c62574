package songpipe

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/dudk/songpipe/msg"
	"github.com/dudk/songpipe/starvation"
)

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithLogger sets the logger shared by all elements.
func WithLogger(l *logrus.Logger) Option {
	return func(p *Pipeline) error {
		p.logger = l
		return nil
	}
}

// WithAnimator sets the output the pipeline renders to. The animator is
// queried for latency, supported formats and metadata.
func WithAnimator(a msg.Animator) Option {
	return func(p *Pipeline) error {
		p.animator = a
		return nil
	}
}

// WithStarvationJiffies sets the minimum amount of audio buffered ahead
// of the output.
func WithStarvationJiffies(j int) Option {
	return func(p *Pipeline) error {
		if j < starvation.MinMaxJiffies {
			return fmt.Errorf("%w: starvation buffer %d below %d", ErrInvalidOption, j, starvation.MinMaxJiffies)
		}
		p.starvationJiffies = j
		return nil
	}
}

// WithStreamRamps sets the ramps applied by the ramper at stream starts.
func WithStreamRamps(long, short int) Option {
	return func(p *Pipeline) error {
		if long < 0 || short < 0 {
			return fmt.Errorf("%w: negative ramp", ErrInvalidOption)
		}
		p.rampLong, p.rampShort = long, short
		return nil
	}
}

// WithDelayRamp sets the ramp used when a delay changes.
func WithDelayRamp(j int) Option {
	return func(p *Pipeline) error {
		if j <= 0 {
			return fmt.Errorf("%w: delay ramp %d", ErrInvalidOption, j)
		}
		p.delayRamp = j
		return nil
	}
}

// WithMinDelay sets the delay always applied in latency modes.
func WithMinDelay(j int) Option {
	return func(p *Pipeline) error {
		if j < 0 {
			return fmt.Errorf("%w: min delay %d", ErrInvalidOption, j)
		}
		p.minDelay = j
		return nil
	}
}

// WithBufferingObserver is told when the pipeline starts and stops
// buffering.
func WithBufferingObserver(o starvation.Observer) Option {
	return func(p *Pipeline) error {
		p.observer = o
		return nil
	}
}

// WithMessageLog logs messages of kinds in mask entering and leaving the
// pipeline.
func WithMessageLog(mask msg.Kind) Option {
	return func(p *Pipeline) error {
		p.logMask = mask
		return nil
	}
}
