package metric

import (
	"expvar"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dudk/songpipe/jiffies"
)

const componentsLabel = "songpipe.components"

const (
	// MessageCounter measures number of messages.
	MessageCounter = "Messages"
	// JiffyCounter measures amount of audio in jiffies.
	JiffyCounter = "Jiffies"
	// LatencyCounter measures latency between processing calls.
	LatencyCounter = "Latency"
	// DurationCounter counts what's the duration of signal.
	DurationCounter = "Duration"
	// ComponentCounter counts number of components.
	ComponentCounter = "Components"
	// OccupancyCounter is the amount of buffered audio in jiffies.
	OccupancyCounter = "Occupancy"
	// RampCounter counts started ramps.
	RampCounter = "Ramps"
	// StarvationCounter counts starvation events.
	StarvationCounter = "Starvations"
	// DropCounter counts discarded audio in jiffies.
	DropCounter = "Dropped"
)

var (
	components = metrics{
		m: make(map[string]metric),
	}

	counters = []string{
		MessageCounter,
		JiffyCounter,
		LatencyCounter,
		DurationCounter,
		ComponentCounter,
		OccupancyCounter,
		RampCounter,
		StarvationCounter,
		DropCounter,
	}
)

// Get metrics values for provided component type.
func Get(component interface{}) map[string]string {
	return getCounters(getType(component))
}

// GetAll returns counters for all measured components.
func GetAll() map[string]map[string]string {
	m := make(map[string]map[string]string)
	components.Lock()
	defer components.Unlock()
	for component := range components.m {
		m[component] = getCounters(component)
	}
	return m
}

func getCounters(componentType string) map[string]string {
	m := make(map[string]string)
	for _, counter := range counters {
		v := expvar.Get(key(componentType, counter))
		if v != nil {
			m[counter] = v.String()
		}
	}
	return m
}

// ResetFunc returns new Measure closure. This closure is needed to postpone metrics
// capture until component is actually running.
type ResetFunc func() MeasureFunc

// MeasureFunc captures metrics when a message leaves the component. Audio
// messages pass their duration in jiffies, other messages pass zero.
type MeasureFunc func(jiffies int64)

// Meter is the set of counters of a single component type.
type Meter struct {
	metric
}

// NewMeter registers a component and returns its counters.
func NewMeter(component interface{}) *Meter {
	m := components.get(getType(component))
	m.components.Add(1)
	return &Meter{metric: m}
}

// Reset returns a closure that measures outgoing messages.
func (m *Meter) Reset() MeasureFunc {
	calledAt := time.Now()
	return func(j int64) {
		m.latency.set(time.Since(calledAt))
		m.messages.Add(1)
		if j > 0 {
			m.jiffies.Add(j)
			m.duration.add(jiffies.Duration(int(j)))
		}
		calledAt = time.Now()
	}
}

// Occupancy sets the buffered amount of audio.
func (m *Meter) Occupancy(j int64) {
	m.occupancy.Set(j)
}

// Ramp counts a started ramp.
func (m *Meter) Ramp() {
	m.ramps.Add(1)
}

// Starvation counts a starvation event.
func (m *Meter) Starvation() {
	m.starvations.Add(1)
}

// Drop counts discarded audio.
func (m *Meter) Drop(j int64) {
	m.dropped.Add(j)
}

type metrics struct {
	sync.Mutex
	m map[string]metric
}

func (m *metrics) get(componentType string) metric {
	m.Lock()
	defer m.Unlock()
	if metric, ok := m.m[componentType]; ok {
		// return existing metric if available
		return metric
	}
	// create new metric
	metric := newMetric(componentType)
	m.m[componentType] = metric
	return metric
}

type metric struct {
	key         string
	components  *expvar.Int
	messages    *expvar.Int
	jiffies     *expvar.Int
	occupancy   *expvar.Int
	ramps       *expvar.Int
	starvations *expvar.Int
	dropped     *expvar.Int
	latency     *duration
	duration    *duration
}

func newMetric(componentType string) metric {
	m := metric{
		key:         componentType,
		components:  expvar.NewInt(key(componentType, ComponentCounter)),
		messages:    expvar.NewInt(key(componentType, MessageCounter)),
		jiffies:     expvar.NewInt(key(componentType, JiffyCounter)),
		occupancy:   expvar.NewInt(key(componentType, OccupancyCounter)),
		ramps:       expvar.NewInt(key(componentType, RampCounter)),
		starvations: expvar.NewInt(key(componentType, StarvationCounter)),
		dropped:     expvar.NewInt(key(componentType, DropCounter)),
		latency:     &duration{},
		duration:    &duration{},
	}
	expvar.Publish(key(componentType, LatencyCounter), m.latency)
	expvar.Publish(key(componentType, DurationCounter), m.duration)
	return m
}

func key(componentType, counter string) string {
	return fmt.Sprintf("%s.%s.%s", componentsLabel, componentType, counter)
}

func getType(component interface{}) string {
	rv := reflect.ValueOf(component)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		rv = rv.Elem()
	}
	return rv.Type().String()
}

// duration allows to format time.Duration metric values.
type duration struct {
	d int64
}

func (v *duration) String() string {
	return fmt.Sprintf("%q", time.Duration(atomic.LoadInt64(&v.d)).String())
}

func (v *duration) add(delta time.Duration) {
	atomic.AddInt64(&v.d, int64(delta))
}

func (v *duration) set(value time.Duration) {
	atomic.StoreInt64(&v.d, int64(value))
}
