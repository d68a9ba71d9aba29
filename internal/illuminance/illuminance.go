// Package illuminance publishes lux readings into the Illuminance Measurement
// cluster of an attribute store, skipping unchanged values and telling its own
// writes apart from writes made by other clients.
package illuminance

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/ztkent/lux-meter/internal/attribute"
)

var (
	ErrLuxOutOfRange  = errors.New("illuminance: lux must be positive and finite")
	ErrNotInitialized = errors.New("illuminance: attribute store not set")
)

const maxMeasuredValue = 0xFFFE // 0xFFFF is the null value

// MeasuredValue maps lux to the cluster representation, 10000*log10(lux)+1.
func MeasuredValue(lux float64) (uint16, error) {
	if lux <= 0 || math.IsNaN(lux) || math.IsInf(lux, 0) {
		return 0, fmt.Errorf("%w: %v", ErrLuxOutOfRange, lux)
	}
	v := math.Round(10000*math.Log10(lux) + 1)
	switch {
	case v < 0:
		return 0, nil
	case v > maxMeasuredValue:
		return maxMeasuredValue, nil
	}
	return uint16(v), nil
}

// Lux is the inverse of MeasuredValue.
func Lux(measured uint16) float64 {
	return math.Pow(10, (float64(measured)-1)/10000)
}

type Sensor struct {
	store    *attribute.Store
	endpoint uint16
	l        logrus.FieldLogger

	// publishMu serializes publishes from the sampling job and resyncs from other goroutines.
	publishMu sync.Mutex

	mu           sync.Mutex
	measured     uint16
	measuredPrev uint16
	hasMeasured  bool
	// pending is the token of our last MeasuredValue write until its notification comes back.
	pending uuid.UUID
	// stale is set when another client overwrote MeasuredValue; the next update is always written.
	stale bool
}

func NewSensor(store *attribute.Store, endpoint uint16, logger logrus.FieldLogger) *Sensor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Sensor{
		store:    store,
		endpoint: endpoint,
		l:        logger.WithField("component", "illuminance"),
	}
}

// Attach subscribes the sensor to store notifications and returns the unsubscribe func.
func (s *Sensor) Attach() func() {
	return s.store.Subscribe(s.OnAttributeChange)
}

func (s *Sensor) attribute(attrID uint32) (*attribute.Attribute, error) {
	if s.store == nil {
		return nil, ErrNotInitialized
	}
	a, err := s.store.Lookup(s.endpoint, attribute.ClusterIlluminanceMeasurement, attrID)
	if err != nil {
		s.l.WithError(err).Error("Failed to get IlluminanceMeasurement attribute")
		return nil, err
	}
	return a, nil
}

func (s *Sensor) setPassthrough(attrID uint32, name string, value uint16) error {
	a, err := s.attribute(attrID)
	if err != nil {
		return err
	}
	if err := s.store.SetValue(a, attribute.Uint16(value), uuid.Nil); err != nil {
		s.l.WithError(err).Errorf("Failed to set %s attribute value", name)
		return err
	}
	return nil
}

// SetMinMeasuredValue writes MinMeasuredValue directly, in cluster units.
func (s *Sensor) SetMinMeasuredValue(value uint16) error {
	return s.setPassthrough(attribute.AttrMinMeasuredValue, "MinMeasuredValue", value)
}

// SetMaxMeasuredValue writes MaxMeasuredValue directly, in cluster units.
func (s *Sensor) SetMaxMeasuredValue(value uint16) error {
	return s.setPassthrough(attribute.AttrMaxMeasuredValue, "MaxMeasuredValue", value)
}

// UpdateMeasuredValue publishes a new reading unless it maps to the value already published.
func (s *Sensor) UpdateMeasuredValue(lux float64) error {
	v, err := MeasuredValue(lux)
	if err != nil {
		return err
	}
	return s.publish(v)
}

// UpdateBelowRange publishes 0, the cluster value for light too low to measure.
// The sampling job calls it when the sensor reads nothing at full sensitivity.
func (s *Sensor) UpdateBelowRange() error {
	return s.publish(0)
}

func (s *Sensor) publish(v uint16) error {
	a, err := s.attribute(attribute.AttrMeasuredValue)
	if err != nil {
		return err
	}

	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	s.mu.Lock()
	if s.hasMeasured && v == s.measured && !s.stale {
		s.mu.Unlock()
		return nil
	}
	s.measuredPrev = s.measured
	s.measured = v
	s.hasMeasured = true
	s.mu.Unlock()

	s.l.Infof("Update measured illuminance value as %d", v)
	return s.write(a, v)
}

// UpdateAllAttributeValues rewrites the last measured value regardless of dedup,
// for a full resync after reconnecting.
func (s *Sensor) UpdateAllAttributeValues() error {
	a, err := s.attribute(attribute.AttrMeasuredValue)
	if err != nil {
		return err
	}

	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	s.mu.Lock()
	v, ok := s.measured, s.hasMeasured
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.write(a, v)
}

// write must be called with publishMu held. mu is released before the store
// call because notifications come back synchronously through OnAttributeChange.
func (s *Sensor) write(a *attribute.Attribute, v uint16) error {
	token := uuid.New()
	s.mu.Lock()
	s.pending = token
	s.stale = false
	s.mu.Unlock()

	if err := s.store.SetValue(a, attribute.Uint16(v), token); err != nil {
		s.mu.Lock()
		if s.pending == token {
			s.pending = uuid.Nil
		}
		s.stale = true
		s.mu.Unlock()
		s.l.WithError(err).Error("Failed to set MeasuredValue attribute value")
		return err
	}
	return nil
}

// OnAttributeChange consumes store notifications. The first post-update notice after
// our own write is its echo and is dropped; anything else on MeasuredValue came from
// another client.
func (s *Sensor) OnAttributeChange(c attribute.Change) {
	if c.Type != attribute.PostUpdate || c.Endpoint != s.endpoint ||
		c.ClusterID != attribute.ClusterIlluminanceMeasurement || c.AttributeID != attribute.AttrMeasuredValue {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != uuid.Nil && (c.Origin == uuid.Nil || c.Origin == s.pending) {
		s.pending = uuid.Nil
		return
	}
	s.stale = true
	s.l.WithField("value", c.Value.String()).Warn("MeasuredValue written by another client, sensor value will be restored on next update")
}

// EchoPending reports whether a notification for our last write is still expected.
func (s *Sensor) EchoPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != uuid.Nil
}

// Measured returns the current and previous published values.
func (s *Sensor) Measured() (current, previous uint16, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.measured, s.measuredPrev, s.hasMeasured
}
