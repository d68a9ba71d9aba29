package illuminance

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ztkent/lux-meter/internal/attribute"
)

type fixture struct {
	store  *attribute.Store
	sensor *Sensor
	writes []attribute.Change
	hook   *test.Hook
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	f := &fixture{store: attribute.NewStore(), hook: hook}
	attribute.NewLightSensorEndpoint(f.store, 1)
	f.sensor = NewSensor(f.store, 1, logger)
	t.Cleanup(f.sensor.Attach())
	t.Cleanup(f.store.Subscribe(func(c attribute.Change) {
		if c.Type == attribute.PostUpdate && c.AttributeID == attribute.AttrMeasuredValue {
			f.writes = append(f.writes, c)
		}
	}))
	return f
}

func (f *fixture) measured(t *testing.T) attribute.Value {
	a, err := f.store.Lookup(1, attribute.ClusterIlluminanceMeasurement, attribute.AttrMeasuredValue)
	require.NoError(t, err)
	return f.store.Value(a)
}

func TestMeasuredValue(t *testing.T) {
	cases := []struct {
		lux  float64
		want uint16
	}{
		{1, 1},
		{10, 10001},
		{100, 20001},
		{46.08, 16636},
		{0.5, 0},
		{1e9, maxMeasuredValue},
	}
	for _, c := range cases {
		got, err := MeasuredValue(c.lux)
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "lux %v", c.lux)
	}
	assert.InDelta(t, 100, Lux(20001), 1e-9)
}

func TestMeasuredValueRejectsNonPositive(t *testing.T) {
	for _, lux := range []float64{0, -3, math.NaN(), math.Inf(1)} {
		_, err := MeasuredValue(lux)
		assert.ErrorIs(t, err, ErrLuxOutOfRange, "lux %v", lux)
	}
}

func TestUpdateMeasuredValueZeroIsRejected(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sensor.UpdateMeasuredValue(100))

	err := f.sensor.UpdateMeasuredValue(0)
	assert.ErrorIs(t, err, ErrLuxOutOfRange)
	assert.Len(t, f.writes, 1)
	cur, _, _ := f.sensor.Measured()
	assert.Equal(t, uint16(20001), cur)
	assert.False(t, f.sensor.EchoPending())
}

func TestUpdateMeasuredValueDedup(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sensor.UpdateMeasuredValue(100))
	require.NoError(t, f.sensor.UpdateMeasuredValue(100))
	// same published representation
	require.NoError(t, f.sensor.UpdateMeasuredValue(100.0001))
	assert.Len(t, f.writes, 1)
	assert.Equal(t, attribute.Uint16(20001), f.measured(t))

	f.hook.Reset()
	require.NoError(t, f.sensor.UpdateMeasuredValue(100))
	assert.Empty(t, f.hook.AllEntries())

	require.NoError(t, f.sensor.UpdateMeasuredValue(10))
	assert.Len(t, f.writes, 2)
	cur, prev, ok := f.sensor.Measured()
	assert.True(t, ok)
	assert.Equal(t, uint16(10001), cur)
	assert.Equal(t, uint16(20001), prev)
}

func TestForcePublishAlwaysWrites(t *testing.T) {
	f := newFixture(t)
	// nothing measured yet
	require.NoError(t, f.sensor.UpdateAllAttributeValues())
	assert.Empty(t, f.writes)

	require.NoError(t, f.sensor.UpdateMeasuredValue(100))
	require.NoError(t, f.sensor.UpdateAllAttributeValues())
	require.NoError(t, f.sensor.UpdateAllAttributeValues())
	assert.Len(t, f.writes, 3)
	for _, w := range f.writes {
		assert.Equal(t, attribute.Uint16(20001), w.Value)
	}
}

func TestEchoSuppression(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sensor.UpdateMeasuredValue(100))
	// our own notification already came back through the store
	assert.False(t, f.sensor.EchoPending())
	assert.Len(t, f.writes, 1)

	for _, e := range f.hook.AllEntries() {
		assert.NotEqual(t, logrus.WarnLevel, e.Level)
	}
}

func TestEchoSuppressionFlagConsumedOnce(t *testing.T) {
	f := newFixture(t)
	token := uuid.New()

	f.sensor.mu.Lock()
	f.sensor.pending = token
	f.sensor.hasMeasured = true
	f.sensor.measured = 20001
	f.sensor.mu.Unlock()

	echo := attribute.Change{
		Type:        attribute.PostUpdate,
		Endpoint:    1,
		ClusterID:   attribute.ClusterIlluminanceMeasurement,
		AttributeID: attribute.AttrMeasuredValue,
		Value:       attribute.Uint16(20001),
	}
	f.sensor.OnAttributeChange(echo)
	assert.False(t, f.sensor.EchoPending())
	assert.False(t, f.sensor.stale)

	// a second notice without a publish in between is external
	f.sensor.OnAttributeChange(echo)
	assert.False(t, f.sensor.EchoPending())
	assert.True(t, f.sensor.stale)
	assert.Empty(t, f.writes)
}

func TestEchoIgnoresOtherAttributesAndPreUpdate(t *testing.T) {
	f := newFixture(t)
	token := uuid.New()
	f.sensor.pending = token

	f.sensor.OnAttributeChange(attribute.Change{Type: attribute.PostUpdate, Endpoint: 1,
		ClusterID: attribute.ClusterIlluminanceMeasurement, AttributeID: attribute.AttrMaxMeasuredValue})
	f.sensor.OnAttributeChange(attribute.Change{Type: attribute.PreUpdate, Endpoint: 1,
		ClusterID: attribute.ClusterIlluminanceMeasurement, AttributeID: attribute.AttrMeasuredValue, Origin: token})
	f.sensor.OnAttributeChange(attribute.Change{Type: attribute.PostUpdate, Endpoint: 1,
		ClusterID: 0x0402, AttributeID: attribute.AttrMeasuredValue})
	assert.True(t, f.sensor.EchoPending())

	// a write tagged by someone else does not consume our echo
	f.sensor.OnAttributeChange(attribute.Change{Type: attribute.PostUpdate, Endpoint: 1,
		ClusterID: attribute.ClusterIlluminanceMeasurement, AttributeID: attribute.AttrMeasuredValue, Origin: uuid.New()})
	assert.True(t, f.sensor.EchoPending())
	assert.True(t, f.sensor.stale)
}

func TestExternalWriteIsOverwrittenOnNextUpdate(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sensor.UpdateMeasuredValue(100))

	a, err := f.store.Lookup(1, attribute.ClusterIlluminanceMeasurement, attribute.AttrMeasuredValue)
	require.NoError(t, err)
	require.NoError(t, f.store.SetValue(a, attribute.Uint16(5), uuid.New()))
	assert.Equal(t, attribute.Uint16(5), f.measured(t))
	assert.False(t, f.sensor.EchoPending())

	// unchanged reading still restores the sensor value
	require.NoError(t, f.sensor.UpdateMeasuredValue(100))
	assert.Equal(t, attribute.Uint16(20001), f.measured(t))
	assert.Len(t, f.writes, 3)

	// and dedup resumes afterwards
	require.NoError(t, f.sensor.UpdateMeasuredValue(100))
	assert.Len(t, f.writes, 3)
}

func TestUpdateBelowRange(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sensor.UpdateMeasuredValue(2600))
	require.NoError(t, f.sensor.UpdateBelowRange())
	assert.Equal(t, attribute.Uint16(0), f.measured(t))

	// darkness is deduplicated like any other value
	require.NoError(t, f.sensor.UpdateBelowRange())
	require.NoError(t, f.sensor.UpdateMeasuredValue(0.0036))
	assert.Len(t, f.writes, 2)

	require.NoError(t, f.sensor.UpdateMeasuredValue(2600))
	assert.Equal(t, attribute.Uint16(34151), f.measured(t))
	assert.False(t, f.sensor.EchoPending())
}

func assertNoWarnings(t *testing.T, hook *test.Hook) {
	t.Helper()
	for _, e := range hook.AllEntries() {
		assert.NotEqual(t, logrus.WarnLevel, e.Level, e.Message)
	}
}

func TestResyncDuringPublishWaitsForIt(t *testing.T) {
	logger, hook := test.NewNullLogger()
	store := attribute.NewStore()
	attribute.NewLightSensorEndpoint(store, 1)
	sensor := NewSensor(store, 1, logger)
	t.Cleanup(sensor.Attach())
	require.NoError(t, sensor.UpdateMeasuredValue(100))

	resync := make(chan error, 1)
	var once sync.Once
	unsub := store.Subscribe(func(c attribute.Change) {
		if c.Type != attribute.PreUpdate || c.Value != attribute.Uint16(10001) {
			return
		}
		once.Do(func() {
			go func() { resync <- sensor.UpdateAllAttributeValues() }()
			// give the resync a chance to run inside this write
			time.Sleep(20 * time.Millisecond)
		})
	})
	defer unsub()

	require.NoError(t, sensor.UpdateMeasuredValue(10))
	require.NoError(t, <-resync)

	a, err := store.Lookup(1, attribute.ClusterIlluminanceMeasurement, attribute.AttrMeasuredValue)
	require.NoError(t, err)
	assert.Equal(t, attribute.Uint16(10001), store.Value(a))
	cur, _, _ := sensor.Measured()
	assert.Equal(t, uint16(10001), cur)
	assert.False(t, sensor.EchoPending())
	assertNoWarnings(t, hook)
}

func TestConcurrentPublishAndResync(t *testing.T) {
	logger, hook := test.NewNullLogger()
	store := attribute.NewStore()
	attribute.NewLightSensorEndpoint(store, 1)
	sensor := NewSensor(store, 1, logger)
	t.Cleanup(sensor.Attach())
	a, err := store.Lookup(1, attribute.ClusterIlluminanceMeasurement, attribute.AttrMeasuredValue)
	require.NoError(t, err)

	for i := 0; i < 500; i++ {
		lux := 10.0
		if i%2 == 1 {
			lux = 100
		}
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, sensor.UpdateMeasuredValue(lux))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, sensor.UpdateAllAttributeValues())
		}()
		wg.Wait()

		cur, _, ok := sensor.Measured()
		require.True(t, ok)
		require.Equal(t, attribute.Uint16(cur), store.Value(a), "round %d", i)
		require.False(t, sensor.EchoPending(), "round %d", i)
	}
	assertNoWarnings(t, hook)
}

func TestPassthroughSetters(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sensor.SetMinMeasuredValue(1))
	require.NoError(t, f.sensor.SetMinMeasuredValue(1))
	require.NoError(t, f.sensor.SetMaxMeasuredValue(40001))

	snap := f.store.Snapshot(mustCluster(t, f.store))
	assert.Equal(t, attribute.Uint16(1), snap["MinMeasuredValue"])
	assert.Equal(t, attribute.Uint16(40001), snap["MaxMeasuredValue"])
	assert.False(t, f.sensor.EchoPending())
}

func TestMissingClusterIsReported(t *testing.T) {
	logger, hook := test.NewNullLogger()
	s := NewSensor(attribute.NewStore(), 1, logger)

	assert.ErrorIs(t, s.UpdateMeasuredValue(100), attribute.ErrNotFound)
	assert.ErrorIs(t, s.SetMinMeasuredValue(1), attribute.ErrNotFound)
	assert.Len(t, hook.AllEntries(), 2)
	_, _, ok := s.Measured()
	assert.False(t, ok)

	assert.ErrorIs(t, NewSensor(nil, 1, logger).UpdateMeasuredValue(1), ErrNotInitialized)
}

func mustCluster(t *testing.T, s *attribute.Store) *attribute.Cluster {
	c, err := s.Cluster(1, attribute.ClusterIlluminanceMeasurement)
	require.NoError(t, err)
	return c
}
