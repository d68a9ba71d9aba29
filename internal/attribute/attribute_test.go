package attribute

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	s := NewStore()
	NewLightSensorEndpoint(s, 1)

	a, err := s.Lookup(1, ClusterIlluminanceMeasurement, AttrMeasuredValue)
	require.NoError(t, err)
	assert.Equal(t, "MeasuredValue", a.Name())
	assert.False(t, s.Value(a).Valid)

	_, err = s.Lookup(2, ClusterIlluminanceMeasurement, AttrMeasuredValue)
	assert.ErrorIs(t, err, ErrNotFound)

	c, err := s.Cluster(1, ClusterIlluminanceMeasurement)
	require.NoError(t, err)
	_, err = s.Attribute(c, 0x00FF)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Attribute(nil, AttrMeasuredValue)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetValueNotifies(t *testing.T) {
	s := NewStore()
	NewLightSensorEndpoint(s, 1)
	a, err := s.Lookup(1, ClusterIlluminanceMeasurement, AttrMaxMeasuredValue)
	require.NoError(t, err)

	var got []Change
	var seenDuringPost Value
	unsub := s.Subscribe(func(c Change) {
		got = append(got, c)
		if c.Type == PostUpdate {
			seenDuringPost = s.Value(a)
		}
	})

	origin := uuid.New()
	require.NoError(t, s.SetValue(a, Uint16(4000), origin))
	require.Len(t, got, 2)
	assert.Equal(t, PreUpdate, got[0].Type)
	assert.Equal(t, PostUpdate, got[1].Type)
	assert.Equal(t, Change{Type: PostUpdate, Endpoint: 1, ClusterID: ClusterIlluminanceMeasurement,
		AttributeID: AttrMaxMeasuredValue, Value: Uint16(4000), Origin: origin}, got[1])
	assert.Equal(t, Uint16(4000), seenDuringPost)

	unsub()
	require.NoError(t, s.SetValue(a, Uint16(1), uuid.Nil))
	assert.Len(t, got, 2)
}

func TestValueJSON(t *testing.T) {
	b, err := Null().MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))
	b, err = Uint16(42).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "42", string(b))
}
