// Package attribute is a small in-memory attribute store shaped like a Matter
// data model: endpoints hold clusters, clusters hold nullable uint16 attributes.
// Every change is announced to subscribers.
package attribute

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("attribute: not found")

// Illuminance Measurement cluster (0x0400)
const (
	ClusterIlluminanceMeasurement uint32 = 0x0400

	AttrMeasuredValue    uint32 = 0x0000
	AttrMinMeasuredValue uint32 = 0x0001
	AttrMaxMeasuredValue uint32 = 0x0002
	AttrTolerance        uint32 = 0x0003
	AttrLightSensorType  uint32 = 0x0004
)

// CallbackType tells subscribers at which point of an update they are called.
type CallbackType int

const (
	PreUpdate CallbackType = iota
	PostUpdate
)

func (t CallbackType) String() string {
	if t == PreUpdate {
		return "pre_update"
	}
	return "post_update"
}

// Value is a nullable uint16.
type Value struct {
	Data  uint16
	Valid bool
}

func Uint16(v uint16) Value { return Value{Data: v, Valid: true} }

func Null() Value { return Value{} }

func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(int(v.Data))), nil
}

func (v Value) String() string {
	if !v.Valid {
		return "null"
	}
	return strconv.Itoa(int(v.Data))
}

// Change describes one attribute update. Origin is the writer's token, or uuid.Nil
// when the writer did not tag the update.
type Change struct {
	Type        CallbackType
	Endpoint    uint16
	ClusterID   uint32
	AttributeID uint32
	Value       Value
	Origin      uuid.UUID
}

type Attribute struct {
	id      uint32
	name    string
	value   Value
	cluster *Cluster
}

func (a *Attribute) ID() uint32 { return a.id }
func (a *Attribute) Name() string { return a.name }
func (a *Attribute) Cluster() *Cluster { return a.cluster }

type Cluster struct {
	id         uint32
	endpoint   uint16
	attributes map[uint32]*Attribute
}

func (c *Cluster) ID() uint32 { return c.id }
func (c *Cluster) Endpoint() uint16 { return c.endpoint }

type Store struct {
	mu          sync.RWMutex
	clusters    map[uint16]map[uint32]*Cluster
	subscribers map[int]func(Change)
	nextSub     int
}

func NewStore() *Store {
	return &Store{
		clusters:    make(map[uint16]map[uint32]*Cluster),
		subscribers: make(map[int]func(Change)),
	}
}

// AddCluster creates (or returns) a cluster on an endpoint.
func (s *Store) AddCluster(endpoint uint16, clusterID uint32) *Cluster {
	s.mu.Lock()
	defer s.mu.Unlock()
	eps, ok := s.clusters[endpoint]
	if !ok {
		eps = make(map[uint32]*Cluster)
		s.clusters[endpoint] = eps
	}
	if c, ok := eps[clusterID]; ok {
		return c
	}
	c := &Cluster{id: clusterID, endpoint: endpoint, attributes: make(map[uint32]*Attribute)}
	eps[clusterID] = c
	return c
}

// AddAttribute creates an attribute with an initial value, without notifying subscribers.
func (s *Store) AddAttribute(c *Cluster, attrID uint32, name string, initial Value) *Attribute {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := c.attributes[attrID]; ok {
		return a
	}
	a := &Attribute{id: attrID, name: name, value: initial, cluster: c}
	c.attributes[attrID] = a
	return a
}

func (s *Store) Cluster(endpoint uint16, clusterID uint32) (*Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clusters[endpoint][clusterID]
	if !ok {
		return nil, fmt.Errorf("%w: cluster 0x%04X on endpoint %d", ErrNotFound, clusterID, endpoint)
	}
	return c, nil
}

func (s *Store) Attribute(c *Cluster, attrID uint32) (*Attribute, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil cluster", ErrNotFound)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := c.attributes[attrID]
	if !ok {
		return nil, fmt.Errorf("%w: attribute 0x%04X in cluster 0x%04X", ErrNotFound, attrID, c.id)
	}
	return a, nil
}

// Lookup resolves endpoint/cluster/attribute in one step.
func (s *Store) Lookup(endpoint uint16, clusterID, attrID uint32) (*Attribute, error) {
	c, err := s.Cluster(endpoint, clusterID)
	if err != nil {
		return nil, err
	}
	return s.Attribute(c, attrID)
}

func (s *Store) Value(a *Attribute) Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return a.value
}

// SetValue stores a value and notifies subscribers with PreUpdate and PostUpdate.
// Subscribers run on the caller's goroutine without the store lock held.
func (s *Store) SetValue(a *Attribute, v Value, origin uuid.UUID) error {
	if a == nil || a.cluster == nil {
		return fmt.Errorf("%w: nil attribute", ErrNotFound)
	}
	change := Change{
		Endpoint:    a.cluster.endpoint,
		ClusterID:   a.cluster.id,
		AttributeID: a.id,
		Value:       v,
		Origin:      origin,
	}
	change.Type = PreUpdate
	s.notify(change)

	s.mu.Lock()
	a.value = v
	s.mu.Unlock()

	change.Type = PostUpdate
	s.notify(change)
	return nil
}

func (s *Store) notify(c Change) {
	s.mu.RLock()
	ids := make([]int, 0, len(s.subscribers))
	for id := range s.subscribers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, s.subscribers[id])
	}
	s.mu.RUnlock()

	for _, fn := range subs {
		fn(c)
	}
}

// Subscribe registers fn for every change and returns a function that removes it.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

// Light sensor types (Matter LightSensorTypeEnum)
const (
	LightSensorPhotodiode uint16 = 0
	LightSensorCMOS       uint16 = 1
)

// NewLightSensorEndpoint creates the Illuminance Measurement cluster on endpoint.
func NewLightSensorEndpoint(s *Store, endpoint uint16) *Cluster {
	c := s.AddCluster(endpoint, ClusterIlluminanceMeasurement)
	s.AddAttribute(c, AttrMeasuredValue, "MeasuredValue", Null())
	s.AddAttribute(c, AttrMinMeasuredValue, "MinMeasuredValue", Null())
	s.AddAttribute(c, AttrMaxMeasuredValue, "MaxMeasuredValue", Null())
	s.AddAttribute(c, AttrTolerance, "Tolerance", Uint16(0))
	s.AddAttribute(c, AttrLightSensorType, "LightSensorType", Uint16(LightSensorPhotodiode))
	return c
}

// Snapshot returns every attribute of a cluster keyed by name.
func (s *Store) Snapshot(c *Cluster) map[string]Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Value, len(c.attributes))
	for _, a := range c.attributes {
		out[a.name] = a.value
	}
	return out
}
