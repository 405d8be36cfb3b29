package tests

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"fare/internal/domain"
	"fare/internal/redis"
	"fare/internal/repository"
	"fare/internal/service"
)

// ──────────────────────────────────────────────
// MOCK TRIP REPOSITORY (remote store)
// ──────────────────────────────────────────────

// MockTripRepository is a mock implementation of TripRepository.
type MockTripRepository struct {
	mu    sync.RWMutex
	trips map[string]*domain.TripRecord

	// Counters for verification
	InsertCallCount         int32
	ListCallCount           int32
	DeleteByIDCallCount     int32
	DeleteByDeviceCallCount int32

	// Error injection
	InsertError         error
	ListError           error
	DeleteByIDError     error
	DeleteByDeviceError error
}

// NewMockTripRepository creates a new mock trip repository.
func NewMockTripRepository() *MockTripRepository {
	return &MockTripRepository{
		trips: make(map[string]*domain.TripRecord),
	}
}

// AddTrip adds a trip directly to the mock store.
func (m *MockTripRepository) AddTrip(trip *domain.TripRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := *trip
	m.trips[trip.ID] = &copy
}

// SetErrors configures every operation to fail with err (nil clears).
func (m *MockTripRepository) SetErrors(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InsertError = err
	m.ListError = err
	m.DeleteByIDError = err
	m.DeleteByDeviceError = err
}

func (m *MockTripRepository) Insert(ctx context.Context, trip *domain.TripRecord) error {
	atomic.AddInt32(&m.InsertCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InsertError != nil {
		return m.InsertError
	}
	if _, exists := m.trips[trip.ID]; exists {
		return nil // ON CONFLICT (id) DO NOTHING
	}
	copy := *trip
	m.trips[trip.ID] = &copy
	return nil
}

func (m *MockTripRepository) ListByDevice(ctx context.Context, deviceID string) ([]*domain.TripRecord, error) {
	atomic.AddInt32(&m.ListCallCount, 1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ListError != nil {
		return nil, m.ListError
	}
	var result []*domain.TripRecord
	for _, t := range m.trips {
		if t.DeviceID == deviceID {
			copy := *t
			result = append(result, &copy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAtMillis > result[j].CreatedAtMillis
	})
	return result, nil
}

func (m *MockTripRepository) DeleteByID(ctx context.Context, id string) error {
	atomic.AddInt32(&m.DeleteByIDCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteByIDError != nil {
		return m.DeleteByIDError
	}
	delete(m.trips, id)
	return nil
}

func (m *MockTripRepository) DeleteByDevice(ctx context.Context, deviceID string) error {
	atomic.AddInt32(&m.DeleteByDeviceCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteByDeviceError != nil {
		return m.DeleteByDeviceError
	}
	for id, t := range m.trips {
		if t.DeviceID == deviceID {
			delete(m.trips, id)
		}
	}
	return nil
}

// HasTrip checks if a trip exists in the mock store.
func (m *MockTripRepository) HasTrip(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.trips[id]
	return ok
}

// CountTrips returns the number of stored trips.
func (m *MockTripRepository) CountTrips() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.trips)
}

// ──────────────────────────────────────────────
// MOCK KEY-VALUE STORE (local cache)
// ──────────────────────────────────────────────

// MockKeyValueStore is an in-memory KeyValueStore.
type MockKeyValueStore struct {
	mu     sync.RWMutex
	values map[string][]byte

	// Counters
	SetCallCount int32

	// Error injection
	GetError error
	SetError error
}

// NewMockKeyValueStore creates a new mock key-value store.
func NewMockKeyValueStore() *MockKeyValueStore {
	return &MockKeyValueStore{
		values: make(map[string][]byte),
	}
}

func (m *MockKeyValueStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.GetError != nil {
		return nil, false, m.GetError
	}
	v, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MockKeyValueStore) Set(ctx context.Context, key string, value []byte) error {
	atomic.AddInt32(&m.SetCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetError != nil {
		return m.SetError
	}
	m.values[key] = append([]byte(nil), value...)
	return nil
}

func (m *MockKeyValueStore) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Raw returns the stored value as a string (for test assertions).
func (m *MockKeyValueStore) Raw(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return string(v), ok
}

// Put stores a raw value (for test setup).
func (m *MockKeyValueStore) Put(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = []byte(value)
}

// ──────────────────────────────────────────────
// MOCK LOCK STORE
// ──────────────────────────────────────────────

// MockLockStore is a mock implementation of LockStore.
type MockLockStore struct {
	mu    sync.Mutex
	locks map[string]mockLock
	seq   int

	// Counters
	AcquireCallCount int32
	ReleaseCallCount int32

	// Error injection
	AcquireError error

	// Force lock failure
	ForceAcquireFailure bool
}

type mockLock struct {
	token  string
	expiry time.Time
}

// NewMockLockStore creates a new mock lock store.
func NewMockLockStore() *MockLockStore {
	return &MockLockStore{
		locks: make(map[string]mockLock),
	}
}

func (m *MockLockStore) AcquireHistoryLock(ctx context.Context, deviceID string, ttl time.Duration) (string, bool, error) {
	atomic.AddInt32(&m.AcquireCallCount, 1)
	if m.AcquireError != nil {
		return "", false, m.AcquireError
	}
	if m.ForceAcquireFailure {
		return "", false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := "lock:history:" + deviceID
	if held, exists := m.locks[key]; exists {
		if time.Now().Before(held.expiry) {
			return "", false, nil // Lock still held.
		}
	}

	m.seq++
	token := fmt.Sprintf("token-%d", m.seq)
	m.locks[key] = mockLock{token: token, expiry: time.Now().Add(ttl)}
	return token, true, nil
}

func (m *MockLockStore) ReleaseHistoryLock(ctx context.Context, deviceID, token string) error {
	atomic.AddInt32(&m.ReleaseCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	key := "lock:history:" + deviceID
	if held, exists := m.locks[key]; !exists || held.token != token {
		return redis.ErrLockNotHeld
	}
	delete(m.locks, key)
	return nil
}

// IsLocked checks if a device history is locked (for test assertions).
func (m *MockLockStore) IsLocked(deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	held, exists := m.locks["lock:history:"+deviceID]
	return exists && time.Now().Before(held.expiry)
}

// ──────────────────────────────────────────────
// MOCK POSITION STORE
// ──────────────────────────────────────────────

// MockPositionStore is a mock implementation of PositionStoreInterface.
type MockPositionStore struct {
	mu        sync.RWMutex
	positions map[string]redis.Position

	// Counters
	UpdatePositionCallCount int32

	// Error injection
	UpdatePositionError error
}

// NewMockPositionStore creates a new mock position store.
func NewMockPositionStore() *MockPositionStore {
	return &MockPositionStore{
		positions: make(map[string]redis.Position),
	}
}

func (m *MockPositionStore) UpdatePosition(ctx context.Context, deviceID string, lat, lng float64) error {
	atomic.AddInt32(&m.UpdatePositionCallCount, 1)
	if m.UpdatePositionError != nil {
		return m.UpdatePositionError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[deviceID] = redis.Position{DeviceID: deviceID, Lat: lat, Lng: lng}
	return nil
}

func (m *MockPositionStore) GetPosition(ctx context.Context, deviceID string) (*redis.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[deviceID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *MockPositionStore) RemovePosition(ctx context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, deviceID)
	return nil
}

// HasPosition checks if a device position exists.
func (m *MockPositionStore) HasPosition(deviceID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.positions[deviceID]
	return ok
}

// ──────────────────────────────────────────────
// MOCK LOCATION PROVIDER
// ──────────────────────────────────────────────

// MockLocationProvider hands out ChannelSubscriptions the test drives directly.
type MockLocationProvider struct {
	mu   sync.Mutex
	subs []*service.ChannelSubscription

	// Counters
	SubscribeCallCount int32

	// Error injection
	SubscribeError error
}

// NewMockLocationProvider creates a new mock location provider.
func NewMockLocationProvider() *MockLocationProvider {
	return &MockLocationProvider{}
}

func (m *MockLocationProvider) Subscribe(ctx context.Context, deviceID string, opts service.ProviderOptions) (service.Subscription, error) {
	atomic.AddInt32(&m.SubscribeCallCount, 1)
	if m.SubscribeError != nil {
		return nil, m.SubscribeError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := service.NewChannelSubscription(ctx, opts, nil)
	m.subs = append(m.subs, sub)
	return sub, nil
}

// Current returns the most recent subscription.
func (m *MockLocationProvider) Current() *service.ChannelSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.subs) == 0 {
		return nil
	}
	return m.subs[len(m.subs)-1]
}

// ──────────────────────────────────────────────
// MOCK EVENT PUBLISHER
// ──────────────────────────────────────────────

// MockEventPublisher records published notifications.
type MockEventPublisher struct {
	mu            sync.Mutex
	notifications []service.Notification

	// Error injection
	PublishError error
}

// NewMockEventPublisher creates a new mock event publisher.
func NewMockEventPublisher() *MockEventPublisher {
	return &MockEventPublisher{}
}

func (m *MockEventPublisher) PublishNotification(ctx context.Context, n service.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, n)
	return m.PublishError
}

// Notifications returns a copy of everything published.
func (m *MockEventPublisher) Notifications() []service.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]service.Notification(nil), m.notifications...)
}

// ──────────────────────────────────────────────
// HELPER ERRORS
// ──────────────────────────────────────────────

var (
	ErrMockUnavailable = errors.New("mock: remote unavailable")
)

// Ensure mocks implement interfaces.
var (
	_ repository.TripRepository    = (*MockTripRepository)(nil)
	_ repository.KeyValueStore     = (*MockKeyValueStore)(nil)
	_ redis.LockStoreInterface     = (*MockLockStore)(nil)
	_ redis.PositionStoreInterface = (*MockPositionStore)(nil)
	_ service.LocationProvider     = (*MockLocationProvider)(nil)
	_ service.EventPublisher       = (*MockEventPublisher)(nil)
)
