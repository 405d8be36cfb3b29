package tests

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fare/internal/clock"
	"fare/internal/domain"
	"fare/internal/service"
)

const testDeviceID = "device_1700000000000_test"

var testEpoch = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

type historyFixture struct {
	svc       *service.HistoryService
	local     *MockKeyValueStore
	remote    *MockTripRepository
	hooked    *hookedTripRepository
	locker    *MockLockStore
	publisher *MockEventPublisher
	clock     *clock.FakeClock
}

func newHistoryFixture(t *testing.T) *historyFixture {
	t.Helper()

	f := &historyFixture{
		local:     NewMockKeyValueStore(),
		remote:    NewMockTripRepository(),
		locker:    NewMockLockStore(),
		publisher: NewMockEventPublisher(),
		clock:     clock.NewFakeClock(testEpoch),
	}
	f.hooked = &hookedTripRepository{MockTripRepository: f.remote}
	notifier := service.NewNotificationService(f.publisher, f.clock, nil)
	f.svc = service.NewHistoryService(
		f.local,
		f.hooked,
		service.StaticIdentity(testDeviceID),
		f.locker,
		notifier,
		nil,
		f.clock,
		nil,
	)
	return f
}

// hookedTripRepository runs a one-shot hook before the next remote insert,
// to interleave other history operations with it.
type hookedTripRepository struct {
	*MockTripRepository

	mu           sync.Mutex
	beforeInsert func(trip *domain.TripRecord)
}

func (r *hookedTripRepository) onNextInsert(fn func(trip *domain.TripRecord)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beforeInsert = fn
}

func (r *hookedTripRepository) Insert(ctx context.Context, trip *domain.TripRecord) error {
	r.mu.Lock()
	hook := r.beforeInsert
	r.beforeInsert = nil
	r.mu.Unlock()

	if hook != nil {
		hook(trip)
	}
	return r.MockTripRepository.Insert(ctx, trip)
}

// localHistory decodes the history stored in the local cache.
func (f *historyFixture) localHistory(t *testing.T) []*domain.TripRecord {
	t.Helper()
	raw, ok := f.local.Raw(service.HistoryKey)
	if !ok {
		return nil
	}
	var trips []*domain.TripRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &trips))
	return trips
}

// seedLocal writes trips straight into the local cache.
func (f *historyFixture) seedLocal(t *testing.T, trips ...*domain.TripRecord) {
	t.Helper()
	data, err := json.Marshal(trips)
	require.NoError(t, err)
	f.local.Put(service.HistoryKey, string(data))
}

func manualTrip(id string, createdAt int64, fare float64) *domain.TripRecord {
	return &domain.TripRecord{
		ID:              id,
		DeviceID:        testDeviceID,
		CreatedAtMillis: createdAt,
		Kind:            domain.TripKindManual,
		DistanceKm:      5,
		Fare:            fare,
		Currency:        "₱",
	}
}

func ids(trips []*domain.TripRecord) []string {
	out := make([]string, len(trips))
	for i, t := range trips {
		out[i] = t.ID
	}
	return out
}
