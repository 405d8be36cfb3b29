package tests

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fare/internal/domain"
	"fare/internal/service"
)

// ──────────────────────────────────────────────
// 1. SAVE
// ──────────────────────────────────────────────

func TestHistory_SaveWritesLocalAndRemote(t *testing.T) {
	t.Parallel()
	f := newHistoryFixture(t)

	result, err := f.svc.Save(context.Background(), domain.NewManualTripData(12.5, 23.5, "₱"))
	require.NoError(t, err)

	assert.True(t, result.Sync.Synced)
	assert.NoError(t, result.Sync.Err)
	assert.Equal(t, service.MsgSavedSynced, result.Message)

	trip := result.Trip
	assert.True(t, strings.HasPrefix(trip.ID, "trip_"))
	assert.Equal(t, testDeviceID, trip.DeviceID)
	assert.Equal(t, testEpoch.UnixMilli(), trip.CreatedAtMillis)
	assert.Equal(t, domain.TripKindManual, trip.Kind)
	assert.Nil(t, trip.StartPoint)
	assert.Nil(t, trip.Route)

	local := f.localHistory(t)
	require.Len(t, local, 1)
	assert.Equal(t, trip, local[0])
	assert.True(t, f.remote.HasTrip(trip.ID))
}

func TestHistory_SaveRemoteFailureKeepsLocal(t *testing.T) {
	t.Parallel()
	f := newHistoryFixture(t)
	f.remote.InsertError = ErrMockUnavailable

	result, err := f.svc.Save(context.Background(), domain.NewManualTripData(3, 15, "₱"))
	require.NoError(t, err, "remote failure must not fail the save")

	assert.False(t, result.Sync.Synced)
	assert.ErrorIs(t, result.Sync.Err, ErrMockUnavailable)
	assert.Equal(t, service.MsgSavedLocally, result.Message)

	local := f.localHistory(t)
	require.Len(t, local, 1)
	assert.Equal(t, result.Trip.ID, local[0].ID)
	assert.Equal(t, 0, f.remote.CountTrips())

	published := f.publisher.Notifications()
	require.Len(t, published, 1)
	assert.Equal(t, service.NotificationTripSaved, published[0].Type)
	assert.False(t, published[0].Synced)
}

func TestHistory_SavePrependsNewest(t *testing.T) {
	t.Parallel()
	f := newHistoryFixture(t)
	ctx := context.Background()

	first, err := f.svc.Save(ctx, domain.NewManualTripData(1, 15, "₱"))
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	second, err := f.svc.Save(ctx, domain.NewManualTripData(2, 15, "₱"))
	require.NoError(t, err)

	assert.Equal(t, []string{second.Trip.ID, first.Trip.ID}, ids(f.localHistory(t)))
}

func TestHistory_SaveGPSTripCarriesRoute(t *testing.T) {
	t.Parallel()
	f := newHistoryFixture(t)

	route := []domain.LocationSample{
		{Latitude: 6.1164, Longitude: 125.1716, TimestampMillis: 1},
		{Latitude: 6.1180, Longitude: 125.1730, TimestampMillis: 2},
		{Latitude: 6.1200, Longitude: 125.1750, TimestampMillis: 3},
	}
	result, err := f.svc.Save(context.Background(), domain.NewGPSTripData(0.55, 15, "₱", route))
	require.NoError(t, err)

	trip := f.localHistory(t)[0]
	assert.Equal(t, domain.TripKindGPS, trip.Kind)
	require.NotNil(t, trip.StartPoint)
	require.NotNil(t, trip.EndPoint)
	assert.Equal(t, domain.Point{Latitude: 6.1164, Longitude: 125.1716}, *trip.StartPoint)
	assert.Equal(t, domain.Point{Latitude: 6.1200, Longitude: 125.1750}, *trip.EndPoint)
	assert.Equal(t, route, trip.Route)
	assert.Equal(t, result.Trip, trip)
}

func TestHistory_SaveRejectsInvalidTrip(t *testing.T) {
	t.Parallel()
	f := newHistoryFixture(t)
	ctx := context.Background()

	_, err := f.svc.Save(ctx, domain.NewManualTripData(0, 15, "₱"))
	assert.ErrorIs(t, err, service.ErrInvalidDistance)

	_, err = f.svc.Save(ctx, domain.NewManualTripData(2, -1, "₱"))
	assert.ErrorIs(t, err, service.ErrInvalidFare)

	assert.Nil(t, f.localHistory(t))
	assert.Equal(t, int32(0), f.remote.InsertCallCount)
}

func TestHistory_ConcurrentSavesGetUniqueIDs(t *testing.T) {
	t.Parallel()
	f := newHistoryFixture(t)

	const n = 200
	var wg sync.WaitGroup
	results := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.svc.Save(context.Background(), domain.NewManualTripData(1, 15, "₱"))
			if err != nil {
				t.Errorf("save failed: %v", err)
				return
			}
			results <- result.Trip.ID
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	for id := range results {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
	assert.Len(t, f.localHistory(t), n, "no save may be lost to a racing read-modify-write")
	assert.Equal(t, atomic.LoadInt32(&f.locker.AcquireCallCount), atomic.LoadInt32(&f.locker.ReleaseCallCount))
}

// ──────────────────────────────────────────────
// 2. MERGED LISTING
// ──────────────────────────────────────────────

func TestHistory_ListMergedIsIdempotentSortedAndUnique(t *testing.T) {
	t.Parallel()
	f := newHistoryFixture(t)
	ctx := context.Background()

	f.seedLocal(t, manualTrip("trip_b", 2000, 15), manualTrip("trip_a", 1000, 15))
	f.remote.AddTrip(manualTrip("trip_b", 2000, 15))
	f.remote.AddTrip(manualTrip("trip_c", 3000, 15))

	first, outcome := f.svc.ListMerged(ctx)
	assert.True(t, outcome.Synced)
	second, _ := f.svc.ListMerged(ctx)

	assert.Equal(t, []string{"trip_c", "trip_b", "trip_a"}, ids(first))
	assert.Equal(t, first, second)
	assert.Equal(t, ids(first), ids(f.localHistory(t)), "merged view is written back")
}

func TestHistory_MergeRemoteWinsByID(t *testing.T) {
	t.Parallel()
	f := newHistoryFixture(t)

	localA := manualTrip("trip_a", 1000, 15)
	remoteA := manualTrip("trip_a", 1000, 18)
	remoteB := manualTrip("trip_b", 2000, 20)

	f.seedLocal(t, localA)
	f.remote.AddTrip(remoteA)
	f.remote.AddTrip(remoteB)

	merged, _ := f.svc.ListMerged(context.Background())

	assert.Equal(t, []*domain.TripRecord{remoteB, remoteA}, merged)
}

func TestHistory_ListMergedRemoteUnavailableReturnsLocal(t *testing.T) {
	t.Parallel()
	f := newHistoryFixture(t)
	f.seedLocal(t, manualTrip("trip_a", 1000, 15), manualTrip("trip_b", 2000, 15))
	f.remote.ListError = ErrMockUnavailable

	merged, outcome := f.svc.ListMerged(context.Background())

	assert.False(t, outcome.Synced)
	assert.ErrorIs(t, outcome.Err, ErrMockUnavailable)
	assert.Equal(t, []string{"trip_b", "trip_a"}, ids(merged))

	published := f.publisher.Notifications()
	require.NotEmpty(t, published)
	assert.Equal(t, service.NotificationSyncDelayed, published[len(published)-1].Type)
	assert.Equal(t, service.MsgSyncDelayed, published[len(published)-1].Message)
}

func TestHistory_CorruptLocalCacheTreatedAsEmpty(t *testing.T) {
	t.Parallel()
	f := newHistoryFixture(t)
	ctx := context.Background()
	f.local.Put(service.HistoryKey, "{not json")
	f.remote.AddTrip(manualTrip("trip_c", 3000, 15))

	merged, _ := f.svc.ListMerged(ctx)
	assert.Equal(t, []string{"trip_c"}, ids(merged))

	f.local.Put(service.HistoryKey, "[[[")
	result, err := f.svc.Save(ctx, domain.NewManualTripData(1, 15, "₱"))
	require.NoError(t, err)
	assert.Equal(t, []string{result.Trip.ID}, ids(f.localHistory(t)))
}

func TestHistory_LocalCacheUnavailableListsRemote(t *testing.T) {
	t.Parallel()
	f := newHistoryFixture(t)
	f.remote.AddTrip(manualTrip("trip_c", 3000, 15))
	f.remote.AddTrip(manualTrip("trip_d", 4000, 16))
	f.local.GetError = ErrMockUnavailable

	merged, outcome := f.svc.ListMerged(context.Background())

	assert.True(t, outcome.Synced)
	assert.Equal(t, []string{"trip_d", "trip_c"}, ids(merged))
	_, written := f.local.Raw(service.HistoryKey)
	assert.False(t, written, "an unreadable cache is not overwritten")
}

func TestHistory_BothStoresUnavailableListsEmpty(t *testing.T) {
	t.Parallel()
	f := newHistoryFixture(t)
	f.remote.AddTrip(manualTrip("trip_c", 3000, 15))
	f.remote.SetErrors(ErrMockUnavailable)
	f.local.GetError = ErrMockUnavailable

	merged, outcome := f.svc.ListMerged(context.Background())

	assert.False(t, outcome.Synced)
	assert.NotNil(t, merged)
	assert.Empty(t, merged)
}

// ──────────────────────────────────────────────
// 3. DELETE AND CLEAR
// ──────────────────────────────────────────────

func TestHistory_DeleteRemovesLocallyAndRemotely(t *testing.T) {
	t.Parallel()
	f := newHistoryFixture(t)
	ctx := context.Background()

	saved, err := f.svc.Save(ctx, domain.NewManualTripData(1, 15, "₱"))
	require.NoError(t, err)

	outcome, err := f.svc.Delete(ctx, saved.Trip.ID)
	require.NoError(t, err)
	assert.True(t, outcome.Synced)
	assert.Empty(t, f.localHistory(t))
	assert.False(t, f.remote.HasTrip(saved.Trip.ID))
}

func TestHistory_DeleteStaysEffectiveWhenRemoteDeleteFails(t *testing.T) {
	t.Parallel()
	f := newHistoryFixture(t)
	ctx := context.Background()

	f.seedLocal(t, manualTrip("trip_a", 1000, 15), manualTrip("trip_b", 2000, 15))
	f.remote.AddTrip(manualTrip("trip_a", 1000, 15))
	f.remote.AddTrip(manualTrip("trip_b", 2000, 15))
	f.remote.DeleteByIDError = ErrMockUnavailable

	outcome, err := f.svc.Delete(ctx, "trip_a")
	require.NoError(t, err)
	assert.False(t, outcome.Synced)

	merged, _ := f.svc.ListMerged(ctx)
	assert.Equal(t, []string{"trip_b"}, ids(merged), "deleted trip must not come back from the remote store")
	assert.True(t, f.remote.HasTrip("trip_a"))
	_, pending := f.local.Raw(service.TombstonesKey)
	assert.True(t, pending)

	// Remote recovers: the pending delete is retried and forgotten.
	f.remote.DeleteByIDError = nil
	merged, _ = f.svc.ListMerged(ctx)
	assert.Equal(t, []string{"trip_b"}, ids(merged))
	assert.False(t, f.remote.HasTrip("trip_a"))
	_, pending = f.local.Raw(service.TombstonesKey)
	assert.False(t, pending)
}

func TestHistory_DeleteRejectsEmptyID(t *testing.T) {
	t.Parallel()
	f := newHistoryFixture(t)

	_, err := f.svc.Delete(context.Background(), "  ")
	assert.ErrorIs(t, err, service.ErrInvalidTripID)
	assert.Equal(t, int32(0), f.remote.DeleteByIDCallCount)
}

func TestHistory_ClearAllThenListIsEmpty(t *testing.T) {
	t.Parallel()
	f := newHistoryFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.Save(ctx, domain.NewManualTripData(float64(i+1), 15, "₱"))
		require.NoError(t, err)
	}

	outcome, err := f.svc.ClearAll(ctx)
	require.NoError(t, err)
	assert.True(t, outcome.Synced)

	merged, _ := f.svc.ListMerged(ctx)
	assert.Empty(t, merged)
	assert.Equal(t, 0, f.remote.CountTrips())
}

func TestHistory_ClearAllRemoteFailureHidesOldRemoteTrips(t *testing.T) {
	t.Parallel()
	f := newHistoryFixture(t)
	ctx := context.Background()

	f.remote.AddTrip(manualTrip("trip_old", testEpoch.Add(-time.Hour).UnixMilli(), 15))
	f.seedLocal(t, manualTrip("trip_old", testEpoch.Add(-time.Hour).UnixMilli(), 15))
	f.remote.DeleteByDeviceError = ErrMockUnavailable
	f.remote.DeleteByIDError = ErrMockUnavailable

	outcome, err := f.svc.ClearAll(ctx)
	require.NoError(t, err)
	assert.False(t, outcome.Synced)

	f.clock.Advance(time.Minute)
	saved, err := f.svc.Save(ctx, domain.NewManualTripData(2, 15, "₱"))
	require.NoError(t, err)

	merged, _ := f.svc.ListMerged(ctx)
	assert.Equal(t, []string{saved.Trip.ID}, ids(merged))

	// Remote recovers: the old trip is removed, the new one kept.
	f.remote.DeleteByIDError = nil
	merged, _ = f.svc.ListMerged(ctx)
	assert.Equal(t, []string{saved.Trip.ID}, ids(merged))
	assert.False(t, f.remote.HasTrip("trip_old"))
	assert.True(t, f.remote.HasTrip(saved.Trip.ID))
	_, pending := f.local.Raw(service.ClearedAtKey)
	assert.False(t, pending)
}

// ──────────────────────────────────────────────
// 4. PENDING SYNC
// ──────────────────────────────────────────────

func TestHistory_SyncPendingPushesLocalOnlyTrips(t *testing.T) {
	t.Parallel()
	f := newHistoryFixture(t)
	ctx := context.Background()

	f.remote.InsertError = ErrMockUnavailable
	offline, err := f.svc.Save(ctx, domain.NewManualTripData(1, 15, "₱"))
	require.NoError(t, err)
	require.False(t, offline.Sync.Synced)

	f.remote.InsertError = nil
	online, err := f.svc.Save(ctx, domain.NewManualTripData(2, 15, "₱"))
	require.NoError(t, err)

	pushed, outcome := f.svc.SyncPending(ctx)
	assert.True(t, outcome.Synced)
	assert.Equal(t, 1, pushed)
	assert.True(t, f.remote.HasTrip(offline.Trip.ID))
	assert.True(t, f.remote.HasTrip(online.Trip.ID))

	pushed, _ = f.svc.SyncPending(ctx)
	assert.Equal(t, 0, pushed)
}

func TestHistory_SyncPendingRemoteUnavailable(t *testing.T) {
	t.Parallel()
	f := newHistoryFixture(t)
	f.remote.SetErrors(ErrMockUnavailable)

	pushed, outcome := f.svc.SyncPending(context.Background())

	assert.Equal(t, 0, pushed)
	assert.False(t, outcome.Synced)
	assert.Equal(t, service.SyncOpPush, outcome.Op)
}

func TestHistory_SyncPendingDoesNotRestoreConcurrentlyDeletedTrip(t *testing.T) {
	t.Parallel()
	f := newHistoryFixture(t)
	ctx := context.Background()

	f.remote.SetErrors(ErrMockUnavailable)
	saved, err := f.svc.Save(ctx, domain.NewManualTripData(3, 15, "₱"))
	require.NoError(t, err)
	require.False(t, saved.Sync.Synced)
	f.remote.SetErrors(nil)

	// Delete the trip while the push of it is on its way to the remote store.
	deleted := make(chan error, 1)
	f.hooked.onNextInsert(func(trip *domain.TripRecord) {
		go func() {
			_, err := f.svc.Delete(ctx, trip.ID)
			deleted <- err
		}()
		time.Sleep(20 * time.Millisecond)
	})

	f.svc.SyncPending(ctx)
	require.NoError(t, <-deleted)

	merged, _ := f.svc.ListMerged(ctx)
	assert.NotContains(t, ids(merged), saved.Trip.ID)
	assert.False(t, f.remote.HasTrip(saved.Trip.ID))
	assert.Empty(t, f.localHistory(t))
}

func TestHistory_SyncPendingLeavesInFlightSaveAlone(t *testing.T) {
	t.Parallel()
	f := newHistoryFixture(t)
	ctx := context.Background()

	// A background push runs between the local write of a save and its
	// remote insert.
	var (
		pushed      int
		pushOutcome service.SyncOutcome
	)
	f.hooked.onNextInsert(func(*domain.TripRecord) {
		pushed, pushOutcome = f.svc.SyncPending(ctx)
	})

	result, err := f.svc.Save(ctx, domain.NewManualTripData(3, 15, "₱"))
	require.NoError(t, err)

	assert.Zero(t, pushed)
	assert.True(t, pushOutcome.Synced)
	assert.True(t, result.Sync.Synced)
	assert.Equal(t, service.MsgSavedSynced, result.Message)
	assert.True(t, f.remote.HasTrip(result.Trip.ID))
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.remote.InsertCallCount))
}

func TestHistory_SaveSucceedsWhenTripAlreadyPushed(t *testing.T) {
	t.Parallel()
	f := newHistoryFixture(t)
	ctx := context.Background()

	// Another process pushed the trip first.
	f.hooked.onNextInsert(func(trip *domain.TripRecord) {
		f.remote.AddTrip(trip)
	})

	result, err := f.svc.Save(ctx, domain.NewManualTripData(3, 15, "₱"))
	require.NoError(t, err)
	assert.True(t, result.Sync.Synced)
	assert.Equal(t, service.MsgSavedSynced, result.Message)
	assert.Equal(t, 1, f.remote.CountTrips())
}

func TestSyncWorker_RunOnce(t *testing.T) {
	t.Parallel()
	f := newHistoryFixture(t)
	ctx := context.Background()

	f.remote.InsertError = ErrMockUnavailable
	_, err := f.svc.Save(ctx, domain.NewManualTripData(1, 15, "₱"))
	require.NoError(t, err)
	f.remote.InsertError = nil

	worker := service.NewSyncWorker(f.svc, time.Minute, nil)
	assert.Equal(t, 1, worker.RunOnce(ctx))
	assert.Equal(t, 1, f.remote.CountTrips())
}

func TestSyncWorker_DisabledReturnsImmediately(t *testing.T) {
	t.Parallel()
	f := newHistoryFixture(t)

	done := make(chan struct{})
	go func() {
		service.NewSyncWorker(f.svc, 0, nil).RunForever(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled worker did not return")
	}
}

// ──────────────────────────────────────────────
// 5. LOCKING
// ──────────────────────────────────────────────

func TestHistory_ProceedsWhenDistributedLockHeld(t *testing.T) {
	t.Parallel()
	f := newHistoryFixture(t)
	f.locker.ForceAcquireFailure = true

	start := time.Now()
	_, err := f.svc.Save(context.Background(), domain.NewManualTripData(1, 15, "₱"))
	require.NoError(t, err)

	assert.Len(t, f.localHistory(t), 1)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, int32(0), f.locker.ReleaseCallCount, "an unacquired lock is never released")
}

func TestHistory_ProceedsWhenLockStoreFails(t *testing.T) {
	t.Parallel()
	f := newHistoryFixture(t)
	f.locker.AcquireError = ErrMockUnavailable

	_, err := f.svc.Save(context.Background(), domain.NewManualTripData(1, 15, "₱"))
	require.NoError(t, err)
	assert.Len(t, f.localHistory(t), 1)
}
