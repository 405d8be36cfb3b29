package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"fare/internal/clock"
	"fare/internal/domain"
	"fare/internal/metrics"
	"fare/internal/redis"
	"fare/internal/repository"
)

// Local cache keys.
const (
	HistoryKey    = "gensan_trip_history"
	TombstonesKey = "gensan_trip_tombstones"
	ClearedAtKey  = "gensan_trip_cleared_at"
)

const (
	maxIDAttempts  = 5
	historyLockTTL = 5 * time.Second
	lockWait       = 2 * time.Second
	lockRetryDelay = 25 * time.Millisecond
)

// SyncOp names the remote operation a SyncOutcome describes.
type SyncOp string

const (
	SyncOpSave   SyncOp = "save"
	SyncOpList   SyncOp = "list"
	SyncOpDelete SyncOp = "delete"
	SyncOpClear  SyncOp = "clear"
	SyncOpPush   SyncOp = "push"
)

// SyncOutcome reports whether the remote half of an operation succeeded.
// The local half is authoritative and never depends on it.
type SyncOutcome struct {
	Op     SyncOp
	Synced bool
	Err    error
}

func synced(op SyncOp) SyncOutcome { return SyncOutcome{Op: op, Synced: true} }

func failed(op SyncOp, err error) SyncOutcome { return SyncOutcome{Op: op, Err: err} }

// SaveResult is the outcome of saving a trip.
type SaveResult struct {
	Trip    *domain.TripRecord
	Sync    SyncOutcome
	Message string
}

// pendingDeletes are remote deletions that have not reached the remote store.
type pendingDeletes struct {
	tombstones map[string]struct{}
	clearedAt  int64 // 0 when no clear is pending
}

func (p pendingDeletes) tombstoned(id string) bool {
	_, ok := p.tombstones[id]
	return ok
}

// HistoryService keeps the trip history in the local cache and mirrors it to
// the remote store. Remote failures never fail or roll back a local change.
type HistoryService struct {
	local    repository.KeyValueStore
	remote   repository.TripRepository
	identity IdentityProvider
	locker   redis.LockStoreInterface
	notifier *NotificationService
	metrics  *metrics.Collector
	clock    clock.Clock
	logger   *zap.Logger

	mu sync.Mutex

	// inflight holds ids whose Save has not finished its remote insert.
	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// NewHistoryService creates a new HistoryService. locker, notifier and m may
// be nil.
func NewHistoryService(
	local repository.KeyValueStore,
	remote repository.TripRepository,
	identity IdentityProvider,
	locker redis.LockStoreInterface,
	notifier *NotificationService,
	m *metrics.Collector,
	clk clock.Clock,
	logger *zap.Logger,
) *HistoryService {
	if remote == nil {
		remote = repository.DisabledTripRepository{}
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryService{
		local:    local,
		remote:   remote,
		identity: identity,
		locker:   locker,
		notifier: notifier,
		metrics:  m,
		clock:    clk,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// DeviceID returns this installation's identity.
func (h *HistoryService) DeviceID(ctx context.Context) (string, error) {
	return h.identity.DeviceID(ctx)
}

// Save records a new trip: it gets a fresh id, is stamped with the device and
// creation time, prepended to the local history, then written to the remote
// store. A remote failure is reported in the result, not as an error.
func (h *HistoryService) Save(ctx context.Context, data domain.TripData) (*SaveResult, error) {
	if err := validateTripData(data); err != nil {
		return nil, err
	}

	deviceID, err := h.identity.DeviceID(ctx)
	if err != nil {
		return nil, err
	}

	unlock := h.lock(ctx, deviceID)
	trip, err := h.saveLocal(ctx, deviceID, data)
	if err == nil {
		h.setInflight(trip.ID, true)
	}
	unlock()
	if err != nil {
		return nil, err
	}
	defer h.setInflight(trip.ID, false)

	h.metrics.TripSaved(string(trip.Kind))

	outcome := synced(SyncOpSave)
	if err := h.remote.Insert(context.WithoutCancel(ctx), trip); err != nil {
		outcome = failed(SyncOpSave, err)
		h.logger.Warn("remote save failed, trip kept locally",
			zap.String("trip_id", trip.ID),
			zap.Error(err),
		)
	}
	h.metrics.SyncOutcome(string(SyncOpSave), outcome.Synced)

	message := SaveMessage(outcome)
	if h.notifier != nil {
		h.notifier.NotifyTripSaved(ctx, trip, outcome)
	}

	return &SaveResult{Trip: trip, Sync: outcome, Message: message}, nil
}

func (h *HistoryService) saveLocal(ctx context.Context, deviceID string, data domain.TripData) (*domain.TripRecord, error) {
	history, err := h.readHistory(ctx)
	if err != nil {
		return nil, err
	}
	pending := h.readPending(ctx)

	taken := make(map[string]struct{}, len(history)+len(pending.tombstones))
	for _, t := range history {
		taken[t.ID] = struct{}{}
	}
	for id := range pending.tombstones {
		taken[id] = struct{}{}
	}

	now := h.clock.Now()
	id, err := h.newTripID(now, taken)
	if err != nil {
		return nil, err
	}

	trip := &domain.TripRecord{
		ID:              id,
		DeviceID:        deviceID,
		CreatedAtMillis: now.UnixMilli(),
		Kind:            data.Kind,
		DistanceKm:      data.DistanceKm,
		Fare:            data.Fare,
		Currency:        data.Currency,
	}
	if data.Kind == domain.TripKindGPS {
		trip.StartPoint = data.StartPoint
		trip.EndPoint = data.EndPoint
		trip.Route = append([]domain.LocationSample(nil), data.Route...)
	}

	history = append([]*domain.TripRecord{trip}, history...)
	if err := h.writeHistory(ctx, history); err != nil {
		return nil, err
	}
	return trip, nil
}

func (h *HistoryService) setInflight(id string, saving bool) {
	h.inflightMu.Lock()
	defer h.inflightMu.Unlock()
	if saving {
		h.inflight[id] = struct{}{}
	} else {
		delete(h.inflight, id)
	}
}

func (h *HistoryService) isInflight(id string) bool {
	h.inflightMu.Lock()
	defer h.inflightMu.Unlock()
	_, ok := h.inflight[id]
	return ok
}

// newTripID returns a "trip_" prefixed ULID not present in taken.
func (h *HistoryService) newTripID(now time.Time, taken map[string]struct{}) (string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		u, err := ulid.New(ulid.Timestamp(now), ulid.DefaultEntropy())
		if err != nil {
			return "", fmt.Errorf("generate trip id: %w", err)
		}
		id := "trip_" + strings.ToLower(u.String())
		if _, exists := taken[id]; !exists {
			return id, nil
		}
		h.logger.Warn("trip id collision, regenerating", zap.String("trip_id", id))
	}
	return "", ErrIdentityCollision
}

// ListMerged returns the union of the local and remote histories, newest
// first, and writes it back to the local cache. Records present in both are
// taken from the remote store. When the remote store is unreachable the local
// history is returned as is.
func (h *HistoryService) ListMerged(ctx context.Context) ([]*domain.TripRecord, SyncOutcome) {
	start := time.Now()
	outcome := synced(SyncOpList)

	var remote []*domain.TripRecord
	remoteOK := false

	deviceID, err := h.identity.DeviceID(ctx)
	if err != nil {
		outcome = failed(SyncOpList, err)
		h.logger.Warn("device identity unavailable, listing local history only", zap.Error(err))
	} else {
		remote, err = h.remote.ListByDevice(context.WithoutCancel(ctx), deviceID)
		if err != nil {
			outcome = failed(SyncOpList, err)
			remote = nil
			h.logger.Warn("remote history unavailable, listing local history only", zap.Error(err))
		} else {
			remoteOK = true
		}
	}

	unlock := h.lock(ctx, deviceID)
	local, err := h.readHistory(ctx)
	if err != nil {
		pending := h.readPending(ctx)
		unlock()
		h.logger.Error("local history unavailable", zap.Error(err))
		if !remoteOK {
			h.reportList(ctx, deviceID, outcome, start, 0)
			return []*domain.TripRecord{}, outcome
		}
		// Serve the remote copy without writing back over the unreadable cache.
		merged, _ := mergeHistory(nil, remote, pending, nil)
		h.reportList(ctx, deviceID, outcome, start, len(merged))
		return merged, outcome
	}
	pending := h.readPending(ctx)

	merged, stale := mergeHistory(local, remote, pending, func(l, r *domain.TripRecord) {
		h.logger.Warn("local trip differs from remote copy, keeping remote",
			zap.String("trip_id", r.ID),
		)
	})

	if err := h.writeHistory(ctx, merged); err != nil {
		h.logger.Error("write back merged history failed", zap.Error(err))
	}
	unlock()

	if remoteOK {
		h.flushPending(ctx, deviceID, remote, pending, stale)
	}

	h.reportList(ctx, deviceID, outcome, start, len(merged))
	return merged, outcome
}

func (h *HistoryService) reportList(ctx context.Context, deviceID string, outcome SyncOutcome, start time.Time, size int) {
	h.metrics.ObserveMerge(time.Since(start), size)
	h.metrics.SyncOutcome(string(SyncOpList), outcome.Synced)
	if h.notifier != nil && !outcome.Synced {
		h.notifier.NotifySyncOutcome(ctx, deviceID, outcome)
	}
}

// mergeHistory merges by id, local first with remote overwriting, and sorts
// newest first. Tombstoned records and remote-only records at or before a
// pending clear are left out and returned as stale ids.
func mergeHistory(
	local, remote []*domain.TripRecord,
	pending pendingDeletes,
	onDiverge func(local, remote *domain.TripRecord),
) ([]*domain.TripRecord, []string) {
	byID := make(map[string]*domain.TripRecord, len(local)+len(remote))
	for _, t := range local {
		if t == nil || t.ID == "" || pending.tombstoned(t.ID) {
			continue
		}
		byID[t.ID] = t
	}

	var stale []string
	for _, t := range remote {
		if t == nil || t.ID == "" {
			continue
		}
		if pending.tombstoned(t.ID) {
			stale = append(stale, t.ID)
			continue
		}
		l, inLocal := byID[t.ID]
		if !inLocal && pending.clearedAt > 0 && t.CreatedAtMillis <= pending.clearedAt {
			stale = append(stale, t.ID)
			continue
		}
		if inLocal && onDiverge != nil && !reflect.DeepEqual(normalize(l), normalize(t)) {
			onDiverge(l, t)
		}
		byID[t.ID] = t
	}

	merged := make([]*domain.TripRecord, 0, len(byID))
	for _, t := range byID {
		merged = append(merged, t)
	}
	sortNewestFirst(merged)
	return merged, stale
}

func sortNewestFirst(trips []*domain.TripRecord) {
	sort.Slice(trips, func(i, j int) bool {
		if trips[i].CreatedAtMillis != trips[j].CreatedAtMillis {
			return trips[i].CreatedAtMillis > trips[j].CreatedAtMillis
		}
		return trips[i].ID > trips[j].ID
	})
}

func normalize(t *domain.TripRecord) domain.TripRecord {
	n := *t
	if len(n.Route) == 0 {
		n.Route = nil
	}
	return n
}

// flushPending retries remote deletions recorded while the remote store was
// unreachable and clears the ones that are now resolved.
func (h *HistoryService) flushPending(ctx context.Context, deviceID string, remote []*domain.TripRecord, pending pendingDeletes, stale []string) {
	if len(pending.tombstones) == 0 && pending.clearedAt == 0 {
		return
	}

	remoteCtx := context.WithoutCancel(ctx)
	failedIDs := make(map[string]struct{})
	for _, id := range stale {
		if err := h.remote.DeleteByID(remoteCtx, id); err != nil {
			failedIDs[id] = struct{}{}
			h.logger.Warn("pending remote delete failed", zap.String("trip_id", id), zap.Error(err))
		}
	}
	h.metrics.SyncOutcome(string(SyncOpDelete), len(failedIDs) == 0)

	unlock := h.lock(ctx, deviceID)
	defer unlock()

	current := h.readPending(ctx)
	for id := range pending.tombstones {
		if _, stillFailing := failedIDs[id]; !stillFailing {
			delete(current.tombstones, id)
		}
	}
	if pending.clearedAt > 0 && current.clearedAt == pending.clearedAt {
		clearFailed := false
		for _, t := range remote {
			if _, ok := failedIDs[t.ID]; ok && !pending.tombstoned(t.ID) {
				clearFailed = true
				break
			}
		}
		if !clearFailed {
			current.clearedAt = 0
		}
	}
	if err := h.writePending(ctx, current); err != nil {
		h.logger.Warn("update pending deletes failed", zap.Error(err))
	}
}

// Delete removes a trip locally, then from the remote store. A failed remote
// delete is remembered and retried; the trip stays hidden meanwhile.
func (h *HistoryService) Delete(ctx context.Context, id string) (SyncOutcome, error) {
	if strings.TrimSpace(id) == "" {
		return SyncOutcome{Op: SyncOpDelete}, ErrInvalidTripID
	}

	deviceID, err := h.identity.DeviceID(ctx)
	if err != nil {
		return SyncOutcome{Op: SyncOpDelete}, err
	}

	unlock := h.lock(ctx, deviceID)
	err = h.deleteLocal(ctx, id)
	unlock()
	if err != nil {
		return SyncOutcome{Op: SyncOpDelete}, err
	}

	outcome := synced(SyncOpDelete)
	if err := h.remote.DeleteByID(context.WithoutCancel(ctx), id); err != nil {
		outcome = failed(SyncOpDelete, err)
		h.logger.Warn("remote delete failed, will retry", zap.String("trip_id", id), zap.Error(err))
		h.addTombstone(ctx, deviceID, id)
	}
	h.metrics.SyncOutcome(string(SyncOpDelete), outcome.Synced)
	if h.notifier != nil {
		h.notifier.NotifySyncOutcome(ctx, deviceID, outcome)
	}
	return outcome, nil
}

func (h *HistoryService) deleteLocal(ctx context.Context, id string) error {
	history, err := h.readHistory(ctx)
	if err != nil {
		return err
	}
	kept := history[:0]
	for _, t := range history {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	return h.writeHistory(ctx, kept)
}

func (h *HistoryService) addTombstone(ctx context.Context, deviceID, id string) {
	unlock := h.lock(ctx, deviceID)
	defer unlock()

	pending := h.readPending(ctx)
	pending.tombstones[id] = struct{}{}
	if err := h.writePending(ctx, pending); err != nil {
		h.logger.Error("record pending delete failed", zap.String("trip_id", id), zap.Error(err))
	}
}

// ClearAll empties the local history, then deletes every remote record of
// this device. A failed remote clear is remembered and retried.
func (h *HistoryService) ClearAll(ctx context.Context) (SyncOutcome, error) {
	deviceID, err := h.identity.DeviceID(ctx)
	if err != nil {
		return SyncOutcome{Op: SyncOpClear}, err
	}

	clearedAt := h.clock.Now().UnixMilli()

	unlock := h.lock(ctx, deviceID)
	err = h.local.Remove(ctx, HistoryKey)
	unlock()
	if err != nil {
		return SyncOutcome{Op: SyncOpClear}, fmt.Errorf("clear local history: %w", err)
	}

	outcome := synced(SyncOpClear)
	remoteErr := h.remote.DeleteByDevice(context.WithoutCancel(ctx), deviceID)

	unlock = h.lock(ctx, deviceID)
	pending := h.readPending(ctx)
	pending.tombstones = map[string]struct{}{}
	if remoteErr != nil {
		outcome = failed(SyncOpClear, remoteErr)
		if clearedAt > pending.clearedAt {
			pending.clearedAt = clearedAt
		}
	} else {
		pending.clearedAt = 0
	}
	if err := h.writePending(ctx, pending); err != nil {
		h.logger.Error("update pending deletes failed", zap.Error(err))
	}
	unlock()

	if remoteErr != nil {
		h.logger.Warn("remote clear failed, will retry", zap.Error(remoteErr))
	}
	h.metrics.SyncOutcome(string(SyncOpClear), outcome.Synced)
	if h.notifier != nil {
		h.notifier.NotifySyncOutcome(ctx, deviceID, outcome)
	}
	return outcome, nil
}

// SyncPending writes local trips that the remote store does not have. It
// returns how many were pushed. The history lock is held while pushing, so a
// trip deleted or cleared concurrently is never written back; trips whose
// Save is still inserting them are left to that Save.
func (h *HistoryService) SyncPending(ctx context.Context) (int, SyncOutcome) {
	deviceID, err := h.identity.DeviceID(ctx)
	if err != nil {
		return 0, failed(SyncOpPush, err)
	}

	remoteCtx := context.WithoutCancel(ctx)
	remote, err := h.remote.ListByDevice(remoteCtx, deviceID)
	if err != nil {
		h.metrics.SyncOutcome(string(SyncOpPush), false)
		return 0, failed(SyncOpPush, err)
	}
	inRemote := make(map[string]struct{}, len(remote))
	for _, t := range remote {
		inRemote[t.ID] = struct{}{}
	}

	unlock := h.lock(ctx, deviceID)
	local, err := h.readHistory(ctx)
	if err != nil {
		unlock()
		return 0, failed(SyncOpPush, err)
	}
	pending := h.readPending(ctx)

	outcome := synced(SyncOpPush)
	pushed := 0
	for _, t := range local {
		if t.DeviceID != deviceID || pending.tombstoned(t.ID) || h.isInflight(t.ID) {
			continue
		}
		if _, ok := inRemote[t.ID]; ok {
			continue
		}
		if err := h.remote.Insert(remoteCtx, t); err != nil {
			if outcome.Synced {
				outcome = failed(SyncOpPush, err)
			}
			h.logger.Warn("pending trip push failed", zap.String("trip_id", t.ID), zap.Error(err))
			continue
		}
		pushed++
	}
	unlock()

	h.metrics.SyncOutcome(string(SyncOpPush), outcome.Synced)
	if pushed > 0 {
		h.logger.Info("pending trips pushed", zap.Int("count", pushed))
		if h.notifier != nil {
			h.notifier.NotifyTripsPushed(ctx, deviceID, pushed)
		}
	}
	return pushed, outcome
}

// lock serializes local cache read-modify-write. When a distributed locker is
// configured it is also held, waiting at most lockWait; on timeout or error
// the operation proceeds under the in-process lock only.
func (h *HistoryService) lock(ctx context.Context, deviceID string) func() {
	h.mu.Lock()
	if h.locker == nil || deviceID == "" {
		return h.mu.Unlock
	}

	token := ""
	deadline := time.Now().Add(lockWait)
	for {
		t, ok, err := h.locker.AcquireHistoryLock(ctx, deviceID, historyLockTTL)
		if err != nil {
			h.logger.Warn("history lock unavailable", zap.Error(err))
			break
		}
		if ok {
			token = t
			break
		}
		if time.Now().After(deadline) {
			h.logger.Warn("history lock wait timed out", zap.String("device_id", deviceID))
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(lockRetryDelay):
			continue
		}
		break
	}

	return func() {
		if token != "" {
			if err := h.locker.ReleaseHistoryLock(context.WithoutCancel(ctx), deviceID, token); err != nil {
				h.logger.Warn("history lock release failed", zap.Error(err))
			}
		}
		h.mu.Unlock()
	}
}

// readHistory loads the local history. An unreadable value is treated as an
// empty history.
func (h *HistoryService) readHistory(ctx context.Context) ([]*domain.TripRecord, error) {
	data, found, err := h.local.Get(ctx, HistoryKey)
	if err != nil {
		return nil, fmt.Errorf("read local history: %w", err)
	}
	if !found || len(data) == 0 {
		return []*domain.TripRecord{}, nil
	}

	var history []*domain.TripRecord
	if err := json.Unmarshal(data, &history); err != nil {
		h.logger.Warn("local history unreadable, starting empty", zap.Error(err))
		return []*domain.TripRecord{}, nil
	}

	kept := history[:0]
	for _, t := range history {
		if t != nil && t.ID != "" {
			kept = append(kept, t)
		}
	}
	return kept, nil
}

func (h *HistoryService) writeHistory(ctx context.Context, history []*domain.TripRecord) error {
	if history == nil {
		history = []*domain.TripRecord{}
	}
	data, err := json.Marshal(history)
	if err != nil {
		return err
	}
	if err := h.local.Set(ctx, HistoryKey, data); err != nil {
		return fmt.Errorf("write local history: %w", err)
	}
	return nil
}

// readPending loads tombstones and the clear watermark. Unreadable values are
// treated as absent.
func (h *HistoryService) readPending(ctx context.Context) pendingDeletes {
	pending := pendingDeletes{tombstones: map[string]struct{}{}}

	if data, found, err := h.local.Get(ctx, TombstonesKey); err != nil {
		h.logger.Warn("read pending deletes failed", zap.Error(err))
	} else if found {
		var ids []string
		if err := json.Unmarshal(data, &ids); err != nil {
			h.logger.Warn("pending deletes unreadable, ignoring", zap.Error(err))
		}
		for _, id := range ids {
			pending.tombstones[id] = struct{}{}
		}
	}

	if data, found, err := h.local.Get(ctx, ClearedAtKey); err != nil {
		h.logger.Warn("read pending clear failed", zap.Error(err))
	} else if found {
		if v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64); err == nil && v > 0 {
			pending.clearedAt = v
		}
	}

	return pending
}

func (h *HistoryService) writePending(ctx context.Context, pending pendingDeletes) error {
	var errs []error

	if len(pending.tombstones) == 0 {
		errs = append(errs, h.local.Remove(ctx, TombstonesKey))
	} else {
		ids := make([]string, 0, len(pending.tombstones))
		for id := range pending.tombstones {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		data, err := json.Marshal(ids)
		if err == nil {
			err = h.local.Set(ctx, TombstonesKey, data)
		}
		errs = append(errs, err)
	}

	if pending.clearedAt == 0 {
		errs = append(errs, h.local.Remove(ctx, ClearedAtKey))
	} else {
		errs = append(errs, h.local.Set(ctx, ClearedAtKey, []byte(strconv.FormatInt(pending.clearedAt, 10))))
	}

	return errors.Join(errs...)
}

func validateTripData(data domain.TripData) error {
	if math.IsNaN(data.DistanceKm) || math.IsInf(data.DistanceKm, 0) || data.DistanceKm <= 0 {
		return ErrInvalidDistance
	}
	if math.IsNaN(data.Fare) || math.IsInf(data.Fare, 0) || data.Fare < 0 {
		return ErrInvalidFare
	}
	if data.Kind != domain.TripKindGPS && data.Kind != domain.TripKindManual {
		return fmt.Errorf("unknown trip kind %q", data.Kind)
	}
	return nil
}
