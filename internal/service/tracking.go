package service

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"fare/internal/domain"
	"fare/internal/metrics"
	"fare/internal/redis"
)

// DefaultMinMovementKm is the noise threshold: increments at or below it are
// treated as GPS jitter and not added to the distance.
const DefaultMinMovementKm = 0.01

// User-facing tracking errors.
const (
	msgLocationUnsupported = "GPS is not supported by your device"
	msgLocationFailed      = "Unable to access GPS. Please enable location services."
)

// TrackingResult is the outcome of stopping a session.
type TrackingResult struct {
	DistanceKm float64 `json:"distance_km"`
	// DistanceInput is the distance formatted for the manual distance field,
	// empty when nothing was tracked.
	DistanceInput string `json:"distance_input"`
}

// TrackingService turns a location subscription into an accumulated distance.
type TrackingService struct {
	provider      LocationProvider
	positionStore redis.PositionStoreInterface
	identity      IdentityProvider
	metrics       *metrics.Collector
	logger        *zap.Logger
	minMovementKm float64
	opts          ProviderOptions

	mu         sync.Mutex
	active     bool
	distanceKm float64
	route      []domain.LocationSample
	lastError  string
	sub        Subscription
	generation uint64
}

// NewTrackingService creates a new TrackingService. A nil provider makes
// every Start fail with ErrLocationUnsupported; positionStore may be nil.
func NewTrackingService(
	provider LocationProvider,
	positionStore redis.PositionStoreInterface,
	identity IdentityProvider,
	m *metrics.Collector,
	logger *zap.Logger,
	minMovementKm float64,
	opts ProviderOptions,
) *TrackingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if minMovementKm <= 0 {
		minMovementKm = DefaultMinMovementKm
	}
	return &TrackingService{
		provider:      provider,
		positionStore: positionStore,
		identity:      identity,
		metrics:       m,
		logger:        logger,
		minMovementKm: minMovementKm,
		opts:          opts,
	}
}

// Start begins a new session: distance is reset, the route cleared, and a
// provider subscription opened.
func (t *TrackingService) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active {
		return ErrTrackingActive
	}

	if t.provider == nil {
		t.lastError = msgLocationUnsupported
		return ErrLocationUnsupported
	}

	deviceID, err := t.identity.DeviceID(ctx)
	if err != nil {
		return err
	}

	// The session outlives the request that started it.
	sub, err := t.provider.Subscribe(context.WithoutCancel(ctx), deviceID, t.opts)
	if err != nil {
		t.lastError = describeLocationError(err)
		t.logger.Warn("location subscription failed", zap.Error(err))
		return err
	}

	t.generation++
	t.active = true
	t.distanceKm = 0
	t.route = nil
	t.lastError = ""
	t.sub = sub

	go t.consume(t.generation, sub)

	t.logger.Info("tracking started", zap.String("device_id", deviceID))
	return nil
}

// RecordSample appends a sample to the active route. The increment from the
// previous sample is added to the distance only when it exceeds the noise
// threshold; the sample is appended either way.
func (t *TrackingService) RecordSample(sample domain.LocationSample) error {
	t.mu.Lock()
	gen := t.generation
	t.mu.Unlock()
	return t.record(gen, sample)
}

func (t *TrackingService) record(gen uint64, sample domain.LocationSample) error {
	if !isValidSample(sample) {
		return ErrInvalidLocation
	}

	t.mu.Lock()
	if !t.active || gen != t.generation {
		t.mu.Unlock()
		return ErrTrackingInactive
	}

	counted := false
	if n := len(t.route); n > 0 {
		increment := GreatCircleDistanceKm(t.route[n-1].Point(), sample.Point())
		if increment > t.minMovementKm {
			t.distanceKm += increment
			counted = true
		}
	}
	t.route = append(t.route, sample)
	t.mu.Unlock()

	t.metrics.SampleRecorded(counted)
	t.updatePosition(sample)
	return nil
}

// Stop ends the session and returns the accumulated distance. Stopping an
// inactive session returns the distance tracked so far.
func (t *TrackingService) Stop(ctx context.Context) TrackingResult {
	t.mu.Lock()
	t.stopLocked()
	distance := t.distanceKm
	t.mu.Unlock()

	t.clearPosition(ctx)

	result := TrackingResult{DistanceKm: distance}
	if distance > 0 {
		result.DistanceInput = FormatDistanceInput(distance)
	}
	t.logger.Info("tracking stopped", zap.Float64("distance_km", distance))
	return result
}

// Reset clears the distance and route without producing a result.
func (t *TrackingService) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.distanceKm = 0
	t.route = nil
}

// State returns a copy of the current session.
func (t *TrackingService) State() domain.TrackingState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return domain.TrackingState{
		Active:     t.active,
		DistanceKm: t.distanceKm,
		Route:      append([]domain.LocationSample(nil), t.route...),
		Error:      t.lastError,
	}
}

// Route returns a copy of the tracked route.
func (t *TrackingService) Route() []domain.LocationSample {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.LocationSample(nil), t.route...)
}

func (t *TrackingService) consume(gen uint64, sub Subscription) {
	for {
		select {
		case sample := <-sub.Samples():
			if err := t.record(gen, sample); errors.Is(err, ErrTrackingInactive) {
				return
			} else if err != nil {
				t.logger.Debug("location sample rejected", zap.Error(err))
			}
		case err := <-sub.Errors():
			t.fail(gen, err)
			return
		case <-sub.Done():
			return
		}
	}
}

// fail force-stops the session after a provider error. The distance tracked
// so far remains available.
func (t *TrackingService) fail(gen uint64, err error) {
	t.mu.Lock()
	if !t.active || gen != t.generation {
		t.mu.Unlock()
		return
	}
	t.lastError = describeLocationError(err)
	t.stopLocked()
	distance := t.distanceKm
	t.mu.Unlock()

	t.clearPosition(context.Background())
	t.logger.Warn("tracking stopped by provider error",
		zap.Error(err),
		zap.Float64("distance_km", distance),
	)
}

func (t *TrackingService) stopLocked() {
	if t.sub != nil {
		t.sub.Cancel()
		t.sub = nil
	}
	t.active = false
}

func (t *TrackingService) updatePosition(sample domain.LocationSample) {
	if t.positionStore == nil {
		return
	}
	ctx := context.Background()
	deviceID, err := t.identity.DeviceID(ctx)
	if err != nil {
		return
	}
	if err := t.positionStore.UpdatePosition(ctx, deviceID, sample.Latitude, sample.Longitude); err != nil {
		t.logger.Debug("live position update failed", zap.Error(err))
	}
}

func (t *TrackingService) clearPosition(ctx context.Context) {
	if t.positionStore == nil {
		return
	}
	deviceID, err := t.identity.DeviceID(ctx)
	if err != nil {
		return
	}
	if err := t.positionStore.RemovePosition(context.WithoutCancel(ctx), deviceID); err != nil {
		t.logger.Debug("live position removal failed", zap.Error(err))
	}
}

func describeLocationError(err error) string {
	if errors.Is(err, ErrLocationUnsupported) {
		return msgLocationUnsupported
	}
	return msgLocationFailed
}
