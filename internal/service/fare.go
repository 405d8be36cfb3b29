package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"fare/internal/domain"
	"fare/internal/repository"
)

// FareSettingsKey is the local cache key holding the fare structure.
const FareSettingsKey = "gensan_fare_settings"

// FareQuote is a priced distance.
type FareQuote struct {
	DistanceKm float64 `json:"distance_km"`
	Fare       float64 `json:"fare"`
	Currency   string  `json:"currency"`
	Breakdown  string  `json:"breakdown"`
}

// ComputeFare prices distanceKm. ok is false when the distance is not a
// positive number; no fare is produced in that case.
func ComputeFare(settings domain.FareSettings, distanceKm float64) (float64, bool) {
	if math.IsNaN(distanceKm) || math.IsInf(distanceKm, 0) || distanceKm <= 0 {
		return 0, false
	}
	if distanceKm <= settings.BaseDistanceKm {
		return settings.BaseFare, true
	}
	additional := distanceKm - settings.BaseDistanceKm
	return settings.BaseFare + additional*settings.RatePerKm, true
}

// ParseDistance parses a user-entered distance. ok is false for empty,
// non-numeric or non-positive input.
func ParseDistance(input string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(input), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, false
	}
	return v, true
}

// FormatDistanceInput renders a tracked distance the way it is placed in the
// manual distance field.
func FormatDistanceInput(distanceKm float64) string {
	return fmt.Sprintf("%.2f", distanceKm)
}

// Breakdown describes how the fare for distanceKm was made up.
func Breakdown(settings domain.FareSettings, distanceKm float64) string {
	if distanceKm <= settings.BaseDistanceKm {
		return fmt.Sprintf("Base fare for first %s km: %s%.2f",
			strconv.FormatFloat(settings.BaseDistanceKm, 'f', -1, 64),
			settings.Currency, settings.BaseFare)
	}
	return fmt.Sprintf("Base fare: %s%.2f + %.2f km × %s%.2f/km",
		settings.Currency, settings.BaseFare,
		distanceKm-settings.BaseDistanceKm,
		settings.Currency, settings.RatePerKm)
}

// ValidateFareSettings checks a fare structure before it is stored.
func ValidateFareSettings(s domain.FareSettings) error {
	for _, v := range []float64{s.BaseFare, s.BaseDistanceKm, s.RatePerKm} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return ErrInvalidFareSettings
		}
	}
	if !domain.IsSupportedCurrency(s.Currency) {
		return ErrUnsupportedCurrency
	}
	return nil
}

// FareService prices trips using the fare structure stored in the local cache.
type FareService struct {
	store    repository.KeyValueStore
	defaults domain.FareSettings
	logger   *zap.Logger
}

// NewFareService creates a new FareService. defaults apply until the user
// stores their own settings.
func NewFareService(store repository.KeyValueStore, defaults domain.FareSettings, logger *zap.Logger) *FareService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FareService{
		store:    store,
		defaults: defaults,
		logger:   logger,
	}
}

// Settings returns the stored fare structure, or the defaults when none is
// stored or the stored value cannot be read.
func (s *FareService) Settings(ctx context.Context) (domain.FareSettings, error) {
	data, found, err := s.store.Get(ctx, FareSettingsKey)
	if err != nil {
		return s.defaults, fmt.Errorf("read fare settings: %w", err)
	}
	if !found {
		return s.defaults, nil
	}

	var settings domain.FareSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		s.logger.Warn("stored fare settings unreadable, using defaults", zap.Error(err))
		return s.defaults, nil
	}
	if err := ValidateFareSettings(settings); err != nil {
		s.logger.Warn("stored fare settings invalid, using defaults", zap.Error(err))
		return s.defaults, nil
	}
	return settings, nil
}

// UpdateSettings validates and stores a fare structure.
func (s *FareService) UpdateSettings(ctx context.Context, settings domain.FareSettings) error {
	if err := ValidateFareSettings(settings); err != nil {
		return err
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, FareSettingsKey, data); err != nil {
		return fmt.Errorf("store fare settings: %w", err)
	}
	s.logger.Info("fare settings updated",
		zap.Float64("base_fare", settings.BaseFare),
		zap.Float64("base_distance_km", settings.BaseDistanceKm),
		zap.Float64("rate_per_km", settings.RatePerKm),
		zap.String("currency", settings.Currency),
	)
	return nil
}

// Estimate prices a user-entered distance. ok is false when the input is
// not a positive number.
func (s *FareService) Estimate(ctx context.Context, distanceInput string) (*FareQuote, bool, error) {
	distance, ok := ParseDistance(distanceInput)
	if !ok {
		return nil, false, nil
	}

	settings, err := s.Settings(ctx)
	if err != nil {
		s.logger.Warn("fare settings unavailable, using defaults", zap.Error(err))
	}

	fare, ok := ComputeFare(settings, distance)
	if !ok {
		return nil, false, nil
	}

	return &FareQuote{
		DistanceKm: distance,
		Fare:       fare,
		Currency:   settings.Currency,
		Breakdown:  Breakdown(settings, distance),
	}, true, nil
}
