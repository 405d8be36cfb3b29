package repository

import (
	"fmt"
	"strconv"
	"strings"

	"fare/internal/domain"
)

// CoerceFloat converts a numeric column value to float64. Remote stores may
// hand numbers back as strings or raw bytes (NUMERIC columns, JSON documents
// written by other clients), so those are parsed as well. A nil value yields
// ok == false.
func CoerceFloat(v any) (value float64, ok bool, err error) {
	switch n := v.(type) {
	case nil:
		return 0, false, nil
	case float64:
		return n, true, nil
	case float32:
		return float64(n), true, nil
	case int64:
		return float64(n), true, nil
	case int:
		return float64(n), true, nil
	case int32:
		return float64(n), true, nil
	case []byte:
		return parseFloat(string(n))
	case string:
		return parseFloat(n)
	default:
		return 0, false, fmt.Errorf("unsupported numeric type %T", v)
	}
}

// CoerceInt converts a numeric column value to int64, truncating fractions.
func CoerceInt(v any) (int64, bool, error) {
	switch n := v.(type) {
	case int64:
		return n, true, nil
	case int:
		return int64(n), true, nil
	}
	f, ok, err := CoerceFloat(v)
	if err != nil || !ok {
		return 0, ok, err
	}
	return int64(f), true, nil
}

func parseFloat(s string) (float64, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return f, true, nil
}

// CoercePoint builds a point from a latitude/longitude column pair. It
// returns nil when either value is missing.
func CoercePoint(latV, lngV any) (*domain.Point, error) {
	lat, latOK, err := CoerceFloat(latV)
	if err != nil {
		return nil, err
	}
	lng, lngOK, err := CoerceFloat(lngV)
	if err != nil {
		return nil, err
	}
	if !latOK || !lngOK {
		return nil, nil
	}
	return &domain.Point{Latitude: lat, Longitude: lng}, nil
}
