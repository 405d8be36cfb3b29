package service

import "errors"

var (
	// ErrLocationUnsupported is returned when no location provider is available.
	ErrLocationUnsupported = errors.New("location tracking not supported")

	// ErrLocationTimeout is emitted by a provider when no update arrives in time.
	ErrLocationTimeout = errors.New("location update timed out")

	// ErrLocationDenied is emitted by a provider that refused access.
	ErrLocationDenied = errors.New("location access denied")

	// ErrTrackingActive is returned when starting a session that is already running.
	ErrTrackingActive = errors.New("tracking already active")

	// ErrTrackingInactive is returned when a sample arrives with no active session.
	ErrTrackingInactive = errors.New("tracking not active")

	// ErrSampleDropped is returned when a pushed sample was not delivered:
	// it was not newer than the last one, or the session is not keeping up.
	ErrSampleDropped = errors.New("location sample dropped")

	// ErrInvalidLocation is returned when location coordinates are invalid.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrInvalidTripID is returned when trip ID is empty.
	ErrInvalidTripID = errors.New("invalid trip id")

	// ErrInvalidDistance is returned when a distance is not a positive number.
	ErrInvalidDistance = errors.New("invalid distance")

	// ErrInvalidFare is returned when a trip fare is negative or not a number.
	ErrInvalidFare = errors.New("invalid fare")

	// ErrInvalidFareSettings is returned when fare settings fail validation.
	ErrInvalidFareSettings = errors.New("invalid fare settings")

	// ErrUnsupportedCurrency is returned for a currency symbol outside the supported set.
	ErrUnsupportedCurrency = errors.New("unsupported currency")

	// ErrIdentityCollision is returned when a unique trip id could not be generated.
	ErrIdentityCollision = errors.New("could not generate unique trip id")
)
