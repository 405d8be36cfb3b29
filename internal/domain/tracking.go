package domain

// TrackingState is a point-in-time copy of a tracking session.
type TrackingState struct {
	Active     bool
	DistanceKm float64
	Route      []LocationSample
	Error      string
}
