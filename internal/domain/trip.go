package domain

// TripKind distinguishes GPS-tracked trips from manually entered ones.
type TripKind string

const (
	TripKindGPS    TripKind = "gps"
	TripKindManual TripKind = "manual"
)

// Point is a bare coordinate pair.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// LocationSample is a single position reported by a location provider.
type LocationSample struct {
	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
	TimestampMillis int64   `json:"timestamp"`
}

// Point returns the sample's coordinates.
func (s LocationSample) Point() Point {
	return Point{Latitude: s.Latitude, Longitude: s.Longitude}
}

// TripRecord is an immutable entry in the trip history.
// StartPoint, EndPoint and Route are only set for GPS trips.
type TripRecord struct {
	ID              string           `json:"id"`
	DeviceID        string           `json:"deviceId"`
	CreatedAtMillis int64            `json:"timestamp"`
	Kind            TripKind         `json:"type"`
	DistanceKm      float64          `json:"distance"`
	Fare            float64          `json:"fare"`
	Currency        string           `json:"currency"`
	StartPoint      *Point           `json:"startPoint,omitempty"`
	EndPoint        *Point           `json:"endPoint,omitempty"`
	Route           []LocationSample `json:"route,omitempty"`
}

// TripData is the caller-supplied part of a trip; identity, device and
// creation time are stamped on save.
type TripData struct {
	Kind       TripKind
	DistanceKm float64
	Fare       float64
	Currency   string
	StartPoint *Point
	EndPoint   *Point
	Route      []LocationSample
}

// NewGPSTripData builds trip data from a tracked route. The first and last
// samples become the start and end points.
func NewGPSTripData(distanceKm, fare float64, currency string, route []LocationSample) TripData {
	data := TripData{
		Kind:       TripKindGPS,
		DistanceKm: distanceKm,
		Fare:       fare,
		Currency:   currency,
	}
	if len(route) == 0 {
		return data
	}
	start := route[0].Point()
	end := route[len(route)-1].Point()
	data.StartPoint = &start
	data.EndPoint = &end
	data.Route = append([]LocationSample(nil), route...)
	return data
}

// NewManualTripData builds trip data for a manually entered distance.
func NewManualTripData(distanceKm, fare float64, currency string) TripData {
	return TripData{
		Kind:       TripKindManual,
		DistanceKm: distanceKm,
		Fare:       fare,
		Currency:   currency,
	}
}
