package vehicle

import "time"

// measurement is the provider's unit-tagged scalar wrapper.
type measurement struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

type parkingResponse struct {
	Payload struct {
		VehicleLocation struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"vehicleLocation"`
		LastTimestamp string `json:"lastTimestamp"`
	} `json:"payload"`
}

// Parking is the vehicle's last recorded position, captured when the vehicle
// is powered off.
type Parking struct {
	Latitude  float64
	Longitude float64
	Timestamp string
}

type telemetryResponse struct {
	Payload struct {
		Odometer        measurement `json:"odometer"`
		FuelLevel       float64     `json:"fuelLevel"`
		DistanceToEmpty measurement `json:"distanceToEmpty"`
		BatteryLevel    float64     `json:"batteryLevel"`
		Timestamp       string      `json:"timestamp"`
		ChargingStatus  string      `json:"chargingStatus"`
	} `json:"payload"`
}

// Telemetry is the odometer payload renamed into a stable shape, decoupling
// callers from the provider's raw field names.
type Telemetry struct {
	Odometer       float64
	FuelPercent    float64
	FuelRange      float64
	BatteryPercent float64
	Timestamp      string
	ChargingStatus string
}

// TripSummary is one entry of a trip listing. Addresses may be absent.
type TripSummary struct {
	TripID       string `json:"tripId"`
	StartTimeGMT string `json:"startTimeGmt"`
	EndTimeGMT   string `json:"endTimeGmt"`
	StartAddress string `json:"startAddress,omitempty"`
	EndAddress   string `json:"endAddress,omitempty"`
}

// TripList is a page of recent trips.
type TripList struct {
	RecentTrips []TripSummary `json:"recentTrips"`
}

// TripStatistics summarizes one trip.
type TripStatistics struct {
	TotalDistanceKm   float64 `json:"totalDistanceInKm"`
	FuelConsumptionL  float64 `json:"fuelConsumptionInL"`
	AverageSpeedKmph  float64 `json:"averageSpeedInKmph"`
}

// TripDetail is the event-level record of a single trip.
type TripDetail struct {
	Statistics TripStatistics `json:"statistics"`
}

type remoteStatusResponse struct {
	Payload struct {
		BatteryLevel        float64     `json:"batteryLevel"`
		EVRangeWithAC       measurement `json:"evRangeWithAc"`
		FuelLevel           float64     `json:"fuelLevel"`
		FuelRange           measurement `json:"fuelRange"`
		ChargingStatus      string      `json:"chargingStatus"`
		RemainingChargeTime int         `json:"remainingChargeTime"`
		LastUpdateTimestamp string      `json:"lastUpdateTimestamp"`
	} `json:"payload"`
}

// RemainingChargeUnknown is the provider's sentinel for "plugged in but no
// completion estimate".
const RemainingChargeUnknown = 65535

// RemoteStatus is the remote-control (electric) status payload.
type RemoteStatus struct {
	BatteryLevel        float64
	EVRangeWithACKm     float64
	FuelLevel           float64
	FuelRangeKm         float64
	ChargingStatus      string
	RemainingChargeTime int
	LastUpdateTimestamp string
}

// ChargingComplete estimates when charging finishes, counting the remaining
// minutes from the payload's acquisition timestamp. ok is false when the
// vehicle is not charging or the estimate is the unknown sentinel.
func (s *RemoteStatus) ChargingComplete() (completion time.Time, ok bool) {
	if s.ChargingStatus != "charging" || s.RemainingChargeTime == RemainingChargeUnknown {
		return time.Time{}, false
	}
	acquired, err := time.Parse(time.RFC3339, s.LastUpdateTimestamp)
	if err != nil {
		return time.Time{}, false
	}
	return acquired.Add(time.Duration(s.RemainingChargeTime) * time.Minute), true
}
