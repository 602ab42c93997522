package vehicle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/myt-tools/myt/pkg/cache"
)

// Parking fetches the vehicle's last parked position. fresh reports whether
// the payload differed from the previous capture.
func (c *Client) Parking(ctx context.Context) (*Parking, bool, error) {
	headers, err := c.session.Headers(ctx)
	if err != nil {
		return nil, false, err
	}
	body, err := c.get(ctx, c.endpoints.API+"/v1/location", headers)
	if err != nil {
		return nil, false, err
	}
	fresh, err := c.store.StoreIfChanged("parking", body, cache.CompareBytes)
	if err != nil {
		return nil, false, err
	}
	var resp parkingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, false, fmt.Errorf("parse location payload: %w", err)
	}
	return &Parking{
		Latitude:  resp.Payload.VehicleLocation.Latitude,
		Longitude: resp.Payload.VehicleLocation.Longitude,
		Timestamp: resp.Payload.LastTimestamp,
	}, fresh, nil
}

// Telemetry fetches odometer, fuel and battery state, renamed into a stable
// shape.
func (c *Client) Telemetry(ctx context.Context) (*Telemetry, bool, error) {
	headers, err := c.session.Headers(ctx)
	if err != nil {
		return nil, false, err
	}
	body, err := c.get(ctx, c.endpoints.API+"/v3/telemetry", headers)
	if err != nil {
		return nil, false, err
	}
	fresh, err := c.store.StoreIfChanged("odometer", body, cache.CompareBytes)
	if err != nil {
		return nil, false, err
	}
	var resp telemetryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, false, fmt.Errorf("parse telemetry payload: %w", err)
	}
	return &Telemetry{
		Odometer:       resp.Payload.Odometer.Value,
		FuelPercent:    resp.Payload.FuelLevel,
		FuelRange:      resp.Payload.DistanceToEmpty.Value,
		BatteryPercent: resp.Payload.BatteryLevel,
		Timestamp:      resp.Payload.Timestamp,
		ChargingStatus: resp.Payload.ChargingStatus,
	}, fresh, nil
}

// TripOptions select the window and page of a trip listing. Zero-value dates
// default to the past week; a zero limit defaults to 50. The provider caps
// limit at 50 with routes and 1000 without.
type TripOptions struct {
	From    string // inclusive start date, YYYY-MM-DD
	To      string // inclusive end date, YYYY-MM-DD
	Route   bool   // include route location points
	Summary bool   // include summary data
	Limit   int
	Offset  int
}

const dateLayout = "2006-01-02"

func (o TripOptions) query(now time.Time) url.Values {
	to := o.To
	if to == "" {
		to = now.Format(dateLayout)
	}
	from := o.From
	if from == "" {
		from = now.AddDate(0, 0, -7).Format(dateLayout)
	}
	limit := o.Limit
	if limit == 0 {
		limit = 50
	}
	return url.Values{
		"from":    {from},
		"to":      {to},
		"route":   {strconv.FormatBool(o.Route)},
		"summary": {strconv.FormatBool(o.Summary)},
		"limit":   {strconv.Itoa(limit)},
		"offset":  {strconv.Itoa(o.Offset)},
	}
}

// Trips fetches the trip listing for the requested window. The listing is
// snapshotted byte-exact: a new snapshot appears whenever there is a new trip,
// or daily as the window metadata shifts.
func (c *Client) Trips(ctx context.Context, opts TripOptions) (*TripList, bool, error) {
	headers, err := c.session.Headers(ctx)
	if err != nil {
		return nil, false, err
	}
	body, err := c.get(ctx, c.endpoints.API+"/v1/trips?"+opts.query(time.Now()).Encode(), headers)
	if err != nil {
		return nil, false, err
	}
	fresh, err := c.store.StoreIfChanged("trips", body, cache.CompareBytes)
	if err != nil {
		return nil, false, err
	}
	var trips TripList
	if err := json.Unmarshal(body, &trips); err != nil {
		return nil, false, fmt.Errorf("parse trips payload: %w", err)
	}
	return &trips, fresh, nil
}

// Trip fetches the detail for one trip identifier. Trip details are
// content-addressed and immutable: a cached trip is returned without any
// session or network activity, and fresh is true only on the call that
// fetched it.
func (c *Client) Trip(ctx context.Context, id string) (*TripDetail, bool, error) {
	if err := uuid.Validate(id); err != nil {
		return nil, false, fmt.Errorf("trip identifier %q: %w", id, err)
	}
	body, fresh, err := c.store.GetOrFetch("trips", id, func() ([]byte, error) {
		headers, err := c.session.Headers(ctx)
		if err != nil {
			return nil, err
		}
		profileUUID, err := c.session.ProfileUUID(ctx)
		if err != nil {
			return nil, err
		}
		url := fmt.Sprintf("%s/api/user/%s/cms/trips/v2/%s/events/vin/%s", c.endpoints.TripEvents, profileUUID, id, c.vin)
		return c.get(ctx, url, headers)
	})
	if err != nil {
		return nil, false, err
	}
	var detail TripDetail
	if err := json.Unmarshal(body, &detail); err != nil {
		return nil, false, fmt.Errorf("parse trip payload: %w", err)
	}
	return &detail, fresh, nil
}

// RemoteControlStatus fetches the electric remote-control status. The
// provider returns this payload with non-deterministic key order, so the
// snapshot comparison is structural and the stored form is canonicalized.
func (c *Client) RemoteControlStatus(ctx context.Context) (*RemoteStatus, bool, error) {
	headers, err := c.session.Headers(ctx)
	if err != nil {
		return nil, false, err
	}
	body, err := c.get(ctx, c.endpoints.API+"/v1/global/remote/electric/status", headers)
	if err != nil {
		return nil, false, err
	}
	fresh, err := c.store.StoreIfChanged("remote_control", body, cache.CompareStructural)
	if err != nil {
		return nil, false, err
	}
	var resp remoteStatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, false, fmt.Errorf("parse remote control payload: %w", err)
	}
	return &RemoteStatus{
		BatteryLevel:        resp.Payload.BatteryLevel,
		EVRangeWithACKm:     resp.Payload.EVRangeWithAC.Value,
		FuelLevel:           resp.Payload.FuelLevel,
		FuelRangeKm:         resp.Payload.FuelRange.Value,
		ChargingStatus:      resp.Payload.ChargingStatus,
		RemainingChargeTime: resp.Payload.RemainingChargeTime,
		LastUpdateTimestamp: resp.Payload.LastUpdateTimestamp,
	}, fresh, nil
}

// StatisticsOptions select the driving-statistics window. An empty Interval
// yields yearly statistics; the provider accepts day windows up to 60 days
// back and week windows up to 120.
type StatisticsOptions struct {
	From     string // start date, YYYY-MM-DD
	Interval string // "day" or "week"; empty for yearly
	Locale   string // required by the endpoint, defaults to fi-fi
}

// DrivingStatistics fetches aggregated driving statistics. The endpoint uses
// the legacy cookie-based header shape rather than the common set, and its
// payload key order is unstable, so the snapshot comparison is structural.
// The payload is returned as opaque structured data.
func (c *Client) DrivingStatistics(ctx context.Context, opts StatisticsOptions) (json.RawMessage, bool, error) {
	locale := opts.Locale
	if locale == "" {
		locale = "fi-fi"
	}
	headers, err := c.session.StatisticsHeaders(ctx, locale)
	if err != nil {
		return nil, false, err
	}
	params := url.Values{}
	if opts.From != "" {
		params.Set("from", opts.From)
	}
	if opts.Interval != "" {
		params.Set("calendarInterval", opts.Interval)
	}
	body, err := c.get(ctx, c.endpoints.Statistics+"/cma/api/v2/trips/summarize?"+params.Encode(), headers)
	if err != nil {
		return nil, false, err
	}
	fresh, err := c.store.StoreIfChanged("statistics", body, cache.CompareStructural)
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(body), fresh, nil
}
