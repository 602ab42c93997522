package vehicle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jarcoal/httpmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/myt-tools/myt/pkg/cache"
)

const (
	testVIN     = "JTMW1234567890000"
	testAPI     = "https://api.example"
	testTrips   = "https://trips.example"
	testStats   = "https://stats.example"
	testProfile = "profile-id"
)

// stubSession hands out fixed header sets and records how often each was
// requested.
type stubSession struct {
	headerCalls int
	legacyCalls int
}

func (s *stubSession) Headers(ctx context.Context) (http.Header, error) {
	s.headerCalls++
	h := http.Header{}
	h.Set("Authorization", "Bearer test-access")
	h.Set("x-guid", "test-guid")
	return h, nil
}

func (s *stubSession) StatisticsHeaders(ctx context.Context, locale string) (http.Header, error) {
	s.legacyCalls++
	h := http.Header{}
	h.Set("Cookie", "iPlanetDirectoryPro=test-session")
	h.Set("X-TME-LOCALE", locale)
	return h, nil
}

func (s *stubSession) ProfileUUID(ctx context.Context) (string, error) {
	return testProfile, nil
}

var _ = Describe("Client", func() {
	var (
		session *stubSession
		store   *cache.Store
		client  *Client
		ctx     context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		session = &stubSession{}
		var err error
		store, err = cache.NewStore(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())

		httpClient := &http.Client{}
		httpmock.ActivateNonDefault(httpClient)
		DeferCleanup(httpmock.DeactivateAndReset)

		client = NewClient(ClientConfig{
			Session:    session,
			Store:      store,
			VIN:        testVIN,
			Endpoints:  Endpoints{API: testAPI, TripEvents: testTrips, Statistics: testStats},
			HTTPClient: httpClient,
		})
	})

	Describe("Parking", func() {
		const payload = `{"payload":{"vehicleLocation":{"latitude":61.45,"longitude":23.85},"lastTimestamp":"2026-03-14T10:00:00Z"}}`

		It("decodes the position and authenticates the request", func() {
			httpmock.RegisterResponder(http.MethodGet, testAPI+"/v1/location",
				func(req *http.Request) (*http.Response, error) {
					Expect(req.Header.Get("Authorization")).To(Equal("Bearer test-access"))
					return httpmock.NewStringResponse(http.StatusOK, payload), nil
				})

			parking, fresh, err := client.Parking(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(fresh).To(BeTrue())
			Expect(parking.Latitude).To(Equal(61.45))
			Expect(parking.Longitude).To(Equal(23.85))
			Expect(parking.Timestamp).To(Equal("2026-03-14T10:00:00Z"))
		})

		It("reports freshness only when the payload changed", func() {
			moved := `{"payload":{"vehicleLocation":{"latitude":60.17,"longitude":24.94},"lastTimestamp":"2026-03-14T11:00:00Z"}}`
			bodies := []string{payload, payload, moved}
			call := 0
			httpmock.RegisterResponder(http.MethodGet, testAPI+"/v1/location",
				func(*http.Request) (*http.Response, error) {
					body := bodies[call]
					call++
					return httpmock.NewStringResponse(http.StatusOK, body), nil
				})

			_, fresh, err := client.Parking(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(fresh).To(BeTrue(), "first capture")

			_, fresh, err = client.Parking(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(fresh).To(BeFalse(), "identical payload")

			_, fresh, err = client.Parking(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(fresh).To(BeTrue(), "changed payload")
		})

		It("wraps non-success responses in an APIError", func() {
			httpmock.RegisterResponder(http.MethodGet, testAPI+"/v1/location",
				httpmock.NewStringResponder(http.StatusServiceUnavailable, `{"error":"maintenance"}`))

			_, _, err := client.Parking(ctx)
			var apiErr *APIError
			Expect(errors.As(err, &apiErr)).To(BeTrue())
			Expect(apiErr.StatusCode).To(Equal(http.StatusServiceUnavailable))
			Expect(string(apiErr.Body)).To(ContainSubstring("maintenance"))
		})
	})

	Describe("Telemetry", func() {
		It("renames provider fields into the stable shape", func() {
			payload := `{"payload":{"odometer":{"value":43210,"unit":"km"},"fuelLevel":67,"distanceToEmpty":{"value":420,"unit":"km"},"batteryLevel":81,"timestamp":"2026-03-14T10:00:00Z","chargingStatus":"chargeComplete"}}`
			httpmock.RegisterResponder(http.MethodGet, testAPI+"/v3/telemetry",
				httpmock.NewStringResponder(http.StatusOK, payload))

			telemetry, fresh, err := client.Telemetry(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(fresh).To(BeTrue())
			Expect(telemetry.Odometer).To(Equal(43210.0))
			Expect(telemetry.FuelPercent).To(Equal(67.0))
			Expect(telemetry.FuelRange).To(Equal(420.0))
			Expect(telemetry.BatteryPercent).To(Equal(81.0))
			Expect(telemetry.ChargingStatus).To(Equal("chargeComplete"))
		})
	})

	Describe("Trips", func() {
		It("defaults the window to the past week with summaries", func() {
			var query map[string][]string
			httpmock.RegisterResponder(http.MethodGet, testAPI+"/v1/trips",
				func(req *http.Request) (*http.Response, error) {
					query = req.URL.Query()
					return httpmock.NewStringResponse(http.StatusOK, `{"recentTrips":[]}`), nil
				})

			_, _, err := client.Trips(ctx, TripOptions{Summary: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(query["to"]).To(ConsistOf(time.Now().Format("2006-01-02")))
			Expect(query["from"]).To(ConsistOf(time.Now().AddDate(0, 0, -7).Format("2006-01-02")))
			Expect(query["summary"]).To(ConsistOf("true"))
			Expect(query["route"]).To(ConsistOf("false"))
			Expect(query["limit"]).To(ConsistOf("50"))
			Expect(query["offset"]).To(ConsistOf("0"))
		})

		It("lists recent trips", func() {
			payload := `{"recentTrips":[{"tripId":"b4a461b5-6b4b-4bb0-a935-23a0b71af84e","startTimeGmt":"2026-03-13T08:00:00Z","endTimeGmt":"2026-03-13T08:30:00Z","startAddress":"Street 1, Tampere, Finland","endAddress":"Street 2, Tampere, Finland"}]}`
			httpmock.RegisterResponder(http.MethodGet, testAPI+"/v1/trips",
				httpmock.NewStringResponder(http.StatusOK, payload))

			trips, _, err := client.Trips(ctx, TripOptions{Summary: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(trips.RecentTrips).To(HaveLen(1))
			Expect(trips.RecentTrips[0].TripID).To(Equal("b4a461b5-6b4b-4bb0-a935-23a0b71af84e"))
			Expect(trips.RecentTrips[0].StartAddress).To(Equal("Street 1, Tampere, Finland"))
		})
	})

	Describe("Trip", func() {
		const tripID = "b4a461b5-6b4b-4bb0-a935-23a0b71af84e"
		tripURL := fmt.Sprintf("%s/api/user/%s/cms/trips/v2/%s/events/vin/%s", testTrips, testProfile, tripID, testVIN)
		const detail = `{"statistics":{"totalDistanceInKm":12.5,"fuelConsumptionInL":0.8,"averageSpeedInKmph":41.2}}`

		It("fetches an uncached trip exactly once", func() {
			httpmock.RegisterResponder(http.MethodGet, tripURL,
				httpmock.NewStringResponder(http.StatusOK, detail))

			trip, fresh, err := client.Trip(ctx, tripID)
			Expect(err).NotTo(HaveOccurred())
			Expect(fresh).To(BeTrue())
			Expect(trip.Statistics.TotalDistanceKm).To(Equal(12.5))
			Expect(trip.Statistics.FuelConsumptionL).To(Equal(0.8))

			trip, fresh, err = client.Trip(ctx, tripID)
			Expect(err).NotTo(HaveOccurred())
			Expect(fresh).To(BeFalse())
			Expect(trip.Statistics.AverageSpeedKmph).To(Equal(41.2))
			Expect(httpmock.GetTotalCallCount()).To(Equal(1))
		})

		It("serves a cached trip without touching the session", func() {
			httpmock.RegisterResponder(http.MethodGet, tripURL,
				httpmock.NewStringResponder(http.StatusOK, detail))
			_, _, err := client.Trip(ctx, tripID)
			Expect(err).NotTo(HaveOccurred())
			callsAfterFetch := session.headerCalls

			_, fresh, err := client.Trip(ctx, tripID)
			Expect(err).NotTo(HaveOccurred())
			Expect(fresh).To(BeFalse())
			Expect(session.headerCalls).To(Equal(callsAfterFetch), "cached trips need no session")
		})

		It("fetches only the uncached trips of a listing", func() {
			cachedID := "0a11b2c3-0000-0000-0000-000000000001"
			newID := "1b22c3d4-0000-0000-0000-000000000002"
			_, _, err := store.GetOrFetch("trips", cachedID, func() ([]byte, error) {
				return []byte(detail), nil
			})
			Expect(err).NotTo(HaveOccurred())

			newURL := fmt.Sprintf("%s/api/user/%s/cms/trips/v2/%s/events/vin/%s", testTrips, testProfile, newID, testVIN)
			httpmock.RegisterResponder(http.MethodGet, newURL,
				httpmock.NewStringResponder(http.StatusOK, detail))

			_, fresh, err := client.Trip(ctx, cachedID)
			Expect(err).NotTo(HaveOccurred())
			Expect(fresh).To(BeFalse())

			_, fresh, err = client.Trip(ctx, newID)
			Expect(err).NotTo(HaveOccurred())
			Expect(fresh).To(BeTrue())
			Expect(httpmock.GetTotalCallCount()).To(Equal(1), "only the uncached trip is fetched")
		})

		It("rejects identifiers that are not UUIDs", func() {
			_, _, err := client.Trip(ctx, "../../etc/passwd")
			Expect(err).To(HaveOccurred())
			Expect(httpmock.GetTotalCallCount()).To(BeZero())
		})
	})

	Describe("RemoteControlStatus", func() {
		It("treats reordered payloads as unchanged", func() {
			bodies := []string{
				`{"payload":{"batteryLevel":72,"evRangeWithAc":{"value":31},"fuelLevel":50,"fuelRange":{"value":400},"chargingStatus":"charging","remainingChargeTime":90,"lastUpdateTimestamp":"2026-03-14T10:00:00Z"}}`,
				`{"payload":{"chargingStatus":"charging","fuelLevel":50,"batteryLevel":72,"remainingChargeTime":90,"evRangeWithAc":{"value":31},"lastUpdateTimestamp":"2026-03-14T10:00:00Z","fuelRange":{"value":400}}}`,
			}
			call := 0
			httpmock.RegisterResponder(http.MethodGet, testAPI+"/v1/global/remote/electric/status",
				func(*http.Request) (*http.Response, error) {
					body := bodies[call]
					call++
					return httpmock.NewStringResponse(http.StatusOK, body), nil
				})

			status, fresh, err := client.RemoteControlStatus(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(fresh).To(BeTrue())
			Expect(status.BatteryLevel).To(Equal(72.0))
			Expect(status.EVRangeWithACKm).To(Equal(31.0))

			_, fresh, err = client.RemoteControlStatus(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(fresh).To(BeFalse(), "key order must not produce a new snapshot")
		})

		It("estimates the charging completion time", func() {
			status := &RemoteStatus{
				ChargingStatus:      "charging",
				RemainingChargeTime: 90,
				LastUpdateTimestamp: "2026-03-14T10:00:00Z",
			}
			completion, ok := status.ChargingComplete()
			Expect(ok).To(BeTrue())
			Expect(completion).To(Equal(time.Date(2026, 3, 14, 11, 30, 0, 0, time.UTC)))

			status.RemainingChargeTime = RemainingChargeUnknown
			_, ok = status.ChargingComplete()
			Expect(ok).To(BeFalse(), "unknown sentinel yields no estimate")

			status.RemainingChargeTime = 90
			status.ChargingStatus = "chargeComplete"
			_, ok = status.ChargingComplete()
			Expect(ok).To(BeFalse(), "only an active charge has a completion")
		})
	})

	Describe("DrivingStatistics", func() {
		It("uses the legacy header shape and window parameters", func() {
			httpmock.RegisterResponder(http.MethodGet, testStats+"/cma/api/v2/trips/summarize",
				func(req *http.Request) (*http.Response, error) {
					Expect(req.Header.Get("Cookie")).To(Equal("iPlanetDirectoryPro=test-session"))
					Expect(req.Header.Get("X-TME-LOCALE")).To(Equal("fi-fi"))
					Expect(req.URL.Query().Get("from")).To(Equal("2026-03-01"))
					Expect(req.URL.Query().Get("calendarInterval")).To(Equal("day"))
					return httpmock.NewStringResponse(http.StatusOK, `{"summary":[{"year":2026}]}`), nil
				})

			stats, fresh, err := client.DrivingStatistics(ctx, StatisticsOptions{From: "2026-03-01", Interval: "day"})
			Expect(err).NotTo(HaveOccurred())
			Expect(fresh).To(BeTrue())
			Expect(string(stats)).To(ContainSubstring("2026"))
			Expect(session.legacyCalls).To(Equal(1))
			Expect(session.headerCalls).To(BeZero())
		})
	})
})
