// Fetches the vehicle's parked position, telemetry and recent trips, prints
// a report, and optionally feeds the derived scalars to InfluxDB.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/myt-tools/myt/pkg/auth"
	"github.com/myt-tools/myt/pkg/cache"
	"github.com/myt-tools/myt/pkg/cli"
	"github.com/myt-tools/myt/pkg/metrics"
	"github.com/myt-tools/myt/pkg/vehicle"
)

const localTimeLayout = "2006-01-02 15:04:05"

func main() {
	status := 1
	defer func() {
		os.Exit(status)
	}()

	cfg := cli.NewConfig()
	cfg.RegisterCommandLineFlags()
	debug := flag.Bool("debug", false, "Enable debug logging.")
	from := flag.String("from", "", "Trip window start `date` (YYYY-MM-DD). Defaults to a week ago.")
	to := flag.String("to", "", "Trip window end `date` (YYYY-MM-DD). Defaults to today.")
	limit := flag.Int("limit", 50, "Maximum `number` of trips to list.")
	offset := flag.Int("offset", 0, "Trip listing `offset` for paging.")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [OPTION...]\n", os.Args[0])
		fmt.Fprintf(flag.CommandLine.Output(), "\nPrints a vehicle status and trip report.\n\nOptions:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := newLogger(*debug)
	defer logger.Sync()

	if err := cfg.LoadFile(); err != nil {
		logger.Error("failed to load configuration", zap.Error(err))
		return
	}
	cfg.ReadFromEnvironment()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return
	}
	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Error("invalid timezone", zap.String("timezone", cfg.Timezone), zap.Error(err))
		return
	}
	password, err := cfg.ResolvePassword()
	if err != nil {
		logger.Error("failed to resolve account password", zap.Error(err))
		return
	}

	store, err := cache.NewStore(cfg.CacheDir)
	if err != nil {
		logger.Error("failed to open snapshot cache", zap.Error(err))
		return
	}
	manager := auth.NewManager(auth.Config{
		Username:    cfg.Username,
		Password:    password,
		VIN:         cfg.VIN,
		Credentials: &auth.CredentialFile{Path: filepath.Join(cfg.CacheDir, "user_data.json")},
		Logger:      logger,
	})
	client := vehicle.NewClient(vehicle.ClientConfig{
		Session: manager,
		Store:   store,
		VIN:     cfg.VIN,
		Logger:  logger,
	})
	var sink *metrics.Sink
	if cfg.UseInfluxDB {
		sink = metrics.NewSink(cfg.InfluxDBURL, logger)
	}

	ctx := context.Background()

	parking, _, err := client.Parking(ctx)
	if err != nil {
		logger.Error("failed to fetch parking position", zap.Error(err))
		return
	}
	fmt.Printf("Car was parked at %v %v at %s\n",
		parking.Latitude, parking.Longitude, localTime(parking.Timestamp, location))

	// A telemetry failure must not block the rest of the report.
	telemetry, fresh, err := client.Telemetry(ctx)
	if err != nil {
		var apiErr *vehicle.APIError
		if !errors.As(err, &apiErr) {
			logger.Error("failed to fetch telemetry", zap.Error(err))
			return
		}
		logger.Warn("telemetry unavailable", zap.Int("status", apiErr.StatusCode))
		fmt.Println("Didn't get odometer information!")
	} else {
		fmt.Printf("Odometer %v km, fuel level %v%%\n", telemetry.Odometer, telemetry.FuelPercent)
		if fresh && sink != nil {
			sink.Write(ctx, "odometer", telemetry.Odometer)
			sink.Write(ctx, "fuel_level", telemetry.FuelPercent)
		}
	}

	if cfg.UseRemoteControl {
		reportRemoteControl(ctx, client, sink, location, logger)
	}

	if err := reportTrips(ctx, client, sink, location, logger, vehicle.TripOptions{
		From:    *from,
		To:      *to,
		Summary: true,
		Limit:   *limit,
		Offset:  *offset,
	}); err != nil {
		return
	}

	status = 0
}

func newLogger(debug bool) *zap.Logger {
	var logger *zap.Logger
	var err error
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return logger
}

func reportRemoteControl(ctx context.Context, client *vehicle.Client, sink *metrics.Sink, location *time.Location, logger *zap.Logger) {
	remote, fresh, err := client.RemoteControlStatus(ctx)
	if err != nil {
		logger.Warn("remote control status unavailable", zap.Error(err))
		return
	}
	fmt.Printf("Battery level %v%%, EV range %v km\n", remote.BatteryLevel, remote.EVRangeWithACKm)
	fmt.Printf("Fuel level %v%%, fuel range %v km\n", remote.FuelLevel, remote.FuelRangeKm)
	fmt.Printf("Status as of %s\n", localTime(remote.LastUpdateTimestamp, location))
	if remote.ChargingStatus == "charging" {
		if completion, ok := remote.ChargingComplete(); ok {
			fmt.Printf("Charging complete at %s\n", completion.In(location).Format(localTimeLayout))
		} else {
			fmt.Println("Pulling power from the plug but not really charging")
		}
	}
	if fresh && sink != nil {
		sink.Write(ctx, "battery_level", remote.BatteryLevel)
		sink.Write(ctx, "ev_range", remote.EVRangeWithACKm)
		sink.Write(ctx, "fuel_range", remote.FuelRangeKm)
	}
}

func reportTrips(ctx context.Context, client *vehicle.Client, sink *metrics.Sink, location *time.Location, logger *zap.Logger, opts vehicle.TripOptions) error {
	trips, _, err := client.Trips(ctx, opts)
	if err != nil {
		logger.Error("failed to fetch trip listing", zap.Error(err))
		return err
	}

	var totalKm, totalLiters float64
	freshTrips := 0
	for _, summary := range trips.RecentTrips {
		detail, fresh, err := client.Trip(ctx, summary.TripID)
		if err != nil {
			logger.Warn("failed to fetch trip detail", zap.String("trip", summary.TripID), zap.Error(err))
			continue
		}
		if fresh {
			freshTrips++
		}
		stats := detail.Statistics
		average := 0.0
		if stats.TotalDistanceKm > 0 {
			average = stats.FuelConsumptionL / stats.TotalDistanceKm * 100
		}
		totalKm += stats.TotalDistanceKm
		totalLiters += stats.FuelConsumptionL
		fmt.Printf("%s %s -> %s %s: %v km, %v km/h, %.2f l/100 km, %.2f l\n",
			localTime(summary.StartTimeGMT, location), trimCountry(summary.StartAddress),
			localTime(summary.EndTimeGMT, location), trimCountry(summary.EndAddress),
			stats.TotalDistanceKm, stats.AverageSpeedKmph, average, stats.FuelConsumptionL)
		if fresh && sink != nil {
			sink.Write(ctx, "trip_kilometers", stats.TotalDistanceKm)
			sink.Write(ctx, "trip_liters", stats.FuelConsumptionL)
			sink.Write(ctx, "trip_average_consumption", average)
		}
	}
	fmt.Printf("Total %.1f km, %.2f l\n", totalKm, totalLiters)
	if freshTrips > 0 && totalKm > 0 && sink != nil {
		sink.Write(ctx, "short_term_average_consumption", totalLiters/totalKm*100)
	}
	return nil
}

// localTime renders a provider timestamp in the configured timezone, falling
// back to the raw string when it does not parse.
func localTime(timestamp string, location *time.Location) string {
	parsed, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return timestamp
	}
	return parsed.In(location).Format(localTimeLayout)
}

// trimCountry drops the trailing country component from a provider address,
// keeping street and city.
func trimCountry(address string) string {
	if address == "" {
		return "Unknown"
	}
	parts := strings.Split(address, ",")
	if len(parts) <= 2 {
		return strings.TrimSpace(address)
	}
	return strings.TrimSpace(parts[0]) + ", " + strings.TrimSpace(parts[1])
}
