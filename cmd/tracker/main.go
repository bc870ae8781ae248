package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/sloghuman"
	"github.com/joho/godotenv"

	"github.com/taxibcn/reten/internal/location"
	"github.com/taxibcn/reten/internal/tracker"
	"github.com/taxibcn/reten/internal/zones"
)

var (
	geofenceURL  = flag.String("url", envOr("GEOFENCE_URL", "http://localhost:5050/geofence"), "Geofence API base URL (env GEOFENCE_URL)")
	deviceIDFile = flag.String("device-id-file", envOr("DEVICE_ID_FILE", "device-id"), "Where the device handle is kept (env DEVICE_ID_FILE)")
	gpsPort      = flag.String("gps-port", os.Getenv("GPS_PORT"), "Serial port of an NMEA GPS receiver (env GPS_PORT)")
	gpsBaud      = flag.Int("gps-baud", envInt("GPS_BAUD", 9600), "GPS baud rate (env GPS_BAUD)")
	interval     = flag.Duration("interval", envDuration("TRACK_INTERVAL", tracker.DefaultInterval), "Check interval (env TRACK_INTERVAL)")
	lat          = flag.Float64("lat", 0, "Fixed latitude when no GPS is attached")
	lng          = flag.Float64("lng", 0, "Fixed longitude when no GPS is attached")
	verbose      = flag.Bool("v", false, "Debug logging")
)

func main() {
	_ = godotenv.Load(".env.local")
	flag.Parse()

	logger := slog.Make(sloghuman.Sink(os.Stderr)).Named("tracker")
	if *verbose {
		logger = logger.Leveled(slog.LevelDebug)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Fatal(ctx, "tracker failed", slog.Error(err))
	}
}

func run(ctx context.Context, logger slog.Logger) error {
	deviceID, err := tracker.LoadOrCreateDeviceID(*deviceIDFile)
	if err != nil {
		return err
	}

	var locator tracker.LocationProvider
	if *gpsPort != "" {
		port, err := location.OpenSerial(*gpsPort, *gpsBaud)
		if err != nil {
			return fmt.Errorf("open gps %s: %w", *gpsPort, err)
		}
		defer port.Close()

		gps := location.NewGPS(port, logger.Named("gps"), nil)
		go func() {
			if err := gps.Run(ctx); err != nil {
				logger.Error(ctx, "gps stream ended", slog.Error(err))
			}
		}()
		locator = gps
	} else {
		p := zones.Point{Lat: *lat, Lng: *lng}
		if !zones.Barcelona.Contains(p) {
			return fmt.Errorf("no -gps-port and -lat/-lng %v,%v is outside the service area", *lat, *lng)
		}
		locator = location.Static{Point: p}
	}

	tr := tracker.New(deviceID, locator, tracker.NewHTTPGeofence(*geofenceURL), logger,
		tracker.WithInterval(*interval),
	)
	changes, unsubscribe := tr.Subscribe()
	defer unsubscribe()

	if err := tr.Start(ctx); err != nil {
		return err
	}
	defer tr.Stop()

	logger.Info(ctx, "tracking", slog.F("device_id", deviceID), slog.F("url", *geofenceURL))
	if zone, ran := tr.ForceCheck(ctx); ran {
		logger.Info(ctx, "initial check", slog.F("zone", zone))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ch := <-changes:
			logger.Info(ctx, "zone change",
				slog.F("from", ch.From),
				slog.F("to", ch.To),
				slog.F("at", ch.At.Format(time.RFC3339)),
			)
		}
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return def
}
