// Command telemetry-demo exercises the SDK against a running collector:
//
//	COLLECTOR_API_KEY=dev go run ./cmd/collector &
//	TELEMETRY_API_KEY=dev go run ./cmd/telemetry-demo
package main

import (
	"context"
	"log/slog"
	"os"

	telemetry "github.com/pulsekit/telemetry-go"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx := context.Background()

	cfg, err := telemetry.ConfigFromEnv()
	if err != nil {
		log.Error("config", "error", err)
		os.Exit(1)
	}

	client, err := telemetry.New(cfg,
		telemetry.WithLogger(log),
		telemetry.WithErrorHandler(func(err error) {
			log.Warn("telemetry error", "error", err)
		}),
	)
	if err != nil {
		log.Error("new client", "error", err)
		os.Exit(1)
	}
	if err := client.Initialize(ctx); err != nil {
		log.Error("initialize", "error", err)
		os.Exit(1)
	}

	_ = client.TrackPageView(ctx, "https://example.com/pricing", "Pricing", "", nil)
	_ = client.Track(ctx, "signup_started", telemetry.Properties{"plan": "team"})
	_ = client.Identify(ctx, "user-42", telemetry.Properties{"plan": "team"})
	_ = client.TrackClick(ctx, "button", "#checkout", "Buy now", nil)
	_ = client.Track(ctx, "signup_completed", telemetry.Properties{"seats": 5})

	if err := client.Destroy(ctx); err != nil {
		log.Error("destroy", "error", err)
		os.Exit(1)
	}

	report, err := reportFor(ctx, cfg)
	if err != nil {
		log.Error("analytics", "error", err)
		os.Exit(1)
	}
	log.Info("analytics", "totalEvents", report.TotalEvents, "uniqueUsers", report.UniqueUsers)
}

// reportFor fetches aggregates with a throwaway client; the demo's main
// client is already destroyed by the time we read back.
func reportFor(ctx context.Context, cfg telemetry.Config) (*telemetry.AnalyticsReport, error) {
	client, err := telemetry.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := client.Initialize(ctx); err != nil {
		return nil, err
	}
	defer func() { _ = client.Destroy(ctx) }()
	return client.Analytics(ctx, nil, nil)
}
