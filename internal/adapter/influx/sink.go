// Package influx implements the metricsink port on InfluxDB 2.x. Every
// snapshot becomes one point of the "engagement" measurement.
package influx

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/Strob0t/LaunchLoop/internal/config"
	"github.com/Strob0t/LaunchLoop/internal/domain/metric"
)

// Measurement is the measurement name written for snapshots.
const Measurement = "engagement"

// Sink writes snapshots with the blocking write API so a failed batch is
// reported to the collector instead of being retried in the background.
type Sink struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
}

// New connects to InfluxDB and checks its health.
func New(ctx context.Context, cfg config.Influx) (*Sink, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	health, err := client.Health(hctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influx health: %w", err)
	}
	slog.Info("influx connected", "url", cfg.URL, "bucket", cfg.Bucket, "status", health.Status)

	return &Sink{client: client, write: client.WriteAPIBlocking(cfg.Org, cfg.Bucket)}, nil
}

// NewWithWriter builds a sink around an existing write API.
func NewWithWriter(w api.WriteAPIBlocking) *Sink {
	return &Sink{write: w}
}

// Point converts a snapshot into an engagement point.
func Point(s metric.Snapshot) *write.Point {
	return influxdb2.NewPoint(
		Measurement,
		map[string]string{
			"node_id":    s.NodeID,
			"channel_id": s.ChannelID,
			"platform":   s.Platform,
		},
		map[string]any{
			"likes":           s.Likes,
			"impressions":     s.Impressions,
			"comments":        s.Comments,
			"shares":          s.Shares,
			"engagement_rate": s.EngagementRate(),
		},
		s.CollectedAt,
	)
}

// WriteSnapshots writes the batch in one request.
func (s *Sink) WriteSnapshots(ctx context.Context, batch []metric.Snapshot) error {
	if len(batch) == 0 {
		return nil
	}
	points := make([]*write.Point, 0, len(batch))
	for _, snap := range batch {
		points = append(points, Point(snap))
	}
	if err := s.write.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("influx write %d points: %w", len(points), err)
	}
	return nil
}

// Close releases the client.
func (s *Sink) Close() {
	if s.client != nil {
		s.client.Close()
	}
}
