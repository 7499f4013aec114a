package messagequeue

import "github.com/Strob0t/LaunchLoop/internal/domain/metric"

// IngestPayload is the schema for metrics.ingest.{channel_id} messages sent
// by webhook bridges for platforms that push their counters.
type IngestPayload struct {
	ChannelID string       `json:"channel_id"`
	Readings  []metric.Raw `json:"readings"`
}
