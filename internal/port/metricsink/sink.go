// Package metricsink defines the port for exporting snapshot batches to an
// external time-series store.
package metricsink

import (
	"context"

	"github.com/Strob0t/LaunchLoop/internal/domain/metric"
)

// Sink receives every normalized batch after it has been stored.
type Sink interface {
	WriteSnapshots(ctx context.Context, batch []metric.Snapshot) error
	Close()
}
