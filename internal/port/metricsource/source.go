// Package metricsource defines the port for platform metric adapters.
package metricsource

import (
	"context"
	"time"

	"github.com/Strob0t/LaunchLoop/internal/domain/metric"
)

// NodeRef maps a graph node to the platform's id for it.
type NodeRef struct {
	NodeID     string `json:"node_id"`
	ExternalID string `json:"external_id"`
}

// ChannelRef is everything an adapter needs to poll one channel.
type ChannelRef struct {
	ChannelID   string    `json:"channel_id"`
	Platform    string    `json:"platform"`
	ExternalRef string    `json:"external_ref,omitempty"`
	Nodes       []NodeRef `json:"nodes"`
}

// Source fetches raw counters for the nodes of a channel. Errors should
// wrap domain.ErrChannelFetch; errors that retrying cannot fix (bad
// credentials, unknown account) are additionally wrapped in *PermanentError.
type Source interface {
	// Name returns the platform name the source is registered under.
	Name() string

	// FetchMetrics returns one reading per node the platform knows about.
	FetchMetrics(ctx context.Context, ref ChannelRef) ([]metric.Raw, error)
}

// FieldMapper is implemented by sources whose counter names are not covered
// by metric.DefaultFieldMap.
type FieldMapper interface {
	FieldMap() metric.FieldMap
}

// PermanentError marks a fetch failure that will not heal by retrying.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// RateLimitError reports that the platform asked the caller to back off.
// RetryAfter is zero when the platform gave no hint.
type RateLimitError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string { return e.Err.Error() }
func (e *RateLimitError) Unwrap() error { return e.Err }
