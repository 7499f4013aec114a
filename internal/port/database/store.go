// Package database defines the storage port (interface).
package database

import (
	"context"
	"time"

	"github.com/Strob0t/LaunchLoop/internal/domain/graph"
	"github.com/Strob0t/LaunchLoop/internal/domain/metric"
	"github.com/Strob0t/LaunchLoop/internal/domain/proposal"
	"github.com/Strob0t/LaunchLoop/internal/domain/trigger"
)

// Store is the port interface for durable engine state.
type Store interface {
	// Graph. LoadGraph returns an empty graph at version 0 when nothing has
	// been saved. SaveGraph fails with domain.ErrVersionConflict unless the
	// stored version equals expectedVersion.
	LoadGraph(ctx context.Context) (*graph.Graph, error)
	SaveGraph(ctx context.Context, g *graph.Graph, expectedVersion int64) error

	// Triggers
	ListTriggers(ctx context.Context) ([]trigger.Trigger, error)
	GetTrigger(ctx context.Context, id string) (*trigger.Trigger, error)
	UpsertTrigger(ctx context.Context, t *trigger.Trigger) error
	DeleteTrigger(ctx context.Context, id string) error

	// Proposals. UpdateProposal only succeeds while the stored proposal is
	// pending; otherwise it fails with domain.ErrConflict.
	CreateProposal(ctx context.Context, p *proposal.Proposal) error
	UpdateProposal(ctx context.Context, p *proposal.Proposal) error
	GetProposal(ctx context.Context, id string) (*proposal.Proposal, error)
	ListProposals(ctx context.Context, filter proposal.Filter) ([]proposal.Proposal, error)

	// Snapshots. History is returned oldest first; limit <= 0 means no limit
	// and otherwise keeps the newest entries.
	AppendSnapshots(ctx context.Context, batch []metric.Snapshot) error
	SnapshotHistory(ctx context.Context, nodeID string, since time.Time, limit int) ([]metric.Snapshot, error)
}
