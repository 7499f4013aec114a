package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Strob0t/LaunchLoop/internal/adapter/mermaid"
	"github.com/Strob0t/LaunchLoop/internal/domain"
	"github.com/Strob0t/LaunchLoop/internal/domain/plan"
)

// Plan formats accepted by PlanService.Import.
const (
	FormatMermaid = "mermaid"
	FormatYAML    = "yaml"
	FormatJSON    = "json"
)

// ImportOptions tune a plan import.
type ImportOptions struct {
	Format string // empty detects the format
	// Platform and DisableChannels apply to mermaid imports only.
	Platform        string
	DisableChannels bool
}

// ImportResult reports a bootstrap.
type ImportResult struct {
	Version int64       `json:"version"`
	Counts  plan.Counts `json:"counts"`
}

// PlanService bootstraps the graph from an authored plan.
type PlanService struct {
	graphs *GraphStore
	now    func() time.Time
}

// NewPlanService creates a plan importer.
func NewPlanService(graphs *GraphStore) *PlanService {
	return &PlanService{graphs: graphs, now: time.Now}
}

// Import parses data and bootstraps the graph with it. It only succeeds
// while the graph is still at version 0.
func (s *PlanService) Import(ctx context.Context, data []byte, opts ImportOptions) (ImportResult, error) {
	seed, err := s.Parse(data, opts)
	if err != nil {
		return ImportResult{}, err
	}
	g, err := plan.Build(seed, s.now())
	if err != nil {
		return ImportResult{}, err
	}
	res, err := s.graphs.Bootstrap(ctx, g)
	if err != nil {
		return ImportResult{}, err
	}
	counts := seed.Count()
	slog.Info("plan imported", "version", res.Version, "phases", counts.Phases, "posts", counts.Posts)
	return ImportResult{Version: res.Version, Counts: counts}, nil
}

// Parse decodes a plan without importing it.
func (s *PlanService) Parse(data []byte, opts ImportOptions) (*plan.Seed, error) {
	format := opts.Format
	if format == "" {
		format = DetectFormat(data)
	}
	switch format {
	case FormatMermaid:
		return mermaid.Parse(bytes.NewReader(data), mermaid.Options{Platform: opts.Platform, Disabled: opts.DisableChannels})
	case FormatYAML, FormatJSON:
		return plan.Decode(data)
	default:
		return nil, fmt.Errorf("%w: unknown plan format %q", domain.ErrValidation, format)
	}
}

// DetectFormat guesses the plan format from its first meaningful line.
func DetectFormat(data []byte) string {
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "%%") || strings.HasPrefix(line, "#") {
			continue
		}
		switch {
		case strings.HasPrefix(line, "{"):
			return FormatJSON
		case strings.HasPrefix(line, "flowchart"), strings.HasPrefix(line, "graph "), strings.HasPrefix(line, "subgraph"):
			return FormatMermaid
		}
		return FormatYAML
	}
	return FormatYAML
}
