package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	llotel "github.com/Strob0t/LaunchLoop/internal/adapter/otel"
	"github.com/Strob0t/LaunchLoop/internal/adapter/triggerfile"
	"github.com/Strob0t/LaunchLoop/internal/config"
	"github.com/Strob0t/LaunchLoop/internal/domain/event"
	"github.com/Strob0t/LaunchLoop/internal/port/database"
	"github.com/Strob0t/LaunchLoop/internal/port/messagequeue"
)

const triggerFileDebounce = 500 * time.Millisecond

// Engine wires the closed loop: collector → snapshots → evaluator →
// proposer → approval gate → graph store, with commits flowing back to the
// collector, the trigger registry and the evaluator.
type Engine struct {
	Events    *EventService
	Graphs    *GraphStore
	Snapshots *SnapshotStore
	Collector *Collector
	Triggers  *TriggerService
	Proposer  *Proposer
	Gate      *ApprovalGate
	Evaluator *Evaluator
	Plans     *PlanService

	cfg     *config.Config
	queue   messagequeue.Queue
	watcher *triggerfile.Watcher
	cancels []func()
}

// NewEngine builds all services on top of store. events may carry a hub,
// queue and event log already.
func NewEngine(cfg *config.Config, store database.Store, events *EventService) *Engine {
	graphs := NewGraphStore(store, events)
	snaps := NewSnapshotStore(store, cfg.Collector.HistoryLimit, cfg.Collector.StaleFactor)
	collector := NewCollector(cfg, graphs, snaps, events)
	snaps.SetIntervalFunc(collector.Interval)
	triggers := NewTriggerService(store, graphs, events)
	proposer := NewProposer(graphs, cfg.Approval.Timeout)
	gate := NewApprovalGate(store, graphs, triggers, events)
	evaluator := NewEvaluator(cfg.Evaluator, triggers, graphs, snaps, proposer, gate)

	collector.OnBatch(evaluator.OnBatch)
	gate.OnReevaluate(evaluator.Request)
	triggers.OnChange(func(_ context.Context, id string) { evaluator.Enqueue(id) })
	graphs.Subscribe(func(_ context.Context, c Commit) {
		if len(c.Result.RetiredIDs) > 0 {
			snaps.Forget(c.Result.RetiredIDs)
		}
	})

	return &Engine{
		Events:    events,
		Graphs:    graphs,
		Snapshots: snaps,
		Collector: collector,
		Triggers:  triggers,
		Proposer:  proposer,
		Gate:      gate,
		Evaluator: evaluator,
		Plans:     NewPlanService(graphs),
		cfg:       cfg,
	}
}

// SetMetrics attaches OTEL instruments to every service.
func (e *Engine) SetMetrics(m *llotel.Metrics) {
	e.Graphs.SetMetrics(m)
	e.Collector.SetMetrics(m)
	e.Gate.SetMetrics(m)
	e.Evaluator.SetMetrics(m)
}

// SetQueue enables the NATS ingest and reevaluation subscriptions.
func (e *Engine) SetQueue(q messagequeue.Queue) { e.queue = q }

// Load restores persisted state: graph, triggers, pending proposals and
// recent snapshot history.
func (e *Engine) Load(ctx context.Context) error {
	if err := e.Graphs.Load(ctx); err != nil {
		return err
	}
	if err := e.Triggers.Load(ctx); err != nil {
		return err
	}
	if err := e.Gate.Load(ctx); err != nil {
		return err
	}
	g := e.Graphs.Read()
	ids := make([]string, 0, len(g.Posts))
	for id := range g.Posts {
		ids = append(ids, id)
	}
	return e.Snapshots.Warm(ctx, ids)
}

// Start runs the background loops until ctx ends or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	if dir := e.cfg.Triggers.Dir; dir != "" {
		if err := e.Triggers.LoadDir(ctx, dir); err != nil {
			return fmt.Errorf("load trigger files: %w", err)
		}
		if e.cfg.Triggers.Watch {
			w, err := triggerfile.NewWatcher(dir, triggerFileDebounce, func(ctx context.Context, f triggerfile.File) {
				applied, disabled := e.Triggers.ApplyFile(ctx, f)
				slog.Info("trigger file reloaded", "path", f.Path, "applied", applied, "disabled", disabled)
			})
			if err != nil {
				return fmt.Errorf("watch trigger files: %w", err)
			}
			w.Start(ctx)
			e.watcher = w
		}
	}

	if e.queue != nil {
		if err := e.subscribe(ctx); err != nil {
			return err
		}
	}

	e.Evaluator.Start(ctx)
	e.Collector.Start(ctx)
	e.Gate.StartSweeper(ctx, e.cfg.Approval.SweepInterval)
	slog.Info("engine started",
		"graph_version", e.Graphs.Version(),
		"triggers", len(e.Triggers.EnabledIDs()),
		"channels", len(e.Collector.Channels()),
	)
	return nil
}

func (e *Engine) subscribe(ctx context.Context) error {
	cancel, err := e.queue.Subscribe(ctx, messagequeue.SubjectMetricsIngest+".*", func(ctx context.Context, subject string, data []byte) error {
		var p messagequeue.IngestPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		channelID := p.ChannelID
		if channelID == "" {
			channelID = strings.TrimPrefix(subject, messagequeue.SubjectMetricsIngest+".")
		}
		n, err := e.Collector.Ingest(ctx, channelID, p.Readings)
		if err != nil {
			return err
		}
		slog.Debug("pushed metrics ingested", "channel_id", channelID, "accepted", n)
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscribe metrics ingest: %w", err)
	}
	e.cancels = append(e.cancels, cancel)

	cancel, err = e.queue.Subscribe(ctx, messagequeue.SubjectReevaluate, func(ctx context.Context, _ string, data []byte) error {
		var p event.Reevaluate
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		e.Evaluator.Request(ctx, p.TriggerID, p.Reason)
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscribe reevaluate: %w", err)
	}
	e.cancels = append(e.cancels, cancel)
	return nil
}

// Stop halts the collector workers, the trigger file watcher and the queue
// subscriptions. Callers cancel the Start context for the rest.
func (e *Engine) Stop() {
	for _, cancel := range e.cancels {
		cancel()
	}
	e.cancels = nil
	if e.watcher != nil {
		e.watcher.Stop()
	}
	e.Collector.Stop()
}
