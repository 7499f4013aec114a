package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	llotel "github.com/Strob0t/LaunchLoop/internal/adapter/otel"
	"github.com/Strob0t/LaunchLoop/internal/config"
	"github.com/Strob0t/LaunchLoop/internal/domain"
	"github.com/Strob0t/LaunchLoop/internal/domain/condition"
	"github.com/Strob0t/LaunchLoop/internal/domain/graph"
	"github.com/Strob0t/LaunchLoop/internal/domain/metric"
	"github.com/Strob0t/LaunchLoop/internal/domain/trigger"
	"github.com/Strob0t/LaunchLoop/internal/logger"
)

// Outcome is the result of one trigger evaluation.
type Outcome string

const (
	OutcomeProposed  Outcome = "proposed"
	OutcomeFalse     Outcome = "false"
	OutcomeUnknown   Outcome = "unknown"
	OutcomeCooldown  Outcome = "cooldown"
	OutcomePending   Outcome = "pending"
	OutcomeDisabled  Outcome = "disabled"
	OutcomeRequeued  Outcome = "requeued"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeDiscarded Outcome = "discarded"
)

// Evaluator checks trigger conditions against the latest snapshots and
// hands fired triggers to the proposer. Evaluations of the same trigger,
// or of triggers sharing a target, never overlap.
type Evaluator struct {
	triggers *TriggerService
	graphs   *GraphStore
	snaps    *SnapshotStore
	proposer *Proposer
	gate     *ApprovalGate
	metrics  *llotel.Metrics
	now      func() time.Time

	workers      int
	requeueDelay time.Duration
	queue        chan string

	qmu    sync.Mutex
	queued map[string]struct{}
	root   context.Context

	locks keyedMutex

	emu  sync.RWMutex
	last map[string]trigger.Evaluation
}

// NewEvaluator creates an evaluator. Start must be called before queued
// work is processed; Evaluate and EvaluateAll work without it.
func NewEvaluator(cfg config.Evaluator, triggers *TriggerService, graphs *GraphStore, snaps *SnapshotStore, proposer *Proposer, gate *ApprovalGate) *Evaluator {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	size := cfg.QueueSize
	if size < 1 {
		size = 256
	}
	return &Evaluator{
		triggers:     triggers,
		graphs:       graphs,
		snaps:        snaps,
		proposer:     proposer,
		gate:         gate,
		now:          time.Now,
		workers:      workers,
		requeueDelay: cfg.RequeueDelay,
		queue:        make(chan string, size),
		queued:       make(map[string]struct{}),
		locks:        keyedMutex{locks: make(map[string]*refMutex)},
		last:         make(map[string]trigger.Evaluation),
	}
}

// SetMetrics records evaluation outcomes.
func (e *Evaluator) SetMetrics(m *llotel.Metrics) { e.metrics = m }

// Start runs the worker pool until ctx ends. Every graph commit queues all
// enabled triggers.
func (e *Evaluator) Start(ctx context.Context) {
	e.qmu.Lock()
	e.root = ctx
	e.qmu.Unlock()

	unsubscribe := e.graphs.Subscribe(func(context.Context, Commit) { e.EnqueueAll() })
	for range e.workers {
		go e.work(ctx)
	}
	go func() {
		<-ctx.Done()
		unsubscribe()
	}()
	e.EnqueueAll()
}

func (e *Evaluator) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-e.queue:
			e.qmu.Lock()
			delete(e.queued, id)
			e.qmu.Unlock()
			if _, err := e.Evaluate(ctx, id); err != nil && ctx.Err() == nil {
				slog.Error("trigger evaluation failed", "trigger_id", id, "error", err)
			}
		}
	}
}

// Enqueue schedules one evaluation. A trigger already waiting in the queue
// is not queued twice; a full queue drops the request.
func (e *Evaluator) Enqueue(id string) {
	e.qmu.Lock()
	defer e.qmu.Unlock()
	if _, ok := e.queued[id]; ok {
		return
	}
	select {
	case e.queue <- id:
		e.queued[id] = struct{}{}
	default:
		slog.Warn("evaluation queue full, request dropped", "trigger_id", id)
	}
}

// EnqueueAll schedules every enabled trigger.
func (e *Evaluator) EnqueueAll() {
	for _, id := range e.triggers.EnabledIDs() {
		e.Enqueue(id)
	}
}

// OnBatch schedules the triggers watching the nodes of a snapshot batch.
func (e *Evaluator) OnBatch(_ context.Context, batch []metric.Snapshot) {
	ids := make([]string, 0, len(batch))
	for _, s := range batch {
		ids = append(ids, s.NodeID)
	}
	for _, id := range e.triggers.Watching(e.graphs.Read(), ids) {
		e.Enqueue(id)
	}
}

// Request schedules a trigger, or all of them when triggerID is empty.
func (e *Evaluator) Request(_ context.Context, triggerID, reason string) {
	slog.Debug("reevaluation requested", "trigger_id", triggerID, "reason", reason)
	if triggerID == "" {
		e.EnqueueAll()
		return
	}
	e.Enqueue(triggerID)
}

func (e *Evaluator) requeueLater(id string) {
	e.qmu.Lock()
	root := e.root
	e.qmu.Unlock()
	if root == nil {
		return
	}
	time.AfterFunc(e.requeueDelay, func() {
		if root.Err() == nil {
			e.Enqueue(id)
		}
	})
}

// LastEvaluation returns the most recent evaluation of a trigger.
func (e *Evaluator) LastEvaluation(id string) (trigger.Evaluation, bool) {
	e.emu.RLock()
	defer e.emu.RUnlock()
	ev, ok := e.last[id]
	return ev, ok
}

// EvaluateAll evaluates every enabled trigger once and returns the outcome
// per trigger.
func (e *Evaluator) EvaluateAll(ctx context.Context) (map[string]Outcome, error) {
	ids := e.triggers.EnabledIDs()
	out := make(map[string]Outcome, len(ids))
	var mu sync.Mutex

	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(e.workers)
	for _, id := range ids {
		eg.Go(func() error {
			o, err := e.Evaluate(ectx, id)
			if err != nil {
				return err
			}
			mu.Lock()
			out[id] = o
			mu.Unlock()
			return nil
		})
	}
	err := eg.Wait()
	return out, err
}

// Evaluate checks one trigger against the current graph snapshot. Targets
// are tried in order; the first whose condition is true fires. Missing,
// stale or undecidable metrics never fire.
func (e *Evaluator) Evaluate(ctx context.Context, id string) (Outcome, error) {
	t, _, ok := e.triggers.Compiled(id)
	if !ok {
		return OutcomeDisabled, nil
	}
	keys := make([]string, 0, len(t.TargetIDs)+1)
	keys = append(keys, "trigger:"+id)
	for _, target := range t.TargetIDs {
		keys = append(keys, "node:"+target)
	}
	unlock := e.locks.Lock(keys...)
	defer unlock()

	// Re-read under the lock; the trigger may have changed meanwhile.
	t, cond, ok := e.triggers.Compiled(id)
	if !ok {
		return OutcomeDisabled, nil
	}

	g := e.graphs.Read()
	ctx = logger.WithTriggerID(ctx, id)
	ctx, span := llotel.StartEvaluationSpan(ctx, id, g.Version)
	defer span.End()
	start := e.now()

	firedOn, outcome, err := e.evaluate(ctx, t, cond, g)
	e.metrics.Evaluated(ctx, string(outcome), e.now().Sub(start).Seconds())
	e.emu.Lock()
	e.last[id] = trigger.Evaluation{
		TriggerID:    id,
		TargetID:     firedOn,
		GraphVersion: g.Version,
		Result:       string(outcome),
		At:           start.UTC(),
	}
	e.emu.Unlock()
	if err != nil {
		span.RecordError(err)
	}
	return outcome, err
}

func (e *Evaluator) evaluate(ctx context.Context, t *trigger.Trigger, cond *condition.Condition, g *graph.Graph) (string, Outcome, error) {
	now := e.now()
	if t.InCooldown(now) {
		return "", OutcomeCooldown, nil
	}
	if e.gate.HasPending(t.ID) {
		return "", OutcomePending, nil
	}

	outcome := OutcomeUnknown
	firedOn := ""
	for _, target := range t.TargetIDs {
		if !g.IsLive(target) {
			continue
		}
		snap, history, ok := e.snaps.ForNode(g, target)
		if !ok || snap.Stale {
			continue
		}
		env := condition.SnapshotEnv{Current: snap, History: history, Now: now}
		if post, ok := g.Posts[target]; ok && post.PublishedAt != nil {
			env.PublishedAt = post.PublishedAt
		}
		switch cond.Eval(env) {
		case condition.True:
			firedOn = target
		case condition.False:
			outcome = OutcomeFalse
		}
		if firedOn != "" {
			break
		}
	}
	if firedOn == "" {
		return "", outcome, nil
	}

	p, err := e.proposer.Propose(ctx, t, firedOn, g)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrStaleTarget):
		slog.Info("proposal target stale, requeued", "trigger_id", t.ID, "target_id", firedOn, "error", err)
		e.requeueLater(t.ID)
		return firedOn, OutcomeRequeued, nil
	case errors.Is(err, domain.ErrInvalidTrigger), errors.Is(err, domain.ErrInvalidCondition), errors.Is(err, domain.ErrValidation):
		if _, derr := e.triggers.Disable(ctx, t.ID, ReasonInvalid+": "+err.Error()); derr != nil {
			return firedOn, OutcomeDisabled, derr
		}
		return firedOn, OutcomeDisabled, nil
	case errors.Is(err, domain.ErrPrecondition):
		slog.Info("proposal precondition not met, skipped", "trigger_id", t.ID, "target_id", firedOn, "error", err)
		return firedOn, OutcomeSkipped, nil
	default:
		return firedOn, OutcomeSkipped, err
	}

	// A commit between evaluation and submission invalidates the result.
	if e.graphs.Version() != g.Version {
		e.Enqueue(t.ID)
		return firedOn, OutcomeDiscarded, nil
	}
	if err := e.gate.Submit(ctx, p); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return firedOn, OutcomePending, nil
		}
		return firedOn, OutcomeSkipped, err
	}
	return firedOn, OutcomeProposed, nil
}

// keyedMutex hands out one mutex per key. Lock acquires several keys in
// sorted order so overlapping key sets cannot deadlock.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(keys ...string) (unlock func()) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	uniq := sorted[:0]
	for _, key := range sorted {
		if len(uniq) == 0 || key != uniq[len(uniq)-1] {
			uniq = append(uniq, key)
		}
	}

	held := make([]*refMutex, 0, len(uniq))
	for _, key := range uniq {
		k.mu.Lock()
		m, ok := k.locks[key]
		if !ok {
			m = &refMutex{}
			k.locks[key] = m
		}
		m.refs++
		k.mu.Unlock()
		m.Lock()
		held = append(held, m)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
			k.mu.Lock()
			held[i].refs--
			if held[i].refs == 0 {
				delete(k.locks, uniq[i])
			}
			k.mu.Unlock()
		}
	}
}
