package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/LaunchLoop/internal/adapter/triggerfile"
	"github.com/Strob0t/LaunchLoop/internal/domain"
	"github.com/Strob0t/LaunchLoop/internal/domain/condition"
	"github.com/Strob0t/LaunchLoop/internal/domain/event"
	"github.com/Strob0t/LaunchLoop/internal/domain/graph"
	"github.com/Strob0t/LaunchLoop/internal/domain/trigger"
	"github.com/Strob0t/LaunchLoop/internal/port/database"
)

// Reasons recorded when the engine disables a trigger.
const (
	ReasonTargetRetired = "target retired"
	ReasonInvalid       = "invalid definition"
)

// compiledTrigger pairs a definition with its parsed condition.
type compiledTrigger struct {
	def  *trigger.Trigger
	cond *condition.Condition
}

// TriggerService is the trigger registry. Conditions are parsed once when a
// trigger is stored; enabled triggers always carry a parsed condition.
type TriggerService struct {
	store  database.Store
	graphs *GraphStore
	events *EventService
	now    func() time.Time

	// wmu serializes read-modify-write sequences so a firing, an edit and
	// a retire cascade never overwrite each other. mu guards the map.
	wmu      sync.Mutex
	mu       sync.RWMutex
	triggers map[string]*compiledTrigger

	onChange func(ctx context.Context, id string)
}

// NewTriggerService creates the registry and subscribes it to graph
// commits: retiring a node disables every trigger that targets it.
func NewTriggerService(store database.Store, graphs *GraphStore, events *EventService) *TriggerService {
	s := &TriggerService{
		store:    store,
		graphs:   graphs,
		events:   events,
		now:      time.Now,
		triggers: make(map[string]*compiledTrigger),
	}
	graphs.Subscribe(func(ctx context.Context, c Commit) {
		if len(c.Result.RetiredIDs) > 0 {
			s.DisableTargeting(ctx, c.Result.RetiredIDs, ReasonTargetRetired)
		}
	})
	return s
}

// OnChange is called after a trigger is created, enabled or updated.
func (s *TriggerService) OnChange(fn func(ctx context.Context, id string)) { s.onChange = fn }

// Load reads all persisted triggers. Enabled triggers whose condition no
// longer parses are disabled.
func (s *TriggerService) Load(ctx context.Context) error {
	list, err := s.store.ListTriggers(ctx)
	if err != nil {
		return fmt.Errorf("load triggers: %w", err)
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	for i := range list {
		t := list[i]
		cond, verr := t.Validate()
		if verr != nil && t.Enabled {
			t.Enabled = false
			t.DisabledReason = fmt.Sprintf("%s: %v", ReasonInvalid, verr)
			t.UpdatedAt = s.now().UTC()
			if err := s.store.UpsertTrigger(ctx, &t); err != nil {
				return fmt.Errorf("disable trigger %s: %w", t.ID, err)
			}
			s.events.Emit(ctx, event.TypeTriggerDisabled, event.TriggerDisabled{TriggerID: t.ID, Reason: t.DisabledReason})
		}
		s.put(&t, cond)
	}
	slog.Info("triggers loaded", "count", len(list))
	return nil
}

// Create validates and stores a new trigger. Targets must exist in the
// current graph and be live.
func (s *TriggerService) Create(ctx context.Context, t *trigger.Trigger) (*trigger.Trigger, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	s.wmu.Lock()
	if _, err := s.get(t.ID); err == nil {
		s.wmu.Unlock()
		return nil, fmt.Errorf("%w: trigger %s already exists", domain.ErrConflict, t.ID)
	}
	cond, err := s.check(t)
	if err != nil {
		s.wmu.Unlock()
		return nil, err
	}

	now := s.now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	t.DisabledReason = ""
	t.LastFiredAt = nil
	if err := s.store.UpsertTrigger(ctx, t); err != nil {
		s.wmu.Unlock()
		return nil, fmt.Errorf("store trigger: %w", err)
	}
	s.put(t, cond)
	s.wmu.Unlock()
	slog.Info("trigger created", "trigger_id", t.ID, "name", t.Name, "targets", t.TargetIDs)
	s.changed(ctx, t)
	return t.Clone(), nil
}

// Update replaces the definition of an existing trigger, keeping its
// creation time and last firing.
func (s *TriggerService) Update(ctx context.Context, t *trigger.Trigger) (*trigger.Trigger, error) {
	if err := s.update(ctx, t); err != nil {
		return nil, err
	}
	s.changed(ctx, t)
	return t.Clone(), nil
}

func (s *TriggerService) update(ctx context.Context, t *trigger.Trigger) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	cur, err := s.get(t.ID)
	if err != nil {
		return err
	}
	cond, err := s.check(t)
	if err != nil {
		return err
	}
	t.CreatedAt = cur.def.CreatedAt
	t.LastFiredAt = cur.def.Clone().LastFiredAt
	t.UpdatedAt = s.now().UTC()
	t.DisabledReason = ""
	if err := s.store.UpsertTrigger(ctx, t); err != nil {
		return fmt.Errorf("store trigger: %w", err)
	}
	s.put(t, cond)
	return nil
}


// check validates the definition and, for enabled triggers, that every
// target is live.
func (s *TriggerService) check(t *trigger.Trigger) (*condition.Condition, error) {
	cond, err := t.Validate()
	if err != nil {
		return nil, err
	}
	if t.Enabled {
		if err := targetsLive(s.graphs.Read(), t.TargetIDs); err != nil {
			return nil, err
		}
	}
	return cond, nil
}

func targetsLive(g *graph.Graph, ids []string) error {
	for _, id := range ids {
		if !g.Has(id) {
			return fmt.Errorf("%w: target %s does not exist", domain.ErrStaleTarget, id)
		}
		if !g.IsLive(id) {
			return fmt.Errorf("%w: target %s is retired", domain.ErrStaleTarget, id)
		}
	}
	return nil
}

// Get returns a copy of a trigger.
func (s *TriggerService) Get(_ context.Context, id string) (*trigger.Trigger, error) {
	ct, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return ct.def.Clone(), nil
}

func (s *TriggerService) get(id string) (*compiledTrigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ct, ok := s.triggers[id]
	if !ok {
		return nil, fmt.Errorf("%w: trigger %s", domain.ErrNotFound, id)
	}
	return ct, nil
}

// Compiled returns a copy of an enabled trigger with its condition.
func (s *TriggerService) Compiled(id string) (*trigger.Trigger, *condition.Condition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ct, ok := s.triggers[id]
	if !ok || !ct.def.Enabled || ct.cond == nil {
		return nil, nil, false
	}
	return ct.def.Clone(), ct.cond, true
}

// List returns all triggers sorted by id.
func (s *TriggerService) List(_ context.Context) []trigger.Trigger {
	s.mu.RLock()
	out := make([]trigger.Trigger, 0, len(s.triggers))
	for _, ct := range s.triggers {
		out = append(out, *ct.def.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// EnabledIDs returns the ids of enabled triggers, sorted.
func (s *TriggerService) EnabledIDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.triggers))
	for id, ct := range s.triggers {
		if ct.def.Enabled {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Watching returns the enabled triggers that watch one of nodeIDs, either
// directly or through an ancestor target.
func (s *TriggerService) Watching(g *graph.Graph, nodeIDs []string) []string {
	watched := make(map[string]struct{}, len(nodeIDs)*4)
	for _, id := range nodeIDs {
		for cur, depth := id, 0; cur != "" && depth < 5; cur, depth = g.ParentOf(cur), depth+1 {
			watched[cur] = struct{}{}
		}
	}
	s.mu.RLock()
	var ids []string
	for id, ct := range s.triggers {
		if !ct.def.Enabled {
			continue
		}
		for _, target := range ct.def.TargetIDs {
			if _, ok := watched[target]; ok {
				ids = append(ids, id)
				break
			}
		}
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Enable re-enables a trigger after checking its definition and targets.
func (s *TriggerService) Enable(ctx context.Context, id string) (*trigger.Trigger, error) {
	s.wmu.Lock()
	ct, err := s.get(id)
	if err != nil {
		s.wmu.Unlock()
		return nil, err
	}
	t := ct.def.Clone()
	t.Enabled = true
	cond, err := s.check(t)
	if err != nil {
		s.wmu.Unlock()
		return nil, err
	}
	t.DisabledReason = ""
	t.UpdatedAt = s.now().UTC()
	if err := s.store.UpsertTrigger(ctx, t); err != nil {
		s.wmu.Unlock()
		return nil, fmt.Errorf("store trigger: %w", err)
	}
	s.put(t, cond)
	s.wmu.Unlock()
	s.changed(ctx, t)
	return t.Clone(), nil
}

// Disable turns a trigger off with a reason and emits trigger.disabled.
// Disabling a disabled trigger only updates the reason.
func (s *TriggerService) Disable(ctx context.Context, id, reason string) (*trigger.Trigger, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.disable(ctx, id, reason)
}

// disable requires wmu.
func (s *TriggerService) disable(ctx context.Context, id, reason string) (*trigger.Trigger, error) {
	ct, err := s.get(id)
	if err != nil {
		return nil, err
	}
	t := ct.def.Clone()
	wasEnabled := t.Enabled
	t.Enabled = false
	t.DisabledReason = reason
	t.UpdatedAt = s.now().UTC()
	if err := s.store.UpsertTrigger(ctx, t); err != nil {
		return nil, fmt.Errorf("store trigger: %w", err)
	}
	s.put(t, ct.cond)
	if wasEnabled {
		slog.Info("trigger disabled", "trigger_id", id, "reason", reason)
		s.events.Emit(ctx, event.TypeTriggerDisabled, event.TriggerDisabled{TriggerID: id, Reason: reason})
	}
	return t.Clone(), nil
}

// Delete removes a trigger.
func (s *TriggerService) Delete(ctx context.Context, id string) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := s.get(id); err != nil {
		return err
	}
	if err := s.store.DeleteTrigger(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("delete trigger: %w", err)
	}
	s.mu.Lock()
	delete(s.triggers, id)
	s.mu.Unlock()
	slog.Info("trigger deleted", "trigger_id", id)
	return nil
}

// DisableTargeting disables every enabled trigger that targets one of
// nodeIDs and returns their ids.
func (s *TriggerService) DisableTargeting(ctx context.Context, nodeIDs []string, reason string) []string {
	retired := make(map[string]struct{}, len(nodeIDs))
	for _, id := range nodeIDs {
		retired[id] = struct{}{}
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.mu.RLock()
	var hit []string
	for id, ct := range s.triggers {
		if !ct.def.Enabled {
			continue
		}
		for _, target := range ct.def.TargetIDs {
			if _, ok := retired[target]; ok {
				hit = append(hit, id)
				break
			}
		}
	}
	s.mu.RUnlock()
	sort.Strings(hit)

	for _, id := range hit {
		if _, err := s.disable(ctx, id, reason); err != nil {
			slog.Error("disable trigger after retire failed", "trigger_id", id, "error", err)
		}
	}
	return hit
}

// MarkFired records the firing time used for the cooldown.
func (s *TriggerService) MarkFired(ctx context.Context, id string, at time.Time) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	ct, err := s.get(id)
	if err != nil {
		return err
	}
	t := ct.def.Clone()
	fired := at.UTC()
	t.LastFiredAt = &fired
	if err := s.store.UpsertTrigger(ctx, t); err != nil {
		return fmt.Errorf("store trigger: %w", err)
	}
	s.put(t, ct.cond)
	return nil
}

// ApplyFile syncs the triggers defined in one definition file. A file that
// fails to parse as a whole changes nothing. Definitions that fail
// validation are stored disabled with the error as reason, unless they lack
// an id.
func (s *TriggerService) ApplyFile(ctx context.Context, f triggerfile.File) (applied, disabled int) {
	if f.Err != nil {
		slog.Warn("trigger file rejected", "path", f.Path, "error", f.Err)
		return 0, 0
	}
	for i := range f.Triggers {
		t := f.Triggers[i]
		_, err := s.get(t.ID)
		switch {
		case err == nil:
			_, err = s.Update(ctx, &t)
		default:
			_, err = s.Create(ctx, &t)
		}
		if err == nil {
			applied++
			continue
		}
		if t.ID == "" {
			slog.Warn("trigger definition skipped", "path", f.Path, "error", err)
			continue
		}
		slog.Warn("trigger definition invalid, storing disabled", "path", f.Path, "trigger_id", t.ID, "error", err)
		if s.storeInvalid(ctx, &t, err) == nil {
			disabled++
		}
	}
	return applied, disabled
}

func (s *TriggerService) storeInvalid(ctx context.Context, t *trigger.Trigger, cause error) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	now := s.now().UTC()
	if cur, err := s.get(t.ID); err == nil {
		t.CreatedAt = cur.def.CreatedAt
		t.LastFiredAt = cur.def.Clone().LastFiredAt
	} else {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	t.Enabled = false
	t.DisabledReason = fmt.Sprintf("%s: %s", ReasonInvalid, strings.TrimSpace(cause.Error()))
	if err := s.store.UpsertTrigger(ctx, t); err != nil {
		slog.Error("store invalid trigger failed", "trigger_id", t.ID, "error", err)
		return err
	}
	s.put(t, nil)
	s.events.Emit(ctx, event.TypeTriggerDisabled, event.TriggerDisabled{TriggerID: t.ID, Reason: t.DisabledReason})
	return nil
}

// LoadDir applies every definition file in dir.
func (s *TriggerService) LoadDir(ctx context.Context, dir string) error {
	files, err := triggerfile.LoadDir(dir)
	if err != nil {
		return err
	}
	for _, f := range files {
		applied, disabled := s.ApplyFile(ctx, f)
		slog.Info("trigger file applied", "path", f.Path, "applied", applied, "disabled", disabled)
	}
	return nil
}

func (s *TriggerService) put(t *trigger.Trigger, cond *condition.Condition) {
	s.mu.Lock()
	s.triggers[t.ID] = &compiledTrigger{def: t.Clone(), cond: cond}
	s.mu.Unlock()
}

func (s *TriggerService) changed(ctx context.Context, t *trigger.Trigger) {
	if t.Enabled && s.onChange != nil {
		s.onChange(ctx, t.ID)
	}
}
