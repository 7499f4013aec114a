// Package trigger defines trigger definitions: a condition over metrics of
// one or more target nodes, and the mutation template to propose when it
// holds.
package trigger

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Strob0t/LaunchLoop/internal/domain"
	"github.com/Strob0t/LaunchLoop/internal/domain/condition"
	"github.com/Strob0t/LaunchLoop/internal/domain/graph"
)

// TargetPlaceholder in an action param is replaced by the id of the target
// whose condition fired.
const TargetPlaceholder = "$target"

// Action is a mutation template. Params are literal node ids, entity
// fields, or TargetPlaceholder.
type Action struct {
	Kind   graph.MutationKind `json:"kind" yaml:"kind" validate:"required,mutation_kind"`
	Params map[string]string  `json:"params,omitempty" yaml:"params,omitempty"`
}

// Resolve returns a copy of Params with every TargetPlaceholder replaced
// by targetID.
func (a Action) Resolve(targetID string) map[string]string {
	out := make(map[string]string, len(a.Params))
	for k, v := range a.Params {
		out[k] = strings.ReplaceAll(v, TargetPlaceholder, targetID)
	}
	return out
}

// Trigger watches its targets and proposes Action when Condition holds.
type Trigger struct {
	ID             string     `json:"id" yaml:"id"`
	Name           string     `json:"name" yaml:"name" validate:"required,max=200"`
	Condition      string     `json:"condition" yaml:"condition" validate:"required,max=2000"`
	TargetIDs      []string   `json:"target_ids" yaml:"target_ids" validate:"required,min=1,max=100,dive,required"`
	Action         Action     `json:"action" yaml:"action"`
	Cooldown       Duration   `json:"cooldown" yaml:"cooldown" validate:"gte=0"`
	Enabled        bool       `json:"enabled" yaml:"enabled"`
	DisabledReason string     `json:"disabled_reason,omitempty" yaml:"-"`
	LastFiredAt    *time.Time `json:"last_fired_at,omitempty" yaml:"-"`
	CreatedAt      time.Time  `json:"created_at" yaml:"-"`
	UpdatedAt      time.Time  `json:"updated_at" yaml:"-"`
}

// Targets reports whether id is one of the trigger's targets.
func (t *Trigger) Targets(id string) bool {
	for _, tid := range t.TargetIDs {
		if tid == id {
			return true
		}
	}
	return false
}

// CooldownEnds returns when the trigger may fire again; zero if it never fired.
func (t *Trigger) CooldownEnds() time.Time {
	if t.LastFiredAt == nil {
		return time.Time{}
	}
	return t.LastFiredAt.Add(t.Cooldown.Std())
}

// InCooldown reports whether now is before the end of the cooldown.
func (t *Trigger) InCooldown(now time.Time) bool {
	if t.LastFiredAt == nil || t.Cooldown <= 0 {
		return false
	}
	return now.Before(t.CooldownEnds())
}

// Clone returns a deep copy.
func (t *Trigger) Clone() *Trigger {
	c := *t
	c.TargetIDs = append([]string(nil), t.TargetIDs...)
	if t.Action.Params != nil {
		c.Action.Params = make(map[string]string, len(t.Action.Params))
		for k, v := range t.Action.Params {
			c.Action.Params[k] = v
		}
	}
	if t.LastFiredAt != nil {
		lf := *t.LastFiredAt
		c.LastFiredAt = &lf
	}
	return &c
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("mutation_kind", func(fl validator.FieldLevel) bool {
		return graph.MutationKind(fl.Field().String()).Valid()
	})
	return v
}

// required params per action kind; "$target" is the default for the
// params listed in targetDefaults.
var requiredParams = map[graph.MutationKind][]string{
	graph.MutationSwapVariant: {"variant_id"},
	graph.MutationSpawnNode:   {"node_kind"},
	graph.MutationRerouteEdge: {"to", "new_to"},
	graph.MutationRetireNode:  {},
}

// TargetDefaults names, per kind, the param that defaults to the firing
// target when omitted.
var TargetDefaults = map[graph.MutationKind]string{
	graph.MutationSwapVariant: "post_id",
	graph.MutationSpawnNode:   "parent_id",
	graph.MutationRerouteEdge: "from",
	graph.MutationRetireNode:  "node_id",
}

// Validate checks the definition and parses its condition. Structural
// problems wrap domain.ErrInvalidTrigger; condition problems wrap
// domain.ErrInvalidCondition.
func (t *Trigger) Validate() (*condition.Condition, error) {
	if err := validate.Struct(t); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidTrigger, describe(err))
	}
	seen := make(map[string]struct{}, len(t.TargetIDs))
	for _, id := range t.TargetIDs {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: duplicate target %q", domain.ErrInvalidTrigger, id)
		}
		seen[id] = struct{}{}
	}
	for _, p := range requiredParams[t.Action.Kind] {
		if t.Action.Params[p] == "" {
			return nil, fmt.Errorf("%w: %s action requires param %q", domain.ErrInvalidTrigger, t.Action.Kind, p)
		}
	}
	if t.Action.Kind == graph.MutationSpawnNode {
		switch graph.NodeKind(t.Action.Params["node_kind"]) {
		case graph.KindChannel, graph.KindCampaign, graph.KindPost, graph.KindVariant:
		default:
			return nil, fmt.Errorf("%w: spawn_node cannot create %q nodes", domain.ErrInvalidTrigger, t.Action.Params["node_kind"])
		}
	}
	return condition.Parse(t.Condition)
}

func describe(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := strings.ToLower(strings.TrimPrefix(e.Namespace(), "Trigger."))
		switch e.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "mutation_kind":
			msgs = append(msgs, fmt.Sprintf("%s %q is not a known mutation kind", field, e.Value()))
		case "min", "max", "gte":
			msgs = append(msgs, fmt.Sprintf("%s fails %s=%s", field, e.Tag(), e.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s fails %s", field, e.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

// Evaluation records one condition check of a trigger against a target.
type Evaluation struct {
	TriggerID    string    `json:"trigger_id"`
	TargetID     string    `json:"target_id"`
	GraphVersion int64     `json:"graph_version"`
	Result       string    `json:"result"`
	At           time.Time `json:"at"`
}
