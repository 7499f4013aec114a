// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (optimistic locking)
// on a stored record other than the plan graph.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates malformed input. Wrap it with the offending detail:
// fmt.Errorf("%w: name is required", domain.ErrValidation).
var ErrValidation = errors.New("validation failed")

// ErrVersionConflict indicates the plan graph advanced past the version a
// mutation was computed against. Recoverable by re-reading and re-evaluating.
var ErrVersionConflict = errors.New("version conflict: graph has advanced")

// ErrStaleTarget indicates a proposal references a node that no longer exists
// or has been retired.
var ErrStaleTarget = errors.New("stale target")

// ErrInvalidTrigger indicates a malformed trigger definition.
var ErrInvalidTrigger = errors.New("invalid trigger")

// ErrInvalidCondition indicates a condition expression that does not parse or
// does not type-check against the metric schema.
var ErrInvalidCondition = errors.New("invalid condition")

// ErrChannelFetch indicates a transient failure fetching platform metrics.
var ErrChannelFetch = errors.New("channel fetch failure")

// ErrPrecondition indicates a mutation whose preconditions do not hold
// against the graph it was applied to (cycle, second active variant, ...).
var ErrPrecondition = errors.New("precondition failed")
