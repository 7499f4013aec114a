package http

import (
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Strob0t/LaunchLoop/internal/domain/condition"
	"github.com/Strob0t/LaunchLoop/internal/domain/event"
	"github.com/Strob0t/LaunchLoop/internal/domain/graph"
	"github.com/Strob0t/LaunchLoop/internal/domain/metric"
	"github.com/Strob0t/LaunchLoop/internal/domain/proposal"
	"github.com/Strob0t/LaunchLoop/internal/domain/trigger"
	"github.com/Strob0t/LaunchLoop/internal/middleware"
	"github.com/Strob0t/LaunchLoop/internal/port/eventstore"
	"github.com/Strob0t/LaunchLoop/internal/service"
)

const (
	maxBodySize    = 1 << 20
	maxPlanSize    = 4 << 20
	maxIngestSize  = 8 << 20
	maxListLimit   = 1000
	defaultHistory = 100
)

// Handlers holds the HTTP handlers for the LaunchLoop API.
type Handlers struct {
	Graphs    *service.GraphStore
	Proposer  *service.Proposer
	Gate      *service.ApprovalGate
	Triggers  *service.TriggerService
	Evaluator *service.Evaluator
	Snapshots *service.SnapshotStore
	Collector *service.Collector
	Plans     *service.PlanService
	Events    eventstore.Store
}

// NewHandlers binds the handlers to an engine and its event log.
func NewHandlers(e *service.Engine, events eventstore.Store) *Handlers {
	return &Handlers{
		Graphs:    e.Graphs,
		Proposer:  e.Proposer,
		Gate:      e.Gate,
		Triggers:  e.Triggers,
		Evaluator: e.Evaluator,
		Snapshots: e.Snapshots,
		Collector: e.Collector,
		Plans:     e.Plans,
		Events:    events,
	}
}

// --- Graph ---

// GetGraph handles GET /api/v1/graph. The ETag is the graph version.
func (h *Handlers) GetGraph(w http.ResponseWriter, r *http.Request) {
	data, version, err := h.Graphs.Encoded(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	etag := `"v` + strconv.FormatInt(version, 10) + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type proposeMutationRequest struct {
	Mutation        graph.Mutation `json:"mutation"`
	ExpectedVersion *int64         `json:"expected_version,omitempty"`
}

// ProposeMutation handles POST /api/v1/graph/mutations. Manual mutations go
// through the approval gate like trigger proposals.
func (h *Handlers) ProposeMutation(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[proposeMutationRequest](w, r, maxBodySize)
	if !ok {
		return
	}
	p, err := h.Proposer.ProposeManual(r.Context(), req.Mutation, req.ExpectedVersion)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	if err := h.Gate.Submit(r.Context(), p); err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// ImportPlan handles POST /api/v1/plan/import. The body is the raw plan.
func (h *Handlers) ImportPlan(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPlanSize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "plan too large")
		return
	}
	q := r.URL.Query()
	disable, _ := strconv.ParseBool(q.Get("disable_channels"))
	res, err := h.Plans.Import(r.Context(), data, service.ImportOptions{
		Format:          q.Get("format"),
		Platform:        q.Get("platform"),
		DisableChannels: disable,
	})
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// --- Proposals ---

// ListProposals handles GET /api/v1/proposals.
func (h *Handlers) ListProposals(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", 0, maxListLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	filter := proposal.Filter{
		Status:    proposal.Status(r.URL.Query().Get("status")),
		TriggerID: r.URL.Query().Get("trigger_id"),
		Limit:     limit,
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	items, err := h.Gate.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	if items == nil {
		items = []proposal.Proposal{}
	}
	writeJSON(w, http.StatusOK, items)
}

type decisionRequest struct {
	Decision proposal.Decision `json:"decision"`
	Reason   string            `json:"reason,omitempty"`
}

// DecideProposal handles POST /api/v1/proposals/{id}/decision. Deciding a
// proposal that is already resolved returns it unchanged.
func (h *Handlers) DecideProposal(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[decisionRequest](w, r, maxBodySize)
	if !ok {
		return
	}
	if !requireField(w, string(req.Decision), "decision") {
		return
	}
	p, err := h.Gate.Decide(r.Context(), urlParam(r, "id"), req.Decision, middleware.ActorFromContext(r.Context()), req.Reason)
	if err != nil {
		writeDomainError(w, err, "proposal not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// CancelProposal handles POST /api/v1/proposals/{id}/cancel.
func (h *Handlers) CancelProposal(w http.ResponseWriter, r *http.Request) {
	p, err := h.Gate.Cancel(r.Context(), urlParam(r, "id"), middleware.ActorFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, err, "proposal not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- Triggers ---

type shorthandRequest struct {
	Field string `json:"field"`
	Text  string `json:"text"`
}

type triggerRequest struct {
	trigger.Trigger
	Enabled *bool `json:"enabled,omitempty"`
	// Shorthand replaces Condition when set.
	Shorthand *shorthandRequest `json:"shorthand,omitempty"`
}

func (req *triggerRequest) resolve() error {
	req.Trigger.Enabled = req.Enabled == nil || *req.Enabled
	if req.Shorthand == nil {
		return nil
	}
	sh, err := condition.ParseShorthand(req.Shorthand.Field, req.Shorthand.Text)
	if err != nil {
		return err
	}
	req.Condition = sh.Expression()
	if req.Name == "" {
		req.Name = req.Shorthand.Field + " " + strings.TrimSpace(req.Shorthand.Text)
	}
	return nil
}

// triggerView is a trigger with its most recent evaluation.
type triggerView struct {
	trigger.Trigger
	LastEvaluation *trigger.Evaluation `json:"last_evaluation,omitempty"`
}

func (h *Handlers) view(t trigger.Trigger) triggerView {
	v := triggerView{Trigger: t}
	if ev, ok := h.Evaluator.LastEvaluation(t.ID); ok {
		v.LastEvaluation = &ev
	}
	return v
}

// ListTriggers handles GET /api/v1/triggers.
func (h *Handlers) ListTriggers(w http.ResponseWriter, r *http.Request) {
	list := h.Triggers.List(r.Context())
	out := make([]triggerView, 0, len(list))
	for _, t := range list {
		out = append(out, h.view(t))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetTrigger handles GET /api/v1/triggers/{id}.
func (h *Handlers) GetTrigger(w http.ResponseWriter, r *http.Request) {
	t, err := h.Triggers.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "trigger not found")
		return
	}
	writeJSON(w, http.StatusOK, h.view(*t))
}

// CreateTrigger handles POST /api/v1/triggers. New triggers are enabled
// unless the body says otherwise.
func (h *Handlers) CreateTrigger(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[triggerRequest](w, r, maxBodySize)
	if !ok {
		return
	}
	if err := req.resolve(); err != nil {
		writeDomainError(w, err, "")
		return
	}
	t, err := h.Triggers.Create(r.Context(), &req.Trigger)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// UpdateTrigger handles PUT /api/v1/triggers/{id}.
func (h *Handlers) UpdateTrigger(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[triggerRequest](w, r, maxBodySize)
	if !ok {
		return
	}
	if err := req.resolve(); err != nil {
		writeDomainError(w, err, "")
		return
	}
	req.ID = urlParam(r, "id")
	t, err := h.Triggers.Update(r.Context(), &req.Trigger)
	if err != nil {
		writeDomainError(w, err, "trigger not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type disableRequest struct {
	Reason string `json:"reason,omitempty"`
}

// DisableTrigger handles POST /api/v1/triggers/{id}/disable.
func (h *Handlers) DisableTrigger(w http.ResponseWriter, r *http.Request) {
	reason := "disabled by " + middleware.ActorFromContext(r.Context())
	if r.ContentLength > 0 {
		req, ok := readJSON[disableRequest](w, r, maxBodySize)
		if !ok {
			return
		}
		if req.Reason != "" {
			reason = req.Reason
		}
	}
	t, err := h.Triggers.Disable(r.Context(), urlParam(r, "id"), reason)
	if err != nil {
		writeDomainError(w, err, "trigger not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type evaluateResponse struct {
	Outcome    service.Outcome     `json:"outcome"`
	Evaluation *trigger.Evaluation `json:"evaluation,omitempty"`
}

// EvaluateTrigger handles POST /api/v1/triggers/{id}/evaluate and runs one
// evaluation immediately.
func (h *Handlers) EvaluateTrigger(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if _, err := h.Triggers.Get(r.Context(), id); err != nil {
		writeDomainError(w, err, "trigger not found")
		return
	}
	outcome, err := h.Evaluator.Evaluate(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	resp := evaluateResponse{Outcome: outcome}
	if ev, ok := h.Evaluator.LastEvaluation(id); ok {
		resp.Evaluation = &ev
	}
	writeJSON(w, http.StatusOK, resp)
}

// EvaluateAll handles POST /api/v1/triggers/evaluate.
func (h *Handlers) EvaluateAll(w http.ResponseWriter, r *http.Request) {
	out, err := h.Evaluator.EvaluateAll(r.Context())
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// --- Conditions ---

type checkConditionRequest struct {
	Condition string            `json:"condition,omitempty"`
	Shorthand *shorthandRequest `json:"shorthand,omitempty"`
}

type checkConditionResponse struct {
	Valid              bool     `json:"valid"`
	Canonical          string   `json:"canonical,omitempty"`
	Expression         string   `json:"expression,omitempty"`
	Fields             []string `json:"fields,omitempty"`
	MaxLookbackSeconds float64  `json:"max_lookback_seconds,omitempty"`
	Error              string   `json:"error,omitempty"`
}

// CheckCondition handles POST /api/v1/conditions/check. Invalid conditions
// are reported in the body with status 200.
func (h *Handlers) CheckCondition(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[checkConditionRequest](w, r, maxBodySize)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, checkCondition(req))
}

func checkCondition(req checkConditionRequest) checkConditionResponse {
	src := req.Condition
	if req.Shorthand != nil {
		sh, err := condition.ParseShorthand(req.Shorthand.Field, req.Shorthand.Text)
		if err != nil {
			return checkConditionResponse{Error: err.Error()}
		}
		src = sh.Expression()
	}
	if strings.TrimSpace(src) == "" {
		return checkConditionResponse{Error: "condition is required"}
	}
	c, err := condition.Parse(src)
	if err != nil {
		return checkConditionResponse{Expression: src, Error: err.Error()}
	}
	return checkConditionResponse{
		Valid:              true,
		Canonical:          c.String(),
		Expression:         src,
		Fields:             condition.Referenced(c.Root),
		MaxLookbackSeconds: condition.MaxLookback(c.Root),
	}
}

// --- Metrics ---

type snapshotView struct {
	metric.Snapshot
	EngagementRate float64     `json:"engagement_rate"`
	Tier           metric.Tier `json:"tier"`
}

func viewSnapshot(s metric.Snapshot) snapshotView {
	return snapshotView{Snapshot: s, EngagementRate: s.EngagementRate(), Tier: s.Tier()}
}

// LatestMetrics handles GET /api/v1/metrics/latest.
func (h *Handlers) LatestMetrics(w http.ResponseWriter, _ *http.Request) {
	snaps := h.Snapshots.LatestAll()
	out := make([]snapshotView, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, viewSnapshot(s))
	}
	writeJSON(w, http.StatusOK, out)
}

type nodeMetricsResponse struct {
	NodeID     string             `json:"node_id"`
	Latest     *snapshotView      `json:"latest,omitempty"`
	History    []metric.Snapshot  `json:"history,omitempty"`
	Comparison *metric.Comparison `json:"comparison,omitempty"`
}

// NodeMetrics handles GET /api/v1/nodes/{id}/metrics. Non-post nodes
// report the aggregate of the live posts beneath them. ?compare=<id>
// adds an A/B comparison against another node.
func (h *Handlers) NodeMetrics(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	g := h.Graphs.Read()
	if !g.Has(id) {
		writeError(w, http.StatusNotFound, "node not found")
		return
	}
	limit, ok := queryInt(r, "limit", defaultHistory, maxListLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		since = t
	}

	resp := nodeMetricsResponse{NodeID: id}
	snap, _, found := h.Snapshots.ForNode(g, id)
	if found {
		v := viewSnapshot(snap)
		resp.Latest = &v
	}
	if _, isPost := g.Posts[id]; isPost {
		hist, err := h.Snapshots.History(r.Context(), id, since, limit)
		if err != nil {
			writeInternalError(w, err)
			return
		}
		resp.History = hist
	}
	if other := r.URL.Query().Get("compare"); other != "" {
		otherSnap, _, ok := h.Snapshots.ForNode(g, other)
		if !ok || !found {
			writeError(w, http.StatusUnprocessableEntity, "no metrics to compare")
			return
		}
		c := metric.Compare(snap, otherSnap)
		resp.Comparison = &c
	}
	writeJSON(w, http.StatusOK, resp)
}

type ingestRequest struct {
	Readings []metric.Raw `json:"readings"`
}

type ingestResponse struct {
	ChannelID string `json:"channel_id"`
	Accepted  int    `json:"accepted"`
}

// IngestMetrics handles POST /api/v1/channels/{id}/metrics for platforms
// that push readings instead of being polled.
func (h *Handlers) IngestMetrics(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[ingestRequest](w, r, maxIngestSize)
	if !ok {
		return
	}
	if len(req.Readings) == 0 {
		writeError(w, http.StatusBadRequest, "readings is required")
		return
	}
	id := urlParam(r, "id")
	n, err := h.Collector.Ingest(r.Context(), id, req.Readings)
	if err != nil {
		writeDomainError(w, err, "channel not found")
		return
	}
	writeJSON(w, http.StatusAccepted, ingestResponse{ChannelID: id, Accepted: n})
}

// PollChannel handles POST /api/v1/channels/{id}/poll.
func (h *Handlers) PollChannel(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	n, err := h.Collector.Poll(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "channel not found")
		return
	}
	writeJSON(w, http.StatusOK, ingestResponse{ChannelID: id, Accepted: n})
}

type channelStatus struct {
	ID              string `json:"id"`
	Platform        string `json:"platform"`
	Enabled         bool   `json:"enabled"`
	Polling         bool   `json:"polling"`
	IntervalSeconds int64  `json:"interval_seconds"`
	Breaker         string `json:"breaker,omitempty"`
}

// ListChannels handles GET /api/v1/channels with the collector's view of
// each channel.
func (h *Handlers) ListChannels(w http.ResponseWriter, _ *http.Request) {
	g := h.Graphs.Read()
	polling := make(map[string]bool)
	for _, id := range h.Collector.Channels() {
		polling[id] = true
	}
	breakers := h.Collector.Breakers()
	ids := make([]string, 0, len(g.Channels))
	for id := range g.Channels {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]channelStatus, 0, len(ids))
	for _, id := range ids {
		ch := g.Channels[id]
		out = append(out, channelStatus{
			ID:              ch.ID,
			Platform:        ch.Platform,
			Enabled:         ch.Enabled,
			Polling:         polling[ch.ID],
			IntervalSeconds: int64(h.Collector.Interval(ch.ID).Seconds()),
			Breaker:         breakers[ch.ID],
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// --- Events ---

// ListEvents handles GET /api/v1/events, a cursor-paginated view of the
// event log.
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.Events == nil {
		writeError(w, http.StatusNotFound, "event log disabled")
		return
	}
	limit, ok := queryInt(r, "limit", eventstore.DefaultLimit, maxListLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	q := r.URL.Query()
	filter := event.Filter{Type: event.Type(q.Get("type")), Cursor: q.Get("cursor"), Limit: limit}
	if raw := q.Get("after"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after must be RFC 3339")
			return
		}
		filter.After = &t
	}
	page, err := h.Events.ListEvents(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	if page.Events == nil {
		page.Events = []event.Envelope{}
	}
	writeJSON(w, http.StatusOK, page)
}
