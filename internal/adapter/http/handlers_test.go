package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/LaunchLoop/internal/adapter/memstore"
	"github.com/Strob0t/LaunchLoop/internal/config"
	"github.com/Strob0t/LaunchLoop/internal/domain/event"
	"github.com/Strob0t/LaunchLoop/internal/domain/proposal"
	"github.com/Strob0t/LaunchLoop/internal/service"
)

const testPlan = `
name: spring launch
phases:
  - id: launch
    label: Launch
    channels:
      - id: x-main
        platform: fake
        campaigns:
          - id: cmp-1
            posts:
              - id: post-1
                title: Announcement
                published_at: 2026-01-01T00:00:00Z
                variants:
                  - id: var-a
                    content: We are live
                    active: true
                  - id: var-b
                    content: We are live (cartoon)
              - id: post-2
                title: Teaser
edges:
  - from: post-2
    to: post-1
`

const lowTrigger = `{
	"id": "trg-low",
	"name": "low engagement",
	"condition": "engagement_rate < 0.015",
	"target_ids": ["post-1"],
	"action": {"kind": "swap_variant", "params": {"variant_id": "var-b"}}
}`

type testAPI struct {
	router chi.Router
	store  *memstore.Store
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	cfg := config.Defaults()
	store := memstore.New(0)
	events := service.NewEventService(nil)
	events.SetEventStore(store)
	engine := service.NewEngine(&cfg, store, events)

	r := chi.NewRouter()
	MountRoutes(r, NewHandlers(engine, store))
	return &testAPI{router: r, store: store}
}

func (a *testAPI) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testAPI) imported(t *testing.T) *testAPI {
	t.Helper()
	if w := a.do(t, http.MethodPost, "/api/v1/plan/import?format=yaml", testPlan); w.Code != http.StatusCreated {
		t.Fatalf("import: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	return a
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(bytes.NewReader(w.Body.Bytes())).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestImportPlanOnlyOnce(t *testing.T) {
	a := newTestAPI(t).imported(t)

	w := a.do(t, http.MethodPost, "/api/v1/plan/import?format=yaml", testPlan)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second import, got %d", w.Code)
	}
	if got := decode[errorResponse](t, w); got.Code != "version_conflict" {
		t.Fatalf("unexpected error code %q", got.Code)
	}
}

func TestGetGraphETag(t *testing.T) {
	a := newTestAPI(t).imported(t)

	w := a.do(t, http.MethodGet, "/api/v1/graph", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if etag := w.Header().Get("ETag"); etag != `"v1"` {
		t.Fatalf("unexpected ETag %q", etag)
	}
	payload := decode[service.GraphPayload](t, w)
	if payload.Version != 1 || payload.Graph == nil || len(payload.Graph.Posts) != 2 {
		t.Fatalf("unexpected payload version=%d", payload.Version)
	}

	w = a.do(t, http.MethodGet, "/api/v1/graph", "", "If-None-Match", `"v1"`)
	if w.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", w.Code)
	}
}

func TestClosedLoopOverHTTP(t *testing.T) {
	a := newTestAPI(t).imported(t)

	if w := a.do(t, http.MethodPost, "/api/v1/triggers", lowTrigger); w.Code != http.StatusCreated {
		t.Fatalf("create trigger: %d %s", w.Code, w.Body.String())
	}

	w := a.do(t, http.MethodPost, "/api/v1/channels/x-main/metrics",
		`{"readings":[{"node_id":"post-1","fields":{"likes":1,"impressions":1000}}]}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("ingest: %d %s", w.Code, w.Body.String())
	}
	if got := decode[ingestResponse](t, w); got.Accepted != 1 {
		t.Fatalf("expected 1 accepted, got %d", got.Accepted)
	}

	w = a.do(t, http.MethodPost, "/api/v1/triggers/trg-low/evaluate", "")
	if got := decode[evaluateResponse](t, w); got.Outcome != service.OutcomeProposed {
		t.Fatalf("expected proposed, got %q", got.Outcome)
	}

	w = a.do(t, http.MethodGet, "/api/v1/proposals?status=pending", "")
	pending := decode[[]proposal.Proposal](t, w)
	if len(pending) != 1 || pending[0].TriggerID != "trg-low" || pending[0].BaseVersion != 1 {
		t.Fatalf("unexpected pending proposals %+v", pending)
	}

	w = a.do(t, http.MethodPost, "/api/v1/proposals/"+pending[0].ID+"/decision", `{"decision":"approve"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("decide: %d %s", w.Code, w.Body.String())
	}
	decided := decode[proposal.Proposal](t, w)
	if decided.Status != proposal.StatusApproved || decided.AppliedVersion != 2 || decided.DecidedBy != "api" {
		t.Fatalf("unexpected decision %+v", decided)
	}

	w = a.do(t, http.MethodGet, "/api/v1/events?type="+string(event.TypeGraphCommitted), "")
	page := decode[event.Page](t, w)
	if len(page.Events) != 2 {
		t.Fatalf("expected bootstrap and swap commits, got %d", len(page.Events))
	}

	w = a.do(t, http.MethodGet, "/api/v1/triggers/trg-low", "")
	view := decode[triggerView](t, w)
	if view.LastFiredAt == nil || view.LastEvaluation == nil || view.LastEvaluation.Result != string(service.OutcomeProposed) {
		t.Fatalf("unexpected trigger view %+v", view)
	}
}

func TestManualMutationExpectedVersion(t *testing.T) {
	a := newTestAPI(t).imported(t)
	body := `{"mutation":{"kind":"swap_variant","swap_variant":{"post_id":"post-1","variant_id":"var-b"}},"expected_version":5}`

	w := a.do(t, http.MethodPost, "/api/v1/graph/mutations", body)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}

	w = a.do(t, http.MethodPost, "/api/v1/graph/mutations", strings.Replace(body, `"expected_version":5`, `"expected_version":1`, 1))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	p := decode[proposal.Proposal](t, w)
	if p.Source != proposal.SourceManual || p.Status != proposal.StatusPending {
		t.Fatalf("unexpected proposal %+v", p)
	}

	w = a.do(t, http.MethodPost, "/api/v1/proposals/"+p.ID+"/cancel", "")
	if got := decode[proposal.Proposal](t, w); got.Reason != proposal.ReasonCancelled {
		t.Fatalf("unexpected cancel result %+v", got)
	}
}

func TestTriggerErrors(t *testing.T) {
	a := newTestAPI(t).imported(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"bad condition", http.MethodPost, "/api/v1/triggers", strings.Replace(lowTrigger, "engagement_rate < 0.015", "engagement_rate <", 1), http.StatusUnprocessableEntity},
		{"unknown field", http.MethodPost, "/api/v1/triggers", `{"nope":1}`, http.StatusBadRequest},
		{"missing trigger", http.MethodGet, "/api/v1/triggers/ghost", "", http.StatusNotFound},
		{"evaluate missing", http.MethodPost, "/api/v1/triggers/ghost/evaluate", "", http.StatusNotFound},
		{"delete missing", http.MethodDelete, "/api/v1/triggers/ghost", "", http.StatusNotFound},
		{"missing proposal", http.MethodGet, "/api/v1/proposals/ghost", "", http.StatusNotFound},
		{"bad status filter", http.MethodGet, "/api/v1/proposals?status=maybe", "", http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/api/v1/proposals?limit=-1", "", http.StatusBadRequest},
		{"empty decision", http.MethodPost, "/api/v1/proposals/ghost/decision", `{}`, http.StatusBadRequest},
		{"missing node", http.MethodGet, "/api/v1/nodes/ghost/metrics", "", http.StatusNotFound},
		{"empty readings", http.MethodPost, "/api/v1/channels/x-main/metrics", `{"readings":[]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := a.do(t, tt.method, tt.path, tt.body)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestTriggerShorthandAndDisable(t *testing.T) {
	a := newTestAPI(t).imported(t)

	w := a.do(t, http.MethodPost, "/api/v1/triggers", `{
		"id": "trg-likes",
		"target_ids": ["post-1"],
		"action": {"kind": "retire_node"},
		"shorthand": {"field": "likes", "text": "less than 5 within 1h"}
	}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	created := decode[triggerView](t, w)
	if created.Condition != "likes < 5 after 1h" || !created.Enabled || created.Name == "" {
		t.Fatalf("unexpected trigger %+v", created.Trigger)
	}

	w = a.do(t, http.MethodPost, "/api/v1/triggers/trg-likes/disable", `{"reason":"paused"}`)
	if got := decode[triggerView](t, w); got.Enabled || got.DisabledReason != "paused" {
		t.Fatalf("unexpected disable result %+v", got.Trigger)
	}
	w = a.do(t, http.MethodPost, "/api/v1/triggers/trg-likes/enable", "")
	if got := decode[triggerView](t, w); !got.Enabled {
		t.Fatal("expected trigger enabled")
	}
	if w := a.do(t, http.MethodDelete, "/api/v1/triggers/trg-likes", ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", w.Code)
	}
}

func TestCheckCondition(t *testing.T) {
	tests := []struct {
		name      string
		req       checkConditionRequest
		wantValid bool
	}{
		{"valid", checkConditionRequest{Condition: "engagement_rate < 0.015 within 2h"}, true},
		{"invalid", checkConditionRequest{Condition: "likes >"}, false},
		{"empty", checkConditionRequest{}, false},
		{"shorthand", checkConditionRequest{Shorthand: &shorthandRequest{Field: "likes", Text: "over 10 within 2h"}}, true},
		{"bad shorthand field", checkConditionRequest{Shorthand: &shorthandRequest{Field: "elapsed", Text: "over 10 within 2h"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := checkCondition(tt.req)
			if got.Valid != tt.wantValid {
				t.Fatalf("valid=%v, want %v (error %q)", got.Valid, tt.wantValid, got.Error)
			}
			if got.Valid && (got.Canonical == "" || len(got.Fields) == 0) {
				t.Fatalf("valid result missing details: %+v", got)
			}
			if !got.Valid && got.Error == "" {
				t.Fatal("invalid result without error")
			}
		})
	}
}

func TestNodeMetricsAndCompare(t *testing.T) {
	a := newTestAPI(t).imported(t)
	a.do(t, http.MethodPost, "/api/v1/channels/x-main/metrics", `{"readings":[
		{"node_id":"post-1","fields":{"likes":50,"impressions":1000}},
		{"node_id":"post-2","fields":{"likes":10,"impressions":1000}}
	]}`)

	w := a.do(t, http.MethodGet, "/api/v1/nodes/post-1/metrics?compare=post-2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[nodeMetricsResponse](t, w)
	if resp.Latest == nil || resp.Latest.Tier != "excellent" || len(resp.History) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Comparison == nil || resp.Comparison.WinnerID != "post-1" {
		t.Fatalf("unexpected comparison %+v", resp.Comparison)
	}

	w = a.do(t, http.MethodGet, "/api/v1/nodes/cmp-1/metrics", "")
	agg := decode[nodeMetricsResponse](t, w)
	if agg.Latest == nil || agg.Latest.Likes != 60 || agg.History != nil {
		t.Fatalf("unexpected aggregate %+v", agg)
	}

	w = a.do(t, http.MethodGet, "/api/v1/channels", "")
	channels := decode[[]channelStatus](t, w)
	if len(channels) != 1 || channels[0].ID != "x-main" || channels[0].IntervalSeconds <= 0 {
		t.Fatalf("unexpected channels %+v", channels)
	}
}
