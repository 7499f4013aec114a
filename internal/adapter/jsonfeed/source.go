// Package jsonfeed implements a metricsource.Source for platforms bridged
// through a plain JSON endpoint:
//
//	GET {base_url}{external_ref}?ids=a,b
//	{"items":[{"id":"a","published_at":"...","metrics":{"likes":3,"views":120}}]}
//
// Counter names are normalized with metric.DefaultFieldMap plus the
// optional field_map setting ("hearts=likes,plays=impressions").
package jsonfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Strob0t/LaunchLoop/internal/domain"
	"github.com/Strob0t/LaunchLoop/internal/domain/metric"
	"github.com/Strob0t/LaunchLoop/internal/port/metricsource"
)

const platformName = "jsonfeed"

// Source polls a JSON metrics feed.
type Source struct {
	baseURL    string
	token      string
	fieldMap   metric.FieldMap
	httpClient *http.Client
}

// NewSource creates a feed source. extra is merged over the default field map.
func NewSource(baseURL, token string, extra metric.FieldMap) *Source {
	fm := make(metric.FieldMap, len(metric.DefaultFieldMap)+len(extra))
	for k, v := range metric.DefaultFieldMap {
		fm[k] = v
	}
	for k, v := range extra {
		fm[strings.ToLower(k)] = v
	}
	return &Source{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		fieldMap:   fm,
		httpClient: http.DefaultClient,
	}
}

func (s *Source) Name() string { return platformName }

// FieldMap implements metricsource.FieldMapper.
func (s *Source) FieldMap() metric.FieldMap { return s.fieldMap }

type feedItem struct {
	ID          string           `json:"id"`
	PublishedAt *time.Time       `json:"published_at"`
	CollectedAt *time.Time       `json:"collected_at"`
	Metrics     map[string]int64 `json:"metrics"`
}

type feed struct {
	Items []feedItem `json:"items"`
}

// FetchMetrics requests all node ids of the channel in one call.
func (s *Source) FetchMetrics(ctx context.Context, ref metricsource.ChannelRef) ([]metric.Raw, error) {
	byExternal := make(map[string]string, len(ref.Nodes))
	ids := make([]string, 0, len(ref.Nodes))
	for _, n := range ref.Nodes {
		ext := n.ExternalID
		if ext == "" {
			ext = n.NodeID
		}
		byExternal[ext] = n.NodeID
		ids = append(ids, ext)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	path := ref.ExternalRef
	if path == "" {
		path = "/metrics"
	} else if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	reqURL := s.baseURL + path + "?" + url.Values{"ids": {strings.Join(ids, ",")}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req) //nolint:gosec // G704: URL is built from the configured base URL
	if err != nil {
		return nil, fmt.Errorf("%w: feed request: %w", domain.ErrChannelFetch, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", domain.ErrChannelFetch, err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &metricsource.RateLimitError{Err: fmt.Errorf("%w: feed rate limited", domain.ErrChannelFetch)}
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusNotFound:
		return nil, &metricsource.PermanentError{Err: fmt.Errorf("%w: feed %d", domain.ErrChannelFetch, resp.StatusCode)}
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: feed %d: %s", domain.ErrChannelFetch, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var f feed
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("%w: feed parse response: %w", domain.ErrChannelFetch, err)
	}

	out := make([]metric.Raw, 0, len(f.Items))
	for _, it := range f.Items {
		nodeID, ok := byExternal[it.ID]
		if !ok {
			continue
		}
		r := metric.Raw{NodeID: nodeID, ExternalID: it.ID, Fields: it.Metrics, PublishedAt: it.PublishedAt}
		if it.CollectedAt != nil {
			r.CollectedAt = *it.CollectedAt
		}
		out = append(out, r)
	}
	return out, nil
}

// parseFieldMap reads "name=field,name=field".
func parseFieldMap(s string) (metric.FieldMap, error) {
	fm := metric.FieldMap{}
	if strings.TrimSpace(s) == "" {
		return fm, nil
	}
	for _, pair := range strings.Split(s, ",") {
		name, field, ok := strings.Cut(strings.TrimSpace(pair), "=")
		name, field = strings.TrimSpace(name), strings.TrimSpace(field)
		if !ok || name == "" {
			return nil, fmt.Errorf("jsonfeed: bad field_map entry %q", pair)
		}
		switch field {
		case metric.FieldLikes, metric.FieldImpressions, metric.FieldComments, metric.FieldShares:
		default:
			return nil, fmt.Errorf("jsonfeed: field_map target %q is not a metric field", field)
		}
		fm[name] = field
	}
	return fm, nil
}
