// Package xapi implements a metricsource.Source for the X API v2 tweet
// lookup endpoint.
package xapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Strob0t/LaunchLoop/internal/domain"
	"github.com/Strob0t/LaunchLoop/internal/domain/metric"
	"github.com/Strob0t/LaunchLoop/internal/port/metricsource"
)

const (
	platformName = "x"

	// maxIDs is the lookup endpoint's limit per request.
	maxIDs = 100
)

// Source polls public (and optionally non-public) tweet metrics.
type Source struct {
	baseURL    string
	token      string
	nonPublic  bool
	httpClient *http.Client
}

// NewSource creates an X API source. nonPublic requests non_public_metrics,
// which needs a user-context token.
func NewSource(baseURL, token string, nonPublic bool) *Source {
	return &Source{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		nonPublic:  nonPublic,
		httpClient: http.DefaultClient,
	}
}

func (s *Source) Name() string { return platformName }

type tweetMetrics struct {
	ImpressionCount int64 `json:"impression_count"`
	LikeCount       int64 `json:"like_count"`
	ReplyCount      int64 `json:"reply_count"`
	RetweetCount    int64 `json:"retweet_count"`
	QuoteCount      int64 `json:"quote_count"`
}

type tweet struct {
	ID               string        `json:"id"`
	CreatedAt        *time.Time    `json:"created_at"`
	PublicMetrics    tweetMetrics  `json:"public_metrics"`
	NonPublicMetrics *tweetMetrics `json:"non_public_metrics"`
}

type lookupResponse struct {
	Data   []tweet `json:"data"`
	Errors []struct {
		ResourceID string `json:"resource_id"`
		Detail     string `json:"detail"`
	} `json:"errors"`
}

// FetchMetrics looks up every node with an external id in batches of 100.
// Tweets the API reports as missing are skipped.
func (s *Source) FetchMetrics(ctx context.Context, ref metricsource.ChannelRef) ([]metric.Raw, error) {
	byExternal := make(map[string]string, len(ref.Nodes))
	ids := make([]string, 0, len(ref.Nodes))
	for _, n := range ref.Nodes {
		if n.ExternalID == "" {
			continue
		}
		byExternal[n.ExternalID] = n.NodeID
		ids = append(ids, n.ExternalID)
	}

	out := make([]metric.Raw, 0, len(ids))
	for start := 0; start < len(ids); start += maxIDs {
		end := min(start+maxIDs, len(ids))
		resp, err := s.lookup(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		for _, tw := range resp.Data {
			nodeID, ok := byExternal[tw.ID]
			if !ok {
				continue
			}
			out = append(out, toRaw(nodeID, tw, now))
		}
	}
	return out, nil
}

func toRaw(nodeID string, tw tweet, now time.Time) metric.Raw {
	m := tw.PublicMetrics
	impressions := m.ImpressionCount
	if tw.NonPublicMetrics != nil && tw.NonPublicMetrics.ImpressionCount > impressions {
		impressions = tw.NonPublicMetrics.ImpressionCount
	}
	return metric.Raw{
		NodeID:     nodeID,
		ExternalID: tw.ID,
		Fields: map[string]int64{
			"like_count":       m.LikeCount,
			"reply_count":      m.ReplyCount,
			"retweet_count":    m.RetweetCount,
			"quote_count":      m.QuoteCount,
			"impression_count": impressions,
		},
		CollectedAt: now,
		PublishedAt: tw.CreatedAt,
	}
}

func (s *Source) lookup(ctx context.Context, ids []string) (*lookupResponse, error) {
	fields := "public_metrics,created_at"
	if s.nonPublic {
		fields += ",non_public_metrics"
	}
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("tweet.fields", fields)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/2/tweets?"+q.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.httpClient.Do(req) //nolint:gosec // G704: URL is built from the configured base URL
	if err != nil {
		return nil, fmt.Errorf("%w: x api request: %w", domain.ErrChannelFetch, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", domain.ErrChannelFetch, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &metricsource.RateLimitError{
			Err:        fmt.Errorf("%w: x api rate limited", domain.ErrChannelFetch),
			RetryAfter: retryAfter(resp.Header, time.Now()),
		}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &metricsource.PermanentError{
			Err: fmt.Errorf("%w: x api %d: %s", domain.ErrChannelFetch, resp.StatusCode, strings.TrimSpace(string(body))),
		}
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: x api %d: %s", domain.ErrChannelFetch, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out lookupResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: x api parse response: %w", domain.ErrChannelFetch, err)
	}
	if len(out.Data) == 0 && len(out.Errors) > 0 && len(out.Errors) == len(ids) {
		return nil, &metricsource.PermanentError{
			Err: fmt.Errorf("%w: x api: %s", domain.ErrChannelFetch, out.Errors[0].Detail),
		}
	}
	return &out, nil
}

// retryAfter reads Retry-After (seconds) or x-rate-limit-reset (unix time).
func retryAfter(h http.Header, now time.Time) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if v := h.Get("x-rate-limit-reset"); v != "" {
		if reset, err := strconv.ParseInt(v, 10, 64); err == nil {
			if d := time.Unix(reset, 0).Sub(now); d > 0 {
				return d
			}
		}
	}
	return 0
}

var errNoToken = errors.New("xapi: bearer_token is required")
