// Package metric defines normalized engagement snapshots and the values
// derived from them.
package metric

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Strob0t/LaunchLoop/internal/domain"
)

// Schema field names. These are the only metric fields conditions may
// reference besides the derived ones.
const (
	FieldLikes       = "likes"
	FieldImpressions = "impressions"
	FieldComments    = "comments"
	FieldShares      = "shares"
)

// Snapshot is a point-in-time reading for one node. Snapshots are never
// mutated once stored; a newer one supersedes them.
type Snapshot struct {
	NodeID      string     `json:"node_id"`
	ChannelID   string     `json:"channel_id"`
	Platform    string     `json:"platform"`
	Likes       int64      `json:"likes"`
	Impressions int64      `json:"impressions"`
	Comments    int64      `json:"comments"`
	Shares      int64      `json:"shares"`
	CollectedAt time.Time  `json:"collected_at"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Stale       bool       `json:"stale"`
}

// EngagementRate returns (likes + comments + shares) / impressions, or 0
// when there are no impressions yet.
func (s Snapshot) EngagementRate() float64 {
	if s.Impressions <= 0 {
		return 0
	}
	return float64(s.Likes+s.Comments+s.Shares) / float64(s.Impressions)
}

// Engagements returns likes + comments + shares.
func (s Snapshot) Engagements() int64 {
	return s.Likes + s.Comments + s.Shares
}

// Field returns a schema counter by name.
func (s Snapshot) Field(name string) (int64, bool) {
	switch name {
	case FieldLikes:
		return s.Likes, true
	case FieldImpressions:
		return s.Impressions, true
	case FieldComments:
		return s.Comments, true
	case FieldShares:
		return s.Shares, true
	}
	return 0, false
}

// IsStaleAt reports whether the snapshot is older than factor × interval.
func (s Snapshot) IsStaleAt(now time.Time, interval time.Duration, factor int) bool {
	if interval <= 0 || factor < 1 {
		return false
	}
	return now.Sub(s.CollectedAt) > time.Duration(factor)*interval
}

// Raw is one platform reading before normalization. Fields is keyed by the
// platform's own counter names.
type Raw struct {
	NodeID      string           `json:"node_id"`
	ExternalID  string           `json:"external_id,omitempty"`
	Fields      map[string]int64 `json:"fields"`
	CollectedAt time.Time        `json:"collected_at"`
	PublishedAt *time.Time       `json:"published_at,omitempty"`
}

// FieldMap maps platform counter names to schema fields.
type FieldMap map[string]string

// DefaultFieldMap covers the counter names used by the supported platforms.
// X API v2 reports like_count/retweet_count/reply_count/quote_count/
// impression_count; Instagram-style feeds report reshares and views.
var DefaultFieldMap = FieldMap{
	"likes":            FieldLikes,
	"like_count":       FieldLikes,
	"favorites":        FieldLikes,
	"favorite_count":   FieldLikes,
	"upvotes":          FieldLikes,
	"impressions":      FieldImpressions,
	"impression_count": FieldImpressions,
	"views":            FieldImpressions,
	"view_count":       FieldImpressions,
	"comments":         FieldComments,
	"comment_count":    FieldComments,
	"replies":          FieldComments,
	"reply_count":      FieldComments,
	"shares":           FieldShares,
	"share_count":      FieldShares,
	"retweets":         FieldShares,
	"retweet_count":    FieldShares,
	"quote_count":      FieldShares,
	"reshares":         FieldShares,
	"reposts":          FieldShares,
}

// Normalize converts raw platform readings into snapshots. Counters mapping
// to the same schema field are summed; unknown counters are ignored. A zero
// CollectedAt is replaced by now.
func Normalize(channelID, platform string, raws []Raw, fm FieldMap, now time.Time) ([]Snapshot, error) {
	if fm == nil {
		fm = DefaultFieldMap
	}
	out := make([]Snapshot, 0, len(raws))
	for i, r := range raws {
		if r.NodeID == "" {
			return nil, fmt.Errorf("%w: reading %d has no node_id", domain.ErrValidation, i)
		}
		s := Snapshot{
			NodeID:      r.NodeID,
			ChannelID:   channelID,
			Platform:    platform,
			CollectedAt: r.CollectedAt.UTC(),
			PublishedAt: r.PublishedAt,
		}
		if r.CollectedAt.IsZero() {
			s.CollectedAt = now.UTC()
		}
		for name, v := range r.Fields {
			field, ok := fm[strings.ToLower(name)]
			if !ok {
				continue
			}
			if v < 0 {
				return nil, fmt.Errorf("%w: node %s counter %s is negative", domain.ErrValidation, r.NodeID, name)
			}
			switch field {
			case FieldLikes:
				s.Likes += v
			case FieldImpressions:
				s.Impressions += v
			case FieldComments:
				s.Comments += v
			case FieldShares:
				s.Shares += v
			}
		}
		out = append(out, s)
	}
	return out, nil
}

// Aggregate sums the counters of several snapshots under nodeID. The result
// carries the oldest CollectedAt so freshness is never overstated, and the
// earliest PublishedAt.
func Aggregate(nodeID string, snaps []Snapshot) (Snapshot, bool) {
	if len(snaps) == 0 {
		return Snapshot{}, false
	}
	agg := Snapshot{NodeID: nodeID, ChannelID: snaps[0].ChannelID, Platform: snaps[0].Platform}
	for i, s := range snaps {
		agg.Likes += s.Likes
		agg.Impressions += s.Impressions
		agg.Comments += s.Comments
		agg.Shares += s.Shares
		if i == 0 || s.CollectedAt.Before(agg.CollectedAt) {
			agg.CollectedAt = s.CollectedAt
		}
		if s.PublishedAt != nil && (agg.PublishedAt == nil || s.PublishedAt.Before(*agg.PublishedAt)) {
			t := *s.PublishedAt
			agg.PublishedAt = &t
		}
		agg.Stale = agg.Stale || s.Stale
		if s.ChannelID != agg.ChannelID {
			agg.ChannelID = ""
		}
		if s.Platform != agg.Platform {
			agg.Platform = ""
		}
	}
	return agg, true
}

// SortByCollectedAt orders snapshots oldest first, breaking ties by node id.
func SortByCollectedAt(snaps []Snapshot) {
	sort.SliceStable(snaps, func(i, j int) bool {
		if snaps[i].CollectedAt.Equal(snaps[j].CollectedAt) {
			return snaps[i].NodeID < snaps[j].NodeID
		}
		return snaps[i].CollectedAt.Before(snaps[j].CollectedAt)
	})
}
