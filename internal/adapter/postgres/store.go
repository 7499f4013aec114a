package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/LaunchLoop/internal/domain"
	"github.com/Strob0t/LaunchLoop/internal/domain/graph"
	"github.com/Strob0t/LaunchLoop/internal/domain/metric"
	"github.com/Strob0t/LaunchLoop/internal/domain/proposal"
	"github.com/Strob0t/LaunchLoop/internal/domain/trigger"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Graph ---

func (s *Store) LoadGraph(ctx context.Context) (*graph.Graph, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT gs.data FROM graph_head gh JOIN graph_snapshots gs ON gs.version = gh.version WHERE gh.id = 1`).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return graph.New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load graph: %w", err)
	}
	g, err := graph.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("load graph: %w", err)
	}
	return g, nil
}

// SaveGraph moves the head from expectedVersion to g.Version and stores the
// snapshot in the same transaction. Older snapshots are kept as history.
func (s *Store) SaveGraph(ctx context.Context, g *graph.Graph, expectedVersion int64) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save graph: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE graph_head SET version = $1 WHERE id = 1 AND version = $2`, g.Version, expectedVersion)
	if err != nil {
		return fmt.Errorf("save graph v%d: %w", g.Version, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save graph v%d: %w", g.Version, domain.ErrVersionConflict)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO graph_snapshots (version, data, committed_at) VALUES ($1, $2, $3)
		 ON CONFLICT (version) DO UPDATE SET data = EXCLUDED.data, committed_at = EXCLUDED.committed_at`,
		g.Version, data, nullTime(g.UpdatedAt)); err != nil {
		return fmt.Errorf("save graph v%d: %w", g.Version, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("save graph v%d: commit: %w", g.Version, err)
	}
	return nil
}

// --- Triggers ---

const triggerColumns = `id, name, condition, target_ids, action_kind, action_params, cooldown_ms, enabled, disabled_reason, last_fired_at, created_at, updated_at`

func scanTrigger(row scannable) (trigger.Trigger, error) {
	var (
		t        trigger.Trigger
		params   []byte
		cooldown int64
	)
	err := row.Scan(&t.ID, &t.Name, &t.Condition, &t.TargetIDs, &t.Action.Kind, &params,
		&cooldown, &t.Enabled, &t.DisabledReason, &t.LastFiredAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	t.Cooldown = trigger.Duration(time.Duration(cooldown) * time.Millisecond)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &t.Action.Params); err != nil {
			return t, fmt.Errorf("unmarshal action params: %w", err)
		}
	}
	return t, nil
}

func (s *Store) ListTriggers(ctx context.Context) ([]trigger.Trigger, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+triggerColumns+` FROM triggers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	defer rows.Close()

	var out []trigger.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetTrigger(ctx context.Context, id string) (*trigger.Trigger, error) {
	t, err := scanTrigger(s.pool.QueryRow(ctx, `SELECT `+triggerColumns+` FROM triggers WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get trigger %s", id)
	}
	return &t, nil
}

func (s *Store) UpsertTrigger(ctx context.Context, t *trigger.Trigger) error {
	params, err := json.Marshal(t.Action.Params)
	if err != nil {
		return fmt.Errorf("marshal action params: %w", err)
	}
	if t.Action.Params == nil {
		params = []byte("{}")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO triggers (`+triggerColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, now()), COALESCE($12, now()))
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name, condition = EXCLUDED.condition, target_ids = EXCLUDED.target_ids,
		   action_kind = EXCLUDED.action_kind, action_params = EXCLUDED.action_params,
		   cooldown_ms = EXCLUDED.cooldown_ms, enabled = EXCLUDED.enabled,
		   disabled_reason = EXCLUDED.disabled_reason, last_fired_at = EXCLUDED.last_fired_at,
		   updated_at = EXCLUDED.updated_at`,
		t.ID, t.Name, t.Condition, pgTextArray(t.TargetIDs), string(t.Action.Kind), params,
		t.Cooldown.Std().Milliseconds(), t.Enabled, t.DisabledReason, t.LastFiredAt,
		nullTime(t.CreatedAt), nullTime(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert trigger %s: %w", t.ID, err)
	}
	return nil
}

func (s *Store) DeleteTrigger(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM triggers WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete trigger %s", id)
}

// --- Proposals ---

const proposalColumns = `id, trigger_id, source, kind, target_ids, mutation, base_version, status, reason, decided_by, applied_version, created_at, decided_at, expires_at`

func scanProposal(row scannable) (proposal.Proposal, error) {
	var (
		p         proposal.Proposal
		mutation  []byte
		expiresAt *time.Time
	)
	err := row.Scan(&p.ID, &p.TriggerID, &p.Source, &p.Kind, &p.TargetIDs, &mutation, &p.BaseVersion,
		&p.Status, &p.Reason, &p.DecidedBy, &p.AppliedVersion, &p.CreatedAt, &p.DecidedAt, &expiresAt)
	if err != nil {
		return p, err
	}
	if expiresAt != nil {
		p.ExpiresAt = *expiresAt
	}
	if err := json.Unmarshal(mutation, &p.Mutation); err != nil {
		return p, fmt.Errorf("unmarshal mutation: %w", err)
	}
	return p, nil
}

func (s *Store) CreateProposal(ctx context.Context, p *proposal.Proposal) error {
	mutation, err := json.Marshal(p.Mutation)
	if err != nil {
		return fmt.Errorf("marshal mutation: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO proposals (`+proposalColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, p.TriggerID, string(p.Source), string(p.Kind), pgTextArray(p.TargetIDs), mutation, p.BaseVersion,
		string(p.Status), p.Reason, p.DecidedBy, p.AppliedVersion, p.CreatedAt, p.DecidedAt, nullTime(p.ExpiresAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("create proposal %s: %w", p.ID, domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create proposal %s: %w", p.ID, err)
	}
	return nil
}

// UpdateProposal writes the decision fields. The WHERE status = 'pending'
// guard makes concurrent decisions race safely: exactly one wins.
func (s *Store) UpdateProposal(ctx context.Context, p *proposal.Proposal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE proposals SET status = $2, reason = $3, decided_by = $4, applied_version = $5, decided_at = $6
		 WHERE id = $1 AND status = 'pending'`,
		p.ID, string(p.Status), p.Reason, p.DecidedBy, p.AppliedVersion, p.DecidedAt)
	if err != nil {
		return fmt.Errorf("update proposal %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetProposal(ctx, p.ID); err != nil {
			return err
		}
		return fmt.Errorf("update proposal %s: %w", p.ID, domain.ErrConflict)
	}
	return nil
}

func (s *Store) GetProposal(ctx context.Context, id string) (*proposal.Proposal, error) {
	p, err := scanProposal(s.pool.QueryRow(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id::text = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get proposal %s", id)
	}
	return &p, nil
}

func (s *Store) ListProposals(ctx context.Context, filter proposal.Filter) ([]proposal.Proposal, error) {
	var limit any
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+proposalColumns+` FROM proposals
		 WHERE ($1 = '' OR status = $1) AND ($2 = '' OR trigger_id = $2)
		 ORDER BY created_at DESC, id DESC LIMIT $3`,
		string(filter.Status), filter.TriggerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	var out []proposal.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- Snapshots ---

// AppendSnapshots inserts the batch in one round trip. A reading already
// stored for the same node and instant is kept.
func (s *Store) AppendSnapshots(ctx context.Context, batch []metric.Snapshot) error {
	if len(batch) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for i := range batch {
		snap := &batch[i]
		b.Queue(`INSERT INTO metric_snapshots
			(node_id, collected_at, channel_id, platform, likes, impressions, comments, shares, published_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (node_id, collected_at) DO NOTHING`,
			snap.NodeID, snap.CollectedAt, snap.ChannelID, snap.Platform,
			snap.Likes, snap.Impressions, snap.Comments, snap.Shares, snap.PublishedAt)
	}
	if err := s.pool.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("append snapshots: %w", err)
	}
	return nil
}

func (s *Store) SnapshotHistory(ctx context.Context, nodeID string, since time.Time, limit int) ([]metric.Snapshot, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT node_id, collected_at, channel_id, platform, likes, impressions, comments, shares, published_at
		 FROM metric_snapshots WHERE node_id = $1 AND collected_at >= $2
		 ORDER BY collected_at DESC LIMIT $3`,
		nodeID, since, lim)
	if err != nil {
		return nil, fmt.Errorf("snapshot history %s: %w", nodeID, err)
	}
	defer rows.Close()

	var out []metric.Snapshot
	for rows.Next() {
		var snap metric.Snapshot
		if err := rows.Scan(&snap.NodeID, &snap.CollectedAt, &snap.ChannelID, &snap.Platform,
			&snap.Likes, &snap.Impressions, &snap.Comments, &snap.Shares, &snap.PublishedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.CollectedAt = snap.CollectedAt.UTC()
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}
