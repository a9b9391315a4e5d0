package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// Repository provides data access methods over the pgx pool.
type Repository struct {
	db *DB
}

// NewRepository creates a new repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check.
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// GetDB returns the underlying DB instance.
func (r *Repository) GetDB() *DB {
	return r.db
}

// ============================================================================
// TRADERS
// ============================================================================

// UpsertTrader creates a trader on first sight or updates its segment /
// positionShow flag, recording the last-change timestamp when the flag
// actually changes (spec.md §3 Trader staleness classification).
func (r *Repository) UpsertTrader(ctx context.Context, id, displayName, avatarURL string, positionShow *bool) (*Trader, error) {
	existing, err := r.GetTrader(ctx, id)
	if err != nil && err != ErrNotFound {
		return nil, err
	}

	segment := SegmentUnknown
	if positionShow != nil {
		if *positionShow {
			segment = SegmentVisible
		} else {
			segment = SegmentHidden
		}
	}

	changedAt := (*time.Time)(nil)
	now := time.Now()
	if existing == nil {
		if positionShow != nil {
			changedAt = &now
		}
	} else if !boolPtrEqual(existing.PositionShow, positionShow) {
		changedAt = &now
	} else {
		changedAt = existing.PositionShowChangedAt
	}

	query := `
		INSERT INTO traders (id, display_name, avatar_url, segment, position_show, position_show_changed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			avatar_url = EXCLUDED.avatar_url,
			segment = EXCLUDED.segment,
			position_show = EXCLUDED.position_show,
			position_show_changed_at = EXCLUDED.position_show_changed_at,
			updated_at = NOW()
		RETURNING id, display_name, avatar_url, segment, position_show, position_show_changed_at, created_at, updated_at
	`
	t := &Trader{}
	err = r.db.Pool.QueryRow(ctx, query, id, displayName, avatarURL, segment, positionShow, changedAt).Scan(
		&t.ID, &t.DisplayName, &t.AvatarURL, &t.Segment, &t.PositionShow, &t.PositionShowChangedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	return t, err
}

func boolPtrEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// GetTrader retrieves a trader by id.
func (r *Repository) GetTrader(ctx context.Context, id string) (*Trader, error) {
	query := `
		SELECT id, display_name, avatar_url, segment, position_show, position_show_changed_at, created_at, updated_at
		FROM traders WHERE id = $1
	`
	t := &Trader{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&t.ID, &t.DisplayName, &t.AvatarURL, &t.Segment, &t.PositionShow, &t.PositionShowChangedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, translateNotFound(err)
	}
	return t, nil
}

// ListTraders returns every known trader, optionally filtered by segment.
func (r *Repository) ListTraders(ctx context.Context, segment Segment) ([]*Trader, error) {
	var rows pgx.Rows
	var err error
	if segment == "" {
		rows, err = r.db.Pool.Query(ctx, `SELECT id, display_name, avatar_url, segment, position_show, position_show_changed_at, created_at, updated_at FROM traders`)
	} else {
		rows, err = r.db.Pool.Query(ctx, `SELECT id, display_name, avatar_url, segment, position_show, position_show_changed_at, created_at, updated_at FROM traders WHERE segment = $1`, segment)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Trader
	for rows.Next() {
		t := &Trader{}
		if err := rows.Scan(&t.ID, &t.DisplayName, &t.AvatarURL, &t.Segment, &t.PositionShow, &t.PositionShowChangedAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
