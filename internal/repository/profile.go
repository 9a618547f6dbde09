package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/dietrichmax/colota-sub003/internal/models"
	"github.com/jackc/pgx/v5"
)

// ProfileRepository 跟踪配置档仓库
type ProfileRepository struct {
	db *DB
}

// NewProfileRepository 创建配置档仓库
func NewProfileRepository(db *DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Create 新建配置档
func (r *ProfileRepository) Create(ctx context.Context, p *models.TrackingProfile) error {
	query := `
		INSERT INTO tracking_profiles (name, interval_ms, min_update_distance, sync_interval_seconds, priority, condition_type, speed_threshold, deactivation_delay_seconds, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`
	err := r.db.Pool.QueryRow(ctx, query,
		p.Name,
		p.IntervalMs,
		p.MinDistance,
		p.SyncIntervalSeconds,
		p.Priority,
		p.ConditionType,
		p.SpeedThreshold,
		p.DeactivationDelaySeconds,
		p.Enabled,
	).Scan(&p.ID, &p.CreatedAt)

	if err != nil {
		return fmt.Errorf("insert tracking profile: %w", err)
	}
	return nil
}

// GetByID 按 id 查配置档
func (r *ProfileRepository) GetByID(ctx context.Context, id int64) (*models.TrackingProfile, error) {
	query := `
		SELECT id, name, interval_ms, min_update_distance, sync_interval_seconds, priority, condition_type, speed_threshold, deactivation_delay_seconds, enabled, created_at
		FROM tracking_profiles WHERE id = $1
	`
	p := &models.TrackingProfile{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&p.IntervalMs,
		&p.MinDistance,
		&p.SyncIntervalSeconds,
		&p.Priority,
		&p.ConditionType,
		&p.SpeedThreshold,
		&p.DeactivationDelaySeconds,
		&p.Enabled,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get tracking profile: %w", err)
	}
	return p, nil
}

// List 全部配置档
func (r *ProfileRepository) List(ctx context.Context) ([]*models.TrackingProfile, error) {
	return r.list(ctx, `
		SELECT id, name, interval_ms, min_update_distance, sync_interval_seconds, priority, condition_type, speed_threshold, deactivation_delay_seconds, enabled, created_at
		FROM tracking_profiles ORDER BY id
	`)
}

// ListEnabled 参与条件评估的配置档
func (r *ProfileRepository) ListEnabled(ctx context.Context) ([]*models.TrackingProfile, error) {
	return r.list(ctx, `
		SELECT id, name, interval_ms, min_update_distance, sync_interval_seconds, priority, condition_type, speed_threshold, deactivation_delay_seconds, enabled, created_at
		FROM tracking_profiles WHERE enabled ORDER BY id
	`)
}

func (r *ProfileRepository) list(ctx context.Context, query string) ([]*models.TrackingProfile, error) {
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tracking profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*models.TrackingProfile
	for rows.Next() {
		p := &models.TrackingProfile{}
		err := rows.Scan(
			&p.ID,
			&p.Name,
			&p.IntervalMs,
			&p.MinDistance,
			&p.SyncIntervalSeconds,
			&p.Priority,
			&p.ConditionType,
			&p.SpeedThreshold,
			&p.DeactivationDelaySeconds,
			&p.Enabled,
			&p.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan tracking profile: %w", err)
		}
		profiles = append(profiles, p)
	}

	return profiles, nil
}

// Update 按 id 更新配置档
func (r *ProfileRepository) Update(ctx context.Context, p *models.TrackingProfile) error {
	query := `
		UPDATE tracking_profiles
		SET name = $2, interval_ms = $3, min_update_distance = $4, sync_interval_seconds = $5, priority = $6, condition_type = $7, speed_threshold = $8, deactivation_delay_seconds = $9, enabled = $10
		WHERE id = $1
	`
	ct, err := r.db.Pool.Exec(ctx, query,
		p.ID,
		p.Name,
		p.IntervalMs,
		p.MinDistance,
		p.SyncIntervalSeconds,
		p.Priority,
		p.ConditionType,
		p.SpeedThreshold,
		p.DeactivationDelaySeconds,
		p.Enabled,
	)
	if err != nil {
		return fmt.Errorf("update tracking profile: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete 删除配置档
func (r *ProfileRepository) Delete(ctx context.Context, id int64) error {
	ct, err := r.db.Pool.Exec(ctx, `DELETE FROM tracking_profiles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete tracking profile: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
