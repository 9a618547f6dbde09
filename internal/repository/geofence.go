package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/dietrichmax/colota-sub003/internal/models"
	"github.com/jackc/pgx/v5"
)

// GeofenceRepository 地理围栏仓库
type GeofenceRepository struct {
	db *DB
}

// NewGeofenceRepository 创建围栏仓库
func NewGeofenceRepository(db *DB) *GeofenceRepository {
	return &GeofenceRepository{db: db}
}

// Create 新建围栏
func (r *GeofenceRepository) Create(ctx context.Context, g *models.Geofence) error {
	query := `
		INSERT INTO geofences (name, latitude, longitude, radius, enabled, pause_tracking)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := r.db.Pool.QueryRow(ctx, query,
		g.Name,
		g.Latitude,
		g.Longitude,
		g.Radius,
		g.Enabled,
		g.PauseTracking,
	).Scan(&g.ID, &g.CreatedAt)

	if err != nil {
		return fmt.Errorf("insert geofence: %w", err)
	}
	return nil
}

// GetByID 按 id 查围栏
func (r *GeofenceRepository) GetByID(ctx context.Context, id int64) (*models.Geofence, error) {
	query := `
		SELECT id, name, latitude, longitude, radius, enabled, pause_tracking, created_at
		FROM geofences WHERE id = $1
	`
	g := &models.Geofence{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&g.ID,
		&g.Name,
		&g.Latitude,
		&g.Longitude,
		&g.Radius,
		&g.Enabled,
		&g.PauseTracking,
		&g.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get geofence: %w", err)
	}
	return g, nil
}

// List 全部围栏
func (r *GeofenceRepository) List(ctx context.Context) ([]*models.Geofence, error) {
	return r.list(ctx, `
		SELECT id, name, latitude, longitude, radius, enabled, pause_tracking, created_at
		FROM geofences ORDER BY id
	`)
}

// ListActive 参与暂停判定的围栏，enabled 且 pause_tracking
func (r *GeofenceRepository) ListActive(ctx context.Context) ([]*models.Geofence, error) {
	return r.list(ctx, `
		SELECT id, name, latitude, longitude, radius, enabled, pause_tracking, created_at
		FROM geofences WHERE enabled AND pause_tracking ORDER BY id
	`)
}

func (r *GeofenceRepository) list(ctx context.Context, query string) ([]*models.Geofence, error) {
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list geofences: %w", err)
	}
	defer rows.Close()

	var fences []*models.Geofence
	for rows.Next() {
		g := &models.Geofence{}
		err := rows.Scan(
			&g.ID,
			&g.Name,
			&g.Latitude,
			&g.Longitude,
			&g.Radius,
			&g.Enabled,
			&g.PauseTracking,
			&g.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan geofence: %w", err)
		}
		fences = append(fences, g)
	}

	return fences, nil
}

// Update 按 id 更新围栏
func (r *GeofenceRepository) Update(ctx context.Context, g *models.Geofence) error {
	query := `
		UPDATE geofences
		SET name = $2, latitude = $3, longitude = $4, radius = $5, enabled = $6, pause_tracking = $7
		WHERE id = $1
	`
	ct, err := r.db.Pool.Exec(ctx, query,
		g.ID,
		g.Name,
		g.Latitude,
		g.Longitude,
		g.Radius,
		g.Enabled,
		g.PauseTracking,
	)
	if err != nil {
		return fmt.Errorf("update geofence: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete 删除围栏
func (r *GeofenceRepository) Delete(ctx context.Context, id int64) error {
	ct, err := r.db.Pool.Exec(ctx, `DELETE FROM geofences WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete geofence: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
