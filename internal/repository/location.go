package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/dietrichmax/colota-sub003/internal/models"
	"github.com/jackc/pgx/v5"
)

// LocationRepository 定位数据仓库
type LocationRepository struct {
	db *DB
}

// NewLocationRepository 创建定位仓库
func NewLocationRepository(db *DB) *LocationRepository {
	return &LocationRepository{db: db}
}

// Create 写入一条定位记录
func (r *LocationRepository) Create(ctx context.Context, loc *models.Location) error {
	query := `
		INSERT INTO locations (latitude, longitude, accuracy, altitude, speed, bearing, battery, battery_status, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`
	err := r.db.Pool.QueryRow(ctx, query,
		loc.Latitude,
		loc.Longitude,
		loc.Accuracy,
		loc.Altitude,
		loc.Speed,
		loc.Bearing,
		loc.Battery,
		loc.BatteryStatus,
		loc.Timestamp,
	).Scan(&loc.ID, &loc.CreatedAt)

	if err != nil {
		return fmt.Errorf("insert location: %w", err)
	}
	return nil
}

// CreateWithQueue 同一事务内写入定位和对应的上传队列条目
func (r *LocationRepository) CreateWithQueue(ctx context.Context, loc *models.Location, payload string) (int64, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	locQuery := `
		INSERT INTO locations (latitude, longitude, accuracy, altitude, speed, bearing, battery, battery_status, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`
	err = tx.QueryRow(ctx, locQuery,
		loc.Latitude,
		loc.Longitude,
		loc.Accuracy,
		loc.Altitude,
		loc.Speed,
		loc.Bearing,
		loc.Battery,
		loc.BatteryStatus,
		loc.Timestamp,
	).Scan(&loc.ID, &loc.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert location: %w", err)
	}

	var queueID int64
	queueQuery := `INSERT INTO queue (location_id, payload) VALUES ($1, $2) RETURNING id`
	if err := tx.QueryRow(ctx, queueQuery, loc.ID, payload).Scan(&queueID); err != nil {
		return 0, fmt.Errorf("insert queue item: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return queueID, nil
}

// GetLatest 获取最新一条定位
func (r *LocationRepository) GetLatest(ctx context.Context) (*models.Location, error) {
	query := `
		SELECT id, latitude, longitude, accuracy, altitude, speed, bearing, battery, battery_status, timestamp, created_at
		FROM locations ORDER BY timestamp DESC, id DESC LIMIT 1
	`
	loc := &models.Location{}
	err := r.db.Pool.QueryRow(ctx, query).Scan(
		&loc.ID,
		&loc.Latitude,
		&loc.Longitude,
		&loc.Accuracy,
		&loc.Altitude,
		&loc.Speed,
		&loc.Bearing,
		&loc.Battery,
		&loc.BatteryStatus,
		&loc.Timestamp,
		&loc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get latest location: %w", err)
	}
	return loc, nil
}

// ListByRange 按 unix 秒时间段查询定位，按时间升序
func (r *LocationRepository) ListByRange(ctx context.Context, from, to int64) ([]*models.Location, error) {
	query := `
		SELECT id, latitude, longitude, accuracy, altitude, speed, bearing, battery, battery_status, timestamp, created_at
		FROM locations WHERE timestamp >= $1 AND timestamp <= $2
		ORDER BY timestamp, id
	`
	rows, err := r.db.Pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("list locations by range: %w", err)
	}
	defer rows.Close()

	var locations []*models.Location
	for rows.Next() {
		loc := &models.Location{}
		err := rows.Scan(
			&loc.ID,
			&loc.Latitude,
			&loc.Longitude,
			&loc.Accuracy,
			&loc.Altitude,
			&loc.Speed,
			&loc.Bearing,
			&loc.Battery,
			&loc.BatteryStatus,
			&loc.Timestamp,
			&loc.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		locations = append(locations, loc)
	}

	return locations, nil
}

// Count 定位总数
func (r *LocationRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM locations`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count locations: %w", err)
	}
	return count, nil
}

// DeleteOlderThan 删除 unix 秒早于 before 的定位，队列条目随外键级联删除
func (r *LocationRepository) DeleteOlderThan(ctx context.Context, before int64) (int64, error) {
	ct, err := r.db.Pool.Exec(ctx, `DELETE FROM locations WHERE timestamp < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete old locations: %w", err)
	}
	return ct.RowsAffected(), nil
}

// DeleteSent 删除已经不在队列里的定位，即已成功上传或被淘汰的
func (r *LocationRepository) DeleteSent(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM locations
		WHERE NOT EXISTS (SELECT 1 FROM queue WHERE queue.location_id = locations.id)
	`
	ct, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("delete sent locations: %w", err)
	}
	return ct.RowsAffected(), nil
}

// DeleteAll 清空全部定位，队列随级联清空
func (r *LocationRepository) DeleteAll(ctx context.Context) (int64, error) {
	ct, err := r.db.Pool.Exec(ctx, `DELETE FROM locations`)
	if err != nil {
		return 0, fmt.Errorf("delete all locations: %w", err)
	}
	return ct.RowsAffected(), nil
}

// Vacuum 大批量删除后回收存储空间
func (r *LocationRepository) Vacuum(ctx context.Context) error {
	if _, err := r.db.Pool.Exec(ctx, `VACUUM locations, queue`); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}
