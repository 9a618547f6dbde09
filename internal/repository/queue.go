package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/dietrichmax/colota-sub003/internal/models"
)

// QueueRepository 上传队列仓库
type QueueRepository struct {
	db *DB
}

// NewQueueRepository 创建队列仓库
func NewQueueRepository(db *DB) *QueueRepository {
	return &QueueRepository{db: db}
}

// Enqueue 追加一条待上传记录
func (r *QueueRepository) Enqueue(ctx context.Context, locationID int64, payload string) (int64, error) {
	var id int64
	query := `INSERT INTO queue (location_id, payload) VALUES ($1, $2) RETURNING id`
	if err := r.db.Pool.QueryRow(ctx, query, locationID, payload).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert queue item: %w", err)
	}
	return id, nil
}

// DequeueBatch 取最早入队的一批条目，FIFO
func (r *QueueRepository) DequeueBatch(ctx context.Context, limit int) ([]*models.QueueItem, error) {
	query := `
		SELECT id, location_id, payload, retry_count, last_error, created_at
		FROM queue ORDER BY created_at, id LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("dequeue batch: %w", err)
	}
	defer rows.Close()

	var items []*models.QueueItem
	for rows.Next() {
		item := &models.QueueItem{}
		err := rows.Scan(
			&item.ID,
			&item.LocationID,
			&item.Payload,
			&item.RetryCount,
			&item.LastError,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, item)
	}

	return items, nil
}

// IncrementRetry 失败后累加重试计数并记录最近错误
func (r *QueueRepository) IncrementRetry(ctx context.Context, id int64, lastError string) error {
	query := `UPDATE queue SET retry_count = retry_count + 1, last_error = $2 WHERE id = $1`
	if _, err := r.db.Pool.Exec(ctx, query, id, lastError); err != nil {
		return fmt.Errorf("increment retry: %w", err)
	}
	return nil
}

// Remove 批量删除队列条目，发送成功和重试耗尽共用这一个入口
func (r *QueueRepository) Remove(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM queue WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("remove queue items: %w", err)
	}
	return nil
}

// Count 当前排队数量
func (r *QueueRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM queue`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count queue: %w", err)
	}
	return count, nil
}

// OldestCreatedAt 最早一条排队记录的入队时间，队列为空时返回 nil
func (r *QueueRepository) OldestCreatedAt(ctx context.Context) (*time.Time, error) {
	var t *time.Time
	if err := r.db.Pool.QueryRow(ctx, `SELECT MIN(created_at) FROM queue`).Scan(&t); err != nil {
		return nil, fmt.Errorf("oldest queue item: %w", err)
	}
	return t, nil
}

// Clear 清空队列，定位记录保留
func (r *QueueRepository) Clear(ctx context.Context) (int64, error) {
	ct, err := r.db.Pool.Exec(ctx, `DELETE FROM queue`)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	return ct.RowsAffected(), nil
}

// ClearWithLocations 连同排队中的定位一起删除。
// 单条 DELETE 由外键级联完成，天然原子。
func (r *QueueRepository) ClearWithLocations(ctx context.Context) (int64, error) {
	query := `DELETE FROM locations WHERE id IN (SELECT location_id FROM queue)`
	ct, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("clear queue with locations: %w", err)
	}
	return ct.RowsAffected(), nil
}
