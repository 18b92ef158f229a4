// Package events 记录拉取任务的生命周期事件。
// 事件追加写入 SQLite，id 单调递增，消费方按 id 轮询增量。
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// 事件类型。
const (
	TypeIngestStarted   = "ingest.started"
	TypeIngestCompleted = "ingest.completed"
	TypeIngestFailed    = "ingest.failed"
)

const (
	timeLayout   = "2006-01-02T15:04:05Z"
	defaultLimit = 100
	maxLimit     = 1000
)

// Event 一条生命周期事件。
type Event struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	JobID     string          `json:"job_id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Log 事件日志。
type Log interface {
	// Publish 追加事件，payload 会被序列化为 JSON。
	Publish(ctx context.Context, eventType, jobID string, payload any) (Event, error)
	// Since 返回 id 大于 afterID 的事件，按 id 升序，最多 limit 条。
	Since(ctx context.Context, afterID int64, limit int) ([]Event, error)
}

// SQLiteLog 基于 events 表的事件日志。
type SQLiteLog struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteLog 创建事件日志，表由 database.Migrate 创建。
func NewSQLiteLog(db *sql.DB) *SQLiteLog {
	return &SQLiteLog{db: db, now: time.Now}
}

// Publish 追加事件。
func (l *SQLiteLog) Publish(ctx context.Context, eventType, jobID string, payload any) (Event, error) {
	if payload == nil {
		payload = struct{}{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("序列化事件失败: %w", err)
	}

	createdAt := l.now().UTC().Truncate(time.Second)
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO events (type, job_id, payload, created_at) VALUES (?, ?, ?, ?)`,
		eventType, jobID, string(data), createdAt.Format(timeLayout),
	)
	if err != nil {
		return Event{}, fmt.Errorf("写入事件失败: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Event{}, fmt.Errorf("获取事件 ID 失败: %w", err)
	}

	return Event{
		ID:        id,
		Type:      eventType,
		JobID:     jobID,
		Payload:   data,
		CreatedAt: createdAt,
	}, nil
}

// Since 返回 afterID 之后的事件。limit 不大于 0 时取默认值。
func (l *SQLiteLog) Since(ctx context.Context, afterID int64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT id, type, job_id, payload, created_at FROM events
		 WHERE id > ? ORDER BY id ASC LIMIT ?`,
		afterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("查询事件失败: %w", err)
	}
	defer rows.Close()

	list := make([]Event, 0)
	for rows.Next() {
		var (
			e         Event
			payload   string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.JobID, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("读取事件失败: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		e.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		list = append(list, e)
	}
	return list, rows.Err()
}
