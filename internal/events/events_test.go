package events

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/iabetor/rssdigest/internal/database"
)

func newTestLog(t *testing.T) *SQLiteLog {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("打开数据库失败: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("迁移失败: %v", err)
	}
	return NewSQLiteLog(db.DB)
}

func TestPublishAndSince(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)
	now := time.Date(2026, 2, 19, 8, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	started, err := l.Publish(ctx, TypeIngestStarted, "abcd1234", nil)
	if err != nil {
		t.Fatalf("Publish 失败: %v", err)
	}
	completed, err := l.Publish(ctx, TypeIngestCompleted, "abcd1234", map[string]int{"inserted": 3})
	if err != nil {
		t.Fatalf("Publish 失败: %v", err)
	}
	if completed.ID <= started.ID {
		t.Fatalf("事件 ID 应递增: %d <= %d", completed.ID, started.ID)
	}

	all, err := l.Since(ctx, 0, 0)
	if err != nil {
		t.Fatalf("Since 失败: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("期望 2 条事件，得到 %d", len(all))
	}
	if all[0].Type != TypeIngestStarted || string(all[0].Payload) != "{}" {
		t.Errorf("第一条事件不匹配: %+v", all[0])
	}
	if !all[1].CreatedAt.Equal(now) || all[1].JobID != "abcd1234" {
		t.Errorf("第二条事件不匹配: %+v", all[1])
	}

	var payload struct {
		Inserted int `json:"inserted"`
	}
	if err := json.Unmarshal(all[1].Payload, &payload); err != nil || payload.Inserted != 3 {
		t.Errorf("payload 不匹配: %s", all[1].Payload)
	}

	after, _ := l.Since(ctx, started.ID, 10)
	if len(after) != 1 || after[0].ID != completed.ID {
		t.Errorf("增量查询不匹配: %+v", after)
	}
}

func TestSinceLimit(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)

	for i := 0; i < 5; i++ {
		if _, err := l.Publish(ctx, TypeIngestStarted, "", nil); err != nil {
			t.Fatalf("Publish 失败: %v", err)
		}
	}

	list, err := l.Since(ctx, 0, 2)
	if err != nil {
		t.Fatalf("Since 失败: %v", err)
	}
	if len(list) != 2 || list[0].ID >= list[1].ID {
		t.Errorf("应按 id 升序返回 2 条: %+v", list)
	}

	empty, _ := l.Since(ctx, 1000, 10)
	if empty == nil || len(empty) != 0 {
		t.Errorf("无新事件时应返回空列表: %+v", empty)
	}
}
