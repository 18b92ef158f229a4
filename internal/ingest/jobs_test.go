package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/iabetor/rssdigest/internal/database"
	"github.com/iabetor/rssdigest/internal/events"
)

// stubRunner 返回预设结果，可阻塞直到 release 关闭。
type stubRunner struct {
	res     *Result
	err     error
	release chan struct{}
}

func (r *stubRunner) Ingest(ctx context.Context) (*Result, error) {
	if r.release != nil {
		<-r.release
	}
	return r.res, r.err
}

func newTestEvents(t *testing.T) *events.SQLiteLog {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("打开数据库失败: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("迁移失败: %v", err)
	}
	return events.NewSQLiteLog(db.DB)
}

func TestJobStartAndComplete(t *testing.T) {
	log := newTestEvents(t)
	runner := &stubRunner{res: &Result{Inserted: 2, Sources: 1}, release: make(chan struct{})}
	m := NewJobManager(context.Background(), runner, log)

	job := m.Start()
	if len(job.ID) != 8 {
		t.Errorf("任务 ID 应为 8 位: %q", job.ID)
	}
	if job.Status != StatusProcessing {
		t.Errorf("新任务应为 processing: %s", job.Status)
	}

	got, err := m.Get(job.ID)
	if err != nil || got.Status != StatusProcessing {
		t.Fatalf("执行中查询不符合预期: %+v, %v", got, err)
	}

	close(runner.release)
	m.Wait()

	got, _ = m.Get(job.ID)
	if got.Status != StatusCompleted || got.Inserted != 2 || got.FinishedAt == nil {
		t.Errorf("完成后状态不符合预期: %+v", got)
	}

	evs, err := log.Since(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("读取事件失败: %v", err)
	}
	if len(evs) != 2 || evs[0].Type != events.TypeIngestStarted || evs[1].Type != events.TypeIngestCompleted {
		t.Fatalf("事件序列不符合预期: %+v", evs)
	}
	var payload struct {
		JobID    string `json:"job_id"`
		Inserted int    `json:"inserted"`
	}
	json.Unmarshal(evs[1].Payload, &payload)
	if payload.JobID != job.ID || payload.Inserted != 2 {
		t.Errorf("完成事件 payload 不匹配: %s", evs[1].Payload)
	}
}

func TestJobRunFailed(t *testing.T) {
	log := newTestEvents(t)
	m := NewJobManager(context.Background(), &stubRunner{err: ErrNoSources}, log)

	job, res, err := m.Run(context.Background())
	if !errors.Is(err, ErrNoSources) || res != nil {
		t.Fatalf("期望 ErrNoSources, got %v, %+v", err, res)
	}
	if job.Status != StatusFailed || job.Error == "" {
		t.Errorf("失败任务状态不符合预期: %+v", job)
	}

	evs, _ := log.Since(context.Background(), 0, 10)
	if len(evs) != 2 || evs[1].Type != events.TypeIngestFailed || evs[1].JobID != job.ID {
		t.Errorf("失败事件不符合预期: %+v", evs)
	}
}

func TestJobNotFound(t *testing.T) {
	m := NewJobManager(context.Background(), &stubRunner{res: &Result{}}, nil)
	if _, err := m.Get("missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("期望 ErrJobNotFound, got %v", err)
	}
}

func TestJobPrune(t *testing.T) {
	m := NewJobManager(context.Background(), &stubRunner{res: &Result{}}, nil)
	now := time.Date(2026, 2, 19, 8, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	old, _, _ := m.Run(context.Background())

	now = now.Add(25 * time.Hour)
	m.Run(context.Background())

	if _, err := m.Get(old.ID); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("过期任务应被清理")
	}
}
