package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iabetor/rssdigest/internal/events"
	"github.com/iabetor/rssdigest/internal/logger"
)

// 任务状态。
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// finishedJobTTL 已结束任务在内存中保留的时长
const finishedJobTTL = 24 * time.Hour

// ErrJobNotFound 任务不存在或已过期。
var ErrJobNotFound = errors.New("任务不存在")

// Runner 执行一次完整拉取。
type Runner interface {
	Ingest(ctx context.Context) (*Result, error)
}

// Job 一次拉取任务的状态快照。
type Job struct {
	ID         string          `json:"job_id"`
	Status     string          `json:"status"`
	Inserted   int             `json:"inserted"`
	Sources    int             `json:"sources"`
	Failures   []SourceFailure `json:"failures,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// JobManager 管理拉取任务，并把生命周期事件写入事件日志。
type JobManager struct {
	ctx    context.Context
	runner Runner
	events events.Log

	mu   sync.RWMutex
	jobs map[string]*Job
	wg   sync.WaitGroup

	newID func() string
	now   func() time.Time
}

// NewJobManager 创建任务管理器。后台任务使用 ctx，ctx 取消时进行中的任务随之结束。
// log 为 nil 时不记录事件。
func NewJobManager(ctx context.Context, runner Runner, log events.Log) *JobManager {
	return &JobManager{
		ctx:    ctx,
		runner: runner,
		events: log,
		jobs:   make(map[string]*Job),
		newID:  func() string { return uuid.NewString()[:8] },
		now:    time.Now,
	}
}

// Start 登记任务并在后台执行，立即返回 processing 状态。
func (m *JobManager) Start() Job {
	job := m.register()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.execute(m.ctx, job.ID)
	}()
	return job
}

// Run 同步执行一次任务，返回拉取结果。
func (m *JobManager) Run(ctx context.Context) (Job, *Result, error) {
	job := m.register()
	res, err := m.execute(ctx, job.ID)
	snapshot, _ := m.Get(job.ID)
	return snapshot, res, err
}

// Get 返回任务快照。
func (m *JobManager) Get(id string) (Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return *job, nil
}

// Wait 等待所有后台任务结束。
func (m *JobManager) Wait() {
	m.wg.Wait()
}

func (m *JobManager) register() Job {
	now := m.now()
	job := &Job{
		ID:        m.newID(),
		Status:    StatusProcessing,
		StartedAt: now,
	}

	m.mu.Lock()
	m.pruneLocked(now)
	m.jobs[job.ID] = job
	m.mu.Unlock()

	m.publish(events.TypeIngestStarted, job.ID, map[string]string{"job_id": job.ID})
	return *job
}

func (m *JobManager) execute(ctx context.Context, id string) (*Result, error) {
	logger.Infof("[ingest] 任务 %s 开始", id)
	res, err := m.runner.Ingest(ctx)
	finished := m.now()

	m.mu.Lock()
	job := m.jobs[id]
	job.FinishedAt = &finished
	if err != nil {
		job.Status = StatusFailed
		job.Error = err.Error()
	} else {
		job.Status = StatusCompleted
		job.Inserted = res.Inserted
		job.Sources = res.Sources
		job.Failures = res.Failures
	}
	m.mu.Unlock()

	if err != nil {
		logger.Warnf("[ingest] 任务 %s 失败: %v", id, err)
		m.publish(events.TypeIngestFailed, id, map[string]string{
			"job_id": id,
			"error":  err.Error(),
		})
		return nil, err
	}

	logger.Infof("[ingest] 任务 %s 完成，新增 %d 条", id, res.Inserted)
	m.publish(events.TypeIngestCompleted, id, map[string]any{
		"job_id":   id,
		"inserted": res.Inserted,
		"sources":  res.Sources,
		"failures": len(res.Failures),
	})
	return res, nil
}

// publish 写入事件，失败只记录日志。
func (m *JobManager) publish(eventType, jobID string, payload any) {
	if m.events == nil {
		return
	}
	// 请求已取消时事件仍需落库
	if _, err := m.events.Publish(context.Background(), eventType, jobID, payload); err != nil {
		logger.Warnf("[ingest] 记录事件 %s 失败: %v", eventType, err)
	}
}

// pruneLocked 清理过期的已结束任务，调用方需持有写锁。
func (m *JobManager) pruneLocked(now time.Time) {
	for id, job := range m.jobs {
		if job.FinishedAt != nil && now.Sub(*job.FinishedAt) > finishedJobTTL {
			delete(m.jobs, id)
		}
	}
}
