// Package scheduler 按 cron 表达式定时触发拉取。
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/iabetor/rssdigest/internal/logger"
)

// Task 一次定时任务。
type Task func(ctx context.Context) error

// Scheduler 定时执行 Task，上一次未结束时跳过本次触发。
type Scheduler struct {
	cron    *cron.Cron
	expr    string
	task    Task
	entryID cron.EntryID

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建调度器。expr 支持标准 5 段 cron 表达式和 @every 1h 之类的描述符。
func New(expr string, task Task) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		expr:   expr,
		task:   task,
		ctx:    ctx,
		cancel: cancel,
	}

	cl := cronLogger{}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	id, err := s.cron.AddFunc(expr, s.run)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("无效的调度表达式 %q: %w", expr, err)
	}
	s.entryID = id
	return s, nil
}

// Start 启动调度，runOnStart 为 true 时立即在后台执行一次。
// 启动时的执行与定时触发共用同一个包装后的任务，未结束前的触发会被跳过。
func (s *Scheduler) Start(runOnStart bool) {
	if runOnStart {
		job := s.cron.Entry(s.entryID).WrappedJob
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			job.Run()
		}()
	}
	s.cron.Start()
	logger.Infof("[scheduler] 定时拉取已启动: %s，下次执行 %s",
		s.expr, s.Next().Format(time.RFC3339))
}

// Next 返回下一次触发时间，未启动时为零值。
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entryID).Next
}

// Stop 停止调度并等待进行中的任务结束。
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	logger.Info("[scheduler] 定时拉取已停止")
}

func (s *Scheduler) run() {
	if s.ctx.Err() != nil {
		return
	}
	logger.Infof("[scheduler] 开始定时拉取")
	if err := s.task(s.ctx); err != nil {
		logger.Warnf("[scheduler] 定时拉取失败: %v", err)
	}
}

// cronLogger 将 cron 内部日志转到全局 logger。
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.L.Debugw("[scheduler] "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.L.Errorw("[scheduler] "+msg, append(keysAndValues, "error", err)...)
}
