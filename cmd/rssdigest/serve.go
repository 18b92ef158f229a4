package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/iabetor/rssdigest/internal/logger"
	"github.com/iabetor/rssdigest/internal/scheduler"
	"github.com/iabetor/rssdigest/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务（按配置开启定时拉取）",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			// 监听系统信号，优雅关闭
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				select {
				case sig := <-sigCh:
					logger.Infof("[main] 收到信号 %v，正在关闭...", sig)
					cancel()
				case <-ctx.Done():
				}
			}()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if cfg.Schedule.Enabled {
				sched, err := scheduler.New(cfg.Schedule.Cron, func(ctx context.Context) error {
					_, _, err := a.jobs.Run(ctx)
					return err
				})
				if err != nil {
					return err
				}
				sched.Start(cfg.Schedule.RunOnStart)
				defer sched.Stop()
			}

			srv := server.New(cfg.Server.Addr, server.Deps{
				Store:   a.store,
				Fetcher: a.fetcher,
				Jobs:    a.jobs,
				Digests: a.digests,
				Events:  a.events,

				Summarizer: a.summarizer,
			})

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("HTTP 服务异常退出: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warnf("[main] HTTP 服务关闭出错: %v", err)
			}
			logger.Info("[main] rssdigest 已停止")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "监听地址，覆盖配置中的 server.addr")
	return cmd
}
