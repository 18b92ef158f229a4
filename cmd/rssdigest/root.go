package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iabetor/rssdigest/internal/config"
	"github.com/iabetor/rssdigest/internal/logger"
)

// 构建时通过 -ldflags 注入
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootOptions 所有子命令共享的选项和已加载的配置。
type rootOptions struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "rssdigest",
		Short:         "RSS 订阅拉取、摘要与分类日报",
		Long:          "rssdigest 定时拉取 RSS/Atom 订阅源，去重后生成摘要，并按分类输出每日文摘。",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "配置文件路径（默认 "+config.DefaultPath()+"）")

	cmd.AddCommand(
		newServeCmd(opts),
		newIngestCmd(opts),
		newDigestCmd(opts),
		newSourceCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// load 读取配置并初始化日志。
func (o *rootOptions) load() error {
	path := o.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
	}); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	o.cfg = cfg
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "显示版本信息",
		// 版本信息不依赖配置
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rssdigest %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
