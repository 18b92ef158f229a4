package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/iabetor/rssdigest/internal/logger"
	"github.com/iabetor/rssdigest/internal/rss"
)

func newSourceCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "source",
		Short: "管理订阅源",
	}
	cmd.AddCommand(
		newSourceAddCmd(opts),
		newSourceListCmd(opts),
		newSourceRemoveCmd(opts),
	)
	return cmd
}

func newSourceAddCmd(opts *rootOptions) *cobra.Command {
	var title, category string

	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "登记订阅源，URL 已存在时返回原记录",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			url := args[0]
			if title == "" {
				if t, err := a.fetcher.FetchTitle(cmd.Context(), url); err != nil {
					logger.Warnf("[main] 获取订阅源标题失败，使用 URL: %v", err)
				} else {
					title = t
				}
			}

			src, err := a.store.RegisterSource(cmd.Context(), url, title, category)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已登记 #%d %s [%s]\n", src.ID, src.Title, src.Category)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "显示标题，默认使用 Feed 自带标题")
	cmd.Flags().StringVar(&category, "category", "", "分类，默认为 "+rss.DefaultCategory)
	return cmd
}

func newSourceListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "列出订阅源及未读数",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			metas, err := a.store.SourcesWithMeta(cmd.Context())
			if err != nil {
				return err
			}
			printSources(cmd.OutOrStdout(), metas)
			return nil
		},
	}
}

func newSourceRemoveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "删除订阅源，已入库的条目保留",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("无效的订阅源 ID: %s", args[0])
			}

			a, err := newApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.RemoveSource(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已删除 #%d\n", id)
			return nil
		},
	}
}

const (
	sourceTitleWidth    = 30
	sourceCategoryWidth = 10
)

// printSources 按列对齐输出订阅源，中文按双倍宽度计算。
func printSources(w io.Writer, metas []rss.SourceMeta) {
	if len(metas) == 0 {
		fmt.Fprintln(w, dimStyle.Render("还没有订阅源，使用 rssdigest source add <url> 添加"))
		return
	}
	for _, m := range metas {
		title := runewidth.FillRight(runewidth.Truncate(m.Title, sourceTitleWidth, "..."), sourceTitleWidth)
		category := runewidth.FillRight(runewidth.Truncate(m.Category, sourceCategoryWidth, "..."), sourceCategoryWidth)
		unread := dimStyle.Render(" 0")
		if m.HasUnread {
			unread = unreadStyle.Render(fmt.Sprintf("%2d", m.UnreadCount))
		}
		fmt.Fprintf(w, "%4d  %s  %s  %s  %s\n", m.ID, title, category, unread, dimStyle.Render(m.URL))
	}
}
