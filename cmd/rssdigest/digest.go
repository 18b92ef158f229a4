package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/iabetor/rssdigest/internal/digest"
)

func newDigestCmd(opts *rootOptions) *cobra.Command {
	var (
		date        string
		format      string
		perCategory int
		withContent bool
	)

	cmd := &cobra.Command{
		Use:   "digest",
		Short: "输出指定日期的分类日报",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			d, err := a.digests.Digest(cmd.Context(), date)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch format {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(d)
			case "markdown", "md":
				fmt.Fprintln(out, digest.RenderMarkdown(d, digest.RenderOptions{
					PerCategory: perCategory,
					WithContent: withContent,
				}))
				return nil
			case "text":
				printDigest(out, d, perCategory)
				return nil
			default:
				return fmt.Errorf("不支持的输出格式: %s", format)
			}
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "日期 YYYY-MM-DD，默认当前 UTC 日期")
	cmd.Flags().StringVar(&format, "format", "markdown", "输出格式: markdown, json, text")
	cmd.Flags().IntVar(&perCategory, "per-category", 0, "每个分类最多展示的条数，0 表示不限")
	cmd.Flags().BoolVar(&withContent, "content", false, "Markdown 输出中附上正文")
	return cmd
}

// printDigest 以终端友好的样式输出日报。
func printDigest(w io.Writer, d *digest.DailyDigest, perCategory int) {
	if d.Total == 0 {
		fmt.Fprintln(w, dimStyle.Render(digest.EmptyReport))
		return
	}

	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("RSS 文摘日报 %s · 共 %d 条", d.Date, d.Total)))

	names := make([]string, 0, len(d.Categories))
	for name := range d.Categories {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		entries := d.Categories[name]
		fmt.Fprintln(w, categoryStyle.Render(fmt.Sprintf("%s (%d)", name, len(entries))))
		if perCategory > 0 && len(entries) > perCategory {
			entries = entries[:perCategory]
		}
		for _, e := range entries {
			mark := " "
			if e.Unread {
				mark = unreadStyle.Render("●")
			}
			fmt.Fprintf(w, "%s %s %s\n", mark, titleStyle.Render(e.Title),
				dimStyle.Render(fmt.Sprintf("· %s · %s", e.SourceTitle, e.PublishedAt.UTC().Format("15:04"))))
			fmt.Fprintln(w, summaryStyle.Render(e.Summary))
			fmt.Fprintln(w, dimStyle.Render("    "+e.Link))
		}
	}
}
