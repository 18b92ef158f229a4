package digest

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/mattn/go-runewidth"

	"github.com/iabetor/rssdigest/internal/rss"
)

// EmptyReport 当日没有条目时的报告内容。
const EmptyReport = "今日暂无新内容更新"

const (
	titleWidth   = 60
	summaryWidth = 200
)

// RenderOptions 控制 Markdown 报告的内容。
type RenderOptions struct {
	PerCategory int  // 每个分类最多展示的条数，0 表示不限
	WithContent bool // 附上转换为 Markdown 的正文
}

var mdConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
	),
)

// RenderMarkdown 将日报渲染为 Markdown 报告，分类按名称排序。
func RenderMarkdown(d *DailyDigest, opts RenderOptions) string {
	if d == nil || d.Total == 0 {
		return EmptyReport
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## RSS 文摘日报 - %s\n\n", displayDate(d.Date))
	fmt.Fprintf(&b, "**共 %d 条更新**\n\n---\n\n", d.Total)

	sources := make(map[string]struct{})
	for _, category := range sortedCategories(d) {
		entries := d.Categories[category]
		fmt.Fprintf(&b, "### %s\n\n", category)

		shown := entries
		if opts.PerCategory > 0 && len(shown) > opts.PerCategory {
			shown = shown[:opts.PerCategory]
		}
		for _, e := range shown {
			sources[e.SourceTitle] = struct{}{}

			title := runewidth.Truncate(e.Title, titleWidth, "...")
			if e.Link != "" {
				fmt.Fprintf(&b, "- **[%s](%s)**", title, e.Link)
			} else {
				fmt.Fprintf(&b, "- **%s**", title)
			}
			fmt.Fprintf(&b, " · %s · %s\n", e.SourceTitle, e.PublishedAt.UTC().Format("15:04"))
			if summary := quote(runewidth.Truncate(e.Summary, summaryWidth, "...")); summary != "" {
				fmt.Fprintf(&b, "\n%s\n", summary)
			}
			if opts.WithContent {
				if md := contentMarkdown(e); md != "" {
					fmt.Fprintf(&b, "\n%s\n", indent(md))
				}
			}
			b.WriteString("\n")
		}
		if hidden := len(entries) - len(shown); hidden > 0 {
			fmt.Fprintf(&b, "_另有 %d 条未展示_\n\n", hidden)
		}
	}

	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintf(&b, "---\n\n共收录 %d 条更新，来源: %s\n", d.Total, strings.Join(names, ", "))
	return b.String()
}

func sortedCategories(d *DailyDigest) []string {
	names := make([]string, 0, len(d.Categories))
	for name := range d.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// displayDate 将 YYYY-MM-DD 显示为 2006年01月02日。
func displayDate(date string) string {
	day, err := time.Parse(DateLayout, date)
	if err != nil {
		return date
	}
	return day.Format("2006年01月02日")
}

// contentMarkdown 将条目正文 HTML 转为 Markdown，转换失败时退回纯文本。
func contentMarkdown(e Entry) string {
	if strings.TrimSpace(e.Content) == "" {
		return ""
	}
	md, err := mdConverter.ConvertString(e.Content, converter.WithDomain(e.Link))
	if err != nil || strings.TrimSpace(md) == "" {
		return rss.PlainText(e.Content)
	}
	return strings.TrimSpace(md)
}

func quote(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = "> " + l
	}
	return strings.Join(lines, "\n")
}

func indent(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = "  " + l
		}
	}
	return strings.Join(lines, "\n")
}
