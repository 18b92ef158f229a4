package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/iabetor/rssdigest/internal/ingest"
)

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "立即拉取所有订阅源",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			job, res, err := a.jobs.Run(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(job)
			}
			printIngestResult(cmd.OutOrStdout(), job.ID, res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "以 JSON 输出任务结果")
	return cmd
}

func printIngestResult(w io.Writer, jobID string, res *ingest.Result) {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("拉取完成 [%s]", jobID)))
	fmt.Fprintf(w, "订阅源 %d 个，新增条目 %s 条\n", res.Sources, unreadStyle.Render(fmt.Sprint(res.Inserted)))
	for _, f := range res.Failures {
		fmt.Fprintln(w, errorStyle.Render(fmt.Sprintf("  ✗ #%d %s: %s", f.SourceID, f.URL, f.Error)))
	}
}
