package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	datasetdomain "github.com/smallbiznis/settlr/internal/dataset/domain"
	"github.com/smallbiznis/settlr/internal/report"
	"github.com/spf13/cobra"
)

func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	var period periodFlags
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Supersede the active dataset of a period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var datasets datasetdomain.Service
			var res datasetdomain.ClearResult
			err := withCore(cmd.Context(), rootOpts, func(ctx context.Context) error {
				var err error
				res, err = datasets.Clear(ctx, period.key())
				return err
			}, &datasets)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), rootOpts, res, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "%s %s %v\n", res.Outcome, res.DatasetID, res.JobIDs)
				return err
			})
		},
	}
	period.bind(cmd)
	return cmd
}

func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		period periodFlags
		out    string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write the monthly summary PDF of a period",
		Long: `Write the monthly summary PDF of a period.

Example:
  settlr report --tenant t1 --platform douyin --year 2025 --month 4 --out ./douyin-2025-04.pdf`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var reports *report.Service
			var doc []byte
			err := withCore(cmd.Context(), rootOpts, func(ctx context.Context) error {
				var err error
				doc, err = reports.MonthlyPDF(ctx, period.key())
				return err
			}, &reports)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, doc, 0o644); err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), rootOpts, map[string]any{"path": out, "bytes": len(doc)}, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "wrote %s (%d bytes)\n", out, len(doc))
				return err
			})
		},
	}
	period.bind(cmd)
	cmd.Flags().StringVar(&out, "out", "report.pdf", "output path")
	return cmd
}
