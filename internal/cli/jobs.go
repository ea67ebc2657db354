package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/smallbiznis/settlr/internal/intake"
	jobdomain "github.com/smallbiznis/settlr/internal/job/domain"
	"github.com/spf13/cobra"
)

type submitOptions struct {
	*RootOptions
	period     periodFlags
	Mode       string
	Settlement string
	Orders     string
	UploadID   string
}

func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &submitOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Upload exports and enqueue a reconciliation job",
		Long: `Upload exports and enqueue a reconciliation job.

Example:
  settlr submit --tenant t1 --platform douyin --year 2025 --month 4 --settlement ./settle.xlsx
  settlr submit --tenant t1 --platform xiaohongshu --year 2025 --month 4 \
    --settlement ./settle.xlsx --orders ./orders.xlsx --mode replace`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	opts.period.bind(cmd)
	cmd.Flags().StringVar(&opts.Mode, "mode", "merge", "merge|replace")
	cmd.Flags().StringVar(&opts.Settlement, "settlement", "", "settlement export file (required)")
	cmd.Flags().StringVar(&opts.Orders, "orders", "", "orders export file")
	cmd.Flags().StringVar(&opts.UploadID, "upload-id", "", "upload id (generated when empty)")
	_ = cmd.MarkFlagRequired("settlement")
	return cmd
}

func runSubmit(ctx context.Context, out io.Writer, opts *submitOptions) error {
	var svc *intake.Service
	var job *jobdomain.Job
	err := withCore(ctx, opts.RootOptions, func(ctx context.Context) error {
		var files []jobdomain.FileRef
		for _, f := range []struct {
			kind jobdomain.FileKind
			path string
		}{
			{jobdomain.FileSettlement, opts.Settlement},
			{jobdomain.FileOrders, opts.Orders},
		} {
			if f.path == "" {
				continue
			}
			ref, err := uploadFile(ctx, svc, opts.period.Tenant, f.kind, f.path)
			if err != nil {
				return err
			}
			files = append(files, ref)
		}

		var err error
		job, err = svc.Submit(ctx, intake.Request{
			TenantID:    opts.period.Tenant,
			Platform:    opts.period.Platform,
			Year:        opts.period.Year,
			Month:       opts.period.Month,
			Mode:        opts.Mode,
			UploadID:    opts.UploadID,
			Files:       files,
			RequestedBy: "cli",
		})
		return err
	}, &svc)
	if err != nil {
		return err
	}
	return render(out, opts.RootOptions, job, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "%s %s\n", job.ID, job.Status)
		return err
	})
}

func uploadFile(ctx context.Context, svc *intake.Service, tenant string, kind jobdomain.FileKind, path string) (jobdomain.FileRef, error) {
	f, err := os.Open(path)
	if err != nil {
		return jobdomain.FileRef{}, fmt.Errorf("open %s: %w", kind, err)
	}
	defer f.Close()
	return svc.Upload(ctx, tenant, kind, filepath.Base(path), f)
}

func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var jobs jobdomain.Service
			var job *jobdomain.Job
			err := withCore(cmd.Context(), rootOpts, func(ctx context.Context) error {
				var err error
				job, err = jobs.Get(ctx, args[0])
				return err
			}, &jobs)
			if err != nil {
				return err
			}
			if job == nil {
				return errors.New("job not found: " + args[0])
			}
			return render(cmd.OutOrStdout(), rootOpts, job, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "%s %s %d%% %s\n", job.ID, job.Status, job.Progress, job.Message)
				return err
			})
		},
	}
}
