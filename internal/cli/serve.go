package cli

import (
	"github.com/smallbiznis/settlr/internal/app"
	"github.com/smallbiznis/settlr/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func NewServeCommand(_ *RootOptions) *cobra.Command {
	var withWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API. With --worker a reconciliation worker runs in the
same process, which suits single-node deployments with the memory queue.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, role := app.API, "api"
			if withWorker {
				opts, role = app.Standalone, "standalone"
			}
			fx.New(opts, app.Role(role)).Run()
			return nil
		},
	}
	cmd.Flags().BoolVar(&withWorker, "worker", false, "also run a worker loop")
	return cmd
}

func NewWorkerCommand(_ *RootOptions) *cobra.Command {
	var maxJobs int
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume the job queue until interrupted",
		Long: `Consume the job queue until interrupted.

Example:
  settlr worker
  settlr worker --max-jobs 1   # drain one job and exit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var edits []func(*config.Config)
			if cmd.Flags().Changed("max-jobs") {
				edits = append(edits, func(cfg *config.Config) { cfg.Worker.MaxJobs = maxJobs })
			}
			fx.New(app.Worker, app.Role("worker", edits...)).Run()
			return nil
		},
	}
	cmd.Flags().IntVar(&maxJobs, "max-jobs", 0, "exit after this many jobs (0 = unlimited)")
	return cmd
}
