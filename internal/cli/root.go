// Package cli is the settlr operator command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/smallbiznis/settlr/internal/app"
	datasetdomain "github.com/smallbiznis/settlr/internal/dataset/domain"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format  string // "json" | "text"
	Timeout time.Duration
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "settlr",
		Short:         "Monthly settlement reconciliation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "startup and command timeout for one-shot commands")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewWorkerCommand(opts))
	cmd.AddCommand(NewSubmitCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))
	cmd.AddCommand(NewReportCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// withCore starts the shared services, fills targets and runs fn.
func withCore(ctx context.Context, opts *RootOptions, fn func(context.Context) error, targets ...any) error {
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	a := fx.New(
		app.Infra,
		app.Core,
		app.Role("cli"),
		fx.NopLogger,
		fx.Populate(targets...),
	)
	if err := a.Start(ctx); err != nil {
		return err
	}
	runErr := fn(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// periodFlags binds --tenant --platform --year --month.
type periodFlags struct {
	Tenant   string
	Platform string
	Year     int
	Month    int
}

func (p *periodFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.Tenant, "tenant", "", "tenant id (required)")
	cmd.Flags().StringVar(&p.Platform, "platform", "", "xiaohongshu|douyin|wechat_video (required)")
	cmd.Flags().IntVar(&p.Year, "year", 0, "period year (required)")
	cmd.Flags().IntVar(&p.Month, "month", 0, "period month 1-12 (required)")
	for _, name := range []string{"tenant", "platform", "year", "month"} {
		_ = cmd.MarkFlagRequired(name)
	}
}

func (p *periodFlags) key() datasetdomain.Key {
	return datasetdomain.Key{TenantID: p.Tenant, Platform: p.Platform, Year: p.Year, Month: p.Month}
}

// render writes v as indented JSON, or text via the fallback.
func render(w io.Writer, opts *RootOptions, v any, text func(io.Writer) error) error {
	if opts.Format == "json" || text == nil {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return text(w)
}
