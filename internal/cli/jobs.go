package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/cdv/internal/scheduler"
)

// jobReport is the output of a one-shot engine job.
type jobReport struct {
	Job    string   `json:"job"`
	Ran    bool     `json:"ran"`
	Result any      `json:"result,omitempty"`
	Errors []string `json:"errors"`
}

func errorStrings(errs []error) []string {
	out := make([]string, 0, len(errs))
	for _, err := range errs {
		out = append(out, err.Error())
	}
	return out
}

// runJob opens the app, runs fn under the job lock and reports it.
// fn returns the result payload, its per-item errors and a one-line text
// summary.
func runJob(opts *RootOptions, cmd *cobra.Command, job string, fn func(ctx context.Context, a *app) (any, []error, string, error)) error {
	f := opts.formatter(cmd)
	ctx := commandContext(cmd)

	a, err := opts.open(ctx, f)
	if err != nil {
		return err
	}
	defer a.Close()

	report := jobReport{Job: job, Errors: []string{}}
	var summary string
	ran, err := a.guarded(ctx, job, func(ctx context.Context) error {
		result, errs, text, err := fn(ctx, a)
		report.Result = result
		report.Errors = errorStrings(errs)
		summary = text
		return err
	})
	report.Ran = ran
	if err != nil {
		return f.Fail(job+" failed", err)
	}

	return f.Result(report, func(w io.Writer) {
		if !ran {
			fmt.Fprintf(w, "%s skipped: another run holds the lock\n", job)
			return
		}
		fmt.Fprintf(w, "✓ %s: %s\n", job, summary)
		for _, e := range report.Errors {
			fmt.Fprintf(w, "  ✗ %s\n", e)
		}
	})
}

// NewPromoteCommand creates the promote command.
func NewPromoteCommand(rootOpts *RootOptions) *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Promote unprocessed impact events into inventory",
		Long: `Promote turns unprocessed impact events into inventory records,
oldest first. Invalid events are quarantined and reported.

Example:
  cdv promote --batch 100`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(rootOpts, cmd, scheduler.JobPromote, func(ctx context.Context, a *app) (any, []error, string, error) {
				res, err := a.engine.Promote(ctx, batch)
				return res, res.Errors, fmt.Sprintf("%d promoted, %d rejected", res.Promoted, res.Rejected), err
			})
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 0, "maximum events to promote (default from policy)")
	return cmd
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Allocate available inventory to active quotas",
		Long: `Reconcile allocates available inventory to active quotas,
first-come first-served by purchase date.

Example:
  cdv reconcile --project proj-edu`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(rootOpts, cmd, scheduler.JobReconcile, func(ctx context.Context, a *app) (any, []error, string, error) {
				res, err := a.engine.Reconcile(ctx, project)
				return res, res.Errors, fmt.Sprintf("%d reconciliation records", len(res.Records)), err
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "limit to one project (default all)")
	return cmd
}

// NewEvaluateCommand creates the evaluate command.
func NewEvaluateCommand(rootOpts *RootOptions) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Move matured quotas to ready",
		Long: `Evaluate moves active quotas whose maturation date has passed to
ready, applying the policy's maturation rule.

Example:
  cdv evaluate
  cdv evaluate --now 2026-09-01T00:00:00Z`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var now time.Time
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return rootOpts.formatter(cmd).CommandError(ErrCodeInput, "invalid --now", err)
				}
				now = t
			}
			return runJob(rootOpts, cmd, scheduler.JobEvaluate, func(ctx context.Context, a *app) (any, []error, string, error) {
				evalAt := now
				if evalAt.IsZero() {
					evalAt = a.engine.Now()
				}
				res, err := a.engine.Evaluate(ctx, evalAt)
				return res, res.Errors, fmt.Sprintf("%d quotas ready", len(res.Transitioned)), err
			})
		},
	}
	cmd.Flags().StringVar(&at, "now", "", "evaluate as of this RFC 3339 instant (default now)")
	return cmd
}

// NewMintUIBsCommand creates the mint-uibs command.
func NewMintUIBsCommand(rootOpts *RootOptions) *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "mint-uibs",
		Short: "Tokenize reconciled progress into UIBs",
		Long: `Mint-uibs turns every whole unit of reconciled progress into a
UIB (Unidade de Impacto Brasileira) reserved for its quota.

Example:
  cdv mint-uibs --project proj-edu`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(rootOpts, cmd, scheduler.JobMintUIBs, func(ctx context.Context, a *app) (any, []error, string, error) {
				res, err := a.engine.MintUIBs(ctx, project)
				return res, res.Errors, fmt.Sprintf("%d UIBs minted", len(res.UIBs)), err
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "limit to one project (default all)")
	return cmd
}
