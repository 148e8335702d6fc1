package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/cdv/internal/engine"
	"github.com/roach88/cdv/internal/model"
)

const defaultActor = "cli"

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printCertificate(w io.Writer, c model.Certificate) {
	kg, minutes, units := c.Quantities.Strings()
	fmt.Fprintf(w, "✓ Certificate %s (%s)\n", c.Number, c.ID)
	fmt.Fprintf(w, "  Quota:      %s\n", c.QuotaID)
	fmt.Fprintf(w, "  Investor:   %s\n", c.Investor.LegalName)
	fmt.Fprintf(w, "  Quantities: %s kg, %s min, %s units\n", kg, minutes, units)
	if len(c.UIBIDs) > 0 {
		fmt.Fprintf(w, "  UIBs:       %d\n", len(c.UIBIDs))
	}
	fmt.Fprintf(w, "  Hash:       %s\n", c.ValidationHash)
	fmt.Fprintf(w, "  Link:       %s\n", c.PublicLink)
}

// NewIssueCommand creates the issue command.
func NewIssueCommand(rootOpts *RootOptions) *cobra.Command {
	var fromUIBs bool
	var actor string

	cmd := &cobra.Command{
		Use:   "issue <quota-id>",
		Short: "Issue the certificate of a ready quota",
		Long: `Issue freezes a ready quota into an immutable, hash-verifiable
certificate. With --uib the certificate lists the quota's reserved UIBs
and its quantities are the UIB counts.

Example:
  cdv issue q-0001
  cdv issue q-0001 --uib --actor ops@example.org`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			ctx := commandContext(cmd)
			a, err := rootOpts.open(ctx, f)
			if err != nil {
				return err
			}
			defer a.Close()

			issue := a.engine.Issue
			if fromUIBs {
				issue = a.engine.IssueFromUIBs
			}
			cert, err := issue(ctx, args[0], actor)
			if err != nil {
				return f.Fail("issue failed", err)
			}
			return f.Result(cert, func(w io.Writer) { printCertificate(w, cert) })
		},
	}

	cmd.Flags().BoolVar(&fromUIBs, "uib", false, "issue from the quota's reserved UIBs")
	cmd.Flags().StringVar(&actor, "actor", defaultActor, "who is issuing")
	return cmd
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <certificate-id>",
		Short: "Verify a certificate's hash and status",
		Long: `Validate recomputes a certificate's validation hash and reports
whether it is authentic and still valid.

Exit codes:
  0 - certificate is valid
  1 - certificate is revoked, tampered with, or the store is unavailable
  2 - certificate not found

Example:
  cdv validate 0192f0c4-7d1e-7c3a-9d55-6b1f0f3a2e10 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			ctx := commandContext(cmd)
			a, err := rootOpts.open(ctx, f)
			if err != nil {
				return err
			}
			defer a.Close()

			sum, valid := a.engine.Validate(ctx, args[0])
			if err := f.Result(sum, func(w io.Writer) { printSummary(w, sum) }); err != nil {
				return err
			}
			switch {
			case valid:
				return nil
			case sum.Reason == engine.ReasonNotFound:
				return NewExitError(ExitCommandError, "certificate not found")
			default:
				return NewExitError(ExitFailure, fmt.Sprintf("certificate invalid: %s", sum.Reason))
			}
		},
	}
	return cmd
}

func printSummary(w io.Writer, s engine.Summary) {
	if s.Valid {
		fmt.Fprintf(w, "✓ Certificate %s is valid\n", s.Number)
	} else {
		fmt.Fprintf(w, "✗ Certificate %s is not valid: %s\n", s.CertificateID, s.Reason)
	}
	if s.Reason == engine.ReasonNotFound || s.Reason == engine.ReasonUnavailable {
		return
	}
	kg, minutes, units := s.Quantities.Strings()
	fmt.Fprintf(w, "  Investor:   %s (%s)\n", s.InvestorName, s.InvestorTaxID)
	fmt.Fprintf(w, "  Quantities: %s kg, %s min, %s units\n", kg, minutes, units)
	fmt.Fprintf(w, "  CO2 avoided: %s kg\n", s.CO2Kg.StringFixed(2))
	fmt.Fprintf(w, "  Issued at:  %s\n", s.IssuedAt.Format(time.RFC3339))
}

// NewRevokeCommand creates the revoke command.
func NewRevokeCommand(rootOpts *RootOptions) *cobra.Command {
	var reason, actor string

	cmd := &cobra.Command{
		Use:   "revoke <certificate-id>",
		Short: "Revoke an issued certificate",
		Long: `Revoke marks a certificate invalid and records who revoked it and
why. The certificate snapshot is never modified.

Example:
  cdv revoke 0192f0c4-7d1e-7c3a-9d55-6b1f0f3a2e10 --reason "duplicate issuance"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			ctx := commandContext(cmd)
			a, err := rootOpts.open(ctx, f)
			if err != nil {
				return err
			}
			defer a.Close()

			rev, err := a.engine.Revoke(ctx, args[0], actor, reason)
			if err != nil {
				return f.Fail("revoke failed", err)
			}
			return f.Result(rev, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Certificate %s revoked by %s: %s\n", rev.CertificateID, rev.Actor, rev.Reason)
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "why the certificate is revoked (required)")
	cmd.Flags().StringVar(&actor, "actor", defaultActor, "who is revoking")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}
