package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/cdv/internal/engine"
	"github.com/roach88/cdv/internal/fixture"
	"github.com/roach88/cdv/internal/server"
)

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed <fixture.yaml>",
		Short: "Load projects, investors, quotas and events from a YAML fixture",
		Long: `Seed applies a YAML fixture through the engine. Seeding is
idempotent: projects and investors are created once, purchases are topped
up to the requested count, and events deduplicate on their origin.

Example:
  cdv seed ./fixtures/demo.yaml --db ./cdv.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			fx, err := fixture.Load(args[0])
			if err != nil {
				return f.CommandError(ErrCodeInput, "invalid fixture", err)
			}

			ctx := commandContext(cmd)
			a, err := rootOpts.open(ctx, f)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := fixture.Apply(ctx, a.engine, fx)
			if err != nil {
				return f.Fail("seed failed", err)
			}
			return f.Result(res, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Seeded %s\n", fx.Name)
				fmt.Fprintf(w, "  Projects:  %d\n", res.Projects)
				fmt.Fprintf(w, "  Investors: %d\n", res.Investors)
				fmt.Fprintf(w, "  Quotas:    %d\n", len(res.Quotas))
				fmt.Fprintf(w, "  Events:    %d new, %d duplicate\n", res.Events, res.Duplicate)
			})
		},
	}
	return cmd
}

// EmitOptions holds flags for the emit command.
type EmitOptions struct {
	*RootOptions
	Type       string
	Quantity   string
	Subtype    string
	Project    string
	Origin     string
	OccurredAt string
}

// NewEmitCommand creates the emit command.
func NewEmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "emit",
		Short: "Record a confirmed impact event",
		Long: `Emit appends a confirmed impact event. Emission is idempotent on
(type, origin, subtype): repeating it returns the stored event.

Example:
  cdv emit --type residue --quantity 320.5 --project proj-edu --origin ticket-118`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			occurred := time.Time{}
			if opts.OccurredAt != "" {
				t, err := time.Parse(time.RFC3339, opts.OccurredAt)
				if err != nil {
					return f.CommandError(ErrCodeInput, "invalid --at", err)
				}
				occurred = t
			}

			ctx := commandContext(cmd)
			a, err := opts.open(ctx, f)
			if err != nil {
				return err
			}
			defer a.Close()

			if occurred.IsZero() {
				occurred = a.engine.Now()
			}
			id, created, err := a.engine.EmitImpactEvent(ctx, engine.EmitRequest{
				Type:       opts.Type,
				Quantity:   opts.Quantity,
				Subtype:    opts.Subtype,
				ProjectID:  opts.Project,
				OriginRef:  opts.Origin,
				OccurredAt: occurred,
			})
			if err != nil {
				return f.Fail("emit failed", err)
			}
			data := map[string]any{"id": id, "created": created}
			return f.Result(data, func(w io.Writer) {
				if created {
					fmt.Fprintf(w, "✓ Impact event %s recorded\n", id)
				} else {
					fmt.Fprintf(w, "✓ Impact event %s already recorded\n", id)
				}
			})
		},
	}

	cmd.Flags().StringVar(&opts.Type, "type", "", "impact type: residue, education or packaging (required)")
	cmd.Flags().StringVar(&opts.Quantity, "quantity", "", "positive decimal quantity (required)")
	cmd.Flags().StringVar(&opts.Subtype, "subtype", "", "optional subtype, part of the idempotency key")
	cmd.Flags().StringVar(&opts.Project, "project", "", "project id (required)")
	cmd.Flags().StringVar(&opts.Origin, "origin", "", "origin reference in the collaborator's system (required)")
	cmd.Flags().StringVar(&opts.OccurredAt, "at", "", "when the impact occurred, RFC 3339 (default now)")
	for _, name := range []string{"type", "quantity", "project", "origin"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

// NewPurchaseCommand creates the purchase command.
func NewPurchaseCommand(rootOpts *RootOptions) *cobra.Command {
	var project, investor, date string

	cmd := &cobra.Command{
		Use:   "purchase",
		Short: "Record the sale of one quota to an investor",
		Long: `Purchase creates an active quota with zero progress. Its targets
are the project targets divided evenly across the project's quotas.

Example:
  cdv purchase --project proj-edu --investor inv-acme --date 2026-03-01`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			var purchased time.Time
			if date != "" {
				t, err := time.Parse(time.DateOnly, date)
				if err != nil {
					return f.CommandError(ErrCodeInput, "invalid --date", err)
				}
				purchased = t
			}

			ctx := commandContext(cmd)
			a, err := rootOpts.open(ctx, f)
			if err != nil {
				return err
			}
			defer a.Close()

			if purchased.IsZero() {
				purchased = a.engine.Now()
			}
			q, err := a.engine.PurchaseQuota(ctx, engine.PurchaseRequest{
				ProjectID:    project,
				InvestorID:   investor,
				PurchaseDate: purchased,
			})
			if err != nil {
				return f.Fail("purchase failed", err)
			}
			return f.Result(q, func(w io.Writer) {
				kg, minutes, units := q.Targets.Strings()
				fmt.Fprintf(w, "✓ Quota %s (%s) sold to %s\n", q.Number, q.ID, q.InvestorID)
				fmt.Fprintf(w, "  Targets:  %s kg, %s min, %s units\n", kg, minutes, units)
				fmt.Fprintf(w, "  Matures:  %s\n", q.MaturationDate.Format(time.DateOnly))
			})
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "project id (required)")
	cmd.Flags().StringVar(&investor, "investor", "", "investor id (required)")
	cmd.Flags().StringVar(&date, "date", "", "purchase date YYYY-MM-DD (default today)")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("investor")
	return cmd
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	var subject, investor string
	var roles []string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign an API token with CDV_HTTP_JWT_SECRET",
		Long: `Token signs an HS256 bearer token for the authenticated API routes.

Example:
  cdv token --sub ops@example.org --role admin
  cdv token --sub acme --role investor --investor inv-acme --ttl 720h`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			cfg, err := rootOpts.resolveConfig()
			if err != nil {
				return f.CommandError(ErrCodeConfig, "invalid configuration", err)
			}
			if cfg.HTTP.JWTSecret == "" {
				return f.CommandError(ErrCodeConfig, "CDV_HTTP_JWT_SECRET is not set", nil)
			}
			for _, r := range roles {
				switch r {
				case server.RoleCollaborator, server.RoleInvestor, server.RoleAdmin:
				default:
					return f.CommandError(ErrCodeInput, fmt.Sprintf("unknown role %q", r), nil)
				}
			}

			auth, err := server.NewAuthenticator([]byte(cfg.HTTP.JWTSecret), cfg.HTTP.JWTIssuer)
			if err != nil {
				return f.CommandError(ErrCodeConfig, "invalid JWT settings", err)
			}
			token, err := auth.Sign(server.Principal{Subject: subject, Roles: roles, InvestorID: investor}, ttl)
			if err != nil {
				return f.Fail("sign token", err)
			}
			return f.Result(map[string]string{"token": token}, func(w io.Writer) {
				fmt.Fprintln(w, token)
			})
		},
	}

	cmd.Flags().StringVar(&subject, "sub", "", "token subject (required)")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role: collaborator, investor or admin (repeatable, required)")
	cmd.Flags().StringVar(&investor, "investor", "", "investor id bound to the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("sub")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}
