package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/cdv/internal/engine"
)

// Version is stamped at build time.
var Version = "dev"

// RootOptions holds global flags for all commands. Empty values fall back
// to the CDV_* environment.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	Database   string
	Driver     string
	PolicyFile string
	LogFormat  string

	// Clock and IDs replace the engine defaults (tests).
	Clock engine.Clock
	IDs   engine.IDGenerator
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the cdv CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "cdv",
		Short:   "CDV - Certificado Digital de Valor",
		Long:    "Turns confirmed impact events into hash-verifiable certificates for investor quotas.",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "SQLite path or PostgreSQL DSN (default $CDV_DB)")
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "", "store driver sqlite|postgres (default $CDV_DB_DRIVER)")
	cmd.PersistentFlags().StringVar(&opts.PolicyFile, "policy", "", "CUE policy file (default $CDV_POLICY)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format text|json (default $CDV_LOG_FORMAT)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewPromoteCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewEvaluateCommand(opts))
	cmd.AddCommand(NewMintUIBsCommand(opts))
	cmd.AddCommand(NewIssueCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewRevokeCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewEmitCommand(opts))
	cmd.AddCommand(NewPurchaseCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}
