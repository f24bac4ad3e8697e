package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath    string
	inputPath     string
	verbose       bool
	jsonOutput    bool
	traceExporter string
	traceEndpoint string

	serviceVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	serviceVersion = version

	rootCmd := &cobra.Command{
		Use:   "tenantsync",
		Short: "Declarative configuration for identity tenants",
		Long: `tenantsync reconciles a declarative description of an identity tenant
(clients, APIs, grants, connections, roles, rules, actions and tenant settings)
with the live tenant.

Every resource type is compared with the tenant and the difference is applied
as creates, updates and deletes, in dependency order. Deletions only happen
when they are explicitly allowed.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file path")
	rootCmd.PersistentFlags().StringVarP(&inputPath, "input", "i", "", "desired state file or CUE package directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&traceExporter, "trace-exporter", "none", "trace exporter (none, stdout, otlp)")
	rootCmd.PersistentFlags().StringVar(&traceEndpoint, "trace-endpoint", "", "OTLP collector endpoint")

	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
