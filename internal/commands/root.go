// Package commands implements the upgradectl subcommands. They run against
// the local deployment root without going through the HTTP service; the lease
// still keeps them from overlapping a service-driven upgrade.
package commands

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"
	"upgrader/internal/bootstrap"
	"upgrader/internal/config"

	"github.com/spf13/cobra"
)

type globalOptions struct {
	root       string
	toolRunner string
	verbose    bool
	json       bool
}

// NewRootCmd creates the upgradectl command tree.
func NewRootCmd(version string) *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "upgradectl",
		Short: "Inspect and upgrade a deployment to a release tag",
		Long: `upgradectl lists the release tags of a deployment's git working tree and
moves it to one of them: fetch, checkout, dependency install and cache clear,
under the same lease the upgrade service uses.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if opts.verbose {
				level = slog.LevelInfo
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}

	root.PersistentFlags().StringVar(&opts.root, "root", config.GetEnv("DEPLOY_ROOT", "."), "deployment root (git working tree)")
	root.PersistentFlags().StringVar(&opts.toolRunner, "tool-runner", config.GetEnv("TOOL_RUNNER", "local"), "where dependency and cache steps run: local or docker")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log progress to stderr")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "print JSON")

	root.AddCommand(
		newVersionsCmd(opts),
		newCurrentCmd(opts),
		newStatusCmd(opts),
		newUpdateCmd(opts),
	)
	return root
}

func (o *globalOptions) open(ctx context.Context) (*bootstrap.Stack, error) {
	return bootstrap.Open(ctx, bootstrap.Options{
		DeployRoot: o.root,
		ToolRunner: o.toolRunner,
	})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// queryContext bounds read-only commands.
func queryContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 2*time.Minute)
}
