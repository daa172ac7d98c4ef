package commands

import (
	"errors"
	"fmt"
	"strings"
	"upgrader/internal/pipeline"

	"github.com/spf13/cobra"
)

func newUpdateCmd(opts *globalOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "update <version>",
		Short: "Upgrade the deployment to a release tag",
		Long: `Fetches tags, force-checks out the given tag, reinstalls dependencies and
clears caches, stopping at the first failing step. Refuses to run while another
upgrade holds the lease or while tracked files have local changes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer stack.Close()

			w := cmd.OutOrStdout()

			if dryRun {
				version := strings.TrimSpace(args[0])
				if !pipeline.ValidVersion(version) {
					return errors.New(pipeline.MsgInvalidVersion)
				}
				if ok, _ := stack.Source.TagExists(cmd.Context(), version); !ok {
					return errors.New(pipeline.MsgNotFound)
				}
				for _, step := range stack.Pipeline.Plan(version) {
					fmt.Fprintf(w, "%-13s %s\n", step.Name, step.Command.String())
				}
				return nil
			}

			out := stack.Pipeline.Run(cmd.Context(), args[0])
			if opts.json {
				if err := writeJSON(w, out); err != nil {
					return err
				}
			} else {
				fmt.Fprint(w, out.Log)
			}

			if !out.OK {
				return errors.New(out.Message)
			}
			if !opts.json {
				fmt.Fprintln(w, out.Message)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the commands that would run without running them")
	return cmd
}
