package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionsCmd(opts *globalOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List release tags, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := queryContext(cmd)
			defer cancel()

			stack, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer stack.Close()

			versions := stack.Source.ListVersions(ctx, limit)
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"versions": versions})
			}
			for _, v := range versions {
				fmt.Fprintln(cmd.OutOrStdout(), v)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of tags (default 30)")
	return cmd
}

func newCurrentCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "current",
		Short: "Print the checked-out revision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := queryContext(cmd)
			defer cancel()

			stack, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer stack.Close()

			ref := stack.Source.CurrentRef(ctx)
			if ref == "" {
				return fmt.Errorf("could not describe the revision checked out in %s", opts.root)
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"currentRef": ref})
			}
			fmt.Fprintln(cmd.OutOrStdout(), ref)
			return nil
		},
	}
}

func newStatusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Compare the checked-out revision with the newest release",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := queryContext(cmd)
			defer cancel()

			stack, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer stack.Close()

			current := stack.Source.CurrentRef(ctx)
			versions := stack.Source.ListVersions(ctx, 1)
			latest := ""
			if len(versions) > 0 {
				latest = versions[0]
			}
			clean, changes, cleanErr := stack.Source.Clean(ctx)
			available := latest != "" && latest != current

			if opts.json {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"currentRef":      current,
					"latest":          latest,
					"updateAvailable": available,
					"clean":           cleanErr == nil && clean,
				})
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "current:  %s\n", current)
			fmt.Fprintf(w, "latest:   %s\n", latest)
			switch {
			case cleanErr != nil:
				fmt.Fprintln(w, "worktree: unknown")
			case clean:
				fmt.Fprintln(w, "worktree: clean")
			default:
				fmt.Fprintf(w, "worktree: modified\n%s\n", changes)
			}
			if available {
				fmt.Fprintf(w, "\nRun `upgradectl update %s` to upgrade.\n", latest)
			}
			return nil
		},
	}
}
