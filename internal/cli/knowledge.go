package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Index the knowledge directory into the retrieval store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			syncer, err := a.syncer()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = a.knowledgeDir()
			}

			report, err := syncer.Sync(cmd.Context(), dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Synced %d file(s) from %s: %d chunk(s) in %d batch(es), %d stale chunk(s) removed\n",
				report.Files, dir, report.Chunks, report.Batches, report.Removed)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "knowledge directory (default from retrieval.knowledgeDir)")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var n int

	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Query the knowledge store directly",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			provider, err := a.retriever()
			if err != nil {
				return err
			}
			if n <= 0 {
				n = a.cfg.Retrieval.NResults
			}

			out := cmd.OutOrStdout()
			snippets := provider.Query(cmd.Context(), strings.Join(args, " "), n)
			if len(snippets) == 0 {
				fmt.Fprintln(out, "No matching knowledge.")
				return nil
			}
			for i, s := range snippets {
				if i > 0 {
					fmt.Fprintln(out, "---")
				}
				fmt.Fprintln(out, strings.TrimSpace(s))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&n, "results", "n", 0, "number of snippets (default from retrieval.nResults)")
	return cmd
}
