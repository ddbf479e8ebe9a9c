package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded pipeline runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openCache(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		runs, err := st.ListRuns(ctx, runsLimit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("no runs recorded")
			return nil
		}
		for _, r := range runs {
			finished := "-"
			if r.FinishedAt.Valid {
				finished = r.FinishedAt.Time.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%s  %-9s %-9s rows=%-10d started=%s finished=%s\n",
				r.ID, r.Command, r.Status, r.RowsOut,
				r.StartedAt.Format("2006-01-02 15:04:05"), finished)
			if r.Detail != "" {
				fmt.Printf("    %s\n", r.Detail)
			}
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "max number of runs to list")
	rootCmd.AddCommand(runsCmd)
}
