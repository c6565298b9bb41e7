package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newTrainCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the activity model on stored events",
		Long: `Fits the hidden Markov model with Baum-Welch on every worker-day between
--from and --to (inclusive), starting from the active model. With too few
worker-days the active model is kept.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseDate(from)
			if err != nil {
				return err
			}
			end, err := parseDate(to)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := a.training.Train(ctx, start, end.AddDate(0, 0, 1))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first work date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last work date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
