package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

func newBatchCmd() *cobra.Command {
	var (
		from, to string
		workers  string
		resume   string
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Classify every worker-day in a date range",
		Long: `Runs a checkpointed batch job in the foreground. Interrupting it (Ctrl-C) leaves
the job failed with every finished worker-day saved; --resume <job-id> continues it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if resume == "" && (from == "" || to == "") {
				return errors.New("either --resume or both --from and --to are required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			jobID := resume
			if jobID == "" {
				var ids []string
				for _, id := range strings.Split(workers, ",") {
					if id = strings.TrimSpace(id); id != "" {
						ids = append(ids, id)
					}
				}
				job, err := a.batch.CreateJob(ctx, from, to, ids, "cli")
				if err != nil {
					return err
				}
				jobID = job.ID
				fmt.Fprintf(cmd.ErrOrStderr(), "job %s created\n", jobID)
			}

			runErr := a.batch.RunJob(ctx, jobID)
			job, err := a.batch.GetJob(cmd.Context(), jobID)
			if err != nil {
				return errors.Join(runErr, err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(job); err != nil {
				return err
			}
			if runErr != nil {
				return fmt.Errorf("job %s stopped (resume with --resume %s): %w", jobID, jobID, runErr)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first work date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last work date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&workers, "workers", "", "comma-separated worker ids; default is every worker")
	cmd.Flags().StringVar(&resume, "resume", "", "id of an interrupted job to continue")
	return cmd
}
