package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jengzang/worktag-backend-go/internal/analysis/hybrid"
	"github.com/jengzang/worktag-backend-go/internal/models"
)

// classifyInput is the file format read by "worktag classify --input".
type classifyInput struct {
	Worker   models.WorkerContext `json:"worker"`
	WorkDate string               `json:"work_date"`
	Events   []models.TagEvent    `json:"events"`
}

func newClassifyCmd() *cobra.Command {
	var (
		input    string
		workerID string
		date     string
	)
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify one worker-day and print the result as JSON",
		Long: `Classifies one worker-day. With --input the events are read from a JSON file
({"worker": {...}, "work_date": "YYYY-MM-DD", "events": [...]}) and nothing is stored.
With --worker and --date the day is loaded from the database and the result is stored.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" && (workerID == "" || date == "") {
				return errors.New("either --input or both --worker and --date are required")
			}
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var res models.DayResult
			if input != "" {
				in, err := readClassifyInput(input)
				if err != nil {
					return err
				}
				var workDate time.Time
				if in.WorkDate != "" {
					if workDate, err = parseDate(in.WorkDate); err != nil {
						return err
					}
				}
				res, err = a.classification.ClassifyEvents(ctx, in.Worker, workDate, in.Events)
				if err != nil && !errors.Is(err, hybrid.ErrTimelineCorrupt) {
					return err
				}
			} else {
				d, err := parseDate(date)
				if err != nil {
					return err
				}
				res, err = a.classification.ClassifyDay(ctx, workerID, d)
				if err != nil && !errors.Is(err, hybrid.ErrTimelineCorrupt) {
					return err
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "JSON file with worker, work_date and events")
	cmd.Flags().StringVar(&workerID, "worker", "", "worker id to classify from the database")
	cmd.Flags().StringVar(&date, "date", "", "work date (YYYY-MM-DD)")
	return cmd
}

func readClassifyInput(path string) (*classifyInput, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	var in classifyInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	if in.Worker.WorkerID == "" {
		return nil, errors.New("input: worker.worker_id is required")
	}
	if in.Worker.Role == "" {
		in.Worker.Role = models.RoleUnknown
	}
	return &in, nil
}
