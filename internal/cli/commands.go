package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cuongbtq/jobcore/internal/domain"
	"github.com/cuongbtq/jobcore/internal/queue"
	"github.com/spf13/cobra"
)

func newMigrateCommand(with runtimeWrapper) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the job, schedule and record tables",
		Args:  cobra.NoArgs,
		RunE: with(true, func(cmd *cobra.Command, rt *Runtime, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
			return nil
		}),
	}
}

func newEnqueueCommand(with runtimeWrapper) *cobra.Command {
	var (
		priority    int
		maxAttempts int
		delay       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "enqueue <queue> [payload-json]",
		Short: "Add a job to a queue",
		Args:  cobra.RangeArgs(1, 2),
		RunE: with(false, func(cmd *cobra.Command, rt *Runtime, args []string) error {
			var payload json.RawMessage
			if len(args) == 2 {
				payload = json.RawMessage(args[1])
			}
			job, err := rt.Queue.AddJob(cmd.Context(), args[0], payload, queue.AddOptions{
				Priority:    priority,
				MaxAttempts: maxAttempts,
				Delay:       delay,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job enqueued successfully: %s\n", job.ID)
			return nil
		}),
	}

	cmd.Flags().IntVar(&priority, "priority", 0, "Higher runs first")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "Attempts before the job fails (0 uses the configured default)")
	cmd.Flags().DurationVar(&delay, "delay", 0, "Wait before the job becomes eligible")
	return cmd
}

func newJobsCommand(with runtimeWrapper) *cobra.Command {
	jobs := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage jobs of a queue",
	}
	jobs.AddCommand(
		newJobsListCommand(with),
		newJobsGetCommand(with),
		newJobsRetryCommand(with),
		newJobsDeleteCommand(with),
	)
	return jobs
}

func newJobsListCommand(with runtimeWrapper) *cobra.Command {
	var (
		statuses string
		limit    int
		offset   int
	)

	cmd := &cobra.Command{
		Use:   "list <queue>",
		Short: "List jobs of a queue",
		Args:  cobra.ExactArgs(1),
		RunE: with(false, func(cmd *cobra.Command, rt *Runtime, args []string) error {
			filter, err := parseStatuses(statuses)
			if err != nil {
				return err
			}
			jobs, err := rt.Queue.GetJobsByStatus(cmd.Context(), args[0], filter, limit, offset)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tATTEMPTS\tCREATED\tERROR")
			for _, j := range jobs {
				errMsg := ""
				if j.Error != nil {
					errMsg = *j.Error
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%d/%d\t%s\t%s\n",
					j.ID, j.Status, j.Priority, j.Attempts, j.MaxAttempts,
					j.CreatedAt.Format(time.RFC3339), errMsg)
			}
			return w.Flush()
		}),
	}

	cmd.Flags().StringVar(&statuses, "status", "", "Comma separated statuses to include (default all)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of jobs")
	cmd.Flags().IntVar(&offset, "offset", 0, "Jobs to skip")
	return cmd
}

func parseStatuses(raw string) ([]domain.JobStatus, error) {
	if raw == "" {
		return nil, nil
	}
	var out []domain.JobStatus
	for _, s := range strings.Split(raw, ",") {
		st, ok := domain.ParseJobStatus(strings.TrimSpace(s))
		if !ok {
			return nil, domain.NewValidationError("unknown job status %q", s)
		}
		out = append(out, st)
	}
	return out, nil
}

func newJobsGetCommand(with runtimeWrapper) *cobra.Command {
	return &cobra.Command{
		Use:   "get <queue> <id>",
		Short: "Print one job as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: with(false, func(cmd *cobra.Command, rt *Runtime, args []string) error {
			job, err := rt.Queue.GetJob(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		}),
	}
}

func newJobsRetryCommand(with runtimeWrapper) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <queue> <id>",
		Short: "Reset a failed job to pending",
		Args:  cobra.ExactArgs(2),
		RunE: with(false, func(cmd *cobra.Command, rt *Runtime, args []string) error {
			ok, err := rt.Queue.RetryJob(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("job %s is not failed", args[1])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s queued for retry\n", args[1])
			return nil
		}),
	}
}

func newJobsDeleteCommand(with runtimeWrapper) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <queue> <id>",
		Short: "Remove a job",
		Args:  cobra.ExactArgs(2),
		RunE: with(false, func(cmd *cobra.Command, rt *Runtime, args []string) error {
			if err := rt.Queue.DeleteJob(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s deleted\n", args[1])
			return nil
		}),
	}
}

func newStatsCommand(with runtimeWrapper) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <queue>...",
		Short: "Show job counts per status",
		Args:  cobra.MinimumNArgs(1),
		RunE: with(false, func(cmd *cobra.Command, rt *Runtime, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "QUEUE\tPENDING\tPROCESSING\tRETRYING\tCOMPLETED\tFAILED\tTOTAL")
			for _, name := range args {
				s, err := rt.Queue.GetQueueStats(cmd.Context(), name)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
					s.Queue, s.Pending, s.Processing, s.Retrying, s.Completed, s.Failed, s.Total)
			}
			return w.Flush()
		}),
	}
}

func newCleanupCommand(with runtimeWrapper) *cobra.Command {
	var (
		queueName string
		olderThan int
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete one batch of finished jobs older than the given age",
		Args:  cobra.NoArgs,
		RunE: with(false, func(cmd *cobra.Command, rt *Runtime, _ []string) error {
			n, err := rt.Queue.CleanupOldJobs(cmd.Context(), queueName, olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d jobs\n", n)
			return nil
		}),
	}

	cmd.Flags().StringVar(&queueName, "queue", "", "Limit to one queue (default all)")
	cmd.Flags().IntVar(&olderThan, "older-than", 30, "Age in days")
	return cmd
}

func newMaintenanceCommand(with runtimeWrapper) *cobra.Command {
	m := &cobra.Command{
		Use:   "maintenance",
		Short: "Run record cleanup tasks",
	}
	m.AddCommand(&cobra.Command{
		Use:   "run <kind>",
		Short: "Run a maintenance task now (expired, temp, quarantine, optimize, job-retention or all)",
		Args:  cobra.ExactArgs(1),
		RunE: with(false, func(cmd *cobra.Command, rt *Runtime, args []string) error {
			res, err := rt.Maintenance.Run(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("maintenance failed: %s", strings.Join(res.Errors, "; "))
			}
			return nil
		}),
	})
	return m
}

func newProcessCommand(with runtimeWrapper) *cobra.Command {
	return &cobra.Command{
		Use:   "process <queue>",
		Short: "Poll a relay queue once and wait for the dispatched jobs",
		Args:  cobra.ExactArgs(1),
		RunE: with(false, func(cmd *cobra.Command, rt *Runtime, args []string) error {
			n, err := rt.Queue.PollOnce(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			rt.Queue.Wait()
			fmt.Fprintf(cmd.OutOrStdout(), "Dispatched %d jobs\n", n)
			return nil
		}),
	}
}
