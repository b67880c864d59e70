package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"petsim/internal/jobqueue"
	"petsim/internal/models"
)

func newJobsCmd(a *app) *cobra.Command {
	jobs := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and control background jobs",
	}
	jobs.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List all jobs",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.withQueue(cmd, func(q *jobqueue.Queue, format string) error {
					list, err := q.List(cmd.Context())
					if err != nil {
						return err
					}
					return render(cmd.OutOrStdout(), format, list, func(w io.Writer) { jobTable(w, list) })
				})
			},
		},
		&cobra.Command{
			Use:   "show [name]",
			Short: "Show one job",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withQueue(cmd, func(q *jobqueue.Queue, format string) error {
					job, err := q.Get(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					return render(cmd.OutOrStdout(), format, job, func(w io.Writer) { jobDetail(w, job) })
				})
			},
		},
		&cobra.Command{
			Use:   "trigger [name]",
			Short: "Make a job due now (its minimum interval still applies)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withQueue(cmd, func(q *jobqueue.Queue, _ string) error {
					job, err := q.Trigger(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					cmd.Printf("job %s triggered (min interval %s)\n", job.Name, q.MinInterval(job.Name))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "ensure",
			Short: "Create the default recurring jobs if they are missing",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := a.config()
				if err != nil {
					return err
				}
				return a.withQueue(cmd, func(q *jobqueue.Queue, _ string) error {
					jobs, err := q.EnsureDefaults(cmd.Context(), cfg.PetDecayInterval, cfg.PetAutoMessageInterval)
					if err != nil {
						return err
					}
					for _, j := range jobs {
						cmd.Printf("%s every %s\n", j.Name, j.Interval)
					}
					return nil
				})
			},
		},
	)
	return jobs
}

func (a *app) withQueue(cmd *cobra.Command, fn func(q *jobqueue.Queue, format string) error) error {
	format, err := a.output()
	if err != nil {
		return err
	}
	st, cfg, err := a.backend(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()
	q := jobqueue.New(st, jobqueue.Options{
		StaleThreshold:     cfg.StaleLockThreshold,
		BatchSize:          cfg.ClaimBatchSize,
		MaxAttempts:        cfg.MaxAttempts,
		MinIntervals:       cfg.JobMinIntervals,
		DefaultMinInterval: cfg.JobDefaultMinInterval,
	})
	return fn(q, format)
}

func jobTable(w io.Writer, jobs []models.Job) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATUS\tINTERVAL\tNEXT RUN\tATTEMPTS\tLAST COMPLETED")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			j.Name, j.Status, j.Interval, formatTime(j.NextRun), j.Attempts, j.MaxAttempts, formatTime(j.LastCompletedAt))
	}
	tw.Flush()
}

func jobDetail(w io.Writer, j models.Job) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Name:\t%s\n", j.Name)
	fmt.Fprintf(tw, "Status:\t%s\n", j.Status)
	fmt.Fprintf(tw, "Recurring:\t%t\n", j.IsRecurring)
	fmt.Fprintf(tw, "Interval:\t%s\n", j.Interval)
	fmt.Fprintf(tw, "Next run:\t%s\n", formatTime(j.NextRun))
	fmt.Fprintf(tw, "Attempts:\t%d/%d\n", j.Attempts, j.MaxAttempts)
	if j.LockedBy != nil {
		fmt.Fprintf(tw, "Locked by:\t%s since %s\n", *j.LockedBy, formatTime(j.LockedAt))
	}
	fmt.Fprintf(tw, "Last completed:\t%s\n", formatTime(j.LastCompletedAt))
	if j.LastError != nil {
		fmt.Fprintf(tw, "Last error:\t%s\n", *j.LastError)
	}
	tw.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
