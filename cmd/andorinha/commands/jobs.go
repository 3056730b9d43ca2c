package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Mathweuzz/Andorinha-Jobs/clock"
	"github.com/Mathweuzz/Andorinha-Jobs/errors"
	"github.com/Mathweuzz/Andorinha-Jobs/queue"
)

// JobsCmd inspects jobs.
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect jobs",
	Long: `jobs — Inspect jobs

Examples:
  andorinha jobs ls                    # Most recent jobs
  andorinha jobs ls --status queued    # Queued jobs only
  andorinha jobs ls --limit 50`,
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List jobs, newest first",
	RunE:  runJobsLs,
}

var (
	jobsStatusFlag string
	jobsLimitFlag  int
)

func init() {
	JobsCmd.AddCommand(jobsLsCmd)
	jobsLsCmd.Flags().StringVar(&jobsStatusFlag, "status", "", "Filter by status (queued|leased|succeeded|failed|canceled)")
	jobsLsCmd.Flags().IntVar(&jobsLimitFlag, "limit", 20, "Maximum number of jobs to show")
}

func runJobsLs(cmd *cobra.Command, args []string) error {
	database, _, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	var status *queue.JobStatus
	if jobsStatusFlag != "" {
		if !queue.IsValidStatus(jobsStatusFlag) {
			return errors.NewInvalidRequestError("unknown status %q", jobsStatusFlag)
		}
		s := queue.JobStatus(jobsStatusFlag)
		status = &s
	}

	jobs, err := queue.NewStore(database).ListJobs(status, jobsLimitFlag)
	if err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-6s %-10s %-9s %-12s %-8s %-24s %s\n",
		"ID", "STATUS", "PRIORITY", "QUEUE", "ATTEMPT", "CREATED", "LEASE EXPIRES")
	for _, job := range jobs {
		leaseExp := "-"
		if job.LeaseExpiresAt != nil {
			leaseExp = clock.Format(*job.LeaseExpiresAt)
		}
		fmt.Printf("%-6d %-10s %-9d %-12s %d/%-6d %-24s %s\n",
			job.ID, job.Status, job.Priority, job.Queue,
			job.Attempt, job.MaxAttempts,
			clock.Format(job.CreatedAt), leaseExp)
	}
	return nil
}
