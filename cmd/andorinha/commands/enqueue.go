package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mathweuzz/Andorinha-Jobs/clock"
	"github.com/Mathweuzz/Andorinha-Jobs/queue"
)

// EnqueueCmd inserts one job.
var EnqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Enqueue a job",
	Long: `enqueue — Insert one job in status queued

Examples:
  andorinha enqueue --payload '{"to":"x@example.com"}' --queue mail
  andorinha enqueue --payload backfill --priority -5 --max-attempts 3
  andorinha enqueue --payload report --scheduled-at 2026-09-01T06:00:00.000Z
  andorinha enqueue --payload sync --cron "0 * * * *" --rate-group api`,
	RunE: runEnqueue,
}

var (
	enqueueQueueFlag       string
	enqueuePriorityFlag    int
	enqueuePayloadFlag     string
	enqueueMaxAttemptsFlag int
	enqueueScheduledAtFlag string
	enqueueRateGroupFlag   string
	enqueueCronFlag        string
)

func init() {
	EnqueueCmd.Flags().StringVar(&enqueueQueueFlag, "queue", "default", "Queue partition")
	EnqueueCmd.Flags().IntVar(&enqueuePriorityFlag, "priority", 0, "Priority (lower value = served first)")
	EnqueueCmd.Flags().StringVar(&enqueuePayloadFlag, "payload", "", "Opaque payload string")
	EnqueueCmd.Flags().IntVar(&enqueueMaxAttemptsFlag, "max-attempts", 1, "Attempt ceiling before the job fails permanently")
	EnqueueCmd.Flags().StringVar(&enqueueScheduledAtFlag, "scheduled-at", "", "Earliest eligibility instant (YYYY-MM-DDTHH:MM:SS.mmmZ)")
	EnqueueCmd.Flags().StringVar(&enqueueRateGroupFlag, "rate-group", "", "Rate group (reserved for admission control)")
	EnqueueCmd.Flags().StringVar(&enqueueCronFlag, "cron", "", "Cron expression for recurrence (reserved)")
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	database, _, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	var scheduledAt *time.Time
	if enqueueScheduledAtFlag != "" {
		t, err := clock.Parse(enqueueScheduledAtFlag)
		if err != nil {
			return err
		}
		scheduledAt = &t
	}

	engine := queue.NewEngine(database)
	jobID, err := engine.Enqueue(queue.EnqueueRequest{
		Queue:       enqueueQueueFlag,
		Priority:    enqueuePriorityFlag,
		Payload:     enqueuePayloadFlag,
		MaxAttempts: enqueueMaxAttemptsFlag,
		ScheduledAt: scheduledAt,
		RateGroup:   enqueueRateGroupFlag,
		Cron:        enqueueCronFlag,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Enqueued job %d on queue %q\n", jobID, enqueueQueueFlag)
	return nil
}
