package commands

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mathweuzz/Andorinha-Jobs/errors"
	"github.com/Mathweuzz/Andorinha-Jobs/logger"
	"github.com/Mathweuzz/Andorinha-Jobs/queue"
	"github.com/Mathweuzz/Andorinha-Jobs/schedule"
	"github.com/Mathweuzz/Andorinha-Jobs/worker"
)

// WorkCmd runs a worker loop until interrupted.
var WorkCmd = &cobra.Command{
	Use:   "work",
	Short: "Run a worker",
	Long: `work — Acquire and process jobs until interrupted

The built-in handler logs each job's payload and reports success; it exists
to exercise the queue end to end. Embedders supply their own handler through
the worker package.

Examples:
  andorinha work                     # Consume every queue
  andorinha work --queue mail        # Consume one queue partition
  andorinha work --lease-ttl 120`,
	RunE: runWork,
}

var (
	workQueueFlag    string
	workLeaseTTLFlag int
	workPollFlag     int
)

func init() {
	WorkCmd.Flags().StringVar(&workQueueFlag, "queue", "", "Queue partition to consume (empty = all)")
	WorkCmd.Flags().IntVar(&workLeaseTTLFlag, "lease-ttl", 0, "Lease TTL in seconds (0 = configured default)")
	WorkCmd.Flags().IntVar(&workPollFlag, "poll-interval", 0, "Poll interval in seconds (0 = configured default)")
}

func runWork(cmd *cobra.Command, args []string) error {
	database, cfg, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	queueName := workQueueFlag
	if queueName == "" {
		queueName = cfg.Worker.Queue
	}
	leaseTTL := cfg.Worker.LeaseTTL()
	if workLeaseTTLFlag > 0 {
		leaseTTL = time.Duration(workLeaseTTLFlag) * time.Second
	}
	pollInterval := cfg.Worker.PollInterval()
	if workPollFlag > 0 {
		pollInterval = time.Duration(workPollFlag) * time.Second
	}

	engine := queue.NewEngine(database)
	rescheduler := schedule.NewRescheduler(engine)

	handler := func(ctx context.Context, job *queue.Job) error {
		logger.Infow("Processing job",
			"job_id", job.ID,
			"queue", job.Queue,
			"payload", job.Payload,
		)

		if job.Cron != "" {
			nextID, err := rescheduler.Reschedule(job)
			if err != nil {
				return err
			}
			logger.Infow("Scheduled next occurrence",
				"job_id", job.ID,
				"next_job_id", nextID,
				"cron", job.Cron,
			)
		}
		return nil
	}

	w := worker.New(database, engine, handler, worker.Options{
		Queue:        queueName,
		LeaseTTL:     leaseTTL,
		PollInterval: pollInterval,
		Logger:       logger.Logger,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
