package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbcore/fiberdb/fiber"
	"github.com/dbcore/fiberdb/internal/config"
	"github.com/dbcore/fiberdb/logger"
)

// runOptions holds the flags bound to the run subcommand.
type runOptions struct {
	workers int
	sleep   time.Duration
}

func newRunCommand(stdin io.Reader, stdout, stderr io.Writer, cfg *config.Config) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a demonstration cord that spawns, joins, and cord-cojoins cooperative tasks.",
		Long: `run starts a cord whose root task creates a handful of worker tasks,
each of which sleeps and yields before returning a result, joins them all,
then cord-cojoins a second cord to show a fiber waiting on another OS
thread's scheduler without blocking its own.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(stdout, opts, cfg)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.workers, "workers", 4, "number of worker tasks the root task joins")
	flags.DurationVar(&opts.sleep, "sleep", 10*time.Millisecond, "how long each worker sleeps before finishing")

	return cmd
}

func runDemo(stdout io.Writer, opts *runOptions, cfg *config.Config) error {
	log := logger.NopLogger

	idlePoll := time.Duration(cfg.PollIdleTimeout)

	secondary := fiber.CordStart("fiberdb-secondary", log, func(t *fiber.Task, args ...interface{}) (interface{}, error) {
		t.Scheduler().SetIdlePollTimeout(idlePoll)
		if err := t.Sleep(opts.sleep); err != nil {
			return nil, err
		}
		return "secondary cord finished", nil
	})

	primary := fiber.CordStart("fiberdb-primary", log, func(root *fiber.Task, args ...interface{}) (interface{}, error) {
		sched := root.Scheduler()
		sched.SetIdlePollTimeout(idlePoll)
		workers := make([]*fiber.Task, 0, opts.workers)
		for i := 0; i < opts.workers; i++ {
			idx := i
			wt := sched.CreateTask(fmt.Sprintf("worker-%d", idx), 0, func(t *fiber.Task, args ...interface{}) (interface{}, error) {
				if err := t.Yield(); err != nil {
					return nil, err
				}
				if err := t.Sleep(opts.sleep); err != nil {
					return nil, err
				}
				return fmt.Sprintf("worker %d done after %d context switches", idx, t.ContextSwitches()), nil
			})
			wt.SetJoinable(true)
			sched.Start(wt)
			workers = append(workers, wt)
		}

		for _, wt := range workers {
			result, err := root.Join(wt)
			if err != nil {
				return nil, fmt.Errorf("joining %s: %w", wt.Name(), err)
			}
			fmt.Fprintln(stdout, result)
		}

		secondaryResult, err := secondary.CordCojoin(root)
		if err != nil {
			return nil, fmt.Errorf("cord-cojoining secondary: %w", err)
		}
		fmt.Fprintln(stdout, secondaryResult)

		return "primary cord finished", nil
	})

	result, diag := primary.CordJoin()
	if diag != nil {
		return diag
	}
	fmt.Fprintln(stdout, result)
	return nil
}
