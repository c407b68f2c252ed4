package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kingrea/lattice-waves/internal/delegation"
	"github.com/kingrea/lattice-waves/internal/eventbridge"
	"github.com/kingrea/lattice-waves/internal/logbook"
	"github.com/kingrea/lattice-waves/internal/tui"
	"github.com/kingrea/lattice-waves/internal/workflow"
	"github.com/kingrea/lattice-waves/internal/workflow/engine"
	"github.com/kingrea/lattice-waves/internal/workflow/scheduler"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Dispatch waves to the outbox and wait for task notifications",
		Long: `Run writes a work order into .lattice/outbox/ for every task that can start,
then listens on the event bridge for task_completed and task_failed events.
Each outcome is recorded in the plan document and unblocks the next tasks.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := opts.loadEnv()
			if err != nil {
				return err
			}
			defer env.Close()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			return executeRun(ctx, env, cmd.OutOrStdout())
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "stop waiting for notifications after this long (0 waits forever)")
	return cmd
}

func executeRun(ctx context.Context, env *cliEnv, out io.Writer) error {
	releveled := false
	list, err := env.store.Update(func(list *workflow.WorkflowTaskList) error {
		if !needsWaves(list.Tasks) && scheduler.CheckWaveOrder(list.Tasks) == nil {
			return nil
		}
		scheduled, err := scheduleTasks(list.Tasks, nil)
		if err != nil {
			return err
		}
		releveled = !needsWaves(list.Tasks)
		list.Tasks = scheduled
		return nil
	})
	if err != nil {
		return err
	}
	if releveled {
		fmt.Fprintln(out, "Stored waves contradicted dependencies; waves recomputed.")
	}
	if err := env.store.MarkExecuted(); err != nil {
		return err
	}

	settings := eventbridge.SettingsFromConfig(env.cfg)
	if !settings.Enabled {
		return errors.New("run needs the event bridge to receive notifications; set bridge.enabled: true")
	}
	router := eventbridge.NewRouter(eventbridge.RouterWithLogger(env.logger))
	sub := router.Subscribe(list.PlanID)
	defer sub.Close()
	taskIDs := make([]string, 0, len(list.Tasks))
	for _, task := range list.Tasks {
		taskIDs = append(taskIDs, task.ID)
	}
	server := eventbridge.NewServer(settings,
		eventbridge.WithProcessor(router),
		eventbridge.WithLogger(env.logger),
		eventbridge.WithPlan(list.PlanID, taskIDs),
	)
	if err := server.Start(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	wf := env.cfg.Workflow()
	journal, err := logbook.New(wf.LogbookPath())
	if err != nil {
		return err
	}
	target := delegation.NewOutboxTarget(wf.OutboxDir(), delegation.WithNotifyURL(server.EventsURL()))
	driver, err := engine.NewDriver(list.PlanID, list.Tasks, env.resolver, target,
		engine.WithPlanStore(env.store),
		engine.WithJournal(journal),
		engine.WithHaltThreshold(env.cfg.Settings.Execution.HaltThreshold),
		engine.WithWorkContext(env.cfg.Settings.Execution.Context),
	)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Run %s: work orders in %s, notifications to %s\n", list.PlanID, wf.OutboxDir(), server.EventsURL())

	runErr := driver.Run(ctx, eventbridge.Notifications(ctx, sub.Events, env.logger))
	summary := driver.Summary()
	fmt.Fprintf(out, "Status: %s (%d/%d completed, %d failed, %d pending)\n",
		summary.Status, summary.CompletedTasks, summary.TotalTasks, summary.FailedTasks, summary.PendingTasks)
	if driver.Stalled() {
		fmt.Fprintln(out, "Remaining tasks are blocked by failures; fix them and run again.")
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}
	return nil
}

func needsWaves(tasks []workflow.Task) bool {
	for _, task := range tasks {
		if task.Wave < 1 {
			return true
		}
	}
	return false
}

func newViewCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Open the live wave board",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := opts.loadEnv()
			if err != nil {
				return err
			}
			defer env.Close()
			journal, err := logbook.New(env.cfg.Workflow().LogbookPath())
			if err != nil {
				return err
			}
			app := tui.NewApp(env.store, env.resolver,
				tui.WithLogbook(journal),
				tui.WithWorkContext(env.cfg.Settings.Execution.Context),
			)
			return tui.Run(app)
		},
	}
}
