package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kingrea/lattice-waves/internal/artifact"
	"github.com/kingrea/lattice-waves/internal/config"
	"github.com/kingrea/lattice-waves/internal/delegation"
	"github.com/kingrea/lattice-waves/internal/workflow"
	"github.com/kingrea/lattice-waves/internal/workflow/graph"
	"github.com/kingrea/lattice-waves/internal/workflow/scheduler"
)

const starterPreamble = `# %s

Describe the request here. Everything outside the fenced block below is kept
as written; lattice-waves only rewrites the task data.

`

func newInitCmd(opts *rootOptions) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create .lattice/ with a default config and an empty plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			projectDir, err := opts.project()
			if err != nil {
				return err
			}
			if err := config.InitLatticeDir(projectDir); err != nil {
				return fmt.Errorf("init .lattice: %w", err)
			}
			env, err := opts.loadEnv()
			if err != nil {
				return err
			}
			defer env.Close()
			out := cmd.OutOrStdout()
			if _, err := os.Stat(env.store.Path()); err == nil {
				fmt.Fprintf(out, "Plan already exists at %s\n", env.store.Path())
				return nil
			} else if !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			format, _ := artifact.ParseFormat(env.cfg.Settings.Plan.Format)
			doc := artifact.NewDocument(workflow.NewTaskList(name, time.Now()), format)
			doc.Preamble = fmt.Sprintf(starterPreamble, name)
			if err := env.store.Save(doc); err != nil {
				return err
			}
			env.logger.Info("initialized plan", "path", env.store.Path(), "plan_id", doc.Data.PlanID)
			fmt.Fprintf(out, "Initialized %s (plan %s)\n", env.store.Path(), doc.Data.PlanID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "Untitled plan", "plan name")
	return cmd
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check graph integrity and that every task can be delegated",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := opts.loadEnv()
			if err != nil {
				return err
			}
			defer env.Close()
			doc, err := env.store.Load()
			if err != nil {
				return err
			}
			problems := graph.Validate(doc.Data.Tasks)
			for _, task := range doc.Data.Tasks {
				if ok, errs := delegation.ValidateForDelegation(task); !ok {
					problems = append(problems, errs...)
				}
			}
			out := cmd.OutOrStdout()
			if len(problems) == 0 {
				fmt.Fprintf(out, "OK: %d tasks\n", len(doc.Data.Tasks))
				return nil
			}
			for _, problem := range problems {
				fmt.Fprintf(out, "- %s\n", problem)
			}
			return fmt.Errorf("plan has %d problem(s)", len(problems))
		},
	}
}

func newWavesCmd(opts *rootOptions) *cobra.Command {
	var (
		overrides []string
		write     bool
	)
	cmd := &cobra.Command{
		Use:   "waves",
		Short: "Compute execution waves, optionally applying manual overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			manual, err := parseOverrides(overrides)
			if err != nil {
				return err
			}
			env, err := opts.loadEnv()
			if err != nil {
				return err
			}
			defer env.Close()
			doc, err := env.store.Load()
			if err != nil {
				return err
			}
			tasks, err := scheduleTasks(doc.Data.Tasks, manual)
			if err != nil {
				return err
			}
			printWaves(cmd.OutOrStdout(), tasks)
			if !write {
				return nil
			}
			waves := make(map[string]int, len(tasks))
			for _, task := range tasks {
				waves[task.ID] = task.Wave
			}
			_, err = env.store.Update(func(list *workflow.WorkflowTaskList) error {
				for i := range list.Tasks {
					if wave, ok := waves[list.Tasks[i].ID]; ok {
						list.Tasks[i].Wave = wave
					}
				}
				if list.BreakdownAt == nil {
					list.MarkBrokenDown(time.Now())
				}
				return nil
			})
			if err != nil {
				return err
			}
			env.logger.Info("waves written", "path", env.store.Path(), "waves", scheduler.MaxWave(tasks))
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote waves to %s\n", env.store.Path())
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&overrides, "override", nil, "manual wave as id=N (repeatable)")
	cmd.Flags().BoolVar(&write, "write", false, "persist the waves into the plan document")
	return cmd
}

// scheduleTasks validates the graph, levels it and applies manual overrides.
func scheduleTasks(tasks []workflow.Task, overrides map[string]int) ([]workflow.Task, error) {
	if problems := graph.Validate(tasks); len(problems) > 0 {
		return nil, fmt.Errorf("invalid task graph: %s", strings.Join(problems, "; "))
	}
	scheduled, err := scheduler.ApplyComputedWaves(tasks)
	if err != nil {
		return nil, err
	}
	if len(overrides) == 0 {
		return scheduled, nil
	}
	return scheduler.ApplyManualWaves(scheduled, overrides)
}

func printWaves(out io.Writer, tasks []workflow.Task) {
	for _, group := range scheduler.GroupByWave(tasks) {
		ids := make([]string, 0, len(group.Tasks))
		for _, task := range group.Tasks {
			ids = append(ids, task.ID)
		}
		fmt.Fprintf(out, "Wave %d: %s\n", group.Wave, strings.Join(ids, ", "))
	}
}

func newEstimateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "estimate",
		Short: "Project the plan's duration from task effort estimates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := opts.loadEnv()
			if err != nil {
				return err
			}
			defer env.Close()
			doc, err := env.store.Load()
			if err != nil {
				return err
			}
			estimate := scheduler.EstimateDuration(doc.Data.Tasks)
			out := cmd.OutOrStdout()
			for _, wave := range estimate.Waves() {
				fmt.Fprintf(out, "Wave %d: %s\n", wave, scheduler.FormatMinutes(estimate.PerWave[wave]))
			}
			fmt.Fprintf(out, "Total: %s\n", scheduler.FormatMinutes(estimate.Total))
			return nil
		},
	}
}

func newLinkCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "link BLOCKER BLOCKED",
		Short: "Record that BLOCKER must finish before BLOCKED starts",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.loadEnv()
			if err != nil {
				return err
			}
			defer env.Close()
			blocker, blocked := args[0], args[1]
			releveled := false
			_, err = env.store.Update(func(list *workflow.WorkflowTaskList) error {
				if err := list.Link(blocker, blocked); err != nil {
					return err
				}
				if cycle := graph.FindCycle(list.Tasks); cycle != nil {
					return fmt.Errorf("linking %s -> %s would create a cycle: %s", blocker, blocked, strings.Join(cycle, " -> "))
				}
				if needsWaves(list.Tasks) || scheduler.CheckWaveOrder(list.Tasks) == nil {
					return nil
				}
				scheduled, err := scheduleTasks(list.Tasks, nil)
				if err != nil {
					return err
				}
				list.Tasks = scheduled
				releveled = true
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s now blocks %s\n", blocker, blocked)
			if releveled {
				fmt.Fprintln(cmd.OutOrStdout(), "Waves recomputed to keep blockers ahead of the tasks they block.")
			}
			return nil
		},
	}
}

func newSetStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-status TASK STATUS",
		Short: "Set a task's status (pending, in_progress, completed, deleted)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.loadEnv()
			if err != nil {
				return err
			}
			defer env.Close()
			status := workflow.TaskStatus(strings.ToLower(strings.TrimSpace(args[1])))
			if err := env.store.SetTaskStatus(args[0], status); err != nil {
				return err
			}
			env.logger.Info("status changed", "task", args[0], "status", status)
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", args[0], status)
			return nil
		},
	}
}
