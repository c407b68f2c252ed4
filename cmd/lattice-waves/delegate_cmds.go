package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kingrea/lattice-waves/internal/delegation"
	"github.com/kingrea/lattice-waves/internal/workflow"
	"github.com/kingrea/lattice-waves/internal/workflow/engine"
	"github.com/kingrea/lattice-waves/internal/workflow/scheduler"
)

func newDelegateCmd(opts *rootOptions) *cobra.Command {
	var (
		workContext string
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "delegate [TASK]",
		Short: "Show the delegation plan, or one task's work order",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.loadEnv()
			if err != nil {
				return err
			}
			defer env.Close()
			doc, err := env.store.Load()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("context") {
				workContext = env.cfg.Settings.Execution.Context
			}
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				task, ok := doc.Data.Task(args[0])
				if !ok {
					return fmt.Errorf("%w: %s", workflow.ErrTaskNotFound, args[0])
				}
				if ok, errs := delegation.ValidateForDelegation(*task); !ok {
					return fmt.Errorf("task cannot be delegated: %s", strings.Join(errs, "; "))
				}
				assignment, err := env.resolver.BuildAssignment(*task, workContext)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, assignment)
				}
				fmt.Fprint(out, assignment.Prompt)
				return nil
			}
			estimate := scheduler.EstimateDuration(doc.Data.Tasks)
			plan, err := env.resolver.BuildDelegationPlan(doc.Data.Tasks, workContext, scheduler.FormatMinutes(estimate.Total))
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, plan)
			}
			fmt.Fprintf(out, "%d tasks, est. %s\n", plan.TotalTasks, plan.TotalDuration)
			for _, category := range workflow.Categories() {
				if n := plan.CountsByCategory[category]; n > 0 {
					fmt.Fprintf(out, "  %-18s %d\n", category, n)
				}
			}
			for _, assignment := range plan.Assignments {
				fmt.Fprintf(out, "- %s (wave %d) [%s] %s\n", assignment.TaskID, assignment.Wave, assignment.Category, assignment.EstimatedLabel())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&workContext, "context", "", "shared context appended to work orders (defaults to execution.context)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	return cmd
}

func newPlanCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Render the wave-by-wave execution plan",
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
			plan, err := engine.BuildPlan(env.resolver, doc.Data.PlanID, doc.Data.Tasks, env.cfg.Settings.Execution.Context)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), engine.Render(plan))
			if !plan.Valid() {
				return fmt.Errorf("plan has %d validation error(s)", len(plan.ValidationErrors))
			}
			return nil
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarize progress recorded in the plan document",
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
			summary := progressSummary(doc.Data, env.cfg.Settings.Execution.HaltThreshold)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Plan %s: %s\n", doc.Data.PlanID, summary.Status)
			fmt.Fprintf(out, "  completed %d/%d, failed %d, pending %d, success rate %.1f%%\n",
				summary.CompletedTasks, summary.TotalTasks, summary.FailedTasks, summary.PendingTasks, summary.SuccessRate)
			if summary.Duration != "" {
				fmt.Fprintf(out, "  duration %s\n", summary.Duration)
			}
			for _, group := range scheduler.GroupByWave(doc.Data.Tasks) {
				done := 0
				for _, task := range group.Tasks {
					if task.Status == workflow.StatusCompleted {
						done++
					}
				}
				fmt.Fprintf(out, "  wave %d: %d/%d done\n", group.Wave, done, len(group.Tasks))
			}
			return nil
		},
	}
}

// progressSummary rebuilds an execution ledger from persisted statuses. A
// pending task carrying lastFailure counts as failed.
func progressSummary(list workflow.WorkflowTaskList, threshold float64) engine.Summary {
	start := list.CreatedAt
	if list.ExecutedAt != nil {
		start = *list.ExecutedAt
	}
	state := engine.Initialize(list.PlanID, list.Tasks, start)
	for _, task := range list.Tasks {
		switch {
		case task.Status == workflow.StatusCompleted:
			_ = state.MarkCompleted(task.ID)
		case task.Metadata["lastFailure"] != nil:
			_ = state.MarkFailed(task.ID)
		}
	}
	state.CurrentWave = state.MaxWave
	if list.CompletedAt != nil {
		state.Finish(*list.CompletedAt)
	}
	return state.Summarize(threshold)
}

func writeJSON(cmd *cobra.Command, value any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
