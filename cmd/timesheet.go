package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/continuity/internal/models"
	"github.com/joescharf/continuity/internal/output"
	"github.com/joescharf/continuity/internal/store"
	"github.com/joescharf/continuity/internal/tools"
)

var (
	reportSprintID  string
	reportNarrative bool
	tasksLLM        string
	tasksSprintID   string
	tasksOpenOnly   bool
)

var timesheetCmd = &cobra.Command{
	Use:     "timesheet",
	Aliases: []string{"ts"},
	Short:   "Inspect the LLM timesheet",
	Long:    "Show sprint reports and tasks recorded by the llm_* tools.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return timesheetReportRun(cmd.Context(), "", false)
	},
}

var timesheetReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show a per-contributor sprint report",
	RunE: func(cmd *cobra.Command, args []string) error {
		return timesheetReportRun(cmd.Context(), reportSprintID, reportNarrative)
	},
}

var timesheetTasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List timesheet tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return timesheetTasksRun(cmd.Context(), store.TaskListFilter{
			SprintID: tasksSprintID,
			LLMName:  tasksLLM,
			OpenOnly: tasksOpenOnly,
		})
	},
}

var timesheetSprintsCmd = &cobra.Command{
	Use:   "sprints",
	Short: "List sprints, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return timesheetSprintsRun(cmd.Context())
	},
}

func init() {
	timesheetReportCmd.Flags().StringVar(&reportSprintID, "sprint", "", "Sprint ID (default active sprint)")
	timesheetReportCmd.Flags().BoolVar(&reportNarrative, "narrative", false, "Ask Claude for a narrative summary")
	timesheetTasksCmd.Flags().StringVar(&tasksLLM, "llm", "", "Filter by contributor")
	timesheetTasksCmd.Flags().StringVar(&tasksSprintID, "sprint", "", "Filter by sprint ID")
	timesheetTasksCmd.Flags().BoolVar(&tasksOpenOnly, "open", false, "Only tasks not punched out")

	timesheetCmd.AddCommand(timesheetReportCmd)
	timesheetCmd.AddCommand(timesheetTasksCmd)
	timesheetCmd.AddCommand(timesheetSprintsCmd)
	rootCmd.AddCommand(timesheetCmd)
}

func timesheetService() (*tools.Service, error) {
	b, err := getBackend()
	if err != nil {
		return nil, err
	}
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	opts := []tools.Option{tools.WithStore(s)}
	if c := newLLMClient(); c != nil {
		opts = append(opts, tools.WithNarrator(c))
	}
	return tools.NewService(b, opts...), nil
}

func timesheetReportRun(ctx context.Context, sprintID string, narrative bool) error {
	svc, err := timesheetService()
	if err != nil {
		return err
	}

	report, err := svc.SprintReport(orBackground(ctx), sprintID, narrative)
	if err != nil {
		return fmt.Errorf("sprint report: %w", err)
	}

	fmt.Fprintf(ui.Out, "Sprint %d  %s\n", report.Number, output.StatusColor(string(report.Status)))
	fmt.Fprintf(ui.Out, "  ID:      %s\n", report.SprintID)
	fmt.Fprintf(ui.Out, "  Started: %s\n", report.StartedAt.Local().Format("2006-01-02 15:04"))
	if report.EndedAt != nil {
		fmt.Fprintf(ui.Out, "  Ended:   %s\n", report.EndedAt.Local().Format("2006-01-02 15:04"))
	} else {
		fmt.Fprintf(ui.Out, "  Due:     %s\n", report.PlannedEnd.Local().Format("2006-01-02"))
	}
	if report.Summary != "" {
		fmt.Fprintf(ui.Out, "  Summary: %s\n", report.Summary)
	}
	fmt.Fprintf(ui.Out, "  Tasks:   %d (%d open), %.1f min\n\n", report.TaskCount, report.OpenTasks, report.TotalMinutes)

	if len(report.Contributors) == 0 {
		ui.Info("No tasks in this sprint.")
	} else {
		table := ui.Table([]string{"Contributor", "Tasks", "Open", "Minutes", "Files"})
		for _, c := range report.Contributors {
			_ = table.Append([]string{
				output.Cyan(c.LLMName),
				strconv.Itoa(c.Tasks),
				strconv.Itoa(c.OpenTasks),
				fmt.Sprintf("%.1f", c.Minutes),
				strconv.Itoa(len(c.Files)),
			})
		}
		_ = table.Render()
	}

	switch {
	case report.Narrative != "":
		fmt.Fprintf(ui.Out, "\n%s\n", report.Narrative)
	case report.NarrativeError != "":
		ui.Warning("Narrative unavailable: %s", report.NarrativeError)
	}
	return nil
}

func timesheetTasksRun(ctx context.Context, filter store.TaskListFilter) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	tasks, err := s.ListTasks(orBackground(ctx), filter)
	if err != nil {
		return err
	}

	if len(tasks) == 0 {
		ui.Info("No tasks. Record work with the llm_punch_in tool.")
		return nil
	}

	now := time.Now()
	table := ui.Table([]string{"ID", "LLM", "Status", "Started", "Minutes", "Description"})
	for _, t := range tasks {
		_ = table.Append([]string{
			output.Cyan(t.ID),
			t.LLMName,
			output.StatusColor(taskStatus(t)),
			t.StartedAt.Local().Format("2006-01-02 15:04"),
			fmt.Sprintf("%.1f", t.Duration(now).Minutes()),
			truncate(t.Description, 50),
		})
	}
	_ = table.Render()
	return nil
}

func timesheetSprintsRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	sprints, err := s.ListSprints(orBackground(ctx))
	if err != nil {
		return err
	}

	if len(sprints) == 0 {
		ui.Info("No sprints yet. The first llm_punch_in opens sprint 1.")
		return nil
	}

	table := ui.Table([]string{"Number", "ID", "Status", "Started", "Ended/Due", "Summary"})
	for _, sp := range sprints {
		end := sp.PlannedEnd.Local().Format("2006-01-02")
		if sp.EndedAt != nil {
			end = sp.EndedAt.Local().Format("2006-01-02 15:04")
		}
		_ = table.Append([]string{
			strconv.Itoa(sp.Number),
			output.Cyan(sp.ID),
			output.StatusColor(string(sp.Status)),
			sp.StartedAt.Local().Format("2006-01-02 15:04"),
			end,
			truncate(sp.Summary, 40),
		})
	}
	_ = table.Render()
	return nil
}

func taskStatus(t *models.Task) string {
	if t.Open() {
		return "open"
	}
	return "closed"
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}
