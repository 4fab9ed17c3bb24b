package cli

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/devbush/docscribe/internal/adapters/cli/tui"
	"github.com/devbush/docscribe/internal/domain"
	"github.com/spf13/cobra"
)

// listedDocuments caps the failed and low-confidence lists in status output
const listedDocuments = 10

// NewStatusCmd creates the status command
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show processing progress, or the status of a batch job",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runStatus,
	}
}

// NewListCmd creates the list command
func NewListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tracked batch jobs",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
}

// NewResetCmd creates the reset command
func NewResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Delete the processing state and start over",
		Long: `Delete the processing state file. Output files are kept, so the next
run skips documents that already have output and retries the failed ones.`,
		Args: cobra.NoArgs,
		RunE: runReset,
	}
}

// NewCheckpointCmd creates the checkpoint command
func NewCheckpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Snapshot the processing state",
		Args:  cobra.NoArgs,
		RunE:  runCheckpointCreate,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List checkpoints",
		Args:  cobra.NoArgs,
		RunE:  runCheckpointList,
	}

	showCmd := &cobra.Command{
		Use:   "show <file>",
		Short: "Show the progress recorded in a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE:  runCheckpointShow,
	}

	cmd.AddCommand(listCmd, showCmd)
	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		return runJobStatus(cmd, args[0])
	}

	app, err := GetApp()
	if err != nil {
		return err
	}

	summary, err := app.State.Summary()
	if err != nil {
		return err
	}
	if summary == nil {
		fmt.Println("No processing session. Start one with \"docscribe run\".")
		return nil
	}

	fmt.Println()
	fmt.Println(tui.TitleStyle.Render("Processing status"))
	fmt.Println(summary.String())

	if count, size, err := app.Outputs.Stats(); err == nil {
		fmt.Printf("Output files:   %d (%s) in %s\n", count, tui.FormatSize(size), app.Outputs.Dir())
	}

	st, err := app.State.State()
	if err != nil || st == nil {
		return err
	}
	printDocumentList("Failed", st.FailedDocuments, tui.ErrorStyle)

	low := make([]string, 0, len(st.LowConfidenceDocuments))
	for _, d := range st.LowConfidenceDocuments {
		low = append(low, fmt.Sprintf("%s (%.2f)", d.DocumentID, d.Confidence))
	}
	printDocumentList("Low confidence", low, tui.WarnStyle)

	if st.IsComplete() {
		fmt.Println()
		fmt.Println(tui.SuccessStyle.Render("✓ Session complete"))
	}
	fmt.Println()
	return nil
}

func printDocumentList(title string, items []string, style lipgloss.Style) {
	if len(items) == 0 {
		return
	}
	fmt.Println()
	fmt.Println(style.Render(fmt.Sprintf("%s (%d):", title, len(items))))
	for i, item := range items {
		if i == listedDocuments {
			fmt.Println(tui.MutedStyle.Render(fmt.Sprintf("  ... and %d more", len(items)-listedDocuments)))
			break
		}
		fmt.Printf("  %s\n", item)
	}
}

func runJobStatus(cmd *cobra.Command, jobID string) error {
	ctx := cmd.Context()
	_, svc, err := batchApp(ctx)
	if err != nil {
		return err
	}

	job, err := svc.JobStatus(ctx, jobID)
	if err != nil {
		return err
	}

	c := job.RequestCounts
	fmt.Println()
	fmt.Printf("  Job:        %s\n", job.ID)
	fmt.Printf("  Status:     %s\n", job.Status)
	fmt.Printf("  Model:      %s\n", job.Model)
	fmt.Printf("  Input:      %s (%d requests)\n", job.InputFile, job.RequestCount)
	fmt.Printf("  Progress:   %d completed, %d failed of %d\n", c.Completed, c.Failed, c.Total)
	fmt.Printf("  Created:    %s\n", tui.FormatDate(job.CreatedAt))
	if job.CompletedAt != nil {
		fmt.Printf("  Finished:   %s\n", tui.FormatDate(*job.CompletedAt))
	}
	if job.RawOutputPath != "" {
		fmt.Printf("  Raw output: %s\n", job.RawOutputPath)
	}
	fmt.Printf("  Processed:  %v\n", job.Processed)
	fmt.Println()
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	app, err := GetApp()
	if err != nil {
		return err
	}

	tracked, err := app.Jobs.List()
	if err != nil {
		return err
	}
	if len(tracked) == 0 {
		fmt.Println("No batch jobs tracked")
		return nil
	}

	fmt.Println()
	fmt.Println(tui.TitleStyle.Render(fmt.Sprintf("Batch jobs (%d)", len(tracked))))
	pending := 0
	for _, job := range tracked {
		fmt.Println("  " + tui.FormatJobLine(job))
		if job.Status == domain.JobCompleted && !job.Processed {
			pending++
		}
	}
	if pending > 0 {
		fmt.Println()
		fmt.Println(tui.WarnStyle.Render(fmt.Sprintf("%d completed jobs have not been retrieved yet", pending)))
	}
	fmt.Println()
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	app, err := GetApp()
	if err != nil {
		return err
	}

	// A corrupt state file can still be reset
	summary, _ := app.State.Summary()
	detail := ""
	if summary != nil {
		detail = fmt.Sprintf("Session %s has processed %d/%d documents.", summary.SessionID, summary.Processed, summary.TotalDocuments)
	}

	ok, err := confirm("Delete the processing state?", detail)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("Cancelled")
		return nil
	}

	if err := app.State.Reset(); err != nil {
		return err
	}
	fmt.Println("Processing state deleted")
	return nil
}

func runCheckpointCreate(cmd *cobra.Command, args []string) error {
	app, err := GetApp()
	if err != nil {
		return err
	}

	path, err := app.State.CreateCheckpoint()
	if err != nil {
		return err
	}
	fmt.Printf("Checkpoint written to %s\n", path)
	return nil
}

func runCheckpointList(cmd *cobra.Command, args []string) error {
	app, err := GetApp()
	if err != nil {
		return err
	}

	cps, err := app.State.Checkpoints()
	if err != nil {
		return err
	}
	if len(cps) == 0 {
		fmt.Println("No checkpoints")
		return nil
	}

	fmt.Println()
	fmt.Printf("  %-10s %s\n", "Processed", "File")
	for _, cp := range cps {
		fmt.Printf("  %-10d %s\n", cp.Processed, cp.Path)
	}
	fmt.Println()
	return nil
}

func runCheckpointShow(cmd *cobra.Command, args []string) error {
	app, err := GetApp()
	if err != nil {
		return err
	}

	st, err := app.State.LoadCheckpoint(args[0])
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("  Session:    %s\n", st.SessionID)
	fmt.Printf("  Progress:   %d/%d (%d remaining)\n", st.Processed, st.TotalDocuments, st.Remaining)
	fmt.Printf("  Successful: %d, failed %d, skipped %d\n", st.Successful, st.Failed, st.Skipped)
	fmt.Printf("  Cost:       %s\n", tui.FormatCost(st.CostSoFar))
	fmt.Printf("  Saved:      %s\n", tui.FormatDate(st.LastUpdated))
	fmt.Println()
	return nil
}
