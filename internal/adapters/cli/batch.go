package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/devbush/docscribe/internal/adapters/cli/tui"
	"github.com/devbush/docscribe/internal/application"
	"github.com/devbush/docscribe/internal/config"
	"github.com/devbush/docscribe/internal/domain"
	"github.com/spf13/cobra"
)

var (
	maxRequestsFlag  int
	pollIntervalFlag string
	pollTimeoutFlag  string
	batchDryRunFlag  bool
)

// NewPrepareCmd creates the prepare command
func NewPrepareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prepare [dir|files...]",
		Short: "Write batch API request files",
		Long: `Write one JSONL request per document into the batch directory.

Documents that already have output files are left out. Files hold at most
--max-requests lines; submit them with "docscribe submit".`,
		RunE: runPrepare,
	}
	cmd.Flags().IntVar(&maxRequestsFlag, "max-requests", 0, "Requests per file (default from config)")
	cmd.Flags().StringVarP(&listFileFlag, "file", "f", "", "File with document paths (one per line)")
	return cmd
}

// NewSubmitCmd creates the submit command
func NewSubmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <file>...",
		Short: "Upload prepared request files and start batch jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSubmit,
	}
}

// NewPollCmd creates the poll command
func NewPollCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "poll <job-id>",
		Short: "Wait for a batch job to finish",
		Args:  cobra.ExactArgs(1),
		RunE:  runPoll,
	}
	addPollFlags(cmd)
	return cmd
}

// NewRetrieveCmd creates the retrieve command
func NewRetrieveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retrieve <job-id>",
		Short: "Download a finished job's results and write output files",
		Args:  cobra.ExactArgs(1),
		RunE:  runRetrieve,
	}
}

// NewCancelCmd creates the cancel command
func NewCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a running batch job",
		Args:  cobra.ExactArgs(1),
		RunE:  runCancel,
	}
}

// NewBatchCmd creates the batch command
func NewBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [dir|files...]",
		Short: "Prepare, submit, wait for and retrieve batch jobs in one go",
		Long: `Process documents through the asynchronous batch API at a discount.

This runs prepare, submit, poll and retrieve in sequence. Jobs are tracked
in the jobs file, so an interrupted command can be finished with "poll" and
"retrieve".

Example:
  docscribe batch ./scans
  docscribe batch --dry-run --max-requests 1000`,
		RunE: runBatchAll,
	}
	cmd.Flags().BoolVar(&batchDryRunFlag, "dry-run", false, "Write request files and stop before submitting")
	cmd.Flags().IntVar(&maxRequestsFlag, "max-requests", 0, "Requests per file (default from config)")
	cmd.Flags().StringVarP(&listFileFlag, "file", "f", "", "File with document paths (one per line)")
	addPollFlags(cmd)
	return cmd
}

func addPollFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&pollIntervalFlag, "interval", "", "Poll interval, e.g. 30s or 5m (default from config)")
	cmd.Flags().StringVar(&pollTimeoutFlag, "timeout", "", "Give up waiting after, e.g. 24h (default from config)")
}

// batchApp applies the batch flags to the config and builds the service
func batchApp(ctx context.Context) (*App, *application.BatchService, error) {
	app, err := GetApp()
	if err != nil {
		return nil, nil, err
	}

	cfg := app.Config
	if maxRequestsFlag > 0 {
		cfg.Batch.MaxRequestsPerFile = maxRequestsFlag
	}
	if pollIntervalFlag != "" {
		if _, err := config.ParseDuration(pollIntervalFlag); err != nil {
			return nil, nil, fmt.Errorf("--interval: %w", err)
		}
		cfg.Batch.PollInterval = pollIntervalFlag
	}
	if pollTimeoutFlag != "" {
		if _, err := config.ParseDuration(pollTimeoutFlag); err != nil {
			return nil, nil, fmt.Errorf("--timeout: %w", err)
		}
		cfg.Batch.Timeout = pollTimeoutFlag
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, nil, err
	}

	svc, err := app.NewBatchService(ctx)
	if err != nil {
		return nil, nil, err
	}
	return app, svc, nil
}

func runPrepare(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, svc, err := batchApp(ctx)
	if err != nil {
		return err
	}
	docs, err := collectDocuments(app, args)
	if err != nil {
		return err
	}

	files, err := svc.PrepareBatch(ctx, docs)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Println("Nothing to prepare, every document has output")
		return nil
	}

	estimate, _ := estimateCost(app, docs, true)
	fmt.Printf("%s Wrote %d request files (estimated batch cost %s)\n",
		tui.SuccessStyle.Render("✓"), len(files), tui.FormatCost(estimate))
	for _, f := range files {
		fmt.Printf("  %s\n", f)
	}
	return nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	_, svc, err := batchApp(ctx)
	if err != nil {
		return err
	}

	ok, err := confirm(fmt.Sprintf("Submit %d request files to the batch API?", len(args)), "")
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("Cancelled")
		return nil
	}

	for _, file := range args {
		job, err := svc.SubmitBatch(ctx, file)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s submitted as %s (%d requests)\n",
			tui.SuccessStyle.Render("✓"), file, job.ID, job.RequestCount)
	}
	return nil
}

func runPoll(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, svc, err := batchApp(ctx)
	if err != nil {
		return err
	}

	progress := tui.NewProgressDisplay(os.Stdout, []string{"Waiting for " + args[0]}, quietFlag)
	job, err := waitForJob(ctx, app, svc, progress, 0, args[0])
	if err != nil {
		return err
	}
	fmt.Println(tui.FormatJobLine(*job))
	return nil
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	_, svc, err := batchApp(ctx)
	if err != nil {
		return err
	}

	job, err := svc.JobStatus(ctx, args[0])
	if err != nil {
		return err
	}
	if !job.IsTerminal() {
		return fmt.Errorf("batch job %s is still %s, run \"docscribe poll %s\" first", job.ID, job.Status, job.ID)
	}

	progress := tui.NewBatchProgress(os.Stdout, max(job.RequestCounts.Total, job.RequestCount), 0, quietFlag)
	sum, err := svc.CollectResults(ctx, job.ID, func(res domain.DocumentResult) {
		progress.AddResult(res, nil)
	})
	progress.Complete(err == nil)
	if err != nil {
		return err
	}
	printBatchSummary(sum)
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	_, svc, err := batchApp(ctx)
	if err != nil {
		return err
	}

	job, err := svc.CancelBatch(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Cancellation requested for %s (status %s)\n", job.ID, job.Status)
	return nil
}

func runBatchAll(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, svc, err := batchApp(ctx)
	if err != nil {
		return err
	}
	docs, err := collectDocuments(app, args)
	if err != nil {
		return err
	}

	if !batchDryRunFlag {
		estimate, _ := estimateCost(app, docs, true)
		ok, err := confirm(
			fmt.Sprintf("Submit %d documents to the %s batch API?", len(docs), app.Config.Provider.Model),
			"Estimated cost: "+tui.FormatCost(estimate),
		)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Cancelled")
			return nil
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	app.ServeMetrics(ctx)

	// Job status while waiting is reported by the service log
	progress := tui.NewBatchProgress(os.Stdout, len(docs), 0, quietFlag)

	sum, err := svc.RunAll(ctx, docs, application.RunOptions{
		DryRun:   batchDryRunFlag,
		Observer: func(res domain.DocumentResult) { progress.AddResult(res, nil) },
	})
	if batchDryRunFlag {
		if err != nil {
			return err
		}
		fmt.Printf("Dry run: wrote %d request files to %s\n", len(sum.Files), app.Config.Paths.BatchDir)
		return nil
	}
	progress.Complete(err == nil)
	if err != nil {
		if errors.Is(err, domain.ErrPollTimeout) && sum != nil && len(sum.Jobs) > 0 {
			fmt.Println(tui.WarnStyle.Render("Jobs are still running. Finish later with \"docscribe poll\" and \"docscribe retrieve\"."))
		}
		return err
	}
	printBatchSummary(sum)
	return nil
}

// waitForJob polls with the given display step showing the job counts
func waitForJob(ctx context.Context, app *App, svc *application.BatchService, progress *tui.ProgressDisplay, step int, jobID string) (*domain.BatchJob, error) {
	progress.StartStep(step)
	spinner := progress.StartSpinner()
	defer close(spinner)

	svc.SetPollObserver(func(job *domain.BatchJob) {
		c := job.RequestCounts
		progress.SetDetail(step, fmt.Sprintf("%s %d/%d", job.Status, c.Completed+c.Failed, c.Total))
	})
	defer svc.SetPollObserver(nil)

	start := time.Now()
	job, err := svc.PollUntilComplete(ctx, jobID, app.Config.PollInterval(), app.Config.PollTimeout())
	if err != nil {
		progress.FailStep(step, err.Error())
		return nil, err
	}
	progress.CompleteStep(step, fmt.Sprintf("%s after %s", job.Status, time.Since(start).Round(time.Second)))
	return job, nil
}

func printBatchSummary(sum *application.BatchRunSummary) {
	if quietFlag || sum == nil {
		return
	}
	fmt.Println()
	fmt.Printf("  Jobs:       %d\n", len(sum.Jobs))
	fmt.Printf("  Successful: %d\n", sum.Successful)
	fmt.Printf("  Failed:     %d\n", sum.Failed)
	fmt.Printf("  Skipped:    %d\n", sum.Skipped)
	fmt.Printf("  Cost:       %s\n", tui.FormatCost(sum.Cost))
}
