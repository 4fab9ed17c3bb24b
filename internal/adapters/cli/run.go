package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/devbush/docscribe/internal/adapters/cli/tui"
	"github.com/devbush/docscribe/internal/adapters/document"
	"github.com/devbush/docscribe/internal/application"
	"github.com/devbush/docscribe/internal/config"
	"github.com/devbush/docscribe/internal/domain"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// estimatedOutputTokens is the typical response size of one transcript
const estimatedOutputTokens = 2500

var (
	runBatchSize int
	runWorkers   int
	runNoResume  bool
	runDryRun    bool
	listFileFlag string
)

// NewRunCmd creates the run command
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [dir|files...]",
		Short: "Transcribe documents through the realtime API",
		Long: `Transcribe documents concurrently through the realtime API.

Directories are searched recursively for PDFs and images. Without arguments
the configured input directory is used. Progress is saved after every
document; an interrupted run resumes where it stopped.

Example:
  docscribe run ./scans
  docscribe run --file docs.txt --workers 4
  docscribe run --dry-run`,
		RunE: runRun,
	}

	cmd.Flags().IntVar(&runBatchSize, "batch-size", 0, "Documents per batch (default from config)")
	cmd.Flags().IntVarP(&runWorkers, "workers", "w", 0, fmt.Sprintf("Concurrent workers, max %d (default derived from token budget)", config.MaxWorkers))
	cmd.Flags().BoolVar(&runNoResume, "no-resume", false, "Reprocess every document, replacing any active session")
	cmd.Flags().BoolVar(&runDryRun, "dry-run", false, "List what would be processed and the estimated cost")
	cmd.Flags().StringVarP(&listFileFlag, "file", "f", "", "File with document paths (one per line)")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	app, err := GetApp()
	if err != nil {
		return err
	}

	cfg := app.Config
	if runBatchSize > 0 {
		cfg.Processing.BatchSize = runBatchSize
	}
	if runWorkers > 0 {
		cfg.Processing.Workers = min(runWorkers, config.MaxWorkers)
	}
	if runNoResume {
		cfg.Processing.Resume = false
	}

	docs, err := collectDocuments(app, args)
	if err != nil {
		return err
	}

	st, err := app.State.State()
	if err != nil {
		return fmt.Errorf("%w (run \"docscribe reset\" to start over)", err)
	}

	todo, resuming := planRun(app, docs, st, cfg.Processing.Resume)

	estimate, tokens := estimateCost(app, todo, false)
	if runDryRun {
		printDryRun(todo, tokens, estimate, cfg.Provider.Model)
		return nil
	}
	if len(todo) == 0 {
		fmt.Println("Nothing to process")
		return nil
	}

	question := fmt.Sprintf("Process %d documents with %s?", len(todo), cfg.Provider.Model)
	if resuming {
		question = fmt.Sprintf("Resume session %s with %d documents?", st.SessionID, len(todo))
	} else if st != nil && !st.IsComplete() {
		question = fmt.Sprintf("Replace session %s and reprocess %d documents?", st.SessionID, len(todo))
	}
	ok, err := confirm(question, "Estimated cost: "+tui.FormatCost(estimate))
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("Cancelled")
		return nil
	}

	if !resuming {
		if st, err = startSession(app, len(docs)); err != nil {
			return err
		}
	}
	app.ScopeToSession(st.SessionID)
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	app.ServeMetrics(ctx)

	svc, err := app.NewTranscribeService(ctx)
	if err != nil {
		return err
	}
	proc := app.NewProcessor(svc)

	progress := tui.NewBatchProgress(os.Stdout, st.TotalDocuments, st.Processed, quietFlag)
	proc.SetObserver(progress.AddResult)

	stop := proc.WatchSignals(ctx)
	defer stop()

	sum, runErr := proc.Run(ctx, todo)
	progress.Complete(sum != nil && sum.Completed)
	if runErr != nil {
		return runErr
	}

	if !quietFlag {
		if summary, err := app.State.Summary(); err == nil && summary != nil {
			fmt.Println()
			fmt.Println(summary.String())
		}
	}
	if !sum.Completed {
		fmt.Println(tui.WarnStyle.Render("Stopped early. Run again to resume."))
	}
	return nil
}

// planRun picks the documents to process. An active session is resumed with
// its pending documents. Without resume every document is processed again
// and the active session is replaced once the run is confirmed.
func planRun(app *App, docs []domain.Document, st *domain.ProcessingState, resume bool) ([]domain.Document, bool) {
	active := st != nil && !st.IsComplete()
	if !active {
		return docs, false
	}
	if !resume {
		app.Log.WithField("session_id", st.SessionID).
			Warn("--no-resume: the active session will be replaced and every document reprocessed")
		return docs, false
	}

	todo := application.PendingDocuments(docs, app.Outputs, st)
	if len(todo) > st.Remaining {
		app.Log.WithFields(logrus.Fields{
			"pending":   len(todo),
			"remaining": st.Remaining,
		}).Warn("more pending documents than the session expects, processing the first ones only")
		todo = todo[:st.Remaining]
	}
	return todo, true
}

// startSession replaces any existing session with a new one over total documents
func startSession(app *App, total int) (*domain.ProcessingState, error) {
	st, err := app.State.CreateNewSession(total, app.Config.Processing.BatchSize, app.Config.Processing.PromptVersion)
	if errors.Is(err, domain.ErrSessionExists) {
		if err := app.State.Reset(); err != nil {
			return nil, err
		}
		st, err = app.State.CreateNewSession(total, app.Config.Processing.BatchSize, app.Config.Processing.PromptVersion)
	}
	return st, err
}

// collectDocuments resolves args and the --file list, defaulting to the configured input directory
func collectDocuments(app *App, args []string) ([]domain.Document, error) {
	if len(args) == 0 && listFileFlag == "" {
		args = []string{app.Config.Paths.InputDir}
	}

	docs, err := document.Collect(app.FS, args, listFileFlag, app.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to collect documents: %w", err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("no supported documents found in %s", strings.Join(args, ", "))
	}
	return docs, nil
}

// estimateCost prices docs from their limiter reservations and a typical response size
func estimateCost(app *App, docs []domain.Document, batch bool) (float64, int) {
	estimate := app.Estimator()
	tokens := 0
	for _, doc := range docs {
		tokens += estimate(doc)
	}
	return app.Costs.Estimate(app.Config.Provider.Model, tokens, len(docs)*estimatedOutputTokens, batch), tokens
}

func printDryRun(docs []domain.Document, tokens int, estimate float64, model string) {
	const shown = 20

	fmt.Println()
	fmt.Println(tui.TitleStyle.Render(fmt.Sprintf("Would process %d documents with %s", len(docs), model)))
	for i, doc := range docs {
		if i == shown {
			fmt.Println(tui.MutedStyle.Render(fmt.Sprintf("  ... and %d more", len(docs)-shown)))
			break
		}
		fmt.Printf("  %s\n", doc.Path)
	}
	fmt.Println()
	fmt.Printf("  Estimated input tokens: %s\n", tui.FormatCount(int64(tokens)))
	fmt.Printf("  Estimated cost:         %s\n", tui.FormatCost(estimate))
	fmt.Println()
}
