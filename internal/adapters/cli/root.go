package cli

import (
	"fmt"
	"os"

	"github.com/devbush/docscribe/internal/adapters/cli/tui"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFlag   string
	quietFlag    bool
	verboseFlag  bool
	yesFlag      bool
	providerFlag string
	modelFlag    string
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "docscribe",
		Short: "Transcribe scanned documents with multimodal models",
		Long: `docscribe transcribes scanned PDFs and images into structured JSON
records using OpenAI or Gemini, with resumable progress tracking.

Use "run" for realtime processing or the batch commands for the
discounted asynchronous API. Run without arguments for an interactive menu.`,
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		RunE:              runRoot,
		PersistentPostRun: func(cmd *cobra.Command, args []string) { closeApp() },
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default ~/.docscribe/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress progress output")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Debug logging")
	rootCmd.PersistentFlags().BoolVarP(&yesFlag, "yes", "y", false, "Skip confirmation prompts")
	rootCmd.PersistentFlags().StringVar(&providerFlag, "provider", "", "Provider: openai or vertex")
	rootCmd.PersistentFlags().StringVar(&modelFlag, "model", "", "Model identifier")

	// Add subcommands
	rootCmd.AddCommand(NewRunCmd())
	rootCmd.AddCommand(NewPrepareCmd(), NewSubmitCmd(), NewPollCmd(), NewRetrieveCmd(), NewCancelCmd(), NewBatchCmd())
	rootCmd.AddCommand(NewStatusCmd(), NewListCmd(), NewResetCmd(), NewCheckpointCmd())
	rootCmd.AddCommand(NewPricingCmd(), NewConfigCmd())

	return rootCmd
}

func runRoot(cmd *cobra.Command, args []string) error {
	return runInteractiveMenu(cmd)
}

func runInteractiveMenu(cmd *cobra.Command) error {
	options := []tui.MenuOption{
		{Label: "Process documents (realtime)", Value: "run"},
		{Label: "Show processing status", Value: "status"},
		{Label: "List batch jobs", Value: "list"},
		{Label: "Show pricing", Value: "pricing"},
		{Label: "Reset processing state", Value: "reset"},
	}

	selected, err := tui.RunMenu("What would you like to do?", options)
	if err != nil {
		return err
	}

	switch selected {
	case "run":
		return runRun(cmd, nil)
	case "status":
		return runStatus(cmd, nil)
	case "list":
		return runList(cmd, nil)
	case "pricing":
		return runPricing(cmd, nil)
	case "reset":
		return runReset(cmd, nil)
	case "":
		fmt.Println("Cancelled")
	}

	return nil
}

// confirm asks before spending money or deleting state. --yes answers for the user.
func confirm(question, detail string) (bool, error) {
	if yesFlag {
		return true, nil
	}
	return tui.Confirm(question, detail)
}

// Execute runs the CLI
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		closeApp()
		os.Exit(1)
	}
}
