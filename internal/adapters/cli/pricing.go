package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/devbush/docscribe/internal/adapters/cli/tui"
	"github.com/devbush/docscribe/internal/adapters/cost"
	"github.com/devbush/docscribe/internal/config"
	"github.com/spf13/cobra"
)

var (
	pricingDocsFlag  int
	pricingPagesFlag int
)

// NewPricingCmd creates the pricing command
func NewPricingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pricing",
		Short: "Show model prices and estimate the cost of a run",
		Args:  cobra.NoArgs,
		RunE:  runPricing,
	}
	cmd.Flags().IntVarP(&pricingDocsFlag, "documents", "n", 1000, "Number of documents to estimate for")
	cmd.Flags().IntVar(&pricingPagesFlag, "pages", 1, "Average pages per document")
	return cmd
}

func runPricing(cmd *cobra.Command, args []string) error {
	app, err := GetApp()
	if err != nil {
		return err
	}
	printPricing(os.Stdout, app.Config, app.Costs.Table(), pricingDocsFlag, pricingPagesFlag)
	return nil
}

// RunEstimate is the projected cost of processing docs documents of pages pages each
type RunEstimate struct {
	InputTokens  int64
	OutputTokens int64
	Realtime     float64
	Batch        float64
}

// EstimateRun projects token usage from the rate limit settings
func EstimateRun(cfg *config.Config, table cost.Table, docs, pages int) RunEstimate {
	perDoc := cfg.RateLimit.EstimatedTokensPerRequest + max(pages, 1)*cfg.RateLimit.TokensPerPage
	e := RunEstimate{
		InputTokens:  int64(docs) * int64(perDoc),
		OutputTokens: int64(docs) * estimatedOutputTokens,
	}
	e.Realtime = table.Estimate(cfg.Provider.Model, e.InputTokens, e.OutputTokens, false)
	e.Batch = table.Estimate(cfg.Provider.Model, e.InputTokens, e.OutputTokens, true)
	return e
}

func printPricing(w io.Writer, cfg *config.Config, table cost.Table, docs, pages int) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %-20s %12s %12s\n", "Model", "Input/1M", "Output/1M")
	fmt.Fprintln(w, "  "+strings.Repeat("-", 46))

	for _, name := range table.ModelNames() {
		p, _ := table.Price(name)
		line := fmt.Sprintf("  %-20s %12s %12s", name, fmt.Sprintf("$%.3f", p.InputPerMillion), fmt.Sprintf("$%.3f", p.OutputPerMillion))
		if name == strings.ToLower(cfg.Provider.Model) {
			line = tui.TitleStyle.Render(line + "  (configured)")
		}
		fmt.Fprintln(w, line)
	}
	if _, known := table.Price(cfg.Provider.Model); !known {
		fmt.Fprintln(w, tui.WarnStyle.Render(fmt.Sprintf("  %s is not in the table, estimates use the default rates", cfg.Provider.Model)))
	}

	e := EstimateRun(cfg, table, docs, pages)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Estimate for %d documents of %d pages with %s:\n", docs, max(pages, 1), cfg.Provider.Model)
	fmt.Fprintf(w, "    Tokens:    %s in, %s out\n", tui.FormatCount(e.InputTokens), tui.FormatCount(e.OutputTokens))
	fmt.Fprintf(w, "    Realtime:  %s\n", tui.FormatCost(e.Realtime))
	fmt.Fprintf(w, "    Batch API: %s\n", tui.FormatCost(e.Batch))
	fmt.Fprintln(w)
}
