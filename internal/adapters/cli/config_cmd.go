package cli

import (
	"fmt"
	"os"

	"github.com/devbush/docscribe/internal/adapters/cli/tui"
	"github.com/devbush/docscribe/internal/config"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configForceFlag bool

// NewConfigCmd creates the config subcommand
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create the configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE:  runConfigShow,
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with default values",
		RunE:  runConfigInit,
	}
	initCmd.Flags().BoolVar(&configForceFlag, "force", false, "Overwrite an existing config file")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Check credentials, prompt, schema and input directory",
		RunE:  runConfigCheck,
	}

	cmd.AddCommand(showCmd, initCmd, checkCmd)
	return cmd
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	app, err := GetApp()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(app.Config)
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFlag
	if path == "" {
		path = config.ConfigPath()
	}

	if _, err := os.Stat(path); err == nil && !configForceFlag {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}
	fmt.Printf("Config written to %s\n", path)
	return nil
}

func runConfigCheck(cmd *cobra.Command, args []string) error {
	app, err := GetApp()
	if err != nil {
		return err
	}
	cfg := app.Config

	fmt.Println()
	fmt.Println("Configuration Status:")
	fmt.Println()

	failed := 0
	report := func(name string, err error, ok string) {
		if err != nil {
			failed++
			fmt.Printf("  %-12s %s\n", name+":", tui.ErrorStyle.Render(err.Error()))
			return
		}
		fmt.Printf("  %-12s %s\n", name+":", tui.SuccessStyle.Render(ok))
	}

	report("provider", credentialsError(cfg), fmt.Sprintf("%s (%s)", cfg.Provider.Name, cfg.Provider.Model))

	prompt, validator, err := app.LoadPrompt()
	report("prompt", err, fmt.Sprintf("%s (version %s)", cfg.Paths.PromptFile, prompt.Version))
	if err == nil {
		if validator == nil {
			fmt.Printf("  %-12s %s\n", "schema:", tui.WarnStyle.Render(cfg.Paths.SchemaFile+" not found, validation disabled"))
		} else {
			report("schema", nil, cfg.Paths.SchemaFile)
		}
	}

	if ok, err := afero.DirExists(app.FS, cfg.Paths.InputDir); err != nil || !ok {
		report("input", fmt.Errorf("%s is not a directory", cfg.Paths.InputDir), "")
	} else {
		report("input", nil, cfg.Paths.InputDir)
	}

	fmt.Printf("  %-12s %d (%d RPM, %d TPM)\n", "workers:", cfg.EffectiveWorkers(),
		cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.TokensPerMinute)
	fmt.Println()

	if failed > 0 {
		return fmt.Errorf("%d configuration problems found", failed)
	}
	return nil
}

func credentialsError(cfg *config.Config) error {
	switch cfg.Provider.Name {
	case "vertex":
		if cfg.Provider.Project == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT is not set")
		}
	default:
		if cfg.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is not set")
		}
	}
	return nil
}
