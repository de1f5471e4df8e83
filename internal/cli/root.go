package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/apresai/newsdesk/internal/config"
	"github.com/apresai/newsdesk/internal/llm"
	"github.com/apresai/newsdesk/internal/observability"
	"github.com/apresai/newsdesk/internal/pipeline"
	"github.com/apresai/newsdesk/internal/progress"
	"github.com/apresai/newsdesk/internal/quality"
	"github.com/apresai/newsdesk/internal/stage"
)

var Version = "dev"

var rootCmd = &cobra.Command{
	Use:          "newsdesk",
	Short:        "Research, write, and validate the daily AI news podcast script",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "newsdesk %s\n", Version)
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate the podcast script for a date",
	Args:  cobra.NoArgs,
	RunE:  runGenerate,
}

var validateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Check a script or research file for story count, citations, and search leakage",
	Long:  "Reads the file (or stdin when the file is omitted or \"-\") and exits non-zero when validation fails.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runValidate,
}

var cleanCmd = &cobra.Command{
	Use:   "clean [file]",
	Short: "Remove search-process narration lines and print the cleaned text",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runClean,
}

var (
	flagConfig       string
	flagDate         string
	flagEditor       bool
	flagProvider     string
	flagModel        string
	flagAPIKey       string
	flagOutput       string
	flagJSON         bool
	flagStageTimeout time.Duration
	flagVerbose      bool

	flagExpected int
	flagResearch bool
	flagNoClean  bool
)

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(cleanCmd)

	generateCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "YAML config file (NEWSDESK_* env vars override it)")
	generateCmd.Flags().StringVarP(&flagDate, "date", "d", "", "Episode date as YYYY-MM-DD (default: today, UTC)")
	generateCmd.Flags().BoolVarP(&flagEditor, "editor", "e", true, "Run the editorial polish stage (--editor=false to skip)")
	generateCmd.Flags().StringVarP(&flagProvider, "provider", "p", "", "LLM provider: "+strings.Join(llm.Providers(), ", "))
	generateCmd.Flags().StringVarP(&flagModel, "model", "m", "", "Model alias or full model ID")
	generateCmd.Flags().StringVar(&flagAPIKey, "api-key", "", "Provider API key (overrides the provider's env var)")
	generateCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "Write the script to this file instead of stdout")
	generateCmd.Flags().BoolVar(&flagJSON, "json", false, "Write the full episode (all stage outputs and validations) as JSON")
	generateCmd.Flags().DurationVar(&flagStageTimeout, "stage-timeout", 0, "Per-stage deadline, e.g. 3m (0 disables)")
	generateCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "Log stage details to stderr instead of the status line")

	validateCmd.Flags().IntVarP(&flagExpected, "expected", "n", stage.EpisodeStories, "Expected number of STORY N: sections")
	validateCmd.Flags().BoolVar(&flagResearch, "research", false, "Validate as research output (15-20 STORY records)")
	validateCmd.Flags().BoolVar(&flagNoClean, "no-clean", false, "Validate the text as-is, without removing leakage lines first")
}

func Execute() error {
	return rootCmd.Execute()
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	var date time.Time
	if flagDate != "" {
		if date, err = stage.ParseDate(flagDate); err != nil {
			return err
		}
	}

	settings := cfg.LLMSettings()
	if err := checkAPIKey(settings); err != nil {
		return err
	}

	logger := observability.DiscardLogger()
	if flagVerbose {
		logger = observability.NewLogger(cmd.ErrOrStderr(), slog.LevelDebug)
	}

	client, err := llm.New(cmd.Context(), settings)
	if err != nil {
		return err
	}

	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithStageTimeout(cfg.Pipeline.StageTimeout),
		pipeline.WithProvenance(settings.Provider, settings.Model),
	}

	// Progress goes to stderr so stdout carries only the script.
	var status *progress.StatusLine
	if !flagVerbose {
		status = progress.NewStatusLine(os.Stderr)
		opts = append(opts, pipeline.WithProgress(status.Handle))
	}

	ep, runErr := pipeline.New(client, opts...).Run(cmd.Context(), pipeline.Options{
		Date:   date,
		Editor: cfg.Pipeline.Editor,
	})
	if runErr != nil {
		if status != nil {
			status.Finish()
		}
		return runErr
	}

	if err := writeEpisode(cmd.OutOrStdout(), flagOutput, flagJSON, ep); err != nil {
		return err
	}
	if status != nil {
		if flagOutput != "" {
			status.Handle(progress.Event{Stage: progress.StageComplete, Date: ep.Date, OutputFile: flagOutput})
		}
		status.Finish()
	}

	renderReport(cmd.ErrOrStderr(), ep.Validations, reportKeys(ep.Editor))
	return nil
}

// applyFlags lets explicitly set flags override the loaded config.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("editor") {
		cfg.Pipeline.Editor = flagEditor
	}
	if flags.Changed("provider") {
		cfg.LLM.Provider = flagProvider
	}
	if flags.Changed("model") {
		cfg.LLM.Model = flagModel
	}
	if flags.Changed("api-key") {
		cfg.LLM.APIKey = flagAPIKey
	}
	if flags.Changed("stage-timeout") {
		cfg.Pipeline.StageTimeout = flagStageTimeout
	}
}

var providerKeyEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"gemini":    "GEMINI_API_KEY",
}

// checkAPIKey fails early when the selected provider has no key. Bedrock
// uses the AWS credential chain and needs none.
func checkAPIKey(s llm.Settings) error {
	provider := s.Provider
	if provider == "" {
		provider = "anthropic"
	}
	envVar, ok := providerKeyEnv[provider]
	if !ok || s.APIKey != "" || os.Getenv(envVar) != "" {
		return nil
	}
	return fmt.Errorf("missing required environment variable %s\nYou can also pass it via --api-key", envVar)
}

func writeEpisode(stdout io.Writer, path string, asJSON bool, ep *pipeline.Episode) error {
	var data []byte
	if asJSON {
		var err error
		if data, err = json.MarshalIndent(ep, "", "  "); err != nil {
			return fmt.Errorf("marshal episode: %w", err)
		}
	} else {
		data = []byte(ep.Script)
	}
	if len(data) == 0 || data[len(data)-1] != '\n' {
		data = append(data, '\n')
	}

	if path == "" {
		_, err := stdout.Write(data)
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write script: %w", err)
	}
	return nil
}

func reportKeys(editor bool) []string {
	if editor {
		return []string{pipeline.ValidationResearch, pipeline.ValidationSummary, pipeline.ValidationScript, pipeline.ValidationFinal}
	}
	return []string{pipeline.ValidationResearch, pipeline.ValidationSummary, pipeline.ValidationScript}
}

func runValidate(cmd *cobra.Command, args []string) error {
	text, err := readInput(cmd, args)
	if err != nil {
		return err
	}

	removed := 0
	if !flagNoClean {
		text, removed = quality.CleanCount(text)
	}

	rule := quality.Exact(flagExpected)
	if flagResearch {
		rule = quality.ResearchRule()
	}
	res := rule.Check(text)

	out := cmd.OutOrStdout()
	if removed > 0 {
		fmt.Fprintf(out, "  %s\n", dimStyle.Render(fmt.Sprintf("removed %d leakage line(s) before validating", removed)))
	}
	renderReport(out, map[string]quality.Result{"input": res}, []string{"input"})

	if !res.Valid {
		return fmt.Errorf("validation failed with %d issue(s)", len(res.Issues))
	}
	return nil
}

func runClean(cmd *cobra.Command, args []string) error {
	text, err := readInput(cmd, args)
	if err != nil {
		return err
	}
	cleaned, removed := quality.CleanCount(text)
	if cleaned != "" {
		fmt.Fprintln(cmd.OutOrStdout(), cleaned)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "removed %d line(s)\n", removed)
	return nil
}

func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("read %s: %w", args[0], err)
	}
	return string(data), nil
}
