package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/inquire/internal/config"
	"github.com/fyrsmithlabs/inquire/internal/tasks/twentyq"
)

// runFlags override the matching config values when set.
type runFlags struct {
	hypotheses    string
	outputDir     string
	start, end    int
	maxConcurrent int
	shared        bool
	multi         bool
	uot           bool
	likelihood    string
	clusterFrom   string
}

var twentyqFlags runFlags

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a batch of games",
}

var twentyqCmd = &cobra.Command{
	Use:   "twentyq",
	Short: "Play twenty questions against an LLM answerer",
	Long: `Play twenty questions for every target in [start, end) of the hypothesis
file. Each game writes <idx>_run.json and its question clustering
(<idx>_cluster.json, plus <idx>_cluster.idx for the chromem backend) into the
output directory, which defaults to batch.output_dir/<timestamp>.

Examples:
  # First ten entities with default settings
  inquire run twentyq --hypotheses data/common.txt

  # Multi-answer questions, one clustering shared by all games
  inquire run twentyq --hypotheses data/common.txt --multi --shared --start 10 --end 20

  # Categorical likelihoods, reusing game 3's clustering from an earlier batch
  inquire run twentyq --hypotheses data/common.txt --uot --clustering-from logs/20250101120000/3_`,
	Args: cobra.NoArgs,
	RunE: runTwentyQ,
}

func init() {
	f := twentyqCmd.Flags()
	f.StringVar(&twentyqFlags.hypotheses, "hypotheses", "", "file with one candidate entity per line")
	f.StringVar(&twentyqFlags.outputDir, "output-dir", "", "exact output directory")
	f.IntVar(&twentyqFlags.start, "start", 0, "first target index (inclusive)")
	f.IntVar(&twentyqFlags.end, "end", 10, "last target index (exclusive)")
	f.IntVar(&twentyqFlags.maxConcurrent, "max-concurrent", 6, "games played in parallel")
	f.BoolVar(&twentyqFlags.shared, "shared", false, "share one question clustering across the batch")
	f.BoolVar(&twentyqFlags.multi, "multi", false, "let the questioner propose answer options")
	f.StringVar(&twentyqFlags.likelihood, "likelihood", config.LikelihoodLogprobs, "likelihood estimation: logprobs or categorical")
	f.BoolVar(&twentyqFlags.uot, "uot", false, "shorthand for --likelihood categorical")
	f.StringVar(&twentyqFlags.clusterFrom, "clustering-from", "", "output prefix of a saved clustering to start from, e.g. logs/<ts>/3_")
	twentyqCmd.MarkFlagsMutuallyExclusive("likelihood", "uot")
	runCmd.AddCommand(twentyqCmd)
}

// applyRunFlags copies explicitly set flags over cfg and returns the output
// directory for this batch.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config, f runFlags, now time.Time) (string, error) {
	flags := cmd.Flags()
	if flags.Changed("hypotheses") {
		cfg.Batch.Hypotheses = f.hypotheses
	}
	if flags.Changed("start") {
		cfg.Batch.StartIdx = f.start
	}
	if flags.Changed("end") {
		cfg.Batch.EndIdx = f.end
	}
	if flags.Changed("max-concurrent") {
		cfg.Batch.MaxConcurrent = f.maxConcurrent
	}
	if flags.Changed("shared") {
		cfg.Clustering.Shared = f.shared
	}
	if flags.Changed("multi") {
		cfg.Search.Multi = f.multi
	}
	if flags.Changed("likelihood") {
		cfg.Search.Likelihood = f.likelihood
	}
	if flags.Changed("uot") && f.uot {
		cfg.Search.Likelihood = config.LikelihoodCategorical
	}
	if flags.Changed("clustering-from") {
		cfg.Clustering.From = f.clusterFrom
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	if cfg.Batch.Hypotheses == "" {
		return "", fmt.Errorf("%w: a hypotheses file is required (--hypotheses or batch.hypotheses)", config.ErrInvalidConfig)
	}
	if flags.Changed("output-dir") {
		return f.outputDir, nil
	}
	return filepath.Join(cfg.Batch.OutputDir, now.Format("20060102150405")), nil
}

func runTwentyQ(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	outputDir, err := applyRunFlags(cmd, cfg, twentyqFlags, time.Now())
	if err != nil {
		return err
	}
	hypotheses, err := twentyq.LoadHypotheses(cfg.Batch.Hypotheses)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	deps, err := initDependencies(ctx, cfg, outputDir)
	if err != nil {
		return err
	}
	defer deps.Close()

	b := &batch{
		cfg:        cfg,
		hypotheses: hypotheses,
		outputDir:  outputDir,
		client:     deps.client,
		embedder:   deps.embedder,
		dimension:  deps.embedder.Dimension(),
		logger:     deps.logger,
	}
	return b.run(ctx)
}
