package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"flashpipe/internal/alerts"
	"flashpipe/internal/config"
	"flashpipe/internal/core"
	"flashpipe/internal/embed"
	"flashpipe/internal/fetch"
	"flashpipe/internal/inference"
	"flashpipe/internal/logger"
	"flashpipe/internal/persistence"
	"flashpipe/internal/pipeline"
	"flashpipe/internal/summarize"
)

var (
	runDate string
	runTier string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one pipeline run against a target date's tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()

		tier := cfg.App.PipelineTier()
		if runTier != "" {
			tier = core.Tier(runTier)
		}
		switch tier {
		case core.TierA, core.TierB, core.TierC:
		default:
			return fmt.Errorf("invalid tier %q (want A, B, or C)", runTier)
		}

		targetDate := time.Now().UTC()
		if runDate != "" {
			parsed, err := time.Parse("2006-01-02", runDate)
			if err != nil {
				return fmt.Errorf("invalid --date %q (want YYYY-MM-DD): %w", runDate, err)
			}
			targetDate = parsed
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		runner, db, err := buildRunner(ctx, cfg, tier)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := runner.Run(ctx, targetDate, tier); err != nil {
			logger.Error("pipeline run failed", err)
			return err
		}
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep [run-id]",
	Short: "Delete FAILED job rows for a run so its entries reprocess",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		db, err := persistence.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
		if err != nil {
			return err
		}
		defer db.Close()

		deleted, err := db.Jobs().DeleteFailed(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d failed job rows for %s\n", deleted, args[0])
		return nil
	},
}

func buildRunner(ctx context.Context, cfg *config.Config, tier core.Tier) (*pipeline.Runner, *persistence.DB, error) {
	db, err := persistence.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		return nil, nil, err
	}

	var browser *fetch.BrowserFetcher
	if cfg.Fetch.BrowserEnabled {
		browser = fetch.NewBrowserFetcher(
			time.Duration(cfg.Fetch.BrowserTimeoutSecs)*time.Second,
			cfg.Fetch.UserAgent,
		)
	}

	fetcher, err := fetch.New(fetch.Options{
		MaxConcurrent: cfg.Fetch.MaxConcurrent,
		PerDomain:     cfg.Fetch.PerDomain,
		Timeout:       time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second,
		RequestDelay:  time.Duration(cfg.Fetch.RequestDelaySeconds * float64(time.Second)),
		UserAgent:     cfg.Fetch.UserAgent,
		Browser:       browser,
	})
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	inferenceClient := inference.NewClient(
		cfg.Inference.Endpoint,
		cfg.Inference.APIKey,
		time.Duration(cfg.Inference.TimeoutSeconds)*time.Second,
	)

	embedder := embed.New(inferenceClient, cfg.Embedding.Model, cfg.Embedding.Dimension, cfg.Embedding.BatchSize)

	var oracle summarize.TextOracle
	if tier.HasOracle() {
		genaiOracle, err := summarize.NewGenaiOracle(ctx, cfg.Summarize.OracleAPIKey)
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("oracle setup: %w", err)
		}
		oracle = genaiOracle
	}
	summarizer := summarize.New(oracle, summarize.Options{
		LocalWorkers:  cfg.Summarize.LocalWorkers,
		LocalMaxWords: cfg.Summarize.LocalMaxTokens,
		Model:         cfg.Summarize.OracleModel,
		PremiumModel:  cfg.Summarize.PremiumModel,
		PremiumTopPct: cfg.Summarize.PremiumTopPct,
		BatchSize:     cfg.Summarize.OracleBatchSize,
	})

	var dispatcher alerts.Dispatcher = alerts.NopDispatcher{}
	var transports alerts.MultiDispatcher
	if cfg.Alerts.WebhookURL != "" {
		transports = append(transports, alerts.NewWebhookDispatcher(cfg.Alerts.WebhookURL))
	}
	if cfg.Alerts.SlackWebhookURL != "" {
		transports = append(transports, alerts.NewSlackDispatcher(cfg.Alerts.SlackWebhookURL))
	}
	if len(transports) > 0 {
		dispatcher = transports
	}

	runner := pipeline.NewRunner(pipeline.Deps{
		DB:         db,
		Fetcher:    fetcher,
		Embedder:   embedder,
		Summarizer: summarizer,
		Dispatcher: dispatcher,
		Inference:  inferenceClient,
		Config:     cfg,
	})
	return runner, db, nil
}

func init() {
	runCmd.Flags().StringVar(&runDate, "date", "", "target date (YYYY-MM-DD), defaults to UTC today")
	runCmd.Flags().StringVar(&runTier, "tier", "", "pipeline tier (A, B, or C), overrides config")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sweepCmd)
}
