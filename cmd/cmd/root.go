package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"flashpipe/internal/config"
	"flashpipe/internal/logger"
)

var cfgFile string

// rootCmd represents the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "flashpipe",
	Short: "Flashpipe enriches and clusters multilingual flashpoint news.",
	Long: `Flashpipe is the daily batch pipeline that fetches, extracts,
enriches, deduplicates, embeds, clusters, summarizes, and scores news
articles associated with geopolitical flashpoints.`,
}

// Execute adds all child commands to the root command. Called once
// from main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.flashpipe.yaml)")
}

func initConfig() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.App.LogLevel)
}
